package api

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/gmsas95/pillminder/internal/dashboard"
	"github.com/gmsas95/pillminder/internal/errors"
	"github.com/gmsas95/pillminder/internal/escalation"
	"github.com/gmsas95/pillminder/internal/models"
	"github.com/gmsas95/pillminder/internal/notify"
	"github.com/gmsas95/pillminder/internal/prescriptions"
	"github.com/gmsas95/pillminder/internal/scan"
	"github.com/gmsas95/pillminder/internal/security"
)

var Version = "0.1.0"

func (s *Server) handleHealth(c *fiber.Ctx) error {
	resp := fiber.Map{
		"status":    "healthy",
		"version":   Version,
		"timestamp": s.deps.Now().Unix(),
	}
	if s.deps.Runner != nil {
		resp["scheduler"] = s.deps.Runner.IsRunning()
	}
	if s.deps.Metrics != nil {
		resp["uptime"] = s.deps.Metrics.Uptime().Round(time.Second).String()
	}
	return c.JSON(resp)
}

type addRequest struct {
	Medicines []models.Medicine `json:"medicines"`
}

type scheduleFailure struct {
	SlotKey string `json:"slotKey"`
	Error   string `json:"error"`
}

func failures(results []notify.Result) []scheduleFailure {
	out := []scheduleFailure{}
	for _, r := range results {
		if !r.OK() {
			out = append(out, scheduleFailure{SlotKey: r.SlotKey, Error: r.Err.Error()})
		}
	}
	return out
}

func (s *Server) handleListPrescriptions(c *fiber.Ctx) error {
	list, err := s.deps.Prescriptions.List(c.UserContext())
	if err != nil {
		return s.fail(c, err)
	}
	if list == nil {
		list = []models.Prescription{}
	}
	return c.JSON(fiber.Map{"prescriptions": list})
}

func (s *Server) handleAddPrescription(c *fiber.Ctx) error {
	var req addRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request"})
	}

	p, results, err := s.deps.Prescriptions.Add(c.UserContext(), req.Medicines)
	if err != nil {
		return s.fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"prescription":   p,
		"scheduleErrors": failures(results),
	})
}

func (s *Server) handleParseDraft(c *fiber.Ctx) error {
	var req struct {
		Text string `json:"text"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request"})
	}
	req.Text = security.Clean(req.Text)
	if req.Text == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "text is required"})
	}
	if err := security.ValidateInput(req.Text); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(fiber.Map{"draft": prescriptions.ParseDraft(req.Text)})
}

func (s *Server) handleScan(c *fiber.Ctx) error {
	if s.deps.Scanner == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "prescription scanning is not configured"})
	}
	fh, err := c.FormFile("file")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "no file provided"})
	}
	if fh.Size > scan.MaxUpload {
		return c.Status(fiber.StatusRequestEntityTooLarge).JSON(fiber.Map{"error": "image too large"})
	}
	f, err := fh.Open()
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "unreadable upload"})
	}
	defer f.Close()

	res, err := s.deps.Scanner.Upload(c.UserContext(), fh.Filename, f)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(fiber.Map{
		"extractedText": res.ExtractedText,
		"dosages":       res.DetectedDosages,
		"drafts":        scan.Drafts(res),
	})
}

func (s *Server) handleDeletePrescription(c *fiber.Ctx) error {
	if err := s.deps.Prescriptions.Delete(c.UserContext(), c.Params("id")); err != nil {
		return s.fail(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) handleUpdateMedicine(c *fiber.Ctx) error {
	var patch prescriptions.MedicinePatch
	if err := c.BodyParser(&patch); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request"})
	}
	med, results, err := s.deps.Prescriptions.UpdateMedicine(c.UserContext(), c.Params("id"), c.Params("mid"), patch)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(fiber.Map{"medicine": med, "scheduleErrors": failures(results)})
}

func (s *Server) handleDeleteMedicine(c *fiber.Ctx) error {
	if err := s.deps.Prescriptions.DeleteMedicine(c.UserContext(), c.Params("id"), c.Params("mid")); err != nil {
		return s.fail(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) handleToday(c *fiber.Ctx) error {
	groups, err := s.deps.Prescriptions.Today(c.UserContext())
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(fiber.Map{
		"date":   s.deps.Now().Format("2006-01-02"),
		"groups": groups,
	})
}

type doseRequest struct {
	MedicineID string `json:"medicineId"`
	Time       string `json:"time"`
	Action     string `json:"action"`
}

func (s *Server) handleDose(c *fiber.Ctx) error {
	var req doseRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request"})
	}
	if strings.TrimSpace(req.MedicineID) == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "medicineId is required"})
	}
	kind, err := escalation.ParseKind(req.Action)
	if err != nil {
		return s.fail(c, err)
	}

	out, err := s.deps.Prescriptions.Act(c.UserContext(), req.MedicineID, req.Time, kind)
	if err != nil {
		return s.fail(c, err)
	}
	s.logger.Info("Dose action",
		zap.String("medicine_id", out.MedicineID),
		zap.String("slot_key", out.SlotKey),
		zap.String("action", string(out.Kind)),
		zap.Int("skip_count", out.SkipCount))
	return c.JSON(out)
}

func (s *Server) handleEscalation(c *fiber.Ctx) error {
	id := c.Params("medicineId")
	if _, _, err := s.deps.Prescriptions.FindMedicine(c.UserContext(), id); err != nil {
		return s.fail(c, err)
	}
	counts, err := s.deps.Tracker.SkipCounts(c.UserContext())
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(fiber.Map{
		"medicineId": id,
		"state":      s.deps.Controller.State(id),
		"skipCount":  counts[id],
		"threshold":  s.deps.Controller.Threshold(),
	})
}

func (s *Server) handleDashboard(c *fiber.Ctx) error {
	ctx := c.UserContext()
	list, err := s.deps.Prescriptions.List(ctx)
	if err != nil {
		return s.fail(c, err)
	}
	logs, err := s.deps.Tracker.Entries(ctx)
	if err != nil {
		return s.fail(c, err)
	}
	counts, err := s.deps.Tracker.SkipCounts(ctx)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(dashboard.BuildReport(list, logs, counts, s.deps.Controller.Threshold(), s.deps.Now()))
}

func (s *Server) handleReminders(c *fiber.Ctx) error {
	if s.deps.Runner == nil {
		return c.JSON(fiber.Map{"reminders": []any{}})
	}
	return c.JSON(fiber.Map{
		"running":   s.deps.Runner.IsRunning(),
		"reminders": s.deps.Runner.Pending(),
	})
}

func (s *Server) handleGetProfile(c *fiber.Ctx) error {
	p, ok, err := s.deps.Store.Profile(c.UserContext())
	if err != nil {
		return s.fail(c, err)
	}
	if !ok {
		return s.fail(c, errors.New(errors.CodeNotFound, "no profile registered"))
	}
	return c.JSON(p)
}

func (s *Server) handlePutProfile(c *fiber.Ctx) error {
	var p models.Profile
	if err := c.BodyParser(&p); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request"})
	}
	if err := security.ValidateProfile(p); err != nil {
		return s.fail(c, err)
	}
	p.Name = security.Clean(p.Name)
	p.Email = strings.TrimSpace(p.Email)
	p.CaretakerEmail = strings.TrimSpace(p.CaretakerEmail)

	if err := s.deps.Store.SaveProfile(c.UserContext(), p); err != nil {
		return s.fail(c, err)
	}
	return c.JSON(p)
}
