// Package prescriptions owns the prescription lifecycle: adding courses,
// keeping their reminders registered, and routing dose actions.
package prescriptions

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gmsas95/pillminder/internal/adherence"
	"github.com/gmsas95/pillminder/internal/errors"
	"github.com/gmsas95/pillminder/internal/escalation"
	"github.com/gmsas95/pillminder/internal/frequency"
	"github.com/gmsas95/pillminder/internal/models"
	"github.com/gmsas95/pillminder/internal/notify"
	"github.com/gmsas95/pillminder/internal/security"
	"github.com/gmsas95/pillminder/internal/slots"
	"github.com/gmsas95/pillminder/internal/store"
)

const (
	DefaultDosage   = "As directed"
	DefaultDuration = "Ongoing"
)

type Service struct {
	store      *store.Store
	scheduler  *notify.Scheduler
	tracker    *adherence.Tracker
	controller *escalation.Controller
	now        func() time.Time
	logger     *zap.Logger
}

func NewService(st *store.Store, scheduler *notify.Scheduler, tracker *adherence.Tracker, controller *escalation.Controller, now func() time.Time, logger *zap.Logger) *Service {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:      st,
		scheduler:  scheduler,
		tracker:    tracker,
		controller: controller,
		now:        now,
		logger:     logger,
	}
}

// courseDays reads a leading integer the way the upload form does, so
// "7", "7 days" and "2 weeks" give 7, 7 and 2. Zero means open-ended.
func courseDays(duration string) int {
	s := strings.TrimSpace(duration)
	end := strings.IndexFunc(s, func(r rune) bool { return !unicode.IsDigit(r) })
	if end == -1 {
		end = len(s)
	}
	n, err := strconv.Atoi(s[:end])
	if err != nil || n <= 0 {
		return 0
	}
	return n
}

// applyDefaults fills in everything a draft may leave empty. start anchors
// the course window.
func applyDefaults(m models.Medicine, start time.Time) models.Medicine {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	m.Name = security.Clean(m.Name)
	m.Dosage = strings.TrimSpace(m.Dosage)
	if m.Dosage == "" {
		m.Dosage = DefaultDosage
	}

	freq := frequency.Normalize(m.Frequency)
	m.Frequency = freq.String()
	if len(m.Times) == 0 {
		m.Times = frequency.DefaultTimes(freq)
	}

	m.StartDate = &start
	m.EndDate = nil
	if days := courseDays(m.Duration); days > 0 {
		end := start.AddDate(0, 0, days)
		m.EndDate = &end
		m.Duration = fmt.Sprintf("%d days", days)
	} else if strings.TrimSpace(m.Duration) == "" {
		m.Duration = DefaultDuration
	}
	m.Handles = nil
	return m
}

// Add validates drafts, schedules their reminders and persists them as a
// new prescription at the head of the list. Per-slot scheduling failures are
// reported in the results and do not abort the add.
func (s *Service) Add(ctx context.Context, drafts []models.Medicine) (models.Prescription, []notify.Result, error) {
	if err := security.ValidateMedicines(drafts); err != nil {
		return models.Prescription{}, nil, err
	}

	now := s.now()
	p := models.Prescription{
		ID:        uuid.NewString(),
		CreatedAt: now,
		Medicines: make([]models.Medicine, 0, len(drafts)),
	}

	var results []notify.Result
	seen := make(map[string]bool, len(drafts))
	for _, d := range drafts {
		if seen[d.ID] {
			d.ID = ""
		}
		med := applyDefaults(d, now)
		seen[med.ID] = true

		res := s.scheduler.ScheduleDailyResults(ctx, med)
		med.Handles = notify.ToStrings(notify.Handles(res))
		results = append(results, res...)
		p.Medicines = append(p.Medicines, med)
	}

	err := s.store.UpdatePrescriptions(ctx, func(list []models.Prescription) ([]models.Prescription, error) {
		return append([]models.Prescription{p}, list...), nil
	})
	if err != nil {
		for _, med := range p.Medicines {
			s.scheduler.CancelAll(ctx, notify.FromStrings(med.Handles))
		}
		return models.Prescription{}, results, err
	}

	s.logger.Info("Prescription added",
		zap.String("prescription_id", p.ID),
		zap.Int("medicines", len(p.Medicines)),
		zap.Int("failed_slots", notify.Failed(results)))
	return p, results, nil
}

func (s *Service) List(ctx context.Context) ([]models.Prescription, error) {
	return s.store.Prescriptions(ctx)
}

func (s *Service) Get(ctx context.Context, id string) (models.Prescription, error) {
	list, err := s.store.Prescriptions(ctx)
	if err != nil {
		return models.Prescription{}, err
	}
	for _, p := range list {
		if p.ID == id {
			return p, nil
		}
	}
	return models.Prescription{}, errors.New(errors.CodeNotFound, fmt.Sprintf("prescription %s not found", id))
}

// FindMedicine returns a medicine and the id of the prescription holding it.
func (s *Service) FindMedicine(ctx context.Context, medicineID string) (models.Medicine, string, error) {
	list, err := s.store.Prescriptions(ctx)
	if err != nil {
		return models.Medicine{}, "", err
	}
	for _, p := range list {
		for _, m := range p.Medicines {
			if m.ID == medicineID {
				return m, p.ID, nil
			}
		}
	}
	return models.Medicine{}, "", errors.New(errors.CodeNotFound, fmt.Sprintf("medicine %s not found", medicineID))
}

// release cancels a medicine's reminders and drops its escalation state.
func (s *Service) release(ctx context.Context, med models.Medicine) {
	s.scheduler.CancelAll(ctx, notify.FromStrings(med.Handles))
	if err := s.tracker.Forget(ctx, med.ID); err != nil {
		s.logger.Warn("Failed to clear skip count", zap.String("medicine_id", med.ID), zap.Error(err))
	}
	if s.controller != nil {
		s.controller.Forget(med.ID)
	}
}

// Delete removes the prescription, then cancels every reminder of its
// medicines. Cancellation failures are logged and do not undo the removal; a
// failed removal leaves the reminders untouched.
func (s *Service) Delete(ctx context.Context, id string) error {
	var removed models.Prescription
	err := s.store.UpdatePrescriptions(ctx, func(list []models.Prescription) ([]models.Prescription, error) {
		found := false
		out := list[:0]
		for _, p := range list {
			if p.ID == id {
				removed, found = p, true
				continue
			}
			out = append(out, p)
		}
		if !found {
			return nil, errors.New(errors.CodeNotFound, fmt.Sprintf("prescription %s not found", id))
		}
		return out, nil
	})
	if err != nil {
		return err
	}

	for _, med := range removed.Medicines {
		s.release(ctx, med)
	}
	s.logger.Info("Prescription deleted", zap.String("prescription_id", id))
	return nil
}

// DeleteMedicine removes one medicine, then releases its reminders. The
// prescription stays even when it has no medicines left.
func (s *Service) DeleteMedicine(ctx context.Context, prescriptionID, medicineID string) error {
	var removed models.Medicine
	err := s.store.UpdatePrescriptions(ctx, func(list []models.Prescription) ([]models.Prescription, error) {
		for i := range list {
			if list[i].ID != prescriptionID {
				continue
			}
			j := indexOf(list[i].Medicines, medicineID)
			if j < 0 {
				return nil, errors.New(errors.CodeNotFound, fmt.Sprintf("medicine %s not found", medicineID))
			}
			removed = list[i].Medicines[j]
			list[i].Medicines = slices.Delete(list[i].Medicines, j, j+1)
			return list, nil
		}
		return nil, errors.New(errors.CodeNotFound, fmt.Sprintf("prescription %s not found", prescriptionID))
	})
	if err != nil {
		return err
	}

	s.release(ctx, removed)
	return nil
}

func indexOf(meds []models.Medicine, id string) int {
	for i, m := range meds {
		if m.ID == id {
			return i
		}
	}
	return -1
}

// MedicinePatch carries the editable fields of a medicine. Nil fields are
// left unchanged.
type MedicinePatch struct {
	Name      *string  `json:"name,omitempty"`
	Dosage    *string  `json:"dosage,omitempty"`
	Frequency *string  `json:"frequency,omitempty"`
	Times     []string `json:"times,omitempty"`
	Duration  *string  `json:"duration,omitempty"`
}

// UpdateMedicine applies patch and re-registers the medicine's reminders.
// Changing the frequency without giving times re-derives the defaults.
func (s *Service) UpdateMedicine(ctx context.Context, prescriptionID, medicineID string, patch MedicinePatch) (models.Medicine, []notify.Result, error) {
	p, err := s.Get(ctx, prescriptionID)
	if err != nil {
		return models.Medicine{}, nil, err
	}
	idx := indexOf(p.Medicines, medicineID)
	if idx < 0 {
		return models.Medicine{}, nil, errors.New(errors.CodeNotFound, fmt.Sprintf("medicine %s not found", medicineID))
	}
	old := p.Medicines[idx]

	med := old
	if patch.Name != nil {
		med.Name = *patch.Name
	}
	if patch.Dosage != nil {
		med.Dosage = *patch.Dosage
	}
	if patch.Frequency != nil {
		freq := frequency.Normalize(*patch.Frequency)
		if freq.String() != frequency.Normalize(old.Frequency).String() && patch.Times == nil {
			med.Times = frequency.DefaultTimes(freq)
		}
		med.Frequency = freq.String()
	}
	if patch.Times != nil {
		med.Times = patch.Times
	}
	if err := security.ValidateMedicine(0, med); err != nil {
		return models.Medicine{}, nil, err
	}

	start := s.now()
	if old.StartDate != nil {
		start = *old.StartDate
	}
	if patch.Duration != nil {
		med.Duration = *patch.Duration
	}
	med = applyDefaults(med, start)

	results := s.scheduler.ScheduleDailyResults(ctx, med)
	med.Handles = notify.ToStrings(notify.Handles(results))

	err = s.store.UpdatePrescriptions(ctx, func(list []models.Prescription) ([]models.Prescription, error) {
		for i := range list {
			if list[i].ID != prescriptionID {
				continue
			}
			if j := indexOf(list[i].Medicines, medicineID); j >= 0 {
				list[i].Medicines[j] = med
				return list, nil
			}
		}
		return nil, errors.New(errors.CodeNotFound, fmt.Sprintf("medicine %s not found", medicineID))
	})
	if err != nil {
		s.scheduler.CancelAll(ctx, notify.FromStrings(med.Handles))
		return models.Medicine{}, results, err
	}
	s.scheduler.CancelAll(ctx, notify.FromStrings(old.Handles))
	return med, results, nil
}

// SyncReport summarizes a SyncCourses pass.
type SyncReport struct {
	Rearmed int `json:"rearmed"`
	Ended   int `json:"ended"`
}

// SyncCourses runs at startup and when notifications are re-enabled.
// Medicines whose course has ended have their reminders cancelled and handles
// cleared; active medicines are registered again and their handles replaced.
// Registration happens before the write, and a failed write cancels what was
// just registered.
func (s *Service) SyncCourses(ctx context.Context) (SyncReport, error) {
	list, err := s.store.Prescriptions(ctx)
	if err != nil {
		return SyncReport{}, err
	}

	var report SyncReport
	now := s.now()
	armed := make(map[string][]string)
	ended := make(map[string]bool)
	var stale []notify.Handle
	for _, p := range list {
		for _, med := range p.Medicines {
			if !med.Active(now) {
				if len(med.Handles) > 0 {
					ended[med.ID] = true
					stale = append(stale, notify.FromStrings(med.Handles)...)
					report.Ended++
				}
				continue
			}
			armed[med.ID] = notify.ToStrings(s.scheduler.ScheduleDaily(ctx, med))
			report.Rearmed++
		}
	}

	err = s.store.UpdatePrescriptions(ctx, func(list []models.Prescription) ([]models.Prescription, error) {
		for i := range list {
			for j := range list[i].Medicines {
				med := &list[i].Medicines[j]
				if handles, ok := armed[med.ID]; ok {
					med.Handles = handles
				} else if ended[med.ID] {
					med.Handles = []string{}
				}
			}
		}
		return list, nil
	})
	if err != nil {
		for _, handles := range armed {
			s.scheduler.CancelAll(ctx, notify.FromStrings(handles))
		}
		return SyncReport{}, err
	}
	s.scheduler.CancelAll(ctx, stale)

	s.logger.Info("Courses synced", zap.Int("rearmed", report.Rearmed), zap.Int("ended", report.Ended))
	return report, nil
}

// DoseSlot is a slot on today's schedule with its current state.
type DoseSlot struct {
	slots.Slot
	PrescriptionID string           `json:"prescriptionId"`
	Taken          bool             `json:"taken"`
	SkipCount      int              `json:"skipCount"`
	State          escalation.State `json:"state"`
}

type Group struct {
	Category slots.Category `json:"category"`
	Slots    []DoseSlot     `json:"slots"`
}

// Today returns today's slots of every active medicine, grouped by time of
// day in Morning, Afternoon, Night order.
func (s *Service) Today(ctx context.Context) ([]Group, error) {
	list, err := s.store.Prescriptions(ctx)
	if err != nil {
		return nil, err
	}
	logs, err := s.tracker.Entries(ctx)
	if err != nil {
		return nil, err
	}
	counts, err := s.tracker.SkipCounts(ctx)
	if err != nil {
		return nil, err
	}

	now := s.now()
	owner := make(map[string]string)
	var all []slots.Slot
	for _, p := range list {
		for _, med := range p.Medicines {
			if !med.Active(now) {
				continue
			}
			owner[med.ID] = p.ID
			all = append(all, slots.Expand(med, now)...)
		}
	}

	taken := adherence.TakenToday(logs, now)
	grouped := slots.Group(all)

	groups := make([]Group, 0, len(slots.Categories))
	for _, cat := range slots.Categories {
		g := Group{Category: cat, Slots: []DoseSlot{}}
		for _, sl := range grouped[cat] {
			ds := DoseSlot{
				Slot:           sl,
				PrescriptionID: owner[sl.MedicineID],
				Taken:          taken.Has(sl.MedicineID, sl.Key),
				SkipCount:      counts[sl.MedicineID],
				State:          escalation.Normal,
			}
			if s.controller != nil {
				ds.State = s.controller.State(sl.MedicineID)
			}
			g.Slots = append(g.Slots, ds)
		}
		groups = append(groups, g)
	}
	return groups, nil
}

// Act applies a dose action to the slot of medicineID at hhmm.
func (s *Service) Act(ctx context.Context, medicineID, hhmm string, kind escalation.Kind) (escalation.Outcome, error) {
	if _, err := escalation.ParseKind(string(kind)); err != nil {
		return escalation.Outcome{}, err
	}
	if err := security.ValidateTime(hhmm); err != nil {
		return escalation.Outcome{}, err
	}
	med, _, err := s.FindMedicine(ctx, medicineID)
	if err != nil {
		return escalation.Outcome{}, err
	}

	slot, ok := slotAt(med, hhmm, s.now())
	if !ok {
		return escalation.Outcome{}, errors.New(errors.CodeNotFound, fmt.Sprintf("%s has no dose at %s", med.Name, hhmm))
	}
	return s.controller.Handle(ctx, escalation.Action{Kind: kind, Medicine: med, Slot: slot})
}

// slotAt matches by clock minutes so "9:00" finds the "09:00" slot.
func slotAt(med models.Medicine, hhmm string, now time.Time) (slots.Slot, bool) {
	mins, err := slots.ParseTime(hhmm)
	if err != nil {
		return slots.Slot{}, false
	}
	for _, sl := range slots.Expand(med, now) {
		if sl.Minutes == mins {
			return sl, true
		}
	}
	return slots.Slot{}, false
}
