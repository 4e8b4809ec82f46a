package api

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
)

func (s *Server) setupRoutes() {
	s.app.Use(recover.New())
	s.app.Use(logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))
	if len(s.config.Server.AllowOrigins) > 0 {
		s.app.Use(cors.New(cors.Config{
			AllowOrigins: strings.Join(s.config.Server.AllowOrigins, ","),
			AllowHeaders: "Origin, Content-Type, Accept",
			AllowMethods: "GET, POST, PUT, PATCH, DELETE, OPTIONS",
		}))
	}

	s.app.Get("/api/health", s.handleHealth)
	if s.deps.Metrics != nil {
		s.app.Get("/metrics", adaptor.HTTPHandler(s.deps.Metrics.Handler()))
	}

	api := s.app.Group("/api")

	api.Get("/prescriptions", s.handleListPrescriptions)
	api.Post("/prescriptions", s.handleAddPrescription)
	api.Post("/prescriptions/parse", s.handleParseDraft)
	api.Post("/prescriptions/scan", s.handleScan)
	api.Delete("/prescriptions/:id", s.handleDeletePrescription)
	api.Patch("/prescriptions/:id/medicines/:mid", s.handleUpdateMedicine)
	api.Delete("/prescriptions/:id/medicines/:mid", s.handleDeleteMedicine)

	api.Get("/schedule/today", s.handleToday)
	api.Post("/doses", s.limitActions(), s.handleDose)
	api.Get("/escalation/:medicineId", s.handleEscalation)
	api.Get("/dashboard", s.handleDashboard)
	api.Get("/reminders", s.handleReminders)

	api.Get("/profile", s.handleGetProfile)
	api.Put("/profile", s.handlePutProfile)

	if s.deps.Relay != nil && s.config.Alert.RelayEnabled {
		s.deps.Relay.Register(s.app)
	}

	if s.deps.Hub != nil {
		s.app.Use("/ws", func(c *fiber.Ctx) error {
			if websocket.IsWebSocketUpgrade(c) {
				return c.Next()
			}
			return fiber.ErrUpgradeRequired
		})
		s.app.Get("/ws/reminders", websocket.New(s.deps.Hub.serve))
	}
}
