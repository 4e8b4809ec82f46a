package api

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/gmsas95/pillminder/internal/adherence"
	"github.com/gmsas95/pillminder/internal/alert"
	"github.com/gmsas95/pillminder/internal/config"
	"github.com/gmsas95/pillminder/internal/cron"
	"github.com/gmsas95/pillminder/internal/escalation"
	"github.com/gmsas95/pillminder/internal/metrics"
	"github.com/gmsas95/pillminder/internal/prescriptions"
	"github.com/gmsas95/pillminder/internal/scan"
	"github.com/gmsas95/pillminder/internal/store"
)

// Deps are the engine components the HTTP surface exposes. Scanner and
// Relay are optional.
type Deps struct {
	Prescriptions *prescriptions.Service
	Tracker       *adherence.Tracker
	Controller    *escalation.Controller
	Store         *store.Store
	Runner        *cron.Runner
	Scanner       *scan.Client
	Relay         *alert.Relay
	Hub           *Hub
	Metrics       *metrics.Metrics
	Now           func() time.Time
}

type Server struct {
	app     *fiber.App
	config  *config.Config
	deps    Deps
	actions *rate.Limiter
	logger  *zap.Logger
}

func New(cfg *config.Config, deps Deps, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	app := fiber.New(fiber.Config{
		ReadTimeout:           time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout:          time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:           120 * time.Second,
		BodyLimit:             scan.MaxUpload + 1<<20,
		DisableStartupMessage: true,
	})

	s := &Server{
		app:    app,
		config: cfg,
		deps:   deps,
		logger: logger,
	}
	if cfg.Server.ActionsPerSecond > 0 {
		burst := cfg.Server.ActionBurst
		if burst <= 0 {
			burst = 1
		}
		s.actions = rate.NewLimiter(rate.Limit(cfg.Server.ActionsPerSecond), burst)
	}

	s.setupRoutes()
	return s
}

// App exposes the fiber app, mainly for app.Test.
func (s *Server) App() *fiber.App {
	return s.app
}

func (s *Server) Start() error {
	s.logger.Info("HTTP server listening", zap.String("addr", s.config.Addr()))
	return s.app.Listen(s.config.Addr())
}

func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if s.deps.Hub != nil {
		s.deps.Hub.Close()
	}
	return s.app.ShutdownWithContext(ctx)
}
