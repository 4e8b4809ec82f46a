// Package app wires the reminder engine, its delivery channels and the HTTP
// surface into one running process.
package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/gmsas95/pillminder/internal/adherence"
	"github.com/gmsas95/pillminder/internal/alert"
	"github.com/gmsas95/pillminder/internal/api"
	"github.com/gmsas95/pillminder/internal/channels/discord"
	"github.com/gmsas95/pillminder/internal/channels/telegram"
	"github.com/gmsas95/pillminder/internal/config"
	"github.com/gmsas95/pillminder/internal/cron"
	"github.com/gmsas95/pillminder/internal/escalation"
	"github.com/gmsas95/pillminder/internal/metrics"
	"github.com/gmsas95/pillminder/internal/models"
	"github.com/gmsas95/pillminder/internal/notify"
	"github.com/gmsas95/pillminder/internal/prescriptions"
	"github.com/gmsas95/pillminder/internal/scan"
	"github.com/gmsas95/pillminder/internal/security"
	"github.com/gmsas95/pillminder/internal/store"
)

type App struct {
	Config        *config.Config
	Store         *store.Store
	Logger        *zap.Logger
	Metrics       *metrics.Metrics
	Runner        *cron.Runner
	Scheduler     *notify.Scheduler
	Tracker       *adherence.Tracker
	Controller    *escalation.Controller
	Prescriptions *prescriptions.Service
	Hub           *api.Hub
	TelegramBot   *telegram.Bot
	DiscordBot    *discord.Bot
	Relay         *alert.Relay
	Scanner       *scan.Client
	Version       string

	now func() time.Time
}

// NewLogger builds the process logger from log settings.
func NewLogger(cfg config.LogConfig) (*zap.Logger, error) {
	var zc zap.Config
	if cfg.Format == "json" {
		zc = zap.NewProductionConfig()
	} else {
		zc = zap.NewDevelopmentConfig()
	}
	if cfg.Level != "" {
		level, err := zap.ParseAtomicLevel(cfg.Level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
		zc.Level = level
	}
	return zc.Build()
}

// New opens the store and builds every component. Nothing is started.
func New(cfg *config.Config, logger *zap.Logger, version string) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	now := func() time.Time { return time.Now().In(loc) }

	m := metrics.New()
	st, err := store.New(cfg, m)
	if err != nil {
		return nil, err
	}

	app := &App{
		Config:  cfg,
		Store:   st,
		Logger:  logger,
		Metrics: m,
		Version: version,
		now:     now,
	}

	app.Runner = cron.NewRunner(cron.Config{
		Location: loc,
		Enabled:  cfg.Notify.Enabled,
	}, logger.Named("cron"), m)
	app.Runner.AddSink(cron.LogSink{Logger: logger.Named("reminder")})

	app.Scheduler = notify.NewScheduler(app.Runner, cfg.Notify.CallTimeout, now, logger.Named("notify"), m)
	app.Tracker = adherence.NewTracker(st, now)

	policy := escalation.Policy{
		Threshold:     cfg.Escalation.Threshold,
		PostponeDelay: cfg.Escalation.PostponeDelay,
		SkipFollowUp:  cfg.Escalation.SkipFollowUp,
	}
	sender := alert.NewClient(cfg.Alert.Endpoint, cfg.Alert.Timeout, logger.Named("alert"))
	app.Controller = escalation.NewController(policy, app.Tracker, app.Scheduler, sender, st, logger.Named("escalation"), m)

	app.Prescriptions = prescriptions.NewService(st, app.Scheduler, app.Tracker, app.Controller, now, logger.Named("prescriptions"))

	app.Hub = api.NewHub(app.Prescriptions.Act, logger.Named("ws"))
	app.Runner.AddSink(app.Hub)

	app.TelegramBot, err = telegram.NewBot(telegram.Config{
		Token:     cfg.Channels.Telegram.BotToken,
		Enabled:   cfg.Channels.Telegram.Enabled,
		ChatID:    cfg.Channels.Telegram.ChatID,
		AllowList: cfg.Channels.Telegram.AllowList,
	}, app.Prescriptions, logger.Named("telegram"))
	if err != nil {
		st.Close()
		return nil, err
	}
	if app.TelegramBot.Enabled() {
		app.Runner.AddSink(app.TelegramBot)
	}

	app.DiscordBot, err = discord.NewBot(discord.Config{
		Token:     cfg.Channels.Discord.Token,
		Enabled:   cfg.Channels.Discord.Enabled,
		ChannelID: cfg.Channels.Discord.ChannelID,
	}, app.Prescriptions, logger.Named("discord"))
	if err != nil {
		st.Close()
		return nil, err
	}
	if app.DiscordBot.Enabled() {
		app.Runner.AddSink(app.DiscordBot)
	}

	if cfg.Alert.RelayEnabled {
		app.Relay = alert.NewRelayFromConfig(cfg.Alert.SMTP, logger.Named("relay"))
	}
	if cfg.Scan.Endpoint != "" {
		app.Scanner = scan.NewClient(cfg.Scan.Endpoint, cfg.Scan.Timeout)
	}

	return app, nil
}

// Close releases the store.
func (app *App) Close() error {
	return app.Store.Close()
}

// Prepare restores persisted state: skip counters, the seeded profile and
// the reminders of every active course.
func (app *App) Prepare(ctx context.Context) error {
	counts, err := app.Tracker.SkipCounts(ctx)
	if err != nil {
		return err
	}
	app.Controller.Restore(counts)

	if err := app.SeedProfile(ctx, app.Config.Profile); err != nil {
		app.Logger.Warn("Profile from config not applied", zap.Error(err))
	}

	if !app.Runner.Enabled() {
		app.Logger.Warn("Notifications are disabled, reminders will not fire until notify.enabled is set")
		return nil
	}
	return app.syncCourses(ctx)
}

func (app *App) syncCourses(ctx context.Context) error {
	report, err := app.Prescriptions.SyncCourses(ctx)
	if err != nil {
		return err
	}
	app.Logger.Info("Courses synced",
		zap.Int("rearmed", report.Rearmed),
		zap.Int("ended", report.Ended),
	)
	return nil
}

// SeedProfile stores the configured profile when none exists yet.
func (app *App) SeedProfile(ctx context.Context, pc config.ProfileConfig) error {
	if pc.Email == "" && pc.CaretakerEmail == "" {
		return nil
	}
	_, ok, err := app.Store.Profile(ctx)
	if err != nil || ok {
		return err
	}
	return app.saveProfile(ctx, pc)
}

func (app *App) saveProfile(ctx context.Context, pc config.ProfileConfig) error {
	p := models.Profile{Name: pc.Name, Email: pc.Email, CaretakerEmail: pc.CaretakerEmail}
	if err := security.ValidateProfile(p); err != nil {
		return err
	}
	return app.Store.SaveProfile(ctx, p)
}

// ApplyConfig takes the parts of a reloaded config that can change without a
// restart: notification permission and the profile addresses. Granting
// permission re-arms the reminders of every active course.
func (app *App) ApplyConfig(ctx context.Context, next *config.Config) {
	wasEnabled := app.Runner.Enabled()
	app.Runner.SetEnabled(next.Notify.Enabled)
	if next.Notify.Enabled && !wasEnabled {
		if err := app.syncCourses(ctx); err != nil {
			app.Logger.Error("Failed to re-arm reminders", zap.Error(err))
		}
	}

	prev := app.Config.Profile
	app.Config = next
	if next.Profile == prev {
		return
	}
	if err := app.saveProfile(ctx, next.Profile); err != nil {
		app.Logger.Warn("Reloaded profile rejected", zap.Error(err))
		return
	}
	app.Logger.Info("Profile updated from config", zap.String("caretaker", next.Profile.CaretakerEmail))
}

// Server builds the HTTP surface over the wired components.
func (app *App) Server() *api.Server {
	return api.New(app.Config, api.Deps{
		Prescriptions: app.Prescriptions,
		Tracker:       app.Tracker,
		Controller:    app.Controller,
		Store:         app.Store,
		Runner:        app.Runner,
		Scanner:       app.Scanner,
		Relay:         app.Relay,
		Hub:           app.Hub,
		Metrics:       app.Metrics,
		Now:           app.now,
	}, app.Logger.Named("api"))
}

// RunServer starts everything and blocks until SIGINT or SIGTERM.
func (app *App) RunServer() error {
	ctx := context.Background()
	if err := app.Prepare(ctx); err != nil {
		return err
	}

	if err := app.Runner.Start(); err != nil {
		return err
	}

	if err := app.TelegramBot.Start(); err != nil {
		app.Logger.Error("Failed to start Telegram bot", zap.Error(err))
	}
	if err := app.DiscordBot.Start(); err != nil {
		app.Logger.Error("Failed to start Discord bot", zap.Error(err))
	}

	app.Config.Watch(func(next *config.Config) {
		app.ApplyConfig(ctx, next)
	}, func(err error) {
		app.Logger.Warn("Ignoring invalid config change", zap.Error(err))
	})

	server := app.Server()
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	app.Logger.Info("Server started",
		zap.String("version", app.Version),
		zap.String("url", app.Config.BaseURL()),
	)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case <-quit:
	case runErr = <-errCh:
		app.Logger.Error("Server error", zap.Error(runErr))
	}

	app.Logger.Info("Shutting down...")

	app.TelegramBot.Stop()
	if err := app.DiscordBot.Stop(); err != nil {
		app.Logger.Warn("Discord shutdown error", zap.Error(err))
	}
	app.Runner.Stop()

	if err := server.Shutdown(); err != nil {
		app.Logger.Error("Server shutdown error", zap.Error(err))
	}
	return runErr
}
