// Package cron implements the reminder provider on top of a cron scheduler
package cron

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/gmsas95/pillminder/internal/errors"
	"github.com/gmsas95/pillminder/internal/metrics"
	"github.com/gmsas95/pillminder/internal/notify"
)

// Sink receives fired reminders. Implementations must honour ctx.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, p notify.Payload) error
}

// Config holds cron runner configuration
type Config struct {
	Location        *time.Location
	Enabled         bool
	MaxConcurrent   int           // Maximum concurrent sink deliveries
	DeliveryTimeout time.Duration // Per sink
}

// Pending describes a registered reminder.
type Pending struct {
	Handle  notify.Handle  `json:"handle"`
	Daily   bool           `json:"daily"`
	Next    time.Time      `json:"next"`
	Payload notify.Payload `json:"payload"`
}

type dailyEntry struct {
	id      cron.EntryID
	payload notify.Payload
}

type onceEntry struct {
	timer   *time.Timer
	at      time.Time
	payload notify.Payload
}

// Runner is a notify.Provider. Daily triggers become cron entries, one-offs
// become timers, and fired reminders are fanned out to every sink.
type Runner struct {
	config  Config
	cron    *cron.Cron
	logger  *zap.Logger
	metrics *metrics.Metrics
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
	enabled bool
	mu      sync.RWMutex

	daily map[notify.Handle]dailyEntry
	once  map[notify.Handle]onceEntry
	sinks []Sink
}

// NewRunner creates a new cron runner
func NewRunner(config Config, logger *zap.Logger, m *metrics.Metrics) *Runner {
	ctx, cancel := context.WithCancel(context.Background())

	if config.Location == nil {
		config.Location = time.Local
	}
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 3
	}
	if config.DeliveryTimeout <= 0 {
		config.DeliveryTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Runner{
		config:  config,
		cron:    cron.New(cron.WithLocation(config.Location)),
		logger:  logger,
		metrics: m,
		ctx:     ctx,
		cancel:  cancel,
		enabled: config.Enabled,
		daily:   make(map[notify.Handle]dailyEntry),
		once:    make(map[notify.Handle]onceEntry),
	}
}

// Start starts the cron runner
func (r *Runner) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return fmt.Errorf("cron runner already running")
	}

	r.running = true
	r.cron.Start()
	r.logger.Info("Reminder runner started", zap.String("location", r.config.Location.String()))
	return nil
}

// Stop stops the scheduler, cancels pending one-offs and waits for in-flight
// deliveries.
func (r *Runner) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	for h, e := range r.once {
		e.timer.Stop()
		delete(r.once, h)
	}
	r.mu.Unlock()

	<-r.cron.Stop().Done()
	r.cancel()
	r.wg.Wait()
	r.logger.Info("Reminder runner stopped")
}

// IsRunning returns whether the runner is active
func (r *Runner) IsRunning() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.running
}

// SetEnabled grants or revokes notification permission.
func (r *Runner) SetEnabled(enabled bool) {
	r.mu.Lock()
	r.enabled = enabled
	r.mu.Unlock()
}

// Enabled reports whether notification permission is granted.
func (r *Runner) Enabled() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.enabled
}

func (r *Runner) AddSink(s Sink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sinks = append(r.sinks, s)
}

// Register implements notify.Provider.
func (r *Runner) Register(ctx context.Context, trigger notify.Trigger, payload notify.Payload) (notify.Handle, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.enabled {
		return "", errors.ErrPermissionDenied
	}

	switch trigger.Kind {
	case notify.TriggerDaily:
		if trigger.Hour < 0 || trigger.Hour > 23 || trigger.Minute < 0 || trigger.Minute > 59 {
			return "", errors.New(errors.CodeValidation, fmt.Sprintf("invalid daily trigger %02d:%02d", trigger.Hour, trigger.Minute))
		}
		spec := fmt.Sprintf("%d %d * * *", trigger.Minute, trigger.Hour)
		id, err := r.cron.AddFunc(spec, func() { r.fire(payload) })
		if err != nil {
			return "", fmt.Errorf("failed to add cron entry: %w", err)
		}
		h := notify.Handle(fmt.Sprintf("daily:%d:%s", id, uuid.NewString()))
		r.daily[h] = dailyEntry{id: id, payload: payload}

		r.logger.Debug("Daily reminder registered",
			zap.String("handle", string(h)),
			zap.String("medicine_id", payload.MedicineID),
			zap.String("spec", spec))
		return h, nil

	case notify.TriggerAfter:
		if trigger.Delay <= 0 {
			return "", errors.New(errors.CodeValidation, "one-off delay must be positive")
		}
		h := notify.Handle("once:" + uuid.NewString())
		timer := time.AfterFunc(trigger.Delay, func() {
			r.mu.Lock()
			_, pending := r.once[h]
			delete(r.once, h)
			r.mu.Unlock()
			if pending {
				r.fire(payload)
			}
		})
		r.once[h] = onceEntry{timer: timer, at: time.Now().Add(trigger.Delay), payload: payload}

		r.logger.Debug("One-off reminder registered",
			zap.String("handle", string(h)),
			zap.String("medicine_id", payload.MedicineID),
			zap.Duration("delay", trigger.Delay))
		return h, nil
	}

	return "", errors.New(errors.CodeValidation, "unknown trigger kind")
}

// Cancel implements notify.Provider.
func (r *Runner) Cancel(ctx context.Context, h notify.Handle) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.daily[h]; ok {
		r.cron.Remove(e.id)
		delete(r.daily, h)
		return nil
	}
	if e, ok := r.once[h]; ok {
		e.timer.Stop()
		delete(r.once, h)
		return nil
	}
	return errors.New(errors.CodeUnknownHandle, fmt.Sprintf("no reminder registered under %q", h))
}

// Pending lists registered reminders ordered by next fire time.
func (r *Runner) Pending() []Pending {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Pending, 0, len(r.daily)+len(r.once))
	for h, e := range r.daily {
		out = append(out, Pending{Handle: h, Daily: true, Next: r.cron.Entry(e.id).Next, Payload: e.payload})
	}
	for h, e := range r.once {
		out = append(out, Pending{Handle: h, Next: e.at, Payload: e.payload})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Next.Equal(out[j].Next) {
			return out[i].Handle < out[j].Handle
		}
		return out[i].Next.Before(out[j].Next)
	})
	return out
}

// Fire delivers a payload immediately, as if its trigger had elapsed.
func (r *Runner) Fire(p notify.Payload) {
	r.fire(p)
}

// fire fans the payload out to every sink with bounded concurrency.
func (r *Runner) fire(p notify.Payload) {
	r.mu.RLock()
	sinks := make([]Sink, len(r.sinks))
	copy(sinks, r.sinks)
	r.mu.RUnlock()

	r.logger.Info("Reminder due",
		zap.String("medicine_id", p.MedicineID),
		zap.String("slot_key", p.SlotKey),
		zap.Bool("follow_up", p.FollowUp))

	sem := make(chan struct{}, r.config.MaxConcurrent)
	for _, s := range sinks {
		r.wg.Add(1)
		sem <- struct{}{} // Acquire

		go func(s Sink) {
			defer r.wg.Done()
			defer func() { <-sem }() // Release

			ctx, cancel := context.WithTimeout(r.ctx, r.config.DeliveryTimeout)
			defer cancel()

			err := s.Deliver(ctx, p)
			r.metrics.RecordDelivery(s.Name(), err == nil)
			if err != nil {
				r.logger.Warn("Reminder delivery failed",
					zap.String("sink", s.Name()),
					zap.String("medicine_id", p.MedicineID),
					zap.Error(err))
			}
		}(s)
	}
}

// LogSink writes reminders to the logger. It is always installed so a
// reminder is never silently dropped.
type LogSink struct {
	Logger *zap.Logger
}

func (LogSink) Name() string { return "log" }

func (s LogSink) Deliver(_ context.Context, p notify.Payload) error {
	s.Logger.Info(p.Title,
		zap.String("body", p.Body),
		zap.String("medicine", p.MedicineName),
		zap.String("time", p.Time))
	return nil
}
