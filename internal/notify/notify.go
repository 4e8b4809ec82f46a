// Package notify schedules reminder notifications through a platform provider.
package notify

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/gmsas95/pillminder/internal/metrics"
	"github.com/gmsas95/pillminder/internal/models"
	"github.com/gmsas95/pillminder/internal/slots"
)

// Handle identifies a registered notification. Its format belongs to the provider.
type Handle string

type TriggerKind int

const (
	TriggerDaily TriggerKind = iota
	TriggerAfter
)

// Trigger is either a daily wall-clock time or a one-off delay.
type Trigger struct {
	Kind   TriggerKind
	Hour   int
	Minute int
	Delay  time.Duration
}

func DailyAt(hour, minute int) Trigger {
	return Trigger{Kind: TriggerDaily, Hour: hour, Minute: minute}
}

func AfterDelay(d time.Duration) Trigger {
	return Trigger{Kind: TriggerAfter, Delay: d}
}

// Payload is what the user sees when a reminder fires.
type Payload struct {
	MedicineID   string `json:"medicineId"`
	MedicineName string `json:"medicineName"`
	SlotKey      string `json:"slotKey,omitempty"`
	Time         string `json:"time,omitempty"`
	Title        string `json:"title"`
	Body         string `json:"body"`
	FollowUp     bool   `json:"followUp"`
}

// Provider is the platform notification capability.
type Provider interface {
	Register(ctx context.Context, trigger Trigger, payload Payload) (Handle, error)
	Cancel(ctx context.Context, handle Handle) error
}

// Result is the outcome of one register or cancel attempt.
type Result struct {
	SlotKey string `json:"slotKey,omitempty"`
	Handle  Handle `json:"handle,omitempty"`
	Err     error  `json:"-"`
}

func (r Result) OK() bool { return r.Err == nil }

// Handles extracts the successful handles from results.
func Handles(results []Result) []Handle {
	out := make([]Handle, 0, len(results))
	for _, r := range results {
		if r.Err == nil && r.Handle != "" {
			out = append(out, r.Handle)
		}
	}
	return out
}

// Failed counts failed results.
func Failed(results []Result) int {
	n := 0
	for _, r := range results {
		if r.Err != nil {
			n++
		}
	}
	return n
}

type Scheduler struct {
	provider    Provider
	callTimeout time.Duration
	now         func() time.Time
	logger      *zap.Logger
	metrics     *metrics.Metrics
}

func NewScheduler(provider Provider, callTimeout time.Duration, now func() time.Time, logger *zap.Logger, m *metrics.Metrics) *Scheduler {
	if callTimeout <= 0 {
		callTimeout = 5 * time.Second
	}
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		provider:    provider,
		callTimeout: callTimeout,
		now:         now,
		logger:      logger,
		metrics:     m,
	}
}

func ReminderPayload(med models.Medicine, s slots.Slot) Payload {
	return Payload{
		MedicineID:   med.ID,
		MedicineName: med.Name,
		SlotKey:      s.Key,
		Time:         s.Time,
		Title:        "Medicine Reminder",
		Body:         fmt.Sprintf("Time to take your medicine %s", med.Name),
	}
}

func FollowUpPayload(med models.Medicine) Payload {
	return Payload{
		MedicineID:   med.ID,
		MedicineName: med.Name,
		Title:        "Medicine Reminder (Follow-up)",
		Body:         fmt.Sprintf("Time to take your %s - you postponed this earlier.", med.Name),
		FollowUp:     true,
	}
}

// ScheduleDaily registers one daily reminder per slot of med and returns the
// handles that succeeded.
func (s *Scheduler) ScheduleDaily(ctx context.Context, med models.Medicine) []Handle {
	return Handles(s.ScheduleDailyResults(ctx, med))
}

// ScheduleDailyResults is ScheduleDaily with per-slot outcomes. A medicine
// whose course has ended yields no results.
func (s *Scheduler) ScheduleDailyResults(ctx context.Context, med models.Medicine) []Result {
	now := s.now()
	if !med.Active(now) {
		return nil
	}

	expanded := slots.Expand(med, now)
	if len(med.Times) > 0 && len(expanded) < len(med.Times) {
		s.logger.Warn("Skipping unparseable or repeated reminder times",
			zap.String("medicine_id", med.ID),
			zap.Strings("times", med.Times))
	}

	results := make([]Result, 0, len(expanded))
	for _, slot := range expanded {
		h, err := s.register(ctx, DailyAt(slot.Minutes/60, slot.Minutes%60), ReminderPayload(med, slot))
		s.metrics.RecordReminderScheduled(err == nil)
		if err != nil {
			s.logger.Warn("Failed to schedule reminder",
				zap.String("medicine_id", med.ID),
				zap.String("slot_key", slot.Key),
				zap.Error(err))
		}
		results = append(results, Result{SlotKey: slot.Key, Handle: h, Err: err})
	}
	return results
}

// CancelAll attempts every handle once. Failures are logged and reported but
// never stop the remaining cancellations.
func (s *Scheduler) CancelAll(ctx context.Context, handles []Handle) []Result {
	results := make([]Result, 0, len(handles))
	for _, h := range handles {
		cctx, cancel := context.WithTimeout(ctx, s.callTimeout)
		err := s.provider.Cancel(cctx, h)
		cancel()

		s.metrics.RecordReminderCancelled(err == nil)
		if err != nil {
			s.logger.Warn("Failed to cancel reminder", zap.String("handle", string(h)), zap.Error(err))
		}
		results = append(results, Result{Handle: h, Err: err})
	}
	return results
}

// ScheduleOneOff registers a non-repeating follow-up delay from now.
func (s *Scheduler) ScheduleOneOff(ctx context.Context, med models.Medicine, delay time.Duration) (Handle, error) {
	h, err := s.register(ctx, AfterDelay(delay), FollowUpPayload(med))
	if err != nil {
		s.logger.Warn("Failed to schedule follow-up",
			zap.String("medicine_id", med.ID),
			zap.Duration("delay", delay),
			zap.Error(err))
		return "", err
	}
	s.metrics.RecordFollowUp()
	return h, nil
}

func (s *Scheduler) register(ctx context.Context, trigger Trigger, payload Payload) (Handle, error) {
	cctx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()
	return s.provider.Register(cctx, trigger, payload)
}

// ToStrings and FromStrings convert between handles and their persisted form.
func ToStrings(handles []Handle) []string {
	out := make([]string, len(handles))
	for i, h := range handles {
		out[i] = string(h)
	}
	return out
}

func FromStrings(ids []string) []Handle {
	out := make([]Handle, len(ids))
	for i, id := range ids {
		out[i] = Handle(id)
	}
	return out
}
