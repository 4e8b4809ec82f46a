package escalation

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gmsas95/pillminder/internal/adherence"
	"github.com/gmsas95/pillminder/internal/alert"
	"github.com/gmsas95/pillminder/internal/errors"
	"github.com/gmsas95/pillminder/internal/models"
	"github.com/gmsas95/pillminder/internal/notify"
	"github.com/gmsas95/pillminder/internal/slots"
	"github.com/gmsas95/pillminder/internal/store"
)

var fixedNow = time.Date(2025, 3, 10, 9, 30, 0, 0, time.UTC)

type fakeSender struct {
	mu   sync.Mutex
	sent []alert.Alert
	err  error
}

func (f *fakeSender) Send(ctx context.Context, a alert.Alert) (alert.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, a)
	if f.err != nil {
		return alert.Result{}, f.err
	}
	return alert.Result{Status: "sent"}, nil
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type staticProfile struct {
	p  models.Profile
	ok bool
}

func (s staticProfile) Profile(context.Context) (models.Profile, bool, error) {
	return s.p, s.ok, nil
}

type harness struct {
	ctrl     *Controller
	tracker  *adherence.Tracker
	provider *notify.FakeProvider
	sender   *fakeSender
}

var withCaretaker = staticProfile{p: models.Profile{Email: "pat@example.com", CaretakerEmail: "care@example.com"}, ok: true}

func setupTest(t *testing.T, profiles ProfileSource, policy Policy) *harness {
	t.Helper()
	b, err := store.OpenBadger("", true)
	require.NoError(t, err)
	st := store.NewWithBackend(b, nil)
	t.Cleanup(func() { st.Close() })

	clock := func() time.Time { return fixedNow }
	tracker := adherence.NewTracker(st, clock)
	provider := notify.NewFakeProvider()
	sched := notify.NewScheduler(provider, time.Second, clock, nil, nil)
	sender := &fakeSender{}

	return &harness{
		ctrl:     NewController(policy, tracker, sched, sender, profiles, nil, nil),
		tracker:  tracker,
		provider: provider,
		sender:   sender,
	}
}

var med = models.Medicine{ID: "m1", Name: "Metformin", Times: []string{"09:00", "21:00"}}

func slotAt(hhmm string) slots.Slot {
	for _, s := range slots.Expand(med, fixedNow) {
		if s.Time == hhmm {
			return s
		}
	}
	panic("no slot " + hhmm)
}

func act(t *testing.T, h *harness, kind Kind, hhmm string) Outcome {
	t.Helper()
	out, err := h.ctrl.Handle(context.Background(), Action{Kind: kind, Medicine: med, Slot: slotAt(hhmm)})
	require.NoError(t, err)
	return out
}

func TestTakenThenAlreadyTaken(t *testing.T) {
	h := setupTest(t, withCaretaker, DefaultPolicy())

	out := act(t, h, Taken, "09:00")
	assert.False(t, out.AlreadyTaken)
	assert.Equal(t, Normal, out.State)
	assert.Equal(t, "Metformin (09:00 AM) marked as taken!", out.Message)

	out = act(t, h, Taken, "09:00")
	assert.True(t, out.AlreadyTaken)

	entries, err := h.tracker.Entries(context.Background())
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	// The other slot of the same medicine is independent.
	out = act(t, h, Taken, "21:00")
	assert.False(t, out.AlreadyTaken)
}

func TestTakenResetsSkipCount(t *testing.T) {
	h := setupTest(t, withCaretaker, DefaultPolicy())

	act(t, h, Skip, "09:00")
	assert.Equal(t, Escalating, h.ctrl.State("m1"))

	act(t, h, Taken, "21:00")
	counts, err := h.tracker.SkipCounts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, counts["m1"])
	assert.Equal(t, Normal, h.ctrl.State("m1"))
}

func TestPostponeSchedulesFollowUp(t *testing.T) {
	h := setupTest(t, withCaretaker, DefaultPolicy())

	out := act(t, h, Postpone, "09:00")
	assert.Equal(t, 1, out.SkipCount)
	assert.Equal(t, Escalating, out.State)
	assert.NotEmpty(t, out.FollowUp)
	assert.Equal(t, "Reminder in 10 minutes.", out.Message)

	oneOffs := h.provider.OneOffs()
	require.Len(t, oneOffs, 1)
	assert.Equal(t, 10*time.Minute, oneOffs[0].Trigger.Delay)
	assert.True(t, oneOffs[0].Payload.FollowUp)
}

func TestPostponeFollowUpFailureIsNotFatal(t *testing.T) {
	h := setupTest(t, withCaretaker, DefaultPolicy())
	h.provider.FailRegister = func(notify.Trigger, notify.Payload) error { return errors.ErrPermissionDenied }

	out := act(t, h, Postpone, "09:00")
	assert.Empty(t, out.FollowUp)
	assert.Contains(t, out.Message, "could not be scheduled")
	assert.Equal(t, 1, out.SkipCount)
}

func TestThirdPostponeAlertsAndResets(t *testing.T) {
	h := setupTest(t, withCaretaker, DefaultPolicy())

	act(t, h, Postpone, "09:00")
	act(t, h, Postpone, "09:00")
	out := act(t, h, Postpone, "09:00")

	assert.True(t, out.Alerted)
	assert.False(t, out.AlertSimulated)
	assert.Equal(t, 3, out.SkipCount)
	assert.Equal(t, Normal, out.State)
	require.Equal(t, 1, h.sender.count())
	assert.Equal(t, alert.Alert{UserEmail: "pat@example.com", CaretakerEmail: "care@example.com", MedicineName: "Metformin"}, h.sender.sent[0])

	// Only the first two postpones scheduled a follow-up.
	assert.Len(t, h.provider.OneOffs(), 2)

	counts, err := h.tracker.SkipCounts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, counts["m1"])
}

func TestSkipLogsMissedAndAlertsOnThreshold(t *testing.T) {
	h := setupTest(t, withCaretaker, DefaultPolicy())

	out := act(t, h, Skip, "09:00")
	assert.Equal(t, "Dose skipped (1/3 before caretaker alert).", out.Message)
	act(t, h, Skip, "21:00")
	out = act(t, h, Skip, "09:00")
	assert.True(t, out.Alerted)

	entries, err := h.tracker.Entries(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, adherence.CountStatus(entries, models.StatusMissed))
	assert.Empty(t, h.provider.OneOffs())
}

func TestMixedPostponeAndSkipShareCounter(t *testing.T) {
	h := setupTest(t, withCaretaker, DefaultPolicy())

	act(t, h, Postpone, "09:00")
	act(t, h, Skip, "09:00")
	out := act(t, h, Postpone, "21:00")
	assert.True(t, out.Alerted)
}

func TestAlertFailureFallsBackToSimulated(t *testing.T) {
	h := setupTest(t, withCaretaker, Policy{Threshold: 1, PostponeDelay: time.Minute})
	h.sender.err = fmt.Errorf("connection refused")

	out := act(t, h, Skip, "09:00")
	assert.True(t, out.Alerted)
	assert.True(t, out.AlertSimulated)
	assert.Equal(t, "Caretaker notification sent (simulated).", out.Message)

	counts, err := h.tracker.SkipCounts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, counts["m1"])
}

func TestThirdActionAlertsOnceWhenSendFails(t *testing.T) {
	h := setupTest(t, withCaretaker, DefaultPolicy())
	h.sender.err = fmt.Errorf("connection refused")

	act(t, h, Postpone, "09:00")
	act(t, h, Skip, "21:00")
	out := act(t, h, Postpone, "09:00")

	assert.True(t, out.Alerted)
	assert.True(t, out.AlertSimulated)
	assert.Equal(t, Normal, out.State)
	assert.Equal(t, 1, h.sender.count())

	counts, err := h.tracker.SkipCounts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, counts["m1"])

	out = act(t, h, Skip, "09:00")
	assert.Equal(t, 1, out.SkipCount)
	assert.False(t, out.Alerted)
	assert.Equal(t, 1, h.sender.count())
}

func TestNoCaretakerSkipsAlertButResets(t *testing.T) {
	h := setupTest(t, staticProfile{}, Policy{Threshold: 2, PostponeDelay: time.Minute})

	act(t, h, Skip, "09:00")
	out := act(t, h, Skip, "09:00")
	assert.False(t, out.Alerted)
	assert.True(t, out.AlertSkipped)
	assert.Zero(t, h.sender.count())

	counts, err := h.tracker.SkipCounts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, counts["m1"])
}

func TestSkipFollowUpPolicy(t *testing.T) {
	h := setupTest(t, withCaretaker, Policy{Threshold: 3, PostponeDelay: time.Minute, SkipFollowUp: 5 * time.Minute})

	out := act(t, h, Skip, "09:00")
	assert.NotEmpty(t, out.FollowUp)
	require.Len(t, h.provider.OneOffs(), 1)
	assert.Equal(t, 5*time.Minute, h.provider.OneOffs()[0].Trigger.Delay)
}

func TestValidationRejectsBeforeMutation(t *testing.T) {
	h := setupTest(t, withCaretaker, DefaultPolicy())
	ctx := context.Background()

	_, err := h.ctrl.Handle(ctx, Action{Kind: "snooze", Medicine: med, Slot: slotAt("09:00")})
	assert.True(t, errors.Is(err, errors.ErrValidation))

	_, err = h.ctrl.Handle(ctx, Action{Kind: Skip, Medicine: med})
	assert.True(t, errors.Is(err, errors.ErrValidation))

	_, err = h.ctrl.Handle(ctx, Action{Kind: Skip, Slot: slotAt("09:00")})
	assert.True(t, errors.Is(err, errors.ErrNotFound))

	counts, err := h.tracker.SkipCounts(ctx)
	require.NoError(t, err)
	assert.Empty(t, counts)
}

func TestConcurrentTakenLogsOnce(t *testing.T) {
	h := setupTest(t, withCaretaker, DefaultPolicy())

	var wg sync.WaitGroup
	results := make([]Outcome, 10)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			out, err := h.ctrl.Handle(context.Background(), Action{Kind: Taken, Medicine: med, Slot: slotAt("09:00")})
			assert.NoError(t, err)
			results[i] = out
		}(i)
	}
	wg.Wait()

	fresh := 0
	for _, r := range results {
		if !r.AlreadyTaken {
			fresh++
		}
	}
	assert.Equal(t, 1, fresh)

	entries, err := h.tracker.Entries(context.Background())
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestConcurrentSkipsAlertOnce(t *testing.T) {
	h := setupTest(t, withCaretaker, DefaultPolicy())

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.ctrl.Handle(context.Background(), Action{Kind: Skip, Medicine: med, Slot: slotAt("09:00")})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, h.sender.count())
}

func TestRestoreAndForget(t *testing.T) {
	h := setupTest(t, withCaretaker, DefaultPolicy())

	h.ctrl.Restore(map[string]int{"m1": 2, "m2": 0})
	assert.Equal(t, Escalating, h.ctrl.State("m1"))
	assert.Equal(t, Normal, h.ctrl.State("m2"))

	h.ctrl.Forget("m1")
	assert.Equal(t, Normal, h.ctrl.State("m1"))
}

func TestParseKind(t *testing.T) {
	k, err := ParseKind("postpone")
	require.NoError(t, err)
	assert.Equal(t, Postpone, k)

	_, err = ParseKind("later")
	assert.Error(t, err)
}
