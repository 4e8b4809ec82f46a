package cron

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/gmsas95/pillminder/internal/errors"
	"github.com/gmsas95/pillminder/internal/notify"
)

type recordingSink struct {
	mu       sync.Mutex
	name     string
	payloads []notify.Payload
	fail     bool
	got      chan notify.Payload
}

func newRecordingSink(name string) *recordingSink {
	return &recordingSink{name: name, got: make(chan notify.Payload, 8)}
}

func (s *recordingSink) Name() string { return s.name }

func (s *recordingSink) Deliver(_ context.Context, p notify.Payload) error {
	s.mu.Lock()
	s.payloads = append(s.payloads, p)
	s.mu.Unlock()
	s.got <- p
	if s.fail {
		return fmt.Errorf("sink down")
	}
	return nil
}

func setupTest(t *testing.T, enabled bool) *Runner {
	t.Helper()
	r := NewRunner(Config{Location: time.UTC, Enabled: enabled}, zap.NewNop(), nil)
	require.NoError(t, r.Start())
	t.Cleanup(r.Stop)
	return r
}

func TestStartTwice(t *testing.T) {
	r := setupTest(t, true)
	assert.True(t, r.IsRunning())
	assert.Error(t, r.Start())
}

func TestRegisterDailyAndCancel(t *testing.T) {
	r := setupTest(t, true)
	ctx := context.Background()

	h, err := r.Register(ctx, notify.DailyAt(9, 0), notify.Payload{MedicineID: "m1", SlotKey: "m1_0900"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(h), "daily:"))

	pending := r.Pending()
	require.Len(t, pending, 1)
	assert.True(t, pending[0].Daily)
	assert.Equal(t, 9, pending[0].Next.Hour())
	assert.Equal(t, 0, pending[0].Next.Minute())

	require.NoError(t, r.Cancel(ctx, h))
	assert.Empty(t, r.Pending())

	err = r.Cancel(ctx, h)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrUnknownHandle))
}

func TestRegisterRejectsWhenDisabled(t *testing.T) {
	r := setupTest(t, false)

	_, err := r.Register(context.Background(), notify.DailyAt(9, 0), notify.Payload{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrPermissionDenied))

	r.SetEnabled(true)
	_, err = r.Register(context.Background(), notify.DailyAt(9, 0), notify.Payload{})
	assert.NoError(t, err)
}

func TestRegisterValidatesTrigger(t *testing.T) {
	r := setupTest(t, true)
	ctx := context.Background()

	_, err := r.Register(ctx, notify.DailyAt(24, 0), notify.Payload{})
	assert.True(t, errors.Is(err, errors.ErrValidation))

	_, err = r.Register(ctx, notify.AfterDelay(0), notify.Payload{})
	assert.True(t, errors.Is(err, errors.ErrValidation))
}

func TestOneOffFiresToAllSinks(t *testing.T) {
	r := setupTest(t, true)
	a, b := newRecordingSink("a"), newRecordingSink("b")
	b.fail = true
	r.AddSink(a)
	r.AddSink(b)

	h, err := r.Register(context.Background(), notify.AfterDelay(10*time.Millisecond),
		notify.Payload{MedicineID: "m1", FollowUp: true})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(h), "once:"))

	for _, s := range []*recordingSink{a, b} {
		select {
		case p := <-s.got:
			assert.Equal(t, "m1", p.MedicineID)
			assert.True(t, p.FollowUp)
		case <-time.After(2 * time.Second):
			t.Fatalf("sink %s not called", s.name)
		}
	}

	assert.Eventually(t, func() bool { return len(r.Pending()) == 0 }, time.Second, 5*time.Millisecond)
}

func TestCancelledOneOffNeverFires(t *testing.T) {
	r := setupTest(t, true)
	s := newRecordingSink("a")
	r.AddSink(s)

	h, err := r.Register(context.Background(), notify.AfterDelay(30*time.Millisecond), notify.Payload{MedicineID: "m1"})
	require.NoError(t, err)
	require.NoError(t, r.Cancel(context.Background(), h))

	select {
	case <-s.got:
		t.Fatal("cancelled reminder fired")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestFireDeliversImmediately(t *testing.T) {
	r := setupTest(t, true)
	s := newRecordingSink("a")
	r.AddSink(s)
	r.AddSink(LogSink{Logger: zap.NewNop()})

	r.Fire(notify.Payload{MedicineID: "m2", Title: "Medicine Reminder"})

	select {
	case p := <-s.got:
		assert.Equal(t, "m2", p.MedicineID)
	case <-time.After(time.Second):
		t.Fatal("sink not called")
	}
}

func TestRegisterHonoursCancelledContext(t *testing.T) {
	r := setupTest(t, true)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Register(ctx, notify.DailyAt(9, 0), notify.Payload{})
	assert.ErrorIs(t, err, context.Canceled)
}
