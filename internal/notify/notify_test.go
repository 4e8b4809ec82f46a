package notify

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gmsas95/pillminder/internal/models"
)

var fixedNow = time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)

func setupTest(t *testing.T) (*Scheduler, *FakeProvider) {
	t.Helper()
	fake := NewFakeProvider()
	return NewScheduler(fake, time.Second, func() time.Time { return fixedNow }, nil, nil), fake
}

func TestScheduleDailyOnePerSlot(t *testing.T) {
	s, fake := setupTest(t)
	med := models.Medicine{ID: "m1", Name: "Amoxicillin", Frequency: "Three times daily"}

	handles := s.ScheduleDaily(context.Background(), med)
	require.Len(t, handles, 3)
	require.Len(t, fake.Registered, 3)

	first := fake.Registered[0]
	assert.Equal(t, DailyAt(9, 0), first.Trigger)
	assert.Equal(t, "m1_0900", first.Payload.SlotKey)
	assert.Equal(t, "Medicine Reminder", first.Payload.Title)
	assert.Equal(t, "Time to take your medicine Amoxicillin", first.Payload.Body)
	assert.False(t, first.Payload.FollowUp)

	assert.Equal(t, DailyAt(14, 0), fake.Registered[1].Trigger)
	assert.Equal(t, DailyAt(21, 0), fake.Registered[2].Trigger)
}

func TestScheduleDailyEndedCourse(t *testing.T) {
	s, fake := setupTest(t)
	ended := fixedNow.Add(-time.Hour)
	med := models.Medicine{ID: "m1", Name: "X", EndDate: &ended}

	assert.Empty(t, s.ScheduleDaily(context.Background(), med))
	assert.Empty(t, fake.Registered)
}

func TestScheduleDailyToleratesSlotFailure(t *testing.T) {
	s, fake := setupTest(t)
	fake.FailRegister = func(tr Trigger, _ Payload) error {
		if tr.Hour == 14 {
			return fmt.Errorf("provider busy")
		}
		return nil
	}
	med := models.Medicine{ID: "m1", Name: "X", Times: []string{"09:00", "14:00", "21:00"}}

	results := s.ScheduleDailyResults(context.Background(), med)
	require.Len(t, results, 3)
	assert.True(t, results[0].OK())
	assert.False(t, results[1].OK())
	assert.Equal(t, "m1_1400", results[1].SlotKey)
	assert.True(t, results[2].OK())

	assert.Len(t, Handles(results), 2)
	assert.Equal(t, 1, Failed(results))
}

func TestScheduleDailySkipsBadTimes(t *testing.T) {
	s, fake := setupTest(t)
	med := models.Medicine{ID: "m1", Name: "X", Times: []string{"9am", "20:00"}}

	handles := s.ScheduleDaily(context.Background(), med)
	assert.Len(t, handles, 1)
	assert.Equal(t, DailyAt(20, 0), fake.Registered[0].Trigger)
}

func TestCancelAllAttemptsEveryHandle(t *testing.T) {
	s, fake := setupTest(t)
	fake.FailCancel = func(h Handle) error {
		if h == "h2" {
			return fmt.Errorf("gone")
		}
		return nil
	}

	results := s.CancelAll(context.Background(), []Handle{"h1", "h2", "h3"})
	require.Len(t, results, 3)
	assert.Equal(t, []Handle{"h1", "h2", "h3"}, fake.Cancelled)
	assert.Equal(t, 1, Failed(results))
}

func TestScheduleOneOff(t *testing.T) {
	s, fake := setupTest(t)
	med := models.Medicine{ID: "m1", Name: "Aspirin"}

	h, err := s.ScheduleOneOff(context.Background(), med, 10*time.Minute)
	require.NoError(t, err)
	assert.NotEmpty(t, h)

	oneOffs := fake.OneOffs()
	require.Len(t, oneOffs, 1)
	assert.Equal(t, AfterDelay(10*time.Minute), oneOffs[0].Trigger)
	assert.True(t, oneOffs[0].Payload.FollowUp)
	assert.Empty(t, oneOffs[0].Payload.SlotKey)
	assert.Equal(t, "Medicine Reminder (Follow-up)", oneOffs[0].Payload.Title)
	assert.Equal(t, "Time to take your Aspirin - you postponed this earlier.", oneOffs[0].Payload.Body)
}

func TestRegisterBoundedByCallTimeout(t *testing.T) {
	blocking := &blockingProvider{}
	s := NewScheduler(blocking, 20*time.Millisecond, nil, nil, nil)

	start := time.Now()
	_, err := s.ScheduleOneOff(context.Background(), models.Medicine{ID: "m1", Name: "X"}, time.Minute)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second)
}

type blockingProvider struct{}

func (blockingProvider) Register(ctx context.Context, _ Trigger, _ Payload) (Handle, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func (blockingProvider) Cancel(ctx context.Context, _ Handle) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestHandleStringConversion(t *testing.T) {
	hs := []Handle{"a", "b"}
	assert.Equal(t, hs, FromStrings(ToStrings(hs)))
}
