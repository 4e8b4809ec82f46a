package prescriptions

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gmsas95/pillminder/internal/adherence"
	"github.com/gmsas95/pillminder/internal/alert"
	"github.com/gmsas95/pillminder/internal/errors"
	"github.com/gmsas95/pillminder/internal/escalation"
	"github.com/gmsas95/pillminder/internal/models"
	"github.com/gmsas95/pillminder/internal/notify"
	"github.com/gmsas95/pillminder/internal/slots"
	"github.com/gmsas95/pillminder/internal/store"
)

var fixedNow = time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)

type countingSender struct {
	mu    sync.Mutex
	calls int
}

func (c *countingSender) Send(context.Context, alert.Alert) (alert.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return alert.Result{Status: "sent"}, nil
}

// flakyBackend fails every write while failWrites is set.
type flakyBackend struct {
	store.Backend
	failWrites atomic.Bool
}

func (f *flakyBackend) Update(ctx context.Context, key string, fn store.MutateFunc) error {
	if f.failWrites.Load() {
		return fmt.Errorf("disk full")
	}
	return f.Backend.Update(ctx, key, fn)
}

type harness struct {
	svc      *Service
	store    *store.Store
	backend  *flakyBackend
	provider *notify.FakeProvider
	sender   *countingSender
}

func setupTest(t *testing.T) *harness {
	t.Helper()
	b, err := store.OpenBadger("", true)
	require.NoError(t, err)
	backend := &flakyBackend{Backend: b}
	st := store.NewWithBackend(backend, nil)
	t.Cleanup(func() { st.Close() })

	clock := func() time.Time { return fixedNow }
	provider := notify.NewFakeProvider()
	sched := notify.NewScheduler(provider, time.Second, clock, nil, nil)
	tracker := adherence.NewTracker(st, clock)
	sender := &countingSender{}
	ctrl := escalation.NewController(escalation.DefaultPolicy(), tracker, sched, sender, st, nil, nil)

	require.NoError(t, st.SaveProfile(context.Background(), models.Profile{
		Email:          "pat@example.com",
		CaretakerEmail: "care@example.com",
	}))

	return &harness{
		svc:      NewService(st, sched, tracker, ctrl, clock, nil),
		store:    st,
		backend:  backend,
		provider: provider,
		sender:   sender,
	}
}

func TestAddAppliesDefaults(t *testing.T) {
	h := setupTest(t)
	ctx := context.Background()

	p, results, err := h.svc.Add(ctx, []models.Medicine{
		{Name: "  Metformin ", Frequency: "twice a day", Duration: "7"},
		{Name: "Aspirin", Dosage: "75mg", Times: []string{"13:30"}},
	})
	require.NoError(t, err)
	assert.Len(t, results, 3)
	assert.Zero(t, notify.Failed(results))
	assert.True(t, fixedNow.Equal(p.CreatedAt))

	met := p.Medicines[0]
	assert.NotEmpty(t, met.ID)
	assert.Equal(t, "Metformin", met.Name)
	assert.Equal(t, DefaultDosage, met.Dosage)
	assert.Equal(t, "Twice daily", met.Frequency)
	assert.Equal(t, []string{"09:00", "21:00"}, met.Times)
	assert.Equal(t, "7 days", met.Duration)
	require.NotNil(t, met.EndDate)
	assert.True(t, fixedNow.AddDate(0, 0, 7).Equal(*met.EndDate))
	assert.Len(t, met.Handles, 2)

	asp := p.Medicines[1]
	assert.Equal(t, "Once daily", asp.Frequency)
	assert.Equal(t, []string{"13:30"}, asp.Times)
	assert.Equal(t, DefaultDuration, asp.Duration)
	assert.Nil(t, asp.EndDate)
	assert.Equal(t, 3, h.provider.ActiveCount())

	second, _, err := h.svc.Add(ctx, []models.Medicine{{Name: "Vitamin D"}})
	require.NoError(t, err)
	list, err := h.svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, second.ID, list[0].ID)
	assert.Equal(t, p.ID, list[1].ID)
}

func TestAddRejectsInvalidDrafts(t *testing.T) {
	h := setupTest(t)
	ctx := context.Background()

	_, _, err := h.svc.Add(ctx, nil)
	assert.True(t, errors.Is(err, errors.ErrValidation))

	_, _, err = h.svc.Add(ctx, []models.Medicine{{Name: " "}})
	assert.True(t, errors.Is(err, errors.ErrValidation))

	assert.Zero(t, h.provider.ActiveCount())
	list, err := h.svc.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestAddToleratesSlotFailures(t *testing.T) {
	h := setupTest(t)
	h.provider.FailRegister = func(tr notify.Trigger, _ notify.Payload) error {
		if tr.Hour == 21 {
			return fmt.Errorf("provider busy")
		}
		return nil
	}

	p, results, err := h.svc.Add(context.Background(), []models.Medicine{{Name: "Metformin", Frequency: "twice daily"}})
	require.NoError(t, err)
	assert.Equal(t, 1, notify.Failed(results))
	assert.Len(t, p.Medicines[0].Handles, 1)
}

func TestAddKeepsDistinctIDs(t *testing.T) {
	h := setupTest(t)
	p, _, err := h.svc.Add(context.Background(), []models.Medicine{{ID: "dup", Name: "A"}, {ID: "dup", Name: "B"}})
	require.NoError(t, err)
	assert.Equal(t, "dup", p.Medicines[0].ID)
	assert.NotEqual(t, "dup", p.Medicines[1].ID)
}

func TestDeleteCancelsReminders(t *testing.T) {
	h := setupTest(t)
	ctx := context.Background()

	p, _, err := h.svc.Add(ctx, []models.Medicine{{Name: "Metformin", Frequency: "three times"}})
	require.NoError(t, err)
	require.Equal(t, 3, h.provider.ActiveCount())

	h.provider.FailCancel = func(hd notify.Handle) error {
		if hd == notify.Handle(p.Medicines[0].Handles[0]) {
			return fmt.Errorf("gone")
		}
		return nil
	}
	require.NoError(t, h.svc.Delete(ctx, p.ID))
	assert.Len(t, h.provider.Cancelled, 3)

	list, err := h.svc.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)

	err = h.svc.Delete(ctx, p.ID)
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}

func TestDeleteTwoMedicinesCancelsFourHandles(t *testing.T) {
	h := setupTest(t)
	ctx := context.Background()

	p, _, err := h.svc.Add(ctx, []models.Medicine{
		{Name: "Metformin", Times: []string{"09:00", "21:00"}},
		{Name: "Paracetamol", Frequency: "Twice daily"},
	})
	require.NoError(t, err)
	require.Equal(t, 4, h.provider.ActiveCount())

	failing := notify.Handle(p.Medicines[1].Handles[0])
	h.provider.FailCancel = func(hd notify.Handle) error {
		if hd == failing {
			return fmt.Errorf("provider unavailable")
		}
		return nil
	}
	require.NoError(t, h.svc.Delete(ctx, p.ID))
	assert.Len(t, h.provider.Cancelled, 4)

	_, err = h.svc.Get(ctx, p.ID)
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}

func TestDeleteKeepsRemindersWhenStoreFails(t *testing.T) {
	h := setupTest(t)
	ctx := context.Background()

	p, _, err := h.svc.Add(ctx, []models.Medicine{{Name: "Metformin", Frequency: "twice"}})
	require.NoError(t, err)

	h.backend.failWrites.Store(true)
	err = h.svc.Delete(ctx, p.ID)
	assert.True(t, errors.Is(err, errors.ErrStoreIO))
	err = h.svc.DeleteMedicine(ctx, p.ID, p.Medicines[0].ID)
	assert.True(t, errors.Is(err, errors.ErrStoreIO))

	assert.Empty(t, h.provider.Cancelled)
	assert.Equal(t, 2, h.provider.ActiveCount())
	got, err := h.svc.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Len(t, got.Medicines[0].Handles, 2)
}

func TestDeleteMedicineKeepsPrescription(t *testing.T) {
	h := setupTest(t)
	ctx := context.Background()

	p, _, err := h.svc.Add(ctx, []models.Medicine{{Name: "A"}, {Name: "B"}})
	require.NoError(t, err)

	require.NoError(t, h.svc.DeleteMedicine(ctx, p.ID, p.Medicines[0].ID))
	got, err := h.svc.Get(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, got.Medicines, 1)
	assert.Equal(t, "B", got.Medicines[0].Name)
	assert.Equal(t, 1, h.provider.ActiveCount())

	require.NoError(t, h.svc.DeleteMedicine(ctx, p.ID, p.Medicines[1].ID))
	got, err = h.svc.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Empty(t, got.Medicines)

	err = h.svc.DeleteMedicine(ctx, p.ID, "missing")
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}

func TestUpdateMedicineRederivesTimes(t *testing.T) {
	h := setupTest(t)
	ctx := context.Background()

	p, _, err := h.svc.Add(ctx, []models.Medicine{{Name: "A", Duration: "5 days"}})
	require.NoError(t, err)
	med := p.Medicines[0]

	freq := "3 times a day"
	updated, results, err := h.svc.UpdateMedicine(ctx, p.ID, med.ID, MedicinePatch{Frequency: &freq})
	require.NoError(t, err)
	assert.Equal(t, "Three times daily", updated.Frequency)
	assert.Equal(t, []string{"09:00", "14:00", "21:00"}, updated.Times)
	assert.Len(t, results, 3)
	assert.Equal(t, 3, h.provider.ActiveCount())
	assert.Contains(t, h.provider.Cancelled, notify.Handle(med.Handles[0]))
	assert.True(t, med.EndDate.Equal(*updated.EndDate))

	updated, _, err = h.svc.UpdateMedicine(ctx, p.ID, med.ID, MedicinePatch{Times: []string{"07:15"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"07:15"}, updated.Times)
	assert.Equal(t, 1, h.provider.ActiveCount())

	_, _, err = h.svc.UpdateMedicine(ctx, p.ID, med.ID, MedicinePatch{Times: []string{"7pm"}})
	assert.True(t, errors.Is(err, errors.ErrValidation))
}

func TestSyncCourses(t *testing.T) {
	h := setupTest(t)
	ctx := context.Background()

	ended := fixedNow.Add(-time.Hour)
	require.NoError(t, h.store.UpdatePrescriptions(ctx, func([]models.Prescription) ([]models.Prescription, error) {
		return []models.Prescription{{
			ID: "p1",
			Medicines: []models.Medicine{
				{ID: "old", Name: "Old", Times: []string{"09:00"}, EndDate: &ended, Handles: []string{"stale-1"}},
				{ID: "cur", Name: "Current", Times: []string{"09:00", "21:00"}, Handles: []string{"stale-2"}},
			},
		}}, nil
	}))

	report, err := h.svc.SyncCourses(ctx)
	require.NoError(t, err)
	assert.Equal(t, SyncReport{Rearmed: 1, Ended: 1}, report)
	assert.Equal(t, []notify.Handle{"stale-1"}, h.provider.Cancelled)

	p, err := h.svc.Get(ctx, "p1")
	require.NoError(t, err)
	assert.Empty(t, p.Medicines[0].Handles)
	assert.Len(t, p.Medicines[1].Handles, 2)
	assert.NotContains(t, p.Medicines[1].Handles, "stale-2")
	assert.Equal(t, 2, h.provider.ActiveCount())
}

func TestSyncCoursesRollsBackOnStoreFailure(t *testing.T) {
	h := setupTest(t)
	ctx := context.Background()

	ended := fixedNow.Add(-time.Hour)
	require.NoError(t, h.store.UpdatePrescriptions(ctx, func([]models.Prescription) ([]models.Prescription, error) {
		return []models.Prescription{{
			ID: "p1",
			Medicines: []models.Medicine{
				{ID: "old", Name: "Old", Times: []string{"09:00"}, EndDate: &ended, Handles: []string{"stale-1"}},
				{ID: "cur", Name: "Current", Times: []string{"09:00", "21:00"}},
			},
		}}, nil
	}))

	h.backend.failWrites.Store(true)
	_, err := h.svc.SyncCourses(ctx)
	assert.True(t, errors.Is(err, errors.ErrStoreIO))
	assert.Zero(t, h.provider.ActiveCount())
	assert.NotContains(t, h.provider.Cancelled, notify.Handle("stale-1"))

	p, err := h.svc.Get(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, []string{"stale-1"}, p.Medicines[0].Handles)
	assert.Empty(t, p.Medicines[1].Handles)
}

func TestTodayAndAct(t *testing.T) {
	h := setupTest(t)
	ctx := context.Background()

	p, _, err := h.svc.Add(ctx, []models.Medicine{{Name: "Metformin", Times: []string{"09:00", "21:00"}}})
	require.NoError(t, err)
	medID := p.Medicines[0].ID

	out, err := h.svc.Act(ctx, medID, "9:00", escalation.Taken)
	require.NoError(t, err)
	assert.False(t, out.AlreadyTaken)
	assert.Equal(t, "Metformin (09:00 AM) marked as taken!", out.Message)

	groups, err := h.svc.Today(ctx)
	require.NoError(t, err)
	require.Len(t, groups, 3)
	assert.Equal(t, slots.Morning, groups[0].Category)
	require.Len(t, groups[0].Slots, 1)
	assert.True(t, groups[0].Slots[0].Taken)
	assert.Equal(t, p.ID, groups[0].Slots[0].PrescriptionID)
	assert.Empty(t, groups[1].Slots)
	require.Len(t, groups[2].Slots, 1)
	assert.False(t, groups[2].Slots[0].Taken)

	_, err = h.svc.Act(ctx, medID, "10:00", escalation.Taken)
	assert.True(t, errors.Is(err, errors.ErrNotFound))
	_, err = h.svc.Act(ctx, "nope", "09:00", escalation.Taken)
	assert.True(t, errors.Is(err, errors.ErrNotFound))
	_, err = h.svc.Act(ctx, medID, "09:00", escalation.Kind("snooze"))
	assert.True(t, errors.Is(err, errors.ErrValidation))
}

func TestActSkipEscalates(t *testing.T) {
	h := setupTest(t)
	ctx := context.Background()

	p, _, err := h.svc.Add(ctx, []models.Medicine{{Name: "Metformin", Times: []string{"21:00"}}})
	require.NoError(t, err)
	medID := p.Medicines[0].ID

	for i := 1; i <= 2; i++ {
		out, err := h.svc.Act(ctx, medID, "21:00", escalation.Skip)
		require.NoError(t, err)
		assert.Equal(t, i, out.SkipCount)
		assert.Equal(t, escalation.Escalating, out.State)
	}

	groups, err := h.svc.Today(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, groups[2].Slots[0].SkipCount)
	assert.Equal(t, escalation.Escalating, groups[2].Slots[0].State)

	out, err := h.svc.Act(ctx, medID, "21:00", escalation.Skip)
	require.NoError(t, err)
	assert.True(t, out.Alerted)
	assert.Equal(t, escalation.Normal, out.State)
	assert.Equal(t, 1, h.sender.calls)

	require.NoError(t, h.svc.DeleteMedicine(ctx, p.ID, medID))
	assert.Equal(t, escalation.Normal, h.svc.controller.State(medID))
}

func TestCourseDays(t *testing.T) {
	tests := map[string]int{
		"7":        7,
		"7 days":   7,
		" 2 weeks": 2,
		"Ongoing":  0,
		"":         0,
		"0":        0,
		"for 5":    0,
	}
	for in, want := range tests {
		assert.Equal(t, want, courseDays(in), in)
	}
}
