// Package adherence records dose outcomes and tracks per-medicine skip counts.
package adherence

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/gmsas95/pillminder/internal/models"
	"github.com/gmsas95/pillminder/internal/store"
)

// Clock returns the current time. Tests inject a fixed one.
type Clock func() time.Time

type Tracker struct {
	store *store.Store
	now   Clock
}

func NewTracker(st *store.Store, now Clock) *Tracker {
	if now == nil {
		now = time.Now
	}
	return &Tracker{store: st, now: now}
}

// Append prepends a new entry to the log and returns it.
func (t *Tracker) Append(ctx context.Context, medicineID, slotKey string, status models.Status) (models.LogEntry, error) {
	entry := models.LogEntry{
		ID:         uuid.NewString(),
		MedicineID: medicineID,
		SlotKey:    slotKey,
		Status:     status,
		Timestamp:  t.now(),
	}
	err := t.store.UpdateAdherenceLog(ctx, func(entries []models.LogEntry) ([]models.LogEntry, error) {
		next := make([]models.LogEntry, 0, len(entries)+1)
		next = append(next, entry)
		return append(next, entries...), nil
	})
	if err != nil {
		return models.LogEntry{}, err
	}
	return entry, nil
}

// Entries returns the log, newest first.
func (t *Tracker) Entries(ctx context.Context) ([]models.LogEntry, error) {
	return t.store.AdherenceLog(ctx)
}

func (t *Tracker) SkipCounts(ctx context.Context) (map[string]int, error) {
	return t.store.SkipCounts(ctx)
}

// IncrementSkip bumps the counter for medicineID and returns the new value.
func (t *Tracker) IncrementSkip(ctx context.Context, medicineID string) (int, error) {
	var n int
	err := t.store.UpdateSkipCounts(ctx, func(counts map[string]int) error {
		counts[medicineID]++
		n = counts[medicineID]
		return nil
	})
	return n, err
}

func (t *Tracker) ResetSkip(ctx context.Context, medicineID string) error {
	return t.store.UpdateSkipCounts(ctx, func(counts map[string]int) error {
		counts[medicineID] = 0
		return nil
	})
}

// Forget drops the counter of a deleted medicine.
func (t *Tracker) Forget(ctx context.Context, medicineID string) error {
	return t.store.UpdateSkipCounts(ctx, func(counts map[string]int) error {
		delete(counts, medicineID)
		return nil
	})
}

func (t *Tracker) Now() time.Time {
	return t.now()
}

func sameDay(a, b time.Time) bool {
	a = a.In(b.Location())
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// matches reports whether e refers to the slot. Legacy entries carry only a
// medicine id and count for every slot of that medicine.
func matches(e models.LogEntry, medicineID, slotKey string) bool {
	ref := e.Ref()
	switch ref.Kind {
	case models.RefSlot:
		return ref.Key == slotKey
	case models.RefLegacyMedicine:
		return ref.Key == medicineID
	}
	return false
}

// IsTakenToday reports whether a taken entry for the slot exists on the
// calendar day of today, in today's location.
func IsTakenToday(medicineID, slotKey string, entries []models.LogEntry, today time.Time) bool {
	for _, e := range entries {
		if e.Status == models.StatusTaken && sameDay(e.Timestamp, today) && matches(e, medicineID, slotKey) {
			return true
		}
	}
	return false
}

// TakenSet holds the refs taken on one day.
type TakenSet map[models.SlotRef]bool

// TakenToday builds the set of slot keys and legacy medicine ids taken today.
func TakenToday(entries []models.LogEntry, today time.Time) TakenSet {
	set := TakenSet{}
	for _, e := range entries {
		if e.Status == models.StatusTaken && sameDay(e.Timestamp, today) {
			set[e.Ref()] = true
		}
	}
	return set
}

// Has applies the same rule as IsTakenToday against the precomputed set.
func (s TakenSet) Has(medicineID, slotKey string) bool {
	return s[models.SlotRef{Kind: models.RefSlot, Key: slotKey}] ||
		s[models.SlotRef{Kind: models.RefLegacyMedicine, Key: medicineID}]
}

// CountStatus tallies entries with the given status.
func CountStatus(entries []models.LogEntry, status models.Status) int {
	n := 0
	for _, e := range entries {
		if e.Status == status {
			n++
		}
	}
	return n
}
