// Package models holds the persisted records shared across the engine.
package models

import "time"

// Status is the outcome recorded for a dose.
type Status string

// StatusPostponed may appear in stored logs but no dose action appends it;
// postponing is tracked by the skip counter.
const (
	StatusTaken     Status = "taken"
	StatusMissed    Status = "missed"
	StatusPostponed Status = "postponed"
)

// Medicine is one drug inside a prescription. Times, when non-empty, overrides
// the frequency defaults.
type Medicine struct {
	ID        string     `json:"id" yaml:"id"`
	Name      string     `json:"name" yaml:"name" validate:"required,notblank"`
	Dosage    string     `json:"dosage" yaml:"dosage"`
	Frequency string     `json:"frequency" yaml:"frequency"`
	Times     []string   `json:"times,omitempty" yaml:"times" validate:"omitempty,dive,hhmm"`
	Duration  string     `json:"duration" yaml:"duration"`
	StartDate *time.Time `json:"startDate,omitempty" yaml:"-"`
	EndDate   *time.Time `json:"endDate,omitempty" yaml:"-"`
	Handles   []string   `json:"notificationIds,omitempty" yaml:"-"`
}

// Active reports whether the course has not ended at now.
func (m Medicine) Active(now time.Time) bool {
	return m.EndDate == nil || !m.EndDate.Before(now)
}

type Prescription struct {
	ID        string     `json:"id"`
	CreatedAt time.Time  `json:"uploadDate"`
	Medicines []Medicine `json:"medicines"`
}

// LogEntry is an immutable adherence record. Entries written before slot-level
// tracking carry no SlotKey and only identify the medicine.
type LogEntry struct {
	ID         string    `json:"id"`
	MedicineID string    `json:"medicineId"`
	SlotKey    string    `json:"slotKey,omitempty"`
	Status     Status    `json:"status"`
	Timestamp  time.Time `json:"timestamp"`
}

type RefKind int

const (
	RefSlot RefKind = iota
	RefLegacyMedicine
)

// SlotRef identifies what a log entry refers to.
type SlotRef struct {
	Kind RefKind
	Key  string
}

// Ref resolves the entry to a slot key, falling back to the medicine id for
// legacy entries.
func (e LogEntry) Ref() SlotRef {
	if e.SlotKey != "" {
		return SlotRef{Kind: RefSlot, Key: e.SlotKey}
	}
	return SlotRef{Kind: RefLegacyMedicine, Key: e.MedicineID}
}

// Profile holds the user and caretaker contact details used for alerts.
type Profile struct {
	Name           string `json:"name" yaml:"name"`
	Email          string `json:"email" yaml:"email" validate:"required,email"`
	CaretakerEmail string `json:"caretakerEmail" yaml:"caretaker_email" validate:"required,email,nefield=Email"`
}

// HasCaretaker reports whether an alert can be addressed.
func (p Profile) HasCaretaker() bool {
	return p.CaretakerEmail != ""
}
