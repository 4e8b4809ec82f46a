// Package channels holds what the chat integrations share: the engine they
// drive and the plain-text rendering of reminders and schedules.
package channels

import (
	"context"
	"fmt"
	"strings"

	"github.com/gmsas95/pillminder/internal/errors"
	"github.com/gmsas95/pillminder/internal/escalation"
	"github.com/gmsas95/pillminder/internal/models"
	"github.com/gmsas95/pillminder/internal/notify"
	"github.com/gmsas95/pillminder/internal/prescriptions"
	"github.com/gmsas95/pillminder/internal/security"
)

// Engine is the part of prescriptions.Service a chat bot drives.
type Engine interface {
	Act(ctx context.Context, medicineID, hhmm string, kind escalation.Kind) (escalation.Outcome, error)
	Today(ctx context.Context) ([]prescriptions.Group, error)
	Add(ctx context.Context, drafts []models.Medicine) (models.Prescription, []notify.Result, error)
}

var actionLabels = map[escalation.Kind]string{
	escalation.Taken:    "Taken",
	escalation.Postpone: "Postpone",
	escalation.Skip:     "Skip",
}

// Actions lists the dose actions in button order.
var Actions = []escalation.Kind{escalation.Taken, escalation.Postpone, escalation.Skip}

func ActionLabel(k escalation.Kind) string {
	return actionLabels[k]
}

// FormatReminder renders a fired reminder.
func FormatReminder(p notify.Payload) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n%s", p.Title, p.Body)
	if p.Time != "" {
		fmt.Fprintf(&b, " (%s)", p.Time)
	}
	return b.String()
}

// FormatToday renders today's schedule, one line per slot.
func FormatToday(groups []prescriptions.Group) string {
	var b strings.Builder
	total := 0
	for _, g := range groups {
		if len(g.Slots) == 0 {
			continue
		}
		fmt.Fprintf(&b, "%s\n", g.Category)
		for _, s := range g.Slots {
			mark := "[ ]"
			if s.Taken {
				mark = "[x]"
			}
			fmt.Fprintf(&b, "%s %s %s - %s", mark, s.Time, s.MedicineName, s.Dosage)
			if s.SkipCount > 0 {
				fmt.Fprintf(&b, " (skipped %d)", s.SkipCount)
			}
			fmt.Fprintf(&b, "  id:%s\n", s.MedicineID)
			total++
		}
	}
	if total == 0 {
		return "No doses scheduled for today."
	}
	return strings.TrimRight(b.String(), "\n")
}

// Command is a parsed "<action> <medicineId> <HH:MM>" chat command.
type Command struct {
	Kind       escalation.Kind
	MedicineID string
	Time       string
}

// ParseActionArgs parses the arguments following an action command.
func ParseActionArgs(kind escalation.Kind, args string) (Command, error) {
	fields := strings.Fields(args)
	if len(fields) != 2 {
		return Command{}, errors.New(errors.CodeValidation,
			fmt.Sprintf("usage: %s <medicineId> <HH:MM>", kind))
	}
	return Command{Kind: kind, MedicineID: fields[0], Time: fields[1]}, nil
}

// ErrorText turns an engine error into something safe to show in chat.
func ErrorText(err error) string {
	var verr *security.ValidationError
	if errors.As(err, &verr) {
		return verr.Error()
	}
	var appErr *errors.AppError
	if errors.As(err, &appErr) && appErr.Code != errors.CodeInternal && appErr.Code != errors.CodeStoreIO {
		return appErr.Message
	}
	return "Something went wrong, please try again."
}
