package channels

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gmsas95/pillminder/internal/errors"
	"github.com/gmsas95/pillminder/internal/escalation"
	"github.com/gmsas95/pillminder/internal/notify"
	"github.com/gmsas95/pillminder/internal/prescriptions"
	"github.com/gmsas95/pillminder/internal/slots"
)

func TestFormatReminder(t *testing.T) {
	p := notify.Payload{Title: "Time for Metformin", Body: "500mg", Time: "09:00"}
	assert.Equal(t, "Time for Metformin\n500mg (09:00)", FormatReminder(p))

	p.Time = ""
	assert.Equal(t, "Time for Metformin\n500mg", FormatReminder(p))
}

func TestFormatToday(t *testing.T) {
	empty := []prescriptions.Group{{Category: slots.Morning}, {Category: slots.Afternoon}, {Category: slots.Night}}
	assert.Equal(t, "No doses scheduled for today.", FormatToday(empty))

	groups := []prescriptions.Group{
		{Category: slots.Morning, Slots: []prescriptions.DoseSlot{
			{Slot: slots.Slot{MedicineID: "m1", MedicineName: "Metformin", Dosage: "500mg", Time: "09:00"}, Taken: true},
		}},
		{Category: slots.Afternoon},
		{Category: slots.Night, Slots: []prescriptions.DoseSlot{
			{Slot: slots.Slot{MedicineID: "m2", MedicineName: "Aspirin", Dosage: "75mg", Time: "21:00"}, SkipCount: 2},
		}},
	}
	want := "morning\n" +
		"[x] 09:00 Metformin - 500mg  id:m1\n" +
		"night\n" +
		"[ ] 21:00 Aspirin - 75mg (skipped 2)  id:m2"
	assert.Equal(t, want, FormatToday(groups))
}

func TestParseActionArgs(t *testing.T) {
	cmd, err := ParseActionArgs(escalation.Skip, "  m1   21:00 ")
	require.NoError(t, err)
	assert.Equal(t, Command{Kind: escalation.Skip, MedicineID: "m1", Time: "21:00"}, cmd)

	for _, args := range []string{"", "m1", "m1 21:00 extra"} {
		_, err := ParseActionArgs(escalation.Taken, args)
		assert.True(t, errors.Is(err, errors.ErrValidation), args)
	}
}

func TestErrorText(t *testing.T) {
	assert.Equal(t, "medicine not found", ErrorText(errors.New(errors.CodeNotFound, "medicine not found")))
	assert.Equal(t, "Something went wrong, please try again.", ErrorText(errors.New(errors.CodeStoreIO, "disk full")))
	assert.Equal(t, "Something went wrong, please try again.", ErrorText(fmt.Errorf("boom")))
}

func TestActionLabels(t *testing.T) {
	require.Len(t, Actions, 3)
	for _, k := range Actions {
		assert.NotEmpty(t, ActionLabel(k))
	}
}
