package telegram

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gmsas95/pillminder/internal/errors"
	"github.com/gmsas95/pillminder/internal/escalation"
	"github.com/gmsas95/pillminder/internal/notify"
)

func TestCallbackRoundTrip(t *testing.T) {
	data := CallbackData(escalation.Postpone, "3f1c9a7e-8d2b-4b61-9a55-0c7d2e4f6a10", "21:00")
	assert.Equal(t, "postpone|3f1c9a7e-8d2b-4b61-9a55-0c7d2e4f6a10|21:00", data)
	assert.LessOrEqual(t, len(data), maxCallbackData)

	kind, med, hhmm, err := ParseCallback(data)
	require.NoError(t, err)
	assert.Equal(t, escalation.Postpone, kind)
	assert.Equal(t, "3f1c9a7e-8d2b-4b61-9a55-0c7d2e4f6a10", med)
	assert.Equal(t, "21:00", hhmm)
}

func TestParseCallbackRejectsGarbage(t *testing.T) {
	for _, data := range []string{"", "taken", "taken|m1", "taken||09:00", "snooze|m1|09:00"} {
		_, _, _, err := ParseCallback(data)
		assert.True(t, errors.Is(err, errors.ErrValidation), data)
	}
}

func TestReminderKeyboard(t *testing.T) {
	kb, ok := ReminderKeyboard(notify.Payload{MedicineID: "m1", Time: "09:00"})
	require.True(t, ok)
	require.Len(t, kb.InlineKeyboard, 1)
	row := kb.InlineKeyboard[0]
	require.Len(t, row, 3)
	assert.Equal(t, "Taken", row[0].Text)
	require.NotNil(t, row[0].CallbackData)
	assert.Equal(t, "taken|m1|09:00", *row[0].CallbackData)
	assert.Equal(t, "skip|m1|09:00", *row[2].CallbackData)

	_, ok = ReminderKeyboard(notify.Payload{MedicineID: "m1", FollowUp: true})
	assert.False(t, ok)

	_, ok = ReminderKeyboard(notify.Payload{MedicineID: strings.Repeat("x", 60), Time: "09:00"})
	assert.False(t, ok)
}

func TestDisabledBotIsNoop(t *testing.T) {
	b, err := NewBot(Config{Enabled: false}, nil, nil)
	require.NoError(t, err)
	assert.False(t, b.Enabled())
	assert.NoError(t, b.Start())
	assert.NoError(t, b.Deliver(context.Background(), notify.Payload{MedicineID: "m1"}))
	b.Stop()
}
