package telegram

import (
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/gmsas95/pillminder/internal/channels"
	"github.com/gmsas95/pillminder/internal/errors"
	"github.com/gmsas95/pillminder/internal/escalation"
	"github.com/gmsas95/pillminder/internal/notify"
)

// maxCallbackData is Telegram's limit on callback payloads.
const maxCallbackData = 64

// CallbackData encodes a button as "<action>|<medicineId>|<HH:MM>".
func CallbackData(kind escalation.Kind, medicineID, hhmm string) string {
	return strings.Join([]string{string(kind), medicineID, hhmm}, "|")
}

func ParseCallback(data string) (escalation.Kind, string, string, error) {
	parts := strings.Split(data, "|")
	if len(parts) != 3 || parts[1] == "" || parts[2] == "" {
		return "", "", "", errors.New(errors.CodeValidation, fmt.Sprintf("malformed button data %q", data))
	}
	kind, err := escalation.ParseKind(parts[0])
	if err != nil {
		return "", "", "", err
	}
	return kind, parts[1], parts[2], nil
}

// ReminderKeyboard builds the Taken/Postpone/Skip row for a slot reminder.
// It reports false for payloads without a slot or ids too long to encode.
func ReminderKeyboard(p notify.Payload) (tgbotapi.InlineKeyboardMarkup, bool) {
	if p.Time == "" || p.MedicineID == "" {
		return tgbotapi.InlineKeyboardMarkup{}, false
	}

	row := make([]tgbotapi.InlineKeyboardButton, 0, len(channels.Actions))
	for _, kind := range channels.Actions {
		data := CallbackData(kind, p.MedicineID, p.Time)
		if len(data) > maxCallbackData {
			return tgbotapi.InlineKeyboardMarkup{}, false
		}
		row = append(row, tgbotapi.NewInlineKeyboardButtonData(channels.ActionLabel(kind), data))
	}
	return tgbotapi.NewInlineKeyboardMarkup(row), true
}
