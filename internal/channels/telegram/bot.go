// Package telegram delivers reminders to a Telegram chat and turns the
// Taken/Postpone/Skip buttons back into dose actions.
package telegram

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/gmsas95/pillminder/internal/channels"
	"github.com/gmsas95/pillminder/internal/errors"
	"github.com/gmsas95/pillminder/internal/escalation"
	"github.com/gmsas95/pillminder/internal/models"
	"github.com/gmsas95/pillminder/internal/notify"
	"github.com/gmsas95/pillminder/internal/prescriptions"
	"github.com/gmsas95/pillminder/internal/security"
)

// Config holds Telegram bot configuration
type Config struct {
	Token     string
	Enabled   bool
	ChatID    int64   // Chat that receives reminders; learned from /start when zero
	AllowList []int64 // Allowed user IDs (empty = allow all)
}

// Bot represents a Telegram bot integration
type Bot struct {
	api       *tgbotapi.BotAPI
	engine    channels.Engine
	logger    *zap.Logger
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	enabled   bool
	allowList map[int64]bool

	chatMu sync.RWMutex
	chatID int64
}

// NewBot creates a new Telegram bot. A disabled or token-less config yields
// a bot whose methods are no-ops.
func NewBot(cfg Config, engine channels.Engine, logger *zap.Logger) (*Bot, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if !cfg.Enabled || cfg.Token == "" {
		return &Bot{enabled: false, logger: logger}, nil
	}

	api, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}
	api.Debug = false
	logger.Info("Telegram bot authorized", zap.String("username", api.Self.UserName))

	ctx, cancel := context.WithCancel(context.Background())

	allowList := make(map[int64]bool)
	for _, id := range cfg.AllowList {
		allowList[id] = true
	}

	return &Bot{
		api:       api,
		engine:    engine,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
		enabled:   true,
		allowList: allowList,
		chatID:    cfg.ChatID,
	}, nil
}

func (b *Bot) Enabled() bool {
	return b.enabled
}

// Start starts the bot
func (b *Bot) Start() error {
	if !b.enabled {
		return nil
	}

	b.wg.Add(1)
	go b.run()

	return nil
}

// Stop stops the bot
func (b *Bot) Stop() {
	if !b.enabled {
		return
	}

	b.api.StopReceivingUpdates()
	b.cancel()
	b.wg.Wait()
}

func (b *Bot) Name() string { return "telegram" }

// Deliver implements cron.Sink. Slot reminders carry action buttons;
// follow-ups are plain text since they are not bound to a slot.
func (b *Bot) Deliver(ctx context.Context, p notify.Payload) error {
	if !b.enabled {
		return nil
	}
	chatID := b.chat()
	if chatID == 0 {
		return errors.New(errors.CodePermissionDenied, "no telegram chat registered; send /start to the bot")
	}

	msg := tgbotapi.NewMessage(chatID, channels.FormatReminder(p))
	if kb, ok := ReminderKeyboard(p); ok {
		msg.ReplyMarkup = kb
	}

	done := make(chan error, 1)
	go func() {
		_, err := b.api.Send(msg)
		done <- err
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Bot) chat() int64 {
	b.chatMu.RLock()
	defer b.chatMu.RUnlock()
	return b.chatID
}

func (b *Bot) setChat(id int64) {
	b.chatMu.Lock()
	defer b.chatMu.Unlock()
	if b.chatID == 0 {
		b.chatID = id
		b.logger.Info("Telegram reminder chat registered", zap.Int64("chat_id", id))
	}
}

func (b *Bot) run() {
	defer b.wg.Done()

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)

	for {
		select {
		case <-b.ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			if err := b.handleUpdate(update); err != nil {
				b.logger.Error("Failed to handle update", zap.Error(err))
			}
		}
	}
}

func (b *Bot) allowed(userID int64) bool {
	return len(b.allowList) == 0 || b.allowList[userID]
}

func (b *Bot) handleUpdate(update tgbotapi.Update) error {
	if q := update.CallbackQuery; q != nil {
		if q.From == nil || !b.allowed(q.From.ID) {
			_, err := b.api.Request(tgbotapi.NewCallback(q.ID, "Not authorized"))
			return err
		}
		return b.handleCallback(q)
	}

	msg := update.Message
	if msg == nil || msg.From == nil {
		return nil
	}
	if !b.allowed(msg.From.ID) {
		return b.sendMessage(msg.Chat.ID, "You are not authorized to use this bot.")
	}
	if msg.IsCommand() {
		return b.handleCommand(msg)
	}
	return b.sendMessage(msg.Chat.ID, "Use /today to see your doses or /help for commands.")
}

const helpText = `Available commands:

/start - Receive reminders in this chat
/today - Show today's doses
/add <description> - Add a medicine, e.g. /add Metformin 500mg twice daily
/taken <medicineId> <HH:MM> - Mark a dose as taken
/postpone <medicineId> <HH:MM> - Remind again later
/skip <medicineId> <HH:MM> - Skip a dose
/help - Show this help`

func (b *Bot) handleCommand(msg *tgbotapi.Message) error {
	chatID := msg.Chat.ID
	ctx, cancel := context.WithTimeout(b.ctx, 30*time.Second)
	defer cancel()

	switch msg.Command() {
	case "start":
		b.setChat(chatID)
		return b.sendMessage(chatID, "Pillminder will send your medicine reminders here.\n\n"+helpText)

	case "help":
		return b.sendMessage(chatID, helpText)

	case "today":
		groups, err := b.engine.Today(ctx)
		if err != nil {
			return b.sendMessage(chatID, channels.ErrorText(err))
		}
		return b.sendMessage(chatID, channels.FormatToday(groups))

	case "add":
		return b.handleAdd(ctx, chatID, msg.CommandArguments())

	case "taken", "postpone", "skip":
		kind := escalation.Kind(msg.Command())
		cmd, err := channels.ParseActionArgs(kind, msg.CommandArguments())
		if err != nil {
			return b.sendMessage(chatID, channels.ErrorText(err))
		}
		out, err := b.engine.Act(ctx, cmd.MedicineID, cmd.Time, cmd.Kind)
		if err != nil {
			return b.sendMessage(chatID, channels.ErrorText(err))
		}
		return b.sendMessage(chatID, out.Message)

	default:
		return b.sendMessage(chatID, "Unknown command. Use /help for available commands.")
	}
}

func (b *Bot) handleAdd(ctx context.Context, chatID int64, text string) error {
	text = security.Clean(text)
	if text == "" {
		return b.sendMessage(chatID, "Usage: /add Metformin 500mg twice daily for 10 days")
	}
	if err := security.ValidateInput(text); err != nil {
		return b.sendMessage(chatID, err.Error())
	}

	draft := prescriptions.ParseDraft(text)
	p, results, err := b.engine.Add(ctx, []models.Medicine{draft})
	if err != nil {
		return b.sendMessage(chatID, channels.ErrorText(err))
	}
	med := p.Medicines[0]
	reply := fmt.Sprintf("Added %s (%s, %s) at %s.", med.Name, med.Dosage, med.Frequency, strings.Join(med.Times, ", "))
	if n := notify.Failed(results); n > 0 {
		reply += fmt.Sprintf("\n%d reminder(s) could not be scheduled.", n)
	}
	return b.sendMessage(chatID, reply)
}

func (b *Bot) handleCallback(q *tgbotapi.CallbackQuery) error {
	ctx, cancel := context.WithTimeout(b.ctx, 30*time.Second)
	defer cancel()

	kind, medicineID, hhmm, err := ParseCallback(q.Data)
	var text string
	if err != nil {
		text = channels.ErrorText(err)
	} else if out, err := b.engine.Act(ctx, medicineID, hhmm, kind); err != nil {
		text = channels.ErrorText(err)
	} else {
		text = out.Message
	}

	if _, err := b.api.Request(tgbotapi.NewCallback(q.ID, text)); err != nil {
		return err
	}
	if q.Message == nil {
		return nil
	}
	edit := tgbotapi.NewEditMessageText(q.Message.Chat.ID, q.Message.MessageID, q.Message.Text+"\n\n"+text)
	_, err = b.api.Send(edit)
	return err
}

func (b *Bot) sendMessage(chatID int64, text string) error {
	if len(text) > 4096 {
		text = text[:4093] + "..."
	}
	_, err := b.api.Send(tgbotapi.NewMessage(chatID, text))
	return err
}
