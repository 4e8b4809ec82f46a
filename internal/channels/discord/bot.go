// Package discord posts reminders to a Discord channel and accepts dose
// commands from it.
package discord

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"github.com/gmsas95/pillminder/internal/channels"
	"github.com/gmsas95/pillminder/internal/escalation"
	"github.com/gmsas95/pillminder/internal/notify"
)

// Config holds Discord bot configuration
type Config struct {
	Token     string
	Enabled   bool
	ChannelID string // Channel that receives reminders and commands
}

// Bot represents a Discord bot instance
type Bot struct {
	session *discordgo.Session
	engine  channels.Engine
	config  Config
	logger  *zap.Logger
	enabled bool
}

// NewBot creates a new Discord bot. A disabled or token-less config yields a
// bot whose methods are no-ops.
func NewBot(cfg Config, engine channels.Engine, logger *zap.Logger) (*Bot, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if !cfg.Enabled || cfg.Token == "" {
		return &Bot{config: cfg, engine: engine, logger: logger}, nil
	}
	if cfg.ChannelID == "" {
		return nil, fmt.Errorf("discord channel_id is required")
	}

	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to create discord session: %w", err)
	}

	bot := &Bot{
		session: session,
		engine:  engine,
		config:  cfg,
		logger:  logger,
		enabled: true,
	}

	session.AddHandler(bot.messageCreate)
	session.AddHandler(bot.ready)
	session.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsMessageContent

	return bot, nil
}

func (b *Bot) Enabled() bool {
	return b.enabled
}

// Start starts the Discord bot
func (b *Bot) Start() error {
	if !b.enabled {
		return nil
	}
	if err := b.session.Open(); err != nil {
		return fmt.Errorf("failed to open discord connection: %w", err)
	}
	return nil
}

// Stop stops the Discord bot
func (b *Bot) Stop() error {
	if !b.enabled {
		return nil
	}
	return b.session.Close()
}

func (b *Bot) Name() string { return "discord" }

// Deliver implements cron.Sink.
func (b *Bot) Deliver(ctx context.Context, p notify.Payload) error {
	if !b.enabled {
		return nil
	}
	text := channels.FormatReminder(p)
	if p.Time != "" {
		text += fmt.Sprintf("\nReply `!taken %s %s`, `!postpone ...` or `!skip ...`", p.MedicineID, p.Time)
	}
	_, err := b.session.ChannelMessageSend(b.config.ChannelID, text, discordgo.WithContext(ctx))
	return err
}

func (b *Bot) ready(s *discordgo.Session, event *discordgo.Ready) {
	b.logger.Info("Discord bot ready",
		zap.String("username", event.User.Username),
		zap.Int("guilds", len(event.Guilds)),
	)
}

func (b *Bot) messageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.ID == s.State.User.ID {
		return
	}
	if m.ChannelID != b.config.ChannelID {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	reply, ok := b.reply(ctx, strings.TrimSpace(m.Content))
	if !ok {
		return
	}
	for _, part := range splitMessage(reply, 2000) {
		if _, err := s.ChannelMessageSend(m.ChannelID, part); err != nil {
			b.logger.Warn("Failed to send discord message", zap.Error(err))
			return
		}
	}
}

const helpText = "**Pillminder**\n" +
	"`!today` - Show today's doses\n" +
	"`!taken <medicineId> <HH:MM>` - Mark a dose as taken\n" +
	"`!postpone <medicineId> <HH:MM>` - Remind again later\n" +
	"`!skip <medicineId> <HH:MM>` - Skip a dose\n" +
	"`!help` - Show this help"

// reply answers a "!" command. It reports false for messages that are not
// commands.
func (b *Bot) reply(ctx context.Context, content string) (string, bool) {
	if !strings.HasPrefix(content, "!") {
		return "", false
	}
	command, args, _ := strings.Cut(strings.TrimPrefix(content, "!"), " ")

	switch strings.ToLower(command) {
	case "help":
		return helpText, true

	case "today":
		groups, err := b.engine.Today(ctx)
		if err != nil {
			return channels.ErrorText(err), true
		}
		return channels.FormatToday(groups), true

	case "taken", "postpone", "skip":
		cmd, err := channels.ParseActionArgs(escalation.Kind(strings.ToLower(command)), args)
		if err != nil {
			return channels.ErrorText(err), true
		}
		out, err := b.engine.Act(ctx, cmd.MedicineID, cmd.Time, cmd.Kind)
		if err != nil {
			return channels.ErrorText(err), true
		}
		return out.Message, true

	default:
		return "Unknown command. Use `!help` for available commands.", true
	}
}

// splitMessage splits a message into chunks under max length
func splitMessage(text string, maxLen int) []string {
	var parts []string
	lines := strings.Split(text, "\n")
	var current strings.Builder

	for _, line := range lines {
		if current.Len()+len(line)+1 > maxLen {
			if current.Len() > 0 {
				parts = append(parts, current.String())
				current.Reset()
			}
		}
		if current.Len() > 0 {
			current.WriteString("\n")
		}
		current.WriteString(line)
	}

	if current.Len() > 0 {
		parts = append(parts, current.String())
	}

	return parts
}
