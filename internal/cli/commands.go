package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/gmsas95/pillminder/internal/config"
	"github.com/gmsas95/pillminder/internal/escalation"
	"github.com/gmsas95/pillminder/internal/models"
)

var Version = "dev"

// CLI runs the client-side commands against a server.
type CLI struct {
	client *Client
	render *Renderer
	out    io.Writer
}

func New(client *Client, out io.Writer, color bool) *CLI {
	return &CLI{client: client, render: NewRenderer(out, color), out: out}
}

// Handles reports whether cmd is a client command this package runs.
func Handles(cmd string) bool {
	switch cmd {
	case "today", "stats", "list", "ls", "take", "taken", "postpone", "skip", "delete", "rm", "import", "add":
		return true
	}
	return false
}

// Run executes one command.
func (c *CLI) Run(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "today":
		t, err := c.client.Today(ctx)
		if err != nil {
			return err
		}
		c.render.Today(t)

	case "stats":
		rep, err := c.client.Dashboard(ctx)
		if err != nil {
			return err
		}
		c.render.Stats(rep)

	case "list", "ls":
		list, err := c.client.Prescriptions(ctx)
		if err != nil {
			return err
		}
		c.render.Prescriptions(list)

	case "take", "taken":
		return c.act(ctx, escalation.Taken, args)
	case "postpone":
		return c.act(ctx, escalation.Postpone, args)
	case "skip":
		return c.act(ctx, escalation.Skip, args)

	case "delete", "rm":
		if len(args) != 1 {
			return fmt.Errorf("usage: pillminder delete <prescriptionId>")
		}
		if err := c.client.Delete(ctx, args[0]); err != nil {
			return err
		}
		fmt.Fprintf(c.out, "Deleted prescription %s and its reminders\n", args[0])

	case "import":
		if len(args) != 1 {
			return fmt.Errorf("usage: pillminder import <file.yaml>")
		}
		f, err := ReadImport(args[0])
		if err != nil {
			return err
		}
		return c.importBatches(ctx, f.Batches())

	case "add":
		text := strings.TrimSpace(strings.Join(args, " "))
		if text == "" {
			return fmt.Errorf("usage: pillminder add \"Metformin 500mg twice daily for 10 days\"")
		}
		draft, err := c.client.ParseDraft(ctx, text)
		if err != nil {
			return err
		}
		res, err := c.client.Add(ctx, []models.Medicine{draft})
		if err != nil {
			return err
		}
		c.render.Added(res)

	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
	return nil
}

func (c *CLI) act(ctx context.Context, kind escalation.Kind, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: pillminder %s <medicineId> <HH:MM>", kind)
	}
	out, err := c.client.Act(ctx, args[0], args[1], kind)
	if err != nil {
		return err
	}
	c.render.Outcome(out)
	return nil
}

// importBatches creates one prescription per batch and stops at the first
// rejected one.
func (c *CLI) importBatches(ctx context.Context, batches [][]models.Medicine) error {
	for i, meds := range batches {
		res, err := c.client.Add(ctx, meds)
		if err != nil {
			return fmt.Errorf("prescription %d of %d: %w", i+1, len(batches), err)
		}
		c.render.Added(res)
	}
	return nil
}

// Status prints configuration and whether the server answers.
func Status(ctx context.Context, cfg *config.Config, client *Client, out io.Writer) {
	fmt.Fprintln(out, "Pillminder Status")
	fmt.Fprintln(out, "=================")
	fmt.Fprintf(out, "Version: %s\n", Version)
	fmt.Fprintf(out, "Config:  %s\n", cfg.Path())
	fmt.Fprintf(out, "Data:    %s (%s)\n", cfg.Storage.DataDir, cfg.Storage.Driver)
	fmt.Fprintln(out)

	fmt.Fprintf(out, "Server:  %s\n", cfg.BaseURL())
	if h, err := client.Health(ctx); err != nil {
		fmt.Fprintf(out, "  %s\n", channelStatus(false))
	} else {
		fmt.Fprintf(out, "  %s (version %s, scheduler running: %t)\n", channelStatus(true), h.Version, h.Scheduler)
	}
	fmt.Fprintln(out)

	fmt.Fprintln(out, "Channels:")
	fmt.Fprintf(out, "  Telegram: %s\n", channelStatus(cfg.Channels.Telegram.Enabled))
	if cfg.Channels.Telegram.Enabled {
		fmt.Fprintf(out, "    Bot Token: %s\n", maskToken(cfg.Channels.Telegram.BotToken))
		fmt.Fprintf(out, "    Allow List: %d users\n", len(cfg.Channels.Telegram.AllowList))
	}
	fmt.Fprintf(out, "  Discord:  %s\n", channelStatus(cfg.Channels.Discord.Enabled))
	if cfg.Channels.Discord.Enabled {
		fmt.Fprintf(out, "    Token: %s\n", maskToken(cfg.Channels.Discord.Token))
	}
	fmt.Fprintln(out)

	fmt.Fprintln(out, "Caretaker alerts:")
	fmt.Fprintf(out, "  Endpoint: %s\n", cfg.Alert.Endpoint)
	fmt.Fprintf(out, "  Relay:    %s\n", channelStatus(cfg.Alert.RelayEnabled))
	if cfg.Alert.RelayEnabled {
		mode := "simulated"
		if cfg.Alert.SMTP.Configured() {
			mode = fmt.Sprintf("smtp %s:%d as %s", cfg.Alert.SMTP.Host, cfg.Alert.SMTP.Port, cfg.Alert.SMTP.User)
		}
		fmt.Fprintf(out, "  Mail:     %s\n", mode)
	}
}

func channelStatus(enabled bool) string {
	if enabled {
		return "✅ enabled"
	}
	return "❌ disabled"
}

func maskToken(token string) string {
	if len(token) < 8 {
		return "***"
	}
	return token[:4] + "..." + token[len(token)-4:]
}

func PrintHelp(w io.Writer) {
	fmt.Fprint(w, `Pillminder - medication reminders and adherence tracking

Usage:
  pillminder <command> [arguments]

Server:
  serve                          Run the reminder engine and HTTP API
  status                         Show configuration and server health

Doses:
  today                          Show today's doses by time of day
  take <medicineId> <HH:MM>      Mark a dose as taken
  postpone <medicineId> <HH:MM>  Remind again in a few minutes
  skip <medicineId> <HH:MM>      Skip a dose (repeated skips alert the caretaker)
  stats                          Show adherence statistics and tips

Prescriptions:
  list                           List prescriptions and their medicines
  add "<text>"                   Add a medicine from a line like "Metformin 500mg twice daily"
  import <file.yaml>             Add prescriptions from a YAML file
  delete <prescriptionId>        Delete a prescription and cancel its reminders

Other:
  version                        Print the version
  help                           Show this help

Flags (before the command):
  -config <path>                 Config file (default <data>/pillminder.yaml)
  -data <dir>                    Data directory
  -server <url>                  Server URL for client commands
`)
}
