package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/gmsas95/pillminder/internal/dashboard"
	"github.com/gmsas95/pillminder/internal/escalation"
	"github.com/gmsas95/pillminder/internal/models"
	"github.com/gmsas95/pillminder/internal/slots"
)

var (
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	takenStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	pendingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	alertStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
	dimStyle     = lipgloss.NewStyle().Faint(true)
	boxStyle     = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

var categoryTitles = map[slots.Category]string{
	slots.Morning:   "Morning",
	slots.Afternoon: "Afternoon",
	slots.Night:     "Night",
}

// Renderer writes command output, styled only when color is on.
type Renderer struct {
	w     io.Writer
	color bool
}

func NewRenderer(w io.Writer, color bool) *Renderer {
	return &Renderer{w: w, color: color}
}

// ColorEnabled reports whether stdout is a terminal that wants color.
func ColorEnabled() bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	return term.IsTerminal(int(os.Stdout.Fd()))
}

func (r *Renderer) paint(style lipgloss.Style, s string) string {
	if !r.color {
		return s
	}
	return style.Render(s)
}

func (r *Renderer) println(s string) {
	fmt.Fprintln(r.w, s)
}

func (r *Renderer) Today(t TodayResponse) {
	r.println(r.paint(headerStyle, "Today "+t.Date))

	total := 0
	for _, g := range t.Groups {
		if len(g.Slots) == 0 {
			continue
		}
		r.println("")
		r.println(r.paint(headerStyle, categoryTitles[g.Category]))
		for _, s := range g.Slots {
			total++
			mark := r.paint(pendingStyle, "[ ]")
			if s.Taken {
				mark = r.paint(takenStyle, "[x]")
			}
			line := fmt.Sprintf("%s %s  %s %s", mark, s.Label, s.MedicineName, r.paint(dimStyle, s.Dosage))
			if s.SkipCount > 0 {
				line += " " + r.paint(alertStyle, fmt.Sprintf("skipped %d", s.SkipCount))
			}
			r.println(line)
			r.println(r.paint(dimStyle, fmt.Sprintf("      %s %s", s.MedicineID, s.Time)))
		}
	}
	if total == 0 {
		r.println("No doses scheduled for today.")
	}
}

func (r *Renderer) Stats(rep dashboard.Report) {
	s := rep.Stats
	style := takenStyle
	switch rep.Band {
	case dashboard.Fair:
		style = pendingStyle
	case dashboard.Poor:
		style = alertStyle
	}

	lines := []string{
		r.paint(headerStyle, "Adherence"),
		fmt.Sprintf("Score:     %s", r.paint(style, fmt.Sprintf("%d%%", s.Percentage))),
		fmt.Sprintf("Scheduled: %d", s.TotalScheduled),
		fmt.Sprintf("Taken:     %d", s.TotalTaken),
		fmt.Sprintf("Missed:    %d", s.TotalMissed),
		fmt.Sprintf("Remaining: %d", s.Remaining),
		"",
		fmt.Sprintf("Today: %d/%d taken, %d pending, %d escalating",
			rep.Today.Taken, rep.Today.TotalSlots, rep.Today.Pending, rep.Today.Escalating),
	}
	block := strings.Join(lines, "\n")
	if r.color {
		block = boxStyle.Render(block)
	}
	r.println(block)

	for _, tip := range rep.Tips {
		r.println("- " + tip.Text)
	}
}

func (r *Renderer) Prescriptions(list []models.Prescription) {
	if len(list) == 0 {
		r.println("No prescriptions. Add one with: pillminder add \"Metformin 500mg twice daily\"")
		return
	}
	for _, p := range list {
		r.println(r.paint(headerStyle, fmt.Sprintf("%s  %s", p.ID, p.CreatedAt.Format("2006-01-02"))))
		for _, m := range p.Medicines {
			r.println(fmt.Sprintf("  %s %s - %s, %s [%s] %s",
				m.Name, r.paint(dimStyle, m.Dosage), m.Frequency, m.Duration,
				strings.Join(m.Times, " "), r.paint(dimStyle, m.ID)))
		}
	}
}

func (r *Renderer) Added(res AddResponse) {
	r.println(r.paint(takenStyle, "Added prescription "+res.Prescription.ID))
	for _, m := range res.Prescription.Medicines {
		r.println(fmt.Sprintf("  %s (%s, %s) at %s", m.Name, m.Dosage, m.Frequency, strings.Join(m.Times, ", ")))
	}
	for _, f := range res.ScheduleErrors {
		r.println(r.paint(alertStyle, fmt.Sprintf("  reminder %s not scheduled: %s", f.SlotKey, f.Error)))
	}
}

func (r *Renderer) Outcome(out escalation.Outcome) {
	style := takenStyle
	if out.Alerted || out.State == escalation.Alerted {
		style = alertStyle
	} else if out.Kind != escalation.Taken {
		style = pendingStyle
	}
	r.println(r.paint(style, out.Message))
}
