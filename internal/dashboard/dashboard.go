// Package dashboard aggregates prescriptions and the adherence log into the
// figures shown on the adherence screen.
package dashboard

import (
	"math"
	"regexp"
	"sort"
	"strconv"
	"time"

	"github.com/gmsas95/pillminder/internal/adherence"
	"github.com/gmsas95/pillminder/internal/models"
	"github.com/gmsas95/pillminder/internal/slots"
)

type Stats struct {
	TotalScheduled int `json:"totalScheduled"`
	TotalTaken     int `json:"totalTaken"`
	TotalMissed    int `json:"totalMissed"`
	Remaining      int `json:"remaining"`
	Percentage     int `json:"adherencePercentage"`
}

var firstInt = regexp.MustCompile(`\d+`)

// DurationDays returns the first integer in a duration such as "7 days",
// or 1 when there is none.
func DurationDays(duration string) int {
	m := firstInt.FindString(duration)
	if m == "" {
		return 1
	}
	n, err := strconv.Atoi(m)
	if err != nil {
		return 1
	}
	return n
}

// ComputeStats counts scheduled doses over each course and all logged
// outcomes. The daily count is the number of slots the medicine resolves to.
func ComputeStats(prescriptions []models.Prescription, logs []models.LogEntry) Stats {
	var s Stats
	for _, p := range prescriptions {
		for _, med := range p.Medicines {
			s.TotalScheduled += len(slots.Times(med)) * DurationDays(med.Duration)
		}
	}

	s.TotalTaken = adherence.CountStatus(logs, models.StatusTaken)
	s.TotalMissed = adherence.CountStatus(logs, models.StatusMissed)

	if s.TotalScheduled > 0 {
		pct := int(math.Round(100 * float64(s.TotalTaken) / float64(s.TotalScheduled)))
		s.Percentage = min(max(pct, 0), 100)
	}
	s.Remaining = max(s.TotalScheduled-s.TotalTaken-s.TotalMissed, 0)
	return s
}

type Band string

const (
	Good Band = "good"
	Fair Band = "fair"
	Poor Band = "poor"
)

func BandOf(percentage int) Band {
	switch {
	case percentage > 80:
		return Good
	case percentage >= 50:
		return Fair
	default:
		return Poor
	}
}

type Tip struct {
	Category string `json:"category"`
	Text     string `json:"text"`
}

// Tips derives advice from the stats and the current skip counters.
func Tips(s Stats, skipCounts map[string]int, threshold int) []Tip {
	var tips []Tip

	switch BandOf(s.Percentage) {
	case Good:
		tips = append(tips, Tip{"adherence", "Great consistency. Keep taking your doses on time."})
	case Fair:
		tips = append(tips, Tip{"adherence", "You are missing some doses. Try linking each dose to a daily habit such as a meal."})
	default:
		if s.TotalScheduled > 0 {
			tips = append(tips, Tip{"adherence", "Many doses are being missed. Consider talking to your doctor or caretaker about your schedule."})
		}
	}

	if s.Remaining > 0 {
		tips = append(tips, Tip{"schedule", strconv.Itoa(s.Remaining) + " doses remain in your current courses."})
	}

	ids := make([]string, 0, len(skipCounts))
	for id, n := range skipCounts {
		if n > 0 {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	for _, id := range ids {
		left := threshold - skipCounts[id]
		if left < 1 {
			left = 1
		}
		tips = append(tips, Tip{"escalation", "Medicine " + id + ": " + strconv.Itoa(left) + " more postpone or skip will alert your caretaker."})
	}
	return tips
}

// TodaySummary is the home screen header.
type TodaySummary struct {
	TotalSlots int `json:"totalSlots"`
	Taken      int `json:"taken"`
	Pending    int `json:"pending"`
	Escalating int `json:"escalating"`
}

func Today(prescriptions []models.Prescription, logs []models.LogEntry, skipCounts map[string]int, now time.Time) TodaySummary {
	all := slots.ExpandAll(prescriptions, now)
	taken := adherence.TakenToday(logs, now)

	var out TodaySummary
	out.TotalSlots = len(all)
	for _, s := range all {
		if taken.Has(s.MedicineID, s.Key) {
			out.Taken++
		}
	}
	out.Pending = out.TotalSlots - out.Taken
	for _, n := range skipCounts {
		if n > 0 {
			out.Escalating++
		}
	}
	return out
}

// Report bundles everything GET /api/dashboard returns.
type Report struct {
	Stats Stats        `json:"stats"`
	Band  Band         `json:"band"`
	Tips  []Tip        `json:"tips"`
	Today TodaySummary `json:"today"`
}

func BuildReport(prescriptions []models.Prescription, logs []models.LogEntry, skipCounts map[string]int, threshold int, now time.Time) Report {
	stats := ComputeStats(prescriptions, logs)
	return Report{
		Stats: stats,
		Band:  BandOf(stats.Percentage),
		Tips:  Tips(stats, skipCounts, threshold),
		Today: Today(prescriptions, logs, skipCounts, now),
	}
}
