// Package slots expands medicines into their concrete daily dose slots.
package slots

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gmsas95/pillminder/internal/frequency"
	"github.com/gmsas95/pillminder/internal/models"
)

type Category string

const (
	Morning   Category = "morning"
	Afternoon Category = "afternoon"
	Night     Category = "night"
)

// Categories is the display order of the schedule view.
var Categories = []Category{Morning, Afternoon, Night}

const minutesPerDay = 24 * 60

// Slot is one scheduled dose of one medicine on a given day.
type Slot struct {
	MedicineID   string   `json:"medicineId"`
	MedicineName string   `json:"medicineName"`
	Dosage       string   `json:"dosage"`
	Time         string   `json:"time"`
	Key          string   `json:"slotKey"`
	Label        string   `json:"label"`
	Minutes      int      `json:"minutes"`
	Category     Category `json:"category"`
	Upcoming     bool     `json:"upcoming"`
	SortMinutes  int      `json:"-"`
}

// Key builds the stable slot identifier, e.g. "m1_0900". Parseable times
// are canonicalized first, so "9:00" and "09:00" share a key.
func Key(medicineID, hhmm string) string {
	if mins, err := ParseTime(hhmm); err == nil {
		hhmm = Clock(mins)
	}
	return medicineID + "_" + strings.Replace(hhmm, ":", "", 1)
}

// Clock renders minutes since midnight as zero-padded "HH:MM".
func Clock(minutes int) string {
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}

// ParseTime converts "HH:MM" into minutes since midnight.
func ParseTime(hhmm string) (int, error) {
	parts := strings.Split(strings.TrimSpace(hhmm), ":")
	if len(parts) != 2 || len(parts[1]) != 2 {
		return 0, fmt.Errorf("invalid time %q", hhmm)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("invalid hour in %q", hhmm)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid minute in %q", hhmm)
	}
	return h*60 + m, nil
}

func CategoryOf(minutes int) Category {
	switch {
	case minutes >= 5*60 && minutes < 12*60:
		return Morning
	case minutes >= 12*60 && minutes < 17*60:
		return Afternoon
	default:
		return Night
	}
}

// Label renders minutes as a 12-hour clock with a zero-padded hour.
func Label(minutes int) string {
	h, m := minutes/60, minutes%60
	suffix := "AM"
	if h >= 12 {
		suffix = "PM"
	}
	h12 := h % 12
	if h12 == 0 {
		h12 = 12
	}
	return fmt.Sprintf("%02d:%02d %s", h12, m, suffix)
}

// Times resolves the reminder times of a medicine: explicit times when
// present, otherwise the defaults of its normalized frequency. Results are
// canonical "HH:MM", one per time of day, in first-seen order. Unparseable
// explicit times are dropped.
func Times(med models.Medicine) []string {
	raw := med.Times
	if len(raw) == 0 {
		raw = frequency.DefaultTimes(frequency.Normalize(med.Frequency))
	}
	seen := make(map[int]bool, len(raw))
	out := make([]string, 0, len(raw))
	for _, t := range raw {
		mins, err := ParseTime(t)
		if err != nil || seen[mins] {
			continue
		}
		seen[mins] = true
		out = append(out, Clock(mins))
	}
	return out
}

// Expand returns the slots of med for the day containing now, one per
// distinct time of day.
func Expand(med models.Medicine, now time.Time) []Slot {
	nowMinutes := now.Hour()*60 + now.Minute()
	times := Times(med)

	out := make([]Slot, 0, len(times))
	for _, t := range times {
		mins, _ := ParseTime(t)
		upcoming := mins > nowMinutes
		sortMin := mins
		if !upcoming {
			sortMin += minutesPerDay
		}
		out = append(out, Slot{
			MedicineID:   med.ID,
			MedicineName: med.Name,
			Dosage:       med.Dosage,
			Time:         t,
			Key:          Key(med.ID, t),
			Label:        Label(mins),
			Minutes:      mins,
			Category:     CategoryOf(mins),
			Upcoming:     upcoming,
			SortMinutes:  sortMin,
		})
	}
	return out
}

// ExpandAll flattens the slots of every medicine in every prescription.
func ExpandAll(prescriptions []models.Prescription, now time.Time) []Slot {
	var out []Slot
	for _, p := range prescriptions {
		for _, med := range p.Medicines {
			out = append(out, Expand(med, now)...)
		}
	}
	return out
}

// Group buckets slots by category, each ordered so the rest of today comes
// before slots that have already passed.
func Group(all []Slot) map[Category][]Slot {
	grouped := make(map[Category][]Slot, len(Categories))
	for _, s := range all {
		grouped[s.Category] = append(grouped[s.Category], s)
	}
	for _, list := range grouped {
		sort.SliceStable(list, func(i, j int) bool {
			if list[i].SortMinutes != list[j].SortMinutes {
				return list[i].SortMinutes < list[j].SortMinutes
			}
			return list[i].MedicineID < list[j].MedicineID
		})
	}
	return grouped
}
