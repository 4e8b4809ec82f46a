package prescriptions

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/gmsas95/pillminder/internal/frequency"
	"github.com/gmsas95/pillminder/internal/models"
)

var (
	nameDosageRe = regexp.MustCompile(`(?i)^([a-z][a-z\s\-]*?)\s+(\d+(?:\.\d+)?\s*(?:mg|mcg|g|ml|units?|tablets?|capsules?|pills?|drops?))\b`)
	leadingName  = regexp.MustCompile(`(?i)^([a-z][a-z\-]*)`)
	clockRe      = regexp.MustCompile(`(?i)\b(\d{1,2})(?::(\d{2}))?\s*(am|pm)\b|\b(\d{1,2}):(\d{2})\b`)
	durationRe   = regexp.MustCompile(`(?i)\bfor\s+(\d+)\s*days?\b`)
)

var dayParts = []struct {
	word string
	hhmm string
}{
	{"morning", "08:00"},
	{"noon", "12:00"},
	{"evening", "18:00"},
	{"bedtime", "22:00"},
}

// ParseDraft reads a one-line description such as
// "Metformin 500mg twice daily at 8am and 8pm for 10 days" into a draft.
// Anything it cannot recognise is left for the defaults applied on save.
func ParseDraft(text string) models.Medicine {
	text = strings.TrimSpace(text)
	lower := strings.ToLower(text)

	var med models.Medicine
	rawDosage := ""
	if m := nameDosageRe.FindStringSubmatch(text); m != nil {
		med.Name = strings.TrimSpace(m[1])
		rawDosage = strings.ToLower(m[2])
		med.Dosage = strings.ReplaceAll(m[2], " ", "")
	} else if m := leadingName.FindStringSubmatch(text); m != nil {
		med.Name = m[1]
	}

	med.Times = parseTimes(lower)
	switch len(med.Times) {
	case 1:
		med.Frequency = frequency.OnceDaily.String()
	case 2:
		med.Frequency = frequency.TwiceDaily.String()
	case 3:
		med.Frequency = frequency.ThreeTimesDaily.String()
	default:
		// Clock times, course length and strength would otherwise be read
		// as frequency digits.
		rest := durationRe.ReplaceAllString(clockRe.ReplaceAllString(lower, " "), " ")
		if rawDosage != "" {
			rest = strings.Replace(rest, rawDosage, " ", 1)
		}
		med.Frequency = frequency.Normalize(rest).String()
	}

	if m := durationRe.FindStringSubmatch(lower); m != nil {
		med.Duration = m[1] + " days"
	}
	return med
}

func parseTimes(text string) []string {
	var times []string
	for _, m := range clockRe.FindAllStringSubmatch(text, -1) {
		hourText, minText, ampm := m[1], m[2], m[3]
		if hourText == "" {
			hourText, minText = m[4], m[5]
		}
		hour, _ := strconv.Atoi(hourText)
		minute := 0
		if minText != "" {
			minute, _ = strconv.Atoi(minText)
		}

		switch ampm {
		case "pm":
			if hour != 12 {
				hour += 12
			}
		case "am":
			if hour == 12 {
				hour = 0
			}
		}
		if hour > 23 || minute > 59 {
			continue
		}
		times = appendUnique(times, fmt.Sprintf("%02d:%02d", hour, minute))
	}

	for _, p := range dayParts {
		if strings.Contains(text, p.word) {
			times = appendUnique(times, p.hhmm)
		}
	}
	return times
}

func appendUnique(list []string, item string) []string {
	for _, s := range list {
		if s == item {
			return list
		}
	}
	return append(list, item)
}
