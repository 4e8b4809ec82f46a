// Package frequency maps free-text dosing frequencies onto a fixed set of
// daily schedules.
package frequency

import (
	"strings"
	"unicode"
)

type Frequency int

const (
	OnceDaily Frequency = iota
	TwiceDaily
	ThreeTimesDaily
)

var labels = [...]string{
	OnceDaily:       "Once daily",
	TwiceDaily:      "Twice daily",
	ThreeTimesDaily: "Three times daily",
}

func (f Frequency) String() string {
	if f < OnceDaily || f > ThreeTimesDaily {
		return labels[OnceDaily]
	}
	return labels[f]
}

// Options lists the canonical labels in order.
func Options() []string {
	out := make([]string, len(labels))
	copy(out, labels[:])
	return out
}

var matchers = []struct {
	freq  Frequency
	word  string
	digit string
}{
	{OnceDaily, "once", "1"},
	{TwiceDaily, "twice", "2"},
	{ThreeTimesDaily, "three", "3"},
}

// Normalize classifies text. Words match as substrings, digits only as whole
// tokens so "every 12 hours" is not read as once daily by accident. Anything
// unrecognized is OnceDaily.
func Normalize(text string) Frequency {
	lower := strings.ToLower(strings.TrimSpace(text))
	if lower == "" {
		return OnceDaily
	}

	tokens := strings.FieldsFunc(lower, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	for _, m := range matchers {
		if strings.Contains(lower, m.word) {
			return m.freq
		}
		for _, tok := range tokens {
			if tok == m.digit {
				return m.freq
			}
		}
	}
	return OnceDaily
}

// DefaultTimes returns the HH:MM reminder times for f. The slice is freshly
// allocated on each call.
func DefaultTimes(f Frequency) []string {
	switch f {
	case TwiceDaily:
		return []string{"09:00", "21:00"}
	case ThreeTimesDaily:
		return []string{"09:00", "14:00", "21:00"}
	default:
		return []string{"09:00"}
	}
}
