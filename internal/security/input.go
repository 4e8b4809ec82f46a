package security

import (
	"errors"
	"strings"
	"unicode"
	"unicode/utf8"
)

var (
	ErrInputTooLarge     = errors.New("input exceeds maximum size")
	ErrNullByteDetected  = errors.New("null byte detected in input")
	ErrControlCharacter  = errors.New("control character in input")
	ErrInvalidEncoding   = errors.New("input is not valid UTF-8")
	ErrRepetitiveContent = errors.New("excessive repetition detected")
)

// InputValidator screens free-text fields such as medicine names, dosages
// and scanned text before they are stored or echoed to a channel.
type InputValidator struct {
	MaxSize       int
	MaxRepetition int
	// AllowNewlines admits \n, \r and \t, for multi-line text like OCR output.
	AllowNewlines bool
}

func NewInputValidator() *InputValidator {
	return &InputValidator{
		MaxSize:       200,
		MaxRepetition: 40,
	}
}

func (v *InputValidator) Validate(input string) error {
	if v.MaxSize > 0 && len(input) > v.MaxSize {
		return ErrInputTooLarge
	}
	if !utf8.ValidString(input) {
		return ErrInvalidEncoding
	}

	for _, r := range input {
		if r == 0 {
			return ErrNullByteDetected
		}
		if unicode.IsControl(r) {
			if v.AllowNewlines && (r == '\n' || r == '\r' || r == '\t') {
				continue
			}
			return ErrControlCharacter
		}
	}

	if v.MaxRepetition > 0 && hasExcessiveRepetition(input, v.MaxRepetition) {
		return ErrRepetitiveContent
	}

	return nil
}

func hasExcessiveRepetition(input string, maxLen int) bool {
	if len(input) <= maxLen {
		return false
	}

	runes := []rune(input)
	consecutiveCount := 1

	for i := 1; i < len(runes); i++ {
		if runes[i] == runes[i-1] {
			consecutiveCount++
			if consecutiveCount > maxLen {
				return true
			}
		} else {
			consecutiveCount = 1
		}
	}

	return false
}

// Clean trims surrounding whitespace and collapses internal runs of spaces.
func Clean(input string) string {
	return strings.Join(strings.Fields(input), " ")
}

func ValidateInput(input string) error {
	return NewInputValidator().Validate(input)
}
