package security

import (
	"fmt"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/gmsas95/pillminder/internal/errors"
	"github.com/gmsas95/pillminder/internal/models"
	"github.com/gmsas95/pillminder/internal/slots"
)

// ValidationError carries one message per offending field.
type ValidationError struct {
	Fields map[string]string `json:"fields"`
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + ": " + e.Fields[k]
	}
	return strings.Join(parts, "; ")
}

// Unwrap lets errors.Is match ErrValidation.
func (e *ValidationError) Unwrap() error {
	return errors.ErrValidation
}

func (e *ValidationError) add(field, msg string) {
	if e.Fields == nil {
		e.Fields = map[string]string{}
	}
	if _, exists := e.Fields[field]; !exists {
		e.Fields[field] = msg
	}
}

func (e *ValidationError) orNil() error {
	if len(e.Fields) == 0 {
		return nil
	}
	return e
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterValidation("hhmm", func(fl validator.FieldLevel) bool {
		_, err := slots.ParseTime(fl.Field().String())
		return err == nil
	})
	v.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})
	return v
}

var profileMessages = map[string]map[string]string{
	"Email": {
		"required": "Email is required",
		"email":    "Enter a valid email address",
	},
	"CaretakerEmail": {
		"required": "Caretaker email is required",
		"email":    "Enter a valid caretaker email",
		"nefield":  "Must be different from your email",
	},
}

var profileFields = map[string]string{"Email": "email", "CaretakerEmail": "caretakerEmail"}

// ValidateProfile checks the user and caretaker addresses. Values are
// trimmed before checking.
func ValidateProfile(p models.Profile) error {
	p.Email = strings.TrimSpace(p.Email)
	p.CaretakerEmail = strings.TrimSpace(p.CaretakerEmail)

	verr := &ValidationError{}
	if err := validate.Struct(p); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return err
		}
		for _, fe := range fieldErrs {
			msg := profileMessages[fe.StructField()][fe.Tag()]
			if msg == "" {
				msg = fmt.Sprintf("failed %s check", fe.Tag())
			}
			verr.add(profileFields[fe.StructField()], msg)
		}
	}
	if err := NewInputValidator().Validate(p.Name); err != nil {
		verr.add("name", err.Error())
	}
	return verr.orNil()
}

// ValidateMedicine checks one medicine draft. The index prefixes field names
// so callers can point at the offending row.
func ValidateMedicine(i int, m models.Medicine) error {
	verr := &ValidationError{}
	prefix := fmt.Sprintf("medicines[%d].", i)

	if err := validate.Struct(m); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return err
		}
		for _, fe := range fieldErrs {
			switch fe.StructField() {
			case "Name":
				verr.add(prefix+"name", "Medicine name is required")
			default:
				verr.add(prefix+"times", fmt.Sprintf("%v is not a valid HH:MM time", fe.Value()))
			}
		}
	}

	seen := make(map[int]string, len(m.Times))
	for _, t := range m.Times {
		mins, err := slots.ParseTime(t)
		if err != nil {
			continue
		}
		if first, dup := seen[mins]; dup {
			verr.add(prefix+"times", fmt.Sprintf("%s repeats %s", t, first))
			continue
		}
		seen[mins] = t
	}

	text := NewInputValidator()
	for field, val := range map[string]string{"name": m.Name, "dosage": m.Dosage, "frequency": m.Frequency, "duration": m.Duration} {
		if err := text.Validate(val); err != nil {
			verr.add(prefix+field, err.Error())
		}
	}
	return verr.orNil()
}

// ValidateMedicines requires at least one medicine and validates each.
func ValidateMedicines(meds []models.Medicine) error {
	if len(meds) == 0 {
		return &ValidationError{Fields: map[string]string{"medicines": "At least one medicine is required"}}
	}
	verr := &ValidationError{}
	for i, m := range meds {
		if err := ValidateMedicine(i, m); err != nil {
			var ve *ValidationError
			if !errors.As(err, &ve) {
				return err
			}
			for k, v := range ve.Fields {
				verr.add(k, v)
			}
		}
	}
	return verr.orNil()
}

// ValidateTime checks a single HH:MM value.
func ValidateTime(hhmm string) error {
	if err := validate.Var(hhmm, "required,hhmm"); err != nil {
		return &ValidationError{Fields: map[string]string{"time": fmt.Sprintf("%q is not a valid HH:MM time", hhmm)}}
	}
	return nil
}
