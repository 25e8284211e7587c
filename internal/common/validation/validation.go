// Package validation validates request DTOs with go-playground/validator and
// reports failures as validation AppErrors.
package validation

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"agent-triggers/internal/common/errors"
	"agent-triggers/internal/models"
	"agent-triggers/internal/triggers/schedule"
)

// FieldError is one failed rule
type FieldError struct {
	Field   string `json:"field"`
	Tag     string `json:"tag"`
	Param   string `json:"param,omitempty"`
	Message string `json:"message"`
}

// Validator wraps a configured validator.Validate
type Validator struct {
	validate *validator.Validate
}

// New creates a validator reporting json field names and knowing the
// trigger_type, timezone, cron_expression and webhook_path tags
func New() *Validator {
	v := validator.New()

	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
	registerTriggerValidators(v)

	return &Validator{validate: v}
}

// Struct validates s and returns a validation AppError describing every failure
func (v *Validator) Struct(s interface{}) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}

	fields := v.Fields(err)
	messages := make([]string, len(fields))
	for i, f := range fields {
		messages[i] = f.Message
	}
	return errors.ValidationError(strings.Join(messages, "; ")).WithContext("fields", fields)
}

// Fields converts validator errors into FieldErrors
func (v *Validator) Fields(err error) []FieldError {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return []FieldError{{Field: "unknown", Tag: "error", Message: err.Error()}}
	}

	out := make([]FieldError, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, FieldError{
			Field:   fe.Field(),
			Tag:     fe.Tag(),
			Param:   fe.Param(),
			Message: message(fe),
		})
	}
	return out
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("field '%s' is required", fe.Field())
	case "max":
		return fmt.Sprintf("field '%s' must be at most %s", fe.Field(), fe.Param())
	case "min":
		return fmt.Sprintf("field '%s' must be at least %s", fe.Field(), fe.Param())
	case "oneof":
		return fmt.Sprintf("field '%s' must be one of: %s", fe.Field(), fe.Param())
	case "uuid":
		return fmt.Sprintf("field '%s' must be a valid UUID", fe.Field())
	case "trigger_type":
		return fmt.Sprintf("field '%s' must be one of: event, webhook, api, manual, test, mcp", fe.Field())
	case "timezone":
		return fmt.Sprintf("field '%s' must be an IANA timezone", fe.Field())
	case "cron_expression":
		return fmt.Sprintf("field '%s' must be a five-field cron expression", fe.Field())
	case "webhook_path":
		return fmt.Sprintf("field '%s' must be a path of letters, digits, '-', '_' and '/'", fe.Field())
	}
	return fmt.Sprintf("field '%s' failed validation: %s", fe.Field(), fe.Tag())
}

func registerTriggerValidators(v *validator.Validate) {
	_ = v.RegisterValidation("trigger_type", func(fl validator.FieldLevel) bool {
		return models.TriggerType(fl.Field().String()).Valid()
	})

	_ = v.RegisterValidation("timezone", func(fl validator.FieldLevel) bool {
		tz := fl.Field().String()
		if tz == "Local" {
			return false
		}
		_, err := time.LoadLocation(tz)
		return err == nil
	})

	_ = v.RegisterValidation("cron_expression", func(fl validator.FieldLevel) bool {
		_, err := schedule.Parse(fl.Field().String(), "UTC")
		return err == nil
	})

	_ = v.RegisterValidation("webhook_path", func(fl validator.FieldLevel) bool {
		path := strings.Trim(fl.Field().String(), "/")
		if path == "" || len(path) > 200 || strings.Contains(path, "//") {
			return false
		}
		for _, r := range path {
			switch {
			case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			case r == '-' || r == '_' || r == '/' || r == '.':
			default:
				return false
			}
		}
		return true
	})
}
