// Package validation adapts go-playground/validator to echo's Validator
// interface so handlers can call c.Validate on bound request bodies.
package validation

import (
	"errors"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
)

// FieldError describes one rejected field of a request body.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// messages maps validator tags to human wording. %s is replaced by the tag
// parameter.
var messages = map[string]string{
	"required": "is required",
	"uuid":     "must be a valid UUID",
	"date":     "must be a date in YYYY-MM-DD format",
	"hhmm":     "must be a time in H:MM format",
	"oneof":    "must be one of: %s",
	"max":      "must be at most %s characters",
}

type Validator struct {
	v *validator.Validate
}

// New returns a Validator with the clinic's custom tags registered. Field
// names in errors follow the json tag of the struct field.
func New() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name == "" {
			return f.Name
		}
		return name
	})
	_ = v.RegisterValidation("date", validateDate)
	_ = v.RegisterValidation("hhmm", validateHHMM)
	return &Validator{v: v}
}

// Validate implements echo.Validator. A rejected struct yields a 422
// echo.HTTPError whose message lists every offending field.
func (cv *Validator) Validate(i interface{}) error {
	err := cv.v.Struct(i)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	return echo.NewHTTPError(http.StatusUnprocessableEntity, map[string]interface{}{
		"message": "Validation failed",
		"errors":  FieldErrors(verrs),
	})
}

// FieldErrors converts validator errors to their response form.
func FieldErrors(verrs validator.ValidationErrors) []FieldError {
	out := make([]FieldError, 0, len(verrs))
	for _, fe := range verrs {
		msg, ok := messages[fe.Tag()]
		if !ok {
			msg = "is invalid"
		}
		if strings.Contains(msg, "%s") {
			msg = strings.Replace(msg, "%s", strings.Join(strings.Fields(fe.Param()), ", "), 1)
		}
		out = append(out, FieldError{Field: fe.Field(), Message: msg})
	}
	return out
}

func validateDate(fl validator.FieldLevel) bool {
	_, err := time.Parse("2006-01-02", fl.Field().String())
	return err == nil
}

// validateHHMM accepts a 24-hour time with two-digit minutes: "9:05" and
// "09:05" pass, "9:5" does not.
func validateHHMM(fl validator.FieldLevel) bool {
	_, err := time.Parse("15:04", fl.Field().String())
	return err == nil
}
