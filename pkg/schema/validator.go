// Package schema validates records and profiles before they are stored
package schema

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/Ramsey-B/thistle/pkg/models"
)

// ValidationError represents a single validation error
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationResult represents the result of validating a value
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationError `json:"errors,omitempty"`
}

var validate = newValidate()

func newValidate() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// report json field names
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks a struct against its validate tags
func Validate(value any) ValidationResult {
	err := validate.Struct(value)
	if err == nil {
		return ValidationResult{Valid: true}
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return ValidationResult{Errors: []ValidationError{{Message: err.Error()}}}
	}

	result := ValidationResult{Errors: make([]ValidationError, 0, len(fieldErrs))}
	for _, fe := range fieldErrs {
		result.Errors = append(result.Errors, ValidationError{
			Field:   fieldPath(fe),
			Message: message(fe),
		})
	}
	return result
}

// fieldPath drops the top-level struct name from the namespace ("Profile.weights.geography")
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "len":
		return fmt.Sprintf("must have length %s", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "gte":
		return fmt.Sprintf("must be greater than or equal to %s", fe.Param())
	case "lte":
		return fmt.Sprintf("must be less than or equal to %s", fe.Param())
	case "alpha":
		return "must contain letters only"
	case "email":
		return "must be a valid email address"
	default:
		return fmt.Sprintf("failed %s validation", fe.Tag())
	}
}

// ValidateProfile rejects misconfigured profiles. The returned error is a *models.ProfileError
// for the first problem found.
func ValidateProfile(p models.Profile) error {
	if result := Validate(p); !result.Valid {
		first := result.Errors[0]
		return &models.ProfileError{Field: first.Field, Reason: first.Message}
	}
	if p.MinValue != nil && p.MaxValue != nil && *p.MinValue > *p.MaxValue {
		return &models.ProfileError{Field: "min_value", Reason: "must not exceed max_value"}
	}
	return nil
}

// ValidateRecord rejects records that cannot be stored. The returned error is a
// *models.InvalidRecordError.
func ValidateRecord(r models.Record) error {
	result := Validate(r)
	if result.Valid && strings.TrimSpace(r.Title) != "" {
		return nil
	}

	reasons := make([]string, 0, len(result.Errors)+1)
	for _, e := range result.Errors {
		reasons = append(reasons, e.Field+" "+e.Message)
	}
	if len(reasons) == 0 {
		reasons = append(reasons, "title is blank")
	}
	return &models.InvalidRecordError{
		Source:      r.Source,
		ExternalRef: r.ExternalRef,
		Reason:      strings.Join(reasons, "; "),
	}
}
