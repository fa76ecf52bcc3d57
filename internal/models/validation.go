// file: internal/models/validation.go
package models

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// ===============================
// VALIDATION ERRORS
// ===============================

// ValidationError represents a validation error
type ValidationError struct {
	Field   string      `json:"field"`
	Message string      `json:"message"`
	Code    string      `json:"code"`
	Value   interface{} `json:"value,omitempty"`
}

// Error implements the error interface
func (e ValidationError) Error() string {
	return fmt.Sprintf("validation failed for field '%s': %s", e.Field, e.Message)
}

// ValidationErrors represents multiple validation errors
type ValidationErrors []ValidationError

// Error implements the error interface
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	msgs := make([]string, 0, len(e))
	for _, v := range e {
		msgs = append(msgs, v.Field+": "+v.Message)
	}
	return fmt.Sprintf("validation failed with %d errors: %s", len(e), strings.Join(msgs, "; "))
}

// Add adds a validation error
func (e *ValidationErrors) Add(field, message, code string, value interface{}) {
	*e = append(*e, ValidationError{
		Field:   field,
		Message: message,
		Code:    code,
		Value:   value,
	})
}

// HasErrors returns true if there are validation errors
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// Validator defines the validation interface
type Validator interface {
	Validate() ValidationErrors
}

// ValidateModel runs the model's own rules and returns nil when it is valid.
func ValidateModel(model Validator) error {
	if errs := model.Validate(); errs.HasErrors() {
		return errs
	}
	return nil
}

// ===============================
// CORE VALIDATORS
// ===============================

// ContentValidator validates required text with length bounds. A maxLength
// of zero disables the upper bound.
func ContentValidator(field string, value string, minLength, maxLength int) *ValidationError {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return &ValidationError{
			Field:   field,
			Message: fmt.Sprintf("%s is required", field),
			Code:    "required",
		}
	}

	length := utf8.RuneCountInString(trimmed)
	if length < minLength {
		return &ValidationError{
			Field:   field,
			Message: fmt.Sprintf("%s must be at least %d characters long", field, minLength),
			Code:    "too_short",
			Value:   value,
		}
	}
	if maxLength > 0 && length > maxLength {
		return &ValidationError{
			Field:   field,
			Message: fmt.Sprintf("%s must be at most %d characters long", field, maxLength),
			Code:    "too_long",
		}
	}
	return nil
}

// ProgressValidator checks the 0..100 range.
func ProgressValidator(field string, value int) *ValidationError {
	if value < MinProgress || value > MaxProgress {
		return &ValidationError{
			Field:   field,
			Message: fmt.Sprintf("%s must be between %d and %d", field, MinProgress, MaxProgress),
			Code:    "out_of_range",
			Value:   value,
		}
	}
	return nil
}

// EnumValidator validates that value is one of allowedValues
func EnumValidator(field string, value string, allowedValues []string) *ValidationError {
	for _, allowed := range allowedValues {
		if value == allowed {
			return nil
		}
	}
	return &ValidationError{
		Field:   field,
		Message: fmt.Sprintf("%s must be one of: %s", field, strings.Join(allowedValues, ", ")),
		Code:    "invalid_value",
		Value:   value,
	}
}

// AllowedStatuses lists every accepted status value.
func AllowedStatuses() []string {
	return []string{
		string(StatusNotStarted),
		string(StatusInProgress),
		string(StatusCompleted),
		string(StatusArchived),
	}
}

// IsValidStatus reports whether s is a known status.
func IsValidStatus(s BadgeStatus) bool {
	return EnumValidator("status", string(s), AllowedStatuses()) == nil
}

// ===============================
// MODEL VALIDATION
// ===============================

// Validate checks a badge against the domain rules.
func (b *Badge) Validate() ValidationErrors {
	var errs ValidationErrors

	if err := ContentValidator("name", b.Name, 3, 255); err != nil {
		errs = append(errs, *err)
	}
	if err := ContentValidator("description", b.Description, 1, 0); err != nil {
		errs = append(errs, *err)
	}
	if err := ProgressValidator("progress", b.Progress); err != nil {
		errs = append(errs, *err)
	}
	if b.Status != "" && !IsValidStatus(b.Status) {
		errs.Add("status", "unknown status", "invalid_value", b.Status)
	}

	seen := make(map[string]struct{}, len(b.Requirements))
	for i, r := range b.Requirements {
		if r.ID == "" {
			continue
		}
		if _, dup := seen[r.ID]; dup {
			errs.Add(fmt.Sprintf("requirements[%d].id", i), "duplicate requirement id", "duplicate", r.ID)
		}
		seen[r.ID] = struct{}{}
	}

	return errs
}

// Validate checks a create payload.
func (r *CreateBadgeRequest) Validate() ValidationErrors {
	var errs ValidationErrors

	if err := ContentValidator("name", r.Name, 3, 255); err != nil {
		errs = append(errs, *err)
	}
	if err := ContentValidator("description", r.Description, 1, 0); err != nil {
		errs = append(errs, *err)
	}
	if r.Progress != nil {
		if err := ProgressValidator("progress", *r.Progress); err != nil {
			errs = append(errs, *err)
		}
	}
	if r.Status != nil && !IsValidStatus(*r.Status) {
		errs.Add("status", "unknown status", "invalid_value", *r.Status)
	}
	errs = append(errs, validateRequirementInputs(r.Requirements)...)

	return errs
}

// Validate checks a partial update payload. Only present fields are checked.
func (r *UpdateBadgeRequest) Validate() ValidationErrors {
	var errs ValidationErrors

	if r.Name != nil {
		if err := ContentValidator("name", *r.Name, 3, 255); err != nil {
			errs = append(errs, *err)
		}
	}
	if r.Description != nil {
		if err := ContentValidator("description", *r.Description, 1, 0); err != nil {
			errs = append(errs, *err)
		}
	}
	if r.Progress != nil {
		if err := ProgressValidator("progress", *r.Progress); err != nil {
			errs = append(errs, *err)
		}
	}
	if r.Status != nil && !IsValidStatus(*r.Status) {
		errs.Add("status", "unknown status", "invalid_value", *r.Status)
	}
	if r.Requirements != nil {
		errs = append(errs, validateRequirementInputs(*r.Requirements)...)
	}

	return errs
}

// Validate checks a progress payload.
func (r *UpdateProgressRequest) Validate() ValidationErrors {
	var errs ValidationErrors

	if r.Progress != nil {
		if err := ProgressValidator("progress", *r.Progress); err != nil {
			errs = append(errs, *err)
		}
	}
	for i, req := range r.Requirements {
		if req.ID == "" {
			errs.Add(fmt.Sprintf("requirements[%d].id", i), "id is required", "required", nil)
		}
	}

	return errs
}

func validateRequirementInputs(reqs []RequirementInput) ValidationErrors {
	var errs ValidationErrors
	seen := make(map[string]struct{}, len(reqs))
	for i, r := range reqs {
		field := fmt.Sprintf("requirements[%d]", i)
		if strings.TrimSpace(r.Description) == "" {
			errs.Add(field+".description", "description is required", "required", nil)
		}
		if r.ID == "" {
			continue
		}
		if _, dup := seen[r.ID]; dup {
			errs.Add(field+".id", "duplicate requirement id", "duplicate", r.ID)
		}
		seen[r.ID] = struct{}{}
	}
	return errs
}
