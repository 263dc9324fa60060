package validation

import (
	"fmt"
	"strings"
)

// ValidationError represents a rejected value for a specific field.
type ValidationError struct {
	Field   string `json:"field"`
	Value   string `json:"value,omitempty"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field, value, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Value:   value,
		Message: message,
	}
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []*ValidationError

// Error implements the error interface.
func (e ValidationErrors) Error() string {
	msgs := make([]string, len(e))
	for i, err := range e {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "; ")
}

// Add adds a validation error to the collection.
func (e *ValidationErrors) Add(field, value, message string) {
	*e = append(*e, NewValidationError(field, value, message))
}

// HasErrors returns true if there are any validation errors.
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// ValidateSearchToken checks a search token registration.
func ValidateSearchToken(name, value string) ValidationErrors {
	var errs ValidationErrors
	if strings.TrimSpace(name) == "" {
		errs.Add("name", name, "is required")
	} else if strings.ContainsAny(name, ",= \t\n") {
		errs.Add("name", name, "must not contain whitespace, ',' or '='")
	}
	if strings.TrimSpace(value) == "" {
		errs.Add("value", "", "is required")
	} else if strings.ContainsAny(value, " \t\n") {
		errs.Add("value", "", "must not contain whitespace")
	}
	return errs
}
