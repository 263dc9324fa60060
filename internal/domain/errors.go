package domain

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Common errors used throughout the application.
var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrInvalidInput  = errors.New("invalid input")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrPoolEmpty     = errors.New("no working key available")
	ErrNotRunning    = errors.New("worker not running")
	ErrRunning       = errors.New("worker already running")
)

// ErrorClass is the classification of a failed call made with a pooled key.
type ErrorClass string

const (
	ClassNone        ErrorClass = ""
	ClassQuota       ErrorClass = "quota"
	ClassInvalidKey  ErrorClass = "invalid_key"
	ClassUnavailable ErrorClass = "unavailable"
	ClassTransient   ErrorClass = "transient"
	ClassUnknown     ErrorClass = "unknown"
)

// KeyError is a failure attributed to a specific key, classified where the
// upstream response was parsed.
type KeyError struct {
	Class      ErrorClass
	StatusCode int
	Code       string
	Message    string
}

// Error implements the error interface.
func (e *KeyError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s (status %d): %s", e.Class, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Class, e.Message)
}

// ClassifyError returns the class of err. A *KeyError anywhere in the chain
// wins; otherwise the message text is inspected.
func ClassifyError(err error) ErrorClass {
	if err == nil {
		return ClassNone
	}
	var kerr *KeyError
	if errors.As(err, &kerr) {
		return kerr.Class
	}
	return ClassifyMessage(err.Error())
}

// Status codes only count as whole numbers, so ids and sizes that contain
// the same digits are not mistaken for them.
var (
	quotaCode       = regexp.MustCompile(`\b429\b`)
	invalidKeyCode  = regexp.MustCompile(`\b40[13]\b`)
	unavailableCode = regexp.MustCompile(`\b404\b`)
	transientCode   = regexp.MustCompile(`\b50[023]\b`)
)

// ClassifyMessage guesses the class of an upstream error from its text.
func ClassifyMessage(msg string) ErrorClass {
	m := strings.ToLower(msg)
	switch {
	case m == "":
		return ClassUnknown
	case quotaCode.MatchString(m),
		strings.Contains(m, "quota"),
		strings.Contains(m, "resource_exhausted"),
		strings.Contains(m, "resource exhausted"),
		strings.Contains(m, "rate limit"):
		return ClassQuota
	case strings.Contains(m, "api key not valid"),
		strings.Contains(m, "api_key_invalid"),
		strings.Contains(m, "invalid api key"),
		strings.Contains(m, "api key expired"),
		strings.Contains(m, "permission_denied"),
		invalidKeyCode.MatchString(m):
		return ClassInvalidKey
	case strings.Contains(m, "not found"),
		unavailableCode.MatchString(m):
		return ClassUnavailable
	case strings.Contains(m, "timeout"),
		strings.Contains(m, "deadline exceeded"),
		strings.Contains(m, "connection reset"),
		strings.Contains(m, "unavailable"),
		transientCode.MatchString(m):
		return ClassTransient
	}
	return ClassUnknown
}

// APIError represents an error response from the admin API.
type APIError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return e.Message
}
