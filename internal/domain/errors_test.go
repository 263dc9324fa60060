package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestClassifyMessage(t *testing.T) {
	tests := []struct {
		msg  string
		want ErrorClass
	}{
		{"", ClassUnknown},
		{"googleapi: Error 429: Resource has been exhausted", ClassQuota},
		{"You exceeded your current quota", ClassQuota},
		{"rate limit reached", ClassQuota},
		{"API key not valid. Please pass a valid API key.", ClassInvalidKey},
		{"PERMISSION_DENIED", ClassInvalidKey},
		{"unexpected status 401", ClassInvalidKey},
		{"status 403: forbidden", ClassInvalidKey},
		{"models/gemini-x is not found", ClassUnavailable},
		{"http 404", ClassUnavailable},
		{"context deadline exceeded", ClassTransient},
		{"upstream returned 502 bad gateway", ClassTransient},
		{"status=500", ClassTransient},
		{"request id 74031 failed", ClassUnknown},
		{"payload of 14290 bytes rejected", ClassUnknown},
		{"trace 5004041", ClassUnknown},
		{"something odd", ClassUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			if got := ClassifyMessage(tt.msg); got != tt.want {
				t.Errorf("ClassifyMessage(%q) = %q, want %q", tt.msg, got, tt.want)
			}
		})
	}
}

func TestClassifyError(t *testing.T) {
	if got := ClassifyError(nil); got != ClassNone {
		t.Errorf("ClassifyError(nil) = %q, want none", got)
	}
	// A structured error wins over the text around it.
	wrapped := fmt.Errorf("status 429: %w", &KeyError{Class: ClassInvalidKey, Message: "expired"})
	if got := ClassifyError(wrapped); got != ClassInvalidKey {
		t.Errorf("ClassifyError(wrapped) = %q, want invalid_key", got)
	}
	if got := ClassifyError(errors.New("request id 40312")); got != ClassUnknown {
		t.Errorf("ClassifyError(id) = %q, want unknown", got)
	}
}
