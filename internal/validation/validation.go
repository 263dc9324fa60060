// Package validation checks whether scraped strings look like real Google API
// keys before they are stored as candidates.
package validation

import (
	"fmt"
	"regexp"
	"strings"
)

const (
	// KeyPrefix is the lexical signature every Google API key starts with.
	KeyPrefix = "AIza"
	// KeyLength is the exact length of a Google API key.
	KeyLength = 39
	// MinDistinctChars is the minimum number of distinct characters after the prefix.
	MinDistinctChars = 10
)

// denylist holds substrings that mark documentation and test fixtures.
var denylist = []string{
	"test",
	"example",
	"sample",
	"your",
	"xxxx",
	"dummy",
	"fake",
	"placeholder",
	"insert",
	"0000",
}

// KeyPatterns are the expressions used to pull key-shaped substrings out of
// source files. When a pattern has a capture group, the first group is the key.
var KeyPatterns = []*regexp.Regexp{
	regexp.MustCompile(`AIza[0-9A-Za-z_\-]{35}`),
	regexp.MustCompile(`(?i)(?:gemini|google|genai|palm)_?api_?key["']?\s*[:=]\s*["']?(AIza[0-9A-Za-z_\-]{35})`),
	regexp.MustCompile(`(?i)key=(AIza[0-9A-Za-z_\-]{35})`),
}

// isKeyChar returns true if the byte can appear in a key.
func isKeyChar(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9') || b == '_' || b == '-'
}

// ValidateKeyFormat reports why key does not look like a real API key, or nil.
func ValidateKeyFormat(key string) error {
	body, ok := strings.CutPrefix(key, KeyPrefix)
	if !ok {
		return NewValidationError("key", key, fmt.Sprintf("must start with '%s'", KeyPrefix))
	}
	if len(key) != KeyLength {
		return NewValidationError("key", key, fmt.Sprintf("must be %d characters, got %d", KeyLength, len(key)))
	}
	for _, b := range []byte(body) {
		if !isKeyChar(b) {
			return NewValidationError("key", key, "can only contain letters, numbers, '_' or '-'")
		}
	}
	lower := strings.ToLower(body)
	for _, word := range denylist {
		if strings.Contains(lower, word) {
			return NewValidationError("key", key, fmt.Sprintf("contains placeholder text %q", word))
		}
	}
	distinct := make(map[byte]struct{}, len(body))
	for _, b := range []byte(body) {
		distinct[b] = struct{}{}
	}
	if len(distinct) < MinDistinctChars {
		return NewValidationError("key", key, fmt.Sprintf("has only %d distinct characters", len(distinct)))
	}
	return nil
}

// ExtractKeys returns the distinct well-formed keys found in content, in
// order of first appearance.
func ExtractKeys(content string) []string {
	seen := make(map[string]struct{})
	var keys []string
	for _, pattern := range KeyPatterns {
		for _, match := range pattern.FindAllStringSubmatch(content, -1) {
			key := match[0]
			if len(match) > 1 && match[1] != "" {
				key = match[1]
			}
			if _, dup := seen[key]; dup {
				continue
			}
			if ValidateKeyFormat(key) != nil {
				continue
			}
			seen[key] = struct{}{}
			keys = append(keys, key)
		}
	}
	return keys
}
