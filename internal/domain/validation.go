package domain

import "time"

// Capability is a remote feature a key may be able to reach.
type Capability string

const (
	CapText            Capability = "text"
	CapImage           Capability = "image"
	CapVideo           Capability = "video"
	CapAudio           Capability = "audio"
	CapCodeExecution   Capability = "code_execution"
	CapFunctionCalling Capability = "function_calling"
	CapSearchGrounding Capability = "search_grounding"
)

// AllCapabilities lists every capability in a stable order.
var AllCapabilities = []Capability{
	CapText,
	CapImage,
	CapVideo,
	CapAudio,
	CapCodeExecution,
	CapFunctionCalling,
	CapSearchGrounding,
}

// ParseCapability returns the capability with the given name.
func ParseCapability(s string) (Capability, error) {
	if s == "" {
		return "", nil
	}
	for _, c := range AllCapabilities {
		if string(c) == s {
			return c, nil
		}
	}
	return "", ErrInvalidInput
}

// ProbeResult is the outcome of probing one model with a key.
type ProbeResult struct {
	Model        string        `json:"model"`
	Accessible   bool          `json:"accessible"`
	ResponseTime time.Duration `json:"response_time"`
	// Timed is false when the probe never received a response.
	Timed        bool         `json:"timed"`
	ErrorClass   ErrorClass   `json:"error_class,omitempty"`
	ErrorCode    string       `json:"error_code,omitempty"`
	ErrorMessage string       `json:"error_message,omitempty"`
	Features     []Capability `json:"features"`
	MaxTokens    int          `json:"max_tokens"`
}

// ValidationResult aggregates all probes for one key.
type ValidationResult struct {
	Key                   string         `json:"-"`
	IsValid               bool           `json:"is_valid"`
	Status                KeyStatus      `json:"status"`
	// Inconclusive is set when no probe produced a verdict on the key itself,
	// such as when every request failed on the network. Status is then
	// StatusInvalid but must not be acted on.
	Inconclusive          bool           `json:"inconclusive,omitempty"`
	Probes                []*ProbeResult `json:"probes"`
	TotalModelsTested     int            `json:"total_models_tested"`
	TotalModelsAccessible int            `json:"total_models_accessible"`
	AverageResponseTime   time.Duration  `json:"average_response_time"`
	QuotaRemaining        *int           `json:"quota_remaining,omitempty"`
	Capabilities          Capabilities   `json:"capabilities"`
	MaxTokens             int            `json:"max_tokens"`
	BestModel             string         `json:"best_model"`
	ValidatedAt           time.Time      `json:"validated_at"`
}

// SearchToken is an access token for the upstream code search API.
type SearchToken struct {
	ID                 string     `json:"id" db:"id"`
	Name               string     `json:"name" db:"name"`
	Value              string     `json:"-" db:"value"`
	RateLimitRemaining *int       `json:"rate_limit_remaining,omitempty" db:"rate_limit_remaining"`
	RateLimitResetAt   *time.Time `json:"rate_limit_reset_at,omitempty" db:"rate_limit_reset_at"`
	Active             bool       `json:"active" db:"active"`
	CreatedAt          time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at" db:"updated_at"`
}

// Usable reports whether the token is active and not waiting on a reset.
func (t *SearchToken) Usable(now time.Time) bool {
	if !t.Active {
		return false
	}
	return t.RateLimitResetAt == nil || !t.RateLimitResetAt.After(now)
}

// CreateSearchTokenRequest is the request body for registering a token.
type CreateSearchTokenRequest struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// SetActiveRequest toggles a token.
type SetActiveRequest struct {
	Active bool `json:"active"`
}
