package domain

import (
	"strings"
	"time"
)

// SourceGitHub marks keys discovered through code search.
const SourceGitHub = "github"

// KeyStatus is the lifecycle status of a validated key.
type KeyStatus string

const (
	StatusValid         KeyStatus = "valid"
	StatusQuotaExceeded KeyStatus = "quota_exceeded"
	StatusInvalid       KeyStatus = "invalid"
)

// Counter names a health counter on a working key.
type Counter string

const (
	CounterSuccess Counter = "success_count"
	CounterQuota   Counter = "quota_count"
	CounterError   Counter = "error_count"
)

// CandidateKey is a discovered key that has not been promoted.
type CandidateKey struct {
	ID           string     `json:"id" db:"id"`
	Key          string     `json:"key" db:"key"`
	Source       string     `json:"source" db:"source"`
	SourceURL    string     `json:"source_url" db:"source_url"`
	DiscoveredAt time.Time  `json:"discovered_at" db:"discovered_at"`
	Validated    bool       `json:"validated" db:"validated"`
	ValidatedAt  *time.Time `json:"validated_at,omitempty" db:"validated_at"`
}

// Capabilities are the features a key was observed to reach.
type Capabilities struct {
	Text            bool `json:"text" db:"can_text"`
	Image           bool `json:"image" db:"can_image"`
	Video           bool `json:"video" db:"can_video"`
	Audio           bool `json:"audio" db:"can_audio"`
	CodeExecution   bool `json:"code_execution" db:"can_code_execution"`
	FunctionCalling bool `json:"function_calling" db:"can_function_calling"`
	SearchGrounding bool `json:"search_grounding" db:"can_search_grounding"`
}

// Has reports whether the capability flag is set. The empty capability
// always matches.
func (c Capabilities) Has(capability Capability) bool {
	switch capability {
	case "":
		return true
	case CapText:
		return c.Text
	case CapImage:
		return c.Image
	case CapVideo:
		return c.Video
	case CapAudio:
		return c.Audio
	case CapCodeExecution:
		return c.CodeExecution
	case CapFunctionCalling:
		return c.FunctionCalling
	case CapSearchGrounding:
		return c.SearchGrounding
	}
	return false
}

// Any reports whether at least one flag is set.
func (c Capabilities) Any() bool {
	for _, capability := range AllCapabilities {
		if c.Has(capability) {
			return true
		}
	}
	return false
}

// Set turns on the given capability flag.
func (c *Capabilities) Set(capability Capability) {
	switch capability {
	case CapText:
		c.Text = true
	case CapImage:
		c.Image = true
	case CapVideo:
		c.Video = true
	case CapAudio:
		c.Audio = true
	case CapCodeExecution:
		c.CodeExecution = true
	case CapFunctionCalling:
		c.FunctionCalling = true
	case CapSearchGrounding:
		c.SearchGrounding = true
	}
}

// WorkingKey is a validated key eligible to be served.
type WorkingKey struct {
	Key    string    `json:"key" db:"key"`
	Status KeyStatus `json:"status" db:"status"`
	Capabilities
	MaxTokens       int        `json:"max_tokens" db:"max_tokens"`
	BestModel       string     `json:"best_model" db:"best_model"`
	SuccessCount    int64      `json:"success_count" db:"success_count"`
	QuotaCount      int64      `json:"quota_count" db:"quota_count"`
	ErrorCount      int64      `json:"error_count" db:"error_count"`
	LastValidatedAt *time.Time `json:"last_validated_at,omitempty" db:"last_validated_at"`
	NextCheckAt     *time.Time `json:"next_check_at,omitempty" db:"next_check_at"`
	Source          string     `json:"source" db:"source"`
	SourceURL       string     `json:"source_url" db:"source_url"`
	CreatedAt       time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at" db:"updated_at"`
}

// Due reports whether the key needs revalidation at now.
func (k *WorkingKey) Due(now time.Time) bool {
	return k.NextCheckAt == nil || !k.NextCheckAt.After(now)
}

// NewWorkingKey builds the working row for a validation result. The caller
// must not pass an invalid result.
func NewWorkingKey(result *ValidationResult, source, sourceURL string, now time.Time, recheck time.Duration) *WorkingKey {
	next := now.Add(recheck)
	validated := now
	return &WorkingKey{
		Key:             result.Key,
		Status:          result.Status,
		Capabilities:    result.Capabilities,
		MaxTokens:       result.MaxTokens,
		BestModel:       result.BestModel,
		LastValidatedAt: &validated,
		NextCheckAt:     &next,
		Source:          source,
		SourceURL:       sourceURL,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// ScrapedKey is a key found by the discoverer in a single run.
type ScrapedKey struct {
	Key          string            `json:"key"`
	Source       string            `json:"source"`
	SourceURL    string            `json:"source_url"`
	Repository   string            `json:"repository"`
	FilePath     string            `json:"file_path"`
	Query        string            `json:"query"`
	DiscoveredAt time.Time         `json:"discovered_at"`
	Validation   *ValidationResult `json:"validation,omitempty"`
}

// Candidate converts a scraped key into a candidate row.
func (s *ScrapedKey) Candidate(id string) *CandidateKey {
	return &CandidateKey{
		ID:           id,
		Key:          s.Key,
		Source:       s.Source,
		SourceURL:    s.SourceURL,
		DiscoveredAt: s.DiscoveredAt,
	}
}

// MaskKey shortens a key for logging.
func MaskKey(key string) string {
	if len(key) <= 12 {
		return strings.Repeat("*", len(key))
	}
	return key[:8] + "..." + key[len(key)-4:]
}

// Stats are aggregate counts over both key populations.
type Stats struct {
	TotalScraped      int                `json:"total_scraped"`
	TotalValidated    int                `json:"total_validated"`
	PendingCandidates int                `json:"pending_candidates"`
	WorkingTotal      int                `json:"working_total"`
	Valid             int                `json:"valid"`
	QuotaExceeded     int                `json:"quota_exceeded"`
	Capabilities      map[Capability]int `json:"capabilities"`
	SearchTokens      int                `json:"search_tokens"`
	ActiveTokens      int                `json:"active_search_tokens"`
}
