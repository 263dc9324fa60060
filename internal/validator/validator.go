// Package validator probes a key against a catalog of remote models and
// derives its capabilities and status.
package validator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/bcnelson/keypool-manager/internal/domain"
	"golang.org/x/sync/errgroup"
)

// DefaultBaseURL is the Gemini API root.
const DefaultBaseURL = "https://generativelanguage.googleapis.com"

// quotaHeaders are checked in order on the metadata response.
var quotaHeaders = []string{
	"x-quota-remaining",
	"x-ratelimit-remaining",
	"x-ratelimit-remaining-requests",
}

// probeBody is the smallest request every catalog model accepts.
var probeBody = []byte(`{"contents":[{"role":"user","parts":[{"text":"Hi"}]}],"generationConfig":{"maxOutputTokens":1}}`)

// Config configures the validator.
type Config struct {
	BaseURL string
	// Timeout bounds each probe. Default: 15s.
	Timeout time.Duration
	Catalog []Model
}

func (c *Config) defaults() {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.Timeout <= 0 {
		c.Timeout = 15 * time.Second
	}
	if len(c.Catalog) == 0 {
		c.Catalog = DefaultCatalog
	}
}

// Validator checks keys against the model catalog.
type Validator struct {
	http   *http.Client
	config Config
	logger *slog.Logger
	now    func() time.Time
}

// New creates a Validator.
func New(cfg Config, logger *slog.Logger) *Validator {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Validator{
		http:   &http.Client{Timeout: cfg.Timeout},
		config: cfg,
		logger: logger,
		now:    time.Now,
	}
}

// Catalog returns the models probed for each key.
func (v *Validator) Catalog() []Model {
	return v.config.Catalog
}

// Validate probes every catalog model in parallel and aggregates the
// outcome. It always returns a result; network failures only make the
// affected probes inaccessible.
func (v *Validator) Validate(ctx context.Context, key string) *domain.ValidationResult {
	probes := make([]*domain.ProbeResult, len(v.config.Catalog))
	var quota *int

	var g errgroup.Group
	for i, model := range v.config.Catalog {
		g.Go(func() error {
			probes[i] = v.probe(ctx, key, model)
			return nil
		})
	}
	g.Go(func() error {
		quota = v.quotaRemaining(ctx, key)
		return nil
	})
	_ = g.Wait()

	result := Aggregate(key, probes, quota)
	result.ValidatedAt = v.now().UTC()
	v.logger.Debug("validator: key validated",
		"key", domain.MaskKey(key),
		"status", result.Status,
		"accessible", result.TotalModelsAccessible,
		"tested", result.TotalModelsTested,
		"avg_response_ms", result.AverageResponseTime.Milliseconds())
	return result
}

func (v *Validator) probe(ctx context.Context, key string, model Model) *domain.ProbeResult {
	result := &domain.ProbeResult{
		Model:     model.Name,
		Features:  model.Features,
		MaxTokens: model.MaxTokens,
	}

	endpoint := fmt.Sprintf("%s/v1beta/models/%s:%s?key=%s",
		v.config.BaseURL, url.PathEscape(model.Name), model.Endpoint, url.QueryEscape(key))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(probeBody))
	if err != nil {
		result.ErrorClass = domain.ClassUnknown
		result.ErrorMessage = err.Error()
		return result
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := v.http.Do(req)
	if err != nil {
		result.ErrorClass = domain.ClassTransient
		result.ErrorMessage = redact(err.Error(), key)
		return result
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	result.ResponseTime = time.Since(start)
	result.Timed = true

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		result.Accessible = true
		return result
	}
	kerr := ClassifyResponse(resp.StatusCode, body)
	result.ErrorClass = kerr.Class
	result.ErrorCode = kerr.Code
	result.ErrorMessage = kerr.Message
	return result
}

// quotaRemaining reads the optional quota headers from the model listing
// endpoint. A nil result means no signal, which is the common case.
func (v *Validator) quotaRemaining(ctx context.Context, key string) *int {
	endpoint := fmt.Sprintf("%s/v1beta/models?pageSize=1&key=%s", v.config.BaseURL, url.QueryEscape(key))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil
	}
	resp, err := v.http.Do(req)
	if err != nil {
		return nil
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	for _, h := range quotaHeaders {
		if raw := resp.Header.Get(h); raw != "" {
			if n, err := strconv.Atoi(strings.TrimSpace(raw)); err == nil {
				return &n
			}
		}
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		zero := 0
		return &zero
	}
	return nil
}

// Aggregate folds probe results into a validation result. Probes must be in
// catalog order; ties for the best model go to the earlier entry. A result
// with no access, no quota signal and no invalid-key verdict is inconclusive
// when any probe failed transiently.
func Aggregate(key string, probes []*domain.ProbeResult, quotaRemaining *int) *domain.ValidationResult {
	result := &domain.ValidationResult{
		Key:               key,
		Probes:            probes,
		TotalModelsTested: len(probes),
		QuotaRemaining:    quotaRemaining,
	}

	var total time.Duration
	samples := 0
	sawQuota, sawInvalid, sawTransient := false, false, false
	for _, p := range probes {
		if p == nil {
			continue
		}
		if p.Timed {
			total += p.ResponseTime
			samples++
		}
		switch p.ErrorClass {
		case domain.ClassQuota:
			sawQuota = true
		case domain.ClassInvalidKey:
			sawInvalid = true
		case domain.ClassTransient:
			sawTransient = true
		}
		if !p.Accessible {
			continue
		}
		result.TotalModelsAccessible++
		for _, f := range p.Features {
			result.Capabilities.Set(f)
		}
		if p.MaxTokens > result.MaxTokens {
			result.MaxTokens = p.MaxTokens
			result.BestModel = p.Model
		}
	}
	if samples > 0 {
		result.AverageResponseTime = total / time.Duration(samples)
	}

	result.IsValid = result.TotalModelsAccessible > 0
	switch {
	case quotaRemaining != nil && *quotaRemaining == 0:
		result.Status = domain.StatusQuotaExceeded
	case result.IsValid:
		result.Status = domain.StatusValid
	case sawQuota:
		result.Status = domain.StatusQuotaExceeded
	case sawTransient && !sawInvalid:
		result.Status = domain.StatusInvalid
		result.Inconclusive = true
	default:
		result.Status = domain.StatusInvalid
	}
	return result
}

// googleError is the error envelope returned by Google APIs.
type googleError struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
		Details []struct {
			Reason string `json:"reason"`
		} `json:"details"`
	} `json:"error"`
}

// ClassifyResponse turns a non-2xx model API response into a KeyError.
func ClassifyResponse(statusCode int, body []byte) *domain.KeyError {
	kerr := &domain.KeyError{StatusCode: statusCode}

	var envelope googleError
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		kerr.Message = envelope.Error.Message
		kerr.Code = envelope.Error.Status
		for _, d := range envelope.Error.Details {
			if d.Reason != "" {
				kerr.Code = d.Reason
				break
			}
		}
	} else {
		kerr.Message = strings.TrimSpace(string(body))
		if len(kerr.Message) > 200 {
			kerr.Message = kerr.Message[:200]
		}
	}

	switch kerr.Code {
	case "API_KEY_INVALID", "API_KEY_EXPIRED", "API_KEY_SERVICE_BLOCKED", "API_KEY_HTTP_REFERRER_BLOCKED",
		"API_KEY_IP_ADDRESS_BLOCKED", "API_KEY_ANDROID_APP_BLOCKED", "API_KEY_IOS_APP_BLOCKED", "SERVICE_DISABLED":
		kerr.Class = domain.ClassInvalidKey
		return kerr
	case "RESOURCE_EXHAUSTED", "RATE_LIMIT_EXCEEDED":
		kerr.Class = domain.ClassQuota
		return kerr
	}

	switch {
	case statusCode == http.StatusTooManyRequests:
		kerr.Class = domain.ClassQuota
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		kerr.Class = domain.ClassInvalidKey
	case statusCode == http.StatusNotFound:
		kerr.Class = domain.ClassUnavailable
	case statusCode >= 500:
		kerr.Class = domain.ClassTransient
	default:
		// Fall back to the message text when the response carries no reason.
		kerr.Class = domain.ClassifyMessage(kerr.Message)
	}
	return kerr
}

// redact removes the key from error text that embeds the request URL.
func redact(s, key string) string {
	if key == "" {
		return s
	}
	return strings.ReplaceAll(s, url.QueryEscape(key), domain.MaskKey(key))
}
