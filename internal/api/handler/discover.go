package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/bcnelson/keypool-manager/internal/domain"
	"github.com/bcnelson/keypool-manager/internal/scraper"
)

// KeyDiscoverer runs a discovery pass.
type KeyDiscoverer interface {
	Discover(ctx context.Context, limit int, opts scraper.Options) ([]domain.ScrapedKey, error)
}

// DiscoverRequest is the body of POST /discover.
type DiscoverRequest struct {
	Limit           int   `json:"limit"`
	Validate        bool  `json:"validate"`
	Persist         *bool `json:"persist,omitempty"`
	QueryStartIndex int   `json:"query_start_index"`
	QueriesPerRun   int   `json:"queries_per_run"`
}

// DiscoveredKey is a discovered key with its value masked.
type DiscoveredKey struct {
	Key        string                   `json:"key"`
	Source     string                   `json:"source"`
	SourceURL  string                   `json:"source_url"`
	Repository string                   `json:"repository"`
	FilePath   string                   `json:"file_path"`
	Query      string                   `json:"query"`
	Validation *domain.ValidationResult `json:"validation,omitempty"`
}

// DiscoverResponse is the response of POST /discover.
type DiscoverResponse struct {
	Count int              `json:"count"`
	Keys  []*DiscoveredKey `json:"keys"`
}

// DiscoverHandler triggers on-demand discovery.
type DiscoverHandler struct {
	discoverer KeyDiscoverer
	maxLimit   int
}

// NewDiscoverHandler creates a new DiscoverHandler. maxLimit caps the
// number of keys a single request may ask for.
func NewDiscoverHandler(d KeyDiscoverer, maxLimit int) *DiscoverHandler {
	if maxLimit <= 0 {
		maxLimit = 500
	}
	return &DiscoverHandler{discoverer: d, maxLimit: maxLimit}
}

// Discover runs one discovery pass and returns the keys found.
func (h *DiscoverHandler) Discover(w http.ResponseWriter, r *http.Request) {
	var req DiscoverRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Limit <= 0 || req.Limit > h.maxLimit {
		respondError(w, http.StatusBadRequest, "limit must be between 1 and the configured maximum")
		return
	}
	if req.QueryStartIndex < 0 || req.QueriesPerRun < 0 {
		respondError(w, http.StatusBadRequest, "query window must not be negative")
		return
	}

	persist := true
	if req.Persist != nil {
		persist = *req.Persist
	}
	keys, err := h.discoverer.Discover(r.Context(), req.Limit, scraper.Options{
		Validate:        req.Validate,
		Persist:         persist,
		QueryStartIndex: req.QueryStartIndex,
		QueriesPerRun:   req.QueriesPerRun,
	})
	if errors.Is(err, scraper.ErrNoTokens) {
		respondError(w, http.StatusServiceUnavailable, "no search token available")
		return
	}
	if err != nil {
		handleError(w, err)
		return
	}

	resp := &DiscoverResponse{Count: len(keys), Keys: make([]*DiscoveredKey, 0, len(keys))}
	for _, k := range keys {
		resp.Keys = append(resp.Keys, &DiscoveredKey{
			Key:        domain.MaskKey(k.Key),
			Source:     k.Source,
			SourceURL:  k.SourceURL,
			Repository: k.Repository,
			FilePath:   k.FilePath,
			Query:      k.Query,
			Validation: k.Validation,
		})
	}
	respondJSON(w, http.StatusOK, resp)
}
