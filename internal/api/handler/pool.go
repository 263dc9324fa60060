package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/bcnelson/keypool-manager/internal/domain"
)

// KeyPool hands out working keys and records call outcomes.
type KeyPool interface {
	KeyOrFallback(ctx context.Context, capability domain.Capability) (string, error)
	RecordSuccess(ctx context.Context, key string)
	RecordFailure(ctx context.Context, key string, callErr error) domain.ErrorClass
}

// KeyResponse is the body of GET /pool/key.
type KeyResponse struct {
	Key        string            `json:"key"`
	Capability domain.Capability `json:"capability,omitempty"`
}

// ReportRequest is the body of POST /pool/report.
type ReportRequest struct {
	Key     string `json:"key"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// ReportResponse is the response of POST /pool/report.
type ReportResponse struct {
	Class domain.ErrorClass `json:"class,omitempty"`
}

// PoolHandler serves keys to consumers.
type PoolHandler struct {
	pool KeyPool
}

// NewPoolHandler creates a new PoolHandler.
func NewPoolHandler(pool KeyPool) *PoolHandler {
	return &PoolHandler{pool: pool}
}

// Key returns the best key for the requested capability.
func (h *PoolHandler) Key(w http.ResponseWriter, r *http.Request) {
	capability, err := domain.ParseCapability(r.URL.Query().Get("capability"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "unknown capability")
		return
	}
	key, err := h.pool.KeyOrFallback(r.Context(), capability)
	if err != nil {
		handleError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, &KeyResponse{Key: key, Capability: capability})
}

// Report records the outcome of a call made with a pooled key.
func (h *PoolHandler) Report(w http.ResponseWriter, r *http.Request) {
	var req ReportRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Key == "" {
		respondError(w, http.StatusBadRequest, "key is required")
		return
	}
	if req.Success {
		h.pool.RecordSuccess(r.Context(), req.Key)
		respondJSON(w, http.StatusOK, &ReportResponse{})
		return
	}
	if req.Error == "" {
		respondError(w, http.StatusBadRequest, "error is required for a failed call")
		return
	}
	class := h.pool.RecordFailure(r.Context(), req.Key, errors.New(req.Error))
	respondJSON(w, http.StatusOK, &ReportResponse{Class: class})
}
