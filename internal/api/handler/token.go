package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/bcnelson/keypool-manager/internal/domain"
	"github.com/bcnelson/keypool-manager/internal/storage"
	"github.com/bcnelson/keypool-manager/internal/validation"
	"github.com/go-chi/chi/v5"
)

// TokenRefresher reloads the in-memory token rotation.
type TokenRefresher interface {
	Refresh(ctx context.Context) error
}

// TokenHandler handles search token endpoints.
type TokenHandler struct {
	store   storage.Storage
	rotator TokenRefresher
	logger  *slog.Logger
}

// NewTokenHandler creates a new TokenHandler. rotator may be nil.
func NewTokenHandler(store storage.Storage, rotator TokenRefresher, logger *slog.Logger) *TokenHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &TokenHandler{store: store, rotator: rotator, logger: logger}
}

// Create registers a search token, or replaces the value of the token with
// the same name.
func (h *TokenHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateSearchTokenRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if errs := validation.ValidateSearchToken(req.Name, req.Value); errs.HasErrors() {
		respondValidationErrors(w, errs)
		return
	}

	now := time.Now().UTC()
	token := &domain.SearchToken{
		ID:        generateID(),
		Name:      req.Name,
		Value:     req.Value,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := h.store.UpsertSearchToken(r.Context(), token); err != nil {
		handleError(w, err)
		return
	}
	h.refresh(r.Context())

	stored, err := h.findByName(r.Context(), req.Name)
	if err != nil {
		handleError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, stored)
}

// List lists all search tokens without their values.
func (h *TokenHandler) List(w http.ResponseWriter, r *http.Request) {
	tokens, err := h.store.ListSearchTokens(r.Context())
	if err != nil {
		handleError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, tokens)
}

// SetActive enables or disables a token.
func (h *TokenHandler) SetActive(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req domain.SetActiveRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.store.SetSearchTokenActive(r.Context(), id, req.Active); err != nil {
		handleError(w, err)
		return
	}
	h.refresh(r.Context())

	token, err := h.store.GetSearchToken(r.Context(), id)
	if err != nil {
		handleError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, token)
}

// Delete deletes a token.
func (h *TokenHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.store.DeleteSearchToken(r.Context(), id); err != nil {
		handleError(w, err)
		return
	}
	h.refresh(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

func (h *TokenHandler) findByName(ctx context.Context, name string) (*domain.SearchToken, error) {
	tokens, err := h.store.ListSearchTokens(ctx)
	if err != nil {
		return nil, err
	}
	for _, t := range tokens {
		if t.Name == name {
			return t, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (h *TokenHandler) refresh(ctx context.Context) {
	if h.rotator == nil {
		return
	}
	if err := h.rotator.Refresh(ctx); err != nil {
		h.logger.Warn("api: refresh token rotation", "error", err)
	}
}
