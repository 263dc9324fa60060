package handler

import (
	"net/http"

	"github.com/bcnelson/keypool-manager/internal/domain"
	"github.com/bcnelson/keypool-manager/internal/storage"
)

// StatsResponse is the body of GET /stats.
type StatsResponse struct {
	Keys  *domain.Stats  `json:"keys"`
	Loops map[string]any `json:"loops,omitempty"`
}

// StatsHandler reports key store and loop counters.
type StatsHandler struct {
	store storage.Storage
	loops map[string]func() any
}

// NewStatsHandler creates a new StatsHandler. loops maps a loop name to a
// function returning its counters.
func NewStatsHandler(store storage.Storage, loops map[string]func() any) *StatsHandler {
	return &StatsHandler{store: store, loops: loops}
}

// Get returns the current stats.
func (h *StatsHandler) Get(w http.ResponseWriter, r *http.Request) {
	stats, err := h.store.Stats(r.Context())
	if err != nil {
		handleError(w, err)
		return
	}
	resp := &StatsResponse{Keys: stats}
	if len(h.loops) > 0 {
		resp.Loops = make(map[string]any, len(h.loops))
		for name, counters := range h.loops {
			resp.Loops[name] = counters()
		}
	}
	respondJSON(w, http.StatusOK, resp)
}
