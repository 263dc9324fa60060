package handler

import (
	"context"
	"net/http"

	"github.com/bcnelson/keypool-manager/internal/service"
	"github.com/go-chi/chi/v5"
)

// WorkerController starts and stops background workers by name.
type WorkerController interface {
	Statuses() []service.WorkerStatus
	Status(name string) (service.WorkerStatus, error)
	StartWorker(name string) error
	StopWorker(ctx context.Context, name string) error
	RestartWorker(ctx context.Context, name string) error
}

// WorkerHandler handles worker lifecycle endpoints.
type WorkerHandler struct {
	workers WorkerController
}

// NewWorkerHandler creates a new WorkerHandler.
func NewWorkerHandler(workers WorkerController) *WorkerHandler {
	return &WorkerHandler{workers: workers}
}

// List returns the status of every worker.
func (h *WorkerHandler) List(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.workers.Statuses())
}

// Start starts a worker.
func (h *WorkerHandler) Start(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	h.respond(w, name, h.workers.StartWorker(name))
}

// Stop stops a worker, waiting for its current cycle to finish.
func (h *WorkerHandler) Stop(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	h.respond(w, name, h.workers.StopWorker(r.Context(), name))
}

// Restart restarts a worker.
func (h *WorkerHandler) Restart(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	h.respond(w, name, h.workers.RestartWorker(r.Context(), name))
}

func (h *WorkerHandler) respond(w http.ResponseWriter, name string, err error) {
	if err != nil {
		handleError(w, err)
		return
	}
	status, err := h.workers.Status(name)
	if err != nil {
		handleError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, status)
}
