package api

import (
	"log/slog"
	"net/http"

	"github.com/bcnelson/keypool-manager/internal/api/handler"
	"github.com/bcnelson/keypool-manager/internal/api/middleware"
	"github.com/bcnelson/keypool-manager/internal/storage"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

// Deps are the components the admin API exposes.
type Deps struct {
	Store      storage.Storage
	Workers    handler.WorkerController
	Tokens     handler.TokenRefresher
	Discoverer handler.KeyDiscoverer
	Pool       handler.KeyPool
	// Loops maps a loop name to a function returning its counters.
	Loops map[string]func() any

	AdminKey         string
	MaxDiscoverLimit int
	Logger           *slog.Logger
}

// NewRouter creates a new HTTP router with all routes configured.
func NewRouter(deps Deps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(middleware.Logging(logger))

	// Health check (no auth required)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	// API routes (auth required, JSON Content-Type)
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.ContentType)
		r.Use(middleware.Auth(deps.AdminKey))

		statsHandler := handler.NewStatsHandler(deps.Store, deps.Loops)
		r.Get("/stats", statsHandler.Get)

		if deps.Workers != nil {
			workerHandler := handler.NewWorkerHandler(deps.Workers)
			r.Get("/workers", workerHandler.List)
			r.Route("/workers/{name}", func(r chi.Router) {
				r.Post("/start", workerHandler.Start)
				r.Post("/stop", workerHandler.Stop)
				r.Post("/restart", workerHandler.Restart)
			})
		}

		if deps.Discoverer != nil {
			discoverHandler := handler.NewDiscoverHandler(deps.Discoverer, deps.MaxDiscoverLimit)
			r.Post("/discover", discoverHandler.Discover)
		}

		// Search tokens
		tokenHandler := handler.NewTokenHandler(deps.Store, deps.Tokens, logger)
		r.Post("/tokens", tokenHandler.Create)
		r.Get("/tokens", tokenHandler.List)
		r.Put("/tokens/{id}/active", tokenHandler.SetActive)
		r.Delete("/tokens/{id}", tokenHandler.Delete)

		if deps.Pool != nil {
			poolHandler := handler.NewPoolHandler(deps.Pool)
			r.Get("/pool/key", poolHandler.Key)
			r.Post("/pool/report", poolHandler.Report)
		}
	})

	return r
}
