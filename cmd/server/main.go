package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/bcnelson/keypool-manager/internal/api"
	"github.com/bcnelson/keypool-manager/internal/config"
	"github.com/bcnelson/keypool-manager/internal/domain"
	"github.com/bcnelson/keypool-manager/internal/github"
	"github.com/bcnelson/keypool-manager/internal/logging"
	"github.com/bcnelson/keypool-manager/internal/pool"
	"github.com/bcnelson/keypool-manager/internal/rotator"
	"github.com/bcnelson/keypool-manager/internal/scraper"
	"github.com/bcnelson/keypool-manager/internal/service"
	"github.com/bcnelson/keypool-manager/internal/storage"
	"github.com/bcnelson/keypool-manager/internal/storage/sql"
	"github.com/bcnelson/keypool-manager/internal/validator"
	"github.com/google/uuid"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := logging.New(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(logger)

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Create data directory if needed (for SQLite)
	if cfg.Database.Driver == "sqlite3" {
		if dir := filepath.Dir(cfg.Database.DSN); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return err
			}
		}
	}

	// Initialize storage
	store, err := sql.New(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := seedTokens(ctx, store, cfg.GitHub.Tokens, logger); err != nil {
		return err
	}

	tokens := rotator.New(store, cfg.GitHub.TokenRefresh, logger)
	if err := tokens.Refresh(ctx); err != nil {
		return err
	}

	searchClient := github.New(github.Config{
		APIURL:      cfg.GitHub.APIURL,
		RawURL:      cfg.GitHub.RawURL,
		Timeout:     cfg.GitHub.Timeout,
		MaxFileSize: cfg.GitHub.MaxFileSize,
	})

	keyValidator := validator.New(validator.Config{
		BaseURL: cfg.Gemini.BaseURL,
		Timeout: cfg.Gemini.ProbeTimeout,
	}, logger)

	keyScraper := scraper.New(searchClient, tokens, store, keyValidator, scraper.Config{
		MaxPages:      cfg.Scraper.MaxPages,
		QueriesPerRun: cfg.Scraper.QueriesPerRun,
		TokenCooldown: cfg.GitHub.RateLimitCooldown,
		FetchTimeout:  cfg.Scraper.FetchTimeout,
		Recheck:       cfg.Processor.Recheck,
	}, logger)

	eviction, err := service.ParseEvictionPolicy(cfg.Revalidator.Eviction)
	if err != nil {
		return err
	}

	processor := service.NewProcessor(store, keyValidator, service.ProcessorConfig{
		BatchSize:    cfg.Processor.BatchSize,
		KeyDelay:     cfg.Processor.KeyDelay,
		IdleCooldown: cfg.Processor.IdleCooldown,
		Recheck:      cfg.Processor.Recheck,
	}, logger)

	revalidator := service.NewRevalidator(store, keyValidator, service.RevalidatorConfig{
		BatchSize:     cfg.Revalidator.BatchSize,
		Concurrency:   cfg.Revalidator.Concurrency,
		MaxKeys:       cfg.Revalidator.MaxKeys,
		CycleCooldown: cfg.Revalidator.CycleCooldown,
		IdleCooldown:  cfg.Revalidator.IdleCooldown,
		Eviction:      eviction,
	}, logger)

	discovery := service.NewDiscovery(keyScraper, service.DiscoveryConfig{
		Limit:    cfg.Scraper.Limit,
		Validate: cfg.Scraper.Validate,
		Interval: cfg.Scraper.Interval,
	}, logger)

	keyPool := pool.New(store, pool.Config{
		Fallback:     cfg.Pool.FallbackKey,
		QuotaRecheck: cfg.Pool.QuotaRecheck,
	}, logger)

	supervisor := service.NewSupervisor(logger)
	supervisor.Register(service.NewWorker(service.WorkerProcessor, processor.Cycle, logger), cfg.Processor.Enabled)
	supervisor.Register(service.NewWorker(service.WorkerRevalidator, revalidator.Cycle, logger), cfg.Revalidator.Enabled)
	supervisor.Register(service.NewWorker(service.WorkerDiscovery, discovery.Cycle, logger), cfg.Scraper.Enabled)

	// Create router
	router := api.NewRouter(api.Deps{
		Store:      store,
		Workers:    supervisor,
		Tokens:     tokens,
		Discoverer: keyScraper,
		Pool:       keyPool,
		Loops: map[string]func() any{
			service.WorkerProcessor:   func() any { return processor.Stats() },
			service.WorkerRevalidator: func() any { return revalidator.Stats() },
			service.WorkerDiscovery:   func() any { return discovery.Stats() },
		},
		AdminKey: cfg.Server.AdminAPIKey,
		Logger:   logger,
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 10 * time.Minute, // ad-hoc discovery runs are long
		IdleTimeout:  120 * time.Second,
	}

	if err := supervisor.Start(ctx); err != nil {
		return err
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("starting key pool manager", "addr", cfg.Server.Addr(), "tokens", tokens.Len())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	var errs []error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-serverErr:
		if err != nil {
			errs = append(errs, err)
		}
	}

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, err)
	}
	if err := supervisor.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, err)
	}
	logger.Info("server stopped")
	return errors.Join(errs...)
}

// seedTokens upserts the configured search tokens. Existing tokens with the
// same name get the configured value.
func seedTokens(ctx context.Context, store storage.Storage, raw string, logger *slog.Logger) error {
	parsed, err := config.ParseTokens(raw)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	for _, t := range parsed {
		err := store.UpsertSearchToken(ctx, &domain.SearchToken{
			ID:        uuid.New().String(),
			Name:      t.Name,
			Value:     t.Value,
			Active:    true,
			CreatedAt: now,
			UpdatedAt: now,
		})
		if err != nil {
			return err
		}
	}
	if len(parsed) > 0 {
		logger.Info("seeded search tokens", "count", len(parsed))
	}
	return nil
}
