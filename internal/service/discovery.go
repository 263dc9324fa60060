package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/bcnelson/keypool-manager/internal/domain"
	"github.com/bcnelson/keypool-manager/internal/scraper"
)

// Discoverer is the scraper as seen by the continuous loop.
type Discoverer interface {
	Discover(ctx context.Context, limit int, opts scraper.Options) ([]domain.ScrapedKey, error)
	QueryCount() int
	QueriesPerRun() int
}

// DiscoveryConfig configures continuous discovery.
type DiscoveryConfig struct {
	// Limit caps new keys per run; zero means no cap.
	Limit    int
	Validate bool
	// Interval is the pause between runs. Default: 10m.
	Interval time.Duration
	// NoTokensCooldown replaces Interval after a run aborted for lack of
	// search tokens. Default: 30m.
	NoTokensCooldown time.Duration
}

func (c *DiscoveryConfig) defaults() {
	if c.Interval <= 0 {
		c.Interval = 10 * time.Minute
	}
	if c.NoTokensCooldown <= 0 {
		c.NoTokensCooldown = 30 * time.Minute
	}
}

// DiscoveryStats are cumulative discovery counters.
type DiscoveryStats struct {
	Runs      int64 `json:"runs"`
	Found     int64 `json:"found"`
	Failures  int64 `json:"failures"`
	NextIndex int   `json:"next_query_index"`
}

// Discovery runs the scraper repeatedly, moving through the query catalog
// one window per run.
type Discovery struct {
	scraper Discoverer
	config  DiscoveryConfig
	logger  *slog.Logger

	mu    sync.Mutex
	stats DiscoveryStats
}

// NewDiscovery creates a Discovery loop.
func NewDiscovery(s Discoverer, cfg DiscoveryConfig, logger *slog.Logger) *Discovery {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Discovery{scraper: s, config: cfg, logger: logger}
}

// Cycle adapts RunOnce to a Worker.
func (d *Discovery) Cycle(ctx context.Context, stop *StopSignal) time.Duration {
	if _, err := d.RunOnce(ctx); errors.Is(err, scraper.ErrNoTokens) {
		return d.config.NoTokensCooldown
	}
	return d.config.Interval
}

// RunOnce runs the scraper on the next query window, persisting what it
// finds, and advances the window.
func (d *Discovery) RunOnce(ctx context.Context) ([]domain.ScrapedKey, error) {
	d.mu.Lock()
	start := d.stats.NextIndex
	d.mu.Unlock()

	found, err := d.scraper.Discover(ctx, d.config.Limit, scraper.Options{
		Validate:        d.config.Validate,
		Persist:         true,
		QueryStartIndex: start,
	})

	d.mu.Lock()
	defer d.mu.Unlock()
	d.stats.Runs++
	d.stats.Found += int64(len(found))
	if total := d.scraper.QueryCount(); total > 0 {
		d.stats.NextIndex = (start + d.scraper.QueriesPerRun()) % total
	}
	if err != nil {
		d.stats.Failures++
		d.logger.Warn("discovery: run failed", "error", err, "found", len(found))
		return found, err
	}
	d.logger.Info("discovery: run done", "found", len(found), "next_index", d.stats.NextIndex)
	return found, nil
}

// Stats returns cumulative counters.
func (d *Discovery) Stats() DiscoveryStats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats
}
