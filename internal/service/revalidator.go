package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/bcnelson/keypool-manager/internal/domain"
	"github.com/bcnelson/keypool-manager/internal/storage"
	"golang.org/x/sync/errgroup"
)

// EvictionPolicy decides what happens to a working key that fails
// revalidation as invalid.
type EvictionPolicy string

const (
	// EvictionEvict deletes the key.
	EvictionEvict EvictionPolicy = "evict"
	// EvictionRetain keeps the row out of rotation and counts the error.
	EvictionRetain EvictionPolicy = "retain"
)

// ParseEvictionPolicy parses a policy name. The empty string means evict.
func ParseEvictionPolicy(s string) (EvictionPolicy, error) {
	switch EvictionPolicy(s) {
	case "", EvictionEvict:
		return EvictionEvict, nil
	case EvictionRetain:
		return EvictionRetain, nil
	}
	return "", fmt.Errorf("%w: eviction policy %q", domain.ErrInvalidInput, s)
}

// RevalidatorConfig configures the revalidator.
type RevalidatorConfig struct {
	BatchSize   int // Default: 20.
	Concurrency int // parallel validations per batch. Default: 5.
	// MaxKeys caps the due keys handled per cycle. Default: 500.
	MaxKeys int
	// CycleCooldown is both the recheck interval written to every key and
	// the pause between cycles. Default: 30m.
	CycleCooldown time.Duration
	// IdleCooldown is slept when nothing is due. Default: 60s.
	IdleCooldown time.Duration
	Eviction     EvictionPolicy
}

func (c *RevalidatorConfig) defaults() {
	if c.BatchSize <= 0 {
		c.BatchSize = 20
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 5
	}
	if c.MaxKeys <= 0 {
		c.MaxKeys = 500
	}
	if c.CycleCooldown <= 0 {
		c.CycleCooldown = 30 * time.Minute
	}
	if c.IdleCooldown <= 0 {
		c.IdleCooldown = 60 * time.Second
	}
	if c.Eviction == "" {
		c.Eviction = EvictionEvict
	}
}

// RevalidateResult summarizes one revalidator cycle.
type RevalidateResult struct {
	Due       int `json:"due"`
	Refreshed int `json:"refreshed"`
	Demoted   int `json:"demoted"`
	Evicted   int `json:"evicted"`
	Retained  int `json:"retained"`
	// Skipped counts keys whose validation was inconclusive.
	Skipped   int `json:"skipped"`
	Errors    int `json:"errors"`
}

// revalidateCounters is the concurrent-safe form of RevalidateResult.
type revalidateCounters struct {
	refreshed, demoted, evicted, retained, skipped, errors atomic.Int64
}

// Revalidator rechecks working keys whose next check time has passed.
type Revalidator struct {
	store     storage.Storage
	validator KeyValidator
	config    RevalidatorConfig
	logger    *slog.Logger
	now       func() time.Time

	totals revalidateCounters
}

// NewRevalidator creates a Revalidator.
func NewRevalidator(store storage.Storage, validator KeyValidator, cfg RevalidatorConfig, logger *slog.Logger) *Revalidator {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Revalidator{
		store:     store,
		validator: validator,
		config:    cfg,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Cycle adapts RunOnce to a Worker.
func (r *Revalidator) Cycle(ctx context.Context, stop *StopSignal) time.Duration {
	result, err := r.RunOnce(ctx, stop)
	if err != nil || result.Due == 0 {
		return r.config.IdleCooldown
	}
	return r.config.CycleCooldown
}

// RunOnce revalidates the keys due now. Batches run one after another; keys
// inside a batch are validated concurrently.
func (r *Revalidator) RunOnce(ctx context.Context, stop *StopSignal) (RevalidateResult, error) {
	var result RevalidateResult

	due, err := r.store.WorkingKeysDueForRecheck(ctx, r.now(), r.config.MaxKeys)
	if err != nil {
		r.logger.Error("revalidator: fetch due keys", "error", err)
		return result, err
	}
	result.Due = len(due)
	if len(due) == 0 {
		return result, nil
	}

	var counters revalidateCounters
	for start := 0; start < len(due); start += r.config.BatchSize {
		if stop.Stopped() || ctx.Err() != nil {
			break
		}
		end := min(start+r.config.BatchSize, len(due))

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(r.config.Concurrency)
		for _, key := range due[start:end] {
			g.Go(func() error {
				r.revalidate(gctx, key, &counters)
				return nil
			})
		}
		_ = g.Wait()
	}

	result.Refreshed = int(counters.refreshed.Load())
	result.Demoted = int(counters.demoted.Load())
	result.Evicted = int(counters.evicted.Load())
	result.Retained = int(counters.retained.Load())
	result.Skipped = int(counters.skipped.Load())
	result.Errors = int(counters.errors.Load())

	r.totals.refreshed.Add(counters.refreshed.Load())
	r.totals.demoted.Add(counters.demoted.Load())
	r.totals.evicted.Add(counters.evicted.Load())
	r.totals.retained.Add(counters.retained.Load())
	r.totals.skipped.Add(counters.skipped.Load())
	r.totals.errors.Add(counters.errors.Load())

	r.logger.Info("revalidator: cycle done",
		"due", result.Due,
		"refreshed", result.Refreshed,
		"demoted", result.Demoted,
		"evicted", result.Evicted,
		"retained", result.Retained,
		"skipped", result.Skipped,
		"errors", result.Errors)
	return result, nil
}

func (r *Revalidator) revalidate(ctx context.Context, key *domain.WorkingKey, counters *revalidateCounters) {
	result := r.validator.Validate(ctx, key.Key)
	masked := domain.MaskKey(key.Key)

	var err error
	switch {
	case result.Inconclusive:
		// Keep the current status and try again next cycle.
		if err = r.store.UpdateWorkingStatus(ctx, key.Key, key.Status, r.config.CycleCooldown); err == nil {
			err = r.store.IncrementWorkingCounter(ctx, key.Key, domain.CounterError)
			counters.skipped.Add(1)
			r.logger.Warn("revalidator: validation inconclusive", "key", masked)
		}
	case result.Status == domain.StatusValid:
		refreshed := domain.NewWorkingKey(result, key.Source, key.SourceURL, r.now(), r.config.CycleCooldown)
		if err = r.store.UpsertWorking(ctx, refreshed); err == nil {
			counters.refreshed.Add(1)
		}
	case result.Status == domain.StatusQuotaExceeded:
		if err = r.store.RecordWorkingCheck(ctx, key.Key, domain.StatusQuotaExceeded, r.config.CycleCooldown); err == nil {
			err = r.store.IncrementWorkingCounter(ctx, key.Key, domain.CounterQuota)
			counters.demoted.Add(1)
		}
	default:
		if r.config.Eviction == EvictionRetain {
			if err = r.store.IncrementWorkingCounter(ctx, key.Key, domain.CounterError); err == nil {
				err = r.store.RecordWorkingCheck(ctx, key.Key, domain.StatusQuotaExceeded, r.config.CycleCooldown)
				counters.retained.Add(1)
			}
		} else if err = r.store.DeleteWorking(ctx, key.Key); err == nil {
			counters.evicted.Add(1)
			r.logger.Info("revalidator: key evicted", "key", masked)
		}
	}

	if err != nil {
		counters.errors.Add(1)
		r.logger.Warn("revalidator: store outcome", "key", masked, "status", result.Status, "error", err)
	}
}

// Stats returns cumulative outcome counts.
func (r *Revalidator) Stats() RevalidateResult {
	return RevalidateResult{
		Refreshed: int(r.totals.refreshed.Load()),
		Demoted:   int(r.totals.demoted.Load()),
		Evicted:   int(r.totals.evicted.Load()),
		Retained:  int(r.totals.retained.Load()),
		Skipped:   int(r.totals.skipped.Load()),
		Errors:    int(r.totals.errors.Load()),
	}
}
