// Package pool selects working keys for consumers and reports call outcomes
// back to the key store.
package pool

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/bcnelson/keypool-manager/internal/domain"
)

// KeyStore is the part of the key store the pool uses.
type KeyStore interface {
	ListServableKeys(ctx context.Context, capability domain.Capability, limit int) ([]*domain.WorkingKey, error)
	UpdateWorkingStatus(ctx context.Context, key string, status domain.KeyStatus, nextCheckIn time.Duration) error
	IncrementWorkingCounter(ctx context.Context, key string, counter domain.Counter) error
	DeleteWorking(ctx context.Context, key string) error
}

// Config configures the pool.
type Config struct {
	// Fallback is served by KeyOrFallback while the pool is empty.
	Fallback string
	// Window is how many ranked keys are considered per selection. Default: 50.
	Window int
	// QuotaRecheck is when a key demoted for quota is looked at again.
	// Default: 30m.
	QuotaRecheck time.Duration
}

func (c *Config) defaults() {
	if c.Window <= 0 {
		c.Window = 50
	}
	if c.QuotaRecheck <= 0 {
		c.QuotaRecheck = 30 * time.Minute
	}
}

// Pool hands out the healthiest working key for a capability.
type Pool struct {
	store  KeyStore
	config Config
	logger *slog.Logger
}

// New creates a Pool.
func New(store KeyStore, cfg Config, logger *slog.Logger) *Pool {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{store: store, config: cfg, logger: logger}
}

// KeyFor returns the best valid key with the capability, ranked by success
// count descending then quota count ascending. The empty capability matches
// any key. It returns domain.ErrPoolEmpty when nothing qualifies.
func (p *Pool) KeyFor(ctx context.Context, capability domain.Capability) (*domain.WorkingKey, error) {
	return p.keyExcluding(ctx, capability, nil)
}

func (p *Pool) keyExcluding(ctx context.Context, capability domain.Capability, used map[string]struct{}) (*domain.WorkingKey, error) {
	keys, err := p.store.ListServableKeys(ctx, capability, p.config.Window)
	if err != nil {
		return nil, err
	}
	for _, k := range keys {
		if _, skip := used[k.Key]; !skip {
			return k, nil
		}
	}
	return nil, domain.ErrPoolEmpty
}

// KeyOrFallback returns a pooled key, or the configured fallback when the
// pool is empty.
func (p *Pool) KeyOrFallback(ctx context.Context, capability domain.Capability) (string, error) {
	k, err := p.KeyFor(ctx, capability)
	if err == nil {
		return k.Key, nil
	}
	if errors.Is(err, domain.ErrPoolEmpty) && p.config.Fallback != "" {
		p.logger.Debug("pool: serving fallback key", "capability", capability)
		return p.config.Fallback, nil
	}
	return "", err
}

// RecordSuccess counts a successful call made with key.
func (p *Pool) RecordSuccess(ctx context.Context, key string) {
	if err := p.store.IncrementWorkingCounter(ctx, key, domain.CounterSuccess); err != nil && !errors.Is(err, domain.ErrNotFound) {
		p.logger.Warn("pool: record success", "key", domain.MaskKey(key), "error", err)
	}
}

// RecordFailure classifies a failed call made with key and updates the key:
// quota errors take it out of rotation, invalid-key errors delete it, and
// anything else counts as an error while leaving it in rotation.
func (p *Pool) RecordFailure(ctx context.Context, key string, callErr error) domain.ErrorClass {
	class := domain.ClassifyError(callErr)
	masked := domain.MaskKey(key)

	var err error
	switch class {
	case domain.ClassQuota:
		if err = p.store.UpdateWorkingStatus(ctx, key, domain.StatusQuotaExceeded, p.config.QuotaRecheck); err == nil {
			err = p.store.IncrementWorkingCounter(ctx, key, domain.CounterQuota)
		}
		p.logger.Info("pool: key over quota", "key", masked)
	case domain.ClassInvalidKey:
		err = p.store.DeleteWorking(ctx, key)
		p.logger.Info("pool: key evicted", "key", masked)
	default:
		err = p.store.IncrementWorkingCounter(ctx, key, domain.CounterError)
		p.logger.Debug("pool: call failed", "key", masked, "class", class, "error", callErr)
	}
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		p.logger.Warn("pool: record failure", "key", masked, "class", class, "error", err)
	}
	return class
}
