package service

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/bcnelson/keypool-manager/internal/domain"
	"github.com/bcnelson/keypool-manager/internal/storage"
)

var errInconclusive = errors.New("validation inconclusive")

// KeyValidator validates a key against the model catalog.
type KeyValidator interface {
	Validate(ctx context.Context, key string) *domain.ValidationResult
}

// ProcessorConfig configures the candidate processor.
type ProcessorConfig struct {
	BatchSize int           // Default: 10.
	KeyDelay  time.Duration // pause between keys; negative disables. Default: 1s.
	// IdleCooldown is slept when no candidate is pending. Default: 60s.
	IdleCooldown time.Duration
	// Recheck schedules the first revalidation of promoted keys. Default: 5m.
	Recheck time.Duration
}

func (c *ProcessorConfig) defaults() {
	if c.BatchSize <= 0 {
		c.BatchSize = 10
	}
	if c.KeyDelay < 0 {
		c.KeyDelay = 0
	} else if c.KeyDelay == 0 {
		c.KeyDelay = time.Second
	}
	if c.IdleCooldown <= 0 {
		c.IdleCooldown = 60 * time.Second
	}
	if c.Recheck <= 0 {
		c.Recheck = 5 * time.Minute
	}
}

// ProcessResult summarizes one processor cycle.
type ProcessResult struct {
	Fetched   int `json:"fetched"`
	Validated int `json:"validated"`
	Promoted  int `json:"promoted"`
	Rejected  int `json:"rejected"`
	// Skipped counts candidates left pending after an inconclusive validation.
	Skipped   int `json:"skipped"`
	Errors    int `json:"errors"`
}

// ProcessorStats are cumulative processor counters.
type ProcessorStats struct {
	Validated int64 `json:"validated"`
	Promoted  int64 `json:"promoted"`
	Skipped   int64 `json:"skipped"`
	Errors    int64 `json:"errors"`
}

// Processor validates pending candidates one at a time and promotes the
// usable ones into the working pool.
type Processor struct {
	store     storage.Storage
	validator KeyValidator
	config    ProcessorConfig
	logger    *slog.Logger
	now       func() time.Time

	validated atomic.Int64
	promoted  atomic.Int64
	skipped   atomic.Int64
	errors    atomic.Int64
}

// NewProcessor creates a Processor.
func NewProcessor(store storage.Storage, validator KeyValidator, cfg ProcessorConfig, logger *slog.Logger) *Processor {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		store:     store,
		validator: validator,
		config:    cfg,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Cycle adapts RunOnce to a Worker.
func (p *Processor) Cycle(ctx context.Context, stop *StopSignal) time.Duration {
	result, err := p.RunOnce(ctx, stop)
	if err != nil || result.Fetched == 0 || result.Skipped == result.Fetched {
		return p.config.IdleCooldown
	}
	return p.config.KeyDelay
}

// RunOnce validates one batch of pending candidates in order. Per-key
// failures are counted, never returned; only a failure to fetch the batch is.
func (p *Processor) RunOnce(ctx context.Context, stop *StopSignal) (ProcessResult, error) {
	var result ProcessResult

	batch, err := p.store.PendingCandidates(ctx, p.config.BatchSize)
	if err != nil {
		p.errors.Add(1)
		p.logger.Error("processor: fetch pending candidates", "error", err)
		return result, err
	}
	result.Fetched = len(batch)

	for i, candidate := range batch {
		if stop.Stopped() || ctx.Err() != nil {
			break
		}
		if i > 0 && !stop.Sleep(ctx, p.config.KeyDelay) {
			break
		}

		promoted, err := p.process(ctx, candidate)
		if errors.Is(err, errInconclusive) {
			result.Skipped++
			p.skipped.Add(1)
			p.logger.Warn("processor: validation inconclusive", "key", domain.MaskKey(candidate.Key))
			continue
		}
		if err != nil {
			result.Errors++
			p.errors.Add(1)
			p.logger.Warn("processor: key failed", "key", domain.MaskKey(candidate.Key), "error", err)
			continue
		}
		result.Validated++
		p.validated.Add(1)
		if promoted {
			result.Promoted++
			p.promoted.Add(1)
		} else {
			result.Rejected++
		}
	}

	if result.Fetched > 0 {
		p.logger.Info("processor: batch done",
			"fetched", result.Fetched,
			"promoted", result.Promoted,
			"rejected", result.Rejected,
			"skipped", result.Skipped,
			"errors", result.Errors)
	}
	return result, nil
}

func (p *Processor) process(ctx context.Context, candidate *domain.CandidateKey) (bool, error) {
	result := p.validator.Validate(ctx, candidate.Key)
	if result.Inconclusive {
		return false, errInconclusive
	}

	var working *domain.WorkingKey
	if result.Status != domain.StatusInvalid {
		working = domain.NewWorkingKey(result, candidate.Source, candidate.SourceURL, p.now(), p.config.Recheck)
	}
	if err := storage.Promote(ctx, p.store, working, candidate.Key); err != nil {
		return false, err
	}

	p.logger.Debug("processor: key validated",
		"key", domain.MaskKey(candidate.Key),
		"status", result.Status,
		"accessible", result.TotalModelsAccessible)
	return working != nil, nil
}

// Stats returns cumulative counters.
func (p *Processor) Stats() ProcessorStats {
	return ProcessorStats{
		Validated: p.validated.Load(),
		Promoted:  p.promoted.Load(),
		Skipped:   p.skipped.Load(),
		Errors:    p.errors.Load(),
	}
}
