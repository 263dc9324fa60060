// Package rotator keeps the pool of code-search access tokens and rotates
// between them as they hit rate limits.
package rotator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/bcnelson/keypool-manager/internal/domain"
)

// DefaultRefreshInterval is how long the in-memory token list is trusted
// before it is reloaded from the store.
const DefaultRefreshInterval = 2 * time.Minute

// TokenStore is the subset of the key store the rotator needs.
type TokenStore interface {
	ListActiveSearchTokens(ctx context.Context, now time.Time) ([]*domain.SearchToken, error)
	UpdateSearchTokenRateLimit(ctx context.Context, id string, remaining *int, resetAt *time.Time) error
}

// Rotator hands out search tokens round-robin.
type Rotator struct {
	store           TokenStore
	refreshInterval time.Duration
	logger          *slog.Logger
	now             func() time.Time

	mu          sync.Mutex
	tokens      []*domain.SearchToken
	index       int
	failures    int  // rotations since the last success
	removed     bool // index already points at the successor of a dropped token
	lastRefresh time.Time
}

// New creates a Rotator. Call Refresh before first use, or let Current load
// the list lazily.
func New(store TokenStore, refreshInterval time.Duration, logger *slog.Logger) *Rotator {
	if refreshInterval <= 0 {
		refreshInterval = DefaultRefreshInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Rotator{
		store:           store,
		refreshInterval: refreshInterval,
		logger:          logger,
		now:             time.Now,
	}
}

// Current returns the token to use for the next call, or nil when none is
// available. A nil token means the caller proceeds unauthenticated.
func (r *Rotator) Current(ctx context.Context) *domain.SearchToken {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.tokens) == 0 || r.now().Sub(r.lastRefresh) >= r.refreshInterval {
		r.refreshLocked(ctx)
	}
	if len(r.tokens) == 0 {
		return nil
	}
	t := *r.tokens[r.index%len(r.tokens)]
	return &t
}

// Refresh reloads the active token list from the store.
func (r *Rotator) Refresh(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.refreshLocked(ctx)
}

func (r *Rotator) refreshLocked(ctx context.Context) error {
	tokens, err := r.store.ListActiveSearchTokens(ctx, r.now())
	r.lastRefresh = r.now()
	if err != nil {
		r.logger.Warn("rotator: refresh tokens", "error", err)
		return err
	}
	var currentID string
	if len(r.tokens) > 0 {
		currentID = r.tokens[r.index%len(r.tokens)].ID
	}
	r.tokens = tokens
	r.index = 0
	for i, t := range tokens {
		if t.ID == currentID {
			r.index = i
			break
		}
	}
	r.failures = 0
	r.removed = false
	r.logger.Debug("rotator: refreshed tokens", "active", len(tokens))
	return nil
}

// MarkRateLimited drops the current token from rotation and persists its
// reset time. The token comes back on a refresh after resetAt has passed.
func (r *Rotator) MarkRateLimited(ctx context.Context, resetAt *time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.tokens) == 0 {
		return
	}
	i := r.index % len(r.tokens)
	token := r.tokens[i]
	r.tokens = append(r.tokens[:i:i], r.tokens[i+1:]...)
	if len(r.tokens) > 0 {
		r.index = i % len(r.tokens)
	} else {
		r.index = 0
	}
	r.removed = true

	if resetAt == nil {
		// No reset header; keep it out for a full refresh interval.
		t := r.now().Add(r.refreshInterval)
		resetAt = &t
	}
	zero := 0
	if err := r.store.UpdateSearchTokenRateLimit(ctx, token.ID, &zero, resetAt); err != nil {
		r.logger.Warn("rotator: persist rate limit", "token", token.Name, "error", err)
	}
	r.logger.Info("rotator: token rate limited",
		"token", token.Name, "reset_at", resetAt.Format(time.RFC3339), "remaining_tokens", len(r.tokens))
}

// MarkSuccess records the rate-limit headers returned with a successful call.
func (r *Rotator) MarkSuccess(ctx context.Context, remaining *int, resetAt *time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.failures = 0
	if len(r.tokens) == 0 {
		return
	}
	token := r.tokens[r.index%len(r.tokens)]
	token.RateLimitRemaining = remaining
	if remaining == nil && resetAt == nil {
		return
	}
	// The reset time only matters once the quota is spent.
	var persistReset *time.Time
	if remaining != nil && *remaining == 0 {
		persistReset = resetAt
	}
	if err := r.store.UpdateSearchTokenRateLimit(ctx, token.ID, remaining, persistReset); err != nil {
		r.logger.Warn("rotator: persist remaining quota", "token", token.Name, "error", err)
	}
}

// RotateToNext advances to the next token. After a full cycle without a
// success the list is reloaded from the store.
func (r *Rotator) RotateToNext(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.failures++
	if len(r.tokens) == 0 || r.failures > len(r.tokens) {
		r.refreshLocked(ctx)
		return
	}
	if r.removed {
		r.removed = false
		return
	}
	r.index = (r.index + 1) % len(r.tokens)
}

// Len returns the number of tokens currently in rotation.
func (r *Rotator) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tokens)
}
