package pool

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/bcnelson/keypool-manager/internal/domain"
	"github.com/sethvargo/go-retry"
)

// jitterPercent is the +/- jitter applied to every backoff delay.
const jitterPercent = 20

// RetryOptions configure WithRetry and Stream. MaxRetries is taken as
// given, so the zero value makes a single call; use DefaultRetryOptions for
// the usual settings.
type RetryOptions struct {
	MaxRetries   int           // retries after the first call.
	InitialDelay time.Duration // Default: 1s.
	MaxDelay     time.Duration // Default: 30s.
	Base         float64       // growth factor. Default: 2.
	Capability   domain.Capability
}

// DefaultRetryOptions returns three retries with 1s to 30s doubling backoff.
func DefaultRetryOptions() RetryOptions {
	return RetryOptions{
		MaxRetries:   3,
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
		Base:         2,
	}
}

func (o *RetryOptions) defaults() {
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.InitialDelay <= 0 {
		o.InitialDelay = time.Second
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = 30 * time.Second
	}
	if o.MaxDelay < o.InitialDelay {
		o.MaxDelay = o.InitialDelay
	}
	if o.Base < 1 {
		o.Base = 2
	}
}

// RetryError is returned when a call could not be completed with any key.
type RetryError struct {
	// Attempts is the number of calls made.
	Attempts int
	// Exhausted is set when retries or keys ran out.
	Exhausted bool
	// PoolEmpty is set when no unused key was left to try.
	PoolEmpty bool
	// Err is the last call error, or the reason no call was made.
	Err error
}

// Error implements the error interface.
func (e *RetryError) Error() string {
	switch {
	case e.PoolEmpty && e.Attempts == 0:
		return "pool: no key available"
	case e.Exhausted:
		return fmt.Sprintf("pool: exhausted after %d attempts: %v", e.Attempts, e.Err)
	}
	return fmt.Sprintf("pool: failed after %d attempts: %v", e.Attempts, e.Err)
}

// Unwrap returns the underlying error.
func (e *RetryError) Unwrap() error { return e.Err }

// BackoffDelay returns the delay before retry n (zero-based) without
// jitter: InitialDelay * Base^n, capped at MaxDelay.
func BackoffDelay(n int, opts RetryOptions) time.Duration {
	opts.defaults()
	d := float64(opts.InitialDelay) * math.Pow(opts.Base, float64(n))
	if d >= float64(opts.MaxDelay) || math.IsInf(d, 0) || math.IsNaN(d) {
		return opts.MaxDelay
	}
	return time.Duration(d)
}

func newBackoff(opts RetryOptions) retry.Backoff {
	n := 0
	b := retry.BackoffFunc(func() (time.Duration, bool) {
		d := BackoffDelay(n, opts)
		n++
		return d, false
	})
	// Jitter can push a capped delay above the cap, so cap again.
	return retry.WithMaxRetries(uint64(opts.MaxRetries),
		retry.WithCappedDuration(opts.MaxDelay,
			retry.WithJitterPercent(jitterPercent, b)))
}

// WithRetry calls call with pooled keys until it succeeds, retries run out,
// or no untried key is left. Each key is tried at most once per invocation,
// and every outcome is recorded against the key.
func WithRetry[T any](ctx context.Context, p *Pool, opts RetryOptions, call func(ctx context.Context, key string) (T, error)) (T, error) {
	v, _, err := Stream(ctx, p, opts, call)
	return v, err
}

// Stream is WithRetry for calls whose value stays live after return, such as
// a response stream. It also returns the key the value was produced with.
func Stream[T any](ctx context.Context, p *Pool, opts RetryOptions, call func(ctx context.Context, key string) (T, error)) (T, string, error) {
	opts.defaults()

	var (
		zero      T
		used      = make(map[string]struct{})
		attempts  int
		usedKey   string
		lastErr   error
		selectErr error
	)

	v, err := retry.DoValue(ctx, newBackoff(opts), func(ctx context.Context) (T, error) {
		key, err := p.keyExcluding(ctx, opts.Capability, used)
		if err != nil {
			selectErr = err
			return zero, err
		}
		used[key.Key] = struct{}{}
		attempts++

		v, err := call(ctx, key.Key)
		if err == nil {
			p.RecordSuccess(ctx, key.Key)
			usedKey = key.Key
			return v, nil
		}
		lastErr = err
		class := p.RecordFailure(ctx, key.Key, err)
		p.logger.Debug("pool: attempt failed", "attempt", attempts, "class", class)
		if attempts > opts.MaxRetries {
			return zero, retry.RetryableError(err)
		}
		// Fail now rather than after a backoff when no untried key is left.
		if _, err := p.keyExcluding(ctx, opts.Capability, used); err != nil {
			selectErr = err
			return zero, lastErr
		}
		return zero, retry.RetryableError(lastErr)
	})
	if err == nil {
		return v, usedKey, nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return zero, "", &RetryError{Attempts: attempts, Err: ctxErr}
	}
	if selectErr != nil {
		if errors.Is(selectErr, domain.ErrPoolEmpty) {
			if lastErr == nil {
				lastErr = selectErr
			}
			return zero, "", &RetryError{Attempts: attempts, Exhausted: true, PoolEmpty: true, Err: lastErr}
		}
		return zero, "", &RetryError{Attempts: attempts, Err: selectErr}
	}
	return zero, "", &RetryError{Attempts: attempts, Exhausted: true, Err: err}
}
