package storage

import (
	"context"
	"time"

	"github.com/bcnelson/keypool-manager/internal/domain"
)

// Storage defines the interface for the key store.
// Implementations must be safe for concurrent use; duplicate-key writes from
// concurrent workers are treated as upserts, never as errors.
type Storage interface {
	// Close closes the storage connection.
	Close() error

	// Candidate keys
	StoreCandidates(ctx context.Context, keys []*domain.CandidateKey) (int, error)
	PendingCandidates(ctx context.Context, limit int) ([]*domain.CandidateKey, error)
	GetCandidate(ctx context.Context, key string) (*domain.CandidateKey, error)
	MarkCandidateValidated(ctx context.Context, key string) error
	KnownKeys(ctx context.Context) (map[string]struct{}, error)

	// Working keys
	UpsertWorking(ctx context.Context, key *domain.WorkingKey) error
	GetWorking(ctx context.Context, key string) (*domain.WorkingKey, error)
	WorkingKeysDueForRecheck(ctx context.Context, now time.Time, limit int) ([]*domain.WorkingKey, error)
	ListServableKeys(ctx context.Context, capability domain.Capability, limit int) ([]*domain.WorkingKey, error)
	// UpdateWorkingStatus sets status and schedules the next check without
	// touching last_validated_at.
	UpdateWorkingStatus(ctx context.Context, key string, status domain.KeyStatus, nextCheckIn time.Duration) error
	// RecordWorkingCheck is UpdateWorkingStatus for a completed validation:
	// it also stamps last_validated_at.
	RecordWorkingCheck(ctx context.Context, key string, status domain.KeyStatus, nextCheckIn time.Duration) error
	IncrementWorkingCounter(ctx context.Context, key string, counter domain.Counter) error
	DeleteWorking(ctx context.Context, key string) error

	// Search tokens
	UpsertSearchToken(ctx context.Context, token *domain.SearchToken) error
	GetSearchToken(ctx context.Context, id string) (*domain.SearchToken, error)
	ListSearchTokens(ctx context.Context) ([]*domain.SearchToken, error)
	ListActiveSearchTokens(ctx context.Context, now time.Time) ([]*domain.SearchToken, error)
	UpdateSearchTokenRateLimit(ctx context.Context, id string, remaining *int, resetAt *time.Time) error
	SetSearchTokenActive(ctx context.Context, id string, active bool) error
	DeleteSearchToken(ctx context.Context, id string) error

	// Stats returns aggregate counts for observability.
	Stats(ctx context.Context) (*domain.Stats, error)

	// Transaction support
	BeginTx(ctx context.Context) (Transaction, error)
}

// Transaction represents a database transaction.
type Transaction interface {
	Storage
	Commit() error
	Rollback() error
}

// Promote records a validation attempt for a candidate: the working row is
// upserted (unless the result is invalid) and the candidate is marked
// validated, in one transaction.
func Promote(ctx context.Context, store Storage, working *domain.WorkingKey, candidateKey string) error {
	tx, err := store.BeginTx(ctx)
	if err != nil {
		return err
	}
	if working != nil {
		if err := tx.UpsertWorking(ctx, working); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	if err := tx.MarkCandidateValidated(ctx, candidateKey); err != nil && err != domain.ErrNotFound {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
