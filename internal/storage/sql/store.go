package sql

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/bcnelson/keypool-manager/internal/domain"
	"github.com/bcnelson/keypool-manager/internal/storage"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// isUniqueViolation checks if an error is a UNIQUE constraint violation.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}

// wrapUniqueError converts UNIQUE violations to domain.ErrAlreadyExists.
func wrapUniqueError(err error) error {
	if isUniqueViolation(err) {
		return domain.ErrAlreadyExists
	}
	return err
}

// Store implements the storage.Storage interface using SQL.
type Store struct {
	db     *sqlx.DB
	driver string
}

// New creates a new SQL store.
func New(driver, dsn string) (*Store, error) {
	db, err := sqlx.Connect(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	if driver == "sqlite3" {
		// One writer; workers queue on the pool instead of hitting SQLITE_BUSY.
		db.SetMaxOpenConns(1)
	}

	// Run migrations
	goose.SetBaseFS(embedMigrations)
	if err := goose.SetDialect(driver); err != nil {
		return nil, fmt.Errorf("setting goose dialect: %w", err)
	}

	if err := goose.Up(db.DB, "migrations"); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Store{db: db, driver: driver}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// BeginTx starts a new transaction.
func (s *Store) BeginTx(ctx context.Context) (storage.Transaction, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &Tx{tx: tx, driver: s.driver}, nil
}

// Tx wraps a database transaction.
type Tx struct {
	tx     *sqlx.Tx
	driver string
}

// Commit commits the transaction.
func (t *Tx) Commit() error {
	return t.tx.Commit()
}

// Rollback rolls back the transaction.
func (t *Tx) Rollback() error {
	return t.tx.Rollback()
}

// Close is a no-op for transactions (they should be committed or rolled back).
func (t *Tx) Close() error {
	return nil
}

// BeginTx is not supported within a transaction.
func (t *Tx) BeginTx(ctx context.Context) (storage.Transaction, error) {
	return nil, fmt.Errorf("nested transactions not supported")
}

// helper to get the correct database interface
type dbInterface interface {
	sqlx.ExtContext
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
	GetContext(ctx context.Context, dest any, query string, args ...any) error
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func now() time.Time {
	return time.Now().UTC()
}

func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

// ============================================
// Candidate keys
// ============================================

const candidateColumns = `id, key, source, source_url, discovered_at, validated, validated_at`

func storeCandidates(ctx context.Context, db dbInterface, keys []*domain.CandidateKey) (int, error) {
	inserted := 0
	for _, k := range keys {
		if k == nil || k.Key == "" {
			continue
		}
		var promoted int
		if err := db.GetContext(ctx, &promoted,
			`SELECT COUNT(*) FROM working_keys WHERE key = $1`, k.Key); err != nil {
			return inserted, err
		}
		if promoted > 0 {
			continue
		}
		discovered := k.DiscoveredAt.UTC()
		if k.DiscoveredAt.IsZero() {
			discovered = now()
		}
		result, err := db.ExecContext(ctx,
			`INSERT INTO candidate_keys (id, key, source, source_url, discovered_at, validated, validated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)
			 ON CONFLICT (key) DO NOTHING`,
			k.ID, k.Key, k.Source, k.SourceURL, discovered, false, nil)
		if err != nil {
			// A racing insert of the same id is as harmless as one of the same key.
			if isUniqueViolation(err) {
				continue
			}
			return inserted, err
		}
		rows, _ := result.RowsAffected()
		inserted += int(rows)
	}
	return inserted, nil
}

func (s *Store) StoreCandidates(ctx context.Context, keys []*domain.CandidateKey) (int, error) {
	return storeCandidates(ctx, s.db, keys)
}

func (t *Tx) StoreCandidates(ctx context.Context, keys []*domain.CandidateKey) (int, error) {
	return storeCandidates(ctx, t.tx, keys)
}

func pendingCandidates(ctx context.Context, db dbInterface, limit int) ([]*domain.CandidateKey, error) {
	var keys []*domain.CandidateKey
	err := db.SelectContext(ctx, &keys,
		`SELECT `+candidateColumns+` FROM candidate_keys
		 WHERE validated = FALSE ORDER BY discovered_at ASC, key ASC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	return keys, nil
}

func (s *Store) PendingCandidates(ctx context.Context, limit int) ([]*domain.CandidateKey, error) {
	return pendingCandidates(ctx, s.db, limit)
}

func (t *Tx) PendingCandidates(ctx context.Context, limit int) ([]*domain.CandidateKey, error) {
	return pendingCandidates(ctx, t.tx, limit)
}

func getCandidate(ctx context.Context, db dbInterface, key string) (*domain.CandidateKey, error) {
	var c domain.CandidateKey
	err := db.GetContext(ctx, &c,
		`SELECT `+candidateColumns+` FROM candidate_keys WHERE key = $1`, key)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	return &c, err
}

func (s *Store) GetCandidate(ctx context.Context, key string) (*domain.CandidateKey, error) {
	return getCandidate(ctx, s.db, key)
}

func (t *Tx) GetCandidate(ctx context.Context, key string) (*domain.CandidateKey, error) {
	return getCandidate(ctx, t.tx, key)
}

func markCandidateValidated(ctx context.Context, db dbInterface, key string) error {
	result, err := db.ExecContext(ctx,
		`UPDATE candidate_keys SET validated = $1, validated_at = $2 WHERE key = $3`,
		true, now(), key)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *Store) MarkCandidateValidated(ctx context.Context, key string) error {
	return markCandidateValidated(ctx, s.db, key)
}

func (t *Tx) MarkCandidateValidated(ctx context.Context, key string) error {
	return markCandidateValidated(ctx, t.tx, key)
}

func knownKeys(ctx context.Context, db dbInterface) (map[string]struct{}, error) {
	var keys []string
	err := db.SelectContext(ctx, &keys,
		`SELECT key FROM candidate_keys UNION SELECT key FROM working_keys`)
	if err != nil {
		return nil, err
	}
	known := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		known[k] = struct{}{}
	}
	return known, nil
}

func (s *Store) KnownKeys(ctx context.Context) (map[string]struct{}, error) {
	return knownKeys(ctx, s.db)
}

func (t *Tx) KnownKeys(ctx context.Context) (map[string]struct{}, error) {
	return knownKeys(ctx, t.tx)
}

// ============================================
// Working keys
// ============================================

const workingColumns = `key, status, can_text, can_image, can_video, can_audio, can_code_execution,
	can_function_calling, can_search_grounding, max_tokens, best_model, success_count, quota_count,
	error_count, last_validated_at, next_check_at, source, source_url, created_at, updated_at`

// capabilityColumns maps capabilities to their boolean column.
var capabilityColumns = map[domain.Capability]string{
	domain.CapText:            "can_text",
	domain.CapImage:           "can_image",
	domain.CapVideo:           "can_video",
	domain.CapAudio:           "can_audio",
	domain.CapCodeExecution:   "can_code_execution",
	domain.CapFunctionCalling: "can_function_calling",
	domain.CapSearchGrounding: "can_search_grounding",
}

func upsertWorking(ctx context.Context, db dbInterface, key *domain.WorkingKey) error {
	if key == nil || key.Key == "" || key.Status == domain.StatusInvalid {
		return domain.ErrInvalidInput
	}
	ts := now()
	created := key.CreatedAt.UTC()
	if key.CreatedAt.IsZero() {
		created = ts
	}
	// Counters, provenance and created_at are left alone on conflict.
	_, err := db.ExecContext(ctx,
		`INSERT INTO working_keys (key, status, can_text, can_image, can_video, can_audio,
			can_code_execution, can_function_calling, can_search_grounding, max_tokens, best_model,
			success_count, quota_count, error_count, last_validated_at, next_check_at,
			source, source_url, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, 0, 0, 0, $12, $13, $14, $15, $16, $17)
		 ON CONFLICT (key) DO UPDATE SET
			status = excluded.status,
			can_text = excluded.can_text,
			can_image = excluded.can_image,
			can_video = excluded.can_video,
			can_audio = excluded.can_audio,
			can_code_execution = excluded.can_code_execution,
			can_function_calling = excluded.can_function_calling,
			can_search_grounding = excluded.can_search_grounding,
			max_tokens = excluded.max_tokens,
			best_model = excluded.best_model,
			last_validated_at = excluded.last_validated_at,
			next_check_at = excluded.next_check_at,
			updated_at = excluded.updated_at`,
		key.Key, string(key.Status), key.Text, key.Image, key.Video, key.Audio,
		key.CodeExecution, key.FunctionCalling, key.SearchGrounding, key.MaxTokens, key.BestModel,
		utc(key.LastValidatedAt), utc(key.NextCheckAt), key.Source, key.SourceURL, created, ts)
	return err
}

func (s *Store) UpsertWorking(ctx context.Context, key *domain.WorkingKey) error {
	return upsertWorking(ctx, s.db, key)
}

func (t *Tx) UpsertWorking(ctx context.Context, key *domain.WorkingKey) error {
	return upsertWorking(ctx, t.tx, key)
}

func getWorking(ctx context.Context, db dbInterface, key string) (*domain.WorkingKey, error) {
	var wk domain.WorkingKey
	err := db.GetContext(ctx, &wk,
		`SELECT `+workingColumns+` FROM working_keys WHERE key = $1`, key)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	return &wk, err
}

func (s *Store) GetWorking(ctx context.Context, key string) (*domain.WorkingKey, error) {
	return getWorking(ctx, s.db, key)
}

func (t *Tx) GetWorking(ctx context.Context, key string) (*domain.WorkingKey, error) {
	return getWorking(ctx, t.tx, key)
}

func workingKeysDueForRecheck(ctx context.Context, db dbInterface, at time.Time, limit int) ([]*domain.WorkingKey, error) {
	var keys []*domain.WorkingKey
	err := db.SelectContext(ctx, &keys,
		`SELECT `+workingColumns+` FROM working_keys
		 WHERE next_check_at IS NULL OR next_check_at <= $1
		 ORDER BY CASE WHEN last_validated_at IS NULL THEN 0 ELSE 1 END, last_validated_at ASC, key ASC
		 LIMIT $2`, at.UTC(), limit)
	if err != nil {
		return nil, err
	}
	return keys, nil
}

func (s *Store) WorkingKeysDueForRecheck(ctx context.Context, at time.Time, limit int) ([]*domain.WorkingKey, error) {
	return workingKeysDueForRecheck(ctx, s.db, at, limit)
}

func (t *Tx) WorkingKeysDueForRecheck(ctx context.Context, at time.Time, limit int) ([]*domain.WorkingKey, error) {
	return workingKeysDueForRecheck(ctx, t.tx, at, limit)
}

func listServableKeys(ctx context.Context, db dbInterface, capability domain.Capability, limit int) ([]*domain.WorkingKey, error) {
	filter := ""
	if capability != "" {
		column, ok := capabilityColumns[capability]
		if !ok {
			return nil, domain.ErrInvalidInput
		}
		filter = " AND " + column + " = TRUE"
	}
	var keys []*domain.WorkingKey
	err := db.SelectContext(ctx, &keys,
		`SELECT `+workingColumns+` FROM working_keys
		 WHERE status = $1`+filter+`
		 ORDER BY success_count DESC, quota_count ASC, key ASC
		 LIMIT $2`, string(domain.StatusValid), limit)
	if err != nil {
		return nil, err
	}
	return keys, nil
}

func (s *Store) ListServableKeys(ctx context.Context, capability domain.Capability, limit int) ([]*domain.WorkingKey, error) {
	return listServableKeys(ctx, s.db, capability, limit)
}

func (t *Tx) ListServableKeys(ctx context.Context, capability domain.Capability, limit int) ([]*domain.WorkingKey, error) {
	return listServableKeys(ctx, t.tx, capability, limit)
}

func updateWorkingStatus(ctx context.Context, db dbInterface, key string, status domain.KeyStatus, nextCheckIn time.Duration, validated bool) error {
	if status == domain.StatusInvalid {
		return domain.ErrInvalidInput
	}
	ts := now()
	query := `UPDATE working_keys SET status = $1, next_check_at = $2, updated_at = $3 WHERE key = $4`
	if validated {
		query = `UPDATE working_keys SET status = $1, next_check_at = $2, updated_at = $3, last_validated_at = $3
		 WHERE key = $4`
	}
	result, err := db.ExecContext(ctx, query, string(status), ts.Add(nextCheckIn), ts, key)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *Store) UpdateWorkingStatus(ctx context.Context, key string, status domain.KeyStatus, nextCheckIn time.Duration) error {
	return updateWorkingStatus(ctx, s.db, key, status, nextCheckIn, false)
}

func (t *Tx) UpdateWorkingStatus(ctx context.Context, key string, status domain.KeyStatus, nextCheckIn time.Duration) error {
	return updateWorkingStatus(ctx, t.tx, key, status, nextCheckIn, false)
}

func (s *Store) RecordWorkingCheck(ctx context.Context, key string, status domain.KeyStatus, nextCheckIn time.Duration) error {
	return updateWorkingStatus(ctx, s.db, key, status, nextCheckIn, true)
}

func (t *Tx) RecordWorkingCheck(ctx context.Context, key string, status domain.KeyStatus, nextCheckIn time.Duration) error {
	return updateWorkingStatus(ctx, t.tx, key, status, nextCheckIn, true)
}

func incrementWorkingCounter(ctx context.Context, db dbInterface, key string, counter domain.Counter) error {
	switch counter {
	case domain.CounterSuccess, domain.CounterQuota, domain.CounterError:
	default:
		return domain.ErrInvalidInput
	}
	column := string(counter)
	result, err := db.ExecContext(ctx,
		`UPDATE working_keys SET `+column+` = `+column+` + 1, updated_at = $1 WHERE key = $2`,
		now(), key)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *Store) IncrementWorkingCounter(ctx context.Context, key string, counter domain.Counter) error {
	return incrementWorkingCounter(ctx, s.db, key, counter)
}

func (t *Tx) IncrementWorkingCounter(ctx context.Context, key string, counter domain.Counter) error {
	return incrementWorkingCounter(ctx, t.tx, key, counter)
}

func deleteWorking(ctx context.Context, db dbInterface, key string) error {
	result, err := db.ExecContext(ctx, `DELETE FROM working_keys WHERE key = $1`, key)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteWorking(ctx context.Context, key string) error {
	return deleteWorking(ctx, s.db, key)
}

func (t *Tx) DeleteWorking(ctx context.Context, key string) error {
	return deleteWorking(ctx, t.tx, key)
}

// ============================================
// Search tokens
// ============================================

const tokenColumns = `id, name, value, rate_limit_remaining, rate_limit_reset_at, active, created_at, updated_at`

func upsertSearchToken(ctx context.Context, db dbInterface, token *domain.SearchToken) error {
	if token == nil || token.ID == "" || token.Name == "" || token.Value == "" {
		return domain.ErrInvalidInput
	}
	ts := now()
	created := token.CreatedAt.UTC()
	if token.CreatedAt.IsZero() {
		created = ts
	}
	_, err := db.ExecContext(ctx,
		`INSERT INTO search_tokens (id, name, value, rate_limit_remaining, rate_limit_reset_at, active, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (name) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		token.ID, token.Name, token.Value, token.RateLimitRemaining, utc(token.RateLimitResetAt),
		token.Active, created, ts)
	return wrapUniqueError(err)
}

func (s *Store) UpsertSearchToken(ctx context.Context, token *domain.SearchToken) error {
	return upsertSearchToken(ctx, s.db, token)
}

func (t *Tx) UpsertSearchToken(ctx context.Context, token *domain.SearchToken) error {
	return upsertSearchToken(ctx, t.tx, token)
}

func getSearchToken(ctx context.Context, db dbInterface, id string) (*domain.SearchToken, error) {
	var token domain.SearchToken
	err := db.GetContext(ctx, &token,
		`SELECT `+tokenColumns+` FROM search_tokens WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	return &token, err
}

func (s *Store) GetSearchToken(ctx context.Context, id string) (*domain.SearchToken, error) {
	return getSearchToken(ctx, s.db, id)
}

func (t *Tx) GetSearchToken(ctx context.Context, id string) (*domain.SearchToken, error) {
	return getSearchToken(ctx, t.tx, id)
}

func listSearchTokens(ctx context.Context, db dbInterface) ([]*domain.SearchToken, error) {
	var tokens []*domain.SearchToken
	err := db.SelectContext(ctx, &tokens,
		`SELECT `+tokenColumns+` FROM search_tokens ORDER BY created_at ASC, name ASC`)
	if err != nil {
		return nil, err
	}
	return tokens, nil
}

func (s *Store) ListSearchTokens(ctx context.Context) ([]*domain.SearchToken, error) {
	return listSearchTokens(ctx, s.db)
}

func (t *Tx) ListSearchTokens(ctx context.Context) ([]*domain.SearchToken, error) {
	return listSearchTokens(ctx, t.tx)
}

func listActiveSearchTokens(ctx context.Context, db dbInterface, at time.Time) ([]*domain.SearchToken, error) {
	var tokens []*domain.SearchToken
	err := db.SelectContext(ctx, &tokens,
		`SELECT `+tokenColumns+` FROM search_tokens
		 WHERE active = TRUE AND (rate_limit_reset_at IS NULL OR rate_limit_reset_at <= $1)
		 ORDER BY created_at ASC, name ASC`, at.UTC())
	if err != nil {
		return nil, err
	}
	return tokens, nil
}

func (s *Store) ListActiveSearchTokens(ctx context.Context, at time.Time) ([]*domain.SearchToken, error) {
	return listActiveSearchTokens(ctx, s.db, at)
}

func (t *Tx) ListActiveSearchTokens(ctx context.Context, at time.Time) ([]*domain.SearchToken, error) {
	return listActiveSearchTokens(ctx, t.tx, at)
}

func updateSearchTokenRateLimit(ctx context.Context, db dbInterface, id string, remaining *int, resetAt *time.Time) error {
	result, err := db.ExecContext(ctx,
		`UPDATE search_tokens SET rate_limit_remaining = $1, rate_limit_reset_at = $2, updated_at = $3 WHERE id = $4`,
		remaining, utc(resetAt), now(), id)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *Store) UpdateSearchTokenRateLimit(ctx context.Context, id string, remaining *int, resetAt *time.Time) error {
	return updateSearchTokenRateLimit(ctx, s.db, id, remaining, resetAt)
}

func (t *Tx) UpdateSearchTokenRateLimit(ctx context.Context, id string, remaining *int, resetAt *time.Time) error {
	return updateSearchTokenRateLimit(ctx, t.tx, id, remaining, resetAt)
}

func setSearchTokenActive(ctx context.Context, db dbInterface, id string, active bool) error {
	result, err := db.ExecContext(ctx,
		`UPDATE search_tokens SET active = $1, updated_at = $2 WHERE id = $3`, active, now(), id)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *Store) SetSearchTokenActive(ctx context.Context, id string, active bool) error {
	return setSearchTokenActive(ctx, s.db, id, active)
}

func (t *Tx) SetSearchTokenActive(ctx context.Context, id string, active bool) error {
	return setSearchTokenActive(ctx, t.tx, id, active)
}

func deleteSearchToken(ctx context.Context, db dbInterface, id string) error {
	result, err := db.ExecContext(ctx, `DELETE FROM search_tokens WHERE id = $1`, id)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteSearchToken(ctx context.Context, id string) error {
	return deleteSearchToken(ctx, s.db, id)
}

func (t *Tx) DeleteSearchToken(ctx context.Context, id string) error {
	return deleteSearchToken(ctx, t.tx, id)
}

// ============================================
// Stats
// ============================================

type capabilityCounts struct {
	Text            int `db:"can_text"`
	Image           int `db:"can_image"`
	Video           int `db:"can_video"`
	Audio           int `db:"can_audio"`
	CodeExecution   int `db:"can_code_execution"`
	FunctionCalling int `db:"can_function_calling"`
	SearchGrounding int `db:"can_search_grounding"`
}

func stats(ctx context.Context, db dbInterface) (*domain.Stats, error) {
	st := &domain.Stats{Capabilities: make(map[domain.Capability]int, len(domain.AllCapabilities))}

	if err := db.GetContext(ctx, &st.TotalScraped, `SELECT COUNT(*) FROM candidate_keys`); err != nil {
		return nil, err
	}
	if err := db.GetContext(ctx, &st.TotalValidated,
		`SELECT COUNT(*) FROM candidate_keys WHERE validated = TRUE`); err != nil {
		return nil, err
	}
	st.PendingCandidates = st.TotalScraped - st.TotalValidated

	if err := db.GetContext(ctx, &st.WorkingTotal, `SELECT COUNT(*) FROM working_keys`); err != nil {
		return nil, err
	}
	if err := db.GetContext(ctx, &st.Valid,
		`SELECT COUNT(*) FROM working_keys WHERE status = $1`, string(domain.StatusValid)); err != nil {
		return nil, err
	}
	if err := db.GetContext(ctx, &st.QuotaExceeded,
		`SELECT COUNT(*) FROM working_keys WHERE status = $1`, string(domain.StatusQuotaExceeded)); err != nil {
		return nil, err
	}

	var counts capabilityCounts
	err := db.GetContext(ctx, &counts,
		`SELECT
			COALESCE(SUM(CASE WHEN can_text THEN 1 ELSE 0 END), 0) AS can_text,
			COALESCE(SUM(CASE WHEN can_image THEN 1 ELSE 0 END), 0) AS can_image,
			COALESCE(SUM(CASE WHEN can_video THEN 1 ELSE 0 END), 0) AS can_video,
			COALESCE(SUM(CASE WHEN can_audio THEN 1 ELSE 0 END), 0) AS can_audio,
			COALESCE(SUM(CASE WHEN can_code_execution THEN 1 ELSE 0 END), 0) AS can_code_execution,
			COALESCE(SUM(CASE WHEN can_function_calling THEN 1 ELSE 0 END), 0) AS can_function_calling,
			COALESCE(SUM(CASE WHEN can_search_grounding THEN 1 ELSE 0 END), 0) AS can_search_grounding
		 FROM working_keys`)
	if err != nil {
		return nil, err
	}
	st.Capabilities[domain.CapText] = counts.Text
	st.Capabilities[domain.CapImage] = counts.Image
	st.Capabilities[domain.CapVideo] = counts.Video
	st.Capabilities[domain.CapAudio] = counts.Audio
	st.Capabilities[domain.CapCodeExecution] = counts.CodeExecution
	st.Capabilities[domain.CapFunctionCalling] = counts.FunctionCalling
	st.Capabilities[domain.CapSearchGrounding] = counts.SearchGrounding

	if err := db.GetContext(ctx, &st.SearchTokens, `SELECT COUNT(*) FROM search_tokens`); err != nil {
		return nil, err
	}
	if err := db.GetContext(ctx, &st.ActiveTokens,
		`SELECT COUNT(*) FROM search_tokens
		 WHERE active = TRUE AND (rate_limit_reset_at IS NULL OR rate_limit_reset_at <= $1)`, now()); err != nil {
		return nil, err
	}

	return st, nil
}

func (s *Store) Stats(ctx context.Context) (*domain.Stats, error) {
	return stats(ctx, s.db)
}

func (t *Tx) Stats(ctx context.Context) (*domain.Stats, error) {
	return stats(ctx, t.tx)
}
