package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/bcnelson/keypool-manager/internal/domain"
	"github.com/bcnelson/keypool-manager/internal/storage"
)

// Store is an in-memory implementation of the storage interface for testing.
type Store struct {
	mu sync.RWMutex

	candidates map[string]*domain.CandidateKey // key: key string
	working    map[string]*domain.WorkingKey   // key: key string
	tokens     map[string]*domain.SearchToken  // key: id

	now func() time.Time
}

// New creates a new in-memory store.
func New() *Store {
	return &Store{
		candidates: make(map[string]*domain.CandidateKey),
		working:    make(map[string]*domain.WorkingKey),
		tokens:     make(map[string]*domain.SearchToken),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// SetClock replaces the store's clock. Tests only.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *Store) Close() error { return nil }

func (s *Store) BeginTx(ctx context.Context) (storage.Transaction, error) {
	return &Tx{Store: s}, nil
}

// Tx is a no-op transaction for in-memory store.
type Tx struct {
	*Store
}

func (t *Tx) Commit() error   { return nil }
func (t *Tx) Rollback() error { return nil }
func (t *Tx) Close() error    { return nil }
func (t *Tx) BeginTx(ctx context.Context) (storage.Transaction, error) {
	return nil, domain.ErrInvalidInput
}

// ============================================
// Candidate keys
// ============================================

func (s *Store) StoreCandidates(ctx context.Context, keys []*domain.CandidateKey) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inserted := 0
	for _, k := range keys {
		if k == nil || k.Key == "" {
			continue
		}
		if _, exists := s.candidates[k.Key]; exists {
			continue
		}
		if _, exists := s.working[k.Key]; exists {
			continue
		}
		c := *k
		if c.DiscoveredAt.IsZero() {
			c.DiscoveredAt = s.now()
		}
		s.candidates[k.Key] = &c
		inserted++
	}
	return inserted, nil
}

func (s *Store) PendingCandidates(ctx context.Context, limit int) ([]*domain.CandidateKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var pending []*domain.CandidateKey
	for _, c := range s.candidates {
		if !c.Validated {
			cp := *c
			pending = append(pending, &cp)
		}
	}
	sort.Slice(pending, func(i, j int) bool {
		if pending[i].DiscoveredAt.Equal(pending[j].DiscoveredAt) {
			return pending[i].Key < pending[j].Key
		}
		return pending[i].DiscoveredAt.Before(pending[j].DiscoveredAt)
	})
	if limit > 0 && len(pending) > limit {
		pending = pending[:limit]
	}
	return pending, nil
}

func (s *Store) GetCandidate(ctx context.Context, key string) (*domain.CandidateKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, exists := s.candidates[key]
	if !exists {
		return nil, domain.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *Store) MarkCandidateValidated(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, exists := s.candidates[key]
	if !exists {
		return domain.ErrNotFound
	}
	now := s.now()
	c.Validated = true
	c.ValidatedAt = &now
	return nil
}

func (s *Store) KnownKeys(ctx context.Context) (map[string]struct{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	known := make(map[string]struct{}, len(s.candidates)+len(s.working))
	for k := range s.candidates {
		known[k] = struct{}{}
	}
	for k := range s.working {
		known[k] = struct{}{}
	}
	return known, nil
}

// ============================================
// Working keys
// ============================================

func (s *Store) UpsertWorking(ctx context.Context, key *domain.WorkingKey) error {
	if key == nil || key.Key == "" || key.Status == domain.StatusInvalid {
		return domain.ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	existing, exists := s.working[key.Key]
	if !exists {
		wk := *key
		wk.SuccessCount, wk.QuotaCount, wk.ErrorCount = 0, 0, 0
		if wk.CreatedAt.IsZero() {
			wk.CreatedAt = now
		}
		wk.UpdatedAt = now
		s.working[key.Key] = &wk
		return nil
	}
	// Counters and provenance belong to the existing row.
	existing.Status = key.Status
	existing.Capabilities = key.Capabilities
	existing.MaxTokens = key.MaxTokens
	existing.BestModel = key.BestModel
	existing.LastValidatedAt = key.LastValidatedAt
	existing.NextCheckAt = key.NextCheckAt
	existing.UpdatedAt = now
	return nil
}

func (s *Store) GetWorking(ctx context.Context, key string) (*domain.WorkingKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	wk, exists := s.working[key]
	if !exists {
		return nil, domain.ErrNotFound
	}
	cp := *wk
	return &cp, nil
}

func (s *Store) WorkingKeysDueForRecheck(ctx context.Context, now time.Time, limit int) ([]*domain.WorkingKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var due []*domain.WorkingKey
	for _, wk := range s.working {
		if wk.Due(now) {
			cp := *wk
			due = append(due, &cp)
		}
	}
	// Never-validated rows first, then oldest validation.
	sort.Slice(due, func(i, j int) bool {
		a, b := due[i].LastValidatedAt, due[j].LastValidatedAt
		switch {
		case a == nil && b == nil:
			return due[i].Key < due[j].Key
		case a == nil:
			return true
		case b == nil:
			return false
		}
		return a.Before(*b)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (s *Store) ListServableKeys(ctx context.Context, capability domain.Capability, limit int) ([]*domain.WorkingKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var keys []*domain.WorkingKey
	for _, wk := range s.working {
		if wk.Status != domain.StatusValid || !wk.Has(capability) {
			continue
		}
		cp := *wk
		keys = append(keys, &cp)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].SuccessCount != keys[j].SuccessCount {
			return keys[i].SuccessCount > keys[j].SuccessCount
		}
		if keys[i].QuotaCount != keys[j].QuotaCount {
			return keys[i].QuotaCount < keys[j].QuotaCount
		}
		return keys[i].Key < keys[j].Key
	})
	if limit > 0 && len(keys) > limit {
		keys = keys[:limit]
	}
	return keys, nil
}

func (s *Store) UpdateWorkingStatus(ctx context.Context, key string, status domain.KeyStatus, nextCheckIn time.Duration) error {
	return s.updateWorkingStatus(key, status, nextCheckIn, false)
}

func (s *Store) RecordWorkingCheck(ctx context.Context, key string, status domain.KeyStatus, nextCheckIn time.Duration) error {
	return s.updateWorkingStatus(key, status, nextCheckIn, true)
}

func (s *Store) updateWorkingStatus(key string, status domain.KeyStatus, nextCheckIn time.Duration, validated bool) error {
	if status == domain.StatusInvalid {
		return domain.ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	wk, exists := s.working[key]
	if !exists {
		return domain.ErrNotFound
	}
	now := s.now()
	next := now.Add(nextCheckIn)
	wk.Status = status
	if validated {
		wk.LastValidatedAt = &now
	}
	wk.NextCheckAt = &next
	wk.UpdatedAt = now
	return nil
}

func (s *Store) IncrementWorkingCounter(ctx context.Context, key string, counter domain.Counter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	wk, exists := s.working[key]
	if !exists {
		return domain.ErrNotFound
	}
	switch counter {
	case domain.CounterSuccess:
		wk.SuccessCount++
	case domain.CounterQuota:
		wk.QuotaCount++
	case domain.CounterError:
		wk.ErrorCount++
	default:
		return domain.ErrInvalidInput
	}
	wk.UpdatedAt = s.now()
	return nil
}

func (s *Store) DeleteWorking(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.working[key]; !exists {
		return domain.ErrNotFound
	}
	delete(s.working, key)
	return nil
}

// ============================================
// Search tokens
// ============================================

func (s *Store) UpsertSearchToken(ctx context.Context, token *domain.SearchToken) error {
	if token == nil || token.ID == "" || token.Name == "" || token.Value == "" {
		return domain.ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for _, existing := range s.tokens {
		if existing.Name == token.Name {
			existing.Value = token.Value
			existing.UpdatedAt = now
			return nil
		}
	}
	t := *token
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
	s.tokens[t.ID] = &t
	return nil
}

func (s *Store) GetSearchToken(ctx context.Context, id string) (*domain.SearchToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, exists := s.tokens[id]
	if !exists {
		return nil, domain.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *Store) ListSearchTokens(ctx context.Context) ([]*domain.SearchToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tokens := make([]*domain.SearchToken, 0, len(s.tokens))
	for _, t := range s.tokens {
		cp := *t
		tokens = append(tokens, &cp)
	}
	sortTokens(tokens)
	return tokens, nil
}

func (s *Store) ListActiveSearchTokens(ctx context.Context, now time.Time) ([]*domain.SearchToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var tokens []*domain.SearchToken
	for _, t := range s.tokens {
		if t.Usable(now) {
			cp := *t
			tokens = append(tokens, &cp)
		}
	}
	sortTokens(tokens)
	return tokens, nil
}

func sortTokens(tokens []*domain.SearchToken) {
	sort.Slice(tokens, func(i, j int) bool {
		if tokens[i].CreatedAt.Equal(tokens[j].CreatedAt) {
			return tokens[i].Name < tokens[j].Name
		}
		return tokens[i].CreatedAt.Before(tokens[j].CreatedAt)
	})
}

func (s *Store) UpdateSearchTokenRateLimit(ctx context.Context, id string, remaining *int, resetAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, exists := s.tokens[id]
	if !exists {
		return domain.ErrNotFound
	}
	t.RateLimitRemaining = remaining
	t.RateLimitResetAt = resetAt
	t.UpdatedAt = s.now()
	return nil
}

func (s *Store) SetSearchTokenActive(ctx context.Context, id string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, exists := s.tokens[id]
	if !exists {
		return domain.ErrNotFound
	}
	t.Active = active
	t.UpdatedAt = s.now()
	return nil
}

func (s *Store) DeleteSearchToken(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tokens[id]; !exists {
		return domain.ErrNotFound
	}
	delete(s.tokens, id)
	return nil
}

// ============================================
// Stats
// ============================================

func (s *Store) Stats(ctx context.Context) (*domain.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats := &domain.Stats{
		TotalScraped: len(s.candidates),
		WorkingTotal: len(s.working),
		Capabilities: make(map[domain.Capability]int, len(domain.AllCapabilities)),
		SearchTokens: len(s.tokens),
	}
	for _, c := range s.candidates {
		if c.Validated {
			stats.TotalValidated++
		} else {
			stats.PendingCandidates++
		}
	}
	for _, wk := range s.working {
		switch wk.Status {
		case domain.StatusValid:
			stats.Valid++
		case domain.StatusQuotaExceeded:
			stats.QuotaExceeded++
		}
		for _, capability := range domain.AllCapabilities {
			if wk.Has(capability) {
				stats.Capabilities[capability]++
			}
		}
	}
	now := s.now()
	for _, t := range s.tokens {
		if t.Usable(now) {
			stats.ActiveTokens++
		}
	}
	return stats, nil
}
