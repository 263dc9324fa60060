// Package scraper discovers leaked keys through code search.
package scraper

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/bcnelson/keypool-manager/internal/domain"
	"github.com/bcnelson/keypool-manager/internal/github"
	"github.com/bcnelson/keypool-manager/internal/storage"
	"github.com/bcnelson/keypool-manager/internal/validation"
	"github.com/google/uuid"
)

// ErrNoTokens aborts a run when every search token is rate limited and
// none came back after the cooldown.
var ErrNoTokens = errors.New("scraper: no search tokens available")

// maxSearchAttempts bounds token rotation for a single search page.
const maxSearchAttempts = 10

// Searcher is the code search client.
type Searcher interface {
	SearchCode(ctx context.Context, token string, req github.SearchRequest) (*github.SearchResult, error)
	RawURL(item github.CodeResult) (string, error)
	FetchFile(ctx context.Context, rawURL string) (string, error)
}

// TokenRotator hands out search tokens.
type TokenRotator interface {
	Current(ctx context.Context) *domain.SearchToken
	MarkRateLimited(ctx context.Context, resetAt *time.Time)
	MarkSuccess(ctx context.Context, remaining *int, resetAt *time.Time)
	RotateToNext(ctx context.Context)
	Refresh(ctx context.Context) error
}

// KeyValidator validates a key against the model catalog.
type KeyValidator interface {
	Validate(ctx context.Context, key string) *domain.ValidationResult
}

// Config configures the scraper.
type Config struct {
	Queries []string
	// MaxPages is the number of result pages read per query. Default: 3.
	MaxPages int
	// PerPage is the search page size. Default: 100.
	PerPage int
	// QueriesPerRun is the query window size. Default: 5.
	QueriesPerRun int
	// TokenCooldown is slept when every token is rate limited. Default: 60s.
	TokenCooldown time.Duration
	// FetchTimeout bounds each raw file download. Default: 10s.
	FetchTimeout time.Duration
	// Recheck schedules the first revalidation of keys validated inline.
	// Default: 5m.
	Recheck time.Duration
}

func (c *Config) defaults() {
	if len(c.Queries) == 0 {
		c.Queries = DefaultQueries
	}
	if c.MaxPages <= 0 {
		c.MaxPages = 3
	}
	if c.PerPage <= 0 {
		c.PerPage = 100
	}
	if c.QueriesPerRun <= 0 {
		c.QueriesPerRun = 5
	}
	if c.TokenCooldown <= 0 {
		c.TokenCooldown = 60 * time.Second
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = 10 * time.Second
	}
	if c.Recheck <= 0 {
		c.Recheck = 5 * time.Minute
	}
}

// Options control a single Discover run.
type Options struct {
	// Validate runs the capability validator on each new key.
	Validate bool
	// Persist stores new keys as candidates (and promotes validated ones).
	Persist bool
	// QueryStartIndex selects where in the catalog this run begins.
	QueryStartIndex int
	// QueriesPerRun overrides Config.QueriesPerRun when positive.
	QueriesPerRun int
	// KnownKeys are skipped. When nil the store's known keys are used.
	KnownKeys map[string]struct{}
	// OnProgress is called after every search page.
	OnProgress func(Progress)
}

// Progress reports the state of a running Discover call.
type Progress struct {
	Query        string `json:"query"`
	QueryIndex   int    `json:"query_index"`
	QueriesTotal int    `json:"queries_total"`
	Page         int    `json:"page"`
	Found        int    `json:"found"`
	Duplicates   int    `json:"duplicates"`
	Limit        int    `json:"limit"`
}

// Scraper runs code searches and extracts keys from the matching files.
type Scraper struct {
	client    Searcher
	rotator   TokenRotator
	store     storage.Storage
	validator KeyValidator
	config    Config
	logger    *slog.Logger
	now       func() time.Time
}

// New creates a Scraper. store and validator may be nil when runs never
// persist or validate.
func New(client Searcher, rotator TokenRotator, store storage.Storage, validator KeyValidator, cfg Config, logger *slog.Logger) *Scraper {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Scraper{
		client:    client,
		rotator:   rotator,
		store:     store,
		validator: validator,
		config:    cfg,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// QueryCount returns the size of the query catalog.
func (s *Scraper) QueryCount() int {
	return len(s.config.Queries)
}

// QueriesPerRun returns the default query window size.
func (s *Scraper) QueriesPerRun() int {
	return s.config.QueriesPerRun
}

// run holds the state of one Discover call.
type run struct {
	opts       Options
	limit      int
	seen       map[string]struct{}
	found      []domain.ScrapedKey
	duplicates int
}

func (r *run) full() bool {
	return r.limit > 0 && len(r.found) >= r.limit
}

// Discover searches a window of the query catalog and returns the keys not
// seen before. A limit of zero means no limit. The keys found so far are
// returned alongside any error that aborts the run.
func (s *Scraper) Discover(ctx context.Context, limit int, opts Options) ([]domain.ScrapedKey, error) {
	r := &run{opts: opts, limit: limit, seen: make(map[string]struct{})}

	known := opts.KnownKeys
	if known == nil && s.store != nil {
		var err error
		known, err = s.store.KnownKeys(ctx)
		if err != nil {
			s.logger.Warn("scraper: load known keys", "error", err)
		}
	}
	for k := range known {
		r.seen[k] = struct{}{}
	}

	window := opts.QueriesPerRun
	if window <= 0 {
		window = s.config.QueriesPerRun
	}
	total := len(s.config.Queries)
	if window > total {
		window = total
	}
	start := opts.QueryStartIndex % total
	if start < 0 {
		start += total
	}

	s.logger.Info("scraper: run started",
		"start_index", start, "queries", window, "limit", limit,
		"validate", opts.Validate, "persist", opts.Persist)

	for i := 0; i < window && !r.full(); i++ {
		index := (start + i) % total
		if err := s.runQuery(ctx, r, index, total); err != nil {
			s.logger.Warn("scraper: run aborted", "error", err, "found", len(r.found))
			return r.found, err
		}
	}

	s.logger.Info("scraper: run finished", "found", len(r.found), "duplicates", r.duplicates)
	return r.found, nil
}

// runQuery paginates one query. Only token exhaustion and cancellation are
// returned; other search failures end this query's pagination.
func (s *Scraper) runQuery(ctx context.Context, r *run, index, total int) error {
	query := s.config.Queries[index]
	for page := 1; page <= s.config.MaxPages && !r.full(); page++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		order := "desc"
		if page%2 == 0 {
			order = "asc"
		}
		result, err := s.search(ctx, github.SearchRequest{
			Query:   query,
			Page:    page,
			PerPage: s.config.PerPage,
			Order:   order,
		})
		if err != nil {
			if errors.Is(err, ErrNoTokens) || ctx.Err() != nil {
				return err
			}
			s.logger.Warn("scraper: search failed", "query", query, "page", page, "error", err)
			return nil
		}

		for _, item := range result.Items {
			if r.full() {
				break
			}
			s.scanItem(ctx, r, query, item)
		}

		if r.opts.OnProgress != nil {
			r.opts.OnProgress(Progress{
				Query:        query,
				QueryIndex:   index,
				QueriesTotal: total,
				Page:         page,
				Found:        len(r.found),
				Duplicates:   r.duplicates,
				Limit:        r.limit,
			})
		}
		if len(result.Items) < s.config.PerPage {
			break
		}
	}
	return nil
}

// search runs one page, rotating tokens on rate limits.
func (s *Scraper) search(ctx context.Context, req github.SearchRequest) (*github.SearchResult, error) {
	var lastErr error
	for attempt := 0; attempt < maxSearchAttempts; attempt++ {
		token := s.rotator.Current(ctx)
		value := ""
		if token != nil {
			value = token.Value
		}

		result, err := s.client.SearchCode(ctx, value, req)
		if err == nil {
			if token != nil {
				s.rotator.MarkSuccess(ctx, result.RateLimit.Remaining, result.RateLimit.ResetAt)
			}
			return result, nil
		}
		var rl *github.RateLimitError
		if !errors.As(err, &rl) {
			return nil, err
		}
		lastErr = err

		if token != nil {
			s.rotator.MarkRateLimited(ctx, rl.ResetAt)
			s.rotator.RotateToNext(ctx)
			if s.rotator.Current(ctx) != nil {
				continue
			}
		}

		s.logger.Warn("scraper: all search tokens rate limited", "cooldown", s.config.TokenCooldown)
		if err := sleep(ctx, s.config.TokenCooldown); err != nil {
			return nil, err
		}
		if err := s.rotator.Refresh(ctx); err != nil {
			s.logger.Warn("scraper: refresh tokens", "error", err)
		}
		if s.rotator.Current(ctx) == nil {
			return nil, ErrNoTokens
		}
	}
	return nil, lastErr
}

func (s *Scraper) scanItem(ctx context.Context, r *run, query string, item github.CodeResult) {
	rawURL, err := s.client.RawURL(item)
	if err != nil {
		s.logger.Debug("scraper: skip item", "path", item.Path, "error", err)
		return
	}

	fetchCtx, cancel := context.WithTimeout(ctx, s.config.FetchTimeout)
	content, err := s.client.FetchFile(fetchCtx, rawURL)
	cancel()
	if err != nil {
		s.logger.Debug("scraper: fetch failed", "url", rawURL, "error", err)
		return
	}

	for _, key := range validation.ExtractKeys(content) {
		if r.full() {
			return
		}
		if _, dup := r.seen[key]; dup {
			r.duplicates++
			continue
		}
		r.seen[key] = struct{}{}

		scraped := domain.ScrapedKey{
			Key:          key,
			Source:       domain.SourceGitHub,
			SourceURL:    item.HTMLURL,
			Repository:   item.Repository.FullName,
			FilePath:     item.Path,
			Query:        query,
			DiscoveredAt: s.now(),
		}
		s.record(ctx, &scraped, r.opts)
		r.found = append(r.found, scraped)
		s.logger.Info("scraper: key found",
			"key", domain.MaskKey(key), "repository", scraped.Repository, "path", scraped.FilePath)
	}
}

// record persists and validates a new key as requested. Failures are
// logged; the key is still reported to the caller.
func (s *Scraper) record(ctx context.Context, scraped *domain.ScrapedKey, opts Options) {
	persist := opts.Persist && s.store != nil
	if persist {
		if _, err := s.store.StoreCandidates(ctx, []*domain.CandidateKey{scraped.Candidate(uuid.New().String())}); err != nil {
			s.logger.Warn("scraper: store candidate", "key", domain.MaskKey(scraped.Key), "error", err)
			persist = false
		}
	}
	if !opts.Validate || s.validator == nil {
		return
	}

	result := s.validator.Validate(ctx, scraped.Key)
	scraped.Validation = result
	if !persist || result.Inconclusive {
		return
	}
	var working *domain.WorkingKey
	if result.Status != domain.StatusInvalid {
		working = domain.NewWorkingKey(result, scraped.Source, scraped.SourceURL, s.now(), s.config.Recheck)
	}
	if err := storage.Promote(ctx, s.store, working, scraped.Key); err != nil {
		s.logger.Warn("scraper: promote key", "key", domain.MaskKey(scraped.Key), "error", err)
	}
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
