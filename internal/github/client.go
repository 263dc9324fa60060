// Package github talks to the GitHub code search API and fetches raw file
// contents for the discoverer.
package github

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

const (
	DefaultAPIURL = "https://api.github.com"
	DefaultRawURL = "https://raw.githubusercontent.com"
)

// ErrRateLimited is returned when the search API answers 403 or 429.
var ErrRateLimited = errors.New("github: rate limited")

// ErrFileTooLarge is returned when a file exceeds the configured size.
var ErrFileTooLarge = errors.New("github: file too large")

// RateLimit carries the rate-limit headers of a search response.
type RateLimit struct {
	Remaining *int
	ResetAt   *time.Time
}

// RateLimitError wraps ErrRateLimited with the reset time, when known.
type RateLimitError struct {
	StatusCode int
	RateLimit
}

// Error implements the error interface.
func (e *RateLimitError) Error() string {
	if e.ResetAt != nil {
		return fmt.Sprintf("github: rate limited (status %d, reset %s)", e.StatusCode, e.ResetAt.Format(time.RFC3339))
	}
	return fmt.Sprintf("github: rate limited (status %d)", e.StatusCode)
}

// Unwrap lets errors.Is match ErrRateLimited.
func (e *RateLimitError) Unwrap() error { return ErrRateLimited }

// Repository is the repository part of a search hit.
type Repository struct {
	FullName string `json:"full_name"`
	HTMLURL  string `json:"html_url"`
	Language string `json:"language,omitempty"`
}

// CodeResult is one item of a code search response.
type CodeResult struct {
	Name       string     `json:"name"`
	Path       string     `json:"path"`
	SHA        string     `json:"sha"`
	URL        string     `json:"url"`
	HTMLURL    string     `json:"html_url"`
	Repository Repository `json:"repository"`
}

// SearchResult is a page of code search results.
type SearchResult struct {
	TotalCount        int          `json:"total_count"`
	IncompleteResults bool         `json:"incomplete_results"`
	Items             []CodeResult `json:"items"`
	RateLimit         RateLimit    `json:"-"`
}

// SearchRequest describes one search page.
type SearchRequest struct {
	Query   string
	Page    int
	PerPage int
	// Order is "desc" or "asc"; results are sorted by index time.
	Order string
}

// Config configures the client.
type Config struct {
	APIURL      string
	RawURL      string
	Timeout     time.Duration // per request. Default: 30s.
	MaxFileSize int64         // Default: 1MB.
	UserAgent   string
}

func (c *Config) defaults() {
	if c.APIURL == "" {
		c.APIURL = DefaultAPIURL
	}
	if c.RawURL == "" {
		c.RawURL = DefaultRawURL
	}
	c.APIURL = strings.TrimRight(c.APIURL, "/")
	c.RawURL = strings.TrimRight(c.RawURL, "/")
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MaxFileSize <= 0 {
		c.MaxFileSize = 1 << 20
	}
	if c.UserAgent == "" {
		c.UserAgent = "keypool-manager/1.0"
	}
}

// Client is a minimal GitHub REST client.
type Client struct {
	http   *http.Client
	config Config
}

// New creates a Client.
func New(cfg Config) *Client {
	cfg.defaults()
	return &Client{
		http:   &http.Client{Timeout: cfg.Timeout},
		config: cfg,
	}
}

// authorized returns an HTTP client that sends token as a bearer token.
// An empty token yields the unauthenticated client.
func (c *Client) authorized(token string) *http.Client {
	if token == "" {
		return c.http
	}
	return &http.Client{
		Timeout: c.config.Timeout,
		Transport: &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"}),
			Base:   c.http.Transport,
		},
	}
}

// SearchCode runs one page of a code search.
func (c *Client) SearchCode(ctx context.Context, token string, req SearchRequest) (*SearchResult, error) {
	if req.Page <= 0 {
		req.Page = 1
	}
	if req.PerPage <= 0 {
		req.PerPage = 100
	}
	if req.Order == "" {
		req.Order = "desc"
	}
	q := url.Values{}
	q.Set("q", req.Query)
	q.Set("page", strconv.Itoa(req.Page))
	q.Set("per_page", strconv.Itoa(req.PerPage))
	q.Set("sort", "indexed")
	q.Set("order", req.Order)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.APIURL+"/search/code?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/vnd.github+json")
	httpReq.Header.Set("X-GitHub-Api-Version", "2022-11-28")
	httpReq.Header.Set("User-Agent", c.config.UserAgent)

	resp, err := c.authorized(token).Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("search code: %w", err)
	}
	defer resp.Body.Close()

	limit := parseRateLimit(resp.Header)
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &RateLimitError{StatusCode: resp.StatusCode, RateLimit: limit}
	case resp.StatusCode == http.StatusForbidden:
		return nil, &RateLimitError{StatusCode: resp.StatusCode, RateLimit: limit}
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("search code: http %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var result SearchResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}
	result.RateLimit = limit
	return &result, nil
}

// parseRateLimit reads X-RateLimit-Remaining and X-RateLimit-Reset.
func parseRateLimit(h http.Header) RateLimit {
	var limit RateLimit
	if v := h.Get("X-RateLimit-Remaining"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit.Remaining = &n
		}
	}
	if v := h.Get("X-RateLimit-Reset"); v != "" {
		if epoch, err := strconv.ParseInt(v, 10, 64); err == nil {
			t := time.Unix(epoch, 0).UTC()
			limit.ResetAt = &t
		}
	}
	if limit.ResetAt == nil {
		if v := h.Get("Retry-After"); v != "" {
			if secs, err := strconv.Atoi(v); err == nil {
				t := time.Now().Add(time.Duration(secs) * time.Second).UTC()
				limit.ResetAt = &t
			}
		}
	}
	return limit
}

// RawURL converts a search hit into its raw content URL.
func (c *Client) RawURL(item CodeResult) (string, error) {
	// html_url: https://github.com/{owner}/{repo}/blob/{ref}/{path}
	_, refPath, ok := strings.Cut(item.HTMLURL, "/blob/")
	if !ok || item.Repository.FullName == "" {
		return "", fmt.Errorf("unexpected html_url %q", item.HTMLURL)
	}
	return c.config.RawURL + "/" + item.Repository.FullName + "/" + refPath, nil
}

// FetchFile downloads a file, refusing anything larger than MaxFileSize.
func (c *Client) FetchFile(ctx context.Context, rawURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("User-Agent", c.config.UserAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch file: http %d", resp.StatusCode)
	}
	if resp.ContentLength > c.config.MaxFileSize {
		return "", ErrFileTooLarge
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, c.config.MaxFileSize+1))
	if err != nil {
		return "", fmt.Errorf("read file: %w", err)
	}
	if int64(len(body)) > c.config.MaxFileSize {
		return "", ErrFileTooLarge
	}
	return string(body), nil
}
