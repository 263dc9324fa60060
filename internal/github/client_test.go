package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestSearchCode(t *testing.T) {
	var gotAuth, gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/search/code" {
			http.NotFound(w, r)
			return
		}
		gotAuth = r.Header.Get("Authorization")
		gotQuery = r.URL.RawQuery
		w.Header().Set("X-RateLimit-Remaining", "9")
		w.Header().Set("X-RateLimit-Reset", "1767225600")
		fmt.Fprint(w, `{"total_count":1,"incomplete_results":false,"items":[{
			"name":".env","path":"config/.env","sha":"abc",
			"html_url":"https://github.com/acme/app/blob/main/config/.env",
			"repository":{"full_name":"acme/app","html_url":"https://github.com/acme/app"}}]}`)
	}))
	defer srv.Close()

	c := New(Config{APIURL: srv.URL})
	result, err := c.SearchCode(context.Background(), "ghp_secret", SearchRequest{Query: "AIzaSy in:file", Page: 2, Order: "asc"})
	if err != nil {
		t.Fatalf("SearchCode: %v", err)
	}

	if gotAuth != "Bearer ghp_secret" {
		t.Errorf("Expected bearer auth, got %q", gotAuth)
	}
	for _, part := range []string{"page=2", "per_page=100", "sort=indexed", "order=asc", "q=AIzaSy+in%3Afile"} {
		if !strings.Contains(gotQuery, part) {
			t.Errorf("Expected query to contain %q, got %q", part, gotQuery)
		}
	}
	if len(result.Items) != 1 || result.Items[0].Repository.FullName != "acme/app" {
		t.Fatalf("Unexpected items %+v", result.Items)
	}
	if result.RateLimit.Remaining == nil || *result.RateLimit.Remaining != 9 {
		t.Errorf("Expected remaining 9, got %v", result.RateLimit.Remaining)
	}
	if result.RateLimit.ResetAt == nil || !result.RateLimit.ResetAt.Equal(time.Unix(1767225600, 0)) {
		t.Errorf("Unexpected reset %v", result.RateLimit.ResetAt)
	}
}

func TestSearchCode_Unauthenticated(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		fmt.Fprint(w, `{"total_count":0,"items":[]}`)
	}))
	defer srv.Close()

	if _, err := New(Config{APIURL: srv.URL}).SearchCode(context.Background(), "", SearchRequest{Query: "x"}); err != nil {
		t.Fatalf("SearchCode: %v", err)
	}
	if gotAuth != "" {
		t.Errorf("Expected no Authorization header, got %q", gotAuth)
	}
}

func TestSearchCode_Errors(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		headers     map[string]string
		rateLimited bool
		wantReset   bool
	}{
		{"forbidden with reset", http.StatusForbidden, map[string]string{"X-RateLimit-Reset": "1767225600", "X-RateLimit-Remaining": "0"}, true, true},
		{"too many with retry-after", http.StatusTooManyRequests, map[string]string{"Retry-After": "30"}, true, true},
		{"too many bare", http.StatusTooManyRequests, nil, true, false},
		{"validation failed", http.StatusUnprocessableEntity, nil, false, false},
		{"server error", http.StatusBadGateway, nil, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				for k, v := range tt.headers {
					w.Header().Set(k, v)
				}
				w.WriteHeader(tt.status)
				fmt.Fprint(w, `{"message":"nope"}`)
			}))
			defer srv.Close()

			_, err := New(Config{APIURL: srv.URL}).SearchCode(context.Background(), "ghp_x", SearchRequest{Query: "x"})
			if err == nil {
				t.Fatal("Expected an error")
			}
			if got := errors.Is(err, ErrRateLimited); got != tt.rateLimited {
				t.Fatalf("errors.Is(ErrRateLimited) = %v, want %v (%v)", got, tt.rateLimited, err)
			}
			if !tt.rateLimited {
				return
			}
			var rle *RateLimitError
			if !errors.As(err, &rle) {
				t.Fatalf("Expected *RateLimitError, got %T", err)
			}
			if rle.StatusCode != tt.status {
				t.Errorf("Expected status %d, got %d", tt.status, rle.StatusCode)
			}
			if (rle.ResetAt != nil) != tt.wantReset {
				t.Errorf("Expected reset present = %v, got %v", tt.wantReset, rle.ResetAt)
			}
		})
	}
}

func TestRawURL(t *testing.T) {
	c := New(Config{RawURL: "https://raw.example.com/"})

	got, err := c.RawURL(CodeResult{
		HTMLURL:    "https://github.com/acme/app/blob/0a1b2c/src/config.js",
		Repository: Repository{FullName: "acme/app"},
	})
	if err != nil {
		t.Fatalf("RawURL: %v", err)
	}
	if want := "https://raw.example.com/acme/app/0a1b2c/src/config.js"; got != want {
		t.Errorf("RawURL = %q, want %q", got, want)
	}

	if _, err := c.RawURL(CodeResult{HTMLURL: "https://github.com/acme/app", Repository: Repository{FullName: "acme/app"}}); err == nil {
		t.Error("Expected an error for a URL without /blob/")
	}
}

func TestFetchFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/small":
			fmt.Fprint(w, "GEMINI_API_KEY=value")
		case "/large":
			fmt.Fprint(w, strings.Repeat("x", 64))
		case "/streamed":
			// No Content-Length: the size is only known while reading.
			w.(http.Flusher).Flush()
			fmt.Fprint(w, strings.Repeat("y", 64))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := New(Config{MaxFileSize: 32})
	ctx := context.Background()

	body, err := c.FetchFile(ctx, srv.URL+"/small")
	if err != nil || body != "GEMINI_API_KEY=value" {
		t.Errorf("FetchFile small = %q, %v", body, err)
	}
	if _, err := c.FetchFile(ctx, srv.URL+"/large"); !errors.Is(err, ErrFileTooLarge) {
		t.Errorf("Expected ErrFileTooLarge, got %v", err)
	}
	if _, err := c.FetchFile(ctx, srv.URL+"/streamed"); !errors.Is(err, ErrFileTooLarge) {
		t.Errorf("Expected ErrFileTooLarge for streamed body, got %v", err)
	}
	if _, err := c.FetchFile(ctx, srv.URL+"/missing"); err == nil {
		t.Error("Expected an error for a missing file")
	}
}
