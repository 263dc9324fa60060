package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v9"
)

// Config holds all configuration for the application.
type Config struct {
	Server      ServerConfig
	Database    DatabaseConfig
	Log         LogConfig
	GitHub      GitHubConfig
	Gemini      GeminiConfig
	Processor   ProcessorConfig
	Revalidator RevalidatorConfig
	Scraper     ScraperConfig
	Pool        PoolConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host        string `env:"SERVER_HOST" envDefault:"0.0.0.0"`
	Port        int    `env:"SERVER_PORT" envDefault:"8080"`
	AdminAPIKey string `env:"ADMIN_API_KEY"`
	// ShutdownTimeout bounds graceful shutdown of the server and workers.
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" envDefault:"30s"`
}

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
	Driver string `env:"DB_DRIVER" envDefault:"sqlite3"`
	DSN    string `env:"DB_DSN" envDefault:"data/keypool.db"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `env:"LOG_LEVEL" envDefault:"info"`
	Format string `env:"LOG_FORMAT" envDefault:"text"` // text or json
}

// GitHubConfig holds code search configuration.
type GitHubConfig struct {
	APIURL string `env:"GITHUB_API_URL" envDefault:"https://api.github.com"`
	RawURL string `env:"GITHUB_RAW_URL" envDefault:"https://raw.githubusercontent.com"`
	// Tokens is a comma-separated list of name=token pairs or bare tokens,
	// seeded into the token table at startup.
	Tokens            string        `env:"GITHUB_TOKENS"`
	Timeout           time.Duration `env:"GITHUB_TIMEOUT" envDefault:"30s"`
	MaxFileSize       int64         `env:"GITHUB_MAX_FILE_SIZE" envDefault:"1048576"`
	TokenRefresh      time.Duration `env:"GITHUB_TOKEN_REFRESH" envDefault:"2m"`
	RateLimitCooldown time.Duration `env:"GITHUB_RATE_LIMIT_COOLDOWN" envDefault:"60s"`
}

// GeminiConfig holds model probe configuration.
type GeminiConfig struct {
	BaseURL      string        `env:"GEMINI_BASE_URL" envDefault:"https://generativelanguage.googleapis.com"`
	ProbeTimeout time.Duration `env:"GEMINI_PROBE_TIMEOUT" envDefault:"15s"`
}

// ProcessorConfig holds candidate processor configuration.
type ProcessorConfig struct {
	Enabled      bool          `env:"PROCESSOR_ENABLED" envDefault:"true"`
	BatchSize    int           `env:"PROCESSOR_BATCH_SIZE" envDefault:"10"`
	KeyDelay     time.Duration `env:"PROCESSOR_KEY_DELAY" envDefault:"1s"`
	IdleCooldown time.Duration `env:"PROCESSOR_IDLE_COOLDOWN" envDefault:"60s"`
	Recheck      time.Duration `env:"PROCESSOR_RECHECK" envDefault:"5m"`
}

// RevalidatorConfig holds revalidator configuration.
type RevalidatorConfig struct {
	Enabled       bool          `env:"REVALIDATOR_ENABLED" envDefault:"true"`
	BatchSize     int           `env:"REVALIDATOR_BATCH_SIZE" envDefault:"20"`
	Concurrency   int           `env:"REVALIDATOR_CONCURRENCY" envDefault:"5"`
	MaxKeys       int           `env:"REVALIDATOR_MAX_KEYS" envDefault:"500"`
	CycleCooldown time.Duration `env:"REVALIDATOR_CYCLE_COOLDOWN" envDefault:"30m"`
	IdleCooldown  time.Duration `env:"REVALIDATOR_IDLE_COOLDOWN" envDefault:"60s"`
	Eviction      string        `env:"REVALIDATOR_EVICTION" envDefault:"evict"` // evict or retain
}

// ScraperConfig holds discovery configuration.
type ScraperConfig struct {
	Enabled       bool          `env:"SCRAPER_ENABLED" envDefault:"false"`
	Interval      time.Duration `env:"SCRAPER_INTERVAL" envDefault:"10m"`
	Limit         int           `env:"SCRAPER_LIMIT" envDefault:"100"`
	Validate      bool          `env:"SCRAPER_VALIDATE" envDefault:"false"`
	MaxPages      int           `env:"SCRAPER_MAX_PAGES" envDefault:"3"`
	QueriesPerRun int           `env:"SCRAPER_QUERIES_PER_RUN" envDefault:"5"`
	FetchTimeout  time.Duration `env:"SCRAPER_FETCH_TIMEOUT" envDefault:"10s"`
}

// PoolConfig holds key selection configuration.
type PoolConfig struct {
	FallbackKey  string        `env:"POOL_FALLBACK_KEY"`
	QuotaRecheck time.Duration `env:"POOL_QUOTA_RECHECK" envDefault:"30m"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}

	sections := []struct {
		name string
		v    any
	}{
		{"server", &cfg.Server},
		{"database", &cfg.Database},
		{"log", &cfg.Log},
		{"github", &cfg.GitHub},
		{"gemini", &cfg.Gemini},
		{"processor", &cfg.Processor},
		{"revalidator", &cfg.Revalidator},
		{"scraper", &cfg.Scraper},
		{"pool", &cfg.Pool},
	}
	for _, s := range sections {
		if err := env.Parse(s.v); err != nil {
			return nil, fmt.Errorf("parsing %s config: %w", s.name, err)
		}
	}

	return cfg, nil
}

// Addr returns the server address in host:port format.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Server.AdminAPIKey == "" {
		return fmt.Errorf("ADMIN_API_KEY is required")
	}
	switch c.Database.Driver {
	case "sqlite3", "postgres":
	default:
		return fmt.Errorf("DB_DRIVER must be sqlite3 or postgres, got %q", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("DB_DSN is required")
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("LOG_FORMAT must be text or json, got %q", c.Log.Format)
	}
	switch c.Revalidator.Eviction {
	case "evict", "retain":
	default:
		return fmt.Errorf("REVALIDATOR_EVICTION must be evict or retain, got %q", c.Revalidator.Eviction)
	}
	if c.Revalidator.Concurrency < 1 {
		return fmt.Errorf("REVALIDATOR_CONCURRENCY must be at least 1")
	}
	if _, err := ParseTokens(c.GitHub.Tokens); err != nil {
		return err
	}
	return nil
}

// Token is a search token from GITHUB_TOKENS.
type Token struct {
	Name  string
	Value string
}

// ParseTokens parses a comma-separated list of name=token pairs or bare
// tokens. Bare tokens are named token-1, token-2, ... by position.
func ParseTokens(s string) ([]Token, error) {
	var tokens []Token
	seen := make(map[string]bool)
	for i, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, value, ok := strings.Cut(part, "=")
		if !ok {
			name, value = fmt.Sprintf("token-%d", i+1), part
		}
		name, value = strings.TrimSpace(name), strings.TrimSpace(value)
		if name == "" || value == "" {
			return nil, fmt.Errorf("GITHUB_TOKENS entry %d is malformed", i+1)
		}
		if seen[name] {
			return nil, fmt.Errorf("GITHUB_TOKENS has duplicate name %q", name)
		}
		seen[name] = true
		tokens = append(tokens, Token{Name: name, Value: value})
	}
	return tokens, nil
}
