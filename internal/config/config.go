// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog"
)

// Config holds all application configuration
type Config struct {
	Port     string `env:"PORT" envDefault:"8080"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	Cache  CacheConfig
	GitHub GitHubConfig

	// Optional collaborators; empty disables them.
	DatabaseURL string `env:"DATABASE_URL"`
	RedisAddr   string `env:"REDIS_ADDR"`
	AdminToken  string `env:"ADMIN_TOKEN"`

	SessionLifetime time.Duration `env:"SESSION_LIFETIME" envDefault:"12h"`
}

// CacheConfig bounds the repository content cache
type CacheConfig struct {
	MaxSize         int `env:"CACHE_MAX_SIZE" envDefault:"50"`
	TTLSeconds      int `env:"CACHE_TTL_SECONDS" envDefault:"3600"`
	MinContentBytes int `env:"MIN_CONTENT_BYTES" envDefault:"100"`

	FetchTimeout time.Duration `env:"FETCH_TIMEOUT" envDefault:"2m"`
}

// TTL returns the cache TTL as a duration
func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

// GitHubConfig holds GitHub API settings
type GitHubConfig struct {
	Token    string `env:"GITHUB_TOKEN"`
	APIURL   string `env:"GITHUB_API_URL" envDefault:"https://api.github.com"`
	MaxFiles int    `env:"GITHUB_MAX_FILES" envDefault:"40"`
	MaxBytes int    `env:"GITHUB_MAX_BYTES" envDefault:"200000"`

	// Bounds for the conditional-request cache of raw API responses.
	ResponseCacheSize int           `env:"GITHUB_RESPONSE_CACHE_SIZE" envDefault:"512"`
	ResponseCacheTTL  time.Duration `env:"GITHUB_RESPONSE_CACHE_TTL" envDefault:"10m"`
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the service cannot run with
func (c *Config) Validate() error {
	if c.Cache.MaxSize < 1 {
		return fmt.Errorf("CACHE_MAX_SIZE must be at least 1, got %d", c.Cache.MaxSize)
	}
	if c.Cache.TTLSeconds < 1 {
		return fmt.Errorf("CACHE_TTL_SECONDS must be at least 1, got %d", c.Cache.TTLSeconds)
	}
	if c.Cache.MinContentBytes < 1 {
		return fmt.Errorf("MIN_CONTENT_BYTES must be at least 1, got %d", c.Cache.MinContentBytes)
	}
	if c.Cache.FetchTimeout <= 0 {
		return fmt.Errorf("FETCH_TIMEOUT must be positive, got %s", c.Cache.FetchTimeout)
	}
	if c.GitHub.ResponseCacheSize < 1 {
		return fmt.Errorf("GITHUB_RESPONSE_CACHE_SIZE must be at least 1, got %d", c.GitHub.ResponseCacheSize)
	}
	if c.GitHub.ResponseCacheTTL < time.Second {
		return fmt.Errorf("GITHUB_RESPONSE_CACHE_TTL must be at least 1s, got %s", c.GitHub.ResponseCacheTTL)
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid LOG_LEVEL: %v", err)
	}
	return nil
}

// Level returns the parsed log level, defaulting to info
func (c *Config) Level() zerolog.Level {
	lvl, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

// HasDatabase returns true if the fetch audit log is configured
func (c *Config) HasDatabase() bool {
	return c.DatabaseURL != ""
}

// HasQueue returns true if the prefetch queue is configured
func (c *Config) HasQueue() bool {
	return c.RedisAddr != ""
}
