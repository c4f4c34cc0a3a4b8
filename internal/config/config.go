// Package config reads the usage server configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Sternrassler/school-usage-client/pkg/aggregate"
	"github.com/Sternrassler/school-usage-client/pkg/cache"
	"github.com/Sternrassler/school-usage-client/pkg/client"
	"github.com/Sternrassler/school-usage-client/pkg/logging"
	"github.com/Sternrassler/school-usage-client/pkg/pagination"
	"github.com/Sternrassler/school-usage-client/pkg/pipeline"
)

// Config is the server configuration.
type Config struct {
	Port         string
	BaseURL      string
	UserAgent    string
	AccountsFile string

	// RedisURL selects the Redis cache store. Empty uses the in-process
	// store. Accepts redis:// URLs or a bare host:port.
	RedisURL string

	CacheTTL       time.Duration
	MaxConcurrency int
	PageSize       int

	// RateLimit is upstream requests per second; 0 is unlimited.
	RateLimit float64

	// AuthRetries is the number of login attempts per tenant; 1 disables
	// retries.
	AuthRetries int

	LogLevel  string
	LogPretty bool
}

// Default returns the configuration used for unset variables.
func Default() Config {
	return Config{
		Port:           "8080",
		BaseURL:        client.DefaultBaseURL,
		UserAgent:      client.DefaultConfig().UserAgent,
		AccountsFile:   "accounts.yaml",
		CacheTTL:       cache.DefaultTTL,
		MaxConcurrency: 1,
		PageSize:       pagination.DefaultPageSize,
		AuthRetries:    1,
		LogLevel:       string(logging.LevelInfo),
	}
}

// FromEnv reads the configuration through getenv (usually os.Getenv).
// All invalid variables are reported together.
func FromEnv(getenv func(string) string) (Config, error) {
	cfg := Default()
	var errs []error

	str := func(key string, dst *string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	integer := func(key string, min int, dst *int) {
		v := strings.TrimSpace(getenv(key))
		if v == "" {
			return
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < min {
			errs = append(errs, fmt.Errorf("%s must be an integer >= %d (got %q)", key, min, v))
			return
		}
		*dst = n
	}

	str("PORT", &cfg.Port)
	str("BASE_URL", &cfg.BaseURL)
	str("USER_AGENT", &cfg.UserAgent)
	str("ACCOUNTS_FILE", &cfg.AccountsFile)
	str("REDIS_URL", &cfg.RedisURL)
	str("LOG_LEVEL", &cfg.LogLevel)

	integer("MAX_CONCURRENCY", 1, &cfg.MaxConcurrency)
	integer("PAGE_SIZE", 1, &cfg.PageSize)
	integer("AUTH_RETRIES", 1, &cfg.AuthRetries)

	if v := strings.TrimSpace(getenv("CACHE_TTL")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			errs = append(errs, fmt.Errorf("CACHE_TTL must be a positive duration (got %q)", v))
		} else {
			cfg.CacheTTL = d
		}
	}

	if v := strings.TrimSpace(getenv("RATE_LIMIT")); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f < 0 {
			errs = append(errs, fmt.Errorf("RATE_LIMIT must be a non-negative number (got %q)", v))
		} else {
			cfg.RateLimit = f
		}
	}

	if v := strings.TrimSpace(getenv("LOG_PRETTY")); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("LOG_PRETTY must be a boolean (got %q)", v))
		} else {
			cfg.LogPretty = b
		}
	}

	if !logging.ValidLevel(cfg.LogLevel) {
		errs = append(errs, fmt.Errorf("LOG_LEVEL must be one of debug, info, warn, error (got %q)", cfg.LogLevel))
	}

	if err := errors.Join(errs...); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Client returns the upstream client configuration.
func (c Config) Client() client.Config {
	cc := client.DefaultConfig()
	cc.BaseURL = c.BaseURL
	cc.UserAgent = c.UserAgent
	if c.RateLimit > 0 {
		cc.RateLimit.RequestsPerSecond = c.RateLimit
	}
	return cc
}

// Retry returns the login retry configuration.
func (c Config) Retry() client.RetryConfig {
	rc := client.DefaultRetryConfig()
	rc.MaxAttempts = c.AuthRetries
	return rc
}

// Aggregate returns the aggregator configuration.
func (c Config) Aggregate() aggregate.Config {
	return aggregate.Config{
		PageSize:       c.PageSize,
		MaxConcurrency: c.MaxConcurrency,
	}
}

// Pipeline returns the pipeline configuration.
func (c Config) Pipeline() pipeline.Config {
	return pipeline.Config{CacheTTL: c.CacheTTL}
}

// Logging returns the logger configuration.
func (c Config) Logging() logging.Config {
	lc := logging.DefaultConfig()
	lc.Level = logging.LogLevel(strings.ToLower(c.LogLevel))
	lc.Pretty = c.LogPretty
	return lc
}

// RedisOptions returns connection options for RedisURL, or nil when no
// Redis is configured.
func (c Config) RedisOptions() (*redis.Options, error) {
	if c.RedisURL == "" {
		return nil, nil
	}
	if strings.Contains(c.RedisURL, "://") {
		opts, err := redis.ParseURL(c.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parse REDIS_URL: %w", err)
		}
		return opts, nil
	}
	return &redis.Options{Addr: c.RedisURL}, nil
}
