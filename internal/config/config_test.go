package config

import (
	"strings"
	"testing"
	"time"

	"github.com/Sternrassler/school-usage-client/pkg/client"
	"github.com/Sternrassler/school-usage-client/pkg/logging"
)

func env(vars map[string]string) func(string) string {
	return func(key string) string { return vars[key] }
}

func TestFromEnv_Defaults(t *testing.T) {
	cfg, err := FromEnv(env(nil))
	if err != nil {
		t.Fatalf("FromEnv() error = %v", err)
	}

	if cfg != Default() {
		t.Errorf("FromEnv() = %+v, want %+v", cfg, Default())
	}
	if cfg.Port != "8080" {
		t.Errorf("Port = %q, want 8080", cfg.Port)
	}
	if cfg.BaseURL != client.DefaultBaseURL {
		t.Errorf("BaseURL = %q, want %q", cfg.BaseURL, client.DefaultBaseURL)
	}
	if cfg.CacheTTL != time.Hour {
		t.Errorf("CacheTTL = %v, want 1h", cfg.CacheTTL)
	}
	if cfg.MaxConcurrency != 1 || cfg.PageSize != 50 || cfg.AuthRetries != 1 {
		t.Errorf("MaxConcurrency/PageSize/AuthRetries = %d/%d/%d, want 1/50/1",
			cfg.MaxConcurrency, cfg.PageSize, cfg.AuthRetries)
	}
}

func TestFromEnv_Overrides(t *testing.T) {
	cfg, err := FromEnv(env(map[string]string{
		"PORT":            "9090",
		"BASE_URL":        "http://localhost:1234/api",
		"USER_AGENT":      "usage-test/1.0",
		"ACCOUNTS_FILE":   "/etc/usage/accounts.yaml",
		"REDIS_URL":       "redis://localhost:6379/2",
		"CACHE_TTL":       "15m",
		"MAX_CONCURRENCY": "4",
		"PAGE_SIZE":       "100",
		"RATE_LIMIT":      "2.5",
		"AUTH_RETRIES":    "3",
		"LOG_LEVEL":       "DEBUG",
		"LOG_PRETTY":      "true",
	}))
	if err != nil {
		t.Fatalf("FromEnv() error = %v", err)
	}

	want := Config{
		Port:           "9090",
		BaseURL:        "http://localhost:1234/api",
		UserAgent:      "usage-test/1.0",
		AccountsFile:   "/etc/usage/accounts.yaml",
		RedisURL:       "redis://localhost:6379/2",
		CacheTTL:       15 * time.Minute,
		MaxConcurrency: 4,
		PageSize:       100,
		RateLimit:      2.5,
		AuthRetries:    3,
		LogLevel:       "DEBUG",
		LogPretty:      true,
	}
	if cfg != want {
		t.Errorf("FromEnv() = %+v, want %+v", cfg, want)
	}
}

func TestFromEnv_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		value   string
		wantErr string
	}{
		{"ttl not duration", "CACHE_TTL", "soon", "CACHE_TTL"},
		{"ttl negative", "CACHE_TTL", "-1m", "CACHE_TTL"},
		{"concurrency zero", "MAX_CONCURRENCY", "0", "MAX_CONCURRENCY"},
		{"page size text", "PAGE_SIZE", "big", "PAGE_SIZE"},
		{"rate negative", "RATE_LIMIT", "-1", "RATE_LIMIT"},
		{"retries zero", "AUTH_RETRIES", "0", "AUTH_RETRIES"},
		{"pretty not bool", "LOG_PRETTY", "maybe", "LOG_PRETTY"},
		{"unknown level", "LOG_LEVEL", "verbose", "LOG_LEVEL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := FromEnv(env(map[string]string{tt.key: tt.value}))
			if err == nil {
				t.Fatal("FromEnv() error = nil, want error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want mention of %s", err, tt.wantErr)
			}
		})
	}
}

func TestFromEnv_ReportsAllErrors(t *testing.T) {
	_, err := FromEnv(env(map[string]string{"PAGE_SIZE": "x", "CACHE_TTL": "y"}))
	if err == nil {
		t.Fatal("FromEnv() error = nil, want error")
	}
	for _, key := range []string{"PAGE_SIZE", "CACHE_TTL"} {
		if !strings.Contains(err.Error(), key) {
			t.Errorf("error = %v, want mention of %s", err, key)
		}
	}
}

func TestConfig_Derived(t *testing.T) {
	cfg := Default()
	cfg.BaseURL = "http://upstream/api"
	cfg.RateLimit = 5
	cfg.AuthRetries = 3
	cfg.MaxConcurrency = 2
	cfg.PageSize = 20
	cfg.CacheTTL = 10 * time.Minute
	cfg.LogLevel = "WARN"
	cfg.LogPretty = true

	cc := cfg.Client()
	if cc.BaseURL != "http://upstream/api" || cc.RateLimit.RequestsPerSecond != 5 {
		t.Errorf("Client() = %+v", cc)
	}
	if cc.LoginTimeout != 5*time.Second || cc.PageTimeout != 10*time.Second {
		t.Errorf("Client() timeouts = %v/%v, want 5s/10s", cc.LoginTimeout, cc.PageTimeout)
	}
	if got := cfg.Retry().MaxAttempts; got != 3 {
		t.Errorf("Retry().MaxAttempts = %d, want 3", got)
	}
	if ac := cfg.Aggregate(); ac.MaxConcurrency != 2 || ac.PageSize != 20 {
		t.Errorf("Aggregate() = %+v", ac)
	}
	if got := cfg.Pipeline().CacheTTL; got != 10*time.Minute {
		t.Errorf("Pipeline().CacheTTL = %v, want 10m", got)
	}
	if lc := cfg.Logging(); lc.Level != logging.LevelWarn || !lc.Pretty {
		t.Errorf("Logging() = %+v", lc)
	}
}

func TestConfig_RedisOptions(t *testing.T) {
	tests := []struct {
		name     string
		url      string
		wantNil  bool
		wantAddr string
		wantDB   int
		wantErr  bool
	}{
		{name: "unset", url: "", wantNil: true},
		{name: "bare address", url: "cache:6379", wantAddr: "cache:6379"},
		{name: "url with db", url: "redis://cache:6380/3", wantAddr: "cache:6380", wantDB: 3},
		{name: "bad scheme", url: "http://cache:6379", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.RedisURL = tt.url

			opts, err := cfg.RedisOptions()
			if (err != nil) != tt.wantErr {
				t.Fatalf("RedisOptions() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if tt.wantNil {
				if opts != nil {
					t.Errorf("RedisOptions() = %+v, want nil", opts)
				}
				return
			}
			if opts.Addr != tt.wantAddr || opts.DB != tt.wantDB {
				t.Errorf("RedisOptions() addr/db = %s/%d, want %s/%d", opts.Addr, opts.DB, tt.wantAddr, tt.wantDB)
			}
		})
	}
}
