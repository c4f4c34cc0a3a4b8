// Package ratelimit gates upstream requests so that all tenants together stay
// under a configured request rate. The limiter is shared by every session of
// a client, which keeps parallel tenant processing friendly to the upstream.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Prometheus metrics for request gating.
var (
	rateLimitWaitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "usage_rate_limit_waits_total",
		Help: "Total number of upstream requests delayed by the rate limiter",
	})

	rateLimitWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "usage_rate_limit_wait_seconds",
		Help:    "Time requests spent waiting for the rate limiter",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5},
	})

	rateLimitAbortsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "usage_rate_limit_aborts_total",
		Help: "Total number of requests abandoned while waiting for the rate limiter",
	})
)

// throttleThreshold is the wait below which a request is not counted as delayed.
const throttleThreshold = time.Millisecond

// Config holds limiter settings.
type Config struct {
	// RequestsPerSecond is the sustained request rate. Zero or negative
	// disables limiting.
	RequestsPerSecond float64

	// Burst is the number of requests allowed at once (minimum 1).
	Burst int
}

// DefaultConfig returns an unlimited configuration, matching the upstream's
// documented behaviour of not enforcing a client rate.
func DefaultConfig() Config {
	return Config{
		RequestsPerSecond: 0,
		Burst:             1,
	}
}

// Limiter delays requests to respect the configured rate.
type Limiter struct {
	limiter *rate.Limiter
	logger  zerolog.Logger
}

// NewLimiter creates a limiter.
func NewLimiter(cfg Config, logger zerolog.Logger) *Limiter {
	if cfg.Burst < 1 {
		cfg.Burst = 1
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}

	return &Limiter{
		limiter: rate.NewLimiter(limit, cfg.Burst),
		logger:  logger,
	}
}

// Unlimited reports whether the limiter never delays.
func (l *Limiter) Unlimited() bool {
	return l == nil || l.limiter.Limit() == rate.Inf
}

// Wait blocks until a request may proceed or ctx is done.
// A nil limiter never blocks.
func (l *Limiter) Wait(ctx context.Context) error {
	if l.Unlimited() {
		return nil
	}

	start := time.Now()
	if err := l.limiter.Wait(ctx); err != nil {
		rateLimitAbortsTotal.Inc()
		l.logger.Warn().Err(err).Msg("Rate limit wait abandoned")
		return fmt.Errorf("rate limit wait: %w", err)
	}

	if waited := time.Since(start); waited >= throttleThreshold {
		rateLimitWaitsTotal.Inc()
		rateLimitWaitSeconds.Observe(waited.Seconds())
		l.logger.Debug().Dur("wait_duration", waited).Msg("Request delayed by rate limiter")
	}
	return nil
}
