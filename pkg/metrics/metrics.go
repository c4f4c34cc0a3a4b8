// Package metrics exposes the Prometheus registry shared by the usage client.
// Metrics are defined in their own packages (client, pagination, aggregate,
// cache, ratelimit) via promauto; this package documents them and serves
// them over HTTP.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the default Prometheus registry used by the usage client.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Handler returns the HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Metrics Documentation
//
// Request Metrics (pkg/client):
//   - usage_requests_total{endpoint, status} (Counter): Upstream requests by endpoint and HTTP status
//   - usage_request_duration_seconds{endpoint} (Histogram): Upstream request duration
//   - usage_errors_total{class} (Counter): Errors by class (client, server, rate_limit, network, decode, token, credentials)
//
// Retry Metrics (pkg/client):
//   - usage_retries_total{error_class} (Counter): Login retry attempts
//   - usage_retry_backoff_seconds{error_class} (Histogram): Backoff duration
//   - usage_retry_exhausted_total{error_class} (Counter): Logins that exhausted max retries
//
// Pagination Metrics (pkg/pagination):
//   - usage_pages_fetched_total (Counter): Pages fetched
//   - usage_pagination_stops_total{reason} (Counter): Why pagination stopped (empty_page, total_reached, no_new_rows, failed)
//
// Aggregation Metrics (pkg/aggregate):
//   - usage_tenant_runs_total{status} (Counter): Tenants by outcome (ok, auth_failed, partial, empty, failed)
//   - usage_aggregation_duration_seconds (Histogram): Full aggregation duration
//   - usage_normalization_skips_total{reason} (Counter): Skipped fields or records (timestamp, count, dropped)
//
// Cache Metrics (pkg/cache):
//   - usage_cache_hits_total{layer} (Counter): Cache hits by store (memory, redis)
//   - usage_cache_misses_total (Counter): Cache misses
//   - usage_cache_shared_total (Counter): Misses served by an in-flight computation
//   - usage_cache_errors_total{operation} (Counter): Store errors
//
// Rate Limit Metrics (pkg/ratelimit):
//   - usage_rate_limit_waits_total (Counter): Requests delayed by the limiter
//   - usage_rate_limit_wait_seconds (Histogram): Time spent waiting
//   - usage_rate_limit_aborts_total (Counter): Waits cut short by cancellation
//
// Example Prometheus Queries:
//
//   # Cache Hit Rate
//   sum(rate(usage_cache_hits_total[5m])) /
//   (sum(rate(usage_cache_hits_total[5m])) + sum(rate(usage_cache_misses_total[5m])))
//
//   # Tenants failing login
//   rate(usage_tenant_runs_total{status="auth_failed"}[1h])
//
//   # P95 Upstream Latency
//   histogram_quantile(0.95, rate(usage_request_duration_seconds_bucket[5m]))
