package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits tracks cache hits by layer (memory, redis)
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "usage_cache_hits_total",
			Help: "Total number of dataset cache hits",
		},
		[]string{"layer"},
	)

	// CacheMisses tracks cache misses, including expired entries
	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "usage_cache_misses_total",
			Help: "Total number of dataset cache misses",
		},
	)

	// CacheShared tracks callers that received another caller's computation
	CacheShared = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "usage_cache_shared_total",
			Help: "Total number of cache misses served by an in-flight computation",
		},
	)

	// CacheErrors tracks store operation errors
	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "usage_cache_errors_total",
			Help: "Total number of cache store errors",
		},
		[]string{"operation"}, // "get", "set", "delete"
	)
)
