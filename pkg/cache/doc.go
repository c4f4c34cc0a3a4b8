// Package cache stores aggregated datasets keyed by tenant set and date
// range.
//
// A ResultCache sits in front of the aggregation. It serves an entry while
// now <= ExpiresAt and otherwise computes, stores and returns a fresh
// dataset. Concurrent misses on one key share a single computation.
//
// # Basic Usage
//
//	rc := cache.NewResultCache(cache.NewMemoryStore())
//
//	key := cache.NewKey([]string{"SchoolA", "SchoolB"}, r)
//	ds, err := rc.GetOrCompute(ctx, key, time.Hour, func(ctx context.Context) (*dataset.Dataset, error) {
//		return agg.Aggregate(ctx, accounts, r, nil)
//	})
//
// # Stores
//
// MemoryStore keeps entries in the process. RedisStore keeps them in Redis
// with the entry TTL as key expiry, for deployments with several processes:
//
//	redisClient := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	rc := cache.NewResultCache(cache.NewRedisStore(redisClient))
//
// The key ignores tenant order. Callers that care about block order reorder
// the returned dataset (see dataset.Dataset.Reorder).
//
// # Metrics
//
//   - usage_cache_hits_total{layer} - Cache hits
//   - usage_cache_misses_total - Cache misses
//   - usage_cache_shared_total - Misses served by an in-flight computation
//   - usage_cache_errors_total{operation} - Store errors
package cache
