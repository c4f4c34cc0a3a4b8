package cache

import (
	"context"
	"errors"
	"time"

	"github.com/Sternrassler/school-usage-client/pkg/dataset"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// DefaultTTL is the lifetime used when GetOrCompute is given no positive ttl.
const DefaultTTL = time.Hour

// ComputeFunc produces the dataset for a cache miss.
type ComputeFunc func(ctx context.Context) (*dataset.Dataset, error)

// Result reports how GetOrCompute served a request.
type Result int

const (
	// Computed means the caller ran the computation.
	Computed Result = iota
	// Hit means a fresh entry was found.
	Hit
	// Shared means the caller waited for a concurrent computation of the
	// same key.
	Shared
)

// ResultCache maps keys to datasets with a TTL. Concurrent misses on one key
// run the computation once.
type ResultCache struct {
	store  Store
	group  singleflight.Group
	logger zerolog.Logger
	now    func() time.Time
}

// NewResultCache creates a cache over a store.
func NewResultCache(store Store) *ResultCache {
	if store == nil {
		panic("cache store cannot be nil")
	}
	return &ResultCache{
		store:  store,
		logger: log.With().Str("component", "cache").Str("layer", store.Layer()).Logger(),
		now:    time.Now,
	}
}

// GetOrCompute returns the cached dataset for key if one exists and has not
// expired. Otherwise it runs compute, stores the result for ttl and returns
// it. Compute errors are returned and never cached. Store failures are
// logged and otherwise ignored. The returned dataset is the caller's to
// modify.
func (c *ResultCache) GetOrCompute(ctx context.Context, key Key, ttl time.Duration, compute ComputeFunc) (*dataset.Dataset, error) {
	ds, _, err := c.Lookup(ctx, key, ttl, compute)
	return ds, err
}

// Lookup is GetOrCompute that also reports how the result was obtained.
func (c *ResultCache) Lookup(ctx context.Context, key Key, ttl time.Duration, compute ComputeFunc) (*dataset.Dataset, Result, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	k := key.String()

	if entry := c.fresh(ctx, key); entry != nil {
		CacheHits.WithLabelValues(c.store.Layer()).Inc()
		c.logger.Debug().Str("key", k).Time("expires_at", entry.ExpiresAt).Msg("Cache hit")
		return entry.Dataset.Clone(), Hit, nil
	}

	CacheMisses.Inc()
	c.logger.Debug().Str("key", k).Msg("Cache miss")

	for attempt := 1; ; attempt++ {
		ds, computed, shared, err := c.fill(ctx, key, ttl, compute)
		if err != nil {
			// A waiter whose own context is alive does not inherit the
			// cancellation of the caller that ran the computation.
			if shared && !computed && isContextErr(err) && ctx.Err() == nil && attempt < maxSharedAttempts {
				c.logger.Debug().Err(err).Str("key", k).Int("attempt", attempt).Msg("Shared computation interrupted - retrying")
				continue
			}
			return nil, Computed, err
		}

		result := Computed
		switch {
		case shared && !computed:
			CacheShared.Inc()
			result = Shared
		case !computed:
			result = Hit
		}
		return ds.Clone(), result, nil
	}
}

// maxSharedAttempts bounds how often a waiter rejoins after the computation
// it shared was interrupted.
const maxSharedAttempts = 3

// fill runs compute under single-flight and stores a successful result.
// computed reports whether this caller ran compute.
func (c *ResultCache) fill(ctx context.Context, key Key, ttl time.Duration, compute ComputeFunc) (ds *dataset.Dataset, computed, shared bool, err error) {
	k := key.String()
	v, err, shared := c.group.Do(k, func() (any, error) {
		// A computation that finished between the lookup and this call has
		// already stored its result.
		if entry := c.fresh(ctx, key); entry != nil {
			return entry.Dataset, nil
		}

		computed = true
		ds, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		if ds == nil {
			ds = &dataset.Dataset{}
		}

		cachedAt := c.now()
		entry := &Entry{Dataset: ds, CachedAt: cachedAt, ExpiresAt: cachedAt.Add(ttl)}
		if err := c.store.Set(ctx, key, entry); err != nil {
			CacheErrors.WithLabelValues("set").Inc()
			c.logger.Warn().Err(err).Str("key", k).Msg("Failed to store dataset")
		}
		return ds, nil
	})
	if err != nil {
		return nil, computed, shared, err
	}
	return v.(*dataset.Dataset), computed, shared, nil
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// Invalidate removes the entry for key.
func (c *ResultCache) Invalidate(ctx context.Context, key Key) error {
	if err := c.store.Delete(ctx, key); err != nil {
		CacheErrors.WithLabelValues("delete").Inc()
		return err
	}
	return nil
}

// fresh returns the stored entry for key if it is still valid. Expired
// entries are removed. Store errors count as a miss.
func (c *ResultCache) fresh(ctx context.Context, key Key) *Entry {
	entry, err := c.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrCacheMiss) {
			CacheErrors.WithLabelValues("get").Inc()
			c.logger.Warn().Err(err).Str("key", key.String()).Msg("Cache read failed - treating as miss")
		}
		return nil
	}

	if entry.IsExpired(c.now()) {
		if err := c.store.Delete(ctx, key); err != nil {
			CacheErrors.WithLabelValues("delete").Inc()
			c.logger.Warn().Err(err).Str("key", key.String()).Msg("Failed to drop expired entry")
		}
		return nil
	}

	return entry
}
