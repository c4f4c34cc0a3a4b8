// Package pipeline is the entry point for callers: it validates a query,
// serves it from the result cache or runs the multi-tenant aggregation, and
// returns the dataset in the caller's tenant order.
package pipeline

import (
	"context"
	"time"

	"github.com/Sternrassler/school-usage-client/pkg/aggregate"
	"github.com/Sternrassler/school-usage-client/pkg/cache"
	"github.com/Sternrassler/school-usage-client/pkg/dataset"
	"github.com/Sternrassler/school-usage-client/pkg/tenant"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// CacheLabel is the progress label reported when a query is served from the
// cache.
const CacheLabel = "cache"

// Aggregator builds a dataset from scratch. *aggregate.Aggregator
// implements it.
type Aggregator interface {
	Aggregate(ctx context.Context, accounts []tenant.Account, r dataset.Range, progress aggregate.ProgressObserver) (*dataset.Dataset, error)
}

// Config holds pipeline configuration.
type Config struct {
	// CacheTTL is how long a computed dataset is served. Zero uses
	// cache.DefaultTTL.
	CacheTTL time.Duration
}

// DefaultConfig returns the default pipeline configuration.
func DefaultConfig() Config {
	return Config{CacheTTL: cache.DefaultTTL}
}

// Pipeline answers dataset queries.
type Pipeline struct {
	agg    Aggregator
	cache  *cache.ResultCache
	config Config
	logger zerolog.Logger
}

// New creates a pipeline.
func New(agg Aggregator, rc *cache.ResultCache, config Config) *Pipeline {
	if config.CacheTTL <= 0 {
		config.CacheTTL = cache.DefaultTTL
	}
	return &Pipeline{
		agg:    agg,
		cache:  rc,
		config: config,
		logger: log.With().Str("component", "pipeline").Logger(),
	}
}

// Query returns the unified dataset for accounts over r. Invalid input is
// rejected with *aggregate.ParameterError before the cache or the network is
// touched. Tenant failures do not fail the query; they show up in
// Dataset.Tenants.
func (p *Pipeline) Query(ctx context.Context, accounts []tenant.Account, r dataset.Range, progress aggregate.ProgressObserver) (*dataset.Dataset, error) {
	if err := aggregate.Validate(accounts, r); err != nil {
		return nil, err
	}

	names := tenant.Names(accounts)
	key := cache.NewKey(names, r)

	ds, result, err := p.cache.Lookup(ctx, key, p.config.CacheTTL, func(ctx context.Context) (*dataset.Dataset, error) {
		return p.agg.Aggregate(ctx, accounts, r, progress)
	})
	if err != nil {
		return nil, err
	}

	if result != cache.Computed && progress != nil {
		progress.OnProgress(1.0, CacheLabel)
	}

	ds.Reorder(names)

	p.logger.Info().
		Str("key", key.String()).
		Bool("cached", result != cache.Computed).
		Int("records", ds.Len()).
		Msg("Query served")

	return ds, nil
}
