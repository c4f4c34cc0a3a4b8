// Package aggregate runs the authenticate → fetch → normalize sequence for
// every tenant and merges the results into one dataset.
//
// Tenants are independent jobs on a bounded worker pool. Results are merged
// by the tenant's position in the input, so the dataset's tenant blocks keep
// the caller's order whatever the concurrency. A failing tenant never aborts
// the others: login failures skip the tenant, page failures keep the rows
// fetched so far.
package aggregate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Sternrassler/school-usage-client/pkg/client"
	"github.com/Sternrassler/school-usage-client/pkg/dataset"
	"github.com/Sternrassler/school-usage-client/pkg/normalize"
	"github.com/Sternrassler/school-usage-client/pkg/pagination"
	"github.com/Sternrassler/school-usage-client/pkg/tenant"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	tenantRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "usage_tenant_runs_total",
		Help: "Tenants processed by outcome",
	}, []string{"status"})

	aggregationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "usage_aggregation_duration_seconds",
		Help:    "Duration of a full multi-tenant aggregation",
		Buckets: []float64{0.5, 1, 5, 10, 30, 60, 120, 300},
	})

	normalizationSkipsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "usage_normalization_skips_total",
		Help: "Fields or records skipped during normalization by reason",
	}, []string{"reason"})
)

// Authenticator logs a tenant in. *client.Client and
// *client.RetryingAuthenticator implement it.
type Authenticator interface {
	Authenticate(ctx context.Context, acc tenant.Account) (*client.Session, error)
}

// RecordFetcher retrieves every raw record of one tenant.
// *pagination.Fetcher implements it.
type RecordFetcher interface {
	FetchAll(ctx context.Context, s *client.Session, r dataset.Range, pageSize int) ([]client.RawRecord, error)
}

// Config holds aggregator configuration.
type Config struct {
	// PageSize is passed to the record fetcher.
	PageSize int

	// MaxConcurrency is the number of tenants processed at once.
	// 1 processes tenants strictly one after another.
	MaxConcurrency int
}

// DefaultConfig returns the sequential configuration.
func DefaultConfig() Config {
	return Config{
		PageSize:       pagination.DefaultPageSize,
		MaxConcurrency: 1,
	}
}

// Aggregator merges all tenants' records into one dataset.
type Aggregator struct {
	auth    Authenticator
	fetcher RecordFetcher
	config  Config
	logger  zerolog.Logger
	now     func() time.Time
}

// New creates an aggregator.
func New(auth Authenticator, fetcher RecordFetcher, config Config) *Aggregator {
	if config.PageSize <= 0 {
		config.PageSize = pagination.DefaultPageSize
	}
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = 1
	}

	return &Aggregator{
		auth:    auth,
		fetcher: fetcher,
		config:  config,
		logger:  log.With().Str("component", "aggregator").Logger(),
		now:     time.Now,
	}
}

// Validate checks caller input. Failures are *ParameterError.
func Validate(accounts []tenant.Account, r dataset.Range) error {
	if err := tenant.ValidateList(accounts); err != nil {
		return &ParameterError{Field: "tenants", Err: err}
	}
	if err := r.Validate(); err != nil {
		return &ParameterError{Field: "date range", Err: err}
	}
	return nil
}

type tenantResult struct {
	records []dataset.Record
	report  dataset.TenantReport
}

// Aggregate processes every account and returns the merged dataset. Tenant
// failures are reported in Dataset.Tenants and an all-failed run yields an
// empty dataset. It returns *ParameterError for bad input and a wrapped
// ctx.Err() when ctx ends before the run completes; an interrupted run
// yields no dataset, so it is never mistaken for a real result.
func (a *Aggregator) Aggregate(ctx context.Context, accounts []tenant.Account, r dataset.Range, progress ProgressObserver) (*dataset.Dataset, error) {
	if err := Validate(accounts, r); err != nil {
		return nil, err
	}
	if progress == nil {
		progress = nopObserver{}
	}

	start := time.Now()
	logger := a.logger.With().
		Str("run_id", uuid.NewString()).
		Str("range", r.String()).
		Int("tenants", len(accounts)).
		Logger()
	logger.Info().Int("max_concurrency", a.config.MaxConcurrency).Msg("Starting aggregation")

	results := make([]tenantResult, len(accounts))
	tracker := newProgressTracker(progress, len(accounts))

	jobs := make(chan int, len(accounts))
	for i := range accounts {
		jobs <- i
	}
	close(jobs)

	workers := a.config.MaxConcurrency
	if workers > len(accounts) {
		workers = len(accounts)
	}

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				acc := accounts[i]
				tracker.started(acc.Name)
				results[i] = a.runTenant(ctx, acc, r, logger)
				tracker.finished(acc.Name)
			}
		}()
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		logger.Warn().Err(err).Dur("duration", time.Since(start)).Msg("Aggregation interrupted")
		return nil, fmt.Errorf("aggregation interrupted: %w", err)
	}

	ds := &dataset.Dataset{
		Range:       r,
		Records:     []dataset.Record{},
		Tenants:     make([]dataset.TenantReport, 0, len(results)),
		GeneratedAt: a.now(),
	}
	for _, res := range results {
		ds.Records = append(ds.Records, res.records...)
		ds.Tenants = append(ds.Tenants, res.report)
	}

	aggregationDuration.Observe(time.Since(start).Seconds())
	logger.Info().
		Int("records", ds.Len()).
		Dur("duration", time.Since(start)).
		Msg("Aggregation complete")

	if ds.Empty() {
		logger.Warn().Msg("Aggregation produced no records")
	}

	return ds, nil
}

// runTenant isolates one tenant, including from panics in its pipeline.
func (a *Aggregator) runTenant(ctx context.Context, acc tenant.Account, r dataset.Range, parent zerolog.Logger) (res tenantResult) {
	logger := parent.With().Str("tenant", acc.Name).Logger()

	defer func() {
		if p := recover(); p != nil {
			logger.Error().Interface("panic", p).Msg("Tenant processing panicked")
			res = tenantResult{report: dataset.TenantReport{
				Name:   acc.Name,
				Status: dataset.StatusFailed,
				Error:  fmt.Sprintf("panic: %v", p),
			}}
		}
		tenantRunsTotal.WithLabelValues(string(res.report.Status)).Inc()
	}()

	return a.processTenant(ctx, acc, r, logger)
}

func (a *Aggregator) processTenant(ctx context.Context, acc tenant.Account, r dataset.Range, logger zerolog.Logger) tenantResult {
	report := dataset.TenantReport{Name: acc.Name}

	session, err := a.auth.Authenticate(ctx, acc)
	if err == nil && !session.Valid() {
		err = &client.AuthError{Tenant: acc.Name, ErrorClass: client.ErrorClassToken, Err: client.ErrMissingToken}
	}
	if err != nil {
		logger.Warn().
			Err(err).
			Str("error_class", string(client.ClassOf(err))).
			Msg("Authentication failed - skipping tenant")
		report.Status = dataset.StatusAuthFailed
		report.Error = err.Error()
		return tenantResult{report: report}
	}

	raw, fetchErr := a.fetcher.FetchAll(ctx, session, r, a.config.PageSize)

	records, skips := normalize.Normalize(raw, acc.Name)
	recordSkips(skips)
	if skips.Total() > 0 {
		logger.Debug().
			Int("date_skips", skips.Dates).
			Int("count_skips", skips.Counts).
			Int("dropped", skips.Dropped).
			Msg("Normalization skipped fields")
	}

	report.Records = len(records)
	switch {
	case fetchErr != nil:
		report.Status = dataset.StatusPartial
		report.Error = fetchErr.Error()
		var pageErr *client.PageError
		if errors.As(fetchErr, &pageErr) {
			logger.Warn().
				Int("page", pageErr.Page).
				Int("records", len(records)).
				Str("error_class", string(pageErr.ErrorClass)).
				Msg("Keeping partial tenant data")
		}
	case len(records) == 0:
		report.Status = dataset.StatusEmpty
	default:
		report.Status = dataset.StatusOK
	}

	logger.Info().
		Int("records", len(records)).
		Str("status", string(report.Status)).
		Msg("Tenant processed")

	return tenantResult{records: records, report: report}
}

func recordSkips(s normalize.Skips) {
	if s.Dates > 0 {
		normalizationSkipsTotal.WithLabelValues("timestamp").Add(float64(s.Dates))
	}
	if s.Counts > 0 {
		normalizationSkipsTotal.WithLabelValues("count").Add(float64(s.Counts))
	}
	if s.Dropped > 0 {
		normalizationSkipsTotal.WithLabelValues("dropped").Add(float64(s.Dropped))
	}
}

// progressTracker serializes observer calls so fractions never go backwards.
type progressTracker struct {
	mu       sync.Mutex
	observer ProgressObserver
	total    int
	done     int
}

func newProgressTracker(observer ProgressObserver, total int) *progressTracker {
	return &progressTracker{observer: observer, total: total}
}

func (p *progressTracker) started(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.observer.OnProgress(float64(p.done)/float64(p.total), name)
}

func (p *progressTracker) finished(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.done++
	p.observer.OnProgress(float64(p.done)/float64(p.total), name)
}
