package pagination

import (
	"context"
	"errors"
	"time"

	"github.com/Sternrassler/school-usage-client/pkg/client"
	"github.com/Sternrassler/school-usage-client/pkg/dataset"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultPageSize is the page size used when the caller passes none.
const DefaultPageSize = 50

var (
	pagesFetchedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "usage_pages_fetched_total",
		Help: "Total number of task list pages fetched successfully",
	})

	paginationStopsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "usage_pagination_stops_total",
		Help: "Pagination runs by terminal reason",
	}, []string{"reason"})
)

// StopReason is why pagination ended.
type StopReason string

const (
	// StopEmptyPage means a page came back with no rows.
	StopEmptyPage StopReason = "empty_page"

	// StopTotalReached means the accumulated rows reached the declared total.
	StopTotalReached StopReason = "total_reached"

	// StopNoNewRows means a page only repeated rows already seen.
	StopNoNewRows StopReason = "no_new_rows"

	// StopFailed means a page request failed; earlier rows are kept.
	StopFailed StopReason = "failed"
)

// Config holds fetcher configuration.
type Config struct {
	// PageSize is used when FetchAll is called with pageSize <= 0.
	PageSize int
}

// DefaultConfig returns the upstream's canonical page size.
func DefaultConfig() Config {
	return Config{PageSize: DefaultPageSize}
}

// PageFetcher fetches a single page of the task list.
// *client.Client implements it.
type PageFetcher interface {
	FetchPage(ctx context.Context, s *client.Session, q client.PageQuery) (*client.TaskPage, error)
}

// Fetcher retrieves all pages of the task list for one tenant.
type Fetcher struct {
	pages  PageFetcher
	config Config
	logger zerolog.Logger
}

// NewFetcher creates a new fetcher.
func NewFetcher(pages PageFetcher, config Config) *Fetcher {
	if config.PageSize <= 0 {
		config.PageSize = DefaultPageSize
	}

	return &Fetcher{
		pages:  pages,
		config: config,
		logger: log.With().Str("component", "pagination").Logger(),
	}
}

// FetchAll fetches pages 1, 2, ... until a page is empty or the accumulated
// row count reaches the declared total.
//
// A failed page ends pagination: the rows accumulated so far are returned
// together with a *client.PageError. Callers should keep the rows.
func (f *Fetcher) FetchAll(ctx context.Context, s *client.Session, r dataset.Range, pageSize int) ([]client.RawRecord, error) {
	if pageSize <= 0 {
		pageSize = f.config.PageSize
	}

	tenantName := ""
	if s != nil {
		tenantName = s.Tenant
	}
	logger := f.logger.With().Str("tenant", tenantName).Logger()

	start := time.Now()
	var records []client.RawRecord
	seen := make(map[string]struct{})

	for page := 1; ; page++ {
		result, err := f.pages.FetchPage(ctx, s, client.PageQuery{Page: page, PageSize: pageSize, Range: r})
		if err != nil {
			paginationStopsTotal.WithLabelValues(string(StopFailed)).Inc()
			logger.Warn().
				Err(err).
				Int("page", page).
				Int("records", len(records)).
				Msg("Page fetch failed - returning partial results")
			return records, asPageError(err, tenantName, page)
		}
		pagesFetchedTotal.Inc()

		if len(result.Rows) == 0 {
			return f.done(logger, records, page, StopEmptyPage, start), nil
		}

		added := 0
		for _, row := range result.Rows {
			if id, ok := row.ID(); ok {
				if _, dup := seen[id]; dup {
					continue
				}
				seen[id] = struct{}{}
			}
			records = append(records, row)
			added++
		}

		if added == 0 {
			return f.done(logger, records, page, StopNoNewRows, start), nil
		}

		if len(records) >= result.Total {
			return f.done(logger, records, page, StopTotalReached, start), nil
		}

		logger.Debug().
			Int("page", page).
			Int("fetched", len(records)).
			Int("total", result.Total).
			Msg("Fetch progress")
	}
}

func (f *Fetcher) done(logger zerolog.Logger, records []client.RawRecord, pages int, reason StopReason, start time.Time) []client.RawRecord {
	paginationStopsTotal.WithLabelValues(string(reason)).Inc()
	logger.Info().
		Int("pages", pages).
		Int("records", len(records)).
		Str("reason", string(reason)).
		Dur("duration", time.Since(start)).
		Msg("Fetch complete")
	return records
}

// asPageError normalizes failures from non-client PageFetcher implementations.
func asPageError(err error, tenantName string, page int) error {
	var pageErr *client.PageError
	if errors.As(err, &pageErr) {
		return err
	}
	class := client.ClassOf(err)
	if class == "" {
		class = client.ErrorClassNetwork
	}
	return &client.PageError{Tenant: tenantName, Page: page, ErrorClass: class, Err: err}
}
