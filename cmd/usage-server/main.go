package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/school-usage-client/internal/config"
	"github.com/Sternrassler/school-usage-client/pkg/aggregate"
	"github.com/Sternrassler/school-usage-client/pkg/cache"
	"github.com/Sternrassler/school-usage-client/pkg/client"
	"github.com/Sternrassler/school-usage-client/pkg/dataset"
	"github.com/Sternrassler/school-usage-client/pkg/logging"
	"github.com/Sternrassler/school-usage-client/pkg/metrics"
	"github.com/Sternrassler/school-usage-client/pkg/pagination"
	"github.com/Sternrassler/school-usage-client/pkg/pipeline"
	"github.com/Sternrassler/school-usage-client/pkg/tenant"
)

// defaultRangeDays is the query window when a request names no dates.
const defaultRangeDays = 30

// queryTimeout bounds one dataset request.
const queryTimeout = 5 * time.Minute

func main() {
	cfg, err := config.FromEnv(os.Getenv)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logging.Setup(cfg.Logging())
	logger := logging.NewLogger("server")

	accounts, err := tenant.LoadFile(cfg.AccountsFile)
	if err != nil {
		logger.Fatal().Err(err).Str("file", cfg.AccountsFile).Msg("Failed to load accounts")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := newStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to set up cache store")
	}
	defer closeStore()

	srv, err := newServer(cfg, accounts, store)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create server")
	}
	defer srv.Close()

	if mem, ok := store.(*cache.MemoryStore); ok {
		go purgeLoop(ctx, mem, cfg.CacheTTL, logger)
	}

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("Shutdown failed")
		}
	}()

	logger.Info().
		Str("addr", httpServer.Addr).
		Str("base_url", cfg.BaseURL).
		Int("tenants", len(accounts)).
		Str("cache", store.Layer()).
		Msg("Starting usage server")

	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Msg("Server failed")
	}
	logger.Info().Msg("Server stopped")
}

// newStore picks the Redis store when REDIS_URL is set and the memory store
// otherwise.
func newStore(ctx context.Context, cfg config.Config, logger zerolog.Logger) (cache.Store, func(), error) {
	opts, err := cfg.RedisOptions()
	if err != nil {
		return nil, nil, err
	}
	if opts == nil {
		return cache.NewMemoryStore(), func() {}, nil
	}

	redisClient := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		redisClient.Close()
		return nil, nil, fmt.Errorf("connect to redis at %s: %w", opts.Addr, err)
	}
	logger.Info().Str("addr", opts.Addr).Msg("Connected to Redis")

	return cache.NewRedisStore(redisClient), func() { redisClient.Close() }, nil
}

// purgeLoop drops expired memory entries once per ttl.
func purgeLoop(ctx context.Context, store *cache.MemoryStore, ttl time.Duration, logger zerolog.Logger) {
	ticker := time.NewTicker(ttl)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := store.Purge(now); n > 0 {
				logger.Debug().Int("removed", n).Msg("Purged expired cache entries")
			}
		}
	}
}

type server struct {
	pipeline *pipeline.Pipeline
	client   *client.Client
	accounts []tenant.Account
	logger   zerolog.Logger
	now      func() time.Time
	timeout  time.Duration
}

func newServer(cfg config.Config, accounts []tenant.Account, store cache.Store) (*server, error) {
	c, err := client.New(cfg.Client())
	if err != nil {
		return nil, fmt.Errorf("create client: %w", err)
	}

	var auth aggregate.Authenticator = c
	if cfg.AuthRetries > 1 {
		auth = client.NewRetryingAuthenticator(c, cfg.Retry())
	}

	fetcher := pagination.NewFetcher(c, pagination.Config{PageSize: cfg.PageSize})
	agg := aggregate.New(auth, fetcher, cfg.Aggregate())
	p := pipeline.New(agg, cache.NewResultCache(store), cfg.Pipeline())

	return &server{
		pipeline: p,
		client:   c,
		accounts: accounts,
		logger:   logging.NewLogger("server"),
		now:      time.Now,
		timeout:  queryTimeout,
	}, nil
}

func (s *server) Close() error {
	return s.client.Close()
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", healthHandler)
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/v1/dataset", s.datasetHandler)
	return mux
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "OK")
}

// datasetResponse is the JSON body of /v1/dataset.
type datasetResponse struct {
	Range   dataset.Range          `json:"range"`
	Columns []string               `json:"columns"`
	Records []dataset.Record       `json:"records"`
	Tenants []dataset.TenantReport `json:"tenants"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// datasetHandler serves GET /v1/dataset?start=YYYY-MM-DD&end=YYYY-MM-DD[&tenant=Name...].
func (s *server) datasetHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed"})
		return
	}

	q := r.URL.Query()
	rng, err := s.parseRange(q.Get("start"), q.Get("end"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	accounts, err := tenant.Select(s.accounts, q["tenant"])
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	ds, err := s.pipeline.Query(ctx, accounts, rng, nil)
	if err != nil {
		var perr *aggregate.ParameterError
		if errors.As(err, &perr) {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
			return
		}
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			s.logger.Warn().Err(err).Str("range", rng.String()).Msg("Dataset query interrupted")
			writeJSON(w, http.StatusGatewayTimeout, errorResponse{Error: "dataset query interrupted"})
			return
		}
		s.logger.Error().Err(err).Str("range", rng.String()).Msg("Dataset query failed")
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: "dataset query failed"})
		return
	}

	writeJSON(w, http.StatusOK, datasetResponse{
		Range:   ds.Range,
		Columns: dataset.Columns,
		Records: ds.Records,
		Tenants: ds.Tenants,
	})
}

// parseRange reads the query dates. Both empty selects the last
// defaultRangeDays days; one without the other is an error.
func (s *server) parseRange(start, end string) (dataset.Range, error) {
	switch {
	case start == "" && end == "":
		return dataset.LastDays(s.now(), defaultRangeDays), nil
	case start == "" || end == "":
		return dataset.Range{}, fmt.Errorf("start and end must be given together")
	}
	return dataset.ParseRange(start, end)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
