// Package client provides the upstream HTTP client: per-tenant login and
// single-page task list requests, with rate limiting, typed errors and
// metrics.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/school-usage-client/pkg/ratelimit"
	"github.com/Sternrassler/school-usage-client/pkg/tenant"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for upstream requests.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "usage_requests_total",
		Help: "Total upstream requests by endpoint and status",
	}, []string{"endpoint", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "usage_request_duration_seconds",
		Help:    "Upstream request duration in seconds by endpoint",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
	}, []string{"endpoint"})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "usage_errors_total",
		Help: "Total upstream errors by class",
	}, []string{"class"})
)

// ErrorClass represents a classification of request failures.
type ErrorClass string

const (
	// ErrorClassClient represents 4xx client errors.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents 5xx server errors.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassRateLimit represents 429 responses.
	ErrorClassRateLimit ErrorClass = "rate_limit"

	// ErrorClassNetwork represents network/timeout errors.
	ErrorClassNetwork ErrorClass = "network"

	// ErrorClassDecode represents a 200 response whose body cannot be decoded.
	ErrorClassDecode ErrorClass = "decode"

	// ErrorClassToken represents a login response without a usable token.
	ErrorClassToken ErrorClass = "token"

	// ErrorClassCredentials represents blank credentials supplied by the caller.
	ErrorClassCredentials ErrorClass = "credentials"
)

// Upstream endpoints, relative to Config.BaseURL.
const (
	LoginPath    = "/auth/login"
	TaskListPath = "/administratorTable/taskList"
)

// Endpoint labels used in metrics and logs.
const (
	endpointLogin    = "login"
	endpointTaskList = "task_list"
)

// DefaultBaseURL is the production API root.
const DefaultBaseURL = "https://api.pp.ltd/api"

// Client talks to the upstream API on behalf of any number of tenants.
// It holds no per-tenant state; sessions carry the tokens.
type Client struct {
	httpClient *http.Client
	baseURL    string
	limiter    *ratelimit.Limiter
	config     Config
	logger     zerolog.Logger
}

// Config holds the client configuration.
type Config struct {
	// BaseURL is the API root, e.g. "https://api.pp.ltd/api".
	BaseURL string

	// UserAgent header sent with every request.
	UserAgent string

	// LoginTimeout bounds one login request.
	LoginTimeout time.Duration

	// PageTimeout bounds one task list page request.
	PageTimeout time.Duration

	// RateLimit is shared by all tenants using this client.
	RateLimit ratelimit.Config
}

// DefaultConfig returns the production configuration.
func DefaultConfig() Config {
	return Config{
		BaseURL:      DefaultBaseURL,
		UserAgent:    "Mozilla/5.0",
		LoginTimeout: 5 * time.Second,
		PageTimeout:  10 * time.Second,
		RateLimit:    ratelimit.DefaultConfig(),
	}
}

// New creates a new upstream client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base url is required")
	}

	u, err := url.Parse(cfg.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("base url must be an absolute http(s) url (got %q)", cfg.BaseURL)
	}

	if cfg.UserAgent == "" {
		return nil, fmt.Errorf("user-agent is required")
	}

	if cfg.LoginTimeout <= 0 {
		return nil, fmt.Errorf("login_timeout must be > 0 (got %s)", cfg.LoginTimeout)
	}

	if cfg.PageTimeout <= 0 {
		return nil, fmt.Errorf("page_timeout must be > 0 (got %s)", cfg.PageTimeout)
	}

	logger := log.With().Str("component", "usage-client").Logger()

	return &Client{
		httpClient: &http.Client{},
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		limiter:    ratelimit.NewLimiter(cfg.RateLimit, logger),
		config:     cfg,
		logger:     logger,
	}, nil
}

type loginRequest struct {
	Phone    string `json:"phone"`
	Password string `json:"password"`
	Ticket   string `json:"ticket"`
}

type loginResponse struct {
	Data struct {
		Token string `json:"token"`
	} `json:"data"`
}

type taskListResponse struct {
	Data struct {
		List  []RawRecord `json:"list"`
		Total json.Number `json:"total"`
	} `json:"data"`
}

// Authenticate logs in as acc and returns a session carrying its bearer
// token. Every failure is returned as *AuthError; nothing is retried here.
func (c *Client) Authenticate(ctx context.Context, acc tenant.Account) (*Session, error) {
	if !acc.HasCredentials() {
		errorsTotal.WithLabelValues(string(ErrorClassCredentials)).Inc()
		return nil, &AuthError{Tenant: acc.Name, ErrorClass: ErrorClassCredentials, Err: ErrMissingCredentials}
	}

	body, err := json.Marshal(loginRequest{Phone: acc.Phone, Password: acc.Password})
	if err != nil {
		return nil, &AuthError{Tenant: acc.Name, ErrorClass: ErrorClassClient, Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.LoginTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+LoginPath, bytes.NewReader(body))
	if err != nil {
		return nil, &AuthError{Tenant: acc.Name, ErrorClass: ErrorClassClient, Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, class, err := c.do(req, endpointLogin)
	if err != nil {
		return nil, &AuthError{Tenant: acc.Name, StatusCode: statusOf(resp), ErrorClass: class, Err: err}
	}
	defer resp.Body.Close()

	var decoded loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		errorsTotal.WithLabelValues(string(ErrorClassDecode)).Inc()
		return nil, &AuthError{Tenant: acc.Name, StatusCode: resp.StatusCode, ErrorClass: ErrorClassDecode,
			Err: fmt.Errorf("decode login response: %w", err)}
	}

	if strings.TrimSpace(decoded.Data.Token) == "" {
		errorsTotal.WithLabelValues(string(ErrorClassToken)).Inc()
		return nil, &AuthError{Tenant: acc.Name, StatusCode: resp.StatusCode, ErrorClass: ErrorClassToken, Err: ErrMissingToken}
	}

	c.logger.Debug().Str("tenant", acc.Name).Msg("Authenticated")
	return NewSession(acc.Name, decoded.Data.Token), nil
}

// FetchPage requests one page of the task list for the session's tenant.
// Every failure is returned as *PageError.
func (c *Client) FetchPage(ctx context.Context, s *Session, q PageQuery) (*TaskPage, error) {
	if !s.Valid() {
		tenantName := ""
		if s != nil {
			tenantName = s.Tenant
		}
		return nil, &PageError{Tenant: tenantName, Page: q.Page, ErrorClass: ErrorClassToken, Err: ErrNoSession}
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.PageTimeout)
	defer cancel()

	endpoint := c.baseURL + TaskListPath + "?" + q.Values().Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, &PageError{Tenant: s.Tenant, Page: q.Page, ErrorClass: ErrorClassClient, Err: fmt.Errorf("create request: %w", err)}
	}
	s.Authorize(req)

	resp, class, err := c.do(req, endpointTaskList)
	if err != nil {
		return nil, &PageError{Tenant: s.Tenant, Page: q.Page, StatusCode: statusOf(resp), ErrorClass: class, Err: err}
	}
	defer resp.Body.Close()

	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()

	var decoded taskListResponse
	if err := dec.Decode(&decoded); err != nil {
		errorsTotal.WithLabelValues(string(ErrorClassDecode)).Inc()
		return nil, &PageError{Tenant: s.Tenant, Page: q.Page, StatusCode: resp.StatusCode, ErrorClass: ErrorClassDecode,
			Err: fmt.Errorf("decode task list: %w", err)}
	}

	total := 0
	if decoded.Data.Total != "" {
		n, err := strconv.ParseFloat(decoded.Data.Total.String(), 64)
		if err != nil {
			errorsTotal.WithLabelValues(string(ErrorClassDecode)).Inc()
			return nil, &PageError{Tenant: s.Tenant, Page: q.Page, StatusCode: resp.StatusCode, ErrorClass: ErrorClassDecode,
				Err: fmt.Errorf("decode total %q: %w", decoded.Data.Total, err)}
		}
		total = int(n)
	}

	return &TaskPage{Rows: decoded.Data.List, Total: total}, nil
}

// do executes req after the rate limiter admits it. A non-nil error means the
// response (if any) has been closed; on success the caller owns the body.
func (c *Client) do(req *http.Request, endpoint string) (*http.Response, ErrorClass, error) {
	startTime := time.Now()
	defer func() {
		requestDuration.WithLabelValues(endpoint).Observe(time.Since(startTime).Seconds())
	}()

	if err := c.limiter.Wait(req.Context()); err != nil {
		requestsTotal.WithLabelValues(endpoint, "rate_limited").Inc()
		errorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		return nil, ErrorClassNetwork, err
	}

	req.Header.Set("User-Agent", c.config.UserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		class := c.classifyError(nil, err)
		errorsTotal.WithLabelValues(string(class)).Inc()
		requestsTotal.WithLabelValues(endpoint, "network_error").Inc()
		c.logger.Warn().Err(err).Str("endpoint", endpoint).Msg("HTTP request failed")
		return nil, class, err
	}

	requestsTotal.WithLabelValues(endpoint, strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode != http.StatusOK {
		class := c.classifyError(resp, nil)
		errorsTotal.WithLabelValues(string(class)).Inc()
		c.logger.Warn().
			Str("endpoint", endpoint).
			Int("status", resp.StatusCode).
			Str("error_class", string(class)).
			Msg("Upstream request error")

		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return resp, class, fmt.Errorf("unexpected status %s", resp.Status)
	}

	return resp, "", nil
}

// classifyError categorizes a failure for observability and retry decisions.
func (c *Client) classifyError(resp *http.Response, err error) ErrorClass {
	if err != nil {
		return ErrorClassNetwork
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return ErrorClassRateLimit
	case resp.StatusCode >= 500:
		return ErrorClassServer
	case resp.StatusCode >= 400:
		return ErrorClassClient
	default:
		// 1xx/2xx/3xx other than 200: the body is not a usable API response.
		return ErrorClassClient
	}
}

func statusOf(resp *http.Response) int {
	if resp == nil {
		return 0
	}
	return resp.StatusCode
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

// Config returns the client configuration.
func (c *Client) Config() Config {
	return c.config
}
