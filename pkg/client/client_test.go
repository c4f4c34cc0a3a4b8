package client

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Sternrassler/school-usage-client/internal/testutil"
	"github.com/Sternrassler/school-usage-client/pkg/dataset"
	"github.com/Sternrassler/school-usage-client/pkg/tenant"
	"github.com/rs/zerolog"
)

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()

	cfg := DefaultConfig()
	cfg.BaseURL = baseURL
	cfg.LoginTimeout = 500 * time.Millisecond
	cfg.PageTimeout = 500 * time.Millisecond

	c, err := New(cfg)
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func testRange(t *testing.T) dataset.Range {
	t.Helper()
	r, err := dataset.ParseRange("2024-01-01", "2024-01-31")
	if err != nil {
		t.Fatalf("ParseRange() error = %v", err)
	}
	return r
}

func TestNew_Validation(t *testing.T) {
	valid := DefaultConfig()

	tests := []struct {
		name     string
		mutate   func(*Config)
		errorMsg string
	}{
		{"valid config", func(*Config) {}, ""},
		{"empty base url", func(c *Config) { c.BaseURL = "" }, "base url is required"},
		{"relative base url", func(c *Config) { c.BaseURL = "/api" }, `base url must be an absolute http(s) url (got "/api")`},
		{"empty user agent", func(c *Config) { c.UserAgent = "" }, "user-agent is required"},
		{"zero login timeout", func(c *Config) { c.LoginTimeout = 0 }, "login_timeout must be > 0 (got 0s)"},
		{"zero page timeout", func(c *Config) { c.PageTimeout = 0 }, "page_timeout must be > 0 (got 0s)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)

			client, err := New(cfg)
			if tt.errorMsg == "" {
				if err != nil {
					t.Errorf("Unexpected error: %v", err)
					return
				}
				if client == nil {
					t.Error("Client is nil")
				}
				return
			}
			if err == nil {
				t.Errorf("Expected error but got nil")
				return
			}
			if err.Error() != tt.errorMsg {
				t.Errorf("Error message = %q, want %q", err.Error(), tt.errorMsg)
			}
		})
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.BaseURL != DefaultBaseURL {
		t.Errorf("BaseURL = %q, want %q", cfg.BaseURL, DefaultBaseURL)
	}
	if cfg.LoginTimeout != 5*time.Second {
		t.Errorf("LoginTimeout = %v, want 5s", cfg.LoginTimeout)
	}
	if cfg.PageTimeout != 10*time.Second {
		t.Errorf("PageTimeout = %v, want 10s", cfg.PageTimeout)
	}
}

func TestClassifyError(t *testing.T) {
	client := &Client{logger: zerolog.Nop()}

	tests := []struct {
		name       string
		statusCode int
		err        error
		expected   ErrorClass
	}{
		{"network error", 0, io.EOF, ErrorClassNetwork},
		{"client error 401", 401, nil, ErrorClassClient},
		{"client error 404", 404, nil, ErrorClassClient},
		{"rate limit 429", 429, nil, ErrorClassRateLimit},
		{"server error 500", 500, nil, ErrorClassServer},
		{"server error 503", 503, nil, ErrorClassServer},
		{"unexpected 204", 204, nil, ErrorClassClient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var resp *http.Response
			if tt.statusCode > 0 {
				resp = &http.Response{StatusCode: tt.statusCode}
			}

			if got := client.classifyError(resp, tt.err); got != tt.expected {
				t.Errorf("classifyError() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestAuthenticate_Success(t *testing.T) {
	mock := testutil.NewMockUpstream()
	defer mock.Close()
	mock.AddTenant(testutil.MockTenant{Name: "SchoolA", Phone: "151", Password: "pw"})

	c := newTestClient(t, mock.URL())

	session, err := c.Authenticate(context.Background(), tenant.Account{Name: "SchoolA", Phone: "151", Password: "pw"})
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	if session.Tenant != "SchoolA" {
		t.Errorf("Tenant = %q, want SchoolA", session.Tenant)
	}
	if session.Token() != mock.TokenFor("151") {
		t.Errorf("Token = %q, want %q", session.Token(), mock.TokenFor("151"))
	}
	if got := mock.LastHeader().Get("User-Agent"); got != "Mozilla/5.0" {
		t.Errorf("User-Agent = %q, want Mozilla/5.0", got)
	}
}

func TestAuthenticate_Failures(t *testing.T) {
	mock := testutil.NewMockUpstream()
	defer mock.Close()
	mock.AddTenant(testutil.MockTenant{Name: "Down", Phone: "500", Password: "pw", LoginStatus: http.StatusBadGateway})
	mock.AddTenant(testutil.MockTenant{Name: "NoToken", Phone: "200", Password: "pw", OmitToken: true})

	c := newTestClient(t, mock.URL())

	tests := []struct {
		name       string
		account    tenant.Account
		wantClass  ErrorClass
		wantStatus int
		wantErr    error
	}{
		{"wrong password", tenant.Account{Name: "X", Phone: "500", Password: "bad"}, ErrorClassClient, 401, nil},
		{"server error", tenant.Account{Name: "Down", Phone: "500", Password: "pw"}, ErrorClassServer, 502, nil},
		{"missing token", tenant.Account{Name: "NoToken", Phone: "200", Password: "pw"}, ErrorClassToken, 200, ErrMissingToken},
		{"blank secret", tenant.Account{Name: "Blank", Phone: "200"}, ErrorClassCredentials, 0, ErrMissingCredentials},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			session, err := c.Authenticate(context.Background(), tt.account)
			if session != nil {
				t.Errorf("session = %v, want nil", session)
			}

			var authErr *AuthError
			if !errors.As(err, &authErr) {
				t.Fatalf("error = %v, want *AuthError", err)
			}
			if authErr.ErrorClass != tt.wantClass {
				t.Errorf("ErrorClass = %q, want %q", authErr.ErrorClass, tt.wantClass)
			}
			if authErr.StatusCode != tt.wantStatus {
				t.Errorf("StatusCode = %d, want %d", authErr.StatusCode, tt.wantStatus)
			}
			if authErr.Tenant != tt.account.Name {
				t.Errorf("Tenant = %q, want %q", authErr.Tenant, tt.account.Name)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
		})
	}

	if mock.LoginCount() != 3 {
		t.Errorf("LoginCount = %d, want 3 (blank credentials must not hit the network)", mock.LoginCount())
	}
}

func TestAuthenticate_NetworkError(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	baseURL := server.URL
	server.Close()

	c := newTestClient(t, baseURL)

	_, err := c.Authenticate(context.Background(), tenant.Account{Name: "A", Phone: "1", Password: "p"})
	if got := ClassOf(err); got != ErrorClassNetwork {
		t.Errorf("ClassOf() = %q, want %q (err = %v)", got, ErrorClassNetwork, err)
	}
}

func TestAuthenticate_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer server.Close()

	cfg := DefaultConfig()
	cfg.BaseURL = server.URL
	cfg.LoginTimeout = 50 * time.Millisecond
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	start := time.Now()
	_, err = c.Authenticate(context.Background(), tenant.Account{Name: "A", Phone: "1", Password: "p"})
	if got := ClassOf(err); got != ErrorClassNetwork {
		t.Errorf("ClassOf() = %q, want %q", got, ErrorClassNetwork)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Authenticate() took %v, want the login timeout to apply", elapsed)
	}
}

func TestAuthenticate_MalformedBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`<html>maintenance</html>`))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	_, err := c.Authenticate(context.Background(), tenant.Account{Name: "A", Phone: "1", Password: "p"})
	if got := ClassOf(err); got != ErrorClassDecode {
		t.Errorf("ClassOf() = %q, want %q", got, ErrorClassDecode)
	}
}

func TestFetchPage(t *testing.T) {
	mock := testutil.NewMockUpstream()
	defer mock.Close()
	mock.AddTenant(testutil.MockTenant{Name: "SchoolA", Phone: "151", Password: "pw", Records: testutil.MakeRecords(7, "Math")})

	c := newTestClient(t, mock.URL())
	session := NewSession("SchoolA", mock.TokenFor("151"))

	page, err := c.FetchPage(context.Background(), session, PageQuery{Page: 2, PageSize: 5, Range: testRange(t)})
	if err != nil {
		t.Fatalf("FetchPage() error = %v", err)
	}

	if len(page.Rows) != 2 {
		t.Errorf("len(Rows) = %d, want 2", len(page.Rows))
	}
	if page.Total != 7 {
		t.Errorf("Total = %d, want 7", page.Total)
	}

	q := mock.LastQuery()
	if q.Get("page") != "2" || q.Get("pageSize") != "5" || q.Get("startDate") != "2024-01-01" || q.Get("endDate") != "2024-01-31" {
		t.Errorf("query = %v", q)
	}
	if got := mock.LastHeader().Get("Authorization"); got != "Bearer "+mock.TokenFor("151") {
		t.Errorf("Authorization = %q", got)
	}

	id, ok := page.Rows[0].ID()
	if !ok || id != "Math-6" {
		t.Errorf("ID() = %q, %v, want Math-6", id, ok)
	}
}

func TestFetchPage_Errors(t *testing.T) {
	mock := testutil.NewMockUpstream()
	defer mock.Close()
	mock.AddTenant(testutil.MockTenant{Name: "SchoolA", Phone: "151", Password: "pw", FailPage: 1, FailStatus: http.StatusServiceUnavailable})

	c := newTestClient(t, mock.URL())

	_, err := c.FetchPage(context.Background(), NewSession("SchoolA", mock.TokenFor("151")), PageQuery{Page: 1, PageSize: 50, Range: testRange(t)})
	var pageErr *PageError
	if !errors.As(err, &pageErr) {
		t.Fatalf("error = %v, want *PageError", err)
	}
	if pageErr.Page != 1 || pageErr.StatusCode != 503 || pageErr.ErrorClass != ErrorClassServer {
		t.Errorf("PageError = %+v", pageErr)
	}

	_, err = c.FetchPage(context.Background(), nil, PageQuery{Page: 1, PageSize: 50, Range: testRange(t)})
	if !errors.Is(err, ErrNoSession) {
		t.Errorf("FetchPage(nil session) error = %v, want ErrNoSession", err)
	}

	_, err = c.FetchPage(context.Background(), NewSession("SchoolA", "stale"), PageQuery{Page: 1, PageSize: 50, Range: testRange(t)})
	if got := ClassOf(err); got != ErrorClassClient {
		t.Errorf("stale token ClassOf() = %q, want %q", got, ErrorClassClient)
	}
}

func TestFetchPage_TotalAsString(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":{"list":[{"id":1,"blankCount":3}],"total":"12"}}`))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	page, err := c.FetchPage(context.Background(), NewSession("A", "t"), PageQuery{Page: 1, PageSize: 1, Range: testRange(t)})
	if err != nil {
		t.Fatalf("FetchPage() error = %v", err)
	}
	if page.Total != 12 {
		t.Errorf("Total = %d, want 12", page.Total)
	}
	if id, _ := page.Rows[0].ID(); id != "1" {
		t.Errorf("ID() = %q, want 1", id)
	}
}

func TestSession_String(t *testing.T) {
	s := NewSession("SchoolA", "very-secret-token")
	if got := s.String(); got != "session{tenant=SchoolA valid=true}" {
		t.Errorf("String() = %q", got)
	}

	var nilSession *Session
	if nilSession.Valid() || nilSession.Token() != "" {
		t.Error("nil session should be invalid")
	}
}
