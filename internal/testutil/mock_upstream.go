// Package testutil provides testing utilities for the usage client.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
)

// MockTenant configures how the mock upstream behaves for one account.
type MockTenant struct {
	Name     string
	Phone    string
	Password string

	// Records are served in order, pageSize at a time.
	Records []map[string]any

	// DeclaredTotal is reported as data.total. Zero reports len(Records).
	DeclaredTotal int

	// LoginStatus, if non-zero, is returned instead of a successful login.
	LoginStatus int

	// OmitToken makes a successful login response carry no token.
	OmitToken bool

	// FailPage, if non-zero, makes that page respond with FailStatus
	// (default 500).
	FailPage   int
	FailStatus int

	// EmptyFromPage, if non-zero, makes that page and later ones return no rows.
	EmptyFromPage int

	// Delay is applied to every request for this tenant.
	Delay time.Duration

	token string
}

// MockUpstream is a configurable mock of the upstream API.
type MockUpstream struct {
	server *httptest.Server
	mu     sync.Mutex

	byPhone map[string]*MockTenant
	byToken map[string]*MockTenant

	loginCount   int
	pageRequests map[string][]int
	lastQuery    url.Values
	lastHeader   http.Header
}

// NewMockUpstream creates and starts a mock upstream server.
func NewMockUpstream() *MockUpstream {
	m := &MockUpstream{
		byPhone:      make(map[string]*MockTenant),
		byToken:      make(map[string]*MockTenant),
		pageRequests: make(map[string][]int),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/auth/login", m.handleLogin)
	mux.HandleFunc("/api/administratorTable/taskList", m.handleTaskList)
	m.server = httptest.NewServer(mux)

	return m
}

// URL returns the API base URL (including the /api prefix).
func (m *MockUpstream) URL() string {
	return m.server.URL + "/api"
}

// Close shuts down the mock server.
func (m *MockUpstream) Close() {
	m.server.Close()
}

// AddTenant registers an account. The login token is derived from the phone.
func (m *MockUpstream) AddTenant(t MockTenant) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t.token = "token-" + t.Phone
	tc := t
	m.byPhone[t.Phone] = &tc
	m.byToken[tc.token] = &tc
}

// TokenFor returns the token issued to phone.
func (m *MockUpstream) TokenFor(phone string) string {
	return "token-" + phone
}

// Reset clears all tracking counters.
func (m *MockUpstream) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loginCount = 0
	m.pageRequests = make(map[string][]int)
	m.lastQuery = nil
	m.lastHeader = nil
}

// LoginCount returns the number of login requests received.
func (m *MockUpstream) LoginCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loginCount
}

// PageRequests returns the page numbers requested for a tenant, in order.
func (m *MockUpstream) PageRequests(name string) []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int(nil), m.pageRequests[name]...)
}

// TotalPageRequests returns the number of task list requests across tenants.
func (m *MockUpstream) TotalPageRequests() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, pages := range m.pageRequests {
		n += len(pages)
	}
	return n
}

// LastQuery returns the query of the most recent task list request.
func (m *MockUpstream) LastQuery() url.Values {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastQuery
}

// LastHeader returns the headers of the most recent request.
func (m *MockUpstream) LastHeader() http.Header {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastHeader
}

func (m *MockUpstream) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"code": 405, "msg": "method not allowed"})
		return
	}

	var body struct {
		Phone    string `json:"phone"`
		Password string `json:"password"`
		Ticket   string `json:"ticket"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"code": 400, "msg": "bad json"})
		return
	}

	m.mu.Lock()
	m.loginCount++
	m.lastHeader = r.Header.Clone()
	t, ok := m.byPhone[body.Phone]
	m.mu.Unlock()

	if !ok || t.Password != body.Password {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"code": 401, "msg": "invalid credentials"})
		return
	}

	if t.Delay > 0 {
		time.Sleep(t.Delay)
	}

	if t.LoginStatus != 0 {
		writeJSON(w, t.LoginStatus, map[string]any{"code": t.LoginStatus, "msg": "login failed"})
		return
	}

	if t.OmitToken {
		writeJSON(w, http.StatusOK, map[string]any{"code": 0, "data": map[string]any{}})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"code": 0, "data": map[string]any{"token": t.token}})
}

func (m *MockUpstream) handleTaskList(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")

	m.mu.Lock()
	t, ok := m.byToken[token]
	m.lastHeader = r.Header.Clone()
	m.lastQuery = r.URL.Query()
	m.mu.Unlock()

	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"code": 401, "msg": "unauthorized"})
		return
	}

	q := r.URL.Query()
	page, err1 := strconv.Atoi(q.Get("page"))
	pageSize, err2 := strconv.Atoi(q.Get("pageSize"))
	if err1 != nil || err2 != nil || page < 1 || pageSize < 1 || q.Get("startDate") == "" || q.Get("endDate") == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"code": 400, "msg": "bad query"})
		return
	}

	m.mu.Lock()
	m.pageRequests[t.Name] = append(m.pageRequests[t.Name], page)
	m.mu.Unlock()

	if t.Delay > 0 {
		time.Sleep(t.Delay)
	}

	if t.FailPage != 0 && page == t.FailPage {
		status := t.FailStatus
		if status == 0 {
			status = http.StatusInternalServerError
		}
		writeJSON(w, status, map[string]any{"code": status, "msg": "page failed"})
		return
	}

	total := t.DeclaredTotal
	if total == 0 {
		total = len(t.Records)
	}

	rows := []map[string]any{}
	if t.EmptyFromPage == 0 || page < t.EmptyFromPage {
		start := (page - 1) * pageSize
		end := start + pageSize
		if start < len(t.Records) {
			if end > len(t.Records) {
				end = len(t.Records)
			}
			rows = t.Records[start:end]
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"code": 0,
		"data": map[string]any{"list": rows, "total": total},
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// MakeRecords builds n task rows for a school. Fields follow the upstream
// task list shape.
func MakeRecords(n int, subject string) []map[string]any {
	records := make([]map[string]any, n)
	for i := range records {
		records[i] = map[string]any{
			"id":              fmt.Sprintf("%s-%d", subject, i+1),
			"name":            fmt.Sprintf("Task %d", i+1),
			"createdUserName": fmt.Sprintf("Teacher %d", i%3+1),
			"subjectName":     subject,
			"gradeName":       "Grade 7",
			"createdAt":       fmt.Sprintf("2024-01-%02dT08:30:00+08:00", i%28+1),
			"blankCount":      i + 1,
		}
	}
	return records
}
