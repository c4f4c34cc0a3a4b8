package client

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/Sternrassler/school-usage-client/pkg/dataset"
)

// Session is the ephemeral result of a successful login for one tenant.
// It lives for a single aggregation run and is never persisted.
type Session struct {
	// Tenant is the display name of the account that logged in.
	Tenant string

	token string
}

// NewSession creates a session for tenant with the given bearer token.
func NewSession(tenant, token string) *Session {
	return &Session{Tenant: tenant, token: token}
}

// Valid reports whether the session carries a token.
func (s *Session) Valid() bool {
	return s != nil && s.token != ""
}

// Token returns the bearer token.
func (s *Session) Token() string {
	if s == nil {
		return ""
	}
	return s.token
}

// Authorize attaches the bearer token to req.
func (s *Session) Authorize(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+s.token)
}

// String describes the session without exposing the token.
func (s *Session) String() string {
	if s == nil {
		return "session<nil>"
	}
	return fmt.Sprintf("session{tenant=%s valid=%t}", s.Tenant, s.Valid())
}

// RawRecord is one row of the task list as returned by the upstream. Only a
// subset of fields is ever read; numbers are kept as json.Number.
type RawRecord map[string]any

// Lookup returns the value of field if present and non-null.
func (r RawRecord) Lookup(field string) (any, bool) {
	v, ok := r[field]
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

// ID returns the upstream row identifier, if the row carries one.
func (r RawRecord) ID() (string, bool) {
	v, ok := r.Lookup("id")
	if !ok {
		return "", false
	}
	switch id := v.(type) {
	case string:
		return id, id != ""
	case fmt.Stringer:
		return id.String(), true
	case float64:
		return strconv.FormatFloat(id, 'f', -1, 64), true
	default:
		return fmt.Sprint(id), true
	}
}

// PageQuery selects one page of the task list.
type PageQuery struct {
	Page     int
	PageSize int
	Range    dataset.Range
}

// Values encodes the query parameters.
func (q PageQuery) Values() url.Values {
	v := url.Values{}
	v.Set("page", strconv.Itoa(q.Page))
	v.Set("pageSize", strconv.Itoa(q.PageSize))
	v.Set("startDate", q.Range.StartDate())
	v.Set("endDate", q.Range.EndDate())
	return v
}

// TaskPage is one decoded page of the task list.
type TaskPage struct {
	// Rows are the records on this page.
	Rows []RawRecord

	// Total is the server-declared number of matching records across all pages.
	Total int
}
