package cache

import (
	"net/url"
	"sort"
	"strings"

	"github.com/Sternrassler/school-usage-client/pkg/dataset"
)

// Key identifies a cached dataset: a tenant set and a date range.
type Key struct {
	// Tenants are the tenant names, sorted. Use NewKey to build one.
	Tenants []string

	// Start and End are calendar dates (YYYY-MM-DD).
	Start string
	End   string
}

// NewKey builds a key for a tenant list and range. The tenant order does not
// matter: permutations of the same list produce equal keys.
func NewKey(tenants []string, r dataset.Range) Key {
	sorted := make([]string, len(tenants))
	copy(sorted, tenants)
	sort.Strings(sorted)

	return Key{
		Tenants: sorted,
		Start:   r.StartDate(),
		End:     r.EndDate(),
	}
}

// String generates a deterministic cache key string.
// Format: usage:start=YYYY-MM-DD:end=YYYY-MM-DD:tenants=a,b
//
// Tenant names are query-escaped so separators inside a name cannot make two
// different tenant sets collide.
func (k Key) String() string {
	names := make([]string, len(k.Tenants))
	for i, name := range k.Tenants {
		names[i] = url.QueryEscape(name)
	}

	parts := []string{
		"usage",
		"start=" + k.Start,
		"end=" + k.End,
		"tenants=" + strings.Join(names, ","),
	}
	return strings.Join(parts, ":")
}
