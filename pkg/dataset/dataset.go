package dataset

import (
	"sort"
	"time"
)

// TenantStatus is the outcome of processing one tenant.
type TenantStatus string

const (
	// StatusOK means every page was fetched.
	StatusOK TenantStatus = "ok"

	// StatusAuthFailed means login failed; the tenant contributed nothing.
	StatusAuthFailed TenantStatus = "auth_failed"

	// StatusPartial means pagination stopped on an error; rows fetched before
	// the failure are kept.
	StatusPartial TenantStatus = "partial"

	// StatusEmpty means login succeeded but no rows matched.
	StatusEmpty TenantStatus = "empty"

	// StatusFailed means processing the tenant broke unexpectedly. Other
	// tenants are unaffected.
	StatusFailed TenantStatus = "failed"
)

// TenantReport summarizes one tenant's contribution to a dataset.
type TenantReport struct {
	Name    string       `json:"name"`
	Status  TenantStatus `json:"status"`
	Records int          `json:"records"`
	Error   string       `json:"error,omitempty"`
}

// Dataset is the unified table for one query. Records are grouped in tenant
// blocks, blocks in tenant order, rows within a block in page order.
type Dataset struct {
	Range       Range          `json:"range"`
	Records     []Record       `json:"records"`
	Tenants     []TenantReport `json:"tenants"`
	GeneratedAt time.Time      `json:"generated_at"`
}

// Len returns the number of records.
func (d *Dataset) Len() int {
	if d == nil {
		return 0
	}
	return len(d.Records)
}

// Empty reports whether the dataset has no records. An empty dataset is the
// expected result when every tenant failed or had no data.
func (d *Dataset) Empty() bool {
	return d.Len() == 0
}

// Rows returns the records as cells in Columns order.
func (d *Dataset) Rows() [][]string {
	rows := make([][]string, 0, d.Len())
	if d == nil {
		return rows
	}
	for _, r := range d.Records {
		rows = append(rows, r.Row())
	}
	return rows
}

// BySchool returns the records tagged with the given school, in order.
func (d *Dataset) BySchool(name string) []Record {
	var out []Record
	if d == nil {
		return out
	}
	for _, r := range d.Records {
		if r.SchoolName == name {
			out = append(out, r)
		}
	}
	return out
}

// Clone returns a deep copy.
func (d *Dataset) Clone() *Dataset {
	if d == nil {
		return nil
	}
	out := &Dataset{
		Range:       d.Range,
		Records:     make([]Record, len(d.Records)),
		Tenants:     make([]TenantReport, len(d.Tenants)),
		GeneratedAt: d.GeneratedAt,
	}
	for i, r := range d.Records {
		out.Records[i] = r.Clone()
	}
	copy(out.Tenants, d.Tenants)
	return out
}

// Reorder rearranges tenant blocks and reports into the given tenant order.
// Relative order within each block is kept. Tenants not listed keep their
// position after the listed ones.
func (d *Dataset) Reorder(names []string) {
	if d == nil {
		return
	}

	rank := make(map[string]int, len(names))
	for i, name := range names {
		if _, ok := rank[name]; !ok {
			rank[name] = i
		}
	}
	pos := func(name string) int {
		if r, ok := rank[name]; ok {
			return r
		}
		return len(names)
	}

	sort.SliceStable(d.Records, func(i, j int) bool {
		return pos(d.Records[i].SchoolName) < pos(d.Records[j].SchoolName)
	})
	sort.SliceStable(d.Tenants, func(i, j int) bool {
		return pos(d.Tenants[i].Name) < pos(d.Tenants[j].Name)
	})
}
