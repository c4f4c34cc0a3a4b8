// Package normalize projects raw upstream task rows onto the canonical record
// schema. It is pure: no I/O, no shared state, same input same output.
package normalize

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/school-usage-client/pkg/client"
	"github.com/Sternrassler/school-usage-client/pkg/dataset"
)

// Upstream field names read by the normalizer. Everything else is ignored.
const (
	FieldTaskName    = "name"
	FieldTeacherName = "createdUserName"
	FieldSubjectName = "subjectName"
	FieldGradeName   = "gradeName"
	FieldCreatedAt   = "createdAt"
	FieldBlankCount  = "blankCount"
)

var whitelist = []string{
	FieldTaskName,
	FieldTeacherName,
	FieldSubjectName,
	FieldGradeName,
	FieldCreatedAt,
	FieldBlankCount,
}

// timestampLayouts are tried in order.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999-0700",
	"2006-01-02 15:04:05.999999999-0700",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04",
	"2006/01/02 15:04:05",
	"2006/01/02",
	dataset.DateLayout,
}

// epochMillisThreshold separates epoch seconds from epoch milliseconds.
const epochMillisThreshold = 1e11

// maxExactInt is the largest magnitude a float64 holds without losing
// integer precision (2^53).
const maxExactInt = 1 << 53

// Skips counts per-field recoveries during a batch.
type Skips struct {
	// Dates is the number of records whose timestamp could not be parsed.
	Dates int

	// Counts is the number of records whose reviewed-item count was not numeric.
	Counts int

	// Dropped is the number of records with none of the whitelisted fields.
	Dropped int
}

// Total returns the number of recoveries.
func (s Skips) Total() int {
	return s.Dates + s.Counts + s.Dropped
}

// Normalize maps raw rows to records tagged with tenantName, keeping input
// order. Unparseable fields are left empty; the record is kept.
func Normalize(raw []client.RawRecord, tenantName string) ([]dataset.Record, Skips) {
	var skips Skips
	records := make([]dataset.Record, 0, len(raw))

	for _, row := range raw {
		if !hasAnyField(row) {
			skips.Dropped++
			continue
		}

		rec, dateOK, countOK := Record(row, tenantName)
		if !dateOK {
			skips.Dates++
		}
		if !countOK {
			skips.Counts++
		}
		records = append(records, rec)
	}

	return records, skips
}

// Record normalizes a single row. dateOK and countOK are false when the
// field was present but unusable.
func Record(row client.RawRecord, tenantName string) (rec dataset.Record, dateOK, countOK bool) {
	rec = dataset.Record{
		TaskName:    text(row, FieldTaskName),
		TeacherName: text(row, FieldTeacherName),
		SubjectName: text(row, FieldSubjectName),
		GradeName:   text(row, FieldGradeName),
		SchoolName:  tenantName,
	}

	dateOK, countOK = true, true

	if v, ok := row.Lookup(FieldCreatedAt); ok {
		if date, ok := Date(v); ok {
			rec.CreatedDate = date
		} else {
			dateOK = false
		}
	}

	if v, ok := row.Lookup(FieldBlankCount); ok {
		if n, ok := count(v); ok {
			rec.ReviewedItemCount = &n
		} else {
			countOK = false
		}
	}

	return rec, dateOK, countOK
}

// Date converts a timestamp value to YYYY-MM-DD in the timestamp's own offset.
// Strings in common layouts and numeric Unix epochs (seconds or milliseconds)
// are accepted.
func Date(v any) (string, bool) {
	switch ts := v.(type) {
	case string:
		return parseDateString(strings.TrimSpace(ts))
	case json.Number:
		f, err := ts.Float64()
		if err != nil {
			return "", false
		}
		return epochDate(f)
	case float64:
		return epochDate(ts)
	case int:
		return epochDate(float64(ts))
	case int64:
		return epochDate(float64(ts))
	default:
		return "", false
	}
}

func parseDateString(s string) (string, bool) {
	if s == "" {
		return "", false
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format(dataset.DateLayout), true
		}
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return epochDate(f)
	}
	return "", false
}

func epochDate(f float64) (string, bool) {
	if math.IsNaN(f) || f <= 0 || f > maxExactInt {
		return "", false
	}
	var t time.Time
	if f >= epochMillisThreshold {
		t = time.UnixMilli(int64(f))
	} else {
		t = time.Unix(int64(f), 0)
	}
	if t.UTC().Year() > 9999 {
		return "", false
	}
	return t.UTC().Format(dataset.DateLayout), true
}

func text(row client.RawRecord, field string) string {
	v, ok := row.Lookup(field)
	if !ok {
		return ""
	}
	switch s := v.(type) {
	case string:
		return s
	case json.Number:
		return s.String()
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(s)
	default:
		return ""
	}
}

func count(v any) (int, bool) {
	var f float64
	switch n := v.(type) {
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case float64:
		f = n
	case int:
		return n, true
	case int64:
		f = float64(n)
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	// Fractional and out-of-range counts are rejected rather than truncated.
	if math.IsNaN(f) || math.Abs(f) > maxExactInt || f != math.Trunc(f) {
		return 0, false
	}
	return int(f), true
}

func hasAnyField(row client.RawRecord) bool {
	for _, field := range whitelist {
		if _, ok := row.Lookup(field); ok {
			return true
		}
	}
	return false
}
