package dataset

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// DateLayout is the calendar date format used on the wire and in records.
const DateLayout = "2006-01-02"

var (
	// ErrEmptyRange is returned when a range bound is unset.
	ErrEmptyRange = errors.New("date range bound is missing")

	// ErrInvertedRange is returned when start is after end.
	ErrInvertedRange = errors.New("start date is after end date")
)

// Range is an inclusive span of calendar dates.
type Range struct {
	Start time.Time
	End   time.Time
}

// NewRange builds a range from two instants, truncated to their calendar dates.
func NewRange(start, end time.Time) Range {
	return Range{Start: dateOf(start), End: dateOf(end)}
}

// ParseRange parses two YYYY-MM-DD strings.
func ParseRange(start, end string) (Range, error) {
	s, err := time.Parse(DateLayout, start)
	if err != nil {
		return Range{}, fmt.Errorf("parse start date %q: %w", start, err)
	}
	e, err := time.Parse(DateLayout, end)
	if err != nil {
		return Range{}, fmt.Errorf("parse end date %q: %w", end, err)
	}
	return Range{Start: s, End: e}, nil
}

// LastDays returns the range covering the n days before now, through now.
func LastDays(now time.Time, n int) Range {
	return NewRange(now.AddDate(0, 0, -n), now)
}

// Validate checks that both bounds are set and start <= end.
func (r Range) Validate() error {
	if r.Start.IsZero() || r.End.IsZero() {
		return ErrEmptyRange
	}
	if dateOf(r.Start).After(dateOf(r.End)) {
		return fmt.Errorf("%w: %s > %s", ErrInvertedRange, r.StartDate(), r.EndDate())
	}
	return nil
}

// StartDate returns the start as YYYY-MM-DD.
func (r Range) StartDate() string {
	return r.Start.Format(DateLayout)
}

// EndDate returns the end as YYYY-MM-DD.
func (r Range) EndDate() string {
	return r.End.Format(DateLayout)
}

// String returns "start..end".
func (r Range) String() string {
	return r.StartDate() + ".." + r.EndDate()
}

// MarshalJSON encodes the bounds as YYYY-MM-DD strings.
func (r Range) MarshalJSON() ([]byte, error) {
	return json.Marshal(rangeJSON{Start: r.StartDate(), End: r.EndDate()})
}

// UnmarshalJSON decodes YYYY-MM-DD bounds.
func (r *Range) UnmarshalJSON(data []byte) error {
	var raw rangeJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParseRange(raw.Start, raw.End)
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

type rangeJSON struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

func dateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
