package sleep

import (
	"fmt"
	"time"
)

// =============================================================================
// DAY - Calendar day, the ledger key
// =============================================================================

// DayLayout is the wire and storage format of a Day.
const DayLayout = "2006-01-02"

// Day is a calendar date with no time-of-day. Internally it is midnight UTC
// so two Days for the same date always compare equal with ==.
type Day struct {
	t time.Time
}

// Constructors
func NewDay(year int, month time.Month, day int) Day {
	return Day{t: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// DayOf returns the calendar date of t in t's own location.
func DayOf(t time.Time) Day {
	y, m, d := t.Date()
	return NewDay(y, m, d)
}

// Today returns the current calendar date in loc (time.Local when nil).
func Today(loc *time.Location) Day {
	if loc == nil {
		loc = time.Local
	}
	return DayOf(time.Now().In(loc))
}

// ParseDay parses a YYYY-MM-DD string.
func ParseDay(s string) (Day, error) {
	t, err := time.Parse(DayLayout, s)
	if err != nil {
		return Day{}, fmt.Errorf("invalid date %q (use YYYY-MM-DD): %w", s, err)
	}
	return DayOf(t), nil
}

// MustParseDay is ParseDay for literals; it panics on malformed input.
func MustParseDay(s string) Day {
	d, err := ParseDay(s)
	if err != nil {
		panic(err)
	}
	return d
}

// Comparison
func (d Day) Before(other Day) bool        { return d.t.Before(other.t) }
func (d Day) After(other Day) bool         { return d.t.After(other.t) }
func (d Day) Equal(other Day) bool         { return d.t.Equal(other.t) }
func (d Day) BeforeOrEqual(other Day) bool { return !d.After(other) }
func (d Day) AfterOrEqual(other Day) bool  { return !d.Before(other) }

// Arithmetic
func (d Day) AddDays(n int) Day { return DayOf(d.t.AddDate(0, 0, n)) }

// Properties
func (d Day) IsZero() bool          { return d.t.IsZero() }
func (d Day) Time() time.Time       { return d.t }
func (d Day) Weekday() time.Weekday { return d.t.Weekday() }

func (d Day) String() string {
	if d.IsZero() {
		return ""
	}
	return d.t.Format(DayLayout)
}

func (d Day) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Day) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*d = Day{}
		return nil
	}
	parsed, err := ParseDay(string(b))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// DaysBetween returns the number of calendar days from a to b (negative when b < a).
func DaysBetween(a, b Day) int {
	return int(b.t.Sub(a.t).Hours() / 24)
}

// =============================================================================
// RANGE - Inclusive span of days
// =============================================================================

// Range is the inclusive span [Start, End].
type Range struct {
	Start Day
	End   Day
}

// LastNDays returns the n calendar days ending at end, inclusive.
func LastNDays(end Day, n int) Range {
	return Range{Start: end.AddDays(-(n - 1)), End: end}
}

// Contains returns true if d is within [Start, End].
func (r Range) Contains(d Day) bool {
	return d.AfterOrEqual(r.Start) && d.BeforeOrEqual(r.End)
}

// Len returns the number of days in the range (0 when End < Start).
func (r Range) Len() int {
	n := DaysBetween(r.Start, r.End) + 1
	if n < 0 {
		return 0
	}
	return n
}

// Days returns every day of the range in ascending order.
func (r Range) Days() []Day {
	days := make([]Day, 0, r.Len())
	for cur := r.Start; cur.BeforeOrEqual(r.End); cur = cur.AddDays(1) {
		days = append(days, cur)
	}
	return days
}

// Validate rejects zero endpoints and inverted ranges.
func (r Range) Validate() error {
	if r.Start.IsZero() || r.End.IsZero() {
		return &ValidationError{Field: "range", Reason: "start and end are required"}
	}
	if r.End.Before(r.Start) {
		return &ValidationError{Field: "range", Value: r.String(), Reason: "end before start"}
	}
	return nil
}

func (r Range) String() string {
	return "[" + r.Start.String() + ", " + r.End.String() + "]"
}
