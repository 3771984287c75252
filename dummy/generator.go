/*
Package dummy synthesizes example sleep records.

PURPOSE:
  Fills a date range with plausible sleep hours when the provider cannot be
  reached and the user opted into example data, or when a preview is
  requested. Every record is marked Source = dummy and IsExample = true so
  it can never be mistaken for measured sleep.

DETERMINISM:
  Hours depend only on (date, target). The ISO date is hashed with xxhash
  and the hash picks an offset in quarter hours:

    offset ∈ {-1.50, -1.25, ..., +0.75, +1.00}   (11 steps)
    hours  = clamp(target + offset, 0, 24)

  Regenerating the same range twice yields identical records, which keeps
  a fallback sync idempotent.

SEE ALSO:
  - ingest/orchestrator.go: Fallback caller
  - api/handlers.go: Preview endpoint
*/
package dummy

import (
	"github.com/cespare/xxhash/v2"
	"github.com/shopspring/decimal"
	"github.com/warp/sleep-debt/sleep"
)

const (
	minOffsetQuarters = -6 // -1.5h
	maxOffsetQuarters = 4  // +1.0h
)

var (
	quarterHour = decimal.RequireFromString("0.25")
	maxHours    = decimal.NewFromInt(24)
)

// Generate returns one example record per day in [start, end], ascending.
// An inverted range yields nil.
func Generate(start, end sleep.Day, target decimal.Decimal) []sleep.SleepRecord {
	if end.Before(start) {
		return nil
	}
	r := sleep.Range{Start: start, End: end}
	records := make([]sleep.SleepRecord, 0, r.Len())
	for _, day := range r.Days() {
		records = append(records, sleep.NewRecord(day, HoursFor(day, target), sleep.SourceDummy))
	}
	return records
}

// HoursFor returns the example hours for a single day.
func HoursFor(day sleep.Day, target decimal.Decimal) decimal.Decimal {
	span := uint64(maxOffsetQuarters - minOffsetQuarters + 1)
	quarters := int64(xxhash.Sum64String(day.String())%span) + minOffsetQuarters

	hours := target.Add(quarterHour.Mul(decimal.NewFromInt(quarters)))
	switch {
	case hours.IsNegative():
		return decimal.Zero
	case hours.GreaterThan(maxHours):
		return maxHours
	}
	return hours.Round(2)
}

// Preview generates the days-long range ending at today without storing it.
func Preview(today sleep.Day, days int, target decimal.Decimal) []sleep.SleepRecord {
	if days <= 0 {
		return nil
	}
	r := sleep.LastNDays(today, days)
	return Generate(r.Start, r.End, target)
}
