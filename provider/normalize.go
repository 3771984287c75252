/*
normalize.go - Per-day payload shapes to sleep hours

PURPOSE:
  The provider reports a day in one of two structurally different shapes.
  Classify recognizes the shape from the JSON structure alone and returns
  one of a closed set of variants; Normalize dispatches on the variant with
  a type switch. Adding a shape means adding a variant and a case.

SHAPES:
  legacy:  {"dailySleepDTO": {"calendarDate", "sleepTimeSeconds", "napTimeSeconds",
                              "deepSleepSeconds", "lightSleepSeconds", "remSleepSeconds"}}
           hours = sleepTimeSeconds + napTimeSeconds
           when sleepTimeSeconds is null or 0, the stage sum stands in for it
  current: {"date", "sleepSessions": [{"startTime", "endTime", "durationSeconds", "type"}]}
           hours = sum of every usable session (night and nap alike)
           durationSeconds, else endTime - startTime
  other:   unknownPayload -> *NormalizationError, day skipped

NO DATA vs ZERO:
  A payload with no usable session yields ok=false. It is never 0 hours:
  a 0h record would count as a full-day deficit.

BATCH RULES (NormalizeBatch):
  - payloads dated outside the requested range are ignored
  - several payloads for one date are summed
  - a date totalling more than 24h is a normalization failure
  - failures are listed by payload index, then over-24h dates ascending
  - a batch where failures left neither a day nor a no-data day failed
    as a whole (NoneNormalized), whatever shapes were recognized
*/
package provider

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
	"github.com/warp/sleep-debt/sleep"
)

// Shape names a recognized payload structure.
type Shape string

const (
	ShapeLegacy  Shape = "legacy"
	ShapeCurrent Shape = "current"
	ShapeUnknown Shape = "unknown"
)

var (
	secondsPerHour = decimal.NewFromInt(3600)
	maxDayHours    = decimal.NewFromInt(24)
)

// =============================================================================
// VARIANTS
// =============================================================================

// Payload is one classified per-day payload. The set of implementations is
// closed: legacyPayload, currentPayload, unknownPayload.
type Payload interface {
	Shape() Shape
	payload()
}

type legacyPayload struct {
	date  string
	sleep gjson.Result
	nap   gjson.Result
	deep  gjson.Result
	light gjson.Result
	rem   gjson.Result
}

type currentPayload struct {
	date     string
	sessions []gjson.Result
}

type unknownPayload struct {
	reason string
}

func (legacyPayload) Shape() Shape  { return ShapeLegacy }
func (currentPayload) Shape() Shape { return ShapeCurrent }
func (unknownPayload) Shape() Shape { return ShapeUnknown }

func (legacyPayload) payload()  {}
func (currentPayload) payload() {}
func (unknownPayload) payload() {}

// Classify recognizes the payload shape from its structure.
func Classify(raw []byte) Payload {
	if !gjson.ValidBytes(raw) {
		return unknownPayload{reason: "invalid JSON"}
	}
	root := gjson.ParseBytes(raw)
	if !root.IsObject() {
		return unknownPayload{reason: "payload is not an object"}
	}

	if dto := root.Get("dailySleepDTO"); dto.IsObject() {
		return legacyPayload{
			date:  dto.Get("calendarDate").String(),
			sleep: dto.Get("sleepTimeSeconds"),
			nap:   dto.Get("napTimeSeconds"),
			deep:  dto.Get("deepSleepSeconds"),
			light: dto.Get("lightSleepSeconds"),
			rem:   dto.Get("remSleepSeconds"),
		}
	}

	if sessions := root.Get("sleepSessions"); sessions.IsArray() && root.Get("date").Exists() {
		return currentPayload{
			date:     root.Get("date").String(),
			sessions: sessions.Array(),
		}
	}

	return unknownPayload{reason: "unrecognized payload structure"}
}

// =============================================================================
// NORMALIZATION
// =============================================================================

// DayHours is the normalized sleep of one day.
type DayHours struct {
	Date  sleep.Day
	Hours decimal.Decimal
}

// Normalize converts a single payload. ok is false when the day holds no
// usable sleep. err is a *NormalizationError.
func Normalize(raw []byte) (dh DayHours, ok bool, err error) {
	dh, _, ok, err = normalizeAt(0, raw)
	return dh, ok, err
}

func normalizeAt(index int, raw []byte) (DayHours, Shape, bool, error) {
	p := Classify(raw)
	shape := p.Shape()

	var (
		date    string
		seconds int64
	)
	switch v := p.(type) {
	case legacyPayload:
		date, seconds = v.date, legacySeconds(v)
	case currentPayload:
		date, seconds = v.date, currentSeconds(v)
	case unknownPayload:
		return DayHours{}, shape, false, &NormalizationError{Index: index, Shape: shape, Reason: v.reason}
	}

	day, err := sleep.ParseDay(date)
	if err != nil {
		return DayHours{}, shape, false, &NormalizationError{Index: index, Date: date, Shape: shape, Reason: "missing or malformed date"}
	}
	if seconds <= 0 {
		return DayHours{Date: day}, shape, false, nil
	}
	return DayHours{Date: day, Hours: decimal.NewFromInt(seconds).Div(secondsPerHour)}, shape, true, nil
}

func legacySeconds(p legacyPayload) int64 {
	main := positive(p.sleep)
	if main == 0 {
		main = positive(p.deep) + positive(p.light) + positive(p.rem)
	}
	return main + positive(p.nap)
}

func currentSeconds(p currentPayload) int64 {
	var total int64
	for _, s := range p.sessions {
		total += sessionSeconds(s)
	}
	return total
}

// sessionSeconds returns 0 for an unusable session.
func sessionSeconds(s gjson.Result) int64 {
	if d := s.Get("durationSeconds"); d.Exists() && d.Type == gjson.Number {
		return positive(d)
	}
	start, err1 := time.Parse(time.RFC3339, s.Get("startTime").String())
	end, err2 := time.Parse(time.RFC3339, s.Get("endTime").String())
	if err1 != nil || err2 != nil || !end.After(start) {
		return 0
	}
	return int64(end.Sub(start) / time.Second)
}

func positive(r gjson.Result) int64 {
	if r.Type != gjson.Number {
		return 0
	}
	if v := r.Int(); v > 0 {
		return v
	}
	return 0
}

// =============================================================================
// BATCH
// =============================================================================

// BatchResult is the outcome of normalizing one fetched batch.
type BatchResult struct {
	Days       []DayHours // ascending, one per date
	NoData     int        // in-range payloads without usable sleep
	OutOfRange int
	Failures   []*NormalizationError
}

// NoneNormalized reports whether failures left nothing usable: no day with
// sleep and no day known to have none. A batch without failures never
// qualifies, even when it is empty.
func (b BatchResult) NoneNormalized() bool {
	return len(b.Failures) > 0 && len(b.Days) == 0 && b.NoData == 0
}

// NormalizeBatch normalizes every payload, keeping dates inside r.
func NormalizeBatch(payloads []json.RawMessage, r sleep.Range) BatchResult {
	var (
		res    BatchResult
		totals = make(map[sleep.Day]decimal.Decimal)
		shapes = make(map[sleep.Day]Shape)
	)

	for i, raw := range payloads {
		dh, shape, ok, err := normalizeAt(i, raw)
		if err != nil {
			res.Failures = append(res.Failures, err.(*NormalizationError))
			continue
		}

		if !r.Contains(dh.Date) {
			res.OutOfRange++
			continue
		}
		if !ok {
			res.NoData++
			continue
		}
		totals[dh.Date] = totals[dh.Date].Add(dh.Hours)
		shapes[dh.Date] = shape
	}

	dates := make([]sleep.Day, 0, len(totals))
	for day := range totals {
		dates = append(dates, day)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })

	for _, day := range dates {
		hours := totals[day]
		if hours.GreaterThan(maxDayHours) {
			res.Failures = append(res.Failures, &NormalizationError{
				Index:  -1,
				Date:   day.String(),
				Shape:  shapes[day],
				Reason: "more than 24 hours reported for one day",
			})
			continue
		}
		res.Days = append(res.Days, DayHours{Date: day, Hours: hours})
	}

	return res
}
