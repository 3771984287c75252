/*
calculator.go - Sleep debt over a trailing window

PURPOSE:
  Turns ledger records plus the current settings into the status view.
  Nothing here is stored: every status request recomputes from scratch,
  so a settings change is reflected immediately.

WINDOW:
  The window is the last StatsWindowDays calendar days ending at an anchor:

    record for today exists  -> anchor = today        (HasTodayData = true)
    otherwise                -> anchor = latest record before today

  Missing days inside the window are skipped, never zero-filled. Records
  after today are ignored.

DEBT:
  daily(d)      = target - hours(d)                    signed, never clamped
  cumulative(d) = max(0, cumulative(d-1) + daily(d))   cumulative(start-1) = 0

  A surplus day can pay debt down but never below zero, so surplus does
  not bank for later days.

EXAMPLE:
  target 8h, records [10h, 6h]:
    daily      [-2, +2]
    cumulative [ 0,  2]   CurrentDebt = 2h

SEE ALSO:
  - service.go: Reads the ledger and settings, then calls Compute
  - sleep/settings.go: Target and window size
*/
package debt

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/sleep-debt/sleep"
)

// Entry is one day of the debt series.
type Entry struct {
	Date           sleep.Day
	SleepHours     decimal.Decimal
	DailyDebt      decimal.Decimal
	CumulativeDebt decimal.Decimal
	IsExample      bool
}

// Status is the derived debt view. It is never persisted.
type Status struct {
	Entries []Entry // ascending by date

	CurrentDebt        decimal.Decimal
	TotalSleepHours    decimal.Decimal
	AverageSleepHours  decimal.Decimal
	TargetSleepHours   decimal.Decimal
	WindowDays         int
	DaysTracked        int
	HasTodayData       bool
	InsufficientWindow bool
	ExampleDays        int

	// Window is the span the series was drawn from. Zero when there are
	// no records.
	Window sleep.Range

	// LastSync is filled in by Service, never by Compute.
	LastSync *time.Time
}

// Compute derives the debt status. records may be in any order and may
// reach outside the window; settings are used as given.
func Compute(records []sleep.SleepRecord, settings sleep.Settings, today sleep.Day) Status {
	st := Status{
		CurrentDebt:       decimal.Zero,
		TotalSleepHours:   decimal.Zero,
		AverageSleepHours: decimal.Zero,
		TargetSleepHours:  settings.TargetSleepHours,
		WindowDays:        settings.StatsWindowDays,
		Entries:           []Entry{},
	}

	past := make([]sleep.SleepRecord, 0, len(records))
	for _, r := range records {
		if r.Date.BeforeOrEqual(today) {
			past = append(past, r)
		}
	}
	sort.Slice(past, func(i, j int) bool { return past[i].Date.Before(past[j].Date) })

	if len(past) == 0 || settings.StatsWindowDays < 1 {
		st.InsufficientWindow = settings.StatsWindowDays > 0
		return st
	}

	anchor := past[len(past)-1].Date
	st.HasTodayData = anchor.Equal(today)
	st.Window = sleep.LastNDays(anchor, settings.StatsWindowDays)

	cumulative := decimal.Zero
	for _, r := range past {
		if !st.Window.Contains(r.Date) {
			continue
		}
		daily := settings.TargetSleepHours.Sub(r.SleepHours)
		cumulative = decimal.Max(decimal.Zero, cumulative.Add(daily))

		st.Entries = append(st.Entries, Entry{
			Date:           r.Date,
			SleepHours:     r.SleepHours,
			DailyDebt:      daily,
			CumulativeDebt: cumulative,
			IsExample:      r.IsExample,
		})
		st.TotalSleepHours = st.TotalSleepHours.Add(r.SleepHours)
		if r.IsExample {
			st.ExampleDays++
		}
	}

	st.DaysTracked = len(st.Entries)
	st.CurrentDebt = cumulative
	st.InsufficientWindow = st.DaysTracked < settings.StatsWindowDays
	if st.DaysTracked > 0 {
		st.AverageSleepHours = st.TotalSleepHours.Div(decimal.NewFromInt(int64(st.DaysTracked))).Round(2)
	}
	return st
}
