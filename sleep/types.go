/*
Package sleep provides the core types of the sleep debt tracker.

PURPOSE:
  Domain types shared by every component: the per-day SleepRecord kept in
  the ledger, the single Settings record, sync run history, and the error
  taxonomy. Nothing here performs I/O; persistence lives behind the
  interfaces in store.go.

KEY CONCEPTS IN THIS FILE (types.go):
  - SleepRecord: Hours slept on one calendar day, tagged with its source
  - Source: Where a record came from (provider or dummy)
  - UpsertResult: Whether an upsert created, replaced or kept a row
  - SyncRun: Audit record of one sync invocation

DESIGN PRINCIPLES:
  1. One record per day: the Day is the identity, upserts replace in place
  2. Absence is meaningful: a missing day is "no data", never 0 hours
  3. Precision: hours use decimal.Decimal so 8 - 7.1 is exactly 0.9
  4. Example data is always flagged: IsExample mirrors Source == SourceDummy

SEE ALSO:
  - day.go: Calendar day and range arithmetic
  - ledger.go: Validating ledger over a RecordStore
  - settings.go: Settings defaults and validation
*/
package sleep

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SLEEP RECORD - One row of the ledger
// =============================================================================

// Source identifies where a record came from.
type Source string

const (
	SourceProvider Source = "provider"
	SourceDummy    Source = "dummy"
)

// Valid reports whether s is a known source.
func (s Source) Valid() bool {
	return s == SourceProvider || s == SourceDummy
}

// IsExample reports whether records from this source are synthetic.
func (s Source) IsExample() bool {
	return s == SourceDummy
}

// SleepRecord is the recorded sleep for one calendar day.
type SleepRecord struct {
	Date       Day
	SleepHours decimal.Decimal
	Source     Source
	IsExample  bool
	IngestedAt time.Time
}

// NewRecord builds a record with IsExample derived from source.
func NewRecord(date Day, hours decimal.Decimal, source Source) SleepRecord {
	return SleepRecord{
		Date:       date,
		SleepHours: hours,
		Source:     source,
		IsExample:  source.IsExample(),
	}
}

// UpsertResult reports what an upsert did to the ledger.
type UpsertResult string

const (
	Inserted  UpsertResult = "inserted"
	Updated   UpsertResult = "updated"
	Unchanged UpsertResult = "unchanged" // same hours and source already stored
)

// =============================================================================
// SYNC RUN - Audit trail of sync invocations
// =============================================================================

// SyncStatus is the terminal status of a sync run.
type SyncStatus string

const (
	SyncSucceeded      SyncStatus = "succeeded"
	SyncFailedFallback SyncStatus = "failed_fallback"
	SyncFailedClean    SyncStatus = "failed_clean"
)

// SyncRun records one sync invocation and its outcome.
type SyncRun struct {
	ID                    string
	RangeStart            Day
	RangeEnd              Day
	Status                SyncStatus
	RecordsSynced         int
	UsedDummyData         bool
	NormalizationFailures int
	Message               string
	StartedAt             time.Time
	CompletedAt           time.Time
}

// Succeeded reports whether the run stored data (provider or fallback).
func (r SyncRun) Succeeded() bool {
	return r.Status == SyncSucceeded || r.Status == SyncFailedFallback
}
