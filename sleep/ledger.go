/*
ledger.go - Day-keyed sleep record ledger

PURPOSE:
  The Ledger is the durable source of truth for recorded sleep. Debt is
  never stored: it is recomputed from the ledger and the current settings
  on every read.

CRITICAL INVARIANTS:
  1. ONE ROW PER DAY: the calendar date is the identity
  2. IDEMPOTENT: same (date, hours, source) = same row, no duplicates
  3. LAST WRITE WINS: a new value for a date replaces the old one
  4. ABSENCE IS DATA: a missing day is not a zero-hour day

VALIDATION:
  RecordLedger rejects bad input with *ValidationError before it reaches
  the store:
  - zero date
  - negative hours or more than 24 hours
  - unknown source

FAILURES:
  Store faults come back as *StorageError and are returned unchanged.

SEE ALSO:
  - store.go: Low-level persistence interface
  - ingest/orchestrator.go: The only writer besides DeleteAll
*/
package sleep

import (
	"context"

	"github.com/shopspring/decimal"
)

// =============================================================================
// LEDGER - Day-keyed record store with validation
// =============================================================================

// Ledger is the per-day sleep record store.
type Ledger interface {
	// Upsert writes hours for date. Returns Inserted, Updated or Unchanged.
	Upsert(ctx context.Context, date Day, hours decimal.Decimal, source Source) (UpsertResult, error)

	// QueryRange returns records in [start, end], ascending by date.
	QueryRange(ctx context.Context, start, end Day) ([]SleepRecord, error)

	// DeleteAll wipes every record. Irreversible.
	DeleteAll(ctx context.Context) (int, error)
}

// =============================================================================
// RECORD LEDGER - Implementation using RecordStore
// =============================================================================

type RecordLedger struct {
	Store RecordStore
}

func NewLedger(store RecordStore) *RecordLedger {
	return &RecordLedger{Store: store}
}

// Upsert validates the record and writes it. Hours are rounded to the minute
// resolution the provider reports at (two decimal places of an hour).
func (l *RecordLedger) Upsert(ctx context.Context, date Day, hours decimal.Decimal, source Source) (UpsertResult, error) {
	if date.IsZero() {
		return "", &ValidationError{Field: "date", Reason: "required"}
	}
	if hours.IsNegative() || hours.GreaterThan(maxTargetHours) {
		return "", &ValidationError{Field: "sleep_hours", Value: hours.String(), Reason: "must be between 0 and 24"}
	}
	if !source.Valid() {
		return "", &ValidationError{Field: "source", Value: string(source), Reason: "unknown source"}
	}
	return l.Store.Upsert(ctx, NewRecord(date, hours.Round(2), source))
}

func (l *RecordLedger) QueryRange(ctx context.Context, start, end Day) ([]SleepRecord, error) {
	if err := (Range{Start: start, End: end}).Validate(); err != nil {
		return nil, err
	}
	return l.Store.QueryRange(ctx, start, end)
}

func (l *RecordLedger) DeleteAll(ctx context.Context) (int, error) {
	return l.Store.DeleteAll(ctx)
}
