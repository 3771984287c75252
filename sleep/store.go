/*
store.go - Persistence interfaces for records, settings and sync runs

PURPOSE:
  Defines the boundary between the pipeline and the storage engine.
  Implementations can use SQLite or in-memory maps; callers never see
  driver types.

KEY INTERFACES:
  RecordStore:   Day-keyed sleep records (upsert, range query, wipe)
  SettingsStore: The singleton settings row
  RunStore:      Append/list sync run history

UPSERT CONTRACT:
  Upsert is keyed by date and idempotent. Writing the same (date, hours,
  source) twice leaves the row unchanged, IngestedAt included. Writing new
  hours or a new source replaces them (last write wins).

FAILURES:
  Implementations return *StorageError for driver faults. Callers must not
  swallow or re-wrap them.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: Production SQLite
  - sleep/store/memory.go: In-memory for tests and previews

SEE ALSO:
  - ledger.go: Validating wrapper around RecordStore
*/
package sleep

import "context"

// =============================================================================
// RECORD STORE
// =============================================================================

// RecordStore persists sleep records keyed by date.
type RecordStore interface {
	// Upsert writes the record for its date, replacing any existing row.
	Upsert(ctx context.Context, rec SleepRecord) (UpsertResult, error)

	// QueryRange returns records with Date in [start, end], ascending.
	// Days without a record are absent, not zero-filled.
	QueryRange(ctx context.Context, start, end Day) ([]SleepRecord, error)

	// DeleteAll removes every record and returns how many were removed.
	DeleteAll(ctx context.Context) (int, error)
}

// =============================================================================
// SETTINGS STORE
// =============================================================================

// SettingsStore persists the single settings record.
type SettingsStore interface {
	// Get returns the stored settings, or the store's defaults if none were saved.
	Get(ctx context.Context) (Settings, error)

	// Update applies a validated partial update atomically and returns the result.
	Update(ctx context.Context, update SettingsUpdate) (Settings, error)
}

// =============================================================================
// RUN STORE
// =============================================================================

// RunStore persists sync run history.
type RunStore interface {
	SaveSyncRun(ctx context.Context, run SyncRun) error

	// ListSyncRuns returns the most recent runs first.
	ListSyncRuns(ctx context.Context, limit int) ([]SyncRun, error)

	// LastSuccessfulSync returns the latest run that stored data, or nil.
	LastSuccessfulSync(ctx context.Context) (*SyncRun, error)
}
