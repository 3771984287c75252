/*
Package sqlite provides a SQLite-backed implementation of the sleep storage interfaces.

PURPOSE:
  Implements every persistence interface (RecordStore, SettingsStore,
  RunStore) on one SQLite file through sqlx. Schema is versioned with
  golang-migrate using SQL files embedded in the binary.

INTERFACES IMPLEMENTED:
  sleep.RecordStore:   Day-keyed sleep records
  sleep.SettingsStore: The singleton settings row
  sleep.RunStore:      Sync run history

UPSERT SEMANTICS:
  sleep_records is keyed by date. Upsert runs in a transaction:
  - The stored row decides Inserted, Updated or Unchanged
  - Unchanged writes nothing, so re-syncing identical data leaves the
    row byte-for-byte equal (ingested_at included)
  - INSERT ... ON CONFLICT(date) DO UPDATE replaces the value

KEY TABLES:
  sleep_records: One row per calendar day
  settings:      Exactly one row (id = 1, enforced by CHECK)
  sync_runs:     Audit trail of sync invocations

FAILURES:
  Every driver error is wrapped as *sleep.StorageError naming the operation.
  Callers match it with errors.Is(err, sleep.ErrStorage).

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. ":memory:" databases are pinned to
  a single connection so every query sees the same database.

USAGE:
  store, err := sqlite.New("./data/sleep_debt.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  ledger := sleep.NewLedger(store)

SEE ALSO:
  - sleep/store.go: Interface definitions
  - sleep/store/memory.go: In-memory implementation for testing
  - migrations/: Versioned schema
*/
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/warp/sleep-debt/sleep"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// timeLayout is fixed-width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Store implements all storage interfaces using SQLite.
type Store struct {
	db       *sqlx.DB
	mu       sync.RWMutex
	defaults sleep.Settings

	// Now stamps ingested_at and updated_at. Defaults to time.Now.
	Now func() time.Time
}

// New creates a new SQLite store with the given database path and the
// built-in settings defaults. Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	return NewWithDefaults(dbPath, sleep.DefaultSettings())
}

// NewWithDefaults is New with the settings returned before any update.
func NewWithDefaults(dbPath string, defaults sleep.Settings) (*Store, error) {
	db, err := sqlx.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if err := Migrate(db.DB); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return Wrap(db, defaults), nil
}

// Wrap builds a Store over an already-migrated connection.
func Wrap(db *sqlx.DB, defaults sleep.Settings) *Store {
	return &Store{db: db, defaults: defaults, Now: time.Now}
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate applies every pending embedded migration.
// The migrate instance is not closed: that would close db as well.
func Migrate(db *sql.DB) error {
	src, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	driver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("migration setup: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// =============================================================================
// RECORD STORE (sleep.RecordStore interface)
// =============================================================================

type recordRow struct {
	Date       string `db:"date"`
	SleepHours string `db:"sleep_hours"`
	Source     string `db:"source"`
	IsExample  bool   `db:"is_example"`
	IngestedAt string `db:"ingested_at"`
}

func (r recordRow) toRecord() (sleep.SleepRecord, error) {
	date, err := sleep.ParseDay(r.Date)
	if err != nil {
		return sleep.SleepRecord{}, err
	}
	hours, err := decimal.NewFromString(r.SleepHours)
	if err != nil {
		return sleep.SleepRecord{}, fmt.Errorf("sleep_hours %q: %w", r.SleepHours, err)
	}
	ingestedAt, err := time.Parse(timeLayout, r.IngestedAt)
	if err != nil {
		return sleep.SleepRecord{}, fmt.Errorf("ingested_at %q: %w", r.IngestedAt, err)
	}
	return sleep.SleepRecord{
		Date:       date,
		SleepHours: hours,
		Source:     sleep.Source(r.Source),
		IsExample:  r.IsExample,
		IngestedAt: ingestedAt,
	}, nil
}

// Upsert writes the record for its date, replacing any existing value.
func (s *Store) Upsert(ctx context.Context, rec sleep.SleepRecord) (sleep.UpsertResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return "", &sleep.StorageError{Op: "upsert", Err: err}
	}
	defer tx.Rollback()

	row := recordRow{
		Date:       rec.Date.String(),
		SleepHours: rec.SleepHours.StringFixed(2),
		Source:     string(rec.Source),
		IsExample:  rec.Source.IsExample(),
		IngestedAt: s.Now().UTC().Format(timeLayout),
	}

	var existing recordRow
	found := true
	err = tx.GetContext(ctx, &existing, `SELECT date, sleep_hours, source, is_example, ingested_at FROM sleep_records WHERE date = ?`, row.Date)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		found = false
	case err != nil:
		return "", &sleep.StorageError{Op: "upsert", Err: err}
	}
	if found && existing.SleepHours == row.SleepHours && existing.Source == row.Source {
		return sleep.Unchanged, nil
	}

	query := `
		INSERT INTO sleep_records (date, sleep_hours, source, is_example, ingested_at)
		VALUES (:date, :sleep_hours, :source, :is_example, :ingested_at)
		ON CONFLICT(date) DO UPDATE SET
			sleep_hours = excluded.sleep_hours,
			source = excluded.source,
			is_example = excluded.is_example,
			ingested_at = excluded.ingested_at
	`
	if _, err := tx.NamedExecContext(ctx, query, row); err != nil {
		return "", &sleep.StorageError{Op: "upsert", Err: err}
	}
	if err := tx.Commit(); err != nil {
		return "", &sleep.StorageError{Op: "upsert", Err: err}
	}

	if found {
		return sleep.Updated, nil
	}
	return sleep.Inserted, nil
}

// QueryRange returns records with start <= date <= end, ascending.
func (s *Store) QueryRange(ctx context.Context, start, end sleep.Day) ([]sleep.SleepRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var rows []recordRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT date, sleep_hours, source, is_example, ingested_at
		FROM sleep_records
		WHERE date >= ? AND date <= ?
		ORDER BY date ASC
	`, start.String(), end.String())
	if err != nil {
		return nil, &sleep.StorageError{Op: "query range", Err: err}
	}

	records := make([]sleep.SleepRecord, 0, len(rows))
	for _, r := range rows {
		rec, err := r.toRecord()
		if err != nil {
			return nil, &sleep.StorageError{Op: "query range", Err: err}
		}
		records = append(records, rec)
	}
	return records, nil
}

// DeleteAll removes every sleep record and returns how many were removed.
func (s *Store) DeleteAll(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM sleep_records`)
	if err != nil {
		return 0, &sleep.StorageError{Op: "delete all", Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, &sleep.StorageError{Op: "delete all", Err: err}
	}
	return int(n), nil
}

// =============================================================================
// SETTINGS STORE (sleep.SettingsStore interface)
// =============================================================================

type settingsRow struct {
	TargetSleepHours string `db:"target_sleep_hours"`
	StatsWindowDays  int    `db:"stats_window_days"`
	UseDummyData     bool   `db:"use_dummy_data"`
	UpdatedAt        string `db:"updated_at"`
}

// Get returns the stored settings, or the defaults if none were saved.
func (s *Store) Get(ctx context.Context) (sleep.Settings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	settings, err := s.loadSettings(ctx, s.db)
	if err != nil {
		return sleep.Settings{}, &sleep.StorageError{Op: "get settings", Err: err}
	}
	return settings, nil
}

// Update applies a partial update to the singleton row.
func (s *Store) Update(ctx context.Context, update sleep.SettingsUpdate) (sleep.Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return sleep.Settings{}, &sleep.StorageError{Op: "update settings", Err: err}
	}
	defer tx.Rollback()

	current, err := s.loadSettings(ctx, tx)
	if err != nil {
		return sleep.Settings{}, &sleep.StorageError{Op: "update settings", Err: err}
	}

	next, err := update.Apply(current, s.Now())
	if err != nil {
		return current, err
	}

	_, err = tx.NamedExecContext(ctx, `
		INSERT INTO settings (id, target_sleep_hours, stats_window_days, use_dummy_data, updated_at)
		VALUES (1, :target_sleep_hours, :stats_window_days, :use_dummy_data, :updated_at)
		ON CONFLICT(id) DO UPDATE SET
			target_sleep_hours = excluded.target_sleep_hours,
			stats_window_days = excluded.stats_window_days,
			use_dummy_data = excluded.use_dummy_data,
			updated_at = excluded.updated_at
	`, settingsRow{
		TargetSleepHours: next.TargetSleepHours.String(),
		StatsWindowDays:  next.StatsWindowDays,
		UseDummyData:     next.UseDummyData,
		UpdatedAt:        next.UpdatedAt.Format(timeLayout),
	})
	if err != nil {
		return sleep.Settings{}, &sleep.StorageError{Op: "update settings", Err: err}
	}
	if err := tx.Commit(); err != nil {
		return sleep.Settings{}, &sleep.StorageError{Op: "update settings", Err: err}
	}
	return next, nil
}

func (s *Store) loadSettings(ctx context.Context, q sqlx.QueryerContext) (sleep.Settings, error) {
	var row settingsRow
	err := sqlx.GetContext(ctx, q, &row, `
		SELECT target_sleep_hours, stats_window_days, use_dummy_data, updated_at
		FROM settings WHERE id = 1
	`)
	if errors.Is(err, sql.ErrNoRows) {
		return s.defaults, nil
	}
	if err != nil {
		return sleep.Settings{}, err
	}

	target, err := decimal.NewFromString(row.TargetSleepHours)
	if err != nil {
		return sleep.Settings{}, fmt.Errorf("target_sleep_hours %q: %w", row.TargetSleepHours, err)
	}
	updatedAt, err := time.Parse(timeLayout, row.UpdatedAt)
	if err != nil {
		return sleep.Settings{}, fmt.Errorf("updated_at %q: %w", row.UpdatedAt, err)
	}
	return sleep.Settings{
		TargetSleepHours: target,
		StatsWindowDays:  row.StatsWindowDays,
		UseDummyData:     row.UseDummyData,
		UpdatedAt:        updatedAt,
	}, nil
}

// =============================================================================
// RUN STORE (sleep.RunStore interface)
// =============================================================================

type runRow struct {
	ID                    string `db:"id"`
	RangeStart            string `db:"range_start"`
	RangeEnd              string `db:"range_end"`
	Status                string `db:"status"`
	RecordsSynced         int    `db:"records_synced"`
	UsedDummyData         bool   `db:"used_dummy_data"`
	NormalizationFailures int    `db:"normalization_failures"`
	Message               string `db:"message"`
	StartedAt             string `db:"started_at"`
	CompletedAt           string `db:"completed_at"`
}

func (r runRow) toRun() (sleep.SyncRun, error) {
	var (
		run = sleep.SyncRun{
			ID:                    r.ID,
			Status:                sleep.SyncStatus(r.Status),
			RecordsSynced:         r.RecordsSynced,
			UsedDummyData:         r.UsedDummyData,
			NormalizationFailures: r.NormalizationFailures,
			Message:               r.Message,
		}
		err error
	)
	if run.RangeStart, err = sleep.ParseDay(r.RangeStart); err != nil {
		return run, err
	}
	if run.RangeEnd, err = sleep.ParseDay(r.RangeEnd); err != nil {
		return run, err
	}
	if run.StartedAt, err = time.Parse(timeLayout, r.StartedAt); err != nil {
		return run, err
	}
	if run.CompletedAt, err = time.Parse(timeLayout, r.CompletedAt); err != nil {
		return run, err
	}
	return run, nil
}

const runColumns = `id, range_start, range_end, status, records_synced, used_dummy_data,
	normalization_failures, message, started_at, completed_at`

// SaveSyncRun inserts or replaces a sync run by ID.
func (s *Store) SaveSyncRun(ctx context.Context, run sleep.SyncRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO sync_runs (`+runColumns+`)
		VALUES (:id, :range_start, :range_end, :status, :records_synced, :used_dummy_data,
			:normalization_failures, :message, :started_at, :completed_at)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			records_synced = excluded.records_synced,
			used_dummy_data = excluded.used_dummy_data,
			normalization_failures = excluded.normalization_failures,
			message = excluded.message,
			completed_at = excluded.completed_at
	`, runRow{
		ID:                    run.ID,
		RangeStart:            run.RangeStart.String(),
		RangeEnd:              run.RangeEnd.String(),
		Status:                string(run.Status),
		RecordsSynced:         run.RecordsSynced,
		UsedDummyData:         run.UsedDummyData,
		NormalizationFailures: run.NormalizationFailures,
		Message:               run.Message,
		StartedAt:             run.StartedAt.UTC().Format(timeLayout),
		CompletedAt:           run.CompletedAt.UTC().Format(timeLayout),
	})
	if err != nil {
		return &sleep.StorageError{Op: "save sync run", Err: err}
	}
	return nil
}

// ListSyncRuns returns the most recent runs first. limit <= 0 means all.
func (s *Store) ListSyncRuns(ctx context.Context, limit int) ([]sleep.SyncRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT ` + runColumns + ` FROM sync_runs ORDER BY started_at DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	var rows []runRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, &sleep.StorageError{Op: "list sync runs", Err: err}
	}

	runs := make([]sleep.SyncRun, 0, len(rows))
	for _, r := range rows {
		run, err := r.toRun()
		if err != nil {
			return nil, &sleep.StorageError{Op: "list sync runs", Err: err}
		}
		runs = append(runs, run)
	}
	return runs, nil
}

// LastSuccessfulSync returns the latest run that stored data, or nil.
func (s *Store) LastSuccessfulSync(ctx context.Context) (*sleep.SyncRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var row runRow
	err := s.db.GetContext(ctx, &row, `
		SELECT `+runColumns+` FROM sync_runs
		WHERE status IN (?, ?)
		ORDER BY completed_at DESC
		LIMIT 1
	`, string(sleep.SyncSucceeded), string(sleep.SyncFailedFallback))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, &sleep.StorageError{Op: "last successful sync", Err: err}
	}

	run, err := row.toRun()
	if err != nil {
		return nil, &sleep.StorageError{Op: "last successful sync", Err: err}
	}
	return &run, nil
}

// =============================================================================
// HELPERS
// =============================================================================

// Reset drops all records and run history. Settings survive.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, table := range []string{"sleep_records", "sync_runs"} {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return &sleep.StorageError{Op: "reset " + table, Err: err}
		}
	}
	return nil
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return &sleep.StorageError{Op: "ping", Err: err}
	}
	return nil
}
