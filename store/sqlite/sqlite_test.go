package sqlite_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/sleep-debt/sleep"
	"github.com/warp/sleep-debt/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	clock := time.Date(2026, time.March, 10, 7, 0, 0, 0, time.UTC)
	store.Now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	return store
}

func rec(date string, hours string, source sleep.Source) sleep.SleepRecord {
	return sleep.NewRecord(sleep.MustParseDay(date), decimal.RequireFromString(hours), source)
}

// =============================================================================
// RECORDS
// =============================================================================

func TestStore_Upsert_InsertUpdateAndRead(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	res, err := store.Upsert(ctx, rec("2026-03-09", "7.5", sleep.SourceProvider))
	require.NoError(t, err)
	assert.Equal(t, sleep.Inserted, res)

	res, err = store.Upsert(ctx, rec("2026-03-09", "6.25", sleep.SourceDummy))
	require.NoError(t, err)
	assert.Equal(t, sleep.Updated, res)

	day := sleep.MustParseDay("2026-03-09")
	recs, err := store.QueryRange(ctx, day, day)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "6.25", recs[0].SleepHours.String())
	assert.Equal(t, sleep.SourceDummy, recs[0].Source)
	assert.True(t, recs[0].IsExample)
}

func TestStore_Upsert_UnchangedValueKeepsIngestedAt(t *testing.T) {
	// GIVEN: a stored record
	// WHEN: the same (date, hours, source) is written again
	// THEN: the row is identical, including ingested_at

	store := newTestStore(t)
	ctx := context.Background()
	day := sleep.MustParseDay("2026-03-09")

	_, err := store.Upsert(ctx, rec("2026-03-09", "7", sleep.SourceProvider))
	require.NoError(t, err)
	first, err := store.QueryRange(ctx, day, day)
	require.NoError(t, err)

	res, err := store.Upsert(ctx, rec("2026-03-09", "7.00", sleep.SourceProvider))
	require.NoError(t, err)
	assert.Equal(t, sleep.Unchanged, res)
	second, err := store.QueryRange(ctx, day, day)
	require.NoError(t, err)

	require.Len(t, second, 1)
	assert.Equal(t, first[0].IngestedAt, second[0].IngestedAt)
	assert.True(t, first[0].SleepHours.Equal(second[0].SleepHours))

	// A changed value does move it
	res, err = store.Upsert(ctx, rec("2026-03-09", "7.1", sleep.SourceProvider))
	require.NoError(t, err)
	assert.Equal(t, sleep.Updated, res)
	third, err := store.QueryRange(ctx, day, day)
	require.NoError(t, err)
	assert.True(t, third[0].IngestedAt.After(first[0].IngestedAt))
}

func TestStore_QueryRange_OrderedAndBounded(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, d := range []string{"2026-03-04", "2026-02-28", "2026-03-01", "2026-03-10"} {
		_, err := store.Upsert(ctx, rec(d, "8", sleep.SourceProvider))
		require.NoError(t, err)
	}

	recs, err := store.QueryRange(ctx, sleep.MustParseDay("2026-02-28"), sleep.MustParseDay("2026-03-04"))
	require.NoError(t, err)

	var dates []string
	for _, r := range recs {
		dates = append(dates, r.Date.String())
	}
	assert.Equal(t, []string{"2026-02-28", "2026-03-01", "2026-03-04"}, dates)
}

func TestStore_DeleteAll(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, d := range []string{"2026-03-01", "2026-03-02", "2026-03-03"} {
		_, err := store.Upsert(ctx, rec(d, "8", sleep.SourceDummy))
		require.NoError(t, err)
	}

	n, err := store.DeleteAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = store.DeleteAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

// =============================================================================
// SETTINGS
// =============================================================================

func TestStore_Settings_DefaultsThenPersisted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sleep.db")
	ctx := context.Background()

	store, err := sqlite.New(path)
	require.NoError(t, err)

	s, err := store.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, sleep.DefaultSettings(), s)

	target := decimal.RequireFromString("7.5")
	window := 14
	updated, err := store.Update(ctx, sleep.SettingsUpdate{TargetSleepHours: &target, StatsWindowDays: &window})
	require.NoError(t, err)
	assert.False(t, updated.UpdatedAt.IsZero())
	require.NoError(t, store.Close())

	// Reopen: migrations are a no-op and the row survives
	store, err = sqlite.New(path)
	require.NoError(t, err)
	defer store.Close()

	s, err = store.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "7.5", s.TargetSleepHours.String())
	assert.Equal(t, 14, s.StatsWindowDays)
	assert.False(t, s.UseDummyData)
	assert.True(t, s.UpdatedAt.Equal(updated.UpdatedAt))
}

func TestStore_Settings_ConfiguredDefaults(t *testing.T) {
	defaults := sleep.DefaultSettings()
	defaults.TargetSleepHours = decimal.NewFromInt(9)
	defaults.StatsWindowDays = 30

	store, err := sqlite.NewWithDefaults(":memory:", defaults)
	require.NoError(t, err)
	defer store.Close()

	s, err := store.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "9", s.TargetSleepHours.String())
	assert.Equal(t, 30, s.StatsWindowDays)
}

func TestStore_Settings_InvalidUpdateNotPersisted(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	window := 8
	_, err := store.Update(ctx, sleep.SettingsUpdate{StatsWindowDays: &window})
	require.ErrorIs(t, err, sleep.ErrValidation)
	assert.False(t, errors.Is(err, sleep.ErrStorage))

	s, err := store.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, 7, s.StatsWindowDays)
}

// =============================================================================
// SYNC RUNS
// =============================================================================

func TestStore_SyncRuns(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, time.March, 10, 8, 0, 0, 0, time.UTC)

	runs := []sleep.SyncRun{
		{ID: "run-1", Status: sleep.SyncSucceeded, RecordsSynced: 30, StartedAt: base, CompletedAt: base.Add(time.Second)},
		{ID: "run-2", Status: sleep.SyncFailedFallback, RecordsSynced: 5, UsedDummyData: true, StartedAt: base.Add(time.Hour), CompletedAt: base.Add(time.Hour + time.Second)},
		{ID: "run-3", Status: sleep.SyncFailedClean, Message: "auth failed", StartedAt: base.Add(2 * time.Hour), CompletedAt: base.Add(2*time.Hour + time.Second)},
	}
	for _, r := range runs {
		r.RangeStart = sleep.MustParseDay("2026-03-06")
		r.RangeEnd = sleep.MustParseDay("2026-03-10")
		require.NoError(t, store.SaveSyncRun(ctx, r))
	}

	listed, err := store.ListSyncRuns(ctx, 2)
	require.NoError(t, err)
	require.Len(t, listed, 2)
	assert.Equal(t, "run-3", listed[0].ID)
	assert.Equal(t, "run-2", listed[1].ID)
	assert.Equal(t, "2026-03-06", listed[1].RangeStart.String())
	assert.True(t, listed[1].UsedDummyData)

	last, err := store.LastSuccessfulSync(ctx)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, "run-2", last.ID)
}

func TestStore_LastSuccessfulSync_None(t *testing.T) {
	store := newTestStore(t)

	last, err := store.LastSuccessfulSync(context.Background())
	require.NoError(t, err)
	assert.Nil(t, last)
}

// =============================================================================
// STORAGE FAULTS
// =============================================================================

func TestStore_DriverFaultsAreStorageErrors(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer mockDB.Close()

	store := sqlite.Wrap(sqlx.NewDb(mockDB, "sqlite3"), sleep.DefaultSettings())
	ctx := context.Background()
	diskErr := errors.New("disk I/O error")

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT COUNT").WillReturnError(diskErr)
	mock.ExpectRollback()

	_, err = store.Upsert(ctx, rec("2026-03-09", "7", sleep.SourceProvider))
	require.Error(t, err)
	assert.ErrorIs(t, err, sleep.ErrStorage)
	assert.ErrorIs(t, err, diskErr)

	mock.ExpectQuery("SELECT (.+) FROM sleep_records").WillReturnError(diskErr)
	_, err = store.QueryRange(ctx, sleep.MustParseDay("2026-03-01"), sleep.MustParseDay("2026-03-09"))
	assert.ErrorIs(t, err, sleep.ErrStorage)

	mock.ExpectExec("DELETE FROM sleep_records").WillReturnError(diskErr)
	_, err = store.DeleteAll(ctx)
	assert.ErrorIs(t, err, sleep.ErrStorage)

	mock.ExpectQuery("SELECT (.+) FROM settings").WillReturnError(diskErr)
	_, err = store.Get(ctx)
	assert.ErrorIs(t, err, sleep.ErrStorage)

	assert.NoError(t, mock.ExpectationsWereMet())
}
