package sleep_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/sleep-debt/sleep"
	"github.com/warp/sleep-debt/sleep/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestLedger(t *testing.T) (*sleep.RecordLedger, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	clock := time.Date(2026, time.March, 10, 7, 0, 0, 0, time.UTC)
	mem.Now = func() time.Time {
		clock = clock.Add(time.Minute)
		return clock
	}
	return sleep.NewLedger(mem), mem
}

func hours(v float64) decimal.Decimal {
	return decimal.NewFromFloat(v)
}

// =============================================================================
// UPSERT SEMANTICS
// =============================================================================

func TestLedger_Upsert_InsertThenUpdate(t *testing.T) {
	ledger, _ := newTestLedger(t)
	ctx := context.Background()
	day := sleep.NewDay(2026, time.March, 9)

	res, err := ledger.Upsert(ctx, day, hours(7), sleep.SourceProvider)
	require.NoError(t, err)
	assert.Equal(t, sleep.Inserted, res)

	res, err = ledger.Upsert(ctx, day, hours(6.5), sleep.SourceProvider)
	require.NoError(t, err)
	assert.Equal(t, sleep.Updated, res)
}

func TestLedger_Upsert_Convergence(t *testing.T) {
	// GIVEN: upsert(d, h1) then upsert(d, h2)
	// THEN: exactly one record for d with h2

	ledger, _ := newTestLedger(t)
	ctx := context.Background()
	day := sleep.NewDay(2026, time.March, 9)

	_, err := ledger.Upsert(ctx, day, hours(7.25), sleep.SourceProvider)
	require.NoError(t, err)
	_, err = ledger.Upsert(ctx, day, hours(5.5), sleep.SourceDummy)
	require.NoError(t, err)

	recs, err := ledger.QueryRange(ctx, day, day)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.True(t, recs[0].SleepHours.Equal(hours(5.5)))
	assert.Equal(t, sleep.SourceDummy, recs[0].Source)
	assert.True(t, recs[0].IsExample, "dummy source is always an example")
}

func TestLedger_Upsert_IdenticalValuesLeaveRowUntouched(t *testing.T) {
	ledger, _ := newTestLedger(t)
	ctx := context.Background()
	day := sleep.NewDay(2026, time.March, 9)

	_, err := ledger.Upsert(ctx, day, hours(7), sleep.SourceProvider)
	require.NoError(t, err)
	before, err := ledger.QueryRange(ctx, day, day)
	require.NoError(t, err)

	res, err := ledger.Upsert(ctx, day, hours(7), sleep.SourceProvider)
	require.NoError(t, err)
	assert.Equal(t, sleep.Unchanged, res)
	after, err := ledger.QueryRange(ctx, day, day)
	require.NoError(t, err)

	assert.Equal(t, before, after, "re-upserting identical values must not move IngestedAt")

	// Same hours from another source is a change
	res, err = ledger.Upsert(ctx, day, hours(7), sleep.SourceDummy)
	require.NoError(t, err)
	assert.Equal(t, sleep.Updated, res)
}

func TestLedger_Upsert_RoundsToHundredths(t *testing.T) {
	ledger, _ := newTestLedger(t)
	ctx := context.Background()
	day := sleep.NewDay(2026, time.March, 9)

	_, err := ledger.Upsert(ctx, day, decimal.RequireFromString("7.33333"), sleep.SourceProvider)
	require.NoError(t, err)

	recs, err := ledger.QueryRange(ctx, day, day)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "7.33", recs[0].SleepHours.String())
}

func TestLedger_Upsert_Validation(t *testing.T) {
	ledger, _ := newTestLedger(t)
	ctx := context.Background()
	day := sleep.NewDay(2026, time.March, 9)

	tests := []struct {
		name   string
		date   sleep.Day
		hours  decimal.Decimal
		source sleep.Source
		field  string
	}{
		{"zero date", sleep.Day{}, hours(7), sleep.SourceProvider, "date"},
		{"negative hours", day, hours(-1), sleep.SourceProvider, "sleep_hours"},
		{"more than a day", day, hours(24.5), sleep.SourceProvider, "sleep_hours"},
		{"unknown source", day, hours(7), sleep.Source("fitbit"), "source"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ledger.Upsert(ctx, tt.date, tt.hours, tt.source)
			require.Error(t, err)
			assert.True(t, errors.Is(err, sleep.ErrValidation))

			var vErr *sleep.ValidationError
			require.ErrorAs(t, err, &vErr)
			assert.Equal(t, tt.field, vErr.Field)
		})
	}
}

func TestLedger_Upsert_ZeroHoursIsARecord(t *testing.T) {
	ledger, _ := newTestLedger(t)
	ctx := context.Background()
	day := sleep.NewDay(2026, time.March, 9)

	_, err := ledger.Upsert(ctx, day, decimal.Zero, sleep.SourceProvider)
	require.NoError(t, err)

	recs, err := ledger.QueryRange(ctx, day, day)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.True(t, recs[0].SleepHours.IsZero())
}

// =============================================================================
// RANGE QUERY & WIPE
// =============================================================================

func TestLedger_QueryRange_AscendingWithoutZeroFill(t *testing.T) {
	ledger, _ := newTestLedger(t)
	ctx := context.Background()

	for _, d := range []string{"2026-03-05", "2026-03-01", "2026-03-03", "2026-03-09"} {
		_, err := ledger.Upsert(ctx, sleep.MustParseDay(d), hours(7), sleep.SourceProvider)
		require.NoError(t, err)
	}

	recs, err := ledger.QueryRange(ctx, sleep.MustParseDay("2026-03-01"), sleep.MustParseDay("2026-03-05"))
	require.NoError(t, err)

	var got []string
	for _, r := range recs {
		got = append(got, r.Date.String())
	}
	assert.Equal(t, []string{"2026-03-01", "2026-03-03", "2026-03-05"}, got)
}

func TestLedger_QueryRange_InvertedRangeRejected(t *testing.T) {
	ledger, _ := newTestLedger(t)

	_, err := ledger.QueryRange(context.Background(), sleep.MustParseDay("2026-03-05"), sleep.MustParseDay("2026-03-01"))
	assert.ErrorIs(t, err, sleep.ErrValidation)
}

func TestLedger_DeleteAll_ReturnsCount(t *testing.T) {
	ledger, _ := newTestLedger(t)
	ctx := context.Background()
	start := sleep.NewDay(2026, time.March, 1)

	for i := 0; i < 4; i++ {
		_, err := ledger.Upsert(ctx, start.AddDays(i), hours(7), sleep.SourceProvider)
		require.NoError(t, err)
	}

	n, err := ledger.DeleteAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	recs, err := ledger.QueryRange(ctx, start, start.AddDays(10))
	require.NoError(t, err)
	assert.Empty(t, recs)
}
