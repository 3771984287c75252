/*
Package ingest runs provider syncs into the sleep ledger.

PURPOSE:
  The Orchestrator is the only writer of sleep records besides the
  wipe-all operation. One Sync call walks a fixed state machine:

    Idle -> Authenticating -> Fetching -> Normalizing -> Upserting -> Succeeded
                 |               |             |
                 +---------------+-------------+--> FailedFallback (dummy data stored)
                                                +-> FailedClean    (ledger untouched)

RANGE:
  Days = N covers the N calendar days ending today: [today-(N-1), today].
  N must be in [1, MaxSyncDays].

FAILURE POLICY:
  Rate limiting and unavailability are retried with bounded exponential
  backoff; Retry-After is honored up to Backoff.MaxRetryAfter. Exhausted
  retries become ErrProviderUnavailable.

  A whole-step failure (auth, unavailable, no payload normalized):
    - Settings.UseDummyData -> generate the full range as example records,
      never overwriting a day that already holds provider data
    - otherwise            -> failed result, ledger untouched

  Single unreadable days are skipped and counted, the rest continues.
  Storage faults abort the sync and are returned unchanged.

IDEMPOTENCE:
  Upsert replaces in place and leaves identical rows untouched, so running
  the same sync twice yields the same ledger.

CONCURRENCY:
  Sync calls are serialized by a mutex. Cancellation is checked between
  days; days already written stay valid.

SEE ALSO:
  - provider/: Client, Authenticator, NormalizeBatch
  - dummy/generator.go: Fallback records
  - sleep/ledger.go: Upsert semantics
*/
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/warp/sleep-debt/dummy"
	"github.com/warp/sleep-debt/metrics"
	"github.com/warp/sleep-debt/provider"
	"github.com/warp/sleep-debt/sleep"
)

const (
	// DefaultSyncDays is used when a request does not name a range.
	DefaultSyncDays = 30
	// MaxSyncDays bounds a single sync request.
	MaxSyncDays = 365
)

// =============================================================================
// STATE MACHINE
// =============================================================================

// State is a step of the sync state machine.
type State string

const (
	StateIdle           State = "idle"
	StateAuthenticating State = "authenticating"
	StateFetching       State = "fetching"
	StateNormalizing    State = "normalizing"
	StateUpserting      State = "upserting"
	StateSucceeded      State = "succeeded"
	StateFailedFallback State = "failed_fallback"
	StateFailedClean    State = "failed_clean"
)

func (s State) runStatus() sleep.SyncStatus {
	switch s {
	case StateSucceeded:
		return sleep.SyncSucceeded
	case StateFailedFallback:
		return sleep.SyncFailedFallback
	default:
		return sleep.SyncFailedClean
	}
}

// =============================================================================
// BACKOFF
// =============================================================================

// Backoff bounds retries of rate-limited or unavailable provider calls.
type Backoff struct {
	Base          time.Duration
	Max           time.Duration
	MaxAttempts   int           // total attempts, including the first
	MaxRetryAfter time.Duration // longer Retry-After answers give up instead
}

func DefaultBackoff() Backoff {
	return Backoff{
		Base:          time.Second,
		Max:           30 * time.Second,
		MaxAttempts:   4,
		MaxRetryAfter: time.Minute,
	}
}

// Delay returns the wait before retry number attempt (1-based):
// Base * 2^(attempt-1), capped at Max, plus up to 10% jitter.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := b.Base << uint(attempt-1)
	if d <= 0 || d > b.Max {
		d = b.Max
	}
	jitter := time.Duration(rand.Float64() * 0.1 * float64(d))
	return d + jitter
}

// =============================================================================
// DEPENDENCIES
// =============================================================================

// SessionSource hands out provider sessions.
type SessionSource interface {
	Session(ctx context.Context) (provider.Session, error)
	Reauthenticate(ctx context.Context, stale provider.Session) (provider.Session, error)
}

// SleepFetcher fetches raw per-day payloads for a range.
type SleepFetcher interface {
	FetchSleep(ctx context.Context, accessToken string, r sleep.Range) ([]json.RawMessage, error)
}

// Options wires an Orchestrator. Runs may be nil.
type Options struct {
	Sessions SessionSource
	Fetcher  SleepFetcher
	Ledger   sleep.Ledger
	Runs     sleep.RunStore
	Backoff  Backoff
	Logger   zerolog.Logger
}

// =============================================================================
// REQUEST / RESULT
// =============================================================================

// SyncRequest is one sync invocation. Settings are read by the caller and
// passed explicitly; the orchestrator never looks them up.
type SyncRequest struct {
	Days     int
	Settings sleep.Settings
	Today    sleep.Day
}

// SyncResult reports what a sync did.
type SyncResult struct {
	RunID                 string
	Range                 sleep.Range
	State                 State
	Success               bool
	UsedDummyData         bool
	RecordsSynced         int
	Inserted              int
	Updated               int
	Unchanged             int
	Preserved             int // provider days a fallback left alone
	DaysWithoutData       int
	NormalizationFailures int
	Message               string
	StartedAt             time.Time
	CompletedAt           time.Time
}

// =============================================================================
// ORCHESTRATOR
// =============================================================================

type Orchestrator struct {
	mu       sync.Mutex
	sessions SessionSource
	fetcher  SleepFetcher
	ledger   sleep.Ledger
	runs     sleep.RunStore
	backoff  Backoff
	logger   zerolog.Logger

	// Now stamps run start and end. Defaults to time.Now.
	Now func() time.Time
}

func NewOrchestrator(opts Options) *Orchestrator {
	if opts.Backoff.MaxAttempts <= 0 {
		opts.Backoff = DefaultBackoff()
	}
	return &Orchestrator{
		sessions: opts.Sessions,
		fetcher:  opts.Fetcher,
		ledger:   opts.Ledger,
		runs:     opts.Runs,
		backoff:  opts.Backoff,
		logger:   opts.Logger.With().Str("component", "sync").Logger(),
		Now:      time.Now,
	}
}

// Sync runs one sync. The returned error is non-nil only for invalid
// requests, storage faults and cancellation; provider failures are
// reported in the result.
func (o *Orchestrator) Sync(ctx context.Context, req SyncRequest) (SyncResult, error) {
	if req.Days < 1 || req.Days > MaxSyncDays {
		return SyncResult{}, &sleep.ValidationError{
			Field:  "days",
			Value:  req.Days,
			Reason: fmt.Sprintf("must be between 1 and %d", MaxSyncDays),
		}
	}
	if req.Today.IsZero() {
		return SyncResult{}, &sleep.ValidationError{Field: "today", Reason: "required"}
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	res := SyncResult{
		RunID:     uuid.NewString(),
		Range:     sleep.LastNDays(req.Today, req.Days),
		State:     StateIdle,
		StartedAt: o.Now().UTC(),
	}
	log := o.logger.With().Str("run_id", res.RunID).Str("range", res.Range.String()).Logger()
	log.Info().Int("days", req.Days).Bool("dummy_fallback", req.Settings.UseDummyData).Msg("sync started")

	days, err := o.providerStep(ctx, &res, log)
	switch {
	case err == nil:
		err = o.upsertProvider(ctx, &res, days, log)
	case ctx.Err() != nil:
		res.State = StateFailedClean
		res.Message = "sync cancelled"
		err = ctx.Err()
	case sleep.IsFallbackEligible(err) && req.Settings.UseDummyData:
		log.Warn().Err(err).Msg("provider step failed, storing example data")
		err = o.fallback(ctx, &res, req.Settings, err, log)
	default:
		log.Warn().Err(err).Msg("provider step failed")
		res.State = StateFailedClean
		res.Message = failureMessage(err)
		err = nil
	}

	res.CompletedAt = o.Now().UTC()
	if err != nil && errors.Is(err, sleep.ErrStorage) {
		res.State = StateFailedClean
		res.Success = false
		res.Message = err.Error()
	}
	if saveErr := o.saveRun(ctx, res); saveErr != nil && err == nil {
		err = saveErr
	}

	metrics.RecordSync(string(res.State), res.CompletedAt.Sub(res.StartedAt))
	log.Info().
		Str("state", string(res.State)).
		Bool("success", res.Success).
		Bool("used_dummy_data", res.UsedDummyData).
		Int("records_synced", res.RecordsSynced).
		Int("normalization_failures", res.NormalizationFailures).
		Msg("sync finished")

	return res, err
}

// providerStep authenticates, fetches and normalizes. A returned error is
// a whole-step failure.
func (o *Orchestrator) providerStep(ctx context.Context, res *SyncResult, log zerolog.Logger) ([]provider.DayHours, error) {
	o.transition(res, StateAuthenticating, log)
	// A refresh or login that hits a transport fault is retried like a
	// fetch. The stale session survives those faults, so every attempt is
	// the same re-authentication; the first auth rejection ends it.
	var session provider.Session
	err := o.withRetry(ctx, "authenticate", log, func() error {
		var err error
		session, err = o.sessions.Session(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}

	o.transition(res, StateFetching, log)
	payloads, err := o.fetch(ctx, session, res.Range, log)
	if errors.Is(err, sleep.ErrAuthExpired) {
		// Token rejected although locally valid: one re-auth, one refetch.
		log.Info().Msg("provider rejected session, re-authenticating")
		err = o.withRetry(ctx, "re-authenticate", log, func() error {
			var err error
			session, err = o.sessions.Reauthenticate(ctx, session)
			return err
		})
		if err != nil {
			return nil, err
		}
		payloads, err = o.fetch(ctx, session, res.Range, log)
	}
	if err != nil {
		return nil, err
	}

	o.transition(res, StateNormalizing, log)
	batch := provider.NormalizeBatch(payloads, res.Range)
	res.NormalizationFailures = len(batch.Failures)
	for _, f := range batch.Failures {
		metrics.RecordNormalizationFailure(string(f.Shape))
		log.Warn().Err(f).Msg("skipping unreadable day")
	}
	if batch.NoneNormalized() {
		return nil, fmt.Errorf("%w: none of %d payloads could be normalized", sleep.ErrNormalization, len(payloads))
	}
	return batch.Days, nil
}

func (o *Orchestrator) fetch(ctx context.Context, session provider.Session, r sleep.Range, log zerolog.Logger) ([]json.RawMessage, error) {
	var payloads []json.RawMessage
	err := o.withRetry(ctx, "fetch", log, func() error {
		var err error
		payloads, err = o.fetcher.FetchSleep(ctx, session.AccessToken, r)
		return err
	})
	return payloads, err
}

func (o *Orchestrator) upsertProvider(ctx context.Context, res *SyncResult, days []provider.DayHours, log zerolog.Logger) error {
	o.transition(res, StateUpserting, log)
	for _, d := range days {
		if err := ctx.Err(); err != nil {
			res.State = StateFailedClean
			res.Message = fmt.Sprintf("sync cancelled after %d of %d days", res.RecordsSynced, len(days))
			return err
		}
		if err := o.upsert(ctx, res, d.Date, d.Hours, sleep.SourceProvider); err != nil {
			return err
		}
	}

	res.DaysWithoutData = res.Range.Len() - len(days)
	res.State = StateSucceeded
	res.Success = true
	res.Message = fmt.Sprintf("synced %d days", res.RecordsSynced)
	if res.NormalizationFailures > 0 {
		res.Message += fmt.Sprintf(", skipped %d unreadable", res.NormalizationFailures)
	}
	return nil
}

func (o *Orchestrator) fallback(ctx context.Context, res *SyncResult, settings sleep.Settings, cause error, log zerolog.Logger) error {
	o.transition(res, StateUpserting, log)

	existing, err := o.ledger.QueryRange(ctx, res.Range.Start, res.Range.End)
	if err != nil {
		return err
	}
	measured := make(map[sleep.Day]bool, len(existing))
	for _, r := range existing {
		if r.Source == sleep.SourceProvider {
			measured[r.Date] = true
		}
	}

	for _, rec := range dummy.Generate(res.Range.Start, res.Range.End, settings.TargetSleepHours) {
		if measured[rec.Date] {
			res.Preserved++
			continue
		}
		if err := ctx.Err(); err != nil {
			res.State = StateFailedClean
			res.Message = "sync cancelled during fallback"
			return err
		}
		if err := o.upsert(ctx, res, rec.Date, rec.SleepHours, sleep.SourceDummy); err != nil {
			return err
		}
	}

	res.State = StateFailedFallback
	res.Success = true
	res.UsedDummyData = true
	res.Message = fmt.Sprintf("%s; stored %d example days", failureMessage(cause), res.RecordsSynced)
	return nil
}

func (o *Orchestrator) upsert(ctx context.Context, res *SyncResult, date sleep.Day, hours decimal.Decimal, source sleep.Source) error {
	result, err := o.ledger.Upsert(ctx, date, hours, source)
	if err != nil {
		return err
	}
	metrics.RecordUpsert(string(source), string(result))
	switch result {
	case sleep.Inserted:
		res.Inserted++
	case sleep.Updated:
		res.Updated++
	case sleep.Unchanged:
		res.Unchanged++
	}
	res.RecordsSynced++
	return nil
}

// withRetry retries fn while it fails with a retryable error.
func (o *Orchestrator) withRetry(ctx context.Context, op string, log zerolog.Logger, fn func() error) error {
	for attempt := 1; ; attempt++ {
		err := fn()
		if err == nil || !sleep.IsRetryable(err) {
			return err
		}
		if attempt >= o.backoff.MaxAttempts {
			return fmt.Errorf("%w: %s gave up after %d attempts: %v", sleep.ErrProviderUnavailable, op, attempt, err)
		}

		delay := o.backoff.Delay(attempt)
		reason := "unavailable"
		var rlErr *provider.RateLimitError
		if errors.As(err, &rlErr) {
			reason = "rate_limited"
			if rlErr.RetryAfter > o.backoff.MaxRetryAfter {
				return fmt.Errorf("%w: %s asked to wait %s", sleep.ErrProviderUnavailable, op, rlErr.RetryAfter)
			}
			if rlErr.RetryAfter > delay {
				delay = rlErr.RetryAfter
			}
		}
		metrics.RecordProviderRetry(reason)
		log.Debug().Err(err).Str("op", op).Int("attempt", attempt).Dur("backoff", delay).Msg("retrying provider call")

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}

func (o *Orchestrator) transition(res *SyncResult, to State, log zerolog.Logger) {
	log.Debug().Str("from", string(res.State)).Str("to", string(to)).Msg("sync state")
	res.State = to
}

func (o *Orchestrator) saveRun(ctx context.Context, res SyncResult) error {
	if o.runs == nil {
		return nil
	}
	// The run is recorded even when ctx was cancelled mid-sync.
	saveCtx := ctx
	if ctx.Err() != nil {
		saveCtx = context.WithoutCancel(ctx)
	}
	return o.runs.SaveSyncRun(saveCtx, sleep.SyncRun{
		ID:                    res.RunID,
		RangeStart:            res.Range.Start,
		RangeEnd:              res.Range.End,
		Status:                res.State.runStatus(),
		RecordsSynced:         res.RecordsSynced,
		UsedDummyData:         res.UsedDummyData,
		NormalizationFailures: res.NormalizationFailures,
		Message:               res.Message,
		StartedAt:             res.StartedAt,
		CompletedAt:           res.CompletedAt,
	})
}

func failureMessage(err error) string {
	switch {
	case errors.Is(err, sleep.ErrAuth):
		return "provider authentication failed: check credentials"
	case errors.Is(err, sleep.ErrAuthExpired):
		return "provider session expired and could not be renewed"
	case errors.Is(err, sleep.ErrNormalization):
		return "provider data could not be read"
	case errors.Is(err, sleep.ErrProviderUnavailable), errors.Is(err, sleep.ErrRateLimited):
		return "provider unavailable: " + err.Error()
	default:
		return err.Error()
	}
}
