/*
scheduler.go - Automatic morning sync of today's sleep record

PURPOSE:
  Wearables upload last night's sleep some time in the morning. The
  scheduler polls the provider on a fixed morning schedule until today's
  record shows up, then stays quiet until the next day.

SCHEDULE (in the configured timezone):
  07:00-09:30  every 30 minutes
  10:00-13:00  every hour

EACH TICK:
  1. New calendar day  -> forget yesterday's "found" flag
  2. Today already found, or UseDummyData on -> skip
  3. Real (non-example) record for today exists -> mark found, skip
  4. Otherwise sync one day with dummy fallback disabled, then re-check

  Example records never count as "found": a fallback from a manual sync
  must not stop the scheduler from fetching the real value.

USAGE:
  s := NewAutoSyncScheduler(orchestrator, store, ledger, loc, logger)
  s.Start()
  defer s.Stop()

SEE ALSO:
  - ingest/orchestrator.go: The sync it triggers
  - handlers.go: GET /api/sync/schedule
*/
package api

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/warp/sleep-debt/ingest"
	"github.com/warp/sleep-debt/sleep"
)

// AutoSyncSpecs are the cron expressions of the morning schedule.
var AutoSyncSpecs = []string{
	"0,30 7-9 * * *",
	"0 10-13 * * *",
}

// autoSyncTimeout bounds one scheduled sync.
const autoSyncTimeout = 5 * time.Minute

// Syncer runs a provider sync.
type Syncer interface {
	Sync(ctx context.Context, req ingest.SyncRequest) (ingest.SyncResult, error)
}

// TickOutcome describes what one scheduler tick did.
type TickOutcome string

const (
	TickSkippedDummy    TickOutcome = "skipped_dummy_data"
	TickAlreadyFound    TickOutcome = "already_found"
	TickFound           TickOutcome = "found"
	TickNotYetAvailable TickOutcome = "not_yet_available"
	TickSyncFailed      TickOutcome = "sync_failed"
	TickError           TickOutcome = "error"
)

// ScheduleStatus is a snapshot of the scheduler.
type ScheduleStatus struct {
	Enabled        bool
	Active         bool
	TodayDataFound bool
	LastCheckDate  sleep.Day
	LastOutcome    TickOutcome
	LastMessage    string
	NextRun        time.Time
}

// AutoSyncScheduler runs the morning schedule.
type AutoSyncScheduler struct {
	syncer   Syncer
	settings sleep.SettingsStore
	ledger   sleep.Ledger
	loc      *time.Location
	logger   zerolog.Logger

	cron      *cron.Cron
	schedules []cron.Schedule

	mu             sync.Mutex
	active         bool
	todayDataFound bool
	lastCheckDate  sleep.Day
	lastOutcome    TickOutcome
	lastMessage    string

	// Now is the scheduler clock. Defaults to time.Now.
	Now func() time.Time
}

// NewAutoSyncScheduler creates a stopped scheduler.
func NewAutoSyncScheduler(syncer Syncer, settings sleep.SettingsStore, ledger sleep.Ledger, loc *time.Location, logger zerolog.Logger) (*AutoSyncScheduler, error) {
	if loc == nil {
		loc = time.Local
	}
	s := &AutoSyncScheduler{
		syncer:   syncer,
		settings: settings,
		ledger:   ledger,
		loc:      loc,
		logger:   logger.With().Str("component", "auto_sync").Logger(),
		cron:     cron.New(cron.WithLocation(loc)),
		Now:      time.Now,
	}

	for _, spec := range AutoSyncSpecs {
		sched, err := cron.ParseStandard(spec)
		if err != nil {
			return nil, err
		}
		s.schedules = append(s.schedules, sched)
		s.cron.Schedule(sched, cron.FuncJob(func() { s.RunNow(context.Background()) }))
	}
	return s, nil
}

// Start begins firing on schedule. Calling Start twice is a no-op.
func (s *AutoSyncScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active {
		return
	}
	s.cron.Start()
	s.active = true
	s.logger.Info().Time("next_run", s.nextRunLocked()).Msg("auto-sync started")
}

// Stop halts the schedule and waits for a running tick to finish.
func (s *AutoSyncScheduler) Stop() {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return
	}
	s.active = false
	s.mu.Unlock()

	<-s.cron.Stop().Done()
	s.logger.Info().Msg("auto-sync stopped")
}

// RunNow performs one tick immediately.
func (s *AutoSyncScheduler) RunNow(ctx context.Context) TickOutcome {
	outcome, msg := s.tick(ctx)

	s.mu.Lock()
	s.lastOutcome = outcome
	s.lastMessage = msg
	s.mu.Unlock()

	evt := s.logger.Info()
	if outcome == TickError || outcome == TickSyncFailed {
		evt = s.logger.Warn()
	}
	evt.Str("outcome", string(outcome)).Str("detail", msg).Msg("auto-sync tick")
	return outcome
}

func (s *AutoSyncScheduler) tick(ctx context.Context) (TickOutcome, string) {
	today := sleep.DayOf(s.Now().In(s.loc))

	s.mu.Lock()
	if !s.lastCheckDate.Equal(today) {
		s.todayDataFound = false
	}
	s.lastCheckDate = today
	found := s.todayDataFound
	s.mu.Unlock()

	if found {
		return TickAlreadyFound, "today's record already stored"
	}

	settings, err := s.settings.Get(ctx)
	if err != nil {
		return TickError, err.Error()
	}
	if settings.UseDummyData {
		return TickSkippedDummy, "example data mode is on"
	}

	has, err := s.hasRealRecord(ctx, today)
	if err != nil {
		return TickError, err.Error()
	}
	if has {
		s.markFound()
		return TickAlreadyFound, "today's record already stored"
	}

	ctx, cancel := context.WithTimeout(ctx, autoSyncTimeout)
	defer cancel()

	settings.UseDummyData = false
	res, err := s.syncer.Sync(ctx, ingest.SyncRequest{Days: 1, Settings: settings, Today: today})
	if err != nil {
		return TickError, err.Error()
	}
	if !res.Success {
		return TickSyncFailed, res.Message
	}

	has, err = s.hasRealRecord(ctx, today)
	if err != nil {
		return TickError, err.Error()
	}
	if !has {
		return TickNotYetAvailable, "provider has no record for today yet"
	}
	s.markFound()
	return TickFound, res.Message
}

func (s *AutoSyncScheduler) hasRealRecord(ctx context.Context, day sleep.Day) (bool, error) {
	recs, err := s.ledger.QueryRange(ctx, day, day)
	if err != nil {
		return false, err
	}
	for _, r := range recs {
		if !r.IsExample {
			return true, nil
		}
	}
	return false, nil
}

func (s *AutoSyncScheduler) markFound() {
	s.mu.Lock()
	s.todayDataFound = true
	s.mu.Unlock()
}

// Status returns a snapshot for the API.
func (s *AutoSyncScheduler) Status() ScheduleStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ScheduleStatus{
		Enabled:        true,
		Active:         s.active,
		TodayDataFound: s.todayDataFound,
		LastCheckDate:  s.lastCheckDate,
		LastOutcome:    s.lastOutcome,
		LastMessage:    s.lastMessage,
		NextRun:        s.nextRunLocked(),
	}
}

// nextRunLocked is the earliest upcoming fire time across all schedules.
func (s *AutoSyncScheduler) nextRunLocked() time.Time {
	now := s.Now().In(s.loc)

	var next time.Time
	for _, sched := range s.schedules {
		t := sched.Next(now)
		if next.IsZero() || t.Before(next) {
			next = t
		}
	}
	return next
}
