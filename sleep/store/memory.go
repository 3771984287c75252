// Package store provides in-memory implementations of the sleep store interfaces.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/warp/sleep-debt/sleep"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu       sync.RWMutex
	records  map[string]sleep.SleepRecord
	settings *sleep.Settings
	defaults sleep.Settings
	runs     []sleep.SyncRun

	// Now stamps IngestedAt and UpdatedAt. Defaults to time.Now.
	Now func() time.Time
}

func NewMemory() *Memory {
	return NewMemoryWithDefaults(sleep.DefaultSettings())
}

// NewMemoryWithDefaults returns a store whose Get falls back to defaults.
func NewMemoryWithDefaults(defaults sleep.Settings) *Memory {
	return &Memory{
		records:  make(map[string]sleep.SleepRecord),
		defaults: defaults,
		Now:      time.Now,
	}
}

// =============================================================================
// RECORDS (sleep.RecordStore)
// =============================================================================

func (m *Memory) Upsert(_ context.Context, rec sleep.SleepRecord) (sleep.UpsertResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := rec.Date.String()
	rec.IsExample = rec.Source.IsExample()

	existing, ok := m.records[key]
	if !ok {
		rec.IngestedAt = m.Now().UTC()
		m.records[key] = rec
		return sleep.Inserted, nil
	}

	if existing.SleepHours.Equal(rec.SleepHours) && existing.Source == rec.Source {
		return sleep.Unchanged, nil
	}
	rec.IngestedAt = m.Now().UTC()
	m.records[key] = rec
	return sleep.Updated, nil
}

func (m *Memory) QueryRange(_ context.Context, start, end sleep.Day) ([]sleep.SleepRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []sleep.SleepRecord
	for _, rec := range m.records {
		if rec.Date.AfterOrEqual(start) && rec.Date.BeforeOrEqual(end) {
			result = append(result, rec)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Date.Before(result[j].Date)
	})
	return result, nil
}

func (m *Memory) DeleteAll(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := len(m.records)
	m.records = make(map[string]sleep.SleepRecord)
	return n, nil
}

// =============================================================================
// SETTINGS (sleep.SettingsStore)
// =============================================================================

func (m *Memory) Get(_ context.Context) (sleep.Settings, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.settings == nil {
		return m.defaults, nil
	}
	return *m.settings, nil
}

func (m *Memory) Update(_ context.Context, update sleep.SettingsUpdate) (sleep.Settings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current := m.defaults
	if m.settings != nil {
		current = *m.settings
	}
	next, err := update.Apply(current, m.Now())
	if err != nil {
		return current, err
	}
	m.settings = &next
	return next, nil
}

// =============================================================================
// SYNC RUNS (sleep.RunStore)
// =============================================================================

func (m *Memory) SaveSyncRun(_ context.Context, run sleep.SyncRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.runs {
		if m.runs[i].ID == run.ID {
			m.runs[i] = run
			return nil
		}
	}
	m.runs = append(m.runs, run)
	return nil
}

func (m *Memory) ListSyncRuns(_ context.Context, limit int) ([]sleep.SyncRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]sleep.SyncRun, 0, len(m.runs))
	for i := len(m.runs) - 1; i >= 0; i-- {
		result = append(result, m.runs[i])
		if limit > 0 && len(result) == limit {
			break
		}
	}
	return result, nil
}

func (m *Memory) LastSuccessfulSync(_ context.Context) (*sleep.SyncRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for i := len(m.runs) - 1; i >= 0; i-- {
		if m.runs[i].Succeeded() {
			run := m.runs[i]
			return &run, nil
		}
	}
	return nil, nil
}
