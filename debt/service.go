package debt

import (
	"context"

	"github.com/warp/sleep-debt/metrics"
	"github.com/warp/sleep-debt/sleep"
)

// MaxLookbackDays bounds how far back Service reads the ledger. The
// largest allowed window is well inside it.
const MaxLookbackDays = 365

// StatusOptions tunes a status read.
type StatusOptions struct {
	// IncludeExamples keeps dummy records in the series. When false they
	// are dropped before the window is chosen.
	IncludeExamples bool
}

// Service reads the ledger and the current settings and computes status.
// It never writes to the ledger.
type Service struct {
	ledger   sleep.Ledger
	settings sleep.SettingsStore
	runs     sleep.RunStore
}

// NewService creates a Service. runs may be nil, in which case LastSync
// stays empty.
func NewService(ledger sleep.Ledger, settings sleep.SettingsStore, runs sleep.RunStore) *Service {
	return &Service{ledger: ledger, settings: settings, runs: runs}
}

// Status computes the debt status as of today. Settings are read fresh on
// every call.
func (s *Service) Status(ctx context.Context, today sleep.Day, opts StatusOptions) (Status, error) {
	settings, err := s.settings.Get(ctx)
	if err != nil {
		return Status{}, err
	}

	records, err := s.ledger.QueryRange(ctx, today.AddDays(-(MaxLookbackDays - 1)), today)
	if err != nil {
		return Status{}, err
	}
	if !opts.IncludeExamples {
		kept := records[:0]
		for _, r := range records {
			if !r.IsExample {
				kept = append(kept, r)
			}
		}
		records = kept
	}

	st := Compute(records, settings, today)

	if s.runs != nil {
		run, err := s.runs.LastSuccessfulSync(ctx)
		if err != nil {
			return Status{}, err
		}
		if run != nil {
			completed := run.CompletedAt
			st.LastSync = &completed
		}
	}

	debt, _ := st.CurrentDebt.Float64()
	metrics.SetCurrentDebt(debt)
	return st, nil
}
