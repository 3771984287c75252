/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:
  Replaces the ledger with a pre-built run of nights ending today, so the
  dashboard can be shown without a provider account. Scenario nights are
  stored as example records and are flagged as such everywhere.

AVAILABLE SCENARIOS:
  well-rested:       A week at or above target, no debt
  short-week:        One hour short every night
  weekend-recovery:  Five short nights, then two long ones
  late-nights:       A week of very short nights
  patchy:            Two weeks with every other night missing

HOW SCENARIOS WORK:
 1. Delete every record (settings and sync history stay)
 2. Compute each night as the current target plus the scenario's offset
 3. Store the nights as example records

USAGE VIA API:
  POST /api/scenarios/load
  {"scenario_id": "short-week"}

ADDING NEW SCENARIOS:
  Append to 'scenarios' with an ID and the offsets, oldest night first.
  A nil offset leaves that night unrecorded.

NOTE:
  Loading a scenario deletes real provider data too. Only use in
  development or demo environments.

SEE ALSO:
  - handlers.go: Other handlers
  - dummy/generator.go: Hash-based example data used by sync fallback
*/
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/hlog"
	"github.com/shopspring/decimal"
	"github.com/warp/sleep-debt/sleep"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

type scenario struct {
	ScenarioDTO
	offsets []*decimal.Decimal // hours relative to target, oldest first
}

func off(v float64) *decimal.Decimal {
	d := decimal.NewFromFloat(v)
	return &d
}

var scenarios = []scenario{
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "well-rested",
			Name:        "Well Rested",
			Description: "A week at or above target; debt stays at zero",
		},
		offsets: []*decimal.Decimal{off(0.5), off(0.25), off(0), off(0.75), off(0.5), off(0), off(0.25)},
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "short-week",
			Name:        "Short Week",
			Description: "One hour under target every night",
		},
		offsets: []*decimal.Decimal{off(-1), off(-1), off(-1), off(-1), off(-1), off(-1), off(-1)},
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "weekend-recovery",
			Name:        "Weekend Recovery",
			Description: "Five short nights, then two long ones pay part of it back",
		},
		offsets: []*decimal.Decimal{off(-2), off(-2), off(-2), off(-2), off(-2), off(2), off(2)},
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "late-nights",
			Name:        "Late Nights",
			Description: "A week of very short nights",
		},
		offsets: []*decimal.Decimal{off(-3), off(-2.5), off(-3), off(-1), off(-3.5), off(-2), off(-3)},
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "patchy",
			Name:        "Patchy Tracking",
			Description: "Every other night missing; gaps are not counted as zero sleep",
		},
		offsets: []*decimal.Decimal{
			off(-1.5), nil, off(-1.5), nil, off(-1.5), nil, off(-1.5),
			nil, off(-1.5), nil, off(-1.5), nil, off(-1.5), nil,
		},
	},
}

func init() {
	for i := range scenarios {
		n := 0
		for _, o := range scenarios[i].offsets {
			if o != nil {
				n++
			}
		}
		scenarios[i].Nights = n
	}
}

func findScenario(id string) (scenario, bool) {
	for _, s := range scenarios {
		if s.ID == id {
			return s, true
		}
	}
	return scenario{}, false
}

// =============================================================================
// HANDLERS
// =============================================================================

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	list := make([]ScenarioDTO, len(scenarios))
	for i, s := range scenarios {
		list[i] = s.ScenarioDTO
	}
	writeJSON(w, http.StatusOK, list)
}

// GetCurrentScenario returns the last loaded scenario, or null.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.scenarioMu.Lock()
	id := h.currentScenario
	h.scenarioMu.Unlock()

	if s, ok := findScenario(id); ok {
		writeJSON(w, http.StatusOK, s.ScenarioDTO)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

// LoadScenario replaces the ledger with a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	s, ok := findScenario(req.ScenarioID)
	if !ok {
		writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}

	h.scenarioMu.Lock()
	defer h.scenarioMu.Unlock()

	h.currentScenario = ""
	n, err := h.loadScenario(r.Context(), s)
	if err != nil {
		writeDomainError(w, r, "Failed to load scenario", err)
		return
	}
	h.currentScenario = s.ID

	hlog.FromRequest(r).Info().Str("scenario", s.ID).Int("records", n).Msg("scenario loaded")
	writeJSON(w, http.StatusOK, LoadScenarioResponse{Status: "loaded", Scenario: s.ID, RecordsLoaded: n})
}

// =============================================================================
// LOADER
// =============================================================================

func (h *Handler) loadScenario(ctx context.Context, s scenario) (int, error) {
	settings, err := h.Settings.Get(ctx)
	if err != nil {
		return 0, err
	}
	if _, err := h.Ledger.DeleteAll(ctx); err != nil {
		return 0, err
	}

	start := h.today().AddDays(-(len(s.offsets) - 1))
	loaded := 0
	for i, o := range s.offsets {
		if o == nil {
			continue
		}
		hours := clampHours(settings.TargetSleepHours.Add(*o))
		if _, err := h.Ledger.Upsert(ctx, start.AddDays(i), hours, sleep.SourceDummy); err != nil {
			return loaded, err
		}
		loaded++
	}
	return loaded, nil
}

var maxNightHours = decimal.NewFromInt(24)

func clampHours(d decimal.Decimal) decimal.Decimal {
	return decimal.Min(decimal.Max(d, decimal.Zero), maxNightHours)
}
