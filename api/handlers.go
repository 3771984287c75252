/*
handlers.go - HTTP API handlers for the sleep debt tracker

PURPOSE:
  Exposes the ledger, settings, sync and debt status over REST. Handlers
  parse and validate HTTP input, call the domain, and serialize the result.

ENDPOINTS:
  Status:
    GET    /api/sleep/status           Debt status (?include_examples=false)
    GET    /api/sleep/records          Raw ledger rows (?start=&end=)
    GET    /api/sleep/preview          Example data preview (?days=), not stored
    DELETE /api/sleep/data             Wipe every record

  Sync:
    POST   /api/sleep/sync             Run a sync ({"days": n}, default 30)
    GET    /api/sync/runs              Sync history (?limit=)
    GET    /api/sync/schedule          Auto-sync scheduler status

  Settings:
    GET    /api/settings               Current settings
    PUT    /api/settings               Partial update

  Scenarios:
    GET    /api/scenarios              Demo scenarios
    GET    /api/scenarios/current      Last loaded scenario, or null
    POST   /api/scenarios/load         Replace the ledger with a scenario

  Ops:
    GET    /healthz                    Liveness + database ping
    GET    /metrics                    Prometheus

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 500: Storage faults and anything unexpected
  A sync that fails at the provider is NOT an HTTP error: it returns 200
  with success=false and a message.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
  - scenarios.go: Demo scenario loaders
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/hlog"
	"github.com/warp/sleep-debt/debt"
	"github.com/warp/sleep-debt/dummy"
	"github.com/warp/sleep-debt/ingest"
	"github.com/warp/sleep-debt/sleep"
)

const (
	defaultRecordsDays = 30
	defaultPreviewDays = 7
	defaultRunsLimit   = 20
	maxRunsLimit       = 500
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Pinger checks database connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Ledger   sleep.Ledger
	Settings sleep.SettingsStore
	Runs     sleep.RunStore
	Debt     *debt.Service
	Syncer   Syncer

	// Optional.
	Scheduler *AutoSyncScheduler
	Pinger    Pinger

	// Location decides what "today" is. Defaults to time.Local.
	Location *time.Location
	Now      func() time.Time

	scenarioMu      sync.Mutex
	currentScenario string
}

// NewHandler creates a handler over the given stores and orchestrator.
func NewHandler(ledger sleep.Ledger, settings sleep.SettingsStore, runs sleep.RunStore, syncer Syncer) *Handler {
	return &Handler{
		Ledger:   ledger,
		Settings: settings,
		Runs:     runs,
		Debt:     debt.NewService(ledger, settings, runs),
		Syncer:   syncer,
		Location: time.Local,
		Now:      time.Now,
	}
}

func (h *Handler) today() sleep.Day {
	return sleep.DayOf(h.Now().In(h.Location))
}

// =============================================================================
// STATUS
// =============================================================================

// GetStatus returns the debt status.
// GET /api/sleep/status?include_examples=true
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	include, err := boolParam(r, "include_examples", true)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid include_examples", err)
		return
	}

	st, err := h.Debt.Status(r.Context(), h.today(), debt.StatusOptions{IncludeExamples: include})
	if err != nil {
		writeDomainError(w, r, "Failed to compute status", err)
		return
	}
	writeJSON(w, http.StatusOK, ToStatusDTO(st))
}

// ListRecords returns raw ledger rows in a range. Defaults to the last 30 days.
// GET /api/sleep/records?start=YYYY-MM-DD&end=YYYY-MM-DD
func (h *Handler) ListRecords(w http.ResponseWriter, r *http.Request) {
	rng := sleep.LastNDays(h.today(), defaultRecordsDays)
	if v := r.URL.Query().Get("start"); v != "" {
		d, err := sleep.ParseDay(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid start (use YYYY-MM-DD)", err)
			return
		}
		rng.Start = d
	}
	if v := r.URL.Query().Get("end"); v != "" {
		d, err := sleep.ParseDay(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid end (use YYYY-MM-DD)", err)
			return
		}
		rng.End = d
	}

	recs, err := h.Ledger.QueryRange(r.Context(), rng.Start, rng.End)
	if err != nil {
		writeDomainError(w, r, "Failed to list records", err)
		return
	}

	dtos := make([]RecordDTO, len(recs))
	for i, rec := range recs {
		dtos[i] = toRecordDTO(rec)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// PreviewExamples shows what example data would look like. Nothing is stored.
// GET /api/sleep/preview?days=7
func (h *Handler) PreviewExamples(w http.ResponseWriter, r *http.Request) {
	days, err := intParam(r, "days", defaultPreviewDays)
	if err != nil || days < 1 || days > ingest.MaxSyncDays {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("days must be between 1 and %d", ingest.MaxSyncDays), err)
		return
	}

	settings, err := h.Settings.Get(r.Context())
	if err != nil {
		writeDomainError(w, r, "Failed to load settings", err)
		return
	}

	recs := dummy.Preview(h.today(), days, settings.TargetSleepHours)
	resp := PreviewResponse{
		TargetSleepHours: settings.TargetSleepHours.InexactFloat64(),
		Records:          make([]RecordDTO, len(recs)),
	}
	for i, rec := range recs {
		resp.Records[i] = toRecordDTO(rec)
	}
	writeJSON(w, http.StatusOK, resp)
}

// DeleteAllData wipes the ledger.
// DELETE /api/sleep/data
func (h *Handler) DeleteAllData(w http.ResponseWriter, r *http.Request) {
	n, err := h.Ledger.DeleteAll(r.Context())
	if err != nil {
		writeDomainError(w, r, "Failed to delete data", err)
		return
	}
	hlog.FromRequest(r).Warn().Int("records_deleted", n).Msg("ledger wiped")
	writeJSON(w, http.StatusOK, DeleteDataResponse{Success: true, RecordsDeleted: n})
}

// =============================================================================
// SYNC
// =============================================================================

// TriggerSync runs a sync and returns its result.
// POST /api/sleep/sync
func (h *Handler) TriggerSync(w http.ResponseWriter, r *http.Request) {
	var req SyncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	days := ingest.DefaultSyncDays
	if req.Days != nil {
		days = *req.Days
	}

	settings, err := h.Settings.Get(r.Context())
	if err != nil {
		writeDomainError(w, r, "Failed to load settings", err)
		return
	}

	res, err := h.Syncer.Sync(r.Context(), ingest.SyncRequest{Days: days, Settings: settings, Today: h.today()})
	if err != nil {
		writeDomainError(w, r, "Sync failed", err)
		return
	}
	writeJSON(w, http.StatusOK, ToSyncResponse(res))
}

// ListSyncRuns returns recent sync runs, newest first.
// GET /api/sync/runs?limit=20
func (h *Handler) ListSyncRuns(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit", defaultRunsLimit)
	if err != nil || limit < 1 || limit > maxRunsLimit {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("limit must be between 1 and %d", maxRunsLimit), err)
		return
	}

	runs, err := h.Runs.ListSyncRuns(r.Context(), limit)
	if err != nil {
		writeDomainError(w, r, "Failed to list sync runs", err)
		return
	}

	dtos := make([]SyncRunDTO, len(runs))
	for i, run := range runs {
		dtos[i] = toSyncRunDTO(run)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetSchedule reports the auto-sync scheduler.
// GET /api/sync/schedule
func (h *Handler) GetSchedule(w http.ResponseWriter, r *http.Request) {
	if h.Scheduler == nil {
		writeJSON(w, http.StatusOK, ScheduleDTO{Enabled: false, Schedule: AutoSyncSpecs})
		return
	}
	writeJSON(w, http.StatusOK, toScheduleDTO(h.Scheduler.Status()))
}

// =============================================================================
// SETTINGS
// =============================================================================

// GetSettings returns the current settings.
// GET /api/settings
func (h *Handler) GetSettings(w http.ResponseWriter, r *http.Request) {
	s, err := h.Settings.Get(r.Context())
	if err != nil {
		writeDomainError(w, r, "Failed to load settings", err)
		return
	}
	writeJSON(w, http.StatusOK, ToSettingsDTO(s))
}

// UpdateSettings applies a partial settings update.
// PUT /api/settings
func (h *Handler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req UpdateSettingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	update := req.ToUpdate()
	if update.IsEmpty() {
		writeError(w, http.StatusBadRequest, "No settings to update", nil)
		return
	}

	s, err := h.Settings.Update(r.Context(), update)
	if err != nil {
		writeDomainError(w, r, "Failed to update settings", err)
		return
	}
	hlog.FromRequest(r).Info().
		Str("target_sleep_hours", s.TargetSleepHours.String()).
		Int("stats_window_days", s.StatsWindowDays).
		Bool("use_dummy_data", s.UseDummyData).
		Msg("settings updated")
	writeJSON(w, http.StatusOK, ToSettingsDTO(s))
}

// =============================================================================
// OPS
// =============================================================================

// Health reports liveness and database reachability.
// GET /healthz
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if h.Pinger != nil {
		if err := h.Pinger.Ping(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "Database unreachable", err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps domain errors to status codes. Validation errors
// carry the offending field.
func writeDomainError(w http.ResponseWriter, r *http.Request, message string, err error) {
	var vErr *sleep.ValidationError
	switch {
	case errors.As(err, &vErr):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:   message,
			Code:    "validation_error",
			Details: map[string]any{"field": vErr.Field, "value": vErr.Value, "reason": vErr.Reason},
		})
	case sleep.IsClientError(err):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: message, Code: "validation_error", Details: err.Error()})
	case errors.Is(err, sleep.ErrStorage):
		logError(r, err, message)
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: message, Code: "storage_error", Details: err.Error()})
	default:
		logError(r, err, message)
		writeError(w, http.StatusInternalServerError, message, err)
	}
}

func logError(r *http.Request, err error, message string) {
	hlog.FromRequest(r).Error().Err(err).Msg(message)
}

func boolParam(r *http.Request, name string, def bool) (bool, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	return strconv.ParseBool(v)
}

func intParam(r *http.Request, name string, def int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}
