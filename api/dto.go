/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON contract of the HTTP API. Domain types carry
  decimal.Decimal and sleep.Day; the wire format uses plain numbers and
  YYYY-MM-DD strings.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

TYPES:
  Status:    StatusDTO, DebtEntryDTO
  Sync:      SyncRequest, SyncResponse, SyncRunDTO, ScheduleDTO
  Settings:  SettingsDTO, UpdateSettingsRequest
  Records:   RecordDTO, PreviewResponse, DeleteDataResponse
  Scenarios: ScenarioDTO, LoadScenarioRequest, LoadScenarioResponse

VALIDATION:
  Validation is done in handlers and the domain, not in DTOs.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/sleep-debt/debt"
	"github.com/warp/sleep-debt/ingest"
	"github.com/warp/sleep-debt/sleep"
)

// =============================================================================
// STATUS
// =============================================================================

// DebtEntryDTO is one day of the debt series.
type DebtEntryDTO struct {
	Date           string  `json:"date"`
	SleepHours     float64 `json:"sleep_hours"`
	TargetHours    float64 `json:"target_hours"`
	DailyDebt      float64 `json:"daily_debt"`
	CumulativeDebt float64 `json:"cumulative_debt"`
	IsExample      bool    `json:"is_example"`
}

// StatusDTO is the response of GET /api/sleep/status.
type StatusDTO struct {
	LastSync           *string        `json:"last_sync"`
	CurrentDebt        float64        `json:"current_debt"`
	TotalSleepHours    float64        `json:"total_sleep_hours"`
	AverageSleepHours  float64        `json:"average_sleep_hours"`
	TargetSleepHours   float64        `json:"target_sleep_hours"`
	WindowDays         int            `json:"window_days"`
	DaysTracked        int            `json:"days_tracked"`
	ExampleDays        int            `json:"example_days"`
	HasTodayData       bool           `json:"has_today_data"`
	InsufficientWindow bool           `json:"insufficient_window"`
	WindowStart        *string        `json:"window_start"`
	WindowEnd          *string        `json:"window_end"`
	RecentData         []DebtEntryDTO `json:"recent_data"`
}

// =============================================================================
// SYNC
// =============================================================================

// SyncRequest is the body of POST /api/sleep/sync. The body may be empty.
type SyncRequest struct {
	Days *int `json:"days,omitempty"`
}

// SyncResponse is the response of POST /api/sleep/sync.
type SyncResponse struct {
	Success               bool   `json:"success"`
	Message               string `json:"message"`
	RecordsSynced         int    `json:"records_synced"`
	UsedDummyData         bool   `json:"used_dummy_data"`
	LastSync              string `json:"last_sync"`
	RunID                 string `json:"run_id"`
	State                 string `json:"state"`
	RangeStart            string `json:"range_start"`
	RangeEnd              string `json:"range_end"`
	Inserted              int    `json:"inserted"`
	Updated               int    `json:"updated"`
	Unchanged             int    `json:"unchanged"`
	Preserved             int    `json:"preserved"`
	DaysWithoutData       int    `json:"days_without_data"`
	NormalizationFailures int    `json:"normalization_failures"`
}

// SyncRunDTO is one entry of the sync history.
type SyncRunDTO struct {
	ID                    string `json:"id"`
	RangeStart            string `json:"range_start"`
	RangeEnd              string `json:"range_end"`
	Status                string `json:"status"`
	RecordsSynced         int    `json:"records_synced"`
	UsedDummyData         bool   `json:"used_dummy_data"`
	NormalizationFailures int    `json:"normalization_failures"`
	Message               string `json:"message"`
	StartedAt             string `json:"started_at"`
	CompletedAt           string `json:"completed_at"`
}

// ScheduleDTO is the response of GET /api/sync/schedule.
type ScheduleDTO struct {
	Enabled        bool     `json:"enabled"`
	Active         bool     `json:"active"`
	TodayDataFound bool     `json:"today_data_found"`
	LastCheckDate  *string  `json:"last_check_date"`
	LastOutcome    string   `json:"last_outcome,omitempty"`
	LastMessage    string   `json:"last_message,omitempty"`
	NextRun        *string  `json:"next_run"`
	Schedule       []string `json:"schedule"`
}

// =============================================================================
// SETTINGS
// =============================================================================

// SettingsDTO is the settings representation.
type SettingsDTO struct {
	TargetSleepHours  float64 `json:"target_sleep_hours"`
	StatsWindowDays   int     `json:"stats_window_days"`
	UseDummyData      bool    `json:"use_dummy_data"`
	UpdatedAt         *string `json:"updated_at"`
	AllowedWindowDays []int   `json:"allowed_window_days"`
}

// UpdateSettingsRequest is the body of PUT /api/settings. Omitted fields
// keep their current value.
type UpdateSettingsRequest struct {
	TargetSleepHours *float64 `json:"target_sleep_hours,omitempty"`
	StatsWindowDays  *int     `json:"stats_window_days,omitempty"`
	UseDummyData     *bool    `json:"use_dummy_data,omitempty"`
}

// ToUpdate converts the request into a domain update.
func (r UpdateSettingsRequest) ToUpdate() sleep.SettingsUpdate {
	var u sleep.SettingsUpdate
	if r.TargetSleepHours != nil {
		d := decimal.NewFromFloat(*r.TargetSleepHours)
		u.TargetSleepHours = &d
	}
	u.StatsWindowDays = r.StatsWindowDays
	u.UseDummyData = r.UseDummyData
	return u
}

// =============================================================================
// RECORDS
// =============================================================================

// RecordDTO is a raw ledger row.
type RecordDTO struct {
	Date       string  `json:"date"`
	SleepHours float64 `json:"sleep_hours"`
	Source     string  `json:"source"`
	IsExample  bool    `json:"is_example"`
	IngestedAt string  `json:"ingested_at"`
}

// PreviewResponse is the response of GET /api/sleep/preview.
type PreviewResponse struct {
	TargetSleepHours float64     `json:"target_sleep_hours"`
	Records          []RecordDTO `json:"records"`
}

// DeleteDataResponse is the response of DELETE /api/sleep/data.
type DeleteDataResponse struct {
	Success        bool `json:"success"`
	RecordsDeleted int  `json:"records_deleted"`
}

// =============================================================================
// SCENARIOS
// =============================================================================

// ScenarioDTO represents a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Nights      int    `json:"nights"`
}

// LoadScenarioRequest is the body of POST /api/scenarios/load.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

type LoadScenarioResponse struct {
	Status        string `json:"status"`
	Scenario      string `json:"scenario"`
	RecordsLoaded int    `json:"records_loaded"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

// ToStatusDTO converts a debt status. Also used by the CLI's --json output.
func ToStatusDTO(st debt.Status) StatusDTO {
	dto := StatusDTO{
		CurrentDebt:        st.CurrentDebt.InexactFloat64(),
		TotalSleepHours:    st.TotalSleepHours.InexactFloat64(),
		AverageSleepHours:  st.AverageSleepHours.InexactFloat64(),
		TargetSleepHours:   st.TargetSleepHours.InexactFloat64(),
		WindowDays:         st.WindowDays,
		DaysTracked:        st.DaysTracked,
		ExampleDays:        st.ExampleDays,
		HasTodayData:       st.HasTodayData,
		InsufficientWindow: st.InsufficientWindow,
		RecentData:         make([]DebtEntryDTO, len(st.Entries)),
	}
	if st.LastSync != nil {
		dto.LastSync = strPtr(st.LastSync.Format(time.RFC3339))
	}
	if !st.Window.Start.IsZero() {
		dto.WindowStart = strPtr(st.Window.Start.String())
		dto.WindowEnd = strPtr(st.Window.End.String())
	}
	for i, e := range st.Entries {
		dto.RecentData[i] = DebtEntryDTO{
			Date:           e.Date.String(),
			SleepHours:     e.SleepHours.InexactFloat64(),
			TargetHours:    st.TargetSleepHours.InexactFloat64(),
			DailyDebt:      e.DailyDebt.InexactFloat64(),
			CumulativeDebt: e.CumulativeDebt.InexactFloat64(),
			IsExample:      e.IsExample,
		}
	}
	return dto
}

// ToSyncResponse converts a sync result.
func ToSyncResponse(res ingest.SyncResult) SyncResponse {
	return SyncResponse{
		Success:               res.Success,
		Message:               res.Message,
		RecordsSynced:         res.RecordsSynced,
		UsedDummyData:         res.UsedDummyData,
		LastSync:              res.CompletedAt.Format(time.RFC3339),
		RunID:                 res.RunID,
		State:                 string(res.State),
		RangeStart:            res.Range.Start.String(),
		RangeEnd:              res.Range.End.String(),
		Inserted:              res.Inserted,
		Updated:               res.Updated,
		Unchanged:             res.Unchanged,
		Preserved:             res.Preserved,
		DaysWithoutData:       res.DaysWithoutData,
		NormalizationFailures: res.NormalizationFailures,
	}
}

func toSyncRunDTO(run sleep.SyncRun) SyncRunDTO {
	return SyncRunDTO{
		ID:                    run.ID,
		RangeStart:            run.RangeStart.String(),
		RangeEnd:              run.RangeEnd.String(),
		Status:                string(run.Status),
		RecordsSynced:         run.RecordsSynced,
		UsedDummyData:         run.UsedDummyData,
		NormalizationFailures: run.NormalizationFailures,
		Message:               run.Message,
		StartedAt:             run.StartedAt.Format(time.RFC3339),
		CompletedAt:           run.CompletedAt.Format(time.RFC3339),
	}
}

// ToSettingsDTO converts settings.
func ToSettingsDTO(s sleep.Settings) SettingsDTO {
	dto := SettingsDTO{
		TargetSleepHours:  s.TargetSleepHours.InexactFloat64(),
		StatsWindowDays:   s.StatsWindowDays,
		UseDummyData:      s.UseDummyData,
		AllowedWindowDays: sleep.AllowedWindowDays,
	}
	if !s.UpdatedAt.IsZero() {
		dto.UpdatedAt = strPtr(s.UpdatedAt.Format(time.RFC3339))
	}
	return dto
}

func toRecordDTO(r sleep.SleepRecord) RecordDTO {
	dto := RecordDTO{
		Date:       r.Date.String(),
		SleepHours: r.SleepHours.InexactFloat64(),
		Source:     string(r.Source),
		IsExample:  r.IsExample,
	}
	if !r.IngestedAt.IsZero() {
		dto.IngestedAt = r.IngestedAt.Format(time.RFC3339)
	}
	return dto
}

func toScheduleDTO(st ScheduleStatus) ScheduleDTO {
	dto := ScheduleDTO{
		Enabled:        st.Enabled,
		Active:         st.Active,
		TodayDataFound: st.TodayDataFound,
		LastOutcome:    string(st.LastOutcome),
		LastMessage:    st.LastMessage,
		Schedule:       AutoSyncSpecs,
	}
	if !st.LastCheckDate.IsZero() {
		dto.LastCheckDate = strPtr(st.LastCheckDate.String())
	}
	if !st.NextRun.IsZero() {
		dto.NextRun = strPtr(st.NextRun.Format(time.RFC3339))
	}
	return dto
}

func strPtr(s string) *string {
	return &s
}
