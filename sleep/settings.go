package sleep

import (
	"fmt"
	"slices"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SETTINGS - The single live configuration record
// =============================================================================

// AllowedWindowDays are the accepted values for Settings.StatsWindowDays.
var AllowedWindowDays = []int{7, 10, 14, 30}

var (
	maxTargetHours     = decimal.NewFromInt(24)
	defaultTargetHours = decimal.NewFromFloat(8.0)
)

const defaultWindowDays = 7

// Settings is the current configuration. There is exactly one.
type Settings struct {
	TargetSleepHours decimal.Decimal
	StatsWindowDays  int
	UseDummyData     bool
	UpdatedAt        time.Time
}

// DefaultSettings returns the settings used before any update is stored.
func DefaultSettings() Settings {
	return Settings{
		TargetSleepHours: defaultTargetHours,
		StatsWindowDays:  defaultWindowDays,
		UseDummyData:     false,
	}
}

// SettingsUpdate is a partial update. Nil fields keep their current value.
type SettingsUpdate struct {
	TargetSleepHours *decimal.Decimal
	StatsWindowDays  *int
	UseDummyData     *bool
}

// IsEmpty reports whether the update changes nothing.
func (u SettingsUpdate) IsEmpty() bool {
	return u.TargetSleepHours == nil && u.StatsWindowDays == nil && u.UseDummyData == nil
}

// Apply returns current with the update's non-nil fields replaced and
// validated. UpdatedAt is stamped with now.
func (u SettingsUpdate) Apply(current Settings, now time.Time) (Settings, error) {
	next := current
	if u.TargetSleepHours != nil {
		next.TargetSleepHours = *u.TargetSleepHours
	}
	if u.StatsWindowDays != nil {
		next.StatsWindowDays = *u.StatsWindowDays
	}
	if u.UseDummyData != nil {
		next.UseDummyData = *u.UseDummyData
	}
	if err := next.Validate(); err != nil {
		return current, err
	}
	next.UpdatedAt = now.UTC()
	return next, nil
}

// Validate checks target ∈ (0, 24] and the window is an allowed value.
func (s Settings) Validate() error {
	if !s.TargetSleepHours.IsPositive() || s.TargetSleepHours.GreaterThan(maxTargetHours) {
		return &ValidationError{
			Field:  "target_sleep_hours",
			Value:  s.TargetSleepHours.String(),
			Reason: "must be greater than 0 and at most 24",
		}
	}
	if !slices.Contains(AllowedWindowDays, s.StatsWindowDays) {
		return &ValidationError{
			Field:  "stats_window_days",
			Value:  s.StatsWindowDays,
			Reason: fmt.Sprintf("must be one of %v", AllowedWindowDays),
		}
	}
	return nil
}
