package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/sleep-debt/config"
)

// unsetenv clears key for the test and restores it afterwards.
func unsetenv(t *testing.T, keys ...string) {
	t.Helper()
	for _, k := range keys {
		t.Setenv(k, "")
		require.NoError(t, os.Unsetenv(k))
	}
}

var allKeys = []string{
	"DB_PATH", "PROVIDER_BASE_URL", "PROVIDER_EMAIL", "PROVIDER_PASSWORD",
	"PROVIDER_RPS", "PROVIDER_TIMEOUT", "SYNC_MAX_ATTEMPTS", "SYNC_BACKOFF_BASE",
	"SYNC_BACKOFF_MAX", "AUTO_SYNC", "API_HOST", "API_PORT", "CORS_ORIGINS",
	"TARGET_SLEEP_HOURS", "STATS_WINDOW_DAYS", "TIMEZONE", "LOG_LEVEL",
	"LOG_FORMAT", "LOG_FILE", "KEYRING_SERVICE",
}

func TestLoad_Defaults(t *testing.T) {
	unsetenv(t, allKeys...)

	cfg, err := config.Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "data/sleep_debt.db", cfg.DBPath)
	assert.Equal(t, 8000, cfg.API.Port)
	assert.Equal(t, 15*time.Second, cfg.Provider.Timeout)
	assert.Equal(t, 4, cfg.Sync.MaxAttempts)
	assert.False(t, cfg.Sync.AutoSync)
	assert.Equal(t, []string{"http://localhost:8000"}, cfg.AllowedOrigins())

	s := cfg.SettingsDefaults()
	assert.Equal(t, "8", s.TargetSleepHours.String())
	assert.Equal(t, 7, s.StatsWindowDays)
	assert.False(t, s.UseDummyData)
}

func TestLoad_EnvFileThenEnvironment(t *testing.T) {
	// GIVEN: a .env file and one variable already in the environment
	// THEN: the environment wins, the file fills the rest

	unsetenv(t, allKeys...)
	envFile := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(envFile, []byte(
		"TARGET_SLEEP_HOURS=7.5\nSTATS_WINDOW_DAYS=14\nAUTO_SYNC=true\nCORS_ORIGINS=http://a.test, http://b.test\n",
	), 0o600))
	t.Setenv("STATS_WINDOW_DAYS", "30")

	cfg, err := config.Load(envFile)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 7.5, cfg.Defaults.TargetSleepHours)
	assert.Equal(t, 30, cfg.Defaults.StatsWindowDays)
	assert.True(t, cfg.Sync.AutoSync)
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.AllowedOrigins())
}

func TestValidate(t *testing.T) {
	unsetenv(t, allKeys...)

	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"empty db path", func(c *config.Config) { c.DBPath = "" }},
		{"bad base url", func(c *config.Config) { c.Provider.BaseURL = "nope" }},
		{"zero rps", func(c *config.Config) { c.Provider.RPS = 0 }},
		{"no attempts", func(c *config.Config) { c.Sync.MaxAttempts = 0 }},
		{"max below base", func(c *config.Config) { c.Sync.BackoffMax = time.Millisecond }},
		{"port", func(c *config.Config) { c.API.Port = 70000 }},
		{"target zero", func(c *config.Config) { c.Defaults.TargetSleepHours = 0 }},
		{"target above a day", func(c *config.Config) { c.Defaults.TargetSleepHours = 24.5 }},
		{"window not allowed", func(c *config.Config) { c.Defaults.StatsWindowDays = 9 }},
		{"timezone", func(c *config.Config) { c.Timezone = "Mars/Olympus" }},
		{"log level", func(c *config.Config) { c.Log.Level = "chatty" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := config.Load(filepath.Join(t.TempDir(), "missing.env"))
			require.NoError(t, err)
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestDerivedConfigs(t *testing.T) {
	unsetenv(t, allKeys...)
	t.Setenv("SYNC_BACKOFF_BASE", "250ms")
	t.Setenv("PROVIDER_RPS", "5")
	t.Setenv("TIMEZONE", "Europe/Rome")

	cfg, err := config.Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, 250*time.Millisecond, cfg.Backoff().Base)
	assert.Equal(t, 5.0, cfg.ClientConfig().RequestsPerSecond)

	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, "Europe/Rome", loc.String())
}
