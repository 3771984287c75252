/*
config.go - Process configuration from the environment

PURPOSE:
  Collects every tunable into one Config value that is passed explicitly
  to the components that need it. Nothing reads the environment after
  Load returns.

SOURCES (later wins):
  1. Defaults in the struct tags
  2. A .env file, when present (never overrides variables already set)
  3. Process environment
  4. Command-line flags (applied by cmd/sleepdebt)

VALIDATION:
  Validate rejects values that would only fail later: a target outside
  (0, 24], a window not in the allowed set, a bad timezone, and so on.

SEE ALSO:
  - cmd/sleepdebt/main.go: Flag overrides and wiring
  - sleep/settings.go: Settings defaults derived from this config
*/
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/warp/sleep-debt/ingest"
	"github.com/warp/sleep-debt/logging"
	"github.com/warp/sleep-debt/provider"
	"github.com/warp/sleep-debt/sleep"
)

// Config is the full process configuration.
type Config struct {
	DBPath string `env:"DB_PATH,default=data/sleep_debt.db"`

	Provider struct {
		BaseURL  string        `env:"PROVIDER_BASE_URL,default=https://connect.example-wearable.com/api"`
		Email    string        `env:"PROVIDER_EMAIL"`
		Password string        `env:"PROVIDER_PASSWORD"`
		RPS      float64       `env:"PROVIDER_RPS,default=2"`
		Timeout  time.Duration `env:"PROVIDER_TIMEOUT,default=15s"`
	}

	Sync struct {
		MaxAttempts int           `env:"SYNC_MAX_ATTEMPTS,default=4"`
		BackoffBase time.Duration `env:"SYNC_BACKOFF_BASE,default=1s"`
		BackoffMax  time.Duration `env:"SYNC_BACKOFF_MAX,default=30s"`
		AutoSync    bool          `env:"AUTO_SYNC,default=false"`
	}

	API struct {
		Host        string `env:"API_HOST,default=0.0.0.0"`
		Port        int    `env:"API_PORT,default=8000"`
		CORSOrigins string `env:"CORS_ORIGINS,default=http://localhost:8000"`
	}

	Defaults struct {
		TargetSleepHours float64 `env:"TARGET_SLEEP_HOURS,default=8.0"`
		StatsWindowDays  int     `env:"STATS_WINDOW_DAYS,default=7"`
	}

	Timezone string `env:"TIMEZONE,default=Local"`

	Log struct {
		Level  string `env:"LOG_LEVEL,default=info"`
		Format string `env:"LOG_FORMAT,default=console"`
		File   string `env:"LOG_FILE"`
	}

	KeyringService string `env:"KEYRING_SERVICE,default=sleep-debt"`
}

// Load reads envFile (if it exists) and then the environment. An empty
// envFile means ".env".
func Load(envFile string) (*Config, error) {
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load %s: %w", envFile, err)
	}

	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("decode environment: %w", err)
	}
	return &cfg, nil
}

// Validate checks every field that has a constrained domain.
func (c *Config) Validate() error {
	if c.DBPath == "" {
		return errors.New("DB_PATH is required")
	}
	if _, err := url.ParseRequestURI(c.Provider.BaseURL); err != nil {
		return fmt.Errorf("PROVIDER_BASE_URL: %w", err)
	}
	if c.Provider.RPS <= 0 {
		return fmt.Errorf("PROVIDER_RPS must be positive, got %v", c.Provider.RPS)
	}
	if c.Provider.Timeout <= 0 {
		return fmt.Errorf("PROVIDER_TIMEOUT must be positive, got %s", c.Provider.Timeout)
	}
	if c.Sync.MaxAttempts < 1 {
		return fmt.Errorf("SYNC_MAX_ATTEMPTS must be at least 1, got %d", c.Sync.MaxAttempts)
	}
	if c.Sync.BackoffBase <= 0 || c.Sync.BackoffMax < c.Sync.BackoffBase {
		return fmt.Errorf("SYNC_BACKOFF_BASE/SYNC_BACKOFF_MAX invalid: %s/%s", c.Sync.BackoffBase, c.Sync.BackoffMax)
	}
	if c.API.Port < 1 || c.API.Port > 65535 {
		return fmt.Errorf("API_PORT out of range: %d", c.API.Port)
	}
	if c.Defaults.TargetSleepHours <= 0 || c.Defaults.TargetSleepHours > 24 {
		return fmt.Errorf("TARGET_SLEEP_HOURS must be in (0, 24], got %v", c.Defaults.TargetSleepHours)
	}
	if !slices.Contains(sleep.AllowedWindowDays, c.Defaults.StatsWindowDays) {
		return fmt.Errorf("STATS_WINDOW_DAYS must be one of %v, got %d", sleep.AllowedWindowDays, c.Defaults.StatsWindowDays)
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("TIMEZONE: %w", err)
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("LOG_LEVEL: %w", err)
	}
	return nil
}

// Location resolves Timezone. "Local" and "" mean the host zone.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" || c.Timezone == "Local" {
		return time.Local, nil
	}
	return time.LoadLocation(c.Timezone)
}

// Addr is the HTTP listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.API.Host, c.API.Port)
}

// AllowedOrigins splits CORS_ORIGINS on commas.
func (c *Config) AllowedOrigins() []string {
	var origins []string
	for _, o := range strings.Split(c.API.CORSOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}

// SettingsDefaults are the settings used before the user saves any.
func (c *Config) SettingsDefaults() sleep.Settings {
	s := sleep.DefaultSettings()
	s.TargetSleepHours = decimal.NewFromFloat(c.Defaults.TargetSleepHours).Round(2)
	s.StatsWindowDays = c.Defaults.StatsWindowDays
	return s
}

// Backoff is the retry policy for provider calls.
func (c *Config) Backoff() ingest.Backoff {
	b := ingest.DefaultBackoff()
	b.Base = c.Sync.BackoffBase
	b.Max = c.Sync.BackoffMax
	b.MaxAttempts = c.Sync.MaxAttempts
	return b
}

// ClientConfig is the provider HTTP client configuration.
func (c *Config) ClientConfig() provider.ClientConfig {
	cc := provider.DefaultClientConfig(c.Provider.BaseURL)
	cc.RequestsPerSecond = c.Provider.RPS
	cc.Timeout = c.Provider.Timeout
	return cc
}

// Credentials are the provider login credentials.
func (c *Config) Credentials() provider.Credentials {
	return provider.Credentials{Email: c.Provider.Email, Password: c.Provider.Password}
}

// LogConfig is the logger configuration.
func (c *Config) LogConfig() logging.Config {
	return logging.Config{Level: c.Log.Level, Format: c.Log.Format, File: c.Log.File}
}
