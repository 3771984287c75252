package main

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/warp/sleep-debt/config"
	"github.com/warp/sleep-debt/debt"
	"github.com/warp/sleep-debt/ingest"
	"github.com/warp/sleep-debt/logging"
	"github.com/warp/sleep-debt/provider"
	"github.com/warp/sleep-debt/sleep"
	"github.com/warp/sleep-debt/store/sqlite"
)

// app holds everything a command needs. Build it with openApp and always
// Close it.
type app struct {
	cfg    *config.Config
	logger zerolog.Logger
	loc    *time.Location

	store  *sqlite.Store
	ledger *sleep.RecordLedger
	client *provider.Client
	auth   *provider.Authenticator
	orch   *ingest.Orchestrator
	debt   *debt.Service

	closers []io.Closer
}

// loadConfig reads the environment and applies the global flag overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(envFile)
	if err != nil {
		return nil, err
	}
	if dbPath != "" {
		cfg.DBPath = dbPath
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func openApp() (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	logger, logCloser, err := logging.New(cfg.LogConfig())
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger, closers: []io.Closer{logCloser}}

	if err := a.wire(); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) wire() error {
	loc, err := a.cfg.Location()
	if err != nil {
		return fmt.Errorf("timezone %q: %w", a.cfg.Timezone, err)
	}
	a.loc = loc

	if a.cfg.DBPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(a.cfg.DBPath), 0o755); err != nil {
			return fmt.Errorf("create database directory: %w", err)
		}
	}
	st, err := sqlite.NewWithDefaults(a.cfg.DBPath, a.cfg.SettingsDefaults())
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	a.store = st
	a.closers = append(a.closers, st)
	a.ledger = sleep.NewLedger(st)

	client, err := provider.NewClient(a.cfg.ClientConfig(), &http.Client{Timeout: a.cfg.Provider.Timeout}, a.logger)
	if err != nil {
		return err
	}
	a.client = client
	a.auth = provider.NewAuthenticator(client, a.sessionStore(), a.cfg.Credentials(), a.logger)

	a.orch = ingest.NewOrchestrator(ingest.Options{
		Sessions: a.auth,
		Fetcher:  client,
		Ledger:   a.ledger,
		Runs:     st,
		Backoff:  a.cfg.Backoff(),
		Logger:   a.logger,
	})
	a.debt = debt.NewService(a.ledger, st, st)
	return nil
}

// sessionStore keeps provider tokens in the OS keyring when one is
// reachable, otherwise only for the life of the process.
func (a *app) sessionStore() provider.SessionStore {
	if provider.KeyringAvailable(a.cfg.KeyringService) {
		user := a.cfg.Provider.Email
		if user == "" {
			user = "default"
		}
		return provider.NewKeyringSessionStore(a.cfg.KeyringService, user)
	}
	a.logger.Warn().Msg("OS keyring unavailable, provider session will not survive restarts")
	return provider.NewMemorySessionStore()
}

func (a *app) today() sleep.Day {
	return sleep.Today(a.loc)
}

func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
