package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/warp/sleep-debt/api"
)

// A manual sync may wait out provider retries, so writes get far longer
// than reads.
const (
	readTimeout     = 15 * time.Second
	writeTimeout    = 5 * time.Minute
	idleTimeout     = 60 * time.Second
	shutdownTimeout = 30 * time.Second
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Long: `Run the HTTP API.

With AUTO_SYNC=true the server also polls the provider each morning until
today's night has been recorded.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "HTTP port (overrides API_PORT)")
}

func runServe(_ *cobra.Command, _ []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if servePort != 0 {
		a.cfg.API.Port = servePort
	}

	handler := api.NewHandler(a.ledger, a.store, a.store, a.orch)
	handler.Location = a.loc
	handler.Pinger = a.store

	if a.cfg.Sync.AutoSync {
		sched, err := api.NewAutoSyncScheduler(a.orch, a.store, a.ledger, a.loc, a.logger)
		if err != nil {
			return err
		}
		handler.Scheduler = sched
		sched.Start()
		defer sched.Stop()
	}

	router := api.NewRouter(handler, api.RouterOptions{
		AllowedOrigins: a.cfg.AllowedOrigins(),
		Logger:         a.logger,
	})

	server := &http.Server{
		Addr:         a.cfg.Addr(),
		Handler:      router,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info().
			Str("addr", server.Addr).
			Str("db", a.cfg.DBPath).
			Bool("auto_sync", a.cfg.Sync.AutoSync).
			Msg("server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case err, ok := <-serveErr:
		if ok {
			return err
		}
		return nil
	case sig := <-quit:
		a.logger.Info().Str("signal", sig.String()).Msg("shutting down server")
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		a.logger.Error().Err(err).Msg("server forced to shutdown")
		return err
	}

	a.logger.Info().Msg("server stopped")
	return nil
}
