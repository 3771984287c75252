/*
main.go - Application entry point

PURPOSE:
  The sleepdebt command. One binary serves the HTTP API and runs the same
  operations from the terminal.

COMMANDS:
  serve      HTTP API with optional auto-sync, graceful shutdown
  sync       Pull recent nights from the provider (or example data)
  status     Current sleep debt and the per-day series
  settings   Show or change target, window and example-data mode
  preview    Print example data without storing it
  reset      Delete all stored sleep records

GLOBAL FLAGS:
  --env-file   .env file to load before the environment (default: .env)
  --db         SQLite database path, overrides DB_PATH
  --log-level  Overrides LOG_LEVEL

EXAMPLES:
  # Run the API on the configured port
  sleepdebt serve

  # Fetch the last two weeks and show the result
  sleepdebt sync --days 14 && sleepdebt status

  # Use an in-memory database
  sleepdebt --db=":memory:" preview

SEE ALSO:
  - config/config.go: Environment variables
  - cmd/sleepdebt/app.go: Dependency wiring
  - cmd/sleepdebt/serve.go: HTTP server
*/
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	envFile  string
	dbPath   string
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:          "sleepdebt",
	Short:        "Track accumulated sleep debt from a wearable provider",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", ".env file to load")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "SQLite database path (overrides DB_PATH)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (overrides LOG_LEVEL)")

	rootCmd.AddCommand(serveCmd, syncCmd, statusCmd, settingsCmd, previewCmd, resetCmd)
}

func main() {
	// Interrupting a one-shot command cancels its context so a sync can
	// record a clean failure. serve installs its own handler.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}
