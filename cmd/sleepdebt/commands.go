package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"github.com/warp/sleep-debt/api"
	"github.com/warp/sleep-debt/debt"
	"github.com/warp/sleep-debt/dummy"
	"github.com/warp/sleep-debt/ingest"
	"github.com/warp/sleep-debt/sleep"
)

// =============================================================================
// SYNC
// =============================================================================

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Fetch recent nights from the provider",
	Long: `Fetch the last --days nights (today included) from the provider and
store them. When example-data mode is on and the provider cannot be used,
example nights fill the gaps instead.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		days, _ := cmd.Flags().GetInt("days")
		return withApp(cmd, func(ctx context.Context, a *app, out io.Writer) error {
			return runSync(ctx, a, out, days)
		})
	},
}

func runSync(ctx context.Context, a *app, out io.Writer, days int) error {
	settings, err := a.store.Get(ctx)
	if err != nil {
		return err
	}
	res, err := a.orch.Sync(ctx, ingest.SyncRequest{Days: days, Settings: settings, Today: a.today()})
	if err != nil {
		return err
	}

	if !res.Success {
		fmt.Fprintln(out, badStyle.Render("sync failed: "+res.Message))
		return errors.New("sync failed")
	}
	fmt.Fprintln(out, okStyle.Render(res.Message))
	fmt.Fprintf(out, "%s %s\n", label("Range"), res.Range)
	fmt.Fprintf(out, "%s inserted %d, updated %d, unchanged %d\n",
		label("Records"), res.Inserted, res.Updated, res.Unchanged)
	if res.UsedDummyData {
		fmt.Fprintf(out, "%s %s (%d provider nights kept)\n", label("Source"), exampleStyle.Render("example data"), res.Preserved)
	}
	if res.NormalizationFailures > 0 {
		fmt.Fprintf(out, "%s %d nights could not be read\n", label("Skipped"), res.NormalizationFailures)
	}
	return nil
}

// =============================================================================
// STATUS
// =============================================================================

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the current sleep debt",
	RunE: func(cmd *cobra.Command, _ []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")
		includeExamples, _ := cmd.Flags().GetBool("include-examples")
		return withApp(cmd, func(ctx context.Context, a *app, out io.Writer) error {
			return runStatus(ctx, a, out, debt.StatusOptions{IncludeExamples: includeExamples}, asJSON)
		})
	},
}

func runStatus(ctx context.Context, a *app, out io.Writer, opts debt.StatusOptions, asJSON bool) error {
	st, err := a.debt.Status(ctx, a.today(), opts)
	if err != nil {
		return err
	}
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(api.ToStatusDTO(st))
	}
	renderStatus(out, st)
	return nil
}

// =============================================================================
// SETTINGS
// =============================================================================

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Show or change settings",
}

var settingsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the current settings",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, runSettingsShow)
	},
}

var settingsSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Change one or more settings",
	Example: `  sleepdebt settings set --target 7.5
  sleepdebt settings set --window 14 --dummy=false`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		update, err := settingsUpdateFromFlags(cmd)
		if err != nil {
			return err
		}
		return withApp(cmd, func(ctx context.Context, a *app, out io.Writer) error {
			return runSettingsSet(ctx, a, out, update)
		})
	},
}

func bindSettingsFlags(cmd *cobra.Command) {
	cmd.Flags().Float64("target", 0, "target sleep hours per night")
	cmd.Flags().Int("window", 0, "debt window in days (7, 10, 14 or 30)")
	cmd.Flags().Bool("dummy", false, "fall back to example data when the provider fails")
}

// settingsUpdateFromFlags builds an update from the flags that were set.
func settingsUpdateFromFlags(cmd *cobra.Command) (sleep.SettingsUpdate, error) {
	var u sleep.SettingsUpdate
	flags := cmd.Flags()
	if flags.Changed("target") {
		v, _ := flags.GetFloat64("target")
		d := decimal.NewFromFloat(v)
		u.TargetSleepHours = &d
	}
	if flags.Changed("window") {
		v, _ := flags.GetInt("window")
		u.StatsWindowDays = &v
	}
	if flags.Changed("dummy") {
		v, _ := flags.GetBool("dummy")
		u.UseDummyData = &v
	}
	if u.IsEmpty() {
		return u, errors.New("nothing to change: pass --target, --window or --dummy")
	}
	return u, nil
}

func runSettingsShow(ctx context.Context, a *app, out io.Writer) error {
	s, err := a.store.Get(ctx)
	if err != nil {
		return err
	}
	renderSettings(out, s)
	return nil
}

func runSettingsSet(ctx context.Context, a *app, out io.Writer, update sleep.SettingsUpdate) error {
	s, err := a.store.Update(ctx, update)
	if err != nil {
		return err
	}
	a.logger.Info().
		Str("target_sleep_hours", s.TargetSleepHours.StringFixed(2)).
		Int("stats_window_days", s.StatsWindowDays).
		Bool("use_dummy_data", s.UseDummyData).
		Msg("settings updated")
	renderSettings(out, s)
	return nil
}

// =============================================================================
// PREVIEW
// =============================================================================

var previewCmd = &cobra.Command{
	Use:   "preview",
	Short: "Print example nights without storing them",
	RunE: func(cmd *cobra.Command, _ []string) error {
		days, _ := cmd.Flags().GetInt("days")
		return withApp(cmd, func(ctx context.Context, a *app, out io.Writer) error {
			return runPreview(ctx, a, out, days)
		})
	},
}

func runPreview(ctx context.Context, a *app, out io.Writer, days int) error {
	if days < 1 || days > ingest.MaxSyncDays {
		return fmt.Errorf("--days must be between 1 and %d, got %d", ingest.MaxSyncDays, days)
	}
	s, err := a.store.Get(ctx)
	if err != nil {
		return err
	}
	renderRecords(out, dummy.Preview(a.today(), days, s.TargetSleepHours))
	return nil
}

// =============================================================================
// RESET
// =============================================================================

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Delete all stored sleep records",
	RunE: func(cmd *cobra.Command, _ []string) error {
		yes, _ := cmd.Flags().GetBool("yes")
		history, _ := cmd.Flags().GetBool("history")
		if !yes {
			return errors.New("refusing to delete data without --yes")
		}
		return withApp(cmd, func(ctx context.Context, a *app, out io.Writer) error {
			return runReset(ctx, a, out, history)
		})
	},
}

func runReset(ctx context.Context, a *app, out io.Writer, history bool) error {
	if history {
		if err := a.store.Reset(ctx); err != nil {
			return err
		}
		fmt.Fprintln(out, "deleted all records and sync history")
		return nil
	}
	n, err := a.ledger.DeleteAll(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "deleted %d records\n", n)
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

func init() {
	syncCmd.Flags().Int("days", ingest.DefaultSyncDays, "number of days to fetch, today included")

	statusCmd.Flags().Bool("json", false, "print JSON instead of a table")
	statusCmd.Flags().Bool("include-examples", true, "count example nights")

	bindSettingsFlags(settingsSetCmd)
	settingsCmd.AddCommand(settingsShowCmd, settingsSetCmd)

	previewCmd.Flags().Int("days", 7, "number of example days")

	resetCmd.Flags().Bool("yes", false, "confirm deletion")
	resetCmd.Flags().Bool("history", false, "also delete sync history")
}

// withApp opens the application, runs fn and closes it again.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app, out io.Writer) error) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(cmd.Context(), a, cmd.OutOrStdout())
}
