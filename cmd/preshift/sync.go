package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fieldops/preshift/internal/local"
	engine "github.com/fieldops/preshift/internal/sync"
)

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "sync",
	Short:   "Run a full sync with the server",
	Long: `Run a full sync:
  1. Download assets and active checklists
  2. Upload queued checks, then queued faults
  3. Refresh open faults of every asset that received uploads
  4. Refresh the last failed check of every asset`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSync(cmd.Context(), func(a *app, ctx context.Context) engine.Report {
			return a.engine.InitialSync(ctx)
		})
	},
}

var pushCmd = &cobra.Command{
	Use:     "push",
	GroupID: "sync",
	Short:   "Upload queued checks and faults",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSync(cmd.Context(), func(a *app, ctx context.Context) engine.Report {
			return a.engine.SyncQueue(ctx)
		})
	},
}

func runSync(ctx context.Context, run func(*app, context.Context) engine.Report) error {
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.client.Probe(ctx); err != nil {
		return fmt.Errorf("server %s is not reachable: %w", cfg.Server.URL, err)
	}

	fmt.Printf("%s Syncing with %s...\n", renderAccent("⟳"), cfg.Server.URL)
	rep := run(a, ctx)
	printReport(rep)

	st := a.engine.Status()
	if st.State == engine.StateError {
		return errors.New(st.Message)
	}
	fmt.Printf("%s %s\n", renderPass("✓"), st.Message)
	return nil
}

func printReport(rep engine.Report) {
	if rep.Skipped {
		fmt.Println(renderWarn("  Another sync is running; nothing done."))
		return
	}
	if rep.Assets > 0 || rep.Checklists > 0 {
		printField(os.Stdout, "Assets", rep.Assets)
		printField(os.Stdout, "Checklists", rep.Checklists)
	}
	printField(os.Stdout, "Events synced", rep.EventsSynced)
	printField(os.Stdout, "Faults synced", rep.FaultsSynced)
	if rep.EventsFailed > 0 {
		printField(os.Stdout, "Events failed", renderFail(fmt.Sprint(rep.EventsFailed)))
	}
	if rep.FaultsFailed > 0 {
		printField(os.Stdout, "Faults failed", renderFail(fmt.Sprint(rep.FaultsFailed)))
	}
	if rep.RefreshFailures > 0 {
		printField(os.Stdout, "Refresh failures", renderFail(fmt.Sprint(rep.RefreshFailures)))
	}
	if len(rep.TouchedAssets) > 0 {
		printField(os.Stdout, "Refreshed assets", strings.Join(rep.TouchedAssets, ", "))
	}
}

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "sync",
	Short:   "Show queue, cache, and server status",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		printTitle(os.Stdout, "Device")
		if r, ok := a.store.Reporter(); ok {
			printField(os.Stdout, "Reporter", r.Name)
		} else {
			printField(os.Stdout, "Reporter", renderWarn("not set"))
		}
		printField(os.Stdout, "Store", a.store.Path())
		last, _ := a.store.LastSyncAt()
		printField(os.Stdout, "Last sync", formatWhen(last))

		stats, err := a.store.Stats(ctx)
		switch {
		case errors.Is(err, local.ErrDegraded):
			printField(os.Stdout, "Local store", renderFail("degraded"))
		case err != nil:
			return err
		default:
			printTitle(os.Stdout, "Queue")
			printField(os.Stdout, "Pending checks", stats.PendingEvents)
			printField(os.Stdout, "Failed checks", countStyle(stats.ErrorEvents))
			printField(os.Stdout, "Pending faults", stats.PendingFaults)
			printField(os.Stdout, "Failed faults", countStyle(stats.ErrorFaults))

			printTitle(os.Stdout, "Cache")
			printField(os.Stdout, "Assets", stats.Assets)
			printField(os.Stdout, "Checklists", stats.Checklists)
			printField(os.Stdout, "Open faults", stats.OpenFaults)
			printField(os.Stdout, "Unresolved fails", stats.LastFailedChecks)
		}

		printTitle(os.Stdout, "Server")
		printField(os.Stdout, "URL", cfg.Server.URL)
		if err := a.client.Probe(ctx); err != nil {
			printField(os.Stdout, "Reachable", renderFail("no"))
			fmt.Println()
			return nil
		}
		printField(os.Stdout, "Reachable", renderPass("yes"))
		if srv, err := a.client.Status(ctx); err == nil {
			printField(os.Stdout, "Events", srv.Events)
			printField(os.Stdout, "Open faults", srv.OpenFaults)
		}
		fmt.Println()
		return nil
	},
}

func countStyle(n int) string {
	if n > 0 {
		return renderFail(fmt.Sprint(n))
	}
	return fmt.Sprint(n)
}

func init() {
	rootCmd.AddCommand(syncCmd, pushCmd, statusCmd)
}
