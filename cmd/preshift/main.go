// Command preshift is the field client for pre-shift machine checks. It
// records checks offline in a local database and syncs them with the checklist
// server when a connection is available.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fieldops/preshift/internal/config"
	"github.com/fieldops/preshift/internal/logging"
)

var (
	configPath string
	verbose    bool

	cfg    *config.ClientConfig
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "preshift",
	Short: "Offline-first pre-shift machine checks",
	Long: `preshift records pre-shift checks of machines and syncs them with the
checklist server.

Checks are stored locally first and uploaded when the server is reachable, so
an operator can keep working without a connection.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.LoadClient(configPath)
		if err != nil {
			return err
		}
		if verbose {
			cfg.Log.Level = "debug"
		}
		logger, err = logging.New(cfg.Log)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default: ./preshift.yaml or ~/.preshift/preshift.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	rootCmd.AddGroup(
		&cobra.Group{ID: "checks", Title: "Checks:"},
		&cobra.Group{ID: "sync", Title: "Sync:"},
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", renderFail("Error:"), err)
		os.Exit(1)
	}
}
