// Command preshift-server is the checklist server: it serves reference data to
// field clients and accepts their check events and faults.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fieldops/preshift/internal/config"
	"github.com/fieldops/preshift/internal/logging"
	"github.com/fieldops/preshift/internal/server/postgres"
	"github.com/fieldops/preshift/internal/server/store"
)

var (
	configPath string

	cfg    *config.ServerConfig
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:          "preshift-server",
	Short:        "Checklist server for pre-shift checks",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.LoadServer(configPath)
		if err != nil {
			return err
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

// openService builds the store service on the configured driver. The
// returned close func releases the database, if any.
func openService() (*store.Service, func(), error) {
	switch cfg.Storage.Driver {
	case "postgres":
		if cfg.Database.Host == "" || cfg.Database.DBName == "" {
			return nil, nil, fmt.Errorf("database.host and database.name are required for the postgres driver")
		}
		db, err := postgres.NewDB(&cfg.Database, cfg.Server.Environment, logger.Named("postgres"))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		closeDB := func() {
			if err := db.Close(); err != nil {
				logger.Error("Failed to close database connection", zap.Error(err))
			}
		}
		return store.NewService(db.Repositories(), logger.Named("store")), closeDB, nil
	default:
		logger.Warn("Using in-memory storage; data is lost on restart")
		return store.NewService(store.NewMemoryRepositories(), logger.Named("store")), func() {}, nil
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default: ./preshift-server.yaml or ~/.preshift/preshift-server.yaml)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
