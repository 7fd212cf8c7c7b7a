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
	"go.uber.org/zap"

	"github.com/fieldops/preshift/internal/server/httpapi"
)

var serveSeedPath string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Long: `Run the HTTP API until SIGINT or SIGTERM.

With --seed the reference data file is loaded before serving, which is the
usual way to populate the memory driver.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, closeStore, err := openService()
		if err != nil {
			return err
		}
		defer closeStore()

		if serveSeedPath != "" {
			data, err := loadSeedFile(serveSeedPath)
			if err != nil {
				return err
			}
			if err := svc.Seed(cmd.Context(), data.Assets, data.Checklists); err != nil {
				return err
			}
		}

		router := httpapi.NewRouter(cfg, svc, logger.Named("http"))
		server := &http.Server{
			Addr:         cfg.Server.Addr(),
			Handler:      router,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() {
			logger.Info("Server starting",
				zap.String("address", server.Addr),
				zap.String("environment", cfg.Server.Environment),
				zap.String("storage", cfg.Storage.Driver),
			)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
			close(errCh)
		}()

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case err := <-errCh:
			if err != nil {
				return err
			}
		case <-quit:
		}
		logger.Info("Shutting down server")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			return err
		}
		logger.Info("Server exited")
		return nil
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveSeedPath, "seed", "", "TOML reference data to load before serving")
	rootCmd.AddCommand(serveCmd)
}
