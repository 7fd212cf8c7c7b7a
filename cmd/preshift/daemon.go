package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fieldops/preshift/internal/connectivity"
	"github.com/fieldops/preshift/internal/dashboard"
	"github.com/fieldops/preshift/internal/inbox"
	"github.com/fieldops/preshift/internal/model"
)

var daemonCmd = &cobra.Command{
	Use:     "daemon",
	GroupID: "sync",
	Short:   "Watch the inbox and keep syncing in the background",
	Long: `Run in the foreground until interrupted:

  - answer files dropped into the inbox directory are recorded as checks
  - the server is probed periodically and whenever network interfaces change;
    coming online triggers a full sync
  - while online the queue is uploaded on a timer and after every new check
  - with dashboard.port set, live status is served over a WebSocket`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		return runDaemon(ctx, a)
	},
}

func runDaemon(ctx context.Context, a *app) error {
	monitor := connectivity.New(a.client, a.engine, &connectivity.Config{
		ProbeTimeout:     cfg.Connectivity.ProbeTimeout,
		RecheckInterval:  cfg.Connectivity.RecheckInterval,
		AutoSyncInterval: cfg.Connectivity.AutoSyncInterval,
		Logger:           logger.Named("connectivity"),
	})

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Dashboard.Port > 0 {
		srv := dashboard.NewServer(dashboard.Config{
			Addr:   fmt.Sprintf("127.0.0.1:%d", cfg.Dashboard.Port),
			Logger: logger.Named("dashboard"),
		})
		if err := srv.Start(); err != nil {
			return fmt.Errorf("failed to start dashboard: %w", err)
		}
		defer func() {
			if err := srv.Stop(); err != nil {
				logger.Warn("Dashboard did not stop cleanly", zap.Error(err))
			}
		}()

		bridge := dashboard.NewBridge(srv, logger.Named("dashboard"))
		monitor.OnChange(bridge.Connectivity)
		bridge.Connectivity(false)
		if st, err := a.store.Stats(ctx); err == nil {
			_ = srv.Publish(dashboard.MessageTypeStats, st)
		}
		_ = srv.Publish(dashboard.MessageTypeSyncStatus, a.engine.Status())

		stats, unsubStats := a.store.Subscribe()
		defer unsubStats()
		status, unsubStatus := a.engine.Subscribe()
		defer unsubStatus()

		g.Go(func() error {
			bridge.Run(gctx, stats, status)
			return nil
		})
		fmt.Printf("%s Dashboard on http://%s\n", renderAccent("●"), srv.Addr())
	}

	monitor.Start()
	defer monitor.Stop()

	g.Go(func() error {
		if err := monitor.WatchInterfaces(gctx, cfg.Connectivity.InterfacePoll); err != nil {
			logger.Warn("Network change detection disabled", zap.Error(err))
		}
		return nil
	})

	box := inbox.New(a.inspection, inbox.Config{
		Dir:      cfg.Inbox.Dir,
		Debounce: cfg.Inbox.Debounce,
		Logger:   logger.Named("inbox"),
		OnSaved: func(ev *model.PreShiftCheckEvent) {
			if !monitor.Online() {
				return
			}
			g.Go(func() error {
				rep := a.engine.SyncQueue(gctx)
				logger.Debug("Queue pushed after new check",
					zap.String("event_id", ev.EventID),
					zap.Int("events_synced", rep.EventsSynced),
					zap.Int("failed", rep.Failed()),
				)
				return nil
			})
		},
	})
	g.Go(func() error {
		return box.Run(gctx)
	})

	fmt.Printf("%s Watching %s (Ctrl+C to stop)\n", renderAccent("●"), cfg.Inbox.Dir)
	logger.Info("Daemon started",
		zap.String("inbox", cfg.Inbox.Dir),
		zap.String("server", cfg.Server.URL),
	)

	err := g.Wait()
	logger.Info("Daemon stopping")
	if err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

func init() {
	rootCmd.AddCommand(daemonCmd)
}
