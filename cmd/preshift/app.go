package main

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/fieldops/preshift/internal/api"
	"github.com/fieldops/preshift/internal/inspection"
	"github.com/fieldops/preshift/internal/local"
	"github.com/fieldops/preshift/internal/model"
	engine "github.com/fieldops/preshift/internal/sync"
)

// app bundles the client components every command works with.
type app struct {
	store      *local.Store
	client     *api.Client
	engine     *engine.Engine
	inspection *inspection.Service
}

// openApp opens and initializes the local store and wires the rest on top.
// A store that fails to initialize is still returned so commands that only
// need cached metadata keep working; the init error is logged.
func openApp(ctx context.Context) (*app, error) {
	store, err := local.Open(cfg.Store.Path,
		local.WithLogger(logger.Named("store")),
		local.WithInitTimeout(cfg.Store.InitTimeout),
	)
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		if !errors.Is(err, local.ErrInitTimeout) {
			_ = store.Close()
			return nil, err
		}
		logger.Warn("Continuing with degraded local store", zap.Error(err))
	}

	if err := seedReporter(ctx, store); err != nil {
		logger.Warn("Could not store reporter from config", zap.Error(err))
	}

	client := api.NewClient(api.Config{
		BaseURL:        cfg.Server.URL,
		RequestTimeout: cfg.Sync.RequestTimeout,
		ProbeTimeout:   cfg.Connectivity.ProbeTimeout,
		RetryCount:     cfg.Sync.RetryCount,
		RetryWait:      cfg.Sync.RetryWait,
		RetryMaxWait:   cfg.Sync.RetryMaxWait,
	}, logger.Named("api"))

	return &app{
		store:      store,
		client:     client,
		engine:     engine.New(store, client, logger.Named("sync")),
		inspection: inspection.New(store, logger.Named("inspection")),
	}, nil
}

// seedReporter stores the configured reporter when the store has none yet.
func seedReporter(ctx context.Context, store *local.Store) error {
	if cfg.Reporter.Name == "" {
		return nil
	}
	if _, ok := store.Reporter(); ok {
		return nil
	}
	return store.SetReporter(ctx, model.Reporter{Name: cfg.Reporter.Name, UserID: cfg.Reporter.UserID})
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		logger.Warn("Failed to close local store", zap.Error(err))
	}
}
