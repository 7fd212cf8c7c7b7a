// Package connectivity decides whether the checklist server is reachable.
//
// The monitor:
// 1. Confirms connectivity with a real round trip, never a passive interface signal
// 2. Re-probes on a short recheck interval while running
// 3. On an offline->online edge, runs a full sync and starts the auto-sync timer
// 4. On probe failure, goes offline and halts the auto-sync timer
package connectivity

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	engine "github.com/fieldops/preshift/internal/sync"
)

// Prober performs one active reachability check.
type Prober interface {
	Probe(ctx context.Context) error
}

// Syncer is triggered by connectivity transitions and the auto-sync timer.
type Syncer interface {
	InitialSync(ctx context.Context) engine.Report
	SyncQueue(ctx context.Context) engine.Report
}

// Config holds configuration for the monitor.
type Config struct {
	// ProbeTimeout bounds each probe
	ProbeTimeout time.Duration

	// RecheckInterval is how often to re-probe while running
	RecheckInterval time.Duration

	// AutoSyncInterval is how often to drain the queue while online
	AutoSyncInterval time.Duration

	Logger *zap.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		ProbeTimeout:     3 * time.Second,
		RecheckInterval:  10 * time.Second,
		AutoSyncInterval: 2 * time.Minute,
		Logger:           zap.NewNop(),
	}
}

// Monitor tracks online/offline state. It starts offline, so the first
// successful probe counts as an offline->online edge.
type Monitor struct {
	prober Prober
	syncer Syncer
	config *Config

	mu         sync.Mutex
	online     bool
	autoCancel context.CancelFunc
	listeners  []func(online bool)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Monitor. Use Start to begin periodic probing.
func New(prober Prober, syncer Syncer, config *Config) *Monitor {
	defaults := DefaultConfig()
	if config == nil {
		config = defaults
	}
	if config.ProbeTimeout <= 0 {
		config.ProbeTimeout = defaults.ProbeTimeout
	}
	if config.RecheckInterval <= 0 {
		config.RecheckInterval = defaults.RecheckInterval
	}
	if config.AutoSyncInterval <= 0 {
		config.AutoSyncInterval = defaults.AutoSyncInterval
	}
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Monitor{
		prober: prober,
		syncer: syncer,
		config: config,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start probes once and then keeps re-probing on the recheck interval until
// Stop is called.
func (m *Monitor) Start() {
	m.config.Logger.Info("Starting connectivity monitor",
		zap.Duration("recheck_interval", m.config.RecheckInterval),
		zap.Duration("autosync_interval", m.config.AutoSyncInterval),
	)

	m.wg.Add(1)
	go m.recheckLoop()
}

// Stop halts probing, the auto-sync timer, and waits for triggered syncs to
// return.
func (m *Monitor) Stop() {
	m.cancel()

	m.mu.Lock()
	m.stopAutoSyncLocked()
	m.mu.Unlock()

	m.wg.Wait()
	m.config.Logger.Info("Connectivity monitor stopped")
}

// Online reports the last known state.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// OnChange registers fn to be called after every online/offline transition.
func (m *Monitor) OnChange(fn func(online bool)) {
	m.mu.Lock()
	m.listeners = append(m.listeners, fn)
	m.mu.Unlock()
}

// NotifyNetworkChange reacts to a passive network signal (interface up/down).
// The signal alone is not trusted; it only schedules an active probe.
func (m *Monitor) NotifyNetworkChange() {
	if m.ctx.Err() != nil {
		return
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.CheckConnectivity(m.ctx)
	}()
}

// CheckConnectivity probes the server and updates the state. A success after
// an offline state triggers a full sync and (re)starts auto-sync; a failure
// goes offline and halts auto-sync.
func (m *Monitor) CheckConnectivity(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, m.config.ProbeTimeout)
	err := m.prober.Probe(probeCtx)
	cancel()

	if err != nil {
		m.setOffline(err)
		return false
	}
	m.setOnline()
	return true
}

func (m *Monitor) setOnline() {
	m.mu.Lock()
	if m.online {
		m.mu.Unlock()
		return
	}
	if m.ctx.Err() != nil {
		m.mu.Unlock()
		return
	}

	m.online = true
	m.config.Logger.Info("Server reachable, going online")

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.syncer.InitialSync(m.ctx)
	}()

	m.stopAutoSyncLocked()
	autoCtx, autoCancel := context.WithCancel(m.ctx)
	m.autoCancel = autoCancel
	m.wg.Add(1)
	go m.autoSyncLoop(autoCtx)

	listeners := append([]func(bool){}, m.listeners...)
	m.mu.Unlock()

	for _, fn := range listeners {
		fn(true)
	}
}

func (m *Monitor) setOffline(cause error) {
	m.mu.Lock()
	was := m.online
	m.online = false
	m.stopAutoSyncLocked()
	listeners := append([]func(bool){}, m.listeners...)
	m.mu.Unlock()

	if !was {
		m.config.Logger.Debug("Server still unreachable", zap.Error(cause))
		return
	}

	m.config.Logger.Warn("Server unreachable, going offline", zap.Error(cause))
	for _, fn := range listeners {
		fn(false)
	}
}

func (m *Monitor) stopAutoSyncLocked() {
	if m.autoCancel != nil {
		m.autoCancel()
		m.autoCancel = nil
	}
}

// recheckLoop probes immediately and then on every tick.
func (m *Monitor) recheckLoop() {
	defer m.wg.Done()

	m.CheckConnectivity(m.ctx)

	ticker := time.NewTicker(m.config.RecheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return

		case <-ticker.C:
			m.CheckConnectivity(m.ctx)
		}
	}
}

// autoSyncLoop drains the queue on every tick until ctx is cancelled.
func (m *Monitor) autoSyncLoop(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.config.AutoSyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			rep := m.syncer.SyncQueue(ctx)
			if rep.Skipped {
				m.config.Logger.Debug("Auto-sync skipped, drain in progress")
			}
		}
	}
}
