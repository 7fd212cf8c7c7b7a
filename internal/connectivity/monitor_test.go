package connectivity

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	engine "github.com/fieldops/preshift/internal/sync"
)

type fakeProber struct {
	mu    sync.Mutex
	err   error
	calls atomic.Int32
	delay time.Duration
}

func (p *fakeProber) Probe(ctx context.Context) error {
	p.calls.Add(1)
	if p.delay > 0 {
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func (p *fakeProber) set(err error) {
	p.mu.Lock()
	p.err = err
	p.mu.Unlock()
}

type fakeSyncer struct {
	full  atomic.Int32
	queue atomic.Int32
}

func (s *fakeSyncer) InitialSync(ctx context.Context) engine.Report {
	s.full.Add(1)
	return engine.Report{}
}

func (s *fakeSyncer) SyncQueue(ctx context.Context) engine.Report {
	s.queue.Add(1)
	return engine.Report{}
}

var errDown = errors.New("connection refused")

func newTestMonitor(p Prober, s Syncer, autosync time.Duration) *Monitor {
	return New(p, s, &Config{
		ProbeTimeout:     50 * time.Millisecond,
		RecheckInterval:  time.Hour,
		AutoSyncInterval: autosync,
	})
}

// eventually polls cond until it holds or a second passes.
func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("Timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// TestCheckConnectivity_EdgeTriggersFullSync tests that only an offline to
// online edge starts a full sync.
func TestCheckConnectivity_EdgeTriggersFullSync(t *testing.T) {
	p := &fakeProber{}
	s := &fakeSyncer{}
	m := newTestMonitor(p, s, time.Hour)
	defer m.Stop()

	ctx := context.Background()
	if m.Online() {
		t.Fatal("Monitor should start offline")
	}

	if !m.CheckConnectivity(ctx) || !m.Online() {
		t.Fatal("Successful probe should go online")
	}
	eventually(t, "first full sync", func() bool { return s.full.Load() == 1 })

	// Steady-state online does not resync.
	m.CheckConnectivity(ctx)
	m.CheckConnectivity(ctx)
	time.Sleep(20 * time.Millisecond)
	if n := s.full.Load(); n != 1 {
		t.Errorf("full syncs while steadily online = %d, want 1", n)
	}

	// Offline then online again is a new edge.
	p.set(errDown)
	if m.CheckConnectivity(ctx) || m.Online() {
		t.Fatal("Failed probe should go offline")
	}
	p.set(nil)
	m.CheckConnectivity(ctx)
	eventually(t, "second full sync", func() bool { return s.full.Load() == 2 })
}

// TestCheckConnectivity_FailureWhileOffline tests that a failed probe while
// offline changes nothing.
func TestCheckConnectivity_FailureWhileOffline(t *testing.T) {
	p := &fakeProber{err: errDown}
	s := &fakeSyncer{}
	m := newTestMonitor(p, s, time.Hour)
	defer m.Stop()

	if m.CheckConnectivity(context.Background()) {
		t.Error("CheckConnectivity() = true with a failing probe")
	}
	if m.Online() {
		t.Error("Monitor went online with a failing probe")
	}
	if n := s.full.Load(); n != 0 {
		t.Errorf("full syncs = %d, want 0", n)
	}
}

// TestCheckConnectivity_ProbeTimeout tests that a hanging probe is cut off.
func TestCheckConnectivity_ProbeTimeout(t *testing.T) {
	p := &fakeProber{delay: time.Second}
	m := newTestMonitor(p, &fakeSyncer{}, time.Hour)
	defer m.Stop()

	start := time.Now()
	if m.CheckConnectivity(context.Background()) {
		t.Error("CheckConnectivity() = true for a timed out probe")
	}
	if d := time.Since(start); d >= 500*time.Millisecond {
		t.Errorf("CheckConnectivity() took %v, want under the probe timeout margin", d)
	}
}

// TestAutoSync_RunsWhileOnlineAndStopsOffline tests the auto-sync timer
// lifecycle.
func TestAutoSync_RunsWhileOnlineAndStopsOffline(t *testing.T) {
	p := &fakeProber{}
	s := &fakeSyncer{}
	m := newTestMonitor(p, s, 10*time.Millisecond)
	defer m.Stop()

	ctx := context.Background()
	if !m.CheckConnectivity(ctx) {
		t.Fatal("CheckConnectivity() = false")
	}
	eventually(t, "auto-sync ticks", func() bool { return s.queue.Load() >= 2 })

	p.set(errDown)
	if m.CheckConnectivity(ctx) {
		t.Fatal("CheckConnectivity() = true with a failing probe")
	}

	// Allow a tick already in flight to land.
	time.Sleep(30 * time.Millisecond)
	stopped := s.queue.Load()
	time.Sleep(50 * time.Millisecond)
	if n := s.queue.Load(); n != stopped {
		t.Errorf("queue drains after going offline: %d -> %d", stopped, n)
	}
}

// TestOnChange tests that listeners see each transition once.
func TestOnChange(t *testing.T) {
	p := &fakeProber{}
	m := newTestMonitor(p, &fakeSyncer{}, time.Hour)
	defer m.Stop()

	var (
		mu      sync.Mutex
		changes []bool
	)
	m.OnChange(func(online bool) {
		mu.Lock()
		changes = append(changes, online)
		mu.Unlock()
	})

	ctx := context.Background()
	m.CheckConnectivity(ctx)
	m.CheckConnectivity(ctx)
	p.set(errDown)
	m.CheckConnectivity(ctx)
	m.CheckConnectivity(ctx)

	mu.Lock()
	defer mu.Unlock()
	if len(changes) != 2 || !changes[0] || changes[1] {
		t.Errorf("changes = %v, want [true false]", changes)
	}
}

// TestStart_ProbesImmediately tests that Start does not wait a full recheck
// interval before the first probe.
func TestStart_ProbesImmediately(t *testing.T) {
	p := &fakeProber{}
	s := &fakeSyncer{}
	m := newTestMonitor(p, s, time.Hour)

	m.Start()
	eventually(t, "online", m.Online)
	eventually(t, "full sync", func() bool { return s.full.Load() == 1 })
	m.Stop()
}

// TestNotifyNetworkChange_ProbesActively tests that a passive signal is
// confirmed with a probe before the state changes.
func TestNotifyNetworkChange_ProbesActively(t *testing.T) {
	p := &fakeProber{err: errDown}
	m := newTestMonitor(p, &fakeSyncer{}, time.Hour)
	defer m.Stop()

	m.NotifyNetworkChange()
	eventually(t, "probe", func() bool { return p.calls.Load() == 1 })
	if m.Online() {
		t.Error("Monitor went online on a passive signal")
	}
}

// TestNotifyNetworkChange_AfterStop tests that a late signal is ignored.
func TestNotifyNetworkChange_AfterStop(t *testing.T) {
	p := &fakeProber{}
	m := newTestMonitor(p, &fakeSyncer{}, time.Hour)
	m.Stop()

	m.NotifyNetworkChange()
	time.Sleep(20 * time.Millisecond)
	if n := p.calls.Load(); n != 0 {
		t.Errorf("probes after Stop = %d, want 0", n)
	}
}

// TestWatch_ChecksOnInterfaceChange tests that a changed interface set triggers a
// connectivity check and an unchanged one does not.
func TestWatch_ChecksOnInterfaceChange(t *testing.T) {
	p := &fakeProber{}
	m := newTestMonitor(p, &fakeSyncer{}, time.Hour)
	defer m.Stop()

	var mu sync.Mutex
	state := "wlan0=10.0.0.2/24"
	fingerprint := func() (string, error) {
		mu.Lock()
		defer mu.Unlock()
		return state, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.watch(ctx, 5*time.Millisecond, fingerprint) }()

	time.Sleep(30 * time.Millisecond)
	if n := p.calls.Load(); n != 0 {
		t.Fatalf("probes without a change = %d, want 0", n)
	}

	mu.Lock()
	state = "wlan0=10.0.0.2/24;wwan0=100.64.0.9/32"
	mu.Unlock()

	eventually(t, "online after interface change", m.Online)
	if n := p.calls.Load(); n != 1 {
		t.Errorf("probes = %d, want 1", n)
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("watch() = %v, want nil", err)
	}
}

// TestWatch_FailsWithoutInterfaces tests that an unreadable interface list is
// reported up front.
func TestWatch_FailsWithoutInterfaces(t *testing.T) {
	m := newTestMonitor(&fakeProber{}, &fakeSyncer{}, time.Hour)
	defer m.Stop()

	err := m.watch(context.Background(), time.Millisecond, func() (string, error) {
		return "", errors.New("netlink unavailable")
	})
	if err == nil {
		t.Fatal("watch() = nil, want error")
	}
}
