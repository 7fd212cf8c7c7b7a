package sync

import (
	"context"
	"fmt"
	"sort"
	gosync "sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fieldops/preshift/internal/model"
)

// DefaultConcurrency bounds parallel per-asset cache fetches.
const DefaultConcurrency = 4

// Store is the local persistence the engine reads pending work from and writes
// outcomes to.
type Store interface {
	Reporter() (model.Reporter, bool)
	SetLastSyncAt(ctx context.Context, t time.Time) error

	ReplaceAssets(ctx context.Context, assets []model.Asset) error
	ReplaceChecklists(ctx context.Context, checklists []model.Checklist) (int, error)

	PendingEvents(ctx context.Context) ([]*model.PreShiftCheckEvent, error)
	GetEvent(ctx context.Context, eventID string) (*model.PreShiftCheckEvent, error)
	PutEvent(ctx context.Context, ev *model.PreShiftCheckEvent) error

	PendingFaults(ctx context.Context) ([]*model.Fault, error)
	GetFault(ctx context.Context, faultID string) (*model.Fault, error)
	PutFault(ctx context.Context, f *model.Fault) error
	ReplaceOpenFaults(ctx context.Context, assetID string, faults []*model.Fault) error

	PutLastFailedCheck(ctx context.Context, assetID string, ev *model.PreShiftCheckEvent) error
	ReplaceLastFailedChecks(ctx context.Context, checks map[string]*model.PreShiftCheckEvent) error
}

// Remote is the server API the engine talks to.
type Remote interface {
	ListAssets(ctx context.Context) ([]model.Asset, error)
	ListChecklists(ctx context.Context) ([]model.Checklist, error)
	BatchUpsertEvents(ctx context.Context, events []*model.PreShiftCheckEvent) (*model.BatchResponse, error)
	BatchUpsertFaults(ctx context.Context, faults []*model.Fault) (*model.BatchResponse, error)
	ListFaults(ctx context.Context, assetID string, status model.FaultStatus) ([]model.Fault, error)
	LastFailedCheck(ctx context.Context, assetID string) (*model.PreShiftCheckEvent, error)
}

// Report summarizes one entry point call.
type Report struct {
	// Skipped is set when the call found another one in progress and did nothing.
	Skipped bool

	Assets     int
	Checklists int

	EventsSynced int
	EventsFailed int
	FaultsSynced int
	FaultsFailed int

	// TouchedAssets are the assets the server accepted records for, sorted.
	TouchedAssets []string

	RefreshFailures int
}

// Failed is the number of records left in ERROR plus failed cache refreshes.
func (r Report) Failed() int {
	return r.EventsFailed + r.FaultsFailed + r.RefreshFailures
}

// Engine drives uploads and cache reconciliation.
type Engine struct {
	store       Store
	remote      Remote
	logger      *zap.Logger
	now         func() time.Time
	concurrency int

	// drainMu admits one queue drain at a time.
	drainMu gosync.Mutex
	// fullMu admits one InitialSync at a time.
	fullMu gosync.Mutex

	statusMu gosync.RWMutex
	status   Status
	subs     map[chan Status]struct{}
}

// New creates an Engine. A nil logger discards output.
func New(store Store, remote Remote, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		store:       store,
		remote:      remote,
		logger:      logger,
		now:         time.Now,
		concurrency: DefaultConcurrency,
		status:      Status{State: StateIdle},
		subs:        make(map[chan Status]struct{}),
	}
	if ls, ok := store.(interface{ LastSyncAt() (time.Time, bool) }); ok {
		if t, ok := ls.LastSyncAt(); ok {
			e.status.LastSyncAt = t
		}
	}
	return e
}

// InitialSync performs the full refresh: reference data, queue drain, then the
// last-failed-check cache for every asset. A call made while another
// InitialSync is running is skipped. The drain step waits for an in-flight
// SyncQueue rather than skipping.
func (e *Engine) InitialSync(ctx context.Context) Report {
	if !e.fullMu.TryLock() {
		e.logger.Debug("Initial sync already running, skipping")
		return Report{Skipped: true}
	}
	defer e.fullMu.Unlock()

	var rep Report
	e.setStatus(StateSyncing, "Refreshing reference data")

	var (
		assets     []model.Asset
		checklists []model.Checklist
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		assets, err = e.remote.ListAssets(gctx)
		if err != nil {
			return fmt.Errorf("failed to fetch assets: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		checklists, err = e.remote.ListChecklists(gctx)
		if err != nil {
			return fmt.Errorf("failed to fetch checklists: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		e.fail("Reference data refresh failed", err)
		return rep
	}

	if err := e.store.ReplaceAssets(ctx, assets); err != nil {
		e.fail("Failed to store assets", err)
		return rep
	}
	n, err := e.store.ReplaceChecklists(ctx, checklists)
	if err != nil {
		e.fail("Failed to store checklists", err)
		return rep
	}
	rep.Assets = len(assets)
	rep.Checklists = n
	e.logger.Info("Reference data refreshed",
		zap.Int("assets", rep.Assets),
		zap.Int("checklists", rep.Checklists),
	)

	if _, ok := e.store.Reporter(); !ok {
		e.logger.Warn("Reporter identity not set, skipping queue drain")
	} else {
		e.setStatus(StateSyncing, "Uploading pending records")
		e.drainMu.Lock()
		touched, err := e.drain(ctx, &rep)
		if err == nil {
			e.refreshOpenFaults(ctx, touched, &rep)
		}
		e.drainMu.Unlock()
		if err != nil {
			e.fail("Upload failed", err)
			return rep
		}
	}

	e.setStatus(StateSyncing, "Refreshing failed checks")
	checks, err := e.fetchLastFailed(ctx, assets)
	if err != nil {
		e.fail("Failed check refresh failed", err)
		return rep
	}
	if err := e.store.ReplaceLastFailedChecks(ctx, checks); err != nil {
		e.fail("Failed to store failed checks", err)
		return rep
	}

	e.finish(ctx, rep)
	return rep
}

// SyncQueue uploads pending events, then pending faults, then refreshes the
// caches of the assets the server accepted records for. It is a no-op while
// another drain is in flight and aborts when no reporter identity is set.
func (e *Engine) SyncQueue(ctx context.Context) Report {
	if !e.drainMu.TryLock() {
		e.logger.Debug("Queue drain already running, skipping")
		return Report{Skipped: true}
	}
	defer e.drainMu.Unlock()

	var rep Report
	if _, ok := e.store.Reporter(); !ok {
		e.setStatus(StateError, "Reporter identity not set, sync aborted")
		e.logger.Warn("Reporter identity not set, sync aborted")
		return rep
	}

	e.setStatus(StateSyncing, "Uploading pending records")
	touched, err := e.drain(ctx, &rep)
	if err != nil {
		e.fail("Upload failed", err)
		return rep
	}

	e.setStatus(StateSyncing, "Refreshing asset caches")
	e.refreshOpenFaults(ctx, touched, &rep)
	e.refreshLastFailed(ctx, touched, &rep)

	e.finish(ctx, rep)
	return rep
}

// drain uploads pending events and then pending faults. It returns an error
// only when the local store cannot be read; upload failures are recorded on
// the records. Callers hold drainMu.
func (e *Engine) drain(ctx context.Context, rep *Report) ([]string, error) {
	touched := make(map[string]struct{})

	events, err := e.store.PendingEvents(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read pending events: %w", err)
	}
	if len(events) > 0 {
		resp, err := e.remote.BatchUpsertEvents(ctx, events)
		if err != nil {
			e.logger.Warn("Event batch upload failed",
				zap.Int("count", len(events)),
				zap.Error(err),
			)
		}
		for _, ev := range events {
			if msg, failed := outcome(ev.EventID, resp, err); failed {
				e.markEventError(ctx, ev, msg)
				rep.EventsFailed++
				continue
			}
			touched[ev.AssetID] = struct{}{}
			if e.markEventSynced(ctx, ev) {
				rep.EventsSynced++
			}
		}
	}

	faults, err := e.store.PendingFaults(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read pending faults: %w", err)
	}
	if len(faults) > 0 {
		resp, err := e.remote.BatchUpsertFaults(ctx, faults)
		if err != nil {
			e.logger.Warn("Fault batch upload failed",
				zap.Int("count", len(faults)),
				zap.Error(err),
			)
		}
		for _, f := range faults {
			if msg, failed := outcome(f.FaultID, resp, err); failed {
				e.markFaultError(ctx, f, msg)
				rep.FaultsFailed++
				continue
			}
			touched[f.AssetID] = struct{}{}
			if e.markFaultSynced(ctx, f) {
				rep.FaultsSynced++
			}
		}
	}

	ids := make([]string, 0, len(touched))
	for id := range touched {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	rep.TouchedAssets = ids
	return ids, nil
}

// outcome decides whether one record of a batch failed, and why. A transport
// error fails the whole batch.
func outcome(id string, resp *model.BatchResponse, transportErr error) (string, bool) {
	if transportErr != nil {
		return transportErr.Error(), true
	}
	if resp == nil {
		return "empty batch response", true
	}
	return resp.ErrorFor(id)
}

// markEventSynced flips the stored copy to SYNCED unless it was edited while
// the upload was in flight, in which case it stays PENDING for the next drain.
func (e *Engine) markEventSynced(ctx context.Context, uploaded *model.PreShiftCheckEvent) bool {
	cur, err := e.store.GetEvent(ctx, uploaded.EventID)
	if err != nil {
		e.logger.Warn("Uploaded event vanished locally",
			zap.String("event_id", uploaded.EventID),
			zap.Error(err),
		)
		return false
	}
	if !cur.UpdatedAt.Equal(uploaded.UpdatedAt) {
		e.logger.Info("Event edited during upload, leaving pending",
			zap.String("event_id", uploaded.EventID))
		return false
	}

	cur.SyncStatus = model.SyncSynced
	cur.LastError = ""
	if err := e.store.PutEvent(ctx, cur); err != nil {
		e.logger.Error("Failed to mark event synced",
			zap.String("event_id", cur.EventID),
			zap.Error(err),
		)
		return false
	}
	return true
}

func (e *Engine) markEventError(ctx context.Context, uploaded *model.PreShiftCheckEvent, msg string) {
	cur, err := e.store.GetEvent(ctx, uploaded.EventID)
	if err != nil {
		e.logger.Warn("Failed event vanished locally",
			zap.String("event_id", uploaded.EventID),
			zap.Error(err),
		)
		return
	}

	cur.SyncStatus = model.SyncError
	cur.LastError = msg
	if err := e.store.PutEvent(ctx, cur); err != nil {
		e.logger.Error("Failed to mark event errored",
			zap.String("event_id", cur.EventID),
			zap.Error(err),
		)
	}
}

func (e *Engine) markFaultSynced(ctx context.Context, uploaded *model.Fault) bool {
	cur, err := e.store.GetFault(ctx, uploaded.FaultID)
	if err != nil {
		e.logger.Warn("Uploaded fault vanished locally",
			zap.String("fault_id", uploaded.FaultID),
			zap.Error(err),
		)
		return false
	}
	if !cur.UpdatedAt.Equal(uploaded.UpdatedAt) {
		e.logger.Info("Fault edited during upload, leaving pending",
			zap.String("fault_id", uploaded.FaultID))
		return false
	}

	cur.SyncStatus = model.SyncSynced
	cur.LastError = ""
	if err := e.store.PutFault(ctx, cur); err != nil {
		e.logger.Error("Failed to mark fault synced",
			zap.String("fault_id", cur.FaultID),
			zap.Error(err),
		)
		return false
	}
	return true
}

func (e *Engine) markFaultError(ctx context.Context, uploaded *model.Fault, msg string) {
	cur, err := e.store.GetFault(ctx, uploaded.FaultID)
	if err != nil {
		e.logger.Warn("Failed fault vanished locally",
			zap.String("fault_id", uploaded.FaultID),
			zap.Error(err),
		)
		return
	}

	cur.SyncStatus = model.SyncError
	cur.LastError = msg
	if err := e.store.PutFault(ctx, cur); err != nil {
		e.logger.Error("Failed to mark fault errored",
			zap.String("fault_id", cur.FaultID),
			zap.Error(err),
		)
	}
}

// refreshOpenFaults replaces the cached OPEN faults of each asset with the
// server's list. Failures are counted, not fatal.
func (e *Engine) refreshOpenFaults(ctx context.Context, assetIDs []string, rep *Report) {
	e.forEachAsset(ctx, assetIDs, rep, func(ctx context.Context, assetID string) error {
		remote, err := e.remote.ListFaults(ctx, assetID, model.FaultOpen)
		if err != nil {
			return fmt.Errorf("failed to fetch open faults: %w", err)
		}
		faults := make([]*model.Fault, len(remote))
		for i := range remote {
			faults[i] = &remote[i]
		}
		return e.store.ReplaceOpenFaults(ctx, assetID, faults)
	})
}

// refreshLastFailed updates the last-failed-check cache entry of each asset.
func (e *Engine) refreshLastFailed(ctx context.Context, assetIDs []string, rep *Report) {
	e.forEachAsset(ctx, assetIDs, rep, func(ctx context.Context, assetID string) error {
		ev, err := e.remote.LastFailedCheck(ctx, assetID)
		if err != nil {
			return fmt.Errorf("failed to fetch last failed check: %w", err)
		}
		return e.store.PutLastFailedCheck(ctx, assetID, ev)
	})
}

func (e *Engine) forEachAsset(ctx context.Context, assetIDs []string, rep *Report, fn func(context.Context, string) error) {
	var (
		mu       gosync.Mutex
		failures int
		g        errgroup.Group
	)
	g.SetLimit(e.concurrency)

	for _, id := range assetIDs {
		g.Go(func() error {
			if err := fn(ctx, id); err != nil {
				e.logger.Warn("Asset cache refresh failed",
					zap.String("asset_id", id),
					zap.Error(err),
				)
				mu.Lock()
				failures++
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	rep.RefreshFailures += failures
}

// fetchLastFailed fetches the last failed check of every asset. Any failure
// aborts the whole refresh so a partial result never replaces the cache.
func (e *Engine) fetchLastFailed(ctx context.Context, assets []model.Asset) (map[string]*model.PreShiftCheckEvent, error) {
	var mu gosync.Mutex
	checks := make(map[string]*model.PreShiftCheckEvent, len(assets))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for _, a := range assets {
		g.Go(func() error {
			ev, err := e.remote.LastFailedCheck(gctx, a.AssetID)
			if err != nil {
				return fmt.Errorf("failed to fetch last failed check for %s: %w", a.AssetID, err)
			}
			mu.Lock()
			checks[a.AssetID] = ev
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return checks, nil
}

// finish publishes the final state of a completed run.
func (e *Engine) finish(ctx context.Context, rep Report) {
	if n := rep.Failed(); n > 0 {
		e.setStatus(StateError, fmt.Sprintf("Sync finished with %d failures (%d events, %d faults uploaded)",
			n, rep.EventsSynced, rep.FaultsSynced))
		return
	}

	now := e.now()
	if err := e.store.SetLastSyncAt(ctx, now); err != nil {
		e.logger.Warn("Failed to record last sync time", zap.Error(err))
	}

	e.statusMu.Lock()
	e.status.LastSyncAt = now
	e.statusMu.Unlock()

	e.setStatus(StateSuccess, fmt.Sprintf("Synced %d events and %d faults", rep.EventsSynced, rep.FaultsSynced))
	e.logger.Info("Sync complete",
		zap.Int("events", rep.EventsSynced),
		zap.Int("faults", rep.FaultsSynced),
		zap.Strings("touched_assets", rep.TouchedAssets),
	)
}

func (e *Engine) fail(msg string, err error) {
	e.logger.Error(msg, zap.Error(err))
	e.setStatus(StateError, fmt.Sprintf("%s: %v", msg, err))
}
