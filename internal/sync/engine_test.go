package sync

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"slices"
	"strings"
	gosync "sync"
	"testing"
	"time"

	"github.com/fieldops/preshift/internal/local"
	"github.com/fieldops/preshift/internal/model"
)

// fakeRemote is an in-memory server that records the order of calls.
type fakeRemote struct {
	mu    gosync.Mutex
	calls []string

	assets     []model.Asset
	checklists []model.Checklist
	events     map[string]*model.PreShiftCheckEvent
	faults     map[string]*model.Fault
	lastFailed map[string]*model.PreShiftCheckEvent

	refErr    error
	eventsErr error
	faultsErr error
	reject    map[string]string

	// onEvents runs inside BatchUpsertEvents before the response is returned.
	onEvents func()
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		events:     make(map[string]*model.PreShiftCheckEvent),
		faults:     make(map[string]*model.Fault),
		lastFailed: make(map[string]*model.PreShiftCheckEvent),
		reject:     make(map[string]string),
	}
}

func (f *fakeRemote) record(call string) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
}

func (f *fakeRemote) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeRemote) ListAssets(ctx context.Context) ([]model.Asset, error) {
	f.record("assets")
	return f.assets, f.refErr
}

func (f *fakeRemote) ListChecklists(ctx context.Context) ([]model.Checklist, error) {
	f.record("checklists")
	return f.checklists, f.refErr
}

func (f *fakeRemote) BatchUpsertEvents(ctx context.Context, events []*model.PreShiftCheckEvent) (*model.BatchResponse, error) {
	f.record("events")
	if f.onEvents != nil {
		f.onEvents()
	}
	if f.eventsErr != nil {
		return nil, f.eventsErr
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	resp := &model.BatchResponse{}
	for _, ev := range events {
		resp.Processed++
		if msg, ok := f.reject[ev.EventID]; ok {
			resp.Errors = append(resp.Errors, model.BatchError{ID: ev.EventID, Error: msg})
			continue
		}
		if _, ok := f.events[ev.EventID]; ok {
			resp.Updated++
		} else {
			resp.Created++
		}
		f.events[ev.EventID] = ev.Wire()
	}
	return resp, nil
}

func (f *fakeRemote) BatchUpsertFaults(ctx context.Context, faults []*model.Fault) (*model.BatchResponse, error) {
	f.record("faults")
	if f.faultsErr != nil {
		return nil, f.faultsErr
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	resp := &model.BatchResponse{}
	for _, fl := range faults {
		resp.Processed++
		if msg, ok := f.reject[fl.FaultID]; ok {
			resp.Errors = append(resp.Errors, model.BatchError{ID: fl.FaultID, Error: msg})
			continue
		}
		resp.Created++
		f.faults[fl.FaultID] = fl.Wire()
	}
	return resp, nil
}

func (f *fakeRemote) ListFaults(ctx context.Context, assetID string, status model.FaultStatus) ([]model.Fault, error) {
	f.record("open-faults:" + assetID)
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Fault
	for _, fl := range f.faults {
		if fl.AssetID == assetID && fl.Status == status {
			out = append(out, *fl)
		}
	}
	return out, nil
}

func (f *fakeRemote) LastFailedCheck(ctx context.Context, assetID string) (*model.PreShiftCheckEvent, error) {
	f.record("last-failed:" + assetID)
	f.mu.Lock()
	defer f.mu.Unlock()
	if ev, ok := f.lastFailed[assetID]; ok {
		return ev, nil
	}
	var latest *model.PreShiftCheckEvent
	for _, ev := range f.events {
		if ev.AssetID == assetID && (latest == nil || ev.CompletedAt.After(latest.CompletedAt)) {
			latest = ev
		}
	}
	if latest == nil || latest.Result == model.ResultPass {
		return nil, nil
	}
	return latest, nil
}

var t0 = time.Date(2026, 5, 4, 6, 0, 0, 0, time.UTC)

func openStore(t *testing.T) *local.Store {
	t.Helper()

	store, err := local.Open(filepath.Join(t.TempDir(), "local.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	if err := store.Init(context.Background()); err != nil {
		t.Fatalf("Init() failed: %v", err)
	}
	return store
}

func setupEngine(t *testing.T) (*Engine, *local.Store, *fakeRemote) {
	t.Helper()

	store := openStore(t)
	if err := store.SetReporter(context.Background(), model.Reporter{Name: "Dana"}); err != nil {
		t.Fatalf("SetReporter() failed: %v", err)
	}

	remote := newFakeRemote()
	return New(store, remote, nil), store, remote
}

func putEvent(t *testing.T, s *local.Store, id, asset string, at time.Time, answer model.Answer) *model.PreShiftCheckEvent {
	t.Helper()
	ev := &model.PreShiftCheckEvent{
		EventID:     id,
		AssetID:     asset,
		Reporter:    model.Reporter{Name: "Dana"},
		Responses:   []model.CheckResponse{{ItemID: "i1", Answer: answer, Comment: "c"}},
		CompletedAt: at,
		CreatedAt:   at,
		UpdatedAt:   at,
	}
	ev.Evaluate()
	if err := s.PutEvent(context.Background(), ev); err != nil {
		t.Fatalf("PutEvent(%s) failed: %v", id, err)
	}
	return ev
}

func putFault(t *testing.T, s *local.Store, id, asset, eventID string) {
	t.Helper()
	err := s.PutFault(context.Background(), &model.Fault{
		FaultID:       id,
		AssetID:       asset,
		Status:        model.FaultOpen,
		Origin:        model.OriginPreShiftCheck,
		Priority:      model.PriorityHigh,
		Description:   "Brakes: soft",
		SourceEventID: eventID,
		CreatedAt:     t0,
		UpdatedAt:     t0,
	})
	if err != nil {
		t.Fatalf("PutFault(%s) failed: %v", id, err)
	}
}

func getEvent(t *testing.T, s *local.Store, id string) *model.PreShiftCheckEvent {
	t.Helper()
	ev, err := s.GetEvent(context.Background(), id)
	if err != nil {
		t.Fatalf("GetEvent(%s) failed: %v", id, err)
	}
	return ev
}

func lastFailed(t *testing.T, s *local.Store, assetID string) *model.PreShiftCheckEvent {
	t.Helper()
	ev, err := s.LastFailedCheck(context.Background(), assetID)
	if err != nil {
		t.Fatalf("LastFailedCheck(%s) failed: %v", assetID, err)
	}
	return ev
}

// TestSyncQueue_UploadsEventsThenFaultsThenRefreshes tests the drain order and
// the cache refresh of touched assets.
func TestSyncQueue_UploadsEventsThenFaultsThenRefreshes(t *testing.T) {
	e, store, remote := setupEngine(t)
	ctx := context.Background()

	putEvent(t, store, "ev-1", "a-1", t0, model.AnswerNo)
	putFault(t, store, "f-1", "a-1", "ev-1")

	rep := e.SyncQueue(ctx)
	if rep.Skipped {
		t.Fatal("SyncQueue() skipped")
	}
	if rep.EventsSynced != 1 || rep.FaultsSynced != 1 {
		t.Errorf("synced events=%d faults=%d, want 1 and 1", rep.EventsSynced, rep.FaultsSynced)
	}
	if !reflect.DeepEqual(rep.TouchedAssets, []string{"a-1"}) {
		t.Errorf("TouchedAssets = %v, want [a-1]", rep.TouchedAssets)
	}

	calls := remote.Calls()
	if len(calls) != 4 {
		t.Fatalf("calls = %v, want 4", calls)
	}
	if calls[0] != "events" || calls[1] != "faults" {
		t.Errorf("calls = %v, want events then faults first", calls)
	}
	refresh := slices.Sorted(slices.Values(calls[2:]))
	if !reflect.DeepEqual(refresh, []string{"last-failed:a-1", "open-faults:a-1"}) {
		t.Errorf("refresh calls = %v", refresh)
	}

	if ev := getEvent(t, store, "ev-1"); ev.SyncStatus != model.SyncSynced {
		t.Errorf("event SyncStatus = %s, want SYNCED", ev.SyncStatus)
	}
	f, err := store.GetFault(ctx, "f-1")
	if err != nil {
		t.Fatalf("GetFault() failed: %v", err)
	}
	if f.SyncStatus != model.SyncSynced {
		t.Errorf("fault SyncStatus = %s, want SYNCED", f.SyncStatus)
	}

	if lf := lastFailed(t, store, "a-1"); lf == nil || lf.EventID != "ev-1" {
		t.Errorf("LastFailedCheck() = %v, want ev-1", lf)
	}

	st := e.Status()
	if st.State != StateSuccess || st.LastSyncAt.IsZero() {
		t.Errorf("Status() = %+v, want success with a sync time", st)
	}
	if _, ok := store.LastSyncAt(); !ok {
		t.Error("LastSyncAt() not persisted")
	}

	// Synced records are never selected again.
	if again := e.SyncQueue(ctx); again.EventsSynced != 0 {
		t.Errorf("second drain synced %d events", again.EventsSynced)
	}
	if n := len(remote.Calls()); n != 4 {
		t.Errorf("second drain made %d calls in total, want 4", n)
	}
}

// TestSyncQueue_TransportErrorMarksWholeBatch tests that a failed request puts
// every record of the batch in ERROR and that ERROR is retried.
func TestSyncQueue_TransportErrorMarksWholeBatch(t *testing.T) {
	e, store, remote := setupEngine(t)
	ctx := context.Background()

	putEvent(t, store, "ev-1", "a-1", t0, model.AnswerYes)
	putEvent(t, store, "ev-2", "a-2", t0.Add(time.Minute), model.AnswerYes)
	remote.eventsErr = errors.New("connection reset")

	rep := e.SyncQueue(ctx)
	if rep.EventsFailed != 2 {
		t.Errorf("EventsFailed = %d, want 2", rep.EventsFailed)
	}
	if len(rep.TouchedAssets) != 0 {
		t.Errorf("TouchedAssets = %v, want none", rep.TouchedAssets)
	}

	for _, id := range []string{"ev-1", "ev-2"} {
		ev := getEvent(t, store, id)
		if ev.SyncStatus != model.SyncError || !strings.Contains(ev.LastError, "connection reset") {
			t.Errorf("%s = %s %q, want ERROR with the transport error", id, ev.SyncStatus, ev.LastError)
		}
	}

	if st := e.Status(); st.State != StateError || st.Message == "" {
		t.Errorf("Status() = %+v, want error with a message", st)
	}

	// ERROR is retried on the next drain.
	remote.eventsErr = nil
	if rep = e.SyncQueue(ctx); rep.EventsSynced != 2 {
		t.Errorf("retry synced %d events, want 2", rep.EventsSynced)
	}

	ev := getEvent(t, store, "ev-1")
	if ev.SyncStatus != model.SyncSynced || ev.LastError != "" {
		t.Errorf("ev-1 after retry = %s %q", ev.SyncStatus, ev.LastError)
	}
	if st := e.Status(); st.State != StateSuccess {
		t.Errorf("State = %s, want success", st.State)
	}
}

// TestSyncQueue_PerRecordErrorIsolated tests that one rejected record does not
// fail its batch neighbours.
func TestSyncQueue_PerRecordErrorIsolated(t *testing.T) {
	e, store, remote := setupEngine(t)

	putEvent(t, store, "good", "a-1", t0, model.AnswerYes)
	putEvent(t, store, "bad", "a-2", t0, model.AnswerYes)
	remote.reject["bad"] = "rejected by server"

	rep := e.SyncQueue(context.Background())
	if rep.EventsSynced != 1 || rep.EventsFailed != 1 {
		t.Errorf("synced=%d failed=%d, want 1 and 1", rep.EventsSynced, rep.EventsFailed)
	}
	if !reflect.DeepEqual(rep.TouchedAssets, []string{"a-1"}) {
		t.Errorf("TouchedAssets = %v, want [a-1]", rep.TouchedAssets)
	}

	if good := getEvent(t, store, "good"); good.SyncStatus != model.SyncSynced {
		t.Errorf("good SyncStatus = %s, want SYNCED", good.SyncStatus)
	}
	bad := getEvent(t, store, "bad")
	if bad.SyncStatus != model.SyncError || bad.LastError != "rejected by server" {
		t.Errorf("bad = %s %q", bad.SyncStatus, bad.LastError)
	}
}

// TestSyncQueue_Reentrancy tests that a drain started while another runs is
// skipped.
func TestSyncQueue_Reentrancy(t *testing.T) {
	e, store, remote := setupEngine(t)
	ctx := context.Background()

	putEvent(t, store, "ev-1", "a-1", t0, model.AnswerYes)

	entered := make(chan struct{})
	release := make(chan struct{})
	remote.onEvents = func() {
		close(entered)
		<-release
	}

	done := make(chan Report)
	go func() { done <- e.SyncQueue(ctx) }()

	<-entered
	if second := e.SyncQueue(ctx); !second.Skipped {
		t.Error("concurrent SyncQueue() was not skipped")
	}

	close(release)
	first := <-done
	if first.Skipped || first.EventsSynced != 1 {
		t.Errorf("first drain = %+v, want 1 event synced", first)
	}

	uploads := 0
	for _, c := range remote.Calls() {
		if c == "events" {
			uploads++
		}
	}
	if uploads != 1 {
		t.Errorf("uploads = %d, want 1", uploads)
	}
}

// TestSyncQueue_RequiresReporter tests that nothing is uploaded before the
// reporter identity is set.
func TestSyncQueue_RequiresReporter(t *testing.T) {
	store := openStore(t)
	remote := newFakeRemote()
	e := New(store, remote, nil)

	putEvent(t, store, "ev-1", "a-1", t0, model.AnswerYes)

	rep := e.SyncQueue(context.Background())
	if rep.Skipped {
		t.Error("SyncQueue() skipped, want an error report")
	}
	if calls := remote.Calls(); len(calls) != 0 {
		t.Errorf("calls = %v, want none", calls)
	}
	if st := e.Status(); st.State != StateError {
		t.Errorf("State = %s, want error", st.State)
	}
	if ev := getEvent(t, store, "ev-1"); ev.SyncStatus != model.SyncPending {
		t.Errorf("SyncStatus = %s, want PENDING", ev.SyncStatus)
	}
}

// TestSyncQueue_EditDuringUploadStaysPending tests that an edit made while its
// upload is in flight is not marked SYNCED.
func TestSyncQueue_EditDuringUploadStaysPending(t *testing.T) {
	e, store, remote := setupEngine(t)
	ctx := context.Background()

	putEvent(t, store, "ev-1", "a-1", t0, model.AnswerYes)
	remote.onEvents = func() {
		ev, err := store.GetEvent(ctx, "ev-1")
		if err != nil {
			t.Errorf("GetEvent() failed: %v", err)
			return
		}
		ev.Responses[0] = model.CheckResponse{ItemID: "i1", Answer: model.AnswerNo, Comment: "actually cracked"}
		ev.Evaluate()
		ev.UpdatedAt = t0.Add(time.Minute)
		if err := store.PutEvent(ctx, ev); err != nil {
			t.Errorf("PutEvent() failed: %v", err)
		}
	}

	if rep := e.SyncQueue(ctx); rep.EventsSynced != 0 {
		t.Errorf("EventsSynced = %d, want 0", rep.EventsSynced)
	}

	ev := getEvent(t, store, "ev-1")
	if ev.SyncStatus != model.SyncPending || ev.Result != model.ResultFail {
		t.Errorf("event = %s %s, want the edited FAIL still PENDING", ev.SyncStatus, ev.Result)
	}
}

// TestInitialSync_Order tests that reference data loads first and the
// last-failed refresh runs after the operator's queue is uploaded.
func TestInitialSync_Order(t *testing.T) {
	e, store, remote := setupEngine(t)
	ctx := context.Background()

	remote.assets = []model.Asset{{AssetID: "a-1", MachineClass: "forklift"}, {AssetID: "a-2", MachineClass: "forklift"}}
	remote.checklists = []model.Checklist{
		{ChecklistID: "c1", MachineClass: "forklift", Status: model.ChecklistActive, Version: 2},
		{ChecklistID: "c0", MachineClass: "forklift", Status: model.ChecklistInactive, Version: 1},
	}

	// The operator's own FAIL is uploaded before the cache refresh, so it shows up.
	putEvent(t, store, "ev-1", "a-1", t0, model.AnswerNo)

	rep := e.InitialSync(ctx)
	if rep.Skipped {
		t.Fatal("InitialSync() skipped")
	}
	if rep.Assets != 2 || rep.Checklists != 1 || rep.EventsSynced != 1 {
		t.Errorf("report = %+v, want 2 assets, 1 checklist, 1 event", rep)
	}

	calls := remote.Calls()
	if len(calls) < 3 {
		t.Fatalf("calls = %v", calls)
	}
	if ref := slices.Sorted(slices.Values(calls[:2])); !reflect.DeepEqual(ref, []string{"assets", "checklists"}) {
		t.Errorf("first calls = %v, want assets and checklists", calls[:2])
	}
	if calls[2] != "events" {
		t.Errorf("third call = %s, want events", calls[2])
	}

	eventsAt := slices.Index(calls, "events")
	for _, id := range []string{"a-1", "a-2"} {
		idx := lastIndexOf(calls, "last-failed:"+id)
		if idx <= eventsAt {
			t.Errorf("last-failed:%s at %d, want after events at %d", id, idx, eventsAt)
		}
	}

	if lf := lastFailed(t, store, "a-1"); lf == nil || lf.EventID != "ev-1" {
		t.Errorf("a-1 last failed = %v, want ev-1", lf)
	}
	if lf := lastFailed(t, store, "a-2"); lf != nil {
		t.Errorf("a-2 last failed = %s, want none", lf.EventID)
	}

	st, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats() failed: %v", err)
	}
	if st.Assets != 2 || st.Checklists != 1 {
		t.Errorf("Stats() = %+v, want 2 assets and 1 checklist", st)
	}
	if s := e.Status(); s.State != StateSuccess {
		t.Errorf("State = %s, want success", s.State)
	}
}

// TestInitialSync_ReplacesLastFailedCache tests that a FAIL resolved on the
// server drops out of the local cache.
func TestInitialSync_ReplacesLastFailedCache(t *testing.T) {
	e, store, remote := setupEngine(t)
	ctx := context.Background()

	stale := putEvent(t, store, "old", "a-1", t0, model.AnswerNo)
	stale.SyncStatus = model.SyncSynced
	if err := store.PutEvent(ctx, stale); err != nil {
		t.Fatalf("PutEvent() failed: %v", err)
	}
	if err := store.PutLastFailedCheck(ctx, "a-1", stale); err != nil {
		t.Fatalf("PutLastFailedCheck() failed: %v", err)
	}

	// A later PASS from another operator resolved it.
	remote.assets = []model.Asset{{AssetID: "a-1"}}
	remote.events["old"] = stale.Wire()
	remote.events["later"] = &model.PreShiftCheckEvent{EventID: "later", AssetID: "a-1", CompletedAt: t0.Add(time.Hour), Result: model.ResultPass}

	e.InitialSync(ctx)

	if lf := lastFailed(t, store, "a-1"); lf != nil {
		t.Errorf("last failed = %s, want none", lf.EventID)
	}
}

// TestInitialSync_ReferenceFailure tests that a reference download error stops
// the sync before any upload.
func TestInitialSync_ReferenceFailure(t *testing.T) {
	e, store, remote := setupEngine(t)

	putEvent(t, store, "ev-1", "a-1", t0, model.AnswerYes)
	remote.refErr = errors.New("server down")

	e.InitialSync(context.Background())

	st := e.Status()
	if st.State != StateError || !strings.Contains(st.Message, "server down") {
		t.Errorf("Status() = %+v, want error mentioning server down", st)
	}
	if slices.Contains(remote.Calls(), "events") {
		t.Error("events were uploaded after a reference failure")
	}
}

// TestInitialSync_WithoutReporterSkipsDrain tests that reference data still
// loads before the reporter identity is set.
func TestInitialSync_WithoutReporterSkipsDrain(t *testing.T) {
	store := openStore(t)
	remote := newFakeRemote()
	remote.assets = []model.Asset{{AssetID: "a-1"}}
	e := New(store, remote, nil)

	rep := e.InitialSync(context.Background())
	if rep.Assets != 1 {
		t.Errorf("Assets = %d, want 1", rep.Assets)
	}
	calls := remote.Calls()
	if slices.Contains(calls, "events") {
		t.Error("events were uploaded without a reporter")
	}
	if !slices.Contains(calls, "last-failed:a-1") {
		t.Errorf("calls = %v, want a last-failed refresh for a-1", calls)
	}
	if st := e.Status(); st.State != StateSuccess {
		t.Errorf("State = %s, want success", st.State)
	}
}

// TestSubscribe tests that status changes reach subscribers.
func TestSubscribe(t *testing.T) {
	e, _, _ := setupEngine(t)

	ch, cancel := e.Subscribe()
	defer cancel()

	e.SyncQueue(context.Background())

	select {
	case st := <-ch:
		if st.State != StateSuccess {
			t.Errorf("State = %s, want success", st.State)
		}
	case <-time.After(time.Second):
		t.Fatal("no status published")
	}
}

func lastIndexOf(list []string, s string) int {
	for i := len(list) - 1; i >= 0; i-- {
		if list[i] == s {
			return i
		}
	}
	return -1
}
