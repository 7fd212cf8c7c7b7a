package local

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/fieldops/preshift/internal/model"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := Open(filepath.Join(t.TempDir(), "local.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	if err := s.Init(context.Background()); err != nil {
		t.Fatalf("Init() failed: %v", err)
	}
	return s
}

var base = time.Date(2026, 5, 4, 6, 0, 0, 0, time.UTC)

func testEvent(id, asset string, created time.Time, answers ...model.Answer) *model.PreShiftCheckEvent {
	ev := &model.PreShiftCheckEvent{
		EventID:      id,
		AssetID:      asset,
		MachineClass: "forklift",
		Reporter:     model.Reporter{Name: "Dana"},
		StartedAt:    created.Add(-time.Minute),
		CompletedAt:  created,
		CreatedAt:    created,
		UpdatedAt:    created,
	}
	for i, a := range answers {
		r := model.CheckResponse{ItemID: string(rune('a' + i)), Answer: a}
		if a == model.AnswerNo {
			r.Comment = "broken"
		}
		ev.Responses = append(ev.Responses, r)
	}
	ev.Evaluate()
	return ev
}

func testFault(id, asset string, sync model.SyncStatus) *model.Fault {
	return &model.Fault{
		FaultID:     id,
		AssetID:     asset,
		Status:      model.FaultOpen,
		Origin:      model.OriginManual,
		Priority:    model.PriorityMed,
		Description: "leak",
		CreatedAt:   base,
		UpdatedAt:   base,
		SyncStatus:  sync,
	}
}

func putEvents(t *testing.T, s *Store, events ...*model.PreShiftCheckEvent) {
	t.Helper()
	for _, ev := range events {
		if err := s.PutEvent(context.Background(), ev); err != nil {
			t.Fatalf("PutEvent(%s) failed: %v", ev.EventID, err)
		}
	}
}

func putFaults(t *testing.T, s *Store, faults ...*model.Fault) {
	t.Helper()
	for _, f := range faults {
		if err := s.PutFault(context.Background(), f); err != nil {
			t.Fatalf("PutFault(%s) failed: %v", f.FaultID, err)
		}
	}
}

func faultIDs(t *testing.T, s *Store, f FaultFilter) []string {
	t.Helper()
	faults, err := s.ListFaults(context.Background(), f)
	if err != nil {
		t.Fatalf("ListFaults() failed: %v", err)
	}
	var ids []string
	for _, f := range faults {
		ids = append(ids, f.FaultID)
	}
	return ids
}

// TestInit_Idempotent tests that repeated Init calls keep the schema version.
func TestInit_Idempotent(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := s.Init(ctx); err != nil {
			t.Fatalf("Init() #%d failed: %v", i+2, err)
		}
	}

	v, err := s.Version(ctx)
	if err != nil {
		t.Fatalf("Version() failed: %v", err)
	}
	if v != SchemaVersion {
		t.Errorf("Version() = %d, want %d", v, SchemaVersion)
	}
	if s.Degraded() {
		t.Error("Degraded() = true after a clean Init")
	}
}

// TestInit_ReopenKeepsData tests that records and meta survive a restart.
func TestInit_ReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "local.db")
	ctx := context.Background()

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	if err := s.Init(ctx); err != nil {
		t.Fatalf("Init() failed: %v", err)
	}
	if err := s.SetReporter(ctx, model.Reporter{Name: "Dana", UserID: "u-1"}); err != nil {
		t.Fatalf("SetReporter() failed: %v", err)
	}
	putEvents(t, s, testEvent("ev-1", "a-1", base, model.AnswerYes))
	if err := s.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}

	s, err = Open(path)
	if err != nil {
		t.Fatalf("Reopen failed: %v", err)
	}
	defer s.Close()
	if err := s.Init(ctx); err != nil {
		t.Fatalf("Init() after reopen failed: %v", err)
	}

	r, ok := s.Reporter()
	if !ok || r.Name != "Dana" || r.UserID != "u-1" {
		t.Errorf("Reporter() = %+v, %v", r, ok)
	}
	if _, err := s.GetEvent(ctx, "ev-1"); err != nil {
		t.Errorf("GetEvent() after reopen failed: %v", err)
	}
}

// TestInit_TimeoutDegradesAndRetries tests the degraded mode entered when schema
// setup hangs and left on a later successful Init.
func TestInit_TimeoutDegradesAndRetries(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	if err := s.SetReporter(ctx, model.Reporter{Name: "Dana"}); err != nil {
		t.Fatalf("SetReporter() failed: %v", err)
	}

	// Simulate a restart whose schema setup hangs.
	s.ready = false
	s.initTimeout = 50 * time.Millisecond
	release := make(chan struct{})
	defer close(release)
	s.migrateFn = func(context.Context) error {
		<-release
		return errors.New("released")
	}

	if err := s.Init(ctx); !errors.Is(err, ErrInitTimeout) {
		t.Fatalf("Init() = %v, want ErrInitTimeout", err)
	}
	if !s.Degraded() {
		t.Error("Degraded() = false after a timed out Init")
	}
	if r, ok := s.Reporter(); !ok || r.Name != "Dana" {
		t.Errorf("cached meta should stay readable while degraded, got %+v, %v", r, ok)
	}
	if _, err := s.Stats(ctx); !errors.Is(err, ErrDegraded) {
		t.Errorf("Stats() = %v, want ErrDegraded", err)
	}

	s.migrateFn = s.migrate
	if err := s.Init(ctx); err != nil {
		t.Fatalf("retry Init() failed: %v", err)
	}
	if s.Degraded() {
		t.Error("Degraded() = true after a successful retry")
	}
	if _, err := s.Stats(ctx); err != nil {
		t.Errorf("Stats() after recovery failed: %v", err)
	}
}

// TestPutEvent_UpsertsByID tests that a second put replaces the first.
func TestPutEvent_UpsertsByID(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	ev := testEvent("ev-1", "a-1", base, model.AnswerYes)
	putEvents(t, s, ev)
	if ev.SyncStatus != model.SyncPending {
		t.Errorf("SyncStatus = %s, want PENDING default", ev.SyncStatus)
	}
	putEvents(t, s, testEvent("ev-1", "a-1", base, model.AnswerNo))

	all, err := s.ListEvents(ctx, EventFilter{})
	if err != nil {
		t.Fatalf("ListEvents() failed: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("ListEvents() = %d events, want 1", len(all))
	}
	if all[0].Result != model.ResultFail || !all[0].CreatedAt.Equal(base) {
		t.Errorf("stored event = %s created %v", all[0].Result, all[0].CreatedAt)
	}
}

// TestPutEvent_RejectsInvalid tests that a result contradicting the answers is
// refused.
func TestPutEvent_RejectsInvalid(t *testing.T) {
	s := setupTestStore(t)

	ev := testEvent("ev-1", "a-1", base, model.AnswerNo)
	ev.Result = model.ResultPass
	if err := s.PutEvent(context.Background(), ev); err == nil {
		t.Error("PutEvent() accepted an invalid event")
	}
}

// TestGetEvent_NotFound tests the missing-event sentinel.
func TestGetEvent_NotFound(t *testing.T) {
	s := setupTestStore(t)

	if _, err := s.GetEvent(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetEvent() = %v, want ErrNotFound", err)
	}
}

// TestPendingEvents_OrderAndStatuses tests that PENDING and ERROR events are
// selected oldest first.
func TestPendingEvents_OrderAndStatuses(t *testing.T) {
	s := setupTestStore(t)

	late := testEvent("late", "a-1", base.Add(2*time.Hour), model.AnswerYes)
	early := testEvent("early", "a-1", base, model.AnswerYes)
	early.SyncStatus = model.SyncError
	early.LastError = "timeout"
	done := testEvent("done", "a-1", base.Add(time.Hour), model.AnswerYes)
	done.SyncStatus = model.SyncSynced
	putEvents(t, s, late, early, done)

	pending, err := s.PendingEvents(context.Background())
	if err != nil {
		t.Fatalf("PendingEvents() failed: %v", err)
	}
	if len(pending) != 2 || pending[0].EventID != "early" || pending[1].EventID != "late" {
		t.Fatalf("PendingEvents() = %v, want [early late]", pending)
	}
	if pending[0].LastError != "timeout" {
		t.Errorf("LastError = %q, want timeout", pending[0].LastError)
	}
}

// TestListEvents_Filters tests each EventFilter field.
func TestListEvents_Filters(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	putEvents(t, s,
		testEvent("e1", "a-1", base, model.AnswerYes),
		testEvent("e2", "a-1", base.Add(time.Hour), model.AnswerYes),
		testEvent("e3", "a-2", base.Add(2*time.Hour), model.AnswerYes),
	)

	tests := []struct {
		name   string
		filter EventFilter
		want   []string
	}{
		{"all newest first", EventFilter{}, []string{"e3", "e2", "e1"}},
		{"by asset", EventFilter{AssetID: "a-1"}, []string{"e2", "e1"}},
		{"since", EventFilter{Since: base.Add(30 * time.Minute)}, []string{"e3", "e2"}},
		{"limit", EventFilter{Limit: 1}, []string{"e3"}},
		{"synced only", EventFilter{SyncStatuses: []model.SyncStatus{model.SyncSynced}}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.ListEvents(ctx, tt.filter)
			if err != nil {
				t.Fatalf("ListEvents() failed: %v", err)
			}
			var ids []string
			for _, ev := range got {
				ids = append(ids, ev.EventID)
			}
			if !reflect.DeepEqual(ids, tt.want) {
				t.Errorf("ListEvents() = %v, want %v", ids, tt.want)
			}
		})
	}
}

// TestReplaceUnsyncedEvent tests that an edit swaps the event and its derived
// faults together.
func TestReplaceUnsyncedEvent(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	putEvents(t, s, testEvent("ev-1", "a-1", base, model.AnswerNo))
	old := testFault("f-old", "a-1", model.SyncPending)
	old.SourceEventID = "ev-1"
	manual := testFault("f-manual", "a-1", model.SyncPending)
	putFaults(t, s, old, manual)

	edited := testEvent("ev-1", "a-1", base, model.AnswerNo, model.AnswerNo)
	edited.UpdatedAt = base.Add(time.Minute)
	var derived []*model.Fault
	for _, id := range []string{"f-new-1", "f-new-2"} {
		f := testFault(id, "a-1", "")
		f.SourceEventID = "ev-1"
		derived = append(derived, f)
	}

	removed, err := s.ReplaceUnsyncedEvent(ctx, edited, derived)
	if err != nil {
		t.Fatalf("ReplaceUnsyncedEvent() failed: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}

	got, err := s.GetEvent(ctx, "ev-1")
	if err != nil {
		t.Fatalf("GetEvent() failed: %v", err)
	}
	if len(got.Responses) != 2 || !got.UpdatedAt.Equal(edited.UpdatedAt) {
		t.Errorf("stored event has %d responses updated %v", len(got.Responses), got.UpdatedAt)
	}

	want := []string{"f-manual", "f-new-1", "f-new-2"}
	ids := faultIDs(t, s, FaultFilter{AssetID: "a-1"})
	if len(ids) != len(want) {
		t.Fatalf("faults = %v, want %v in any order", ids, want)
	}
	for _, id := range want {
		if _, err := s.GetFault(ctx, id); err != nil {
			t.Errorf("GetFault(%s) failed: %v", id, err)
		}
	}
}

// TestReplaceUnsyncedEvent_Synced tests that a SYNCED event and its faults are
// left untouched.
func TestReplaceUnsyncedEvent_Synced(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	ev := testEvent("ev-1", "a-1", base, model.AnswerNo)
	ev.SyncStatus = model.SyncSynced
	putEvents(t, s, ev)
	f := testFault("f-1", "a-1", model.SyncSynced)
	f.SourceEventID = "ev-1"
	putFaults(t, s, f)

	edited := testEvent("ev-1", "a-1", base, model.AnswerYes)
	_, err := s.ReplaceUnsyncedEvent(ctx, edited, nil)
	if !errors.Is(err, ErrSynced) {
		t.Fatalf("ReplaceUnsyncedEvent() = %v, want ErrSynced", err)
	}

	got, err := s.GetEvent(ctx, "ev-1")
	if err != nil {
		t.Fatalf("GetEvent() failed: %v", err)
	}
	if got.Result != model.ResultFail || got.SyncStatus != model.SyncSynced {
		t.Errorf("stored event = %s %s, want the synced FAIL", got.Result, got.SyncStatus)
	}
	if _, err := s.GetFault(ctx, "f-1"); err != nil {
		t.Errorf("derived fault was removed: %v", err)
	}

	if _, err := s.ReplaceUnsyncedEvent(ctx, testEvent("ev-2", "a-1", base, model.AnswerYes), nil); !errors.Is(err, ErrNotFound) {
		t.Errorf("ReplaceUnsyncedEvent(missing) = %v, want ErrNotFound", err)
	}
}

// TestDeleteUnsyncedEvent tests removal of an event with its derived faults
// and the refusals for SYNCED and missing events.
func TestDeleteUnsyncedEvent(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	synced := testEvent("ev-synced", "a-1", base, model.AnswerYes)
	synced.SyncStatus = model.SyncSynced
	putEvents(t, s, testEvent("ev-1", "a-1", base, model.AnswerNo), synced)

	f1 := testFault("f1", "a-1", model.SyncPending)
	f1.SourceEventID = "ev-1"
	f2 := testFault("f2", "a-1", model.SyncPending)
	f2.SourceEventID = "ev-1"
	putFaults(t, s, f1, f2, testFault("f3", "a-1", model.SyncPending))

	removed, err := s.DeleteUnsyncedEvent(ctx, "ev-1")
	if err != nil {
		t.Fatalf("DeleteUnsyncedEvent() failed: %v", err)
	}
	if removed != 2 {
		t.Errorf("removed = %d, want 2", removed)
	}
	if _, err := s.GetEvent(ctx, "ev-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetEvent() after delete = %v, want ErrNotFound", err)
	}
	if ids := faultIDs(t, s, FaultFilter{AssetID: "a-1"}); !reflect.DeepEqual(ids, []string{"f3"}) {
		t.Errorf("faults left = %v, want [f3]", ids)
	}

	if _, err := s.DeleteUnsyncedEvent(ctx, "ev-synced"); !errors.Is(err, ErrSynced) {
		t.Errorf("DeleteUnsyncedEvent(synced) = %v, want ErrSynced", err)
	}
	if _, err := s.GetEvent(ctx, "ev-synced"); err != nil {
		t.Errorf("synced event was removed: %v", err)
	}
	if _, err := s.DeleteUnsyncedEvent(ctx, "ev-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("DeleteUnsyncedEvent(missing) = %v, want ErrNotFound", err)
	}
}

// TestReplaceOpenFaults_KeepsQueuedWork tests that a server refresh never
// overwrites local faults still waiting for upload.
func TestReplaceOpenFaults_KeepsQueuedWork(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	putFaults(t, s,
		testFault("stale", "a-1", model.SyncSynced),
		testFault("queued", "a-1", model.SyncPending),
		testFault("failed", "a-1", model.SyncError),
		testFault("other", "a-2", model.SyncSynced),
	)

	serverQueued := testFault("queued", "a-1", "")
	serverQueued.Description = "server copy"
	fresh := testFault("fresh", "a-1", "")

	if err := s.ReplaceOpenFaults(ctx, "a-1", []*model.Fault{serverQueued, fresh}); err != nil {
		t.Fatalf("ReplaceOpenFaults() failed: %v", err)
	}

	if _, err := s.GetFault(ctx, "stale"); !errors.Is(err, ErrNotFound) {
		t.Errorf("stale fault survived: %v", err)
	}

	tests := []struct {
		id         string
		wantSync   model.SyncStatus
		wantDesc   string
		checkDescr bool
	}{
		{"queued", model.SyncPending, "leak", true},
		{"failed", model.SyncError, "", false},
		{"fresh", model.SyncSynced, "", false},
		{"other", model.SyncSynced, "", false},
	}
	for _, tt := range tests {
		f, err := s.GetFault(ctx, tt.id)
		if err != nil {
			t.Errorf("GetFault(%s) failed: %v", tt.id, err)
			continue
		}
		if f.SyncStatus != tt.wantSync {
			t.Errorf("%s SyncStatus = %s, want %s", tt.id, f.SyncStatus, tt.wantSync)
		}
		if tt.checkDescr && f.Description != tt.wantDesc {
			t.Errorf("%s Description = %q, want %q", tt.id, f.Description, tt.wantDesc)
		}
	}
}

// TestReplaceChecklists_ActiveOnly tests that only ACTIVE checklists are cached
// and the newest version wins.
func TestReplaceChecklists_ActiveOnly(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	n, err := s.ReplaceChecklists(ctx, []model.Checklist{
		{ChecklistID: "c1", MachineClass: "forklift", Status: model.ChecklistActive, Version: 1},
		{ChecklistID: "c2", MachineClass: "forklift", Status: model.ChecklistActive, Version: 3,
			Items: []model.ChecklistItem{{ItemID: "b", SortOrder: 2}, {ItemID: "a", SortOrder: 1}}},
		{ChecklistID: "c3", MachineClass: "forklift", Status: model.ChecklistInactive, Version: 9},
	})
	if err != nil {
		t.Fatalf("ReplaceChecklists() failed: %v", err)
	}
	if n != 2 {
		t.Errorf("ReplaceChecklists() stored %d, want 2", n)
	}

	cl, err := s.ActiveChecklist(ctx, "forklift")
	if err != nil {
		t.Fatalf("ActiveChecklist() failed: %v", err)
	}
	if cl.ChecklistID != "c2" {
		t.Errorf("ActiveChecklist() = %s, want c2", cl.ChecklistID)
	}
	if len(cl.Items) != 2 || cl.Items[0].ItemID != "a" {
		t.Errorf("Items = %v, want sorted by SortOrder", cl.Items)
	}

	if _, err := s.ActiveChecklist(ctx, "crane"); !errors.Is(err, ErrNotFound) {
		t.Errorf("ActiveChecklist(crane) = %v, want ErrNotFound", err)
	}
}

// TestReplaceAssets tests that the asset cache is replaced wholesale.
func TestReplaceAssets(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	if err := s.ReplaceAssets(ctx, []model.Asset{{AssetID: "old"}}); err != nil {
		t.Fatalf("ReplaceAssets() failed: %v", err)
	}
	if err := s.ReplaceAssets(ctx, []model.Asset{
		{AssetID: "b", MachineClass: "crane"},
		{AssetID: "a", MachineClass: "forklift"},
	}); err != nil {
		t.Fatalf("ReplaceAssets() failed: %v", err)
	}

	assets, err := s.ListAssets(ctx)
	if err != nil {
		t.Fatalf("ListAssets() failed: %v", err)
	}
	if len(assets) != 2 || assets[0].AssetID != "a" {
		t.Errorf("ListAssets() = %v, want [a b]", assets)
	}
	if _, err := s.GetAsset(ctx, "old"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetAsset(old) = %v, want ErrNotFound", err)
	}
}

// TestLastFailedChecks tests single puts and the wholesale replace of the
// last-failed cache.
func TestLastFailedChecks(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	if got, err := s.LastFailedCheck(ctx, "a-1"); err != nil || got != nil {
		t.Fatalf("LastFailedCheck() on empty cache = %v, %v", got, err)
	}

	if err := s.PutLastFailedCheck(ctx, "a-1", testEvent("ev-1", "a-1", base, model.AnswerNo)); err != nil {
		t.Fatalf("PutLastFailedCheck() failed: %v", err)
	}
	got, err := s.LastFailedCheck(ctx, "a-1")
	if err != nil || got == nil || got.EventID != "ev-1" {
		t.Fatalf("LastFailedCheck() = %v, %v, want ev-1", got, err)
	}

	err = s.ReplaceLastFailedChecks(ctx, map[string]*model.PreShiftCheckEvent{
		"a-2": testEvent("ev-2", "a-2", base, model.AnswerNo),
		"a-3": nil,
	})
	if err != nil {
		t.Fatalf("ReplaceLastFailedChecks() failed: %v", err)
	}

	all, err := s.ListLastFailedChecks(ctx)
	if err != nil {
		t.Fatalf("ListLastFailedChecks() failed: %v", err)
	}
	if _, ok := all["a-2"]; len(all) != 1 || !ok {
		t.Errorf("ListLastFailedChecks() = %v, want only a-2", all)
	}

	if err := s.PutLastFailedCheck(ctx, "a-2", nil); err != nil {
		t.Fatalf("PutLastFailedCheck(nil) failed: %v", err)
	}
	if got, err := s.LastFailedCheck(ctx, "a-2"); err != nil || got != nil {
		t.Errorf("LastFailedCheck() after clearing = %v, %v", got, err)
	}
}

// TestStatsAndSubscribe tests the coalesced stats feed.
func TestStatsAndSubscribe(t *testing.T) {
	s := setupTestStore(t)

	ch, cancel := s.Subscribe()
	defer cancel()

	failed := testEvent("ev-2", "a-1", base, model.AnswerYes)
	failed.SyncStatus = model.SyncError
	putEvents(t, s, testEvent("ev-1", "a-1", base, model.AnswerYes), failed)
	putFaults(t, s, testFault("f1", "a-1", model.SyncPending))

	// Coalesced: only the latest value is buffered.
	select {
	case st := <-ch:
		want := Stats{PendingEvents: 1, ErrorEvents: 1, PendingFaults: 1, OpenFaults: 1}
		if st.PendingEvents != want.PendingEvents || st.ErrorEvents != want.ErrorEvents ||
			st.PendingFaults != want.PendingFaults || st.OpenFaults != want.OpenFaults {
			t.Errorf("Stats = %+v, want counts %+v", st, want)
		}
		if st.Unsynced() != 3 {
			t.Errorf("Unsynced() = %d, want 3", st.Unsynced())
		}
	case <-time.After(time.Second):
		t.Fatal("no stats published")
	}

	cancel()
	if _, open := <-ch; open {
		t.Error("channel still open after cancel")
	}
}

// TestWipe tests that Wipe clears records and meta.
func TestWipe(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	if err := s.SetReporter(ctx, model.Reporter{Name: "Dana"}); err != nil {
		t.Fatalf("SetReporter() failed: %v", err)
	}
	putEvents(t, s, testEvent("ev-1", "a-1", base, model.AnswerYes))
	if err := s.ReplaceAssets(ctx, []model.Asset{{AssetID: "a-1"}}); err != nil {
		t.Fatalf("ReplaceAssets() failed: %v", err)
	}

	if err := s.Wipe(ctx); err != nil {
		t.Fatalf("Wipe() failed: %v", err)
	}

	st, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats() failed: %v", err)
	}
	if st != (Stats{}) {
		t.Errorf("Stats() after wipe = %+v, want zero", st)
	}
	if _, ok := s.Reporter(); ok {
		t.Error("Reporter() survived Wipe")
	}
}

// TestLastSyncAt tests the persisted last sync time.
func TestLastSyncAt(t *testing.T) {
	s := setupTestStore(t)

	if _, ok := s.LastSyncAt(); ok {
		t.Error("LastSyncAt() set on a fresh store")
	}

	if err := s.SetLastSyncAt(context.Background(), base); err != nil {
		t.Fatalf("SetLastSyncAt() failed: %v", err)
	}
	if got, ok := s.LastSyncAt(); !ok || !got.Equal(base) {
		t.Errorf("LastSyncAt() = %v, %v, want %v", got, ok, base)
	}
}
