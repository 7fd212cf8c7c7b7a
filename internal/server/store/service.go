package store

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fieldops/preshift/internal/model"
)

// Service is the server-side API over the repositories.
type Service struct {
	repos  Repositories
	events *Upserter[*model.PreShiftCheckEvent]
	faults *Upserter[*model.Fault]
	logger *zap.Logger
	now    func() time.Time
}

// NewService creates a Service. A nil logger discards output.
func NewService(repos Repositories, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return newService(repos, logger, time.Now)
}

func newService(repos Repositories, logger *zap.Logger, now func() time.Time) *Service {
	return &Service{
		repos:  repos,
		events: NewUpserter[*model.PreShiftCheckEvent](repos.Events, now),
		faults: NewUpserter[*model.Fault](repos.Faults, now),
		logger: logger,
		now:    now,
	}
}

// ListAssets returns every asset.
func (s *Service) ListAssets(ctx context.Context) ([]model.Asset, error) {
	return s.repos.Assets.List(ctx)
}

// GetAsset returns ErrNotFound for an unknown id.
func (s *Service) GetAsset(ctx context.Context, assetID string) (*model.Asset, error) {
	return s.repos.Assets.Get(ctx, assetID)
}

// ListChecklists returns every checklist, inactive ones included.
func (s *Service) ListChecklists(ctx context.Context) ([]model.Checklist, error) {
	return s.repos.Checklists.List(ctx)
}

// ActiveChecklist returns the active checklist for a machine class.
func (s *Service) ActiveChecklist(ctx context.Context, machineClass string) (*model.Checklist, error) {
	if machineClass == "" {
		return nil, fmt.Errorf("machine_class is required: %w", ErrInvalid)
	}
	return s.repos.Checklists.Active(ctx, machineClass)
}

// ListEvents returns events newest created_at first.
func (s *Service) ListEvents(ctx context.Context, assetID string) ([]*model.PreShiftCheckEvent, error) {
	return s.repos.Events.List(ctx, assetID)
}

// GetEvent returns ErrNotFound for an unknown id.
func (s *Service) GetEvent(ctx context.Context, eventID string) (*model.PreShiftCheckEvent, error) {
	return s.repos.Events.Get(ctx, eventID)
}

// UpsertEvent stores one event idempotently.
func (s *Service) UpsertEvent(ctx context.Context, ev *model.PreShiftCheckEvent) (Action, error) {
	clearClientFields(ev)
	action, err := s.events.Upsert(ctx, ev)
	if err != nil {
		return "", err
	}
	s.logger.Debug("Event upserted", zap.String("event_id", ev.EventID), zap.String("action", string(action)))
	return action, nil
}

// BatchUpsertEvents stores events one by one; see Upserter.BatchUpsert.
func (s *Service) BatchUpsertEvents(ctx context.Context, events []*model.PreShiftCheckEvent) model.BatchResponse {
	for _, ev := range events {
		clearClientFields(ev)
	}
	resp := s.events.BatchUpsert(ctx, events)
	s.logger.Info("Event batch upserted",
		zap.Int("processed", resp.Processed),
		zap.Int("created", resp.Created),
		zap.Int("updated", resp.Updated),
		zap.Int("errors", len(resp.Errors)),
	)
	return resp
}

// LastFailedCheck returns the asset's most recent event when it failed, or nil
// when that event passed or the asset has no events. Only the single latest
// event counts: FAIL then PASS is resolved, FAIL then FAIL surfaces the later
// FAIL.
func (s *Service) LastFailedCheck(ctx context.Context, assetID string) (*model.PreShiftCheckEvent, error) {
	latest, err := s.repos.Events.Latest(ctx, assetID)
	if err != nil {
		return nil, err
	}
	return UnresolvedFailure(latest), nil
}

// UnresolvedFailure maps the latest event of an asset to its unresolved
// failure, if any.
func UnresolvedFailure(latest *model.PreShiftCheckEvent) *model.PreShiftCheckEvent {
	if latest == nil || latest.Result == model.ResultPass {
		return nil
	}
	return latest
}

// ListFaults returns faults newest created_at first.
func (s *Service) ListFaults(ctx context.Context, filter FaultFilter) ([]*model.Fault, error) {
	return s.repos.Faults.List(ctx, filter)
}

// GetFault returns ErrNotFound for an unknown id.
func (s *Service) GetFault(ctx context.Context, faultID string) (*model.Fault, error) {
	return s.repos.Faults.Get(ctx, faultID)
}

// UpsertFault stores one fault idempotently.
func (s *Service) UpsertFault(ctx context.Context, f *model.Fault) (Action, error) {
	clearClientFaultFields(f)
	return s.faults.Upsert(ctx, f)
}

// BatchUpsertFaults stores faults one by one; see Upserter.BatchUpsert.
func (s *Service) BatchUpsertFaults(ctx context.Context, faults []*model.Fault) model.BatchResponse {
	for _, f := range faults {
		clearClientFaultFields(f)
	}
	resp := s.faults.BatchUpsert(ctx, faults)
	s.logger.Info("Fault batch upserted",
		zap.Int("processed", resp.Processed),
		zap.Int("errors", len(resp.Errors)),
	)
	return resp
}

// FaultPatch is a partial fault update. Nil fields are left unchanged.
type FaultPatch struct {
	Status      *model.FaultStatus `json:"status"`
	Description *string            `json:"description"`
	Priority    *model.Priority    `json:"priority"`
}

func (p FaultPatch) validate() error {
	if p.Status != nil && *p.Status != model.FaultOpen && *p.Status != model.FaultClosed {
		return fmt.Errorf("status must be OPEN or CLOSED: %w", ErrInvalid)
	}
	if p.Priority != nil {
		switch *p.Priority {
		case model.PriorityLow, model.PriorityMed, model.PriorityHigh:
		default:
			return fmt.Errorf("priority must be LOW, MED or HIGH: %w", ErrInvalid)
		}
	}
	return nil
}

// PatchFault applies a partial update and refreshes updated_at.
func (s *Service) PatchFault(ctx context.Context, faultID string, patch FaultPatch) (*model.Fault, error) {
	if err := patch.validate(); err != nil {
		return nil, err
	}

	f, err := s.repos.Faults.Get(ctx, faultID)
	if err != nil {
		return nil, err
	}

	if patch.Status != nil {
		f.Status = *patch.Status
	}
	if patch.Description != nil {
		f.Description = *patch.Description
	}
	if patch.Priority != nil {
		f.Priority = *patch.Priority
	}
	f.UpdatedAt = s.now().UTC()

	if err := s.repos.Faults.Put(ctx, f); err != nil {
		return nil, fmt.Errorf("failed to update fault %s: %w", faultID, err)
	}
	s.logger.Info("Fault patched", zap.String("fault_id", faultID), zap.String("status", string(f.Status)))
	return f, nil
}

// Snapshot is the counts served by /api/status.
type Snapshot struct {
	Assets     int       `json:"assets"`
	Checklists int       `json:"checklists"`
	Events     int       `json:"events"`
	Faults     int       `json:"faults"`
	OpenFaults int       `json:"open_faults"`
	Timestamp  time.Time `json:"timestamp"`
}

// Status counts the stored records.
func (s *Service) Status(ctx context.Context) (*Snapshot, error) {
	var (
		snap Snapshot
		err  error
	)
	if snap.Assets, err = s.repos.Assets.Count(ctx); err != nil {
		return nil, err
	}
	if snap.Checklists, err = s.repos.Checklists.Count(ctx); err != nil {
		return nil, err
	}
	if snap.Events, err = s.repos.Events.Count(ctx); err != nil {
		return nil, err
	}
	if snap.Faults, err = s.repos.Faults.Count(ctx, FaultFilter{}); err != nil {
		return nil, err
	}
	if snap.OpenFaults, err = s.repos.Faults.Count(ctx, FaultFilter{Status: model.FaultOpen}); err != nil {
		return nil, err
	}
	snap.Timestamp = s.now().UTC()
	return &snap, nil
}

// Seed stores reference data, replacing records with the same ids.
func (s *Service) Seed(ctx context.Context, assets []model.Asset, checklists []model.Checklist) error {
	if err := s.repos.Assets.Save(ctx, assets); err != nil {
		return fmt.Errorf("failed to seed assets: %w", err)
	}
	for i := range checklists {
		checklists[i].SortItems()
	}
	if err := s.repos.Checklists.Save(ctx, checklists); err != nil {
		return fmt.Errorf("failed to seed checklists: %w", err)
	}
	s.logger.Info("Reference data seeded",
		zap.Int("assets", len(assets)),
		zap.Int("checklists", len(checklists)),
	)
	return nil
}

func clearClientFields(ev *model.PreShiftCheckEvent) {
	if ev == nil {
		return
	}
	ev.SyncStatus = ""
	ev.LastError = ""
}

func clearClientFaultFields(f *model.Fault) {
	if f == nil {
		return
	}
	f.SyncStatus = ""
	f.LastError = ""
}
