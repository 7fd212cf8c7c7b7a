// Package inspection records pre-shift checks on the device.
//
// Submitting a check stores the event and then its derived faults as two
// separate writes, both PENDING. Edits and deletes are allowed until the event
// is SYNCED; the store applies them only while that still holds.
package inspection

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fieldops/preshift/internal/local"
	"github.com/fieldops/preshift/internal/model"
)

var (
	// ErrAlreadySynced is returned when changing an event the server already has.
	ErrAlreadySynced = errors.New("event is already synced and can no longer change")

	// ErrNoReporter is returned when no operator identity is set.
	ErrNoReporter = errors.New("reporter identity is not set")

	// ErrUnknownItem marks a response for an item that is not on the checklist.
	ErrUnknownItem = errors.New("item is not on the checklist")

	// ErrUnanswered marks a checklist item without a response.
	ErrUnanswered = errors.New("item has no answer")
)

// Store is the local persistence used by the inspection flow.
type Store interface {
	Reporter() (model.Reporter, bool)
	GetAsset(ctx context.Context, assetID string) (*model.Asset, error)
	ActiveChecklist(ctx context.Context, machineClass string) (*model.Checklist, error)

	GetEvent(ctx context.Context, eventID string) (*model.PreShiftCheckEvent, error)
	PutEvent(ctx context.Context, ev *model.PreShiftCheckEvent) error
	PutFault(ctx context.Context, f *model.Fault) error

	// ReplaceUnsyncedEvent and DeleteUnsyncedEvent fail with local.ErrSynced
	// when the stored event is SYNCED at write time.
	ReplaceUnsyncedEvent(ctx context.Context, ev *model.PreShiftCheckEvent, faults []*model.Fault) (int, error)
	DeleteUnsyncedEvent(ctx context.Context, eventID string) (int, error)
}

// Submission is a completed check as entered by the operator.
type Submission struct {
	AssetID   string
	Responses []model.CheckResponse
	StartedAt time.Time
}

// Service creates, edits, and deletes pre-shift check events.
type Service struct {
	store  Store
	logger *zap.Logger
	now    func() time.Time
	newID  func() string
}

// New creates a Service. A nil logger discards output.
func New(store Store, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:  store,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
		newID:  uuid.NewString,
	}
}

// Submit validates the responses against the asset's active checklist, then
// stores a new PENDING event followed by one PENDING fault per NO answer.
func (s *Service) Submit(ctx context.Context, sub Submission) (*model.PreShiftCheckEvent, []*model.Fault, error) {
	reporter, ok := s.store.Reporter()
	if !ok {
		return nil, nil, ErrNoReporter
	}

	asset, err := s.store.GetAsset(ctx, sub.AssetID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load asset: %w", err)
	}
	checklist, err := s.store.ActiveChecklist(ctx, asset.MachineClass)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load checklist for %s: %w", asset.MachineClass, err)
	}

	responses, err := orderResponses(checklist, sub.Responses)
	if err != nil {
		return nil, nil, err
	}

	now := s.now()
	started := sub.StartedAt
	if started.IsZero() {
		started = now
	}

	ev := &model.PreShiftCheckEvent{
		EventID:           s.newID(),
		AssetID:           asset.AssetID,
		MachineClass:      asset.MachineClass,
		ChecklistSnapshot: checklist.Clone(),
		Responses:         responses,
		Reporter:          reporter,
		StartedAt:         started.UTC(),
		CompletedAt:       now,
		CreatedAt:         now,
		UpdatedAt:         now,
		SyncStatus:        model.SyncPending,
	}
	ev.Evaluate()

	if err := s.store.PutEvent(ctx, ev); err != nil {
		return nil, nil, fmt.Errorf("failed to save event: %w", err)
	}

	faults, err := s.saveFaults(ctx, ev, now)
	if err != nil {
		return ev, nil, err
	}

	s.logger.Info("Check submitted",
		zap.String("event_id", ev.EventID),
		zap.String("asset_id", ev.AssetID),
		zap.String("result", string(ev.Result)),
		zap.Int("faults", len(faults)),
	)
	return ev, faults, nil
}

// Edit replaces the responses of an event that is not yet SYNCED. The event id
// is kept; its derived faults are deleted and regenerated with new ids.
func (s *Service) Edit(ctx context.Context, eventID string, responses []model.CheckResponse) (*model.PreShiftCheckEvent, []*model.Fault, error) {
	ev, err := s.store.GetEvent(ctx, eventID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load event: %w", err)
	}
	if ev.SyncStatus == model.SyncSynced {
		return nil, nil, fmt.Errorf("edit %s: %w", eventID, ErrAlreadySynced)
	}

	ordered, err := orderResponses(&ev.ChecklistSnapshot, responses)
	if err != nil {
		return nil, nil, err
	}

	now := s.now()
	ev.Responses = ordered
	ev.Evaluate()
	ev.UpdatedAt = now
	ev.SyncStatus = model.SyncPending
	ev.LastError = ""

	faults := model.DeriveFaults(ev, now, s.newID)
	removed, err := s.store.ReplaceUnsyncedEvent(ctx, ev, faults)
	if errors.Is(err, local.ErrSynced) {
		return nil, nil, fmt.Errorf("edit %s: %w", eventID, ErrAlreadySynced)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to save edited event: %w", err)
	}

	s.logger.Info("Check edited",
		zap.String("event_id", ev.EventID),
		zap.String("result", string(ev.Result)),
		zap.Int("faults_removed", removed),
		zap.Int("faults_created", len(faults)),
	)
	return ev, faults, nil
}

// Delete removes an event that is not yet SYNCED, together with its faults.
func (s *Service) Delete(ctx context.Context, eventID string) error {
	removed, err := s.store.DeleteUnsyncedEvent(ctx, eventID)
	if errors.Is(err, local.ErrSynced) {
		return fmt.Errorf("delete %s: %w", eventID, ErrAlreadySynced)
	}
	if err != nil {
		return fmt.Errorf("failed to delete event: %w", err)
	}

	s.logger.Info("Check deleted",
		zap.String("event_id", eventID),
		zap.Int("faults_removed", removed),
	)
	return nil
}

func (s *Service) saveFaults(ctx context.Context, ev *model.PreShiftCheckEvent, now time.Time) ([]*model.Fault, error) {
	faults := model.DeriveFaults(ev, now, s.newID)
	for _, f := range faults {
		if err := s.store.PutFault(ctx, f); err != nil {
			return nil, fmt.Errorf("failed to save fault for event %s: %w", ev.EventID, err)
		}
	}
	return faults, nil
}

// orderResponses validates the responses against the checklist and returns
// them in checklist order. Every item needs exactly one answer.
func orderResponses(checklist *model.Checklist, responses []model.CheckResponse) ([]model.CheckResponse, error) {
	problems := make(map[string]error)

	byItem := make(map[string]model.CheckResponse, len(responses))
	for _, r := range responses {
		if _, ok := checklist.Item(r.ItemID); !ok {
			problems[r.ItemID] = ErrUnknownItem
			continue
		}
		if err := model.ValidateResponse(r); err != nil {
			problems[r.ItemID] = err
			continue
		}
		byItem[r.ItemID] = r
	}

	ordered := make([]model.CheckResponse, 0, len(checklist.Items))
	for _, item := range checklist.Items {
		r, ok := byItem[item.ItemID]
		if !ok {
			if _, reported := problems[item.ItemID]; !reported {
				problems[item.ItemID] = ErrUnanswered
			}
			continue
		}
		ordered = append(ordered, r)
	}

	if len(problems) > 0 {
		return nil, &model.ValidationError{Items: problems}
	}
	return ordered, nil
}
