package postgres

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/fieldops/preshift/internal/model"
	"github.com/fieldops/preshift/internal/server/store"
)

// keepCreated upserts on key and rewrites only cols, so the created_at of the
// first insert survives a concurrent insert of the same id.
func keepCreated(key string, cols ...string) clause.OnConflict {
	return clause.OnConflict{
		Columns:   []clause.Column{{Name: key}},
		DoUpdates: clause.AssignmentColumns(cols),
	}
}

// EventRepository implements store.EventRepository.
type EventRepository struct {
	db *DB
}

func (r *EventRepository) Get(ctx context.Context, id string) (*model.PreShiftCheckEvent, error) {
	var m EventModel
	err := r.db.DB.WithContext(ctx).Where("event_id = ?", id).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("event %s: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get event: %w", err)
	}
	return toEventEntity(&m)
}

func (r *EventRepository) Put(ctx context.Context, ev *model.PreShiftCheckEvent) error {
	m, err := toEventModel(ev)
	if err != nil {
		return err
	}
	err = r.db.DB.WithContext(ctx).
		Clauses(keepCreated("event_id", "asset_id", "result", "completed_at", "updated_at", "doc")).
		Create(m).Error
	if err != nil {
		return fmt.Errorf("failed to store event: %w", err)
	}
	return nil
}

func (r *EventRepository) List(ctx context.Context, assetID string) ([]*model.PreShiftCheckEvent, error) {
	q := r.db.DB.WithContext(ctx).Order("created_at DESC").Order("event_id DESC")
	if assetID != "" {
		q = q.Where("asset_id = ?", assetID)
	}

	var rows []EventModel
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}

	out := make([]*model.PreShiftCheckEvent, 0, len(rows))
	for i := range rows {
		ev, err := toEventEntity(&rows[i])
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, nil
}

func (r *EventRepository) Latest(ctx context.Context, assetID string) (*model.PreShiftCheckEvent, error) {
	var m EventModel
	err := r.db.DB.WithContext(ctx).
		Where("asset_id = ?", assetID).
		Order("completed_at DESC").
		Order("updated_at DESC").
		First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest event: %w", err)
	}
	return toEventEntity(&m)
}

func (r *EventRepository) Count(ctx context.Context) (int, error) {
	var n int64
	if err := r.db.DB.WithContext(ctx).Model(&EventModel{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}
	return int(n), nil
}

// FaultRepository implements store.FaultRepository.
type FaultRepository struct {
	db *DB
}

func (r *FaultRepository) Get(ctx context.Context, id string) (*model.Fault, error) {
	var m FaultModel
	err := r.db.DB.WithContext(ctx).Where("fault_id = ?", id).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("fault %s: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get fault: %w", err)
	}
	return toFaultEntity(&m)
}

func (r *FaultRepository) Put(ctx context.Context, f *model.Fault) error {
	m, err := toFaultModel(f)
	if err != nil {
		return err
	}
	err = r.db.DB.WithContext(ctx).
		Clauses(keepCreated("fault_id", "asset_id", "status", "source_event_id", "updated_at", "doc")).
		Create(m).Error
	if err != nil {
		return fmt.Errorf("failed to store fault: %w", err)
	}
	return nil
}

func (r *FaultRepository) scope(ctx context.Context, filter store.FaultFilter) *gorm.DB {
	q := r.db.DB.WithContext(ctx).Model(&FaultModel{})
	if filter.AssetID != "" {
		q = q.Where("asset_id = ?", filter.AssetID)
	}
	if filter.Status != "" {
		q = q.Where("status = ?", string(filter.Status))
	}
	return q
}

func (r *FaultRepository) List(ctx context.Context, filter store.FaultFilter) ([]*model.Fault, error) {
	var rows []FaultModel
	err := r.scope(ctx, filter).
		Order("created_at DESC").
		Order("fault_id DESC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list faults: %w", err)
	}

	out := make([]*model.Fault, 0, len(rows))
	for i := range rows {
		f, err := toFaultEntity(&rows[i])
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}

func (r *FaultRepository) Count(ctx context.Context, filter store.FaultFilter) (int, error) {
	var n int64
	if err := r.scope(ctx, filter).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("failed to count faults: %w", err)
	}
	return int(n), nil
}

// AssetRepository implements store.AssetRepository.
type AssetRepository struct {
	db *DB
}

func (r *AssetRepository) List(ctx context.Context) ([]model.Asset, error) {
	var rows []AssetModel
	if err := r.db.DB.WithContext(ctx).Order("asset_id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list assets: %w", err)
	}
	out := make([]model.Asset, len(rows))
	for i, m := range rows {
		out[i] = model.Asset{AssetID: m.AssetID, Name: m.Name, MachineClass: m.MachineClass, QRCodeValue: m.QRCodeValue}
	}
	return out, nil
}

func (r *AssetRepository) Get(ctx context.Context, assetID string) (*model.Asset, error) {
	var m AssetModel
	err := r.db.DB.WithContext(ctx).Where("asset_id = ?", assetID).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("asset %s: %w", assetID, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get asset: %w", err)
	}
	return &model.Asset{AssetID: m.AssetID, Name: m.Name, MachineClass: m.MachineClass, QRCodeValue: m.QRCodeValue}, nil
}

func (r *AssetRepository) Save(ctx context.Context, assets []model.Asset) error {
	if len(assets) == 0 {
		return nil
	}
	rows := make([]AssetModel, len(assets))
	for i, a := range assets {
		if a.AssetID == "" {
			return store.ErrMissingID
		}
		rows[i] = AssetModel{AssetID: a.AssetID, Name: a.Name, MachineClass: a.MachineClass, QRCodeValue: a.QRCodeValue}
	}
	err := r.db.DB.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&rows).Error
	if err != nil {
		return fmt.Errorf("failed to save assets: %w", err)
	}
	return nil
}

func (r *AssetRepository) Count(ctx context.Context) (int, error) {
	var n int64
	if err := r.db.DB.WithContext(ctx).Model(&AssetModel{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("failed to count assets: %w", err)
	}
	return int(n), nil
}

// ChecklistRepository implements store.ChecklistRepository.
type ChecklistRepository struct {
	db *DB
}

func (r *ChecklistRepository) List(ctx context.Context) ([]model.Checklist, error) {
	var rows []ChecklistModel
	err := r.db.DB.WithContext(ctx).
		Order("machine_class").
		Order("version DESC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list checklists: %w", err)
	}

	out := make([]model.Checklist, 0, len(rows))
	for i := range rows {
		c, err := toChecklistEntity(&rows[i])
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, nil
}

func (r *ChecklistRepository) Active(ctx context.Context, machineClass string) (*model.Checklist, error) {
	var m ChecklistModel
	err := r.db.DB.WithContext(ctx).
		Where("machine_class = ? AND status = ?", machineClass, string(model.ChecklistActive)).
		Order("version DESC").
		First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("active checklist for %s: %w", machineClass, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get active checklist: %w", err)
	}
	return toChecklistEntity(&m)
}

func (r *ChecklistRepository) Save(ctx context.Context, checklists []model.Checklist) error {
	return r.db.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, c := range checklists {
			if c.ChecklistID == "" {
				return store.ErrMissingID
			}
			m, err := toChecklistModel(c)
			if err != nil {
				return err
			}
			if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(m).Error; err != nil {
				return fmt.Errorf("failed to save checklist %s: %w", c.ChecklistID, err)
			}
		}
		return nil
	})
}

func (r *ChecklistRepository) Count(ctx context.Context) (int, error) {
	var n int64
	if err := r.db.DB.WithContext(ctx).Model(&ChecklistModel{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("failed to count checklists: %w", err)
	}
	return int(n), nil
}

var (
	_ store.EventRepository     = (*EventRepository)(nil)
	_ store.FaultRepository     = (*FaultRepository)(nil)
	_ store.AssetRepository     = (*AssetRepository)(nil)
	_ store.ChecklistRepository = (*ChecklistRepository)(nil)
)
