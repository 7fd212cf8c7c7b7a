package postgres

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/fieldops/preshift/internal/model"
)

// EventModel stores an event document with its query columns.
type EventModel struct {
	EventID     string    `gorm:"type:varchar(64);primaryKey"`
	AssetID     string    `gorm:"type:varchar(255);not null;index:idx_events_asset_completed,priority:1"`
	Result      string    `gorm:"type:varchar(10);not null"`
	CompletedAt time.Time `gorm:"not null;index:idx_events_asset_completed,priority:2"`
	CreatedAt   time.Time `gorm:"not null;index"`
	UpdatedAt   time.Time `gorm:"not null"`
	Doc         string    `gorm:"type:jsonb;not null"`
}

func (EventModel) TableName() string {
	return "events"
}

// FaultModel stores a fault document with its query columns.
type FaultModel struct {
	FaultID       string    `gorm:"type:varchar(64);primaryKey"`
	AssetID       string    `gorm:"type:varchar(255);not null;index:idx_faults_asset_status,priority:1"`
	Status        string    `gorm:"type:varchar(10);not null;index:idx_faults_asset_status,priority:2"`
	SourceEventID *string   `gorm:"type:varchar(64);index"`
	CreatedAt     time.Time `gorm:"not null;index"`
	UpdatedAt     time.Time `gorm:"not null"`
	Doc           string    `gorm:"type:jsonb;not null"`
}

func (FaultModel) TableName() string {
	return "faults"
}

// AssetModel stores a reference asset.
type AssetModel struct {
	AssetID      string `gorm:"type:varchar(255);primaryKey"`
	Name         string `gorm:"type:varchar(255);not null"`
	MachineClass string `gorm:"type:varchar(100);not null;index"`
	QRCodeValue  string `gorm:"type:varchar(255)"`
}

func (AssetModel) TableName() string {
	return "assets"
}

// ChecklistModel stores a checklist with its items as a document.
type ChecklistModel struct {
	ChecklistID  string `gorm:"type:varchar(64);primaryKey"`
	MachineClass string `gorm:"type:varchar(100);not null;index:idx_checklists_class_status,priority:1"`
	Status       string `gorm:"type:varchar(10);not null;index:idx_checklists_class_status,priority:2"`
	Version      int    `gorm:"not null;default:0"`
	Doc          string `gorm:"type:jsonb;not null"`
}

func (ChecklistModel) TableName() string {
	return "checklists"
}

func toEventModel(ev *model.PreShiftCheckEvent) (*EventModel, error) {
	doc, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("failed to encode event: %w", err)
	}
	return &EventModel{
		EventID:     ev.EventID,
		AssetID:     ev.AssetID,
		Result:      string(ev.Result),
		CompletedAt: ev.CompletedAt.UTC(),
		CreatedAt:   ev.CreatedAt.UTC(),
		UpdatedAt:   ev.UpdatedAt.UTC(),
		Doc:         string(doc),
	}, nil
}

func toEventEntity(m *EventModel) (*model.PreShiftCheckEvent, error) {
	var ev model.PreShiftCheckEvent
	if err := json.Unmarshal([]byte(m.Doc), &ev); err != nil {
		return nil, fmt.Errorf("failed to decode event %s: %w", m.EventID, err)
	}
	// The columns are authoritative for server timestamps.
	ev.Stamp(m.CreatedAt.UTC(), m.UpdatedAt.UTC())
	return &ev, nil
}

func toFaultModel(f *model.Fault) (*FaultModel, error) {
	doc, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("failed to encode fault: %w", err)
	}
	var source *string
	if f.SourceEventID != "" {
		source = &f.SourceEventID
	}
	return &FaultModel{
		FaultID:       f.FaultID,
		AssetID:       f.AssetID,
		Status:        string(f.Status),
		SourceEventID: source,
		CreatedAt:     f.CreatedAt.UTC(),
		UpdatedAt:     f.UpdatedAt.UTC(),
		Doc:           string(doc),
	}, nil
}

func toFaultEntity(m *FaultModel) (*model.Fault, error) {
	var f model.Fault
	if err := json.Unmarshal([]byte(m.Doc), &f); err != nil {
		return nil, fmt.Errorf("failed to decode fault %s: %w", m.FaultID, err)
	}
	f.Stamp(m.CreatedAt.UTC(), m.UpdatedAt.UTC())
	return &f, nil
}

func toChecklistModel(c model.Checklist) (*ChecklistModel, error) {
	doc, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to encode checklist: %w", err)
	}
	return &ChecklistModel{
		ChecklistID:  c.ChecklistID,
		MachineClass: c.MachineClass,
		Status:       string(c.Status),
		Version:      c.Version,
		Doc:          string(doc),
	}, nil
}

func toChecklistEntity(m *ChecklistModel) (*model.Checklist, error) {
	var c model.Checklist
	if err := json.Unmarshal([]byte(m.Doc), &c); err != nil {
		return nil, fmt.Errorf("failed to decode checklist %s: %w", m.ChecklistID, err)
	}
	return &c, nil
}
