// Package store holds the server's records and the idempotent upsert logic the
// field clients rely on.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/fieldops/preshift/internal/model"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrMissingID is returned when a record has no primary id.
	ErrMissingID = errors.New("primary id is required")

	// ErrInvalid is returned for malformed requests such as a bad fault patch.
	ErrInvalid = errors.New("invalid request")
)

// Record is a row keyed by a client-generated id with server-managed
// timestamps.
type Record interface {
	Key() string
	Created() time.Time
	Stamp(createdAt, updatedAt time.Time)
}

// Repository stores records by primary id.
type Repository[T Record] interface {
	// Get returns ErrNotFound when the id is unknown.
	Get(ctx context.Context, id string) (T, error)
	// Put inserts or fully replaces the record.
	Put(ctx context.Context, rec T) error
}

// EventRepository stores pre-shift check events.
type EventRepository interface {
	Repository[*model.PreShiftCheckEvent]

	// List returns events newest created_at first. An empty assetID lists all.
	List(ctx context.Context, assetID string) ([]*model.PreShiftCheckEvent, error)

	// Latest returns the asset's event with the greatest completed_at, or nil.
	Latest(ctx context.Context, assetID string) (*model.PreShiftCheckEvent, error)

	Count(ctx context.Context) (int, error)
}

// FaultFilter narrows fault listings. Zero fields do not filter.
type FaultFilter struct {
	AssetID string
	Status  model.FaultStatus
}

// FaultRepository stores faults.
type FaultRepository interface {
	Repository[*model.Fault]

	// List returns faults newest created_at first.
	List(ctx context.Context, filter FaultFilter) ([]*model.Fault, error)

	Count(ctx context.Context, filter FaultFilter) (int, error)
}

// AssetRepository stores reference assets.
type AssetRepository interface {
	List(ctx context.Context) ([]model.Asset, error)
	Get(ctx context.Context, assetID string) (*model.Asset, error)
	Save(ctx context.Context, assets []model.Asset) error
	Count(ctx context.Context) (int, error)
}

// ChecklistRepository stores checklists of every status.
type ChecklistRepository interface {
	List(ctx context.Context) ([]model.Checklist, error)

	// Active returns the first ACTIVE checklist for the machine class, highest
	// version first.
	Active(ctx context.Context, machineClass string) (*model.Checklist, error)

	Save(ctx context.Context, checklists []model.Checklist) error
	Count(ctx context.Context) (int, error)
}

// Repositories bundles the storage backends of a Service.
type Repositories struct {
	Events     EventRepository
	Faults     FaultRepository
	Assets     AssetRepository
	Checklists ChecklistRepository
}
