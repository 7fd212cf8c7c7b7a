package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/fieldops/preshift/internal/model"
)

// NewMemoryRepositories returns volatile in-process repositories.
func NewMemoryRepositories() Repositories {
	return Repositories{
		Events: &MemoryEventRepository{memoryTable[*model.PreShiftCheckEvent]{
			rows:  make(map[string]*model.PreShiftCheckEvent),
			clone: (*model.PreShiftCheckEvent).Clone,
		}},
		Faults: &MemoryFaultRepository{memoryTable[*model.Fault]{
			rows:  make(map[string]*model.Fault),
			clone: func(f *model.Fault) *model.Fault { c := *f; return &c },
		}},
		Assets:     &MemoryAssetRepository{rows: make(map[string]model.Asset)},
		Checklists: &MemoryChecklistRepository{rows: make(map[string]model.Checklist)},
	}
}

// memoryTable is a map of records guarded by a RWMutex. Stored values are
// copies, so callers never alias them.
type memoryTable[T Record] struct {
	mu    sync.RWMutex
	rows  map[string]T
	clone func(T) T
}

func (m *memoryTable[T]) Get(ctx context.Context, id string) (T, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.rows[id]
	if !ok {
		var zero T
		return zero, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	return m.clone(rec), nil
}

func (m *memoryTable[T]) Put(ctx context.Context, rec T) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.rows[rec.Key()] = m.clone(rec)
	return nil
}

// filter returns copies of the rows matching keep.
func (m *memoryTable[T]) filter(keep func(T) bool) []T {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]T, 0, len(m.rows))
	for _, rec := range m.rows {
		if keep(rec) {
			out = append(out, m.clone(rec))
		}
	}
	return out
}

// MemoryEventRepository keeps events in memory.
type MemoryEventRepository struct {
	memoryTable[*model.PreShiftCheckEvent]
}

func (r *MemoryEventRepository) List(ctx context.Context, assetID string) ([]*model.PreShiftCheckEvent, error) {
	out := r.filter(func(ev *model.PreShiftCheckEvent) bool {
		return assetID == "" || ev.AssetID == assetID
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].EventID > out[j].EventID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (r *MemoryEventRepository) Latest(ctx context.Context, assetID string) (*model.PreShiftCheckEvent, error) {
	var latest *model.PreShiftCheckEvent
	for _, ev := range r.filter(func(ev *model.PreShiftCheckEvent) bool { return ev.AssetID == assetID }) {
		if latest == nil || ev.CompletedAt.After(latest.CompletedAt) ||
			(ev.CompletedAt.Equal(latest.CompletedAt) && ev.UpdatedAt.After(latest.UpdatedAt)) {
			latest = ev
		}
	}
	return latest, nil
}

func (r *MemoryEventRepository) Count(ctx context.Context) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rows), nil
}

// MemoryFaultRepository keeps faults in memory.
type MemoryFaultRepository struct {
	memoryTable[*model.Fault]
}

func (r *MemoryFaultRepository) List(ctx context.Context, filter FaultFilter) ([]*model.Fault, error) {
	out := r.filter(filter.match)
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].FaultID > out[j].FaultID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (r *MemoryFaultRepository) Count(ctx context.Context, filter FaultFilter) (int, error) {
	return len(r.filter(filter.match)), nil
}

func (f FaultFilter) match(fault *model.Fault) bool {
	if f.AssetID != "" && fault.AssetID != f.AssetID {
		return false
	}
	if f.Status != "" && fault.Status != f.Status {
		return false
	}
	return true
}

// MemoryAssetRepository keeps assets in memory.
type MemoryAssetRepository struct {
	mu   sync.RWMutex
	rows map[string]model.Asset
}

func (r *MemoryAssetRepository) List(ctx context.Context) ([]model.Asset, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]model.Asset, 0, len(r.rows))
	for _, a := range r.rows {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AssetID < out[j].AssetID })
	return out, nil
}

func (r *MemoryAssetRepository) Get(ctx context.Context, assetID string) (*model.Asset, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.rows[assetID]
	if !ok {
		return nil, fmt.Errorf("asset %s: %w", assetID, ErrNotFound)
	}
	return &a, nil
}

func (r *MemoryAssetRepository) Save(ctx context.Context, assets []model.Asset) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, a := range assets {
		if a.AssetID == "" {
			return ErrMissingID
		}
		r.rows[a.AssetID] = a
	}
	return nil
}

func (r *MemoryAssetRepository) Count(ctx context.Context) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rows), nil
}

// MemoryChecklistRepository keeps checklists in memory.
type MemoryChecklistRepository struct {
	mu   sync.RWMutex
	rows map[string]model.Checklist
}

func (r *MemoryChecklistRepository) List(ctx context.Context) ([]model.Checklist, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]model.Checklist, 0, len(r.rows))
	for _, c := range r.rows {
		out = append(out, c.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].MachineClass != out[j].MachineClass {
			return out[i].MachineClass < out[j].MachineClass
		}
		return out[i].Version > out[j].Version
	})
	return out, nil
}

func (r *MemoryChecklistRepository) Active(ctx context.Context, machineClass string) (*model.Checklist, error) {
	all, _ := r.List(ctx)
	for _, c := range all {
		if c.MachineClass == machineClass && c.Status == model.ChecklistActive {
			return &c, nil
		}
	}
	return nil, fmt.Errorf("active checklist for %s: %w", machineClass, ErrNotFound)
}

func (r *MemoryChecklistRepository) Save(ctx context.Context, checklists []model.Checklist) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, c := range checklists {
		if c.ChecklistID == "" {
			return ErrMissingID
		}
		r.rows[c.ChecklistID] = c.Clone()
	}
	return nil
}

func (r *MemoryChecklistRepository) Count(ctx context.Context) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rows), nil
}
