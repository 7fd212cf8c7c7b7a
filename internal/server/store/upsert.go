package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fieldops/preshift/internal/model"
)

// Action reports what an upsert did.
type Action string

const (
	ActionCreated Action = "created"
	ActionUpdated Action = "updated"
)

// Upserter applies idempotent upsert-by-id on top of a Repository.
//
// Applying Upsert N times with the same payload leaves one stored record whose
// created_at is from the first application and whose updated_at is from the
// last. Upserts of the same id through one Upserter are serialized.
type Upserter[T Record] struct {
	repo Repository[T]
	now  func() time.Time

	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	sync.Mutex
	refs int
}

// NewUpserter wraps repo. A nil now uses the wall clock.
func NewUpserter[T Record](repo Repository[T], now func() time.Time) *Upserter[T] {
	if now == nil {
		now = time.Now
	}
	return &Upserter[T]{repo: repo, now: now, locks: make(map[string]*keyLock)}
}

// lock holds the per-id lock until the returned func is called.
func (u *Upserter[T]) lock(id string) func() {
	u.mu.Lock()
	l, ok := u.locks[id]
	if !ok {
		l = &keyLock{}
		u.locks[id] = l
	}
	l.refs++
	u.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		u.mu.Lock()
		if l.refs--; l.refs == 0 {
			delete(u.locks, id)
		}
		u.mu.Unlock()
	}
}

// Upsert inserts the record or replaces the stored one, keeping its created_at.
func (u *Upserter[T]) Upsert(ctx context.Context, rec T) (Action, error) {
	id := rec.Key()
	if id == "" {
		return "", ErrMissingID
	}

	unlock := u.lock(id)
	defer unlock()

	existing, err := u.repo.Get(ctx, id)
	now := u.now().UTC()
	switch {
	case errors.Is(err, ErrNotFound):
		rec.Stamp(now, now)
		if err := u.repo.Put(ctx, rec); err != nil {
			return "", fmt.Errorf("failed to insert %s: %w", id, err)
		}
		return ActionCreated, nil

	case err != nil:
		return "", fmt.Errorf("failed to look up %s: %w", id, err)

	default:
		rec.Stamp(existing.Created(), later(existing.Created(), now))
		if err := u.repo.Put(ctx, rec); err != nil {
			return "", fmt.Errorf("failed to update %s: %w", id, err)
		}
		return ActionUpdated, nil
	}
}

// BatchUpsert applies Upsert to each record in order. A failing record is
// reported in Errors and does not stop the batch.
func (u *Upserter[T]) BatchUpsert(ctx context.Context, recs []T) model.BatchResponse {
	resp := model.BatchResponse{Errors: []model.BatchError{}}

	for _, rec := range recs {
		resp.Processed++

		action, err := u.Upsert(ctx, rec)
		if err != nil {
			resp.Errors = append(resp.Errors, model.BatchError{ID: rec.Key(), Error: err.Error()})
			continue
		}

		switch action {
		case ActionCreated:
			resp.Created++
		case ActionUpdated:
			resp.Updated++
		}
	}

	return resp
}

// later returns the later of a and b.
func later(a, b time.Time) time.Time {
	if b.Before(a) {
		return a
	}
	return b
}
