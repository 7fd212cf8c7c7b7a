package local

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/fieldops/preshift/internal/model"
)

// Stats summarizes the local collections.
type Stats struct {
	Assets           int `json:"assets"`
	Checklists       int `json:"checklists"`
	PendingEvents    int `json:"pending_events"`
	ErrorEvents      int `json:"error_events"`
	PendingFaults    int `json:"pending_faults"`
	ErrorFaults      int `json:"error_faults"`
	OpenFaults       int `json:"open_faults"`
	LastFailedChecks int `json:"last_failed_checks"`
}

// Unsynced is the number of records waiting for upload, ERROR included.
func (s Stats) Unsynced() int {
	return s.PendingEvents + s.ErrorEvents + s.PendingFaults + s.ErrorFaults
}

// Stats counts the local collections. It returns ErrDegraded when Init failed.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	if s.Degraded() {
		return Stats{}, ErrDegraded
	}

	query := `
	SELECT
		(SELECT COUNT(*) FROM assets),
		(SELECT COUNT(*) FROM checklists),
		(SELECT COUNT(*) FROM events WHERE sync_status = ?),
		(SELECT COUNT(*) FROM events WHERE sync_status = ?),
		(SELECT COUNT(*) FROM faults WHERE sync_status = ?),
		(SELECT COUNT(*) FROM faults WHERE sync_status = ?),
		(SELECT COUNT(*) FROM faults WHERE status = ?),
		(SELECT COUNT(*) FROM last_failed_checks)
	`
	var st Stats
	err := s.conn.QueryRowContext(ctx, query,
		string(model.SyncPending), string(model.SyncError),
		string(model.SyncPending), string(model.SyncError),
		string(model.FaultOpen),
	).Scan(
		&st.Assets, &st.Checklists,
		&st.PendingEvents, &st.ErrorEvents,
		&st.PendingFaults, &st.ErrorFaults,
		&st.OpenFaults, &st.LastFailedChecks,
	)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to count records: %w", err)
	}
	return st, nil
}

// Subscribe returns a channel that receives fresh Stats after every mutation.
// Updates coalesce: a slow reader sees only the latest value. Call the returned
// func to unsubscribe; it closes the channel.
func (s *Store) Subscribe() (<-chan Stats, func()) {
	ch := make(chan Stats, 1)

	s.subsMu.Lock()
	s.subs[ch] = struct{}{}
	s.subsMu.Unlock()

	cancel := func() {
		s.subsMu.Lock()
		defer s.subsMu.Unlock()
		if _, ok := s.subs[ch]; ok {
			delete(s.subs, ch)
			close(ch)
		}
	}
	return ch, cancel
}

// publish recomputes Stats and offers them to every subscriber.
func (s *Store) publish(ctx context.Context) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()

	if len(s.subs) == 0 {
		return
	}

	st, err := s.Stats(ctx)
	if err != nil {
		s.logger.Debug("Skipping stats publish", zap.Error(err))
		return
	}

	for ch := range s.subs {
		select {
		case ch <- st:
		default:
			// Replace the stale value.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- st:
			default:
			}
		}
	}
}
