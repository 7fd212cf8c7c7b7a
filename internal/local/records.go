package local

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fieldops/preshift/internal/model"
)

// timeLayout is fixed width so indexed timestamp columns sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// EventFilter narrows ListEvents. Zero fields do not filter.
type EventFilter struct {
	AssetID      string
	SyncStatuses []model.SyncStatus
	Since        time.Time
	Limit        int
}

// FaultFilter narrows ListFaults. Zero fields do not filter.
type FaultFilter struct {
	AssetID       string
	Status        model.FaultStatus
	SourceEventID string
	SyncStatuses  []model.SyncStatus
}

// PutEvent inserts or fully replaces an event by event_id. An empty sync status
// is stored as PENDING.
func (s *Store) PutEvent(ctx context.Context, ev *model.PreShiftCheckEvent) error {
	if err := ev.Validate(); err != nil {
		return fmt.Errorf("invalid event: %w", err)
	}
	if ev.SyncStatus == "" {
		ev.SyncStatus = model.SyncPending
	}

	doc, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode event %s: %w", ev.EventID, err)
	}

	query := `
	INSERT INTO events (event_id, asset_id, sync_status, created_at, completed_at, doc)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(event_id) DO UPDATE SET
		asset_id = excluded.asset_id,
		sync_status = excluded.sync_status,
		created_at = excluded.created_at,
		completed_at = excluded.completed_at,
		doc = excluded.doc
	`
	_, err = s.conn.ExecContext(ctx, query,
		ev.EventID, ev.AssetID, string(ev.SyncStatus),
		formatTime(ev.CreatedAt), formatTime(ev.CompletedAt), string(doc),
	)
	if err != nil {
		return fmt.Errorf("failed to put event %s: %w", ev.EventID, err)
	}

	s.publish(ctx)
	return nil
}

// GetEvent returns ErrNotFound when the event does not exist.
func (s *Store) GetEvent(ctx context.Context, eventID string) (*model.PreShiftCheckEvent, error) {
	var doc string
	err := s.conn.QueryRowContext(ctx, "SELECT doc FROM events WHERE event_id = ?", eventID).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("event %s: %w", eventID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get event %s: %w", eventID, err)
	}

	var ev model.PreShiftCheckEvent
	if err := json.Unmarshal([]byte(doc), &ev); err != nil {
		return nil, fmt.Errorf("failed to decode event %s: %w", eventID, err)
	}
	return &ev, nil
}

// ReplaceUnsyncedEvent stores ev over an event that is not SYNCED and swaps the
// faults derived from it for faults, in one transaction. It returns the number
// of faults removed, ErrSynced when the stored event is SYNCED, and ErrNotFound
// when there is none.
func (s *Store) ReplaceUnsyncedEvent(ctx context.Context, ev *model.PreShiftCheckEvent, faults []*model.Fault) (int, error) {
	if err := ev.Validate(); err != nil {
		return 0, fmt.Errorf("invalid event: %w", err)
	}
	if ev.SyncStatus == "" {
		ev.SyncStatus = model.SyncPending
	}
	doc, err := json.Marshal(ev)
	if err != nil {
		return 0, fmt.Errorf("failed to encode event %s: %w", ev.EventID, err)
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin event replace: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
	UPDATE events SET
		asset_id = ?, sync_status = ?, created_at = ?, completed_at = ?, doc = ?
	WHERE event_id = ? AND sync_status != ?
	`,
		ev.AssetID, string(ev.SyncStatus), formatTime(ev.CreatedAt), formatTime(ev.CompletedAt), string(doc),
		ev.EventID, string(model.SyncSynced),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to replace event %s: %w", ev.EventID, err)
	}
	if err := unsyncedHit(ctx, tx, res, ev.EventID); err != nil {
		return 0, err
	}

	removed, err := deleteDerivedFaults(ctx, tx, ev.EventID)
	if err != nil {
		return 0, err
	}
	for _, f := range faults {
		if err := s.putFault(ctx, tx, f); err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit event replace: %w", err)
	}
	s.publish(ctx)
	return removed, nil
}

// DeleteUnsyncedEvent removes an event that is not SYNCED together with its
// derived faults, in one transaction. Errors match ReplaceUnsyncedEvent.
func (s *Store) DeleteUnsyncedEvent(ctx context.Context, eventID string) (int, error) {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin event delete: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		"DELETE FROM events WHERE event_id = ? AND sync_status != ?",
		eventID, string(model.SyncSynced))
	if err != nil {
		return 0, fmt.Errorf("failed to delete event %s: %w", eventID, err)
	}
	if err := unsyncedHit(ctx, tx, res, eventID); err != nil {
		return 0, err
	}

	removed, err := deleteDerivedFaults(ctx, tx, eventID)
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit event delete: %w", err)
	}
	s.publish(ctx)
	return removed, nil
}

// unsyncedHit explains a conditional write on an unsynced event that matched
// no row.
func unsyncedHit(ctx context.Context, tx *sql.Tx, res sql.Result, eventID string) error {
	if n, err := res.RowsAffected(); err != nil || n > 0 {
		return err
	}
	var status string
	err := tx.QueryRowContext(ctx, "SELECT sync_status FROM events WHERE event_id = ?", eventID).Scan(&status)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("event %s: %w", eventID, ErrNotFound)
	case err != nil:
		return fmt.Errorf("failed to check event %s: %w", eventID, err)
	default:
		return fmt.Errorf("event %s: %w", eventID, ErrSynced)
	}
}

func deleteDerivedFaults(ctx context.Context, db execer, eventID string) (int, error) {
	res, err := db.ExecContext(ctx, "DELETE FROM faults WHERE source_event_id = ?", eventID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete faults for event %s: %w", eventID, err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// ListEvents returns events newest completed_at first.
func (s *Store) ListEvents(ctx context.Context, f EventFilter) ([]*model.PreShiftCheckEvent, error) {
	var (
		where []string
		args  []any
	)
	if f.AssetID != "" {
		where = append(where, "asset_id = ?")
		args = append(args, f.AssetID)
	}
	if len(f.SyncStatuses) > 0 {
		clause, statusArgs := inClause("sync_status", f.SyncStatuses)
		where = append(where, clause)
		args = append(args, statusArgs...)
	}
	if !f.Since.IsZero() {
		where = append(where, "completed_at >= ?")
		args = append(args, formatTime(f.Since))
	}

	query := "SELECT doc FROM events"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY completed_at DESC"
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", f.Limit)
	}

	return queryDocs[model.PreShiftCheckEvent](ctx, s.conn, query, args...)
}

// PendingEvents returns every event that still needs uploading (PENDING or
// ERROR), oldest created_at first.
func (s *Store) PendingEvents(ctx context.Context) ([]*model.PreShiftCheckEvent, error) {
	query := `
	SELECT doc FROM events
	WHERE sync_status IN (?, ?)
	ORDER BY created_at ASC
	`
	return queryDocs[model.PreShiftCheckEvent](ctx, s.conn, query,
		string(model.SyncPending), string(model.SyncError))
}

// PutFault inserts or fully replaces a fault by fault_id. An empty sync status
// is stored as PENDING.
func (s *Store) PutFault(ctx context.Context, f *model.Fault) error {
	if err := s.putFault(ctx, s.conn, f); err != nil {
		return err
	}
	s.publish(ctx)
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) putFault(ctx context.Context, db execer, f *model.Fault) error {
	if err := f.Validate(); err != nil {
		return fmt.Errorf("invalid fault: %w", err)
	}
	if f.SyncStatus == "" {
		f.SyncStatus = model.SyncPending
	}

	doc, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("failed to encode fault %s: %w", f.FaultID, err)
	}

	var source sql.NullString
	if f.SourceEventID != "" {
		source = sql.NullString{String: f.SourceEventID, Valid: true}
	}

	query := `
	INSERT INTO faults (fault_id, asset_id, status, source_event_id, sync_status, created_at, doc)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(fault_id) DO UPDATE SET
		asset_id = excluded.asset_id,
		status = excluded.status,
		source_event_id = excluded.source_event_id,
		sync_status = excluded.sync_status,
		created_at = excluded.created_at,
		doc = excluded.doc
	`
	_, err = db.ExecContext(ctx, query,
		f.FaultID, f.AssetID, string(f.Status), source,
		string(f.SyncStatus), formatTime(f.CreatedAt), string(doc),
	)
	if err != nil {
		return fmt.Errorf("failed to put fault %s: %w", f.FaultID, err)
	}
	return nil
}

// GetFault returns ErrNotFound when the fault does not exist.
func (s *Store) GetFault(ctx context.Context, faultID string) (*model.Fault, error) {
	var doc string
	err := s.conn.QueryRowContext(ctx, "SELECT doc FROM faults WHERE fault_id = ?", faultID).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("fault %s: %w", faultID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get fault %s: %w", faultID, err)
	}

	var f model.Fault
	if err := json.Unmarshal([]byte(doc), &f); err != nil {
		return nil, fmt.Errorf("failed to decode fault %s: %w", faultID, err)
	}
	return &f, nil
}

// ListFaults returns faults newest created_at first.
func (s *Store) ListFaults(ctx context.Context, f FaultFilter) ([]*model.Fault, error) {
	var (
		where []string
		args  []any
	)
	if f.AssetID != "" {
		where = append(where, "asset_id = ?")
		args = append(args, f.AssetID)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	if f.SourceEventID != "" {
		where = append(where, "source_event_id = ?")
		args = append(args, f.SourceEventID)
	}
	if len(f.SyncStatuses) > 0 {
		clause, statusArgs := inClause("sync_status", f.SyncStatuses)
		where = append(where, clause)
		args = append(args, statusArgs...)
	}

	query := "SELECT doc FROM faults"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC"

	return queryDocs[model.Fault](ctx, s.conn, query, args...)
}

// PendingFaults returns every fault that still needs uploading, oldest
// created_at first.
func (s *Store) PendingFaults(ctx context.Context) ([]*model.Fault, error) {
	query := `
	SELECT doc FROM faults
	WHERE sync_status IN (?, ?)
	ORDER BY created_at ASC
	`
	return queryDocs[model.Fault](ctx, s.conn, query,
		string(model.SyncPending), string(model.SyncError))
}

// ReplaceOpenFaults refreshes the cached OPEN faults of an asset with the
// server's view. Only SYNCED rows are replaced: a local fault that is PENDING
// or ERROR is never deleted or overwritten, so queued work survives a refresh.
func (s *Store) ReplaceOpenFaults(ctx context.Context, assetID string, faults []*model.Fault) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin fault refresh: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		"DELETE FROM faults WHERE asset_id = ? AND status = ? AND sync_status = ?",
		assetID, string(model.FaultOpen), string(model.SyncSynced))
	if err != nil {
		return fmt.Errorf("failed to clear open faults for %s: %w", assetID, err)
	}

	for _, f := range faults {
		var local string
		err := tx.QueryRowContext(ctx, "SELECT sync_status FROM faults WHERE fault_id = ?", f.FaultID).Scan(&local)
		switch {
		case errors.Is(err, sql.ErrNoRows):
		case err != nil:
			return fmt.Errorf("failed to check fault %s: %w", f.FaultID, err)
		case model.SyncStatus(local).NeedsUpload():
			continue
		}

		cached := *f
		cached.SyncStatus = model.SyncSynced
		cached.LastError = ""
		if err := s.putFault(ctx, tx, &cached); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit fault refresh: %w", err)
	}

	s.publish(ctx)
	return nil
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// queryDocs runs a query selecting a single doc column and decodes each row.
func queryDocs[T any](ctx context.Context, db querier, query string, args ...any) ([]*T, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query: %w", err)
	}
	defer rows.Close()

	var out []*T
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		v := new(T)
		if err := json.Unmarshal([]byte(doc), v); err != nil {
			return nil, fmt.Errorf("failed to decode row: %w", err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return out, nil
}

func inClause(column string, statuses []model.SyncStatus) (string, []any) {
	marks := make([]string, len(statuses))
	args := make([]any, len(statuses))
	for i, st := range statuses {
		marks[i] = "?"
		args[i] = string(st)
	}
	return column + " IN (" + strings.Join(marks, ", ") + ")", args
}
