package local

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/fieldops/preshift/internal/model"
)

// ReplaceAssets swaps the whole asset collection for the given set.
func (s *Store) ReplaceAssets(ctx context.Context, assets []model.Asset) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin asset replace: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM assets"); err != nil {
		return fmt.Errorf("failed to clear assets: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, "INSERT OR REPLACE INTO assets (asset_id, machine_class, doc) VALUES (?, ?, ?)")
	if err != nil {
		return fmt.Errorf("failed to prepare asset insert: %w", err)
	}
	defer stmt.Close()

	for _, a := range assets {
		doc, err := json.Marshal(a)
		if err != nil {
			return fmt.Errorf("failed to encode asset %s: %w", a.AssetID, err)
		}
		if _, err := stmt.ExecContext(ctx, a.AssetID, a.MachineClass, string(doc)); err != nil {
			return fmt.Errorf("failed to insert asset %s: %w", a.AssetID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit asset replace: %w", err)
	}

	s.publish(ctx)
	return nil
}

// ListAssets returns all assets ordered by id.
func (s *Store) ListAssets(ctx context.Context) ([]*model.Asset, error) {
	return queryDocs[model.Asset](ctx, s.conn, "SELECT doc FROM assets ORDER BY asset_id")
}

// GetAsset returns ErrNotFound when the asset does not exist.
func (s *Store) GetAsset(ctx context.Context, assetID string) (*model.Asset, error) {
	var doc string
	err := s.conn.QueryRowContext(ctx, "SELECT doc FROM assets WHERE asset_id = ?", assetID).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("asset %s: %w", assetID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get asset %s: %w", assetID, err)
	}

	var a model.Asset
	if err := json.Unmarshal([]byte(doc), &a); err != nil {
		return nil, fmt.Errorf("failed to decode asset %s: %w", assetID, err)
	}
	return &a, nil
}

// ReplaceChecklists swaps the checklist collection. Only ACTIVE checklists are
// kept; the number stored is returned.
func (s *Store) ReplaceChecklists(ctx context.Context, checklists []model.Checklist) (int, error) {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin checklist replace: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM checklists"); err != nil {
		return 0, fmt.Errorf("failed to clear checklists: %w", err)
	}

	stored := 0
	for _, c := range checklists {
		if c.Status != model.ChecklistActive {
			continue
		}
		c.SortItems()
		doc, err := json.Marshal(c)
		if err != nil {
			return 0, fmt.Errorf("failed to encode checklist %s: %w", c.ChecklistID, err)
		}
		_, err = tx.ExecContext(ctx,
			"INSERT OR REPLACE INTO checklists (checklist_id, machine_class, status, version, doc) VALUES (?, ?, ?, ?, ?)",
			c.ChecklistID, c.MachineClass, string(c.Status), c.Version, string(doc))
		if err != nil {
			return 0, fmt.Errorf("failed to insert checklist %s: %w", c.ChecklistID, err)
		}
		stored++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit checklist replace: %w", err)
	}

	s.publish(ctx)
	return stored, nil
}

// ActiveChecklist returns the highest-version ACTIVE checklist for a machine class.
func (s *Store) ActiveChecklist(ctx context.Context, machineClass string) (*model.Checklist, error) {
	query := `
	SELECT doc FROM checklists
	WHERE machine_class = ? AND status = ?
	ORDER BY version DESC
	LIMIT 1
	`
	list, err := queryDocs[model.Checklist](ctx, s.conn, query, machineClass, string(model.ChecklistActive))
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, fmt.Errorf("active checklist for %s: %w", machineClass, ErrNotFound)
	}
	return list[0], nil
}

// ListChecklists returns the cached checklists ordered by machine class.
func (s *Store) ListChecklists(ctx context.Context) ([]*model.Checklist, error) {
	return queryDocs[model.Checklist](ctx, s.conn,
		"SELECT doc FROM checklists ORDER BY machine_class, version DESC")
}

// PutLastFailedCheck caches the most recent check of an asset when it failed.
// A nil event clears the entry.
func (s *Store) PutLastFailedCheck(ctx context.Context, assetID string, ev *model.PreShiftCheckEvent) error {
	if err := putLastFailed(ctx, s.conn, assetID, ev); err != nil {
		return err
	}
	s.publish(ctx)
	return nil
}

// ReplaceLastFailedChecks swaps the whole cache. Nil entries are dropped.
func (s *Store) ReplaceLastFailedChecks(ctx context.Context, checks map[string]*model.PreShiftCheckEvent) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin last-failed replace: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM last_failed_checks"); err != nil {
		return fmt.Errorf("failed to clear last-failed checks: %w", err)
	}
	for assetID, ev := range checks {
		if ev == nil {
			continue
		}
		if err := putLastFailed(ctx, tx, assetID, ev); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit last-failed replace: %w", err)
	}

	s.publish(ctx)
	return nil
}

func putLastFailed(ctx context.Context, db execer, assetID string, ev *model.PreShiftCheckEvent) error {
	if ev == nil {
		if _, err := db.ExecContext(ctx, "DELETE FROM last_failed_checks WHERE asset_id = ?", assetID); err != nil {
			return fmt.Errorf("failed to clear last-failed check for %s: %w", assetID, err)
		}
		return nil
	}

	doc, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode last-failed check for %s: %w", assetID, err)
	}

	query := `
	INSERT INTO last_failed_checks (asset_id, event_id, doc) VALUES (?, ?, ?)
	ON CONFLICT(asset_id) DO UPDATE SET event_id = excluded.event_id, doc = excluded.doc
	`
	if _, err := db.ExecContext(ctx, query, assetID, ev.EventID, string(doc)); err != nil {
		return fmt.Errorf("failed to store last-failed check for %s: %w", assetID, err)
	}
	return nil
}

// LastFailedCheck returns the cached failed check for an asset, or nil if the
// asset's latest check passed or it has never been checked.
func (s *Store) LastFailedCheck(ctx context.Context, assetID string) (*model.PreShiftCheckEvent, error) {
	list, err := queryDocs[model.PreShiftCheckEvent](ctx, s.conn,
		"SELECT doc FROM last_failed_checks WHERE asset_id = ?", assetID)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}
	return list[0], nil
}

// ListLastFailedChecks returns the whole cache keyed by asset id.
func (s *Store) ListLastFailedChecks(ctx context.Context) (map[string]*model.PreShiftCheckEvent, error) {
	rows, err := s.conn.QueryContext(ctx, "SELECT asset_id, doc FROM last_failed_checks ORDER BY asset_id")
	if err != nil {
		return nil, fmt.Errorf("failed to list last-failed checks: %w", err)
	}
	defer rows.Close()

	out := make(map[string]*model.PreShiftCheckEvent)
	for rows.Next() {
		var assetID, doc string
		if err := rows.Scan(&assetID, &doc); err != nil {
			return nil, fmt.Errorf("failed to scan last-failed check: %w", err)
		}
		var ev model.PreShiftCheckEvent
		if err := json.Unmarshal([]byte(doc), &ev); err != nil {
			return nil, fmt.Errorf("failed to decode last-failed check for %s: %w", assetID, err)
		}
		out[assetID] = &ev
	}
	return out, rows.Err()
}
