// Package local provides the device-side durable store for the offline checklist client.
//
// The store keeps six collections in an embedded SQLite database: assets, active
// checklists, pre-shift check events, faults, app metadata, and the per-asset
// last-failed-check cache. Records are stored as JSON documents next to the
// columns they are indexed by, so a put always replaces the whole record keyed
// by its primary id. That is how an edit to a still-pending event updates it in
// place instead of creating a duplicate.
//
// Collections are independent: there are no cross-collection transactions. An
// event and its derived faults are separate writes.
//
// Schema changes are additive migrations tracked in PRAGMA user_version.
package local

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"go.uber.org/zap"

	"github.com/fieldops/preshift/internal/model"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrDegraded is returned by statistics queries while the store runs without
	// a usable schema.
	ErrDegraded = errors.New("local store is degraded")

	// ErrSynced is returned when a change needs an event that is not SYNCED.
	ErrSynced = errors.New("event is already synced")

	// ErrInitTimeout is returned when initialization does not finish in time.
	ErrInitTimeout = errors.New("local store initialization timed out")
)

// AppMeta keys.
const (
	MetaReporterName   = "reporterName"
	MetaReporterUserID = "reporterUserId"
	MetaLastSyncAt     = "lastSyncAt"
)

// DefaultInitTimeout bounds Init when no timeout is configured.
const DefaultInitTimeout = 5 * time.Second

// migrations are applied in order; index i brings the schema to version i+1.
// Only ever append here.
var migrations = []string{
	`
	CREATE TABLE IF NOT EXISTS assets (
		asset_id TEXT PRIMARY KEY,
		machine_class TEXT NOT NULL DEFAULT '',
		doc TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS checklists (
		checklist_id TEXT PRIMARY KEY,
		machine_class TEXT NOT NULL,
		status TEXT NOT NULL,
		version INTEGER NOT NULL DEFAULT 0,
		doc TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS events (
		event_id TEXT PRIMARY KEY,
		asset_id TEXT NOT NULL,
		sync_status TEXT NOT NULL,
		created_at TEXT NOT NULL,
		completed_at TEXT NOT NULL,
		doc TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS faults (
		fault_id TEXT PRIMARY KEY,
		asset_id TEXT NOT NULL,
		status TEXT NOT NULL,
		source_event_id TEXT,
		sync_status TEXT NOT NULL,
		created_at TEXT NOT NULL,
		doc TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS app_meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS last_failed_checks (
		asset_id TEXT PRIMARY KEY,
		event_id TEXT NOT NULL,
		doc TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_events_asset ON events(asset_id);
	CREATE INDEX IF NOT EXISTS idx_checklists_class ON checklists(machine_class, status);
	`,
	`
	CREATE INDEX IF NOT EXISTS idx_events_sync ON events(sync_status, created_at);
	CREATE INDEX IF NOT EXISTS idx_events_completed ON events(completed_at);
	CREATE INDEX IF NOT EXISTS idx_faults_asset_status ON faults(asset_id, status);
	CREATE INDEX IF NOT EXISTS idx_faults_sync ON faults(sync_status, created_at);
	CREATE INDEX IF NOT EXISTS idx_faults_source ON faults(source_event_id);
	`,
}

// SchemaVersion is the version a fully migrated database reports.
var SchemaVersion = len(migrations)

// Store is the device-local durable store. It is safe for concurrent use.
type Store struct {
	conn        *sql.DB
	path        string
	logger      *zap.Logger
	initTimeout time.Duration

	// migrateFn performs schema setup during Init.
	migrateFn func(context.Context) error

	initMu   sync.Mutex
	ready    bool
	degraded bool

	metaMu sync.RWMutex
	meta   map[string]string

	subsMu sync.Mutex
	subs   map[chan Stats]struct{}
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger. A nil logger discards output.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithInitTimeout bounds how long Init may take before falling back to degraded mode.
func WithInitTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.initTimeout = d
		}
	}
}

// Open opens (or creates) the database file at path. Call Init before use.
//
// The caller MUST call Close() when done.
func Open(path string, opts ...Option) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(wal)", path)
	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	// One connection serializes writers; SQLite allows a single writer anyway.
	conn.SetMaxOpenConns(1)

	s := &Store{
		conn:        conn,
		path:        path,
		logger:      zap.NewNop(),
		initTimeout: DefaultInitTimeout,
		meta:        make(map[string]string),
		subs:        make(map[chan Stats]struct{}),
	}
	s.migrateFn = s.migrate

	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Init prepares the schema and loads app metadata into memory.
//
// Init is idempotent: once it succeeds later calls return nil immediately, and
// concurrent callers wait for the attempt in progress. When the database does
// not answer within the init timeout the store enters degraded mode: metadata
// already held in memory (reporter identity) stays readable, while statistics
// return ErrDegraded. A later Init call retries.
func (s *Store) Init(ctx context.Context) error {
	s.initMu.Lock()
	defer s.initMu.Unlock()

	if s.ready {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.initTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		if err := s.migrateFn(ctx); err != nil {
			done <- err
			return
		}
		done <- s.loadMeta(ctx)
	}()

	select {
	case err := <-done:
		if err != nil {
			s.setDegraded(true)
			s.logger.Warn("Local store init failed, running degraded", zap.Error(err))
			return fmt.Errorf("failed to initialize local store: %w", err)
		}
	case <-ctx.Done():
		s.setDegraded(true)
		s.logger.Warn("Local store init timed out, running degraded",
			zap.Duration("timeout", s.initTimeout))
		return fmt.Errorf("%w after %s", ErrInitTimeout, s.initTimeout)
	}

	s.ready = true
	s.setDegraded(false)
	s.logger.Debug("Local store ready", zap.String("path", s.path))
	s.publish(context.Background())
	return nil
}

// Degraded reports whether the last Init attempt failed.
func (s *Store) Degraded() bool {
	s.metaMu.RLock()
	defer s.metaMu.RUnlock()
	return s.degraded
}

func (s *Store) setDegraded(v bool) {
	s.metaMu.Lock()
	s.degraded = v
	s.metaMu.Unlock()
}

// migrate brings the schema up to SchemaVersion, one transaction per step.
func (s *Store) migrate(ctx context.Context) error {
	var version int
	if err := s.conn.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	for v := version; v < len(migrations); v++ {
		tx, err := s.conn.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin migration %d: %w", v+1, err)
		}
		if _, err := tx.ExecContext(ctx, migrations[v]); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to apply migration %d: %w", v+1, err)
		}
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", v+1)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to record schema version %d: %w", v+1, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", v+1, err)
		}
		s.logger.Info("Applied local schema migration", zap.Int("version", v+1))
	}

	return nil
}

// Version returns the schema version recorded in the database.
func (s *Store) Version(ctx context.Context) (int, error) {
	var version int
	if err := s.conn.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	return version, nil
}

// Close checkpoints the WAL and closes the database.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}

	s.subsMu.Lock()
	for ch := range s.subs {
		close(ch)
		delete(s.subs, ch)
	}
	s.subsMu.Unlock()

	if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		s.logger.Warn("Failed to checkpoint WAL", zap.Error(err))
	}

	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close store: %w", err)
	}

	s.conn = nil
	return nil
}

// Wipe deletes every collection, app metadata included. This is the explicit
// user-triggered data wipe.
func (s *Store) Wipe(ctx context.Context) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin wipe: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"assets", "checklists", "events", "faults", "app_meta", "last_failed_checks"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to wipe %s: %w", table, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit wipe: %w", err)
	}

	s.metaMu.Lock()
	s.meta = make(map[string]string)
	s.metaMu.Unlock()

	s.logger.Info("Local data wiped")
	s.publish(ctx)
	return nil
}

// loadMeta copies app_meta into the in-memory cache.
func (s *Store) loadMeta(ctx context.Context) error {
	rows, err := s.conn.QueryContext(ctx, "SELECT key, value FROM app_meta")
	if err != nil {
		return fmt.Errorf("failed to load app meta: %w", err)
	}
	defer rows.Close()

	loaded := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return fmt.Errorf("failed to scan app meta: %w", err)
		}
		loaded[k] = v
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating app meta: %w", err)
	}

	s.metaMu.Lock()
	for k, v := range loaded {
		s.meta[k] = v
	}
	s.metaMu.Unlock()
	return nil
}

// Meta returns a metadata value from memory. It works in degraded mode.
func (s *Store) Meta(key string) (string, bool) {
	s.metaMu.RLock()
	defer s.metaMu.RUnlock()
	v, ok := s.meta[key]
	return v, ok
}

// SetMeta persists a metadata value and updates the in-memory copy.
func (s *Store) SetMeta(ctx context.Context, key, value string) error {
	query := `
	INSERT INTO app_meta (key, value) VALUES (?, ?)
	ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`
	if _, err := s.conn.ExecContext(ctx, query, key, value); err != nil {
		return fmt.Errorf("failed to set meta %s: %w", key, err)
	}

	s.metaMu.Lock()
	s.meta[key] = value
	s.metaMu.Unlock()
	return nil
}

// Reporter returns the operator identity. ok is false when no name is set.
func (s *Store) Reporter() (model.Reporter, bool) {
	name, _ := s.Meta(MetaReporterName)
	userID, _ := s.Meta(MetaReporterUserID)
	if name == "" {
		return model.Reporter{}, false
	}
	return model.Reporter{Name: name, UserID: userID}, true
}

// SetReporter stores the operator identity.
func (s *Store) SetReporter(ctx context.Context, r model.Reporter) error {
	if r.Name == "" {
		return fmt.Errorf("reporter name is required")
	}
	if err := s.SetMeta(ctx, MetaReporterName, r.Name); err != nil {
		return err
	}
	return s.SetMeta(ctx, MetaReporterUserID, r.UserID)
}

// LastSyncAt returns the time of the last successful sync, if any.
func (s *Store) LastSyncAt() (time.Time, bool) {
	v, ok := s.Meta(MetaLastSyncAt)
	if !ok || v == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// SetLastSyncAt records a successful sync.
func (s *Store) SetLastSyncAt(ctx context.Context, t time.Time) error {
	return s.SetMeta(ctx, MetaLastSyncAt, t.UTC().Format(time.RFC3339Nano))
}
