// Package sqlite persists cell records in an embedded SQLite database, one
// row per cell.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"tmcnotebook/pkg/domain"

	_ "modernc.org/sqlite" // pure go sqlite driver
)

// Compile-time contract assertion ensuring Store satisfies the domain interface.
var _ domain.RecordStore = (*Store)(nil)

const (
	defaultPath = "tmcnotebook.db"
	sequenceKey = "cell_sequence"
)

// Store keeps one JSON payload per cell plus the id sequence high-water mark.
type Store struct {
	db   *sql.DB
	mu   sync.Mutex
	path string
}

// NewStore opens (creating when needed) the database at path.
func NewStore(path string) (*Store, error) {
	if path == "" {
		path = defaultPath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	for _, ddl := range []string{
		`CREATE TABLE IF NOT EXISTS cell_records (
			cell_id INTEGER PRIMARY KEY,
			payload BLOB NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS registry_state (
			key TEXT PRIMARY KEY,
			value INTEGER NOT NULL
		)`,
	} {
		if _, err := db.Exec(ddl); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("create tables: %w", err)
		}
	}
	return &Store{db: db, path: path}, nil
}

// Load reads every record ordered by id.
func (s *Store) Load(ctx context.Context) (domain.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var snap domain.Snapshot
	row := s.db.QueryRowContext(ctx, `SELECT value FROM registry_state WHERE key = ?`, sequenceKey)
	var seq int64
	switch err := row.Scan(&seq); {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return domain.Snapshot{}, fmt.Errorf("select sequence: %w", err)
	default:
		snap.Sequence = domain.CellID(seq)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT cell_id, payload FROM cell_records ORDER BY cell_id`)
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("select records: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var id int64
		var payload []byte
		if err := rows.Scan(&id, &payload); err != nil {
			return domain.Snapshot{}, fmt.Errorf("scan: %w", err)
		}
		var rec domain.Record
		if err := json.Unmarshal(payload, &rec); err != nil {
			return domain.Snapshot{}, fmt.Errorf("decode cell %d: %w", id, err)
		}
		rec.CellID = domain.CellID(id)
		snap.Records = append(snap.Records, rec)
	}
	if err := rows.Err(); err != nil {
		return domain.Snapshot{}, fmt.Errorf("iterate records: %w", err)
	}
	sort.Slice(snap.Records, func(i, j int) bool { return snap.Records[i].CellID < snap.Records[j].CellID })
	return snap, nil
}

// Apply writes changes and the sequence in a single SQL transaction.
func (s *Store) Apply(ctx context.Context, sequence domain.CellID, changes []domain.RecordChange) (retErr error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()
	for _, ch := range changes {
		if ch.Action == domain.ChangeDelete {
			if _, err := tx.ExecContext(ctx, `DELETE FROM cell_records WHERE cell_id = ?`, int64(ch.CellID)); err != nil {
				return fmt.Errorf("delete cell %d: %w", ch.CellID, err)
			}
			continue
		}
		if ch.Record == nil {
			return fmt.Errorf("apply %s for cell %d: missing record", ch.Action, ch.CellID)
		}
		payload, err := json.Marshal(ch.Record)
		if err != nil {
			return fmt.Errorf("encode cell %d: %w", ch.CellID, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO cell_records(cell_id, payload) VALUES(?, ?) ON CONFLICT(cell_id) DO UPDATE SET payload=excluded.payload`, int64(ch.CellID), payload); err != nil {
			return fmt.Errorf("upsert cell %d: %w", ch.CellID, err)
		}
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO registry_state(key, value) VALUES(?, ?) ON CONFLICT(key) DO UPDATE SET value=MAX(value, excluded.value)`, sequenceKey, int64(sequence)); err != nil {
		return fmt.Errorf("upsert sequence: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Path returns the configured database path.
func (s *Store) Path() string { return s.path }
