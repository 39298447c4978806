// Package postgres persists cell records in PostgreSQL as one JSONB payload
// per cell.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"tmcnotebook/pkg/domain"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
)

// Compile-time contract assertion ensuring the store satisfies the domain interface.
var _ domain.RecordStore = (*Store)(nil)

const (
	defaultDriver = "pgx"
	defaultDSN    = "postgres://localhost/tmcnotebook?sslmode=disable"
	sequenceKey   = "cell_sequence"
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS cell_records (
		cell_id BIGINT PRIMARY KEY,
		payload JSONB NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS registry_state (
		key TEXT PRIMARY KEY,
		value BIGINT NOT NULL
	)`,
}

// Store is a RecordStore backed by a Postgres database.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// NewStore opens a Postgres-backed store using dsn (falls back to defaultDSN)
// and ensures the schema exists.
func NewStore(dsn string) (*Store, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	for _, ddl := range schema {
		if _, err := db.ExecContext(ctx, ddl); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("ensure schema: %w", err)
		}
	}
	return &Store{db: db}, nil
}

// Load reads every record ordered by id.
func (s *Store) Load(ctx context.Context) (domain.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var snap domain.Snapshot
	var seq int64
	err := s.db.QueryRowContext(ctx, `SELECT value FROM registry_state WHERE key = $1`, sequenceKey).Scan(&seq)
	switch {
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
			return domain.Snapshot{}, fmt.Errorf("scan record: %w", err)
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

// Apply writes changes and the sequence inside one database transaction.
func (s *Store) Apply(ctx context.Context, sequence domain.CellID, changes []domain.RecordChange) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	for _, ch := range changes {
		if ch.Action == domain.ChangeDelete {
			if _, err := tx.ExecContext(ctx, `DELETE FROM cell_records WHERE cell_id = $1`, int64(ch.CellID)); err != nil {
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
		if _, err := tx.ExecContext(ctx, `INSERT INTO cell_records(cell_id, payload) VALUES($1, $2) ON CONFLICT(cell_id) DO UPDATE SET payload=EXCLUDED.payload`, int64(ch.CellID), string(payload)); err != nil {
			return fmt.Errorf("upsert cell %d: %w", ch.CellID, err)
		}
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO registry_state(key, value) VALUES($1, $2) ON CONFLICT(key) DO UPDATE SET value=GREATEST(registry_state.value, EXCLUDED.value)`, sequenceKey, int64(sequence)); err != nil {
		return fmt.Errorf("upsert sequence: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	committed = true
	return nil
}

// Close releases the connection pool.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// OverrideSQLOpen swaps the sqlOpen function for tests and returns a restore function.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}
