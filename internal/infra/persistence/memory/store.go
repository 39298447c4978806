// Package memory provides an in-memory record store used for tests and
// ephemeral sessions.
package memory

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"
	"tmcnotebook/pkg/domain"
)

// Compile-time contract assertion ensuring Store satisfies the domain interface.
var _ domain.RecordStore = (*Store)(nil)

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("memory store closed")

// Store keeps cell records in a map guarded by a mutex.
type Store struct {
	mu       sync.RWMutex
	records  map[domain.CellID]domain.Record
	sequence domain.CellID
	closed   bool
}

// NewStore constructs an empty store.
func NewStore() *Store {
	return &Store{records: make(map[domain.CellID]domain.Record)}
}

// NewStoreFromSnapshot seeds a store with snap.
func NewStoreFromSnapshot(snap domain.Snapshot) *Store {
	s := NewStore()
	s.sequence = snap.Sequence
	for _, rec := range snap.Records {
		s.records[rec.CellID] = cloneRecord(rec)
	}
	return s
}

// Load returns every record ordered by id.
func (s *Store) Load(_ context.Context) (domain.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return domain.Snapshot{}, ErrClosed
	}
	snap := domain.Snapshot{Sequence: s.sequence, Records: make([]domain.Record, 0, len(s.records))}
	for _, rec := range s.records {
		snap.Records = append(snap.Records, cloneRecord(rec))
	}
	sort.Slice(snap.Records, func(i, j int) bool { return snap.Records[i].CellID < snap.Records[j].CellID })
	return snap, nil
}

// Apply writes changes atomically. A malformed change leaves the store
// untouched.
func (s *Store) Apply(_ context.Context, sequence domain.CellID, changes []domain.RecordChange) error {
	for _, ch := range changes {
		if ch.Action != domain.ChangeDelete && ch.Record == nil {
			return fmt.Errorf("apply %s for cell %d: missing record", ch.Action, ch.CellID)
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	for _, ch := range changes {
		if ch.Action == domain.ChangeDelete {
			delete(s.records, ch.CellID)
			continue
		}
		s.records[ch.CellID] = cloneRecord(*ch.Record)
	}
	if sequence > s.sequence {
		s.sequence = sequence
	}
	return nil
}

// Close marks the store closed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func cloneRecord(rec domain.Record) domain.Record {
	rec.Dependencies = slices.Clone(rec.Dependencies)
	rec.Descriptor = slices.Clone(rec.Descriptor)
	return rec
}
