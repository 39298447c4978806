package resolution

import (
	"sync"
	"tmcnotebook/pkg/domain"
)

// Tracker hands out request sequence numbers per target cell so callers can
// drop results that a newer request has superseded. In-flight requests are
// never aborted.
type Tracker struct {
	mu     sync.Mutex
	next   uint64
	latest map[domain.CellID]uint64
}

// NewTracker returns an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{latest: make(map[domain.CellID]uint64)}
}

// Begin registers a new request for target and returns its sequence number.
func (t *Tracker) Begin(target domain.CellID) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.next++
	t.latest[target] = t.next
	return t.next
}

// IsCurrent reports whether seq is still the newest request for target.
func (t *Tracker) IsCurrent(target domain.CellID, seq uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return seq != 0 && t.latest[target] == seq
}

// Forget drops the bookkeeping for target, e.g. after the cell is removed.
func (t *Tracker) Forget(target domain.CellID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.latest, target)
}
