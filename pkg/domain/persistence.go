package domain

import "context"

// ChangeAction indicates the type of modification performed.
type ChangeAction string

// Change actions enumerate the mutations captured by a registry transaction.
const (
	ChangeCreate ChangeAction = "create"
	ChangeUpdate ChangeAction = "update"
	ChangeDelete ChangeAction = "delete"
)

// Snapshot is the complete persisted state of a registry: every cell record
// ordered by id plus the high-water mark of the id sequence.
type Snapshot struct {
	Sequence CellID   `json:"sequence"`
	Records  []Record `json:"records"`
}

// RecordChange is the persisted effect of a committed transaction on a single
// cell. Record is nil for deletions.
type RecordChange struct {
	Action ChangeAction
	CellID CellID
	Record *Record
}

// RecordStore is a minimal abstraction over durable backends for cell
// records. Apply is invoked before a registry transaction commits; a returned
// error aborts the commit.
type RecordStore interface {
	Load(ctx context.Context) (Snapshot, error)
	Apply(ctx context.Context, sequence CellID, changes []RecordChange) error
	Close() error
}
