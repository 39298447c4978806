// Package cell implements the immutable cell state model and the reducer
// chain that turns actions into new cell values.
package cell

import (
	"encoding/json"
	"fmt"
	"slices"
	"time"
	"tmcnotebook/pkg/domain"
)

// Descriptor is the variant payload carried by a State.
type Descriptor[D any] interface {
	CellType() domain.CellType
	Ready() bool
	Dependencies(stored []domain.CellID) []domain.CellID
	Equal(other D) bool
	Clone() D
}

// Cell is the read surface shared by every variant. Values are immutable;
// every transition returns a new Cell.
type Cell interface {
	ID() domain.CellID
	Type() domain.CellType
	Name() string
	ModifiedTimestamp() int64
	Dependencies() []domain.CellID
	IsReady() bool
	Meta() (domain.Meta, error)
	Record() domain.Record

	identity() any
	touch(now int64) Cell
}

// Variant aliases.
type (
	Year     = State[domain.YearDescriptor]
	Filter   = State[domain.FilterDescriptor]
	Traverse = State[domain.TraverseDescriptor]
	Diff     = State[domain.DiffDescriptor]
)

// State is an immutable cell value. Builder methods return a new State and
// leave the receiver untouched; a method that would not change anything
// returns the receiver itself so identity comparison detects no-ops.
type State[D Descriptor[D]] struct {
	r *revision[D]
}

type revision[D Descriptor[D]] struct {
	id       domain.CellID
	name     string
	modified int64
	deps     []domain.CellID
	desc     D
	resolved *resolution[D]
}

// resolution remembers the descriptor a TMC list was resolved for.
type resolution[D any] struct {
	desc D
	tmcs []string
}

// DefaultName returns the name given to a new cell.
func DefaultName(id domain.CellID) string {
	return fmt.Sprintf("Cell %d", id)
}

// New constructs a cell value. An empty name falls back to DefaultName.
func New[D Descriptor[D]](id domain.CellID, name string, desc D, now time.Time) State[D] {
	if name == "" {
		name = DefaultName(id)
	}
	return State[D]{r: &revision[D]{
		id:       id,
		name:     name,
		modified: now.UnixMilli(),
		desc:     desc,
	}}
}

// NewYear constructs a year cell with the default descriptor.
func NewYear(id domain.CellID, now time.Time) Year {
	return New(id, "", domain.DefaultYearDescriptor(), now)
}

// NewFilter constructs an unconfigured filter cell.
func NewFilter(id domain.CellID, now time.Time) Filter {
	return New(id, "", domain.DefaultFilterDescriptor(), now)
}

// NewTraverse constructs an unconfigured traverse cell.
func NewTraverse(id domain.CellID, now time.Time) Traverse {
	return New(id, "", domain.TraverseDescriptor{}, now)
}

// NewDiff constructs a diff cell without layers.
func NewDiff(id domain.CellID, now time.Time) Diff {
	return New(id, "", domain.DiffDescriptor{}, now)
}

func (s State[D]) ID() domain.CellID        { return s.r.id }
func (s State[D]) Type() domain.CellType    { return s.r.desc.CellType() }
func (s State[D]) Name() string             { return s.r.name }
func (s State[D]) ModifiedTimestamp() int64 { return s.r.modified }
func (s State[D]) Descriptor() D            { return s.r.desc.Clone() }
func (s State[D]) IsReady() bool            { return s.r.desc.Ready() }
func (s State[D]) identity() any            { return s.r }
func (s State[D]) touch(now int64) Cell     { return s.Touch(now) }
func (s State[D]) String() string           { return fmt.Sprintf("%s(%d)", s.Type(), s.ID()) }

// Dependencies returns the effective dependency list of the cell.
func (s State[D]) Dependencies() []domain.CellID {
	return slices.Clone(s.r.desc.Dependencies(s.r.deps))
}

func (s State[D]) with(fn func(*revision[D])) State[D] {
	next := *s.r
	fn(&next)
	return State[D]{r: &next}
}

// SetName renames the cell. The modified timestamp is left unchanged.
func (s State[D]) SetName(name string) State[D] {
	if name == s.r.name {
		return s
	}
	return s.with(func(r *revision[D]) { r.name = name })
}

// SetDependencies replaces the stored dependency list. When the new list is
// equal in order and membership the receiver is returned, keeping the
// existing slice.
func (s State[D]) SetDependencies(ids ...domain.CellID) State[D] {
	if len(ids) == 0 {
		ids = nil
	}
	if slices.Equal(s.r.deps, ids) && (s.r.deps == nil) == (ids == nil) {
		return s
	}
	cloned := slices.Clone(ids)
	return s.with(func(r *revision[D]) { r.deps = cloned })
}

// WithDescriptor replaces the descriptor when it differs structurally.
func (s State[D]) WithDescriptor(desc D) State[D] {
	if s.r.desc.Equal(desc) {
		return s
	}
	cloned := desc.Clone()
	return s.with(func(r *revision[D]) { r.desc = cloned })
}

// WithResolution records the TMC list resolved for desc.
func (s State[D]) WithResolution(desc D, tmcs []string) State[D] {
	if res := s.r.resolved; res != nil && res.desc.Equal(desc) && slices.Equal(res.tmcs, tmcs) {
		return s
	}
	cloned := slices.Clone(tmcs)
	return s.with(func(r *revision[D]) { r.resolved = &resolution[D]{desc: desc.Clone(), tmcs: cloned} })
}

// Touch sets the modified timestamp (epoch milliseconds).
func (s State[D]) Touch(now int64) State[D] {
	if now == s.r.modified {
		return s
	}
	return s.with(func(r *revision[D]) { r.modified = now })
}

// LastDescriptor returns the descriptor of the most recent resolution.
func (s State[D]) LastDescriptor() (D, bool) {
	if s.r.resolved == nil {
		var zero D
		return zero, false
	}
	return s.r.resolved.desc.Clone(), true
}

// IsStale reports whether the descriptor changed since the last resolution.
// A cell that was never resolved is stale.
func (s State[D]) IsStale() bool {
	last, ok := s.LastDescriptor()
	return !ok || !last.Equal(s.r.desc)
}

// TMCs returns the cached resolution, hidden while the cell is stale.
func (s State[D]) TMCs() ([]string, bool) {
	if s.IsStale() {
		return nil, false
	}
	return slices.Clone(s.r.resolved.tmcs), true
}

// Meta returns the serializable identity of a ready cell.
func (s State[D]) Meta() (domain.Meta, error) {
	if !s.IsReady() {
		return domain.Meta{}, fmt.Errorf("cell %d: %w", s.r.id, domain.ErrIllegalState)
	}
	return domain.Meta{
		CellID:       s.r.id,
		CellType:     s.Type(),
		Dependencies: s.Dependencies(),
		Descriptor:   s.r.desc.Clone(),
	}, nil
}

// Record returns the persisted form of the cell regardless of readiness.
func (s State[D]) Record() domain.Record {
	// descriptors are plain data and always encode
	raw, _ := json.Marshal(s.r.desc)
	return domain.Record{
		CellID:            s.r.id,
		CellType:          s.Type(),
		Name:              s.r.name,
		ModifiedTimestamp: s.r.modified,
		Dependencies:      s.Dependencies(),
		Descriptor:        raw,
	}
}

// Same reports whether a and b are the same cell value.
func Same(a, b Cell) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.identity() == b.identity()
}
