package core

import (
	"fmt"
	"sort"
	"time"
	"tmcnotebook/internal/cell"
	"tmcnotebook/pkg/domain"
)

// Change captures a single cell mutation performed inside a transaction.
// Before is nil for creations and After is nil for deletions.
type Change struct {
	Action domain.ChangeAction
	CellID domain.CellID
	Before cell.Cell
	After  cell.Cell
}

// TransactionView exposes a read-only snapshot of registry state to rules and
// to the dependency-chain resolver.
type TransactionView interface {
	Get(id domain.CellID) (cell.Cell, bool)
	Values() []cell.Cell
	Dependents(id domain.CellID) []cell.Cell
}

// Transaction is the mutable unit of work handed to RunInTransaction.
type Transaction interface {
	View() TransactionView
	Now() time.Time
	Get(id domain.CellID) (cell.Cell, bool)
	Create(cellType domain.CellType, name string) (cell.Cell, error)
	Put(c cell.Cell) error
	Dispatch(id domain.CellID, action domain.Action) (cell.Cell, error)
	Delete(id domain.CellID) error
}

// registryState is copied on write. Cell values are immutable so the clone
// only copies the map, leaving unrelated cells with their identity intact.
type registryState struct {
	cells map[domain.CellID]cell.Cell
	seq   cell.Sequence
}

func newRegistryState() registryState {
	return registryState{cells: make(map[domain.CellID]cell.Cell)}
}

func (s registryState) clone() registryState {
	cells := make(map[domain.CellID]cell.Cell, len(s.cells))
	for id, c := range s.cells {
		cells[id] = c
	}
	return registryState{cells: cells, seq: s.seq}
}

type stateView struct {
	state *registryState
}

func newTransactionView(state *registryState) TransactionView {
	return stateView{state: state}
}

func (v stateView) Get(id domain.CellID) (cell.Cell, bool) {
	c, ok := v.state.cells[id]
	return c, ok
}

// Values returns every cell ordered by id.
func (v stateView) Values() []cell.Cell {
	out := make([]cell.Cell, 0, len(v.state.cells))
	for _, c := range v.state.cells {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Dependents returns the cells listing id as a direct dependency.
func (v stateView) Dependents(id domain.CellID) []cell.Cell {
	var out []cell.Cell
	for _, c := range v.Values() {
		if dependsOn(c, id) {
			out = append(out, c)
		}
	}
	return out
}

func dependsOn(c cell.Cell, id domain.CellID) bool {
	for _, dep := range c.Dependencies() {
		if dep == id {
			return true
		}
	}
	return false
}

type transaction struct {
	state   registryState
	changes []Change
	now     time.Time
}

func (tx *transaction) View() TransactionView { return newTransactionView(&tx.state) }

func (tx *transaction) Now() time.Time { return tx.now }

func (tx *transaction) Get(id domain.CellID) (cell.Cell, bool) {
	c, ok := tx.state.cells[id]
	return c, ok
}

// Create reserves the next id from the registry sequence and inserts a new
// cell of the given type.
func (tx *transaction) Create(cellType domain.CellType, name string) (cell.Cell, error) {
	id := tx.state.seq.Next()
	c, err := cell.Create(cellType, id, name, tx.now)
	if err != nil {
		return nil, err
	}
	tx.state.cells[id] = c
	tx.recordChange(Change{Action: domain.ChangeCreate, CellID: id, After: c})
	return c, nil
}

// Put inserts c or replaces the entry with the same id. Replacing a cell
// with itself records nothing.
func (tx *transaction) Put(c cell.Cell) error {
	if c == nil {
		return fmt.Errorf("put: nil cell")
	}
	id := c.ID()
	if id <= 0 {
		return fmt.Errorf("put: invalid cell id %d", id)
	}
	before, exists := tx.state.cells[id]
	if !exists {
		tx.state.seq.Observe(id)
		tx.state.cells[id] = c
		tx.recordChange(Change{Action: domain.ChangeCreate, CellID: id, After: c})
		return nil
	}
	if cell.Same(before, c) {
		return nil
	}
	if before.Type() != c.Type() {
		return fmt.Errorf("put: cell %d is a %s, not a %s", id, before.Type(), c.Type())
	}
	tx.state.cells[id] = c
	tx.recordChange(Change{Action: domain.ChangeUpdate, CellID: id, Before: before, After: c})
	return nil
}

// Dispatch reduces action against the current value of cell id.
func (tx *transaction) Dispatch(id domain.CellID, action domain.Action) (cell.Cell, error) {
	current, ok := tx.state.cells[id]
	if !ok {
		return nil, fmt.Errorf("dispatch %s to cell %d: %w", action.Type, id, domain.ErrNotFound)
	}
	next := cell.Reduce(current, action, tx.now)
	if err := tx.Put(next); err != nil {
		return nil, err
	}
	return next, nil
}

func (tx *transaction) Delete(id domain.CellID) error {
	before, ok := tx.state.cells[id]
	if !ok {
		return fmt.Errorf("delete cell %d: %w", id, domain.ErrNotFound)
	}
	delete(tx.state.cells, id)
	tx.recordChange(Change{Action: domain.ChangeDelete, CellID: id, Before: before})
	return nil
}

func (tx *transaction) recordChange(change Change) {
	tx.changes = append(tx.changes, change)
}

// replace swaps in c even when the stored cell has a different type.
func (tx *transaction) replace(c cell.Cell) error {
	before, ok := tx.state.cells[c.ID()]
	if !ok {
		return tx.Put(c)
	}
	if cell.Same(before, c) {
		return nil
	}
	tx.state.cells[c.ID()] = c
	tx.recordChange(Change{Action: domain.ChangeUpdate, CellID: c.ID(), Before: before, After: c})
	return nil
}
