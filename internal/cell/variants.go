package cell

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
	"tmcnotebook/pkg/domain"
)

// variant binds a cell type to its constructor, reducer and decoder.
type variant struct {
	create  func(id domain.CellID, name string, now time.Time) Cell
	reduce  func(c Cell, action domain.Action) Cell
	hydrate func(rec domain.Record) (Cell, error)
}

var variants = map[domain.CellType]variant{
	domain.CellTypeYear:     newVariant(domain.DefaultYearDescriptor, reduceYear, false),
	domain.CellTypeFilter:   newVariant(domain.DefaultFilterDescriptor, reduceFilter, true),
	domain.CellTypeTraverse: newVariant(func() domain.TraverseDescriptor { return domain.TraverseDescriptor{} }, reduceTraverse, true),
	domain.CellTypeDiff:     newVariant(func() domain.DiffDescriptor { return domain.DiffDescriptor{} }, reduceDiff, false),
}

// newVariant wires a descriptor type into the table. storesDependencies is
// false for variants whose dependencies are fixed or derived; the base
// reducer then ignores SET_DEPENDENCY for them.
func newVariant[D Descriptor[D]](
	initial func() D,
	reduce func(State[D], domain.Action) State[D],
	storesDependencies bool,
) variant {
	return variant{
		create: func(id domain.CellID, name string, now time.Time) Cell {
			return New(id, name, initial(), now)
		},
		reduce: func(c Cell, action domain.Action) Cell {
			s, ok := c.(State[D])
			if !ok {
				return c
			}
			return reduce(reduceBase(s, action, storesDependencies), action)
		},
		hydrate: func(rec domain.Record) (Cell, error) {
			desc := initial()
			if len(rec.Descriptor) > 0 && !bytes.Equal(rec.Descriptor, []byte("null")) {
				if err := json.Unmarshal(rec.Descriptor, &desc); err != nil {
					return nil, fmt.Errorf("decode %s descriptor for cell %d: %w", rec.CellType, rec.CellID, err)
				}
			}
			name := rec.Name
			if name == "" {
				name = DefaultName(rec.CellID)
			}
			s := State[D]{r: &revision[D]{
				id:       rec.CellID,
				name:     name,
				modified: rec.ModifiedTimestamp,
				desc:     desc,
			}}
			if storesDependencies {
				s = s.SetDependencies(rec.Dependencies...)
			}
			return s, nil
		},
	}
}

// ErrUnknownCellType is returned for cell types outside the supported set.
type ErrUnknownCellType struct {
	CellType domain.CellType
}

func (e ErrUnknownCellType) Error() string {
	return fmt.Sprintf("unknown cell type %q", string(e.CellType))
}

// Create constructs a new cell of the given type.
func Create(cellType domain.CellType, id domain.CellID, name string, now time.Time) (Cell, error) {
	v, ok := variants[cellType]
	if !ok {
		return nil, ErrUnknownCellType{CellType: cellType}
	}
	return v.create(id, name, now), nil
}

// Hydrate rebuilds a live cell from its persisted record.
func Hydrate(rec domain.Record) (Cell, error) {
	v, ok := variants[rec.CellType]
	if !ok {
		return nil, ErrUnknownCellType{CellType: rec.CellType}
	}
	if rec.CellID <= 0 {
		return nil, fmt.Errorf("hydrate: invalid cell id %d", rec.CellID)
	}
	return v.hydrate(rec)
}

// Reduce applies action to c through the base reducer and the variant
// reducer. Unknown actions and malformed payloads return c unchanged. Any
// change other than a pure rename refreshes the modified timestamp.
func Reduce(c Cell, action domain.Action, now time.Time) Cell {
	if c == nil {
		return nil
	}
	v, ok := variants[c.Type()]
	if !ok {
		return c
	}
	next := v.reduce(c, action)
	if Same(next, c) || action.Type == domain.ActionSetName {
		return next
	}
	return next.touch(now.UnixMilli())
}
