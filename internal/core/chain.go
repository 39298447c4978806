package core

import (
	"errors"
	"fmt"
	"slices"
	"tmcnotebook/pkg/domain"
)

// PseudoRootID is the request-local id given to a synthetic year ancestor.
// It never enters the registry.
const PseudoRootID domain.CellID = -1

// DependencyChain walks the transitive dependencies of id breadth first and
// returns their metas oldest ancestor first. Each cell appears once. The meta
// of id itself is not included.
func DependencyChain(view TransactionView, id domain.CellID) ([]domain.Meta, error) {
	target, ok := view.Get(id)
	if !ok {
		return nil, fmt.Errorf("dependency chain for cell %d: %w", id, domain.ErrNotFound)
	}

	type pending struct {
		id     domain.CellID
		parent domain.CellID
	}
	visited := map[domain.CellID]struct{}{id: {}}
	var queue []pending
	enqueue := func(parent domain.CellID, deps []domain.CellID) {
		for _, dep := range deps {
			if _, seen := visited[dep]; seen {
				continue
			}
			visited[dep] = struct{}{}
			queue = append(queue, pending{id: dep, parent: parent})
		}
	}
	enqueue(id, target.Dependencies())

	var chain []domain.Meta
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]

		c, ok := view.Get(next.id)
		if !ok {
			return nil, &domain.MissingDependencyError{CellID: next.parent, DependencyID: next.id}
		}
		meta, err := c.Meta()
		if err != nil {
			return nil, fmt.Errorf("dependency chain for cell %d: %w", id, err)
		}
		chain = append(chain, meta)
		enqueue(next.id, meta.Dependencies)
	}
	slices.Reverse(chain)
	return chain, nil
}

// RequestChain builds the resolution payload for id: its dependency chain
// with its own meta appended last.
//
// Every non-year cell at the root of the chain needs a year context. When
// fallback is a synthetic year reference the roots are rewired onto a
// pseudo-root year meta prepended to the request; the registry is left
// untouched. Otherwise a root without a year ancestor fails with
// *domain.MissingDependencyError.
func RequestChain(view TransactionView, id domain.CellID, fallback domain.DependencyRef) (domain.ChainRequest, error) {
	target, ok := view.Get(id)
	if !ok {
		return domain.ChainRequest{}, fmt.Errorf("request chain for cell %d: %w", id, domain.ErrNotFound)
	}
	own, err := target.Meta()
	if err != nil {
		return domain.ChainRequest{}, err
	}
	chain, err := DependencyChain(view, id)
	if err != nil {
		return domain.ChainRequest{}, err
	}
	metas := append(chain, own)

	var roots []int
	for i, m := range metas {
		if m.CellType != domain.CellTypeYear && len(m.Dependencies) == 0 {
			roots = append(roots, i)
		}
	}
	if len(roots) > 0 {
		pseudo, ok := fallback.PseudoRootMeta(PseudoRootID)
		if !ok {
			return domain.ChainRequest{}, &domain.MissingDependencyError{CellID: metas[roots[0]].CellID}
		}
		for _, i := range roots {
			metas[i].Dependencies = []domain.CellID{PseudoRootID}
		}
		metas = append([]domain.Meta{pseudo}, metas...)
	}

	return domain.ChainRequest{Dependency: id, DependencyCellsMeta: metas}, nil
}

// ChainYear returns the year of the oldest year context in chain.
func ChainYear(chain []domain.Meta) (int, bool) {
	for _, m := range chain {
		if desc, ok := m.Descriptor.(domain.YearDescriptor); ok {
			return desc.Year, true
		}
	}
	return 0, false
}

// WouldCreateCycle reports whether giving cell id the dependency list deps
// would close a cycle in view. The returned path starts and ends at id.
func WouldCreateCycle(view TransactionView, id domain.CellID, deps []domain.CellID) ([]domain.CellID, bool) {
	for _, dep := range deps {
		if dep == id {
			return []domain.CellID{id, id}, true
		}
		if path, ok := pathTo(view, dep, id, map[domain.CellID]struct{}{}); ok {
			return append([]domain.CellID{id}, path...), true
		}
	}
	return nil, false
}

// pathTo searches the dependency edges from "from" for target and returns the
// ids visited on the way, ending with target.
func pathTo(view TransactionView, from, target domain.CellID, seen map[domain.CellID]struct{}) ([]domain.CellID, bool) {
	if from == target {
		return []domain.CellID{target}, true
	}
	if _, ok := seen[from]; ok {
		return nil, false
	}
	seen[from] = struct{}{}
	c, ok := view.Get(from)
	if !ok {
		return nil, false
	}
	for _, dep := range c.Dependencies() {
		if rest, ok := pathTo(view, dep, target, seen); ok {
			return append([]domain.CellID{from}, rest...), true
		}
	}
	return nil, false
}

const (
	unvisited = iota
	visiting
	done
)

// ValidateGraph checks the whole registry offline. It reports every cycle as
// a *domain.CyclicDependencyError and every dangling reference as a
// *domain.MissingDependencyError.
func ValidateGraph(view TransactionView) error {
	cells := view.Values()
	state := make(map[domain.CellID]int, len(cells))
	var errs []error
	var stack []domain.CellID

	var visit func(id domain.CellID)
	visit = func(id domain.CellID) {
		state[id] = visiting
		stack = append(stack, id)
		c, _ := view.Get(id)
		for _, dep := range c.Dependencies() {
			if _, ok := view.Get(dep); !ok {
				errs = append(errs, &domain.MissingDependencyError{CellID: id, DependencyID: dep})
				continue
			}
			switch state[dep] {
			case visiting:
				start := slices.Index(stack, dep)
				path := append(slices.Clone(stack[start:]), dep)
				errs = append(errs, &domain.CyclicDependencyError{Path: path})
			case unvisited:
				visit(dep)
			}
		}
		stack = stack[:len(stack)-1]
		state[id] = done
	}

	for _, c := range cells {
		if state[c.ID()] == unvisited {
			visit(c.ID())
		}
	}
	return errors.Join(errs...)
}
