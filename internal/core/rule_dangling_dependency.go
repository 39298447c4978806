package core

import (
	"context"
	"tmcnotebook/pkg/domain"
)

// DanglingDependencyRule warns about references to cells that are not in the
// registry. Dangling references are reported, never repaired; resolving such
// a cell fails with a MissingDependencyError.
func DanglingDependencyRule() Rule {
	return danglingDependencyRule{}
}

type danglingDependencyRule struct{}

func (danglingDependencyRule) Name() string { return "dangling_dependency" }

func (r danglingDependencyRule) Evaluate(_ context.Context, view TransactionView, changes []Change) (domain.Result, error) {
	res := domain.Result{}
	type edge struct{ from, to domain.CellID }
	seen := make(map[edge]struct{})
	warn := func(cellID, missing domain.CellID) {
		if _, dup := seen[edge{cellID, missing}]; dup {
			return
		}
		seen[edge{cellID, missing}] = struct{}{}
		cause := &domain.MissingDependencyError{CellID: cellID, DependencyID: missing}
		res.Violations = append(res.Violations, domain.Violation{
			Rule:     r.Name(),
			Severity: domain.SeverityWarn,
			Message:  cause.Error(),
			CellID:   cellID,
			Cause:    cause,
		})
	}

	for _, change := range changes {
		switch {
		case change.After != nil:
			current, ok := view.Get(change.CellID)
			if !ok {
				continue
			}
			for _, dep := range current.Dependencies() {
				if _, ok := view.Get(dep); !ok {
					warn(change.CellID, dep)
				}
			}
		case change.Action == domain.ChangeDelete:
			if _, restored := view.Get(change.CellID); restored {
				continue
			}
			for _, dependent := range view.Dependents(change.CellID) {
				warn(dependent.ID(), change.CellID)
			}
		}
	}
	return res, nil
}
