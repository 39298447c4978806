package core

import (
	"context"
	"fmt"
	"tmcnotebook/pkg/domain"
)

// maxDependencies bounds the stored dependency list per cell type. Diff cells
// derive theirs from layers and are unbounded.
var maxDependencies = map[domain.CellType]int{
	domain.CellTypeYear:     0,
	domain.CellTypeFilter:   1,
	domain.CellTypeTraverse: 1,
}

// DependencyArityRule blocks cells whose committed value holds more
// dependencies than their type accepts. Intermediate values inside a
// transaction are not judged.
func DependencyArityRule() Rule {
	return dependencyArityRule{}
}

type dependencyArityRule struct{}

func (dependencyArityRule) Name() string { return "dependency_arity" }

func (r dependencyArityRule) Evaluate(_ context.Context, view TransactionView, changes []Change) (domain.Result, error) {
	res := domain.Result{}
	seen := make(map[domain.CellID]struct{})
	for _, change := range changes {
		if change.After == nil {
			continue
		}
		id := change.CellID
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		current, ok := view.Get(id)
		if !ok {
			continue
		}
		limit, bounded := maxDependencies[current.Type()]
		if !bounded {
			continue
		}
		if n := len(current.Dependencies()); n > limit {
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     r.Name(),
				Severity: domain.SeverityBlock,
				Message:  fmt.Sprintf("%s %d accepts at most %d dependencies, got %d", current.Type(), id, limit, n),
				CellID:   id,
			})
		}
	}
	return res, nil
}
