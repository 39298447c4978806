package core

import (
	"context"
	"fmt"
	"tmcnotebook/pkg/domain"
)

// AcyclicityRule blocks any write that makes a cell depend on itself,
// directly or through its ancestors.
func AcyclicityRule() Rule {
	return acyclicityRule{}
}

type acyclicityRule struct{}

func (acyclicityRule) Name() string { return "dependency_acyclicity" }

func (r acyclicityRule) Evaluate(_ context.Context, view TransactionView, changes []Change) (domain.Result, error) {
	res := domain.Result{}
	reported := make(map[domain.CellID]struct{})
	for _, change := range changes {
		if change.After == nil {
			continue
		}
		id := change.CellID
		if _, ok := reported[id]; ok {
			continue
		}
		current, ok := view.Get(id)
		if !ok {
			continue
		}
		path, cyclic := WouldCreateCycle(view, id, current.Dependencies())
		if !cyclic {
			continue
		}
		reported[id] = struct{}{}
		cause := &domain.CyclicDependencyError{Path: path}
		message := cause.Error()
		if len(path) == 2 {
			message = fmt.Sprintf("cell %d cannot depend on itself", id)
		}
		res.Violations = append(res.Violations, domain.Violation{
			Rule:     r.Name(),
			Severity: domain.SeverityBlock,
			Message:  message,
			CellID:   id,
			Cause:    cause,
		})
	}
	return res, nil
}
