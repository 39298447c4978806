package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ErrIllegalState is returned when an operation requires a ready cell.
var ErrIllegalState = errors.New("cell is not ready")

// ErrNotFound is returned when a cell id is absent from the registry.
var ErrNotFound = errors.New("cell not found")

// MissingDependencyError reports a dependency id with no registry entry, or a
// cell that needs an ancestor but has none (DependencyID is zero).
type MissingDependencyError struct {
	CellID       CellID
	DependencyID CellID
}

func (e *MissingDependencyError) Error() string {
	if e.DependencyID == 0 {
		return fmt.Sprintf("cell %d requires a dependency", e.CellID)
	}
	return fmt.Sprintf("cell %d depends on missing cell %d", e.CellID, e.DependencyID)
}

// CyclicDependencyError reports a dependency cycle. Path starts and ends at
// the same cell.
type CyclicDependencyError struct {
	Path []CellID
}

func (e *CyclicDependencyError) Error() string {
	parts := make([]string, len(e.Path))
	for i, id := range e.Path {
		parts[i] = fmt.Sprint(int64(id))
	}
	return "cyclic dependency: " + strings.Join(parts, " -> ")
}

// ResolutionServiceError wraps a failed call to the resolution service.
// StatusCode is zero for transport failures.
type ResolutionServiceError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *ResolutionServiceError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("resolution %s: status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("resolution %s: %v", e.Op, e.Err)
}

func (e *ResolutionServiceError) Unwrap() error { return e.Err }

// Retryable reports whether the failure was a transport error rather than a
// response from the service.
func (e *ResolutionServiceError) Retryable() bool { return e.StatusCode == 0 }
