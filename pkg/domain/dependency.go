package domain

import "fmt"

type refKind uint8

const (
	refReal refKind = iota + 1
	refSyntheticYear
)

// DependencyRef names the source of a dependency: either a cell in the
// registry or a synthetic year context that stands in for a year cell the user
// never created. Synthetic references are resolved into a pseudo-root Meta at
// request-build time and never enter the registry.
type DependencyRef struct {
	kind refKind
	id   CellID
	year int
}

// Real references an existing registry cell.
func Real(id CellID) DependencyRef {
	return DependencyRef{kind: refReal, id: id}
}

// SyntheticYearContext references the base network of the given year.
func SyntheticYearContext(year int) DependencyRef {
	return DependencyRef{kind: refSyntheticYear, year: year}
}

// CellID returns the referenced cell id for real references.
func (r DependencyRef) CellID() (CellID, bool) {
	return r.id, r.kind == refReal
}

// Year returns the year of a synthetic reference.
func (r DependencyRef) Year() (int, bool) {
	return r.year, r.kind == refSyntheticYear
}

// IsSynthetic reports whether r is a synthetic year context.
func (r DependencyRef) IsSynthetic() bool { return r.kind == refSyntheticYear }

// IsZero reports whether r was never assigned.
func (r DependencyRef) IsZero() bool { return r.kind == 0 }

func (r DependencyRef) String() string {
	switch r.kind {
	case refReal:
		return fmt.Sprintf("cell(%d)", r.id)
	case refSyntheticYear:
		return fmt.Sprintf("year(%d)", r.year)
	default:
		return "none"
	}
}

// PseudoRootMeta materializes a synthetic year reference as a year-cell Meta
// carrying the supplied request-local id. It returns false for real
// references.
func (r DependencyRef) PseudoRootMeta(pseudoID CellID) (Meta, bool) {
	if r.kind != refSyntheticYear {
		return Meta{}, false
	}
	return Meta{
		CellID:     pseudoID,
		CellType:   CellTypeYear,
		Descriptor: YearDescriptor{Year: r.year, Map: MapSourceNPMRDS},
	}, true
}
