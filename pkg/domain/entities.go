// Package domain defines the value types shared by the notebook core: cell
// identifiers, variant descriptors, serialized cell meta, and rule evaluation
// primitives.
package domain

import (
	"encoding/json"
	"slices"
)

// CellID identifies a cell within a registry. Identifiers are assigned from a
// registry-owned sequence and are never reused. Negative identifiers are
// reserved for synthetic request-time cells.
type CellID int64

// CellType identifies the variant of a cell.
type CellType string

// Supported cell variants. The string values are part of the wire format
// understood by the resolution service.
const (
	// CellTypeYear produces the base road network of a single year.
	CellTypeYear CellType = "Map Year Cell"
	// CellTypeFilter narrows its ancestor map by a TMC metadata property.
	CellTypeFilter CellType = "Map Filter Cell"
	// CellTypeTraverse expands its ancestor map along the network.
	CellTypeTraverse CellType = "Map Traverse Cell"
	// CellTypeDiff compares pairs of maps as visualization layers.
	CellTypeDiff CellType = "Mapbox Cell"
)

// CellTypes lists every supported variant in display order.
var CellTypes = []CellType{CellTypeYear, CellTypeFilter, CellTypeTraverse, CellTypeDiff}

// Valid reports whether t names a supported variant.
func (t CellType) Valid() bool {
	return slices.Contains(CellTypes, t)
}

// MapSource identifies the dataset backing a year map.
type MapSource string

// MapSourceNPMRDS is the only dataset currently served.
const MapSourceNPMRDS MapSource = "NPMRDS"

// PropertySource identifies the metadata table a filter cell reads from.
type PropertySource string

// PropertySourceTMCMetadata is the default filter property source.
const PropertySourceTMCMetadata PropertySource = "tmc_metadata"

// FilterProperties enumerates the TMC metadata columns a filter cell may use.
var FilterProperties = []string{
	"tmc",
	"county",
	"roadname",
	"roadnumber",
	"linear_id",
	"direction",
	"func_class",
	"is_nhs",
}

// ValidFilterProperty reports whether name is a filterable TMC metadata column.
func ValidFilterProperty(name string) bool {
	return slices.Contains(FilterProperties, name)
}

// Direction is the traversal direction of a traverse cell.
type Direction string

// Supported traversal directions.
const (
	DirectionInbound  Direction = "INBOUND"
	DirectionOutbound Direction = "OUTBOUND"
)

// Valid reports whether d is a supported direction.
func (d Direction) Valid() bool {
	return d == DirectionInbound || d == DirectionOutbound
}

// SupportedYears lists the network years the resolution service can serve.
var SupportedYears = []int{2017, 2018, 2019, 2020, 2021, 2022}

// LatestYear returns the most recent supported year.
func LatestYear() int {
	return slices.Max(SupportedYears)
}

// ValidYear reports whether year is served by the resolution service.
func ValidYear(year int) bool {
	return slices.Contains(SupportedYears, year)
}

// Meta is the immutable, serializable identity of a ready cell. It is the unit
// sent to the resolution service inside a dependency chain.
type Meta struct {
	CellID       CellID   `json:"cell_id"`
	CellType     CellType `json:"cell_type"`
	Dependencies []CellID `json:"dependencies"`
	Descriptor   any      `json:"descriptor"`
}

// Record is the persisted form of a cell. Unlike Meta it is available for
// cells that are not yet ready and carries the user-facing name.
type Record struct {
	CellID            CellID          `json:"cell_id"`
	CellType          CellType        `json:"cell_type"`
	Name              string          `json:"name"`
	ModifiedTimestamp int64           `json:"modified_timestamp"`
	Dependencies      []CellID        `json:"dependencies"`
	Descriptor        json.RawMessage `json:"descriptor"`
}

// ChainRequest is the payload accepted by the resolution service: the
// requesting cell id plus the metas of the requesting cell and all of its
// transitive ancestors, oldest ancestor first and the requesting cell last.
type ChainRequest struct {
	Dependency          CellID `json:"dependency"`
	DependencyCellsMeta []Meta `json:"dependency_cells_meta"`
}
