package domain

import "slices"

// YearDescriptor configures a year cell.
type YearDescriptor struct {
	Year int       `json:"year"`
	Map  MapSource `json:"map"`
}

// DefaultYearDescriptor returns the descriptor of a freshly created year cell.
func DefaultYearDescriptor() YearDescriptor {
	return YearDescriptor{Year: LatestYear(), Map: MapSourceNPMRDS}
}

// CellType implements the cell descriptor contract.
func (YearDescriptor) CellType() CellType { return CellTypeYear }

// Ready reports whether the year map is fully specified.
func (d YearDescriptor) Ready() bool { return d.Year != 0 && d.Map != "" }

// Dependencies always returns nil; year cells are roots.
func (YearDescriptor) Dependencies([]CellID) []CellID { return nil }

// Equal reports structural equality.
func (d YearDescriptor) Equal(other YearDescriptor) bool { return d == other }

// Clone returns d; year descriptors hold no references.
func (d YearDescriptor) Clone() YearDescriptor { return d }

// FilterDescriptor configures a filter cell.
type FilterDescriptor struct {
	Source        PropertySource `json:"tmc_property_source"`
	PropertyName  *string        `json:"property_name"`
	PropertyValue *string        `json:"property_value"`
}

// DefaultFilterDescriptor returns the descriptor of a freshly created filter cell.
func DefaultFilterDescriptor() FilterDescriptor {
	return FilterDescriptor{Source: PropertySourceTMCMetadata}
}

// CellType implements the cell descriptor contract.
func (FilterDescriptor) CellType() CellType { return CellTypeFilter }

// Ready reports whether source, property name and property value are all set.
func (d FilterDescriptor) Ready() bool {
	return d.Source != "" && nonEmpty(d.PropertyName) && nonEmpty(d.PropertyValue)
}

// Dependencies returns the stored dependency list unchanged.
func (FilterDescriptor) Dependencies(stored []CellID) []CellID { return stored }

// Equal reports structural equality.
func (d FilterDescriptor) Equal(other FilterDescriptor) bool {
	return d.Source == other.Source &&
		equalPtr(d.PropertyName, other.PropertyName) &&
		equalPtr(d.PropertyValue, other.PropertyValue)
}

// Clone returns a copy that shares no memory with d.
func (d FilterDescriptor) Clone() FilterDescriptor {
	return FilterDescriptor{
		Source:        d.Source,
		PropertyName:  clonePtr(d.PropertyName),
		PropertyValue: clonePtr(d.PropertyValue),
	}
}

// TraverseDescriptor configures a traverse cell. Distance is in miles.
type TraverseDescriptor struct {
	Direction *Direction `json:"direction"`
	Distance  *float64   `json:"distance"`
}

// CellType implements the cell descriptor contract.
func (TraverseDescriptor) CellType() CellType { return CellTypeTraverse }

// Ready reports whether a direction is chosen and a distance is set. A zero
// distance is a valid configuration.
func (d TraverseDescriptor) Ready() bool {
	return d.Direction != nil && d.Distance != nil
}

// Dependencies returns the stored dependency list unchanged.
func (TraverseDescriptor) Dependencies(stored []CellID) []CellID { return stored }

// Equal reports structural equality.
func (d TraverseDescriptor) Equal(other TraverseDescriptor) bool {
	return equalPtr(d.Direction, other.Direction) && equalPtr(d.Distance, other.Distance)
}

// Clone returns a copy that shares no memory with d.
func (d TraverseDescriptor) Clone() TraverseDescriptor {
	return TraverseDescriptor{Direction: clonePtr(d.Direction), Distance: clonePtr(d.Distance)}
}

// DefaultLayerOffset is the offset assigned to new layers.
const DefaultLayerOffset = 1.0

// Layer is one comparison layer of a diff cell.
type Layer struct {
	ID          string  `json:"layer_id"`
	DependencyA *CellID `json:"layer_dependency_id_a"`
	DependencyB *CellID `json:"layer_dependency_id_b"`
	Offset      float64 `json:"layer_offset"`
	Visible     bool    `json:"layer_visible"`
}

// NewLayer returns a layer with default offset and visibility.
func NewLayer(id string) Layer {
	return Layer{ID: id, Offset: DefaultLayerOffset, Visible: true}
}

// Equal reports structural equality.
func (l Layer) Equal(other Layer) bool {
	return l.ID == other.ID &&
		equalPtr(l.DependencyA, other.DependencyA) &&
		equalPtr(l.DependencyB, other.DependencyB) &&
		l.Offset == other.Offset &&
		l.Visible == other.Visible
}

// Clone returns a copy whose dependency references are not shared with l.
func (l Layer) Clone() Layer {
	l.DependencyA = clonePtr(l.DependencyA)
	l.DependencyB = clonePtr(l.DependencyB)
	return l
}

// DiffDescriptor configures a diff-visualization cell.
type DiffDescriptor struct {
	Layers []Layer `json:"layers"`
}

// CellType implements the cell descriptor contract.
func (DiffDescriptor) CellType() CellType { return CellTypeDiff }

// Ready reports whether at least one layer references a dependency.
func (d DiffDescriptor) Ready() bool {
	return len(d.Dependencies(nil)) > 0
}

// Dependencies derives the dependency list from the layers: every non-null A
// and B reference, de-duplicated in first-seen order. The stored list is
// ignored.
func (d DiffDescriptor) Dependencies([]CellID) []CellID {
	var out []CellID
	for _, l := range d.Layers {
		for _, ref := range []*CellID{l.DependencyA, l.DependencyB} {
			if ref == nil || slices.Contains(out, *ref) {
				continue
			}
			out = append(out, *ref)
		}
	}
	return out
}

// Equal reports structural equality.
func (d DiffDescriptor) Equal(other DiffDescriptor) bool {
	return slices.EqualFunc(d.Layers, other.Layers, Layer.Equal)
}

// Clone returns a copy that shares no memory with d.
func (d DiffDescriptor) Clone() DiffDescriptor {
	if d.Layers == nil {
		return DiffDescriptor{}
	}
	layers := make([]Layer, len(d.Layers))
	for i, l := range d.Layers {
		layers[i] = l.Clone()
	}
	return DiffDescriptor{Layers: layers}
}

// Layer returns the layer with the given id.
func (d DiffDescriptor) Layer(id string) (Layer, bool) {
	for _, l := range d.Layers {
		if l.ID == id {
			return l, true
		}
	}
	return Layer{}, false
}

// WithLayer appends l unless a layer with the same id exists. The receiver is
// not modified.
func (d DiffDescriptor) WithLayer(l Layer) (DiffDescriptor, bool) {
	if _, exists := d.Layer(l.ID); exists {
		return d, false
	}
	layers := make([]Layer, 0, len(d.Layers)+1)
	layers = append(layers, d.Layers...)
	layers = append(layers, l)
	return DiffDescriptor{Layers: layers}, true
}

// UpdateLayer applies fn to a copy of the named layer. It reports false when
// the layer does not exist or fn leaves it unchanged.
func (d DiffDescriptor) UpdateLayer(id string, fn func(*Layer)) (DiffDescriptor, bool) {
	for i, l := range d.Layers {
		if l.ID != id {
			continue
		}
		next := l
		fn(&next)
		if next.Equal(l) {
			return d, false
		}
		layers := slices.Clone(d.Layers)
		layers[i] = next
		return DiffDescriptor{Layers: layers}, true
	}
	return d, false
}

func nonEmpty(s *string) bool { return s != nil && *s != "" }

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func equalPtr[T comparable](a, b *T) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
