package cell

import (
	"math"
	"tmcnotebook/pkg/domain"
)

// reduceBase handles the actions every variant understands.
func reduceBase[D Descriptor[D]](s State[D], action domain.Action, storesDependencies bool) State[D] {
	switch action.Type {
	case domain.ActionSetName:
		if name, ok := action.Payload.(string); ok {
			return s.SetName(name)
		}
	case domain.ActionSetDependency:
		if !storesDependencies {
			return s
		}
		if ids, ok := dependencyPayload(action.Payload); ok {
			return s.SetDependencies(ids...)
		}
	}
	return s
}

// dependencyPayload normalizes a scalar, slice or nil payload into a list.
func dependencyPayload(payload any) ([]domain.CellID, bool) {
	switch v := payload.(type) {
	case nil:
		return nil, true
	case domain.CellID:
		return []domain.CellID{v}, true
	case *domain.CellID:
		if v == nil {
			return nil, true
		}
		return []domain.CellID{*v}, true
	case []domain.CellID:
		return v, true
	default:
		return nil, false
	}
}

func reduceYear(s Year, action domain.Action) Year {
	desc := s.Descriptor()
	switch action.Type {
	case domain.ActionSetYear:
		year, ok := action.Payload.(int)
		if !ok || !domain.ValidYear(year) {
			return s
		}
		desc.Year = year
	case domain.ActionSetMapSource:
		source, ok := action.Payload.(domain.MapSource)
		if !ok || source == "" {
			return s
		}
		desc.Map = source
	default:
		return s
	}
	return s.WithDescriptor(desc)
}

func reduceFilter(s Filter, action domain.Action) Filter {
	desc := s.Descriptor()
	switch action.Type {
	case domain.ActionSetPropertySource:
		source, ok := action.Payload.(domain.PropertySource)
		if !ok || source == "" {
			return s
		}
		desc.Source = source
	case domain.ActionSetPropertyName:
		name, ok := action.Payload.(string)
		if !ok || (name != "" && !domain.ValidFilterProperty(name)) {
			return s
		}
		desc.PropertyName = optionalString(name)
	case domain.ActionSetPropertyValue:
		value, ok := action.Payload.(string)
		if !ok {
			return s
		}
		desc.PropertyValue = optionalString(value)
	case domain.ActionSetTMCs:
		payload, ok := action.Payload.(domain.TMCsPayload)
		if !ok {
			return s
		}
		return s.WithResolution(payload.Descriptor, payload.TMCs)
	default:
		return s
	}
	return s.WithDescriptor(desc)
}

func reduceTraverse(s Traverse, action domain.Action) Traverse {
	desc := s.Descriptor()
	switch action.Type {
	case domain.ActionSetDirection:
		dir, ok := action.Payload.(domain.Direction)
		if !ok || !dir.Valid() {
			return s
		}
		desc.Direction = &dir
	case domain.ActionSetDistance:
		distance, ok := action.Payload.(float64)
		if !ok || distance < 0 || math.IsNaN(distance) || math.IsInf(distance, 0) {
			return s
		}
		desc.Distance = &distance
	default:
		return s
	}
	return s.WithDescriptor(desc)
}

func reduceDiff(s Diff, action domain.Action) Diff {
	desc := s.Descriptor()
	var changed bool
	switch action.Type {
	case domain.ActionAddLayer:
		var layer domain.Layer
		switch p := action.Payload.(type) {
		case string:
			layer = domain.NewLayer(p)
		case domain.Layer:
			layer = p
		default:
			return s
		}
		if layer.ID == "" {
			return s
		}
		desc, changed = desc.WithLayer(layer)
	case domain.ActionSetLayerDependencyA, domain.ActionSetLayerDependencyB:
		p, ok := action.Payload.(domain.LayerDependencyPayload)
		if !ok {
			return s
		}
		ref := copyID(p.CellID)
		desc, changed = desc.UpdateLayer(p.LayerID, func(l *domain.Layer) {
			if action.Type == domain.ActionSetLayerDependencyA {
				l.DependencyA = ref
			} else {
				l.DependencyB = ref
			}
		})
	case domain.ActionSetLayerOffset:
		p, ok := action.Payload.(domain.LayerOffsetPayload)
		if !ok || math.IsNaN(p.Offset) {
			return s
		}
		desc, changed = desc.UpdateLayer(p.LayerID, func(l *domain.Layer) { l.Offset = p.Offset })
	case domain.ActionToggleLayerVisibility:
		id, ok := action.Payload.(string)
		if !ok {
			return s
		}
		desc, changed = desc.UpdateLayer(id, func(l *domain.Layer) { l.Visible = !l.Visible })
	}
	if !changed {
		return s
	}
	return s.WithDescriptor(desc)
}

func optionalString(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

func copyID(id *domain.CellID) *domain.CellID {
	if id == nil {
		return nil
	}
	v := *id
	return &v
}
