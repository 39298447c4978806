package domain

import "encoding/json"

// Feature is a GeoJSON feature describing one TMC segment. Geometry is kept
// opaque; the notebook never inspects coordinates.
type Feature struct {
	Type       string          `json:"type"`
	Properties map[string]any  `json:"properties"`
	Geometry   json.RawMessage `json:"geometry"`
}

// TMC returns the segment code stored in the feature properties.
func (f Feature) TMC() string {
	tmc, _ := f.Properties["tmc"].(string)
	return tmc
}

// FeatureCollection is a GeoJSON feature collection.
type FeatureCollection struct {
	Type     string    `json:"type"`
	Features []Feature `json:"features"`
}

// NewFeatureCollection wraps features into a collection.
func NewFeatureCollection(features []Feature) FeatureCollection {
	if features == nil {
		features = []Feature{}
	}
	return FeatureCollection{Type: "FeatureCollection", Features: features}
}
