package domain

// ActionType names a cell mutation handled by the reducer chain.
type ActionType string

// Universal actions handled by the base reducer.
const (
	ActionSetName       ActionType = "SET_NAME"
	ActionSetDependency ActionType = "SET_DEPENDENCY"
)

// Year cell actions.
const (
	ActionSetYear      ActionType = "SET_YEAR"
	ActionSetMapSource ActionType = "SET_MAP_SOURCE"
)

// Filter cell actions.
const (
	ActionSetPropertySource ActionType = "SET_TMC_PROPERTIES_SOURCE"
	ActionSetPropertyName   ActionType = "SET_PROPERTY_NAME"
	ActionSetPropertyValue  ActionType = "SET_PROPERTY_VALUE"
	// ActionSetTMCs records a successful resolution of the filter.
	ActionSetTMCs ActionType = "SET_TMCS"
)

// Traverse cell actions.
const (
	ActionSetDirection ActionType = "SET_DIRECTION"
	ActionSetDistance  ActionType = "SET_DISTANCE"
)

// Diff cell actions.
const (
	ActionAddLayer              ActionType = "ADD_LAYER"
	ActionSetLayerDependencyA   ActionType = "SET_LAYER_DEPENDENCY_A"
	ActionSetLayerDependencyB   ActionType = "SET_LAYER_DEPENDENCY_B"
	ActionSetLayerOffset        ActionType = "SET_LAYER_OFFSET"
	ActionToggleLayerVisibility ActionType = "TOGGLE_LAYER_VISIBILITY"
)

// Action is a reducer input. Payload types per action:
//
//	SET_NAME                   string
//	SET_DEPENDENCY             CellID, []CellID or nil
//	SET_YEAR                   int
//	SET_MAP_SOURCE             MapSource
//	SET_TMC_PROPERTIES_SOURCE  PropertySource
//	SET_PROPERTY_NAME          string
//	SET_PROPERTY_VALUE         string
//	SET_TMCS                   TMCsPayload
//	SET_DIRECTION              Direction
//	SET_DISTANCE               float64
//	ADD_LAYER                  string (layer id) or Layer
//	SET_LAYER_DEPENDENCY_A/B   LayerDependencyPayload
//	SET_LAYER_OFFSET           LayerOffsetPayload
//	TOGGLE_LAYER_VISIBILITY    string (layer id)
//
// Actions with an unexpected payload type are ignored.
type Action struct {
	Type    ActionType
	Payload any
}

// TMCsPayload carries a resolved TMC list together with the descriptor the
// request was built from.
type TMCsPayload struct {
	Descriptor FilterDescriptor
	TMCs       []string
}

// LayerDependencyPayload assigns (or clears, when CellID is nil) one side of a
// diff layer.
type LayerDependencyPayload struct {
	LayerID string
	CellID  *CellID
}

// LayerOffsetPayload sets the rendering offset of a diff layer.
type LayerOffsetPayload struct {
	LayerID string
	Offset  float64
}
