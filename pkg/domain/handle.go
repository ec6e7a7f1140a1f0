package domain

// Direction is the flow direction of a Handle.
type Direction string

const (
	DirectionInput  Direction = "Input"
	DirectionOutput Direction = "Output"
)

// Valid reports whether d is Input or Output.
func (d Direction) Valid() bool {
	return d == DirectionInput || d == DirectionOutput
}

// DataType is the kind of data a handle accepts or produces.
type DataType string

const (
	DataTypeText  DataType = "Text"
	DataTypeImage DataType = "Image"
	DataTypeVideo DataType = "Video"
	DataTypeAudio DataType = "Audio"
	DataTypeFile  DataType = "File"
)

// DataTypes lists every known data type.
var DataTypes = []DataType{DataTypeText, DataTypeImage, DataTypeVideo, DataTypeAudio, DataTypeFile}

// Valid reports whether t is a known data type.
func (t DataType) Valid() bool {
	for _, known := range DataTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Handle is a typed port on a Node.
type Handle struct {
	ID               string     `json:"id"`
	Type             Direction  `json:"type"`
	NodeID           string     `json:"nodeId"`
	DataTypes        []DataType `json:"dataTypes"`
	Label            string     `json:"label,omitempty"`
	Order            int        `json:"order"`
	Required         bool       `json:"required"`
	TemplateHandleID string     `json:"templateHandleId,omitempty"`
}

// Clone returns a copy of h with its own DataTypes slice.
func (h Handle) Clone() Handle {
	h.DataTypes = append([]DataType(nil), h.DataTypes...)
	return h
}

// Accepts reports whether h shares at least one data type with other.
func (h Handle) Accepts(other Handle) bool {
	for _, a := range h.DataTypes {
		for _, b := range other.DataTypes {
			if a == b {
				return true
			}
		}
	}
	return false
}

// Edge is a directed connection from an Output handle to an Input handle.
type Edge struct {
	ID             string `json:"id"`
	SourceNodeID   string `json:"sourceNodeId"`
	SourceHandleID string `json:"sourceHandleId"`
	TargetNodeID   string `json:"targetNodeId"`
	TargetHandleID string `json:"targetHandleId"`
}
