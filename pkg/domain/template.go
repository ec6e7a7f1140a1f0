package domain

// Template is the immutable schema defining a node type's default ports and config.
type Template struct {
	ID             string           `json:"id" yaml:"id"`
	NodeType       NodeType         `json:"nodeType" yaml:"nodeType"`
	Name           string           `json:"name" yaml:"name"`
	Description    string           `json:"description,omitempty" yaml:"description,omitempty"`
	IsTerminalNode bool             `json:"isTerminalNode" yaml:"isTerminalNode"`
	VariablePorts  bool             `json:"variablePorts" yaml:"variablePorts"`
	Handles        []TemplateHandle `json:"handles" yaml:"handles"`
	DefaultConfig  map[string]any   `json:"defaultConfig,omitempty" yaml:"defaultConfig,omitempty"`
}

// TemplateHandle is one port definition of a Template.
type TemplateHandle struct {
	ID        string     `json:"id" yaml:"id"`
	Type      Direction  `json:"type" yaml:"type"`
	DataTypes []DataType `json:"dataTypes" yaml:"dataTypes"`
	Label     string     `json:"label" yaml:"label"`
	Order     int        `json:"order" yaml:"order"`
	Required  bool       `json:"required" yaml:"required"`
}

// Instantiate builds the Handle a node with nodeID gets for th.
func (th TemplateHandle) Instantiate(id, nodeID string) Handle {
	return Handle{
		ID:               id,
		Type:             th.Type,
		NodeID:           nodeID,
		DataTypes:        append([]DataType(nil), th.DataTypes...),
		Label:            th.Label,
		Order:            th.Order,
		Required:         th.Required,
		TemplateHandleID: th.ID,
	}
}

// Matches reports whether h is structurally in sync with th.
func (th TemplateHandle) Matches(h Handle) bool {
	if h.Type != th.Type || h.Label != th.Label || h.Order != th.Order ||
		h.Required != th.Required || h.TemplateHandleID != th.ID {
		return false
	}
	if len(h.DataTypes) != len(th.DataTypes) {
		return false
	}
	for i := range th.DataTypes {
		if h.DataTypes[i] != th.DataTypes[i] {
			return false
		}
	}
	return true
}
