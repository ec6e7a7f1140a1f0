package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// NodeType is the closed set of node kinds a canvas can hold.
type NodeType string

const (
	NodeTypeText            NodeType = "Text"
	NodeTypeFile            NodeType = "File"
	NodeTypeLLM             NodeType = "LLM"
	NodeTypeImageGen        NodeType = "ImageGen"
	NodeTypeVideoGen        NodeType = "VideoGen"
	NodeTypeAudioGen        NodeType = "AudioGen"
	NodeTypeVideoCompositor NodeType = "VideoCompositor"
	NodeTypePreview         NodeType = "Preview"
	NodeTypeExport          NodeType = "Export"
)

// NodeTypes lists every known node type in a stable order.
var NodeTypes = []NodeType{
	NodeTypeText,
	NodeTypeFile,
	NodeTypeLLM,
	NodeTypeImageGen,
	NodeTypeVideoGen,
	NodeTypeAudioGen,
	NodeTypeVideoCompositor,
	NodeTypePreview,
	NodeTypeExport,
}

// Valid reports whether t is one of the known node types.
func (t NodeType) Valid() bool {
	for _, known := range NodeTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Position is the top-left corner of a node on the canvas.
type Position struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
}

// Size is the rendered size of a node. Zero means "use the editor default".
type Size struct {
	Width  float64 `json:"width,omitempty" yaml:"width,omitempty"`
	Height float64 `json:"height,omitempty" yaml:"height,omitempty"`
}

// Node is a typed unit of work in the graph, instantiated from a Template.
type Node struct {
	ID         string      `json:"id"`
	CanvasID   string      `json:"canvasId,omitempty"`
	Type       NodeType    `json:"type"`
	TemplateID string      `json:"templateId"`
	Position   Position    `json:"position"`
	Size       Size        `json:"size"`
	Config     NodeConfig  `json:"config,omitempty"`
	Result     *NodeResult `json:"result,omitempty"`
	IsDirty    bool        `json:"isDirty"`
	CreatedAt  time.Time   `json:"createdAt,omitempty"`
	UpdatedAt  time.Time   `json:"updatedAt,omitempty"`
}

// NodeResult is the last computed output of a node. Only the execution
// subsystem writes it for nodes whose template is terminal.
type NodeResult struct {
	Items     []ResultItem `json:"items"`
	Error     string       `json:"error,omitempty"`
	UpdatedAt time.Time    `json:"updatedAt,omitempty"`
}

// ResultItem is one produced artifact.
type ResultItem struct {
	DataType DataType `json:"dataType" mapstructure:"dataType"`
	Text     string   `json:"text,omitempty" mapstructure:"text"`
	URL      string   `json:"url,omitempty" mapstructure:"url"`
	MimeType string   `json:"mimeType,omitempty" mapstructure:"mimeType"`
}

type nodeJSON struct {
	ID         string          `json:"id"`
	CanvasID   string          `json:"canvasId,omitempty"`
	Type       NodeType        `json:"type"`
	TemplateID string          `json:"templateId"`
	Position   Position        `json:"position"`
	Size       Size            `json:"size"`
	Config     json.RawMessage `json:"config,omitempty"`
	Result     *NodeResult     `json:"result,omitempty"`
	IsDirty    bool            `json:"isDirty"`
	CreatedAt  time.Time       `json:"createdAt,omitempty"`
	UpdatedAt  time.Time       `json:"updatedAt,omitempty"`
}

// UnmarshalJSON decodes the config through the node type registry so that
// Config always holds the typed variant for Type.
func (n *Node) UnmarshalJSON(data []byte) error {
	var raw nodeJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*n = Node{
		ID:         raw.ID,
		CanvasID:   raw.CanvasID,
		Type:       raw.Type,
		TemplateID: raw.TemplateID,
		Position:   raw.Position,
		Size:       raw.Size,
		Result:     raw.Result,
		IsDirty:    raw.IsDirty,
		CreatedAt:  raw.CreatedAt,
		UpdatedAt:  raw.UpdatedAt,
	}
	if len(raw.Config) == 0 || string(raw.Config) == "null" {
		return nil
	}
	var fields map[string]any
	if err := json.Unmarshal(raw.Config, &fields); err != nil {
		return fmt.Errorf("node %s: config: %w", raw.ID, err)
	}
	cfg, err := DecodeConfig(raw.Type, fields)
	if err != nil {
		return fmt.Errorf("node %s: %w", raw.ID, err)
	}
	n.Config = cfg
	return nil
}

// Clone returns a copy that shares no mutable state with n.
func (n Node) Clone() Node {
	out := n
	if n.Config != nil {
		out.Config = n.Config.Clone()
	}
	if n.Result != nil {
		r := *n.Result
		r.Items = append([]ResultItem(nil), n.Result.Items...)
		out.Result = &r
	}
	return out
}
