package schema

import (
	"github.com/aretw0/easel/pkg/domain"
)

type positionWire struct {
	X *float64 `json:"x" validate:"required"`
	Y *float64 `json:"y" validate:"required"`
}

type sizeWire struct {
	Width  float64 `json:"width" validate:"gte=0"`
	Height float64 `json:"height" validate:"gte=0"`
}

type nodeWire struct {
	ID         string             `json:"id" validate:"max=128"`
	Type       string             `json:"type" validate:"required,nodetype"`
	TemplateID string             `json:"templateId" validate:"required,max=128"`
	Position   *positionWire      `json:"position" validate:"required"`
	Size       *sizeWire          `json:"size"`
	Width      *float64           `json:"width" validate:"omitempty,gte=0"`
	Height     *float64           `json:"height" validate:"omitempty,gte=0"`
	Config     map[string]any     `json:"config"`
	Result     *domain.NodeResult `json:"result"`
	IsDirty    bool               `json:"isDirty"`
}

type handleWire struct {
	ID               string   `json:"id" validate:"max=128"`
	Type             string   `json:"type" validate:"required,oneof=Input Output"`
	NodeID           string   `json:"nodeId" validate:"required,max=128"`
	DataTypes        []string `json:"dataTypes" validate:"required,min=1,dive,datatype"`
	Label            string   `json:"label" validate:"max=256"`
	Order            int      `json:"order" validate:"gte=0"`
	Required         bool     `json:"required"`
	TemplateHandleID string   `json:"templateHandleId" validate:"max=128"`
}

type edgeWire struct {
	ID             string `json:"id" validate:"max=128"`
	SourceNodeID   string `json:"sourceNodeId" validate:"required,max=128"`
	SourceHandleID string `json:"sourceHandleId" validate:"required,max=128"`
	TargetNodeID   string `json:"targetNodeId" validate:"required,max=128"`
	TargetHandleID string `json:"targetHandleId" validate:"required,max=128"`
}

func (w *nodeWire) toDomain(cfg domain.NodeConfig) domain.Node {
	n := domain.Node{
		ID:         w.ID,
		Type:       domain.NodeType(w.Type),
		TemplateID: w.TemplateID,
		Position:   domain.Position{X: *w.Position.X, Y: *w.Position.Y},
		Config:     cfg,
		Result:     w.Result,
		IsDirty:    w.IsDirty,
	}
	if w.Size != nil {
		n.Size = domain.Size{Width: w.Size.Width, Height: w.Size.Height}
	}
	// Flat width/height are accepted for editors that do not nest size.
	if w.Width != nil {
		n.Size.Width = *w.Width
	}
	if w.Height != nil {
		n.Size.Height = *w.Height
	}
	return n
}

func (w *handleWire) toDomain() domain.Handle {
	h := domain.Handle{
		ID:               w.ID,
		Type:             domain.Direction(w.Type),
		NodeID:           w.NodeID,
		Label:            w.Label,
		Order:            w.Order,
		Required:         w.Required,
		TemplateHandleID: w.TemplateHandleID,
	}
	for _, dt := range w.DataTypes {
		h.DataTypes = append(h.DataTypes, domain.DataType(dt))
	}
	return h
}

func (w *edgeWire) toDomain() domain.Edge {
	return domain.Edge{
		ID:             w.ID,
		SourceNodeID:   w.SourceNodeID,
		SourceHandleID: w.SourceHandleID,
		TargetNodeID:   w.TargetNodeID,
		TargetHandleID: w.TargetHandleID,
	}
}
