package dsl

import (
	"slices"

	"github.com/aretw0/easel/pkg/domain"
)

// ColumnWidth is the horizontal spacing of nodes without an explicit position.
const ColumnWidth = 300

// NodeBuilder provides a fluent API for configuring a node.
type NodeBuilder struct {
	node     domain.Node
	template domain.Template
	fields   map[string]any
	builder  *Builder
}

// At places the node on the canvas.
func (n *NodeBuilder) At(x, y float64) *NodeBuilder {
	n.node.Position = domain.Position{X: x, Y: y}
	return n
}

// Size sets the rendered size of the node.
func (n *NodeBuilder) Size(width, height float64) *NodeBuilder {
	n.node.Size = domain.Size{Width: width, Height: height}
	return n
}

// Set overrides one config field. Template defaults apply to the rest.
func (n *NodeBuilder) Set(key string, value any) *NodeBuilder {
	n.fields[key] = value
	return n
}

// Text sets the text of a Text node.
func (n *NodeBuilder) Text(content string) *NodeBuilder {
	return n.Set("text", content)
}

// Prompt sets the prompt of a generation node.
func (n *NodeBuilder) Prompt(prompt string) *NodeBuilder {
	return n.Set("prompt", prompt)
}

// To connects this node to target. It returns n, so target may be added
// later.
func (n *NodeBuilder) To(target string) *NodeBuilder {
	n.builder.Connect(n.node.ID, target)
	return n
}

// Build returns the underlying domain.Node with its typed config.
// This is primarily used by the Builder, but exposed for advanced usage.
func (n *NodeBuilder) Build() (domain.Node, error) {
	node := n.node
	if node.Type == "" {
		return node, nil
	}
	cfg, err := domain.DecodeConfig(node.Type, n.fields)
	if err != nil {
		return domain.Node{}, err
	}
	node.Config = cfg
	return node, nil
}

func (n *NodeBuilder) firstHandle(dir domain.Direction, accepts []domain.DataType) (domain.TemplateHandle, bool) {
	handles := slices.Clone(n.template.Handles)
	slices.SortStableFunc(handles, func(a, b domain.TemplateHandle) int { return a.Order - b.Order })
	for _, th := range handles {
		if th.Type != dir {
			continue
		}
		if accepts == nil || slices.ContainsFunc(th.DataTypes, func(dt domain.DataType) bool { return slices.Contains(accepts, dt) }) {
			return th, true
		}
	}
	return domain.TemplateHandle{}, false
}

func (n *NodeBuilder) port(templateHandleID string) (domain.TemplateHandle, bool) {
	for _, th := range n.template.Handles {
		if th.ID == templateHandleID {
			return th, true
		}
	}
	return domain.TemplateHandle{}, false
}
