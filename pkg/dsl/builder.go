package dsl

import (
	"errors"
	"fmt"

	"github.com/aretw0/easel/pkg/domain"
	"github.com/aretw0/easel/pkg/ports"
)

// Builder manages the graph construction.
type Builder struct {
	catalog ports.TemplateCatalog
	order   []string
	nodes   map[string]*NodeBuilder
	links   []link
	errs    []error
}

// New creates a new graph builder over catalog.
func New(catalog ports.TemplateCatalog) *Builder {
	return &Builder{
		catalog: catalog,
		nodes:   make(map[string]*NodeBuilder),
	}
}

// Add creates a node instantiated from templateID.
// If the node already exists, it returns the existing builder.
func (b *Builder) Add(id, templateID string) *NodeBuilder {
	if nb, ok := b.nodes[id]; ok {
		return nb
	}
	nb := &NodeBuilder{
		node: domain.Node{
			ID:         id,
			TemplateID: templateID,
			Position:   domain.Position{X: float64(len(b.order)) * ColumnWidth},
		},
		fields:  make(map[string]any),
		builder: b,
	}
	tpl, err := b.catalog.Get(templateID)
	if err != nil {
		b.errs = append(b.errs, fmt.Errorf("node %s: %w", id, err))
	} else {
		nb.template = tpl
		nb.node.Type = tpl.NodeType
		for k, v := range tpl.DefaultConfig {
			nb.fields[k] = v
		}
	}
	b.nodes[id] = nb
	b.order = append(b.order, id)
	return nb
}

// Connect links the first output of source to the first input of target
// that accepts one of its data types. Nodes may be added after the call;
// links are resolved by Build.
func (b *Builder) Connect(sourceID, targetID string) *Builder {
	b.links = append(b.links, link{source: sourceID, target: targetID})
	return b
}

// ConnectPorts links two handles named by their template handle IDs.
func (b *Builder) ConnectPorts(sourceID, sourcePort, targetID, targetPort string) *Builder {
	b.links = append(b.links, link{source: sourceID, sourcePort: sourcePort, target: targetID, targetPort: targetPort})
	return b
}

type link struct {
	source, sourcePort string
	target, targetPort string
}

func (b *Builder) resolve(l link) (domain.Edge, error) {
	src, okSrc := b.nodes[l.source]
	dst, okDst := b.nodes[l.target]
	if !okSrc || !okDst {
		return domain.Edge{}, fmt.Errorf("connect %s -> %s: unknown node", l.source, l.target)
	}

	var out, in domain.TemplateHandle
	if l.sourcePort == "" {
		var found bool
		if out, found = src.firstHandle(domain.DirectionOutput, nil); !found {
			return domain.Edge{}, fmt.Errorf("node %s has no output", l.source)
		}
		if in, found = dst.firstHandle(domain.DirectionInput, out.DataTypes); !found {
			return domain.Edge{}, fmt.Errorf("node %s has no input accepting %v", l.target, out.DataTypes)
		}
	} else {
		var foundOut, foundIn bool
		out, foundOut = src.port(l.sourcePort)
		in, foundIn = dst.port(l.targetPort)
		if !foundOut || out.Type != domain.DirectionOutput {
			return domain.Edge{}, fmt.Errorf("node %s has no output %q", l.source, l.sourcePort)
		}
		if !foundIn || in.Type != domain.DirectionInput {
			return domain.Edge{}, fmt.Errorf("node %s has no input %q", l.target, l.targetPort)
		}
	}

	sourceHandle := HandleID(l.source, out.ID)
	targetHandle := HandleID(l.target, in.ID)
	return domain.Edge{
		ID:             sourceHandle + "->" + targetHandle,
		SourceNodeID:   l.source,
		SourceHandleID: sourceHandle,
		TargetNodeID:   l.target,
		TargetHandleID: targetHandle,
	}, nil
}

// Build returns a complete payload: every node with its template handles,
// and the edges between them.
func (b *Builder) Build() (domain.GraphPayload, error) {
	payload := domain.GraphPayload{
		Nodes:   make([]domain.Node, 0, len(b.order)),
		Edges:   []domain.Edge{},
		Handles: []domain.Handle{},
	}
	errs := append([]error(nil), b.errs...)
	for _, id := range b.order {
		nb := b.nodes[id]
		n, err := nb.Build()
		if err != nil {
			errs = append(errs, fmt.Errorf("node %s: %w", id, err))
			continue
		}
		payload.Nodes = append(payload.Nodes, n)
		for _, th := range nb.template.Handles {
			payload.Handles = append(payload.Handles, th.Instantiate(HandleID(id, th.ID), id))
		}
	}

	// Linking the same pair twice yields one edge.
	seen := make(map[string]bool)
	for _, l := range b.links {
		e, err := b.resolve(l)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !seen[e.ID] {
			seen[e.ID] = true
			payload.Edges = append(payload.Edges, e)
		}
	}

	if len(errs) > 0 {
		return domain.GraphPayload{}, errors.Join(errs...)
	}
	return payload, nil
}

// HandleID names the handle a built node gets for a template port.
func HandleID(nodeID, templateHandleID string) string {
	return nodeID + ":" + templateHandleID
}
