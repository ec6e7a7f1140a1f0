package graph

import (
	"fmt"
	"strings"

	"github.com/aretw0/easel/pkg/domain"
)

// Overlay marks nodes touched by a plan.
type Overlay struct {
	Created []string
	Updated []string
}

// OverlayOf builds an overlay from a plan summary.
func OverlayOf(diff *domain.GraphDiff) *Overlay {
	if diff == nil {
		return nil
	}
	o := &Overlay{}
	for _, c := range diff.NodeChanges {
		switch c.Op {
		case domain.OpCreate:
			o.Created = append(o.Created, c.NodeID)
		case domain.OpUpdate:
			o.Updated = append(o.Updated, c.NodeID)
		}
	}
	return o
}

// GenerateMermaid produces a Mermaid flowchart of a canvas graph.
// Shapes follow the node's role in a workflow:
// - Text, File: [/Parallelogram/] (sources)
// - LLM: [[Subroutine]]
// - generators: (Rounded)
// - VideoCompositor: {{Hexagon}}
// - Preview, Export: ((Circle)) (sinks)
// Edges are labelled with the data types the source handle emits.
func GenerateMermaid(g *domain.Graph, overlay *Overlay) string {
	var sb strings.Builder
	sb.WriteString("graph LR\n")
	if g == nil {
		return sb.String()
	}

	for _, node := range g.Nodes {
		opener, closer := "[", "]"
		switch node.Type {
		case domain.NodeTypeText, domain.NodeTypeFile:
			opener, closer = "[/", "/]"
		case domain.NodeTypeLLM:
			opener, closer = "[[", "]]"
		case domain.NodeTypeImageGen, domain.NodeTypeVideoGen, domain.NodeTypeAudioGen:
			opener, closer = "(", ")"
		case domain.NodeTypeVideoCompositor:
			opener, closer = "{{", "}}"
		case domain.NodeTypePreview, domain.NodeTypeExport:
			opener, closer = "((", "))"
		}
		fmt.Fprintf(&sb, "    %s%s\"%s <br/> %s\"%s\n", sanitizeMermaidID(node.ID), opener, node.Type, shortID(node.ID), closer)
	}

	handles := make(map[string]domain.Handle, len(g.Handles))
	for _, h := range g.Handles {
		handles[h.ID] = h
	}
	for _, e := range g.Edges {
		arrow := "-->"
		if src, ok := handles[e.SourceHandleID]; ok && len(src.DataTypes) > 0 {
			types := make([]string, len(src.DataTypes))
			for i, dt := range src.DataTypes {
				types[i] = string(dt)
			}
			arrow = fmt.Sprintf("-- \"%s\" -->", strings.Join(types, ", "))
		}
		fmt.Fprintf(&sb, "    %s %s %s\n", sanitizeMermaidID(e.SourceNodeID), arrow, sanitizeMermaidID(e.TargetNodeID))
	}

	if overlay != nil && len(overlay.Created)+len(overlay.Updated) > 0 {
		sb.WriteString("\n    %% Plan Overlay\n")
		// Force black text for contrast on both themes.
		sb.WriteString("    classDef created fill:#e8f5e9,stroke:#2e7d32,stroke-width:2px,color:#000;\n")
		sb.WriteString("    classDef updated fill:#fff8e1,stroke:#f9a825,stroke-width:2px,color:#000;\n")
		for _, id := range overlay.Created {
			fmt.Fprintf(&sb, "    class %s created;\n", sanitizeMermaidID(id))
		}
		for _, id := range overlay.Updated {
			fmt.Fprintf(&sb, "    class %s updated;\n", sanitizeMermaidID(id))
		}
	}

	return sb.String()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func sanitizeMermaidID(id string) string {
	s := strings.ReplaceAll(id, ".", "_")
	s = strings.ReplaceAll(s, "-", "_")
	s = strings.ReplaceAll(s, "/", "_")
	s = strings.ReplaceAll(s, "\\", "_")
	return "n_" + s
}
