package domain

import "time"

// Canvas is the root workflow graph a user edits.
type Canvas struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	OwnerID   string    `json:"ownerId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Graph is the full persisted state of one canvas.
type Graph struct {
	Canvas    Canvas     `json:"canvas"`
	Nodes     []Node     `json:"nodes"`
	Edges     []Edge     `json:"edges"`
	Handles   []Handle   `json:"handles"`
	Templates []Template `json:"templates,omitempty"`
}

// Payload returns the entity lists of g as a complete payload.
func (g *Graph) Payload() GraphPayload {
	p := GraphPayload{
		Nodes:   make([]Node, 0, len(g.Nodes)),
		Edges:   make([]Edge, 0, len(g.Edges)),
		Handles: make([]Handle, 0, len(g.Handles)),
	}
	for _, n := range g.Nodes {
		p.Nodes = append(p.Nodes, n.Clone())
	}
	for _, h := range g.Handles {
		p.Handles = append(p.Handles, h.Clone())
	}
	p.Edges = append(p.Edges, g.Edges...)
	return p
}

// Clone returns a deep copy of g.
func (g *Graph) Clone() *Graph {
	if g == nil {
		return nil
	}
	p := g.Payload()
	return &Graph{
		Canvas:    g.Canvas,
		Nodes:     p.Nodes,
		Edges:     p.Edges,
		Handles:   p.Handles,
		Templates: append([]Template(nil), g.Templates...),
	}
}

// GraphPayload is a proposed full or partial graph.
//
// A nil slice means the entity kind is absent from the proposal and is left
// untouched. A non-nil empty slice means "no entities of this kind".
type GraphPayload struct {
	Nodes   []Node   `json:"nodes"`
	Edges   []Edge   `json:"edges"`
	Handles []Handle `json:"handles"`
}

// IsEmpty reports whether no kind is present.
func (p GraphPayload) IsEmpty() bool {
	return p.Nodes == nil && p.Edges == nil && p.Handles == nil
}

// Clone returns a deep copy of p, preserving nil-ness of each kind.
func (p GraphPayload) Clone() GraphPayload {
	var out GraphPayload
	if p.Nodes != nil {
		out.Nodes = make([]Node, 0, len(p.Nodes))
		for _, n := range p.Nodes {
			out.Nodes = append(out.Nodes, n.Clone())
		}
	}
	if p.Handles != nil {
		out.Handles = make([]Handle, 0, len(p.Handles))
		for _, h := range p.Handles {
			out.Handles = append(out.Handles, h.Clone())
		}
	}
	if p.Edges != nil {
		out.Edges = append(make([]Edge, 0, len(p.Edges)), p.Edges...)
	}
	return out
}

// ChangeSet is the ordered list of writes produced by reconciliation.
//
// Stores apply deletes first (edges, handles, nodes), then creates and
// updates (nodes, handles, edges), in a single transaction.
type ChangeSet struct {
	CanvasID string  `json:"canvasId"`
	Rename   *string `json:"rename,omitempty"`

	CreateNodes []Node   `json:"createNodes,omitempty"`
	UpdateNodes []Node   `json:"updateNodes,omitempty"`
	DeleteNodes []string `json:"deleteNodes,omitempty"`

	CreateHandles []Handle `json:"createHandles,omitempty"`
	UpdateHandles []Handle `json:"updateHandles,omitempty"`
	DeleteHandles []string `json:"deleteHandles,omitempty"`

	// Edges have no mutable attributes besides their endpoints. A moved
	// edge is deleted and recreated under the same id.
	CreateEdges []Edge   `json:"createEdges,omitempty"`
	DeleteEdges []string `json:"deleteEdges,omitempty"`
}

// IsEmpty reports whether applying c would change nothing.
func (c *ChangeSet) IsEmpty() bool {
	return c.Rename == nil &&
		len(c.CreateNodes) == 0 && len(c.UpdateNodes) == 0 && len(c.DeleteNodes) == 0 &&
		len(c.CreateHandles) == 0 && len(c.UpdateHandles) == 0 && len(c.DeleteHandles) == 0 &&
		len(c.CreateEdges) == 0 && len(c.DeleteEdges) == 0
}

// Count returns the total number of entity operations in c.
func (c *ChangeSet) Count() int {
	return len(c.CreateNodes) + len(c.UpdateNodes) + len(c.DeleteNodes) +
		len(c.CreateHandles) + len(c.UpdateHandles) + len(c.DeleteHandles) +
		len(c.CreateEdges) + len(c.DeleteEdges)
}
