package reconcile

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/aretw0/easel/pkg/domain"
)

// state accumulates one Plan call.
type state struct {
	r        *Reconciler
	canvasID string
	graph    *domain.Graph

	pNodes        map[string]domain.Node
	pHandles      map[string]domain.Handle
	pEdges        map[string]domain.Edge
	handlesByNode map[string][]domain.Handle

	// Client ids are remapped per kind so that a node and a handle sharing a
	// temporary id do not clash while planning.
	nodeRemap   map[string]string
	handleRemap map[string]string
	edgeRemap   map[string]string
	remap       map[string]string

	cs       domain.ChangeSet
	warnings []Warning

	nodes     []domain.Node
	nodeIdx   map[string]int
	templates map[string]domain.Template
	created   map[string]bool
	handles   []domain.Handle
	handleIdx map[string]int
	edges     []domain.Edge
}

func newState(r *Reconciler, g *domain.Graph) *state {
	st := &state{
		r:             r,
		canvasID:      g.Canvas.ID,
		graph:         g,
		pNodes:        make(map[string]domain.Node, len(g.Nodes)),
		pHandles:      make(map[string]domain.Handle, len(g.Handles)),
		pEdges:        make(map[string]domain.Edge, len(g.Edges)),
		handlesByNode: make(map[string][]domain.Handle),
		nodeRemap:     make(map[string]string),
		handleRemap:   make(map[string]string),
		edgeRemap:     make(map[string]string),
		remap:         make(map[string]string),
		nodeIdx:       make(map[string]int),
		templates:     make(map[string]domain.Template),
		created:       make(map[string]bool),
		handleIdx:     make(map[string]int),
	}
	for _, n := range g.Nodes {
		st.pNodes[n.ID] = n
	}
	for _, h := range g.Handles {
		st.pHandles[h.ID] = h
		st.handlesByNode[h.NodeID] = append(st.handlesByNode[h.NodeID], h)
	}
	for _, e := range g.Edges {
		st.pEdges[e.ID] = e
	}
	return st
}

func (st *state) mint(kind map[string]string, clientID string) string {
	durable := st.r.newID()
	if clientID != "" {
		kind[clientID] = durable
		st.remap[clientID] = durable
	}
	return durable
}

func (st *state) resolveNode(id string) string {
	if durable, ok := st.nodeRemap[id]; ok {
		return durable
	}
	return id
}

func (st *state) resolveHandle(id string) string {
	if durable, ok := st.handleRemap[id]; ok {
		return durable
	}
	return id
}

func (st *state) addNode(n domain.Node, tpl domain.Template) {
	st.nodeIdx[n.ID] = len(st.nodes)
	st.nodes = append(st.nodes, n)
	st.templates[n.ID] = tpl
}

func (st *state) addHandle(h domain.Handle) {
	st.handleIdx[h.ID] = len(st.handles)
	st.handles = append(st.handles, h)
}

func (st *state) warn(entity, id, reason string) {
	w := Warning{Entity: entity, ID: id, Reason: reason}
	st.warnings = append(st.warnings, w)
	st.r.warn(st.canvasID, w)
}

func (st *state) result() *domain.Graph {
	nodes := st.nodes
	if nodes == nil {
		nodes = []domain.Node{}
	}
	handles := st.handles
	if handles == nil {
		handles = []domain.Handle{}
	}
	edges := st.edges
	if edges == nil {
		edges = []domain.Edge{}
	}
	return &domain.Graph{
		Canvas:    st.graph.Canvas,
		Nodes:     nodes,
		Handles:   handles,
		Edges:     edges,
		Templates: st.graph.Templates,
	}
}

// templateFor resolves the template of a persisted node. Nodes whose template
// left the catalog are treated as variable-port so their handles are kept.
func (st *state) templateFor(n domain.Node) domain.Template {
	tpl, err := st.r.catalog.Get(n.TemplateID)
	if err != nil {
		return domain.Template{ID: n.TemplateID, NodeType: n.Type, VariablePorts: true}
	}
	return tpl
}

func (st *state) planNodes(proposed []domain.Node) error {
	if proposed == nil {
		for _, n := range st.graph.Nodes {
			st.addNode(n.Clone(), st.templateFor(n))
		}
		return nil
	}

	var errs domain.ValidationErrors
	seen := make(map[string]bool, len(proposed))
	kept := make(map[string]bool, len(proposed))

	for i, n := range proposed {
		path := fmt.Sprintf("nodes[%d]", i)
		if n.ID != "" {
			if seen[n.ID] {
				errs = append(errs, &domain.ValidationError{Field: path + ".id", Reason: fmt.Sprintf("duplicate id %q", n.ID)})
				continue
			}
			seen[n.ID] = true
		}

		tpl, err := st.r.catalog.Get(n.TemplateID)
		if err != nil {
			errs = append(errs, &domain.ValidationError{Field: path + ".templateId", Reason: fmt.Sprintf("unknown template %q", n.TemplateID)})
			continue
		}
		if n.Type != tpl.NodeType {
			errs = append(errs, &domain.ValidationError{
				Field:  path + ".type",
				Reason: fmt.Sprintf("must be %s for template %s", tpl.NodeType, tpl.ID),
				Value:  n.Type,
			})
			continue
		}

		if prev, ok := st.pNodes[n.ID]; ok && n.ID != "" {
			if prev.TemplateID != n.TemplateID {
				errs = append(errs, &domain.ValidationError{
					Field:  path + ".templateId",
					Reason: "cannot change the template of an existing node",
					Value:  n.TemplateID,
				})
				continue
			}
			next := st.mergeNode(prev, n, tpl)
			kept[prev.ID] = true
			st.addNode(next, tpl)
			if !sameNode(prev, next) {
				st.cs.UpdateNodes = append(st.cs.UpdateNodes, next)
			}
			continue
		}

		next := n.Clone()
		next.ID = st.mint(st.nodeRemap, n.ID)
		next.CanvasID = st.canvasID
		if next.Config == nil {
			if cfg, err := domain.DecodeConfig(tpl.NodeType, tpl.DefaultConfig); err == nil {
				next.Config = cfg
			}
		}
		if tpl.IsTerminalNode {
			next.Result = nil
		}
		st.created[next.ID] = true
		st.addNode(next, tpl)
		st.cs.CreateNodes = append(st.cs.CreateNodes, next)
	}
	if len(errs) > 0 {
		return errs
	}

	for _, n := range st.graph.Nodes {
		if !kept[n.ID] {
			st.cs.DeleteNodes = append(st.cs.DeleteNodes, n.ID)
		}
	}
	return nil
}

func (st *state) mergeNode(prev, proposed domain.Node, tpl domain.Template) domain.Node {
	next := proposed.Clone()
	next.ID = prev.ID
	next.CanvasID = st.canvasID
	next.CreatedAt = prev.CreatedAt
	next.UpdatedAt = prev.UpdatedAt
	if next.Config == nil && prev.Config != nil {
		next.Config = prev.Config.Clone()
	}
	if tpl.IsTerminalNode {
		// Only the execution subsystem writes results of terminal nodes.
		next.Result = prev.Clone().Result
	}
	return next
}

func sameNode(a, b domain.Node) bool {
	return a.Type == b.Type &&
		a.TemplateID == b.TemplateID &&
		a.Position == b.Position &&
		a.Size == b.Size &&
		a.IsDirty == b.IsDirty &&
		reflect.DeepEqual(a.Config, b.Config) &&
		sameJSON(a.Result, b.Result)
}

func sameHandle(a, b domain.Handle) bool {
	return reflect.DeepEqual(a.Clone(), b.Clone())
}

func sameJSON(a, b any) bool {
	ja, errA := json.Marshal(a)
	jb, errB := json.Marshal(b)
	return errA == nil && errB == nil && string(ja) == string(jb)
}
