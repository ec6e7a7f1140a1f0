package reconcile

import (
	"errors"
	"fmt"
	"sort"
	"testing"

	"github.com/aretw0/easel/pkg/domain"
	"github.com/aretw0/easel/pkg/templates"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testCatalog = `
templates:
  - id: t1
    nodeType: Text
    name: Text
    handles:
      - {id: out, type: Output, dataTypes: [Text], label: Text, order: 0}
  - id: llm
    nodeType: LLM
    name: LLM
    handles:
      - {id: prompt, type: Input, dataTypes: [Text], label: Prompt, order: 0, required: true}
      - {id: ctx, type: Input, dataTypes: [Text, Image], label: Context, order: 1}
      - {id: out, type: Output, dataTypes: [Text], label: Text, order: 2}
  - id: img
    nodeType: ImageGen
    name: Image
    handles:
      - {id: prompt, type: Input, dataTypes: [Text], label: Prompt, order: 0}
      - {id: out, type: Output, dataTypes: [Image], label: Image, order: 1}
  - id: comp
    nodeType: VideoCompositor
    name: Compositor
    variablePorts: true
    handles:
      - {id: clip, type: Input, dataTypes: [Video, Image], label: Clip, order: 0}
      - {id: out, type: Output, dataTypes: [Video], label: Video, order: 1}
  - id: exp
    nodeType: Export
    name: Export
    isTerminalNode: true
    handles:
      - {id: in, type: Input, dataTypes: [Text, Image, Video], label: Input, order: 0}
`

func newTestReconciler(t *testing.T) *Reconciler {
	t.Helper()
	catalog, err := templates.Parse([]byte(testCatalog))
	require.NoError(t, err)
	n := 0
	return New(catalog, WithIDGenerator(func() string {
		n++
		return fmt.Sprintf("id-%d", n)
	}))
}

func emptyGraph() *domain.Graph {
	return &domain.Graph{Canvas: domain.Canvas{ID: "c1", Name: "Test"}}
}

func node(id string, nt domain.NodeType, tpl string) domain.Node {
	return domain.Node{ID: id, Type: nt, TemplateID: tpl}
}

func handle(id, nodeID string, dir domain.Direction, order int, types ...domain.DataType) domain.Handle {
	return domain.Handle{ID: id, NodeID: nodeID, Type: dir, Order: order, DataTypes: types}
}

func edge(id, srcNode, srcHandle, dstNode, dstHandle string) domain.Edge {
	return domain.Edge{ID: id, SourceNodeID: srcNode, SourceHandleID: srcHandle, TargetNodeID: dstNode, TargetHandleID: dstHandle}
}

// seed builds a persisted graph text -> llm -> export plus a dangling image node.
// The returned remap resolves the client ids used here to durable ids.
func seed(t *testing.T, r *Reconciler) (*domain.Graph, map[string]string) {
	t.Helper()
	plan, err := r.Plan(emptyGraph(), domain.GraphPayload{
		Nodes: []domain.Node{
			node("text", domain.NodeTypeText, "t1"),
			node("llm", domain.NodeTypeLLM, "llm"),
			node("img", domain.NodeTypeImageGen, "img"),
			node("exp", domain.NodeTypeExport, "exp"),
		},
		Handles: []domain.Handle{
			handle("text-out", "text", domain.DirectionOutput, 0, domain.DataTypeText),
			handle("llm-prompt", "llm", domain.DirectionInput, 0, domain.DataTypeText),
			handle("llm-out", "llm", domain.DirectionOutput, 2, domain.DataTypeText),
			handle("img-out", "img", domain.DirectionOutput, 1, domain.DataTypeImage),
			handle("exp-in", "exp", domain.DirectionInput, 0, domain.DataTypeText),
		},
		Edges: []domain.Edge{
			edge("e1", "text", "text-out", "llm", "llm-prompt"),
			edge("e2", "llm", "llm-out", "exp", "exp-in"),
		},
	})
	require.NoError(t, err)
	require.Empty(t, plan.Warnings)
	require.Len(t, plan.Result.Edges, 2)
	return plan.Result, plan.IDRemap
}

func ids[T any](items []T, id func(T) string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		out = append(out, id(item))
	}
	sort.Strings(out)
	return out
}

func nodeID(n domain.Node) string { return n.ID }
func edgeID(e domain.Edge) string { return e.ID }

func TestPlan_TemporaryIDsAreRemapped(t *testing.T) {
	r := newTestReconciler(t)

	plan, err := r.Plan(emptyGraph(), domain.GraphPayload{
		Nodes: []domain.Node{{
			ID: "temp-1", Type: domain.NodeTypeText, TemplateID: "t1",
			Position: domain.Position{X: 0, Y: 0},
		}},
		Edges:   []domain.Edge{},
		Handles: []domain.Handle{handle("temp-h1", "temp-1", domain.DirectionOutput, 0, domain.DataTypeText)},
	})
	require.NoError(t, err)

	require.Len(t, plan.ChangeSet.CreateNodes, 1)
	durable := plan.ChangeSet.CreateNodes[0].ID
	assert.NotEqual(t, "temp-1", durable)
	assert.Equal(t, durable, plan.IDRemap["temp-1"])
	assert.Equal(t, "c1", plan.ChangeSet.CreateNodes[0].CanvasID)

	require.Len(t, plan.ChangeSet.CreateHandles, 1)
	h := plan.ChangeSet.CreateHandles[0]
	assert.Equal(t, durable, h.NodeID)
	assert.Equal(t, h.ID, plan.IDRemap["temp-h1"])
	assert.Equal(t, "out", h.TemplateHandleID)

	// New nodes get the template's default config variant.
	_, ok := plan.ChangeSet.CreateNodes[0].Config.(*domain.TextConfig)
	assert.True(t, ok)
}

func TestPlan_VariablePortHandlesFollowClient(t *testing.T) {
	r := newTestReconciler(t)

	plan, err := r.Plan(emptyGraph(), domain.GraphPayload{
		Nodes: []domain.Node{node("temp-c", domain.NodeTypeVideoCompositor, "comp")},
		Handles: []domain.Handle{
			handle("temp-clip1", "temp-c", domain.DirectionInput, 0, domain.DataTypeVideo),
			handle("temp-clip2", "temp-c", domain.DirectionInput, 1, domain.DataTypeImage),
			handle("temp-out", "temp-c", domain.DirectionOutput, 2, domain.DataTypeVideo),
		},
	})
	require.NoError(t, err)
	require.Len(t, plan.ChangeSet.CreateHandles, 3)
	for _, h := range plan.ChangeSet.CreateHandles {
		assert.Equal(t, plan.IDRemap["temp-c"], h.NodeID)
	}

	// Removing a port on a variable-port node is a plain delete.
	g := plan.Result
	p := g.Payload()
	clip2 := plan.IDRemap["temp-clip2"]
	p.Handles = []domain.Handle{}
	for _, h := range g.Handles {
		if h.ID != clip2 {
			p.Handles = append(p.Handles, h)
		}
	}
	next, err := r.Plan(g, p)
	require.NoError(t, err)
	assert.Equal(t, []string{clip2}, next.ChangeSet.DeleteHandles)
	assert.Empty(t, next.ChangeSet.CreateHandles)

	t.Run("New Node Without Handles Gets Template Ports", func(t *testing.T) {
		plan, err := r.Plan(emptyGraph(), domain.GraphPayload{
			Nodes:   []domain.Node{node("c", domain.NodeTypeVideoCompositor, "comp")},
			Handles: []domain.Handle{},
		})
		require.NoError(t, err)
		assert.Len(t, plan.ChangeSet.CreateHandles, 2)
	})
}

func TestPlan_IdempotentReapplication(t *testing.T) {
	r := newTestReconciler(t)
	g, _ := seed(t, r)

	plan, err := r.Plan(g, g.Payload())
	require.NoError(t, err)
	assert.True(t, plan.IsEmpty(), "re-applying the result must be a no-op, got %+v", plan.ChangeSet)
	assert.Empty(t, plan.Warnings)
	assert.Empty(t, plan.IDRemap)
}

func TestPlan_DiffCorrectness(t *testing.T) {
	r := newTestReconciler(t)
	g, remap := seed(t, r)

	text := g.Nodes[0]
	text.Position = domain.Position{X: 42, Y: 7}
	plan, err := r.Plan(g, domain.GraphPayload{
		Nodes: []domain.Node{text, node("temp-img", domain.NodeTypeImageGen, "img")},
	})
	require.NoError(t, err)

	cs := plan.ChangeSet
	require.Len(t, cs.CreateNodes, 1)
	assert.Equal(t, plan.IDRemap["temp-img"], cs.CreateNodes[0].ID)
	require.Len(t, cs.UpdateNodes, 1)
	assert.Equal(t, remap["text"], cs.UpdateNodes[0].ID)

	// Deletes are exactly the persisted ids absent from the proposal.
	assert.ElementsMatch(t, []string{remap["llm"], remap["img"], remap["exp"]}, cs.DeleteNodes)

	// Applying the plan yields exactly the proposal, up to remapping.
	assert.ElementsMatch(t,
		[]string{plan.IDRemap["temp-img"], remap["text"]},
		ids(plan.Result.Nodes, nodeID))

	// Handles and edges of deleted nodes are removed with them.
	assert.Empty(t, plan.Result.Edges)
	assert.ElementsMatch(t, []string{remap["e1"], remap["e2"]}, cs.DeleteEdges)
	for _, h := range plan.Result.Handles {
		assert.Contains(t, []string{remap["text"], plan.IDRemap["temp-img"]}, h.NodeID)
	}
	assert.Empty(t, plan.Warnings, "derived deletions are not warnings")
}

func TestPlan_PartialUpdateKeepsAbsentKinds(t *testing.T) {
	r := newTestReconciler(t)
	g, remap := seed(t, r)

	plan, err := r.Plan(g, domain.GraphPayload{Edges: []domain.Edge{}})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{remap["e1"], remap["e2"]}, plan.ChangeSet.DeleteEdges)
	assert.Empty(t, plan.ChangeSet.DeleteNodes)
	assert.Empty(t, plan.ChangeSet.DeleteHandles)
	assert.Len(t, plan.Result.Nodes, 4)
}

func TestPlan_ReferentialClosure(t *testing.T) {
	r := newTestReconciler(t)
	g, remap := seed(t, r)

	p := g.Payload()
	p.Nodes = append(p.Nodes, node("temp-llm2", domain.NodeTypeLLM, "llm"))
	p.Handles = append(p.Handles, handle("temp-llm2-ctx", "temp-llm2", domain.DirectionInput, 1, domain.DataTypeText))
	p.Edges = append(p.Edges,
		edge("temp-e3", remap["img"], remap["img-out"], "temp-llm2", "temp-llm2-ctx"),
		edge("temp-e4", remap["img"], remap["img-out"], "ghost", "ghost-in"),
	)

	plan, err := r.Plan(g, p)
	require.NoError(t, err)

	require.Len(t, plan.ChangeSet.CreateEdges, 1)
	created := plan.ChangeSet.CreateEdges[0]
	assert.Equal(t, plan.IDRemap["temp-e3"], created.ID)
	assert.Equal(t, plan.IDRemap["temp-llm2"], created.TargetNodeID)
	assert.Equal(t, plan.IDRemap["temp-llm2-ctx"], created.TargetHandleID)

	handleSet := map[string]domain.Handle{}
	for _, h := range plan.Result.Handles {
		handleSet[h.ID] = h
	}
	for _, e := range plan.Result.Edges {
		src, ok := handleSet[e.SourceHandleID]
		require.True(t, ok)
		dst, ok := handleSet[e.TargetHandleID]
		require.True(t, ok)
		assert.Equal(t, e.SourceNodeID, src.NodeID)
		assert.Equal(t, e.TargetNodeID, dst.NodeID)
	}

	require.Len(t, plan.Warnings, 1)
	assert.Equal(t, "temp-e4", plan.Warnings[0].ID)
	assert.Contains(t, plan.Warnings[0].Reason, "ghost")
}

func TestPlan_DuplicateTarget(t *testing.T) {
	r := newTestReconciler(t)
	g, remap := seed(t, r)

	p := g.Payload()
	p.Edges = []domain.Edge{
		edge("first", remap["text"], remap["text-out"], remap["exp"], remap["exp-in"]),
		edge("second", remap["llm"], remap["llm-out"], remap["exp"], remap["exp-in"]),
	}
	plan, err := r.Plan(g, p)
	require.NoError(t, err)

	require.Len(t, plan.ChangeSet.CreateEdges, 1)
	assert.Equal(t, remap["text-out"], plan.ChangeSet.CreateEdges[0].SourceHandleID)
	require.Len(t, plan.Warnings, 1)
	assert.Equal(t, "second", plan.Warnings[0].ID)
	assert.Contains(t, plan.Warnings[0].Reason, "duplicate target")
	assert.Contains(t, plan.Warnings[0].Reason, remap["exp-in"])

	targets := map[string]int{}
	for _, e := range plan.Result.Edges {
		targets[e.TargetHandleID]++
	}
	for id, n := range targets {
		assert.Equal(t, 1, n, "input handle %s has %d edges", id, n)
	}
}

func TestPlan_EdgeRules(t *testing.T) {
	r := newTestReconciler(t)
	g, remap := seed(t, r)

	tests := []struct {
		name   string
		edge   domain.Edge
		reason string
	}{
		{"Wrong Direction", edge("x", remap["llm"], remap["llm-prompt"], remap["exp"], remap["exp-in"]), "is not an Output"},
		{"Self Loop", edge("x", remap["llm"], remap["llm-out"], remap["llm"], remap["llm-prompt"]), "self-loop"},
		{"No Shared Type", edge("x", remap["img"], remap["img-out"], remap["llm"], remap["llm-prompt"]), "share no data type"},
		{"Missing Handle", edge("x", remap["text"], remap["text-out"], remap["exp"], "nope"), "not found"},
		{"Handle On Other Node", edge("x", remap["text"], remap["llm-out"], remap["exp"], remap["exp-in"]), "does not belong"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := g.Payload()
			p.Edges = []domain.Edge{tt.edge}
			plan, err := r.Plan(g, p)
			require.NoError(t, err)
			assert.Empty(t, plan.ChangeSet.CreateEdges)
			require.Len(t, plan.Warnings, 1)
			assert.Contains(t, plan.Warnings[0].Reason, tt.reason)
		})
	}
}

func TestPlan_MovedEdgeIsRecreated(t *testing.T) {
	r := newTestReconciler(t)
	g, remap := seed(t, r)

	p := g.Payload()
	p.Edges = []domain.Edge{edge(remap["e1"], remap["text"], remap["text-out"], remap["exp"], remap["exp-in"])}
	plan, err := r.Plan(g, p)
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{remap["e1"], remap["e2"]}, plan.ChangeSet.DeleteEdges)
	require.Len(t, plan.ChangeSet.CreateEdges, 1)
	assert.Equal(t, remap["e1"], plan.ChangeSet.CreateEdges[0].ID)
	assert.Equal(t, []string{remap["e1"]}, ids(plan.Result.Edges, edgeID))
}

func TestPlan_TerminalNodeResultIsProtected(t *testing.T) {
	r := newTestReconciler(t)
	g, remap := seed(t, r)

	// The execution subsystem wrote results out of band.
	persisted := g.Clone()
	for i := range persisted.Nodes {
		persisted.Nodes[i].Result = &domain.NodeResult{Items: []domain.ResultItem{{DataType: domain.DataTypeText, Text: "final"}}}
	}

	p := persisted.Payload()
	for i := range p.Nodes {
		p.Nodes[i].Result = &domain.NodeResult{Items: []domain.ResultItem{{DataType: domain.DataTypeText, Text: "overwritten"}}}
	}
	plan, err := r.Plan(persisted, p)
	require.NoError(t, err)

	for _, n := range plan.ChangeSet.UpdateNodes {
		assert.NotEqual(t, remap["exp"], n.ID, "terminal node must not be updated for a result change")
	}
	for _, n := range plan.Result.Nodes {
		if n.ID == remap["exp"] {
			assert.Equal(t, "final", n.Result.Items[0].Text)
		} else {
			assert.Equal(t, "overwritten", n.Result.Items[0].Text)
		}
	}

	t.Run("Created Terminal Node Has No Result", func(t *testing.T) {
		n := node("temp-exp", domain.NodeTypeExport, "exp")
		n.Result = &domain.NodeResult{Items: []domain.ResultItem{{DataType: domain.DataTypeText}}}
		plan, err := r.Plan(emptyGraph(), domain.GraphPayload{Nodes: []domain.Node{n}})
		require.NoError(t, err)
		assert.Nil(t, plan.ChangeSet.CreateNodes[0].Result)
	})
}

func TestPlan_FixedPortsAreForceSynced(t *testing.T) {
	r := newTestReconciler(t)
	g, remap := seed(t, r)

	persisted := g.Clone()
	var kept []domain.Handle
	var ctxID string
	for _, h := range persisted.Handles {
		if h.NodeID == remap["llm"] && h.TemplateHandleID == "ctx" {
			ctxID = h.ID
			continue
		}
		if h.ID == remap["llm-prompt"] {
			h.Label = "Drifted"
			h.DataTypes = []domain.DataType{domain.DataTypeImage}
		}
		kept = append(kept, h)
	}
	require.NotEmpty(t, ctxID)
	kept = append(kept, handle("extra", remap["llm"], domain.DirectionOutput, 9, domain.DataTypeText))
	persisted.Handles = kept

	plan, err := r.Plan(persisted, domain.GraphPayload{})
	require.NoError(t, err)

	cs := plan.ChangeSet
	require.Len(t, cs.UpdateHandles, 1)
	assert.Equal(t, remap["llm-prompt"], cs.UpdateHandles[0].ID)
	assert.Equal(t, "Prompt", cs.UpdateHandles[0].Label)
	assert.Equal(t, []domain.DataType{domain.DataTypeText}, cs.UpdateHandles[0].DataTypes)

	require.Len(t, cs.CreateHandles, 1)
	assert.Equal(t, "ctx", cs.CreateHandles[0].TemplateHandleID)
	assert.Equal(t, remap["llm"], cs.CreateHandles[0].NodeID)

	assert.Equal(t, []string{"extra"}, cs.DeleteHandles)

	t.Run("Client Cannot Delete Fixed Ports", func(t *testing.T) {
		p := g.Payload()
		p.Handles = []domain.Handle{}
		plan, err := r.Plan(g, p)
		require.NoError(t, err)
		assert.True(t, plan.IsEmpty())
	})

	t.Run("Client Cannot Retype Fixed Ports", func(t *testing.T) {
		p := g.Payload()
		for i := range p.Handles {
			p.Handles[i].DataTypes = []domain.DataType{domain.DataTypeAudio}
		}
		plan, err := r.Plan(g, p)
		require.NoError(t, err)
		assert.True(t, plan.IsEmpty())
	})
}

func TestPlan_HardFailures(t *testing.T) {
	r := newTestReconciler(t)
	g, remap := seed(t, r)

	t.Run("Unknown Template", func(t *testing.T) {
		_, err := r.Plan(g, domain.GraphPayload{Nodes: []domain.Node{node("n", domain.NodeTypeText, "nope")}})
		var errs domain.ValidationErrors
		require.True(t, errors.As(err, &errs))
		assert.Equal(t, "nodes[0].templateId", errs[0].Field)
	})

	t.Run("Type Does Not Match Template", func(t *testing.T) {
		_, err := r.Plan(g, domain.GraphPayload{Nodes: []domain.Node{node("n", domain.NodeTypeLLM, "t1")}})
		var errs domain.ValidationErrors
		require.True(t, errors.As(err, &errs))
		assert.Equal(t, "nodes[0].type", errs[0].Field)
	})

	t.Run("Template Change", func(t *testing.T) {
		p := g.Payload()
		p.Nodes[0].TemplateID = "llm"
		p.Nodes[0].Type = domain.NodeTypeLLM
		_, err := r.Plan(g, p)
		var errs domain.ValidationErrors
		require.True(t, errors.As(err, &errs))
		assert.Equal(t, "nodes[0].templateId", errs[0].Field)
	})

	t.Run("Handle Without Node", func(t *testing.T) {
		p := g.Payload()
		p.Handles = append(p.Handles, handle("h", "ghost", domain.DirectionInput, 0, domain.DataTypeText))
		_, err := r.Plan(g, p)
		var refErr *domain.ReferentialError
		require.True(t, errors.As(err, &refErr))
		assert.Equal(t, "ghost", refErr.Ref)
	})

	t.Run("Handle Moving Between Nodes", func(t *testing.T) {
		p := g.Payload()
		for i := range p.Handles {
			if p.Handles[i].ID == remap["text-out"] {
				p.Handles[i].NodeID = remap["img"]
			}
		}
		_, err := r.Plan(g, p)
		var errs domain.ValidationErrors
		require.True(t, errors.As(err, &errs))
		assert.Contains(t, errs[0].Reason, "cannot move")
	})

	t.Run("Duplicate Node Id", func(t *testing.T) {
		_, err := r.Plan(g, domain.GraphPayload{Nodes: []domain.Node{
			node("dup", domain.NodeTypeText, "t1"),
			node("dup", domain.NodeTypeText, "t1"),
		}})
		var errs domain.ValidationErrors
		require.True(t, errors.As(err, &errs))
		assert.Equal(t, "nodes[1].id", errs[0].Field)
	})
}

func TestPlan_Summary(t *testing.T) {
	r := newTestReconciler(t)
	g, _ := seed(t, r)

	plan, err := r.Plan(g, domain.GraphPayload{Nodes: []domain.Node{}})
	require.NoError(t, err)
	s := plan.Summary(g)
	assert.Equal(t, 4, s.Nodes.Deleted)
	assert.Equal(t, len(g.Handles), s.Handles.Deleted)
	assert.Equal(t, 2, s.Edges.Deleted)
	assert.Len(t, s.NodeChanges, 4)
}
