package mcp

import (
	"context"
	"testing"

	"github.com/aretw0/easel/pkg/adapters/memory"
	"github.com/aretw0/easel/pkg/agent"
	"github.com/aretw0/easel/pkg/canvas"
	"github.com/aretw0/easel/pkg/domain"
	"github.com/aretw0/easel/pkg/lock"
	"github.com/aretw0/easel/pkg/patch"
	"github.com/aretw0/easel/pkg/sandbox"
	"github.com/aretw0/easel/pkg/sandbox/jsvm"
	"github.com/aretw0/easel/pkg/templates"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const addNode = `const id = generateId();
nodes.push({id: id, type: "Text", templateId: "text", position: {x: 0, y: 0}, config: {text: "a cat"}});
return {nodes: nodes, edges: edges, handles: handles};`

func setup(t *testing.T) (*Server, *lock.Manager, string) {
	t.Helper()
	locks := lock.NewManager()
	sessions := memory.NewSessionStore()
	svc := canvas.NewService(memory.NewGraphStore(), templates.MustBuiltin(), nil, canvas.WithLocks(locks, true))
	patches := patch.NewManager(memory.NewPatchStore(), sessions, svc, locks)
	orch := agent.New(svc, patches, locks, sessions, sandbox.NewExecutor(jsvm.New()), nil)

	c, err := svc.Create(context.Background(), "Board", "")
	require.NoError(t, err)
	return NewServer(svc, patches, orch, "test"), locks, c.ID
}

func TestServer_Tools(t *testing.T) {
	s, locks, canvasID := setup(t)
	ctx := context.Background()
	req := mcp.CallToolRequest{}

	g, err := s.handleGetCanvas(ctx, req, CanvasArgs{CanvasID: canvasID})
	require.NoError(t, err)
	assert.Equal(t, "Board", g.Canvas.Name)
	assert.Empty(t, g.Nodes)

	_, err = s.handleGetCanvas(ctx, req, CanvasArgs{CanvasID: "missing"})
	assert.ErrorIs(t, err, domain.ErrCanvasNotFound)

	tpls, err := s.handleListTemplates(ctx, req, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, tpls.Templates)

	plan, err := s.handleDryRun(ctx, req, ProgramArgs{CanvasID: canvasID, Program: addNode})
	require.NoError(t, err)
	assert.Equal(t, 1, plan.Summary.Nodes.Created)
	assert.False(t, plan.Applied)
	_, held := locks.Holder(canvasID)
	assert.False(t, held, "dry runs do not lock")

	_, err = s.handleDryRun(ctx, req, ProgramArgs{CanvasID: canvasID, Program: `return {nodes: "x", edges: [], handles: []};`})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "program rejected")
	assert.Contains(t, err.Error(), "nodes")

	proposed, err := s.handlePropose(ctx, req, ProgramArgs{CanvasID: canvasID, Program: addNode})
	require.NoError(t, err)
	assert.Equal(t, domain.PatchProposed, proposed.Patch.State)
	assert.Equal(t, DefaultSessionID, proposed.Patch.SessionID)
	holder, _ := locks.Holder(canvasID)
	assert.Equal(t, DefaultSessionID, holder)

	_, err = s.handlePropose(ctx, req, ProgramArgs{CanvasID: canvasID, SessionID: "other", Program: addNode})
	assert.ErrorIs(t, err, domain.ErrCanvasLocked)

	got, err := s.handleGetPatch(ctx, req, PatchArgs{PatchID: proposed.Patch.ID})
	require.NoError(t, err)
	assert.Equal(t, proposed.Patch.ID, got.Patch.ID)
	require.NotNil(t, got.Summary)
	assert.Equal(t, 1, got.Summary.Nodes.Created)

	_, err = s.handleGetPatch(ctx, req, PatchArgs{})
	assert.Error(t, err)
}
