package ports

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aretw0/easel/pkg/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunGraphStoreContract runs a suite of tests to verify that a GraphStore implementation
// adheres to the defined interface contract.
func RunGraphStoreContract(t *testing.T, store GraphStore) {
	ctx := context.Background()

	newCanvas := func(t *testing.T) domain.Canvas {
		t.Helper()
		c := domain.Canvas{
			ID:        "contract-" + uuid.NewString(),
			Name:      "Contract",
			OwnerID:   "owner-1",
			CreatedAt: time.Now().UTC().Truncate(time.Millisecond),
		}
		c.UpdatedAt = c.CreatedAt
		require.NoError(t, store.CreateCanvas(ctx, c))
		return c
	}

	textNode := func(canvasID, id string) domain.Node {
		return domain.Node{
			ID:         id,
			CanvasID:   canvasID,
			Type:       domain.NodeTypeText,
			TemplateID: "text",
			Position:   domain.Position{X: 1, Y: 2},
			Config:     &domain.TextConfig{Text: "hello"},
		}
	}
	handle := func(id, nodeID string, dir domain.Direction) domain.Handle {
		return domain.Handle{ID: id, NodeID: nodeID, Type: dir, DataTypes: []domain.DataType{domain.DataTypeText}, Label: string(dir)}
	}

	t.Run("Create and Get Canvas", func(t *testing.T) {
		c := newCanvas(t)

		loaded, err := store.GetCanvas(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, c.Name, loaded.Name)
		assert.Equal(t, c.OwnerID, loaded.OwnerID)

		all, err := store.ListCanvases(ctx)
		require.NoError(t, err)
		var ids []string
		for _, item := range all {
			ids = append(ids, item.ID)
		}
		assert.Contains(t, ids, c.ID)
	})

	t.Run("Get Non-Existent", func(t *testing.T) {
		_, err := store.GetCanvas(ctx, "missing-"+uuid.NewString())
		assert.ErrorIs(t, err, domain.ErrCanvasNotFound)

		_, err = store.LoadGraph(ctx, "missing-"+uuid.NewString())
		assert.ErrorIs(t, err, domain.ErrCanvasNotFound)
	})

	t.Run("Apply Creates Entities", func(t *testing.T) {
		c := newCanvas(t)
		cs := &domain.ChangeSet{
			CanvasID:      c.ID,
			CreateNodes:   []domain.Node{textNode(c.ID, "n1"), textNode(c.ID, "n2")},
			CreateHandles: []domain.Handle{handle("h1", "n1", domain.DirectionOutput), handle("h2", "n2", domain.DirectionInput)},
			CreateEdges:   []domain.Edge{{ID: "e1", SourceNodeID: "n1", SourceHandleID: "h1", TargetNodeID: "n2", TargetHandleID: "h2"}},
		}
		require.NoError(t, store.Apply(ctx, cs))

		g, err := store.LoadGraph(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, c.ID, g.Canvas.ID)
		require.Len(t, g.Nodes, 2)
		require.Len(t, g.Handles, 2)
		require.Len(t, g.Edges, 1)

		var n1 domain.Node
		for _, n := range g.Nodes {
			if n.ID == "n1" {
				n1 = n
			}
		}
		assert.Equal(t, domain.Position{X: 1, Y: 2}, n1.Position)
		cfg, ok := n1.Config.(*domain.TextConfig)
		require.True(t, ok, "config should decode to the typed variant")
		assert.Equal(t, "hello", cfg.Text)
		assert.Equal(t, "e1", g.Edges[0].ID)
	})

	t.Run("Apply Updates And Renames", func(t *testing.T) {
		c := newCanvas(t)
		require.NoError(t, store.Apply(ctx, &domain.ChangeSet{
			CanvasID:    c.ID,
			CreateNodes: []domain.Node{textNode(c.ID, "n1")},
		}))

		updated := textNode(c.ID, "n1")
		updated.Position = domain.Position{X: 50, Y: 60}
		updated.Config = &domain.TextConfig{Text: "changed"}
		updated.IsDirty = true
		name := "Renamed"
		require.NoError(t, store.Apply(ctx, &domain.ChangeSet{
			CanvasID:    c.ID,
			Rename:      &name,
			UpdateNodes: []domain.Node{updated},
		}))

		g, err := store.LoadGraph(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, "Renamed", g.Canvas.Name)
		require.Len(t, g.Nodes, 1)
		assert.Equal(t, domain.Position{X: 50, Y: 60}, g.Nodes[0].Position)
		assert.Equal(t, "changed", g.Nodes[0].Config.(*domain.TextConfig).Text)
		assert.True(t, g.Nodes[0].IsDirty)
	})

	t.Run("Apply Deletes In Dependency Order", func(t *testing.T) {
		c := newCanvas(t)
		require.NoError(t, store.Apply(ctx, &domain.ChangeSet{
			CanvasID:      c.ID,
			CreateNodes:   []domain.Node{textNode(c.ID, "n1"), textNode(c.ID, "n2")},
			CreateHandles: []domain.Handle{handle("h1", "n1", domain.DirectionOutput), handle("h2", "n2", domain.DirectionInput)},
			CreateEdges:   []domain.Edge{{ID: "e1", SourceNodeID: "n1", SourceHandleID: "h1", TargetNodeID: "n2", TargetHandleID: "h2"}},
		}))

		require.NoError(t, store.Apply(ctx, &domain.ChangeSet{
			CanvasID:      c.ID,
			DeleteEdges:   []string{"e1"},
			DeleteHandles: []string{"h2"},
			DeleteNodes:   []string{"n2"},
		}))

		g, err := store.LoadGraph(ctx, c.ID)
		require.NoError(t, err)
		assert.Len(t, g.Nodes, 1)
		assert.Len(t, g.Handles, 1)
		assert.Empty(t, g.Edges)
	})

	t.Run("Duplicate Target Rolls Back", func(t *testing.T) {
		c := newCanvas(t)
		require.NoError(t, store.Apply(ctx, &domain.ChangeSet{
			CanvasID:      c.ID,
			CreateNodes:   []domain.Node{textNode(c.ID, "n1"), textNode(c.ID, "n2")},
			CreateHandles: []domain.Handle{handle("h1", "n1", domain.DirectionOutput), handle("h2", "n2", domain.DirectionInput)},
		}))

		err := store.Apply(ctx, &domain.ChangeSet{
			CanvasID:    c.ID,
			CreateNodes: []domain.Node{textNode(c.ID, "n3")},
			CreateEdges: []domain.Edge{
				{ID: "e1", SourceNodeID: "n1", SourceHandleID: "h1", TargetNodeID: "n2", TargetHandleID: "h2"},
				{ID: "e2", SourceNodeID: "n1", SourceHandleID: "h1", TargetNodeID: "n2", TargetHandleID: "h2"},
			},
		})
		var txErr *domain.TransactionError
		require.True(t, errors.As(err, &txErr), "expected TransactionError, got %v", err)

		g, err := store.LoadGraph(ctx, c.ID)
		require.NoError(t, err)
		assert.Len(t, g.Nodes, 2, "node create must be rolled back")
		assert.Empty(t, g.Edges)
	})

	t.Run("Dangling Handle Rolls Back", func(t *testing.T) {
		c := newCanvas(t)
		err := store.Apply(ctx, &domain.ChangeSet{
			CanvasID:      c.ID,
			CreateNodes:   []domain.Node{textNode(c.ID, "n1")},
			CreateHandles: []domain.Handle{handle("h1", "ghost", domain.DirectionOutput)},
		})
		var txErr *domain.TransactionError
		require.True(t, errors.As(err, &txErr), "expected TransactionError, got %v", err)

		g, err := store.LoadGraph(ctx, c.ID)
		require.NoError(t, err)
		assert.Empty(t, g.Nodes)
	})

	t.Run("Apply On Missing Canvas", func(t *testing.T) {
		err := store.Apply(ctx, &domain.ChangeSet{CanvasID: "missing-" + uuid.NewString()})
		assert.ErrorIs(t, err, domain.ErrCanvasNotFound)
	})

	t.Run("Delete Canvas Cascades", func(t *testing.T) {
		c := newCanvas(t)
		require.NoError(t, store.Apply(ctx, &domain.ChangeSet{
			CanvasID:      c.ID,
			CreateNodes:   []domain.Node{textNode(c.ID, "n1")},
			CreateHandles: []domain.Handle{handle("h1", "n1", domain.DirectionOutput)},
		}))

		require.NoError(t, store.DeleteCanvas(ctx, c.ID))
		_, err := store.LoadGraph(ctx, c.ID)
		assert.ErrorIs(t, err, domain.ErrCanvasNotFound)
		assert.ErrorIs(t, store.DeleteCanvas(ctx, c.ID), domain.ErrCanvasNotFound)
	})
}

// RunPatchStoreContract verifies a PatchStore implementation.
func RunPatchStoreContract(t *testing.T, store PatchStore) {
	ctx := context.Background()
	canvasID := "contract-canvas-" + uuid.NewString()

	newPatch := func(sessionID string, state domain.PatchState, at time.Time) *domain.Patch {
		return &domain.Patch{
			ID:        uuid.NewString(),
			CanvasID:  canvasID,
			SessionID: sessionID,
			State:     state,
			Payload: domain.GraphPayload{
				Nodes:   []domain.Node{{ID: "temp-1", Type: domain.NodeTypeText, TemplateID: "text", Config: &domain.TextConfig{Text: "x"}}},
				Edges:   []domain.Edge{},
				Handles: []domain.Handle{},
			},
			IDRemap:   map[string]string{"temp-1": "n-1"},
			CreatedAt: at,
		}
	}

	t.Run("Save and Get", func(t *testing.T) {
		p := newPatch("s1", domain.PatchProposed, time.Now().UTC())
		require.NoError(t, store.SavePatch(ctx, p))

		loaded, err := store.GetPatch(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.PatchProposed, loaded.State)
		assert.Equal(t, "n-1", loaded.IDRemap["temp-1"])
		require.Len(t, loaded.Payload.Nodes, 1)
		assert.Equal(t, "x", loaded.Payload.Nodes[0].Config.(*domain.TextConfig).Text)
		assert.NotNil(t, loaded.Payload.Edges, "empty kinds must survive persistence")
	})

	t.Run("Get Non-Existent", func(t *testing.T) {
		_, err := store.GetPatch(ctx, "missing-"+uuid.NewString())
		assert.ErrorIs(t, err, domain.ErrPatchNotFound)
	})

	t.Run("Update State", func(t *testing.T) {
		p := newPatch("s1", domain.PatchProposed, time.Now().UTC())
		require.NoError(t, store.SavePatch(ctx, p))

		resolved := time.Now().UTC()
		p.State = domain.PatchRejected
		p.ResolvedAt = &resolved
		require.NoError(t, store.SavePatch(ctx, p))

		loaded, err := store.GetPatch(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.PatchRejected, loaded.State)
		require.NotNil(t, loaded.ResolvedAt)
	})

	t.Run("List With Filter", func(t *testing.T) {
		base := time.Now().UTC()
		sessionID := "list-" + uuid.NewString()
		first := newPatch(sessionID, domain.PatchExpired, base)
		second := newPatch(sessionID, domain.PatchPreviewing, base.Add(time.Second))
		require.NoError(t, store.SavePatch(ctx, second))
		require.NoError(t, store.SavePatch(ctx, first))

		all, err := store.ListPatches(ctx, PatchFilter{SessionID: sessionID})
		require.NoError(t, err)
		require.Len(t, all, 2)
		assert.Equal(t, first.ID, all[0].ID, "ordered by creation time")

		open, err := store.ListPatches(ctx, PatchFilter{
			SessionID: sessionID,
			States:    []domain.PatchState{domain.PatchProposed, domain.PatchPreviewing},
		})
		require.NoError(t, err)
		require.Len(t, open, 1)
		assert.Equal(t, second.ID, open[0].ID)
	})
}

// RunSessionStoreContract verifies a SessionStore implementation.
func RunSessionStoreContract(t *testing.T, store SessionStore) {
	ctx := context.Background()

	t.Run("Ensure Is Lazy And Idempotent", func(t *testing.T) {
		id := "session-" + uuid.NewString()
		_, err := store.GetSession(ctx, id)
		assert.ErrorIs(t, err, domain.ErrSessionNotFound)

		s, err := store.EnsureSession(ctx, id, "canvas-1")
		require.NoError(t, err)
		assert.Equal(t, "canvas-1", s.CanvasID)
		assert.Empty(t, s.Events)

		again, err := store.EnsureSession(ctx, id, "canvas-1")
		require.NoError(t, err)
		assert.Equal(t, s.ID, again.ID)
	})

	t.Run("Append Assigns Sequence", func(t *testing.T) {
		id := "session-" + uuid.NewString()
		_, err := store.EnsureSession(ctx, id, "canvas-1")
		require.NoError(t, err)

		ev1, err := store.AppendEvent(ctx, id, domain.SessionEvent{Type: domain.EventMessage, Role: domain.RoleUser, Content: "hi"})
		require.NoError(t, err)
		ev2, err := store.AppendEvent(ctx, id, domain.SessionEvent{Type: domain.EventPatchProposed, PatchID: "p1"})
		require.NoError(t, err)
		assert.Less(t, ev1.Seq, ev2.Seq)
		assert.False(t, ev1.Timestamp.IsZero())

		s, err := store.GetSession(ctx, id)
		require.NoError(t, err)
		require.Len(t, s.Events, 2)
		assert.Equal(t, "hi", s.Events[0].Content)
		assert.Equal(t, "p1", s.Events[1].PatchID)
	})

	t.Run("Append To Missing Session", func(t *testing.T) {
		_, err := store.AppendEvent(ctx, "missing-"+uuid.NewString(), domain.SessionEvent{Type: domain.EventMessage})
		assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	})
}
