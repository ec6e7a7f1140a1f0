package patch_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/aretw0/easel/pkg/adapters/memory"
	"github.com/aretw0/easel/pkg/canvas"
	"github.com/aretw0/easel/pkg/domain"
	"github.com/aretw0/easel/pkg/lock"
	"github.com/aretw0/easel/pkg/patch"
	"github.com/aretw0/easel/pkg/templates"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	canvases *canvas.Service
	locks    *lock.Manager
	sessions *memory.SessionStore
	patches  *patch.Manager
	canvasID string
	clock    *time.Time
}

func setup(t *testing.T, opts ...patch.Option) *fixture {
	t.Helper()
	locks := lock.NewManager()
	svc := canvas.NewService(memory.NewGraphStore(), templates.MustBuiltin(), nil, canvas.WithLocks(locks, true))
	c, err := svc.Create(context.Background(), "Board", "")
	require.NoError(t, err)

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	n := 0
	sessions := memory.NewSessionStore()
	opts = append([]patch.Option{
		patch.WithClock(func() time.Time { return now }),
		patch.WithIDGenerator(func() string {
			n++
			return fmt.Sprintf("patch-%d", n)
		}),
	}, opts...)
	return &fixture{
		canvases: svc,
		locks:    locks,
		sessions: sessions,
		patches:  patch.NewManager(memory.NewPatchStore(), sessions, svc, locks, opts...),
		canvasID: c.ID,
		clock:    &now,
	}
}

func textPayload(text string) domain.GraphPayload {
	return domain.GraphPayload{
		Nodes: []domain.Node{{
			ID: "temp-1", Type: domain.NodeTypeText, TemplateID: "text",
			Config: &domain.TextConfig{Text: text},
		}},
		Edges:   []domain.Edge{},
		Handles: []domain.Handle{},
	}
}

func (f *fixture) propose(t *testing.T, session, text string) *domain.Patch {
	t.Helper()
	p, err := f.patches.Propose(context.Background(), patch.ProposeRequest{
		CanvasID: f.canvasID, SessionID: session, Payload: textPayload(text),
	})
	require.NoError(t, err)
	return p
}

func TestManager_ProposeAccept(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	p := f.propose(t, "session-a", "hello")
	assert.Equal(t, domain.PatchProposed, p.State)
	assert.Equal(t, 1, p.Summary.Nodes.Created)
	holder, locked := f.locks.Holder(f.canvasID)
	require.True(t, locked)
	assert.Equal(t, "session-a", holder)

	g, err := f.canvases.Get(ctx, f.canvasID)
	require.NoError(t, err)
	assert.Empty(t, g.Nodes, "a proposal never writes")

	accepted, res, err := f.patches.Accept(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PatchAccepted, accepted.State)
	require.NotNil(t, accepted.ResolvedAt)
	require.Len(t, res.Graph.Nodes, 1)
	assert.Equal(t, res.Graph.Nodes[0].ID, accepted.IDRemap["temp-1"])
	assert.Equal(t, "hello", res.Graph.Nodes[0].Config.(*domain.TextConfig).Text)

	_, locked = f.locks.Holder(f.canvasID)
	assert.False(t, locked, "accept releases the lock")

	_, _, err = f.patches.Accept(ctx, p.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	sess, err := f.sessions.GetSession(ctx, "session-a")
	require.NoError(t, err)
	require.Len(t, sess.Events, 2)
	assert.Equal(t, domain.EventPatchProposed, sess.Events[0].Type)
	assert.Equal(t, domain.EventPatchAction, sess.Events[1].Type)
	assert.Equal(t, domain.PatchAccepted, sess.Events[1].Action)

	stored, err := f.patches.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Len(t, stored.Payload.Nodes, 1, "payload is retained for history")
}

func TestManager_Reject(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	p := f.propose(t, "session-a", "hello")
	rejected, err := f.patches.Reject(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PatchRejected, rejected.State)

	g, err := f.canvases.Get(ctx, f.canvasID)
	require.NoError(t, err)
	assert.Empty(t, g.Nodes)

	_, locked := f.locks.Holder(f.canvasID)
	assert.False(t, locked)

	_, err = f.patches.Reject(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrPatchNotFound)
}

func TestManager_LockExclusivity(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	p := f.propose(t, "session-a", "first")
	_, err := f.patches.Preview(ctx, p.ID)
	require.NoError(t, err)

	_, err = f.patches.Propose(ctx, patch.ProposeRequest{CanvasID: f.canvasID, SessionID: "session-b", Payload: textPayload("x")})
	var conflict *domain.LockConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, "session-a", conflict.HolderID)

	_, err = f.patches.Reject(ctx, p.ID)
	require.NoError(t, err)

	f.propose(t, "session-b", "second")
}

func TestManager_Supersede(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	first := f.propose(t, "session-a", "one")
	second := f.propose(t, "session-a", "two")

	old, err := f.patches.Get(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PatchExpired, old.State)

	open, err := f.patches.Open(ctx, f.canvasID)
	require.NoError(t, err)
	require.NotNil(t, open)
	assert.Equal(t, second.ID, open.ID)

	holder, locked := f.locks.Holder(f.canvasID)
	assert.True(t, locked, "superseding keeps the session's lock")
	assert.Equal(t, "session-a", holder)

	all, err := f.patches.ListBySession(ctx, "session-a")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, first.ID, all[0].ID)

	// Another session can neither take the lock nor expire the open patch.
	assert.ErrorIs(t, f.locks.Acquire(ctx, f.canvasID, "session-b"), domain.ErrCanvasLocked)
	_, err = f.patches.Propose(ctx, patch.ProposeRequest{CanvasID: f.canvasID, SessionID: "session-b", Payload: textPayload("three")})
	assert.ErrorIs(t, err, domain.ErrCanvasLocked)

	open, err = f.patches.Open(ctx, f.canvasID)
	require.NoError(t, err)
	require.NotNil(t, open)
	assert.Equal(t, second.ID, open.ID)
	assert.Equal(t, domain.PatchProposed, open.State)
}

func TestManager_ProposeCanceled(t *testing.T) {
	f := setup(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	for i := 0; i < 50; i++ {
		_, err := f.patches.Propose(ctx, patch.ProposeRequest{CanvasID: f.canvasID, SessionID: "session-a", Payload: textPayload("late")})
		require.ErrorIs(t, err, context.Canceled)
	}

	open, err := f.patches.Open(context.Background(), f.canvasID)
	require.NoError(t, err)
	assert.Nil(t, open)
	_, locked := f.locks.Holder(f.canvasID)
	assert.False(t, locked)
}

func TestManager_Preview(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	p := f.propose(t, "session-a", "hello")
	_, _, err := f.patches.Accept(ctx, p.ID)
	require.NoError(t, err)

	g, err := f.canvases.Get(ctx, f.canvasID)
	require.NoError(t, err)
	payload := g.Payload()
	payload.Nodes[0].Config = &domain.TextConfig{Text: "goodbye"}

	next, err := f.patches.Propose(ctx, patch.ProposeRequest{CanvasID: f.canvasID, SessionID: "session-a", Payload: payload})
	require.NoError(t, err)

	preview, err := f.patches.Preview(ctx, next.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PatchPreviewing, preview.Patch.State)
	assert.Equal(t, 1, preview.Summary.Nodes.Updated)
	require.Len(t, preview.Configs, 1)

	var added, removed []string
	for _, l := range preview.Configs[0].Lines {
		switch l.Type {
		case patch.LineAdded:
			added = append(added, l.Text)
		case patch.LineRemoved:
			removed = append(removed, l.Text)
		}
	}
	assert.Equal(t, []string{`  "text": "goodbye"`}, added)
	assert.Equal(t, []string{`  "text": "hello"`}, removed)

	t.Run("Preview Again Keeps State", func(t *testing.T) {
		again, err := f.patches.Preview(ctx, next.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.PatchPreviewing, again.Patch.State)
	})

	t.Run("Resolved Patch Renders From History", func(t *testing.T) {
		_, err := f.patches.Reject(ctx, next.ID)
		require.NoError(t, err)
		hist, err := f.patches.Preview(ctx, next.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.PatchRejected, hist.Patch.State)
		assert.Nil(t, hist.Graph)
		assert.Equal(t, 1, hist.Summary.Nodes.Updated)
	})
}

func TestManager_ExpireSession(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	p := f.propose(t, "session-a", "hello")
	n, err := f.patches.ExpireSession(ctx, f.canvasID, "session-a")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	stored, err := f.patches.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PatchExpired, stored.State)

	_, locked := f.locks.Holder(f.canvasID)
	assert.False(t, locked)

	t.Run("Lock Without Patch", func(t *testing.T) {
		require.NoError(t, f.locks.Acquire(ctx, f.canvasID, "session-b"))
		n, err := f.patches.ExpireSession(ctx, f.canvasID, "session-b")
		require.NoError(t, err)
		assert.Zero(t, n)
		_, locked := f.locks.Holder(f.canvasID)
		assert.False(t, locked)
	})
}

func TestManager_Sweep(t *testing.T) {
	f := setup(t, patch.WithTTL(time.Minute))
	ctx := context.Background()

	p := f.propose(t, "session-a", "hello")

	n, err := f.patches.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "fresh patches survive")

	*f.clock = f.clock.Add(2 * time.Minute)
	n, err = f.patches.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	stored, err := f.patches.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PatchExpired, stored.State)
	_, locked := f.locks.Holder(f.canvasID)
	assert.False(t, locked)
}

func TestManager_AcceptFailureKeepsState(t *testing.T) {
	ctx := context.Background()
	locks := lock.NewManager()
	graphs := memory.NewGraphStore()
	svc := canvas.NewService(graphs, templates.MustBuiltin(), nil, canvas.WithLocks(locks, false))
	c, err := svc.Create(ctx, "Board", "")
	require.NoError(t, err)
	m := patch.NewManager(memory.NewPatchStore(), memory.NewSessionStore(), svc, locks)

	p, err := m.Propose(ctx, patch.ProposeRequest{CanvasID: c.ID, SessionID: "session-a", Payload: textPayload("x")})
	require.NoError(t, err)

	// With the direct-edit guard off the canvas can vanish under the patch.
	require.NoError(t, graphs.DeleteCanvas(ctx, c.ID))

	_, _, err = m.Accept(ctx, p.ID)
	assert.ErrorIs(t, err, domain.ErrCanvasNotFound)

	stored, err := m.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PatchProposed, stored.State)
	holder, _ := locks.Holder(c.ID)
	assert.Equal(t, "session-a", holder, "a failed commit keeps the lock")
}
