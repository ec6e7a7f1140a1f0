package easel_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/aretw0/easel"
	"github.com/aretw0/easel/pkg/adapters/sqlite"
	"github.com/aretw0/easel/pkg/agent"
	"github.com/aretw0/easel/pkg/domain"
	"github.com/aretw0/easel/pkg/observability"
	"github.com/aretw0/easel/pkg/sandbox/luavm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const addText = `nodes.push({id: generateId(), type: "Text", templateId: "text", position: {x: 0, y: 0}, config: {text: "a cat"}});
return {nodes: nodes, edges: edges, handles: handles};`

func TestFacade_Integration(t *testing.T) {
	app, err := easel.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close() })

	ctx := context.Background()
	c, err := app.Canvases.Create(ctx, "Board", "")
	require.NoError(t, err)

	p, err := app.Agent.Submit(ctx, c.ID, "s1", addText)
	require.NoError(t, err)
	assert.Equal(t, domain.PatchProposed, p.State)
	holder, held := app.Locks.Holder(c.ID)
	assert.True(t, held)
	assert.Equal(t, "s1", holder)

	accepted, res, err := app.Patches.Accept(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PatchAccepted, accepted.State)
	assert.Len(t, res.Graph.Nodes, 1)

	_, held = app.Locks.Holder(c.ID)
	assert.False(t, held, "accepting releases the canvas")
}

func TestFacade_Options(t *testing.T) {
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "easel.db"))
	require.NoError(t, err)

	app, err := easel.New(
		easel.WithStores(store, store, store),
		easel.WithBackend(luavm.New()),
		easel.WithMetrics(observability.NewMetrics()),
		easel.WithGenerator(agent.NewScriptedGenerator("Nothing to change.")),
		easel.WithGuardDirectEdits(false),
		easel.WithPatchTTL(time.Hour),
	)
	require.NoError(t, err)
	assert.Equal(t, luavm.Name, app.Executor.Language())

	ctx := context.Background()
	c, err := app.Canvases.Create(ctx, "Board", "")
	require.NoError(t, err)

	res, err := app.Agent.Turn(ctx, agent.TurnRequest{CanvasID: c.ID, SessionID: "s1", Message: "hi"}, nil)
	require.NoError(t, err)
	assert.Nil(t, res.Patch)

	require.NoError(t, app.Close())
}

func TestFacade_Handler(t *testing.T) {
	app, err := easel.New(easel.WithMetrics(observability.NewMetrics()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close() })

	srv := httptest.NewServer(app.Handler("1.2.3"))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	metrics, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer metrics.Body.Close()
	assert.Equal(t, http.StatusOK, metrics.StatusCode)
}

func TestFacade_Serve(t *testing.T) {
	app, err := easel.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- app.Serve(ctx, easel.ServeConfig{Addr: "127.0.0.1:0", SweepInterval: 10 * time.Millisecond})
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not stop after cancel")
	}
}

func TestVersion(t *testing.T) {
	assert.NotEmpty(t, easel.Version)
}
