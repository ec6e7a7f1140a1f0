package sqlite_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/aretw0/easel/pkg/adapters/sqlite"
	"github.com/aretw0/easel/pkg/domain"
	"github.com/aretw0/easel/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openMemory(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestGraphStore(t *testing.T) {
	ports.RunGraphStoreContract(t, openMemory(t))
}

func TestPatchStore(t *testing.T) {
	ports.RunPatchStoreContract(t, openMemory(t))
}

func TestSessionStore(t *testing.T) {
	ports.RunSessionStoreContract(t, openMemory(t))
}

func TestStore_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "easel.db")

	store, err := sqlite.Open(path)
	require.NoError(t, err)
	require.NoError(t, store.CreateCanvas(ctx, domain.Canvas{ID: "c1", Name: "Persisted"}))
	require.NoError(t, store.Apply(ctx, &domain.ChangeSet{
		CanvasID: "c1",
		CreateNodes: []domain.Node{{
			ID: "n1", Type: domain.NodeTypeText, TemplateID: "text",
			Config: &domain.TextConfig{Text: "kept"},
		}},
		CreateHandles: []domain.Handle{{ID: "h1", NodeID: "n1", Type: domain.DirectionOutput, DataTypes: []domain.DataType{domain.DataTypeText}}},
	}))
	require.NoError(t, store.Close())

	reopened, err := sqlite.Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	g, err := reopened.LoadGraph(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "Persisted", g.Canvas.Name)
	require.Len(t, g.Nodes, 1)
	assert.Equal(t, "kept", g.Nodes[0].Config.(*domain.TextConfig).Text)
	require.Len(t, g.Handles, 1)
	assert.Equal(t, []domain.DataType{domain.DataTypeText}, g.Handles[0].DataTypes)
}

func TestStore_ApplyIsAtomic(t *testing.T) {
	ctx := context.Background()
	store := openMemory(t)
	require.NoError(t, store.CreateCanvas(ctx, domain.Canvas{ID: "c1", Name: "Atomic"}))

	// The edge points at a handle that does not exist, so the node insert
	// before it must be rolled back too.
	err := store.Apply(ctx, &domain.ChangeSet{
		CanvasID:    "c1",
		CreateNodes: []domain.Node{{ID: "n1", Type: domain.NodeTypeText, TemplateID: "text"}},
		CreateEdges: []domain.Edge{{ID: "e1", SourceNodeID: "n1", SourceHandleID: "ghost", TargetNodeID: "n1", TargetHandleID: "ghost2"}},
	})
	var txErr *domain.TransactionError
	require.True(t, errors.As(err, &txErr), "got %v", err)
	assert.Equal(t, "c1", txErr.CanvasID)

	g, err := store.LoadGraph(ctx, "c1")
	require.NoError(t, err)
	assert.Empty(t, g.Nodes)

	t.Run("Update Of Missing Node", func(t *testing.T) {
		err := store.Apply(ctx, &domain.ChangeSet{
			CanvasID:    "c1",
			UpdateNodes: []domain.Node{{ID: "nope", Type: domain.NodeTypeText, TemplateID: "text"}},
		})
		assert.True(t, errors.As(err, &txErr))
	})

	t.Run("Missing Canvas", func(t *testing.T) {
		err := store.Apply(ctx, &domain.ChangeSet{CanvasID: "missing"})
		assert.ErrorIs(t, err, domain.ErrCanvasNotFound)
	})
}

func TestStore_LoadGraphSeesOneSnapshot(t *testing.T) {
	ctx := context.Background()
	store := openMemory(t)
	require.NoError(t, store.CreateCanvas(ctx, domain.Canvas{ID: "c1", Name: "Snapshot"}))

	const writes = 40
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < writes; i++ {
			node := fmt.Sprintf("n%d", i)
			err := store.Apply(ctx, &domain.ChangeSet{
				CanvasID:      "c1",
				CreateNodes:   []domain.Node{{ID: node, Type: domain.NodeTypeText, TemplateID: "text"}},
				CreateHandles: []domain.Handle{{ID: "h-" + node, NodeID: node, Type: domain.DirectionOutput, DataTypes: []domain.DataType{domain.DataTypeText}}},
			})
			assert.NoError(t, err)
		}
	}()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	for {
		g, err := store.LoadGraph(ctx, "c1")
		require.NoError(t, err)
		require.Len(t, g.Handles, len(g.Nodes), "nodes and handles come from the same write")
		select {
		case <-done:
			g, err := store.LoadGraph(ctx, "c1")
			require.NoError(t, err)
			assert.Len(t, g.Nodes, writes)
			return
		default:
		}
	}
}
