package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiff(t *testing.T) {
	old := &Graph{
		Nodes: []Node{
			{ID: "n1", Type: NodeTypeText, TemplateID: "text", Config: &TextConfig{Text: "a"}},
			{ID: "n2", Type: NodeTypeLLM, TemplateID: "llm"},
		},
	}
	name := "renamed"

	tests := []struct {
		name      string
		cs        *ChangeSet
		wantEmpty bool
		check     func(t *testing.T, d *GraphDiff)
	}{
		{
			name:      "Empty Change Set",
			cs:        &ChangeSet{},
			wantEmpty: true,
		},
		{
			name:      "Rename Only",
			cs:        &ChangeSet{Rename: &name},
			wantEmpty: false,
			check: func(t *testing.T, d *GraphDiff) {
				assert.Equal(t, "renamed", *d.Rename)
				assert.Empty(t, d.NodeChanges)
			},
		},
		{
			name: "Update Reports Changed Fields",
			cs: &ChangeSet{
				UpdateNodes: []Node{
					{ID: "n1", Type: NodeTypeText, TemplateID: "text", Position: Position{X: 10}, Config: &TextConfig{Text: "b"}},
				},
			},
			check: func(t *testing.T, d *GraphDiff) {
				require.Len(t, d.NodeChanges, 1)
				assert.Equal(t, OpUpdate, d.NodeChanges[0].Op)
				assert.Equal(t, []string{"position", "config"}, d.NodeChanges[0].Fields)
				assert.Equal(t, 1, d.Nodes.Updated)
			},
		},
		{
			name: "Create And Delete",
			cs: &ChangeSet{
				CreateNodes:   []Node{{ID: "n3", Type: NodeTypeExport}},
				DeleteNodes:   []string{"n2"},
				DeleteHandles: []string{"h1", "h2"},
			},
			check: func(t *testing.T, d *GraphDiff) {
				require.Len(t, d.NodeChanges, 2)
				assert.Equal(t, NodeChange{NodeID: "n3", Op: OpCreate, Type: NodeTypeExport}, d.NodeChanges[0])
				assert.Equal(t, NodeChange{NodeID: "n2", Op: OpDelete, Type: NodeTypeLLM}, d.NodeChanges[1])
				assert.Equal(t, 2, d.Handles.Deleted)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Diff(old, tt.cs)
			require.NotNil(t, d)
			assert.Equal(t, tt.wantEmpty, d.IsEmpty())
			if tt.check != nil {
				tt.check(t, d)
			}
		})
	}
}

func TestDiff_JSONShape(t *testing.T) {
	d := Diff(nil, &ChangeSet{CreateEdges: []Edge{{ID: "e1"}}})
	data, err := json.Marshal(d)
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))
	assert.NotContains(t, m, "rename")
	assert.NotContains(t, m, "nodeChanges")
	assert.Equal(t, float64(1), m["edges"].(map[string]any)["created"])
}
