package schema

import (
	"errors"
	"testing"

	"github.com/aretw0/easel/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validNode(id string) map[string]any {
	return map[string]any{
		"id":         id,
		"type":       "Text",
		"templateId": "text",
		"position":   map[string]any{"x": 0.0, "y": 10.0},
		"config":     map[string]any{"text": "hello"},
	}
}

func fields(t *testing.T, err error) []string {
	t.Helper()
	var errs domain.ValidationErrors
	require.True(t, errors.As(err, &errs), "expected ValidationErrors, got %v", err)
	var out []string
	for _, e := range errs {
		out = append(out, e.Field)
	}
	return out
}

func TestParsePayload_Valid(t *testing.T) {
	raw := map[string]any{
		"nodes": []any{validNode("temp-1")},
		"handles": []any{map[string]any{
			"id": "temp-h1", "type": "Output", "nodeId": "temp-1", "dataTypes": []any{"Text"},
		}},
		"edges": []any{},
	}

	p, err := ParsePayload(raw, Options{RequireAll: true})
	require.NoError(t, err)
	require.Len(t, p.Nodes, 1)
	assert.Equal(t, domain.NodeTypeText, p.Nodes[0].Type)
	assert.Equal(t, 10.0, p.Nodes[0].Position.Y)
	assert.Equal(t, "hello", p.Nodes[0].Config.(*domain.TextConfig).Text)
	require.Len(t, p.Handles, 1)
	assert.Equal(t, []domain.DataType{domain.DataTypeText}, p.Handles[0].DataTypes)
	assert.NotNil(t, p.Edges)
	assert.Empty(t, p.Edges)
}

func TestParsePayload_Shape(t *testing.T) {
	t.Run("Not An Array", func(t *testing.T) {
		_, err := ParsePayload(map[string]any{
			"nodes": "not-an-array", "edges": []any{}, "handles": []any{},
		}, Options{RequireAll: true})
		assert.Equal(t, []string{"nodes"}, fields(t, err))
		assert.Contains(t, err.Error(), "must be an array")
	})

	t.Run("Missing Kind When Required", func(t *testing.T) {
		_, err := ParsePayload(map[string]any{"nodes": []any{}, "edges": []any{}}, Options{RequireAll: true})
		assert.Equal(t, []string{"handles"}, fields(t, err))
	})

	t.Run("Missing Kind In Partial Update", func(t *testing.T) {
		p, err := ParsePayload(map[string]any{"nodes": []any{}}, Options{})
		require.NoError(t, err)
		assert.NotNil(t, p.Nodes)
		assert.Nil(t, p.Edges, "absent kinds stay nil")
		assert.Nil(t, p.Handles)
	})

	t.Run("Element Not An Object", func(t *testing.T) {
		_, err := ParsePayload(map[string]any{"edges": []any{"e1"}}, Options{})
		assert.Equal(t, []string{"edges[0]"}, fields(t, err))
	})
}

func TestParsePayload_ElementErrors(t *testing.T) {
	noPosition := validNode("n1")
	delete(noPosition, "position")

	badType := validNode("n2")
	badType["type"] = "Hologram"

	badConfig := validNode("n3")
	badConfig["type"] = "LLM"
	badConfig["templateId"] = "llm"
	badConfig["config"] = map[string]any{"temperature": 9.0}

	wrongKind := validNode("n4")
	wrongKind["position"] = map[string]any{"x": "left", "y": 0.0}

	tests := []struct {
		name  string
		node  map[string]any
		field string
	}{
		{"Missing Position", noPosition, "nodes[0].position"},
		{"Unknown Type", badType, "nodes[0].type"},
		{"Config Out Of Range", badConfig, "nodes[0].config.temperature"},
		{"Wrong JSON Kind", wrongKind, "nodes[0].position.x"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParsePayload(map[string]any{"nodes": []any{tt.node}}, Options{})
			assert.Equal(t, []string{tt.field}, fields(t, err))
		})
	}
}

func TestParsePayload_HandleAndEdgeRules(t *testing.T) {
	raw := map[string]any{
		"handles": []any{
			map[string]any{"id": "h1", "type": "Sideways", "nodeId": "n1", "dataTypes": []any{"Text"}},
			map[string]any{"id": "h2", "type": "Input", "nodeId": "n1", "dataTypes": []any{}},
			map[string]any{"id": "h3", "type": "Input", "nodeId": "n1", "dataTypes": []any{"Smell"}},
		},
		"edges": []any{
			map[string]any{"id": "e1", "sourceNodeId": "n1", "sourceHandleId": "h1", "targetNodeId": "n2"},
		},
	}
	_, err := ParsePayload(raw, Options{})
	assert.ElementsMatch(t, []string{
		"handles[0].type",
		"handles[1].dataTypes",
		"handles[2].dataTypes[0]",
		"edges[0].targetHandleId",
	}, fields(t, err))
}

func TestParsePayload_DuplicateIDs(t *testing.T) {
	_, err := ParsePayload(map[string]any{
		"nodes": []any{validNode("n1"), validNode("n1")},
	}, Options{})
	assert.Equal(t, []string{"nodes[1].id"}, fields(t, err))
}

func TestParseUpdate(t *testing.T) {
	u, err := ParseUpdate(map[string]any{"name": "Storyboard"})
	require.NoError(t, err)
	require.NotNil(t, u.Name)
	assert.Equal(t, "Storyboard", *u.Name)
	assert.True(t, u.Payload.IsEmpty())

	_, err = ParseUpdate(map[string]any{"name": 42.0, "nodes": "x"})
	assert.ElementsMatch(t, []string{"name", "nodes"}, fields(t, err))
}

func TestParsePayloadJSON(t *testing.T) {
	_, err := ParsePayloadJSON([]byte(`[1,2]`), Options{})
	require.Error(t, err)

	p, err := ParsePayloadJSON([]byte(`{"nodes":[],"edges":[],"handles":[]}`), Options{RequireAll: true})
	require.NoError(t, err)
	assert.NotNil(t, p.Nodes)
}
