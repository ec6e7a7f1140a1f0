package tui

import (
	"bytes"
	"testing"

	"github.com/aretw0/easel/pkg/canvas"
	"github.com/aretw0/easel/pkg/domain"
	"github.com/aretw0/easel/pkg/patch"
	"github.com/aretw0/easel/pkg/reconcile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlanMarkdown(t *testing.T) {
	name := "Storyboard v2"
	res := &canvas.Result{
		Summary: &domain.GraphDiff{
			Rename: &name,
			Nodes:  domain.EntityCount{Created: 1, Updated: 1},
			Edges:  domain.EntityCount{Deleted: 2},
			NodeChanges: []domain.NodeChange{
				{NodeID: "n1", Op: domain.OpCreate, Type: domain.NodeTypeText},
				{NodeID: "n2", Op: domain.OpUpdate, Type: domain.NodeTypeLLM, Fields: []string{"config", "position"}},
			},
		},
		IDRemap:  map[string]string{"temp-1": "n1"},
		Warnings: []reconcile.Warning{{Entity: "edge", ID: "e9", Reason: "target handle already connected"}},
	}
	configs := []patch.ConfigDiff{{NodeID: "n2", Op: "update", Lines: []patch.DiffLine{
		{Type: patch.LineContext, Text: "{"},
		{Type: patch.LineRemoved, Text: `  "model": "a"`},
		{Type: patch.LineAdded, Text: `  "model": "b"`},
	}}}

	md := PlanMarkdown("Plan", res, configs)
	for _, want := range []string{
		"# Plan",
		"Rename canvas to **Storyboard v2**.",
		"| Nodes | 1 | 1 | 0 |",
		"| Edges | 0 | 0 | 2 |",
		"- **create** `n1` Text",
		"- **update** `n2` LLM (config, position)",
		"```diff\n {\n-  \"model\": \"a\"\n+  \"model\": \"b\"\n```",
		"- edge `e9`: target handle already connected",
		"_1 temporary ids remapped._",
	} {
		assert.Contains(t, md, want)
	}

	assert.Contains(t, PlanMarkdown("Empty", nil, nil), "_No changes._")
}

func TestRenderer(t *testing.T) {
	render, err := NewRenderer(80)
	require.NoError(t, err)
	out, err := render("# Plan\n\nhello")
	require.NoError(t, err)
	assert.Contains(t, out, "hello")

	var buf bytes.Buffer
	PrintBanner(&buf, "v1.2.3")
	assert.Contains(t, buf.String(), "v1.2.3")
}
