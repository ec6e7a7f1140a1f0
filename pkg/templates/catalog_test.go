package templates

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/aretw0/easel/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuiltin(t *testing.T) {
	c, err := Builtin()
	require.NoError(t, err)

	// Every node type has at least one template.
	for _, nt := range domain.NodeTypes {
		_, ok := c.ForType(nt)
		assert.True(t, ok, "no template for %s", nt)
	}

	export, err := c.Get("export")
	require.NoError(t, err)
	assert.True(t, export.IsTerminalNode)

	compositor, err := c.Get("video-compositor")
	require.NoError(t, err)
	assert.True(t, compositor.VariablePorts)

	llm, err := c.Get("llm")
	require.NoError(t, err)
	require.Len(t, llm.Handles, 3)
	assert.Equal(t, domain.DirectionOutput, llm.Handles[2].Type)

	_, err = c.Get("missing")
	assert.ErrorIs(t, err, domain.ErrTemplateNotFound)
}

func TestLoad_Override(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "templates.yaml")
	content := `
templates:
  - id: text
    nodeType: Text
    name: Note
    handles:
      - id: note-out
        type: Output
        dataTypes: [Text]
        label: Note
        order: 0
  - id: upscale
    nodeType: ImageGen
    name: Upscale
    handles:
      - id: up-in
        type: Input
        dataTypes: [Image]
        label: Image
        order: 0
      - id: up-out
        type: Output
        dataTypes: [Image]
        label: Image
        order: 1
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	c, err := Load(path)
	require.NoError(t, err)

	text, err := c.Get("text")
	require.NoError(t, err)
	assert.Equal(t, "Note", text.Name)

	_, err = c.Get("upscale")
	require.NoError(t, err)

	list := c.List()
	assert.Equal(t, "text", list[0].ID, "overrides keep the original position")
	assert.Equal(t, "upscale", list[len(list)-1].ID)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"Unknown Node Type", "templates:\n  - id: x\n    nodeType: Hologram\n"},
		{"Duplicate Handle", "templates:\n  - id: x\n    nodeType: Text\n    handles:\n      - {id: a, type: Output, dataTypes: [Text], order: 0}\n      - {id: a, type: Output, dataTypes: [Text], order: 1}\n"},
		{"Bad Direction", "templates:\n  - id: x\n    nodeType: Text\n    handles:\n      - {id: a, type: Sideways, dataTypes: [Text], order: 0}\n"},
		{"Bad Data Type", "templates:\n  - id: x\n    nodeType: Text\n    handles:\n      - {id: a, type: Output, dataTypes: [Smell], order: 0}\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}
