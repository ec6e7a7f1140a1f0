package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/aretw0/easel/internal/config"
	"github.com/aretw0/easel/internal/logging"
	"github.com/aretw0/easel/pkg/domain"
	"github.com/aretw0/easel/pkg/sandbox/luavm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const seedGraph = `{
	"nodes": [{"id": "n1", "type": "Text", "templateId": "text", "position": {"x": 0, "y": 0}, "config": {"text": "a dog"}}],
	"edges": [],
	"handles": []
}`

const addText = `nodes.push({id: generateId(), type: "Text", templateId: "text", position: {x: 0, y: 100}, config: {text: "a cat"}});
return {nodes: nodes, edges: edges, handles: handles};`

const addTextLua = `table.insert(nodes, {id = generateId(), type = "Text", templateId = "text", position = {x = 0, y = 100}, config = {text = "a cat"}})
return {nodes = nodes, edges = edges, handles = handles}`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func noEnv(string) (string, bool) { return "", false }

func TestRunApply(t *testing.T) {
	dir := t.TempDir()
	graphPath := writeFile(t, dir, "graph.json", seedGraph)
	ctx := context.Background()

	t.Run("JSON", func(t *testing.T) {
		var out bytes.Buffer
		err := RunApply(ctx, &out, ApplyOptions{
			ProgramPath: writeFile(t, dir, "add.js", addText),
			GraphPath:   graphPath,
			Format:      "json",
		})
		require.NoError(t, err)

		var res struct {
			Graph   domain.Graph     `json:"graph"`
			Summary domain.GraphDiff `json:"summary"`
			Applied bool             `json:"applied"`
		}
		require.NoError(t, json.Unmarshal(out.Bytes(), &res))
		assert.Equal(t, 1, res.Summary.Nodes.Created)
		assert.Equal(t, 0, res.Summary.Nodes.Deleted)
		assert.Len(t, res.Graph.Nodes, 2)
		assert.False(t, res.Applied)
	})

	t.Run("Lua Detected", func(t *testing.T) {
		var out bytes.Buffer
		err := RunApply(ctx, &out, ApplyOptions{
			ProgramPath: writeFile(t, dir, "add.lua", addTextLua),
			Format:      "json",
		})
		require.NoError(t, err)
		assert.Contains(t, out.String(), `"created": 1`)
	})

	t.Run("Mermaid", func(t *testing.T) {
		var out bytes.Buffer
		err := RunApply(ctx, &out, ApplyOptions{
			ProgramPath: writeFile(t, dir, "add.js", addText),
			GraphPath:   graphPath,
			Format:      "mermaid",
		})
		require.NoError(t, err)
		assert.Contains(t, out.String(), "graph LR")
	})

	t.Run("Markdown", func(t *testing.T) {
		var out bytes.Buffer
		err := RunApply(ctx, &out, ApplyOptions{
			ProgramPath: writeFile(t, dir, "add.js", addText),
			Width:       80,
		})
		require.NoError(t, err)
		assert.NotEmpty(t, out.String())
	})

	t.Run("Rejected Program", func(t *testing.T) {
		err := RunApply(ctx, &bytes.Buffer{}, ApplyOptions{
			ProgramPath: writeFile(t, dir, "bad.js", `return {nodes: "x", edges: [], handles: []};`),
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "program rejected")
	})

	t.Run("Unknown Format", func(t *testing.T) {
		err := RunApply(ctx, &bytes.Buffer{}, ApplyOptions{
			ProgramPath: writeFile(t, dir, "add.js", addText),
			Format:      "yaml",
		})
		assert.ErrorContains(t, err, "unknown format")
	})

	t.Run("Missing Program", func(t *testing.T) {
		err := RunApply(ctx, &bytes.Buffer{}, ApplyOptions{ProgramPath: filepath.Join(dir, "missing.js")})
		assert.ErrorContains(t, err, "failed to read program")
	})
}

func TestValidateGraphFile(t *testing.T) {
	dir := t.TempDir()

	payload, err := ValidateGraphFile(writeFile(t, dir, "ok.json", seedGraph))
	require.NoError(t, err)
	assert.Len(t, payload.Nodes, 1)
	assert.NotNil(t, payload.Edges)

	payload, err = ValidateGraphFile(writeFile(t, dir, "partial.json", `{"nodes": []}`))
	require.NoError(t, err)
	assert.NotNil(t, payload.Handles)

	_, err = ValidateGraphFile(writeFile(t, dir, "bad.json", `{"nodes": "x"}`))
	var verrs domain.ValidationErrors
	assert.ErrorAs(t, err, &verrs)

	_, err = ValidateGraphFile(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)
}

func TestDetectLanguage(t *testing.T) {
	assert.Equal(t, luavm.Name, DetectLanguage("prog.lua"))
	assert.Equal(t, luavm.Name, DetectLanguage("PROG.LUA"))
	assert.Equal(t, "javascript", DetectLanguage("prog.js"))
	assert.Equal(t, "javascript", DetectLanguage("prog"))
}

func TestNewApp(t *testing.T) {
	logger := logging.NewNop()

	t.Run("Defaults", func(t *testing.T) {
		app, err := NewApp(config.Default(), logger, noEnv)
		require.NoError(t, err)
		defer app.Close()
		assert.Equal(t, "javascript", app.Executor.Language())
	})

	t.Run("SQLite Lua Redis", func(t *testing.T) {
		mr := miniredis.RunT(t)
		cfg := config.Default()
		cfg.Store.Driver = "sqlite"
		cfg.Store.DSN = filepath.Join(t.TempDir(), "easel.db")
		cfg.Sandbox.Backend = luavm.Name
		cfg.Redis.Addr = mr.Addr()

		app, err := NewApp(cfg, logger, noEnv)
		require.NoError(t, err)
		defer app.Close()
		assert.Equal(t, luavm.Name, app.Executor.Language())

		ctx := context.Background()
		c, err := app.Canvases.Create(ctx, "Board", "")
		require.NoError(t, err)
		_, err = app.Agent.Submit(ctx, c.ID, "s1", addTextLua)
		require.NoError(t, err)

		keys := mr.Keys()
		assert.Len(t, keys, 1, "lock mirrored to redis")
	})

	t.Run("OpenAI", func(t *testing.T) {
		cfg := config.Default()
		cfg.Agent.Provider = "openai"

		_, err := NewApp(cfg, logger, noEnv)
		assert.ErrorContains(t, err, "api key")

		app, err := NewApp(cfg, logger, func(k string) (string, bool) {
			return "sk-test", k == cfg.Agent.APIKeyEnv
		})
		require.NoError(t, err)
		_ = app.Close()
	})

	t.Run("Missing Templates", func(t *testing.T) {
		cfg := config.Default()
		cfg.Templates = filepath.Join(t.TempDir(), "missing.yaml")
		_, err := NewApp(cfg, logger, noEnv)
		assert.ErrorContains(t, err, "failed to load templates")
	})
}
