package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/aretw0/easel"
	"github.com/aretw0/easel/internal/presentation/graph"
	"github.com/aretw0/easel/internal/presentation/tui"
	"github.com/aretw0/easel/pkg/canvas"
	"github.com/aretw0/easel/pkg/domain"
	"github.com/aretw0/easel/pkg/patch"
	"github.com/aretw0/easel/pkg/sandbox/luavm"
)

// ApplyOptions configures an offline program run.
type ApplyOptions struct {
	ProgramPath string
	// GraphPath is the starting graph; empty starts from a blank canvas.
	GraphPath string
	// Language overrides detection from the program file extension.
	Language string
	Format   string // "markdown" (default), "json" or "mermaid"
	Width    int
	Logger   *slog.Logger
}

// RunApply runs a program against a graph file on in-memory stores and
// writes the resulting plan to w. Nothing is persisted.
func RunApply(ctx context.Context, w io.Writer, opts ApplyOptions) error {
	source, err := os.ReadFile(opts.ProgramPath)
	if err != nil {
		return fmt.Errorf("failed to read program: %w", err)
	}

	// 1. Starting graph
	var payload domain.GraphPayload
	if opts.GraphPath != "" {
		payload, err = ValidateGraphFile(opts.GraphPath)
		if err != nil {
			return err
		}
	}

	// 2. Offline app
	language := opts.Language
	if language == "" {
		language = DetectLanguage(opts.ProgramPath)
	}
	appOpts := []easel.Option{easel.WithBackend(NewBackend(language))}
	if opts.Logger != nil {
		appOpts = append(appOpts, easel.WithLogger(opts.Logger))
	}
	app, err := easel.New(appOpts...)
	if err != nil {
		return err
	}
	defer app.Close()

	name := strings.TrimSuffix(filepath.Base(opts.ProgramPath), filepath.Ext(opts.ProgramPath))
	c, err := app.Canvases.Create(ctx, name, "")
	if err != nil {
		return err
	}
	seeded, err := app.Canvases.Commit(ctx, c.ID, canvas.CommitRequest{Payload: payload})
	if err != nil {
		return fmt.Errorf("failed to load graph: %w", err)
	}

	// 3. Plan
	res, err := app.Agent.DryRun(ctx, c.ID, string(source))
	if err != nil {
		if domain.Retryable(err) {
			return fmt.Errorf("program rejected:\n%s", domain.Diagnostic(err))
		}
		return err
	}

	// 4. Output
	switch opts.Format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	case "mermaid":
		_, err := io.WriteString(w, graph.GenerateMermaid(res.Graph, graph.OverlayOf(res.Summary)))
		return err
	case "", "markdown":
		md := tui.PlanMarkdown(name, res, patch.ConfigDiffs(seeded.Graph, res.Graph, res.Summary))
		render, err := tui.NewRenderer(opts.Width)
		if err != nil {
			return err
		}
		out, err := render(md)
		if err != nil {
			return err
		}
		_, err = io.WriteString(w, out)
		return err
	default:
		return fmt.Errorf("unknown format %q: supported: markdown, json, mermaid", opts.Format)
	}
}

// DetectLanguage picks the sandbox language from a program file name.
func DetectLanguage(path string) string {
	if strings.EqualFold(filepath.Ext(path), ".lua") {
		return luavm.Name
	}
	return "javascript"
}
