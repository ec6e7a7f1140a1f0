package tui

import (
	"fmt"
	"strings"

	"github.com/aretw0/easel/pkg/canvas"
	"github.com/aretw0/easel/pkg/domain"
	"github.com/aretw0/easel/pkg/patch"
	"github.com/charmbracelet/glamour"
)

// NewRenderer returns a function that renders markdown using glamour.
// The style follows the terminal background.
func NewRenderer(width int) (func(string) (string, error), error) {
	opts := []glamour.TermRendererOption{glamour.WithAutoStyle()}
	if width > 0 {
		opts = append(opts, glamour.WithWordWrap(width))
	}
	r, err := glamour.NewTermRenderer(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create renderer: %w", err)
	}
	return r.Render, nil
}

// PlanMarkdown describes a plan: counts, touched nodes, config diffs and
// warnings.
func PlanMarkdown(title string, res *canvas.Result, configs []patch.ConfigDiff) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", title)
	if res == nil || res.Summary == nil {
		b.WriteString("_No changes._\n")
		return b.String()
	}
	d := res.Summary

	if d.Rename != nil {
		fmt.Fprintf(&b, "Rename canvas to **%s**.\n\n", *d.Rename)
	}

	b.WriteString("| Entity | Created | Updated | Deleted |\n|---|---|---|---|\n")
	for _, row := range []struct {
		name  string
		count domain.EntityCount
	}{
		{"Nodes", d.Nodes},
		{"Handles", d.Handles},
		{"Edges", d.Edges},
	} {
		fmt.Fprintf(&b, "| %s | %d | %d | %d |\n", row.name, row.count.Created, row.count.Updated, row.count.Deleted)
	}
	b.WriteString("\n")

	if len(d.NodeChanges) > 0 {
		b.WriteString("## Nodes\n\n")
		for _, c := range d.NodeChanges {
			line := fmt.Sprintf("- **%s** `%s` %s", c.Op, c.NodeID, c.Type)
			if len(c.Fields) > 0 {
				line += " (" + strings.Join(c.Fields, ", ") + ")"
			}
			b.WriteString(line + "\n")
		}
		b.WriteString("\n")
	}

	for _, cd := range configs {
		fmt.Fprintf(&b, "## Config of `%s` (%s)\n\n```diff\n", cd.NodeID, cd.Op)
		for _, l := range cd.Lines {
			prefix := " "
			switch l.Type {
			case patch.LineAdded:
				prefix = "+"
			case patch.LineRemoved:
				prefix = "-"
			}
			b.WriteString(prefix + l.Text + "\n")
		}
		b.WriteString("```\n\n")
	}

	if len(res.Warnings) > 0 {
		b.WriteString("## Warnings\n\n")
		for _, w := range res.Warnings {
			fmt.Fprintf(&b, "- %s `%s`: %s\n", w.Entity, w.ID, w.Reason)
		}
		b.WriteString("\n")
	}

	if len(res.IDRemap) > 0 {
		fmt.Fprintf(&b, "_%d temporary ids remapped._\n", len(res.IDRemap))
	}
	return b.String()
}
