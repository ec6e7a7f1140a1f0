package patch

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/aretw0/easel/pkg/domain"
	"github.com/aretw0/easel/pkg/reconcile"
	"github.com/sergi/go-diff/diffmatchpatch"
)

// Line kinds of a ConfigDiff.
const (
	LineContext = "context"
	LineAdded   = "added"
	LineRemoved = "removed"
)

// DiffLine is one line of a config diff.
type DiffLine struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// ConfigDiff is the line diff of one node's config, rendered as indented JSON.
type ConfigDiff struct {
	NodeID string     `json:"nodeId"`
	Op     string     `json:"op"`
	Lines  []DiffLine `json:"lines"`
}

// Preview is what a reviewer sees before accepting a patch.
type Preview struct {
	Patch    *domain.Patch       `json:"patch"`
	Summary  *domain.GraphDiff   `json:"summary"`
	Graph    *domain.Graph       `json:"graph,omitempty"`
	Configs  []ConfigDiff        `json:"configs,omitempty"`
	Warnings []reconcile.Warning `json:"warnings,omitempty"`
}

// Preview renders the patch against the current graph and moves a PROPOSED
// patch to PREVIEWING. Resolved patches are rendered from their stored
// summary without a transition, for history.
func (m *Manager) Preview(ctx context.Context, patchID string) (*Preview, error) {
	p, err := m.patches.GetPatch(ctx, patchID)
	if err != nil {
		return nil, err
	}
	if p.State.Terminal() {
		return &Preview{Patch: p, Summary: p.Summary}, nil
	}

	var out *Preview
	err = m.keys.WithLock(ctx, p.CanvasID, func(ctx context.Context) error {
		if p, err = m.patches.GetPatch(ctx, patchID); err != nil {
			return err
		}
		current, err := m.canvases.Get(ctx, p.CanvasID)
		if err != nil {
			return err
		}
		res, err := m.canvases.Plan(ctx, p.CanvasID, p.Payload)
		if err != nil {
			return err
		}
		if p.State == domain.PatchProposed {
			if err := m.transition(ctx, p, domain.PatchPreviewing, false); err != nil {
				return err
			}
		}
		out = &Preview{
			Patch:    p,
			Summary:  res.Summary,
			Graph:    res.Graph,
			Configs:  ConfigDiffs(current, res.Graph, res.Summary),
			Warnings: res.Warnings,
		}
		return nil
	})
	return out, err
}

// ConfigDiffs diffs the config of every node the summary creates or
// updates between before and after.
func ConfigDiffs(before, after *domain.Graph, summary *domain.GraphDiff) []ConfigDiff {
	if summary == nil {
		return nil
	}
	old := nodesByID(before)
	next := nodesByID(after)

	var out []ConfigDiff
	for _, change := range summary.NodeChanges {
		var from, to string
		switch change.Op {
		case domain.OpCreate:
			to = configText(next[change.NodeID])
		case domain.OpDelete:
			from = configText(old[change.NodeID])
		case domain.OpUpdate:
			if !touchesConfig(change.Fields) {
				continue
			}
			from = configText(old[change.NodeID])
			to = configText(next[change.NodeID])
		}
		if from == to {
			continue
		}
		out = append(out, ConfigDiff{NodeID: change.NodeID, Op: string(change.Op), Lines: lineDiff(from, to)})
	}
	return out
}

func touchesConfig(fields []string) bool {
	for _, f := range fields {
		if f == "config" {
			return true
		}
	}
	return false
}

func nodesByID(g *domain.Graph) map[string]*domain.Node {
	out := map[string]*domain.Node{}
	if g == nil {
		return out
	}
	for i := range g.Nodes {
		out[g.Nodes[i].ID] = &g.Nodes[i]
	}
	return out
}

func configText(n *domain.Node) string {
	if n == nil || n.Config == nil {
		return ""
	}
	data, err := json.MarshalIndent(n.Config, "", "  ")
	if err != nil {
		return ""
	}
	return string(data) + "\n"
}

// lineDiff diffs before and after line by line.
func lineDiff(before, after string) []DiffLine {
	dmp := diffmatchpatch.New()
	beforeChars, afterChars, lineArray := dmp.DiffLinesToChars(before, after)
	diffs := dmp.DiffMain(beforeChars, afterChars, false)
	diffs = dmp.DiffCharsToLines(diffs, lineArray)

	var lines []DiffLine
	for _, d := range diffs {
		chunk := strings.Split(d.Text, "\n")
		if len(chunk) > 0 && chunk[len(chunk)-1] == "" {
			chunk = chunk[:len(chunk)-1]
		}
		for _, line := range chunk {
			switch d.Type {
			case diffmatchpatch.DiffEqual:
				lines = append(lines, DiffLine{Type: LineContext, Text: line})
			case diffmatchpatch.DiffDelete:
				lines = append(lines, DiffLine{Type: LineRemoved, Text: line})
			case diffmatchpatch.DiffInsert:
				lines = append(lines, DiffLine{Type: LineAdded, Text: line})
			}
		}
	}
	return lines
}
