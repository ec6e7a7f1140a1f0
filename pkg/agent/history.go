package agent

import (
	"context"
	"errors"
	"time"

	"github.com/aretw0/easel/pkg/domain"
)

// HistoryEntry is one item of a reconstructed conversation. Patch entries
// carry the patch's current state, so resolved proposals show their outcome.
type HistoryEntry struct {
	Seq        int               `json:"seq"`
	Role       domain.Role       `json:"role,omitempty"`
	Content    string            `json:"content,omitempty"`
	PatchID    string            `json:"patchId,omitempty"`
	PatchState domain.PatchState `json:"patchState,omitempty"`
	Summary    *domain.GraphDiff `json:"summary,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
}

// History rebuilds the conversation of sessionID. Patch actions are folded
// into the proposal they resolve.
func (o *Orchestrator) History(ctx context.Context, sessionID string) ([]HistoryEntry, error) {
	sess, err := o.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	out := []HistoryEntry{}
	proposals := map[string]int{}
	for _, ev := range sess.Events {
		switch ev.Type {
		case domain.EventMessage:
			out = append(out, HistoryEntry{Seq: ev.Seq, Role: ev.Role, Content: ev.Content, Timestamp: ev.Timestamp})
		case domain.EventPatchProposed:
			entry := HistoryEntry{Seq: ev.Seq, Role: domain.RoleAssistant, PatchID: ev.PatchID, PatchState: domain.PatchProposed, Timestamp: ev.Timestamp}
			p, err := o.patches.Get(ctx, ev.PatchID)
			switch {
			case err == nil:
				entry.PatchState = p.State
				entry.Summary = p.Summary
			case !errors.Is(err, domain.ErrPatchNotFound):
				return nil, err
			}
			proposals[ev.PatchID] = len(out)
			out = append(out, entry)
		case domain.EventPatchAction:
			if i, ok := proposals[ev.PatchID]; ok {
				out[i].PatchState = ev.Action
			}
		}
	}
	return out, nil
}
