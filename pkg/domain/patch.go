package domain

import "time"

// PatchState is the lifecycle state of a Patch.
type PatchState string

const (
	PatchProposed   PatchState = "PROPOSED"
	PatchPreviewing PatchState = "PREVIEWING"
	PatchAccepted   PatchState = "ACCEPTED"
	PatchRejected   PatchState = "REJECTED"
	PatchExpired    PatchState = "EXPIRED"
)

// Terminal reports whether s is a resolved state.
func (s PatchState) Terminal() bool {
	return s == PatchAccepted || s == PatchRejected || s == PatchExpired
}

var patchTransitions = map[PatchState][]PatchState{
	PatchProposed:   {PatchPreviewing, PatchAccepted, PatchRejected, PatchExpired},
	PatchPreviewing: {PatchAccepted, PatchRejected, PatchExpired},
}

// CanTransition reports whether a patch in state from may move to state to.
func CanTransition(from, to PatchState) bool {
	for _, next := range patchTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Patch is a proposed, reviewable change to a canvas.
type Patch struct {
	ID         string            `json:"id"`
	CanvasID   string            `json:"canvasId"`
	SessionID  string            `json:"sessionId"`
	State      PatchState        `json:"state"`
	Payload    GraphPayload      `json:"payload"`
	Summary    *GraphDiff        `json:"summary,omitempty"`
	IDRemap    map[string]string `json:"idRemap,omitempty"`
	CreatedAt  time.Time         `json:"createdAt"`
	ResolvedAt *time.Time        `json:"resolvedAt,omitempty"`
}

// Clone returns a deep copy of p.
func (p *Patch) Clone() *Patch {
	if p == nil {
		return nil
	}
	out := *p
	out.Payload = p.Payload.Clone()
	if p.Summary != nil {
		s := *p.Summary
		out.Summary = &s
	}
	if p.IDRemap != nil {
		out.IDRemap = make(map[string]string, len(p.IDRemap))
		for k, v := range p.IDRemap {
			out.IDRemap[k] = v
		}
	}
	if p.ResolvedAt != nil {
		t := *p.ResolvedAt
		out.ResolvedAt = &t
	}
	return &out
}
