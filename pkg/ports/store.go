package ports

import (
	"context"

	"github.com/aretw0/easel/pkg/domain"
)

// GraphStore owns persisted Canvas, Node, Handle and Edge records.
type GraphStore interface {
	// CreateCanvas persists a new, empty canvas.
	CreateCanvas(ctx context.Context, canvas domain.Canvas) error

	// GetCanvas returns domain.ErrCanvasNotFound if the canvas does not exist.
	GetCanvas(ctx context.Context, canvasID string) (*domain.Canvas, error)

	// ListCanvases returns every canvas ordered by creation time.
	ListCanvases(ctx context.Context) ([]domain.Canvas, error)

	// DeleteCanvas removes the canvas and every entity it owns.
	DeleteCanvas(ctx context.Context, canvasID string) error

	// LoadGraph returns the full graph of a canvas. Templates are not populated.
	LoadGraph(ctx context.Context, canvasID string) (*domain.Graph, error)

	// Apply writes a change set in a single transaction.
	// Deletes run first (edges, handles, nodes), then creates and updates
	// (nodes, handles, edges). Any constraint violation aborts the whole
	// change set and is reported as a *domain.TransactionError.
	Apply(ctx context.Context, cs *domain.ChangeSet) error
}

// PatchFilter narrows ListPatches. Empty fields match everything.
type PatchFilter struct {
	CanvasID  string
	SessionID string
	States    []domain.PatchState
}

// Matches reports whether p passes the filter.
func (f PatchFilter) Matches(p *domain.Patch) bool {
	if f.CanvasID != "" && p.CanvasID != f.CanvasID {
		return false
	}
	if f.SessionID != "" && p.SessionID != f.SessionID {
		return false
	}
	if len(f.States) == 0 {
		return true
	}
	for _, s := range f.States {
		if p.State == s {
			return true
		}
	}
	return false
}

// PatchStore persists patches.
type PatchStore interface {
	// SavePatch inserts or replaces a patch.
	SavePatch(ctx context.Context, patch *domain.Patch) error

	// GetPatch returns domain.ErrPatchNotFound if the patch does not exist.
	GetPatch(ctx context.Context, patchID string) (*domain.Patch, error)

	// ListPatches returns matching patches ordered by creation time.
	ListPatches(ctx context.Context, filter PatchFilter) ([]*domain.Patch, error)
}

// SessionStore persists agent sessions and their event logs.
type SessionStore interface {
	// EnsureSession returns the session, creating it for canvasID if missing.
	EnsureSession(ctx context.Context, sessionID, canvasID string) (*domain.AgentSession, error)

	// GetSession returns domain.ErrSessionNotFound if the session does not exist.
	GetSession(ctx context.Context, sessionID string) (*domain.AgentSession, error)

	// AppendEvent adds an event to the session log and returns it with
	// its sequence number and timestamp assigned.
	AppendEvent(ctx context.Context, sessionID string, event domain.SessionEvent) (domain.SessionEvent, error)
}
