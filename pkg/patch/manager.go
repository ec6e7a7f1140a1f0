package patch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aretw0/easel/internal/logging"
	"github.com/aretw0/easel/pkg/canvas"
	"github.com/aretw0/easel/pkg/domain"
	"github.com/aretw0/easel/pkg/lock"
	"github.com/aretw0/easel/pkg/observability"
	"github.com/aretw0/easel/pkg/ports"
	"github.com/google/uuid"
)

// DefaultTTL is how long an unresolved patch stays open before Sweep expires it.
const DefaultTTL = 30 * time.Minute

var openStates = []domain.PatchState{domain.PatchProposed, domain.PatchPreviewing}

// ProposeRequest is a candidate change produced by an agent session.
type ProposeRequest struct {
	CanvasID  string
	SessionID string
	Payload   domain.GraphPayload
}

// Manager drives patches through their lifecycle.
type Manager struct {
	patches  ports.PatchStore
	sessions ports.SessionStore
	canvases *canvas.Service
	locks    *lock.Manager

	// keys serializes lifecycle changes per canvas.
	keys *lock.KeyedMutex

	ttl     time.Duration
	now     func() time.Time
	newID   func() string
	logger  *slog.Logger
	metrics *observability.Metrics
}

// Option configures the Manager.
type Option func(*Manager)

// WithTTL sets how long open patches live.
func WithTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		if ttl > 0 {
			m.ttl = ttl
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// WithIDGenerator replaces the patch id generator (uuid by default).
func WithIDGenerator(fn func() string) Option {
	return func(m *Manager) {
		m.newID = fn
	}
}

// WithLogger configures a logger for the Manager.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithMetrics records transitions on metrics.
func WithMetrics(metrics *observability.Metrics) Option {
	return func(m *Manager) {
		m.metrics = metrics
	}
}

// NewManager creates a patch Manager.
func NewManager(patches ports.PatchStore, sessions ports.SessionStore, canvases *canvas.Service, locks *lock.Manager, opts ...Option) *Manager {
	m := &Manager{
		patches:  patches,
		sessions: sessions,
		canvases: canvases,
		locks:    locks,
		keys:     lock.NewKeyedMutex(),
		ttl:      DefaultTTL,
		now:      func() time.Time { return time.Now().UTC() },
		newID:    uuid.NewString,
		logger:   logging.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Propose records a PROPOSED patch for req.CanvasID on behalf of
// req.SessionID. The session must hold (or be able to take) the canvas lock.
// The payload is reconciled up front so an invalid proposal never becomes a
// patch. Any open patch on the canvas is expired first.
func (m *Manager) Propose(ctx context.Context, req ProposeRequest) (*domain.Patch, error) {
	if req.SessionID == "" {
		return nil, fmt.Errorf("session id is required")
	}
	var out *domain.Patch
	err := m.keys.WithLock(ctx, req.CanvasID, func(ctx context.Context) error {
		// A canceled turn must not leave a patch or a lock behind.
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := m.locks.Acquire(ctx, req.CanvasID, req.SessionID); err != nil {
			return err
		}
		plan, err := m.canvases.Plan(ctx, req.CanvasID, req.Payload)
		if err != nil {
			return err
		}

		open, err := m.patches.ListPatches(ctx, ports.PatchFilter{CanvasID: req.CanvasID, States: openStates})
		if err != nil {
			return err
		}
		for _, prev := range open {
			// The lock now belongs to req.SessionID; superseding must not drop it.
			if err := m.transition(ctx, prev, domain.PatchExpired, false); err != nil {
				return err
			}
			m.logger.Info("Patch superseded", "patch_id", prev.ID, "canvas_id", prev.CanvasID)
		}

		p := &domain.Patch{
			ID:        m.newID(),
			CanvasID:  req.CanvasID,
			SessionID: req.SessionID,
			State:     domain.PatchProposed,
			Payload:   req.Payload.Clone(),
			Summary:   plan.Summary,
			IDRemap:   plan.IDRemap,
			CreatedAt: m.now(),
		}
		if err := m.patches.SavePatch(ctx, p); err != nil {
			return err
		}
		if _, err := m.sessions.EnsureSession(ctx, req.SessionID, req.CanvasID); err != nil {
			return err
		}
		m.appendEvent(ctx, p.SessionID, domain.SessionEvent{Type: domain.EventPatchProposed, PatchID: p.ID})
		m.metrics.PatchTransition(string(domain.PatchProposed))
		m.logger.Info("Patch proposed", "patch_id", p.ID, "canvas_id", p.CanvasID, "session_id", p.SessionID)
		out = p
		return nil
	})
	return out, err
}

// Accept commits the patch as its session and releases the canvas lock.
// If the commit fails the patch keeps its state and the lock stays held, so
// the caller may reject it or retry.
func (m *Manager) Accept(ctx context.Context, patchID string) (*domain.Patch, *canvas.Result, error) {
	p, err := m.patches.GetPatch(ctx, patchID)
	if err != nil {
		return nil, nil, err
	}
	var res *canvas.Result
	err = m.keys.WithLock(ctx, p.CanvasID, func(ctx context.Context) error {
		// Re-read under the canvas key; a concurrent action may have resolved it.
		if p, err = m.patches.GetPatch(ctx, patchID); err != nil {
			return err
		}
		if !domain.CanTransition(p.State, domain.PatchAccepted) {
			return invalid(p.State, domain.PatchAccepted)
		}
		res, err = m.canvases.Commit(ctx, p.CanvasID, canvas.CommitRequest{Payload: p.Payload, Holder: p.SessionID})
		if err != nil {
			m.logger.Warn("Patch commit failed", "patch_id", p.ID, "canvas_id", p.CanvasID, "err", err)
			return err
		}
		p.Summary = res.Summary
		p.IDRemap = res.IDRemap
		return m.transition(ctx, p, domain.PatchAccepted, true)
	})
	if err != nil {
		return nil, nil, err
	}
	return p, res, nil
}

// Reject discards the patch without touching the graph.
func (m *Manager) Reject(ctx context.Context, patchID string) (*domain.Patch, error) {
	return m.resolve(ctx, patchID, domain.PatchRejected)
}

// Expire discards the patch without touching the graph.
func (m *Manager) Expire(ctx context.Context, patchID string) (*domain.Patch, error) {
	return m.resolve(ctx, patchID, domain.PatchExpired)
}

func (m *Manager) resolve(ctx context.Context, patchID string, to domain.PatchState) (*domain.Patch, error) {
	p, err := m.patches.GetPatch(ctx, patchID)
	if err != nil {
		return nil, err
	}
	err = m.keys.WithLock(ctx, p.CanvasID, func(ctx context.Context) error {
		if p, err = m.patches.GetPatch(ctx, patchID); err != nil {
			return err
		}
		return m.transition(ctx, p, to, true)
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// ExpireSession expires every open patch of sessionID on canvasID and
// releases the canvas lock if the session holds it.
func (m *Manager) ExpireSession(ctx context.Context, canvasID, sessionID string) (int, error) {
	n := 0
	err := m.keys.WithLock(ctx, canvasID, func(ctx context.Context) error {
		open, err := m.patches.ListPatches(ctx, ports.PatchFilter{CanvasID: canvasID, SessionID: sessionID, States: openStates})
		if err != nil {
			return err
		}
		for _, p := range open {
			if err := m.transition(ctx, p, domain.PatchExpired, false); err != nil {
				return err
			}
			n++
		}
		_, err = m.locks.Release(context.WithoutCancel(ctx), canvasID, sessionID)
		return err
	})
	return n, err
}

// Open returns the open patch of canvasID, or nil.
func (m *Manager) Open(ctx context.Context, canvasID string) (*domain.Patch, error) {
	open, err := m.patches.ListPatches(ctx, ports.PatchFilter{CanvasID: canvasID, States: openStates})
	if err != nil || len(open) == 0 {
		return nil, err
	}
	return open[len(open)-1], nil
}

// Get returns a patch by id.
func (m *Manager) Get(ctx context.Context, patchID string) (*domain.Patch, error) {
	return m.patches.GetPatch(ctx, patchID)
}

// ListBySession returns the patches of sessionID, oldest first.
func (m *Manager) ListBySession(ctx context.Context, sessionID string) ([]*domain.Patch, error) {
	return m.patches.ListPatches(ctx, ports.PatchFilter{SessionID: sessionID})
}

// transition moves p to state to and persists it. Terminal transitions are
// recorded in the session log and, when releaseLock is set, free the canvas
// lock of p's session. Caller holds the canvas key.
func (m *Manager) transition(ctx context.Context, p *domain.Patch, to domain.PatchState, releaseLock bool) error {
	if !domain.CanTransition(p.State, to) {
		return invalid(p.State, to)
	}
	from := p.State
	p.State = to
	if to.Terminal() {
		now := m.now()
		p.ResolvedAt = &now
	}
	if err := m.patches.SavePatch(ctx, p); err != nil {
		p.State = from
		p.ResolvedAt = nil
		return err
	}
	m.metrics.PatchTransition(string(to))
	m.logger.Debug("Patch transition", "patch_id", p.ID, "from", from, "to", to)

	if !to.Terminal() {
		return nil
	}
	m.appendEvent(ctx, p.SessionID, domain.SessionEvent{Type: domain.EventPatchAction, PatchID: p.ID, Action: to})
	if !releaseLock {
		return nil
	}
	// The patch is already resolved; the lock must follow even if ctx ended.
	if _, err := m.locks.Release(context.WithoutCancel(ctx), p.CanvasID, p.SessionID); err != nil {
		m.logger.Warn("Failed to release canvas lock", "canvas_id", p.CanvasID, "session_id", p.SessionID, "err", err)
	}
	return nil
}

func (m *Manager) appendEvent(ctx context.Context, sessionID string, ev domain.SessionEvent) {
	if _, err := m.sessions.AppendEvent(ctx, sessionID, ev); err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			m.logger.Debug("Session event dropped", "session_id", sessionID, "type", ev.Type)
			return
		}
		m.logger.Warn("Failed to append session event", "session_id", sessionID, "type", ev.Type, "err", err)
	}
}

func invalid(from, to domain.PatchState) error {
	return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, from, to)
}
