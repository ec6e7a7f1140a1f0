package sandbox

import (
	"context"
	"sync"

	"github.com/aretw0/easel/pkg/domain"
)

// Session carries the working snapshot of one agent turn across runs.
// A successful run replaces the working snapshot; a failed one leaves it
// untouched so the next attempt starts from the same state.
type Session struct {
	exec *Executor
	max  int

	mu          sync.Mutex
	snap        Snapshot
	invocations int
}

// NewSession starts a session from snap. maxInvocations <= 0 means unlimited.
func (e *Executor) NewSession(snap Snapshot, maxInvocations int) *Session {
	return &Session{exec: e, max: maxInvocations, snap: snap}
}

// Run executes source against the working snapshot.
// It returns domain.ErrInvocationLimit once the budget is spent.
func (s *Session) Run(ctx context.Context, source string) (domain.GraphPayload, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.max > 0 && s.invocations >= s.max {
		return domain.GraphPayload{}, domain.ErrInvocationLimit
	}
	s.invocations++

	payload, err := s.exec.Execute(ctx, source, s.snap)
	if err != nil {
		return domain.GraphPayload{}, err
	}
	s.snap.Nodes = payload.Nodes
	s.snap.Edges = payload.Edges
	s.snap.Handles = payload.Handles
	return payload.Clone(), nil
}

// Snapshot returns the current working snapshot.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap
}

// Invocations returns how many runs were attempted.
func (s *Session) Invocations() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.invocations
}

// Remaining returns how many runs are left, or -1 when unlimited.
func (s *Session) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.max <= 0 {
		return -1
	}
	return s.max - s.invocations
}
