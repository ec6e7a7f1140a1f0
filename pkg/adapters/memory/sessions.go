package memory

import (
	"context"
	"sync"
	"time"

	"github.com/aretw0/easel/pkg/domain"
)

// SessionStore implements ports.SessionStore in memory.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*domain.AgentSession
}

// NewSessionStore creates a new in-memory session store.
func NewSessionStore() *SessionStore {
	return &SessionStore{sessions: make(map[string]*domain.AgentSession)}
}

func (s *SessionStore) EnsureSession(ctx context.Context, sessionID, canvasID string) (*domain.AgentSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.sessions[sessionID]; ok {
		return existing.Clone(), nil
	}
	now := time.Now().UTC()
	sess := &domain.AgentSession{
		ID:        sessionID,
		CanvasID:  canvasID,
		Events:    []domain.SessionEvent{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.sessions[sessionID] = sess
	return sess.Clone(), nil
}

func (s *SessionStore) GetSession(ctx context.Context, sessionID string) (*domain.AgentSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return sess.Clone(), nil
}

func (s *SessionStore) AppendEvent(ctx context.Context, sessionID string, event domain.SessionEvent) (domain.SessionEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return domain.SessionEvent{}, domain.ErrSessionNotFound
	}
	event.Seq = len(sess.Events) + 1
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	sess.Events = append(sess.Events, event)
	sess.UpdatedAt = event.Timestamp
	return event, nil
}
