package lock

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aretw0/easel/internal/logging"
	"github.com/aretw0/easel/pkg/domain"
	"github.com/aretw0/easel/pkg/observability"
	"github.com/aretw0/easel/pkg/ports"
)

// DefaultTTL bounds how long a distributed grant survives a crashed replica.
const DefaultTTL = 10 * time.Minute

// Status is the lock state of one canvas as seen by observers.
type Status struct {
	CanvasID string `json:"canvasId"`
	IsLocked bool   `json:"isLocked"`
	HolderID string `json:"holderId,omitempty"`
}

type canvasEntry struct {
	holder     string
	acquiredAt time.Time
	subs       map[int]chan Status
}

// Manager grants canvas locks to agent sessions and notifies observers.
type Manager struct {
	mu      sync.Mutex
	entries map[string]*canvasEntry
	nextSub int
	closed  bool

	keys *KeyedMutex

	locker  ports.CanvasLocker
	ttl     time.Duration
	logger  *slog.Logger
	metrics *observability.Metrics
}

// Option configures the Manager.
type Option func(*Manager)

// WithLocker records grants in a shared store as well.
func WithLocker(locker ports.CanvasLocker, ttl time.Duration) Option {
	return func(m *Manager) {
		m.locker = locker
		if ttl > 0 {
			m.ttl = ttl
		}
	}
}

// WithLogger configures a logger for the Manager.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithMetrics tracks held locks on metrics.
func WithMetrics(metrics *observability.Metrics) Option {
	return func(m *Manager) {
		m.metrics = metrics
	}
}

// NewManager creates a lock Manager.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		entries: make(map[string]*canvasEntry),
		keys:    NewKeyedMutex(),
		ttl:     DefaultTTL,
		logger:  logging.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Acquire grants canvasID to holder without blocking.
//
// Acquiring a lock already held by holder succeeds and refreshes the
// distributed TTL. If another holder owns it, Acquire returns a
// *domain.LockConflictError.
func (m *Manager) Acquire(ctx context.Context, canvasID, holder string) error {
	if holder == "" {
		return fmt.Errorf("lock holder must not be empty")
	}
	return m.keys.WithLock(ctx, canvasID, func(ctx context.Context) error {
		current, _ := m.Holder(canvasID)
		if current != "" && current != holder {
			return &domain.LockConflictError{CanvasID: canvasID, HolderID: current}
		}

		if m.locker != nil {
			ok, remote, err := m.locker.TryLock(ctx, canvasID, holder, m.ttl)
			if err != nil {
				return fmt.Errorf("failed to acquire distributed lock: %w", err)
			}
			if !ok {
				return &domain.LockConflictError{CanvasID: canvasID, HolderID: remote}
			}
		}

		if current == holder {
			return nil
		}
		m.set(canvasID, holder)
		m.metrics.LockAcquired()
		m.logger.Debug("Canvas locked", "canvas_id", canvasID, "holder", holder)
		return nil
	})
}

// Release frees canvasID if holder owns it and reports whether it did.
func (m *Manager) Release(ctx context.Context, canvasID, holder string) (bool, error) {
	released := false
	err := m.keys.WithLock(ctx, canvasID, func(ctx context.Context) error {
		current, _ := m.Holder(canvasID)
		if current == "" || current != holder {
			return nil
		}

		if m.locker != nil {
			if err := m.locker.Unlock(ctx, canvasID, holder); err != nil {
				m.logger.Warn("Failed to release distributed lock (will expire via TTL)",
					"canvas_id", canvasID,
					"holder", holder,
					"err", err,
				)
			}
		}

		m.set(canvasID, "")
		released = true
		m.metrics.LockReleased()
		m.logger.Debug("Canvas unlocked", "canvas_id", canvasID, "holder", holder)
		return nil
	})
	return released, err
}

// Holder returns the session holding canvasID, if any.
func (m *Manager) Holder(canvasID string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[canvasID]
	if !ok || entry.holder == "" {
		return "", false
	}
	return entry.holder, true
}

// Status returns the current lock state of canvasID.
func (m *Manager) Status(canvasID string) Status {
	holder, locked := m.Holder(canvasID)
	return Status{CanvasID: canvasID, IsLocked: locked, HolderID: holder}
}

// Subscribe streams lock changes of canvasID. The current state is always
// the first value. Slow readers only see the latest state. The channel is
// closed when ctx ends, when the returned cancel func is called, or when
// the Manager is closed.
func (m *Manager) Subscribe(ctx context.Context, canvasID string) (<-chan Status, func()) {
	ch := make(chan Status, 1)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	entry := m.entry(canvasID)
	id := m.nextSub
	m.nextSub++
	entry.subs[id] = ch
	ch <- statusOf(canvasID, entry)
	m.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			entry, ok := m.entries[canvasID]
			if !ok {
				return
			}
			if sub, ok := entry.subs[id]; ok {
				delete(entry.subs, id)
				close(sub)
			}
			m.gc(canvasID, entry)
		})
	}
	stop := context.AfterFunc(ctx, cancel)
	return ch, func() {
		stop()
		cancel()
	}
}

// Close ends every subscription. Held locks are left as they are.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	for canvasID, entry := range m.entries {
		for id, sub := range entry.subs {
			delete(entry.subs, id)
			close(sub)
		}
		m.gc(canvasID, entry)
	}
}

// set updates the holder and publishes the change.
func (m *Manager) set(canvasID, holder string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry := m.entry(canvasID)
	entry.holder = holder
	if holder != "" {
		entry.acquiredAt = time.Now()
	} else {
		entry.acquiredAt = time.Time{}
	}
	status := statusOf(canvasID, entry)
	for _, sub := range entry.subs {
		offer(sub, status)
	}
	m.gc(canvasID, entry)
}

// entry returns the entry for canvasID, creating it. Caller holds m.mu.
func (m *Manager) entry(canvasID string) *canvasEntry {
	entry, ok := m.entries[canvasID]
	if !ok {
		entry = &canvasEntry{subs: make(map[int]chan Status)}
		m.entries[canvasID] = entry
	}
	return entry
}

// gc drops entries nobody holds or watches. Caller holds m.mu.
func (m *Manager) gc(canvasID string, entry *canvasEntry) {
	if entry.holder == "" && len(entry.subs) == 0 {
		delete(m.entries, canvasID)
	}
}

func statusOf(canvasID string, entry *canvasEntry) Status {
	return Status{CanvasID: canvasID, IsLocked: entry.holder != "", HolderID: entry.holder}
}

// offer replaces any unread value in ch with s.
func offer(ch chan Status, s Status) {
	for {
		select {
		case ch <- s:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}
