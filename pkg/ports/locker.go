package ports

import (
	"context"
	"time"

	"github.com/aretw0/easel/pkg/domain"
)

// CanvasLocker defines cross-replica coordination of the agent session lock.
// The in-process lock manager consults it so that two replicas never grant
// the same canvas to different sessions.
type CanvasLocker interface {
	// TryLock attempts to take the lock for canvasID on behalf of owner without blocking.
	// It succeeds if the lock is free or already held by owner (refreshing its TTL).
	// On conflict it returns false and the current holder.
	TryLock(ctx context.Context, canvasID, owner string, ttl time.Duration) (bool, string, error)

	// Unlock releases the lock only if owner still holds it.
	Unlock(ctx context.Context, canvasID, owner string) error
}

// TemplateCatalog resolves immutable node templates.
type TemplateCatalog interface {
	// Get returns domain.ErrTemplateNotFound if the template does not exist.
	Get(templateID string) (domain.Template, error)

	// List returns every template in a stable order.
	List() []domain.Template
}
