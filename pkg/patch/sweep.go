package patch

import (
	"context"
	"time"

	"github.com/aretw0/easel/pkg/ports"
)

// Sweep expires open patches older than the TTL and returns how many it
// expired. Their sessions lose the canvas lock.
func (m *Manager) Sweep(ctx context.Context) (int, error) {
	open, err := m.patches.ListPatches(ctx, ports.PatchFilter{States: openStates})
	if err != nil {
		return 0, err
	}
	cutoff := m.now().Add(-m.ttl)
	n := 0
	for _, p := range open {
		if p.CreatedAt.After(cutoff) {
			continue
		}
		if _, err := m.Expire(ctx, p.ID); err != nil {
			// Resolved concurrently; nothing left to expire.
			m.logger.Debug("Skipped stale patch", "patch_id", p.ID, "err", err)
			continue
		}
		m.logger.Info("Patch expired after TTL", "patch_id", p.ID, "canvas_id", p.CanvasID, "session_id", p.SessionID)
		n++
	}
	return n, nil
}

// Run sweeps every interval until ctx ends.
func (m *Manager) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := m.Sweep(ctx); err != nil && ctx.Err() == nil {
				m.logger.Warn("Patch sweep failed", "err", err)
			}
		}
	}
}
