package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/aretw0/easel/pkg/domain"
)

func (s *Store) EnsureSession(ctx context.Context, sessionID, canvasID string) (*domain.AgentSession, error) {
	now := formatTime(s.now())
	if _, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO sessions (id, canvas_id, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		sessionID, canvasID, now, now,
	); err != nil {
		return nil, fmt.Errorf("ensure session: %w", err)
	}
	return s.GetSession(ctx, sessionID)
}

func (s *Store) GetSession(ctx context.Context, sessionID string) (*domain.AgentSession, error) {
	sess := &domain.AgentSession{Events: []domain.SessionEvent{}}
	var created, updated string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, canvas_id, created_at, updated_at FROM sessions WHERE id = ?`, sessionID,
	).Scan(&sess.ID, &sess.CanvasID, &created, &updated)
	if err == sql.ErrNoRows {
		return nil, domain.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select session: %w", err)
	}
	sess.CreatedAt = parseTime(created)
	sess.UpdatedAt = parseTime(updated)

	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, type, role, content, patch_id, action, created_at
		FROM session_events WHERE session_id = ? ORDER BY seq`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("select session events: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var ev domain.SessionEvent
		var typ, role, action, at string
		if err := rows.Scan(&ev.Seq, &typ, &role, &ev.Content, &ev.PatchID, &action, &at); err != nil {
			return nil, fmt.Errorf("scan session event: %w", err)
		}
		ev.Type = domain.EventType(typ)
		ev.Role = domain.Role(role)
		ev.Action = domain.PatchState(action)
		ev.Timestamp = parseTime(at)
		sess.Events = append(sess.Events, ev)
	}
	return sess, rows.Err()
}

func (s *Store) AppendEvent(ctx context.Context, sessionID string, event domain.SessionEvent) (domain.SessionEvent, error) {
	if event.Timestamp.IsZero() {
		event.Timestamp = s.now()
	}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions WHERE id = ?`, sessionID).Scan(&exists)
		if err != nil {
			return fmt.Errorf("select session: %w", err)
		}
		if exists == 0 {
			return domain.ErrSessionNotFound
		}
		if err := tx.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(seq), 0) + 1 FROM session_events WHERE session_id = ?`, sessionID,
		).Scan(&event.Seq); err != nil {
			return fmt.Errorf("next event seq: %w", err)
		}
		at := formatTime(event.Timestamp)
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO session_events (session_id, seq, type, role, content, patch_id, action, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			sessionID, event.Seq, string(event.Type), string(event.Role), event.Content, event.PatchID, string(event.Action), at,
		); err != nil {
			return fmt.Errorf("insert session event: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `UPDATE sessions SET updated_at = ? WHERE id = ?`, at, sessionID); err != nil {
			return fmt.Errorf("touch session: %w", err)
		}
		return nil
	})
	if err != nil {
		return domain.SessionEvent{}, err
	}
	return event, nil
}
