package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aretw0/easel/pkg/domain"
	"github.com/aretw0/easel/pkg/ports"
)

const patchColumns = `id, canvas_id, session_id, state, payload, summary, id_remap, created_at, resolved_at`

func (s *Store) SavePatch(ctx context.Context, patch *domain.Patch) error {
	payload, err := json.Marshal(patch.Payload)
	if err != nil {
		return fmt.Errorf("encode patch payload: %w", err)
	}
	summary, err := jsonColumn(patch.Summary, patch.Summary != nil)
	if err != nil {
		return fmt.Errorf("encode patch summary: %w", err)
	}
	remap, err := jsonColumn(patch.IDRemap, patch.IDRemap != nil)
	if err != nil {
		return fmt.Errorf("encode patch remap: %w", err)
	}
	var resolved sql.NullString
	if patch.ResolvedAt != nil {
		resolved = sql.NullString{String: formatTime(*patch.ResolvedAt), Valid: true}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO patches (`+patchColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			state = excluded.state,
			payload = excluded.payload,
			summary = excluded.summary,
			id_remap = excluded.id_remap,
			resolved_at = excluded.resolved_at`,
		patch.ID, patch.CanvasID, patch.SessionID, string(patch.State), string(payload),
		summary, remap, formatTime(patch.CreatedAt), resolved,
	)
	if err != nil {
		return fmt.Errorf("save patch: %w", err)
	}
	return nil
}

func (s *Store) GetPatch(ctx context.Context, patchID string) (*domain.Patch, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+patchColumns+` FROM patches WHERE id = ?`, patchID)
	p, err := scanPatch(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrPatchNotFound
	}
	return p, err
}

func (s *Store) ListPatches(ctx context.Context, filter ports.PatchFilter) ([]*domain.Patch, error) {
	var where []string
	var args []any
	if filter.CanvasID != "" {
		where = append(where, "canvas_id = ?")
		args = append(args, filter.CanvasID)
	}
	if filter.SessionID != "" {
		where = append(where, "session_id = ?")
		args = append(args, filter.SessionID)
	}
	if len(filter.States) > 0 {
		marks := make([]string, len(filter.States))
		for i, st := range filter.States {
			marks[i] = "?"
			args = append(args, string(st))
		}
		where = append(where, "state IN ("+strings.Join(marks, ", ")+")")
	}
	query := `SELECT ` + patchColumns + ` FROM patches`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at, rowid"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list patches: %w", err)
	}
	defer rows.Close()

	var out []*domain.Patch
	for rows.Next() {
		p, err := scanPatch(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPatch(row scanner) (*domain.Patch, error) {
	var p domain.Patch
	var state, payload, created string
	var summary, remap, resolved sql.NullString
	if err := row.Scan(&p.ID, &p.CanvasID, &p.SessionID, &state, &payload, &summary, &remap, &created, &resolved); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan patch: %w", err)
	}
	p.State = domain.PatchState(state)
	p.CreatedAt = parseTime(created)
	if err := json.Unmarshal([]byte(payload), &p.Payload); err != nil {
		return nil, fmt.Errorf("decode payload of patch %s: %w", p.ID, err)
	}
	if summary.Valid {
		p.Summary = &domain.GraphDiff{}
		if err := json.Unmarshal([]byte(summary.String), p.Summary); err != nil {
			return nil, fmt.Errorf("decode summary of patch %s: %w", p.ID, err)
		}
	}
	if remap.Valid {
		if err := json.Unmarshal([]byte(remap.String), &p.IDRemap); err != nil {
			return nil, fmt.Errorf("decode remap of patch %s: %w", p.ID, err)
		}
	}
	if v := nullString(resolved); v != "" {
		t := parseTime(v)
		p.ResolvedAt = &t
	}
	return &p, nil
}

func jsonColumn(v any, present bool) (sql.NullString, error) {
	if !present {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}
