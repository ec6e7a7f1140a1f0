package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aretw0/easel/pkg/domain"
)

func (s *Store) CreateCanvas(ctx context.Context, canvas domain.Canvas) error {
	if canvas.CreatedAt.IsZero() {
		canvas.CreatedAt = s.now()
	}
	if canvas.UpdatedAt.IsZero() {
		canvas.UpdatedAt = canvas.CreatedAt
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO canvases (id, name, owner_id, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		canvas.ID, canvas.Name, canvas.OwnerID, formatTime(canvas.CreatedAt), formatTime(canvas.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert canvas: %w", err)
	}
	return nil
}

func (s *Store) GetCanvas(ctx context.Context, canvasID string) (*domain.Canvas, error) {
	return getCanvas(ctx, s.db, canvasID)
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getCanvas(ctx context.Context, q querier, canvasID string) (*domain.Canvas, error) {
	var c domain.Canvas
	var created, updated string
	err := q.QueryRowContext(ctx,
		`SELECT id, name, owner_id, created_at, updated_at FROM canvases WHERE id = ?`, canvasID,
	).Scan(&c.ID, &c.Name, &c.OwnerID, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrCanvasNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select canvas: %w", err)
	}
	c.CreatedAt = parseTime(created)
	c.UpdatedAt = parseTime(updated)
	return &c, nil
}

func (s *Store) ListCanvases(ctx context.Context) ([]domain.Canvas, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, owner_id, created_at, updated_at FROM canvases ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list canvases: %w", err)
	}
	defer rows.Close()

	var out []domain.Canvas
	for rows.Next() {
		var c domain.Canvas
		var created, updated string
		if err := rows.Scan(&c.ID, &c.Name, &c.OwnerID, &created, &updated); err != nil {
			return nil, fmt.Errorf("scan canvas: %w", err)
		}
		c.CreatedAt = parseTime(created)
		c.UpdatedAt = parseTime(updated)
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) DeleteCanvas(ctx context.Context, canvasID string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := getCanvas(ctx, tx, canvasID); err != nil {
			return err
		}
		for _, stmt := range []string{
			`DELETE FROM edges WHERE canvas_id = ?`,
			`DELETE FROM handles WHERE canvas_id = ?`,
			`DELETE FROM nodes WHERE canvas_id = ?`,
			`DELETE FROM canvases WHERE id = ?`,
		} {
			if _, err := tx.ExecContext(ctx, stmt, canvasID); err != nil {
				return fmt.Errorf("delete canvas: %w", err)
			}
		}
		return nil
	})
}

func (s *Store) LoadGraph(ctx context.Context, canvasID string) (*domain.Graph, error) {
	var g *domain.Graph
	err := s.withReadTx(ctx, func(tx *sql.Tx) error {
		canvas, err := getCanvas(ctx, tx, canvasID)
		if err != nil {
			return err
		}
		loaded := &domain.Graph{Canvas: *canvas}
		if loaded.Nodes, err = loadNodes(ctx, tx, canvasID); err != nil {
			return err
		}
		if loaded.Handles, err = loadHandles(ctx, tx, canvasID); err != nil {
			return err
		}
		if loaded.Edges, err = loadEdges(ctx, tx, canvasID); err != nil {
			return err
		}
		g = loaded
		return nil
	})
	if err != nil {
		return nil, err
	}
	return g, nil
}

func loadNodes(ctx context.Context, q querier, canvasID string) ([]domain.Node, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, type, template_id, pos_x, pos_y, width, height, config, result, is_dirty, created_at, updated_at
		FROM nodes WHERE canvas_id = ? ORDER BY rowid`, canvasID)
	if err != nil {
		return nil, fmt.Errorf("select nodes: %w", err)
	}
	defer rows.Close()

	nodes := []domain.Node{}
	for rows.Next() {
		var n domain.Node
		var nodeType, created, updated string
		var config, result sql.NullString
		var dirty int
		if err := rows.Scan(&n.ID, &nodeType, &n.TemplateID, &n.Position.X, &n.Position.Y,
			&n.Size.Width, &n.Size.Height, &config, &result, &dirty, &created, &updated); err != nil {
			return nil, fmt.Errorf("scan node: %w", err)
		}
		n.CanvasID = canvasID
		n.Type = domain.NodeType(nodeType)
		n.IsDirty = dirty != 0
		n.CreatedAt = parseTime(created)
		n.UpdatedAt = parseTime(updated)

		var fields map[string]any
		if config.Valid {
			if err := json.Unmarshal([]byte(config.String), &fields); err != nil {
				return nil, fmt.Errorf("decode config of node %s: %w", n.ID, err)
			}
		}
		if n.Config, err = domain.DecodeConfig(n.Type, fields); err != nil {
			return nil, fmt.Errorf("decode config of node %s: %w", n.ID, err)
		}
		if result.Valid {
			n.Result = &domain.NodeResult{}
			if err := json.Unmarshal([]byte(result.String), n.Result); err != nil {
				return nil, fmt.Errorf("decode result of node %s: %w", n.ID, err)
			}
		}
		nodes = append(nodes, n)
	}
	return nodes, rows.Err()
}

func loadHandles(ctx context.Context, q querier, canvasID string) ([]domain.Handle, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, node_id, direction, data_types, label, ord, required, template_handle_id
		FROM handles WHERE canvas_id = ? ORDER BY rowid`, canvasID)
	if err != nil {
		return nil, fmt.Errorf("select handles: %w", err)
	}
	defer rows.Close()

	handles := []domain.Handle{}
	for rows.Next() {
		var h domain.Handle
		var direction, dataTypes string
		var required int
		if err := rows.Scan(&h.ID, &h.NodeID, &direction, &dataTypes, &h.Label, &h.Order, &required, &h.TemplateHandleID); err != nil {
			return nil, fmt.Errorf("scan handle: %w", err)
		}
		h.Type = domain.Direction(direction)
		h.Required = required != 0
		if err := json.Unmarshal([]byte(dataTypes), &h.DataTypes); err != nil {
			return nil, fmt.Errorf("decode data types of handle %s: %w", h.ID, err)
		}
		handles = append(handles, h)
	}
	return handles, rows.Err()
}

func loadEdges(ctx context.Context, q querier, canvasID string) ([]domain.Edge, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, source_node_id, source_handle_id, target_node_id, target_handle_id
		FROM edges WHERE canvas_id = ? ORDER BY rowid`, canvasID)
	if err != nil {
		return nil, fmt.Errorf("select edges: %w", err)
	}
	defer rows.Close()

	edges := []domain.Edge{}
	for rows.Next() {
		var e domain.Edge
		if err := rows.Scan(&e.ID, &e.SourceNodeID, &e.SourceHandleID, &e.TargetNodeID, &e.TargetHandleID); err != nil {
			return nil, fmt.Errorf("scan edge: %w", err)
		}
		edges = append(edges, e)
	}
	return edges, rows.Err()
}

// Apply writes cs in one transaction. Deletes run first (edges, handles,
// nodes), then node, handle and edge writes, so foreign keys always point
// at rows that exist.
func (s *Store) Apply(ctx context.Context, cs *domain.ChangeSet) error {
	var missing bool
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := getCanvas(ctx, tx, cs.CanvasID); err != nil {
			missing = errors.Is(err, domain.ErrCanvasNotFound)
			return err
		}
		return s.apply(ctx, tx, cs)
	})
	switch {
	case err == nil:
		return nil
	case missing:
		return domain.ErrCanvasNotFound
	case ctx.Err() != nil:
		return ctx.Err()
	default:
		return &domain.TransactionError{CanvasID: cs.CanvasID, Err: err}
	}
}

func (s *Store) apply(ctx context.Context, tx *sql.Tx, cs *domain.ChangeSet) error {
	now := formatTime(s.now())
	id := cs.CanvasID

	for _, edgeID := range cs.DeleteEdges {
		if _, err := tx.ExecContext(ctx, `DELETE FROM edges WHERE canvas_id = ? AND id = ?`, id, edgeID); err != nil {
			return fmt.Errorf("delete edge %s: %w", edgeID, err)
		}
	}
	for _, handleID := range cs.DeleteHandles {
		if _, err := tx.ExecContext(ctx, `DELETE FROM handles WHERE canvas_id = ? AND id = ?`, id, handleID); err != nil {
			return fmt.Errorf("delete handle %s: %w", handleID, err)
		}
	}
	for _, nodeID := range cs.DeleteNodes {
		if _, err := tx.ExecContext(ctx, `DELETE FROM nodes WHERE canvas_id = ? AND id = ?`, id, nodeID); err != nil {
			return fmt.Errorf("delete node %s: %w", nodeID, err)
		}
	}

	for _, n := range cs.CreateNodes {
		config, result, err := encodeNode(n)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO nodes (canvas_id, id, type, template_id, pos_x, pos_y, width, height, config, result, is_dirty, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			id, n.ID, string(n.Type), n.TemplateID, n.Position.X, n.Position.Y, n.Size.Width, n.Size.Height,
			config, result, boolInt(n.IsDirty), now, now,
		); err != nil {
			return fmt.Errorf("insert node %s: %w", n.ID, err)
		}
	}
	for _, n := range cs.UpdateNodes {
		config, result, err := encodeNode(n)
		if err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `
			UPDATE nodes SET type = ?, template_id = ?, pos_x = ?, pos_y = ?, width = ?, height = ?,
				config = ?, result = ?, is_dirty = ?, updated_at = ?
			WHERE canvas_id = ? AND id = ?`,
			string(n.Type), n.TemplateID, n.Position.X, n.Position.Y, n.Size.Width, n.Size.Height,
			config, result, boolInt(n.IsDirty), now, id, n.ID,
		)
		if err := expectRow(res, err, "node", n.ID); err != nil {
			return err
		}
	}

	for _, h := range cs.CreateHandles {
		dataTypes, err := json.Marshal(h.DataTypes)
		if err != nil {
			return fmt.Errorf("encode handle %s: %w", h.ID, err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO handles (canvas_id, id, node_id, direction, data_types, label, ord, required, template_handle_id)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			id, h.ID, h.NodeID, string(h.Type), string(dataTypes), h.Label, h.Order, boolInt(h.Required), h.TemplateHandleID,
		); err != nil {
			return fmt.Errorf("insert handle %s: %w", h.ID, err)
		}
	}
	for _, h := range cs.UpdateHandles {
		dataTypes, err := json.Marshal(h.DataTypes)
		if err != nil {
			return fmt.Errorf("encode handle %s: %w", h.ID, err)
		}
		res, err := tx.ExecContext(ctx, `
			UPDATE handles SET node_id = ?, direction = ?, data_types = ?, label = ?, ord = ?, required = ?, template_handle_id = ?
			WHERE canvas_id = ? AND id = ?`,
			h.NodeID, string(h.Type), string(dataTypes), h.Label, h.Order, boolInt(h.Required), h.TemplateHandleID, id, h.ID,
		)
		if err := expectRow(res, err, "handle", h.ID); err != nil {
			return err
		}
	}

	for _, e := range cs.CreateEdges {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO edges (canvas_id, id, source_node_id, source_handle_id, target_node_id, target_handle_id)
			VALUES (?, ?, ?, ?, ?, ?)`,
			id, e.ID, e.SourceNodeID, e.SourceHandleID, e.TargetNodeID, e.TargetHandleID,
		); err != nil {
			return fmt.Errorf("insert edge %s: %w", e.ID, err)
		}
	}

	if cs.Rename != nil {
		if _, err := tx.ExecContext(ctx, `UPDATE canvases SET name = ? WHERE id = ?`, *cs.Rename, id); err != nil {
			return fmt.Errorf("rename canvas: %w", err)
		}
	}
	if !cs.IsEmpty() {
		if _, err := tx.ExecContext(ctx, `UPDATE canvases SET updated_at = ? WHERE id = ?`, now, id); err != nil {
			return fmt.Errorf("touch canvas: %w", err)
		}
	}
	return nil
}

func encodeNode(n domain.Node) (config, result sql.NullString, err error) {
	if n.Config != nil {
		data, err := json.Marshal(n.Config)
		if err != nil {
			return config, result, fmt.Errorf("encode config of node %s: %w", n.ID, err)
		}
		config = sql.NullString{String: string(data), Valid: true}
	}
	if n.Result != nil {
		data, err := json.Marshal(n.Result)
		if err != nil {
			return config, result, fmt.Errorf("encode result of node %s: %w", n.ID, err)
		}
		result = sql.NullString{String: string(data), Valid: true}
	}
	return config, result, nil
}

func expectRow(res sql.Result, err error, entity, id string) error {
	if err != nil {
		return fmt.Errorf("update %s %s: %w", entity, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update %s %s: %w", entity, id, err)
	}
	if n == 0 {
		return fmt.Errorf("%s %s does not exist", entity, id)
	}
	return nil
}
