package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/aretw0/easel/pkg/domain"
)

type canvasData struct {
	canvas  domain.Canvas
	nodes   []domain.Node
	handles []domain.Handle
	edges   []domain.Edge
}

func (d *canvasData) clone() *canvasData {
	g := (&domain.Graph{Nodes: d.nodes, Handles: d.handles, Edges: d.edges}).Clone()
	return &canvasData{canvas: d.canvas, nodes: g.Nodes, handles: g.Handles, edges: g.Edges}
}

// GraphStore implements ports.GraphStore in memory.
// Apply works on a copy of the canvas and swaps it in only when every
// constraint holds, so a failed change set leaves no trace.
// Safe for concurrent use.
type GraphStore struct {
	mu       sync.RWMutex
	canvases map[string]*canvasData
	now      func() time.Time
}

// NewGraphStore creates a new in-memory graph store.
func NewGraphStore() *GraphStore {
	return &GraphStore{
		canvases: make(map[string]*canvasData),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *GraphStore) CreateCanvas(ctx context.Context, canvas domain.Canvas) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.canvases[canvas.ID]; exists {
		return fmt.Errorf("canvas %s already exists", canvas.ID)
	}
	if canvas.CreatedAt.IsZero() {
		canvas.CreatedAt = s.now()
	}
	if canvas.UpdatedAt.IsZero() {
		canvas.UpdatedAt = canvas.CreatedAt
	}
	s.canvases[canvas.ID] = &canvasData{canvas: canvas}
	return nil
}

func (s *GraphStore) GetCanvas(ctx context.Context, canvasID string) (*domain.Canvas, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, ok := s.canvases[canvasID]
	if !ok {
		return nil, domain.ErrCanvasNotFound
	}
	c := data.canvas
	return &c, nil
}

func (s *GraphStore) ListCanvases(ctx context.Context) ([]domain.Canvas, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Canvas, 0, len(s.canvases))
	for _, data := range s.canvases {
		out = append(out, data.canvas)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *GraphStore) DeleteCanvas(ctx context.Context, canvasID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.canvases[canvasID]; !ok {
		return domain.ErrCanvasNotFound
	}
	delete(s.canvases, canvasID)
	return nil
}

func (s *GraphStore) LoadGraph(ctx context.Context, canvasID string) (*domain.Graph, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, ok := s.canvases[canvasID]
	if !ok {
		return nil, domain.ErrCanvasNotFound
	}
	c := data.clone()
	return &domain.Graph{Canvas: c.canvas, Nodes: c.nodes, Handles: c.handles, Edges: c.edges}, nil
}

func (s *GraphStore) Apply(ctx context.Context, cs *domain.ChangeSet) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.canvases[cs.CanvasID]
	if !ok {
		return domain.ErrCanvasNotFound
	}
	next := current.clone()
	if err := s.apply(next, cs); err != nil {
		return &domain.TransactionError{CanvasID: cs.CanvasID, Err: err}
	}
	s.canvases[cs.CanvasID] = next
	return nil
}

func (s *GraphStore) apply(d *canvasData, cs *domain.ChangeSet) error {
	now := s.now()

	for _, id := range cs.DeleteEdges {
		d.edges = removeByID(d.edges, id, func(e domain.Edge) string { return e.ID })
	}
	for _, id := range cs.DeleteHandles {
		for _, e := range d.edges {
			if e.SourceHandleID == id || e.TargetHandleID == id {
				return fmt.Errorf("handle %s is still referenced by edge %s", id, e.ID)
			}
		}
		d.handles = removeByID(d.handles, id, func(h domain.Handle) string { return h.ID })
	}
	for _, id := range cs.DeleteNodes {
		for _, h := range d.handles {
			if h.NodeID == id {
				return fmt.Errorf("node %s still owns handle %s", id, h.ID)
			}
		}
		d.nodes = removeByID(d.nodes, id, func(n domain.Node) string { return n.ID })
	}

	nodeIdx := indexOf(d.nodes, func(n domain.Node) string { return n.ID })
	for _, n := range cs.CreateNodes {
		if _, exists := nodeIdx[n.ID]; exists {
			return fmt.Errorf("node %s already exists", n.ID)
		}
		n = n.Clone()
		n.CanvasID = d.canvas.ID
		n.CreatedAt, n.UpdatedAt = now, now
		nodeIdx[n.ID] = len(d.nodes)
		d.nodes = append(d.nodes, n)
	}
	for _, n := range cs.UpdateNodes {
		i, exists := nodeIdx[n.ID]
		if !exists {
			return fmt.Errorf("node %s does not exist", n.ID)
		}
		n = n.Clone()
		n.CanvasID = d.canvas.ID
		n.CreatedAt, n.UpdatedAt = d.nodes[i].CreatedAt, now
		d.nodes[i] = n
	}

	handleIdx := indexOf(d.handles, func(h domain.Handle) string { return h.ID })
	for _, h := range cs.CreateHandles {
		if _, exists := handleIdx[h.ID]; exists {
			return fmt.Errorf("handle %s already exists", h.ID)
		}
		if _, ok := nodeIdx[h.NodeID]; !ok {
			return fmt.Errorf("handle %s references missing node %s", h.ID, h.NodeID)
		}
		handleIdx[h.ID] = len(d.handles)
		d.handles = append(d.handles, h.Clone())
	}
	for _, h := range cs.UpdateHandles {
		i, exists := handleIdx[h.ID]
		if !exists {
			return fmt.Errorf("handle %s does not exist", h.ID)
		}
		if _, ok := nodeIdx[h.NodeID]; !ok {
			return fmt.Errorf("handle %s references missing node %s", h.ID, h.NodeID)
		}
		d.handles[i] = h.Clone()
	}

	edgeIdx := indexOf(d.edges, func(e domain.Edge) string { return e.ID })
	targets := make(map[string]string, len(d.edges))
	for _, e := range d.edges {
		targets[e.TargetHandleID] = e.ID
	}
	for _, e := range cs.CreateEdges {
		if _, exists := edgeIdx[e.ID]; exists {
			return fmt.Errorf("edge %s already exists", e.ID)
		}
		if err := checkEndpoint(d, handleIdx, e.ID, e.SourceNodeID, e.SourceHandleID); err != nil {
			return err
		}
		if err := checkEndpoint(d, handleIdx, e.ID, e.TargetNodeID, e.TargetHandleID); err != nil {
			return err
		}
		if other, taken := targets[e.TargetHandleID]; taken {
			return fmt.Errorf("edge %s: target handle %s already has edge %s", e.ID, e.TargetHandleID, other)
		}
		targets[e.TargetHandleID] = e.ID
		edgeIdx[e.ID] = len(d.edges)
		d.edges = append(d.edges, e)
	}

	if cs.Rename != nil {
		d.canvas.Name = *cs.Rename
	}
	if !cs.IsEmpty() {
		d.canvas.UpdatedAt = now
	}
	return nil
}

func checkEndpoint(d *canvasData, handleIdx map[string]int, edgeID, nodeID, handleID string) error {
	i, ok := handleIdx[handleID]
	if !ok {
		return fmt.Errorf("edge %s references missing handle %s", edgeID, handleID)
	}
	if d.handles[i].NodeID != nodeID {
		return fmt.Errorf("edge %s: handle %s does not belong to node %s", edgeID, handleID, nodeID)
	}
	return nil
}

func indexOf[T any](items []T, id func(T) string) map[string]int {
	idx := make(map[string]int, len(items))
	for i, item := range items {
		idx[id(item)] = i
	}
	return idx
}

func removeByID[T any](items []T, target string, id func(T) string) []T {
	out := items[:0]
	for _, item := range items {
		if id(item) != target {
			out = append(out, item)
		}
	}
	return out
}
