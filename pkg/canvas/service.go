package canvas

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aretw0/easel/internal/logging"
	"github.com/aretw0/easel/pkg/domain"
	"github.com/aretw0/easel/pkg/lock"
	"github.com/aretw0/easel/pkg/observability"
	"github.com/aretw0/easel/pkg/ports"
	"github.com/aretw0/easel/pkg/reconcile"
	"github.com/aretw0/easel/pkg/schema"
	"github.com/google/uuid"
)

// CommitRequest is a proposal to write to a canvas.
type CommitRequest struct {
	Payload domain.GraphPayload
	Rename  *string

	// Holder is the agent session committing, empty for direct edits.
	Holder string
}

// Result describes a reconciliation against the persisted graph.
type Result struct {
	Graph    *domain.Graph       `json:"graph"`
	Summary  *domain.GraphDiff   `json:"summary"`
	IDRemap  map[string]string   `json:"idRemap"`
	Warnings []reconcile.Warning `json:"warnings,omitempty"`
	Applied  bool                `json:"applied"`
}

// Service reads and writes canvases.
type Service struct {
	graphs     ports.GraphStore
	catalog    ports.TemplateCatalog
	reconciler *reconcile.Reconciler

	commits     *lock.KeyedMutex
	locks       *lock.Manager
	guardDirect bool

	newID   func() string
	now     func() time.Time
	logger  *slog.Logger
	metrics *observability.Metrics
}

// Option configures the Service.
type Option func(*Service)

// WithLocks makes the Service aware of agent session locks. When guard is
// true, commits from anyone but the lock holder are refused.
func WithLocks(m *lock.Manager, guard bool) Option {
	return func(s *Service) {
		s.locks = m
		s.guardDirect = guard
	}
}

// WithIDGenerator replaces the canvas id generator (uuid by default).
func WithIDGenerator(fn func() string) Option {
	return func(s *Service) {
		s.newID = fn
	}
}

// WithLogger configures a logger for the Service.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithMetrics records reconciliation counts on metrics.
func WithMetrics(metrics *observability.Metrics) Option {
	return func(s *Service) {
		s.metrics = metrics
	}
}

// NewService creates a Service. A nil reconciler gets a default one over catalog.
func NewService(graphs ports.GraphStore, catalog ports.TemplateCatalog, reconciler *reconcile.Reconciler, opts ...Option) *Service {
	s := &Service{
		graphs:     graphs,
		catalog:    catalog,
		reconciler: reconciler,
		commits:    lock.NewKeyedMutex(),
		newID:      uuid.NewString,
		now:        func() time.Time { return time.Now().UTC() },
		logger:     logging.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.reconciler == nil {
		s.reconciler = reconcile.New(catalog, reconcile.WithLogger(s.logger))
	}
	return s
}

// Catalog returns the template catalog the Service reconciles against.
func (s *Service) Catalog() ports.TemplateCatalog {
	return s.catalog
}

// Create stores a new, empty canvas.
func (s *Service) Create(ctx context.Context, name, ownerID string) (*domain.Canvas, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, domain.ValidationErrors{{Field: "name", Reason: "must not be empty"}}
	}
	now := s.now()
	c := domain.Canvas{ID: s.newID(), Name: name, OwnerID: ownerID, CreatedAt: now, UpdatedAt: now}
	if err := s.graphs.CreateCanvas(ctx, c); err != nil {
		return nil, err
	}
	s.logger.Info("Canvas created", "canvas_id", c.ID)
	return &c, nil
}

// Get returns the full graph of canvasID with the templates its nodes use.
func (s *Service) Get(ctx context.Context, canvasID string) (*domain.Graph, error) {
	g, err := s.graphs.LoadGraph(ctx, canvasID)
	if err != nil {
		return nil, err
	}
	g.Templates = s.templatesOf(g)
	return g, nil
}

// List returns every canvas.
func (s *Service) List(ctx context.Context) ([]domain.Canvas, error) {
	return s.graphs.ListCanvases(ctx)
}

// Delete removes canvasID and everything it owns. A canvas held by an agent
// session cannot be deleted.
func (s *Service) Delete(ctx context.Context, canvasID string) error {
	return s.commits.WithLock(ctx, canvasID, func(ctx context.Context) error {
		if err := s.checkHolder(canvasID, ""); err != nil {
			return err
		}
		if err := s.graphs.DeleteCanvas(ctx, canvasID); err != nil {
			return err
		}
		s.logger.Info("Canvas deleted", "canvas_id", canvasID)
		return nil
	})
}

// Plan reconciles payload against the persisted graph without writing.
// Result.Graph is the graph as it would be after a commit.
func (s *Service) Plan(ctx context.Context, canvasID string, payload domain.GraphPayload) (*Result, error) {
	persisted, err := s.graphs.LoadGraph(ctx, canvasID)
	if err != nil {
		return nil, err
	}
	plan, err := s.reconciler.Plan(persisted, payload)
	if err != nil {
		return nil, err
	}
	res := &Result{
		Graph:    plan.Result,
		Summary:  plan.Summary(persisted),
		IDRemap:  plan.IDRemap,
		Warnings: plan.Warnings,
	}
	res.Graph.Templates = s.templatesOf(res.Graph)
	return res, nil
}

// Commit reconciles req against the persisted graph and applies the
// resulting change set atomically. Result.Graph is re-read after the write.
func (s *Service) Commit(ctx context.Context, canvasID string, req CommitRequest) (*Result, error) {
	var res *Result
	err := s.commits.WithLock(ctx, canvasID, func(ctx context.Context) error {
		if err := s.checkHolder(canvasID, req.Holder); err != nil {
			return err
		}
		persisted, err := s.graphs.LoadGraph(ctx, canvasID)
		if err != nil {
			return err
		}
		plan, err := s.reconciler.Plan(persisted, req.Payload)
		if err != nil {
			return err
		}
		cs := plan.ChangeSet
		if req.Rename != nil && *req.Rename != persisted.Canvas.Name {
			cs.Rename = req.Rename
		}

		applied := !cs.IsEmpty()
		if applied {
			if err := s.graphs.Apply(ctx, &cs); err != nil {
				s.logger.Error("Failed to apply change set", "canvas_id", canvasID, "err", err)
				return err
			}
			s.record(&cs)
		}
		s.metrics.ReconcileWarnings(len(plan.Warnings))

		fresh, err := s.Get(ctx, canvasID)
		if err != nil {
			return err
		}
		res = &Result{
			Graph:    fresh,
			Summary:  domain.Diff(persisted, &cs),
			IDRemap:  plan.IDRemap,
			Warnings: plan.Warnings,
			Applied:  applied,
		}
		s.logger.Debug("Canvas committed",
			"canvas_id", canvasID,
			"holder", req.Holder,
			"ops", cs.Count(),
			"warnings", len(plan.Warnings),
		)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// BulkUpdate applies a raw {name?, nodes?, edges?, handles?} body directly,
// without the sandbox. Kinds missing from raw are left as persisted.
func (s *Service) BulkUpdate(ctx context.Context, canvasID string, raw map[string]any) (*Result, error) {
	upd, err := schema.ParseUpdate(raw)
	if err != nil {
		return nil, err
	}
	return s.Commit(ctx, canvasID, CommitRequest{Payload: upd.Payload, Rename: upd.Name})
}

func (s *Service) checkHolder(canvasID, holder string) error {
	if s.locks == nil {
		return nil
	}
	current, locked := s.locks.Holder(canvasID)
	if !locked || current == holder {
		return nil
	}
	if holder == "" && !s.guardDirect {
		s.logger.Warn("Direct edit while canvas is locked by an agent session",
			"canvas_id", canvasID,
			"holder", current,
		)
		return nil
	}
	return &domain.LockConflictError{CanvasID: canvasID, HolderID: current}
}

func (s *Service) record(cs *domain.ChangeSet) {
	if s.metrics == nil {
		return
	}
	counts := []struct {
		entity, op string
		n          int
	}{
		{"node", string(domain.OpCreate), len(cs.CreateNodes)},
		{"node", string(domain.OpUpdate), len(cs.UpdateNodes)},
		{"node", string(domain.OpDelete), len(cs.DeleteNodes)},
		{"handle", string(domain.OpCreate), len(cs.CreateHandles)},
		{"handle", string(domain.OpUpdate), len(cs.UpdateHandles)},
		{"handle", string(domain.OpDelete), len(cs.DeleteHandles)},
		{"edge", string(domain.OpCreate), len(cs.CreateEdges)},
		{"edge", string(domain.OpDelete), len(cs.DeleteEdges)},
	}
	for _, c := range counts {
		s.metrics.Reconciled(c.entity, c.op, c.n)
	}
}

// templatesOf returns the catalog templates referenced by g, in catalog order.
func (s *Service) templatesOf(g *domain.Graph) []domain.Template {
	used := make(map[string]bool, len(g.Nodes))
	for _, n := range g.Nodes {
		used[n.TemplateID] = true
	}
	out := []domain.Template{}
	for _, tpl := range s.catalog.List() {
		if used[tpl.ID] {
			out = append(out, tpl)
		}
	}
	return out
}

// String implements fmt.Stringer for log output.
func (r *Result) String() string {
	if r == nil || r.Summary == nil {
		return "no changes"
	}
	d := r.Summary
	return fmt.Sprintf("nodes +%d ~%d -%d, handles +%d ~%d -%d, edges +%d -%d",
		d.Nodes.Created, d.Nodes.Updated, d.Nodes.Deleted,
		d.Handles.Created, d.Handles.Updated, d.Handles.Deleted,
		d.Edges.Created, d.Edges.Deleted)
}
