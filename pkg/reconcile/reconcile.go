// Package reconcile computes the writes that turn a persisted canvas graph
// into a proposed one.
//
// The Reconciler is shared by the direct bulk-update path and by patch
// acceptance, so both produce identical change sets for identical input.
// It never touches storage: Plan is a pure function of the persisted graph,
// the proposal and the template catalog.
package reconcile

import (
	"log/slog"

	"github.com/aretw0/easel/internal/logging"
	"github.com/aretw0/easel/pkg/domain"
	"github.com/aretw0/easel/pkg/ports"
	"github.com/google/uuid"
)

// Warning records an entity dropped by the lenient-skip policy.
type Warning struct {
	Entity string `json:"entity"`
	ID     string `json:"id"`
	Reason string `json:"reason"`
}

// Plan is the outcome of reconciling a proposal against a persisted graph.
type Plan struct {
	ChangeSet domain.ChangeSet `json:"changeSet"`

	// IDRemap maps every client-supplied id that was replaced to its durable id.
	IDRemap map[string]string `json:"idRemap"`

	Warnings []Warning `json:"warnings,omitempty"`

	// Result is the graph as it will be once ChangeSet is applied.
	Result *domain.Graph `json:"result"`
}

// IsEmpty reports whether the plan writes nothing.
func (p *Plan) IsEmpty() bool {
	return p.ChangeSet.IsEmpty()
}

// Summary renders the plan as a GraphDiff against persisted.
func (p *Plan) Summary(persisted *domain.Graph) *domain.GraphDiff {
	return domain.Diff(persisted, &p.ChangeSet)
}

// Reconciler diffs proposals against persisted graphs.
type Reconciler struct {
	catalog ports.TemplateCatalog
	newID   func() string
	logger  *slog.Logger
}

// Option configures the Reconciler.
type Option func(*Reconciler)

// WithIDGenerator replaces the durable id generator (uuid by default).
func WithIDGenerator(fn func() string) Option {
	return func(r *Reconciler) {
		r.newID = fn
	}
}

// WithLogger configures a logger for skipped-entity warnings.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Reconciler) {
		r.logger = logger
	}
}

// New creates a Reconciler resolving templates from catalog.
func New(catalog ports.TemplateCatalog, opts ...Option) *Reconciler {
	r := &Reconciler{
		catalog: catalog,
		newID:   uuid.NewString,
		logger:  logging.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Plan reconciles proposed against persisted.
//
// For each entity kind present in proposed (non-nil slice), ids absent from
// persisted become creates with freshly minted ids, ids present in both become
// updates when anything changed, and persisted ids absent from the proposal
// become deletes. Kinds absent from proposed are kept as persisted, except for
// entities whose owner is deleted and fixed ports that drifted from their
// template.
//
// Node and handle violations fail the whole plan with domain.ValidationErrors
// or *domain.ReferentialError. Invalid edges are skipped and reported in
// Plan.Warnings.
func (r *Reconciler) Plan(persisted *domain.Graph, proposed domain.GraphPayload) (*Plan, error) {
	if persisted == nil {
		persisted = &domain.Graph{}
	}
	st := newState(r, persisted)

	if err := st.planNodes(proposed.Nodes); err != nil {
		return nil, err
	}
	if err := st.planHandles(proposed.Handles); err != nil {
		return nil, err
	}
	if err := st.planEdges(proposed.Edges); err != nil {
		return nil, err
	}

	plan := &Plan{
		ChangeSet: st.cs,
		IDRemap:   st.remap,
		Warnings:  st.warnings,
		Result:    st.result(),
	}
	plan.ChangeSet.CanvasID = persisted.Canvas.ID
	return plan, nil
}

func (r *Reconciler) warn(canvasID string, w Warning) {
	r.logger.Warn("Skipped invalid entity during reconciliation",
		"canvas_id", canvasID,
		"entity", w.Entity,
		"entity_id", w.ID,
		"reason", w.Reason,
	)
}
