// Package sandbox runs untrusted graph transformation programs.
//
// A program receives a snapshot of the canvas (nodes, edges, handles and the
// read-only template list) plus a single helper, generateId, and must return
// an object with nodes, edges and handles. Every run gets a fresh interpreter
// with no network, filesystem, clock or host access. Backends are swappable;
// see the jsvm and luavm subpackages.
package sandbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aretw0/easel/internal/logging"
	"github.com/aretw0/easel/pkg/domain"
	"github.com/aretw0/easel/pkg/observability"
	"github.com/aretw0/easel/pkg/schema"
	"github.com/google/uuid"
)

const (
	DefaultTimeout        = 5 * time.Second
	DefaultMaxOutputBytes = 4 << 20
	DefaultMaxCallStack   = 512
)

// Program is a loaded transformation, valid only for the backend that loaded it.
type Program interface {
	Language() string
}

// Input is what a backend injects into one run.
type Input struct {
	// Snapshot is the JSON encoding of a Snapshot.
	Snapshot []byte

	// NewID backs the generateId helper.
	NewID func() string

	MaxCallStack int
}

// Backend is an embedded interpreter.
//
// Run must create a fresh execution context per call, abort promptly when
// ctx is done, and return the JSON encoding of the program's return value.
// Runtime faults are reported as *domain.SandboxError.
type Backend interface {
	Name() string
	Load(source string) (Program, error)
	Run(ctx context.Context, prog Program, in Input) ([]byte, error)
}

// Snapshot is the data a program transforms.
type Snapshot struct {
	Nodes     []domain.Node     `json:"nodes"`
	Edges     []domain.Edge     `json:"edges"`
	Handles   []domain.Handle   `json:"handles"`
	Templates []domain.Template `json:"templates"`
}

// SnapshotOf copies g into a Snapshot.
func SnapshotOf(g *domain.Graph, templates []domain.Template) Snapshot {
	p := g.Payload()
	if templates == nil {
		templates = []domain.Template{}
	}
	return Snapshot{Nodes: p.Nodes, Edges: p.Edges, Handles: p.Handles, Templates: templates}
}

// Payload returns the mutable part of s.
func (s Snapshot) Payload() domain.GraphPayload {
	return domain.GraphPayload{Nodes: s.Nodes, Edges: s.Edges, Handles: s.Handles}.Clone()
}

// Limits bounds one run.
type Limits struct {
	Timeout        time.Duration
	MaxOutputBytes int
	MaxCallStack   int
}

// Executor validates and runs programs on one backend.
type Executor struct {
	backend Backend
	limits  Limits
	newID   func() string
	logger  *slog.Logger
	metrics *observability.Metrics
}

// Option configures the Executor.
type Option func(*Executor)

// WithLimits overrides the default run limits. Zero fields keep their default.
func WithLimits(l Limits) Option {
	return func(e *Executor) {
		if l.Timeout > 0 {
			e.limits.Timeout = l.Timeout
		}
		if l.MaxOutputBytes > 0 {
			e.limits.MaxOutputBytes = l.MaxOutputBytes
		}
		if l.MaxCallStack > 0 {
			e.limits.MaxCallStack = l.MaxCallStack
		}
	}
}

// WithIDGenerator replaces the generateId helper.
func WithIDGenerator(fn func() string) Option {
	return func(e *Executor) {
		e.newID = fn
	}
}

// WithLogger configures a logger for the executor.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Executor) {
		e.logger = logger
	}
}

// WithMetrics records runs on m.
func WithMetrics(m *observability.Metrics) Option {
	return func(e *Executor) {
		e.metrics = m
	}
}

// NewExecutor creates an Executor.
func NewExecutor(backend Backend, opts ...Option) *Executor {
	e := &Executor{
		backend: backend,
		limits: Limits{
			Timeout:        DefaultTimeout,
			MaxOutputBytes: DefaultMaxOutputBytes,
			MaxCallStack:   DefaultMaxCallStack,
		},
		newID:  func() string { return "temp-" + uuid.NewString() },
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Language names the program language the backend accepts.
func (e *Executor) Language() string {
	return e.backend.Name()
}

// Limits returns the effective run limits.
func (e *Executor) Limits() Limits {
	return e.limits
}

// Execute runs source against snap and returns the validated result.
//
// Validation short-circuits: load errors and runtime faults come back as
// *domain.SandboxError, an oversized result as a fault in the "output" stage,
// and a result that is not {nodes, edges, handles} of valid entities as
// domain.ValidationErrors. If ctx itself is canceled, its error is returned.
func (e *Executor) Execute(ctx context.Context, source string, snap Snapshot) (domain.GraphPayload, error) {
	start := time.Now()
	payload, err := e.execute(ctx, source, snap)
	outcome := outcomeOf(err)
	e.metrics.SandboxRun(e.backend.Name(), outcome, time.Since(start))
	if err != nil {
		e.logger.Debug("Sandbox run failed", "backend", e.backend.Name(), "outcome", outcome, "error", err)
	}
	return payload, err
}

func (e *Executor) execute(ctx context.Context, source string, snap Snapshot) (domain.GraphPayload, error) {
	prog, err := e.backend.Load(source)
	if err != nil {
		return domain.GraphPayload{}, asFault("load", err)
	}

	in, err := json.Marshal(snap)
	if err != nil {
		return domain.GraphPayload{}, fmt.Errorf("failed to encode snapshot: %w", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, e.limits.Timeout)
	defer cancel()

	out, err := e.backend.Run(runCtx, prog, Input{
		Snapshot:     in,
		NewID:        e.newID,
		MaxCallStack: e.limits.MaxCallStack,
	})
	if ctx.Err() != nil {
		return domain.GraphPayload{}, ctx.Err()
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return domain.GraphPayload{}, &domain.SandboxError{
			Kind:    domain.SandboxTimeout,
			Stage:   "run",
			Message: fmt.Sprintf("program exceeded %s", e.limits.Timeout),
		}
	}
	if err != nil {
		return domain.GraphPayload{}, asFault("run", err)
	}

	if len(out) > e.limits.MaxOutputBytes {
		return domain.GraphPayload{}, &domain.SandboxError{
			Kind:    domain.SandboxFault,
			Stage:   "output",
			Message: fmt.Sprintf("returned graph is %d bytes, limit is %d", len(out), e.limits.MaxOutputBytes),
		}
	}

	return schema.ParsePayloadJSON(out, schema.Options{RequireAll: true})
}

func asFault(stage string, err error) error {
	var sandboxErr *domain.SandboxError
	if errors.As(err, &sandboxErr) {
		return sandboxErr
	}
	return &domain.SandboxError{Kind: domain.SandboxFault, Stage: stage, Message: err.Error()}
}

func outcomeOf(err error) string {
	var sandboxErr *domain.SandboxError
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &sandboxErr):
		return string(sandboxErr.Kind)
	case errors.Is(err, context.Canceled):
		return "canceled"
	case domain.Retryable(err):
		return "invalid"
	default:
		return "error"
	}
}
