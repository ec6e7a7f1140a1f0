package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/aretw0/easel/internal/logging"
	"github.com/aretw0/easel/pkg/canvas"
	"github.com/aretw0/easel/pkg/domain"
	"github.com/aretw0/easel/pkg/lock"
	"github.com/aretw0/easel/pkg/observability"
	"github.com/aretw0/easel/pkg/patch"
	"github.com/aretw0/easel/pkg/ports"
	"github.com/aretw0/easel/pkg/sandbox"
)

// DefaultMaxAttempts bounds program generations per turn.
const DefaultMaxAttempts = 3

// ErrTurnInProgress is returned when a canvas already has a running turn.
var ErrTurnInProgress = errors.New("an agent turn is already running on this canvas")

// TurnRequest is one user message to the agent.
type TurnRequest struct {
	CanvasID  string `json:"canvasId"`
	SessionID string `json:"sessionId"`
	Message   string `json:"message"`
	Model     string `json:"model,omitempty"`
}

// TurnResult is the outcome of a turn.
type TurnResult struct {
	Patch    *domain.Patch
	Reply    string
	Attempts int
}

type inflight struct {
	sessionID string
	cancel    context.CancelFunc
}

// Orchestrator runs agent turns.
type Orchestrator struct {
	canvases  *canvas.Service
	patches   *patch.Manager
	locks     *lock.Manager
	sessions  ports.SessionStore
	executor  *sandbox.Executor
	generator ports.ProgramGenerator

	maxAttempts    int
	maxInvocations int
	model          string

	mu      sync.Mutex
	running map[string]*inflight

	logger  *slog.Logger
	metrics *observability.Metrics
}

// Option configures the Orchestrator.
type Option func(*Orchestrator)

// WithMaxAttempts sets how many programs a turn may try.
func WithMaxAttempts(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxAttempts = n
		}
	}
}

// WithMaxInvocations caps sandbox runs per turn. Zero means maxAttempts.
func WithMaxInvocations(n int) Option {
	return func(o *Orchestrator) {
		o.maxInvocations = n
	}
}

// WithModel sets the model used when a request names none.
func WithModel(model string) Option {
	return func(o *Orchestrator) {
		o.model = model
	}
}

// WithLogger configures a logger for the Orchestrator.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

// WithMetrics records turn outcomes on metrics.
func WithMetrics(metrics *observability.Metrics) Option {
	return func(o *Orchestrator) {
		o.metrics = metrics
	}
}

// New creates an Orchestrator. generator may be nil, in which case only
// Submit can be used.
func New(
	canvases *canvas.Service,
	patches *patch.Manager,
	locks *lock.Manager,
	sessions ports.SessionStore,
	executor *sandbox.Executor,
	generator ports.ProgramGenerator,
	opts ...Option,
) *Orchestrator {
	o := &Orchestrator{
		canvases:    canvases,
		patches:     patches,
		locks:       locks,
		sessions:    sessions,
		executor:    executor,
		generator:   generator,
		maxAttempts: DefaultMaxAttempts,
		running:     make(map[string]*inflight),
		logger:      logging.NewNop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.maxInvocations <= 0 {
		o.maxInvocations = o.maxAttempts
	}
	return o
}

// Turn runs one conversational turn and reports progress to emit. The
// returned error is also reported as an error frame; a done frame is
// always emitted last.
func (o *Orchestrator) Turn(ctx context.Context, req TurnRequest, emit Emitter) (*TurnResult, error) {
	if emit == nil {
		emit = Discard
	}
	res, err := o.turn(ctx, req, emit)
	outcome := "proposed"
	switch {
	case err != nil:
		outcome = outcomeOf(err)
		o.send(emit, Frame{Type: FrameError, Error: err.Error(), Code: outcome})
	case res.Patch == nil:
		outcome = "message"
	}
	o.metrics.AgentTurn(outcome)
	o.send(emit, Frame{Type: FrameDone})
	return res, err
}

func (o *Orchestrator) turn(ctx context.Context, req TurnRequest, emit Emitter) (*TurnResult, error) {
	if o.generator == nil {
		return nil, fmt.Errorf("no program generator configured")
	}
	if strings.TrimSpace(req.Message) == "" {
		return nil, domain.ValidationErrors{{Field: "message", Reason: "must not be empty"}}
	}
	if req.SessionID == "" {
		return nil, domain.ValidationErrors{{Field: "sessionId", Reason: "must not be empty"}}
	}

	// 1. Claim the canvas. The turn is registered first so Cancel can reach
	// it from the moment it holds the lock.
	ctx, done, err := o.begin(ctx, req)
	if err != nil {
		return nil, err
	}
	defer done()
	// The lock is reentrant, so a second turn of the same session passes.
	if err := o.locks.Acquire(ctx, req.CanvasID, req.SessionID); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrCanceled, context.Cause(ctx))
		}
		return nil, err
	}

	res, err := o.converse(ctx, req, emit)
	if err != nil && ctx.Err() != nil {
		err = fmt.Errorf("%w: %v", domain.ErrCanceled, context.Cause(ctx))
	}
	if res == nil || res.Patch == nil {
		o.releaseIfIdle(context.WithoutCancel(ctx), req.CanvasID, req.SessionID)
	}
	return res, err
}

// converse runs the prepare, generate, execute and propose loop.
func (o *Orchestrator) converse(ctx context.Context, req TurnRequest, emit Emitter) (*TurnResult, error) {
	// 2. Prepare
	sess, err := o.sessions.EnsureSession(ctx, req.SessionID, req.CanvasID)
	if err != nil {
		return nil, err
	}
	if sess.CanvasID != req.CanvasID {
		return nil, domain.ValidationErrors{{Field: "sessionId", Reason: fmt.Sprintf("belongs to canvas %s", sess.CanvasID)}}
	}
	graph, err := o.canvases.Get(ctx, req.CanvasID)
	if err != nil {
		return nil, err
	}
	snap := sandbox.SnapshotOf(graph, o.canvases.Catalog().List())
	prompt, err := snapshotMessage(snap, req.Message)
	if err != nil {
		return nil, err
	}
	if _, err := o.sessions.AppendEvent(ctx, req.SessionID, domain.SessionEvent{
		Type: domain.EventMessage, Role: domain.RoleUser, Content: req.Message,
	}); err != nil {
		return nil, err
	}

	model := req.Model
	if model == "" {
		model = o.model
	}
	messages := []ports.ChatMessage{{Role: ports.SystemRole, Content: systemPrompt(o.executor.Language())}}
	messages = append(messages, historyMessages(sess.Events)...)
	messages = append(messages, ports.ChatMessage{Role: ports.UserRole, Content: prompt})

	run := o.executor.NewSession(snap, o.maxInvocations)
	res := &TurnResult{}
	var lastErr error

	for attempt := 1; attempt <= o.maxAttempts; attempt++ {
		res.Attempts = attempt

		// 3. Generate
		reply, err := o.generator.Generate(ctx, ports.GenerateRequest{
			Model:    model,
			Language: o.executor.Language(),
			Messages: messages,
		}, func(delta string) {
			o.send(emit, Frame{Type: FrameTextDelta, Text: delta})
		})
		if err != nil {
			return res, fmt.Errorf("generate program: %w", err)
		}
		res.Reply = reply

		program, ok := ExtractProgram(reply, o.executor.Language())
		if !ok {
			o.remember(ctx, req.SessionID, reply)
			o.send(emit, Frame{Type: FrameMessage, Text: reply})
			return res, nil
		}

		// 4. Execute and validate
		payload, err := run.Run(ctx, program)
		if err == nil {
			// 5. Reconcile and propose
			var p *domain.Patch
			p, err = o.patches.Propose(ctx, patch.ProposeRequest{
				CanvasID:  req.CanvasID,
				SessionID: req.SessionID,
				Payload:   payload,
			})
			if err == nil {
				res.Patch = p
				o.remember(ctx, req.SessionID, reply)
				o.send(emit, Frame{Type: FramePatchProposed, PatchID: p.ID, Summary: p.Summary})
				o.send(emit, Frame{Type: FrameMessage, Text: StripPrograms(reply)})
				return res, nil
			}
		}
		if ctx.Err() != nil || !domain.Retryable(err) {
			return res, err
		}

		lastErr = err
		feedback := feedbackMessage(attempt, err)
		o.logger.Debug("Agent attempt failed",
			"canvas_id", req.CanvasID,
			"session_id", req.SessionID,
			"attempt", attempt,
			"err", err,
		)
		o.send(emit, Frame{Type: FrameAttemptFailed, Attempt: attempt, Error: domain.Diagnostic(err)})
		messages = append(messages,
			ports.ChatMessage{Role: ports.AssistantRole, Content: reply},
			ports.ChatMessage{Role: ports.UserRole, Content: feedback},
		)
		if run.Remaining() == 0 {
			break
		}
	}

	o.remember(ctx, req.SessionID, fmt.Sprintf("I could not produce a valid change: %s", domain.Diagnostic(lastErr)))
	return res, fmt.Errorf("%w after %d attempts: %s", domain.ErrRetriesExhausted, res.Attempts, domain.Diagnostic(lastErr))
}

// Submit runs one program on behalf of sessionID and proposes its result.
// There are no retries; sandbox and validation errors are returned as is.
func (o *Orchestrator) Submit(ctx context.Context, canvasID, sessionID, program string) (*domain.Patch, error) {
	if sessionID == "" {
		return nil, domain.ValidationErrors{{Field: "sessionId", Reason: "must not be empty"}}
	}
	if err := o.locks.Acquire(ctx, canvasID, sessionID); err != nil {
		return nil, err
	}
	p, err := o.submit(ctx, canvasID, sessionID, program)
	if err != nil {
		o.releaseIfIdle(context.WithoutCancel(ctx), canvasID, sessionID)
		return nil, err
	}
	return p, nil
}

func (o *Orchestrator) submit(ctx context.Context, canvasID, sessionID, program string) (*domain.Patch, error) {
	if _, err := o.sessions.EnsureSession(ctx, sessionID, canvasID); err != nil {
		return nil, err
	}
	graph, err := o.canvases.Get(ctx, canvasID)
	if err != nil {
		return nil, err
	}
	payload, err := o.executor.Execute(ctx, program, sandbox.SnapshotOf(graph, o.canvases.Catalog().List()))
	if err != nil {
		return nil, err
	}
	return o.patches.Propose(ctx, patch.ProposeRequest{CanvasID: canvasID, SessionID: sessionID, Payload: payload})
}

// DryRun runs program against the current graph and plans the result
// without locking or proposing anything.
func (o *Orchestrator) DryRun(ctx context.Context, canvasID, program string) (*canvas.Result, error) {
	graph, err := o.canvases.Get(ctx, canvasID)
	if err != nil {
		return nil, err
	}
	payload, err := o.executor.Execute(ctx, program, sandbox.SnapshotOf(graph, o.canvases.Catalog().List()))
	if err != nil {
		return nil, err
	}
	return o.canvases.Plan(ctx, canvasID, payload)
}

// Cancel aborts the running turn on canvasID, expires the open patch of
// the lock holder and releases the lock. It reports whether anything was
// running or held.
func (o *Orchestrator) Cancel(ctx context.Context, canvasID string) (bool, error) {
	// Turns register before they take the lock, so reading the holder first
	// guarantees a turn holding it is seen as running.
	holder, held := o.locks.Holder(canvasID)
	o.mu.Lock()
	t, running := o.running[canvasID]
	o.mu.Unlock()

	sessionID := ""
	if running {
		t.cancel()
		sessionID = t.sessionID
	} else if held {
		sessionID = holder
	}
	if sessionID == "" {
		return false, nil
	}
	if _, err := o.patches.ExpireSession(ctx, canvasID, sessionID); err != nil {
		return true, err
	}
	o.logger.Info("Agent turn canceled", "canvas_id", canvasID, "session_id", sessionID)
	return true, nil
}

// begin registers the turn as running on its canvas.
func (o *Orchestrator) begin(ctx context.Context, req TurnRequest) (context.Context, func(), error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, busy := o.running[req.CanvasID]; busy {
		return ctx, nil, ErrTurnInProgress
	}
	ctx, cancel := context.WithCancel(ctx)
	t := &inflight{sessionID: req.SessionID, cancel: cancel}
	o.running[req.CanvasID] = t
	return ctx, func() {
		cancel()
		o.mu.Lock()
		if o.running[req.CanvasID] == t {
			delete(o.running, req.CanvasID)
		}
		o.mu.Unlock()
	}, nil
}

// releaseIfIdle frees the canvas lock unless sessionID still has an open patch.
func (o *Orchestrator) releaseIfIdle(ctx context.Context, canvasID, sessionID string) {
	open, err := o.patches.Open(ctx, canvasID)
	if err != nil {
		o.logger.Warn("Failed to look up open patch", "canvas_id", canvasID, "err", err)
		return
	}
	if open != nil && open.SessionID == sessionID {
		return
	}
	if _, err := o.locks.Release(ctx, canvasID, sessionID); err != nil {
		o.logger.Warn("Failed to release canvas lock", "canvas_id", canvasID, "session_id", sessionID, "err", err)
	}
}

func (o *Orchestrator) remember(ctx context.Context, sessionID, content string) {
	_, err := o.sessions.AppendEvent(ctx, sessionID, domain.SessionEvent{
		Type: domain.EventMessage, Role: domain.RoleAssistant, Content: content,
	})
	if err != nil {
		o.logger.Warn("Failed to record assistant message", "session_id", sessionID, "err", err)
	}
}

func (o *Orchestrator) send(emit Emitter, f Frame) {
	if err := emit.Emit(f); err != nil {
		o.logger.Debug("Failed to emit frame", "type", f.Type, "err", err)
	}
}

func outcomeOf(err error) string {
	switch {
	case errors.Is(err, domain.ErrCanceled):
		return "canceled"
	case errors.Is(err, domain.ErrCanvasLocked), errors.Is(err, ErrTurnInProgress):
		return "locked"
	case errors.Is(err, domain.ErrRetriesExhausted), errors.Is(err, domain.ErrInvocationLimit):
		return "exhausted"
	}
	return "error"
}
