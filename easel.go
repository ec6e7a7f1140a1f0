package easel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/aretw0/easel/internal/logging"
	httpAdapter "github.com/aretw0/easel/pkg/adapters/http"
	"github.com/aretw0/easel/pkg/adapters/mcp"
	"github.com/aretw0/easel/pkg/adapters/memory"
	"github.com/aretw0/easel/pkg/agent"
	"github.com/aretw0/easel/pkg/canvas"
	"github.com/aretw0/easel/pkg/lock"
	"github.com/aretw0/easel/pkg/observability"
	"github.com/aretw0/easel/pkg/patch"
	"github.com/aretw0/easel/pkg/ports"
	"github.com/aretw0/easel/pkg/reconcile"
	"github.com/aretw0/easel/pkg/sandbox"
	"github.com/aretw0/easel/pkg/sandbox/jsvm"
	"github.com/aretw0/easel/pkg/templates"
	"golang.org/x/sync/errgroup"
)

// App is the high-level entry point for Easel.
// It wires the stores, the sandbox and the services behind the adapters.
type App struct {
	Canvases *canvas.Service
	Patches  *patch.Manager
	Agent    *agent.Orchestrator
	Locks    *lock.Manager
	Sessions ports.SessionStore
	Executor *sandbox.Executor
	Metrics  *observability.Metrics

	graphs    ports.GraphStore
	patches   ports.PatchStore
	catalog   ports.TemplateCatalog
	backend   sandbox.Backend
	limits    sandbox.Limits
	generator ports.ProgramGenerator
	locker    ports.CanvasLocker
	lockTTL   time.Duration
	patchTTL  time.Duration
	guard     bool
	agentOpts []agent.Option
	closers   []io.Closer
	logger    *slog.Logger
}

// Option defines a functional option for configuring the App.
type Option func(*App)

// WithLogger sets a custom structured logger for every service.
func WithLogger(logger *slog.Logger) Option {
	return func(a *App) {
		a.logger = logger
	}
}

// WithMetrics records service activity on metrics.
func WithMetrics(metrics *observability.Metrics) Option {
	return func(a *App) {
		a.Metrics = metrics
	}
}

// WithStores replaces the in-memory stores. Stores implementing io.Closer
// are closed by App.Close.
func WithStores(graphs ports.GraphStore, patches ports.PatchStore, sessions ports.SessionStore) Option {
	return func(a *App) {
		a.graphs = graphs
		a.patches = patches
		a.Sessions = sessions
	}
}

// WithCatalog replaces the builtin template catalog.
func WithCatalog(catalog ports.TemplateCatalog) Option {
	return func(a *App) {
		a.catalog = catalog
	}
}

// WithBackend selects the sandbox language (default: javascript).
func WithBackend(backend sandbox.Backend) Option {
	return func(a *App) {
		a.backend = backend
	}
}

// WithLimits bounds every sandbox run.
func WithLimits(limits sandbox.Limits) Option {
	return func(a *App) {
		a.limits = limits
	}
}

// WithGenerator enables conversational turns.
func WithGenerator(generator ports.ProgramGenerator) Option {
	return func(a *App) {
		a.generator = generator
	}
}

// WithLocker mirrors agent locks to a distributed locker held for ttl.
func WithLocker(locker ports.CanvasLocker, ttl time.Duration) Option {
	return func(a *App) {
		a.locker = locker
		a.lockTTL = ttl
	}
}

// WithPatchTTL sets how long a patch may stay open before it expires.
func WithPatchTTL(ttl time.Duration) Option {
	return func(a *App) {
		a.patchTTL = ttl
	}
}

// WithGuardDirectEdits refuses direct edits to a canvas an agent session
// holds (default: true).
func WithGuardDirectEdits(guard bool) Option {
	return func(a *App) {
		a.guard = guard
	}
}

// WithAgentOptions passes options to the orchestrator.
func WithAgentOptions(opts ...agent.Option) Option {
	return func(a *App) {
		a.agentOpts = append(a.agentOpts, opts...)
	}
}

// New wires an App. Without options it runs on in-memory stores, the
// builtin templates and the javascript sandbox, with conversational turns
// disabled.
func New(opts ...Option) (*App, error) {
	a := &App{
		guard:  true,
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}

	// 1. Persistence
	if a.graphs == nil {
		a.graphs = memory.NewGraphStore()
	}
	if a.patches == nil {
		a.patches = memory.NewPatchStore()
	}
	if a.Sessions == nil {
		a.Sessions = memory.NewSessionStore()
	}
	a.track(a.graphs, a.patches, a.Sessions)
	if a.locker != nil {
		a.track(a.locker)
	}

	// 2. Templates
	if a.catalog == nil {
		builtin, err := templates.Builtin()
		if err != nil {
			return nil, fmt.Errorf("failed to load builtin templates: %w", err)
		}
		a.catalog = builtin
	}

	// 3. Locks
	lockOpts := []lock.Option{lock.WithLogger(a.logger), lock.WithMetrics(a.Metrics)}
	if a.locker != nil {
		lockOpts = append(lockOpts, lock.WithLocker(a.locker, a.lockTTL))
	}
	a.Locks = lock.NewManager(lockOpts...)

	// 4. Services
	a.Canvases = canvas.NewService(a.graphs, a.catalog,
		reconcile.New(a.catalog, reconcile.WithLogger(a.logger)),
		canvas.WithLocks(a.Locks, a.guard),
		canvas.WithLogger(a.logger),
		canvas.WithMetrics(a.Metrics),
	)

	patchOpts := []patch.Option{patch.WithLogger(a.logger), patch.WithMetrics(a.Metrics)}
	if a.patchTTL > 0 {
		patchOpts = append(patchOpts, patch.WithTTL(a.patchTTL))
	}
	a.Patches = patch.NewManager(a.patches, a.Sessions, a.Canvases, a.Locks, patchOpts...)

	// 5. Sandbox and agent
	if a.backend == nil {
		a.backend = jsvm.New()
	}
	a.Executor = sandbox.NewExecutor(a.backend,
		sandbox.WithLimits(a.limits),
		sandbox.WithLogger(a.logger),
		sandbox.WithMetrics(a.Metrics),
	)

	agentOpts := append([]agent.Option{agent.WithLogger(a.logger), agent.WithMetrics(a.Metrics)}, a.agentOpts...)
	a.Agent = agent.New(a.Canvases, a.Patches, a.Locks, a.Sessions, a.Executor, a.generator, agentOpts...)

	a.logger.Debug("Easel initialized",
		"sandbox", a.Executor.Language(),
		"templates", len(a.catalog.List()),
		"generator", a.generator != nil,
		"distributed_locks", a.locker != nil,
	)
	return a, nil
}

func (a *App) track(resources ...any) {
	for _, r := range resources {
		c, ok := r.(io.Closer)
		if !ok {
			continue
		}
		dup := false
		for _, seen := range a.closers {
			if seen == c {
				dup = true
				break
			}
		}
		if !dup {
			a.closers = append(a.closers, c)
		}
	}
}

// Handler returns the HTTP API.
func (a *App) Handler(version string) http.Handler {
	opts := []httpAdapter.Option{httpAdapter.WithLogger(a.logger), httpAdapter.WithVersion(version)}
	if a.Metrics != nil {
		opts = append(opts, httpAdapter.WithMetrics(a.Metrics))
	}
	return httpAdapter.NewServer(a.Canvases, a.Patches, a.Agent, a.Locks, opts...).Handler()
}

// MCPServer returns the canvas tools as an MCP server.
func (a *App) MCPServer(version string) *mcp.Server {
	return mcp.NewServer(a.Canvases, a.Patches, a.Agent, version,
		mcp.WithLogger(a.logger),
		mcp.WithLanguage(a.Executor.Language()),
	)
}

// ServeConfig controls App.Serve.
type ServeConfig struct {
	Addr            string
	Version         string
	SweepInterval   time.Duration
	ShutdownTimeout time.Duration
}

// Serve runs the HTTP API and the patch sweeper until ctx ends, then shuts
// the server down gracefully.
func (a *App) Serve(ctx context.Context, cfg ServeConfig) error {
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 5 * time.Second
	}
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           a.Handler(cfg.Version),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.Info("Easel server listening", "address", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return a.Patches.Run(ctx, cfg.SweepInterval)
	})
	g.Go(func() error {
		<-ctx.Done()
		a.logger.Info("Shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Warn("Graceful shutdown did not complete", "timeout", cfg.ShutdownTimeout, "err", err)
			return srv.Close()
		}
		return nil
	})
	return g.Wait()
}

// Close ends lock subscriptions and closes the stores and the locker.
func (a *App) Close() error {
	a.Locks.Close()
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
