package cli

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/aretw0/easel"
	"github.com/aretw0/easel/internal/config"
	"github.com/aretw0/easel/pkg/adapters/openai"
	"github.com/aretw0/easel/pkg/adapters/redis"
	"github.com/aretw0/easel/pkg/adapters/sqlite"
	"github.com/aretw0/easel/pkg/agent"
	"github.com/aretw0/easel/pkg/observability"
	"github.com/aretw0/easel/pkg/sandbox"
	"github.com/aretw0/easel/pkg/sandbox/jsvm"
	"github.com/aretw0/easel/pkg/sandbox/luavm"
	"github.com/aretw0/easel/pkg/templates"
)

// NewApp wires an App from cfg. lookup resolves the provider API key.
func NewApp(cfg *config.Config, logger *slog.Logger, lookup func(string) (string, bool)) (*easel.App, error) {
	opts := []easel.Option{
		easel.WithLogger(logger),
		easel.WithMetrics(observability.NewMetrics()),
		easel.WithGuardDirectEdits(cfg.Locks.GuardDirectEdits),
		easel.WithPatchTTL(cfg.Patch.TTL),
		easel.WithLimits(sandbox.Limits{
			Timeout:        cfg.Sandbox.Timeout,
			MaxOutputBytes: cfg.Sandbox.MaxOutputBytes,
			MaxCallStack:   cfg.Sandbox.MaxCallStack,
		}),
		easel.WithBackend(NewBackend(cfg.Sandbox.Backend)),
		easel.WithAgentOptions(
			agent.WithMaxAttempts(cfg.Agent.MaxAttempts),
			agent.WithMaxInvocations(cfg.Sandbox.MaxInvocations),
			agent.WithModel(cfg.Agent.Model),
		),
	}

	var closers []io.Closer

	// 1. Templates
	if cfg.Templates != "" {
		catalog, err := templates.Load(cfg.Templates)
		if err != nil {
			return nil, fmt.Errorf("failed to load templates: %w", err)
		}
		opts = append(opts, easel.WithCatalog(catalog))
	}

	// 2. Program generator
	if cfg.Agent.Provider == "openai" {
		gen, err := openai.New(cfg.APIKey(lookup), cfg.Agent.BaseURL,
			openai.WithModel(cfg.Agent.Model),
			openai.WithLogger(logger),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to configure generator: %w", err)
		}
		opts = append(opts, easel.WithGenerator(gen))
	}

	// 3. Persistence
	if cfg.Store.Driver == "sqlite" {
		store, err := sqlite.Open(cfg.Store.DSN, sqlite.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		closers = append(closers, store)
		opts = append(opts, easel.WithStores(store, store, store))
	}

	// 4. Distributed locks
	if cfg.Redis.Addr != "" {
		locker := redis.New(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, redis.WithPrefix(cfg.Redis.Prefix))
		closers = append(closers, locker)
		opts = append(opts, easel.WithLocker(locker, cfg.Redis.LockTTL))
	}

	app, err := easel.New(opts...)
	if err != nil {
		for _, c := range closers {
			_ = c.Close()
		}
		return nil, fmt.Errorf("error initializing easel: %w", err)
	}
	return app, nil
}

// NewBackend returns the sandbox for a language name. Unknown names get
// javascript.
func NewBackend(language string) sandbox.Backend {
	if language == luavm.Name {
		return luavm.New()
	}
	return jsvm.New()
}
