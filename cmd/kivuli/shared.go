package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"time"

	"github.com/jkaninda/kivuli/internal/config"
	"github.com/jkaninda/kivuli/internal/history"
	"github.com/jkaninda/kivuli/internal/observability"
	"github.com/jkaninda/kivuli/internal/sandbox"
	"github.com/jkaninda/kivuli/internal/scheduler"
	"github.com/jkaninda/kivuli/internal/tools"
	"github.com/jkaninda/kivuli/internal/tools/python"
	"github.com/jkaninda/kivuli/internal/workspace"
)

// SharedComponents holds all initialized subsystems shared across
// commands. Built once by initShared, torn down by Cleanup.
type SharedComponents struct {
	Config     *config.Config
	Logger     *slog.Logger
	Workspace  *workspace.Workspace
	Supervisor *sandbox.Supervisor
	Store      history.Store // nil = history disabled.
	Obs        *observability.Observability
	Registry   *tools.Registry

	cleanups []func()
}

// Cleanup runs all deferred cleanup functions in reverse order.
func (sc *SharedComponents) Cleanup() {
	for i := len(sc.cleanups) - 1; i >= 0; i-- {
		sc.cleanups[i]()
	}
}

func (sc *SharedComponents) addCleanup(fn func()) {
	sc.cleanups = append(sc.cleanups, fn)
}

// initShared performs all common initialization.
// Callers must call sc.Cleanup() when done.
func initShared(cfg *config.Config, logger *slog.Logger) (*SharedComponents, error) {
	sc := &SharedComponents{
		Config: cfg,
		Logger: logger,
	}

	// Workspace.
	ws, err := workspace.New(cfg.ResolvedWorkspace())
	if err != nil {
		return nil, fmt.Errorf("initializing workspace: %w", err)
	}
	if err := ws.EnsureAll(); err != nil {
		return nil, fmt.Errorf("creating workspace directories: %w", err)
	}
	sc.Workspace = ws
	logger.Debug("workspace initialized", slog.String("root", ws.Root))

	// Observability.
	obs, err := observability.New(cfg.Observability, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing observability: %w", err)
	}
	sc.Obs = obs
	if obs != nil {
		sc.addCleanup(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			obs.Shutdown(ctx)
		})
	}

	// Sandbox supervisor.
	sandboxCfg := cfg.SandboxSettings()
	denoBin := sandboxCfg.DenoBin
	if denoBin == "" {
		denoBin = "deno"
	}
	sc.Supervisor = sandbox.NewSupervisor(sandboxCfg, logger)
	sc.addCleanup(func() { _ = sc.Supervisor.Close() })

	// History store (optional).
	if cfg.History != nil {
		store, err := history.Open(history.Config{
			Driver: cfg.History.Driver,
			Path:   cfg.HistoryPath(),
			DSN:    cfg.History.DSN,
		}, logger)
		if err != nil {
			sc.Cleanup()
			return nil, fmt.Errorf("opening history store: %w", err)
		}
		sc.Store = store
		sc.addCleanup(func() { _ = store.Close() })
	}

	// Readiness checks.
	if obs != nil && obs.Health != nil {
		obs.Health.AddCheck("deno", func(context.Context) error {
			if _, err := exec.LookPath(denoBin); err != nil {
				return fmt.Errorf("deno executable not found: %w", err)
			}
			return nil
		})
		obs.Health.AddCheck("runtime", func(context.Context) error {
			if _, err := os.Stat(sandboxCfg.RunnerPath()); err != nil {
				return fmt.Errorf("sandbox runner missing: %w", err)
			}
			return nil
		})
		if sc.Store != nil {
			obs.Health.AddCheck("history", sc.Store.Ping)
		}
	}

	// Tools.
	tool := python.NewTool(sc.Supervisor, logger)
	if sc.Store != nil {
		tool.WithHistory(sc.Store)
	}
	if m := obs.MetricsOrNil(); m != nil {
		tool.WithMetrics(m)
	}
	if tr := obs.TracerOrNil(); tr != nil {
		tool.WithTracer(tr.Tracer())
	}
	sc.Registry = tools.NewRegistry()
	sc.Registry.Register(tool)

	return sc, nil
}

// startMaintenance starts the background maintenance runner when
// configured. Returns a no-op stop function when disabled.
func (sc *SharedComponents) startMaintenance() (func(), error) {
	if sc.Config.Maintenance == nil {
		return func() {}, nil
	}
	var retention time.Duration
	if sc.Config.History != nil {
		retention = sc.Config.History.Retention()
	}
	m := scheduler.New(
		sc.Supervisor,
		sc.Store,
		sc.Obs.MetricsOrNil(),
		sc.Logger,
		sc.Config.Maintenance,
		retention,
	)
	if err := m.Start(); err != nil {
		return nil, err
	}
	return m.Stop, nil
}
