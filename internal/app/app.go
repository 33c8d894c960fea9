// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev

package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/specialistvlad/gridflow/internal/config"
	"github.com/specialistvlad/gridflow/internal/ctxlog"
	"github.com/specialistvlad/gridflow/internal/gridfile"
	"github.com/specialistvlad/gridflow/internal/metrics"
	"github.com/specialistvlad/gridflow/internal/registry"
)

// App encapsulates the application's dependencies, configuration, and lifecycle.
type App struct {
	outW     io.Writer
	logger   *slog.Logger
	config   *Config
	engine   *config.Config
	registry *registry.Registry
	grid     *gridfile.Grid

	promRegistry *prometheus.Registry
	metrics      *metrics.Metrics
	httpServer   *http.Server

	stopRequested atomic.Bool
}

// NewApp loads the engine configuration and the grid. Modules default to
// the core modules compiled into the binary.
func NewApp(ctx context.Context, outW io.Writer, cfg *Config, modules ...registry.Module) (*App, error) {
	logger := newLogger(cfg.LogLevel, cfg.LogFormat, outW)
	ctx = ctxlog.WithLogger(ctx, logger)
	logger.Debug("Logger configured successfully.")

	a := &App{
		outW:         outW,
		logger:       logger,
		config:       cfg,
		promRegistry: prometheus.NewRegistry(),
	}
	a.promRegistry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.metrics = metrics.New(a.promRegistry)

	if len(modules) == 0 {
		modules = coreModules(outW)
	}
	a.registry = registry.Load(modules...)
	if err := a.registry.Validate(ctx); err != nil {
		return nil, err
	}
	logger.Debug("All Go modules registered.", "count", len(modules), "types", a.registry.Types())

	if err := a.loadEngineConfig(ctx); err != nil {
		return nil, err
	}
	if err := a.loadGrid(ctx); err != nil {
		return nil, err
	}
	return a, nil
}

// Registry returns the application's registry. This is primarily for testing.
func (a *App) Registry() *registry.Registry {
	return a.registry
}

// Engine returns the effective engine configuration.
func (a *App) Engine() *config.Config {
	return a.engine
}

// Grid returns the loaded grid.
func (a *App) Grid() *gridfile.Grid {
	return a.grid
}

func (a *App) workers() int {
	if a.config.WorkerCount > 0 {
		return a.config.WorkerCount
	}
	return a.engine.Engine.Workers
}

func (a *App) healthcheckPort() int {
	if a.config.HealthcheckPort > 0 {
		return a.config.HealthcheckPort
	}
	if a.engine.Server != nil {
		return a.engine.Server.Port
	}
	return 0
}

func (a *App) String() string {
	return fmt.Sprintf("App(grid=%s, workers=%d)", a.config.GridPath, a.workers())
}
