// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev

package app

import (
	"context"
	"fmt"

	"github.com/specialistvlad/gridflow/internal/chunk"
	"github.com/specialistvlad/gridflow/internal/config"
	"github.com/specialistvlad/gridflow/internal/ctxlog"
	"github.com/specialistvlad/gridflow/internal/gridfile"
	"github.com/specialistvlad/gridflow/internal/scheduler"
)

func (a *App) loadEngineConfig(ctx context.Context) error {
	logger := ctxlog.FromContext(ctx)
	if a.config.ConfigPath == "" {
		logger.Debug("No engine config file given, using defaults.")
		a.engine = config.Default()
		return nil
	}
	logger.Debug("Loading engine config...", "config_path", a.config.ConfigPath)
	cfg, err := config.Load(a.config.ConfigPath)
	if err != nil {
		return err
	}
	a.engine = cfg
	logger.Debug("Engine config loaded.", "workers", cfg.Engine.Workers, "partitions", cfg.Engine.Partitions)
	return nil
}

func (a *App) loadGrid(ctx context.Context) error {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Loading grids...", "grid_path", a.config.GridPath)

	f, err := gridfile.Load(ctx, a.config.GridPath)
	if err != nil {
		return fmt.Errorf("failed to load grid: %w", err)
	}
	grid, err := gridfile.Build(ctx, f, a.registry,
		chunk.WithMetrics(a.metrics),
		chunk.WithSchedulerOptions(a.branchOptions()...),
	)
	if err != nil {
		return fmt.Errorf("failed to build grid: %w", err)
	}
	a.grid = grid
	logger.Info("Grids loaded successfully.", "nodes", grid.Graph.Len(), "loops", len(grid.Loops))
	return nil
}

// branchOptions configure the schedulers of loop branches.
func (a *App) branchOptions() []scheduler.Option {
	return []scheduler.Option{
		scheduler.WithWorkers(a.workers()),
		scheduler.WithPartitions(a.engine.Engine.Partitions),
		scheduler.WithMetrics(a.metrics),
	}
}
