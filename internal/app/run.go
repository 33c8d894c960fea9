// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev

package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/specialistvlad/gridflow/internal/ctxlog"
	"github.com/specialistvlad/gridflow/internal/scheduler"
	"github.com/specialistvlad/gridflow/internal/socketsink"
	"go.uber.org/multierr"
)

// ErrRunFailed is returned by Run when some planned node did not execute.
var ErrRunFailed = errors.New("run did not complete successfully")

// Run executes every sink of the grid and prints a summary.
func (a *App) Run(ctx context.Context) (err error) {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	a.logger.Debug("App.Run method started.")

	if port := a.healthcheckPort(); port > 0 {
		if err := a.startHealthcheckServer(ctx, port); err != nil {
			return err
		}
		defer func() { err = multierr.Append(err, a.closeHealthcheckServer(ctx)) }()
	}

	if a.grid.Graph.Len() == 0 {
		a.logger.Warn("No nodes found in grid, execution not required.")
		return nil
	}

	opts, closeSink, err := a.schedulerOptions(ctx)
	if err != nil {
		return err
	}
	defer closeSink()

	s, err := scheduler.New(a.grid.Graph, opts...)
	if err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		err = multierr.Append(err, s.Close(ctx))
	}()

	a.logger.Info("🚀 Starting concurrent execution...", "workers", s.Workers())
	run, err := s.ExecuteAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to start execution: %w", err)
	}
	res, err := run.Wait(context.WithoutCancel(ctx))
	if err != nil {
		return err
	}
	a.printSummary(res)
	a.logger.Info("🏁 Execution finished.", "runID", res.RunID, "succeeded", res.Succeeded())

	if !res.Succeeded() {
		return fmt.Errorf("%w: %w", ErrRunFailed, res.Err())
	}
	return nil
}

func (a *App) schedulerOptions(ctx context.Context) ([]scheduler.Option, func(), error) {
	e := a.engine.Engine
	opts := []scheduler.Option{
		scheduler.WithWorkers(a.workers()),
		scheduler.WithPartitions(e.Partitions),
		scheduler.WithKeepResourcesOnFailure(e.KeepResourcesOnFailure),
		scheduler.WithMetrics(a.metrics),
		scheduler.WithStopSignal(a.stopRequested.Load, clock.New(), e.Interval()),
	}

	b := a.engine.Broadcast
	if b == nil {
		return opts, func() {}, nil
	}
	sink, err := socketsink.Dial(ctx, socketsink.Options{
		URL:                b.URL,
		Namespace:          b.Namespace,
		InsecureSkipVerify: b.InsecureSkipVerify,
		EventsPerSecond:    b.EventsPerSecond,
		Burst:              b.Burst,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect progress broadcaster: %w", err)
	}
	a.logger.Info("📡 Broadcasting progress.", "url", b.URL, "session", sink.Session())
	return append(opts, scheduler.WithSink(sink, e.ProgressBuffer)), sink.Close, nil
}

// printSummary writes one line per outcome class and every node error.
func (a *App) printSummary(res *scheduler.RunResult) {
	fmt.Fprintf(a.outW, "Run %s: %d executed, %d failed, %d canceled, %d skipped\n",
		res.RunID, len(res.Executed()), len(res.Failed()), len(res.Canceled()), len(res.Skipped()))
	for _, id := range res.Failed() {
		fmt.Fprintf(a.outW, "  FAILED   %s: %v\n", id, res.Nodes[id].Err)
	}
	for _, id := range res.Canceled() {
		fmt.Fprintf(a.outW, "  CANCELED %s\n", id)
	}
	for _, id := range res.Skipped() {
		fmt.Fprintf(a.outW, "  SKIPPED  %s\n", id)
	}
}

// Stop asks the running grid to cancel. The scheduler notices on its next
// monitor tick.
func (a *App) Stop() {
	a.stopRequested.Store(true)
}
