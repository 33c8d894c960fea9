// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev

package scheduler

import (
	"time"

	"github.com/benbjohnson/clock"
	"github.com/specialistvlad/gridflow/internal/metrics"
	"github.com/specialistvlad/gridflow/internal/progress"
)

// DefaultWorkers is the worker pool size used when none is configured.
const DefaultWorkers = 10

// Option customizes a Scheduler.
type Option func(*Scheduler)

// WithWorkers bounds the number of concurrently executing jobs.
func WithWorkers(n int) Option {
	return func(s *Scheduler) { s.workers = n }
}

// WithScope restricts ExecuteAll and CancelAll to the given node ids.
func WithScope(ids []string) Option {
	return func(s *Scheduler) {
		s.scope = make(map[string]struct{}, len(ids))
		for _, id := range ids {
			s.scope[id] = struct{}{}
		}
	}
}

// WithSink relays progress and state notifications to sink through a
// bounded channel of the given size.
func WithSink(sink progress.Sink, buffer int) Option {
	return func(s *Scheduler) {
		s.sinkTarget = sink
		s.sinkBuffer = buffer
	}
}

// WithMetrics records engine metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// WithKeepResourcesOnFailure sets the default used by ExecuteAll.
func WithKeepResourcesOnFailure(keep bool) Option {
	return func(s *Scheduler) { s.keepOnFailure = keep }
}

// WithStopSignal polls stop every interval on clk; once it reports true,
// every active run is canceled.
func WithStopSignal(stop func() bool, clk clock.Clock, interval time.Duration) Option {
	return func(s *Scheduler) {
		s.stopSignal = stop
		s.monitor = progress.NewMonitor(clk, interval)
	}
}

// WithPartitions sets the default partition count for streamable models
// whose node does not declare one.
func WithPartitions(n int) Option {
	return func(s *Scheduler) { s.partitions = n }
}
