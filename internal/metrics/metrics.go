// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev

// Package metrics exposes Prometheus collectors for the engine. A nil
// *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/specialistvlad/gridflow/internal/node"
)

const namespace = "gridflow"

// Metrics groups the engine's collectors.
type Metrics struct {
	Transitions *prometheus.CounterVec
	RunningJobs prometheus.Gauge
	JobDuration *prometheus.HistogramVec
	Chunks      *prometheus.GaugeVec
	Runs        *prometheus.CounterVec
}

// New creates the collectors and registers them with reg when it is not nil.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "node",
			Name:      "transitions_total",
			Help:      "Accepted node state transitions by target state.",
		}, []string{"state"}),
		RunningJobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "job",
			Name:      "running",
			Help:      "Jobs currently executing a collaborator.",
		}),
		JobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "job",
			Name:      "duration_seconds",
			Help:      "Wall time of job executions by final state.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}, []string{"state"}),
		Chunks: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "chunk",
			Name:      "branches",
			Help:      "Parallel branches by state.",
		}, []string{"state"}),
		Runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "runs_total",
			Help:      "Finished scheduler runs by outcome.",
		}, []string{"outcome"}),
	}
	if reg != nil {
		reg.MustRegister(m.Transitions, m.RunningJobs, m.JobDuration, m.Chunks, m.Runs)
	}
	return m
}

// ObserveTransition counts a transition into to.
func (m *Metrics) ObserveTransition(to node.State) {
	if m == nil {
		return
	}
	m.Transitions.WithLabelValues(to.String()).Inc()
}

// JobStarted marks a job as executing.
func (m *Metrics) JobStarted() {
	if m == nil {
		return
	}
	m.RunningJobs.Inc()
}

// JobFinished records a finished job.
func (m *Metrics) JobFinished(state node.State, d time.Duration) {
	if m == nil {
		return
	}
	m.RunningJobs.Dec()
	m.JobDuration.WithLabelValues(state.String()).Observe(d.Seconds())
}

// SetChunks publishes branch counts.
func (m *Metrics) SetChunks(executing, executed, failed int) {
	if m == nil {
		return
	}
	m.Chunks.WithLabelValues("executing").Set(float64(executing))
	m.Chunks.WithLabelValues("executed").Set(float64(executed))
	m.Chunks.WithLabelValues("failed").Set(float64(failed))
}

// RunFinished counts a finished run.
func (m *Metrics) RunFinished(outcome string) {
	if m == nil {
		return
	}
	m.Runs.WithLabelValues(outcome).Inc()
}
