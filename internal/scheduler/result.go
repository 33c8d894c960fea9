// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev

package scheduler

import (
	"sort"

	"github.com/specialistvlad/gridflow/internal/node"
	"go.uber.org/multierr"
)

// Outcome classifies how a planned node ended within a run.
type Outcome int

const (
	// Executed nodes completed successfully.
	Executed Outcome = iota
	// Failed nodes returned an error from their collaborator.
	Failed
	// Canceled nodes observed a cancellation request while executing.
	Canceled
	// CanceledBeforeStart nodes were dequeued by a cancellation before
	// their collaborator ran.
	CanceledBeforeStart
	// SkippedUpstream nodes were dequeued because a predecessor did not
	// execute.
	SkippedUpstream
)

func (o Outcome) String() string {
	switch o {
	case Executed:
		return "executed"
	case Failed:
		return "failed"
	case Canceled:
		return "canceled"
	case CanceledBeforeStart:
		return "canceled before start"
	case SkippedUpstream:
		return "skipped due to upstream failure"
	}
	return "unknown"
}

// NodeResult is the fate of one planned node.
type NodeResult struct {
	Outcome Outcome
	// State is the node state when the run resolved it.
	State node.State
	Err   error
	// Awaited is true when another run owned the node's execution.
	Awaited bool
}

// RunResult aggregates the outcome of a run.
type RunResult struct {
	RunID   string
	Targets []string
	Nodes   map[string]NodeResult
}

func (r *RunResult) ids(match func(NodeResult) bool) []string {
	var out []string
	for id, nr := range r.Nodes {
		if match(nr) {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// Executed returns the ids of nodes that executed.
func (r *RunResult) Executed() []string {
	return r.ids(func(nr NodeResult) bool { return nr.Outcome == Executed })
}

// Failed returns the ids of nodes that failed.
func (r *RunResult) Failed() []string {
	return r.ids(func(nr NodeResult) bool { return nr.Outcome == Failed })
}

// Canceled returns the ids of nodes canceled during or before execution.
func (r *RunResult) Canceled() []string {
	return r.ids(func(nr NodeResult) bool { return nr.Outcome == Canceled || nr.Outcome == CanceledBeforeStart })
}

// Skipped returns the ids of nodes skipped due to upstream failure.
func (r *RunResult) Skipped() []string {
	return r.ids(func(nr NodeResult) bool { return nr.Outcome == SkippedUpstream })
}

// Succeeded reports whether every planned node executed.
func (r *RunResult) Succeeded() bool {
	return len(r.Executed()) == len(r.Nodes)
}

// PartialFailure reports whether some but not all planned nodes executed.
func (r *RunResult) PartialFailure() bool {
	n := len(r.Executed())
	return n > 0 && n < len(r.Nodes)
}

// Err combines the errors of failed and canceled nodes, ordered by id.
func (r *RunResult) Err() error {
	var errs error
	for _, id := range r.ids(func(nr NodeResult) bool { return nr.Outcome == Failed || nr.Outcome == Canceled }) {
		errs = multierr.Append(errs, r.Nodes[id].Err)
	}
	return errs
}

func (r *RunResult) outcomeLabel() string {
	switch {
	case r.Succeeded():
		return "succeeded"
	case r.PartialFailure():
		return "partial_failure"
	}
	return "failed"
}
