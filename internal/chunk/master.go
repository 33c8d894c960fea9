// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev

package chunk

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/specialistvlad/gridflow/internal/engineerr"
	"github.com/specialistvlad/gridflow/internal/metrics"
	"github.com/specialistvlad/gridflow/internal/node"
	"github.com/zclconf/go-cty/cty"
	"go.uber.org/multierr"
)

// LoopEndListener is notified after every branch state change with the
// branch index and its new state. It runs outside the master's lock.
type LoopEndListener func(index int, state node.State)

// Result is the outcome of one branch.
type Result struct {
	Index   int
	State   node.State
	Outputs []cty.Value
	Err     error
}

// Master aggregates branch states.
type Master struct {
	mu        sync.Mutex
	branches  map[int]*Branch
	states    map[int]node.State
	executing int
	executed  int
	failed    int
	// changed is closed and replaced on every state change.
	changed chan struct{}

	listener LoopEndListener
	metrics  *metrics.Metrics
}

// NewMaster returns an empty Master.
func NewMaster(listener LoopEndListener, m *metrics.Metrics) *Master {
	return &Master{
		branches: make(map[int]*Branch),
		states:   make(map[int]node.State),
		changed:  make(chan struct{}),
		listener: listener,
		metrics:  m,
	}
}

// AddParallelChunk registers a branch under index. Registering an index
// twice is a programming error.
func (m *Master) AddParallelChunk(index int, b *Branch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.branches[index]; ok {
		return &engineerr.DuplicateRegistrationError{Index: index}
	}
	m.branches[index] = b
	st := node.Idle
	if b != nil {
		st = b.State()
	}
	m.states[index] = node.Idle
	m.apply(index, st)
	return nil
}

// StateChanged records a branch transition. The master's own record of the
// branch's previous state is authoritative; from is informational.
func (m *Master) StateChanged(index int, from, to node.State) {
	m.mu.Lock()
	if _, ok := m.states[index]; !ok {
		m.mu.Unlock()
		return
	}
	m.apply(index, to)
	executing, executed, failed := m.executing, m.executed, m.failed
	m.mu.Unlock()

	m.metrics.SetChunks(executing, executed, failed)
	if m.listener != nil {
		m.listener(index, to)
	}
}

// apply moves a branch between count buckets. Callers hold mu.
func (m *Master) apply(index int, to node.State) {
	m.count(m.states[index], -1)
	m.states[index] = to
	m.count(to, 1)
	close(m.changed)
	m.changed = make(chan struct{})
}

func (m *Master) count(s node.State, delta int) {
	switch s {
	case node.Queued, node.Executing:
		m.executing += delta
	case node.Executed:
		m.executed += delta
	case node.Failed, node.Canceled:
		m.failed += delta
	}
}

// NrChunks returns the number of registered branches.
func (m *Master) NrChunks() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.states)
}

// NrExecutingChunks returns the number of queued or executing branches.
func (m *Master) NrExecutingChunks() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.executing
}

// NrExecutedChunks returns the number of branches that executed.
func (m *Master) NrExecutedChunks() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.executed
}

// NrFailedChunks returns the number of failed or canceled branches.
func (m *Master) NrFailedChunks() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failed
}

// Finished reports whether every registered branch is terminal.
func (m *Master) Finished() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.executed+m.failed == len(m.states)
}

// Branch returns the branch registered under index.
func (m *Master) Branch(index int) (*Branch, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.branches[index]
	return b, ok
}

// Results returns the outcome of every terminal branch, ordered by index.
func (m *Master) Results() []Result {
	m.mu.Lock()
	indexes := make([]int, 0, len(m.states))
	states := make(map[int]node.State, len(m.states))
	for i, st := range m.states {
		if st.IsTerminal() {
			indexes = append(indexes, i)
			states[i] = st
		}
	}
	branches := make(map[int]*Branch, len(indexes))
	for _, i := range indexes {
		branches[i] = m.branches[i]
	}
	m.mu.Unlock()

	sort.Ints(indexes)
	out := make([]Result, 0, len(indexes))
	for _, i := range indexes {
		r := Result{Index: i, State: states[i]}
		if b := branches[i]; b != nil {
			r.State, r.Outputs, r.Err = b.State(), b.Outputs(), b.Err()
		}
		out = append(out, r)
	}
	return out
}

// AwaitAll blocks until every branch is terminal or ctx is done.
func (m *Master) AwaitAll(ctx context.Context) error {
	for {
		m.mu.Lock()
		done := m.executed+m.failed == len(m.states)
		changed := m.changed
		m.mu.Unlock()
		if done {
			return nil
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Err combines the errors of failed and canceled branches, ordered by
// index.
func (m *Master) Err() error {
	var errs error
	for _, r := range m.Results() {
		if r.State != node.Failed && r.State != node.Canceled {
			continue
		}
		err := r.Err
		if err == nil {
			err = fmt.Errorf("ended %s", r.State)
		}
		errs = multierr.Append(errs, fmt.Errorf("chunk %d: %w", r.Index, err))
	}
	return errs
}
