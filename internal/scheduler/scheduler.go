// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev

package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/panjf2000/ants/v2"
	"github.com/specialistvlad/gridflow/internal/engineerr"
	"github.com/specialistvlad/gridflow/internal/graph"
	"github.com/specialistvlad/gridflow/internal/metrics"
	"github.com/specialistvlad/gridflow/internal/node"
	"github.com/specialistvlad/gridflow/internal/progress"
	"github.com/specialistvlad/gridflow/internal/pubsub"
	"go.uber.org/multierr"
)

// ErrClosed is returned by operations on a closed Scheduler.
var ErrClosed = errors.New("scheduler is closed")

// Scheduler executes sub-graphs of a workflow graph on a bounded worker pool.
type Scheduler struct {
	graph         *graph.Graph
	workers       int
	scope         map[string]struct{}
	keepOnFailure bool
	partitions    int
	metrics       *metrics.Metrics

	sinkTarget progress.Sink
	sinkBuffer int
	relay      *progress.Relay

	stopSignal func() bool
	monitor    *progress.Monitor

	pool *ants.Pool
	// slots holds one token per executing job.
	slots chan struct{}
	bus   *pubsub.Bus

	mu     sync.Mutex
	owners map[string]*Run
	hooks  map[string]func()
	runs   map[*Run]struct{}
	closed bool
}

// New creates a Scheduler for g.
func New(g *graph.Graph, opts ...Option) (*Scheduler, error) {
	s := &Scheduler{
		graph:   g,
		workers: DefaultWorkers,
		bus:     pubsub.New(),
		owners:  make(map[string]*Run),
		hooks:   make(map[string]func()),
		runs:    make(map[*Run]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.workers < 1 {
		return nil, engineerr.NewConfigError("", "worker count must be at least 1, got %d", s.workers)
	}

	pool, err := ants.NewPool(s.workers)
	if err != nil {
		return nil, fmt.Errorf("failed to create worker pool: %w", err)
	}
	s.pool = pool
	s.slots = make(chan struct{}, s.workers)
	if s.sinkTarget != nil {
		s.relay = progress.NewRelay(s.sinkTarget, s.sinkBuffer)
	}
	return s, nil
}

// Graph returns the scheduled graph.
func (s *Scheduler) Graph() *graph.Graph { return s.graph }

// Workers returns the worker pool size.
func (s *Scheduler) Workers() int { return s.workers }

// ExecuteUpTo executes target and every ancestor that has not executed yet.
// Configuration errors are returned before anything is dispatched.
func (s *Scheduler) ExecuteUpTo(ctx context.Context, target string, keepResourcesOnFailure bool) (*Run, error) {
	return s.start(ctx, []string{target}, keepResourcesOnFailure)
}

// ExecuteAll executes every sink of the graph, or of the scope when one is
// configured, in a single run.
func (s *Scheduler) ExecuteAll(ctx context.Context) (*Run, error) {
	var targets []string
	s.graph.View(func(sn graph.Snapshot) {
		if s.scope == nil {
			targets = sn.Sinks()
			return
		}
		for _, id := range sn.IDs() {
			if !s.inScope(id) {
				continue
			}
			sink := true
			for _, succ := range sn.Successors(id) {
				if s.inScope(succ) {
					sink = false
					break
				}
			}
			if sink {
				targets = append(targets, id)
			}
		}
	})
	return s.start(ctx, targets, s.keepOnFailure)
}

func (s *Scheduler) inScope(id string) bool {
	if s.scope == nil {
		return true
	}
	_, ok := s.scope[id]
	return ok
}

func (s *Scheduler) start(ctx context.Context, targets []string, keep bool) (*Run, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}

	p, err := s.plan(targets)
	if err != nil {
		return nil, err
	}
	if err := p.configure(); err != nil {
		return nil, err
	}
	for _, id := range p.order {
		s.hook(p.nodes[id])
	}

	r := newRun(ctx, s, p, keep)
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		r.stop()
		return nil, ErrClosed
	}
	s.runs[r] = struct{}{}
	s.mu.Unlock()

	r.claim()
	go r.loop()
	return r, nil
}

// hook installs the node's state listener once. The listener publishes on
// the bus under the graph's read lock, after the state has been written.
func (s *Scheduler) hook(n *node.Node) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.hooks[n.ID()]; ok {
		return
	}
	s.hooks[n.ID()] = n.AddListener(func(id string, from, to node.State) {
		s.graph.View(func(graph.Snapshot) {
			s.bus.Publish(pubsub.Event{NodeID: id, From: from, To: to})
		})
		s.metrics.ObserveTransition(to)
		if s.relay != nil {
			s.relay.OnStateChanged(id, to)
		}
	})
}

// Subscribe registers fn for state changes of nodeID, or of every node known
// to the graph when nodeID is empty.
func (s *Scheduler) Subscribe(nodeID string, fn pubsub.Handler) (unsubscribe func(), err error) {
	var nodes []*node.Node
	s.graph.View(func(sn graph.Snapshot) {
		if nodeID == "" {
			nodes = sn.Nodes()
			return
		}
		if n, ok := sn.Node(nodeID); ok {
			nodes = append(nodes, n)
		}
	})
	if nodeID != "" && len(nodes) == 0 {
		return nil, fmt.Errorf("%w: %s", engineerr.ErrNodeNotFound, nodeID)
	}
	for _, n := range nodes {
		s.hook(n)
	}
	return s.bus.Subscribe(nodeID, fn), nil
}

// CancelExecution requests cancellation of nodeID and dequeues its planned
// descendants that have not started. It returns ErrNotCancelable when the
// node is neither queued nor executing under this scheduler.
func (s *Scheduler) CancelExecution(nodeID string) error {
	n, ok := s.graph.Node(nodeID)
	if !ok {
		return fmt.Errorf("%w: %s", engineerr.ErrNodeNotFound, nodeID)
	}
	if st := n.State(); !st.IsActive() {
		return fmt.Errorf("cannot cancel node '%s' in state %s: %w", nodeID, st, engineerr.ErrNotCancelable)
	}
	descendants := s.graph.Descendants(nodeID)

	s.mu.Lock()
	owner := s.owners[nodeID]
	if owner == nil {
		s.mu.Unlock()
		return fmt.Errorf("node '%s' is not owned by this scheduler: %w", nodeID, engineerr.ErrNotCancelable)
	}
	requests := map[*Run][]string{owner: {nodeID}}
	for _, d := range descendants {
		if r := s.owners[d]; r != nil {
			requests[r] = append(requests[r], d)
		}
	}
	s.mu.Unlock()

	for r, ids := range requests {
		r.post(event{kind: cancelNodes, ids: ids})
	}
	return nil
}

// CancelAll cancels every active run.
func (s *Scheduler) CancelAll() {
	for _, r := range s.activeRuns() {
		r.Cancel()
	}
}

// WaitUntilFinished blocks until no run of this scheduler is active.
func (s *Scheduler) WaitUntilFinished(ctx context.Context) error {
	for _, r := range s.activeRuns() {
		select {
		case <-r.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (s *Scheduler) activeRuns() []*Run {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Run, 0, len(s.runs))
	for r := range s.runs {
		out = append(out, r)
	}
	return out
}

// ResetNode returns nodeID and its terminal descendants to IDLE, releasing
// their resources. Active nodes cannot be reset.
func (s *Scheduler) ResetNode(nodeID string) error {
	n, ok := s.graph.Node(nodeID)
	if !ok {
		return fmt.Errorf("%w: %s", engineerr.ErrNodeNotFound, nodeID)
	}
	if err := n.Reset(); err != nil {
		return fmt.Errorf("failed to reset node '%s': %w", nodeID, err)
	}
	var errs error
	for _, id := range s.graph.Descendants(nodeID) {
		d, ok := s.graph.Node(id)
		if !ok || !d.State().IsTerminal() {
			continue
		}
		errs = multierr.Append(errs, d.Reset())
	}
	return errs
}

// Close cancels every run, waits for them, and releases the worker pool.
func (s *Scheduler) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.CancelAll()
	err := s.WaitUntilFinished(ctx)

	s.mu.Lock()
	for id, remove := range s.hooks {
		remove()
		delete(s.hooks, id)
	}
	s.mu.Unlock()

	s.pool.Release()
	if s.relay != nil {
		s.relay.Close()
	}
	return err
}

func (s *Scheduler) own(id string, r *Run) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.owners[id] = r
}

func (s *Scheduler) release(r *Run) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, owner := range s.owners {
		if owner == r {
			delete(s.owners, id)
		}
	}
	delete(s.runs, r)
}

// submit runs task on the pool. The caller holds a slot, released after
// the task returns and after has run, or when submission fails.
func (s *Scheduler) submit(task func(), after func()) error {
	err := s.pool.Submit(func() {
		defer func() { <-s.slots }()
		defer after()
		task()
	})
	if err != nil {
		<-s.slots
	}
	return err
}
