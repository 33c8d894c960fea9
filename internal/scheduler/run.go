// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev

package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/specialistvlad/gridflow/internal/ctxlog"
	"github.com/specialistvlad/gridflow/internal/engineerr"
	"github.com/specialistvlad/gridflow/internal/executor"
	"github.com/specialistvlad/gridflow/internal/node"
	"github.com/specialistvlad/gridflow/internal/progress"
	"github.com/specialistvlad/gridflow/internal/pubsub"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
)

type eventKind int

const (
	jobFinished eventKind = iota
	awaitedChanged
	cancelNodes
	cancelRun
)

type event struct {
	kind  eventKind
	id    string
	state node.State
	ids   []string
}

// Run is one ExecuteUpTo or ExecuteAll call. Its bookkeeping is owned by a
// single loop goroutine; everything else talks to it through events.
type Run struct {
	id      string
	s       *Scheduler
	ctx     context.Context
	logger  *slog.Logger
	keep    bool
	plan    *plan
	started time.Time

	mu     sync.Mutex
	queue  []event
	wake   chan struct{}
	done   chan struct{}
	result *RunResult

	// Fields below are owned by the loop goroutine.
	pending    map[string]int
	owned      map[string]bool
	ready      []string
	jobs       map[string]*executor.Job
	results    map[string]NodeResult
	unsubs     []func()
	stopWatch  context.CancelFunc
	stopAfter  func() bool
	cancelDone bool
}

func newRun(ctx context.Context, s *Scheduler, p *plan, keep bool) *Run {
	id := uuid.NewString()
	logger := ctxlog.FromContext(ctx).With("runID", id)
	r := &Run{
		id:      id,
		s:       s,
		ctx:     ctxlog.WithLogger(context.WithoutCancel(ctx), logger),
		logger:  logger,
		keep:    keep,
		plan:    p,
		started: time.Now(),
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
		pending: make(map[string]int, len(p.order)),
		owned:   make(map[string]bool, len(p.order)),
		jobs:    make(map[string]*executor.Job),
		results: make(map[string]NodeResult, len(p.order)),
	}
	for _, id := range p.order {
		r.pending[id] = len(p.preds[id])
	}

	r.stopAfter = context.AfterFunc(ctx, r.Cancel)
	if s.stopSignal != nil {
		watchCtx, stop := context.WithCancel(context.Background())
		r.stopWatch = stop
		go s.monitor.Watch(watchCtx, s.stopSignal, r.Cancel)
	}
	return r
}

// ID returns the run's unique id.
func (r *Run) ID() string { return r.id }

// Targets returns the nodes the run was asked to execute.
func (r *Run) Targets() []string { return r.plan.targets }

// Planned returns the planned node ids in execution order.
func (r *Run) Planned() []string { return r.plan.order }

// Done is closed once every planned node is resolved.
func (r *Run) Done() <-chan struct{} { return r.done }

// Wait blocks until the run finishes or ctx is done.
func (r *Run) Wait(ctx context.Context) (*RunResult, error) {
	select {
	case <-r.done:
		return r.result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Cancel requests cancellation of every node the run owns.
func (r *Run) Cancel() {
	r.post(event{kind: cancelRun})
}

func (r *Run) post(ev event) {
	r.mu.Lock()
	r.queue = append(r.queue, ev)
	r.mu.Unlock()
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

func (r *Run) take() []event {
	r.mu.Lock()
	defer r.mu.Unlock()
	q := r.queue
	r.queue = nil
	return q
}

// claim queues every planned node. Nodes already active under another run
// are awaited through the bus instead.
func (r *Run) claim() {
	r.logger.Info("🚀 Starting run", "targets", r.plan.targets, "nodes", len(r.plan.order))
	for _, id := range r.plan.order {
		n := r.plan.nodes[id]
		if err := n.Transition(node.Queued); err == nil {
			r.owned[id] = true
			r.s.own(id, r)
			if r.pending[id] == 0 {
				r.ready = append(r.ready, id)
			}
			continue
		}
		r.await(n)
	}
	sort.Strings(r.ready)
}

func (r *Run) await(n *node.Node) {
	id := n.ID()
	r.logger.Debug("Awaiting node owned by another run.", "nodeID", id, "state", n.State())
	r.unsubs = append(r.unsubs, r.s.bus.Subscribe(id, func(ev pubsub.Event) {
		if ev.To.IsTerminal() || ev.To == node.Idle {
			r.post(event{kind: awaitedChanged, id: id, state: ev.To})
		}
	}))
	if st := n.State(); !st.IsActive() {
		r.post(event{kind: awaitedChanged, id: id, state: st})
	}
}

func (r *Run) loop() {
	for len(r.results) < len(r.plan.order) {
		// Pending events first so newly ready nodes compete for the slot.
		select {
		case <-r.wake:
			for _, ev := range r.take() {
				r.handle(ev)
			}
			continue
		default:
		}
		var slots chan struct{}
		if len(r.ready) > 0 {
			slots = r.s.slots
		}
		select {
		case slots <- struct{}{}:
			r.dispatch()
		case <-r.wake:
			for _, ev := range r.take() {
				r.handle(ev)
			}
		}
	}
	r.finish()
}

func (r *Run) handle(ev event) {
	switch ev.kind {
	case jobFinished:
		r.jobFinished(ev.id)
	case awaitedChanged:
		r.awaitedChanged(ev.id, ev.state)
	case cancelNodes:
		r.cancel(ev.ids)
	case cancelRun:
		r.cancelAll()
	}
}

// dispatch starts the lowest-id ready node. The caller holds a slot.
func (r *Run) dispatch() {
	id := r.ready[0]
	r.ready = r.ready[1:]
	n := r.plan.nodes[id]

	j := executor.New(r.ctx, n, nil,
		executor.WithSubmitter(func(task func()) error {
			return r.s.submit(task, func() { r.post(event{kind: jobFinished, id: id}) })
		}),
		executor.WithInputResolver(r.inputs(id)),
		executor.WithMetrics(r.s.metrics),
		executor.WithPartitions(r.s.partitions),
	)
	r.jobs[id] = j
	r.logger.Debug("Dispatching node.", "nodeID", id, "jobID", j.ID())
	if err := j.Start(r.jobSink()); err != nil {
		r.logger.Error("Failed to dispatch node.", "nodeID", id, "error", err)
		r.jobFinished(id)
	}
}

func (r *Run) jobSink() progress.Sink {
	if r.s.relay == nil {
		return progress.Discard
	}
	return progress.Funcs{Progress: r.s.relay.OnProgress}
}

// inputs builds the resolver that reads upstream outputs once the job runs.
func (r *Run) inputs(id string) func() ([]cty.Value, error) {
	n := r.plan.nodes[id]
	conns := r.plan.inbound[id]
	return func() ([]cty.Value, error) {
		ports := n.InPorts()
		in := make([]cty.Value, len(ports))
		for _, c := range conns {
			v, ok := r.plan.nodes[c.Source].Output(c.SourcePort)
			if !ok {
				return nil, fmt.Errorf("output %d of node '%s' is not available", c.SourcePort, c.Source)
			}
			if t := ports[c.DestPort].Type; !isAny(t) {
				converted, err := convert.Convert(v, t)
				if err != nil {
					return nil, fmt.Errorf("input port %d (%s): %w", c.DestPort, ports[c.DestPort].Name, err)
				}
				v = converted
			}
			in[c.DestPort] = v
		}
		return in, nil
	}
}

func (r *Run) jobFinished(id string) {
	j := r.jobs[id]
	res, _ := j.Result()
	n := r.plan.nodes[id]

	var nr NodeResult
	switch res.State {
	case node.Executed:
		nr = NodeResult{Outcome: Executed, State: res.State}
	case node.Canceled:
		nr = NodeResult{Outcome: Canceled, State: res.State, Err: res.Err}
	case node.Failed:
		nr = NodeResult{Outcome: Failed, State: res.State, Err: res.Err}
		if !r.keep {
			n.ReleaseResources()
		}
	default:
		if engineerr.IsCanceled(res.Err) {
			nr = NodeResult{Outcome: CanceledBeforeStart, State: res.State, Err: res.Err}
		} else {
			nr = NodeResult{Outcome: Failed, State: res.State, Err: res.Err}
		}
	}
	r.resolve(id, nr)
}

func (r *Run) awaitedChanged(id string, st node.State) {
	if _, done := r.results[id]; done {
		return
	}
	nr := NodeResult{State: st, Awaited: true, Err: r.plan.nodes[id].Err()}
	switch st {
	case node.Executed:
		nr.Outcome = Executed
		nr.Err = nil
	case node.Failed:
		nr.Outcome = Failed
	case node.Canceled:
		nr.Outcome = Canceled
	default:
		nr.Outcome = CanceledBeforeStart
		nr.Err = &engineerr.CancellationError{NodeID: id, Reason: "dequeued by another run"}
	}
	r.resolve(id, nr)
}

// resolve records a node's outcome. Successful nodes release their
// successors; any other outcome skips every planned descendant.
func (r *Run) resolve(id string, nr NodeResult) {
	if _, done := r.results[id]; done {
		return
	}
	r.results[id] = nr
	if nr.Outcome == Executed {
		for _, succ := range r.plan.succs[id] {
			r.pending[succ]--
			if r.pending[succ] == 0 && r.startable(succ) {
				r.ready = insertSorted(r.ready, succ)
			}
		}
		return
	}
	for _, d := range r.descendants(id) {
		r.dequeue(d, NodeResult{
			Outcome: SkippedUpstream,
			Err:     fmt.Errorf("node '%s' skipped due to upstream failure of '%s'", d, id),
		})
	}
}

func (r *Run) startable(id string) bool {
	if !r.owned[id] {
		return false
	}
	if _, done := r.results[id]; done {
		return false
	}
	_, dispatched := r.jobs[id]
	return !dispatched
}

// dequeue resolves a node that will not run in this run. Owned nodes that
// have not started go back to IDLE.
func (r *Run) dequeue(id string, nr NodeResult) {
	if _, done := r.results[id]; done {
		return
	}
	if _, dispatched := r.jobs[id]; dispatched {
		return
	}
	if r.owned[id] {
		r.ready = removeSorted(r.ready, id)
		n := r.plan.nodes[id]
		if err := n.Transition(node.Idle); err != nil {
			r.logger.Error("Failed to dequeue node.", "nodeID", id, "error", err)
		}
		n.SetResult(nil, nr.Err)
	} else {
		nr.Awaited = true
	}
	nr.State = r.plan.nodes[id].State()
	r.results[id] = nr
	r.logger.Debug("Node will not run.", "nodeID", id, "outcome", nr.Outcome)
	if nr.Outcome != Executed {
		for _, d := range r.descendants(id) {
			r.dequeue(d, NodeResult{
				Outcome: SkippedUpstream,
				Err:     fmt.Errorf("node '%s' skipped due to upstream failure of '%s'", d, id),
			})
		}
	}
}

// cancel handles CancelExecution. Nodes are processed in reverse plan order
// so descendants are recorded as canceled rather than skipped.
func (r *Run) cancel(ids []string) {
	want := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}
	for i := len(r.plan.order) - 1; i >= 0; i-- {
		if id := r.plan.order[i]; hasKey(want, id) {
			r.cancelOne(id)
		}
	}
}

func hasKey(set map[string]struct{}, k string) bool {
	_, ok := set[k]
	return ok
}

func (r *Run) cancelOne(id string) {
	if _, done := r.results[id]; done || !r.owned[id] {
		return
	}
	if j, ok := r.jobs[id]; ok {
		r.logger.Info("Requesting node cancellation.", "nodeID", id)
		j.RequestCancel()
		return
	}
	r.dequeue(id, NodeResult{
		Outcome: CanceledBeforeStart,
		Err:     &engineerr.CancellationError{NodeID: id, Reason: executor.ReasonBeforeStart},
	})
}

func (r *Run) cancelAll() {
	if r.cancelDone {
		return
	}
	r.cancelDone = true
	r.logger.Info("Canceling run.")
	for _, id := range r.plan.order {
		r.cancelOne(id)
	}
}

// descendants returns the planned descendants of id.
func (r *Run) descendants(id string) []string {
	seen := make(map[string]struct{})
	stack := append([]string(nil), r.plan.succs[id]...)
	var out []string
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, ok := seen[cur]; ok {
			continue
		}
		seen[cur] = struct{}{}
		out = append(out, cur)
		stack = append(stack, r.plan.succs[cur]...)
	}
	sort.Strings(out)
	return out
}

// stop detaches the run from its context and stop signal.
func (r *Run) stop() {
	r.stopAfter()
	if r.stopWatch != nil {
		r.stopWatch()
	}
}

func (r *Run) finish() {
	r.stop()
	for _, unsub := range r.unsubs {
		unsub()
	}

	res := &RunResult{RunID: r.id, Targets: r.plan.targets, Nodes: r.results}
	r.s.metrics.RunFinished(res.outcomeLabel())
	r.s.release(r)
	r.logger.Info("🏁 Run finished",
		"outcome", res.outcomeLabel(),
		"executed", len(res.Executed()),
		"failed", len(res.Failed()),
		"canceled", len(res.Canceled()),
		"skipped", len(res.Skipped()),
		"duration", time.Since(r.started))

	r.result = res
	close(r.done)
}

func insertSorted(list []string, v string) []string {
	i := sort.SearchStrings(list, v)
	if i < len(list) && list[i] == v {
		return list
	}
	list = append(list, "")
	copy(list[i+1:], list[i:])
	list[i] = v
	return list
}

func removeSorted(list []string, v string) []string {
	i := sort.SearchStrings(list, v)
	if i < len(list) && list[i] == v {
		return append(list[:i], list[i+1:]...)
	}
	return list
}
