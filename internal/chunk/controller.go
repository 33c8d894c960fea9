// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev

package chunk

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/specialistvlad/gridflow/internal/ctxlog"
	"github.com/specialistvlad/gridflow/internal/graph"
	"github.com/specialistvlad/gridflow/internal/metrics"
	"github.com/specialistvlad/gridflow/internal/node"
	"github.com/specialistvlad/gridflow/internal/scheduler"
	"github.com/zclconf/go-cty/cty"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

// ErrBranchesExist is returned when branches are created twice without a
// cleanup in between.
var ErrBranchesExist = errors.New("chunk branches already exist")

// Body describes a loop body inside the parent graph.
type Body struct {
	// Start feeds the body. Each branch replaces it with a feeder node
	// exposing the same output ports.
	Start string
	// End drains the body. Each branch replaces it with a collector node
	// holding one port per connection into End.
	End string
	// Nodes lists the body. Empty means every node between Start and End.
	Nodes []string
}

// Feed returns the values a branch's feeder emits, one per output port of
// the loop start.
type Feed func(index int) ([]cty.Value, error)

// Controller creates, runs and removes the branches of one parallel loop.
type Controller struct {
	parent    *graph.Graph
	container string
	schedOpts []scheduler.Option
	metrics   *metrics.Metrics
	listener  LoopEndListener

	mu       sync.Mutex
	master   *Master
	branches []*Branch
}

// Option customizes a Controller.
type Option func(*Controller)

// WithContainer names the container holding branch nodes.
func WithContainer(id string) Option {
	return func(c *Controller) { c.container = id }
}

// WithSchedulerOptions configures every branch scheduler.
func WithSchedulerOptions(opts ...scheduler.Option) Option {
	return func(c *Controller) { c.schedOpts = append(c.schedOpts, opts...) }
}

// WithMetrics publishes branch counts.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// WithListener notifies the loop end of branch state changes.
func WithListener(l LoopEndListener) Option {
	return func(c *Controller) { c.listener = l }
}

// NewController returns a Controller adding branches to parent.
func NewController(parent *graph.Graph, opts ...Option) *Controller {
	c := &Controller{parent: parent, container: "chunks-" + uuid.NewString()}
	for _, opt := range opts {
		opt(c)
	}
	c.master = NewMaster(c.listener, c.metrics)
	return c
}

// Container returns the id of the auto-created container.
func (c *Controller) Container() string { return c.container }

// Master returns the aggregator of the current branches.
func (c *Controller) Master() *Master {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.master
}

// Branches returns the current branches ordered by index.
func (c *Controller) Branches() []*Branch {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*Branch(nil), c.branches...)
}

// blueprint is the loop body resolved against the parent graph.
type blueprint struct {
	nodes   []*node.Node
	inbound map[string][]graph.Connection
	// outputs are the connections from the body into End, by End port.
	outputs  []graph.Connection
	start    *node.Node
	endPorts []node.Port
}

func resolveBody(sn graph.Snapshot, body Body) (*blueprint, error) {
	start, ok := sn.Node(body.Start)
	if !ok {
		return nil, fmt.Errorf("loop start '%s' not found", body.Start)
	}
	end, ok := sn.Node(body.End)
	if !ok {
		return nil, fmt.Errorf("loop end '%s' not found", body.End)
	}

	ids := body.Nodes
	if len(ids) == 0 {
		upstream := make(map[string]struct{})
		for _, id := range sn.Ancestors(body.End) {
			upstream[id] = struct{}{}
		}
		for _, id := range sn.Descendants(body.Start) {
			if _, ok := upstream[id]; ok {
				ids = append(ids, id)
			}
		}
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("loop body between '%s' and '%s' is empty", body.Start, body.End)
	}

	bp := &blueprint{start: start, inbound: make(map[string][]graph.Connection)}
	inBody := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		n, ok := sn.Node(id)
		if !ok {
			return nil, fmt.Errorf("loop body node '%s' not found", id)
		}
		bp.nodes = append(bp.nodes, n)
		bp.inbound[id] = sn.Inbound(id)
		inBody[id] = struct{}{}
	}
	for _, c := range sn.Inbound(body.End) {
		if _, ok := inBody[c.Source]; ok {
			bp.outputs = append(bp.outputs, c)
			bp.endPorts = append(bp.endPorts, end.InPorts()[c.DestPort])
		}
	}
	if len(bp.outputs) == 0 {
		return nil, fmt.Errorf("loop body does not feed loop end '%s'", body.End)
	}
	return bp, nil
}

// CreateBranches clones body n times into the parent graph. Branches are
// registered with a fresh Master but not started.
func (c *Controller) CreateBranches(ctx context.Context, body Body, n int, feed Feed) ([]*Branch, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.branches != nil {
		return nil, ErrBranchesExist
	}
	if n < 1 {
		return nil, fmt.Errorf("branch count must be at least 1, got %d", n)
	}

	feeds := make([][]cty.Value, n)
	for i := range feeds {
		values, err := feed(i)
		if err != nil {
			return nil, fmt.Errorf("failed to prepare chunk %d: %w", i, err)
		}
		feeds[i] = values
	}

	branches := make([]*Branch, n)
	err := c.parent.Update(func(tx *graph.Tx) (err error) {
		bp, err := resolveBody(tx.Snapshot, body)
		if err != nil {
			return err
		}
		if err := tx.AddContainer(c.container); err != nil {
			return err
		}
		defer func() {
			if err != nil {
				err = multierr.Append(err, tx.RemoveContainer(c.container))
			}
		}()
		for i := range branches {
			if branches[i], err = c.clone(tx, bp, i, feeds[i]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	master := NewMaster(c.listener, c.metrics)
	for _, b := range branches {
		opts := append(append([]scheduler.Option(nil), c.schedOpts...), scheduler.WithScope(b.nodes))
		if b.sched, err = scheduler.New(c.parent, opts...); err != nil {
			return nil, multierr.Append(err, c.discard(ctx, branches))
		}
		if err := master.AddParallelChunk(b.index, b); err != nil {
			return nil, multierr.Append(err, c.discard(ctx, branches))
		}
		index := b.index
		b.state.AddListener(func(_ string, from, to node.State) {
			master.StateChanged(index, from, to)
		})
	}
	c.master = master
	c.branches = branches
	ctxlog.FromContext(ctx).Debug("Created chunk branches.", "container", c.container, "count", n)
	return append([]*Branch(nil), branches...), nil
}

func (c *Controller) clone(tx *graph.Tx, bp *blueprint, index int, values []cty.Value) (*Branch, error) {
	prefix := fmt.Sprintf("%s/%d/", c.container, index)
	b := &Branch{
		index:     index,
		feeder:    prefix + "_feed",
		collector: prefix + "_collect",
		state:     node.NewRunState(prefix),
		done:      make(chan struct{}),
	}

	outPorts := bp.start.OutPorts()
	if len(values) != len(outPorts) {
		return nil, fmt.Errorf("chunk %d feeds %d values for %d output ports of '%s'", index, len(values), len(outPorts), bp.start.ID())
	}
	added := []*node.Node{
		node.New(b.feeder, &feeder{values: values}, node.WithOutPorts(outPorts...)),
		node.New(b.collector, collector{}, node.WithInPorts(bp.endPorts...), node.WithOutPorts(bp.endPorts...)),
	}
	ids := map[string]string{bp.start.ID(): b.feeder}
	for _, n := range bp.nodes {
		clone, err := n.Clone(prefix + n.ID())
		if err != nil {
			return nil, err
		}
		ids[n.ID()] = clone.ID()
		added = append(added, clone)
	}
	for _, n := range added {
		if err := tx.AddNode(n); err != nil {
			return nil, err
		}
		if err := tx.AddToContainer(c.container, n.ID()); err != nil {
			return nil, err
		}
		b.nodes = append(b.nodes, n.ID())
	}
	sort.Strings(b.nodes)

	for _, n := range bp.nodes {
		for _, conn := range bp.inbound[n.ID()] {
			src, ok := ids[conn.Source]
			if !ok {
				// Sources outside the loop are shared read-only.
				src = conn.Source
			}
			if err := tx.Connect(graph.Connection{Source: src, SourcePort: conn.SourcePort, Dest: ids[n.ID()], DestPort: conn.DestPort}); err != nil {
				return nil, err
			}
		}
	}
	for port, conn := range bp.outputs {
		if err := tx.Connect(graph.Connection{Source: ids[conn.Source], SourcePort: conn.SourcePort, Dest: b.collector, DestPort: port}); err != nil {
			return nil, err
		}
	}
	return b, nil
}

// ExecuteChunks starts every branch concurrently. It returns once all of
// them have been started; branch outcomes arrive through the Master.
func (c *Controller) ExecuteChunks(ctx context.Context) error {
	branches := c.Branches()
	if len(branches) == 0 {
		return errors.New("no chunk branches to execute")
	}
	for _, b := range branches {
		if err := b.state.Transition(node.Queued); err != nil {
			return fmt.Errorf("chunk %d cannot start: %w", b.index, err)
		}
	}

	var g errgroup.Group
	for _, b := range branches {
		g.Go(func() error { return b.start(ctx) })
	}
	return g.Wait()
}

// CancelChunkExecution cancels every queued or executing branch. Executed
// branches keep their results.
func (c *Controller) CancelChunkExecution() {
	for _, b := range c.Branches() {
		if b.State().IsActive() {
			b.sched.CancelAll()
		}
	}
}

// CleanupChunks cancels the branches, waits for them and removes their
// nodes and container from the parent graph. Repeated calls are no-ops.
func (c *Controller) CleanupChunks(ctx context.Context) error {
	c.mu.Lock()
	branches := c.branches
	c.branches = nil
	c.mu.Unlock()
	if branches == nil {
		return nil
	}

	var errs error
	for _, b := range branches {
		if b.sched == nil {
			continue
		}
		errs = multierr.Append(errs, b.sched.Close(ctx))
		if b.State() != node.Idle {
			select {
			case <-b.done:
			case <-ctx.Done():
				errs = multierr.Append(errs, ctx.Err())
			}
		}
	}
	errs = multierr.Append(errs, c.removeContainer())
	ctxlog.FromContext(ctx).Debug("Cleaned up chunk branches.", "container", c.container, "count", len(branches))
	return errs
}

// discard releases branches that were never published.
func (c *Controller) discard(ctx context.Context, branches []*Branch) error {
	var errs error
	for _, b := range branches {
		if b.sched != nil {
			errs = multierr.Append(errs, b.sched.Close(ctx))
		}
	}
	return multierr.Append(errs, c.removeContainer())
}

func (c *Controller) removeContainer() error {
	return c.parent.Update(func(tx *graph.Tx) error {
		return tx.RemoveContainer(c.container)
	})
}

// feeder emits a branch's chunk of the loop input.
type feeder struct {
	values []cty.Value
}

func (f *feeder) Configure([]cty.Type) ([]cty.Type, error) {
	out := make([]cty.Type, len(f.values))
	for i, v := range f.values {
		out[i] = v.Type()
	}
	return out, nil
}

func (f *feeder) Execute(node.ExecContext, []cty.Value) ([]cty.Value, error) {
	return f.values, nil
}

func (f *feeder) Reset() {}

// collector holds a branch's result as its outputs.
type collector struct{}

func (collector) Configure(in []cty.Type) ([]cty.Type, error) { return in, nil }

func (collector) Execute(_ node.ExecContext, in []cty.Value) ([]cty.Value, error) {
	return in, nil
}

func (collector) Reset() {}
