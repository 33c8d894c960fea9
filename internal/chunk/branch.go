// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev

package chunk

import (
	"context"
	"fmt"
	"sync"

	"github.com/specialistvlad/gridflow/internal/ctxlog"
	"github.com/specialistvlad/gridflow/internal/engineerr"
	"github.com/specialistvlad/gridflow/internal/node"
	"github.com/specialistvlad/gridflow/internal/scheduler"
	"github.com/zclconf/go-cty/cty"
)

// Branch is one cloned copy of a loop body with its private scheduler.
type Branch struct {
	index     int
	nodes     []string
	feeder    string
	collector string
	sched     *scheduler.Scheduler
	state     *node.RunState

	mu      sync.Mutex
	outputs []cty.Value
	err     error
	done    chan struct{}
}

// Index returns the chunk index.
func (b *Branch) Index() int { return b.index }

// Nodes returns the ids of every node the branch added to the parent graph.
func (b *Branch) Nodes() []string { return b.nodes }

// Feeder returns the id of the branch's source node.
func (b *Branch) Feeder() string { return b.feeder }

// Collector returns the id of the branch's result node.
func (b *Branch) Collector() string { return b.collector }

// Scheduler returns the branch's private scheduler.
func (b *Branch) Scheduler() *scheduler.Scheduler { return b.sched }

// State returns the aggregate branch state.
func (b *Branch) State() node.State { return b.state.Get() }

// Outputs returns the collector values once the branch executed.
func (b *Branch) Outputs() []cty.Value {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.outputs
}

// Err returns why the branch did not execute.
func (b *Branch) Err() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err
}

// Done is closed once the branch reaches a terminal state.
func (b *Branch) Done() <-chan struct{} { return b.done }

// start runs the branch's nodes. The branch must be Queued.
func (b *Branch) start(ctx context.Context) error {
	ctx = ctxlog.With(ctx, "chunk", b.index)
	if err := b.state.Transition(node.Executing); err != nil {
		return err
	}
	run, err := b.sched.ExecuteAll(ctx)
	if err != nil {
		b.finish(ctx, node.Failed, nil, fmt.Errorf("chunk %d failed to start: %w", b.index, err))
		return err
	}
	go func() {
		res, _ := run.Wait(context.Background())
		switch {
		case res.Succeeded():
			b.finish(ctx, node.Executed, b.collected(), nil)
		case len(res.Failed()) == 0 && len(res.Canceled()) > 0:
			b.finish(ctx, node.Canceled, nil, &engineerr.CancellationError{NodeID: b.collector, Reason: fmt.Sprintf("chunk %d canceled", b.index)})
		default:
			err := res.Err()
			if err == nil {
				err = fmt.Errorf("chunk %d did not complete", b.index)
			}
			b.finish(ctx, node.Failed, nil, err)
		}
	}()
	return nil
}

func (b *Branch) collected() []cty.Value {
	n, ok := b.sched.Graph().Node(b.collector)
	if !ok {
		return nil
	}
	return n.Outputs()
}

func (b *Branch) finish(ctx context.Context, state node.State, outputs []cty.Value, err error) {
	b.mu.Lock()
	b.outputs = outputs
	b.err = err
	b.mu.Unlock()
	if tErr := b.state.Transition(state); tErr != nil {
		ctxlog.FromContext(ctx).Error("Chunk state transition rejected.", "error", tErr)
	}
	close(b.done)
}
