// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev

package chunk

import (
	"context"
	"fmt"
	"sync"

	"github.com/specialistvlad/gridflow/internal/ctxlog"
	"github.com/specialistvlad/gridflow/internal/graph"
	"github.com/specialistvlad/gridflow/internal/node"
	"github.com/specialistvlad/gridflow/internal/streaming"
	"github.com/zclconf/go-cty/cty"
)

// Loop is a parallel chunk loop. Its start node splits an input table into
// chunks, keeps chunk 0 for the body wired in the graph and fans the rest
// out to branches. Branch i processes chunk i+1. Its end node concatenates
// the results in chunk order.
type Loop struct {
	startID, endID string
	chunks         int
	ctrl           *Controller
	listener       LoopEndListener

	mu       sync.Mutex
	arrivals chan int
	branches int
}

// NewParallelLoop returns a loop splitting its input into chunks pieces.
// Options configure the underlying Controller.
func NewParallelLoop(g *graph.Graph, startID, endID string, chunks int, opts ...Option) *Loop {
	l := &Loop{startID: startID, endID: endID, chunks: chunks}
	l.ctrl = NewController(g, opts...)
	l.listener = l.ctrl.listener
	l.ctrl.listener = l.onChunk
	l.ctrl.master = NewMaster(l.onChunk, l.ctrl.metrics)
	return l
}

// Controller returns the loop's branch controller.
func (l *Loop) Controller() *Controller { return l.ctrl }

// StartNode builds the loop start node.
func (l *Loop) StartNode(opts ...node.Option) *node.Node {
	base := []node.Option{
		node.WithInPorts(node.Port{Name: "table", Type: cty.DynamicPseudoType}),
		node.WithOutPorts(node.Port{Name: "chunk", Type: cty.DynamicPseudoType}),
	}
	return node.New(l.startID, &loopStart{l}, append(base, opts...)...)
}

// EndNode builds the loop end node.
func (l *Loop) EndNode(opts ...node.Option) *node.Node {
	base := []node.Option{
		node.WithInPorts(node.Port{Name: "rows", Type: cty.DynamicPseudoType}),
		node.WithOutPorts(node.Port{Name: "table", Type: cty.DynamicPseudoType}),
	}
	return node.New(l.endID, &loopEnd{l}, append(base, opts...)...)
}

func (l *Loop) onChunk(index int, st node.State) {
	if st.IsTerminal() {
		l.mu.Lock()
		ch := l.arrivals
		l.mu.Unlock()
		if ch != nil {
			ch <- index
		}
	}
	if l.listener != nil {
		l.listener(index, st)
	}
}

// disarm forgets the fan-out of the last start execution.
func (l *Loop) disarm() {
	l.mu.Lock()
	l.arrivals, l.branches = nil, 0
	l.mu.Unlock()
}

func rowType(v cty.Value) cty.Type {
	if v == cty.NilVal || v.IsNull() {
		return cty.DynamicPseudoType
	}
	if t := v.Type(); t.IsListType() || t.IsSetType() {
		return t.ElementType()
	}
	return cty.DynamicPseudoType
}

type loopStart struct{ l *Loop }

func (s *loopStart) Configure(in []cty.Type) ([]cty.Type, error) {
	if s.l.chunks < 1 {
		return nil, fmt.Errorf("chunk count must be at least 1, got %d", s.l.chunks)
	}
	return []cty.Type{cty.DynamicPseudoType}, nil
}

func (s *loopStart) Execute(ec node.ExecContext, in []cty.Value) ([]cty.Value, error) {
	l := s.l
	ctx := ec.Context()
	if err := l.ctrl.CleanupChunks(ctx); err != nil {
		return nil, fmt.Errorf("failed to clean up previous chunks: %w", err)
	}

	rows := streaming.Rows(in[0])
	elem := rowType(in[0])
	chunks := make([]cty.Value, l.chunks)
	for i := range chunks {
		lo, hi := streaming.PartitionInfo{Index: i, Count: l.chunks}.Bounds(len(rows))
		chunks[i] = streaming.Table(rows[lo:hi], elem)
	}

	branches := len(chunks) - 1
	arrivals := make(chan int, branches)
	l.mu.Lock()
	l.arrivals, l.branches = arrivals, branches
	l.mu.Unlock()
	if branches == 0 {
		return chunks[:1], nil
	}

	if err := ec.CheckCanceled(); err != nil {
		return nil, err
	}
	_, err := l.ctrl.CreateBranches(ctx, Body{Start: l.startID, End: l.endID}, branches, func(i int) ([]cty.Value, error) {
		return []cty.Value{chunks[i+1]}, nil
	})
	if err != nil {
		return nil, err
	}
	if err := l.ctrl.ExecuteChunks(ctx); err != nil {
		return nil, fmt.Errorf("failed to start chunks: %w", err)
	}
	ctxlog.FromContext(ctx).Debug("Fanned out loop chunks.", "chunks", l.chunks, "rows", len(rows))
	return chunks[:1], nil
}

func (s *loopStart) Reset() {
	_ = s.l.ctrl.CleanupChunks(context.Background())
	s.l.disarm()
}

type loopEnd struct{ l *Loop }

func (e *loopEnd) Configure(in []cty.Type) ([]cty.Type, error) {
	return []cty.Type{cty.DynamicPseudoType}, nil
}

// Execute consumes branches as they finish. The first failure cancels the
// branches still running. Branches are consumed once; running the end again
// requires the start to fan out again.
func (e *loopEnd) Execute(ec node.ExecContext, in []cty.Value) ([]cty.Value, error) {
	l := e.l
	l.mu.Lock()
	arrivals, pending := l.arrivals, l.branches
	l.mu.Unlock()
	if arrivals == nil && l.chunks > 1 {
		return nil, fmt.Errorf("loop start '%s' must re-execute before loop end '%s'", l.startID, l.endID)
	}
	defer l.disarm()

	total := pending + 1
	outputs := make(map[int][]cty.Value, pending)
	canceled := ec.Canceled()
	var failed error
	for pending > 0 {
		select {
		case i := <-arrivals:
			pending--
			b, ok := l.ctrl.Master().Branch(i)
			if !ok {
				continue
			}
			if b.State() != node.Executed {
				if failed == nil {
					failed = fmt.Errorf("chunk %d failed: %w", i+1, b.Err())
					l.ctrl.CancelChunkExecution()
				}
				continue
			}
			outputs[i] = b.Outputs()
			ec.SetProgress(float64(len(outputs)+1)/float64(total), fmt.Sprintf("%d of %d chunks done", len(outputs)+1, total))
		case <-canceled:
			canceled = nil
			l.ctrl.CancelChunkExecution()
			if len(l.ctrl.Branches()) == 0 {
				return nil, ec.CheckCanceled()
			}
		}
	}
	if err := l.ctrl.CleanupChunks(ec.Context()); err != nil {
		return nil, fmt.Errorf("failed to clean up chunks: %w", err)
	}
	if err := ec.CheckCanceled(); err != nil {
		return nil, err
	}
	if failed != nil {
		return nil, failed
	}

	rows := streaming.Rows(in[0])
	elem := rowType(in[0])
	for i := 0; i < total-1; i++ {
		if out := outputs[i]; len(out) > 0 {
			rows = append(rows, streaming.Rows(out[0])...)
			if elem == cty.DynamicPseudoType {
				elem = rowType(out[0])
			}
		}
	}
	return []cty.Value{streaming.Table(rows, elem)}, nil
}

func (e *loopEnd) Reset() {
	_ = e.l.ctrl.CleanupChunks(context.Background())
	e.l.disarm()
}
