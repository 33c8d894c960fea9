// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev

package streaming

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/specialistvlad/gridflow/internal/ctxlog"
	"github.com/specialistvlad/gridflow/internal/engineerr"
	"github.com/zclconf/go-cty/cty"
	"golang.org/x/sync/errgroup"
)

// Phase is the coordinator's position in its lifecycle.
type Phase int

const (
	Initial Phase = iota
	Iterating
	RunningFinal
	Merged
	SpecComputed
)

func (p Phase) String() string {
	switch p {
	case Initial:
		return "INITIAL"
	case Iterating:
		return "ITERATING"
	case RunningFinal:
		return "RUNNING_FINAL"
	case Merged:
		return "MERGED"
	case SpecComputed:
		return "SPEC_COMPUTED"
	}
	return "UNKNOWN"
}

// maxIterations bounds the pre-pass loop of operators that never converge.
const maxIterations = 1000

// Result is the outcome of a distributed run.
type Result struct {
	// Outputs holds the rows of each output port.
	Outputs [][]cty.Value
	// Specs are the row types computed from the merged internals.
	Specs  []cty.Type
	Merged *Internals
}

// Coordinator drives one distributed run of a Streamable operator.
type Coordinator struct {
	op         Streamable
	partitions int

	mu    sync.Mutex
	phase Phase
}

// NewCoordinator returns a coordinator splitting work into partitions.
func NewCoordinator(op Streamable, partitions int) *Coordinator {
	if partitions < 1 {
		partitions = 1
	}
	return &Coordinator{op: op, partitions: partitions}
}

// Phase returns the current phase.
func (c *Coordinator) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

func (c *Coordinator) advance(to Phase) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if to != c.phase+1 {
		return fmt.Errorf("illegal coordinator phase change %s -> %s", c.phase, to)
	}
	c.phase = to
	return nil
}

// Run executes the whole lifecycle over tables, one row slice per input
// port. Any partition failure aborts the run.
func (c *Coordinator) Run(ctx context.Context, tables [][]cty.Value, inSpecs []cty.Type) (*Result, error) {
	logger := ctxlog.FromContext(ctx).With("partitions", c.partitions)
	roles := c.op.InputPortRoles()
	if len(roles) != len(tables) {
		return nil, engineerr.NewConfigError("", "operator declares %d input roles, got %d tables", len(roles), len(tables))
	}

	if err := c.advance(Iterating); err != nil {
		return nil, err
	}
	logger.Debug("Starting non-distributed pre-passes.")
	initial, err := c.iterate(ctx, tables, inSpecs)
	if err != nil {
		return nil, err
	}
	broadcast, err := initial.MarshalBinary()
	if err != nil {
		return nil, err
	}

	if err := c.advance(RunningFinal); err != nil {
		return nil, err
	}
	logger.Debug("Running final pass on all partitions.")
	parts, outputs, err := c.runFinal(ctx, broadcast, tables, inSpecs)
	if err != nil {
		logger.Debug("Distributed run aborted.", "error", err)
		return nil, err
	}

	merged, err := c.MergeFinal(parts)
	if err != nil {
		return nil, err
	}
	if err := c.advance(Merged); err != nil {
		return nil, err
	}

	specs, err := c.op.ComputeFinalOutputSpecs(merged, inSpecs)
	if err != nil {
		return nil, fmt.Errorf("failed to compute output specs: %w", err)
	}
	if err := c.advance(SpecComputed); err != nil {
		return nil, err
	}
	logger.Debug("Distributed run finished.")
	return &Result{Outputs: c.assemble(outputs), Specs: specs, Merged: merged}, nil
}

func (c *Coordinator) iterate(ctx context.Context, tables [][]cty.Value, inSpecs []cty.Type) (*Internals, error) {
	internals := c.op.CreateInitialInternals()
	if internals == nil {
		return NewInternals(), nil
	}
	for i := 0; ; i++ {
		again, err := c.op.Iterate(internals)
		if err != nil {
			return nil, fmt.Errorf("iterate failed: %w", err)
		}
		if !again {
			return internals, nil
		}
		if i >= maxIterations {
			return nil, fmt.Errorf("operator did not converge after %d pre-passes", maxIterations)
		}
		op, err := c.op.CreateStreamableOperator(PartitionInfo{Index: 0, Count: 1}, inSpecs)
		if err != nil {
			return nil, err
		}
		if err := op.LoadInternals(internals); err != nil {
			return nil, err
		}
		if err := op.RunIntermediate(ctx, c.sideInputs(tables)); err != nil {
			return nil, fmt.Errorf("pre-pass %d failed: %w", i, err)
		}
		if internals, err = op.SaveInternals(); err != nil {
			return nil, err
		}
	}
}

func (c *Coordinator) runFinal(ctx context.Context, broadcast []byte, tables [][]cty.Value, inSpecs []cty.Type) ([]*Internals, [][]*Collector, error) {
	nOut := len(c.op.OutputPortRoles())
	parts := make([]*Internals, c.partitions)
	outputs := make([][]*Collector, c.partitions)

	g, gctx := errgroup.WithContext(ctx)
	for p := 0; p < c.partitions; p++ {
		info := PartitionInfo{Index: p, Count: c.partitions}
		g.Go(func() error {
			logger := ctxlog.FromContext(gctx).With("partition", info.String())

			loaded := NewInternals()
			if err := loaded.UnmarshalBinary(broadcast); err != nil {
				return err
			}
			if check, err := loaded.MarshalBinary(); err != nil || !bytes.Equal(check, broadcast) {
				return &engineerr.ConsistencyError{Partitions: []int{info.Index}, Detail: "broadcast internals did not round-trip"}
			}

			op, err := c.op.CreateStreamableOperator(info, inSpecs)
			if err != nil {
				return err
			}
			if err := op.LoadInternals(loaded); err != nil {
				return err
			}
			if err := op.RunIntermediate(gctx, c.sideInputs(tables)); err != nil {
				return fmt.Errorf("partition %s intermediate pass failed: %w", info, err)
			}

			cols := make([]*Collector, nOut)
			outs := make([]RowOutput, nOut)
			for i := range cols {
				cols[i] = &Collector{}
				outs[i] = cols[i]
			}
			if err := op.RunFinal(gctx, c.distributedInputs(tables, info), outs); err != nil {
				return fmt.Errorf("partition %s final pass failed: %w", info, err)
			}
			saved, err := op.SaveInternals()
			if err != nil {
				return err
			}
			parts[info.Index] = saved
			outputs[info.Index] = cols
			logger.Debug("Partition finished.")
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return parts, outputs, nil
}

// MergeFinal checks that every partition agrees on the shared section and
// combines them with the operator's merge operator.
func (c *Coordinator) MergeFinal(parts []*Internals) (*Internals, error) {
	if len(parts) == 0 {
		return NewInternals(), nil
	}
	if err := checkShared(parts); err != nil {
		return nil, err
	}
	merge := c.op.CreateMergeOperator()
	if merge == nil {
		return parts[0].SharedOnly(), nil
	}
	merged, err := merge.MergeFinal(parts)
	if err != nil {
		return nil, fmt.Errorf("merge failed: %w", err)
	}
	return merged, nil
}

// checkShared reports the partitions whose shared section differs from the
// majority. Ties favour the lowest partition's encoding.
func checkShared(parts []*Internals) error {
	encoded := make([][]byte, len(parts))
	counts := make(map[string]int)
	for i, p := range parts {
		if p == nil {
			return &engineerr.ConsistencyError{Partitions: []int{i}, Detail: "partition saved no internals"}
		}
		b, err := p.SharedBytes()
		if err != nil {
			return err
		}
		encoded[i] = b
		counts[string(b)]++
	}
	if len(counts) == 1 {
		return nil
	}

	majority := string(encoded[0])
	for i := range encoded {
		if counts[string(encoded[i])] > counts[majority] {
			majority = string(encoded[i])
		}
	}
	var bad []int
	for i, b := range encoded {
		if string(b) != majority {
			bad = append(bad, i)
		}
	}
	sort.Ints(bad)
	return &engineerr.ConsistencyError{Partitions: bad, Detail: "shared internals differ between partitions"}
}

func (c *Coordinator) sideInputs(tables [][]cty.Value) []RowInput {
	roles := c.op.InputPortRoles()
	out := make([]RowInput, len(tables))
	for i, rows := range tables {
		if !roles[i].Distributed {
			out[i] = NewSliceInput(rows)
		}
	}
	return out
}

func (c *Coordinator) distributedInputs(tables [][]cty.Value, info PartitionInfo) []RowInput {
	roles := c.op.InputPortRoles()
	out := make([]RowInput, len(tables))
	for i, rows := range tables {
		if roles[i].Distributed {
			lo, hi := info.Bounds(len(rows))
			out[i] = NewSliceInput(rows[lo:hi])
		}
	}
	return out
}

func (c *Coordinator) assemble(outputs [][]*Collector) [][]cty.Value {
	roles := c.op.OutputPortRoles()
	out := make([][]cty.Value, len(roles))
	for port, role := range roles {
		if !role.Distributed {
			out[port] = outputs[0][port].Rows()
			continue
		}
		for p := range outputs {
			out[port] = append(out[port], outputs[p][port].Rows()...)
		}
	}
	return out
}
