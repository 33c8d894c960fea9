// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev

package streaming

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/specialistvlad/gridflow/internal/engineerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"
	"pgregory.net/rapid"
)

// dictOperator translates distributed rows through a replicated dictionary
// and counts translated rows per partition.
type dictOperator struct {
	prePasses        int
	corruptPartition int
	failPartition    int
	failSpecs        bool
	specCalls        atomic.Int32
}

func newDictOperator() *dictOperator {
	return &dictOperator{corruptPartition: -1, failPartition: -1}
}

func (d *dictOperator) InputPortRoles() []InputPortRole {
	return []InputPortRole{InputDistributedStreamable, InputNonDistributedNonStreamable}
}

func (d *dictOperator) OutputPortRoles() []OutputPortRole {
	return []OutputPortRole{OutputDistributed}
}

func (d *dictOperator) CreateInitialInternals() *Internals {
	in := NewInternals()
	_ = in.PutShared("passes", 0)
	return in
}

func (d *dictOperator) Iterate(in *Internals) (bool, error) {
	var passes int
	if _, err := in.GetShared("passes", &passes); err != nil {
		return false, err
	}
	return passes < d.prePasses, nil
}

func (d *dictOperator) CreateStreamableOperator(info PartitionInfo, _ []cty.Type) (StreamableOperator, error) {
	return &dictPartition{parent: d, info: info}, nil
}

func (d *dictOperator) CreateMergeOperator() MergeOperator { return sumMerge{} }

func (d *dictOperator) ComputeFinalOutputSpecs(merged *Internals, _ []cty.Type) ([]cty.Type, error) {
	d.specCalls.Add(1)
	if d.failSpecs {
		return nil, errors.New("no spec for merged count")
	}
	var count int
	if ok, err := merged.GetLocal("count", &count); err != nil || !ok {
		return nil, fmt.Errorf("merged internals carry no count")
	}
	return []cty.Type{cty.String}, nil
}

type dictPartition struct {
	parent *dictOperator
	info   PartitionInfo
	state  *Internals
	dict   map[string]string
	count  int
}

func (p *dictPartition) LoadInternals(in *Internals) error {
	p.state = in.Clone()
	p.dict = map[string]string{}
	_, err := p.state.GetShared("dict", &p.dict)
	return err
}

func (p *dictPartition) RunIntermediate(ctx context.Context, inputs []RowInput) error {
	for {
		row, ok, err := inputs[1].Poll(ctx)
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		k, v, _ := strings.Cut(row.AsString(), "=")
		p.dict[k] = v
	}
	if p.info.Index == p.parent.corruptPartition && p.info.Count > 1 {
		p.dict["corrupt"] = "yes"
	}
	var passes int
	if _, err := p.state.GetShared("passes", &passes); err != nil {
		return err
	}
	if err := p.state.PutShared("passes", passes+1); err != nil {
		return err
	}
	return p.state.PutShared("dict", p.dict)
}

func (p *dictPartition) RunFinal(ctx context.Context, inputs []RowInput, outputs []RowOutput) error {
	for {
		row, ok, err := inputs[0].Poll(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if p.info.Index == p.parent.failPartition {
			return errors.New("bad row")
		}
		out := row.AsString()
		if v, ok := p.dict[out]; ok {
			out = v
		}
		if err := outputs[0].Push(ctx, cty.StringVal(out)); err != nil {
			return err
		}
		p.count++
	}
}

func (p *dictPartition) SaveInternals() (*Internals, error) {
	out := p.state.Clone()
	if err := out.PutLocal("count", p.count); err != nil {
		return nil, err
	}
	return out, nil
}

type sumMerge struct{}

func (sumMerge) MergeFinal(parts []*Internals) (*Internals, error) {
	out := parts[0].SharedOnly()
	total := 0
	for _, p := range parts {
		var n int
		if _, err := p.GetLocal("count", &n); err != nil {
			return nil, err
		}
		total += n
	}
	return out, out.PutLocal("count", total)
}

func strings2rows(values ...string) []cty.Value {
	out := make([]cty.Value, len(values))
	for i, v := range values {
		out[i] = cty.StringVal(v)
	}
	return out
}

func TestCoordinator_Run(t *testing.T) {
	op := newDictOperator()
	op.prePasses = 2
	c := NewCoordinator(op, 3)

	tables := [][]cty.Value{
		strings2rows("a", "b", "c", "d", "e", "f", "g"),
		strings2rows("a=A", "c=C", "g=G"),
	}
	res, err := c.Run(context.Background(), tables, []cty.Type{cty.String, cty.String})
	require.NoError(t, err)

	assert.Equal(t, SpecComputed, c.Phase())
	assert.Equal(t, []cty.Type{cty.String}, res.Specs)
	assert.Equal(t, strings2rows("A", "b", "C", "d", "e", "f", "G"), res.Outputs[0], "partition outputs keep input order")

	var count, passes int
	_, err = res.Merged.GetLocal("count", &count)
	require.NoError(t, err)
	_, err = res.Merged.GetShared("passes", &passes)
	require.NoError(t, err)
	assert.Equal(t, 7, count)
	assert.Equal(t, 3, passes, "two pre-passes plus the per-partition intermediate pass")

	_, err = c.Run(context.Background(), tables, nil)
	assert.ErrorContains(t, err, "illegal coordinator phase change")
}

func TestCoordinator_InconsistentDictionary(t *testing.T) {
	op := newDictOperator()
	op.corruptPartition = 1
	c := NewCoordinator(op, 3)

	tables := [][]cty.Value{strings2rows("a", "b", "c"), strings2rows("a=A")}
	res, err := c.Run(context.Background(), tables, []cty.Type{cty.String, cty.String})

	var consistency *engineerr.ConsistencyError
	require.True(t, errors.As(err, &consistency), "got %v", err)
	assert.Equal(t, []int{1}, consistency.Partitions)
	assert.Nil(t, res)
	assert.Zero(t, op.specCalls.Load(), "no output spec is computed")
	assert.Equal(t, RunningFinal, c.Phase())
}

func TestCoordinator_FinalFailureAbortsRun(t *testing.T) {
	op := newDictOperator()
	op.failPartition = 2
	c := NewCoordinator(op, 3)

	tables := [][]cty.Value{strings2rows("a", "b", "c", "d", "e", "f"), nil}
	_, err := c.Run(context.Background(), tables, []cty.Type{cty.String, cty.String})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "partition 2/3 final pass failed")
	assert.Zero(t, op.specCalls.Load())
}

func TestCoordinator_SpecFailureAfterRun(t *testing.T) {
	op := newDictOperator()
	op.failSpecs = true
	c := NewCoordinator(op, 2)

	tables := [][]cty.Value{strings2rows("a", "b", "c"), strings2rows("a=A")}
	_, err := c.Run(context.Background(), tables, []cty.Type{cty.String, cty.String})
	require.ErrorContains(t, err, "failed to compute output specs: no spec for merged count")
	var cfgErr *engineerr.ConfigError
	assert.False(t, errors.As(err, &cfgErr), "the distributed run already executed")
	assert.Equal(t, Merged, c.Phase())
}

func TestCoordinator_RoleMismatch(t *testing.T) {
	c := NewCoordinator(newDictOperator(), 2)
	_, err := c.Run(context.Background(), [][]cty.Value{nil}, nil)
	var cfgErr *engineerr.ConfigError
	assert.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, Initial, c.Phase())
}

func TestSumMerge_Associative(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		mk := func(label string) *Internals {
			in := NewInternals()
			_ = in.PutShared("dict", map[string]string{"a": "A"})
			_ = in.PutLocal("count", rapid.IntRange(0, 1000).Draw(t, label))
			return in
		}
		a, b, c := mk("a"), mk("b"), mk("c")
		m := sumMerge{}

		ab, err := m.MergeFinal([]*Internals{a, b})
		if err != nil {
			t.Fatal(err)
		}
		left, err := m.MergeFinal([]*Internals{ab, c})
		if err != nil {
			t.Fatal(err)
		}
		bc, err := m.MergeFinal([]*Internals{b, c})
		if err != nil {
			t.Fatal(err)
		}
		right, err := m.MergeFinal([]*Internals{a, bc})
		if err != nil {
			t.Fatal(err)
		}
		if !Equal(left, right) {
			t.Fatalf("merge is not associative")
		}
	})
}
