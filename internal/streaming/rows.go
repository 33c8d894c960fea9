// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev

package streaming

import (
	"context"
	"sync"

	"github.com/zclconf/go-cty/cty"
)

// RowInput yields rows of one input port.
type RowInput interface {
	// Poll returns the next row, or false once the input is exhausted. It
	// fails when ctx is done.
	Poll(ctx context.Context) (cty.Value, bool, error)
}

// RowOutput accepts rows for one output port.
type RowOutput interface {
	Push(ctx context.Context, row cty.Value) error
}

type sliceInput struct {
	rows []cty.Value
	pos  int
}

// NewSliceInput returns a RowInput over rows.
func NewSliceInput(rows []cty.Value) RowInput {
	return &sliceInput{rows: rows}
}

func (s *sliceInput) Poll(ctx context.Context) (cty.Value, bool, error) {
	if err := ctx.Err(); err != nil {
		return cty.NilVal, false, err
	}
	if s.pos >= len(s.rows) {
		return cty.NilVal, false, nil
	}
	row := s.rows[s.pos]
	s.pos++
	return row, true, nil
}

// Collector is a RowOutput that buffers rows in memory.
type Collector struct {
	mu   sync.Mutex
	rows []cty.Value
}

func (c *Collector) Push(ctx context.Context, row cty.Value) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rows = append(c.rows, row)
	return nil
}

// Rows returns the collected rows.
func (c *Collector) Rows() []cty.Value {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]cty.Value(nil), c.rows...)
}

// Rows unpacks a table value into its rows. Lists, sets and tuples yield
// their elements, null yields nothing, anything else is a single row.
func Rows(v cty.Value) []cty.Value {
	if v == cty.NilVal || v.IsNull() || !v.IsKnown() {
		return nil
	}
	t := v.Type()
	if t.IsListType() || t.IsSetType() || t.IsTupleType() {
		out := make([]cty.Value, 0, v.LengthInt())
		for it := v.ElementIterator(); it.Next(); {
			_, ev := it.Element()
			out = append(out, ev)
		}
		return out
	}
	return []cty.Value{v}
}

// Table packs rows into a list when they share a type and a tuple
// otherwise. An empty table is an empty list of rowType.
func Table(rows []cty.Value, rowType cty.Type) cty.Value {
	if len(rows) == 0 {
		return cty.ListValEmpty(rowType)
	}
	first := rows[0].Type()
	for _, r := range rows[1:] {
		if !r.Type().Equals(first) {
			return cty.TupleVal(rows)
		}
	}
	return cty.ListVal(rows)
}
