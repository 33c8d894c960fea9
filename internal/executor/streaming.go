// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev

package executor

import (
	"context"
	"errors"

	"github.com/specialistvlad/gridflow/internal/ctxlog"
	"github.com/specialistvlad/gridflow/internal/engineerr"
	"github.com/specialistvlad/gridflow/internal/streaming"
	"github.com/zclconf/go-cty/cty"
)

// streamable reports whether the node should run through the distributed
// coordinator, and with how many partitions.
func (j *Job) streamable() (streaming.Streamable, int, bool) {
	parts := j.node.Partitions()
	if parts < 2 && j.partitions > 1 {
		parts = j.partitions
	}
	if parts < 2 {
		return nil, 0, false
	}
	op, ok := j.node.Model().(streaming.Streamable)
	return op, parts, ok
}

func (j *Job) executeStreaming(op streaming.Streamable, partitions int) ([]cty.Value, error) {
	ctx, cancel := context.WithCancel(ctxlog.With(j.ctx, "nodeID", j.node.ID()))
	defer cancel()
	go func() {
		select {
		case <-j.cancelCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	tables := make([][]cty.Value, len(j.inputs))
	inSpecs := make([]cty.Type, len(j.inputs))
	for i, v := range j.inputs {
		tables[i] = streaming.Rows(v)
		inSpecs[i] = rowType(v)
	}

	res, err := streaming.NewCoordinator(op, partitions).Run(ctx, tables, inSpecs)
	if err != nil {
		if j.IsCanceled() && errors.Is(err, context.Canceled) {
			return nil, &engineerr.CancellationError{NodeID: j.node.ID()}
		}
		return nil, err
	}

	outputs := make([]cty.Value, len(res.Outputs))
	for i, rows := range res.Outputs {
		t := cty.DynamicPseudoType
		if i < len(res.Specs) {
			t = res.Specs[i]
		}
		outputs[i] = streaming.Table(rows, t)
	}
	return outputs, nil
}

func rowType(v cty.Value) cty.Type {
	if v == cty.NilVal {
		return cty.DynamicPseudoType
	}
	t := v.Type()
	switch {
	case t.IsListType(), t.IsSetType():
		return t.ElementType()
	case t.IsTupleType():
		return cty.DynamicPseudoType
	}
	return t
}
