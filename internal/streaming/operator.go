// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev

package streaming

import (
	"context"

	"github.com/zclconf/go-cty/cty"
)

// StreamableOperator is one partition's instance of a distributed operator.
type StreamableOperator interface {
	// RunIntermediate consumes non-distributed side inputs and caches what
	// the final pass needs. inputs[i] is nil for distributed ports.
	RunIntermediate(ctx context.Context, inputs []RowInput) error
	// RunFinal streams this partition's share of the distributed inputs.
	// inputs[i] is nil for non-distributed ports.
	RunFinal(ctx context.Context, inputs []RowInput, outputs []RowOutput) error
	SaveInternals() (*Internals, error)
	LoadInternals(in *Internals) error
}

// MergeOperator combines partition internals. MergeFinal must be
// associative.
type MergeOperator interface {
	MergeFinal(parts []*Internals) (*Internals, error)
}

// Streamable is implemented by node models that can run distributed.
type Streamable interface {
	InputPortRoles() []InputPortRole
	OutputPortRoles() []OutputPortRole
	// CreateInitialInternals returns the state the first pre-pass starts
	// from, or nil when the operator needs no pre-pass.
	CreateInitialInternals() *Internals
	// Iterate reports whether another non-distributed pre-pass is needed.
	Iterate(in *Internals) (bool, error)
	CreateStreamableOperator(info PartitionInfo, inSpecs []cty.Type) (StreamableOperator, error)
	// CreateMergeOperator returns nil when partitions need no merge.
	CreateMergeOperator() MergeOperator
	ComputeFinalOutputSpecs(merged *Internals, inSpecs []cty.Type) ([]cty.Type, error)
}
