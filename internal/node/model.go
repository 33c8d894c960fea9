// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev

package node

import (
	"context"

	"github.com/zclconf/go-cty/cty"
)

// Model is the collaborator a node delegates its work to. The engine never
// inspects what a model computes; it only drives it through this contract.
type Model interface {
	// Configure derives output port specs from input port specs. An error
	// here is a configuration error and blocks execution.
	Configure(in []cty.Type) ([]cty.Type, error)
	// Execute computes output port values from input port values. It must
	// poll ec.CheckCanceled at safe points.
	Execute(ec ExecContext, in []cty.Value) ([]cty.Value, error)
	// Reset releases any resources held from a previous execution.
	Reset()
}

// Cloner is implemented by models that can be duplicated into parallel
// branches.
type Cloner interface {
	CloneModel() Model
}

// ExecContext is handed to Model.Execute. Cancellation is advisory: the
// model decides when to observe it.
type ExecContext interface {
	// Context carries the logger and deadline of the surrounding run. It is
	// not canceled by a cancellation request.
	Context() context.Context
	NodeID() string
	// CheckCanceled returns a CancellationError once cancellation has been
	// requested.
	CheckCanceled() error
	// Canceled is closed once cancellation has been requested.
	Canceled() <-chan struct{}
	// SetProgress reports the absolute completed fraction in [0,1].
	SetProgress(fraction float64, msg string)
}

// Port is a typed input or output slot of a node.
type Port struct {
	Name string
	Type cty.Type
}
