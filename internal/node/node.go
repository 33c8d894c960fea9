// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev

package node

import (
	"fmt"
	"sync"

	"github.com/zclconf/go-cty/cty"
)

// Node is a single vertex in the workflow graph. It owns its run state and
// the results of its last execution; the work itself is done by its Model.
type Node struct {
	// id is the unique identifier of the node within its graph.
	id string
	// Name is the human-readable name from the configuration.
	Name string

	inPorts  []Port
	outPorts []Port
	model    Model
	state    *RunState

	// partitions > 1 runs streamable models through the distributed
	// coordinator.
	partitions int

	mu       sync.RWMutex
	outSpecs []cty.Type
	outputs  []cty.Value
	err      error
}

// Option customizes a Node at construction.
type Option func(*Node)

// WithName sets the display name.
func WithName(name string) Option {
	return func(n *Node) { n.Name = name }
}

// WithInPorts declares the input ports.
func WithInPorts(ports ...Port) Option {
	return func(n *Node) { n.inPorts = ports }
}

// WithOutPorts declares the output ports.
func WithOutPorts(ports ...Port) Option {
	return func(n *Node) { n.outPorts = ports }
}

// WithPartitions sets the partition count used for streamable models.
func WithPartitions(count int) Option {
	return func(n *Node) { n.partitions = count }
}

// New creates an Idle node.
func New(id string, model Model, opts ...Option) *Node {
	n := &Node{
		id:         id,
		Name:       id,
		model:      model,
		state:      NewRunState(id),
		partitions: 1,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// ID returns the node's identifier.
func (n *Node) ID() string { return n.id }

// Model returns the node's collaborator.
func (n *Node) Model() Model { return n.model }

// InPorts returns the declared input ports.
func (n *Node) InPorts() []Port { return n.inPorts }

// OutPorts returns the declared output ports.
func (n *Node) OutPorts() []Port { return n.outPorts }

// Partitions returns the configured partition count, at least 1.
func (n *Node) Partitions() int {
	if n.partitions < 1 {
		return 1
	}
	return n.partitions
}

// RunState exposes the node's state machine.
func (n *Node) RunState() *RunState { return n.state }

// State returns the current run state.
func (n *Node) State() State { return n.state.Get() }

// Transition applies a state transition.
func (n *Node) Transition(to State) error { return n.state.Transition(to) }

// AddListener registers a state listener.
func (n *Node) AddListener(fn Listener) func() { return n.state.AddListener(fn) }

// SetOutputSpecs stores the specs computed by the last configure pass.
func (n *Node) SetOutputSpecs(specs []cty.Type) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.outSpecs = specs
}

// OutputSpecs returns the specs computed by the last configure pass.
func (n *Node) OutputSpecs() []cty.Type {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.outSpecs
}

// SetResult records the outcome of an execution.
func (n *Node) SetResult(outputs []cty.Value, err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.outputs = outputs
	n.err = err
}

// Outputs returns the values produced by the last successful execution.
func (n *Node) Outputs() []cty.Value {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.outputs
}

// Output returns one output port value.
func (n *Node) Output(port int) (cty.Value, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if port < 0 || port >= len(n.outputs) {
		return cty.NilVal, false
	}
	return n.outputs[port], true
}

// Err returns the error recorded by the last execution, if any.
func (n *Node) Err() error {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.err
}

// Reset returns a terminal node to Idle and releases its model's resources.
func (n *Node) Reset() error {
	if err := n.state.Reset(); err != nil {
		return err
	}
	n.model.Reset()
	n.SetResult(nil, nil)
	return nil
}

// ReleaseResources lets the model drop resources while keeping the node's
// state and recorded error.
func (n *Node) ReleaseResources() {
	n.model.Reset()
}

// Clone copies the node under a new id with a fresh Idle state. The model
// must implement Cloner.
func (n *Node) Clone(id string) (*Node, error) {
	cloner, ok := n.model.(Cloner)
	if !ok {
		return nil, fmt.Errorf("model of node '%s' (%T) cannot be cloned", n.id, n.model)
	}
	return New(id, cloner.CloneModel(),
		WithName(n.Name),
		WithInPorts(n.inPorts...),
		WithOutPorts(n.outPorts...),
		WithPartitions(n.partitions),
	), nil
}
