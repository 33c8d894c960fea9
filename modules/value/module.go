// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev

// Package value provides a node emitting a constant.
package value

import (
	"context"

	"github.com/specialistvlad/gridflow/internal/node"
	"github.com/specialistvlad/gridflow/internal/registry"
	"github.com/zclconf/go-cty/cty"
)

// Module implements the registry.Module interface for this package.
type Module struct{}

// Input defines the arguments of a value node.
type Input struct {
	Value cty.Value `hcl:"value"`
}

// Model emits its value on output port 0. Connected inputs only order it
// after its upstream nodes.
type Model struct {
	Value cty.Value
}

func (m *Model) Configure([]cty.Type) ([]cty.Type, error) {
	return []cty.Type{m.Value.Type()}, nil
}

func (m *Model) Execute(node.ExecContext, []cty.Value) ([]cty.Value, error) {
	return []cty.Value{m.Value}, nil
}

func (m *Model) Reset() {}

func (m *Model) CloneModel() node.Model { return &Model{Value: m.Value} }

// Build creates a value node.
func Build(_ context.Context, input any, ins int) (*registry.Spec, error) {
	in := input.(*Input)
	ports := make([]node.Port, ins)
	for i := range ports {
		ports[i] = node.Port{Name: "after", Type: cty.DynamicPseudoType}
	}
	return &registry.Spec{
		Model: &Model{Value: in.Value},
		In:    ports,
		Out:   []node.Port{{Name: "value", Type: in.Value.Type()}},
	}, nil
}

// Register registers the node type with the engine.
func (m *Module) Register(r *registry.Registry) {
	r.RegisterType("value", &registry.NodeType{
		Description: "Emits a constant value.",
		NewInput:    func() any { return new(Input) },
		Build:       Build,
	})
}
