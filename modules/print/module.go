// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev

// Package print provides a node writing its inputs to the console.
package print

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/specialistvlad/gridflow/internal/ctxlog"
	"github.com/specialistvlad/gridflow/internal/node"
	"github.com/specialistvlad/gridflow/internal/registry"
	"github.com/zclconf/go-cty/cty"
	ctyjson "github.com/zclconf/go-cty/cty/json"
)

// Module implements the registry.Module interface for this package.
type Module struct {
	// Out receives printed values. Nil means standard output.
	Out io.Writer
}

// Input defines the arguments of a print node.
type Input struct {
	Label string `hcl:"label,optional"`
}

// Model prints every input as JSON and passes it through unchanged.
type Model struct {
	label string
	out   *lockedWriter
}

type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (m *Model) Configure(in []cty.Type) ([]cty.Type, error) { return in, nil }

func (m *Model) Execute(ec node.ExecContext, in []cty.Value) ([]cty.Value, error) {
	label := m.label
	if label == "" {
		label = ec.NodeID()
	}
	ctxlog.FromContext(ec.Context()).Info("Printing input", "nodeID", ec.NodeID(), "count", len(in))

	m.out.mu.Lock()
	defer m.out.mu.Unlock()
	for i, v := range in {
		text := "(null)"
		if v != cty.NilVal && !v.IsNull() {
			b, err := ctyjson.Marshal(v, v.Type())
			if err != nil {
				return nil, fmt.Errorf("failed to render input %d: %w", i, err)
			}
			text = string(b)
		}
		if _, err := fmt.Fprintf(m.out.w, "%s[%d] = %s\n", label, i, text); err != nil {
			return nil, fmt.Errorf("failed to print: %w", err)
		}
	}
	return in, nil
}

func (m *Model) Reset() {}

func (m *Model) CloneModel() node.Model { return &Model{label: m.label, out: m.out} }

// Register registers the node type with the engine.
func (m *Module) Register(r *registry.Registry) {
	out := &lockedWriter{w: m.Out}
	if out.w == nil {
		out.w = os.Stdout
	}
	r.RegisterType("print", &registry.NodeType{
		Description: "Prints its inputs and passes them through.",
		NewInput:    func() any { return new(Input) },
		Build: func(_ context.Context, input any, ins int) (*registry.Spec, error) {
			if ins < 1 {
				return nil, fmt.Errorf("print needs at least one input")
			}
			ports := make([]node.Port, ins)
			for i := range ports {
				ports[i] = node.Port{Name: fmt.Sprintf("in%d", i), Type: cty.DynamicPseudoType}
			}
			return &registry.Spec{
				Model: &Model{label: input.(*Input).Label, out: out},
				In:    ports,
				Out:   ports,
			}, nil
		},
	})
}
