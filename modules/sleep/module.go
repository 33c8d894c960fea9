// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev

// Package sleep provides a node that waits before passing its inputs on.
package sleep

import (
	"context"
	"fmt"
	"time"

	"github.com/specialistvlad/gridflow/internal/node"
	"github.com/specialistvlad/gridflow/internal/registry"
	"github.com/zclconf/go-cty/cty"
)

// steps is how many progress updates a sleep reports.
const steps = 10

// Module implements the registry.Module interface for this package.
type Module struct{}

// Input defines the arguments of a sleep node.
type Input struct {
	Duration string `hcl:"duration"`
}

// Model waits for its duration, observing cancellation, then passes its
// inputs through.
type Model struct {
	d time.Duration
}

func (m *Model) Configure(in []cty.Type) ([]cty.Type, error) { return in, nil }

func (m *Model) Execute(ec node.ExecContext, in []cty.Value) ([]cty.Value, error) {
	ticker := time.NewTicker(m.d / steps)
	defer ticker.Stop()
	for i := 1; i <= steps; i++ {
		select {
		case <-ticker.C:
			ec.SetProgress(float64(i)/steps, fmt.Sprintf("slept %s", m.d*time.Duration(i)/steps))
		case <-ec.Canceled():
			return nil, ec.CheckCanceled()
		}
	}
	return in, nil
}

func (m *Model) Reset() {}

func (m *Model) CloneModel() node.Model { return &Model{d: m.d} }

// Build creates a sleep node passing ins values through.
func Build(_ context.Context, input any, ins int) (*registry.Spec, error) {
	d, err := time.ParseDuration(input.(*Input).Duration)
	if err != nil {
		return nil, fmt.Errorf("invalid duration: %w", err)
	}
	if d < steps {
		return nil, fmt.Errorf("duration %s is too short", d)
	}
	ports := make([]node.Port, ins)
	for i := range ports {
		ports[i] = node.Port{Name: fmt.Sprintf("in%d", i), Type: cty.DynamicPseudoType}
	}
	return &registry.Spec{Model: &Model{d: d}, In: ports, Out: ports}, nil
}

// Register registers the node type with the engine.
func (m *Module) Register(r *registry.Registry) {
	r.RegisterType("sleep", &registry.NodeType{
		Description: "Waits, then passes its inputs through.",
		NewInput:    func() any { return new(Input) },
		Build:       Build,
	})
}
