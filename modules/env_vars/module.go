// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev

// Package env_vars provides a node reading the process environment.
package env_vars

import (
	"context"
	"os"
	"sort"
	"strings"

	"github.com/specialistvlad/gridflow/internal/node"
	"github.com/specialistvlad/gridflow/internal/registry"
	"github.com/zclconf/go-cty/cty"
)

// Module implements the registry.Module interface for this package.
type Module struct{}

// Input defines the arguments of an env_vars node.
type Input struct {
	// Names selects variables; empty means all. Missing names are null.
	Names []string `hcl:"names,optional"`
	// Prefix selects every variable starting with it.
	Prefix string `hcl:"prefix,optional"`
}

// Model emits a map of environment variables read at execution time.
type Model struct {
	names  []string
	prefix string
}

func (m *Model) Configure([]cty.Type) ([]cty.Type, error) {
	return []cty.Type{cty.Map(cty.String)}, nil
}

func (m *Model) Execute(node.ExecContext, []cty.Value) ([]cty.Value, error) {
	vars := make(map[string]cty.Value)
	if len(m.names) > 0 {
		for _, name := range m.names {
			if v, ok := os.LookupEnv(name); ok {
				vars[name] = cty.StringVal(v)
			} else {
				vars[name] = cty.NullVal(cty.String)
			}
		}
	} else {
		for _, kv := range os.Environ() {
			k, v, ok := strings.Cut(kv, "=")
			if ok && k != "" && strings.HasPrefix(k, m.prefix) {
				vars[k] = cty.StringVal(v)
			}
		}
	}
	if len(vars) == 0 {
		return []cty.Value{cty.MapValEmpty(cty.String)}, nil
	}
	return []cty.Value{cty.MapVal(vars)}, nil
}

func (m *Model) Reset() {}

func (m *Model) CloneModel() node.Model { return &Model{names: m.names, prefix: m.prefix} }

// Register registers the node type with the engine.
func (m *Module) Register(r *registry.Registry) {
	r.RegisterType("env_vars", &registry.NodeType{
		Description: "Reads environment variables into a map.",
		NewInput:    func() any { return new(Input) },
		Build: func(_ context.Context, input any, ins int) (*registry.Spec, error) {
			in := input.(*Input)
			names := append([]string(nil), in.Names...)
			sort.Strings(names)
			ports := make([]node.Port, ins)
			for i := range ports {
				ports[i] = node.Port{Name: "after", Type: cty.DynamicPseudoType}
			}
			return &registry.Spec{
				Model: &Model{names: names, prefix: in.Prefix},
				In:    ports,
				Out:   []node.Port{{Name: "vars", Type: cty.Map(cty.String)}},
			}, nil
		},
	})
}
