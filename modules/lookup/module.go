// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev

// Package lookup provides a node translating keys through a dictionary.
// It runs distributed when the node declares partitions: the keys are split
// across partitions and the dictionary is replicated to each.
package lookup

import (
	"context"
	"fmt"

	"github.com/specialistvlad/gridflow/internal/node"
	"github.com/specialistvlad/gridflow/internal/registry"
	"github.com/specialistvlad/gridflow/internal/streaming"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
)

// Module implements the registry.Module interface for this package.
type Module struct{}

// Input defines the arguments of a lookup node.
type Input struct {
	// Default replaces keys missing from the dictionary. Unset keeps the
	// key itself.
	Default *string `hcl:"default,optional"`
}

// Model translates rows of port 0 through the maps or objects on port 1.
type Model struct {
	def *string
}

var (
	_ streaming.Streamable    = (*Model)(nil)
	_ streaming.MergeOperator = merge{}
)

func (m *Model) Configure(in []cty.Type) ([]cty.Type, error) {
	return []cty.Type{cty.List(cty.String)}, nil
}

// Execute runs the single-partition form of the operator.
func (m *Model) Execute(ec node.ExecContext, in []cty.Value) ([]cty.Value, error) {
	tables := [][]cty.Value{streaming.Rows(in[0]), streaming.Rows(in[1])}
	res, err := streaming.NewCoordinator(m, 1).Run(ec.Context(), tables, []cty.Type{cty.String, cty.DynamicPseudoType})
	if err != nil {
		return nil, err
	}
	return []cty.Value{streaming.Table(res.Outputs[0], cty.String)}, nil
}

func (m *Model) Reset() {}

func (m *Model) CloneModel() node.Model { return &Model{def: m.def} }

func (m *Model) InputPortRoles() []streaming.InputPortRole {
	return []streaming.InputPortRole{streaming.InputDistributedStreamable, streaming.InputNonDistributedNonStreamable}
}

func (m *Model) OutputPortRoles() []streaming.OutputPortRole {
	return []streaming.OutputPortRole{streaming.OutputDistributed}
}

func (m *Model) CreateInitialInternals() *streaming.Internals { return nil }

func (m *Model) Iterate(*streaming.Internals) (bool, error) { return false, nil }

func (m *Model) CreateStreamableOperator(info streaming.PartitionInfo, _ []cty.Type) (streaming.StreamableOperator, error) {
	return &partition{def: m.def, info: info, state: streaming.NewInternals()}, nil
}

func (m *Model) CreateMergeOperator() streaming.MergeOperator { return merge{} }

func (m *Model) ComputeFinalOutputSpecs(*streaming.Internals, []cty.Type) ([]cty.Type, error) {
	return []cty.Type{cty.String}, nil
}

type partition struct {
	def    *string
	info   streaming.PartitionInfo
	state  *streaming.Internals
	dict   map[string]string
	misses int
}

func (p *partition) LoadInternals(in *streaming.Internals) error {
	p.state = in.Clone()
	p.dict = make(map[string]string)
	_, err := p.state.GetShared("dict", &p.dict)
	return err
}

func (p *partition) RunIntermediate(ctx context.Context, inputs []streaming.RowInput) error {
	for {
		row, ok, err := inputs[1].Poll(ctx)
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		if row.IsNull() {
			continue
		}
		if t := row.Type(); !t.IsObjectType() && !t.IsMapType() {
			return fmt.Errorf("dictionary rows must be maps or objects, got %s", t.FriendlyName())
		}
		for it := row.ElementIterator(); it.Next(); {
			k, v := it.Element()
			s, err := asString(v)
			if err != nil {
				return fmt.Errorf("dictionary entry '%s': %w", k.AsString(), err)
			}
			p.dict[k.AsString()] = s
		}
	}
	return p.state.PutShared("dict", p.dict)
}

func (p *partition) RunFinal(ctx context.Context, inputs []streaming.RowInput, outputs []streaming.RowOutput) error {
	for {
		row, ok, err := inputs[0].Poll(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		key, err := asString(row)
		if err != nil {
			return fmt.Errorf("partition %s: key: %w", p.info, err)
		}
		out, found := p.dict[key]
		if !found {
			p.misses++
			out = key
			if p.def != nil {
				out = *p.def
			}
		}
		if err := outputs[0].Push(ctx, cty.StringVal(out)); err != nil {
			return err
		}
	}
}

func (p *partition) SaveInternals() (*streaming.Internals, error) {
	out := p.state.Clone()
	return out, out.PutLocal("misses", p.misses)
}

// merge sums the misses of every partition.
type merge struct{}

func (merge) MergeFinal(parts []*streaming.Internals) (*streaming.Internals, error) {
	out := parts[0].SharedOnly()
	total := 0
	for _, p := range parts {
		var n int
		if _, err := p.GetLocal("misses", &n); err != nil {
			return nil, err
		}
		total += n
	}
	return out, out.PutLocal("misses", total)
}

func asString(v cty.Value) (string, error) {
	if v.IsNull() || !v.IsKnown() {
		return "", fmt.Errorf("value is null or unknown")
	}
	s, err := convert.Convert(v, cty.String)
	if err != nil {
		return "", err
	}
	return s.AsString(), nil
}

// Register registers the node type with the engine.
func (m *Module) Register(r *registry.Registry) {
	r.RegisterType("lookup", &registry.NodeType{
		Description: "Translates keys through a dictionary, optionally partitioned.",
		NewInput:    func() any { return new(Input) },
		Build: func(_ context.Context, input any, ins int) (*registry.Spec, error) {
			if ins != 2 {
				return nil, fmt.Errorf("lookup needs exactly 2 inputs (keys, dictionary), got %d", ins)
			}
			return &registry.Spec{
				Model: &Model{def: input.(*Input).Default},
				In: []node.Port{
					{Name: "keys", Type: cty.DynamicPseudoType},
					{Name: "dictionary", Type: cty.DynamicPseudoType},
				},
				Out: []node.Port{{Name: "values", Type: cty.List(cty.String)}},
			}, nil
		},
	})
}
