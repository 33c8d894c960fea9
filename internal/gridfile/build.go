// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev

package gridfile

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/specialistvlad/gridflow/internal/chunk"
	"github.com/specialistvlad/gridflow/internal/ctxlog"
	"github.com/specialistvlad/gridflow/internal/engineerr"
	"github.com/specialistvlad/gridflow/internal/graph"
	"github.com/specialistvlad/gridflow/internal/node"
	"github.com/specialistvlad/gridflow/internal/registry"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"
	"github.com/zclconf/go-cty/cty/function/stdlib"
)

// Grid is a built workflow graph.
type Grid struct {
	Graph *graph.Graph
	// Loops are the parallel loops by name.
	Loops map[string]*chunk.Loop
}

// Build creates the nodes and connections declared by f. loopOpts configure
// every loop's branch controller.
func Build(ctx context.Context, f *File, reg *registry.Registry, loopOpts ...chunk.Option) (*Grid, error) {
	logger := ctxlog.FromContext(ctx)
	g := graph.New()
	grid := &Grid{Graph: g, Loops: make(map[string]*chunk.Loop)}
	evalCtx := evalContext()

	var nodes []*node.Node
	var conns []graph.Connection
	for _, nb := range f.Nodes {
		n, err := buildNode(ctx, nb, reg, evalCtx)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
		for port, ref := range nb.Inputs {
			src, srcPort, err := parseRef(ref)
			if err != nil {
				return nil, engineerr.NewConfigError(nb.ID, "input %d: %w", port, err)
			}
			conns = append(conns, graph.Connection{Source: src, SourcePort: srcPort, Dest: nb.ID, DestPort: port})
		}
	}
	for _, lb := range f.Loops {
		if lb.Chunks < 1 {
			return nil, engineerr.NewConfigError(lb.Name, "loop chunks must be at least 1, got %d", lb.Chunks)
		}
		opts := append([]chunk.Option{chunk.WithContainer(lb.Name + "_chunks")}, loopOpts...)
		l := chunk.NewParallelLoop(g, lb.StartID(), lb.Name, lb.Chunks, opts...)
		grid.Loops[lb.Name] = l
		nodes = append(nodes, l.StartNode(node.WithName("loop."+lb.Name)), l.EndNode(node.WithName("loop."+lb.Name)))

		src, srcPort, err := parseRef(lb.Input)
		if err != nil {
			return nil, engineerr.NewConfigError(lb.Name, "loop input: %w", err)
		}
		body, bodyPort, err := parseRef(lb.Body)
		if err != nil {
			return nil, engineerr.NewConfigError(lb.Name, "loop body: %w", err)
		}
		conns = append(conns,
			graph.Connection{Source: src, SourcePort: srcPort, Dest: lb.StartID()},
			graph.Connection{Source: body, SourcePort: bodyPort, Dest: lb.Name},
		)
	}

	err := g.Update(func(tx *graph.Tx) error {
		for _, n := range nodes {
			if err := tx.AddNode(n); err != nil {
				return err
			}
		}
		for _, c := range conns {
			if err := tx.Connect(c); err != nil {
				return fmt.Errorf("failed to connect %s: %w", c, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	logger.Debug("Built grid.", "nodes", len(nodes), "connections", len(conns), "loops", len(f.Loops))
	return grid, nil
}

func buildNode(ctx context.Context, nb *NodeBlock, reg *registry.Registry, evalCtx *hcl.EvalContext) (*node.Node, error) {
	nt, ok := reg.Lookup(nb.Type)
	if !ok {
		return nil, engineerr.NewConfigError(nb.ID, "unknown node type '%s' (known: %s)", nb.Type, strings.Join(reg.Types(), ", "))
	}

	var input any = &struct{}{}
	if nt.NewInput != nil {
		input = nt.NewInput()
	}
	if nb.Arguments != nil {
		if err := checkArguments(nb.Arguments, evalCtx); err != nil {
			return nil, engineerr.NewConfigError(nb.ID, "invalid arguments: %w", err)
		}
		if diags := gohcl.DecodeBody(nb.Arguments, evalCtx, input); diags.HasErrors() {
			return nil, engineerr.NewConfigError(nb.ID, "invalid arguments: %w", diags)
		}
	}
	if nt.NewInput == nil {
		input = nil
	}

	spec, err := nt.Build(ctx, input, len(nb.Inputs))
	if err != nil {
		return nil, engineerr.NewConfigError(nb.ID, "failed to build %s: %w", nb.Type, err)
	}
	return node.New(nb.ID, spec.Model,
		node.WithName(nb.Type+"."+nb.ID),
		node.WithInPorts(spec.In...),
		node.WithOutPorts(spec.Out...),
		node.WithPartitions(nb.Partitions),
	), nil
}

// parseRef splits "id" or "id.N" into a node id and an output port.
func parseRef(ref string) (string, int, error) {
	if ref == "" {
		return "", 0, fmt.Errorf("empty node reference")
	}
	if i := strings.LastIndexByte(ref, '.'); i > 0 {
		if port, err := strconv.Atoi(ref[i+1:]); err == nil {
			if port < 0 {
				return "", 0, fmt.Errorf("negative port in '%s'", ref)
			}
			return ref[:i], port, nil
		}
	}
	return ref, 0, nil
}

func evalContext() *hcl.EvalContext {
	env := make(map[string]cty.Value)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok && k != "" {
			env[k] = cty.StringVal(v)
		}
	}
	return &hcl.EvalContext{
		Variables: map[string]cty.Value{"env": cty.ObjectVal(env)},
		Functions: map[string]function.Function{
			"concat":     stdlib.ConcatFunc,
			"format":     stdlib.FormatFunc,
			"jsonencode": stdlib.JSONEncodeFunc,
			"length":     stdlib.LengthFunc,
			"lower":      stdlib.LowerFunc,
			"range":      stdlib.RangeFunc,
			"upper":      stdlib.UpperFunc,
		},
	}
}
