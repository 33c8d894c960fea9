// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev

package testutil

import (
	"testing"

	"github.com/specialistvlad/gridflow/internal/graph"
	"github.com/specialistvlad/gridflow/internal/node"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"
)

// NewNode wraps a stub in a node with dynamically typed ports.
func NewNode(id string, s *Stub) *node.Node {
	ins := make([]node.Port, s.Ins)
	for i := range ins {
		ins[i] = node.Port{Name: "in", Type: cty.DynamicPseudoType}
	}
	outs := make([]node.Port, s.Outs)
	for i := range outs {
		outs[i] = node.Port{Name: "out", Type: cty.String}
	}
	return node.New(id, s, node.WithInPorts(ins...), node.WithOutPorts(outs...))
}

// Builder assembles test graphs from stubs.
type Builder struct {
	t     *testing.T
	G     *graph.Graph
	Stubs map[string]*Stub
	// next tracks the next free input port per node.
	next map[string]int
}

// NewBuilder returns a Builder over an empty graph.
func NewBuilder(t *testing.T) *Builder {
	return &Builder{t: t, G: graph.New(), Stubs: make(map[string]*Stub), next: make(map[string]int)}
}

// Add inserts a node backed by s.
func (b *Builder) Add(id string, s *Stub) *Builder {
	b.t.Helper()
	if s.Outs == 0 {
		s.Outs = 1
	}
	b.Stubs[id] = s
	require.NoError(b.t, b.G.AddNode(NewNode(id, s)))
	return b
}

// Edge connects from's first output to the next free input of to.
func (b *Builder) Edge(from, to string) *Builder {
	b.t.Helper()
	port := b.next[to]
	b.next[to]++
	require.NoError(b.t, b.G.Connect(graph.Connection{Source: from, Dest: to, DestPort: port}))
	return b
}

// Node returns the node with id.
func (b *Builder) Node(id string) *node.Node {
	b.t.Helper()
	n, ok := b.G.Node(id)
	require.True(b.t, ok, "node %s not found", id)
	return n
}
