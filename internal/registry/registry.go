// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev

package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/specialistvlad/gridflow/internal/node"
)

// Module is the interface that all core modules must implement to be registered.
type Module interface {
	Register(r *Registry)
}

// Spec is what a node type builds: the model and its declared ports.
type Spec struct {
	Model node.Model
	In    []node.Port
	Out   []node.Port
}

// NodeType describes one buildable node type.
type NodeType struct {
	Description string
	// NewInput returns a pointer to the struct the node's arguments decode
	// into. Nil means the type takes no arguments.
	NewInput func() any
	// Build creates the node from its decoded input. ins is the number of
	// connections the grid declares into the node.
	Build func(ctx context.Context, input any, ins int) (*Spec, error)
}

// Registry holds the node types of a single application instance.
type Registry struct {
	mu    sync.RWMutex
	types map[string]*NodeType
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{types: make(map[string]*NodeType)}
}

// RegisterType registers a node type under name. Registering a name twice
// is a programming error and panics.
func (r *Registry) RegisterType(name string, t *NodeType) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.types[name]; exists {
		panic(fmt.Sprintf("node type '%s' already registered", name))
	}
	slog.Debug("Registering node type.", "name", name)
	r.types[name] = t
}

// Lookup returns the node type registered under name.
func (r *Registry) Lookup(name string) (*NodeType, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.types[name]
	return t, ok
}

// Types returns the registered type names in ascending order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.types))
	for name := range r.types {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Load registers every module.
func Load(modules ...Module) *Registry {
	r := New()
	for _, m := range modules {
		m.Register(r)
	}
	return r
}
