// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev

// Package progress carries progress and state notifications from running
// jobs to observers.
package progress

import (
	"sync"

	"github.com/specialistvlad/gridflow/internal/node"
)

// Sink receives progress deltas and state changes. Implementations must be
// safe for concurrent use.
type Sink interface {
	// OnProgress reports newly completed work as a fraction of the node's
	// total, together with the latest message.
	OnProgress(nodeID string, delta float64, msg string)
	// OnStateChanged reports a node state transition.
	OnStateChanged(nodeID string, state node.State)
}

// Funcs adapts plain functions to a Sink. Nil fields are ignored.
type Funcs struct {
	Progress func(nodeID string, delta float64, msg string)
	State    func(nodeID string, state node.State)
}

func (f Funcs) OnProgress(nodeID string, delta float64, msg string) {
	if f.Progress != nil {
		f.Progress(nodeID, delta, msg)
	}
}

func (f Funcs) OnStateChanged(nodeID string, state node.State) {
	if f.State != nil {
		f.State(nodeID, state)
	}
}

// Discard drops every notification.
var Discard Sink = Funcs{}

// Multi fans notifications out to several sinks in order.
func Multi(sinks ...Sink) Sink {
	var out multi
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

type multi []Sink

func (m multi) OnProgress(nodeID string, delta float64, msg string) {
	for _, s := range m {
		s.OnProgress(nodeID, delta, msg)
	}
}

func (m multi) OnStateChanged(nodeID string, state node.State) {
	for _, s := range m {
		s.OnStateChanged(nodeID, state)
	}
}

// Collector accumulates notifications in memory.
type Collector struct {
	mu       sync.Mutex
	progress map[string]float64
	messages map[string]string
	states   map[string][]node.State
}

// NewCollector returns an empty Collector.
func NewCollector() *Collector {
	return &Collector{
		progress: make(map[string]float64),
		messages: make(map[string]string),
		states:   make(map[string][]node.State),
	}
}

func (c *Collector) OnProgress(nodeID string, delta float64, msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.progress[nodeID] += delta
	c.messages[nodeID] = msg
}

func (c *Collector) OnStateChanged(nodeID string, state node.State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.states[nodeID] = append(c.states[nodeID], state)
}

// Progress returns the summed deltas reported for nodeID.
func (c *Collector) Progress(nodeID string) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.progress[nodeID]
}

// Message returns the last message reported for nodeID.
func (c *Collector) Message(nodeID string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.messages[nodeID]
}

// States returns the states reported for nodeID in arrival order.
func (c *Collector) States(nodeID string) []node.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]node.State(nil), c.states[nodeID]...)
}
