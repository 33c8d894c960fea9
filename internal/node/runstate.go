// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev

package node

import (
	"sync"

	"github.com/specialistvlad/gridflow/internal/engineerr"
)

// Listener is notified after an accepted transition.
type Listener func(nodeID string, from, to State)

type listenerEntry struct {
	id uint64
	fn Listener
}

// RunState is the per-node state machine. Transitions are atomic with
// respect to each other and listeners observe them in order.
type RunState struct {
	nodeID string

	// notifyMu serializes transition+notification so listeners of one node
	// see transitions in the order they were applied.
	notifyMu sync.Mutex

	mu        sync.Mutex
	state     State
	listeners []listenerEntry
	nextID    uint64
}

// NewRunState returns a state machine in the Idle state.
func NewRunState(nodeID string) *RunState {
	return &RunState{nodeID: nodeID}
}

// Get returns the current state.
func (r *RunState) Get() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Transition moves to the target state if the move is legal. Illegal moves
// return an IllegalTransitionError and leave the state unchanged.
func (r *RunState) Transition(to State) error {
	r.notifyMu.Lock()
	defer r.notifyMu.Unlock()

	r.mu.Lock()
	from := r.state
	if !CanTransition(from, to) {
		r.mu.Unlock()
		return &engineerr.IllegalTransitionError{NodeID: r.nodeID, From: from.String(), To: to.String()}
	}
	r.state = to
	listeners := r.snapshot()
	r.mu.Unlock()

	notify(listeners, r.nodeID, from, to)
	return nil
}

// Reset returns a terminal state to Idle. Resetting Idle is a no-op; active
// states cannot be reset.
func (r *RunState) Reset() error {
	r.notifyMu.Lock()
	defer r.notifyMu.Unlock()

	r.mu.Lock()
	from := r.state
	switch {
	case from == Idle:
		r.mu.Unlock()
		return nil
	case from.IsActive():
		r.mu.Unlock()
		return &engineerr.IllegalTransitionError{NodeID: r.nodeID, From: from.String(), To: Idle.String()}
	}
	r.state = Idle
	listeners := r.snapshot()
	r.mu.Unlock()

	notify(listeners, r.nodeID, from, Idle)
	return nil
}

// AddListener registers fn and returns a function that removes it.
func (r *RunState) AddListener(fn Listener) (remove func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	id := r.nextID
	r.listeners = append(r.listeners, listenerEntry{id: id, fn: fn})

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			for i, l := range r.listeners {
				if l.id == id {
					r.listeners = append(r.listeners[:i:i], r.listeners[i+1:]...)
					return
				}
			}
		})
	}
}

func (r *RunState) snapshot() []Listener {
	out := make([]Listener, len(r.listeners))
	for i, l := range r.listeners {
		out[i] = l.fn
	}
	return out
}

func notify(listeners []Listener, nodeID string, from, to State) {
	for _, fn := range listeners {
		fn(nodeID, from, to)
	}
}
