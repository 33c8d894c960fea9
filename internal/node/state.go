// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev

package node

// State represents the execution state of a node.
type State int32

const (
	// Idle indicates the node is configured but not scheduled.
	Idle State = iota
	// Queued indicates the node is marked for execution and waits for a worker
	// or for its predecessors.
	Queued
	// Executing indicates a worker is running the node's collaborator.
	Executing
	// Executed indicates the node completed successfully.
	Executed
	// Failed indicates the collaborator returned an error.
	Failed
	// Canceled indicates the collaborator observed a cancellation request.
	Canceled
)

var stateNames = [...]string{
	Idle:      "IDLE",
	Queued:    "QUEUED",
	Executing: "EXECUTING",
	Executed:  "EXECUTED",
	Failed:    "FAILED",
	Canceled:  "CANCELED",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "UNKNOWN"
	}
	return stateNames[s]
}

// IsTerminal reports whether no further transition is possible without a
// reset or a re-queue.
func (s State) IsTerminal() bool {
	return s == Executed || s == Failed || s == Canceled
}

// IsActive reports whether the node is queued or executing.
func (s State) IsActive() bool {
	return s == Queued || s == Executing
}

// legal lists the accepted targets for each source state. Queued -> Idle is
// the dequeue edge used when a queued node is skipped or canceled before it
// starts.
var legal = map[State][]State{
	Idle:      {Queued},
	Failed:    {Queued},
	Canceled:  {Queued},
	Queued:    {Executing, Idle},
	Executing: {Executed, Failed, Canceled},
}

// CanTransition reports whether from -> to is a legal transition.
func CanTransition(from, to State) bool {
	for _, t := range legal[from] {
		if t == to {
			return true
		}
	}
	return false
}

// AllStates returns every state in declaration order.
func AllStates() []State {
	return []State{Idle, Queued, Executing, Executed, Failed, Canceled}
}
