// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev

package progress

import (
	"sync"

	"github.com/specialistvlad/gridflow/internal/node"
)

// DefaultRelaySize is the channel capacity used when none is configured.
const DefaultRelaySize = 64

type eventKind int

const (
	progressEvent eventKind = iota
	stateEvent
)

type event struct {
	kind   eventKind
	nodeID string
	delta  float64
	msg    string
	state  node.State
}

// Relay decouples producers from a slow Sink through a bounded channel.
// Progress events that do not fit are coalesced per node (deltas summed,
// latest message kept). State events block until there is room and are
// never dropped.
type Relay struct {
	out    Sink
	events chan event
	done   chan struct{}

	// sendMu guards closed against concurrent sends during Close.
	sendMu sync.RWMutex
	closed bool

	pendMu  sync.Mutex
	pending map[string]*event
	order   []string
}

// NewRelay starts a relay delivering to out.
func NewRelay(out Sink, size int) *Relay {
	if size <= 0 {
		size = DefaultRelaySize
	}
	r := &Relay{
		out:     out,
		events:  make(chan event, size),
		done:    make(chan struct{}),
		pending: make(map[string]*event),
	}
	go r.loop()
	return r
}

func (r *Relay) loop() {
	defer close(r.done)
	for ev := range r.events {
		r.deliver(ev)
		// Coalesced progress is newer than anything still queued.
		if len(r.events) == 0 {
			r.flushPending("")
		}
	}
	r.flushPending("")
}

func (r *Relay) deliver(ev event) {
	switch ev.kind {
	case progressEvent:
		r.out.OnProgress(ev.nodeID, ev.delta, ev.msg)
	case stateEvent:
		r.out.OnStateChanged(ev.nodeID, ev.state)
	}
}

// takePending removes coalesced progress, for one node or all when nodeID
// is empty.
func (r *Relay) takePending(nodeID string) []event {
	r.pendMu.Lock()
	defer r.pendMu.Unlock()
	var out []event
	kept := r.order[:0]
	for _, id := range r.order {
		if nodeID != "" && id != nodeID {
			kept = append(kept, id)
			continue
		}
		out = append(out, *r.pending[id])
		delete(r.pending, id)
	}
	r.order = kept
	return out
}

func (r *Relay) flushPending(nodeID string) {
	for _, ev := range r.takePending(nodeID) {
		r.deliver(ev)
	}
}

// OnProgress enqueues a progress delta without blocking. Once a node has
// coalesced progress, later deltas join it so they are never overtaken.
func (r *Relay) OnProgress(nodeID string, delta float64, msg string) {
	r.sendMu.RLock()
	defer r.sendMu.RUnlock()
	if r.closed {
		return
	}
	r.pendMu.Lock()
	defer r.pendMu.Unlock()
	if p, ok := r.pending[nodeID]; ok {
		p.delta += delta
		p.msg = msg
		return
	}
	select {
	case r.events <- event{kind: progressEvent, nodeID: nodeID, delta: delta, msg: msg}:
	default:
		r.pending[nodeID] = &event{kind: progressEvent, nodeID: nodeID, delta: delta, msg: msg}
		r.order = append(r.order, nodeID)
	}
}

// OnStateChanged enqueues a state change, blocking until there is room.
// Coalesced progress for the node is enqueued first.
func (r *Relay) OnStateChanged(nodeID string, state node.State) {
	r.sendMu.RLock()
	defer r.sendMu.RUnlock()
	if r.closed {
		return
	}
	for _, ev := range r.takePending(nodeID) {
		r.events <- ev
	}
	r.events <- event{kind: stateEvent, nodeID: nodeID, state: state}
}

// Close stops accepting events and waits until everything queued has been
// delivered.
func (r *Relay) Close() {
	r.sendMu.Lock()
	if r.closed {
		r.sendMu.Unlock()
		<-r.done
		return
	}
	r.closed = true
	close(r.events)
	r.sendMu.Unlock()
	<-r.done
}
