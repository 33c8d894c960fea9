// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev

// Package pubsub is the per-node subscription registry owned by a scheduler.
// Handlers run synchronously on the publishing goroutine, in subscription
// order, and must not block or take the graph's structural lock.
package pubsub

import (
	"sort"
	"sync"

	"github.com/specialistvlad/gridflow/internal/node"
)

// Event describes one accepted state transition.
type Event struct {
	NodeID string
	From   node.State
	To     node.State
}

// Handler receives events.
type Handler func(Event)

// Bus routes events to per-node and global handlers.
type Bus struct {
	mu     sync.RWMutex
	nodes  map[string]map[uint64]Handler
	global map[uint64]Handler
	next   uint64
}

// New returns an empty Bus.
func New() *Bus {
	return &Bus{
		nodes:  make(map[string]map[uint64]Handler),
		global: make(map[uint64]Handler),
	}
}

// Subscribe registers h for events of nodeID, or for every node when nodeID
// is empty. The returned function removes the subscription.
func (b *Bus) Subscribe(nodeID string, h Handler) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.next++
	id := b.next
	if nodeID == "" {
		b.global[id] = h
	} else {
		if b.nodes[nodeID] == nil {
			b.nodes[nodeID] = make(map[uint64]Handler)
		}
		b.nodes[nodeID][id] = h
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if nodeID == "" {
				delete(b.global, id)
				return
			}
			delete(b.nodes[nodeID], id)
			if len(b.nodes[nodeID]) == 0 {
				delete(b.nodes, nodeID)
			}
		})
	}
}

// Publish delivers ev to the node's handlers, then to global handlers.
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	handlers := ordered(b.nodes[ev.NodeID])
	handlers = append(handlers, ordered(b.global)...)
	b.mu.RUnlock()

	for _, h := range handlers {
		h(ev)
	}
}

// Len returns the number of live subscriptions.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := len(b.global)
	for _, subs := range b.nodes {
		n += len(subs)
	}
	return n
}

func ordered(m map[uint64]Handler) []Handler {
	ids := make([]uint64, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := make([]Handler, len(ids))
	for i, id := range ids {
		out[i] = m[id]
	}
	return out
}
