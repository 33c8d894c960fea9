// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev

package socketsink

import (
	"context"
	"sync"
	"testing"

	"github.com/specialistvlad/gridflow/internal/node"
	"github.com/specialistvlad/gridflow/internal/progress"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type emitted struct {
	event   string
	payload map[string]any
}

type fakeEmitter struct {
	mu     sync.Mutex
	events []emitted
	closed bool
}

func (f *fakeEmitter) Emit(event string, payload map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, emitted{event, payload})
}

func (f *fakeEmitter) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

func (f *fakeEmitter) all() []emitted {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]emitted(nil), f.events...)
}

var _ progress.Sink = (*Sink)(nil)

func TestSink_ThrottlesAndCoalescesProgress(t *testing.T) {
	em := &fakeEmitter{}
	// One token, refilled far slower than the test runs.
	s := New(em, 0.0001, 1, nil)

	s.OnProgress("a", 0.1, "first")
	s.OnProgress("a", 0.2, "second")
	s.OnProgress("a", 0.3, "third")
	require.Len(t, em.all(), 1)

	s.OnStateChanged("a", node.Executed)
	events := em.all()
	require.Len(t, events, 3)

	assert.Equal(t, EventProgress, events[0].event)
	assert.Equal(t, 0.1, events[0].payload["delta"])

	assert.Equal(t, EventProgress, events[1].event)
	assert.InDelta(t, 0.5, events[1].payload["delta"], 1e-9)
	assert.Equal(t, "third", events[1].payload["message"])

	assert.Equal(t, EventState, events[2].event)
	assert.Equal(t, "EXECUTED", events[2].payload["state"])
	assert.Equal(t, s.Session(), events[2].payload["session"])
}

func TestSink_StateEventsNeverThrottled(t *testing.T) {
	em := &fakeEmitter{}
	s := New(em, 0.0001, 1, nil)
	for _, st := range []node.State{node.Queued, node.Executing, node.Failed, node.Queued, node.Executing, node.Executed} {
		s.OnStateChanged("a", st)
	}
	assert.Len(t, em.all(), 6)
}

func TestSink_Unthrottled(t *testing.T) {
	em := &fakeEmitter{}
	s := New(em, 0, 0, nil)
	for i := 0; i < 50; i++ {
		s.OnProgress("a", 0.01, "")
	}
	assert.Len(t, em.all(), 50)
}

func TestSink_CloseFlushes(t *testing.T) {
	em := &fakeEmitter{}
	s := New(em, 0.0001, 1, nil)
	s.OnProgress("a", 0.1, "")
	s.OnProgress("b", 0.2, "pending")

	s.Close()
	s.Close()
	events := em.all()
	require.Len(t, events, 2)
	assert.Equal(t, "b", events[1].payload["nodeID"])
	assert.True(t, em.closed)

	s.OnProgress("a", 0.5, "")
	s.OnStateChanged("a", node.Executed)
	assert.Len(t, em.all(), 2)
}

func TestSink_ThroughRelay(t *testing.T) {
	em := &fakeEmitter{}
	s := New(em, 0, 0, nil)
	r := progress.NewRelay(s, 4)
	r.OnProgress("a", 0.5, "half")
	r.OnStateChanged("a", node.Executed)
	r.Close()

	events := em.all()
	require.Len(t, events, 2)
	assert.Equal(t, EventProgress, events[0].event)
	assert.Equal(t, EventState, events[1].event)
}

func TestDial_InvalidURL(t *testing.T) {
	_, err := Dial(context.Background(), Options{URL: "localhost"})
	assert.ErrorContains(t, err, "must include scheme and host")
}
