// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev

// Package socketsink broadcasts node progress and state changes to a
// socket.io server.
package socketsink

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/specialistvlad/gridflow/internal/node"
	"golang.org/x/time/rate"
)

// Event names emitted on the socket.
const (
	EventProgress = "node_progress"
	EventState    = "node_state"
)

// Emitter publishes one event. *socket.Socket is adapted by Dial.
type Emitter interface {
	Emit(event string, payload map[string]any)
	Close()
}

// Sink is a progress.Sink forwarding notifications to an Emitter. Progress
// events are throttled and coalesced per node; state events are always sent
// and flush the node's pending progress first.
type Sink struct {
	emitter Emitter
	session string
	limiter *rate.Limiter
	logger  *slog.Logger

	mu      sync.Mutex
	pending map[string]*pendingProgress
	closed  bool
}

type pendingProgress struct {
	delta float64
	msg   string
}

// New returns a Sink emitting at most eventsPerSecond progress events with
// the given burst. A non-positive rate disables throttling.
func New(em Emitter, eventsPerSecond float64, burst int, logger *slog.Logger) *Sink {
	limit := rate.Inf
	if eventsPerSecond > 0 {
		limit = rate.Limit(eventsPerSecond)
	}
	if burst < 1 {
		burst = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sink{
		emitter: em,
		session: uuid.NewString(),
		limiter: rate.NewLimiter(limit, burst),
		logger:  logger,
		pending: make(map[string]*pendingProgress),
	}
}

// Session identifies this sink in every emitted payload.
func (s *Sink) Session() string { return s.session }

func (s *Sink) OnProgress(nodeID string, delta float64, msg string) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	p, ok := s.pending[nodeID]
	if !ok {
		p = &pendingProgress{}
		s.pending[nodeID] = p
	}
	p.delta += delta
	p.msg = msg
	if !s.limiter.Allow() {
		s.mu.Unlock()
		return
	}
	delete(s.pending, nodeID)
	s.mu.Unlock()
	s.emitProgress(nodeID, p)
}

func (s *Sink) OnStateChanged(nodeID string, state node.State) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	p := s.pending[nodeID]
	delete(s.pending, nodeID)
	s.mu.Unlock()

	if p != nil {
		s.emitProgress(nodeID, p)
	}
	s.emitter.Emit(EventState, map[string]any{
		"session": s.session,
		"nodeID":  nodeID,
		"state":   state.String(),
	})
}

func (s *Sink) emitProgress(nodeID string, p *pendingProgress) {
	s.emitter.Emit(EventProgress, map[string]any{
		"session": s.session,
		"nodeID":  nodeID,
		"delta":   p.delta,
		"message": p.msg,
	})
}

// Close flushes pending progress and closes the emitter. Later
// notifications are dropped.
func (s *Sink) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()

	for id, p := range pending {
		s.emitProgress(id, p)
	}
	s.emitter.Close()
	s.logger.Debug("Closed progress broadcast.", "session", s.session, "flushed", len(pending))
}
