// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev

package progress

import (
	"fmt"
	"sync"
	"testing"

	"github.com/specialistvlad/gridflow/internal/node"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// sequenceSink records every notification as a string and can block on the
// first progress event.
type sequenceSink struct {
	mu      sync.Mutex
	seq     []string
	msgs    []string
	total   float64
	entered chan struct{}
	gate    chan struct{}
	once    sync.Once
}

func (s *sequenceSink) OnProgress(id string, delta float64, msg string) {
	if s.gate != nil {
		s.once.Do(func() {
			close(s.entered)
			<-s.gate
		})
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq = append(s.seq, "progress:"+id)
	s.msgs = append(s.msgs, msg)
	s.total += delta
}

func (s *sequenceSink) OnStateChanged(id string, state node.State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq = append(s.seq, fmt.Sprintf("state:%s:%s", id, state))
}

func TestRelay_DeliversInOrder(t *testing.T) {
	sink := &sequenceSink{}
	r := NewRelay(sink, 8)

	r.OnProgress("a", 0.25, "quarter")
	r.OnProgress("a", 0.75, "done")
	r.OnStateChanged("a", node.Executed)
	r.Close()

	assert.Equal(t, []string{"progress:a", "progress:a", "state:a:EXECUTED"}, sink.seq)
	assert.InDelta(t, 1.0, sink.total, 1e-9)
}

func TestRelay_CoalescesWhenFull(t *testing.T) {
	sink := &sequenceSink{entered: make(chan struct{}), gate: make(chan struct{})}
	r := NewRelay(sink, 1)

	r.OnProgress("a", 0.1, "1")
	<-sink.entered
	r.OnProgress("a", 0.1, "2") // fills the channel
	for i := 0; i < 10; i++ {
		r.OnProgress("a", 0.05, "coalesced")
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		r.OnStateChanged("a", node.Executed)
	}()

	close(sink.gate)
	<-done
	r.Close()

	require.NotEmpty(t, sink.seq)
	assert.Equal(t, "state:a:EXECUTED", sink.seq[len(sink.seq)-1], "state event is delivered last")
	assert.Less(t, len(sink.seq), 13, "intermediate updates were coalesced")
	assert.InDelta(t, 0.7, sink.total, 1e-9, "no progress is lost by coalescing")
}

func TestRelay_CoalescedProgressStaysNewest(t *testing.T) {
	sink := &sequenceSink{entered: make(chan struct{}), gate: make(chan struct{})}
	r := NewRelay(sink, 1)

	r.OnProgress("a", 0.1, "10%")
	<-sink.entered
	r.OnProgress("a", 0.1, "20%") // queued
	r.OnProgress("a", 0.1, "30%") // coalesced
	r.OnProgress("a", 0.1, "40%")

	close(sink.gate)
	r.Close()

	assert.Equal(t, []string{"10%", "20%", "40%"}, sink.msgs)
	assert.InDelta(t, 0.4, sink.total, 1e-9)
}

func TestRelay_StateEventsNeverDropped(t *testing.T) {
	sink := &sequenceSink{}
	r := NewRelay(sink, 1)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("n%d", i)
			r.OnProgress(id, 0.5, "half")
			r.OnStateChanged(id, node.Failed)
		}(i)
	}
	wg.Wait()
	r.Close()

	states := 0
	for _, s := range sink.seq {
		if len(s) > 6 && s[:6] == "state:" {
			states++
		}
	}
	assert.Equal(t, 20, states)
}

func TestRelay_CloseIsIdempotent(t *testing.T) {
	r := NewRelay(Discard, 0)
	r.Close()
	r.Close()
	r.OnProgress("a", 1, "ignored after close")
}
