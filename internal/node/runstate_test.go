// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev

package node

import (
	"errors"
	"sync"
	"testing"

	"github.com/specialistvlad/gridflow/internal/engineerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestRunState_Transition(t *testing.T) {
	testCases := []struct {
		name  string
		path  []State
		legal bool
	}{
		{name: "idle to queued", path: []State{Queued}, legal: true},
		{name: "full success path", path: []State{Queued, Executing, Executed}, legal: true},
		{name: "failed can be requeued", path: []State{Queued, Executing, Failed, Queued}, legal: true},
		{name: "canceled can be requeued", path: []State{Queued, Executing, Canceled, Queued}, legal: true},
		{name: "dequeue returns to idle", path: []State{Queued, Idle}, legal: true},
		{name: "idle cannot execute", path: []State{Executing}, legal: false},
		{name: "queued cannot fail directly", path: []State{Queued, Failed}, legal: false},
		{name: "executed cannot be requeued", path: []State{Queued, Executing, Executed, Queued}, legal: false},
		{name: "executing cannot go idle", path: []State{Queued, Executing, Idle}, legal: false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			rs := NewRunState("n1")
			var err error
			for _, s := range tc.path {
				before := rs.Get()
				err = rs.Transition(s)
				if err != nil {
					assert.Equal(t, before, rs.Get(), "state must be unchanged on illegal transition")
					break
				}
			}
			if tc.legal {
				require.NoError(t, err)
				assert.Equal(t, tc.path[len(tc.path)-1], rs.Get())
				return
			}
			var illegal *engineerr.IllegalTransitionError
			require.True(t, errors.As(err, &illegal))
			assert.Equal(t, "n1", illegal.NodeID)
		})
	}
}

func TestRunState_Listeners(t *testing.T) {
	rs := NewRunState("n1")

	var seen []State
	remove := rs.AddListener(func(id string, from, to State) {
		assert.Equal(t, "n1", id)
		assert.Equal(t, to, rs.Get(), "listener must observe the written state")
		seen = append(seen, to)
	})

	require.NoError(t, rs.Transition(Queued))
	require.Error(t, rs.Transition(Executed))
	require.NoError(t, rs.Transition(Executing))
	remove()
	require.NoError(t, rs.Transition(Executed))

	assert.Equal(t, []State{Queued, Executing}, seen)
}

func TestRunState_Reset(t *testing.T) {
	rs := NewRunState("n1")
	require.NoError(t, rs.Reset(), "resetting idle is a no-op")

	require.NoError(t, rs.Transition(Queued))
	assert.Error(t, rs.Reset(), "active state cannot be reset")

	require.NoError(t, rs.Transition(Executing))
	require.NoError(t, rs.Transition(Executed))
	require.NoError(t, rs.Reset())
	assert.Equal(t, Idle, rs.Get())
}

func TestRunState_ConcurrentClaim(t *testing.T) {
	rs := NewRunState("n1")
	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if rs.Transition(Queued) == nil {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, winners, "exactly one claimant may queue an idle node")
}

func TestRunState_PropertyLegalGraph(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		rs := NewRunState("p")
		model := Idle
		notified := 0
		rs.AddListener(func(_ string, from, to State) {
			if !CanTransition(from, to) && to != Idle {
				t.Fatalf("listener saw illegal transition %s -> %s", from, to)
			}
			notified++
		})
		accepted := 0

		steps := rapid.IntRange(1, 40).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			if rapid.IntRange(0, 9).Draw(t, "reset") == 0 {
				err := rs.Reset()
				switch {
				case model.IsActive():
					if err == nil {
						t.Fatalf("reset accepted from %s", model)
					}
				case model != Idle:
					if err != nil {
						t.Fatalf("reset rejected from %s: %v", model, err)
					}
					model = Idle
					accepted++
				}
				continue
			}
			to := rapid.SampledFrom(AllStates()).Draw(t, "to")
			err := rs.Transition(to)
			if CanTransition(model, to) {
				if err != nil {
					t.Fatalf("legal %s -> %s rejected: %v", model, to, err)
				}
				model = to
				accepted++
			} else if err == nil {
				t.Fatalf("illegal %s -> %s accepted", model, to)
			}
			if rs.Get() != model {
				t.Fatalf("state %s, expected %s", rs.Get(), model)
			}
		}
		if notified != accepted {
			t.Fatalf("notified %d times for %d accepted transitions", notified, accepted)
		}
	})
}
