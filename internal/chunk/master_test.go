// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev

package chunk_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/specialistvlad/gridflow/internal/chunk"
	"github.com/specialistvlad/gridflow/internal/engineerr"
	"github.com/specialistvlad/gridflow/internal/metrics"
	"github.com/specialistvlad/gridflow/internal/node"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/multierr"
	"pgregory.net/rapid"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestMaster_DuplicateIndex(t *testing.T) {
	m := chunk.NewMaster(nil, nil)
	require.NoError(t, m.AddParallelChunk(0, nil))

	err := m.AddParallelChunk(0, nil)
	var dup *engineerr.DuplicateRegistrationError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, 0, dup.Index)
	assert.Equal(t, 1, m.NrChunks())
}

func TestMaster_Counts(t *testing.T) {
	reg := prometheus.NewRegistry()
	mt := metrics.New(reg)
	var seen []string
	m := chunk.NewMaster(func(index int, st node.State) {
		seen = append(seen, fmt.Sprintf("%d:%s", index, st))
	}, mt)
	for i := 0; i < 4; i++ {
		require.NoError(t, m.AddParallelChunk(i, nil))
	}

	m.StateChanged(0, node.Idle, node.Queued)
	m.StateChanged(1, node.Idle, node.Executing)
	assert.Equal(t, 2, m.NrExecutingChunks())

	m.StateChanged(0, node.Queued, node.Executed)
	m.StateChanged(1, node.Executing, node.Failed)
	m.StateChanged(2, node.Idle, node.Canceled)
	// Unknown indexes are ignored.
	m.StateChanged(9, node.Idle, node.Executed)

	assert.Equal(t, 0, m.NrExecutingChunks())
	assert.Equal(t, 1, m.NrExecutedChunks())
	assert.Equal(t, 2, m.NrFailedChunks())
	assert.False(t, m.Finished())
	assert.Equal(t, []string{"0:QUEUED", "1:EXECUTING", "0:EXECUTED", "1:FAILED", "2:CANCELED"}, seen)
	assert.Equal(t, 2.0, testutil.ToFloat64(mt.Chunks.WithLabelValues("failed")))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, m.AwaitAll(ctx), context.DeadlineExceeded)

	m.StateChanged(3, node.Idle, node.Executed)
	assert.True(t, m.Finished())
	require.NoError(t, m.AwaitAll(context.Background()))
}

func TestMaster_AwaitAllWakesOnChange(t *testing.T) {
	m := chunk.NewMaster(nil, nil)
	require.NoError(t, m.AddParallelChunk(0, nil))

	done := make(chan error, 1)
	go func() { done <- m.AwaitAll(context.Background()) }()
	m.StateChanged(0, node.Idle, node.Executing)
	m.StateChanged(0, node.Executing, node.Executed)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("AwaitAll did not return")
	}
}

func TestMaster_CountsNeverExceedTotal(t *testing.T) {
	states := node.AllStates()
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(1, 6).Draw(rt, "chunks")
		m := chunk.NewMaster(nil, nil)
		current := make([]node.State, n)
		for i := 0; i < n; i++ {
			if err := m.AddParallelChunk(i, nil); err != nil {
				rt.Fatal(err)
			}
		}
		steps := rapid.IntRange(0, 30).Draw(rt, "steps")
		for s := 0; s < steps; s++ {
			i := rapid.IntRange(0, n-1).Draw(rt, "index")
			to := rapid.SampledFrom(states).Draw(rt, "to")
			m.StateChanged(i, current[i], to)
			current[i] = to

			executing, executed, failed := m.NrExecutingChunks(), m.NrExecutedChunks(), m.NrFailedChunks()
			if executing < 0 || executed < 0 || failed < 0 {
				rt.Fatalf("negative count: %d/%d/%d", executing, executed, failed)
			}
			if executing+executed+failed > n {
				rt.Fatalf("counts %d+%d+%d exceed %d chunks", executing, executed, failed, n)
			}
		}
	})
}

func TestMaster_ErrCombinesFailures(t *testing.T) {
	m := chunk.NewMaster(nil, nil)
	for i := 0; i < 4; i++ {
		require.NoError(t, m.AddParallelChunk(i, nil))
	}
	m.StateChanged(0, node.Executing, node.Executed)
	m.StateChanged(1, node.Executing, node.Failed)
	assert.ErrorContains(t, m.Err(), "chunk 1: ended FAILED")

	m.StateChanged(3, node.Executing, node.Canceled)
	errs := multierr.Errors(m.Err())
	require.Len(t, errs, 2)
	assert.EqualError(t, errs[0], "chunk 1: ended FAILED")
	assert.EqualError(t, errs[1], "chunk 3: ended CANCELED")
}
