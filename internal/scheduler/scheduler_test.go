// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev

package scheduler_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/specialistvlad/gridflow/internal/engineerr"
	"github.com/specialistvlad/gridflow/internal/graph"
	"github.com/specialistvlad/gridflow/internal/metrics"
	"github.com/specialistvlad/gridflow/internal/node"
	"github.com/specialistvlad/gridflow/internal/progress"
	"github.com/specialistvlad/gridflow/internal/pubsub"
	"github.com/specialistvlad/gridflow/internal/scheduler"
	tu "github.com/specialistvlad/gridflow/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newScheduler(t *testing.T, g *graph.Graph, opts ...scheduler.Option) *scheduler.Scheduler {
	t.Helper()
	s, err := scheduler.New(g, opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(t, s.Close(ctx))
	})
	return s
}

func wait(t *testing.T, run *scheduler.Run) *scheduler.RunResult {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := run.Wait(ctx)
	require.NoError(t, err)
	return res
}

func started(t *testing.T, ch <-chan string, want string) {
	t.Helper()
	select {
	case id := <-ch:
		require.Equal(t, want, id)
	case <-time.After(5 * time.Second):
		t.Fatalf("node %s did not start", want)
	}
}

func TestExecuteUpTo_FailureLeavesUpstreamExecuted(t *testing.T) {
	b := tu.NewBuilder(t).
		Add("A", &tu.Stub{}).
		Add("B", &tu.Stub{Ins: 1}).
		Add("C", &tu.Stub{Ins: 1, Err: errors.New("boom")}).
		Add("D", &tu.Stub{}).
		Edge("A", "B").
		Edge("B", "C")
	s := newScheduler(t, b.G)

	run, err := s.ExecuteUpTo(context.Background(), "C", true)
	require.NoError(t, err)
	res := wait(t, run)

	assert.Equal(t, node.Executed, b.Node("A").State())
	assert.Equal(t, node.Executed, b.Node("B").State())
	assert.Equal(t, node.Failed, b.Node("C").State())
	assert.Equal(t, node.Idle, b.Node("D").State(), "D is not an ancestor of C")
	assert.Zero(t, b.Stubs["D"].Calls())

	assert.Equal(t, []string{"A", "B"}, res.Executed())
	assert.Equal(t, []string{"C"}, res.Failed())
	assert.True(t, res.PartialFailure())
	assert.False(t, res.Succeeded())

	var execErr *engineerr.ExecutionError
	require.ErrorAs(t, res.Err(), &execErr)
	assert.Equal(t, "C", execErr.NodeID)
	assert.ErrorAs(t, b.Node("C").Err(), &execErr)
}

func TestExecuteAll_SiblingBranchCompletes(t *testing.T) {
	b := tu.NewBuilder(t).
		Add("A", &tu.Stub{}).
		Add("B", &tu.Stub{Ins: 1}).
		Add("C", &tu.Stub{Ins: 1, Err: errors.New("boom")}).
		Add("D", &tu.Stub{}).
		Edge("A", "B").
		Edge("B", "C")
	s := newScheduler(t, b.G)

	run, err := s.ExecuteAll(context.Background())
	require.NoError(t, err)
	res := wait(t, run)

	assert.ElementsMatch(t, []string{"C", "D"}, run.Targets())
	assert.Equal(t, node.Executed, b.Node("D").State())
	assert.Equal(t, node.Failed, b.Node("C").State())
	assert.Equal(t, []string{"A", "B", "D"}, res.Executed())
}

func TestExecuteUpTo_SkipsDownstreamOfFailure(t *testing.T) {
	b := tu.NewBuilder(t).
		Add("A", &tu.Stub{}).
		Add("B", &tu.Stub{Ins: 1, Err: errors.New("boom")}).
		Add("C", &tu.Stub{Ins: 1}).
		Add("D", &tu.Stub{Ins: 1}).
		Edge("A", "B").
		Edge("B", "C").
		Edge("C", "D")
	s := newScheduler(t, b.G)

	run, err := s.ExecuteUpTo(context.Background(), "D", true)
	require.NoError(t, err)
	res := wait(t, run)

	for _, id := range []string{"C", "D"} {
		assert.Equal(t, node.Idle, b.Node(id).State(), "node %s should be left idle", id)
		assert.Zero(t, b.Stubs[id].Calls())
		nr := res.Nodes[id]
		assert.Equal(t, scheduler.SkippedUpstream, nr.Outcome)
		assert.Contains(t, nr.Err.Error(), "upstream failure of 'B'")
	}
	assert.Equal(t, []string{"C", "D"}, res.Skipped())
	assert.Equal(t, []string{"B"}, res.Failed())
}

func TestExecuteUpTo_PassesOutputsDownstream(t *testing.T) {
	b := tu.NewBuilder(t).
		Add("A", &tu.Stub{}).
		Add("B", &tu.Stub{}).
		Add("C", &tu.Stub{Ins: 2}).
		Edge("A", "C").
		Edge("B", "C")
	s := newScheduler(t, b.G)

	run, err := s.ExecuteUpTo(context.Background(), "C", false)
	require.NoError(t, err)
	assert.True(t, wait(t, run).Succeeded())
	assert.Equal(t, []cty.Value{cty.StringVal("A"), cty.StringVal("B")}, b.Stubs["C"].Inputs())
}

func TestExecuteUpTo_KahnOrderWithSingleWorker(t *testing.T) {
	rec := tu.NewRecorder()
	b := tu.NewBuilder(t).
		Add("c", &tu.Stub{Recorder: rec}).
		Add("a", &tu.Stub{Recorder: rec}).
		Add("b", &tu.Stub{Recorder: rec}).
		Add("d", &tu.Stub{Ins: 1, Recorder: rec}).
		Add("z", &tu.Stub{Ins: 4, Recorder: rec}).
		Edge("a", "d").
		Edge("a", "z").
		Edge("b", "z").
		Edge("c", "z").
		Edge("d", "z")
	s := newScheduler(t, b.G, scheduler.WithWorkers(1))

	run, err := s.ExecuteUpTo(context.Background(), "z", false)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c", "d", "z"}, run.Planned())
	wait(t, run)
	assert.Equal(t, []string{"a", "b", "c", "d", "z"}, rec.Order())
}

func TestExecuteAll_RespectsWorkerBound(t *testing.T) {
	var running, peak atomic.Int32
	fn := func(ec node.ExecContext, in []cty.Value) ([]cty.Value, error) {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		running.Add(-1)
		return []cty.Value{cty.StringVal(ec.NodeID())}, nil
	}
	b := tu.NewBuilder(t)
	for i := 0; i < 6; i++ {
		b.Add(fmt.Sprintf("n%d", i), &tu.Stub{Fn: fn})
	}
	s := newScheduler(t, b.G, scheduler.WithWorkers(2))

	run, err := s.ExecuteAll(context.Background())
	require.NoError(t, err)
	assert.True(t, wait(t, run).Succeeded())
	assert.LessOrEqual(t, peak.Load(), int32(2))
	assert.Equal(t, int32(2), peak.Load(), "independent nodes should run concurrently")
}

func TestExecuteUpTo_IndependentNodesOverlap(t *testing.T) {
	rec := tu.NewRecorder()
	b := tu.NewBuilder(t).
		Add("A", &tu.Stub{Sleep: 50 * time.Millisecond, Recorder: rec}).
		Add("B", &tu.Stub{Sleep: 50 * time.Millisecond, Recorder: rec}).
		Add("C", &tu.Stub{Ins: 2, Recorder: rec}).
		Edge("A", "C").
		Edge("B", "C")
	s := newScheduler(t, b.G, scheduler.WithWorkers(4))

	run, err := s.ExecuteUpTo(context.Background(), "C", false)
	require.NoError(t, err)
	wait(t, run)

	tu.AssertOverlap(t, rec, "A", "B")
	tu.AssertBefore(t, rec, "A", "C")
	tu.AssertBefore(t, rec, "B", "C")
}

func TestExecuteUpTo_ReusesExecutedAncestors(t *testing.T) {
	b := tu.NewBuilder(t).
		Add("A", &tu.Stub{}).
		Add("B", &tu.Stub{Ins: 1}).
		Edge("A", "B")
	s := newScheduler(t, b.G)

	run, err := s.ExecuteUpTo(context.Background(), "A", false)
	require.NoError(t, err)
	wait(t, run)

	run, err = s.ExecuteUpTo(context.Background(), "B", false)
	require.NoError(t, err)
	assert.Equal(t, []string{"B"}, run.Planned())
	wait(t, run)
	assert.Equal(t, 1, b.Stubs["A"].Calls())
	assert.Equal(t, 1, b.Stubs["B"].Calls())

	run, err = s.ExecuteUpTo(context.Background(), "B", false)
	require.NoError(t, err)
	assert.Empty(t, run.Planned())
	assert.True(t, wait(t, run).Succeeded())
}

func TestExecuteUpTo_AwaitsNodeOwnedByAnotherRun(t *testing.T) {
	gate := make(chan struct{})
	starts := make(chan string, 4)
	b := tu.NewBuilder(t).
		Add("A", &tu.Stub{Gate: gate, Started: starts}).
		Add("B", &tu.Stub{Ins: 1}).
		Edge("A", "B")
	s := newScheduler(t, b.G)

	first, err := s.ExecuteUpTo(context.Background(), "A", false)
	require.NoError(t, err)
	started(t, starts, "A")

	second, err := s.ExecuteUpTo(context.Background(), "B", false)
	require.NoError(t, err)
	close(gate)

	wait(t, first)
	res := wait(t, second)
	assert.Equal(t, 1, b.Stubs["A"].Calls(), "A must not be dispatched twice")
	assert.True(t, res.Nodes["A"].Awaited)
	assert.Equal(t, scheduler.Executed, res.Nodes["A"].Outcome)
	assert.Equal(t, node.Executed, b.Node("B").State())
}

func TestCancelExecution(t *testing.T) {
	t.Run("cooperative node and queued descendants", func(t *testing.T) {
		starts := make(chan string, 4)
		b := tu.NewBuilder(t).
			Add("A", &tu.Stub{Gate: make(chan struct{}), Started: starts}).
			Add("B", &tu.Stub{Ins: 1}).
			Add("C", &tu.Stub{Ins: 1}).
			Add("X", &tu.Stub{Sleep: 20 * time.Millisecond}).
			Add("Z", &tu.Stub{Ins: 2}).
			Edge("A", "B").
			Edge("B", "C").
			Edge("C", "Z").
			Edge("X", "Z")
		s := newScheduler(t, b.G)

		run, err := s.ExecuteAll(context.Background())
		require.NoError(t, err)
		started(t, starts, "A")
		require.NoError(t, s.CancelExecution("A"))
		res := wait(t, run)

		assert.Equal(t, node.Canceled, b.Node("A").State())
		assert.Equal(t, scheduler.Canceled, res.Nodes["A"].Outcome)
		assert.True(t, engineerr.IsCanceled(res.Nodes["A"].Err))
		for _, id := range []string{"B", "C", "Z"} {
			assert.Equal(t, node.Idle, b.Node(id).State())
			assert.Zero(t, b.Stubs[id].Calls())
		}
		assert.Equal(t, scheduler.CanceledBeforeStart, res.Nodes["B"].Outcome)
		assert.Equal(t, node.Executed, b.Node("X").State(), "unrelated branch keeps running")
	})

	t.Run("ignored cancellation still blocks descendants", func(t *testing.T) {
		gate := make(chan struct{})
		starts := make(chan string, 4)
		b := tu.NewBuilder(t).
			Add("A", &tu.Stub{Gate: gate, Started: starts, IgnoreCancel: true}).
			Add("B", &tu.Stub{Ins: 1}).
			Edge("A", "B")
		s := newScheduler(t, b.G)

		run, err := s.ExecuteUpTo(context.Background(), "B", false)
		require.NoError(t, err)
		started(t, starts, "A")
		require.NoError(t, s.CancelExecution("A"))
		require.Eventually(t, func() bool { return b.Node("B").State() == node.Idle }, time.Second, time.Millisecond)
		close(gate)
		res := wait(t, run)

		assert.Equal(t, node.Executed, b.Node("A").State(), "advisory cancellation lets A finish")
		assert.Equal(t, scheduler.CanceledBeforeStart, res.Nodes["B"].Outcome)
		assert.Zero(t, b.Stubs["B"].Calls())
	})

	t.Run("node that is not active", func(t *testing.T) {
		b := tu.NewBuilder(t).Add("A", &tu.Stub{})
		s := newScheduler(t, b.G)

		assert.ErrorIs(t, s.CancelExecution("A"), engineerr.ErrNotCancelable)
		run, err := s.ExecuteUpTo(context.Background(), "A", false)
		require.NoError(t, err)
		wait(t, run)
		assert.ErrorIs(t, s.CancelExecution("A"), engineerr.ErrNotCancelable)
		assert.Equal(t, node.Executed, b.Node("A").State())
		assert.ErrorIs(t, s.CancelExecution("missing"), engineerr.ErrNodeNotFound)
	})
}

func TestCancelAll_ViaContext(t *testing.T) {
	starts := make(chan string, 4)
	b := tu.NewBuilder(t).
		Add("A", &tu.Stub{Gate: make(chan struct{}), Started: starts}).
		Add("B", &tu.Stub{Ins: 1}).
		Edge("A", "B")
	s := newScheduler(t, b.G)

	ctx, cancel := context.WithCancel(context.Background())
	run, err := s.ExecuteUpTo(ctx, "B", false)
	require.NoError(t, err)
	started(t, starts, "A")
	cancel()
	res := wait(t, run)

	assert.Equal(t, node.Canceled, b.Node("A").State())
	assert.Equal(t, node.Idle, b.Node("B").State())
	assert.Equal(t, []string{"A", "B"}, res.Canceled())
	require.NoError(t, s.WaitUntilFinished(context.Background()))
}

func TestStopSignal_CancelsRun(t *testing.T) {
	var stop atomic.Bool
	clk := clock.NewMock()
	starts := make(chan string, 1)
	b := tu.NewBuilder(t).Add("A", &tu.Stub{Gate: make(chan struct{}), Started: starts})
	s := newScheduler(t, b.G, scheduler.WithStopSignal(stop.Load, clk, 10*time.Millisecond))

	run, err := s.ExecuteUpTo(context.Background(), "A", false)
	require.NoError(t, err)
	started(t, starts, "A")
	stop.Store(true)
	require.Eventually(t, func() bool {
		clk.Add(10 * time.Millisecond)
		return b.Node("A").State() == node.Canceled
	}, 2*time.Second, 5*time.Millisecond)
	wait(t, run)
}

func TestExecuteUpTo_ConfigErrors(t *testing.T) {
	t.Run("unconnected input", func(t *testing.T) {
		b := tu.NewBuilder(t).Add("A", &tu.Stub{Ins: 1})
		s := newScheduler(t, b.G)
		_, err := s.ExecuteUpTo(context.Background(), "A", false)
		var cfgErr *engineerr.ConfigError
		require.ErrorAs(t, err, &cfgErr)
		assert.Equal(t, "A", cfgErr.NodeID)
		assert.Equal(t, node.Idle, b.Node("A").State())
	})

	t.Run("model rejects configuration", func(t *testing.T) {
		b := tu.NewBuilder(t).
			Add("A", &tu.Stub{}).
			Add("B", &tu.Stub{Ins: 1, ConfigErr: errors.New("bad settings")}).
			Edge("A", "B")
		s := newScheduler(t, b.G)
		_, err := s.ExecuteUpTo(context.Background(), "B", false)
		var cfgErr *engineerr.ConfigError
		require.ErrorAs(t, err, &cfgErr)
		assert.Equal(t, "B", cfgErr.NodeID)
		assert.Zero(t, b.Stubs["A"].Calls(), "nothing executes after a configuration error")
	})

	t.Run("incompatible port types", func(t *testing.T) {
		g := graph.New()
		src := tu.NewNode("src", &tu.Stub{Outs: 1})
		dst := node.New("dst", &tu.Stub{Ins: 1, Outs: 1},
			node.WithInPorts(node.Port{Name: "count", Type: cty.Number}),
			node.WithOutPorts(node.Port{Name: "out", Type: cty.String}))
		require.NoError(t, g.AddNode(src))
		require.NoError(t, g.AddNode(dst))
		require.NoError(t, g.Connect(graph.Connection{Source: "src", Dest: "dst"}))
		s := newScheduler(t, g)

		_, err := s.ExecuteUpTo(context.Background(), "dst", false)
		var cfgErr *engineerr.ConfigError
		require.ErrorAs(t, err, &cfgErr)
		assert.Contains(t, err.Error(), "expects number")
	})

	t.Run("unknown target", func(t *testing.T) {
		s := newScheduler(t, graph.New())
		_, err := s.ExecuteUpTo(context.Background(), "nope", false)
		assert.ErrorIs(t, err, engineerr.ErrNodeNotFound)
	})

	t.Run("invalid worker count", func(t *testing.T) {
		_, err := scheduler.New(graph.New(), scheduler.WithWorkers(0))
		var cfgErr *engineerr.ConfigError
		assert.ErrorAs(t, err, &cfgErr)
	})
}

func TestExecuteUpTo_KeepResourcesOnFailure(t *testing.T) {
	for _, keep := range []bool{true, false} {
		t.Run(fmt.Sprintf("keep=%v", keep), func(t *testing.T) {
			b := tu.NewBuilder(t).Add("A", &tu.Stub{Err: errors.New("boom")})
			s := newScheduler(t, b.G)
			run, err := s.ExecuteUpTo(context.Background(), "A", keep)
			require.NoError(t, err)
			wait(t, run)

			assert.Equal(t, node.Failed, b.Node("A").State())
			assert.Error(t, b.Node("A").Err(), "the error survives resource release")
			want := 1
			if keep {
				want = 0
			}
			assert.Equal(t, want, b.Stubs["A"].Resets())
		})
	}
}

func TestResetNode(t *testing.T) {
	b := tu.NewBuilder(t).
		Add("A", &tu.Stub{}).
		Add("B", &tu.Stub{Ins: 1}).
		Edge("A", "B")
	s := newScheduler(t, b.G)

	run, err := s.ExecuteUpTo(context.Background(), "B", false)
	require.NoError(t, err)
	wait(t, run)

	require.NoError(t, s.ResetNode("A"))
	assert.Equal(t, node.Idle, b.Node("A").State())
	assert.Equal(t, node.Idle, b.Node("B").State())

	run, err = s.ExecuteUpTo(context.Background(), "B", false)
	require.NoError(t, err)
	wait(t, run)
	assert.Equal(t, 2, b.Stubs["A"].Calls())
	assert.ErrorIs(t, s.ResetNode("missing"), engineerr.ErrNodeNotFound)
}

func TestSubscribe_ObservesTransitionsInOrder(t *testing.T) {
	b := tu.NewBuilder(t).Add("A", &tu.Stub{})
	s := newScheduler(t, b.G)

	var mu sync.Mutex
	var got []node.State
	unsubscribe, err := s.Subscribe("A", func(ev pubsub.Event) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, ev.To)
	})
	require.NoError(t, err)
	defer unsubscribe()

	run, err := s.ExecuteUpTo(context.Background(), "A", false)
	require.NoError(t, err)
	wait(t, run)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []node.State{node.Queued, node.Executing, node.Executed}, got)

	_, err = s.Subscribe("missing", func(pubsub.Event) {})
	assert.ErrorIs(t, err, engineerr.ErrNodeNotFound)
}

func TestScheduler_SinkAndMetrics(t *testing.T) {
	collector := progress.NewCollector()
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	b := tu.NewBuilder(t).
		Add("A", &tu.Stub{}).
		Add("B", &tu.Stub{Ins: 1, Err: errors.New("boom")}).
		Edge("A", "B")
	s, err := scheduler.New(b.G, scheduler.WithSink(collector, 4), scheduler.WithMetrics(m))
	require.NoError(t, err)

	run, err := s.ExecuteUpTo(context.Background(), "B", true)
	require.NoError(t, err)
	wait(t, run)
	require.NoError(t, s.Close(context.Background()))

	assert.Equal(t, []node.State{node.Queued, node.Executing, node.Executed}, collector.States("A"))
	assert.Equal(t, []node.State{node.Queued, node.Executing, node.Failed}, collector.States("B"))
	assert.InDelta(t, 1.0, collector.Progress("A"), 1e-9)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Runs.WithLabelValues("partial_failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Transitions.WithLabelValues("FAILED")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Transitions.WithLabelValues("EXECUTING")))
	assert.Zero(t, testutil.ToFloat64(m.RunningJobs))
}

func TestScheduler_ClosedRejectsRuns(t *testing.T) {
	b := tu.NewBuilder(t).Add("A", &tu.Stub{})
	s, err := scheduler.New(b.G)
	require.NoError(t, err)
	require.NoError(t, s.Close(context.Background()))
	require.NoError(t, s.Close(context.Background()))

	_, err = s.ExecuteUpTo(context.Background(), "A", false)
	assert.ErrorIs(t, err, scheduler.ErrClosed)
}

func TestScheduler_ScopedExecuteAll(t *testing.T) {
	b := tu.NewBuilder(t).
		Add("A", &tu.Stub{}).
		Add("B", &tu.Stub{Ins: 1}).
		Add("C", &tu.Stub{Ins: 1}).
		Edge("A", "B").
		Edge("B", "C")
	s := newScheduler(t, b.G, scheduler.WithScope([]string{"A", "B"}))

	run, err := s.ExecuteAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"B"}, run.Targets())
	wait(t, run)
	assert.Equal(t, node.Idle, b.Node("C").State())
}
