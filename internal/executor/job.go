// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev

package executor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/specialistvlad/gridflow/internal/ctxlog"
	"github.com/specialistvlad/gridflow/internal/engineerr"
	"github.com/specialistvlad/gridflow/internal/metrics"
	"github.com/specialistvlad/gridflow/internal/node"
	"github.com/specialistvlad/gridflow/internal/progress"
	"github.com/zclconf/go-cty/cty"
)

// ReasonBeforeStart marks jobs canceled before their collaborator ran.
const ReasonBeforeStart = "canceled before start"

// Result is the outcome of a finished job.
type Result struct {
	// State is the node state the job left behind. Jobs canceled before
	// starting leave the node Idle.
	State    node.State
	Outputs  []cty.Value
	Err      error
	Started  time.Time
	Duration time.Duration
}

// Submitter hands work to a worker pool.
type Submitter func(task func()) error

// Job executes one node.
type Job struct {
	id      string
	ctx     context.Context
	node    *node.Node
	inputs  []cty.Value
	resolve func() ([]cty.Value, error)
	submit  Submitter
	metrics *metrics.Metrics
	// partitions applies to streamable nodes that do not set their own.
	partitions int

	sink    progress.Sink
	started atomic.Bool

	canceled   atomic.Bool
	cancelCh   chan struct{}
	cancelOnce sync.Once

	progressMu sync.Mutex
	fraction   float64

	done   chan struct{}
	result Result
}

// Option customizes a Job.
type Option func(*Job)

// WithSubmitter runs the job through a worker pool instead of a goroutine.
func WithSubmitter(s Submitter) Option {
	return func(j *Job) { j.submit = s }
}

// WithInputResolver computes the inputs once the job starts executing. A
// resolver error fails the node.
func WithInputResolver(fn func() ([]cty.Value, error)) Option {
	return func(j *Job) { j.resolve = fn }
}

// WithPartitions sets the partition count for streamable nodes configured
// with a single partition.
func WithPartitions(n int) Option {
	return func(j *Job) { j.partitions = n }
}

// WithMetrics records job metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(j *Job) { j.metrics = m }
}

// New prepares a job for n. The node must already be Queued.
func New(ctx context.Context, n *node.Node, inputs []cty.Value, opts ...Option) *Job {
	j := &Job{
		id:       uuid.NewString(),
		ctx:      ctx,
		node:     n,
		inputs:   inputs,
		cancelCh: make(chan struct{}),
		done:     make(chan struct{}),
		sink:     progress.Discard,
		submit: func(task func()) error {
			go task()
			return nil
		},
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// ID returns the job's unique id.
func (j *Job) ID() string { return j.id }

// Node returns the node being executed.
func (j *Job) Node() *node.Node { return j.node }

// Start begins asynchronous execution and returns immediately. A job can
// only be started once.
func (j *Job) Start(sink progress.Sink) error {
	if !j.started.CompareAndSwap(false, true) {
		return fmt.Errorf("job for node '%s' already started", j.node.ID())
	}
	if sink != nil {
		j.sink = sink
	}
	if err := j.submit(j.run); err != nil {
		j.finishUnstarted(fmt.Errorf("failed to submit job for node '%s': %w", j.node.ID(), err))
		return err
	}
	return nil
}

// RequestCancel asks the collaborator to stop. It is idempotent and never
// cleared.
func (j *Job) RequestCancel() {
	j.cancelOnce.Do(func() {
		j.canceled.Store(true)
		close(j.cancelCh)
	})
}

// IsCanceled reports whether cancellation was requested.
func (j *Job) IsCanceled() bool { return j.canceled.Load() }

// ProgressChanged records the absolute completed fraction. Values are
// clamped to [0,1]; only increases are forwarded, as a delta.
func (j *Job) ProgressChanged(fraction float64, msg string) {
	if math.IsNaN(fraction) {
		return
	}
	fraction = math.Max(0, math.Min(1, fraction))

	j.progressMu.Lock()
	delta := fraction - j.fraction
	if delta < 0 {
		delta = 0
	} else {
		j.fraction = fraction
	}
	j.progressMu.Unlock()

	j.sink.OnProgress(j.node.ID(), delta, msg)
}

// Fraction returns the highest fraction reported so far.
func (j *Job) Fraction() float64 {
	j.progressMu.Lock()
	defer j.progressMu.Unlock()
	return j.fraction
}

// Done is closed once the job reaches a terminal outcome.
func (j *Job) Done() <-chan struct{} { return j.done }

// AwaitTerminal blocks until the job finishes or ctx is done.
func (j *Job) AwaitTerminal(ctx context.Context) (Result, error) {
	select {
	case <-j.done:
		return j.result, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Result returns the outcome once the job has finished.
func (j *Job) Result() (Result, bool) {
	select {
	case <-j.done:
		return j.result, true
	default:
		return Result{}, false
	}
}

// Context returns the context of the run that started the job.
func (j *Job) Context() context.Context { return j.ctx }

func (j *Job) NodeID() string { return j.node.ID() }

func (j *Job) CheckCanceled() error {
	if j.IsCanceled() {
		return &engineerr.CancellationError{NodeID: j.node.ID()}
	}
	return nil
}

func (j *Job) Canceled() <-chan struct{} { return j.cancelCh }

func (j *Job) SetProgress(fraction float64, msg string) { j.ProgressChanged(fraction, msg) }

// finishUnstarted dequeues a job whose collaborator never ran.
func (j *Job) finishUnstarted(err error) {
	if dqErr := j.node.Transition(node.Idle); dqErr != nil {
		err = errors.Join(err, dqErr)
	}
	j.node.SetResult(nil, err)
	j.result = Result{State: j.node.State(), Err: err}
	j.sink.OnStateChanged(j.node.ID(), j.result.State)
	close(j.done)
}

func (j *Job) run() {
	logger := ctxlog.FromContext(j.ctx).With("nodeID", j.node.ID(), "jobID", j.id)

	if j.IsCanceled() {
		logger.Debug("Job canceled before start.")
		j.finishUnstarted(&engineerr.CancellationError{NodeID: j.node.ID(), Reason: ReasonBeforeStart})
		return
	}

	if err := j.node.Transition(node.Executing); err != nil {
		logger.Error("Job could not start.", "error", err)
		j.result = Result{State: j.node.State(), Err: err}
		close(j.done)
		return
	}
	j.sink.OnStateChanged(j.node.ID(), node.Executing)
	j.metrics.JobStarted()

	started := time.Now()
	logger.Info("▶️ Starting node")
	outputs, err := j.execute()
	state := classify(err)

	switch state {
	case node.Executed:
		if j.Fraction() < 1 {
			j.ProgressChanged(1, "")
		}
		logger.Info("✅ Finished node", "duration", time.Since(started))
	case node.Canceled:
		outputs = nil
		logger.Warn("Node canceled.", "error", err)
	default:
		outputs = nil
		err = asExecutionError(j.node.ID(), err)
		logger.Error("Node execution failed.", "error", err)
	}

	j.node.SetResult(outputs, err)
	if tErr := j.node.Transition(state); tErr != nil {
		// Unreachable while the job owns the node; recorded for diagnosis.
		err = errors.Join(err, tErr)
		j.node.SetResult(outputs, err)
	}
	duration := time.Since(started)
	j.metrics.JobFinished(state, duration)
	j.sink.OnStateChanged(j.node.ID(), state)

	j.result = Result{State: state, Outputs: outputs, Err: err, Started: started, Duration: duration}
	close(j.done)
}

// execute runs the collaborator, converting panics into errors.
func (j *Job) execute() (outputs []cty.Value, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	if err := j.CheckCanceled(); err != nil {
		return nil, err
	}
	if j.resolve != nil {
		if j.inputs, err = j.resolve(); err != nil {
			return nil, fmt.Errorf("failed to resolve inputs: %w", err)
		}
	}
	if op, parts, ok := j.streamable(); ok {
		return j.executeStreaming(op, parts)
	}
	return j.node.Model().Execute(j, j.inputs)
}

func classify(err error) node.State {
	switch {
	case err == nil:
		return node.Executed
	case engineerr.IsCanceled(err):
		return node.Canceled
	default:
		return node.Failed
	}
}

func asExecutionError(nodeID string, err error) error {
	var execErr *engineerr.ExecutionError
	if errors.As(err, &execErr) {
		return err
	}
	return &engineerr.ExecutionError{NodeID: nodeID, Err: err}
}
