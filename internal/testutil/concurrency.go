// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev

package testutil

import (
	"sync"
	"time"

	"github.com/specialistvlad/gridflow/internal/engineerr"
	"github.com/specialistvlad/gridflow/internal/node"
	"github.com/zclconf/go-cty/cty"
)

// Stub is a configurable node.Model for engine tests.
type Stub struct {
	// Ins and Outs are the declared port counts.
	Ins, Outs int
	// Sleep delays execution, polling for cancellation.
	Sleep time.Duration
	// Err is returned from Execute.
	Err error
	// ConfigErr is returned from Configure.
	ConfigErr error
	// Gate blocks execution until closed or cancellation is requested.
	Gate chan struct{}
	// IgnoreCancel makes the stub finish normally even when canceled.
	IgnoreCancel bool
	// Panic makes Execute panic.
	Panic bool
	// Fn overrides the default output computation.
	Fn func(ec node.ExecContext, in []cty.Value) ([]cty.Value, error)
	// Recorder receives start/end records.
	Recorder *Recorder
	// Started receives the node id when execution begins.
	Started chan<- string

	mu     sync.Mutex
	calls  int
	resets int
	inputs []cty.Value
}

func (s *Stub) Configure(in []cty.Type) ([]cty.Type, error) {
	if s.ConfigErr != nil {
		return nil, s.ConfigErr
	}
	out := make([]cty.Type, s.Outs)
	for i := range out {
		out[i] = cty.String
	}
	return out, nil
}

func (s *Stub) Execute(ec node.ExecContext, in []cty.Value) ([]cty.Value, error) {
	id := ec.NodeID()
	s.mu.Lock()
	s.calls++
	s.inputs = in
	s.mu.Unlock()

	if s.Recorder != nil {
		s.Recorder.start(id)
		defer s.Recorder.end(id)
	}
	if s.Started != nil {
		s.Started <- id
	}
	if s.Panic {
		panic("stub panic in " + id)
	}

	if s.Gate != nil {
		select {
		case <-s.Gate:
		case <-ec.Canceled():
			if !s.IgnoreCancel {
				return nil, ec.CheckCanceled()
			}
			<-s.Gate
		}
	}
	if s.Sleep > 0 {
		deadline := time.After(s.Sleep)
		ticker := time.NewTicker(time.Millisecond)
		defer ticker.Stop()
	wait:
		for {
			select {
			case <-deadline:
				break wait
			case <-ticker.C:
				if !s.IgnoreCancel {
					if err := ec.CheckCanceled(); err != nil {
						return nil, err
					}
				}
			}
		}
	}
	ec.SetProgress(1, "done")

	if s.Err != nil {
		return nil, s.Err
	}
	if s.Fn != nil {
		return s.Fn(ec, in)
	}
	out := make([]cty.Value, s.Outs)
	for i := range out {
		out[i] = cty.StringVal(id)
	}
	return out, nil
}

func (s *Stub) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resets++
}

// CloneModel copies the stub's configuration with fresh counters.
func (s *Stub) CloneModel() node.Model {
	return &Stub{
		Ins: s.Ins, Outs: s.Outs, Sleep: s.Sleep, Err: s.Err, ConfigErr: s.ConfigErr,
		Gate: s.Gate, IgnoreCancel: s.IgnoreCancel, Panic: s.Panic, Fn: s.Fn,
		Recorder: s.Recorder, Started: s.Started,
	}
}

// Calls returns how many times Execute ran.
func (s *Stub) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// Resets returns how many times Reset ran.
func (s *Stub) Resets() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resets
}

// Inputs returns the inputs of the last execution.
func (s *Stub) Inputs() []cty.Value {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inputs
}

// Canceled is a convenience error matching engineerr.ErrCanceled.
func Canceled(id string) error {
	return &engineerr.CancellationError{NodeID: id}
}
