// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev

package testutil

import (
	"context"
	"sync"

	"github.com/specialistvlad/gridflow/internal/engineerr"
)

// FakeExecContext is a node.ExecContext for calling models directly.
type FakeExecContext struct {
	ctx    context.Context
	id     string
	once   sync.Once
	cancel chan struct{}

	mu       sync.Mutex
	progress []float64
	messages []string
}

// ExecContext returns a FakeExecContext for node id.
func ExecContext(id string) *FakeExecContext {
	return &FakeExecContext{ctx: context.Background(), id: id, cancel: make(chan struct{})}
}

// Cancel requests cancellation.
func (f *FakeExecContext) Cancel() { f.once.Do(func() { close(f.cancel) }) }

func (f *FakeExecContext) Context() context.Context  { return f.ctx }
func (f *FakeExecContext) NodeID() string            { return f.id }
func (f *FakeExecContext) Canceled() <-chan struct{} { return f.cancel }

func (f *FakeExecContext) CheckCanceled() error {
	select {
	case <-f.cancel:
		return &engineerr.CancellationError{NodeID: f.id}
	default:
		return nil
	}
}

func (f *FakeExecContext) SetProgress(fraction float64, msg string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.progress = append(f.progress, fraction)
	f.messages = append(f.messages, msg)
}

// Progress returns every reported fraction in order.
func (f *FakeExecContext) Progress() []float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]float64(nil), f.progress...)
}
