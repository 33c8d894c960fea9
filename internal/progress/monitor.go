// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev

package progress

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
)

// DefaultMonitorInterval is the polling period used when none is configured.
const DefaultMonitorInterval = 100 * time.Millisecond

// Monitor polls an external stop signal and translates it into a single
// cancellation request.
type Monitor struct {
	clock    clock.Clock
	interval time.Duration
}

// NewMonitor returns a Monitor ticking on clk. A nil clock uses wall time.
func NewMonitor(clk clock.Clock, interval time.Duration) *Monitor {
	if clk == nil {
		clk = clock.New()
	}
	if interval <= 0 {
		interval = DefaultMonitorInterval
	}
	return &Monitor{clock: clk, interval: interval}
}

// Watch blocks until ctx is done or shouldStop reports true, in which case
// cancel is called once. It returns whether cancel was called.
func (m *Monitor) Watch(ctx context.Context, shouldStop func() bool, cancel func()) bool {
	ticker := m.clock.Ticker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
			if shouldStop() {
				cancel()
				return true
			}
		}
	}
}
