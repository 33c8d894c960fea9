// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev

package testutil

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// AssertOverlap requires that the executions of a and b overlapped in time.
func AssertOverlap(t *testing.T, r *Recorder, a, b string) {
	t.Helper()
	ra, ok := r.Record(a)
	require.True(t, ok, "node %s did not run", a)
	rb, ok := r.Record(b)
	require.True(t, ok, "node %s did not run", b)
	require.True(t, ra.Start.Before(rb.End) && rb.Start.Before(ra.End),
		"expected %s and %s to run concurrently", a, b)
}

// AssertBefore requires that a finished before b started.
func AssertBefore(t *testing.T, r *Recorder, a, b string) {
	t.Helper()
	ra, ok := r.Record(a)
	require.True(t, ok, "node %s did not run", a)
	rb, ok := r.Record(b)
	require.True(t, ok, "node %s did not run", b)
	require.False(t, rb.Start.Before(ra.End), "expected %s to finish before %s started", a, b)
}
