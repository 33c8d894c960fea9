// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev

package system

import (
	"context"
	"testing"

	"github.com/specialistvlad/gridflow/internal/testutil"
	"github.com/stretchr/testify/require"
)

// Test for: Fan-in synchronization waits for all parallel nodes.
func TestDagConcurrency_FanInSynchronization(t *testing.T) {
	a, stubs, _ := setup(t, map[string]string{"grid.hcl": `
node "stub" "A" { sleep = "50ms" }
node "stub" "B" { sleep = "50ms" }
node "stub" "C" { sleep = "50ms" }
node "stub" "D" {
  inputs = ["A", "B", "C"]
}
`}, 4)

	require.NoError(t, a.Run(context.Background()))

	r := stubs.recorder
	testutil.AssertOverlap(t, r, "A", "B")
	testutil.AssertOverlap(t, r, "B", "C")
	for _, id := range []string{"A", "B", "C"} {
		testutil.AssertBefore(t, r, id, "D")
	}
}

// Test for: Fan-out runs dependents concurrently once their source is done.
func TestDagConcurrency_FanOutExecution(t *testing.T) {
	a, stubs, _ := setup(t, map[string]string{"grid.hcl": `
node "stub" "A" {}
node "stub" "B" {
  inputs = ["A"]
  sleep  = "50ms"
}
node "stub" "C" {
  inputs = ["A"]
  sleep  = "50ms"
}
node "stub" "D" {
  inputs = ["A"]
  sleep  = "50ms"
}
`}, 3)

	require.NoError(t, a.Run(context.Background()))

	r := stubs.recorder
	for _, id := range []string{"B", "C", "D"} {
		testutil.AssertBefore(t, r, "A", id)
	}
	testutil.AssertOverlap(t, r, "B", "C")
	testutil.AssertOverlap(t, r, "C", "D")
}

// Test for: A single worker serializes independent nodes in id order.
func TestDagConcurrency_SingleWorkerSerializes(t *testing.T) {
	a, stubs, _ := setup(t, map[string]string{"grid.hcl": `
node "stub" "c" { sleep = "5ms" }
node "stub" "a" { sleep = "5ms" }
node "stub" "b" { sleep = "5ms" }
`}, 1)

	require.NoError(t, a.Run(context.Background()))
	require.Equal(t, []string{"a", "b", "c"}, stubs.recorder.Order())
}
