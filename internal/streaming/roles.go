// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev

package streaming

import "fmt"

// InputPortRole describes how an input port is fed to partitions.
type InputPortRole struct {
	// Distributed ports are split so each partition sees a disjoint share.
	// Non-distributed ports are replicated to every partition.
	Distributed bool
	// Streamable ports are consumed row by row.
	Streamable bool
}

var (
	InputDistributedStreamable       = InputPortRole{Distributed: true, Streamable: true}
	InputNonDistributedStreamable    = InputPortRole{Distributed: false, Streamable: true}
	InputNonDistributedNonStreamable = InputPortRole{Distributed: false, Streamable: false}
)

func (r InputPortRole) String() string {
	return fmt.Sprintf("input(distributed=%t, streamable=%t)", r.Distributed, r.Streamable)
}

// OutputPortRole describes how an output port is assembled.
type OutputPortRole struct {
	// Distributed outputs concatenate every partition's rows in partition
	// order. Non-distributed outputs take partition 0's rows.
	Distributed bool
}

var (
	OutputDistributed    = OutputPortRole{Distributed: true}
	OutputNonDistributed = OutputPortRole{Distributed: false}
)

// PartitionInfo identifies one partition of a distributed run.
type PartitionInfo struct {
	Index int
	Count int
}

func (p PartitionInfo) String() string {
	return fmt.Sprintf("%d/%d", p.Index, p.Count)
}

// Bounds returns the half-open range of rows [lo, hi) this partition owns
// out of total rows.
func (p PartitionInfo) Bounds(total int) (lo, hi int) {
	if p.Count <= 0 {
		return 0, total
	}
	return p.Index * total / p.Count, (p.Index + 1) * total / p.Count
}
