// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev

// Package scheduler decides which nodes of a workflow graph run, in what
// order, and on which worker.
//
// # How a Run Works
//
// ExecuteUpTo plans a Run for a target node:
//  1. Under the graph's read lock, collect the target and every ancestor
//     that is not already EXECUTED, order them with Kahn's algorithm (ties
//     broken by ascending node id) and configure each collaborator against
//     its upstream output specs. A configuration error aborts the call
//     before anything executes.
//  2. Claim each node by moving it to QUEUED. Nodes already queued or
//     executing under another Run are awaited, never dispatched twice.
//  3. Dispatch ready nodes, lowest id first, onto a bounded worker pool.
//     A node becomes ready once every planned predecessor has EXECUTED.
//  4. When a node ends FAILED or CANCELED, every planned descendant is
//     dequeued back to IDLE and recorded as skipped due to upstream
//     failure. Unrelated branches keep running.
//
// # Why One Scheduler Owns Subscriptions
//
// Node state changes are published on the scheduler's bus while the graph's
// read lock is held, after the state has been written. Runs use the bus to
// await nodes owned by other Runs; callers use Subscribe for the same
// purpose.
//
// # Cancellation
//
// CancelExecution asks a node's job to stop and dequeues its planned
// descendants that have not started. Branches that do not depend on the
// node are not touched. Cancelling a node that is neither queued nor
// executing returns engineerr.ErrNotCancelable.
package scheduler
