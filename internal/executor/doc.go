// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev

// Package executor runs one node's collaborator as an asynchronous Job.
//
// A Job owns the node's move from QUEUED through EXECUTING to a terminal
// state. Whatever the collaborator does (returns an error, panics, observes
// a cancellation request) ends up as the node's terminal state and recorded
// error; nothing is raised to the caller that started the job. Callers learn
// the outcome through AwaitTerminal or the progress sink.
//
// Cancellation is advisory. RequestCancel only sets a flag that the
// collaborator polls through its ExecContext; a collaborator that never
// polls simply runs to completion.
package executor
