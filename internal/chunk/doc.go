// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev

// Package chunk fans a loop body out into independent branches and folds
// their outcomes back into one loop-end state.
//
// A Controller clones the body once per branch into the parent graph, inside
// an auto-created container, and gives every branch a private scheduler
// scoped to its own nodes. Each branch is fed by a source node holding its
// chunk of the input and drained by a collector node holding its result.
//
// The Master is the sole listener of branch state. It keeps an arena of
// branch handles keyed by chunk index behind one mutex and maintains the
// executing, executed and failed counts, so a loop end can consume branches
// as they finish rather than only after all of them have.
package chunk
