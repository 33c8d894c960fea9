// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev

// Package graph holds the workflow structure: nodes, their typed port
// connections and the containers that group auto-created nodes.
//
// # Structural Lock
//
// Every Graph carries a single sync.RWMutex. Structural edits (adding or
// removing nodes, connecting ports, creating containers) take the write
// side; everything that only reads structure takes the read side. Batches
// of edits run under one exclusive section through Update:
//
//	err := g.Update(func(tx *graph.Tx) error {
//	    if err := tx.AddNode(n); err != nil {
//	        return err
//	    }
//	    return tx.Connect(graph.Connection{Source: "a", Dest: n.ID()})
//	})
//
// Code that must observe a consistent structure while doing something
// else (publishing state changes, for example) uses View. Callbacks passed
// to View or Update must not call the Graph's own locking methods; they use
// the Snapshot or Tx they are handed instead.
//
// # Ordering
//
// TopoOrder runs Kahn's algorithm over the sub-graph induced by a set of
// node ids. Ties between ready nodes are broken by ascending id, so the
// order is deterministic for a given structure.
//
// # Run State
//
// The graph never changes node run state. It only refuses to remove nodes
// that are queued or executing.
package graph
