// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev

package graph

import (
	"fmt"

	"github.com/specialistvlad/gridflow/internal/engineerr"
	"github.com/specialistvlad/gridflow/internal/node"
)

// Tx applies structural edits while Update holds the exclusive lock.
type Tx struct {
	Snapshot
}

// AddNode adds n. Ids must be unique.
func (tx *Tx) AddNode(n *node.Node) error {
	if n == nil {
		return fmt.Errorf("nil node")
	}
	if _, ok := tx.g.nodes[n.ID()]; ok {
		return engineerr.NewConfigError(n.ID(), "duplicate node id")
	}
	tx.g.nodes[n.ID()] = n
	return nil
}

// RemoveNode removes a node and every connection touching it.
func (tx *Tx) RemoveNode(id string) error {
	n, ok := tx.g.nodes[id]
	if !ok {
		return fmt.Errorf("%w: %s", engineerr.ErrNodeNotFound, id)
	}
	if s := n.State(); s.IsActive() {
		return fmt.Errorf("cannot remove node '%s' while %s", id, s)
	}

	for _, c := range tx.Inbound(id) {
		tx.dropOutbound(c)
	}
	for _, c := range tx.g.outbound[id] {
		delete(tx.g.inbound[c.Dest], c.DestPort)
		if len(tx.g.inbound[c.Dest]) == 0 {
			delete(tx.g.inbound, c.Dest)
		}
	}
	delete(tx.g.inbound, id)
	delete(tx.g.outbound, id)
	for _, members := range tx.g.containers {
		delete(members, id)
	}
	delete(tx.g.nodes, id)
	return nil
}

// Connect adds a port connection.
func (tx *Tx) Connect(c Connection) error {
	if c.Source == c.Dest {
		return engineerr.NewConfigError(c.Dest, "self-referential edge not allowed: %s -> %s", c.Source, c.Dest)
	}
	src, ok := tx.g.nodes[c.Source]
	if !ok {
		return engineerr.NewConfigError(c.Dest, "source node not found: %s", c.Source)
	}
	dst, ok := tx.g.nodes[c.Dest]
	if !ok {
		return engineerr.NewConfigError(c.Source, "destination node not found: %s", c.Dest)
	}
	if c.SourcePort < 0 || c.SourcePort >= len(src.OutPorts()) {
		return engineerr.NewConfigError(c.Source, "output port %d out of range (%d ports)", c.SourcePort, len(src.OutPorts()))
	}
	if c.DestPort < 0 || c.DestPort >= len(dst.InPorts()) {
		return engineerr.NewConfigError(c.Dest, "input port %d out of range (%d ports)", c.DestPort, len(dst.InPorts()))
	}
	if existing, ok := tx.g.inbound[c.Dest][c.DestPort]; ok {
		return engineerr.NewConfigError(c.Dest, "input port %d already connected from %s", c.DestPort, existing.Source)
	}
	if tx.reaches(c.Dest, c.Source) {
		return engineerr.NewConfigError(c.Dest, "connection %s would create a cycle", c)
	}

	if tx.g.inbound[c.Dest] == nil {
		tx.g.inbound[c.Dest] = make(map[int]Connection)
	}
	tx.g.inbound[c.Dest][c.DestPort] = c
	tx.g.outbound[c.Source] = append(tx.g.outbound[c.Source], c)
	return nil
}

// Disconnect removes a port connection.
func (tx *Tx) Disconnect(c Connection) error {
	existing, ok := tx.g.inbound[c.Dest][c.DestPort]
	if !ok || existing != c {
		return fmt.Errorf("connection not found: %s", c)
	}
	delete(tx.g.inbound[c.Dest], c.DestPort)
	if len(tx.g.inbound[c.Dest]) == 0 {
		delete(tx.g.inbound, c.Dest)
	}
	tx.dropOutbound(c)
	return nil
}

func (tx *Tx) dropOutbound(c Connection) {
	out := tx.g.outbound[c.Source]
	for i, o := range out {
		if o == c {
			tx.g.outbound[c.Source] = append(out[:i:i], out[i+1:]...)
			break
		}
	}
	if len(tx.g.outbound[c.Source]) == 0 {
		delete(tx.g.outbound, c.Source)
	}
}

// AddContainer registers an empty container.
func (tx *Tx) AddContainer(id string) error {
	if _, ok := tx.g.containers[id]; ok {
		return fmt.Errorf("container '%s' already exists", id)
	}
	tx.g.containers[id] = make(map[string]struct{})
	return nil
}

// AddToContainer records nodeID as a member of container id.
func (tx *Tx) AddToContainer(id, nodeID string) error {
	members, ok := tx.g.containers[id]
	if !ok {
		return fmt.Errorf("container '%s' not found", id)
	}
	if _, ok := tx.g.nodes[nodeID]; !ok {
		return fmt.Errorf("%w: %s", engineerr.ErrNodeNotFound, nodeID)
	}
	members[nodeID] = struct{}{}
	return nil
}

// RemoveContainer removes a container and its remaining member nodes.
func (tx *Tx) RemoveContainer(id string) error {
	members, ok := tx.g.containers[id]
	if !ok {
		return nil
	}
	for _, nodeID := range sortedKeys(members) {
		if err := tx.RemoveNode(nodeID); err != nil {
			return err
		}
	}
	delete(tx.g.containers, id)
	return nil
}
