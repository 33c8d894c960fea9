// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev

package graph

import (
	"fmt"
	"sort"
	"sync"

	"github.com/specialistvlad/gridflow/internal/engineerr"
	"github.com/specialistvlad/gridflow/internal/node"
)

// Connection links an output port of Source to an input port of Dest.
type Connection struct {
	Source     string
	SourcePort int
	Dest       string
	DestPort   int
}

func (c Connection) String() string {
	return fmt.Sprintf("%s[%d] -> %s[%d]", c.Source, c.SourcePort, c.Dest, c.DestPort)
}

// Graph is the workflow structure guarded by the structural lock.
type Graph struct {
	mutex sync.RWMutex

	nodes map[string]*node.Node
	// inbound maps a destination node to its connections keyed by input port.
	inbound map[string]map[int]Connection
	// outbound maps a source node to its outgoing connections.
	outbound map[string][]Connection
	// containers groups auto-created nodes so they can be removed together.
	containers map[string]map[string]struct{}
}

// New creates and returns an initialized, empty Graph.
func New() *Graph {
	return &Graph{
		nodes:      make(map[string]*node.Node),
		inbound:    make(map[string]map[int]Connection),
		outbound:   make(map[string][]Connection),
		containers: make(map[string]map[string]struct{}),
	}
}

// Update runs fn under the exclusive structural lock.
func (g *Graph) Update(fn func(tx *Tx) error) error {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	return fn(&Tx{Snapshot{g: g}})
}

// View runs fn under the shared structural lock.
func (g *Graph) View(fn func(s Snapshot)) {
	g.mutex.RLock()
	defer g.mutex.RUnlock()
	fn(Snapshot{g: g})
}

// AddNode adds n to the graph. Ids must be unique.
func (g *Graph) AddNode(n *node.Node) error {
	return g.Update(func(tx *Tx) error { return tx.AddNode(n) })
}

// RemoveNode removes a node and every connection touching it. Queued or
// executing nodes cannot be removed.
func (g *Graph) RemoveNode(id string) error {
	return g.Update(func(tx *Tx) error { return tx.RemoveNode(id) })
}

// Connect adds a port connection. It rejects unknown nodes, out-of-range
// ports, already-connected input ports and connections that would close a
// cycle.
func (g *Graph) Connect(c Connection) error {
	return g.Update(func(tx *Tx) error { return tx.Connect(c) })
}

// Disconnect removes a port connection.
func (g *Graph) Disconnect(c Connection) error {
	return g.Update(func(tx *Tx) error { return tx.Disconnect(c) })
}

// Node returns the node with the given id.
func (g *Graph) Node(id string) (*node.Node, bool) {
	g.mutex.RLock()
	defer g.mutex.RUnlock()
	n, ok := g.nodes[id]
	return n, ok
}

// Len returns the number of nodes.
func (g *Graph) Len() int {
	g.mutex.RLock()
	defer g.mutex.RUnlock()
	return len(g.nodes)
}

// Nodes returns every node sorted by id.
func (g *Graph) Nodes() []*node.Node {
	g.mutex.RLock()
	defer g.mutex.RUnlock()
	return Snapshot{g: g}.Nodes()
}

// IDs returns every node id in ascending order.
func (g *Graph) IDs() []string {
	g.mutex.RLock()
	defer g.mutex.RUnlock()
	return Snapshot{g: g}.IDs()
}

// Inbound returns the connections feeding id, ordered by input port.
func (g *Graph) Inbound(id string) []Connection {
	g.mutex.RLock()
	defer g.mutex.RUnlock()
	return Snapshot{g: g}.Inbound(id)
}

// Predecessors returns the ids of nodes directly feeding id.
func (g *Graph) Predecessors(id string) []string {
	g.mutex.RLock()
	defer g.mutex.RUnlock()
	return Snapshot{g: g}.Predecessors(id)
}

// Successors returns the ids of nodes directly fed by id.
func (g *Graph) Successors(id string) []string {
	g.mutex.RLock()
	defer g.mutex.RUnlock()
	return Snapshot{g: g}.Successors(id)
}

// Ancestors returns every node id upstream of id, excluding id.
func (g *Graph) Ancestors(id string) []string {
	g.mutex.RLock()
	defer g.mutex.RUnlock()
	return Snapshot{g: g}.Ancestors(id)
}

// Descendants returns every node id downstream of id, excluding id.
func (g *Graph) Descendants(id string) []string {
	g.mutex.RLock()
	defer g.mutex.RUnlock()
	return Snapshot{g: g}.Descendants(id)
}

// Sinks returns the ids of nodes without successors.
func (g *Graph) Sinks() []string {
	g.mutex.RLock()
	defer g.mutex.RUnlock()
	return Snapshot{g: g}.Sinks()
}

// TopoOrder orders ids with Kahn's algorithm over their induced sub-graph.
func (g *Graph) TopoOrder(ids []string) ([]string, error) {
	g.mutex.RLock()
	defer g.mutex.RUnlock()
	return Snapshot{g: g}.TopoOrder(ids)
}

// DetectCycles checks the graph for any cycles. It returns a non-nil error
// if a cycle is found, indicating the first node involved in the detected cycle.
func (g *Graph) DetectCycles() error {
	g.mutex.RLock()
	defer g.mutex.RUnlock()
	_, err := Snapshot{g: g}.TopoOrder(Snapshot{g: g}.IDs())
	return err
}

// Container returns the member ids of a container.
func (g *Graph) Container(id string) ([]string, bool) {
	g.mutex.RLock()
	defer g.mutex.RUnlock()
	return Snapshot{g: g}.Container(id)
}

// Snapshot reads structure without locking. It is only valid inside View or
// Update.
type Snapshot struct {
	g *Graph
}

// Node returns the node with the given id.
func (s Snapshot) Node(id string) (*node.Node, bool) {
	n, ok := s.g.nodes[id]
	return n, ok
}

// Nodes returns every node sorted by id.
func (s Snapshot) Nodes() []*node.Node {
	out := make([]*node.Node, 0, len(s.g.nodes))
	for _, id := range s.IDs() {
		out = append(out, s.g.nodes[id])
	}
	return out
}

// IDs returns every node id in ascending order.
func (s Snapshot) IDs() []string {
	ids := make([]string, 0, len(s.g.nodes))
	for id := range s.g.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Inbound returns the connections feeding id, ordered by input port.
func (s Snapshot) Inbound(id string) []Connection {
	ports := s.g.inbound[id]
	out := make([]Connection, 0, len(ports))
	for _, c := range ports {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DestPort < out[j].DestPort })
	return out
}

// Predecessors returns the ids of nodes directly feeding id.
func (s Snapshot) Predecessors(id string) []string {
	set := make(map[string]struct{})
	for _, c := range s.g.inbound[id] {
		set[c.Source] = struct{}{}
	}
	return sortedKeys(set)
}

// Successors returns the ids of nodes directly fed by id.
func (s Snapshot) Successors(id string) []string {
	set := make(map[string]struct{})
	for _, c := range s.g.outbound[id] {
		set[c.Dest] = struct{}{}
	}
	return sortedKeys(set)
}

// Ancestors returns every node id upstream of id, excluding id.
func (s Snapshot) Ancestors(id string) []string {
	return s.walk(id, s.Predecessors)
}

// Descendants returns every node id downstream of id, excluding id.
func (s Snapshot) Descendants(id string) []string {
	return s.walk(id, s.Successors)
}

func (s Snapshot) walk(id string, next func(string) []string) []string {
	seen := make(map[string]struct{})
	stack := next(id)
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, ok := seen[cur]; ok {
			continue
		}
		seen[cur] = struct{}{}
		stack = append(stack, next(cur)...)
	}
	delete(seen, id)
	return sortedKeys(seen)
}

// Sinks returns the ids of nodes without successors.
func (s Snapshot) Sinks() []string {
	var out []string
	for _, id := range s.IDs() {
		if len(s.g.outbound[id]) == 0 {
			out = append(out, id)
		}
	}
	return out
}

// Container returns the member ids of a container.
func (s Snapshot) Container(id string) ([]string, bool) {
	members, ok := s.g.containers[id]
	if !ok {
		return nil, false
	}
	return sortedKeys(members), true
}

// TopoOrder orders ids with Kahn's algorithm over their induced sub-graph.
// Ready nodes are emitted in ascending id order.
func (s Snapshot) TopoOrder(ids []string) ([]string, error) {
	in := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := s.g.nodes[id]; !ok {
			return nil, fmt.Errorf("%w: %s", engineerr.ErrNodeNotFound, id)
		}
		in[id] = struct{}{}
	}

	indegree := make(map[string]int, len(in))
	for id := range in {
		for _, p := range s.Predecessors(id) {
			if _, ok := in[p]; ok {
				indegree[id]++
			}
		}
	}

	var ready []string
	for id := range in {
		if indegree[id] == 0 {
			ready = append(ready, id)
		}
	}
	sort.Strings(ready)

	order := make([]string, 0, len(in))
	for len(ready) > 0 {
		cur := ready[0]
		ready = ready[1:]
		order = append(order, cur)
		for _, succ := range s.Successors(cur) {
			if _, ok := in[succ]; !ok {
				continue
			}
			indegree[succ]--
			if indegree[succ] == 0 {
				ready = insertSorted(ready, succ)
			}
		}
	}

	if len(order) != len(in) {
		var stuck []string
		for id := range in {
			if indegree[id] > 0 {
				stuck = append(stuck, id)
			}
		}
		sort.Strings(stuck)
		return nil, engineerr.NewConfigError("", "cycle detected involving node '%s'", stuck[0])
	}
	return order, nil
}

func (s Snapshot) reaches(from, to string) bool {
	if from == to {
		return true
	}
	for _, id := range s.Descendants(from) {
		if id == to {
			return true
		}
	}
	return false
}

func insertSorted(list []string, v string) []string {
	i := sort.SearchStrings(list, v)
	list = append(list, "")
	copy(list[i+1:], list[i:])
	list[i] = v
	return list
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
