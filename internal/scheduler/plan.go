// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev

package scheduler

import (
	"errors"
	"fmt"

	"github.com/specialistvlad/gridflow/internal/engineerr"
	"github.com/specialistvlad/gridflow/internal/graph"
	"github.com/specialistvlad/gridflow/internal/node"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
)

// plan is the immutable part of a run, captured under the read lock.
type plan struct {
	targets []string
	// order lists planned nodes in Kahn order.
	order []string
	// nodes holds planned nodes and their out-of-plan sources.
	nodes   map[string]*node.Node
	preds   map[string][]string
	succs   map[string][]string
	inbound map[string][]graph.Connection
}

func (p *plan) planned(id string) bool {
	_, ok := p.preds[id]
	return ok
}

// plan collects the targets and their ancestors that have not executed.
// Traversal stops at executed nodes, whose outputs are reused.
func (s *Scheduler) plan(targets []string) (*plan, error) {
	p := &plan{
		targets: targets,
		nodes:   make(map[string]*node.Node),
		preds:   make(map[string][]string),
		succs:   make(map[string][]string),
		inbound: make(map[string][]graph.Connection),
	}
	var err error
	s.graph.View(func(sn graph.Snapshot) {
		var ids []string
		seen := make(map[string]struct{})
		stack := append([]string(nil), targets...)
		for len(stack) > 0 {
			id := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			n, ok := sn.Node(id)
			if !ok {
				err = fmt.Errorf("%w: %s", engineerr.ErrNodeNotFound, id)
				return
			}
			p.nodes[id] = n
			if n.State() == node.Executed {
				continue
			}
			ids = append(ids, id)
			stack = append(stack, sn.Predecessors(id)...)
		}

		if p.order, err = sn.TopoOrder(ids); err != nil {
			return
		}
		for _, id := range p.order {
			p.preds[id] = nil
		}
		for _, id := range p.order {
			p.inbound[id] = sn.Inbound(id)
			for _, pred := range sn.Predecessors(id) {
				if p.planned(pred) {
					p.preds[id] = append(p.preds[id], pred)
					p.succs[pred] = append(p.succs[pred], id)
				}
			}
		}
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// configure propagates output specs through the plan in order. Nodes owned
// by another run keep the specs they were configured with.
func (p *plan) configure() error {
	specs := make(map[string][]cty.Type, len(p.order))
	specOf := func(src string, port int) cty.Type {
		out, ok := specs[src]
		if !ok {
			out = p.nodes[src].OutputSpecs()
		}
		if port < len(out) {
			return out[port]
		}
		if ports := p.nodes[src].OutPorts(); port < len(ports) && !isAny(ports[port].Type) {
			return ports[port].Type
		}
		return cty.DynamicPseudoType
	}

	for _, id := range p.order {
		n := p.nodes[id]
		if n.State().IsActive() {
			continue
		}
		ports := n.InPorts()
		in := make([]cty.Type, len(ports))
		connected := make([]bool, len(ports))
		for _, c := range p.inbound[id] {
			have := specOf(c.Source, c.SourcePort)
			want := ports[c.DestPort].Type
			if !compatible(have, want) {
				return engineerr.NewConfigError(id, "input port %d (%s) expects %s, got %s from '%s'",
					c.DestPort, ports[c.DestPort].Name, want.FriendlyName(), have.FriendlyName(), c.Source)
			}
			in[c.DestPort] = have
			connected[c.DestPort] = true
		}
		for i, ok := range connected {
			if !ok {
				return engineerr.NewConfigError(id, "input port %d (%s) is not connected", i, ports[i].Name)
			}
		}

		out, err := n.Model().Configure(in)
		if err != nil {
			var cfgErr *engineerr.ConfigError
			if errors.As(err, &cfgErr) {
				return err
			}
			return &engineerr.ConfigError{NodeID: id, Err: err}
		}
		if want := len(n.OutPorts()); want > 0 && len(out) != want {
			return engineerr.NewConfigError(id, "configure returned %d output specs for %d output ports", len(out), want)
		}
		specs[id] = out
	}

	for id, out := range specs {
		p.nodes[id].SetOutputSpecs(out)
	}
	return nil
}

func isAny(t cty.Type) bool {
	return t == cty.NilType || t == cty.DynamicPseudoType
}

func compatible(have, want cty.Type) bool {
	if isAny(have) || isAny(want) {
		return true
	}
	return convert.GetConversion(have, want) != nil
}
