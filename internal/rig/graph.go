// SPDX-License-Identifier: GPL-3.0-or-later

package rig

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/slipwayhq/slipway/internal/refexpr"
)

// Graph is a validated Rig: nodes keyed by handle, their dependency edges,
// and a topological rank used for deterministic ready-node tie-breaking
// when multiple nodes become ready at once.
type Graph struct {
	Nodes map[string]*Node
	order []string // handles in topological order
}

// Node is one rigging entry plus its derived dependency edges and rank.
type Node struct {
	Handle     string
	Definition NodeDefinition
	DependsOn  []string // handles this node's input references
	Rank       int
}

// buildGraph extracts dependency edges for every node via reference
// scanning and topologically sorts the result, reporting
// every cycle's participating handles in one aggregate error.
func buildGraph(doc *Document) (*Graph, error) {
	nodes := make(map[string]*Node, len(doc.Rigging))
	for handle, def := range doc.Rigging {
		var decoded any
		if len(def.Input) > 0 {
			if err := json.Unmarshal(def.Input, &decoded); err != nil {
				return nil, fmt.Errorf("rig: node %q: invalid input JSON: %w", handle, err)
			}
		}
		deps, err := refexpr.ExtractDependencies(decoded)
		if err != nil {
			return nil, fmt.Errorf("rig: node %q: %w", handle, err)
		}
		for _, dep := range deps {
			if _, ok := doc.Rigging[dep]; !ok {
				return nil, fmt.Errorf("rig: node %q references unknown handle %q", handle, dep)
			}
		}
		sort.Strings(deps)
		nodes[handle] = &Node{Handle: handle, Definition: def, DependsOn: deps}
	}

	order, err := topoSort(nodes)
	if err != nil {
		return nil, err
	}
	for rank, handle := range order {
		nodes[handle].Rank = rank
	}
	return &Graph{Nodes: nodes, order: order}, nil
}

// topoSort performs a Kahn's-algorithm sort, breaking ties
// lexicographically by handle for determinism, and reports every cycle's
// member handles if the graph is not acyclic.
func topoSort(nodes map[string]*Node) ([]string, error) {
	indegree := make(map[string]int, len(nodes))
	dependents := make(map[string][]string, len(nodes))
	for handle, n := range nodes {
		if _, ok := indegree[handle]; !ok {
			indegree[handle] = 0
		}
		for _, dep := range n.DependsOn {
			indegree[handle]++
			dependents[dep] = append(dependents[dep], handle)
		}
	}

	var ready []string
	for handle, deg := range indegree {
		if deg == 0 {
			ready = append(ready, handle)
		}
	}
	sort.Strings(ready)

	var order []string
	for len(ready) > 0 {
		sort.Strings(ready)
		handle := ready[0]
		ready = ready[1:]
		order = append(order, handle)

		next := append([]string{}, dependents[handle]...)
		sort.Strings(next)
		for _, dependent := range next {
			indegree[dependent]--
			if indegree[dependent] == 0 {
				ready = append(ready, dependent)
			}
		}
	}

	if len(order) != len(nodes) {
		var cycle []string
		for handle, deg := range indegree {
			if deg > 0 {
				cycle = append(cycle, handle)
			}
		}
		sort.Strings(cycle)
		return nil, fmt.Errorf("rig: dependency cycle among handles %v", cycle)
	}
	return order, nil
}

// TopologicalOrder returns node handles in scheduling rank order.
func (g *Graph) TopologicalOrder() []string {
	return append([]string{}, g.order...)
}

// Dependents returns the handles whose input directly references handle's
// output.
func (g *Graph) Dependents(handle string) []string {
	var out []string
	for h, n := range g.Nodes {
		for _, dep := range n.DependsOn {
			if dep == handle {
				out = append(out, h)
				break
			}
		}
	}
	sort.Strings(out)
	return out
}

// OutputHandle identifies the graph's single output node: the one handle
// with no dependents. A Rig used as a Fragment component must have
// exactly one, since the fragment's own output is that node's output.
func (g *Graph) OutputHandle() (string, error) {
	hasDependent := make(map[string]bool, len(g.Nodes))
	for _, n := range g.Nodes {
		for _, dep := range n.DependsOn {
			hasDependent[dep] = true
		}
	}
	var sinks []string
	for handle := range g.Nodes {
		if !hasDependent[handle] {
			sinks = append(sinks, handle)
		}
	}
	sort.Strings(sinks)
	switch len(sinks) {
	case 0:
		return "", fmt.Errorf("rig: no output node found (every handle has a dependent)")
	case 1:
		return sinks[0], nil
	default:
		return "", fmt.Errorf("rig: ambiguous output, multiple handles have no dependents: %v", sinks)
	}
}
