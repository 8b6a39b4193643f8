package graph

import (
	"fmt"
	"slices"
)

// A directed acyclic graph of named nodes.
//
// Not safe for concurrent mutation; build the graph fully before handing
// it to the executor.
type Graph struct {
	nodes map[string]*node
	order []string // Insertion order, for deterministic iteration.
}

type node struct {
	id         string
	deps       map[string]*node
	dependents map[string]*node
}

// Creates an empty graph.
func New() *Graph {
	return &Graph{nodes: make(map[string]*node)}
}

// Adds a node with the given ID. Adding an existing ID is a no-op.
func (g *Graph) AddNode(id string) {
	if _, ok := g.nodes[id]; ok {
		return
	}
	g.nodes[id] = &node{
		id:         id,
		deps:       make(map[string]*node),
		dependents: make(map[string]*node),
	}
	g.order = append(g.order, id)
}

// Adds a dependency edge: to depends on from.
//
// Both nodes must already exist and self-edges are rejected.
func (g *Graph) AddEdge(from, to string) error {
	if from == to {
		return fmt.Errorf("%w: self-referential edge on %q", ErrUnknownNode, from)
	}

	fromNode, ok := g.nodes[from]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownNode, from)
	}
	toNode, ok := g.nodes[to]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownNode, to)
	}

	toNode.deps[from] = fromNode
	fromNode.dependents[to] = toNode
	return nil
}

// Returns the IDs of the nodes the given node depends on.
func (g *Graph) Dependencies(id string) []string {
	n, ok := g.nodes[id]
	if !ok {
		return nil
	}
	return sortedKeys(n.deps)
}

// Returns the IDs of the nodes depending on the given node.
func (g *Graph) Dependents(id string) []string {
	n, ok := g.nodes[id]
	if !ok {
		return nil
	}
	return sortedKeys(n.dependents)
}

// Returns the number of nodes in the graph.
func (g *Graph) Len() int {
	return len(g.nodes)
}

// Checks the graph for cycles.
//
// Classic depth-first search with permanent and temporary marks. Returns
// [ErrCycleDetected] naming a node on the first cycle found.
func (g *Graph) DetectCycles() error {
	permanent := make(map[string]bool)
	temporary := make(map[string]bool)

	var visit func(n *node) error
	visit = func(n *node) error {
		if permanent[n.id] {
			return nil
		}
		if temporary[n.id] {
			return fmt.Errorf("%w: involving node %q", ErrCycleDetected, n.id)
		}

		temporary[n.id] = true
		for _, dep := range n.dependents {
			if err := visit(dep); err != nil {
				return err
			}
		}
		delete(temporary, n.id)
		permanent[n.id] = true
		return nil
	}

	for _, id := range g.order {
		if !permanent[id] {
			if err := visit(g.nodes[id]); err != nil {
				return err
			}
		}
	}
	return nil
}

// Returns the node IDs in a topological order.
//
// Ties are broken by insertion order, so the result is deterministic for
// a given construction sequence. Fails with [ErrCycleDetected] when no
// such order exists.
func (g *Graph) TopoSort() ([]string, error) {
	if err := g.DetectCycles(); err != nil {
		return nil, err
	}

	remaining := make(map[string]int, len(g.nodes))
	for id, n := range g.nodes {
		remaining[id] = len(n.deps)
	}

	var order []string
	ready := make([]string, 0, len(g.nodes))
	for _, id := range g.order {
		if remaining[id] == 0 {
			ready = append(ready, id)
		}
	}

	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		order = append(order, id)

		for _, dep := range sortedKeys(g.nodes[id].dependents) {
			remaining[dep]--
			if remaining[dep] == 0 {
				ready = append(ready, dep)
			}
		}
	}

	return order, nil
}

func sortedKeys(m map[string]*node) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
