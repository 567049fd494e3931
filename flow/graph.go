//
// Tencent is pleased to support the open source community by making trpc-flow-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-flow-go is licensed under the Apache License Version 2.0.
//
//

package flow

import (
	"context"
	"fmt"
)

// NodeType discriminates the closed set of node behaviors the scheduler
// understands. Concrete node behavior beyond these lives in capabilities.
type NodeType string

// Node types.
const (
	// NodeTypeStandard invokes the node's capability once.
	NodeTypeStandard NodeType = "standard"
	// NodeTypeMap applies a template sub-graph to each element of a list.
	NodeTypeMap NodeType = "map"
	// NodeTypeWhile repeats a template sub-graph while a condition holds,
	// bounded by MaxIterations.
	NodeTypeWhile NodeType = "while"
)

// Invocation carries everything a capability receives for one execution.
// The engine resolves Inputs from the node's declared mappings and passes
// Params through opaquely.
type Invocation struct {
	NodeID string
	Inputs map[string]Value
	Params map[string]any
	// State gives capabilities read access to the run scope, primarily for
	// template resolution. Capabilities must not write to it.
	State *StatePool
}

// Capability is the contract between the engine and externally implemented
// node behavior: an input map in, an output map or error out. The engine
// performs no interpretation of what a capability does.
type Capability interface {
	Execute(ctx context.Context, inv *Invocation) (map[string]Value, error)
}

// CapabilityFunc adapts an ordinary function to the Capability interface.
type CapabilityFunc func(ctx context.Context, inv *Invocation) (map[string]Value, error)

// Execute calls f.
func (f CapabilityFunc) Execute(ctx context.Context, inv *Invocation) (map[string]Value, error) {
	return f(ctx, inv)
}

// OutputRef names one output of one node.
type OutputRef struct {
	Node   string `json:"node" yaml:"node"`
	Output string `json:"output" yaml:"output"`
}

// GraphNode is the static description of one unit of work.
type GraphNode struct {
	// ID uniquely identifies the node within its graph.
	ID string
	// Type selects standard, map or while behavior.
	Type NodeType
	// Capability is invoked for standard nodes. Nil for map/while nodes.
	Capability Capability
	// Dependencies are node ids whose outputs must be committed before
	// this node may start.
	Dependencies []string
	// RunIf optionally gates execution. A false gate skips the node and
	// marks it satisfied with no outputs.
	RunIf string
	// Inputs maps capability input names to upstream outputs. Scope
	// variables resolve through the reserved scope namespace.
	Inputs map[string]OutputRef
	// InitialInputs are literal values merged into the resolved inputs.
	InitialInputs map[string]Value
	// Params is opaque configuration handed to the capability.
	Params map[string]any
	// Resource names the circuit breaker / rate limiter / resource pool
	// this node's invocations share. Empty means no named resource.
	Resource string

	// Template is the sub-graph executed per iteration of map/while nodes.
	Template *Graph
	// Parallel selects parallel iteration for map nodes.
	Parallel bool
	// Condition is the while-loop guard, re-evaluated before every
	// iteration against the current loop scope.
	Condition string
	// MaxIterations is the mandatory safety bound of a while node.
	MaxIterations int
}

// Graph is an immutable-after-validation set of nodes and dependency edges.
type Graph struct {
	nodes map[string]*GraphNode
	// order preserves definition order for deterministic scheduling and
	// duplicate detection before the map collapses repeated ids.
	order []*GraphNode
}

// NewGraph creates a graph from the given nodes. Structural problems are
// reported by Validate, not here.
func NewGraph(nodes ...*GraphNode) *Graph {
	g := &Graph{nodes: make(map[string]*GraphNode, len(nodes))}
	for _, n := range nodes {
		g.order = append(g.order, n)
		if _, exists := g.nodes[n.ID]; !exists {
			g.nodes[n.ID] = n
		}
	}
	return g
}

// AddNode appends a node to the graph.
func (g *Graph) AddNode(n *GraphNode) *Graph {
	g.order = append(g.order, n)
	if _, exists := g.nodes[n.ID]; !exists {
		g.nodes[n.ID] = n
	}
	return g
}

// Node returns a node by id.
func (g *Graph) Node(id string) (*GraphNode, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// Nodes returns the nodes in definition order.
func (g *Graph) Nodes() []*GraphNode {
	return append([]*GraphNode(nil), g.order...)
}

// Len returns the number of distinct nodes.
func (g *Graph) Len() int { return len(g.nodes) }

// Validate checks the graph for duplicate ids, dependencies on missing
// nodes, and dependency cycles (Kahn's algorithm; any residual in-degree
// after processing signals a cycle). Map/While templates validate as
// independent sub-graphs: their internal nodes are invisible to the outer
// graph. Validate is pure and must be re-run whenever a graph is loaded.
func (g *Graph) Validate() error {
	seen := make(map[string]bool, len(g.order))
	for _, n := range g.order {
		if n.ID == "" {
			return fmt.Errorf("%w: empty id", ErrDuplicateNode)
		}
		if n.ID == ScopeNode {
			return fmt.Errorf("%w: %s is reserved", ErrDuplicateNode, ScopeNode)
		}
		if seen[n.ID] {
			return fmt.Errorf("%w: %s", ErrDuplicateNode, n.ID)
		}
		seen[n.ID] = true
	}
	for _, n := range g.order {
		for _, dep := range n.Dependencies {
			if _, ok := g.nodes[dep]; !ok {
				return fmt.Errorf("%w: node %s depends on %s", ErrMissingDependency, n.ID, dep)
			}
		}
		switch n.Type {
		case NodeTypeStandard:
			if n.Capability == nil {
				return fmt.Errorf("%w: node %s", ErrMissingCapability, n.ID)
			}
		case NodeTypeMap:
			if n.Template == nil {
				return fmt.Errorf("map node %s has no template", n.ID)
			}
		case NodeTypeWhile:
			if n.Template == nil {
				return fmt.Errorf("while node %s has no template", n.ID)
			}
			if n.MaxIterations <= 0 {
				return fmt.Errorf("while node %s requires a positive max iteration bound", n.ID)
			}
		default:
			return fmt.Errorf("node %s has unknown type %q", n.ID, n.Type)
		}
	}
	if err := g.checkAcyclic(); err != nil {
		return err
	}
	// Templates are their own validation scope.
	for _, n := range g.order {
		if n.Template == nil {
			continue
		}
		if err := n.Template.Validate(); err != nil {
			return fmt.Errorf("template of node %s: %w", n.ID, err)
		}
	}
	return nil
}

// checkAcyclic runs Kahn's algorithm over the dependency edges.
func (g *Graph) checkAcyclic() error {
	inDegree := make(map[string]int, len(g.nodes))
	dependents := make(map[string][]string, len(g.nodes))
	for id, n := range g.nodes {
		inDegree[id] += 0
		for _, dep := range n.Dependencies {
			inDegree[id]++
			dependents[dep] = append(dependents[dep], id)
		}
	}
	queue := make([]string, 0, len(g.nodes))
	for _, n := range g.order {
		if inDegree[n.ID] == 0 {
			queue = append(queue, n.ID)
		}
	}
	processed := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		processed++
		for _, dependent := range dependents[id] {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				queue = append(queue, dependent)
			}
		}
	}
	if processed != len(g.nodes) {
		return ErrCycleDetected
	}
	return nil
}

// exitNodes returns the ids of nodes no other node depends on, in
// definition order. While nodes merge these back into the loop scope.
func (g *Graph) exitNodes() []string {
	depended := make(map[string]bool)
	for _, n := range g.nodes {
		for _, dep := range n.Dependencies {
			depended[dep] = true
		}
	}
	var exits []string
	for _, n := range g.order {
		if !depended[n.ID] {
			exits = append(exits, n.ID)
		}
	}
	return exits
}
