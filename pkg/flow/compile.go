package flow

import (
	"errors"
	"fmt"
	"log/slog"
)

// Compile validates the graph and creates an executable CompiledGraph.
// Returns an error if validation fails. Multiple errors are joined together.
//
// Validation checks (in order):
//  1. Entry point must be set
//  2. Entry point must reference an existing node
//  3. All edge sources and targets must reference existing nodes or END
//  4. All conditional edge mapping targets must reference existing nodes or END
//  5. Every node must have at least one outgoing edge (simple or conditional)
//  6. All nodes must have a path to END
//
// Unreachable nodes (not reachable from entry) are logged as warnings
// but do not cause compilation to fail.
func (g *Graph[S, D]) Compile() (*CompiledGraph[S, D], error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var errs []error

	// 1. Validate entry point is set
	if g.entryPoint == "" {
		errs = append(errs, ErrNoEntryPoint)
	} else if _, exists := g.nodes[g.entryPoint]; !exists {
		// 2. Validate entry point references existing node
		errs = append(errs, fmt.Errorf("%w: %s", ErrEntryNotFound, g.entryPoint))
	}

	// 3. Validate edge references
	for from, targets := range g.edges {
		if from != END {
			if _, exists := g.nodes[from]; !exists {
				errs = append(errs, fmt.Errorf("%w: edge source '%s' does not exist", ErrNodeNotFound, from))
			}
		}

		for _, to := range targets {
			if to != END {
				if _, exists := g.nodes[to]; !exists {
					errs = append(errs, fmt.Errorf("%w: edge target '%s' does not exist", ErrNodeNotFound, to))
				}
			}
		}
	}

	// 4. Validate conditional edge sources and mapping targets. Routing
	// keys are checked here once so an unmapped key at runtime can only
	// mean a router bug, never a wiring mistake.
	for from, ce := range g.conditionalEdges {
		if _, exists := g.nodes[from]; !exists {
			errs = append(errs, fmt.Errorf("%w: conditional edge source '%s' does not exist", ErrNodeNotFound, from))
		}
		for key, to := range ce.targets {
			if to != END {
				if _, exists := g.nodes[to]; !exists {
					errs = append(errs, fmt.Errorf("%w: conditional target '%s' (key %q from '%s') does not exist",
						ErrNodeNotFound, to, key, from))
				}
			}
		}
	}

	// 5. Every node needs a way out: an outgoing simple edge or a
	// conditional edge. Terminal is represented by END, not by a node.
	for id := range g.nodes {
		if len(g.edges[id]) == 0 {
			if _, hasConditional := g.conditionalEdges[id]; !hasConditional {
				errs = append(errs, fmt.Errorf("%w: %s", ErrNoOutgoingEdge, id))
			}
		}
	}

	// 6. Validate path to END exists from entry
	if g.entryPoint != "" {
		if _, exists := g.nodes[g.entryPoint]; exists {
			if !g.hasPathToEnd() {
				errs = append(errs, ErrNoPathToEnd)
			}
		}
	}

	// Check for unreachable nodes (warning only)
	g.warnUnreachableNodes()

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	return g.buildCompiledGraph(), nil
}

// hasPathToEnd checks if there's a path from entry to END.
// This uses a simple reachability analysis. Conditional edges contribute
// their declared mapping targets.
func (g *Graph[S, D]) hasPathToEnd() bool {
	// Find all nodes that can reach END using reverse propagation
	canReachEnd := make(map[string]bool)
	canReachEnd[END] = true

	// Keep propagating until no changes
	changed := true
	for changed {
		changed = false

		for from, targets := range g.edges {
			if canReachEnd[from] {
				continue
			}
			for _, to := range targets {
				if canReachEnd[to] {
					canReachEnd[from] = true
					changed = true
					break
				}
			}
		}

		for from, ce := range g.conditionalEdges {
			if canReachEnd[from] {
				continue
			}
			for _, to := range ce.targets {
				if canReachEnd[to] {
					canReachEnd[from] = true
					changed = true
					break
				}
			}
		}
	}

	return canReachEnd[g.entryPoint]
}

// warnUnreachableNodes logs warnings for nodes not reachable from entry.
func (g *Graph[S, D]) warnUnreachableNodes() {
	if g.entryPoint == "" {
		return
	}

	reachable := g.findReachableNodes()

	for nodeID := range g.nodes {
		if !reachable[nodeID] {
			slog.Warn("node is unreachable from entry", "node_id", nodeID)
		}
	}
}

// findReachableNodes returns the set of nodes reachable from the entry
// point, following simple edges and conditional mapping targets.
func (g *Graph[S, D]) findReachableNodes() map[string]bool {
	reachable := make(map[string]bool)

	if g.entryPoint == "" {
		return reachable
	}

	// BFS from entry
	queue := []string{g.entryPoint}
	reachable[g.entryPoint] = true

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		for _, target := range g.edges[current] {
			if target != END && !reachable[target] {
				reachable[target] = true
				queue = append(queue, target)
			}
		}

		if ce, hasConditional := g.conditionalEdges[current]; hasConditional {
			for _, target := range ce.targets {
				if target != END && !reachable[target] {
					reachable[target] = true
					queue = append(queue, target)
				}
			}
		}
	}

	return reachable
}

// buildCompiledGraph creates the immutable CompiledGraph from the builder state.
func (g *Graph[S, D]) buildCompiledGraph() *CompiledGraph[S, D] {
	// Deep copy nodes
	nodes := make(map[string]node[S, D], len(g.nodes))
	for id, n := range g.nodes {
		nodes[id] = n
	}

	// Deep copy edges
	edges := make(map[string][]string, len(g.edges))
	for from, targets := range g.edges {
		edges[from] = make([]string, len(targets))
		copy(edges[from], targets)
	}

	// Deep copy conditional edges
	conditionalEdges := make(map[string]conditionalEdge[S], len(g.conditionalEdges))
	for from, ce := range g.conditionalEdges {
		targets := make(map[string]string, len(ce.targets))
		for k, v := range ce.targets {
			targets[k] = v
		}
		conditionalEdges[from] = conditionalEdge[S]{router: ce.router, targets: targets}
	}

	// Identify conditional nodes
	isConditional := make(map[string]bool)
	for from := range conditionalEdges {
		isConditional[from] = true
	}

	return &CompiledGraph[S, D]{
		merge:            g.merge,
		nodes:            nodes,
		edges:            edges,
		conditionalEdges: conditionalEdges,
		entryPoint:       g.entryPoint,
		isConditional:    isConditional,
		shortCircuit:     g.shortCircuit,
		recover:          g.recover,
	}
}
