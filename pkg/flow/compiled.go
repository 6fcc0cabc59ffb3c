package flow

// CompiledGraph is an immutable, executable graph.
// It is created by calling Compile() on a Graph builder.
//
// CompiledGraph is thread-safe and can be used concurrently for multiple
// Run() calls. The graph structure cannot be modified after compilation.
// Nodes hold no per-conversation state; everything a run needs travels in
// the state value.
type CompiledGraph[S, D any] struct {
	merge            MergeFunc[S, D]
	nodes            map[string]node[S, D]
	edges            map[string][]string
	conditionalEdges map[string]conditionalEdge[S]
	entryPoint       string
	isConditional    map[string]bool
	shortCircuit     func(S) bool
	recover          func(S, error) D
}

// EntryPoint returns the entry node ID.
func (cg *CompiledGraph[S, D]) EntryPoint() string {
	return cg.entryPoint
}

// NodeIDs returns all node identifiers in the graph.
// The order is not guaranteed.
func (cg *CompiledGraph[S, D]) NodeIDs() []string {
	ids := make([]string, 0, len(cg.nodes))
	for id := range cg.nodes {
		ids = append(ids, id)
	}
	return ids
}

// HasNode checks if a node exists in the graph.
func (cg *CompiledGraph[S, D]) HasNode(id string) bool {
	_, exists := cg.nodes[id]
	return exists
}

// NodeKind returns the kind of the named node and whether it exists.
func (cg *CompiledGraph[S, D]) NodeKind(id string) (Kind, bool) {
	n, exists := cg.nodes[id]
	return n.kind, exists
}

// Successors returns the node IDs reachable from the given node in one
// step, via its simple edges or its conditional mapping targets.
// Returns nil for END or unknown nodes.
func (cg *CompiledGraph[S, D]) Successors(id string) []string {
	if id == END {
		return nil
	}

	var out []string
	out = append(out, cg.edges[id]...)
	if ce, ok := cg.conditionalEdges[id]; ok {
		seen := make(map[string]bool, len(out))
		for _, t := range out {
			seen[t] = true
		}
		for _, t := range ce.targets {
			if !seen[t] {
				seen[t] = true
				out = append(out, t)
			}
		}
	}
	return out
}

// IsConditional returns true if the node has a conditional edge.
func (cg *CompiledGraph[S, D]) IsConditional(id string) bool {
	return cg.isConditional[id]
}

// getNode returns the node for the given ID.
// Used internally by the executor.
func (cg *CompiledGraph[S, D]) getNode(id string) (node[S, D], bool) {
	n, exists := cg.nodes[id]
	return n, exists
}

// getRouter returns the conditional edge for the given node.
// Used internally by the executor.
func (cg *CompiledGraph[S, D]) getRouter(id string) (conditionalEdge[S], bool) {
	ce, exists := cg.conditionalEdges[id]
	return ce, exists
}

// getEdges returns the simple edge targets for the given node.
// Used internally by the executor.
func (cg *CompiledGraph[S, D]) getEdges(id string) []string {
	return cg.edges[id]
}
