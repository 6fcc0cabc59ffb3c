package flow

import (
	"fmt"
	"strings"
	"sync"
)

// Graph is a mutable builder for creating execution graphs.
// Use NewGraph to create a new graph, then chain AddNode, AddEdge,
// and SetEntry calls to define the workflow.
//
// Graph is NOT thread-safe during building. Use a single goroutine
// to construct the graph, then call Compile() to create an immutable
// CompiledGraph that can be safely shared.
//
// Example:
//
//	graph := flow.NewGraph[State, Delta](Merge).
//	    AddGate("guard_in", guardIn).
//	    AddAgent("respond", respond).
//	    AddEdge("guard_in", "respond").
//	    AddEdge("respond", flow.END).
//	    SetEntry("guard_in")
//
//	compiled, err := graph.Compile()
type Graph[S, D any] struct {
	mu               sync.RWMutex
	merge            MergeFunc[S, D]
	nodes            map[string]node[S, D]
	edges            map[string][]string
	conditionalEdges map[string]conditionalEdge[S]
	entryPoint       string
	shortCircuit     func(S) bool
	recover          func(S, error) D
}

// conditionalEdge pairs a router with its key-to-node mapping.
// Every key the router can return must appear in targets; targets are
// validated against the node set at Compile time.
type conditionalEdge[S any] struct {
	router  RouterFunc[S]
	targets map[string]string
}

// NewGraph creates a new graph builder for state type S and delta type D.
// The merge function defines how node deltas are folded into the state;
// it is applied by the executor after every node.
func NewGraph[S, D any](merge MergeFunc[S, D]) *Graph[S, D] {
	if merge == nil {
		panic("flow: merge function cannot be nil")
	}
	return &Graph[S, D]{
		merge:            merge,
		nodes:            make(map[string]node[S, D]),
		edges:            make(map[string][]string),
		conditionalEdges: make(map[string]conditionalEdge[S]),
	}
}

// AddNode adds a named Transform node to the graph.
// Returns the graph for method chaining.
//
// Panics if:
//   - id is empty
//   - id is the reserved word "END" or "__end__" (case-insensitive)
//   - id contains whitespace (space, tab, newline)
//   - fn is nil
//   - id already exists in the graph
func (g *Graph[S, D]) AddNode(id string, fn NodeFunc[S, D]) *Graph[S, D] {
	g.add(id, node[S, D]{kind: KindTransform, fn: fn})
	return g
}

// AddAgent adds a named Agent node. Agent nodes behave like Transform
// nodes but are tagged for logging and metrics, since their execution
// time is dominated by an external collaborator.
func (g *Graph[S, D]) AddAgent(id string, fn NodeFunc[S, D]) *Graph[S, D] {
	g.add(id, node[S, D]{kind: KindAgent, fn: fn})
	return g
}

// AddGate adds a named Gate node. After a Gate's delta is merged, the
// executor evaluates the graph's short-circuit predicate and jumps
// straight to END when it holds, bypassing the node's normal edges.
func (g *Graph[S, D]) AddGate(id string, fn NodeFunc[S, D]) *Graph[S, D] {
	g.add(id, node[S, D]{kind: KindGate, fn: fn})
	return g
}

// AddInterrupt adds a named Interrupt node. When the executor reaches an
// Interrupt node it calls suspend to obtain the suspension payload,
// persists a checkpoint, and returns a Suspended outcome. A later Resume
// call re-enters at the same node and runs resume with the caller's value.
func (g *Graph[S, D]) AddInterrupt(id string, suspend SuspendFunc[S], resume ResumeFunc[S, D]) *Graph[S, D] {
	if suspend == nil || resume == nil {
		panic("flow: interrupt suspend and resume functions cannot be nil")
	}
	g.add(id, node[S, D]{kind: KindInterrupt, suspend: suspend, resume: resume})
	return g
}

// add validates and registers a node. Registration mistakes are
// programmer errors, so these panic rather than return an error.
func (g *Graph[S, D]) add(id string, n node[S, D]) {
	if id == "" {
		panic("flow: node ID cannot be empty")
	}

	// Check reserved words (case-insensitive)
	idLower := strings.ToLower(id)
	if idLower == "end" || idLower == "__end__" {
		panic("flow: node ID cannot be reserved word 'END'")
	}

	if strings.ContainsAny(id, " \t\n\r") {
		panic("flow: node ID cannot contain whitespace")
	}

	if n.kind != KindInterrupt && n.fn == nil {
		panic("flow: node function cannot be nil")
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.nodes[id]; exists {
		panic(fmt.Sprintf("flow: duplicate node ID: %s", id))
	}

	g.nodes[id] = n
}

// AddEdge adds an unconditional edge from one node to another.
// The target can be a node ID or flow.END.
// Returns the graph for method chaining.
//
// Edge validation happens at Compile() time, not here.
// This allows edges to be added in any order.
func (g *Graph[S, D]) AddEdge(from, to string) *Graph[S, D] {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.edges[from] = append(g.edges[from], to)
	return g
}

// AddConditionalEdge adds a conditional edge where a RouterFunc picks a
// key and the targets mapping resolves it to the next node. Targets may
// map to flow.END. Every mapping target is validated at Compile() time;
// a router returning a key absent from the mapping is a fatal runtime
// configuration error (RouterError), never silently defaulted.
func (g *Graph[S, D]) AddConditionalEdge(from string, router RouterFunc[S], targets map[string]string) *Graph[S, D] {
	if router == nil {
		panic("flow: router function cannot be nil")
	}
	if len(targets) == 0 {
		panic("flow: conditional edge requires a non-empty target mapping")
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.conditionalEdges[from]; exists {
		panic(fmt.Sprintf("flow: duplicate conditional edge from: %s", from))
	}

	copied := make(map[string]string, len(targets))
	for k, v := range targets {
		copied[k] = v
	}
	g.conditionalEdges[from] = conditionalEdge[S]{router: router, targets: copied}
	return g
}

// SetEntry sets the entry point node for execution.
// Returns the graph for method chaining.
func (g *Graph[S, D]) SetEntry(id string) *Graph[S, D] {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.entryPoint = id
	return g
}

// SetShortCircuit installs the predicate evaluated after every Gate
// node's merge. When it returns true the executor transitions directly
// to END. Typically it reports whether the state carries a final output.
func (g *Graph[S, D]) SetShortCircuit(pred func(S) bool) *Graph[S, D] {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.shortCircuit = pred
	return g
}

// SetRecovery installs the node-failure handler. When a node returns an
// error or panics, the executor calls the handler with the pre-node state
// and the failure, merges the returned delta, and transitions to END
// instead of propagating the error. Without a handler, node failures
// abort the run.
func (g *Graph[S, D]) SetRecovery(fn func(S, error) D) *Graph[S, D] {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.recover = fn
	return g
}
