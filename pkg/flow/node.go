package flow

// END is the terminal node identifier.
// Use this as an edge target to indicate the graph should terminate.
const END = "__end__"

// Kind classifies a node's role in the graph. The executor gives Gate and
// Interrupt nodes special treatment; Transform and Agent differ only in
// intent (Agent nodes delegate to an external collaborator).
type Kind int

const (
	// KindTransform is a pure state-to-state computation.
	KindTransform Kind = iota
	// KindAgent delegates to an external responder (LLM, search, tools).
	KindAgent
	// KindGate may short-circuit the run to END when the graph's
	// short-circuit predicate holds after the node's delta is merged.
	KindGate
	// KindInterrupt suspends the run awaiting an external resume value.
	KindInterrupt
)

// String returns the kind name for logging.
func (k Kind) String() string {
	switch k {
	case KindTransform:
		return "transform"
	case KindAgent:
		return "agent"
	case KindGate:
		return "gate"
	case KindInterrupt:
		return "interrupt"
	default:
		return "unknown"
	}
}

// NodeFunc is the signature for Transform, Agent, and Gate nodes.
// Nodes receive the execution context and the current state, and return
// a partial update (delta) that the executor merges into the state with
// the graph's MergeFunc. Nodes never mutate the state they receive.
//
// Example:
//
//	func greet(ctx flow.Context, s State) (Delta, error) {
//	    return Delta{Reply: ptr("hello")}, nil
//	}
type NodeFunc[S, D any] func(ctx Context, state S) (D, error)

// RouterFunc decides the routing key for a conditional edge.
// It is evaluated on the post-merge state and must return one of the keys
// declared in the edge's target mapping. An unmapped key is a fatal
// RouterError at runtime; mapping targets are validated at Compile time.
type RouterFunc[S any] func(ctx Context, state S) string

// SuspendFunc produces the suspension payload for an Interrupt node.
// The payload is returned to the caller alongside the resume token and
// must be serializable for transport.
type SuspendFunc[S any] func(ctx Context, state S) any

// ResumeFunc is the resume path of an Interrupt node. It receives the
// caller-supplied resume value and returns a delta like any other node.
type ResumeFunc[S, D any] func(ctx Context, state S, value string) (D, error)

// MergeFunc combines a node's delta into the state. The merge strategy is
// per-field and owned by the state's package: append-only for message
// histories, overwrite for scalars.
type MergeFunc[S, D any] func(state S, delta D) S

// node is the registered unit of work. Interrupt nodes carry suspend and
// resume functions instead of fn.
type node[S, D any] struct {
	kind    Kind
	fn      NodeFunc[S, D]
	suspend SuspendFunc[S]
	resume  ResumeFunc[S, D]
}
