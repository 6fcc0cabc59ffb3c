package flow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/carebridge/carebridge/pkg/flow/checkpoint"
	"github.com/carebridge/carebridge/pkg/flow/observability"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
)

// Interruption describes a run suspended at an Interrupt node.
// The token is single-use: it must accompany the next Resume call for
// this thread and becomes invalid the moment the interrupt resolves.
type Interruption struct {
	// Token is the opaque resume token correlating a later confirmation
	// call to this specific suspension.
	Token string
	// NodeID is the Interrupt node the run stopped at.
	NodeID string
	// Payload is the suspension payload produced by the node's suspend
	// function (e.g., a booking proposal awaiting confirmation).
	Payload any
}

// Outcome is the result of one executor pass. Exactly one of two things
// holds at the end of any pass: the state carries a final output
// (Interrupt == nil), or the run is suspended (Interrupt != nil).
type Outcome[S any] struct {
	State     S
	Interrupt *Interruption
}

// Suspended reports whether the pass stopped at an Interrupt node.
func (o Outcome[S]) Suspended() bool {
	return o.Interrupt != nil
}

// Run executes the graph with the given initial state.
//
// On success, returns the outcome: either a completed pass (state holds
// the final output) or a suspension awaiting a resume value. On error,
// the outcome still carries the state at the point of failure (useful
// for debugging).
//
// Execution flow:
//  1. Start at the entry point node
//  2. Check for cancellation
//  3. Execute the current node and merge its delta into the state
//  4. Gate short-circuit / interrupt suspension, if applicable
//  5. Determine the next node (via simple or conditional edge)
//  6. Repeat until END is reached, the run suspends, or an error occurs
//
// Example:
//
//	ctx := flow.NewContext(context.Background())
//	outcome, err := compiled.Run(ctx, initialState)
//	if outcome.Suspended() {
//	    // hand outcome.Interrupt.Token to the caller
//	}
func (cg *CompiledGraph[S, D]) Run(ctx Context, state S, opts ...RunOption) (Outcome[S], error) {
	if ctx == nil {
		return Outcome[S]{State: state}, ErrNilContext
	}

	cfg := defaultRunConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	// Validate checkpointing configuration
	if cfg.checkpointStore != nil && cfg.threadID == "" {
		return Outcome[S]{State: state}, ErrThreadIDRequired
	}

	return cg.run(ctx, state, cg.entryPoint, &cfg)
}

// run executes the graph from startNode with run-level observability.
// Shared by Run and Resume.
func (cg *CompiledGraph[S, D]) run(ctx Context, state S, startNode string, cfg *runConfig) (outcome Outcome[S], runErr error) {
	threadID := cfg.threadID
	if threadID == "" {
		threadID = ctx.ThreadID()
	}

	startTime := time.Now()
	observability.LogRunStart(ctx.Logger(), threadID)

	// Start run span if tracing enabled
	var execCtx context.Context = ctx
	var runSpan trace.Span
	if cfg.tracingEnabled {
		execCtx, runSpan = cfg.spans.StartRunSpan(ctx, cfg.graphName, threadID)
		defer func() {
			cfg.spans.EndSpanWithError(runSpan, runErr)
		}()
	}

	var nodeCount int
	outcome, nodeCount, runErr = cg.runFrom(execCtx, ctx, state, startNode, cfg)

	duration := time.Since(startTime)
	durationMs := float64(duration.Milliseconds())
	cfg.metrics.RecordRun(ctx, runErr == nil, duration)

	if runErr != nil {
		lastNode := ""
		var nodeErr *NodeError
		var maxErr *MaxIterationsError
		var cancelErr *CancellationError
		switch {
		case errors.As(runErr, &nodeErr):
			lastNode = nodeErr.NodeID
		case errors.As(runErr, &maxErr):
			lastNode = maxErr.LastNodeID
		case errors.As(runErr, &cancelErr):
			lastNode = cancelErr.NodeID
		}
		observability.LogRunError(ctx.Logger(), threadID, runErr, durationMs, lastNode)
	} else {
		observability.LogRunComplete(ctx.Logger(), threadID, durationMs, nodeCount)
	}

	return outcome, runErr
}

// runFrom is the executor loop. tracingCtx carries span context; fgCtx is
// the flow Context. Returns the outcome, node count, and any error.
func (cg *CompiledGraph[S, D]) runFrom(tracingCtx context.Context, fgCtx Context, state S, startNode string, cfg *runConfig) (Outcome[S], int, error) {
	current := startNode
	iterations := 0
	nodeCount := 0
	resumePending := cfg.resumeValue != nil

	for current != END {
		iterations++
		if iterations > cfg.maxIterations {
			return Outcome[S]{State: state}, nodeCount, &MaxIterationsError{
				Max:        cfg.maxIterations,
				LastNodeID: current,
				State:      state,
			}
		}

		// Check for cancellation before executing node
		select {
		case <-fgCtx.Done():
			return Outcome[S]{State: state}, nodeCount, &CancellationError{
				NodeID:       current,
				State:        state,
				Cause:        fgCtx.Err(),
				WasExecuting: false,
			}
		default:
		}

		n, exists := cg.getNode(current)
		if !exists {
			// This shouldn't happen if compilation was successful
			return Outcome[S]{State: state}, nodeCount, &NodeError{
				NodeID: current,
				Op:     "lookup",
				Err:    fmt.Errorf("node not found: %s", current),
			}
		}

		// Suspend: an Interrupt node without a pending resume value stops
		// the loop. The checkpoint is persisted before the token is
		// handed out, so a resume can always find the suspension.
		if n.kind == KindInterrupt && !(resumePending && current == cfg.resumeNode) {
			nodeCtx := cg.nodeContext(fgCtx, current)
			payload := n.suspend(nodeCtx, state)
			token := uuid.New().String()

			if cfg.checkpointStore != nil {
				if err := cg.saveCheckpoint(fgCtx, cfg, state, current, token, checkpoint.StatusSuspended); err != nil {
					return Outcome[S]{State: state}, nodeCount, err
				}
			}

			observability.LogSuspend(fgCtx.Logger(), current, token)
			cfg.metrics.RecordSuspension(fgCtx, current)

			return Outcome[S]{
				State:     state,
				Interrupt: &Interruption{Token: token, NodeID: current, Payload: payload},
			}, nodeCount, nil
		}

		observability.LogNodeStart(fgCtx.Logger(), current, n.kind.String())

		// Start node span if tracing enabled
		nodeTracingCtx := tracingCtx
		var nodeSpan trace.Span
		if cfg.tracingEnabled {
			nodeTracingCtx, nodeSpan = cfg.spans.StartNodeSpan(tracingCtx, current)
		}

		nodeStart := time.Now()

		var delta D
		var nodeErr error
		if n.kind == KindInterrupt {
			delta, nodeErr = cg.executeResume(fgCtx, current, n, state, *cfg.resumeValue)
			resumePending = false
			cfg.metrics.RecordResume(fgCtx, current)
		} else {
			delta, nodeErr = cg.executeNode(fgCtx, current, n, state)
		}

		nodeDuration := time.Since(nodeStart)
		nodeDurationMs := float64(nodeDuration.Milliseconds())

		cfg.metrics.RecordNodeExecution(nodeTracingCtx, current, n.kind.String(), nodeDuration, nodeErr)
		if cfg.tracingEnabled {
			cfg.spans.EndSpanWithError(nodeSpan, nodeErr)
		}

		if nodeErr != nil {
			// Cancellation is never recovered: the state stays at its
			// last pre-node value and no checkpoint is written, so a
			// timed-out turn cannot commit a partially-applied merge.
			if errors.Is(nodeErr, context.Canceled) || errors.Is(nodeErr, context.DeadlineExceeded) {
				observability.LogNodeError(fgCtx.Logger(), current, nodeErr)
				return Outcome[S]{State: state}, nodeCount, &CancellationError{
					NodeID:       current,
					State:        state,
					Cause:        nodeErr,
					WasExecuting: true,
				}
			}

			if cg.recover == nil {
				observability.LogNodeError(fgCtx.Logger(), current, nodeErr)
				return Outcome[S]{State: state}, nodeCount, nodeErr
			}

			// Local recovery: convert the failure into a safe-reply delta
			// and terminate, so every turn yields some reply.
			observability.LogNodeRecovered(fgCtx.Logger(), current, nodeErr)
			state = cg.merge(state, cg.recover(state, nodeErr))
			nodeCount++
			current = END
			continue
		}

		state = cg.merge(state, delta)
		observability.LogNodeComplete(fgCtx.Logger(), current, nodeDurationMs)
		nodeCount++

		// Gate short-circuit: a gate whose merge produced a final output
		// transitions directly to END, bypassing its normal edges.
		if n.kind == KindGate && cg.shortCircuit != nil && cg.shortCircuit(state) {
			current = END
			continue
		}

		next, err := cg.nextNode(fgCtx, state, current)
		if err != nil {
			return Outcome[S]{State: state}, nodeCount, err
		}

		current = next
	}

	// Terminal checkpoint: the pass completed, persist the new state
	// wholesale so the next turn observes it.
	if cfg.checkpointStore != nil {
		if err := cg.saveCheckpoint(fgCtx, cfg, state, END, "", checkpoint.StatusCompleted); err != nil {
			return Outcome[S]{State: state}, nodeCount, err
		}
	}

	return Outcome[S]{State: state}, nodeCount, nil
}

// saveCheckpoint serializes the state and persists a new checkpoint
// version. Checkpoint failures are fatal: a suspension token must never
// be handed out without a durable checkpoint behind it.
func (cg *CompiledGraph[S, D]) saveCheckpoint(ctx Context, cfg *runConfig, state S, nodeID, interruptID string, status checkpoint.Status) error {
	stateBytes, err := json.Marshal(state)
	if err != nil {
		return &CheckpointError{NodeID: nodeID, Op: "serialize", Err: fmt.Errorf("%w: %v", ErrSerializeState, err)}
	}

	var cp *checkpoint.Checkpoint
	if status == checkpoint.StatusSuspended {
		cp = checkpoint.NewSuspended(cfg.threadID, stateBytes, nodeID, interruptID)
	} else {
		cp = checkpoint.New(cfg.threadID, stateBytes, nodeID)
	}

	data, err := cp.Marshal()
	if err != nil {
		return &CheckpointError{NodeID: nodeID, Op: "marshal", Err: err}
	}

	if err := cfg.checkpointStore.Save(cfg.threadID, data); err != nil {
		observability.LogCheckpointError(ctx.Logger(), cfg.threadID, "save", err)
		return &CheckpointError{NodeID: nodeID, Op: "save", Err: err}
	}

	observability.LogCheckpoint(ctx.Logger(), cfg.threadID, len(data))
	cfg.metrics.RecordCheckpoint(ctx, cfg.threadID, int64(len(data)))

	return nil
}

// nodeContext derives a per-node context with an enriched logger.
func (cg *CompiledGraph[S, D]) nodeContext(ctx Context, nodeID string) Context {
	if ec, ok := ctx.(*executionContext); ok {
		return ec.withNodeID(nodeID)
	}
	return ctx
}

// executeNode executes a single node with panic recovery.
// Returns the delta and any error (including wrapped panics).
func (cg *CompiledGraph[S, D]) executeNode(ctx Context, nodeID string, n node[S, D], state S) (delta D, err error) {
	nodeCtx := cg.nodeContext(ctx, nodeID)

	// Panic recovery
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{
				NodeID: nodeID,
				Value:  r,
				Stack:  string(debug.Stack()),
			}
		}
	}()

	delta, err = n.fn(nodeCtx, state)
	if err != nil {
		return delta, &NodeError{
			NodeID: nodeID,
			Op:     "execute",
			Err:    err,
		}
	}

	return delta, nil
}

// executeResume runs the resume path of an Interrupt node with panic recovery.
func (cg *CompiledGraph[S, D]) executeResume(ctx Context, nodeID string, n node[S, D], state S, value string) (delta D, err error) {
	nodeCtx := cg.nodeContext(ctx, nodeID)

	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{
				NodeID: nodeID,
				Value:  r,
				Stack:  string(debug.Stack()),
			}
		}
	}()

	delta, err = n.resume(nodeCtx, state, value)
	if err != nil {
		return delta, &NodeError{
			NodeID: nodeID,
			Op:     "resume",
			Err:    err,
		}
	}

	return delta, nil
}

// nextNode determines the next node to execute.
// Checks conditional edges first, then simple edges.
func (cg *CompiledGraph[S, D]) nextNode(ctx Context, state S, current string) (string, error) {
	// Check for conditional edge first
	if ce, exists := cg.getRouter(current); exists {
		routerCtx := cg.nodeContext(ctx, current)

		key := ce.router(routerCtx, state)

		if key == "" {
			return "", &RouterError{
				FromNode: current,
				Returned: key,
				Err:      ErrInvalidRouterResult,
			}
		}

		// Map the routing key to its successor. An unmapped key is a
		// configuration bug surfaced as a fatal error, never defaulted.
		next, ok := ce.targets[key]
		if !ok {
			return "", &RouterError{
				FromNode: current,
				Returned: key,
				Err:      ErrRouterKeyUnmapped,
			}
		}

		return next, nil
	}

	// Use simple edges
	edges := cg.getEdges(current)
	if len(edges) == 0 {
		// No outgoing edges - this shouldn't happen if compilation was successful
		return "", &NodeError{
			NodeID: current,
			Op:     "routing",
			Err:    fmt.Errorf("%w: %s", ErrNoOutgoingEdge, current),
		}
	}

	// For simple edges, take the first one
	return edges[0], nil
}
