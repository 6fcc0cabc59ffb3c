package flow

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/carebridge/carebridge/pkg/flow/checkpoint"
	"github.com/carebridge/carebridge/pkg/flow/observability"
)

// Resume continues a suspended run from its persisted checkpoint.
//
// The token must match the InterruptID recorded at suspension time, and
// the thread's latest checkpoint must still be suspended. A token is
// single-use: once the interrupt resolves the latest checkpoint is a
// completed one, and any later Resume with the same token fails with
// ErrInterruptResolved. A Resume against a thread with no suspension at
// all fails with ErrNoSuspension.
//
// The resume value is handed verbatim to the interrupt node's resume
// function; interpretation (affirmative vs. decline) is the node's job.
//
// Example:
//
//	outcome, err := compiled.Resume(ctx, store, threadID, token, "yes")
func (cg *CompiledGraph[S, D]) Resume(ctx Context, store checkpoint.Store, threadID, token, value string, opts ...RunOption) (Outcome[S], error) {
	var zero Outcome[S]

	if ctx == nil {
		return zero, ErrNilContext
	}
	if store == nil {
		return zero, errors.New("flow: resume requires a checkpoint store")
	}
	if threadID == "" {
		return zero, ErrThreadIDRequired
	}

	data, err := store.Latest(threadID)
	if err != nil {
		if errors.Is(err, checkpoint.ErrNotFound) {
			return zero, fmt.Errorf("%w: thread %s", ErrNoSuspension, threadID)
		}
		return zero, &CheckpointError{Op: "load", Err: err}
	}

	cp, err := checkpoint.Unmarshal(data)
	if err != nil {
		return zero, &CheckpointError{Op: "unmarshal", Err: err}
	}
	if cp.Version != checkpoint.Version {
		return zero, fmt.Errorf("%w: got %d, want %d", ErrCheckpointVersionMismatch, cp.Version, checkpoint.Version)
	}

	// A completed latest checkpoint means the interrupt already
	// resolved; replaying the token must not re-execute the action.
	if cp.Status != checkpoint.StatusSuspended {
		return zero, fmt.Errorf("%w: thread %s", ErrInterruptResolved, threadID)
	}
	if cp.InterruptID != token {
		return zero, fmt.Errorf("%w: stale token for thread %s", ErrInterruptResolved, threadID)
	}

	n, exists := cg.getNode(cp.NodeID)
	if !exists {
		return zero, fmt.Errorf("%w: %s", ErrNodeNotFound, cp.NodeID)
	}
	if n.kind != KindInterrupt {
		return zero, fmt.Errorf("%w: %s", ErrNotInterrupt, cp.NodeID)
	}

	var state S
	if err := json.Unmarshal(cp.State, &state); err != nil {
		return zero, fmt.Errorf("%w: %v", ErrDeserializeState, err)
	}

	cfg := defaultRunConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg.checkpointStore = store
	cfg.threadID = threadID
	cfg.resumeNode = cp.NodeID
	cfg.resumeValue = &value

	observability.LogResume(ctx.Logger(), cp.NodeID, token)

	return cg.run(ctx, state, cp.NodeID, &cfg)
}
