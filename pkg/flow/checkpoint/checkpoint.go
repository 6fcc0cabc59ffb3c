package checkpoint

import (
	"encoding/json"
	"time"
)

// Version is the current checkpoint format version.
// Increment when making breaking changes to checkpoint structure.
const Version = 1

// Status records how the executor pass that wrote the checkpoint ended.
type Status string

const (
	// StatusCompleted means the pass ran to END and the state carries a
	// final output.
	StatusCompleted Status = "completed"
	// StatusSuspended means the pass stopped at an Interrupt node and is
	// awaiting a resume value. NodeID is the interrupt node and
	// InterruptID is the single-use resume token.
	StatusSuspended Status = "suspended"
)

// Checkpoint is the persisted snapshot of one thread's execution state.
// It contains everything needed to continue the conversation: the full
// serialized state plus the position the next pass starts from.
// Checkpoints are never mutated in place - each save appends a new
// version, so a partial failure cannot corrupt an existing one.
type Checkpoint struct {
	// Metadata
	Version   int       `json:"version"`
	ThreadID  string    `json:"thread_id"`
	Timestamp time.Time `json:"timestamp"`

	// Execution state
	State  json.RawMessage `json:"state"`
	NodeID string          `json:"node_id"`
	Status Status          `json:"status"`

	// InterruptID is the resume token for a suspended checkpoint.
	// Empty for completed checkpoints.
	InterruptID string `json:"interrupt_id,omitempty"`
}

// Marshal serializes a checkpoint to JSON.
func (c *Checkpoint) Marshal() ([]byte, error) {
	return json.Marshal(c)
}

// Unmarshal deserializes a checkpoint from JSON.
func Unmarshal(data []byte) (*Checkpoint, error) {
	var c Checkpoint
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// New creates a completed checkpoint for a thread.
// State must already be JSON-serialized.
func New(threadID string, state []byte, nodeID string) *Checkpoint {
	return &Checkpoint{
		Version:   Version,
		ThreadID:  threadID,
		Timestamp: time.Now().UTC(),
		State:     state,
		NodeID:    nodeID,
		Status:    StatusCompleted,
	}
}

// NewSuspended creates a suspended checkpoint positioned at an Interrupt
// node, carrying the single-use resume token.
func NewSuspended(threadID string, state []byte, nodeID, interruptID string) *Checkpoint {
	return &Checkpoint{
		Version:     Version,
		ThreadID:    threadID,
		Timestamp:   time.Now().UTC(),
		State:       state,
		NodeID:      nodeID,
		Status:      StatusSuspended,
		InterruptID: interruptID,
	}
}
