// Package checkpoint provides durable, thread-keyed checkpoint storage.
package checkpoint

import (
	"errors"
	"time"
)

// Store persists checkpoint lineages keyed by thread ID.
// Implementations must be safe for concurrent use across threads;
// same-thread serialization is the caller's responsibility.
type Store interface {
	// Save appends a new checkpoint version for a thread.
	// Implementations may prune old versions beyond a retention bound,
	// but must always retain the latest.
	Save(threadID string, data []byte) error

	// Latest retrieves the most recent checkpoint for a thread.
	// Returns ErrNotFound if the thread has no checkpoints.
	Latest(threadID string) ([]byte, error)

	// List returns checkpoint metadata for a thread, oldest first.
	// Returns empty slice (not error) if the thread has no checkpoints.
	List(threadID string) ([]Info, error)

	// DeleteThread removes all checkpoints for a thread.
	// Returns nil if the thread has no checkpoints.
	DeleteThread(threadID string) error

	// Close releases any resources (connections, files).
	Close() error
}

// Info provides metadata without loading full state.
type Info struct {
	ThreadID  string
	Sequence  int
	Timestamp time.Time
	Size      int64
}

// Sentinel errors for checkpoint operations.
var (
	// ErrNotFound indicates a thread has no checkpoints.
	ErrNotFound = errors.New("checkpoint not found")

	// ErrStoreClosed indicates the store has been closed.
	ErrStoreClosed = errors.New("checkpoint store closed")
)
