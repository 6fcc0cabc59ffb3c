package flow

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

// Context provides execution context to nodes.
// It extends context.Context with flow-specific metadata.
//
// Context is immutable after creation. The executor creates derived
// contexts for each node with updated NodeID and enriched logger.
// Collaborators (LLM clients, tools, stores) are NOT carried on the
// context: they are injected into node constructors at wiring time.
type Context interface {
	context.Context

	// Logger returns the configured logger, enriched with thread and node context.
	// Never returns nil - defaults to slog.Default() if not configured.
	Logger() *slog.Logger

	// ThreadID returns the conversation thread this run belongs to.
	// Auto-generated if not configured.
	ThreadID() string

	// NodeID returns the current node being executed.
	// Empty string before execution starts.
	NodeID() string
}

// executionContext is the internal implementation of Context.
type executionContext struct {
	context.Context

	logger   *slog.Logger
	threadID string
	nodeID   string
}

// Logger returns the configured logger.
func (c *executionContext) Logger() *slog.Logger {
	return c.logger
}

// ThreadID returns the thread identifier.
func (c *executionContext) ThreadID() string {
	return c.threadID
}

// NodeID returns the current node identifier.
func (c *executionContext) NodeID() string {
	return c.nodeID
}

// ContextOption configures a Context.
type ContextOption func(*executionContext)

// WithLogger sets the logger for the context.
// The logger will be enriched with thread_id and node_id during execution.
func WithLogger(logger *slog.Logger) ContextOption {
	return func(c *executionContext) {
		c.logger = logger
	}
}

// WithThreadID sets the thread identifier for the context.
// If not set, a UUID will be auto-generated.
func WithThreadID(id string) ContextOption {
	return func(c *executionContext) {
		c.threadID = id
	}
}

// NewContext creates an execution context from a standard context.
// The returned Context wraps the provided context.Context and adds
// flow-specific metadata.
//
// Example:
//
//	ctx := flow.NewContext(context.Background(),
//	    flow.WithLogger(myLogger),
//	    flow.WithThreadID("thread-123"))
func NewContext(ctx context.Context, opts ...ContextOption) Context {
	ec := &executionContext{
		Context:  ctx,
		logger:   slog.Default(),
		threadID: uuid.New().String(),
	}

	for _, opt := range opts {
		opt(ec)
	}

	return ec
}

// withNodeID returns a new context with the given node ID set.
// Used internally by the executor to enrich the context per-node.
func (c *executionContext) withNodeID(nodeID string) *executionContext {
	return &executionContext{
		Context:  c.Context,
		logger:   c.logger.With("thread_id", c.threadID, "node_id", nodeID),
		threadID: c.threadID,
		nodeID:   nodeID,
	}
}
