package flow

import (
	"github.com/carebridge/carebridge/pkg/flow/checkpoint"
	"github.com/carebridge/carebridge/pkg/flow/observability"
)

// runConfig holds configuration for graph execution.
type runConfig struct {
	maxIterations   int
	checkpointStore checkpoint.Store
	threadID        string
	graphName       string

	metrics        observability.MetricsRecorder
	spans          observability.SpanManager
	tracingEnabled bool

	// resume bookkeeping, set by Resume() only
	resumeNode  string
	resumeValue *string
}

// defaultRunConfig returns the default execution configuration.
func defaultRunConfig() runConfig {
	return runConfig{
		maxIterations: 100,
		graphName:     "flow",
		metrics:       observability.NoopMetrics{},
		spans:         observability.NoopSpanManager{},
	}
}

// RunOption configures execution behavior.
type RunOption func(*runConfig)

// WithMaxIterations sets the maximum number of node executions.
// Default: 100
//
// This prevents routing loops from hanging forever. If a run exceeds
// this limit, Run returns a MaxIterationsError.
func WithMaxIterations(n int) RunOption {
	return func(c *runConfig) {
		if n > 0 {
			c.maxIterations = n
		}
	}
}

// WithCheckpointing enables checkpoint persistence for the run.
// A checkpoint is written when the run suspends at an Interrupt node
// (before the Suspended outcome is returned) and when it terminates.
// The thread ID keys the checkpoint lineage.
func WithCheckpointing(store checkpoint.Store, threadID string) RunOption {
	return func(c *runConfig) {
		c.checkpointStore = store
		c.threadID = threadID
	}
}

// WithGraphName sets the graph name used in run spans and logs.
func WithGraphName(name string) RunOption {
	return func(c *runConfig) {
		if name != "" {
			c.graphName = name
		}
	}
}

// WithMetrics sets the metrics recorder for the run.
// Default: no-op.
func WithMetrics(m observability.MetricsRecorder) RunOption {
	return func(c *runConfig) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithTracing enables OpenTelemetry spans for the run and its nodes.
func WithTracing(spans observability.SpanManager) RunOption {
	return func(c *runConfig) {
		if spans != nil {
			c.spans = spans
			c.tracingEnabled = true
		}
	}
}
