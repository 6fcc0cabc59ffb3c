// Package observability provides production-grade observability for the
// flow executor: structured logging, metrics, and distributed tracing.
//
// Features:
//   - Structured logging via slog (Go stdlib)
//   - Metrics via OpenTelemetry
//   - Tracing via OpenTelemetry
//
// All features are opt-in and have no-op implementations when disabled.
package observability

import (
	"log/slog"
	"time"
)

// LogRunStart logs the start of an executor pass.
func LogRunStart(logger *slog.Logger, threadID string) {
	if logger == nil {
		return
	}
	logger.Info("run starting",
		slog.String("thread_id", threadID),
	)
}

// LogRunComplete logs successful run completion.
func LogRunComplete(logger *slog.Logger, threadID string, durationMs float64, nodeCount int) {
	if logger == nil {
		return
	}
	logger.Info("run completed",
		slog.String("thread_id", threadID),
		slog.Float64("duration_ms", durationMs),
		slog.Int("nodes_executed", nodeCount),
	)
}

// LogRunError logs run failure.
func LogRunError(logger *slog.Logger, threadID string, err error, durationMs float64, lastNode string) {
	if logger == nil {
		return
	}
	logger.Error("run failed",
		slog.String("thread_id", threadID),
		slog.String("error", err.Error()),
		slog.Float64("duration_ms", durationMs),
		slog.String("last_node", lastNode),
	)
}

// LogNodeStart logs node execution start.
func LogNodeStart(logger *slog.Logger, nodeID, kind string) {
	if logger == nil {
		return
	}
	logger.Debug("node starting",
		slog.String("node_id", nodeID),
		slog.String("kind", kind),
	)
}

// LogNodeComplete logs successful node completion.
func LogNodeComplete(logger *slog.Logger, nodeID string, durationMs float64) {
	if logger == nil {
		return
	}
	logger.Debug("node completed",
		slog.String("node_id", nodeID),
		slog.Float64("duration_ms", durationMs),
	)
}

// LogNodeError logs node execution error.
func LogNodeError(logger *slog.Logger, nodeID string, err error) {
	if logger == nil {
		return
	}
	logger.Error("node failed",
		slog.String("node_id", nodeID),
		slog.String("error", err.Error()),
	)
}

// LogNodeRecovered logs a node failure that was converted into a safe
// reply instead of aborting the run.
func LogNodeRecovered(logger *slog.Logger, nodeID string, err error) {
	if logger == nil {
		return
	}
	logger.Warn("node failure recovered",
		slog.String("node_id", nodeID),
		slog.String("error", err.Error()),
	)
}

// LogSuspend logs a run suspending at an interrupt node.
func LogSuspend(logger *slog.Logger, nodeID, token string) {
	if logger == nil {
		return
	}
	logger.Info("run suspended",
		slog.String("node_id", nodeID),
		slog.String("interrupt_id", token),
	)
}

// LogResume logs a run resuming at an interrupt node.
func LogResume(logger *slog.Logger, nodeID, token string) {
	if logger == nil {
		return
	}
	logger.Info("run resumed",
		slog.String("node_id", nodeID),
		slog.String("interrupt_id", token),
	)
}

// LogCheckpoint logs checkpoint creation.
func LogCheckpoint(logger *slog.Logger, threadID string, sizeBytes int) {
	if logger == nil {
		return
	}
	logger.Debug("checkpoint saved",
		slog.String("thread_id", threadID),
		slog.Int("size_bytes", sizeBytes),
	)
}

// LogCheckpointError logs checkpoint failure.
func LogCheckpointError(logger *slog.Logger, threadID string, op string, err error) {
	if logger == nil {
		return
	}
	logger.Warn("checkpoint failed",
		slog.String("thread_id", threadID),
		slog.String("operation", op),
		slog.String("error", err.Error()),
	)
}

// TimedOperation measures the duration of an operation.
// Returns a function that, when called, returns the elapsed time in milliseconds.
func TimedOperation() func() float64 {
	start := time.Now()
	return func() float64 {
		return float64(time.Since(start).Milliseconds())
	}
}
