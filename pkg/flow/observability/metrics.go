package observability

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MetricsRecorder records flow executor metrics.
// Use NewMetricsRecorder() for OTel metrics or NoopMetrics{} when disabled.
type MetricsRecorder interface {
	// RecordNodeExecution records a node execution with its duration and error status.
	RecordNodeExecution(ctx context.Context, nodeID, kind string, duration time.Duration, err error)

	// RecordRun records an executor pass completion.
	RecordRun(ctx context.Context, success bool, duration time.Duration)

	// RecordCheckpoint records a checkpoint save operation.
	RecordCheckpoint(ctx context.Context, threadID string, sizeBytes int64)

	// RecordSuspension records a run suspending at an interrupt node.
	RecordSuspension(ctx context.Context, nodeID string)

	// RecordResume records a run resuming at an interrupt node.
	RecordResume(ctx context.Context, nodeID string)
}

// otelMetrics implements MetricsRecorder using OpenTelemetry.
type otelMetrics struct {
	nodeExecutions metric.Int64Counter
	nodeLatency    metric.Float64Histogram
	nodeErrors     metric.Int64Counter
	runs           metric.Int64Counter
	runLatency     metric.Float64Histogram
	checkpointSize metric.Int64Histogram
	suspensions    metric.Int64Counter
	resumes        metric.Int64Counter
}

var (
	defaultMetrics     *otelMetrics
	defaultMetricsOnce sync.Once
	defaultMetricsErr  error
)

// getDefaultMetrics returns the default OTel metrics instance.
// Lazily initializes the metrics on first call.
func getDefaultMetrics() (*otelMetrics, error) {
	defaultMetricsOnce.Do(func() {
		defaultMetrics, defaultMetricsErr = newOtelMetrics()
	})
	return defaultMetrics, defaultMetricsErr
}

// newOtelMetrics creates a new OTel metrics instance.
func newOtelMetrics() (*otelMetrics, error) {
	meter := otel.Meter("flow")

	nodeExecutions, err := meter.Int64Counter("flow.node.executions",
		metric.WithDescription("Number of node executions"),
	)
	if err != nil {
		return nil, err
	}

	nodeLatency, err := meter.Float64Histogram("flow.node.latency_ms",
		metric.WithDescription("Node execution latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	nodeErrors, err := meter.Int64Counter("flow.node.errors",
		metric.WithDescription("Number of node execution errors"),
	)
	if err != nil {
		return nil, err
	}

	runs, err := meter.Int64Counter("flow.runs",
		metric.WithDescription("Number of executor passes"),
	)
	if err != nil {
		return nil, err
	}

	runLatency, err := meter.Float64Histogram("flow.run.latency_ms",
		metric.WithDescription("Executor pass latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	checkpointSize, err := meter.Int64Histogram("flow.checkpoint.size_bytes",
		metric.WithDescription("Checkpoint size in bytes"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, err
	}

	suspensions, err := meter.Int64Counter("flow.interrupt.suspensions",
		metric.WithDescription("Number of runs suspended awaiting confirmation"),
	)
	if err != nil {
		return nil, err
	}

	resumes, err := meter.Int64Counter("flow.interrupt.resumes",
		metric.WithDescription("Number of suspended runs resumed"),
	)
	if err != nil {
		return nil, err
	}

	return &otelMetrics{
		nodeExecutions: nodeExecutions,
		nodeLatency:    nodeLatency,
		nodeErrors:     nodeErrors,
		runs:           runs,
		runLatency:     runLatency,
		checkpointSize: checkpointSize,
		suspensions:    suspensions,
		resumes:        resumes,
	}, nil
}

// NewMetricsRecorder returns a MetricsRecorder that uses OpenTelemetry.
// If metrics initialization fails, returns a no-op recorder.
//
// The recorder uses the global OTel meter provider. Configure the provider
// before calling this function:
//
//	import "go.opentelemetry.io/otel"
//	otel.SetMeterProvider(yourProvider)
func NewMetricsRecorder() MetricsRecorder {
	m, err := getDefaultMetrics()
	if err != nil {
		slog.Warn("metrics initialization failed, using no-op recorder",
			slog.String("error", err.Error()))
		return NoopMetrics{}
	}
	return m
}

// RecordNodeExecution records a node execution.
func (m *otelMetrics) RecordNodeExecution(ctx context.Context, nodeID, kind string, duration time.Duration, err error) {
	attrs := []attribute.KeyValue{
		attribute.String("node_id", nodeID),
		attribute.String("kind", kind),
	}

	m.nodeExecutions.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.nodeLatency.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(attrs...))

	if err != nil {
		m.nodeErrors.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}

// RecordRun records an executor pass.
func (m *otelMetrics) RecordRun(ctx context.Context, success bool, duration time.Duration) {
	attrs := []attribute.KeyValue{
		attribute.Bool("success", success),
	}
	m.runs.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.runLatency.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(attrs...))
}

// RecordCheckpoint records a checkpoint save.
func (m *otelMetrics) RecordCheckpoint(ctx context.Context, threadID string, sizeBytes int64) {
	attrs := []attribute.KeyValue{
		attribute.String("thread_id", threadID),
	}
	m.checkpointSize.Record(ctx, sizeBytes, metric.WithAttributes(attrs...))
}

// RecordSuspension records a suspension.
func (m *otelMetrics) RecordSuspension(ctx context.Context, nodeID string) {
	m.suspensions.Add(ctx, 1, metric.WithAttributes(attribute.String("node_id", nodeID)))
}

// RecordResume records a resume.
func (m *otelMetrics) RecordResume(ctx context.Context, nodeID string) {
	m.resumes.Add(ctx, 1, metric.WithAttributes(attribute.String("node_id", nodeID)))
}
