package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// NoopMetrics discards every measurement. It is the default recorder when
// a run is started without WithMetrics.
type NoopMetrics struct{}

var _ MetricsRecorder = NoopMetrics{}

func (NoopMetrics) RecordNodeExecution(_ context.Context, _, _ string, _ time.Duration, _ error) {}

func (NoopMetrics) RecordRun(_ context.Context, _ bool, _ time.Duration) {}

func (NoopMetrics) RecordCheckpoint(_ context.Context, _ string, _ int64) {}

func (NoopMetrics) RecordSuspension(_ context.Context, _ string) {}

func (NoopMetrics) RecordResume(_ context.Context, _ string) {}

// NoopSpanManager starts no spans. It is the default when a run is started
// without WithTracing.
type NoopSpanManager struct{}

var _ SpanManager = NoopSpanManager{}

// The OTel noop package provides a span that satisfies trace.Span without
// recording anything.
var noopSpan = noop.Span{}

func (NoopSpanManager) StartRunSpan(ctx context.Context, _, _ string) (context.Context, trace.Span) {
	return ctx, noopSpan
}

func (NoopSpanManager) StartNodeSpan(ctx context.Context, _ string) (context.Context, trace.Span) {
	return ctx, noopSpan
}

func (NoopSpanManager) EndSpanWithError(_ trace.Span, _ error) {}

func (NoopSpanManager) AddSpanEvent(_ context.Context, _ string, _ ...attribute.KeyValue) {}
