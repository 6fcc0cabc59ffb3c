package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// setupMetricsTest installs a manual-reader meter provider and returns
// the reader plus a cleanup function.
func setupMetricsTest(t *testing.T) (*sdkmetric.ManualReader, func()) {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	original := otel.GetMeterProvider()
	otel.SetMeterProvider(provider)

	cleanup := func() {
		otel.SetMeterProvider(original)
		if err := provider.Shutdown(context.Background()); err != nil {
			t.Logf("shutting down meter provider: %v", err)
		}
	}
	return reader, cleanup
}

func collectMetrics(t *testing.T, reader *sdkmetric.ManualReader) *metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	return &rm
}

func findMetric(rm *metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func TestNewMetricsRecorder(t *testing.T) {
	_, cleanup := setupMetricsTest(t)
	defer cleanup()

	recorder := NewMetricsRecorder()
	require.NotNil(t, recorder)

	_, isNoop := recorder.(NoopMetrics)
	assert.False(t, isNoop)
}

func TestRecordNodeExecution(t *testing.T) {
	reader, cleanup := setupMetricsTest(t)
	defer cleanup()

	m, err := newOtelMetrics()
	require.NoError(t, err)

	ctx := context.Background()

	t.Run("records execution count with attributes", func(t *testing.T) {
		m.RecordNodeExecution(ctx, "route", "transform", 50*time.Millisecond, nil)

		rm := collectMetrics(t, reader)
		metric := findMetric(rm, "flow.node.executions")
		require.NotNil(t, metric)

		sum, ok := metric.Data.(metricdata.Sum[int64])
		require.True(t, ok)
		require.NotEmpty(t, sum.DataPoints)

		found := false
		for _, dp := range sum.DataPoints {
			for _, attr := range dp.Attributes.ToSlice() {
				if attr.Key == "node_id" && attr.Value.AsString() == "route" {
					found = true
					assert.GreaterOrEqual(t, dp.Value, int64(1))
				}
			}
		}
		assert.True(t, found, "expected datapoint for node_id=route")
	})

	t.Run("records latency", func(t *testing.T) {
		m.RecordNodeExecution(ctx, "scheduler", "agent", 100*time.Millisecond, nil)

		rm := collectMetrics(t, reader)
		metric := findMetric(rm, "flow.node.latency_ms")
		require.NotNil(t, metric)

		hist, ok := metric.Data.(metricdata.Histogram[float64])
		require.True(t, ok)
		require.NotEmpty(t, hist.DataPoints)
	})

	t.Run("records errors only when present", func(t *testing.T) {
		m.RecordNodeExecution(ctx, "failing", "agent", 10*time.Millisecond, errors.New("boom"))

		rm := collectMetrics(t, reader)
		metric := findMetric(rm, "flow.node.errors")
		require.NotNil(t, metric)

		sum, ok := metric.Data.(metricdata.Sum[int64])
		require.True(t, ok)

		for _, dp := range sum.DataPoints {
			for _, attr := range dp.Attributes.ToSlice() {
				if attr.Key == "node_id" {
					assert.Equal(t, "failing", attr.Value.AsString(),
						"only the failing node records an error")
				}
			}
		}
	})
}

func TestRecordRun(t *testing.T) {
	reader, cleanup := setupMetricsTest(t)
	defer cleanup()

	m, err := newOtelMetrics()
	require.NoError(t, err)

	ctx := context.Background()
	m.RecordRun(ctx, true, 500*time.Millisecond)
	m.RecordRun(ctx, false, 100*time.Millisecond)

	rm := collectMetrics(t, reader)

	runs := findMetric(rm, "flow.runs")
	require.NotNil(t, runs)
	sum, ok := runs.Data.(metricdata.Sum[int64])
	require.True(t, ok)
	assert.Len(t, sum.DataPoints, 2, "success and failure are distinct series")

	latency := findMetric(rm, "flow.run.latency_ms")
	require.NotNil(t, latency)
}

func TestRecordCheckpoint(t *testing.T) {
	reader, cleanup := setupMetricsTest(t)
	defer cleanup()

	m, err := newOtelMetrics()
	require.NoError(t, err)

	m.RecordCheckpoint(context.Background(), "thread-1", 2048)

	rm := collectMetrics(t, reader)
	metric := findMetric(rm, "flow.checkpoint.size_bytes")
	require.NotNil(t, metric)

	hist, ok := metric.Data.(metricdata.Histogram[int64])
	require.True(t, ok)
	require.NotEmpty(t, hist.DataPoints)
}

func TestRecordSuspensionAndResume(t *testing.T) {
	reader, cleanup := setupMetricsTest(t)
	defer cleanup()

	m, err := newOtelMetrics()
	require.NoError(t, err)

	ctx := context.Background()
	m.RecordSuspension(ctx, "confirm")
	m.RecordResume(ctx, "confirm")

	rm := collectMetrics(t, reader)

	assert.NotNil(t, findMetric(rm, "flow.interrupt.suspensions"))
	assert.NotNil(t, findMetric(rm, "flow.interrupt.resumes"))
}

func TestNewOtelMetrics_CreatesAllInstruments(t *testing.T) {
	_, cleanup := setupMetricsTest(t)
	defer cleanup()

	m, err := newOtelMetrics()
	require.NoError(t, err)

	assert.NotNil(t, m.nodeExecutions)
	assert.NotNil(t, m.nodeLatency)
	assert.NotNil(t, m.nodeErrors)
	assert.NotNil(t, m.runs)
	assert.NotNil(t, m.runLatency)
	assert.NotNil(t, m.checkpointSize)
	assert.NotNil(t, m.suspensions)
	assert.NotNil(t, m.resumes)
}
