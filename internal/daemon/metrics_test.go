package daemon

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func newTestMetrics(t *testing.T, opts ...sdkmetric.Option) (*DaemonMetrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(append([]sdkmetric.Option{sdkmetric.WithReader(reader)}, opts...)...)

	dm, err := newDaemonMetrics(provider.Meter("rpe.daemon"))
	require.NoError(t, err)
	return dm, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	out := make(map[string]metricdata.Metrics)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func TestDaemonMetrics_RecordMessage(t *testing.T) {
	dm, reader := newTestMetrics(t)
	ctx := context.Background()

	dm.RecordMessage(ctx, OutcomeAcked, 0.2)
	dm.RecordMessage(ctx, OutcomeAcked, 0.4)
	dm.RecordMessage(ctx, OutcomeNacked, 1.5)

	metrics := collect(t, reader)

	m, ok := metrics["rpe.daemon.messages"]
	require.True(t, ok, "messages metric not found")
	sum := m.Data.(metricdata.Sum[int64])
	require.Len(t, sum.DataPoints, 2)

	byOutcome := make(map[string]int64)
	for _, dp := range sum.DataPoints {
		v, _ := dp.Attributes.Value("outcome")
		byOutcome[v.AsString()] = dp.Value
	}
	assert.Equal(t, int64(2), byOutcome[OutcomeAcked])
	assert.Equal(t, int64(1), byOutcome[OutcomeNacked])

	m, ok = metrics["rpe.daemon.message.duration"]
	require.True(t, ok, "message duration metric not found")
	hist := m.Data.(metricdata.Histogram[float64])
	require.Len(t, hist.DataPoints, 2)
	for _, dp := range hist.DataPoints {
		if v, _ := dp.Attributes.Value("outcome"); v.AsString() == OutcomeAcked {
			assert.Equal(t, uint64(2), dp.Count)
			assert.InDelta(t, 0.6, dp.Sum, 1e-9)
		}
	}
}

func TestDaemonMetrics_RecordScan(t *testing.T) {
	dm, reader := newTestMetrics(t)
	ctx := context.Background()

	dm.RecordScan(ctx, "success", 5.5)

	metrics := collect(t, reader)

	sum := metrics["rpe.daemon.scans"].Data.(metricdata.Sum[int64])
	require.Len(t, sum.DataPoints, 1)
	assert.Equal(t, int64(1), sum.DataPoints[0].Value)
	assert.Contains(t, sum.DataPoints[0].Attributes.ToSlice(), attribute.String("status", "success"))

	hist := metrics["rpe.daemon.scan.duration"].Data.(metricdata.Histogram[float64])
	require.Len(t, hist.DataPoints, 1)
	assert.Equal(t, 5.5, hist.DataPoints[0].Sum)
}

func TestDaemonMetrics_RecordBatchSize(t *testing.T) {
	dm, reader := newTestMetrics(t)
	ctx := context.Background()

	dm.RecordBatchSize(ctx, 10, "scan")
	dm.RecordBatchSize(ctx, 42, "scan")

	gauge := collect(t, reader)["rpe.daemon.batch.size"].Data.(metricdata.Gauge[int64])
	require.Len(t, gauge.DataPoints, 1)
	assert.Equal(t, int64(42), gauge.DataPoints[0].Value)
	assert.Contains(t, gauge.DataPoints[0].Attributes.ToSlice(), attribute.String("trigger", "scan"))
}

// TestDaemonMetrics_HistogramBuckets tests explicit bucket boundaries
func TestDaemonMetrics_HistogramBuckets(t *testing.T) {
	boundaries := []float64{1, 5, 10, 30, 60, 120, 300}
	view := sdkmetric.NewView(
		sdkmetric.Instrument{Name: "rpe.daemon.scan.duration"},
		sdkmetric.Stream{
			Aggregation: sdkmetric.AggregationExplicitBucketHistogram{Boundaries: boundaries},
		},
	)
	dm, reader := newTestMetrics(t, sdkmetric.WithView(view))

	ctx := context.Background()
	for _, d := range []float64{0.5, 3.0, 8.0, 25.0, 45.0, 90.0, 180.0} {
		dm.RecordScan(ctx, "success", d)
	}

	hist := collect(t, reader)["rpe.daemon.scan.duration"].Data.(metricdata.Histogram[float64])
	require.Len(t, hist.DataPoints, 1)
	assert.Equal(t, boundaries, hist.DataPoints[0].Bounds)
	assert.Equal(t, uint64(7), hist.DataPoints[0].Count)
}
