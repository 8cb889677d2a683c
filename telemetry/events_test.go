package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func recordSpan(t *testing.T, fn func(span trace.Span)) tracetest.SpanStub {
	t.Helper()

	exporter := tracetest.NewInMemoryExporter()
	provider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithSyncer(exporter),
	)
	tracer := provider.Tracer("test")

	ctx, span := tracer.Start(context.Background(), "test")
	fn(span)
	span.End()
	_ = provider.ForceFlush(ctx)

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	return spans[0]
}

func attrMap(attrs []attribute.KeyValue) map[string]any {
	m := make(map[string]any, len(attrs))
	for _, a := range attrs {
		m[string(a.Key)] = a.Value.AsInterface()
	}
	return m
}

func TestRecordEvaluationEvent(t *testing.T) {
	span := recordSpan(t, func(span trace.Span) {
		RecordEvaluationEvent(span, "builtin", "bucket-versioning", "//storage.googleapis.com/b", "storage.googleapis.com/Bucket", false, true)
	})

	require.Len(t, span.Events, 1)
	event := span.Events[0]
	assert.Equal(t, "policy.evaluation.completed", event.Name)

	attrs := attrMap(event.Attributes)
	assert.Equal(t, "builtin", attrs["engine"])
	assert.Equal(t, "bucket-versioning", attrs["policy.id"])
	assert.Equal(t, false, attrs["compliant"])
	assert.Equal(t, true, attrs["excluded"])
}

func TestRecordSuppressedEvent(t *testing.T) {
	span := recordSpan(t, func(span trace.Span) {
		RecordSuppressedEvent(span, "builtin", "p1", "//x", "failed", "boom")
		RecordSuppressedEvent(span, "builtin", "p2", "//x", "skipped", "")
	})

	require.Len(t, span.Events, 2)
	first := attrMap(span.Events[0].Attributes)
	assert.Equal(t, "boom", first["error"])

	second := attrMap(span.Events[1].Attributes)
	assert.NotContains(t, second, "error")
	assert.Equal(t, "skipped", second["reason"])
}

func TestRecordRemediationEvent(t *testing.T) {
	span := recordSpan(t, func(span trace.Span) {
		RecordRemediationEvent(span, "builtin", "p1", "//x", "failed", "denied")
	})

	require.Len(t, span.Events, 1)
	attrs := attrMap(span.Events[0].Attributes)
	assert.Equal(t, "policy.remediation.executed", attrs["event.type"])
	assert.Equal(t, "denied", attrs["error"])
}

func TestRecordExtractionEvent(t *testing.T) {
	span := recordSpan(t, func(span trace.Span) {
		RecordExtractionEvent(span, "auditlog", "create", "user@example.com", 3)
	})

	attrs := attrMap(span.Events[0].Attributes)
	assert.Equal(t, int64(3), attrs["resources.count"])
	assert.Equal(t, "create", attrs["operation"])
}

func TestEvents_NilSpan(t *testing.T) {
	assert.NotPanics(t, func() {
		RecordExtractionEvent(nil, "auditlog", "", "", 0)
		RecordEvaluationEvent(nil, "", "", "", "", true, false)
		RecordSuppressedEvent(nil, "", "", "", "", "")
		RecordRemediationEvent(nil, "", "", "", "", "")
	})
}
