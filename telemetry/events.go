package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// RecordExtractionEvent emits a span event for a decoded payload
func RecordExtractionEvent(
	span trace.Span,
	extractor string,
	operation string,
	principal string,
	resourceCount int,
) {
	if span == nil {
		return
	}

	span.AddEvent("policy.extraction.completed", trace.WithAttributes(
		attribute.String("event.type", "policy.extraction.completed"),
		attribute.String("extractor", extractor),
		attribute.String("operation", operation),
		attribute.String("principal", principal),
		attribute.Int("resources.count", resourceCount),
	))
}

// RecordEvaluationEvent emits a span event for one policy verdict
func RecordEvaluationEvent(
	span trace.Span,
	engineID string,
	policyID string,
	resourceName string,
	resourceType string,
	compliant bool,
	excluded bool,
) {
	if span == nil {
		return
	}

	span.AddEvent("policy.evaluation.completed", trace.WithAttributes(
		attribute.String("event.type", "policy.evaluation.completed"),
		attribute.String("engine", engineID),
		attribute.String("policy.id", policyID),
		attribute.String("resource.name", resourceName),
		attribute.String("resource.type", resourceType),
		attribute.Bool("compliant", compliant),
		attribute.Bool("excluded", excluded),
	))
}

// RecordSuppressedEvent emits a span event for a policy that produced no verdict
func RecordSuppressedEvent(
	span trace.Span,
	engineID string,
	policyID string,
	resourceName string,
	reason string,
	errorMsg string,
) {
	if span == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("event.type", "policy.evaluation.suppressed"),
		attribute.String("engine", engineID),
		attribute.String("policy.id", policyID),
		attribute.String("resource.name", resourceName),
		attribute.String("reason", reason),
	}

	if errorMsg != "" {
		attrs = append(attrs, attribute.String("error", errorMsg))
	}

	span.AddEvent("policy.evaluation.suppressed", trace.WithAttributes(attrs...))
}

// RecordRemediationEvent emits a span event for a remediation attempt
func RecordRemediationEvent(
	span trace.Span,
	engineID string,
	policyID string,
	resourceName string,
	status string,
	errorMsg string,
) {
	if span == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("event.type", "policy.remediation.executed"),
		attribute.String("engine", engineID),
		attribute.String("policy.id", policyID),
		attribute.String("resource.name", resourceName),
		attribute.String("status", status),
	}

	if errorMsg != "" {
		attrs = append(attrs, attribute.String("error", errorMsg))
	}

	span.AddEvent("policy.remediation.executed", trace.WithAttributes(attrs...))
}
