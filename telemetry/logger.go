// Package telemetry provides structured logging and span events.
package telemetry

import (
	"context"
	"io"
	"os"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// OTELHook adds trace and span IDs to every log entry
type OTELHook struct{}

func (h OTELHook) Run(e *zerolog.Event, level zerolog.Level, msg string) {
	ctx := e.GetCtx()
	if ctx == nil {
		return
	}

	span := trace.SpanFromContext(ctx)
	if !span.SpanContext().IsValid() {
		return
	}

	e.Str("trace_id", span.SpanContext().TraceID().String())
	e.Str("span_id", span.SpanContext().SpanID().String())

	if level == zerolog.ErrorLevel {
		span.SetStatus(codes.Error, msg)
	}
}

// Logger wraps zerolog with OTEL integration
type Logger struct {
	zerolog.Logger
}

// Output is where loggers created by NewLogger write. Stdout is reserved
// for command output.
var Output io.Writer = os.Stderr

// NewLogger creates a new logger with OTEL hooks
func NewLogger(component string) *Logger {
	return NewLoggerWithWriter(component, Output)
}

// NewLoggerWithWriter creates a logger writing to w.
func NewLoggerWithWriter(component string, w io.Writer) *Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs

	logger := zerolog.New(w).
		With().
		Timestamp().
		Str("component", component).
		Logger().
		Hook(OTELHook{})

	return &Logger{Logger: logger}
}

// WithContext returns a logger with context (for trace propagation)
func (l *Logger) WithContext(ctx context.Context) *zerolog.Logger {
	logger := l.Logger.With().Ctx(ctx).Logger()
	return &logger
}

// LogSpanStart logs the start of a span with attributes
func (l *Logger) LogSpanStart(ctx context.Context, spanName string, attrs ...attribute.KeyValue) {
	event := l.WithContext(ctx).Debug().Str("span_name", spanName)
	for _, attr := range attrs {
		event = addAttributeToEvent(event, attr)
	}
	event.Msg("span started")
}

// LogSpanEnd logs the end of a span with results
func (l *Logger) LogSpanEnd(ctx context.Context, spanName string, err error) {
	logger := l.WithContext(ctx)

	if err != nil {
		logger.Error().
			Err(err).
			Str("span_name", spanName).
			Msg("span failed")
	} else {
		logger.Debug().
			Str("span_name", spanName).
			Msg("span completed")
	}
}

func addAttributeToEvent(event *zerolog.Event, attr attribute.KeyValue) *zerolog.Event {
	key := string(attr.Key)

	switch attr.Value.Type() {
	case attribute.STRING:
		return event.Str(key, attr.Value.AsString())
	case attribute.INT64:
		return event.Int64(key, attr.Value.AsInt64())
	case attribute.FLOAT64:
		return event.Float64(key, attr.Value.AsFloat64())
	case attribute.BOOL:
		return event.Bool(key, attr.Value.AsBool())
	default:
		return event.Str(key, attr.Value.Emit())
	}
}

// Convenience methods for policy evaluation

func (l *Logger) LogPolicySkipped(ctx context.Context, engineID, policyID, resourceName string) {
	l.WithContext(ctx).Debug().
		Str("engine", engineID).
		Str("policy_id", policyID).
		Str("resource_name", resourceName).
		Msg("policy pre-filter declined resource")
}

func (l *Logger) LogPolicyFailed(ctx context.Context, engineID, policyID, resourceName string, err error) {
	l.WithContext(ctx).Warn().
		Err(err).
		Str("engine", engineID).
		Str("policy_id", policyID).
		Str("resource_name", resourceName).
		Msg("policy evaluation failed")
}

func (l *Logger) LogRemediation(ctx context.Context, engineID, policyID, resourceName string, err error) {
	logger := l.WithContext(ctx)
	if err != nil {
		logger.Error().
			Err(err).
			Str("engine", engineID).
			Str("policy_id", policyID).
			Str("resource_name", resourceName).
			Msg("remediation failed")
		return
	}
	logger.Info().
		Str("engine", engineID).
		Str("policy_id", policyID).
		Str("resource_name", resourceName).
		Msg("remediation applied")
}
