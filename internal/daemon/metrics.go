package daemon

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// DaemonMetrics holds operational metrics using OTEL semantic conventions
type DaemonMetrics struct {
	messages        metric.Int64Counter
	messageDuration metric.Float64Histogram
	scans           metric.Int64Counter
	scanDuration    metric.Float64Histogram
	batchSize       metric.Int64Gauge
}

// NewDaemonMetrics creates daemon metrics on the global meter provider
func NewDaemonMetrics() (*DaemonMetrics, error) {
	return newDaemonMetrics(otel.Meter("rpe.daemon"))
}

func newDaemonMetrics(meter metric.Meter) (*DaemonMetrics, error) {
	messages, err := meter.Int64Counter(
		"rpe.daemon.messages",
		metric.WithDescription("Number of queue messages handled, by outcome"),
		metric.WithUnit("{message}"),
	)
	if err != nil {
		return nil, err
	}

	messageDuration, err := meter.Float64Histogram(
		"rpe.daemon.message.duration",
		metric.WithDescription("Time from receipt to settlement of a queue message"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	scans, err := meter.Int64Counter(
		"rpe.daemon.scans",
		metric.WithDescription("Number of periodic asset scans"),
		metric.WithUnit("{scan}"),
	)
	if err != nil {
		return nil, err
	}

	scanDuration, err := meter.Float64Histogram(
		"rpe.daemon.scan.duration",
		metric.WithDescription("Duration of periodic asset scans including evaluation"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	batchSize, err := meter.Int64Gauge(
		"rpe.daemon.batch.size",
		metric.WithDescription("Number of resources in the last evaluated batch"),
		metric.WithUnit("{resource}"),
	)
	if err != nil {
		return nil, err
	}

	return &DaemonMetrics{
		messages:        messages,
		messageDuration: messageDuration,
		scans:           scans,
		scanDuration:    scanDuration,
		batchSize:       batchSize,
	}, nil
}

// RecordMessage records a settled message with its outcome
func (m *DaemonMetrics) RecordMessage(ctx context.Context, outcome string, durationSeconds float64) {
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	m.messages.Add(ctx, 1, attrs)
	m.messageDuration.Record(ctx, durationSeconds, attrs)
}

// RecordScan records a periodic scan run with status
func (m *DaemonMetrics) RecordScan(ctx context.Context, status string, durationSeconds float64) {
	attrs := metric.WithAttributes(attribute.String("status", status))
	m.scans.Add(ctx, 1, attrs)
	m.scanDuration.Record(ctx, durationSeconds, attrs)
}

// RecordBatchSize records how many resources a batch evaluated
func (m *DaemonMetrics) RecordBatchSize(ctx context.Context, count int64, trigger string) {
	m.batchSize.Record(ctx, count,
		metric.WithAttributes(
			attribute.String("trigger", trigger),
		),
	)
}
