package emitter

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/yairfalse/rpe/policy"
	"github.com/yairfalse/rpe/telemetry"
)

// Evaluation results as recorded in metrics.
const (
	resultCompliant = "compliant"
	resultFinding   = "finding"
	resultExcluded  = "excluded"
)

// PrometheusEmitter records evaluation batches as OTEL metrics, exported in
// Prometheus format by the telemetry provider.
type PrometheusEmitter struct {
	meter  metric.Meter
	logger *telemetry.Logger

	openFindings        metric.Int64ObservableGauge
	batchDuration       metric.Float64Histogram
	resourcesEvaluated  metric.Int64Counter
	evaluationsTotal    metric.Int64Counter
	policyFailuresTotal metric.Int64Counter
	policySkippedTotal  metric.Int64Counter
	findingChangesTotal metric.Int64Counter

	diffTracker *DiffTracker
}

// NewPrometheusEmitter creates a Prometheus emitter on the global meter provider.
func NewPrometheusEmitter() (*PrometheusEmitter, error) {
	e := &PrometheusEmitter{
		meter:       otel.Meter("rpe"),
		logger:      telemetry.NewLogger("emitter-prometheus"),
		diffTracker: NewDiffTracker(),
	}

	if err := e.initMetrics(); err != nil {
		return nil, fmt.Errorf("init metrics: %w", err)
	}

	return e, nil
}

func (e *PrometheusEmitter) initMetrics() error {
	var err error

	e.openFindings, err = e.meter.Int64ObservableGauge(
		"rpe_open_findings",
		metric.WithDescription("Verdicts currently known to be findings"),
		metric.WithInt64Callback(e.observeOpenFindings),
	)
	if err != nil {
		return fmt.Errorf("create open_findings gauge: %w", err)
	}

	e.batchDuration, err = e.meter.Float64Histogram(
		"rpe_batch_duration_seconds",
		metric.WithDescription("Time taken to evaluate a batch of resources"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return fmt.Errorf("create batch_duration histogram: %w", err)
	}

	e.resourcesEvaluated, err = e.meter.Int64Counter(
		"rpe_resources_evaluated_total",
		metric.WithDescription("Total resources evaluated"),
	)
	if err != nil {
		return fmt.Errorf("create resources_evaluated counter: %w", err)
	}

	e.evaluationsTotal, err = e.meter.Int64Counter(
		"rpe_evaluations_total",
		metric.WithDescription("Total policy evaluations by result"),
	)
	if err != nil {
		return fmt.Errorf("create evaluations counter: %w", err)
	}

	e.policyFailuresTotal, err = e.meter.Int64Counter(
		"rpe_policy_failures_total",
		metric.WithDescription("Total policy evaluations that errored or panicked"),
	)
	if err != nil {
		return fmt.Errorf("create policy_failures counter: %w", err)
	}

	e.policySkippedTotal, err = e.meter.Int64Counter(
		"rpe_policy_skipped_total",
		metric.WithDescription("Total policy evaluations declined by a pre-filter"),
	)
	if err != nil {
		return fmt.Errorf("create policy_skipped counter: %w", err)
	}

	e.findingChangesTotal, err = e.meter.Int64Counter(
		"rpe_finding_changes_total",
		metric.WithDescription("Total findings opened or resolved"),
	)
	if err != nil {
		return fmt.Errorf("create finding_changes counter: %w", err)
	}

	return nil
}

// Emit records the batch as metrics.
func (e *PrometheusEmitter) Emit(ctx context.Context, batch *policy.Batch) error {
	e.batchDuration.Record(ctx, batch.CompletedAt.Sub(batch.StartedAt).Seconds())
	e.resourcesEvaluated.Add(ctx, int64(len(batch.Results)))

	for _, rr := range batch.Results {
		typ := string(rr.Resource.Type())
		for _, report := range rr.Reports {
			for _, ev := range report.Evaluations {
				e.evaluationsTotal.Add(ctx, 1, metric.WithAttributes(
					attribute.String("engine", report.EngineID),
					attribute.String("policy_id", ev.PolicyID),
					attribute.String("resource_type", typ),
					attribute.String("result", result(ev)),
				))
			}
			for _, f := range report.Failures {
				e.policyFailuresTotal.Add(ctx, 1, metric.WithAttributes(
					attribute.String("engine", report.EngineID),
					attribute.String("policy_id", f.PolicyID),
				))
			}
			for _, id := range report.Skipped {
				e.policySkippedTotal.Add(ctx, 1, metric.WithAttributes(
					attribute.String("engine", report.EngineID),
					attribute.String("policy_id", id),
				))
			}
		}
	}

	evals := batch.Evaluations()
	e.emitDiffs(ctx, evals)
	e.diffTracker.Update(evals)

	return nil
}

func (e *PrometheusEmitter) emitDiffs(ctx context.Context, evals []policy.Evaluation) {
	diffs := e.diffTracker.ComputeDiff(evals)
	if diffs == nil {
		// First batch - baseline established
		return
	}

	for _, diff := range diffs {
		ev := diff.Evaluation
		e.findingChangesTotal.Add(ctx, 1, metric.WithAttributes(
			attribute.String("engine", ev.EngineID()),
			attribute.String("policy_id", ev.PolicyID),
			attribute.String("change_type", string(diff.Type)),
		))

		e.logger.WithContext(ctx).Info().
			Str("engine", ev.EngineID()).
			Str("policy_id", ev.PolicyID).
			Str("resource_type", string(ev.Resource.Type())).
			Str("resource_name", ev.Resource.FullName()).
			Str("change", string(diff.Type)).
			Msg("finding changed")
	}
}

func (e *PrometheusEmitter) observeOpenFindings(_ context.Context, o metric.Int64Observer) error {
	o.Observe(int64(e.diffTracker.Open()))
	return nil
}

func result(ev policy.Evaluation) string {
	switch {
	case ev.Compliant:
		return resultCompliant
	case ev.Excluded():
		return resultExcluded
	default:
		return resultFinding
	}
}

// Close is a no-op for Prometheus emitter.
func (e *PrometheusEmitter) Close() error {
	return nil
}
