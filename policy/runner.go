package policy

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/yairfalse/rpe/pkg/resource"
	"github.com/yairfalse/rpe/telemetry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// DefaultWorkers bounds concurrent resource evaluations
const DefaultWorkers = 8

// ResourceResult is every engine's report for one resource
type ResourceResult struct {
	Resource *resource.Resource
	Reports  []Report
}

// Evaluations flattens the reports in engine order
func (rr ResourceResult) Evaluations() []Evaluation {
	var out []Evaluation
	for _, rep := range rr.Reports {
		out = append(out, rep.Evaluations...)
	}
	return out
}

// Failures counts failed policies across engines
func (rr ResourceResult) Failures() int {
	n := 0
	for _, rep := range rr.Reports {
		n += len(rep.Failures)
	}
	return n
}

// Batch is the result of one Runner pass
type Batch struct {
	ID          string
	StartedAt   time.Time
	CompletedAt time.Time
	// Results are in input order.
	Results []ResourceResult
}

// Evaluations flattens every result in input order
func (b *Batch) Evaluations() []Evaluation {
	var out []Evaluation
	for _, rr := range b.Results {
		out = append(out, rr.Evaluations()...)
	}
	return out
}

// Runner evaluates many resources concurrently
type Runner struct {
	workers int
	logger  *telemetry.Logger
	tracer  trace.Tracer
}

// NewRunner creates a runner with at most workers concurrent resources
func NewRunner(workers int) *Runner {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	return &Runner{
		workers: workers,
		logger:  telemetry.NewLogger("policy-runner"),
		tracer:  otel.Tracer("policy-runner"),
	}
}

// Run evaluates every resource against every engine. Each resource is one
// unit of work; engines run in order within it. Run returns early with the
// context error if ctx is cancelled.
func (rn *Runner) Run(ctx context.Context, resources []*resource.Resource, engines []Engine) (*Batch, error) {
	batch := &Batch{
		ID:        uuid.NewString(),
		StartedAt: time.Now(),
		Results:   make([]ResourceResult, len(resources)),
	}

	ctx, span := rn.tracer.Start(ctx, "policy_runner.run",
		trace.WithAttributes(
			attribute.String("batch.id", batch.ID),
			attribute.Int("resources", len(resources)),
			attribute.Int("engines", len(engines)),
		))
	defer span.End()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(rn.workers)

	for i, r := range resources {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			batch.Results[i] = ResourceResult{
				Resource: r,
				Reports:  EvaluateReports(gctx, r, engines),
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		span.RecordError(err)
		return nil, err
	}
	batch.CompletedAt = time.Now()

	evaluations, failures := 0, 0
	for _, rr := range batch.Results {
		evaluations += len(rr.Evaluations())
		failures += rr.Failures()
	}

	rn.logger.WithContext(ctx).Info().
		Str("batch_id", batch.ID).
		Int("resources", len(resources)).
		Int("evaluations", evaluations).
		Int("failures", failures).
		Dur("duration", batch.CompletedAt.Sub(batch.StartedAt)).
		Msg("evaluation batch complete")

	return batch, nil
}
