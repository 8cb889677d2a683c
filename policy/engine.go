package policy

import (
	"context"
	"fmt"
	"maps"
	"sync"

	"github.com/google/uuid"
	"github.com/yairfalse/rpe/pkg/resource"
	"github.com/yairfalse/rpe/telemetry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Engine owns a set of policies and dispatches evaluation and remediation
// to them. Implementations are safe for concurrent Evaluate calls.
type Engine interface {
	ID() string
	Policies() []Info

	// Evaluate returns one Evaluation per applicable policy that produced
	// a verdict, in discovery order.
	Evaluate(ctx context.Context, r *resource.Resource) []Evaluation

	// EvaluateReport is Evaluate plus the skipped and failed policies.
	EvaluateReport(ctx context.Context, r *resource.Resource) Report

	// Remediate runs the remediation of policyID on r. Errors propagate.
	Remediate(ctx context.Context, r *resource.Resource, policyID string) error
}

// GoEngine evaluates policies registered as Go definitions
type GoEngine struct {
	id     string
	mu     sync.RWMutex
	order  []*Definition
	byID   map[string]*Definition
	logger *telemetry.Logger
	tracer trace.Tracer
}

// NewGoEngine creates an empty engine. An empty id gets a generated one.
func NewGoEngine(id string) *GoEngine {
	if id == "" {
		id = "go-" + uuid.NewString()
	}
	return &GoEngine{
		id:     id,
		byID:   make(map[string]*Definition),
		logger: telemetry.NewLogger("go-engine"),
		tracer: otel.Tracer("go-engine"),
	}
}

// ID implements Engine
func (e *GoEngine) ID() string {
	return e.id
}

// Discover loads every definition from src. Nothing is registered if any
// definition is invalid or collides with another id.
func (e *GoEngine) Discover(src Source) ([]Info, error) {
	defs, err := src.Definitions()
	if err != nil {
		return nil, fmt.Errorf("failed to load policies: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	seen := make(map[string]bool, len(defs))
	for i := range defs {
		d := &defs[i]
		if err := d.validate(); err != nil {
			return nil, err
		}
		if seen[d.ID] || e.byID[d.ID] != nil {
			return nil, fmt.Errorf("%w: %s", ErrDuplicatePolicy, d.ID)
		}
		seen[d.ID] = true
	}

	infos := make([]Info, 0, len(defs))
	for i := range defs {
		d := defs[i]
		e.order = append(e.order, &d)
		e.byID[d.ID] = &d
		infos = append(infos, e.info(&d))
	}

	e.logger.Info().
		Str("engine", e.id).
		Int("discovered", len(defs)).
		Int("total", len(e.order)).
		Msg("policies discovered")

	return infos, nil
}

// Policies implements Engine
func (e *GoEngine) Policies() []Info {
	e.mu.RLock()
	defer e.mu.RUnlock()

	infos := make([]Info, 0, len(e.order))
	for _, d := range e.order {
		infos = append(infos, e.info(d))
	}
	return infos
}

func (e *GoEngine) info(d *Definition) Info {
	return Info{
		ID:          d.ID,
		EngineID:    e.id,
		AppliesTo:   d.AppliesTo,
		Description: d.Description,
		Attributes:  maps.Clone(d.Attributes),
		Remediable:  d.Remediate != nil,
	}
}

// Evaluate implements Engine
func (e *GoEngine) Evaluate(ctx context.Context, r *resource.Resource) []Evaluation {
	return e.EvaluateReport(ctx, r).Evaluations
}

// EvaluateReport implements Engine
func (e *GoEngine) EvaluateReport(ctx context.Context, r *resource.Resource) Report {
	ctx, span := e.tracer.Start(ctx, "go_engine.evaluate",
		trace.WithAttributes(
			attribute.String("engine", e.id),
			attribute.String("resource.type", string(r.Type())),
			attribute.String("resource.name", r.FullName()),
		))
	defer span.End()

	report := Report{EngineID: e.id}
	for _, d := range e.matching(r.Type()) {
		o := e.run(ctx, d, r)
		report.add(o)
		recordOutcome(ctx, span, e.logger, e.id, r, o)
	}

	span.SetAttributes(
		attribute.Int("evaluations", len(report.Evaluations)),
		attribute.Int("failures", len(report.Failures)),
	)
	return report
}

func (e *GoEngine) matching(t resource.Type) []*Definition {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var out []*Definition
	for _, d := range e.order {
		if d.appliesTo(t) {
			out = append(out, d)
		}
	}
	return out
}

// run is the error boundary around one policy
func (e *GoEngine) run(ctx context.Context, d *Definition, r *resource.Resource) (o Outcome) {
	o.PolicyID = d.ID
	defer func() {
		if rec := recover(); rec != nil {
			o = Outcome{PolicyID: d.ID, Err: fmt.Errorf("%w: %v", ErrPolicyPanic, rec)}
		}
	}()

	if d.ShouldEvaluate != nil {
		ok, err := d.ShouldEvaluate(ctx, r)
		if err != nil {
			o.Err = fmt.Errorf("should evaluate: %w", err)
			return o
		}
		if !ok {
			o.Skipped = true
			return o
		}
	}

	res, err := d.Check.run(ctx, r)
	if err != nil {
		o.Err = err
		return o
	}

	o.Evaluation = &Evaluation{
		Resource:             r,
		PolicyID:             d.ID,
		Engine:               e,
		Compliant:            res.Compliant,
		Remediable:           d.Remediate != nil,
		PolicyAttributes:     maps.Clone(d.Attributes),
		EvaluationAttributes: res.Attributes,
	}
	return o
}

// Remediate implements Engine
func (e *GoEngine) Remediate(ctx context.Context, r *resource.Resource, policyID string) (err error) {
	ctx, span := e.tracer.Start(ctx, "go_engine.remediate",
		trace.WithAttributes(
			attribute.String("policy.id", policyID),
			attribute.String("resource.name", r.FullName()),
		))
	defer span.End()

	e.mu.RLock()
	d := e.byID[policyID]
	e.mu.RUnlock()

	if d == nil {
		return &UnknownPolicyError{EngineID: e.id, PolicyID: policyID}
	}
	if d.Remediate == nil {
		return fmt.Errorf("%w: %s", ErrNotRemediable, policyID)
	}

	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%w: %v", ErrPolicyPanic, rec)
		}
		status, msg := "applied", ""
		if err != nil {
			status, msg = "failed", err.Error()
			span.RecordError(err)
			span.SetStatus(codes.Error, msg)
		}
		telemetry.RecordRemediationEvent(span, e.id, policyID, r.FullName(), status, msg)
		e.logger.LogRemediation(ctx, e.id, policyID, r.FullName(), err)
	}()

	if err := d.Remediate(ctx, r); err != nil {
		return fmt.Errorf("remediate %s: %w", policyID, err)
	}
	return nil
}

// recordOutcome logs and traces one policy outcome
func recordOutcome(ctx context.Context, span trace.Span, logger *telemetry.Logger, engineID string, r *resource.Resource, o Outcome) {
	name := r.FullName()
	switch {
	case o.Err != nil:
		logger.LogPolicyFailed(ctx, engineID, o.PolicyID, name, o.Err)
		telemetry.RecordSuppressedEvent(span, engineID, o.PolicyID, name, "failed", o.Err.Error())
	case o.Skipped:
		logger.LogPolicySkipped(ctx, engineID, o.PolicyID, name)
		telemetry.RecordSuppressedEvent(span, engineID, o.PolicyID, name, "skipped", "")
	case o.Evaluation != nil:
		telemetry.RecordEvaluationEvent(span, engineID, o.PolicyID, name, string(r.Type()),
			o.Evaluation.Compliant, o.Evaluation.Excluded())
	}
}
