package policy

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"
	"github.com/yairfalse/rpe/pkg/resource"
	"github.com/yairfalse/rpe/telemetry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Rego policy documents are read from the module's package. Recognized rules:
//
//	applies_to            array of resource types (required)
//	description           string
//	attributes            object of static policy attributes
//	should_evaluate       boolean pre-filter
//	compliant             boolean verdict (required at evaluation time)
//	excluded              boolean
//	evaluation_attributes object merged into the evaluation attributes
//
// The input document is Resource.ToMap.
const (
	regoAppliesTo      = "applies_to"
	regoDescription    = "description"
	regoAttributes     = "attributes"
	regoShouldEvaluate = "should_evaluate"
	regoCompliant      = "compliant"
	regoExcluded       = "excluded"
	regoEvalAttributes = "evaluation_attributes"
)

var errNoVerdict = errors.New("policy did not define compliant")

type regoPolicy struct {
	info  Info
	query rego.PreparedEvalQuery
}

// RegoEngine evaluates declarative OPA policies. Rego policies cannot
// remediate.
type RegoEngine struct {
	id       string
	mu       sync.RWMutex
	policies []*regoPolicy
	byID     map[string]*regoPolicy
	logger   *telemetry.Logger
	tracer   trace.Tracer
}

// NewRegoEngine creates an empty Rego engine. An empty id gets a generated one.
func NewRegoEngine(id string) *RegoEngine {
	if id == "" {
		id = "rego-" + uuid.NewString()
	}
	return &RegoEngine{
		id:     id,
		byID:   make(map[string]*regoPolicy),
		logger: telemetry.NewLogger("rego-engine"),
		tracer: otel.Tracer("rego-engine"),
	}
}

// ID implements Engine
func (e *RegoEngine) ID() string {
	return e.id
}

// LoadPolicy compiles a Rego module as the policy named id
func (e *RegoEngine) LoadPolicy(ctx context.Context, id, regoCode string) error {
	ctx, span := e.tracer.Start(ctx, "rego_engine.load_policy",
		trace.WithAttributes(attribute.String("policy.id", id)))
	defer span.End()

	p, err := compileRego(ctx, e.id, id, regoCode)
	if err != nil {
		span.RecordError(err)
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.byID[id] != nil {
		return fmt.Errorf("%w: %s", ErrDuplicatePolicy, id)
	}
	e.policies = append(e.policies, p)
	e.byID[id] = p

	e.logger.WithContext(ctx).Debug().
		Str("engine", e.id).
		Str("policy_id", id).
		Msg("policy loaded")

	return nil
}

func compileRego(ctx context.Context, engineID, id, regoCode string) (*regoPolicy, error) {
	module, err := ast.ParseModule(id+".rego", regoCode)
	if err != nil {
		return nil, fmt.Errorf("failed to parse policy %s: %w", id, err)
	}

	query, err := rego.New(
		rego.Query(module.Package.Path.String()),
		rego.Module(id+".rego", regoCode),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile policy %s: %w", id, err)
	}

	// Static rules must be defined without input.
	doc, err := evalDocument(ctx, query, map[string]any{})
	if err != nil {
		return nil, fmt.Errorf("failed to read policy %s metadata: %w", id, err)
	}

	info := Info{ID: id, EngineID: engineID}
	for _, v := range asSlice(doc[regoAppliesTo]) {
		if s, ok := v.(string); ok {
			info.AppliesTo = append(info.AppliesTo, resource.Type(s))
		}
	}
	if len(info.AppliesTo) == 0 {
		return nil, fmt.Errorf("%w: %s defines no %s", ErrInvalidPolicy, id, regoAppliesTo)
	}
	info.Description, _ = doc[regoDescription].(string)
	if attrs, ok := doc[regoAttributes].(map[string]any); ok {
		info.Attributes = attrs
	}

	return &regoPolicy{info: info, query: query}, nil
}

// Policies implements Engine
func (e *RegoEngine) Policies() []Info {
	e.mu.RLock()
	defer e.mu.RUnlock()

	infos := make([]Info, 0, len(e.policies))
	for _, p := range e.policies {
		info := p.info
		info.Attributes = maps.Clone(p.info.Attributes)
		infos = append(infos, info)
	}
	return infos
}

// Evaluate implements Engine
func (e *RegoEngine) Evaluate(ctx context.Context, r *resource.Resource) []Evaluation {
	return e.EvaluateReport(ctx, r).Evaluations
}

// EvaluateReport implements Engine
func (e *RegoEngine) EvaluateReport(ctx context.Context, r *resource.Resource) Report {
	ctx, span := e.tracer.Start(ctx, "rego_engine.evaluate",
		trace.WithAttributes(
			attribute.String("engine", e.id),
			attribute.String("resource.type", string(r.Type())),
			attribute.String("resource.name", r.FullName()),
		))
	defer span.End()

	report := Report{EngineID: e.id}

	matched := e.matching(r.Type())
	if len(matched) == 0 {
		return report
	}

	input := r.ToMap(ctx)
	for _, p := range matched {
		o := e.run(ctx, p, r, input)
		report.add(o)
		recordOutcome(ctx, span, e.logger, e.id, r, o)
	}
	return report
}

func (e *RegoEngine) matching(t resource.Type) []*regoPolicy {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var out []*regoPolicy
	for _, p := range e.policies {
		if slices.Contains(p.info.AppliesTo, t) {
			out = append(out, p)
		}
	}
	return out
}

func (e *RegoEngine) run(ctx context.Context, p *regoPolicy, r *resource.Resource, input map[string]any) Outcome {
	o := Outcome{PolicyID: p.info.ID}

	doc, err := evalDocument(ctx, p.query, input)
	if err != nil {
		o.Err = err
		return o
	}

	if should, ok := doc[regoShouldEvaluate].(bool); ok && !should {
		o.Skipped = true
		return o
	}

	compliant, ok := doc[regoCompliant].(bool)
	if !ok {
		o.Err = errNoVerdict
		return o
	}

	attrs := make(map[string]any)
	if extra, ok := doc[regoEvalAttributes].(map[string]any); ok {
		maps.Copy(attrs, extra)
	}
	excluded, _ := doc[regoExcluded].(bool)
	attrs[AttrExcluded] = excluded

	o.Evaluation = &Evaluation{
		Resource:             r,
		PolicyID:             p.info.ID,
		Engine:               e,
		Compliant:            compliant,
		PolicyAttributes:     maps.Clone(p.info.Attributes),
		EvaluationAttributes: attrs,
	}
	return o
}

// Remediate implements Engine. Known policies return ErrNotRemediable.
func (e *RegoEngine) Remediate(_ context.Context, _ *resource.Resource, policyID string) error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.byID[policyID] == nil {
		return &UnknownPolicyError{EngineID: e.id, PolicyID: policyID}
	}
	return fmt.Errorf("%w: %s is a rego policy", ErrNotRemediable, policyID)
}

// evalDocument evaluates the package document of a prepared query
func evalDocument(ctx context.Context, query rego.PreparedEvalQuery, input map[string]any) (map[string]any, error) {
	results, err := query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, fmt.Errorf("evaluation failed: %w", err)
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return map[string]any{}, nil
	}

	doc, ok := results[0].Expressions[0].Value.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("unexpected policy document %T", results[0].Expressions[0].Value)
	}
	return doc, nil
}

func asSlice(v any) []any {
	s, _ := v.([]any)
	return s
}
