package policy

import (
	"context"

	"github.com/yairfalse/rpe/pkg/resource"
)

// Evaluation joins one policy and one resource
type Evaluation struct {
	Resource *resource.Resource
	PolicyID string
	// Engine is kept only to route Remediate back to its owner.
	Engine Engine

	Compliant            bool
	Remediable           bool
	PolicyAttributes     map[string]any
	EvaluationAttributes map[string]any
}

// Excluded reports whether the verdict should not count as a finding
func (e Evaluation) Excluded() bool {
	v, _ := e.EvaluationAttributes[AttrExcluded].(bool)
	return v
}

// Finding reports a non-compliant, non-excluded verdict
func (e Evaluation) Finding() bool {
	return !e.Compliant && !e.Excluded()
}

// EngineID returns the owning engine id, or "" when detached
func (e Evaluation) EngineID() string {
	if e.Engine == nil {
		return ""
	}
	return e.Engine.ID()
}

// Remediate asks the owning engine to remediate this resource.
// It is not coordinated with concurrent evaluation of the same resource.
func (e Evaluation) Remediate(ctx context.Context) error {
	return e.Engine.Remediate(ctx, e.Resource, e.PolicyID)
}

// Failure is a policy that errored or panicked on a resource
type Failure struct {
	PolicyID string
	Err      error
}

// Outcome is the result of running one policy on one resource: a verdict,
// a skip, or a failure.
type Outcome struct {
	PolicyID   string
	Evaluation *Evaluation
	Skipped    bool
	Err        error
}

// Report is an engine's full answer for one resource, including the
// policies that produced no verdict.
type Report struct {
	EngineID    string
	Evaluations []Evaluation
	Skipped     []string
	Failures    []Failure
}

func (r *Report) add(o Outcome) {
	switch {
	case o.Err != nil:
		r.Failures = append(r.Failures, Failure{PolicyID: o.PolicyID, Err: o.Err})
	case o.Skipped:
		r.Skipped = append(r.Skipped, o.PolicyID)
	case o.Evaluation != nil:
		r.Evaluations = append(r.Evaluations, *o.Evaluation)
	}
}
