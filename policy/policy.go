// Package policy evaluates resources against compliance policies.
//
// Policies are registered explicitly with an Engine. Each policy declares the
// resource types it applies to and one of two check protocols: a full
// evaluation returning a Result, or a compliant/excluded predicate pair. Both
// are normalized into a Result before anything else sees them.
package policy

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"github.com/yairfalse/rpe/pkg/resource"
)

// AttrExcluded is the evaluation attribute marking a verdict that should not
// be counted as a finding.
const AttrExcluded = "excluded"

// Result is the normalized outcome of a policy check
type Result struct {
	Compliant  bool
	Attributes map[string]any
}

// Excluded reports the excluded attribute
func (r Result) Excluded() bool {
	v, _ := r.Attributes[AttrExcluded].(bool)
	return v
}

func (r Result) normalize() Result {
	attrs := make(map[string]any, len(r.Attributes)+1)
	maps.Copy(attrs, r.Attributes)
	if _, ok := attrs[AttrExcluded]; !ok {
		attrs[AttrExcluded] = false
	}
	return Result{Compliant: r.Compliant, Attributes: attrs}
}

// EvaluateFunc checks a resource and returns a full result
type EvaluateFunc func(ctx context.Context, r *resource.Resource) (Result, error)

// PredicateFunc answers a yes/no question about a resource
type PredicateFunc func(ctx context.Context, r *resource.Resource) (bool, error)

// RemediateFunc fixes a non-compliant resource
type RemediateFunc func(ctx context.Context, r *resource.Resource) error

// Check is the evaluation protocol of a policy. Build one with
// EvaluateWith or CompliantExcluded.
type Check struct {
	evaluate  EvaluateFunc
	compliant PredicateFunc
	excluded  PredicateFunc
}

// EvaluateWith declares a policy that returns a full Result
func EvaluateWith(fn EvaluateFunc) Check {
	return Check{evaluate: fn}
}

// CompliantExcluded declares a policy answering compliant and excluded
// separately. A nil excluded means never excluded.
func CompliantExcluded(compliant, excluded PredicateFunc) Check {
	return Check{compliant: compliant, excluded: excluded}
}

func (c Check) valid() bool {
	return c.evaluate != nil || c.compliant != nil
}

func (c Check) run(ctx context.Context, r *resource.Resource) (Result, error) {
	if c.evaluate != nil {
		res, err := c.evaluate(ctx, r)
		if err != nil {
			return Result{}, err
		}
		return res.normalize(), nil
	}

	compliant, err := c.compliant(ctx, r)
	if err != nil {
		return Result{}, fmt.Errorf("compliant: %w", err)
	}
	excluded := false
	if c.excluded != nil {
		if excluded, err = c.excluded(ctx, r); err != nil {
			return Result{}, fmt.Errorf("excluded: %w", err)
		}
	}
	return Result{
		Compliant:  compliant,
		Attributes: map[string]any{AttrExcluded: excluded},
	}, nil
}

// Definition is one policy as registered with a GoEngine
type Definition struct {
	ID          string
	AppliesTo   []resource.Type
	Description string
	// Attributes are static, e.g. severity or owner.
	Attributes map[string]any

	// ShouldEvaluate is an optional pre-filter; false skips the resource.
	ShouldEvaluate PredicateFunc
	Check          Check
	Remediate      RemediateFunc
}

func (d *Definition) validate() error {
	switch {
	case d.ID == "":
		return fmt.Errorf("%w: empty id", ErrInvalidPolicy)
	case len(d.AppliesTo) == 0:
		return fmt.Errorf("%w: %s applies to no resource types", ErrInvalidPolicy, d.ID)
	case !d.Check.valid():
		return fmt.Errorf("%w: %s has no check", ErrInvalidPolicy, d.ID)
	}
	return nil
}

func (d *Definition) appliesTo(t resource.Type) bool {
	return slices.Contains(d.AppliesTo, t)
}

// Source supplies policy definitions to an engine
type Source interface {
	Definitions() ([]Definition, error)
}

// Definitions is a fixed Source
type Definitions []Definition

// Definitions implements Source
func (d Definitions) Definitions() ([]Definition, error) {
	return d, nil
}

// Info describes a discovered policy
type Info struct {
	ID          string          `json:"id" yaml:"id"`
	EngineID    string          `json:"engine" yaml:"engine"`
	AppliesTo   []resource.Type `json:"applies_to" yaml:"applies_to"`
	Description string          `json:"description,omitempty" yaml:"description,omitempty"`
	Attributes  map[string]any  `json:"attributes,omitempty" yaml:"attributes,omitempty"`
	Remediable  bool            `json:"remediable" yaml:"remediable"`
}
