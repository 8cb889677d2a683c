// Package gcp implements the built-in Google Cloud policy pack.
package gcp

import (
	"context"
	"fmt"
	"sync"

	"github.com/jmespath/go-jmespath"

	"github.com/yairfalse/rpe/pkg/resource"
	"github.com/yairfalse/rpe/policy"
)

// ExemptLabel marks a resource whose findings are excluded.
const ExemptLabel = "policy-exempt"

// Patcher applies partial updates to live resources.
// *resource.HTTPFetcher satisfies it.
type Patcher interface {
	Patch(ctx context.Context, r *resource.Resource, body map[string]any) error
}

// Pack holds the built-in policies.
type Pack struct {
	patcher Patcher
}

// New creates the pack. A nil patcher leaves every policy without remediation.
func New(patcher Patcher) *Pack {
	return &Pack{patcher: patcher}
}

// Name implements plugin.Pack.
func (p *Pack) Name() string {
	return "gcp"
}

// Definitions implements plugin.Pack.
func (p *Pack) Definitions() ([]policy.Definition, error) {
	defs := []policy.Definition{
		bucketVersioning(),
		bucketPublicAccessPrevention(),
		firewallNoOpenSSH(),
		sqlRequireSSL(),
		redisAuthEnabled(),
	}

	if p.patcher != nil {
		for i := range defs {
			if body, ok := fixes[defs[i].ID]; ok {
				defs[i].Remediate = p.patch(body)
			}
		}
	}
	return defs, nil
}

func (p *Pack) patch(body map[string]any) policy.RemediateFunc {
	return func(ctx context.Context, r *resource.Resource) error {
		if err := p.patcher.Patch(ctx, r, body); err != nil {
			return fmt.Errorf("patch %s: %w", r.FullName(), err)
		}
		return nil
	}
}

var exprCache sync.Map

// lookup evaluates a JMESPath expression against live data.
// Invalid expressions and missing values both yield nil.
func lookup(data map[string]any, expr string) any {
	var compiled *jmespath.JMESPath
	if v, ok := exprCache.Load(expr); ok {
		compiled = v.(*jmespath.JMESPath)
	} else {
		c, err := jmespath.Compile(expr)
		if err != nil {
			return nil
		}
		exprCache.Store(expr, c)
		compiled = c
	}

	v, err := compiled.Search(data)
	if err != nil {
		return nil
	}
	return v
}

func isTrue(data map[string]any, expr string) bool {
	v, _ := lookup(data, expr).(bool)
	return v
}

func hasData(ctx context.Context, r *resource.Resource) (bool, error) {
	return len(r.Data(ctx)) > 0, nil
}

func exempt(ctx context.Context, r *resource.Resource) (bool, error) {
	return exemptLabels(r.Data(ctx)), nil
}
