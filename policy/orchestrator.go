package policy

import (
	"context"

	"github.com/yairfalse/rpe/pkg/resource"
)

// Evaluate runs r through every engine and concatenates the results in
// engine order. The same policy id from two engines yields two evaluations.
func Evaluate(ctx context.Context, r *resource.Resource, engines []Engine) []Evaluation {
	var out []Evaluation
	for _, e := range engines {
		out = append(out, e.Evaluate(ctx, r)...)
	}
	return out
}

// EvaluateReports is Evaluate keeping one report per engine
func EvaluateReports(ctx context.Context, r *resource.Resource, engines []Engine) []Report {
	reports := make([]Report, 0, len(engines))
	for _, e := range engines {
		reports = append(reports, e.EvaluateReport(ctx, r))
	}
	return reports
}

// FindEngine returns the engine with id, if present
func FindEngine(engines []Engine, id string) (Engine, bool) {
	for _, e := range engines {
		if e.ID() == id {
			return e, true
		}
	}
	return nil, false
}
