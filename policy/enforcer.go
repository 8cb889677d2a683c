package policy

import (
	"context"
	"errors"

	"github.com/yairfalse/rpe/telemetry"
)

// RemediationStatus is the result of one enforcement attempt
type RemediationStatus string

const (
	RemediationApplied RemediationStatus = "applied"
	RemediationFailed  RemediationStatus = "failed"
	RemediationDryRun  RemediationStatus = "dry_run"
)

// Remediation records one enforcement attempt
type Remediation struct {
	Evaluation Evaluation
	Status     RemediationStatus
	Err        error
}

// Enforcer remediates findings
type Enforcer struct {
	dryRun bool
	logger *telemetry.Logger
}

// NewEnforcer creates an enforcer. In dry-run mode nothing is remediated.
func NewEnforcer(dryRun bool) *Enforcer {
	return &Enforcer{
		dryRun: dryRun,
		logger: telemetry.NewLogger("policy-enforcer"),
	}
}

// Enforce remediates every remediable finding in evals. Compliant and
// excluded evaluations are left alone. Failures are collected, not fatal.
func (e *Enforcer) Enforce(ctx context.Context, evals []Evaluation) []Remediation {
	var out []Remediation
	for _, ev := range evals {
		if !ev.Finding() || !ev.Remediable {
			continue
		}

		e.logger.WithContext(ctx).Info().
			Str("engine", ev.EngineID()).
			Str("policy_id", ev.PolicyID).
			Str("resource_name", ev.Resource.FullName()).
			Bool("dry_run", e.dryRun).
			Msg("remediating finding")

		if e.dryRun {
			out = append(out, Remediation{Evaluation: ev, Status: RemediationDryRun})
			continue
		}

		if err := ev.Remediate(ctx); err != nil {
			out = append(out, Remediation{Evaluation: ev, Status: RemediationFailed, Err: err})
			continue
		}
		out = append(out, Remediation{Evaluation: ev, Status: RemediationApplied})
	}
	return out
}

// RemediationErrors joins every failed remediation
func RemediationErrors(rems []Remediation) error {
	var errs []error
	for _, r := range rems {
		if r.Err != nil {
			errs = append(errs, r.Err)
		}
	}
	return errors.Join(errs...)
}
