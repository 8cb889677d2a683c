package policy

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yairfalse/rpe/pkg/resource"
)

func enforcerEngine(t *testing.T, remediated *[]string) *GoEngine {
	t.Helper()

	fixable := bucketPolicy("fixable", CompliantExcluded(constant(false), nil))
	fixable.Remediate = func(_ context.Context, r *resource.Resource) error {
		*remediated = append(*remediated, "fixable:"+r.Name())
		return nil
	}

	exempt := bucketPolicy("exempt", CompliantExcluded(constant(false), constant(true)))
	exempt.Remediate = func(context.Context, *resource.Resource) error {
		*remediated = append(*remediated, "exempt")
		return nil
	}

	ok := bucketPolicy("ok", CompliantExcluded(constant(true), nil))
	ok.Remediate = func(context.Context, *resource.Resource) error {
		*remediated = append(*remediated, "ok")
		return nil
	}

	broken := bucketPolicy("broken", CompliantExcluded(constant(false), nil))
	broken.Remediate = func(context.Context, *resource.Resource) error {
		return errors.New("quota exceeded")
	}

	manual := bucketPolicy("manual", CompliantExcluded(constant(false), nil))

	return newEngine(t, fixable, exempt, ok, broken, manual)
}

func TestEnforcer_RemediatesFindingsOnly(t *testing.T) {
	var remediated []string
	e := enforcerEngine(t, &remediated)
	ctx := context.Background()

	rems := NewEnforcer(false).Enforce(ctx, e.Evaluate(ctx, newBucket(t, "b", nil)))

	require.Len(t, rems, 2)
	assert.Equal(t, "fixable", rems[0].Evaluation.PolicyID)
	assert.Equal(t, RemediationApplied, rems[0].Status)
	assert.Equal(t, "broken", rems[1].Evaluation.PolicyID)
	assert.Equal(t, RemediationFailed, rems[1].Status)

	assert.Equal(t, []string{"fixable:b"}, remediated)
	assert.ErrorContains(t, RemediationErrors(rems), "quota exceeded")
}

func TestEnforcer_DryRun(t *testing.T) {
	var remediated []string
	e := enforcerEngine(t, &remediated)
	ctx := context.Background()

	rems := NewEnforcer(true).Enforce(ctx, e.Evaluate(ctx, newBucket(t, "b", nil)))

	require.Len(t, rems, 2)
	for _, r := range rems {
		assert.Equal(t, RemediationDryRun, r.Status)
	}
	assert.Empty(t, remediated)
	assert.NoError(t, RemediationErrors(rems))
}
