package policy

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yairfalse/rpe/pkg/resource"
)

type stubFetcher struct {
	data map[string]any
}

func (s stubFetcher) Fetch(context.Context, *resource.Resource) (map[string]any, error) {
	return s.data, nil
}

func newRegistry(t *testing.T, data map[string]any) *resource.Registry {
	t.Helper()
	reg, err := resource.NewGCPRegistry(resource.WithFetcher(stubFetcher{data: data}))
	require.NoError(t, err)
	return reg
}

func newBucket(t *testing.T, name string, data map[string]any) *resource.Resource {
	t.Helper()
	r, err := newRegistry(t, data).New(resource.StorageBucket, resource.Fields{
		resource.FieldName:      name,
		resource.FieldProjectID: "test-project",
	})
	require.NoError(t, err)
	return r
}

func newNetwork(t *testing.T) *resource.Resource {
	t.Helper()
	r, err := newRegistry(t, nil).New(resource.ComputeNetwork, resource.Fields{
		resource.FieldName:      "default",
		resource.FieldProjectID: "test-project",
	})
	require.NoError(t, err)
	return r
}

func constant(compliant bool) PredicateFunc {
	return func(context.Context, *resource.Resource) (bool, error) {
		return compliant, nil
	}
}

func bucketPolicy(id string, check Check) Definition {
	return Definition{
		ID:          id,
		AppliesTo:   []resource.Type{resource.StorageBucket},
		Description: id + " description",
		Check:       check,
	}
}

func newEngine(t *testing.T, defs ...Definition) *GoEngine {
	t.Helper()
	e := NewGoEngine("builtin")
	_, err := e.Discover(Definitions(defs))
	require.NoError(t, err)
	return e
}

func policyIDs(evals []Evaluation) []string {
	ids := make([]string, 0, len(evals))
	for _, ev := range evals {
		ids = append(ids, ev.PolicyID)
	}
	return ids
}

func TestGoEngine_DiscoveryOrder(t *testing.T) {
	e := newEngine(t,
		bucketPolicy("zeta", CompliantExcluded(constant(true), nil)),
		bucketPolicy("alpha", CompliantExcluded(constant(true), nil)),
		Definition{
			ID:        "network-only",
			AppliesTo: []resource.Type{resource.ComputeNetwork},
			Check:     CompliantExcluded(constant(true), nil),
		},
		bucketPolicy("mid", CompliantExcluded(constant(true), nil)),
	)

	infos := e.Policies()
	require.Len(t, infos, 4)
	assert.Equal(t, "zeta", infos[0].ID)
	assert.Equal(t, "builtin", infos[0].EngineID)

	evals := e.Evaluate(context.Background(), newBucket(t, "b", nil))
	assert.Equal(t, []string{"zeta", "alpha", "mid"}, policyIDs(evals))
}

func TestGoEngine_DiscoverRejects(t *testing.T) {
	tests := []struct {
		name    string
		defs    []Definition
		wantErr error
	}{
		{
			name: "duplicate id",
			defs: []Definition{
				bucketPolicy("same", CompliantExcluded(constant(true), nil)),
				bucketPolicy("same", CompliantExcluded(constant(false), nil)),
			},
			wantErr: ErrDuplicatePolicy,
		},
		{
			name:    "empty id",
			defs:    []Definition{bucketPolicy("", CompliantExcluded(constant(true), nil))},
			wantErr: ErrInvalidPolicy,
		},
		{
			name:    "no resource types",
			defs:    []Definition{{ID: "x", Check: CompliantExcluded(constant(true), nil)}},
			wantErr: ErrInvalidPolicy,
		},
		{
			name:    "no check",
			defs:    []Definition{bucketPolicy("x", Check{})},
			wantErr: ErrInvalidPolicy,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewGoEngine("builtin")
			_, err := e.Discover(Definitions(tt.defs))
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Empty(t, e.Policies(), "failed discovery must register nothing")
		})
	}
}

func TestGoEngine_DuplicateAcrossSources(t *testing.T) {
	e := newEngine(t, bucketPolicy("p1", CompliantExcluded(constant(true), nil)))

	_, err := e.Discover(Definitions{bucketPolicy("p1", CompliantExcluded(constant(true), nil))})
	assert.ErrorIs(t, err, ErrDuplicatePolicy)
	assert.Len(t, e.Policies(), 1)
}

type failingSource struct{}

func (failingSource) Definitions() ([]Definition, error) {
	return nil, errors.New("pack unavailable")
}

func TestGoEngine_SourceError(t *testing.T) {
	_, err := NewGoEngine("x").Discover(failingSource{})
	assert.ErrorContains(t, err, "pack unavailable")
}

func TestGoEngine_GeneratedID(t *testing.T) {
	a, b := NewGoEngine(""), NewGoEngine("")
	assert.Contains(t, a.ID(), "go-")
	assert.NotEqual(t, a.ID(), b.ID())
}

func TestGoEngine_Protocols(t *testing.T) {
	tests := []struct {
		name          string
		check         Check
		wantCompliant bool
		wantExcluded  bool
		wantAttrs     map[string]any
	}{
		{
			name: "evaluate without excluded attribute",
			check: EvaluateWith(func(context.Context, *resource.Resource) (Result, error) {
				return Result{Compliant: false, Attributes: map[string]any{"reason": "public"}}, nil
			}),
			wantAttrs: map[string]any{"reason": "public", "excluded": false},
		},
		{
			name: "evaluate with excluded attribute",
			check: EvaluateWith(func(context.Context, *resource.Resource) (Result, error) {
				return Result{Compliant: true, Attributes: map[string]any{"excluded": true}}, nil
			}),
			wantCompliant: true,
			wantExcluded:  true,
			wantAttrs:     map[string]any{"excluded": true},
		},
		{
			name:          "legacy pair",
			check:         CompliantExcluded(constant(false), constant(true)),
			wantExcluded:  true,
			wantAttrs:     map[string]any{"excluded": true},
			wantCompliant: false,
		},
		{
			name:          "legacy without excluded",
			check:         CompliantExcluded(constant(true), nil),
			wantCompliant: true,
			wantAttrs:     map[string]any{"excluded": false},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEngine(t, bucketPolicy("p", tt.check))

			evals := e.Evaluate(context.Background(), newBucket(t, "b", nil))
			require.Len(t, evals, 1)
			ev := evals[0]
			assert.Equal(t, tt.wantCompliant, ev.Compliant)
			assert.Equal(t, tt.wantExcluded, ev.Excluded())
			assert.Equal(t, tt.wantAttrs, ev.EvaluationAttributes)
			assert.Equal(t, "builtin", ev.EngineID())
		})
	}
}

func TestGoEngine_ShouldEvaluate(t *testing.T) {
	skip := bucketPolicy("skipped", CompliantExcluded(constant(false), nil))
	skip.ShouldEvaluate = constant(false)

	keep := bucketPolicy("kept", CompliantExcluded(constant(false), nil))
	keep.ShouldEvaluate = constant(true)

	e := newEngine(t, skip, keep)
	report := e.EvaluateReport(context.Background(), newBucket(t, "b", nil))

	assert.Equal(t, []string{"kept"}, policyIDs(report.Evaluations))
	assert.Equal(t, []string{"skipped"}, report.Skipped)
	assert.Empty(t, report.Failures)
}

func TestGoEngine_FaultyPolicyIsolation(t *testing.T) {
	boom := errors.New("boom")

	failing := bucketPolicy("errors", EvaluateWith(func(context.Context, *resource.Resource) (Result, error) {
		return Result{}, boom
	}))
	panicking := bucketPolicy("panics", CompliantExcluded(func(context.Context, *resource.Resource) (bool, error) {
		panic("nil map")
	}, nil))
	badFilter := bucketPolicy("bad-filter", CompliantExcluded(constant(true), nil))
	badFilter.ShouldEvaluate = func(context.Context, *resource.Resource) (bool, error) {
		return false, boom
	}
	badExcluded := bucketPolicy("bad-excluded", CompliantExcluded(constant(true), func(context.Context, *resource.Resource) (bool, error) {
		return false, boom
	}))
	healthy := bucketPolicy("healthy", CompliantExcluded(constant(true), nil))

	e := newEngine(t, failing, panicking, healthy, badFilter, badExcluded)

	for _, name := range []string{"first", "second"} {
		report := e.EvaluateReport(context.Background(), newBucket(t, name, nil))

		assert.Equal(t, []string{"healthy"}, policyIDs(report.Evaluations))
		require.Len(t, report.Failures, 4)

		byID := make(map[string]error)
		for _, f := range report.Failures {
			byID[f.PolicyID] = f.Err
		}
		assert.ErrorIs(t, byID["errors"], boom)
		assert.ErrorIs(t, byID["panics"], ErrPolicyPanic)
		assert.ErrorIs(t, byID["bad-filter"], boom)
		assert.ErrorIs(t, byID["bad-excluded"], boom)
	}
}

func TestGoEngine_NoMatchingPolicies(t *testing.T) {
	e := newEngine(t, bucketPolicy("p", CompliantExcluded(constant(true), nil)))
	report := e.EvaluateReport(context.Background(), newNetwork(t))

	assert.Empty(t, report.Evaluations)
	assert.Empty(t, report.Skipped)
	assert.Empty(t, report.Failures)
}

func TestGoEngine_PolicyAttributesAreCopied(t *testing.T) {
	def := bucketPolicy("p", CompliantExcluded(constant(true), nil))
	def.Attributes = map[string]any{"severity": "high"}
	e := newEngine(t, def)

	evals := e.Evaluate(context.Background(), newBucket(t, "b", nil))
	require.Len(t, evals, 1)
	evals[0].PolicyAttributes["severity"] = "low"

	again := e.Evaluate(context.Background(), newBucket(t, "b", nil))
	assert.Equal(t, "high", again[0].PolicyAttributes["severity"])
}

func TestGoEngine_ReadsLiveData(t *testing.T) {
	versioning := bucketPolicy("versioning", EvaluateWith(func(ctx context.Context, r *resource.Resource) (Result, error) {
		v, _ := r.Data(ctx)["versioning"].(map[string]any)
		enabled, _ := v["enabled"].(bool)
		return Result{Compliant: enabled}, nil
	}))
	e := newEngine(t, versioning)

	on := e.Evaluate(context.Background(), newBucket(t, "on", map[string]any{
		"versioning": map[string]any{"enabled": true},
	}))
	off := e.Evaluate(context.Background(), newBucket(t, "off", map[string]any{}))

	assert.True(t, on[0].Compliant)
	assert.False(t, off[0].Compliant)
	assert.True(t, off[0].Finding())
}

func TestGoEngine_Remediate(t *testing.T) {
	var remediated []string
	fixable := bucketPolicy("fixable", CompliantExcluded(constant(false), nil))
	fixable.Remediate = func(_ context.Context, r *resource.Resource) error {
		remediated = append(remediated, r.Name())
		return nil
	}
	broken := bucketPolicy("broken", CompliantExcluded(constant(false), nil))
	broken.Remediate = func(context.Context, *resource.Resource) error {
		return errors.New("permission denied")
	}
	readOnly := bucketPolicy("read-only", CompliantExcluded(constant(false), nil))

	e := newEngine(t, fixable, broken, readOnly)
	bucket := newBucket(t, "b", nil)
	ctx := context.Background()

	evals := e.Evaluate(ctx, bucket)
	require.Len(t, evals, 3)
	assert.True(t, evals[0].Remediable)
	assert.False(t, evals[2].Remediable)

	require.NoError(t, evals[0].Remediate(ctx))
	assert.Equal(t, []string{"b"}, remediated)

	err := evals[1].Remediate(ctx)
	assert.ErrorContains(t, err, "permission denied")

	err = e.Remediate(ctx, bucket, "read-only")
	assert.ErrorIs(t, err, ErrNotRemediable)

	err = e.Remediate(ctx, bucket, "missing")
	var unknown *UnknownPolicyError
	require.True(t, errors.As(err, &unknown))
	assert.Equal(t, "builtin", unknown.EngineID)
	assert.Equal(t, "missing", unknown.PolicyID)
}

func TestGoEngine_RemediatePanic(t *testing.T) {
	def := bucketPolicy("p", CompliantExcluded(constant(false), nil))
	def.Remediate = func(context.Context, *resource.Resource) error {
		panic("unexpected")
	}
	e := newEngine(t, def)

	err := e.Remediate(context.Background(), newBucket(t, "b", nil), "p")
	assert.ErrorIs(t, err, ErrPolicyPanic)
}

func TestGoEngine_ConcurrentEvaluate(t *testing.T) {
	e := newEngine(t,
		bucketPolicy("a", CompliantExcluded(constant(true), nil)),
		bucketPolicy("b", CompliantExcluded(constant(false), constant(true))),
	)
	bucket := newBucket(t, "shared", map[string]any{"id": "1"})

	var wg sync.WaitGroup
	results := make([][]Evaluation, 16)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = e.Evaluate(context.Background(), bucket)
		}()
	}
	wg.Wait()

	for _, evals := range results {
		assert.Equal(t, []string{"a", "b"}, policyIDs(evals))
	}
}
