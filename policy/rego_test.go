package policy

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yairfalse/rpe/pkg/resource"
)

func loadTestBundle(t *testing.T) (*RegoEngine, []Info) {
	t.Helper()
	e := NewRegoEngine("rego")
	infos, err := NewRegoLoader(filepath.Join("testdata", "rego"), e).Load(context.Background())
	require.NoError(t, err)
	return e, infos
}

func TestRegoLoader_LoadsBundle(t *testing.T) {
	_, infos := loadTestBundle(t)

	require.Len(t, infos, 2)
	assert.Equal(t, "bucket_uniform_access", infos[0].ID)
	assert.Equal(t, "bucket_versioning", infos[1].ID)

	v := infos[1]
	assert.Equal(t, "rego", v.EngineID)
	assert.Equal(t, []resource.Type{resource.StorageBucket}, v.AppliesTo)
	assert.Equal(t, "Storage buckets must have object versioning enabled", v.Description)
	assert.Equal(t, map[string]any{"severity": "medium"}, v.Attributes)
	assert.False(t, v.Remediable)
}

func TestRegoLoader_MissingBundle(t *testing.T) {
	_, err := NewRegoLoader(filepath.Join(t.TempDir(), "nope"), NewRegoEngine("rego")).Load(context.Background())
	assert.ErrorContains(t, err, "does not exist")
}

func TestRegoLoader_ValidateFilePath(t *testing.T) {
	pl := NewRegoLoader("/policies", NewRegoEngine("rego"))

	assert.NoError(t, pl.validateFilePath("/policies/storage/bucket.rego"))
	assert.Error(t, pl.validateFilePath("/policies/../etc/passwd.rego"))
	assert.Error(t, pl.validateFilePath("/other/bucket.rego"))
}

func TestRegoLoader_BadModuleFailsLoad(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.rego"), []byte("package rpe.broken\n\ncompliant if {"), 0o600))

	_, err := NewRegoLoader(dir, NewRegoEngine("rego")).Load(context.Background())
	assert.ErrorContains(t, err, "broken")
}

func TestRegoEngine_Evaluate(t *testing.T) {
	e, _ := loadTestBundle(t)

	tests := []struct {
		name      string
		data      map[string]any
		wantIDs   []string
		compliant map[string]bool
		excluded  map[string]bool
		skipped   []string
	}{
		{
			name: "compliant bucket",
			data: map[string]any{
				"versioning":       map[string]any{"enabled": true},
				"iamConfiguration": map[string]any{"uniformBucketLevelAccess": map[string]any{"enabled": true}},
			},
			wantIDs:   []string{"bucket_uniform_access", "bucket_versioning"},
			compliant: map[string]bool{"bucket_uniform_access": true, "bucket_versioning": true},
			excluded:  map[string]bool{},
		},
		{
			name:      "bare bucket",
			data:      map[string]any{},
			wantIDs:   []string{"bucket_uniform_access", "bucket_versioning"},
			compliant: map[string]bool{},
			excluded:  map[string]bool{},
		},
		{
			name: "exempt and externally managed",
			data: map[string]any{
				"labels": map[string]any{"policy-exempt": "true", "managed-by": "external"},
			},
			wantIDs:   []string{"bucket_versioning"},
			compliant: map[string]bool{},
			excluded:  map[string]bool{"bucket_versioning": true},
			skipped:   []string{"bucket_uniform_access"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report := e.EvaluateReport(context.Background(), newBucket(t, "b", tt.data))

			assert.Equal(t, tt.wantIDs, policyIDs(report.Evaluations))
			assert.Equal(t, tt.skipped, report.Skipped)
			assert.Empty(t, report.Failures)

			for _, ev := range report.Evaluations {
				assert.Equal(t, tt.compliant[ev.PolicyID], ev.Compliant, ev.PolicyID)
				assert.Equal(t, tt.excluded[ev.PolicyID], ev.Excluded(), ev.PolicyID)
				assert.False(t, ev.Remediable)
			}
		})
	}
}

func TestRegoEngine_EvaluationAttributes(t *testing.T) {
	e, _ := loadTestBundle(t)

	evals := e.Evaluate(context.Background(), newBucket(t, "b", map[string]any{}))
	require.NotEmpty(t, evals)

	ua := evals[0]
	assert.Equal(t, "bucket_uniform_access", ua.PolicyID)
	assert.Equal(t, "iamConfiguration.uniformBucketLevelAccess", ua.EvaluationAttributes["checked"])
	assert.Equal(t, false, ua.EvaluationAttributes["excluded"])
	assert.Equal(t, "high", ua.PolicyAttributes["severity"])
}

func TestRegoEngine_InputDocument(t *testing.T) {
	e := NewRegoEngine("rego")
	require.NoError(t, e.LoadPolicy(context.Background(), "named_test_project", `package rpe.input_check

import rego.v1

applies_to := ["storage.googleapis.com/Bucket"]

compliant := input.project_id == "test-project"

evaluation_attributes := {"full_name": input.full_name, "type": input.type}
`))

	evals := e.Evaluate(context.Background(), newBucket(t, "b", nil))
	require.Len(t, evals, 1)
	assert.True(t, evals[0].Compliant)
	assert.Equal(t, "//storage.googleapis.com/b", evals[0].EvaluationAttributes["full_name"])
	assert.Equal(t, string(resource.StorageBucket), evals[0].EvaluationAttributes["type"])
}

func TestRegoEngine_NoVerdictIsolated(t *testing.T) {
	e := NewRegoEngine("rego")
	ctx := context.Background()

	require.NoError(t, e.LoadPolicy(ctx, "undefined_verdict", `package rpe.undefined_verdict

import rego.v1

applies_to := ["storage.googleapis.com/Bucket"]

compliant if input.data.never_present == true
`))
	require.NoError(t, e.LoadPolicy(ctx, "always", `package rpe.always

import rego.v1

applies_to := ["storage.googleapis.com/Bucket"]

compliant := true
`))

	report := e.EvaluateReport(ctx, newBucket(t, "b", nil))
	assert.Equal(t, []string{"always"}, policyIDs(report.Evaluations))
	require.Len(t, report.Failures, 1)
	assert.Equal(t, "undefined_verdict", report.Failures[0].PolicyID)
}

func TestRegoEngine_LoadPolicyErrors(t *testing.T) {
	ctx := context.Background()
	valid := `package rpe.ok

import rego.v1

applies_to := ["storage.googleapis.com/Bucket"]

compliant := true
`

	t.Run("duplicate id", func(t *testing.T) {
		e := NewRegoEngine("rego")
		require.NoError(t, e.LoadPolicy(ctx, "ok", valid))
		assert.ErrorIs(t, e.LoadPolicy(ctx, "ok", valid), ErrDuplicatePolicy)
	})

	t.Run("missing applies_to", func(t *testing.T) {
		err := NewRegoEngine("rego").LoadPolicy(ctx, "x", "package rpe.x\n\ncompliant := true\n")
		assert.ErrorIs(t, err, ErrInvalidPolicy)
	})

	t.Run("syntax error", func(t *testing.T) {
		err := NewRegoEngine("rego").LoadPolicy(ctx, "x", "package")
		assert.Error(t, err)
	})
}

func TestRegoEngine_Remediate(t *testing.T) {
	e, _ := loadTestBundle(t)
	bucket := newBucket(t, "b", nil)

	err := e.Remediate(context.Background(), bucket, "bucket_versioning")
	assert.ErrorIs(t, err, ErrNotRemediable)

	err = e.Remediate(context.Background(), bucket, "missing")
	var unknown *UnknownPolicyError
	assert.True(t, errors.As(err, &unknown))
}
