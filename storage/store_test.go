package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/rpe/pkg/resource"
	"github.com/yairfalse/rpe/policy"
)

type stubFetcher struct {
	data map[string]any
}

func (s *stubFetcher) Fetch(context.Context, *resource.Resource) (map[string]any, error) {
	return s.data, nil
}

func newStore(t *testing.T) (*FindingStore, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "state", "findings.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, path
}

func newBucket(t *testing.T, name string, data map[string]any) *resource.Resource {
	t.Helper()
	reg, err := resource.NewGCPRegistry(resource.WithFetcher(&stubFetcher{data: data}))
	require.NoError(t, err)
	r, err := reg.New(resource.StorageBucket, resource.Fields{"name": name})
	require.NoError(t, err)
	return r
}

func constant(v bool) policy.PredicateFunc {
	return func(context.Context, *resource.Resource) (bool, error) {
		return v, nil
	}
}

func evaluate(t *testing.T, r *resource.Resource, verdicts map[string]bool) []policy.Evaluation {
	t.Helper()
	var defs policy.Definitions
	for _, id := range []string{"encryption", "versioning"} {
		v, ok := verdicts[id]
		if !ok {
			continue
		}
		defs = append(defs, policy.Definition{
			ID:        id,
			AppliesTo: []resource.Type{resource.StorageBucket},
			Check:     policy.CompliantExcluded(constant(v), nil),
		})
	}
	e := policy.NewGoEngine("builtin")
	_, err := e.Discover(defs)
	require.NoError(t, err)
	return e.Evaluate(context.Background(), r)
}

func TestFindingStore_Record(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()
	b := newBucket(t, "b", nil)

	rev, err := s.Record(ctx, evaluate(t, b, map[string]bool{"versioning": false, "encryption": true}))
	require.NoError(t, err)
	assert.Equal(t, int64(1), rev)

	latest := s.Latest(resource.ResourceKey(b))
	require.Len(t, latest, 2)
	assert.Equal(t, "encryption", latest[0].PolicyID)
	assert.True(t, latest[0].Compliant)
	assert.Equal(t, "versioning", latest[1].PolicyID)
	assert.True(t, latest[1].Open())
	assert.Equal(t, "builtin", latest[1].EngineID)
	assert.Equal(t, "//storage.googleapis.com/b", latest[1].FullName)
	assert.Equal(t, false, latest[1].Attributes[policy.AttrExcluded])

	findings, current := s.Stats()
	assert.Equal(t, 2, findings)
	assert.Equal(t, int64(1), current)
}

func TestFindingStore_FirstSeenRevTracksVerdictChanges(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()
	b := newBucket(t, "b", nil)
	key := resource.ResourceKey(b)

	_, err := s.Record(ctx, evaluate(t, b, map[string]bool{"versioning": false}))
	require.NoError(t, err)
	_, err = s.Record(ctx, evaluate(t, b, map[string]bool{"versioning": false}))
	require.NoError(t, err)

	f, ok := s.Get(key, "builtin", "versioning")
	require.True(t, ok)
	assert.Equal(t, int64(1), f.FirstSeenRev)
	assert.Equal(t, int64(2), f.LastSeenRev)

	_, err = s.Record(ctx, evaluate(t, b, map[string]bool{"versioning": true}))
	require.NoError(t, err)

	f, ok = s.Get(key, "builtin", "versioning")
	require.True(t, ok)
	assert.True(t, f.Compliant)
	assert.Equal(t, int64(3), f.FirstSeenRev)
}

func TestFindingStore_LatestIsolatesResources(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()

	a := newBucket(t, "logs", nil)
	b := newBucket(t, "logs-archive", nil)

	_, err := s.Record(ctx, append(
		evaluate(t, a, map[string]bool{"versioning": false}),
		evaluate(t, b, map[string]bool{"versioning": true, "encryption": false})...,
	))
	require.NoError(t, err)

	assert.Len(t, s.Latest(resource.ResourceKey(a)), 1)
	assert.Len(t, s.Latest(resource.ResourceKey(b)), 2)
	assert.Empty(t, s.Latest("missing"))

	open := s.OpenFindings()
	require.Len(t, open, 2)
	assert.Equal(t, "//storage.googleapis.com/logs", open[0].FullName)
	assert.Equal(t, "//storage.googleapis.com/logs-archive", open[1].FullName)
}

func TestFindingStore_Reopen(t *testing.T) {
	s, path := newStore(t)
	ctx := context.Background()
	b := newBucket(t, "b", nil)

	_, err := s.Record(ctx, evaluate(t, b, map[string]bool{"versioning": false}))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()

	assert.Equal(t, int64(1), reopened.CurrentRevision())
	f, ok := reopened.Get(resource.ResourceKey(b), "builtin", "versioning")
	require.True(t, ok)
	assert.True(t, f.Open())

	rev, err := reopened.Record(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), rev)
}

func TestFindingStore_RecordCancelled(t *testing.T) {
	s, _ := newStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Record(ctx, nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int64(0), s.CurrentRevision())
}

func TestFindingStore_ObserveUniquifier(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()

	first := newBucket(t, "b", map[string]any{"timeCreated": "2024-01-01T00:00:00Z"})
	key := resource.ResourceKey(first)

	diff, err := s.ObserveUniquifier(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, resource.DiffAdded, diff)

	_, err = s.Record(ctx, evaluate(t, first, map[string]bool{"versioning": false}))
	require.NoError(t, err)

	diff, err = s.ObserveUniquifier(ctx, newBucket(t, "b", map[string]any{"timeCreated": "2024-01-01T00:00:00Z"}))
	require.NoError(t, err)
	assert.Equal(t, resource.DiffUnchanged, diff)

	diff, err = s.ObserveUniquifier(ctx, newBucket(t, "b", nil))
	require.NoError(t, err)
	assert.Equal(t, resource.DiffUnknown, diff)
	assert.Len(t, s.Latest(key), 1)

	diff, err = s.ObserveUniquifier(ctx, newBucket(t, "b", map[string]any{"timeCreated": "2024-06-01T00:00:00Z"}))
	require.NoError(t, err)
	assert.Equal(t, resource.DiffRecreated, diff)
	assert.Empty(t, s.Latest(key))

	rec, err := s.Resource(key)
	require.NoError(t, err)
	assert.Equal(t, "2024-06-01T00:00:00Z", rec.Uniquifier)
	assert.Equal(t, 1, rec.Recreations)

	_, err = s.Resource("missing")
	assert.Error(t, err)
}

func TestFindingStore_Remediations(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()
	ev := evaluate(t, newBucket(t, "b", nil), map[string]bool{"versioning": false})[0]

	require.NoError(t, s.RecordRemediation(ctx, policy.Remediation{Evaluation: ev, Status: policy.RemediationApplied}))
	mid := time.Now()
	time.Sleep(time.Millisecond)
	require.NoError(t, s.RecordRemediation(ctx, policy.Remediation{
		Evaluation: ev,
		Status:     policy.RemediationFailed,
		Err:        errors.New("forbidden"),
	}))

	all, err := s.Remediations(ctx, time.Time{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, policy.RemediationApplied, all[0].Status)
	assert.Equal(t, "versioning", all[0].PolicyID)
	assert.Equal(t, "builtin", all[0].EngineID)
	assert.Equal(t, "forbidden", all[1].Error)

	recent, err := s.Remediations(ctx, mid)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, policy.RemediationFailed, recent[0].Status)
}
