package emitter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiffTracker_FirstBatch(t *testing.T) {
	tracker := NewDiffTracker()
	evals := runBatch(t, nil, "a", "b").Evaluations()

	// First batch should return nil (no diffs on baseline)
	assert.Nil(t, tracker.ComputeDiff(evals), "first batch should return nil")

	tracker.Update(evals)
	assert.Equal(t, 2, tracker.Open())
}

func TestDiffTracker_NoChanges(t *testing.T) {
	tracker := NewDiffTracker()
	evals := runBatch(t, nil, "a", "b").Evaluations()
	tracker.Update(evals)

	diffs := tracker.ComputeDiff(evals)
	require.NotNil(t, diffs)
	assert.Empty(t, diffs, "identical verdicts should produce no diffs")
}

func TestDiffTracker_OpenedAndResolved(t *testing.T) {
	tracker := NewDiffTracker()
	tracker.Update(runBatch(t, stubFetcher{"a": {"versioning": true}}, "a", "b").Evaluations())

	next := runBatch(t, stubFetcher{"b": {"versioning": true}}, "a", "b").Evaluations()
	diffs := tracker.ComputeDiff(next)

	require.Len(t, diffs, 2)
	byName := map[string]DiffType{}
	for _, d := range diffs {
		byName[d.Evaluation.Resource.Name()] = d.Type
	}
	assert.Equal(t, map[string]DiffType{"a": DiffOpened, "b": DiffResolved}, byName)
}

func TestDiffTracker_NewResources(t *testing.T) {
	tracker := NewDiffTracker()
	tracker.Update(runBatch(t, nil, "a").Evaluations())

	diffs := tracker.ComputeDiff(runBatch(t, stubFetcher{"c": {"versioning": true}}, "b", "c").Evaluations())

	// A new compliant verdict is not a change; a new finding is.
	require.Len(t, diffs, 1)
	assert.Equal(t, DiffOpened, diffs[0].Type)
	assert.Equal(t, "b", diffs[0].Evaluation.Resource.Name())
}

func TestDiffTracker_ExcludedResolves(t *testing.T) {
	tracker := NewDiffTracker()
	tracker.Update(runBatch(t, nil, "a").Evaluations())

	diffs := tracker.ComputeDiff(runBatch(t, stubFetcher{"a": {"exempt": true}}, "a").Evaluations())

	require.Len(t, diffs, 1)
	assert.Equal(t, DiffResolved, diffs[0].Type)
}

func TestDiffTracker_UpdateMerges(t *testing.T) {
	tracker := NewDiffTracker()
	tracker.Update(runBatch(t, nil, "a").Evaluations())
	tracker.Update(runBatch(t, nil, "b").Evaluations())

	assert.Equal(t, 2, tracker.Open())
	assert.Empty(t, tracker.ComputeDiff(runBatch(t, nil, "a").Evaluations()))
}
