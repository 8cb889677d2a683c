package resource

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResourceKey(t *testing.T) {
	reg := newTestRegistry(t)
	r, err := reg.New(ComputeInstance, Fields{"name": "vm-1", "project_id": "p", "location": "us-central1-a"})
	require.NoError(t, err)

	key := ResourceKey(r)
	assert.Equal(t, "compute.googleapis.com/Instance|//compute.googleapis.com/projects/p/zones/us-central1-a/instances/vm-1", key)
}

func TestResourceKey_DifferentZones(t *testing.T) {
	reg := newTestRegistry(t)
	r1, err := reg.New(ComputeInstance, Fields{"name": "vm-1", "project_id": "p", "location": "us-central1-a"})
	require.NoError(t, err)
	r2, err := reg.New(ComputeInstance, Fields{"name": "vm-1", "project_id": "p", "location": "us-central1-b"})
	require.NoError(t, err)

	// Same name but different zones should produce different keys
	assert.NotEqual(t, ResourceKey(r1), ResourceKey(r2))
}

func TestChange_Diff(t *testing.T) {
	tests := []struct {
		name   string
		change Change
		seen   bool
		want   DiffType
	}{
		{"first sighting", Change{Current: "1"}, false, DiffAdded},
		{"same incarnation", Change{Previous: "1", Current: "1"}, true, DiffUnchanged},
		{"recreated", Change{Previous: "1", Current: "2"}, true, DiffRecreated},
		{"fetch failed", Change{Previous: "1"}, true, DiffUnknown},
		{"no previous", Change{Current: "2"}, true, DiffUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.change.Diff(tt.seen))
		})
	}
}
