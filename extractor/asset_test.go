package extractor

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yairfalse/rpe/pkg/resource"
)

func TestAsset_Extract(t *testing.T) {
	tests := []struct {
		name      string
		payload   string
		wantType  resource.Type
		wantName  string
		wantExtra map[string]any
	}{
		{
			name: "compute instance with metadata",
			payload: `{
				"name": "//compute.googleapis.com/projects/test-project/zones/us-central1-a/instances/test-instance",
				"asset_type": "compute.googleapis.com/Instance",
				"project_id": "test-project",
				"metadata": {"src": "instance"}
			}`,
			wantType:  resource.ComputeInstance,
			wantName:  "test-instance",
			wantExtra: map[string]any{"src": "instance"},
		},
		{
			name: "bucket takes project from record",
			payload: `{
				"name": "//storage.googleapis.com/test-bucket",
				"asset_type": "storage.googleapis.com/Bucket",
				"project_id": "test-project",
				"metadata": {"src": "bucket"}
			}`,
			wantType:  resource.StorageBucket,
			wantName:  "test-bucket",
			wantExtra: map[string]any{"src": "bucket"},
		},
		{
			name: "bucket without metadata",
			payload: `{
				"name": "//storage.googleapis.com/test-bucket",
				"asset_type": "storage.googleapis.com/Bucket",
				"project_id": "test-project"
			}`,
			wantType: resource.StorageBucket,
			wantName: "test-bucket",
		},
	}

	ex := NewAsset(newTestRegistry(t))
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := ex.Extract(context.Background(), []byte(tt.payload))
			require.NoError(t, err)

			require.Len(t, out.Resources, 1)
			r := out.Resources[0]
			assert.Equal(t, tt.wantType, r.Type())
			assert.Equal(t, tt.wantName, r.Name())
			assert.Equal(t, testProject, r.ProjectID())
			assert.Equal(t, tt.wantExtra, out.Metadata.Extra)
		})
	}
}

func TestAsset_Errors(t *testing.T) {
	ex := NewAsset(newTestRegistry(t))

	t.Run("not json", func(t *testing.T) {
		_, err := ex.Extract(context.Background(), []byte("nope"))
		assert.Error(t, err)
	})

	t.Run("missing name", func(t *testing.T) {
		_, err := ex.Extract(context.Background(), []byte(`{"asset_type": "storage.googleapis.com/Bucket"}`))
		assert.Error(t, err)
	})

	t.Run("unknown asset type", func(t *testing.T) {
		_, err := ex.ExtractRecord(context.Background(), AssetRecord{
			Name:      "//example.googleapis.com/things/x",
			AssetType: "example.googleapis.com/Thing",
		})
		var unknown *resource.UnknownTypeError
		require.True(t, errors.As(err, &unknown))
		assert.Equal(t, resource.Type("example.googleapis.com/Thing"), unknown.Type)
	})

	t.Run("name does not match type", func(t *testing.T) {
		_, err := ex.ExtractRecord(context.Background(), AssetRecord{
			Name:      "//compute.googleapis.com/projects/p/global/networks/n",
			AssetType: string(resource.ComputeInstance),
		})
		var invalid *resource.InvalidNameError
		assert.True(t, errors.As(err, &invalid))
	})
}
