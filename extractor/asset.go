package extractor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"

	"github.com/yairfalse/rpe/pkg/resource"
	"github.com/yairfalse/rpe/telemetry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// AssetRecord is an asset inventory change record, as published by the
// asset feed relay.
type AssetRecord struct {
	Name      string         `json:"name"`
	AssetType string         `json:"asset_type"`
	ProjectID string         `json:"project_id"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Asset extracts the single resource an asset record names
type Asset struct {
	registry *resource.Registry
	tracer   trace.Tracer
}

// NewAsset creates an asset record extractor
func NewAsset(reg *resource.Registry) *Asset {
	return &Asset{
		registry: reg,
		tracer:   otel.Tracer("asset-extractor"),
	}
}

// Name implements Extractor
func (a *Asset) Name() string {
	return "asset"
}

// Extract decodes a JSON asset record
func (a *Asset) Extract(ctx context.Context, payload []byte) (*Extracted, error) {
	var rec AssetRecord
	if err := json.Unmarshal(payload, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode asset record: %w", err)
	}
	return a.ExtractRecord(ctx, rec)
}

// ExtractRecord builds the resource named by rec
func (a *Asset) ExtractRecord(ctx context.Context, rec AssetRecord) (*Extracted, error) {
	_, span := a.tracer.Start(ctx, "Asset.Extract")
	defer span.End()

	if rec.Name == "" || rec.AssetType == "" {
		return nil, errors.New("asset record requires name and asset_type")
	}

	r, err := a.registry.FromAssetName(
		rec.Name,
		resource.Type(rec.AssetType),
		resource.Fields{resource.FieldProjectID: rec.ProjectID},
	)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to build resource from asset record: %w", err)
	}

	telemetry.RecordExtractionEvent(span, a.Name(), "", "", 1)

	meta := Metadata{}
	if len(rec.Metadata) > 0 {
		meta.Extra = maps.Clone(rec.Metadata)
	}

	return &Extracted{
		Resources: []*resource.Resource{r},
		Metadata:  meta,
	}, nil
}
