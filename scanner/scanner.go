// Package scanner lists asset inventory records and turns them into
// resources ready for evaluation.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"cloud.google.com/go/asset/apiv1/assetpb"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/yairfalse/rpe/extractor"
	"github.com/yairfalse/rpe/internal/config"
	"github.com/yairfalse/rpe/internal/filter"
	"github.com/yairfalse/rpe/pkg/resource"
	"github.com/yairfalse/rpe/telemetry"
)

// Lister returns the asset inventory records matching a request
type Lister interface {
	List(ctx context.Context, req *assetpb.ListAssetsRequest) ([]*assetpb.Asset, error)
}

// Scanner builds resources from an asset inventory listing
type Scanner struct {
	lister     Lister
	extractor  *extractor.Asset
	filter     *filter.Filter
	parent     string
	assetTypes []string
	logger     *telemetry.Logger
	tracer     trace.Tracer
}

// Result summarizes one scan
type Result struct {
	Resources []*resource.Resource
	// Listed counts the records returned by the inventory.
	Listed int
	// Unsupported counts records whose type or name the registry rejects.
	Unsupported int
	// Filtered counts resources dropped by the type and label filters.
	Filtered int
	ByType   map[resource.Type]int
	Duration time.Duration
}

// New creates a scanner. When cfg lists no asset types every type the
// registry knows is requested.
func New(lister Lister, reg *resource.Registry, cfg config.ScanConfig) *Scanner {
	types := cfg.AssetTypes
	if len(types) == 0 {
		for _, t := range reg.Types() {
			types = append(types, string(t))
		}
		sort.Strings(types)
	}

	return &Scanner{
		lister:     lister,
		extractor:  extractor.NewAsset(reg),
		filter:     filter.New(cfg),
		parent:     cfg.Parent,
		assetTypes: types,
		logger:     telemetry.NewLogger("scanner"),
		tracer:     otel.Tracer("scanner"),
	}
}

// Scan lists the configured parent and returns the resources that pass the
// filters. Records the registry cannot model are counted and skipped.
func (s *Scanner) Scan(ctx context.Context) (*Result, error) {
	if s.parent == "" {
		return nil, errors.New("scan parent is required")
	}

	attrs := []attribute.KeyValue{
		attribute.String("scan.parent", s.parent),
		attribute.Int("scan.asset_types", len(s.assetTypes)),
	}
	ctx, span := s.tracer.Start(ctx, "scanner.scan", trace.WithAttributes(attrs...))
	defer span.End()
	s.logger.LogSpanStart(ctx, "scanner.scan", attrs...)

	start := time.Now()
	assets, err := s.lister.List(ctx, &assetpb.ListAssetsRequest{
		Parent:      s.parent,
		AssetTypes:  s.assetTypes,
		ContentType: assetpb.ContentType_CONTENT_TYPE_UNSPECIFIED,
	})
	if err != nil {
		err = fmt.Errorf("list assets under %s: %w", s.parent, err)
		span.RecordError(err)
		s.logger.LogSpanEnd(ctx, "scanner.scan", err)
		return nil, err
	}

	result := &Result{
		Listed: len(assets),
		ByType: make(map[resource.Type]int),
	}
	log := s.logger.WithContext(ctx)

	for _, a := range assets {
		out, err := s.extractor.ExtractRecord(ctx, extractor.AssetRecord{
			Name:      a.GetName(),
			AssetType: a.GetAssetType(),
		})
		if err != nil {
			result.Unsupported++
			log.Debug().
				Err(err).
				Str("resource_type", a.GetAssetType()).
				Str("resource_name", a.GetName()).
				Msg("asset skipped")
			continue
		}

		for _, r := range out.Resources {
			if !s.filter.ShouldIncludeResource(ctx, r) {
				result.Filtered++
				continue
			}
			result.Resources = append(result.Resources, r)
			result.ByType[r.Type()]++
		}
	}
	result.Duration = time.Since(start)

	span.SetAttributes(
		attribute.Int("scan.listed", result.Listed),
		attribute.Int("scan.resources", len(result.Resources)),
	)
	log.Info().
		Str("parent", s.parent).
		Int("listed", result.Listed).
		Int("resources", len(result.Resources)).
		Int("unsupported", result.Unsupported).
		Int("filtered", result.Filtered).
		Dur("duration", result.Duration).
		Msg("asset scan complete")
	s.logger.LogSpanEnd(ctx, "scanner.scan", nil)

	return result, nil
}
