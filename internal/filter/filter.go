// Package filter decides which extracted resources are handed to the policy engines.
package filter

import (
	"context"
	"fmt"

	"github.com/yairfalse/rpe/internal/config"
	"github.com/yairfalse/rpe/pkg/resource"
)

// Filter controls which resource types to evaluate and which resources to include.
type Filter struct {
	includeTypes  map[resource.Type]bool
	excludeTypes  map[resource.Type]bool
	includeLabels map[string]string
	excludeLabels map[string]string
}

// New creates a new Filter from the scan configuration. An empty asset type
// list admits every type.
func New(cfg config.ScanConfig) *Filter {
	return &Filter{
		includeTypes:  typeSet(cfg.AssetTypes),
		excludeTypes:  typeSet(cfg.ExcludeTypes),
		includeLabels: cfg.IncludeLabels,
		excludeLabels: cfg.ExcludeLabels,
	}
}

func typeSet(types []string) map[resource.Type]bool {
	set := make(map[resource.Type]bool, len(types))
	for _, t := range types {
		set[resource.Type(t)] = true
	}
	return set
}

// ShouldScanType returns true if the given resource type should be evaluated.
func (f *Filter) ShouldScanType(typ resource.Type) bool {
	if f.excludeTypes[typ] {
		return false
	}
	return len(f.includeTypes) == 0 || f.includeTypes[typ]
}

// ShouldIncludeLabels returns true if the labels pass the label filters.
func (f *Filter) ShouldIncludeLabels(labels map[string]string) bool {
	// ALL include labels must match
	for k, v := range f.includeLabels {
		if labels[k] != v {
			return false
		}
	}

	// ANY exclude label excludes
	for k, v := range f.excludeLabels {
		if got, ok := labels[k]; ok && got == v {
			return false
		}
	}

	return true
}

// ShouldIncludeResource returns true if the resource passes the type and
// label filters. Label filters read the live data, so they trigger a fetch.
func (f *Filter) ShouldIncludeResource(ctx context.Context, r *resource.Resource) bool {
	if !f.ShouldScanType(r.Type()) {
		return false
	}
	if len(f.includeLabels) == 0 && len(f.excludeLabels) == 0 {
		return true
	}
	return f.ShouldIncludeLabels(Labels(ctx, r))
}

// FilterResources returns only resources that pass the filter.
func (f *Filter) FilterResources(ctx context.Context, resources []*resource.Resource) []*resource.Resource {
	if f.IsEmpty() {
		return resources
	}

	filtered := make([]*resource.Resource, 0, len(resources))
	for _, r := range resources {
		if f.ShouldIncludeResource(ctx, r) {
			filtered = append(filtered, r)
		}
	}
	return filtered
}

// IsEmpty returns true if no filters are configured.
func (f *Filter) IsEmpty() bool {
	return len(f.includeTypes) == 0 && len(f.excludeTypes) == 0 &&
		len(f.includeLabels) == 0 && len(f.excludeLabels) == 0
}

// Labels reads the user labels of a resource. Cloud SQL keeps them under
// settings.userLabels; everything else uses a top level labels map.
func Labels(ctx context.Context, r *resource.Resource) map[string]string {
	data := r.Data(ctx)
	raw, ok := data["labels"].(map[string]any)
	if !ok {
		if settings, ok := data["settings"].(map[string]any); ok {
			raw, _ = settings["userLabels"].(map[string]any)
		}
	}
	if len(raw) == 0 {
		return nil
	}

	labels := make(map[string]string, len(raw))
	for k, v := range raw {
		if s, ok := v.(string); ok {
			labels[k] = s
			continue
		}
		labels[k] = fmt.Sprint(v)
	}
	return labels
}
