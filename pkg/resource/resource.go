// Package resource defines canonical cloud resource identities and their
// lazily fetched live state.
package resource

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/yairfalse/rpe/telemetry"
)

// Fields holds identity fields keyed by field name.
type Fields map[string]string

func (f Fields) value(field string) string {
	if field == fieldRegion {
		return Region(f[FieldLocation])
	}
	return f[field]
}

// Fetcher retrieves the live representation of a resource.
type Fetcher interface {
	Fetch(ctx context.Context, r *Resource) (map[string]any, error)
}

// Resource is one concrete cloud resource. Identity is immutable after
// construction; live data is fetched at most once.
type Resource struct {
	desc    *Descriptor
	fields  Fields
	fetcher Fetcher
	timeout time.Duration
	logger  *telemetry.Logger

	once sync.Once
	data map[string]any
}

// Type returns the resource type.
func (r *Resource) Type() Type {
	return r.desc.Type
}

// Name returns the short resource name.
func (r *Resource) Name() string {
	return r.fields[FieldName]
}

// ProjectID returns the owning project, if known.
func (r *Resource) ProjectID() string {
	return r.fields[FieldProjectID]
}

// Location returns the location the resource was identified with.
func (r *Resource) Location() string {
	return r.fields[FieldLocation]
}

// Field returns an identity field.
func (r *Resource) Field(name string) string {
	return r.fields[name]
}

// Fields returns a copy of the identity fields.
func (r *Resource) Fields() Fields {
	return maps.Clone(r.fields)
}

// Descriptor returns the descriptor the resource was built from.
func (r *Resource) Descriptor() *Descriptor {
	return r.desc
}

// FullName returns the fully-qualified asset name.
func (r *Resource) FullName() string {
	return r.desc.fullName(r.fields)
}

func (r *Resource) String() string {
	return fmt.Sprintf("%s(%s)", r.desc.Type, r.FullName())
}

// Data returns the live representation of the resource. The first call
// fetches it; failures are logged and produce an empty map so callers
// always get a usable value.
func (r *Resource) Data(ctx context.Context) map[string]any {
	r.once.Do(func() {
		r.data = r.fetch(ctx)
	})
	return r.data
}

func (r *Resource) fetch(ctx context.Context) map[string]any {
	if r.fetcher == nil {
		return map[string]any{}
	}

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	start := time.Now()
	data, err := r.fetcher.Fetch(ctx, r)
	if err != nil {
		r.logger.WithContext(ctx).Warn().
			Err(err).
			Str("resource_type", string(r.desc.Type)).
			Str("resource_name", r.FullName()).
			Dur("elapsed", time.Since(start)).
			Msg("resource data unavailable")
		return map[string]any{}
	}
	if data == nil {
		data = map[string]any{}
	}
	return data
}

// Uniquifier returns the incarnation marker read from the live data.
func (r *Resource) Uniquifier(ctx context.Context) (string, bool) {
	if r.desc.Uniquifier == "" {
		return "", false
	}
	v, ok := r.Data(ctx)[r.desc.Uniquifier]
	if !ok || v == nil {
		return "", false
	}
	if s, ok := v.(string); ok {
		return s, s != ""
	}
	return fmt.Sprint(v), true
}

// ToMap builds the document handed to declarative policies.
func (r *Resource) ToMap(ctx context.Context) map[string]any {
	data := r.Data(ctx)

	m := make(map[string]any, len(r.fields)+4)
	keys := make([]string, 0, len(r.fields))
	for k := range r.fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		m[k] = r.fields[k]
	}

	if _, ok := m[FieldLocation]; !ok {
		if loc, ok := data["location"].(string); ok && loc != "" {
			m[FieldLocation] = loc
		}
	}
	if uq, ok := r.Uniquifier(ctx); ok {
		m["uniquifier"] = uq
	}

	m["type"] = string(r.desc.Type)
	m["full_name"] = r.FullName()
	m["data"] = data
	return m
}
