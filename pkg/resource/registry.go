package resource

import (
	"fmt"
	"maps"
	"time"

	"github.com/yairfalse/rpe/telemetry"
)

// DefaultFetchTimeout bounds a single live data fetch.
const DefaultFetchTimeout = 10 * time.Second

// Registry maps resource types to descriptors and builds resources.
// It is immutable after construction and safe for concurrent use.
type Registry struct {
	descriptors map[Type]*Descriptor
	order       []Type
	fetcher     Fetcher
	timeout     time.Duration
	logger      *telemetry.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithFetcher sets the fetcher used for live resource data.
func WithFetcher(f Fetcher) Option {
	return func(r *Registry) {
		r.fetcher = f
	}
}

// WithFetchTimeout bounds each live data fetch. Zero disables the bound.
func WithFetchTimeout(d time.Duration) Option {
	return func(r *Registry) {
		r.timeout = d
	}
}

// WithLogger sets the logger used for fetch diagnostics.
func WithLogger(l *telemetry.Logger) Option {
	return func(r *Registry) {
		r.logger = l
	}
}

// NewRegistry compiles the descriptors into a registry.
func NewRegistry(descriptors []Descriptor, opts ...Option) (*Registry, error) {
	reg := &Registry{
		descriptors: make(map[Type]*Descriptor, len(descriptors)),
		timeout:     DefaultFetchTimeout,
		logger:      telemetry.NewLogger("resource-registry"),
	}
	for _, opt := range opts {
		opt(reg)
	}

	for i := range descriptors {
		d := descriptors[i]
		if err := d.compile(); err != nil {
			return nil, fmt.Errorf("compile descriptor: %w", err)
		}
		if _, dup := reg.descriptors[d.Type]; dup {
			return nil, fmt.Errorf("duplicate descriptor for %s", d.Type)
		}
		reg.descriptors[d.Type] = &d
		reg.order = append(reg.order, d.Type)
	}
	return reg, nil
}

// NewGCPRegistry returns a registry holding the built-in Google Cloud catalogue.
func NewGCPRegistry(opts ...Option) (*Registry, error) {
	return NewRegistry(GCPDescriptors(), opts...)
}

// Descriptor returns the descriptor for a type.
func (reg *Registry) Descriptor(t Type) (*Descriptor, bool) {
	d, ok := reg.descriptors[t]
	return d, ok
}

// Types returns the registered types in registration order.
func (reg *Registry) Types() []Type {
	out := make([]Type, len(reg.order))
	copy(out, reg.order)
	return out
}

// New builds a resource from identity fields.
func (reg *Registry) New(t Type, fields Fields) (*Resource, error) {
	d, ok := reg.descriptors[t]
	if !ok {
		return nil, &UnknownTypeError{Type: t}
	}

	f := make(Fields, len(fields))
	for k, v := range fields {
		if v != "" {
			f[k] = v
		}
	}
	for target, source := range d.Defaults {
		if f[target] == "" && f[source] != "" {
			f[target] = f[source]
		}
	}
	for _, req := range d.Required() {
		if f[req] == "" {
			return nil, &MissingFieldError{Type: t, Field: req}
		}
	}

	return &Resource{
		desc:    d,
		fields:  f,
		fetcher: reg.fetcher,
		timeout: reg.timeout,
		logger:  reg.logger,
	}, nil
}

// FromAssetName parses a fully-qualified asset name into identity fields
// and builds the resource. Extra fields fill gaps the name does not carry.
func (reg *Registry) FromAssetName(name string, t Type, extra Fields) (*Resource, error) {
	d, ok := reg.descriptors[t]
	if !ok {
		return nil, &UnknownTypeError{Type: t}
	}
	fields, ok := d.parseName(name)
	if !ok {
		return nil, &InvalidNameError{Type: t, Name: name}
	}
	merged := maps.Clone(extra)
	if merged == nil {
		merged = make(Fields, len(fields))
	}
	maps.Copy(merged, fields)
	return reg.New(t, merged)
}
