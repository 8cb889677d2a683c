package resource

import (
	"fmt"
	"net/url"
	"strings"
)

// Type is a canonical resource type, e.g. "compute.googleapis.com/Instance".
type Type string

// Identity field names shared across descriptors.
const (
	FieldName       = "name"
	FieldProjectID  = "project_id"
	FieldLocation   = "location"
	FieldCluster    = "cluster"
	FieldRepository = "repository"
	FieldApp        = "app"
	FieldService    = "service"
	FieldVersion    = "version"
	FieldAccount    = "service_account"
)

// fieldRegion is a template placeholder bound to the location field,
// rendered as the region that contains it.
const fieldRegion = "region"

// Endpoint locates the REST representation of a resource.
type Endpoint struct {
	Host string // e.g. "https://compute.googleapis.com"
	Path string // path template with {field} placeholders
}

// Descriptor is the static schema for one resource type.
type Descriptor struct {
	Type Type

	// NameTemplate renders the fully-qualified asset name. Its placeholders
	// are the required identity fields.
	NameTemplate string

	// AltNameTemplates are accepted when parsing asset names only.
	AltNameTemplates []string

	// Optional lists identity fields that are kept when present.
	Optional []string

	// Defaults copies one identity field into another when absent (target -> source).
	Defaults map[string]string

	// Uniquifier is the key in the live data that identifies one incarnation
	// of the resource. Empty when the type has none.
	Uniquifier string

	// Parent names the identity field referencing the enclosing resource.
	Parent string

	Endpoint *Endpoint

	name []segment
	alts [][]segment
}

type segment struct {
	literal string
	field   string
}

func (d *Descriptor) compile() error {
	if d.Type == "" {
		return fmt.Errorf("descriptor without type")
	}
	name, err := parseTemplate(d.NameTemplate)
	if err != nil {
		return fmt.Errorf("%s: %w", d.Type, err)
	}
	d.name = name
	d.alts = nil
	for _, alt := range d.AltNameTemplates {
		segs, err := parseTemplate(alt)
		if err != nil {
			return fmt.Errorf("%s: %w", d.Type, err)
		}
		d.alts = append(d.alts, segs)
	}
	if d.Endpoint != nil {
		if _, err := parseTemplate(d.Endpoint.Path); err != nil {
			return fmt.Errorf("%s endpoint: %w", d.Type, err)
		}
	}
	return nil
}

// Required returns the identity fields that must be present to build a resource.
func (d *Descriptor) Required() []string {
	seen := make(map[string]bool)
	var fields []string
	for _, s := range d.name {
		if s.field == "" {
			continue
		}
		f := identityField(s.field)
		if !seen[f] {
			seen[f] = true
			fields = append(fields, f)
		}
	}
	return fields
}

func (d *Descriptor) fullName(fields Fields) string {
	return render(d.name, fields, false)
}

func (d *Descriptor) parseName(name string) (Fields, bool) {
	if f, ok := match(d.name, name); ok {
		return f, true
	}
	for _, alt := range d.alts {
		if f, ok := match(alt, name); ok {
			return f, true
		}
	}
	return nil, false
}

func (d *Descriptor) endpointURL(base string, fields Fields) (string, error) {
	if d.Endpoint == nil {
		return "", ErrNotFetchable
	}
	segs, err := parseTemplate(d.Endpoint.Path)
	if err != nil {
		return "", err
	}
	host := d.Endpoint.Host
	if base != "" {
		host = base
	}
	return strings.TrimSuffix(host, "/") + render(segs, fields, true), nil
}

func parseTemplate(tmpl string) ([]segment, error) {
	if tmpl == "" {
		return nil, fmt.Errorf("empty template")
	}
	parts := strings.Split(tmpl, "/")
	segs := make([]segment, 0, len(parts))
	for _, p := range parts {
		if strings.HasPrefix(p, "{") && strings.HasSuffix(p, "}") {
			field := p[1 : len(p)-1]
			if field == "" {
				return nil, fmt.Errorf("empty placeholder in %q", tmpl)
			}
			segs = append(segs, segment{field: field})
			continue
		}
		if strings.ContainsAny(p, "{}") {
			return nil, fmt.Errorf("malformed placeholder %q in %q", p, tmpl)
		}
		segs = append(segs, segment{literal: p})
	}
	return segs, nil
}

func render(segs []segment, fields Fields, escape bool) string {
	parts := make([]string, len(segs))
	for i, s := range segs {
		if s.field == "" {
			parts[i] = s.literal
			continue
		}
		v := fields.value(s.field)
		if escape {
			v = url.PathEscape(v)
		}
		parts[i] = v
	}
	return strings.Join(parts, "/")
}

func match(segs []segment, name string) (Fields, bool) {
	parts := strings.Split(name, "/")
	if len(parts) != len(segs) {
		return nil, false
	}
	fields := make(Fields)
	for i, s := range segs {
		if s.field == "" {
			if parts[i] != s.literal {
				return nil, false
			}
			continue
		}
		if parts[i] == "" {
			return nil, false
		}
		fields[identityField(s.field)] = parts[i]
	}
	return fields, true
}

func identityField(placeholder string) string {
	if placeholder == fieldRegion {
		return FieldLocation
	}
	return placeholder
}

// Region returns the region containing a zone ("us-central1-a" -> "us-central1").
// Locations that are not zones are returned unchanged.
func Region(location string) string {
	parts := strings.Split(location, "-")
	if len(parts) == 3 && len(parts[2]) == 1 {
		return parts[0] + "-" + parts[1]
	}
	return location
}
