package extractor

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jmespath/go-jmespath"
	"github.com/yairfalse/rpe/pkg/resource"
	"github.com/yairfalse/rpe/telemetry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	auditLogType      = "type.googleapis.com/google.cloud.audit.AuditLog"
	auditLogNameScope = "cloudaudit.googleapis.com"
)

// AuditLog extracts resources from Cloud Audit Log entries
type AuditLog struct {
	registry *resource.Registry
	logger   *telemetry.Logger
	tracer   trace.Tracer
}

// NewAuditLog creates an audit log extractor building resources from reg
func NewAuditLog(reg *resource.Registry) *AuditLog {
	return &AuditLog{
		registry: reg,
		logger:   telemetry.NewLogger("auditlog-extractor"),
		tracer:   otel.Tracer("auditlog-extractor"),
	}
}

// Name implements Extractor
func (a *AuditLog) Name() string {
	return "auditlog"
}

// Extract decodes a JSON log entry and extracts its resources
func (a *AuditLog) Extract(ctx context.Context, payload []byte) (*Extracted, error) {
	var doc any
	if err := json.Unmarshal(payload, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotAuditLog, err)
	}
	return a.ExtractDocument(ctx, doc)
}

// ExtractDocument extracts resources from an already decoded log entry
func (a *AuditLog) ExtractDocument(ctx context.Context, doc any) (*Extracted, error) {
	ctx, span := a.tracer.Start(ctx, "AuditLog.Extract")
	defer span.End()

	if !IsAuditLog(doc) {
		return nil, ErrNotAuditLog
	}

	e := &entry{doc: doc}
	e.method = e.str("protoPayload.methodName")

	meta := Metadata{
		ID:         e.str("insertId"),
		Principal:  e.str("protoPayload.authenticationInfo.principalEmail"),
		MethodName: e.method,
		Operation:  ClassifyOperation(e.method),
	}
	if ts := e.str("timestamp"); ts != "" {
		parsed, err := parseTimestamp(ts)
		if err != nil {
			return nil, fmt.Errorf("invalid audit log timestamp: %w", err)
		}
		meta.Timestamp = parsed
	}

	resources, err := a.resources(e)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	span.SetAttributes(
		attribute.String("log.resource_type", e.str("resource.type")),
		attribute.String("log.method", e.method),
	)
	telemetry.RecordExtractionEvent(span, a.Name(), string(meta.Operation), meta.Principal, len(resources))

	if len(resources) == 0 {
		a.logger.WithContext(ctx).Debug().
			Str("resource_type", e.str("resource.type")).
			Str("method", e.method).
			Msg("audit log matched no extraction rule")
	}

	return &Extracted{Resources: resources, Metadata: meta}, nil
}

func (a *AuditLog) resources(e *entry) ([]*resource.Resource, error) {
	logType := e.str("resource.type")
	if logType == "" {
		return nil, nil
	}

	for _, r := range auditLogRules {
		if r.resourceType != logType || !r.match(e) {
			continue
		}

		var out []*resource.Resource
		for _, s := range r.build(e) {
			res, err := a.registry.New(s.typ, s.fields)
			if err != nil {
				return nil, fmt.Errorf("failed to build %s from %s log: %w", s.typ, logType, err)
			}
			out = append(out, res)
		}
		return out, nil
	}

	return nil, nil
}

// IsAuditLog reports whether doc is a cloud audit log envelope
func IsAuditLog(doc any) bool {
	typ, _ := lookup(doc, `protoPayload."@type"`).(string)
	if typ != auditLogType {
		return false
	}
	logName, _ := lookup(doc, "logName").(string)
	return strings.HasPrefix(lastSegment(logName, "/"), auditLogNameScope)
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

func parseTimestamp(s string) (time.Time, error) {
	var lastErr error
	for _, layout := range timestampLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t.UTC(), nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}

// entry is a decoded log entry with path lookups
type entry struct {
	doc    any
	method string
}

func (e *entry) str(path string) string {
	return stringAt(e.doc, path)
}

func (e *entry) label(name string) string {
	return e.str("resource.labels." + name)
}

func (e *entry) list(path string) []any {
	l, _ := lookup(e.doc, path).([]any)
	return l
}

var compiled sync.Map

func lookup(doc any, path string) any {
	var expr *jmespath.JMESPath
	if c, ok := compiled.Load(path); ok {
		expr = c.(*jmespath.JMESPath)
	} else {
		c, err := jmespath.Compile(path)
		if err != nil {
			return nil
		}
		compiled.Store(path, c)
		expr = c
	}

	v, err := expr.Search(doc)
	if err != nil {
		return nil
	}
	return v
}

func stringAt(doc any, path string) string {
	switch v := lookup(doc, path).(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		return fmt.Sprint(v)
	}
}
