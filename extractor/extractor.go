// Package extractor turns raw event payloads into canonical resources.
package extractor

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/yairfalse/rpe/pkg/resource"
)

// ErrNotAuditLog is returned when a payload is not a cloud audit log envelope.
var ErrNotAuditLog = errors.New("not an audit log")

// Operation classifies what the logged call did to the resource.
type Operation string

const (
	OperationCreate  Operation = "create"
	OperationRead    Operation = "read"
	OperationUpdate  Operation = "update"
	OperationDelete  Operation = "delete"
	OperationUnknown Operation = "unknown"
)

// Metadata describes where extracted resources came from.
type Metadata struct {
	// Audit log fields
	ID         string    `json:"id,omitempty" yaml:"id,omitempty"`
	Timestamp  time.Time `json:"timestamp,omitzero" yaml:"timestamp,omitempty"`
	Principal  string    `json:"principal,omitempty" yaml:"principal,omitempty"`
	MethodName string    `json:"method_name,omitempty" yaml:"method_name,omitempty"`
	Operation  Operation `json:"operation,omitempty" yaml:"operation,omitempty"`

	// Queue transport fields
	MessageID   string            `json:"message_id,omitempty" yaml:"message_id,omitempty"`
	PublishTime time.Time         `json:"publish_time,omitzero" yaml:"publish_time,omitempty"`
	Attributes  map[string]string `json:"attributes,omitempty" yaml:"attributes,omitempty"`

	// Extra carries producer supplied metadata, e.g. "src".
	Extra map[string]any `json:"extra,omitempty" yaml:"extra,omitempty"`
}

// Extracted is the result of one extraction.
type Extracted struct {
	Resources []*resource.Resource
	Metadata  Metadata
}

// Extractor converts a raw payload into resources and metadata.
type Extractor interface {
	// Name identifies the extractor in logs and metrics.
	Name() string

	Extract(ctx context.Context, payload []byte) (*Extracted, error)
}

var (
	readPrefixes   = []string{"get", "list"}
	updatePrefixes = []string{"update", "patch", "set", "debug", "enable", "disable", "expand", "deactivate", "activate", "switch"}
	createPrefixes = []string{"create", "insert"}
	deletePrefixes = []string{"delete"}
)

// ClassifyOperation infers the operation from the verb that ends a method
// name, ignoring a leading "batch".
func ClassifyOperation(methodName string) Operation {
	verb := strings.ToLower(lastSegment(methodName, "."))
	verb = strings.TrimPrefix(verb, "batch")

	switch {
	case hasAnyPrefix(verb, readPrefixes):
		return OperationRead
	case hasAnyPrefix(verb, updatePrefixes):
		return OperationUpdate
	case hasAnyPrefix(verb, createPrefixes):
		return OperationCreate
	case hasAnyPrefix(verb, deletePrefixes):
		return OperationDelete
	default:
		return OperationUnknown
	}
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

func lastSegment(s, sep string) string {
	if i := strings.LastIndex(s, sep); i >= 0 {
		return s[i+len(sep):]
	}
	return s
}
