package resource

import (
	"errors"
	"fmt"
)

// ErrNotFetchable is returned by fetchers for types without a REST endpoint.
var ErrNotFetchable = errors.New("resource type has no fetch endpoint")

// UnknownTypeError is returned when a resource type is not registered.
type UnknownTypeError struct {
	Type Type
}

func (e *UnknownTypeError) Error() string {
	return fmt.Sprintf("unrecognized resource type %q", e.Type)
}

// MissingFieldError is returned when a required identity field is absent.
type MissingFieldError struct {
	Type  Type
	Field string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("missing data required for resource creation: %s requires field %q", e.Type, e.Field)
}

// InvalidNameError is returned when an asset name does not fit the type's name layout.
type InvalidNameError struct {
	Type Type
	Name string
}

func (e *InvalidNameError) Error() string {
	return fmt.Sprintf("asset name %q does not match any name layout of %s", e.Name, e.Type)
}
