package policy

import (
	"errors"
	"fmt"
)

var (
	// ErrDuplicatePolicy is returned when discovery finds two policies with one id
	ErrDuplicatePolicy = errors.New("duplicate policy id")

	// ErrNotRemediable is returned when remediation is requested for a policy without one
	ErrNotRemediable = errors.New("policy has no remediation")

	// ErrInvalidPolicy is returned for definitions missing required parts
	ErrInvalidPolicy = errors.New("invalid policy definition")

	// ErrPolicyPanic wraps a panic recovered from policy code
	ErrPolicyPanic = errors.New("policy panicked")
)

// UnknownPolicyError is returned when an engine has no policy with the requested id
type UnknownPolicyError struct {
	EngineID string
	PolicyID string
}

func (e *UnknownPolicyError) Error() string {
	return fmt.Sprintf("engine %q has no policy %q", e.EngineID, e.PolicyID)
}
