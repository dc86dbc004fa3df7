package store

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a referenced record does not exist, e.g. an
// unknown pending item id or case label on manual resolution.
var ErrNotFound = errors.New("not found")

// ValidationError reports a value that violates a model invariant, such as a
// confidence outside [0,1] or an empty signature input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

// ValidateConfidence enforces the global confidence invariant.
func ValidateConfidence(c float64) error {
	if c < 0 || c > 1 {
		return &ValidationError{Field: "confidence", Reason: fmt.Sprintf("%v outside [0,1]", c)}
	}
	return nil
}
