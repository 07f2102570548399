package registry

import (
	"errors"
	"fmt"
)

// Domain errors for the registry package.
var (
	// ErrOptionNotFound is matched by every resolution failure.
	ErrOptionNotFound = errors.New("registry: option not found")

	// ErrStreamExists is returned when registering a stream name twice.
	ErrStreamExists = errors.New("registry: stream already registered")
)

// NotFoundError describes a failed resolution. Its message is sent to
// clients as the reply explanation.
type NotFoundError struct {
	Stream string
	Option string
}

// Error returns "device option 'X' not found" or "'S' option 'X' not found".
func (e *NotFoundError) Error() string {
	if e.Stream == "" {
		return fmt.Sprintf("device option '%s' not found", e.Option)
	}
	return fmt.Sprintf("'%s' option '%s' not found", e.Stream, e.Option)
}

// Unwrap returns ErrOptionNotFound.
func (e *NotFoundError) Unwrap() error {
	return ErrOptionNotFound
}
