package journal

import "errors"

var (
	// ErrInvalidEntry is returned when an entry cannot be recorded.
	ErrInvalidEntry = errors.New("journal: invalid entry")
)
