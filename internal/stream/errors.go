package stream

import "errors"

// Domain errors for stream operations.
var (
	// ErrNoProfiles is returned when opening a stream that declares no profiles.
	ErrNoProfiles = errors.New("stream: no profiles")

	// ErrInvalidDefaultProfile is returned when the default profile index is out of range.
	ErrInvalidDefaultProfile = errors.New("stream: default profile index out of range")

	// ErrAlreadyOpen is returned when opening a stream twice.
	ErrAlreadyOpen = errors.New("stream: already open")

	// ErrNotOpen is returned when publishing on a stream that is not open.
	ErrNotOpen = errors.New("stream: not open")
)
