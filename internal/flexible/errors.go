package flexible

import "errors"

// Domain errors for frame encoding.
var (
	// ErrEncode is returned when a frame cannot be serialised.
	ErrEncode = errors.New("flexible: encode failed")

	// ErrDecode is returned when a payload is not a valid JSON or CBOR frame.
	ErrDecode = errors.New("flexible: decode failed")

	// ErrInvalidFrame is returned when a payload decodes but is not a usable frame.
	ErrInvalidFrame = errors.New("flexible: invalid frame")

	// ErrUnknownFormat is returned when a format name is not recognised.
	ErrUnknownFormat = errors.New("flexible: unknown format")
)
