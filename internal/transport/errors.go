package transport

import "errors"

// Domain errors shared by transport implementations.
var (
	// ErrClosed is returned when writing to or reading from a closed endpoint.
	ErrClosed = errors.New("transport: endpoint closed")

	// ErrInvalidTopic is returned when a topic name is empty or malformed.
	ErrInvalidTopic = errors.New("transport: invalid topic")

	// ErrInvalidQoS is returned when QoS settings cannot be applied.
	ErrInvalidQoS = errors.New("transport: invalid QoS")
)
