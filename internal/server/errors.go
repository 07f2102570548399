package server

import "errors"

// ErrConfiguration is matched by every lifecycle misuse: initializing
// twice, broadcasting before init, publishing metadata without a channel
// and so on. These errors are returned synchronously to the caller.
var ErrConfiguration = errors.New("server: configuration error")

// Lifecycle errors. All of them match ErrConfiguration.
var (
	// ErrAlreadyInitialized is returned by Init on an initialized server.
	ErrAlreadyInitialized = configurationError("server: already initialized")

	// ErrNotInitialized is returned when an operation needs a prior Init.
	ErrNotInitialized = configurationError("server: not initialized")

	// ErrAlreadyBroadcast is returned by Broadcast while a broadcast is active.
	ErrAlreadyBroadcast = configurationError("server: already broadcasting")

	// ErrTopicRootMismatch is returned when device info names another topic root.
	ErrTopicRootMismatch = configurationError("server: device-info topic root does not match server")

	// ErrNoMetadataChannel is returned by PublishMetadata when no stream enables metadata.
	ErrNoMetadataChannel = configurationError("server: no stream enables metadata")

	// ErrNoBroadcaster is returned by Broadcast when no broadcaster factory is configured.
	ErrNoBroadcaster = configurationError("server: no broadcaster configured")

	// ErrEmptyTopicRoot is returned by New for an empty topic root.
	ErrEmptyTopicRoot = configurationError("server: empty topic root")

	// ErrClosed is returned by every lifecycle operation after Close.
	ErrClosed = configurationError("server: closed")
)

type configError struct {
	msg string
}

func configurationError(msg string) error {
	return &configError{msg: msg}
}

func (e *configError) Error() string {
	return e.msg
}

func (e *configError) Is(target error) bool {
	return target == ErrConfiguration
}
