package server

// State is the lifecycle state of a DeviceServer.
type State int

const (
	// StateUninitialized is the state after New and after a failed Init.
	StateUninitialized State = iota
	// StateInitializing is held while Init runs.
	StateInitializing
	// StateReady means streams are registered, discovery was emitted and
	// control requests are accepted.
	StateReady
	// StateBroadcasting means the device is being announced.
	StateBroadcasting
	// StateDisconnecting is held while a broadcast is withdrawn.
	StateDisconnecting
	// StateClosed is terminal.
	StateClosed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateBroadcasting:
		return "broadcasting"
	case StateDisconnecting:
		return "disconnecting"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Channel topics under a device's topic root.
const (
	notificationSuffix = "/notification"
	controlSuffix      = "/control"
	metadataSuffix     = "/metadata"
)

// NotificationTopic returns the topic carrying discovery and replies.
func NotificationTopic(topicRoot string) string { return topicRoot + notificationSuffix }

// ControlTopic returns the topic on which clients send control requests.
func ControlTopic(topicRoot string) string { return topicRoot + controlSuffix }

// MetadataTopic returns the topic carrying per-frame metadata.
func MetadataTopic(topicRoot string) string { return topicRoot + metadataSuffix }
