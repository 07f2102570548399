package mqtt

import "strings"

// DefaultNamespace prefixes server-wide topics when none is configured.
const DefaultNamespace = "devserver"

// Topics provides builders for device server MQTT topics.
//
// Device channels hang off the device's topic root; server-wide topics
// (connection status, device-info announcements) live under a namespace so
// several device servers can share one broker:
//
//	topics := mqtt.Topics{Namespace: "devserver"}
//	topics.DeviceInfo("realsense/D435/1234")
//	// Returns: "devserver/device-info/realsense/D435/1234"
type Topics struct {
	Namespace string
}

func (t Topics) namespace() string {
	if t.Namespace == "" {
		return DefaultNamespace
	}
	return strings.TrimSuffix(t.Namespace, "/")
}

// =============================================================================
// Server Topics
// =============================================================================

// Status returns the retained online/offline topic of one MQTT client.
//
// Example: devserver/status/devserver-1234
func (t Topics) Status(clientID string) string {
	return t.namespace() + "/status/" + clientID
}

// DeviceInfo returns the retained device-info topic of a device.
//
// Example: devserver/device-info/realsense/D435/1234
func (t Topics) DeviceInfo(topicRoot string) string {
	return t.namespace() + "/device-info/" + topicRoot
}
