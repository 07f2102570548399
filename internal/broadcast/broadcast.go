// Package broadcast announces a device's presence to clients that have not
// discovered it yet.
//
// A broadcaster publishes a small device-info document and calls an
// acknowledgement callback once the announcement is out; the device server
// uses the callback to re-emit discovery for clients that had marked the
// device offline.
//
// Implementations:
//   - MQTT: retained device-info message under <namespace>/device-info/<root>
//   - MDNS: DNS-SD service registration via zeroconf
//   - Multi: fan-out over several broadcasters
package broadcast

import (
	"context"
)

// DeviceInfo identifies a device on the network.
type DeviceInfo struct {
	Name        string `json:"name"`
	TopicRoot   string `json:"topic-root"`
	Serial      string `json:"serial,omitempty"`
	ProductLine string `json:"product-line,omitempty"`
	Locked      bool   `json:"locked"`
}

// ToJSON returns the device-info document.
func (d DeviceInfo) ToJSON() map[string]any {
	doc := map[string]any{
		"name":       d.Name,
		"topic-root": d.TopicRoot,
		"locked":     d.Locked,
	}
	if d.Serial != "" {
		doc["serial"] = d.Serial
	}
	if d.ProductLine != "" {
		doc["product-line"] = d.ProductLine
	}
	return doc
}

// Broadcaster is an active announcement of one device.
type Broadcaster interface {
	// Disconnect withdraws the announcement. The context bounds how long
	// the withdrawal may take.
	Disconnect(ctx context.Context) error
}

// Logger defines the logging interface used by broadcasters.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}
