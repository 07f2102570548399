package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Publisher is the subset of the MQTT client used by the broadcaster.
// Satisfied by *mqtt.Client.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// MQTT announces a device with a retained device-info message.
//
// New subscribers to the device-info topic receive the retained document
// immediately; Disconnect clears it so the device disappears from the
// broker's view.
//
// Thread Safety: All methods are safe for concurrent use.
type MQTT struct {
	pub    Publisher
	topic  string
	qos    byte
	info   DeviceInfo
	onAck  func()
	logger Logger

	mu           sync.Mutex
	disconnected bool
}

// MQTTOption configures an MQTT broadcaster.
type MQTTOption func(*MQTT)

// WithMQTTLogger sets the broadcaster's logger.
func WithMQTTLogger(l Logger) MQTTOption {
	return func(m *MQTT) { m.logger = l }
}

// WithQoS sets the publish QoS (default 1).
func WithQoS(qos byte) MQTTOption {
	return func(m *MQTT) { m.qos = qos }
}

// NewMQTT publishes the device-info document on topic and returns the
// active broadcaster. onAck runs on its own goroutine once the broker has
// accepted the message.
//
// Parameters:
//   - pub: Connected MQTT publisher
//   - topic: Device-info topic (see mqtt.Topics.DeviceInfo)
//   - info: Device identity
//   - onAck: Called after each successful announcement (may be nil)
func NewMQTT(pub Publisher, topic string, info DeviceInfo, onAck func(), opts ...MQTTOption) (*MQTT, error) {
	m := &MQTT{
		pub:    pub,
		topic:  topic,
		qos:    1,
		info:   info,
		onAck:  onAck,
		logger: noopLogger{},
	}
	for _, opt := range opts {
		opt(m)
	}

	if err := m.Announce(); err != nil {
		return nil, err
	}
	return m, nil
}

// Announce (re)publishes the device-info document. Called once by NewMQTT
// and again after every broker reconnect, since a clean session may have
// lost the retained message.
func (m *MQTT) Announce() error {
	m.mu.Lock()
	if m.disconnected {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	payload, err := json.Marshal(m.info.ToJSON())
	if err != nil {
		return fmt.Errorf("encoding device info: %w", err)
	}
	if err := m.pub.Publish(m.topic, payload, m.qos, true); err != nil {
		return fmt.Errorf("publishing device info: %w", err)
	}

	m.logger.Debug("device info published", "topic", m.topic)
	if m.onAck != nil {
		go m.onAck()
	}
	return nil
}

// Disconnect clears the retained device-info message.
func (m *MQTT) Disconnect(ctx context.Context) error {
	m.mu.Lock()
	if m.disconnected {
		m.mu.Unlock()
		return nil
	}
	m.disconnected = true
	m.mu.Unlock()

	done := make(chan error, 1)
	go func() {
		// An empty retained payload deletes the retained message.
		done <- m.pub.Publish(m.topic, nil, m.qos, true)
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("clearing device info: %w", err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("clearing device info: %w", ctx.Err())
	}
}
