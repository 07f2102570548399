package mqtt

import (
	"context"
	"fmt"
	"sort"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// maxPayloadSize caps one message at 1 MiB, the usual broker default.
const maxPayloadSize = 1 << 20

// MessageHandler receives one message. A returned error is logged.
//
// paho delivers messages in order, one at a time, on its router goroutine.
// A handler that blocks therefore stalls every subscription of the client
// (and, once paho's inbound queue fills, the keepalive traffic too).
// Handlers must hand work off instead of blocking.
type MessageHandler func(topic string, payload []byte) error

// Publish sends payload to topic and waits for the broker's
// acknowledgement at the given QoS.
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: payload of %d bytes exceeds %d", ErrPublishFailed, len(payload), maxPayloadSize)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	if err := wait(context.Background(), c.paho.Publish(topic, qos, retained, payload), c.opTimeout); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	return nil
}

// Subscribe registers handler for topic (wildcards allowed). The
// subscription is restored after every reconnect until Unsubscribe.
func (c *Client) Subscribe(topic string, qos byte, handler MessageHandler) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if handler == nil {
		return fmt.Errorf("%w: nil handler", ErrSubscribeFailed)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	// Tracked first so a reconnect racing with the acknowledgement
	// restores it.
	c.mu.Lock()
	c.subs[topic] = subscription{qos: qos, handler: handler}
	c.mu.Unlock()

	if err := wait(context.Background(), c.paho.Subscribe(topic, qos, c.wrapHandler(handler)), c.opTimeout); err != nil {
		c.mu.Lock()
		delete(c.subs, topic)
		c.mu.Unlock()
		return fmt.Errorf("%w: %w", ErrSubscribeFailed, err)
	}
	return nil
}

// Unsubscribe drops the subscription on topic. Messages already queued by
// paho may still be delivered.
func (c *Client) Unsubscribe(topic string) error {
	if topic == "" {
		return ErrInvalidTopic
	}

	c.mu.Lock()
	delete(c.subs, topic)
	c.mu.Unlock()

	if !c.IsConnected() {
		return ErrNotConnected
	}
	if err := wait(context.Background(), c.paho.Unsubscribe(topic), c.opTimeout); err != nil {
		return fmt.Errorf("%w: %w", ErrUnsubscribeFailed, err)
	}
	return nil
}

// Subscriptions lists the tracked topics, sorted.
func (c *Client) Subscriptions() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	topics := make([]string, 0, len(c.subs))
	for topic := range c.subs {
		topics = append(topics, topic)
	}
	sort.Strings(topics)
	return topics
}

// wrapHandler adapts handler to paho, logging its error and recovering a
// panic so one bad frame cannot kill the router goroutine.
func (c *Client) wrapHandler(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				c.log().Error("MQTT handler panic recovered", "topic", msg.Topic(), "panic", r)
			}
		}()

		if err := handler(msg.Topic(), msg.Payload()); err != nil {
			c.log().Warn("MQTT handler returned error", "topic", msg.Topic(), "error", err)
		}
	}
}
