package mqtt

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/gray-logic-devserver/internal/infrastructure/config"
)

// Logger receives handler failures and reconnect notices. logging.Logger
// satisfies it.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Error(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// Client is the device server's broker connection. It re-subscribes after
// every reconnect and keeps a retained online/offline status under
// Topics.Status.
//
// Thread Safety: All methods are safe for concurrent use.
type Client struct {
	paho   pahomqtt.Client
	cfg    config.MQTTConfig
	topics Topics

	// opTimeout bounds publish, subscribe and unsubscribe acknowledgements.
	opTimeout time.Duration

	connected atomic.Bool

	mu           sync.RWMutex
	subs         map[string]subscription
	onConnect    func()
	onDisconnect func(err error)
	logger       Logger
}

type subscription struct {
	qos     byte
	handler MessageHandler
}

func newClient(cfg config.MQTTConfig) *Client {
	return &Client{
		cfg:       cfg,
		topics:    Topics{Namespace: cfg.Namespace},
		opTimeout: defaultOpTimeout,
		subs:      make(map[string]subscription),
		logger:    noopLogger{},
	}
}

// Connect opens the broker connection described by cfg.
//
// The will message marks the client offline on Topics.Status if the
// connection drops without Close. Reconnects back off from
// cfg.Reconnect.InitialDelay to cfg.Reconnect.MaxDelay.
//
// Parameters:
//   - ctx: Cancels the initial connection attempt
//   - cfg: The mqtt section of config.yaml
//
// Returns:
//   - *Client: Connected client
//   - error: ErrConnectionFailed wrapping the cause
func Connect(ctx context.Context, cfg config.MQTTConfig) (*Client, error) {
	c := newClient(cfg)

	opts := buildClientOptions(cfg)
	configureLWT(opts, cfg)
	opts.SetOnConnectHandler(func(pahomqtt.Client) {
		c.handleConnect()
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		c.handleDisconnect(err)
	})
	opts.SetReconnectingHandler(func(pahomqtt.Client, *pahomqtt.ClientOptions) {
		c.log().Warn("MQTT reconnecting", "broker", cfg.Broker.Host)
	})

	c.paho = pahomqtt.NewClient(opts)
	if err := wait(ctx, c.paho.Connect(), defaultConnectTimeout); err != nil {
		c.paho.Disconnect(0)
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	// The on-connect handler runs asynchronously; IsConnected must hold
	// as soon as Connect returns.
	c.connected.Store(true)
	return c, nil
}

// wait blocks until tok completes, timeout passes or ctx ends.
func wait(ctx context.Context, tok pahomqtt.Token, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-tok.Done():
		return tok.Error()
	case <-timer.C:
		return fmt.Errorf("%w after %v", ErrTimeout, timeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) handleConnect() {
	c.connected.Store(true)

	c.mu.RLock()
	for topic, sub := range c.subs {
		// Failures surface again on the next reconnect.
		c.paho.Subscribe(topic, sub.qos, c.wrapHandler(sub.handler))
	}
	callback := c.onConnect
	c.mu.RUnlock()

	c.paho.Publish(c.topics.Status(c.cfg.Broker.ClientID), c.qos(), true,
		buildStatusPayload(statusOnline, c.cfg.Broker.ClientID, ""))

	if callback != nil {
		callback()
	}
}

func (c *Client) handleDisconnect(err error) {
	c.connected.Store(false)

	c.mu.RLock()
	callback := c.onDisconnect
	c.mu.RUnlock()

	if callback != nil {
		callback(err)
	}
}

// Close marks the client offline with a graceful status and disconnects,
// giving in-flight publishes a short quiesce period.
func (c *Client) Close() error {
	if c.paho == nil {
		return nil
	}

	if c.IsConnected() {
		tok := c.paho.Publish(c.topics.Status(c.cfg.Broker.ClientID), c.qos(), true,
			buildStatusPayload(statusOffline, c.cfg.Broker.ClientID, reasonGraceful))
		if err := wait(context.Background(), tok, c.opTimeout); err != nil {
			c.log().Warn("publishing offline status", "error", err)
		}
	}

	c.paho.Disconnect(disconnectQuiesceMillis)
	c.connected.Store(false)
	return nil
}

// HealthCheck reports ErrNotConnected while the broker is unreachable.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mqtt health check: %w", err)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// IsConnected returns the last known connection state.
func (c *Client) IsConnected() bool {
	return c.connected.Load() && c.paho != nil && c.paho.IsConnected()
}

// Topics returns the topic builders of the configured namespace.
func (c *Client) Topics() Topics {
	return c.topics
}

// SetOnConnect sets a callback run after every (re)connect, once
// subscriptions are restored.
func (c *Client) SetOnConnect(callback func()) {
	c.mu.Lock()
	c.onConnect = callback
	c.mu.Unlock()
}

// SetOnDisconnect sets a callback run when the connection is lost.
func (c *Client) SetOnDisconnect(callback func(err error)) {
	c.mu.Lock()
	c.onDisconnect = callback
	c.mu.Unlock()
}

// SetLogger sets the logger; nil restores the silent default.
func (c *Client) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	c.mu.Lock()
	c.logger = logger
	c.mu.Unlock()
}

func (c *Client) log() Logger {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.logger
}

func (c *Client) qos() byte {
	return byte(c.cfg.QoS) // #nosec G115 -- validated 0..2 by config
}
