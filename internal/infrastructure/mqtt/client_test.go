package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/gray-logic-devserver/internal/infrastructure/config"
)

// Broker-free unit tests against a fake paho client. Tests against a live
// broker are in integration_test.go behind the "integration" build tag.

// testConfig returns a valid MQTT configuration for testing.
func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: "devserver-test",
			TLS:      false,
		},
		QoS:       1,
		Namespace: "devserver",
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
	}
}

// =============================================================================
// Fakes
// =============================================================================

type fakeToken struct {
	err     error
	timeout bool
}

func (t fakeToken) Wait() bool                     { return !t.timeout }
func (t fakeToken) WaitTimeout(time.Duration) bool { return !t.timeout }
func (t fakeToken) Error() error                   { return t.err }
func (t fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	if !t.timeout {
		close(ch)
	}
	return ch
}

type fakePublish struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

// fakePaho implements the paho client methods the wrapper calls. Calling
// any other method panics on the nil embedded interface.
type fakePaho struct {
	pahomqtt.Client

	mu         sync.Mutex
	connected  bool
	published  []fakePublish
	subscribed []string
	subErr     error
	pubToken   fakeToken
}

func (f *fakePaho) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakePaho) Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	var b []byte
	switch p := payload.(type) {
	case []byte:
		b = p
	case string:
		b = []byte(p)
	}
	f.published = append(f.published, fakePublish{topic, qos, retained, b})
	return f.pubToken
}

func (f *fakePaho) Subscribe(topic string, _ byte, _ pahomqtt.MessageHandler) pahomqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribed = append(f.subscribed, topic)
	return fakeToken{err: f.subErr}
}

func (f *fakePaho) Unsubscribe(...string) pahomqtt.Token {
	return fakeToken{}
}

func (f *fakePaho) Disconnect(uint) {
	f.mu.Lock()
	f.connected = false
	f.mu.Unlock()
}

type fakeMessage struct {
	pahomqtt.Message
	topic   string
	payload []byte
}

func (m fakeMessage) Topic() string   { return m.topic }
func (m fakeMessage) Payload() []byte { return m.payload }

// mockLogger implements Logger interface for testing.
type mockLogger struct {
	errors []string
	warns  []string
	mu     sync.Mutex
}

func (l *mockLogger) Error(msg string, args ...any) {
	l.mu.Lock()
	l.errors = append(l.errors, msg)
	l.mu.Unlock()
}

func (l *mockLogger) Warn(msg string, args ...any) {
	l.mu.Lock()
	l.warns = append(l.warns, msg)
	l.mu.Unlock()
}

// newTestClient returns a connected Client backed by fakePaho.
func newTestClient() (*Client, *fakePaho) {
	paho := &fakePaho{connected: true}
	c := newClient(testConfig())
	c.paho = paho
	c.opTimeout = 50 * time.Millisecond
	c.connected.Store(true)
	return c, paho
}

// =============================================================================
// Options Tests
// =============================================================================

func TestBuildClientOptions(t *testing.T) {
	cfg := testConfig()
	cfg.Auth = config.MQTTAuthConfig{Username: "device", Password: "secret"}

	opts := buildClientOptions(cfg)

	if len(opts.Servers) != 1 || opts.Servers[0].String() != "tcp://127.0.0.1:1883" {
		t.Errorf("Servers = %v, want tcp://127.0.0.1:1883", opts.Servers)
	}
	if opts.ClientID != "devserver-test" {
		t.Errorf("ClientID = %q, want devserver-test", opts.ClientID)
	}
	if opts.Username != "device" || opts.Password != "secret" {
		t.Errorf("credentials not applied: %q/%q", opts.Username, opts.Password)
	}
	if !opts.AutoReconnect || !opts.CleanSession {
		t.Error("expected auto-reconnect and clean session")
	}
	if opts.MaxReconnectInterval != 5*time.Second {
		t.Errorf("MaxReconnectInterval = %v, want 5s", opts.MaxReconnectInterval)
	}
	if opts.TLSConfig != nil {
		t.Error("TLSConfig set without TLS enabled")
	}
}

func TestBuildClientOptions_TLS(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.TLS = true
	cfg.Broker.Port = 8883

	opts := buildClientOptions(cfg)

	if opts.Servers[0].Scheme != "ssl" {
		t.Errorf("scheme = %q, want ssl", opts.Servers[0].Scheme)
	}
	if opts.TLSConfig == nil || opts.TLSConfig.MinVersion != tlsMinVersion {
		t.Error("expected TLS config with minimum version")
	}
}

func TestConfigureLWT(t *testing.T) {
	opts := pahomqtt.NewClientOptions()
	configureLWT(opts, testConfig())

	if !opts.WillEnabled {
		t.Fatal("WillEnabled = false")
	}
	if opts.WillTopic != "devserver/status/devserver-test" {
		t.Errorf("WillTopic = %q", opts.WillTopic)
	}
	if !opts.WillRetained || opts.WillQos != 1 {
		t.Errorf("will retained=%v qos=%d, want retained qos 1", opts.WillRetained, opts.WillQos)
	}

	var payload statusPayload
	if err := json.Unmarshal(opts.WillPayload, &payload); err != nil {
		t.Fatalf("will payload is not JSON: %v", err)
	}
	if payload.Status != "offline" || payload.Reason != reasonUnexpected {
		t.Errorf("will payload = %+v", payload)
	}
}

func TestStatusPayloads(t *testing.T) {
	var online, offline statusPayload
	if err := json.Unmarshal([]byte(buildStatusPayload(statusOnline, "c1", "")), &online); err != nil {
		t.Fatal(err)
	}
	if err := json.Unmarshal([]byte(buildStatusPayload(statusOffline, "c1", reasonGraceful)), &offline); err != nil {
		t.Fatal(err)
	}

	if online.Status != "online" || online.ClientID != "c1" || online.Reason != "" {
		t.Errorf("online payload = %+v", online)
	}
	if offline.Status != "offline" || offline.Reason != reasonGraceful {
		t.Errorf("offline payload = %+v", offline)
	}
	if _, err := time.Parse(time.RFC3339, online.Timestamp); err != nil {
		t.Errorf("timestamp %q is not RFC3339", online.Timestamp)
	}
}

// =============================================================================
// Publish Tests
// =============================================================================

func TestPublish(t *testing.T) {
	c, paho := newTestClient()

	if err := c.Publish("root/notification", []byte(`{"a":1}`), 1, false); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if err := c.Publish("devserver/device-info/root", []byte("{}"), 1, true); err != nil {
		t.Fatalf("Publish() retained error = %v", err)
	}

	if len(paho.published) != 2 {
		t.Fatalf("published %d messages, want 2", len(paho.published))
	}
	if !paho.published[1].retained || paho.published[1].qos != 1 {
		t.Errorf("retained publish = %+v", paho.published[1])
	}
}

func TestPublishValidation(t *testing.T) {
	tests := []struct {
		name    string
		topic   string
		payload []byte
		qos     byte
		wantErr error
	}{
		{name: "empty topic", topic: "", qos: 1, wantErr: ErrInvalidTopic},
		{name: "invalid qos", topic: "t", qos: 3, wantErr: ErrInvalidQoS},
		{name: "oversized payload", topic: "t", qos: 1, payload: make([]byte, maxPayloadSize+1), wantErr: ErrPublishFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, paho := newTestClient()
			err := c.Publish(tt.topic, tt.payload, tt.qos, false)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Publish() error = %v, want %v", err, tt.wantErr)
			}
			if len(paho.published) != 0 {
				t.Error("invalid publish reached the broker")
			}
		})
	}
}

func TestPublishDisconnected(t *testing.T) {
	c, paho := newTestClient()
	paho.connected = false

	if err := c.Publish("t", nil, 1, false); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Publish() error = %v, want ErrNotConnected", err)
	}
}

func TestPublishTimeoutAndBrokerError(t *testing.T) {
	c, paho := newTestClient()

	paho.pubToken = fakeToken{timeout: true}
	err := c.Publish("t", nil, 1, false)
	if !errors.Is(err, ErrPublishFailed) || !errors.Is(err, ErrTimeout) {
		t.Errorf("timeout error = %v, want ErrPublishFailed wrapping ErrTimeout", err)
	}

	paho.pubToken = fakeToken{err: errors.New("broker refused")}
	err = c.Publish("t", nil, 1, false)
	if !errors.Is(err, ErrPublishFailed) || !strings.Contains(err.Error(), "broker refused") {
		t.Errorf("broker error = %v", err)
	}
}

// =============================================================================
// Subscribe Tests
// =============================================================================

func TestSubscribeTracksAndUnsubscribe(t *testing.T) {
	c, _ := newTestClient()
	handler := func(string, []byte) error { return nil }

	if err := c.Subscribe("root/control", 1, handler); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if got := c.Subscriptions(); len(got) != 1 || got[0] != "root/control" {
		t.Errorf("Subscriptions() = %v, want [root/control]", got)
	}

	if err := c.Unsubscribe("root/control"); err != nil {
		t.Fatalf("Unsubscribe() error = %v", err)
	}
	if got := c.Subscriptions(); len(got) != 0 {
		t.Errorf("Subscriptions() = %v after Unsubscribe", got)
	}
}

func TestSubscribeValidation(t *testing.T) {
	c, _ := newTestClient()
	handler := func(string, []byte) error { return nil }

	if err := c.Subscribe("", 1, handler); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("empty topic error = %v", err)
	}
	if err := c.Subscribe("t", 3, handler); !errors.Is(err, ErrInvalidQoS) {
		t.Errorf("invalid qos error = %v", err)
	}
	if err := c.Subscribe("t", 1, nil); !errors.Is(err, ErrSubscribeFailed) {
		t.Errorf("nil handler error = %v", err)
	}
	if err := c.Unsubscribe(""); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("empty unsubscribe error = %v", err)
	}
}

func TestSubscribeBrokerErrorUntracks(t *testing.T) {
	c, paho := newTestClient()
	paho.subErr = errors.New("not authorised")

	err := c.Subscribe("root/control", 1, func(string, []byte) error { return nil })
	if !errors.Is(err, ErrSubscribeFailed) {
		t.Fatalf("Subscribe() error = %v, want ErrSubscribeFailed", err)
	}
	if got := c.Subscriptions(); len(got) != 0 {
		t.Errorf("failed subscription is still tracked: %v", got)
	}
}

// =============================================================================
// Connection Event Tests
// =============================================================================

func TestHandleConnect_RestoresAndAnnounces(t *testing.T) {
	c, paho := newTestClient()
	_ = c.Subscribe("root/control", 1, func(string, []byte) error { return nil })
	paho.subscribed = nil

	connected := make(chan struct{}, 1)
	c.SetOnConnect(func() { connected <- struct{}{} })

	c.handleConnect()

	if len(paho.subscribed) != 1 || paho.subscribed[0] != "root/control" {
		t.Errorf("restored subscriptions = %v", paho.subscribed)
	}

	last := paho.published[len(paho.published)-1]
	if last.topic != "devserver/status/devserver-test" || !last.retained {
		t.Errorf("online status = %+v", last)
	}

	select {
	case <-connected:
	default:
		t.Error("OnConnect callback not invoked")
	}
}

func TestHandleDisconnect(t *testing.T) {
	c, paho := newTestClient()

	var got error
	c.SetOnDisconnect(func(err error) { got = err })

	lost := errors.New("connection reset")
	c.handleDisconnect(lost)
	paho.connected = false

	if c.IsConnected() {
		t.Error("IsConnected() = true after disconnect")
	}
	if !errors.Is(got, lost) {
		t.Errorf("OnDisconnect error = %v, want %v", got, lost)
	}
	if err := c.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() = %v, want ErrNotConnected", err)
	}
}

func TestHealthCheckCancelled(t *testing.T) {
	c, _ := newTestClient()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := c.HealthCheck(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("HealthCheck() = %v, want context.Canceled", err)
	}
	if err := c.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() = %v, want nil", err)
	}
}

func TestClose_PublishesGracefulOffline(t *testing.T) {
	c, paho := newTestClient()

	if err := c.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	last := paho.published[len(paho.published)-1]
	var payload statusPayload
	if err := json.Unmarshal(last.payload, &payload); err != nil {
		t.Fatal(err)
	}
	if payload.Reason != reasonGraceful {
		t.Errorf("offline reason = %q, want %q", payload.Reason, reasonGraceful)
	}
	if c.IsConnected() {
		t.Error("IsConnected() = true after Close")
	}
}

func TestClose_OfflineStatusTimeout(t *testing.T) {
	c, paho := newTestClient()
	logger := &mockLogger{}
	c.SetLogger(logger)
	paho.pubToken = fakeToken{timeout: true}

	if err := c.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if len(logger.warns) != 1 {
		t.Errorf("warns = %v, want the offline status timeout", logger.warns)
	}
	if paho.IsConnected() {
		t.Error("paho still connected after Close")
	}
}

func TestWait_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := wait(ctx, fakeToken{timeout: true}, time.Second)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("wait() = %v, want context.Canceled", err)
	}
}

func TestCloseNil(t *testing.T) {
	c := &Client{}
	if err := c.Close(); err != nil {
		t.Errorf("Close() on unconnected client error = %v", err)
	}
}

// =============================================================================
// Handler Wrapping Tests
// =============================================================================

func TestWrapHandler_LogsErrors(t *testing.T) {
	c, _ := newTestClient()
	logger := &mockLogger{}
	c.SetLogger(logger)

	h := c.wrapHandler(func(string, []byte) error { return errors.New("bad frame") })
	h(nil, fakeMessage{topic: "root/control", payload: []byte("x")})

	if len(logger.warns) != 1 {
		t.Errorf("warns = %v, want one entry", logger.warns)
	}
}

func TestWrapHandler_RecoversPanic(t *testing.T) {
	c, _ := newTestClient()
	logger := &mockLogger{}
	c.SetLogger(logger)

	h := c.wrapHandler(func(string, []byte) error { panic("boom") })
	h(nil, fakeMessage{topic: "root/control"})

	if len(logger.errors) != 1 {
		t.Errorf("errors = %v, want one entry", logger.errors)
	}
}

func TestWrapHandler_NoLogger(t *testing.T) {
	c, _ := newTestClient()
	c.SetLogger(nil)

	var gotTopic string
	var gotPayload []byte
	h := c.wrapHandler(func(topic string, payload []byte) error {
		gotTopic, gotPayload = topic, payload
		return errors.New("ignored")
	})
	h(nil, fakeMessage{topic: "root/control", payload: []byte("frame")})

	if gotTopic != "root/control" || string(gotPayload) != "frame" {
		t.Errorf("handler got %q %q", gotTopic, gotPayload)
	}
}

// =============================================================================
// Topic Tests
// =============================================================================

func TestTopicBuilders(t *testing.T) {
	topics := Topics{Namespace: "lab/"}
	root := "realsense/D435/1234"

	tests := []struct {
		name     string
		got      string
		expected string
	}{
		{"Status", topics.Status("c1"), "lab/status/c1"},
		{"DeviceInfo", topics.DeviceInfo(root), "lab/device-info/realsense/D435/1234"},
		{"DefaultNamespace", Topics{}.Status("c1"), "devserver/status/c1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.expected {
				t.Errorf("%s = %q, want %q", tt.name, tt.got, tt.expected)
			}
		})
	}
}
