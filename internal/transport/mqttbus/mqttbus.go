// Package mqttbus binds the transport contracts to an MQTT broker.
//
// Each writer publishes flexible frames on its topic; each reader subscribes
// to its topic and queues decoded samples. Frames carry the writer GUID and
// a per-writer sequence number, which MQTT itself does not provide.
//
// QoS mapping:
//   - Reliable: MQTT QoS 1, reader queue bounded at maxReliableQueue
//   - BestEffort: MQTT QoS 0, reader queue keeps the last HistoryDepth samples
//
// The MQTT message handler only queues samples. Each reader runs its
// data-available callback on its own goroutine, so a callback that blocks
// throttles that reader alone and never the client's inbound packet
// processing (acknowledgements for our own publishes included).
package mqttbus

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-devserver/internal/flexible"
	"github.com/nerrad567/gray-logic-devserver/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-devserver/internal/transport"
)

// maxReliableQueue bounds reliable reader queues so a stalled consumer
// cannot grow memory without limit.
const maxReliableQueue = 1024

// Client is the subset of *mqtt.Client the participant uses.
type Client interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
	IsConnected() bool
}

// Logger defines the logging interface used by the participant.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Option configures a Participant.
type Option func(*Participant)

// WithFormat selects the encoding of outbound frames (default JSON).
// Inbound frames are accepted in either encoding.
func WithFormat(f flexible.Format) Option {
	return func(p *Participant) { p.format = f }
}

// WithSettings sets the participant settings returned by Settings.
func WithSettings(s transport.Settings) Option {
	return func(p *Participant) {
		if s != nil {
			p.settings = s
		}
	}
}

// WithLogger sets the participant logger.
func WithLogger(l Logger) Option {
	return func(p *Participant) { p.logger = l }
}

// Participant is a transport.Participant backed by an MQTT client.
//
// Thread Safety: All methods are safe for concurrent use.
type Participant struct {
	client   Client
	format   flexible.Format
	settings transport.Settings
	logger   Logger

	mu      sync.Mutex
	readers map[string][]*reader
}

// New creates a participant on a connected client.
func New(client Client, opts ...Option) *Participant {
	p := &Participant{
		client:   client,
		format:   flexible.FormatJSON,
		settings: transport.Settings{},
		logger:   noopLogger{},
		readers:  make(map[string][]*reader),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Settings returns the participant settings.
func (p *Participant) Settings() transport.Settings {
	return p.settings
}

// CreateWriter opens a writer on topic.
func (p *Participant) CreateWriter(topic string, qos transport.QoS) (transport.Writer, error) {
	if err := validateTopic(topic); err != nil {
		return nil, err
	}
	return &writer{
		p:     p,
		topic: topic,
		qos:   mqttQoS(qos),
		guid:  uuid.NewString(),
	}, nil
}

// CreateReader opens a reader on topic. The first reader on a topic
// subscribes; later readers share the subscription.
func (p *Participant) CreateReader(topic string, qos transport.QoS) (transport.Reader, error) {
	if topic == "" {
		return nil, fmt.Errorf("%w: empty topic", transport.ErrInvalidTopic)
	}

	r := &reader{
		p:        p,
		topic:    topic,
		limit:    queueLimit(qos),
		reliable: qos.Reliability == transport.Reliable,
		signal:   make(chan struct{}, 1),
		done:     make(chan struct{}),
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.readers[topic]) == 0 {
		if err := p.client.Subscribe(topic, mqttQoS(qos), p.deliver); err != nil {
			return nil, fmt.Errorf("subscribing to %s: %w", topic, err)
		}
	}
	p.readers[topic] = append(p.readers[topic], r)

	go r.notifyLoop()
	return r, nil
}

// deliver is the MQTT message handler shared by every reader on a topic.
func (p *Participant) deliver(topic string, payload []byte) error {
	frame, err := flexible.Decode(payload)

	sample := transport.Sample{Valid: err == nil}
	if err == nil {
		sample.Document = frame.Data
		sample.Identity = frame.Identity()
	} else {
		p.logger.Debug("discarding undecodable frame", "topic", topic, "error", err)
	}

	p.mu.Lock()
	readers := append([]*reader(nil), p.readers[topic]...)
	p.mu.Unlock()

	for _, r := range readers {
		r.push(sample)
	}
	return nil
}

func (p *Participant) removeReader(r *reader) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	list := p.readers[r.topic]
	for i, candidate := range list {
		if candidate == r {
			list = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(list) > 0 {
		p.readers[r.topic] = list
		return nil
	}

	delete(p.readers, r.topic)
	if !p.client.IsConnected() {
		// Clean sessions drop subscriptions with the connection.
		return nil
	}
	if err := p.client.Unsubscribe(r.topic); err != nil {
		return fmt.Errorf("unsubscribing from %s: %w", r.topic, err)
	}
	return nil
}

// ============================================================================
// Writer
// ============================================================================

type writer struct {
	p      *Participant
	topic  string
	qos    byte
	guid   string
	seq    atomic.Int64
	closed atomic.Bool
}

func (w *writer) Write(doc flexible.Document) error {
	if w.closed.Load() {
		return transport.ErrClosed
	}

	payload, err := flexible.Encode(w.p.format, flexible.Frame{
		Writer:   w.guid,
		Sequence: w.seq.Add(1),
		Data:     doc,
	})
	if err != nil {
		return err
	}

	if err := w.p.client.Publish(w.topic, payload, w.qos, false); err != nil {
		return fmt.Errorf("publishing to %s: %w", w.topic, err)
	}
	return nil
}

func (w *writer) GUID() string {
	return w.guid
}

// HasReaders reports the broker connection state. MQTT gives a publisher no
// view of its subscribers, so a connected broker is the closest signal.
func (w *writer) HasReaders() bool {
	return !w.closed.Load() && w.p.client.IsConnected()
}

func (w *writer) Close() error {
	w.closed.Store(true)
	return nil
}

// ============================================================================
// Reader
// ============================================================================

type reader struct {
	p        *Participant
	topic    string
	limit    int
	reliable bool

	// signal wakes notifyLoop; one pending wakeup covers any number of
	// queued samples because the callback drains with TakeNext.
	signal chan struct{}
	done   chan struct{}

	mu       sync.Mutex
	queue    []transport.Sample
	callback func()
	closed   bool
	dropped  uint64
}

func (r *reader) OnDataAvailable(fn func()) {
	r.mu.Lock()
	r.callback = fn
	pending := len(r.queue) > 0
	r.mu.Unlock()

	if pending {
		r.wake()
	}
}

// push runs on the MQTT client's delivery goroutine and must not block.
func (r *reader) push(s transport.Sample) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	evicted := false
	if len(r.queue) >= r.limit {
		r.queue = r.queue[1:]
		r.dropped++
		evicted = true
	}
	r.queue = append(r.queue, s)
	r.mu.Unlock()

	if evicted && r.reliable {
		r.p.logger.Warn("reader queue full, oldest sample evicted", "topic", r.topic)
	}
	r.wake()
}

func (r *reader) wake() {
	select {
	case r.signal <- struct{}{}:
	default:
	}
}

// notifyLoop runs the data-available callback off the delivery goroutine.
func (r *reader) notifyLoop() {
	for {
		select {
		case <-r.done:
			return
		case <-r.signal:
			r.mu.Lock()
			cb := r.callback
			r.mu.Unlock()

			if cb != nil {
				cb()
			}
		}
	}
}

func (r *reader) TakeNext() (transport.Sample, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.queue) == 0 {
		return transport.Sample{}, false
	}
	s := r.queue[0]
	r.queue[0] = transport.Sample{}
	r.queue = r.queue[1:]
	return s, true
}

// Dropped returns how many samples were evicted because the queue was full.
func (r *reader) Dropped() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}

func (r *reader) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.queue = nil
	r.callback = nil
	close(r.done)
	r.mu.Unlock()

	return r.p.removeReader(r)
}

// ============================================================================
// Helpers
// ============================================================================

func mqttQoS(q transport.QoS) byte {
	if q.Reliability == transport.Reliable {
		return 1
	}
	return 0
}

func queueLimit(q transport.QoS) int {
	if q.Reliability == transport.Reliable {
		return maxReliableQueue
	}
	if q.HistoryDepth < 1 {
		return 1
	}
	return q.HistoryDepth
}

// validateTopic rejects topics MQTT cannot publish to.
func validateTopic(topic string) error {
	if topic == "" {
		return fmt.Errorf("%w: empty topic", transport.ErrInvalidTopic)
	}
	if strings.ContainsAny(topic, "+#") {
		return fmt.Errorf("%w: wildcard in publish topic %q", transport.ErrInvalidTopic, topic)
	}
	return nil
}
