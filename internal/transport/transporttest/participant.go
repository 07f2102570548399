// Package transporttest provides an in-memory transport for tests.
//
// Writers and readers created by the same Participant are connected by topic.
// Every write is round-tripped through the frame codec (JSON unless
// SetFormat says otherwise) so readers see documents exactly as they would
// arrive from a broker.
// Delivery is synchronous: the reader's data-available callback runs on the
// writing goroutine.
package transporttest

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-devserver/internal/flexible"
	"github.com/nerrad567/gray-logic-devserver/internal/transport"
)

// Participant is an in-memory transport.Participant.
//
// Thread Safety: All methods are safe for concurrent use.
type Participant struct {
	settings transport.Settings
	format   flexible.Format

	mu        sync.Mutex
	readers   map[string][]*Reader
	published map[string][]flexible.Document
	writers   []*Writer

	failWriters map[string]error
	failReaders map[string]error
}

// New creates an empty in-memory participant.
func New(settings transport.Settings) *Participant {
	if settings == nil {
		settings = transport.Settings{}
	}
	return &Participant{
		settings:    settings,
		readers:     make(map[string][]*Reader),
		published:   make(map[string][]flexible.Document),
		failWriters: make(map[string]error),
		failReaders: make(map[string]error),
	}
}

// Settings returns the participant settings.
func (p *Participant) Settings() transport.Settings {
	return p.settings
}

// SetFormat selects the frame encoding used by every later write.
func (p *Participant) SetFormat(f flexible.Format) {
	p.mu.Lock()
	p.format = f
	p.mu.Unlock()
}

// FailCreateWriter makes the next CreateWriter on topic return err.
func (p *Participant) FailCreateWriter(topic string, err error) {
	p.mu.Lock()
	p.failWriters[topic] = err
	p.mu.Unlock()
}

// FailCreateReader makes the next CreateReader on topic return err.
func (p *Participant) FailCreateReader(topic string, err error) {
	p.mu.Lock()
	p.failReaders[topic] = err
	p.mu.Unlock()
}

// CreateWriter opens a writer on topic.
func (p *Participant) CreateWriter(topic string, qos transport.QoS) (transport.Writer, error) {
	if topic == "" {
		return nil, transport.ErrInvalidTopic
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err, ok := p.failWriters[topic]; ok {
		delete(p.failWriters, topic)
		return nil, err
	}

	w := &Writer{
		participant: p,
		topic:       topic,
		qos:         qos,
		guid:        uuid.NewString(),
	}
	p.writers = append(p.writers, w)
	return w, nil
}

// CreateReader opens a reader on topic.
func (p *Participant) CreateReader(topic string, qos transport.QoS) (transport.Reader, error) {
	if topic == "" {
		return nil, transport.ErrInvalidTopic
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err, ok := p.failReaders[topic]; ok {
		delete(p.failReaders, topic)
		return nil, err
	}

	r := &Reader{participant: p, topic: topic, qos: qos}
	p.readers[topic] = append(p.readers[topic], r)
	return r, nil
}

// Published returns a copy of every document written to topic, in order.
func (p *Participant) Published(topic string) []flexible.Document {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]flexible.Document(nil), p.published[topic]...)
}

// Reset forgets the documents recorded for topic.
func (p *Participant) Reset(topic string) {
	p.mu.Lock()
	delete(p.published, topic)
	p.mu.Unlock()
}

// Writers returns every writer created on topic (open or closed).
func (p *Participant) Writers(topic string) []*Writer {
	p.mu.Lock()
	defer p.mu.Unlock()

	var out []*Writer
	for _, w := range p.writers {
		if w.topic == topic {
			out = append(out, w)
		}
	}
	return out
}

// OpenReaders returns the number of open readers on topic.
func (p *Participant) OpenReaders(topic string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.readers[topic])
}

// InjectInvalid delivers an invalid sample to every reader on topic.
func (p *Participant) InjectInvalid(topic string) {
	p.deliver(topic, transport.Sample{Valid: false})
}

func (p *Participant) deliver(topic string, sample transport.Sample) {
	p.mu.Lock()
	if sample.Valid {
		p.published[topic] = append(p.published[topic], sample.Document)
	}
	readers := append([]*Reader(nil), p.readers[topic]...)
	p.mu.Unlock()

	for _, r := range readers {
		r.push(sample)
	}
}

func (p *Participant) removeReader(r *Reader) {
	p.mu.Lock()
	defer p.mu.Unlock()

	list := p.readers[r.topic]
	for i, existing := range list {
		if existing == r {
			p.readers[r.topic] = append(list[:i], list[i+1:]...)
			break
		}
	}
}

// Writer is an in-memory transport.Writer.
type Writer struct {
	participant *Participant
	topic       string
	qos         transport.QoS
	guid        string

	mu     sync.Mutex
	seq    int64
	closed bool
}

// Write encodes doc as a frame, decodes it again and delivers it.
func (w *Writer) Write(doc flexible.Document) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return transport.ErrClosed
	}
	w.seq++
	frame := flexible.Frame{Writer: w.guid, Sequence: w.seq, Data: doc}
	w.mu.Unlock()

	w.participant.mu.Lock()
	format := w.participant.format
	w.participant.mu.Unlock()

	payload, err := flexible.Encode(format, frame)
	if err != nil {
		return err
	}
	decoded, err := flexible.Decode(payload)
	if err != nil {
		return fmt.Errorf("loopback decode: %w", err)
	}

	w.participant.deliver(w.topic, transport.Sample{
		Document: decoded.Data,
		Identity: decoded.Identity(),
		Valid:    true,
	})
	return nil
}

// GUID returns the writer identity.
func (w *Writer) GUID() string {
	return w.guid
}

// HasReaders reports whether a reader is open on the writer's topic.
func (w *Writer) HasReaders() bool {
	return w.participant.OpenReaders(w.topic) > 0
}

// Close marks the writer closed.
func (w *Writer) Close() error {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()
	return nil
}

// Closed reports whether Close was called.
func (w *Writer) Closed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closed
}

// QoS returns the QoS the writer was created with.
func (w *Writer) QoS() transport.QoS {
	return w.qos
}

// Reader is an in-memory transport.Reader.
type Reader struct {
	participant *Participant
	topic       string
	qos         transport.QoS

	mu       sync.Mutex
	queue    []transport.Sample
	callback func()
	closed   bool
}

// OnDataAvailable registers the delivery callback.
func (r *Reader) OnDataAvailable(fn func()) {
	r.mu.Lock()
	r.callback = fn
	r.mu.Unlock()
}

// TakeNext pops the oldest queued sample.
func (r *Reader) TakeNext() (transport.Sample, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.queue) == 0 {
		return transport.Sample{}, false
	}
	s := r.queue[0]
	r.queue = r.queue[1:]
	return s, true
}

// Close detaches the reader from its topic.
func (r *Reader) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.queue = nil
	r.mu.Unlock()

	r.participant.removeReader(r)
	return nil
}

// QoS returns the QoS the reader was created with.
func (r *Reader) QoS() transport.QoS {
	return r.qos
}

func (r *Reader) push(s transport.Sample) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.queue = append(r.queue, s)
	cb := r.callback
	r.mu.Unlock()

	if cb != nil {
		cb()
	}
}
