// Package transport defines the publish/subscribe contracts the device server
// is written against.
//
// A Participant creates one Writer or Reader per logical channel (topic).
// Readers deliver samples through a data-available callback with take-next
// semantics; every sample carries the identity of the writer that produced it
// and that writer's sequence number, which the control path echoes back so
// clients can correlate replies.
//
// Implementations:
//   - mqttbus: MQTT broker binding (production)
//   - transporttest: in-memory loopback (tests)
package transport

import (
	"github.com/nerrad567/gray-logic-devserver/internal/flexible"
)

// UnknownGUID is reported when no writer identity is available, for example
// before the notification channel has been created.
const UnknownGUID = "00000000-0000-0000-0000-000000000000"

// SampleIdentity is the correlation token of a sample: writer GUID and
// per-writer sequence number.
type SampleIdentity = flexible.Identity

// Sample is one inbound message taken from a Reader.
//
// Valid is false for samples that carry no usable document (decode failures,
// disposal notices); callers skip them.
type Sample struct {
	Document flexible.Document
	Identity SampleIdentity
	Valid    bool
}

// Writer publishes documents on a single topic.
//
// Thread Safety: implementations must allow Write from multiple goroutines.
type Writer interface {
	// Write publishes a document.
	Write(doc flexible.Document) error

	// GUID returns the writer's identity as stamped on every sample.
	GUID() string

	// HasReaders reports whether any reader is known to be matched.
	HasReaders() bool

	// Close releases the writer. Writes after Close fail.
	Close() error
}

// Reader receives documents from a single topic.
type Reader interface {
	// OnDataAvailable registers the callback invoked, on the transport's
	// delivery goroutine, whenever new samples are queued. It must not block
	// for long.
	OnDataAvailable(fn func())

	// TakeNext removes and returns the oldest queued sample.
	// ok is false when the queue is empty.
	TakeNext() (sample Sample, ok bool)

	// Close stops delivery. Queued samples are discarded.
	Close() error
}

// Participant is a node on the bus that owns writers and readers.
type Participant interface {
	// CreateWriter opens a writer on topic with the given QoS.
	CreateWriter(topic string, qos QoS) (Writer, error)

	// CreateReader opens a reader on topic with the given QoS.
	CreateReader(topic string, qos QoS) (Reader, error)

	// Settings returns participant-level settings (QoS overrides and the
	// like). Never nil.
	Settings() Settings
}
