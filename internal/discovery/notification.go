package discovery

import (
	"fmt"
	"sync"

	"github.com/nerrad567/gray-logic-devserver/internal/flexible"
	"github.com/nerrad567/gray-logic-devserver/internal/transport"
)

// maxLoggedLength bounds the size of documents written to the debug log.
const maxLoggedLength = 300

// Logger defines the logging interface used by the notification server.
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

// NotificationServer owns the notification channel of a device. It emits
// the discovery set and forwards every other notification (control replies,
// device events) to the transport.
//
// Thread Safety: All methods are safe for concurrent use. Discovery
// emissions are serialised so two sets never interleave.
type NotificationServer struct {
	writer    transport.Writer
	announcer *Announcer
	logger    Logger

	emitMu sync.Mutex

	mu     sync.RWMutex
	closed bool
}

// NewNotificationServer creates the notification writer on topic.
//
// Parameters:
//   - p: Transport participant
//   - topic: Notification topic (e.g. "realsense/D435_1234/notification")
//   - qos: Writer QoS
//   - announcer: Source of the discovery set
//
// Returns:
//   - *NotificationServer: Ready to Run
//   - error: If the writer cannot be created
func NewNotificationServer(p transport.Participant, topic string, qos transport.QoS, announcer *Announcer) (*NotificationServer, error) {
	w, err := p.CreateWriter(topic, qos)
	if err != nil {
		return nil, fmt.Errorf("creating notification writer: %w", err)
	}
	return &NotificationServer{
		writer:    w,
		announcer: announcer,
		logger:    noopLogger{},
	}, nil
}

// SetLogger sets the logger for the notification server.
func (n *NotificationServer) SetLogger(logger Logger) {
	n.logger = logger
}

// Run emits the initial discovery set.
func (n *NotificationServer) Run() error {
	return n.emitDiscovery()
}

// TriggerDiscovery re-emits the discovery set, rebuilt from current state.
// Used when a client may have missed or discarded the previous one.
func (n *NotificationServer) TriggerDiscovery() error {
	return n.emitDiscovery()
}

func (n *NotificationServer) emitDiscovery() error {
	if n.announcer == nil {
		return nil
	}

	n.emitMu.Lock()
	defer n.emitMu.Unlock()

	for _, doc := range n.announcer.Documents() {
		if err := n.Send(doc); err != nil {
			return fmt.Errorf("emitting %v: %w", doc["id"], err)
		}
	}
	return nil
}

// Send publishes a notification document.
func (n *NotificationServer) Send(doc flexible.Document) error {
	n.mu.RLock()
	defer n.mu.RUnlock()

	if n.closed {
		return transport.ErrClosed
	}

	n.logger.Debug(">>> notification", "doc", flexible.Shorten(doc, maxLoggedLength))
	return n.writer.Write(doc)
}

// GUID returns the identity of the notification writer.
func (n *NotificationServer) GUID() string {
	return n.writer.GUID()
}

// Close releases the notification writer. Further sends fail.
func (n *NotificationServer) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return nil
	}
	n.closed = true
	return n.writer.Close()
}
