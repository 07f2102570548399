// Package server implements the device server: the lifecycle that ties the
// option registry, discovery, control dispatch and broadcasting to one
// device topic root.
//
// Lifecycle:
//
//	New ──► Init ──► ready ──► Broadcast ──► broadcasting
//	          │                    ▲              │
//	          │ (failure:          └── BroadcastDisconnect
//	          │  full rollback)
//	          ▼
//	    uninitialized                   Close ──► closed
//
// Init populates the registry, opens every stream, emits discovery and
// only then starts accepting control requests. Any failure undoes every
// step, leaving the server as if Init had never been called.
package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
	"weak"

	"github.com/nerrad567/gray-logic-devserver/internal/broadcast"
	"github.com/nerrad567/gray-logic-devserver/internal/control"
	"github.com/nerrad567/gray-logic-devserver/internal/discovery"
	"github.com/nerrad567/gray-logic-devserver/internal/flexible"
	"github.com/nerrad567/gray-logic-devserver/internal/option"
	"github.com/nerrad567/gray-logic-devserver/internal/registry"
	"github.com/nerrad567/gray-logic-devserver/internal/stream"
	"github.com/nerrad567/gray-logic-devserver/internal/transport"
)

const (
	// metadataHistoryDepth is the default history kept by the metadata writer.
	metadataHistoryDepth = 10

	// observerTimeout bounds each option observer call (journal, telemetry).
	observerTimeout = 5 * time.Second

	// maxLoggedLength bounds the size of control documents in the debug log.
	maxLoggedLength = 300
)

// Settings paths for QoS overrides.
var (
	settingsNotification = []string{"device", "notification"}
	settingsControl      = []string{"device", "control"}
	settingsMetadata     = []string{"device", "metadata"}
)

// Logger defines the logging interface used by the device server.
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

// RequestObserver is told the outcome of every control request after its
// reply has been sent. It runs on the dispatcher worker and must not block.
type RequestObserver interface {
	RequestHandled(id string, err error, elapsed time.Duration)
}

// BroadcasterFactory starts announcing a device. onAck must be called once
// the announcement has been delivered; it may be called again on every
// re-announcement.
type BroadcasterFactory func(info broadcast.DeviceInfo, onAck func()) (broadcast.Broadcaster, error)

// DeviceServer serves one device on one topic root.
//
// Thread Safety: All methods are safe for concurrent use. Lifecycle
// operations (Init, Broadcast, BroadcastDisconnect, Close) are serialised.
// Control requests run on the dispatcher's workers and never take the
// lifecycle lock.
type DeviceServer struct {
	participant transport.Participant
	topicRoot   string
	logger      Logger

	registry   *registry.Registry
	router     *control.Router
	dispatcher *control.Dispatcher

	routerOpts       []control.RouterOption
	dispatcherOpts   []control.DispatcherOption
	factory          BroadcasterFactory
	optionObservers  []control.OptionObserver
	requestObservers []RequestObserver

	// changes is nil when no option observer is configured.
	changes *changeFeed

	// Channels read by control workers without the lifecycle lock.
	notification atomic.Pointer[discovery.NotificationServer]
	metadata     atomic.Pointer[transport.Writer]

	lifecycleMu   sync.RWMutex
	state         State
	streams       []*stream.Stream
	controlReader transport.Reader
	broadcaster   broadcast.Broadcaster
}

// Option configures a DeviceServer.
type Option func(*DeviceServer)

// WithLogger sets the logger for the server and its components.
func WithLogger(l Logger) Option {
	return func(s *DeviceServer) { s.logger = l }
}

// WithRouterOptions configures control routing (setter, querier and
// command handler).
func WithRouterOptions(opts ...control.RouterOption) Option {
	return func(s *DeviceServer) { s.routerOpts = append(s.routerOpts, opts...) }
}

// WithDispatcherOptions configures the control dispatcher (workers, queue
// size, metrics).
func WithDispatcherOptions(opts ...control.DispatcherOption) Option {
	return func(s *DeviceServer) { s.dispatcherOpts = append(s.dispatcherOpts, opts...) }
}

// WithOptionObservers adds observers of applied option changes. They run
// on a dedicated goroutine, in order, after the reply has been sent.
func WithOptionObservers(observers ...control.OptionObserver) Option {
	return func(s *DeviceServer) { s.optionObservers = append(s.optionObservers, observers...) }
}

// WithRequestObservers adds observers of control request outcomes.
func WithRequestObservers(observers ...RequestObserver) Option {
	return func(s *DeviceServer) { s.requestObservers = append(s.requestObservers, observers...) }
}

// WithBroadcasterFactory sets how Broadcast announces the device.
func WithBroadcasterFactory(f BroadcasterFactory) Option {
	return func(s *DeviceServer) { s.factory = f }
}

// New creates a device server and starts its control dispatcher.
//
// Parameters:
//   - p: Transport participant used for every channel
//   - topicRoot: Namespace of the device's topics (e.g. "realsense/D435_1234")
//   - opts: Optional configuration
//
// Returns:
//   - *DeviceServer: Uninitialized server; call Init next
//   - error: ErrEmptyTopicRoot, or a dispatcher setup failure
func New(p transport.Participant, topicRoot string, opts ...Option) (*DeviceServer, error) {
	if topicRoot == "" {
		return nil, ErrEmptyTopicRoot
	}

	s := &DeviceServer{
		participant: p,
		topicRoot:   topicRoot,
		logger:      noopLogger{},
		registry:    registry.New(),
	}
	for _, opt := range opts {
		opt(s)
	}

	routerOpts := append([]control.RouterOption{control.WithRouterLogger(s.logger)}, s.routerOpts...)
	s.router = control.NewRouter(s.registry, routerOpts...)

	dispatcherOpts := append([]control.DispatcherOption{control.WithDispatcherLogger(s.logger)}, s.dispatcherOpts...)
	d, err := control.NewDispatcher(s.execute, dispatcherOpts...)
	if err != nil {
		return nil, fmt.Errorf("creating control dispatcher: %w", err)
	}
	s.dispatcher = d

	if len(s.optionObservers) > 0 {
		s.changes = newChangeFeed(s.optionObservers, observerTimeout, s.logger)
	}

	return s, nil
}

// TopicRoot returns the device topic root.
func (s *DeviceServer) TopicRoot() string {
	return s.topicRoot
}

// State returns the current lifecycle state.
func (s *DeviceServer) State() State {
	s.lifecycleMu.RLock()
	defer s.lifecycleMu.RUnlock()
	return s.state
}

// Init brings the device online.
//
// Steps, in order:
//  1. Create the notification channel
//  2. Register device options
//  3. Open and register every stream, in caller order, creating the
//     metadata channel for the first stream that enables metadata
//  4. Emit discovery
//  5. Start accepting control requests
//
// Any failure rolls back all steps and returns the server to
// StateUninitialized.
//
// Returns:
//   - ErrAlreadyInitialized if the server is already initialized (its
//     state is left untouched)
//   - ErrClosed after Close
//   - the failing step's error otherwise
func (s *DeviceServer) Init(streams []*stream.Stream, deviceOptions option.List, extrinsics []discovery.Extrinsics) error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	switch s.state {
	case StateClosed:
		return ErrClosed
	case StateUninitialized:
	default:
		return ErrAlreadyInitialized
	}

	s.state = StateInitializing
	if err := s.init(streams, deviceOptions, extrinsics); err != nil {
		s.rollback()
		s.state = StateUninitialized
		s.logger.Error("device server init failed", "topic_root", s.topicRoot, "error", err)
		return err
	}
	s.state = StateReady

	s.logger.Info("device server initialized",
		"topic_root", s.topicRoot,
		"streams", len(streams),
		"device_options", len(deviceOptions),
	)
	return nil
}

func (s *DeviceServer) init(streams []*stream.Stream, deviceOptions option.List, extrinsics []discovery.Extrinsics) error {
	notificationQoS, err := s.qos(transport.ReliableQoS(), settingsNotification...)
	if err != nil {
		return err
	}
	announcer := discovery.NewAnnouncer(streams, deviceOptions, extrinsics)
	ns, err := discovery.NewNotificationServer(s.participant, NotificationTopic(s.topicRoot), notificationQoS, announcer)
	if err != nil {
		return err
	}
	ns.SetLogger(s.logger)
	s.notification.Store(ns)

	// A previous Init may have failed half way.
	s.registry.Clear()
	s.registry.RegisterDeviceOptions(deviceOptions)

	for _, st := range streams {
		if err := st.Open(stream.TopicName(s.topicRoot, st.Name()), s.participant); err != nil {
			return err
		}
		s.streams = append(s.streams, st)

		if err := s.registry.RegisterStream(st.Name(), st.Options()); err != nil {
			return err
		}

		if st.MetadataEnabled() && s.metadata.Load() == nil {
			if err := s.openMetadata(); err != nil {
				return err
			}
		}
	}

	if err := ns.Run(); err != nil {
		return fmt.Errorf("emitting discovery: %w", err)
	}

	controlQoS, err := s.qos(transport.ReliableQoS(), settingsControl...)
	if err != nil {
		return err
	}
	reader, err := s.participant.CreateReader(ControlTopic(s.topicRoot), controlQoS)
	if err != nil {
		return fmt.Errorf("creating control reader: %w", err)
	}
	s.controlReader = reader
	reader.OnDataAvailable(func() { s.onControlData(reader) })

	return nil
}

func (s *DeviceServer) openMetadata() error {
	qos, err := s.qos(transport.BestEffortQoS(metadataHistoryDepth), settingsMetadata...)
	if err != nil {
		return err
	}
	w, err := s.participant.CreateWriter(MetadataTopic(s.topicRoot), qos)
	if err != nil {
		return fmt.Errorf("creating metadata writer: %w", err)
	}
	s.metadata.Store(&w)
	return nil
}

// qos applies participant settings found under path to base.
func (s *DeviceServer) qos(base transport.QoS, path ...string) (transport.QoS, error) {
	overrides, ok := s.participant.Settings().Lookup(path...)
	if !ok {
		return base, nil
	}
	return base.OverrideFromSettings(overrides)
}

// rollback undoes a partial Init. Called with the lifecycle lock held.
func (s *DeviceServer) rollback() {
	s.registry.Clear()

	if s.controlReader != nil {
		if err := s.controlReader.Close(); err != nil {
			s.logger.Warn("closing control reader", "error", err)
		}
		s.controlReader = nil
	}

	for _, st := range s.streams {
		if err := st.Close(); err != nil {
			s.logger.Warn("closing stream", "stream", st.Name(), "error", err)
		}
	}
	s.streams = nil

	if w := s.metadata.Swap(nil); w != nil {
		if err := (*w).Close(); err != nil {
			s.logger.Warn("closing metadata writer", "error", err)
		}
	}

	if ns := s.notification.Swap(nil); ns != nil {
		if err := ns.Close(); err != nil {
			s.logger.Warn("closing notification server", "error", err)
		}
	}
}

// onControlData runs on the reader's delivery goroutine. It only takes
// samples off the reader and queues them; handlers run on the dispatcher.
// When the dispatcher queue is full it blocks, which throttles this reader.
func (s *DeviceServer) onControlData(reader transport.Reader) {
	for {
		sample, ok := reader.TakeNext()
		if !ok {
			return
		}
		if !sample.Valid {
			continue
		}

		s.logger.Debug("<<< control",
			"sample", sample.Identity.JSON(),
			"doc", flexible.Shorten(sample.Document, maxLoggedLength),
		)

		err := s.dispatcher.Submit(context.Background(), control.Job{
			Document: sample.Document,
			Identity: sample.Identity,
		})
		if err != nil {
			s.logger.Warn("control request discarded",
				"sample", sample.Identity.JSON(),
				"error", err,
			)
		}
	}
}

// execute handles one control request on a dispatcher worker and sends
// the reply. Observers are told about the request only after the reply is
// out.
func (s *DeviceServer) execute(job control.Job) error {
	start := time.Now()

	res, err := s.router.Process(job.Document, job.Identity)
	if err != nil {
		s.logger.Debug("control request failed",
			"id", job.Document["id"],
			"error", err,
		)
	}

	if sendErr := s.sendReply(res.Reply); sendErr != nil {
		s.logger.Error("failed to send reply",
			"id", job.Document["id"],
			"error", sendErr,
		)
		if err == nil {
			err = sendErr
		}
	}

	if res.Change != nil && s.changes != nil {
		s.changes.publish(*res.Change)
	}

	if len(s.requestObservers) > 0 {
		id, _ := job.Document["id"].(string)
		elapsed := time.Since(start)
		for _, o := range s.requestObservers {
			o.RequestHandled(id, err, elapsed)
		}
	}
	return err
}

func (s *DeviceServer) sendReply(reply flexible.Document) error {
	ns := s.notification.Load()
	if ns == nil {
		return ErrNotInitialized
	}
	if err := ns.Send(reply); err != nil {
		return fmt.Errorf("sending reply: %w", err)
	}
	return nil
}

// Broadcast starts announcing the device.
//
// Once the broadcaster acknowledges the announcement, discovery is emitted
// again so clients that had marked the device offline can resynchronise.
// The acknowledgement callback holds only a weak reference to the
// notification channel: after Close it does nothing.
//
// Returns:
//   - ErrAlreadyBroadcast if a broadcast is active
//   - ErrNotInitialized before Init
//   - ErrTopicRootMismatch if info names another topic root
//   - ErrNoBroadcaster if no factory is configured
func (s *DeviceServer) Broadcast(info broadcast.DeviceInfo) error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	if s.state == StateClosed {
		return ErrClosed
	}
	if s.broadcaster != nil {
		return ErrAlreadyBroadcast
	}
	if s.state != StateReady {
		return ErrNotInitialized
	}
	if info.TopicRoot != s.topicRoot {
		return fmt.Errorf("%w: got '%s', serving '%s'", ErrTopicRootMismatch, info.TopicRoot, s.topicRoot)
	}
	if s.factory == nil {
		return ErrNoBroadcaster
	}

	ref := weak.Make(s.notification.Load())
	onAck := func() {
		ns := ref.Value()
		if ns == nil {
			return
		}
		if err := ns.TriggerDiscovery(); err != nil {
			s.logger.Warn("re-announcing discovery after broadcast ack", "error", err)
		}
	}

	b, err := s.factory(info, onAck)
	if err != nil {
		return fmt.Errorf("starting broadcast: %w", err)
	}
	s.broadcaster = b
	s.state = StateBroadcasting

	s.logger.Info("device broadcast started", "name", info.Name, "topic_root", info.TopicRoot)
	return nil
}

// BroadcastDisconnect withdraws the announcement. It is a no-op when the
// device was never broadcast. ctx bounds how long the withdrawal may take.
func (s *DeviceServer) BroadcastDisconnect(ctx context.Context) error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	return s.broadcastDisconnect(ctx)
}

func (s *DeviceServer) broadcastDisconnect(ctx context.Context) error {
	if s.broadcaster == nil {
		return nil
	}

	previous := s.state
	s.state = StateDisconnecting
	err := s.broadcaster.Disconnect(ctx)

	s.broadcaster = nil
	if previous == StateBroadcasting {
		s.state = StateReady
	} else {
		s.state = previous
	}

	if err != nil {
		return fmt.Errorf("disconnecting broadcast: %w", err)
	}
	s.logger.Info("device broadcast stopped", "topic_root", s.topicRoot)
	return nil
}

// PublishNotification sends a device notification (events, errors) on
// the notification channel.
func (s *DeviceServer) PublishNotification(doc flexible.Document) error {
	ns := s.notification.Load()
	if ns == nil {
		return ErrNotInitialized
	}
	return ns.Send(doc)
}

// PublishMetadata sends a metadata document on the metadata channel.
//
// Returns ErrNotInitialized before Init and ErrNoMetadataChannel when no
// stream enables metadata.
func (s *DeviceServer) PublishMetadata(doc flexible.Document) error {
	s.lifecycleMu.RLock()
	state := s.state
	s.lifecycleMu.RUnlock()

	switch state {
	case StateReady, StateBroadcasting, StateDisconnecting:
	case StateClosed:
		return ErrClosed
	default:
		return ErrNotInitialized
	}

	w := s.metadata.Load()
	if w == nil {
		return ErrNoMetadataChannel
	}
	return (*w).Write(doc)
}

// HasMetadataReaders reports whether anyone listens to the metadata
// channel. Callers use it to skip building metadata nobody will read.
func (s *DeviceServer) HasMetadataReaders() bool {
	w := s.metadata.Load()
	return w != nil && (*w).HasReaders()
}

// GUID returns the identity of the notification writer, or
// transport.UnknownGUID before Init.
func (s *DeviceServer) GUID() string {
	ns := s.notification.Load()
	if ns == nil {
		return transport.UnknownGUID
	}
	return ns.GUID()
}

// Registry returns the option registry.
func (s *DeviceServer) Registry() *registry.Registry {
	return s.registry
}

// Stats returns the control dispatcher counters.
func (s *DeviceServer) Stats() control.Stats {
	return s.dispatcher.Stats()
}

// Close shuts the server down.
//
// Control intake stops first; queued requests are dropped and in-flight
// requests get up to timeout to finish and send their replies. Option
// changes already applied are then handed to the observers, again within
// timeout. Then any broadcast is withdrawn and every channel is closed.
// Close is idempotent.
func (s *DeviceServer) Close(timeout time.Duration) error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	if s.state == StateClosed {
		return nil
	}

	var errs []error

	if s.controlReader != nil {
		if err := s.controlReader.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing control reader: %w", err))
		}
		s.controlReader = nil
	}

	if err := s.dispatcher.Stop(timeout); err != nil {
		errs = append(errs, err)
	}

	if s.changes != nil {
		if err := s.changes.close(timeout); err != nil {
			errs = append(errs, err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	if err := s.broadcastDisconnect(ctx); err != nil {
		errs = append(errs, err)
	}
	cancel()

	s.rollback()
	s.state = StateClosed

	s.logger.Info("device server closed", "topic_root", s.topicRoot)
	return errors.Join(errs...)
}
