// Package stream models the data streams a device exposes (depth, color,
// motion, ...) and their binding to a transport topic.
//
// A Stream is described once at startup and is read-only afterwards, except
// for the values of its options.
package stream

import (
	"fmt"
	"strings"
	"sync"

	"github.com/nerrad567/gray-logic-devserver/internal/flexible"
	"github.com/nerrad567/gray-logic-devserver/internal/option"
	"github.com/nerrad567/gray-logic-devserver/internal/transport"
)

// Common stream type tags. The set is open; any string is accepted.
const (
	TypeDepth      = "depth"
	TypeIR         = "ir"
	TypeColor      = "color"
	TypeMotion     = "motion"
	TypeConfidence = "confidence"
)

// Profile is one supported stream configuration. Its discovery form is a
// positional list.
type Profile interface {
	ToJSON() []any
}

// VideoProfile serialises as [frequency, format, width, height].
type VideoProfile struct {
	Frequency int
	Format    string
	Width     int
	Height    int
}

// ToJSON returns the positional form of the profile.
func (p VideoProfile) ToJSON() []any {
	return []any{p.Frequency, p.Format, p.Width, p.Height}
}

// MotionProfile serialises as [frequency, format].
type MotionProfile struct {
	Frequency int
	Format    string
}

// ToJSON returns the positional form of the profile.
func (p MotionProfile) ToJSON() []any {
	return []any{p.Frequency, p.Format}
}

// Config describes a stream.
type Config struct {
	Name                string
	Type                string
	SensorName          string
	Profiles            []Profile
	DefaultProfileIndex int
	MetadataEnabled     bool
	Options             option.List
	RecommendedFilters  []string
	Kind                Kind
}

// Stream is a named data stream of the device.
//
// Thread Safety: accessors are safe for concurrent use. Open and Close are
// called from the server's lifecycle path.
type Stream struct {
	cfg Config

	mu     sync.Mutex
	writer transport.Writer
}

// New creates a stream from its description. A nil Kind means Other.
func New(cfg Config) *Stream {
	if cfg.Kind == nil {
		cfg.Kind = Other{}
	}
	return &Stream{cfg: cfg}
}

// Name returns the stream name.
func (s *Stream) Name() string { return s.cfg.Name }

// Type returns the stream type tag.
func (s *Stream) Type() string { return s.cfg.Type }

// SensorName returns the name of the sensor producing the stream.
func (s *Stream) SensorName() string { return s.cfg.SensorName }

// Profiles returns the supported profiles in order.
func (s *Stream) Profiles() []Profile { return s.cfg.Profiles }

// DefaultProfileIndex returns the index of the default profile.
func (s *Stream) DefaultProfileIndex() int { return s.cfg.DefaultProfileIndex }

// MetadataEnabled reports whether frames of this stream carry metadata.
func (s *Stream) MetadataEnabled() bool { return s.cfg.MetadataEnabled }

// Options returns the stream-scope options.
func (s *Stream) Options() option.List { return s.cfg.Options }

// RecommendedFilters returns the names of the suggested processing blocks.
func (s *Stream) RecommendedFilters() []string { return s.cfg.RecommendedFilters }

// Kind returns the stream-kind variant.
func (s *Stream) Kind() Kind { return s.cfg.Kind }

// ProfilesJSON returns the discovery form of every profile, in order.
func (s *Stream) ProfilesJSON() []any {
	out := make([]any, 0, len(s.cfg.Profiles))
	for _, p := range s.cfg.Profiles {
		out = append(out, p.ToJSON())
	}
	return out
}

// TopicName returns the stream topic under topicRoot.
//
// Stream topics are kept ROS2-friendly: a single "rt/" prefix and no nested
// path separators, so every '/' after the first one in the joined name is
// replaced by '_'.
//
// Example: TopicName("realsense/D435_1234", "Depth") = "rt/realsense/D435_1234_Depth"
func TopicName(topicRoot, name string) string {
	joined := topicRoot + "/" + name
	if i := strings.IndexByte(joined, '/'); i >= 0 {
		joined = joined[:i+1] + strings.ReplaceAll(joined[i+1:], "/", "_")
	}
	return "rt/" + joined
}

// Open creates the stream's writer on topic.
//
// Returns:
//   - ErrAlreadyOpen if the stream already has a writer
//   - ErrNoProfiles if the stream has no profiles
//   - ErrInvalidDefaultProfile if the default index is out of range
//   - the participant's error if the writer cannot be created
func (s *Stream) Open(topic string, p transport.Participant) error {
	if len(s.cfg.Profiles) == 0 {
		return fmt.Errorf("%w: stream '%s'", ErrNoProfiles, s.cfg.Name)
	}
	if s.cfg.DefaultProfileIndex < 0 || s.cfg.DefaultProfileIndex >= len(s.cfg.Profiles) {
		return fmt.Errorf("%w: stream '%s' index %d of %d profiles",
			ErrInvalidDefaultProfile, s.cfg.Name, s.cfg.DefaultProfileIndex, len(s.cfg.Profiles))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.writer != nil {
		return fmt.Errorf("%w: stream '%s'", ErrAlreadyOpen, s.cfg.Name)
	}

	w, err := p.CreateWriter(topic, transport.BestEffortQoS(1))
	if err != nil {
		return fmt.Errorf("opening stream '%s': %w", s.cfg.Name, err)
	}
	s.writer = w
	return nil
}

// IsOpen reports whether the stream has a writer.
func (s *Stream) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writer != nil
}

// Publish writes a document on the stream topic.
func (s *Stream) Publish(doc flexible.Document) error {
	s.mu.Lock()
	w := s.writer
	s.mu.Unlock()

	if w == nil {
		return fmt.Errorf("%w: stream '%s'", ErrNotOpen, s.cfg.Name)
	}
	return w.Write(doc)
}

// Close releases the stream's writer. The stream may be opened again.
func (s *Stream) Close() error {
	s.mu.Lock()
	w := s.writer
	s.writer = nil
	s.mu.Unlock()

	if w == nil {
		return nil
	}
	return w.Close()
}
