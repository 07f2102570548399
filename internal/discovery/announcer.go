// Package discovery builds and publishes the documents that describe a
// device to its clients.
//
// The discovery set is emitted in a fixed order:
//
//	device-header
//	device-options
//	stream-header(A), stream-options(A)
//	stream-header(B), stream-options(B)
//	...
//
// Streams appear in the order the caller supplied them. The set is rebuilt
// from current state on every emission, so a re-announcement carries the
// latest option values.
package discovery

import (
	"github.com/nerrad567/gray-logic-devserver/internal/flexible"
	"github.com/nerrad567/gray-logic-devserver/internal/option"
	"github.com/nerrad567/gray-logic-devserver/internal/stream"
)

// Document ids of the discovery set.
const (
	IDDeviceHeader  = "device-header"
	IDDeviceOptions = "device-options"
	IDStreamHeader  = "stream-header"
	IDStreamOptions = "stream-options"
)

// Transform is a rigid transformation between two streams: a row-major 3x3
// rotation and a translation in meters.
type Transform struct {
	Rotation    [9]float64 `yaml:"rotation"`
	Translation [3]float64 `yaml:"translation"`
}

// ToJSON returns the 12 transform values, rotation first.
func (t Transform) ToJSON() []any {
	out := make([]any, 0, 12)
	for _, v := range t.Rotation {
		out = append(out, v)
	}
	for _, v := range t.Translation {
		out = append(out, v)
	}
	return out
}

// Extrinsics is the transform from one stream to another.
type Extrinsics struct {
	From      string
	To        string
	Transform Transform
}

// Announcer builds the discovery set of a device.
//
// Thread Safety: Documents may be called concurrently; the inputs are not
// modified after construction.
type Announcer struct {
	streams    []*stream.Stream
	options    option.List
	extrinsics []Extrinsics
}

// NewAnnouncer creates an announcer for the given device description.
func NewAnnouncer(streams []*stream.Stream, deviceOptions option.List, extrinsics []Extrinsics) *Announcer {
	return &Announcer{
		streams:    append([]*stream.Stream(nil), streams...),
		options:    append(option.List(nil), deviceOptions...),
		extrinsics: append([]Extrinsics(nil), extrinsics...),
	}
}

// Documents returns the full discovery set, in emission order.
func (a *Announcer) Documents() []flexible.Document {
	docs := make([]flexible.Document, 0, 2+2*len(a.streams))
	docs = append(docs, a.deviceHeader(), a.deviceOptions())
	for _, s := range a.streams {
		docs = append(docs, streamHeader(s), streamOptions(s))
	}
	return docs
}

func (a *Announcer) deviceHeader() flexible.Document {
	extrinsics := make([]any, 0, len(a.extrinsics))
	for _, e := range a.extrinsics {
		extrinsics = append(extrinsics, []any{e.From, e.To, e.Transform.ToJSON()})
	}
	return flexible.Document{
		"id":         IDDeviceHeader,
		"n-streams":  len(a.streams),
		"extrinsics": extrinsics,
	}
}

func (a *Announcer) deviceOptions() flexible.Document {
	return flexible.Document{
		"id":      IDDeviceOptions,
		"options": a.options.ToJSON(),
	}
}

func streamHeader(s *stream.Stream) flexible.Document {
	return flexible.Document{
		"id":                    IDStreamHeader,
		"type":                  s.Type(),
		"name":                  s.Name(),
		"sensor-name":           s.SensorName(),
		"profiles":              s.ProfilesJSON(),
		"default-profile-index": s.DefaultProfileIndex(),
		"metadata-enabled":      s.MetadataEnabled(),
	}
}

func streamOptions(s *stream.Stream) flexible.Document {
	filters := make([]any, 0, len(s.RecommendedFilters()))
	for _, f := range s.RecommendedFilters() {
		filters = append(filters, f)
	}

	doc := flexible.Document{
		"id":                  IDStreamOptions,
		"stream-name":         s.Name(),
		"options":             s.Options().ToJSON(),
		"recommended-filters": filters,
	}
	if intrinsics, ok := s.Kind().IntrinsicsJSON(); ok {
		doc["intrinsics"] = intrinsics
	}
	return doc
}
