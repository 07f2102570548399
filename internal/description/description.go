// Package description loads the static description of a device from YAML:
// its streams, profiles, calibration, options and extrinsics.
//
// The description is read once at startup and turned into the stream and
// option values the device server is initialised with:
//
//	desc, err := description.Load("configs/device.yaml")
//	if err != nil {
//	    return err
//	}
//	streams, deviceOptions, extrinsics := desc.Build()
package description

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/nerrad567/gray-logic-devserver/internal/discovery"
	"github.com/nerrad567/gray-logic-devserver/internal/option"
	"github.com/nerrad567/gray-logic-devserver/internal/stream"
)

// Stream kinds accepted in the kind field.
const (
	KindVideo  = "video"
	KindMotion = "motion"
	KindOther  = "other"
)

var validate = validator.New()

// Description is the root of a device description file.
type Description struct {
	DeviceOptions []OptionSpec     `yaml:"device_options" validate:"dive"`
	Streams       []StreamSpec     `yaml:"streams" validate:"required,min=1,unique=Name,dive"`
	Extrinsics    []ExtrinsicsSpec `yaml:"extrinsics" validate:"dive"`
}

// OptionSpec describes one option and its initial value.
type OptionSpec struct {
	Name        string        `yaml:"name" validate:"required"`
	Value       float64       `yaml:"value"`
	Description string        `yaml:"description"`
	Range       *option.Range `yaml:"range"`
}

// ProfileSpec describes one stream profile. Width and height are ignored
// for motion streams.
type ProfileSpec struct {
	Frequency int    `yaml:"frequency" validate:"min=0"`
	Format    string `yaml:"format" validate:"required"`
	Width     int    `yaml:"width" validate:"min=0"`
	Height    int    `yaml:"height" validate:"min=0"`
}

// MotionSpec carries the calibration of a motion stream.
type MotionSpec struct {
	Accel stream.MotionIntrinsics `yaml:"accel"`
	Gyro  stream.MotionIntrinsics `yaml:"gyro"`
}

// StreamSpec describes one stream.
type StreamSpec struct {
	Name               string                   `yaml:"name" validate:"required"`
	Type               string                   `yaml:"type" validate:"required"`
	Sensor             string                   `yaml:"sensor"`
	Kind               string                   `yaml:"kind" validate:"omitempty,oneof=video motion other"`
	Profiles           []ProfileSpec            `yaml:"profiles" validate:"dive"`
	DefaultProfile     int                      `yaml:"default_profile" validate:"min=0"`
	Metadata           bool                     `yaml:"metadata"`
	RecommendedFilters []string                 `yaml:"recommended_filters"`
	Options            []OptionSpec             `yaml:"options" validate:"dive"`
	Intrinsics         []stream.VideoIntrinsics `yaml:"intrinsics"`
	Motion             *MotionSpec              `yaml:"motion"`
}

// ExtrinsicsSpec is the transform from one stream to another.
type ExtrinsicsSpec struct {
	From        string     `yaml:"from" validate:"required"`
	To          string     `yaml:"to" validate:"required"`
	Rotation    [9]float64 `yaml:"rotation"`
	Translation [3]float64 `yaml:"translation"`
}

// Load reads, parses and validates a description file.
func Load(path string) (*Description, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from trusted configuration
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrRead, path, err)
	}
	return Parse(data)
}

// Parse parses and validates a description document.
func Parse(data []byte) (*Description, error) {
	var d Description
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrParse, err)
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return &d, nil
}

// ResolvedKind returns the stream kind, inferring it from the stream type
// when the kind field is empty.
func (s StreamSpec) ResolvedKind() string {
	if s.Kind != "" {
		return s.Kind
	}
	switch s.Type {
	case stream.TypeMotion:
		return KindMotion
	case stream.TypeDepth, stream.TypeIR, stream.TypeColor, stream.TypeConfidence:
		return KindVideo
	default:
		return KindOther
	}
}

// Validate checks struct tags and the cross references between streams,
// profiles, options and extrinsics.
func (d *Description) Validate() error {
	var errs []string

	if err := validate.Struct(d); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("%w: %w", ErrInvalid, err)
		}
		for _, fe := range verrs {
			errs = append(errs, fmt.Sprintf("%s failed %q", fieldPath(fe.Namespace()), fe.Tag()))
		}
	}

	errs = append(errs, duplicateOptions("device_options", d.DeviceOptions)...)

	names := make(map[string]bool, len(d.Streams))
	for _, s := range d.Streams {
		names[s.Name] = true

		if len(s.Profiles) > 0 && s.DefaultProfile >= len(s.Profiles) {
			errs = append(errs, fmt.Sprintf("streams.%s.default_profile %d out of range (%d profiles)",
				s.Name, s.DefaultProfile, len(s.Profiles)))
		}

		kind := s.ResolvedKind()
		if kind != KindMotion && s.Motion != nil {
			errs = append(errs, fmt.Sprintf("streams.%s.motion is only valid for motion streams", s.Name))
		}
		if kind != KindVideo && len(s.Intrinsics) > 0 {
			errs = append(errs, fmt.Sprintf("streams.%s.intrinsics is only valid for video streams", s.Name))
		}

		errs = append(errs, duplicateOptions("streams."+s.Name+".options", s.Options)...)
	}

	for i, e := range d.Extrinsics {
		if e.From != "" && !names[e.From] {
			errs = append(errs, fmt.Sprintf("extrinsics[%d].from references unknown stream %q", i, e.From))
		}
		if e.To != "" && !names[e.To] {
			errs = append(errs, fmt.Sprintf("extrinsics[%d].to references unknown stream %q", i, e.To))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w:\n  - %s", ErrInvalid, strings.Join(errs, "\n  - "))
	}
	return nil
}

func duplicateOptions(scope string, specs []OptionSpec) []string {
	var errs []string
	seen := make(map[string]bool, len(specs))
	for _, o := range specs {
		if o.Name == "" {
			continue
		}
		if seen[o.Name] {
			errs = append(errs, fmt.Sprintf("%s has duplicate option %q", scope, o.Name))
		}
		seen[o.Name] = true
	}
	return errs
}

// fieldPath turns a validator namespace into a config-style path.
func fieldPath(ns string) string {
	return strings.ToLower(strings.TrimPrefix(ns, "Description."))
}

// Build creates the runtime streams, device options and extrinsics.
// Each call returns fresh values.
func (d *Description) Build() ([]*stream.Stream, option.List, []discovery.Extrinsics) {
	streams := make([]*stream.Stream, 0, len(d.Streams))
	for _, s := range d.Streams {
		streams = append(streams, s.build())
	}

	extrinsics := make([]discovery.Extrinsics, 0, len(d.Extrinsics))
	for _, e := range d.Extrinsics {
		extrinsics = append(extrinsics, discovery.Extrinsics{
			From: e.From,
			To:   e.To,
			Transform: discovery.Transform{
				Rotation:    e.Rotation,
				Translation: e.Translation,
			},
		})
	}

	return streams, buildOptions(d.DeviceOptions), extrinsics
}

func (s StreamSpec) build() *stream.Stream {
	kind := s.ResolvedKind()

	profiles := make([]stream.Profile, 0, len(s.Profiles))
	for _, p := range s.Profiles {
		if kind == KindMotion {
			profiles = append(profiles, stream.MotionProfile{Frequency: p.Frequency, Format: p.Format})
			continue
		}
		profiles = append(profiles, stream.VideoProfile{
			Frequency: p.Frequency,
			Format:    p.Format,
			Width:     p.Width,
			Height:    p.Height,
		})
	}

	var k stream.Kind
	switch kind {
	case KindVideo:
		k = stream.Video{Intrinsics: s.Intrinsics}
	case KindMotion:
		m := stream.Motion{}
		if s.Motion != nil {
			m.Accel = s.Motion.Accel
			m.Gyro = s.Motion.Gyro
		}
		k = m
	default:
		k = stream.Other{}
	}

	return stream.New(stream.Config{
		Name:                s.Name,
		Type:                s.Type,
		SensorName:          s.Sensor,
		Profiles:            profiles,
		DefaultProfileIndex: s.DefaultProfile,
		MetadataEnabled:     s.Metadata,
		Options:             buildOptions(s.Options),
		RecommendedFilters:  s.RecommendedFilters,
		Kind:                k,
	})
}

func buildOptions(specs []OptionSpec) option.List {
	out := make(option.List, 0, len(specs))
	for _, spec := range specs {
		o := option.New(spec.Name, spec.Value)
		if spec.Description != "" {
			o.WithDescription(spec.Description)
		}
		if spec.Range != nil {
			o.WithRange(*spec.Range)
		}
		out = append(out, o)
	}
	return out
}
