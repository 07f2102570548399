package stream

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/gray-logic-devserver/internal/flexible"
	"github.com/nerrad567/gray-logic-devserver/internal/option"
	"github.com/nerrad567/gray-logic-devserver/internal/transport/transporttest"
)

func depthConfig() Config {
	return Config{
		Name:       "Depth",
		Type:       TypeDepth,
		SensorName: "Stereo Module",
		Profiles: []Profile{
			VideoProfile{Frequency: 30, Format: "16UC1", Width: 1280, Height: 720},
			VideoProfile{Frequency: 15, Format: "16UC1", Width: 640, Height: 480},
		},
		DefaultProfileIndex: 1,
		Options:             option.List{option.New("Exposure", 8500)},
		RecommendedFilters:  []string{"Decimation Filter", "Temporal Filter"},
		Kind: Video{Intrinsics: []VideoIntrinsics{{
			Width: 1280, Height: 720,
			PrincipalPoint: [2]float64{640, 360},
			FocalLength:    [2]float64{900, 900},
			Model:          DistortionBrownConrady,
			Coefficients:   []float64{0, 0, 0, 0, 0},
		}}},
	}
}

func TestTopicName(t *testing.T) {
	tests := []struct {
		root, name, want string
	}{
		{"realsense/D435_1234", "Depth", "rt/realsense/D435_1234_Depth"},
		{"dev", "Color", "rt/dev/Color"},
		{"a/b/c", "d/e", "rt/a/b_c_d_e"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, TopicName(tt.root, tt.name))
	}
}

func TestStream_Defaults(t *testing.T) {
	s := New(Config{Name: "Gyro"})
	_, ok := s.Kind().IntrinsicsJSON()
	assert.False(t, ok, "nil kind becomes Other")
}

func TestStream_ProfilesJSON(t *testing.T) {
	s := New(depthConfig())
	assert.Equal(t, []any{
		[]any{30, "16UC1", 1280, 720},
		[]any{15, "16UC1", 640, 480},
	}, s.ProfilesJSON())

	m := New(Config{Profiles: []Profile{MotionProfile{Frequency: 200, Format: "motion_xyz32f"}}})
	assert.Equal(t, []any{[]any{200, "motion_xyz32f"}}, m.ProfilesJSON())
}

func TestKind_Intrinsics(t *testing.T) {
	v, ok := New(depthConfig()).Kind().IntrinsicsJSON()
	require.True(t, ok)
	list, isList := v.([]any)
	require.True(t, isList)
	require.Len(t, list, 1)
	assert.Len(t, list[0], 12)

	motion := Motion{}
	m, ok := motion.IntrinsicsJSON()
	require.True(t, ok)
	obj, isObj := m.(map[string]any)
	require.True(t, isObj)
	assert.Contains(t, obj, "accel")
	assert.Contains(t, obj, "gyro")
}

func TestStream_OpenValidation(t *testing.T) {
	p := transporttest.New(nil)

	empty := New(Config{Name: "Empty"})
	assert.ErrorIs(t, empty.Open("rt/x", p), ErrNoProfiles)

	cfg := depthConfig()
	cfg.DefaultProfileIndex = 2
	assert.ErrorIs(t, New(cfg).Open("rt/x", p), ErrInvalidDefaultProfile)

	cfg.DefaultProfileIndex = -1
	assert.ErrorIs(t, New(cfg).Open("rt/x", p), ErrInvalidDefaultProfile)
}

func TestStream_OpenPublishClose(t *testing.T) {
	p := transporttest.New(nil)
	s := New(depthConfig())

	assert.ErrorIs(t, s.Publish(flexible.Document{}), ErrNotOpen)

	require.NoError(t, s.Open("rt/dev/Depth", p))
	assert.True(t, s.IsOpen())
	assert.ErrorIs(t, s.Open("rt/dev/Depth", p), ErrAlreadyOpen)

	require.NoError(t, s.Publish(flexible.Document{"frame": 1}))
	assert.Len(t, p.Published("rt/dev/Depth"), 1)

	require.NoError(t, s.Close())
	assert.False(t, s.IsOpen())
	assert.True(t, p.Writers("rt/dev/Depth")[0].Closed())

	require.NoError(t, s.Open("rt/dev/Depth", p), "reopen after close")
}
