package stream

// Kind is the stream-kind variant. It decides whether the stream exposes
// calibration data in discovery.
//
// Implementations: Video, Motion, Other.
type Kind interface {
	// IntrinsicsJSON returns the discovery form of the stream's calibration
	// and true, or nil and false when the kind carries none.
	IntrinsicsJSON() (any, bool)

	kind()
}

// Distortion models used by VideoIntrinsics.
const (
	DistortionNone                 = 0
	DistortionModifiedBrownConrady = 1
	DistortionInverseBrownConrady  = 2
	DistortionFTheta               = 3
	DistortionBrownConrady         = 4
	DistortionKannalaBrandt4       = 5
)

// VideoIntrinsics is the pinhole calibration of one video resolution.
type VideoIntrinsics struct {
	Width          int        `yaml:"width"`
	Height         int        `yaml:"height"`
	PrincipalPoint [2]float64 `yaml:"principal_point"`
	FocalLength    [2]float64 `yaml:"focal_length"`
	Model          int        `yaml:"model"`
	Coefficients   []float64  `yaml:"coefficients"`
}

// ToJSON returns [width, height, ppx, ppy, fx, fy, model, coeffs...].
func (v VideoIntrinsics) ToJSON() []any {
	out := []any{
		v.Width, v.Height,
		v.PrincipalPoint[0], v.PrincipalPoint[1],
		v.FocalLength[0], v.FocalLength[1],
		v.Model,
	}
	for _, c := range v.Coefficients {
		out = append(out, c)
	}
	return out
}

// MotionIntrinsics is the calibration of one IMU sensor.
type MotionIntrinsics struct {
	Data           [3][4]float64 `yaml:"data"`
	NoiseVariances [3]float64    `yaml:"noise_variances"`
	BiasVariances  [3]float64    `yaml:"bias_variances"`
}

// ToJSON returns {"data": [[...]x3], "noise-variances": [...], "bias-variances": [...]}.
func (m MotionIntrinsics) ToJSON() map[string]any {
	data := make([]any, 0, len(m.Data))
	for _, row := range m.Data {
		data = append(data, []any{row[0], row[1], row[2], row[3]})
	}
	return map[string]any{
		"data":            data,
		"noise-variances": []any{m.NoiseVariances[0], m.NoiseVariances[1], m.NoiseVariances[2]},
		"bias-variances":  []any{m.BiasVariances[0], m.BiasVariances[1], m.BiasVariances[2]},
	}
}

// Video is the kind of image streams (depth, color, ir, confidence).
type Video struct {
	Intrinsics []VideoIntrinsics
}

// IntrinsicsJSON returns a list with one entry per calibrated resolution.
func (v Video) IntrinsicsJSON() (any, bool) {
	out := make([]any, 0, len(v.Intrinsics))
	for _, in := range v.Intrinsics {
		out = append(out, in.ToJSON())
	}
	return out, true
}

func (Video) kind() {}

// Motion is the kind of IMU streams.
type Motion struct {
	Accel MotionIntrinsics
	Gyro  MotionIntrinsics
}

// IntrinsicsJSON returns {"accel": ..., "gyro": ...}.
func (m Motion) IntrinsicsJSON() (any, bool) {
	return map[string]any{
		"accel": m.Accel.ToJSON(),
		"gyro":  m.Gyro.ToJSON(),
	}, true
}

func (Motion) kind() {}

// Other is any stream without calibration data.
type Other struct{}

// IntrinsicsJSON reports no calibration.
func (Other) IntrinsicsJSON() (any, bool) {
	return nil, false
}

func (Other) kind() {}
