package imu

import (
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/motion.report/internal/config"
	"github.com/banshee-data/motion.report/internal/geom"
	"github.com/banshee-data/motion.report/internal/units"
)

// AxisCalibration re-zeroes the device's reported orientation so the pose
// held at calibration time reads as identity. Applied in place to every raw
// sample before any other stage:
//
//	angle' = angle - angle_offset
//	quat'  = quat_offset * quat
type AxisCalibration struct {
	AngleOffset Vec3      `json:"angle_offset"`
	QuatOffset  geom.Quat `json:"quat_offset"`
}

// NewAxisCalibration returns a no-op calibration (identity offsets).
func NewAxisCalibration() AxisCalibration {
	return AxisCalibration{QuatOffset: geom.Identity()}
}

// Apply rewrites the sample's angle and quaternion into the zeroed frame.
func (c AxisCalibration) Apply(s *RawSample) {
	s.Angle = vec3(r3.Sub(s.Angle.Vec(), c.AngleOffset.Vec()))
	s.Quat = c.QuatOffset.Mul(s.Quat)
}

// UpdateFromRaw captures the sample's pose as the new zero reference.
func (c *AxisCalibration) UpdateFromRaw(s RawSample) {
	c.AngleOffset = s.Angle
	c.QuatOffset = s.Quat.Inverse()
}

// Reset clears the zero reference.
func (c *AxisCalibration) Reset() {
	*c = NewAxisCalibration()
}

// SensorCalibration removes accelerometer/gyro bias and applies the
// alignment matrices:
//
//	a = M_a * (a_raw - b_a)
//	w = M_g * (gyro_deg * rad_per_deg - b_g)
//
// With passby set, accel and gyro pass through in device units.
type SensorCalibration struct {
	passby bool
	biasA  r3.Vec
	biasG  r3.Vec
	matA   *r3.Mat
	matG   *r3.Mat
}

// NewSensorCalibration builds the stage from its config section. A nil
// section yields an identity calibration.
func NewSensorCalibration(cfg *config.CalibrationConfig) *SensorCalibration {
	ba := cfg.GetAccelBias()
	bg := cfg.GetGyroBias()
	return &SensorCalibration{
		passby: cfg.GetPassby(),
		biasA:  r3.Vec{X: ba[0], Y: ba[1], Z: ba[2]},
		biasG:  r3.Vec{X: bg[0], Y: bg[1], Z: bg[2]},
		matA:   r3.NewMat(cfg.GetAccelMatrix()),
		matG:   r3.NewMat(cfg.GetGyroMatrix()),
	}
}

// Apply converts one raw sample. Gyro bias is in rad/s, so the device's
// deg/s reading converts before the bias subtraction.
func (c *SensorCalibration) Apply(s RawSample) CalibratedSample {
	out := CalibratedSample{
		TimestampMS: s.TimestampMS,
		BiasA:       vec3(c.biasA),
		BiasG:       vec3(c.biasG),
	}
	if c.passby {
		out.Accel = s.AccelWithG
		out.Gyro = s.Gyro
		return out
	}

	out.Accel = vec3(c.matA.MulVec(r3.Sub(s.AccelWithG.Vec(), c.biasA)))
	gyroRad := r3.Scale(units.RadPerDeg, s.Gyro.Vec())
	out.Gyro = vec3(c.matG.MulVec(r3.Sub(gyroRad, c.biasG)))
	return out
}
