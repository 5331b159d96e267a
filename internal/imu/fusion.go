package imu

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/motion.report/internal/config"
	"github.com/banshee-data/motion.report/internal/geom"
)

// fusionEpsilon guards the degenerate accel directions in the Mahony
// correction (free fall, and accel pointing straight along +Z).
const fusionEpsilon = 1e-6

// AttitudeFusion estimates orientation from the filtered samples. In the
// default "mahony" mode it integrates the gyro and blends in a gravity
// correction from the accelerometer; in "device" mode it trusts the
// axis-corrected quaternion reported by the device.
type AttitudeFusion struct {
	source string
	beta   float64

	quat    geom.Quat
	lastTS  uint64
	hasLast bool
}

// NewAttitudeFusion builds the stage from its config section.
func NewAttitudeFusion(cfg *config.AttitudeConfig) *AttitudeFusion {
	return &AttitudeFusion{
		source: cfg.GetSource(),
		beta:   cfg.GetBeta(),
		quat:   geom.Identity(),
	}
}

// Update advances the attitude estimate by one sample. deviceQuat is the
// axis-corrected quaternion from the raw sample, used when the source is
// "device".
func (m *AttitudeFusion) Update(s FilteredSample, deviceQuat geom.Quat) AttitudeEstimate {
	if m.source == config.AttitudeSourceDevice {
		m.quat = deviceQuat.Normalize()
		return AttitudeEstimate{TimestampMS: s.TimestampMS, Quat: m.quat, Euler: vec3(m.quat.Euler())}
	}

	// Timestamps can repeat or regress on device reconnect; treat that as dt=0.
	dt := 0.0
	if m.hasLast && s.TimestampMS > m.lastTS {
		dt = float64(s.TimestampMS-m.lastTS) / 1000.0
	}
	m.lastTS = s.TimestampMS
	m.hasLast = true

	if dt > 0 {
		// Integrate angular rate.
		delta := geom.FromScaledAxis(r3.Scale(dt, s.GyroLP.Vec()))
		m.quat = m.quat.Mul(delta).Normalize()
	}

	// Blend in the gravity direction seen by the accelerometer. Skipped in
	// free fall and when the rotation to gravity is numerically unstable.
	accelNorm := geom.NormalizeOrZero(s.AccelLP.Vec())
	if r3.Norm2(accelNorm) > fusionEpsilon {
		gWorld := r3.Vec{Z: -1}
		v := r3.Cross(accelNorm, gWorld)
		sq := math.Sqrt((1 + r3.Dot(accelNorm, gWorld)) * 2)
		if sq > fusionEpsilon {
			qAcc := geom.Quat{W: sq * 0.5, X: v.X / sq, Y: v.Y / sq, Z: v.Z / sq}.Normalize()
			corrected := qAcc.Mul(m.quat)
			m.quat = m.quat.Slerp(corrected, m.beta)
		}
	}

	return AttitudeEstimate{TimestampMS: s.TimestampMS, Quat: m.quat, Euler: vec3(m.quat.Euler())}
}

// Reset restores the identity attitude and clears the timestamp memory.
func (m *AttitudeFusion) Reset() {
	m.quat = geom.Identity()
	m.lastTS = 0
	m.hasLast = false
}
