package imu

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/motion.report/internal/config"
	"github.com/banshee-data/motion.report/internal/geom"
)

func fusionConfig(source string, beta float64) *config.AttitudeConfig {
	return &config.AttitudeConfig{Source: &source, Beta: &beta}
}

func TestAttitudeFusionDeviceSource(t *testing.T) {
	m := NewAttitudeFusion(fusionConfig(config.AttitudeSourceDevice, 0.02))

	// Device quaternions come in unnormalized from the fixed-point wire
	// scaling.
	est := m.Update(FilteredSample{TimestampMS: 7}, geom.Quat{W: 2})

	if est.TimestampMS != 7 {
		t.Errorf("timestamp = %d, want 7", est.TimestampMS)
	}
	if !quatNear(est.Quat, geom.Identity(), 1e-12) {
		t.Errorf("device quat = %+v, want normalized identity", est.Quat)
	}
	if !vecNear(est.Euler, Vec3{}, 1e-9) {
		t.Errorf("euler for identity = %+v, want zero", est.Euler)
	}
}

func TestAttitudeFusionIntegratesGyro(t *testing.T) {
	m := NewAttitudeFusion(fusionConfig(config.AttitudeSourceMahony, 0.02))

	// Zero accel keeps the gravity correction out of the picture.
	m.Update(FilteredSample{TimestampMS: 0, GyroLP: Vec3{Z: math.Pi / 2}}, geom.Quat{})
	est := m.Update(FilteredSample{TimestampMS: 1000, GyroLP: Vec3{Z: math.Pi / 2}}, geom.Quat{})

	want := geom.FromAxisAngle(r3.Vec{Z: 1}, math.Pi/2)
	if !quatNear(est.Quat, want, 1e-9) {
		t.Errorf("quat after 1s at 90°/s about z = %+v, want %+v", est.Quat, want)
	}
	if math.Abs(est.Euler.Z-90) > 1e-6 {
		t.Errorf("yaw = %v°, want 90", est.Euler.Z)
	}
}

func TestAttitudeFusionGravityCorrection(t *testing.T) {
	// Full-strength correction so a single sample snaps to the accel frame.
	m := NewAttitudeFusion(fusionConfig(config.AttitudeSourceMahony, 1))

	est := m.Update(FilteredSample{TimestampMS: 0, AccelLP: Vec3{X: 2}}, geom.Quat{})

	// The corrected attitude maps the measured accel direction onto the
	// world gravity direction.
	got := est.Quat.Rotate(r3.Vec{X: 1})
	want := r3.Vec{Z: -1}
	if math.Abs(got.X-want.X) > 1e-9 || math.Abs(got.Y-want.Y) > 1e-9 || math.Abs(got.Z-want.Z) > 1e-9 {
		t.Errorf("accel direction maps to %+v, want %+v", got, want)
	}
}

func TestAttitudeFusionAlignedAccelIsStable(t *testing.T) {
	m := NewAttitudeFusion(fusionConfig(config.AttitudeSourceMahony, 1))

	// Accel already along world gravity: the correction must be a no-op.
	est := m.Update(FilteredSample{TimestampMS: 0, AccelLP: Vec3{Z: -9.8}}, geom.Quat{})
	if !quatNear(est.Quat, geom.Identity(), 1e-9) {
		t.Errorf("aligned accel disturbed the attitude: %+v", est.Quat)
	}
}

func TestAttitudeFusionIgnoresStaleTimestamps(t *testing.T) {
	m := NewAttitudeFusion(fusionConfig(config.AttitudeSourceMahony, 0.02))

	m.Update(FilteredSample{TimestampMS: 1000}, geom.Quat{})

	// Repeated and regressed timestamps must integrate nothing, however
	// large the rate.
	for _, ts := range []uint64{1000, 500} {
		est := m.Update(FilteredSample{TimestampMS: ts, GyroLP: Vec3{X: math.Pi, Y: math.Pi, Z: math.Pi}}, geom.Quat{})
		if !quatNear(est.Quat, geom.Identity(), 1e-12) {
			t.Errorf("ts=%d: attitude moved without forward time: %+v", ts, est.Quat)
		}
	}
}

func TestAttitudeFusionReset(t *testing.T) {
	m := NewAttitudeFusion(fusionConfig(config.AttitudeSourceMahony, 0.02))

	m.Update(FilteredSample{TimestampMS: 0, GyroLP: Vec3{Z: 1}}, geom.Quat{})
	m.Update(FilteredSample{TimestampMS: 1000, GyroLP: Vec3{Z: 1}}, geom.Quat{})
	m.Reset()

	// First sample after reset primes dt again instead of integrating from
	// the stale timestamp.
	est := m.Update(FilteredSample{TimestampMS: 5000, GyroLP: Vec3{Z: 1}}, geom.Quat{})
	if !quatNear(est.Quat, geom.Identity(), 1e-12) {
		t.Errorf("attitude after reset = %+v, want identity", est.Quat)
	}
}
