package imu

import (
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/motion.report/internal/config"
	"github.com/banshee-data/motion.report/internal/geom"
)

// Navigator owns the navigation state and advances it one sample at a time
// in a fixed order: predict (trajectory integration), then constrain (ZUPT
// zero-velocity correction), then commit.
type Navigator struct {
	gravity     float64
	trajPassby  bool
	zuptPassby  bool
	gyroThresh  float64
	accelThresh float64

	state      NavState
	gravityRef r3.Vec

	lastTS  uint64
	hasLast bool

	// ZUPT edge detection and the position locked while static.
	staticKnown bool
	isStatic    bool
	staticLock  r3.Vec
	hasLock     bool
}

// NewNavigator builds the navigator from the pipeline config.
func NewNavigator(cfg *config.ProcessingConfig) *Navigator {
	if cfg == nil {
		cfg = config.EmptyProcessingConfig()
	}
	g := cfg.GetGravity()
	return &Navigator{
		gravity:     g,
		trajPassby:  cfg.Trajectory.GetPassby(),
		zuptPassby:  cfg.Zupt.GetPassby(),
		gyroThresh:  cfg.Zupt.GetGyroThresh(),
		accelThresh: cfg.Zupt.GetAccelThresh(),
		state:       NavState{Attitude: geom.Identity()},
		gravityRef:  r3.Vec{Z: g},
	}
}

// SetGravityReference re-derives the gravity vector for the zeroed frame.
// quatOffset is the left-multiplied quaternion from the axis calibration;
// using the same frame for gravity avoids phantom linear acceleration while
// the device rests in its calibrated pose.
func (n *Navigator) SetGravityReference(quatOffset geom.Quat) {
	n.gravityRef = quatOffset.Rotate(r3.Vec{Z: n.gravity})
	diagf("gravity reference updated: [%.3f, %.3f, %.3f]",
		n.gravityRef.X, n.gravityRef.Y, n.gravityRef.Z)
}

// Update advances the navigation state by one sample and returns a copy.
func (n *Navigator) Update(attitude geom.Quat, s FilteredSample) NavState {
	n.predict(attitude, s)
	n.applyZupt(s)
	return n.state
}

// IsStatic reports whether the last update landed in the static regime.
func (n *Navigator) IsStatic() bool {
	return n.staticKnown && n.isStatic
}

// SetPosition overrides the position, used for manual correction. Velocity
// zeroes so no stale motion integrates forward, and an active static lock
// moves with the new position so ZUPT does not snap it back.
func (n *Navigator) SetPosition(p Vec3) {
	old := n.state.Position
	diagf("position override: [%.3f, %.3f, %.3f] -> [%.3f, %.3f, %.3f]",
		old.X, old.Y, old.Z, p.X, p.Y, p.Z)
	n.state.Position = p
	n.state.Velocity = Vec3{}
	if n.staticKnown && n.isStatic {
		n.staticLock = p.Vec()
		n.hasLock = true
	}
}

// Reset restores the initial state. The gravity reference returns to the
// configured vertical; callers re-apply SetGravityReference if a zeroed
// frame is still in effect.
func (n *Navigator) Reset() {
	n.state = NavState{Attitude: geom.Identity()}
	n.gravityRef = r3.Vec{Z: n.gravity}
	n.lastTS = 0
	n.hasLast = false
	n.staticKnown = false
	n.isStatic = false
	n.staticLock = r3.Vec{}
	n.hasLock = false
}

func (n *Navigator) predict(attitude geom.Quat, s FilteredSample) {
	n.state.Attitude = attitude
	n.state.TimestampMS = s.TimestampMS

	if n.trajPassby {
		return
	}

	dt := 0.0
	if n.hasLast && s.TimestampMS > n.lastTS {
		dt = float64(s.TimestampMS-n.lastTS) / 1000.0
	}
	n.lastTS = s.TimestampMS
	n.hasLast = true

	if dt > 0 {
		aWorld := attitude.Rotate(s.AccelLP.Vec())
		aLin := r3.Sub(aWorld, n.gravityRef)

		vel := r3.Add(n.state.Velocity.Vec(), r3.Scale(dt, aLin))
		pos := r3.Add(n.state.Position.Vec(), r3.Scale(dt, vel))
		n.state.Velocity = vec3(vel)
		n.state.Position = vec3(pos)
	}
}

func (n *Navigator) applyZupt(s FilteredSample) {
	if n.zuptPassby {
		return
	}

	gyroNorm := r3.Norm(s.GyroLP.Vec())
	accelWorld := n.state.Attitude.Rotate(s.AccelLP.Vec())
	accelLin := r3.Sub(accelWorld, n.gravityRef)
	accelNorm := r3.Norm(accelLin)
	isStatic := gyroNorm < n.gyroThresh && accelNorm < n.accelThresh

	if !n.staticKnown || n.isStatic != isStatic {
		if isStatic {
			n.staticLock = n.state.Position.Vec()
			n.hasLock = true
			diagf("zupt: entering static: gyro=%.4f rad/s accel_lin=%.4f m/s² vel=[%.3f, %.3f, %.3f]",
				gyroNorm, accelNorm,
				n.state.Velocity.X, n.state.Velocity.Y, n.state.Velocity.Z)
		} else {
			n.hasLock = false
			diagf("zupt: leaving static: gyro=%.4f rad/s accel_lin=%.4f m/s²", gyroNorm, accelNorm)
		}
		n.staticKnown = true
		n.isStatic = isStatic
	}

	if isStatic {
		n.state.Velocity = Vec3{}
		if n.hasLock {
			n.state.Position = vec3(n.staticLock)
		}
		tracef("zupt hold: ts=%d pos=[%.3f, %.3f, %.3f]",
			s.TimestampMS, n.state.Position.X, n.state.Position.Y, n.state.Position.Z)
	}
}
