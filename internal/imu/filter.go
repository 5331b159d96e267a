package imu

import (
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/motion.report/internal/config"
)

// LowPassFilter smooths accel and gyro with a first-order IIR:
//
//	y_t = alpha * y_{t-1} + (1 - alpha) * x_t
//
// The first sample passes through and primes the memory. With passby set,
// samples pass through without touching the memory.
type LowPassFilter struct {
	passby bool
	alpha  float64

	primed    bool
	prevAccel r3.Vec
	prevGyro  r3.Vec
}

// NewLowPassFilter builds the stage from its config section.
func NewLowPassFilter(cfg *config.FilterConfig) *LowPassFilter {
	return &LowPassFilter{
		passby: cfg.GetPassby(),
		alpha:  cfg.GetAlpha(),
	}
}

// Apply filters one calibrated sample.
func (f *LowPassFilter) Apply(s CalibratedSample) FilteredSample {
	if f.passby {
		return FilteredSample{
			TimestampMS: s.TimestampMS,
			AccelLP:     s.Accel,
			GyroLP:      s.Gyro,
		}
	}

	accel := s.Accel.Vec()
	gyro := s.Gyro.Vec()
	if f.primed {
		accel = r3.Add(r3.Scale(f.alpha, f.prevAccel), r3.Scale(1-f.alpha, accel))
		gyro = r3.Add(r3.Scale(f.alpha, f.prevGyro), r3.Scale(1-f.alpha, gyro))
	}
	f.prevAccel = accel
	f.prevGyro = gyro
	f.primed = true

	return FilteredSample{
		TimestampMS: s.TimestampMS,
		AccelLP:     vec3(accel),
		GyroLP:      vec3(gyro),
	}
}

// Reset clears the filter memory; the next sample passes through again.
func (f *LowPassFilter) Reset() {
	f.primed = false
	f.prevAccel = r3.Vec{}
	f.prevGyro = r3.Vec{}
}
