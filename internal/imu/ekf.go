package imu

import (
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/motion.report/internal/config"
)

// ErrorState is the 15-dimensional error-state vector for the EKF stage:
// position, velocity, attitude, gyro bias, and accel bias errors.
type ErrorState struct {
	DeltaP     r3.Vec
	DeltaV     r3.Vec
	DeltaTheta r3.Vec
	DeltaBG    r3.Vec
	DeltaBA    r3.Vec
}

// ekfDim is the error-state dimension (5 blocks of 3).
const ekfDim = 15

// EKFProcessor folds stillness observations into the navigation state
// through an error-state Kalman filter. Propagation is not implemented yet;
// with the stage disabled (the default) or passby set, states pass through
// unchanged.
type EKFProcessor struct {
	passby  bool
	enabled bool
	cov     *mat.SymDense // 15x15 error covariance
}

// NewEKFProcessor builds the stage from its config section.
func NewEKFProcessor(cfg *config.EKFConfig) *EKFProcessor {
	cov := mat.NewSymDense(ekfDim, nil)
	for i := 0; i < ekfDim; i++ {
		cov.SetSym(i, i, 1e-3)
	}
	return &EKFProcessor{
		passby:  cfg.GetPassby(),
		enabled: cfg.GetEnabled(),
		cov:     cov,
	}
}

// Update applies the error-state correction for one sample.
func (e *EKFProcessor) Update(nav NavState, obs ZuptObservation) NavState {
	if e.passby || !e.enabled {
		return nav
	}

	// TODO: propagate cov and fold the ZUPT pseudo-measurement into nav.
	_ = obs
	return nav
}

// Reset restores the initial covariance.
func (e *EKFProcessor) Reset() {
	for i := 0; i < ekfDim; i++ {
		for j := i; j < ekfDim; j++ {
			if i == j {
				e.cov.SetSym(i, j, 1e-3)
			} else {
				e.cov.SetSym(i, j, 0)
			}
		}
	}
}
