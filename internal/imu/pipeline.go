package imu

import (
	"errors"
	"fmt"
	"time"

	"github.com/banshee-data/motion.report/internal/config"
	"github.com/banshee-data/motion.report/internal/monitoring"
)

// ErrNoData reports that an operation needs at least one processed packet.
var ErrNoData = errors.New("imu: no data received yet")

// Pipeline owns one instance of every processing stage and runs them in
// fixed order per packet: parse, axis zeroing, calibration, low-pass filter,
// attitude fusion, navigation, EKF. All state is confined to the single
// worker goroutine that calls it; none of the methods are safe for
// concurrent use.
type Pipeline struct {
	cfg       *config.ProcessingConfig
	axis      AxisCalibration
	sensorCal *SensorCalibration
	filter    *LowPassFilter
	fusion    *AttitudeFusion
	navigator *Navigator
	ekf       *EKFProcessor

	counters  *monitoring.Counters
	latestRaw *RawSample
}

// NewPipeline builds a pipeline from the given config. counters may be nil.
func NewPipeline(cfg *config.ProcessingConfig, counters *monitoring.Counters) *Pipeline {
	if cfg == nil {
		cfg = config.EmptyProcessingConfig()
	}
	if counters == nil {
		counters = &monitoring.Counters{}
	}
	p := &Pipeline{cfg: cfg, counters: counters}
	p.build()
	return p
}

func (p *Pipeline) build() {
	p.axis = NewAxisCalibration()
	p.sensorCal = NewSensorCalibration(p.cfg.Calibration)
	p.filter = NewLowPassFilter(p.cfg.Filter)
	p.fusion = NewAttitudeFusion(p.cfg.Attitude)
	p.navigator = NewNavigator(p.cfg)
	p.ekf = NewEKFProcessor(p.cfg.EKF)
}

// Config returns the config the pipeline is currently built from.
func (p *Pipeline) Config() *config.ProcessingConfig {
	return p.cfg
}

// ProcessPacket runs one raw notification through every stage and returns
// the wire record plus per-stage snapshots for the debug stream. A parse
// failure is counted and returned as an error; it never disturbs pipeline
// state.
func (p *Pipeline) ProcessPacket(data []byte) (ResponseData, []StageSnapshot, error) {
	raw, err := ParsePacket(data)
	if err != nil {
		p.counters.AddParseFailure()
		opsf("packet parse failed: %v", err)
		return ResponseData{}, nil, err
	}
	p.counters.AddPacket()

	// Remember the uncorrected sample; zero-pose calibration reads it.
	stored := raw
	p.latestRaw = &stored

	stages := make([]StageSnapshot, 0, 6)

	t := time.Now()
	p.axis.Apply(&raw)
	stages = append(stages, snapshot("axis", stored, raw, t))

	t = time.Now()
	calibrated := p.sensorCal.Apply(raw)
	stages = append(stages, snapshot("calibration", raw, calibrated, t))

	t = time.Now()
	filtered := p.filter.Apply(calibrated)
	stages = append(stages, snapshot("filter", calibrated, filtered, t))

	t = time.Now()
	attitude := p.fusion.Update(filtered, raw.Quat)
	stages = append(stages, snapshot("attitude", filtered, attitude, t))

	t = time.Now()
	nav := p.navigator.Update(attitude.Quat, filtered)
	obs := ZuptObservation{IsStatic: p.navigator.IsStatic()}
	stages = append(stages, snapshot("navigator", filtered, nav, t))

	t = time.Now()
	nav = p.ekf.Update(nav, obs)
	stages = append(stages, snapshot("ekf", obs, nav, t))

	return buildResponse(raw, nav, attitude), stages, nil
}

// ZeroPose captures the most recent raw pose as the zero reference and
// re-derives the navigator's gravity reference for the zeroed frame. It
// fails if no packet has been seen yet.
func (p *Pipeline) ZeroPose() error {
	if p.latestRaw == nil {
		return fmt.Errorf("%w: cannot set zero pose", ErrNoData)
	}
	p.axis.UpdateFromRaw(*p.latestRaw)
	p.navigator.SetGravityReference(p.axis.QuatOffset)
	diagf("zero pose set from sample at %d ms", p.latestRaw.TimestampMS)
	return nil
}

// SetPosition forces the navigator position, for manual correction.
func (p *Pipeline) SetPosition(pos Vec3) {
	p.navigator.SetPosition(pos)
}

// Reset clears every stage's state, including the zero reference and the
// remembered raw sample. Sent by the transport on link drop/reconnect.
func (p *Pipeline) Reset() {
	p.axis.Reset()
	p.filter.Reset()
	p.fusion.Reset()
	p.navigator.Reset()
	p.ekf.Reset()
	p.latestRaw = nil
	p.counters.AddReset()
}

// ResetWithConfig rebuilds the whole pipeline from a new config. If a raw
// sample had been seen, the zero reference and gravity reference re-derive
// from it, so tuning parameters at runtime does not force re-zeroing the
// device.
func (p *Pipeline) ResetWithConfig(cfg *config.ProcessingConfig) {
	if cfg == nil {
		cfg = config.EmptyProcessingConfig()
	}
	p.cfg = cfg
	p.build()
	if p.latestRaw != nil {
		p.axis.UpdateFromRaw(*p.latestRaw)
		p.navigator.SetGravityReference(p.axis.QuatOffset)
	}
}

func snapshot(name string, in, out any, start time.Time) StageSnapshot {
	return StageSnapshot{
		Name:       name,
		Input:      in,
		Output:     out,
		DurationUS: time.Since(start).Microseconds(),
	}
}

func buildResponse(raw RawSample, nav NavState, att AttitudeEstimate) ResponseData {
	return ResponseData{
		RawData: raw,
		CalculatedData: CalculatedData{
			Attitude:    nav.Attitude,
			Euler:       att.Euler,
			Velocity:    nav.Velocity,
			Position:    nav.Position,
			TimestampMS: nav.TimestampMS,
		},
	}
}
