// Package imu implements the navigation pipeline for a wearable inertial
// unit: packet parsing, calibration, filtering, attitude fusion, strapdown
// integration with ZUPT, and the worker loop that drives them.
package imu

import (
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/motion.report/internal/geom"
)

// Vec3 is a 3-vector with stable lowercase JSON keys for wire and database
// consumers. It converts to and from gonum's r3.Vec by plain struct
// conversion; pipeline math runs on the r3 form.
type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Vec returns the gonum form for math.
func (v Vec3) Vec() r3.Vec { return r3.Vec(v) }

func vec3(v r3.Vec) Vec3 { return Vec3(v) }

// RawSample is one parsed device notification. Values carry the device's
// native units: accelerations in m/s², angular rate in deg/s, angles in
// degrees, offset in meters. Immutable once built except for the axis
// calibration correction applied to Angle and Quat.
type RawSample struct {
	TimestampMS uint64    `json:"timestamp_ms"`
	AccelNoG    Vec3      `json:"accel_no_g"`
	AccelWithG  Vec3      `json:"accel_with_g"`
	Gyro        Vec3      `json:"gyro"`
	Quat        geom.Quat `json:"quat"`
	Angle       Vec3      `json:"angle"`
	Offset      Vec3      `json:"offset"`
	AccelNav    Vec3      `json:"accel_nav"`
}

// CalibratedSample is the bias/matrix corrected form of a RawSample. Accel is
// m/s² including gravity; Gyro is rad/s unless the calibration stage was
// bypassed, in which case both pass through in device units.
type CalibratedSample struct {
	TimestampMS uint64 `json:"timestamp_ms"`
	Accel       Vec3   `json:"accel"`
	Gyro        Vec3   `json:"gyro"`
	BiasA       Vec3   `json:"bias_a"`
	BiasG       Vec3   `json:"bias_g"`
}

// FilteredSample is the low-pass filtered form of a CalibratedSample.
type FilteredSample struct {
	TimestampMS uint64 `json:"timestamp_ms"`
	AccelLP     Vec3   `json:"accel_lp"`
	GyroLP      Vec3   `json:"gyro_lp"`
}

// AttitudeEstimate is the fused orientation for one sample. Euler is the
// ZYX decomposition in degrees.
type AttitudeEstimate struct {
	TimestampMS uint64    `json:"timestamp_ms"`
	Quat        geom.Quat `json:"quat"`
	Euler       Vec3      `json:"euler"`
}

// NavState is the navigation solution in the world frame. Only the Navigator
// mutates it; the EKF stage may replace it wholesale.
type NavState struct {
	TimestampMS uint64    `json:"timestamp_ms"`
	Position    Vec3      `json:"position"`
	Velocity    Vec3      `json:"velocity"`
	Attitude    geom.Quat `json:"attitude"`
}

// ZuptObservation is the per-sample stillness signal consumed by the EKF
// stage.
type ZuptObservation struct {
	IsStatic bool `json:"is_static"`
}

// CalculatedData is the computed half of a ResponseData record.
type CalculatedData struct {
	Attitude    geom.Quat `json:"attitude"`
	Euler       Vec3      `json:"euler"`
	Velocity    Vec3      `json:"velocity"`
	Position    Vec3      `json:"position"`
	TimestampMS uint64    `json:"timestamp_ms"`
}

// ResponseData is the unit of pipeline output: the axis-corrected raw sample
// plus the navigation solution, one per successfully parsed packet.
type ResponseData struct {
	RawData        RawSample      `json:"raw_data"`
	CalculatedData CalculatedData `json:"calculated_data"`
}

// StageSnapshot captures one stage's input, output and duration for the
// debug stream.
type StageSnapshot struct {
	Name       string `json:"name"`
	Input      any    `json:"input"`
	Output     any    `json:"output"`
	DurationUS int64  `json:"duration_us"`
}

// DebugFrame is a best-effort per-packet trace of the full pipeline run.
type DebugFrame struct {
	Seq             uint64          `json:"seq"`
	DeviceTimestamp uint64          `json:"device_timestamp_ms"`
	HostTimestamp   uint64          `json:"host_timestamp_ms"`
	Stages          []StageSnapshot `json:"stages"`
	Output          ResponseData    `json:"output"`
}

// QueueDepths is a point-in-time gauge of the worker's queues.
type QueueDepths struct {
	Upstream int `json:"upstream"`
	Live     int `json:"live"`
	Records  int `json:"records"`
	Debug    int `json:"debug"`
}

// TelemetrySink receives advisory queue-depth gauges from the worker. It is
// handed to the worker at construction; implementations must be cheap and
// must never block.
type TelemetrySink interface {
	RecordQueueDepths(d QueueDepths)
}

// NopTelemetry discards all telemetry.
type NopTelemetry struct{}

// RecordQueueDepths implements TelemetrySink.
func (NopTelemetry) RecordQueueDepths(QueueDepths) {}

// LogTelemetry writes queue depths to the package trace stream.
type LogTelemetry struct{}

// RecordQueueDepths implements TelemetrySink.
func (LogTelemetry) RecordQueueDepths(d QueueDepths) {
	tracef("queue depths: upstream=%d live=%d records=%d debug=%d",
		d.Upstream, d.Live, d.Records, d.Debug)
}
