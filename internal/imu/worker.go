package imu

import (
	"context"
	"errors"
	"time"

	"github.com/banshee-data/motion.report/internal/config"
	"github.com/banshee-data/motion.report/internal/monitoring"
	"github.com/banshee-data/motion.report/internal/timeutil"
)

// ErrWorkerStopped is returned by request helpers once the worker loop has
// exited.
var ErrWorkerStopped = errors.New("imu: worker stopped")

// telemetryInterval is how often queue-depth gauges are reported.
const telemetryInterval = time.Second

// RawEvent is one unit from the transport: a raw packet, or a link reset
// that must clear all integration state.
type RawEvent struct {
	Data  []byte
	Reset bool
}

// WorkerConfig wires a Worker's channels and collaborators. Pipeline and
// Events are required; nil output channels disable that output, and nil
// Telemetry/Clock/Counters select defaults.
type WorkerConfig struct {
	Pipeline *Pipeline
	Events   <-chan RawEvent

	// Live receives one ResponseData per processed packet for live
	// consumers; Records feeds persistence; Debug carries per-stage
	// snapshots. All three are fed non-blocking: a full channel drops the
	// item and bumps a counter rather than stalling the worker.
	Live    chan<- ResponseData
	Records chan<- ResponseData
	Debug   chan<- DebugFrame

	// ConfigWatch delivers hot-reloaded configs from the file watcher.
	ConfigWatch <-chan *config.ProcessingConfig

	Counters  *monitoring.Counters
	Telemetry TelemetrySink
	Clock     timeutil.Clock
}

// Worker is the single goroutine that owns the Pipeline. Data is temporal
// and cannot be parallelized: dt, ZUPT lock state and filter memory all
// depend on strict ordering, so every mutation funnels through one select
// loop. Calibration and config requests travel over channels with embedded
// single-use reply channels, so callers never observe state mid-update.
type Worker struct {
	pipeline  *Pipeline
	events    <-chan RawEvent
	live      chan<- ResponseData
	records   chan<- ResponseData
	debug     chan<- DebugFrame
	cfgWatch  <-chan *config.ProcessingConfig
	counters  *monitoring.Counters
	telemetry TelemetrySink
	clock     timeutil.Clock

	calReqs chan calibrationRequest
	cfgReqs chan configRequest
	done    chan struct{}

	seq uint64
}

type calibrationRequest struct {
	// position nil means "set current pose as zero".
	position *Vec3
	reply    chan error
}

type configRequest struct {
	// update nil means "get".
	update *config.ProcessingConfig
	get    chan *config.ProcessingConfig
	err    chan error
}

// NewWorker builds a worker; call Run to start it.
func NewWorker(wc WorkerConfig) *Worker {
	if wc.Pipeline == nil {
		panic("imu: WorkerConfig.Pipeline is required")
	}
	if wc.Events == nil {
		panic("imu: WorkerConfig.Events is required")
	}
	if wc.Counters == nil {
		wc.Counters = &monitoring.Counters{}
	}
	if wc.Telemetry == nil {
		wc.Telemetry = NopTelemetry{}
	}
	if wc.Clock == nil {
		wc.Clock = timeutil.RealClock{}
	}
	return &Worker{
		pipeline:  wc.Pipeline,
		events:    wc.Events,
		live:      wc.Live,
		records:   wc.Records,
		debug:     wc.Debug,
		cfgWatch:  wc.ConfigWatch,
		counters:  wc.Counters,
		telemetry: wc.Telemetry,
		clock:     wc.Clock,
		calReqs:   make(chan calibrationRequest),
		cfgReqs:   make(chan configRequest),
		done:      make(chan struct{}),
	}
}

// Run processes events until ctx is cancelled or the upstream channel
// closes. The transport is expected to outlive the pipeline, so upstream
// closing is treated as fatal.
func (w *Worker) Run(ctx context.Context) {
	defer close(w.done)

	ticker := w.clock.NewTicker(telemetryInterval)
	defer ticker.Stop()

	// The watcher channel drops out of the select if it closes; everything
	// else keeps running on the last good config.
	cfgWatch := w.cfgWatch

	for {
		select {
		case <-ctx.Done():
			diagf("worker shutting down")
			return

		case ev, ok := <-w.events:
			if !ok {
				opsf("upstream event channel closed, worker exiting")
				return
			}
			if ev.Reset {
				w.pipeline.Reset()
				diagf("pipeline reset by transport")
				continue
			}
			w.handlePacket(ev.Data)

		case req := <-w.calReqs:
			w.handleCalibration(req)

		case req := <-w.cfgReqs:
			w.handleConfigRequest(req)

		case cfg, ok := <-cfgWatch:
			if !ok {
				cfgWatch = nil
				continue
			}
			w.pipeline.ResetWithConfig(cfg)
			diagf("pipeline config hot-reloaded")

		case <-ticker.C():
			w.telemetry.RecordQueueDepths(QueueDepths{
				Upstream: len(w.events),
				Live:     len(w.live),
				Records:  len(w.records),
				Debug:    len(w.debug),
			})
		}
	}
}

func (w *Worker) handlePacket(data []byte) {
	resp, stages, err := w.pipeline.ProcessPacket(data)
	if err != nil {
		// Counted and logged by the pipeline; bad packets are not fatal.
		return
	}

	if w.live != nil {
		select {
		case w.live <- resp:
		default:
			w.counters.AddSampleDropped()
			opsf("live output queue full, dropping sample ts=%d", resp.RawData.TimestampMS)
		}
	}
	if w.records != nil {
		select {
		case w.records <- resp:
		default:
			w.counters.AddSampleDropped()
			opsf("record queue full, dropping sample ts=%d", resp.RawData.TimestampMS)
		}
	}
	if w.debug != nil {
		frame := DebugFrame{
			Seq:             w.seq,
			DeviceTimestamp: resp.RawData.TimestampMS,
			HostTimestamp:   uint64(w.clock.Now().UnixMilli()),
			Stages:          stages,
			Output:          resp,
		}
		select {
		case w.debug <- frame:
		default:
			w.counters.AddDebugDropped()
			tracef("debug queue full, dropping frame seq=%d", frame.Seq)
		}
	}
	w.seq++
}

func (w *Worker) handleCalibration(req calibrationRequest) {
	var err error
	if req.position != nil {
		w.pipeline.SetPosition(*req.position)
	} else {
		err = w.pipeline.ZeroPose()
	}
	req.reply <- err
}

func (w *Worker) handleConfigRequest(req configRequest) {
	if req.update == nil {
		req.get <- w.pipeline.Config()
		return
	}
	w.pipeline.ResetWithConfig(req.update)
	diagf("pipeline config updated by request")
	req.err <- nil
}

// ZeroPose asks the worker to capture the current pose as the zero
// reference. It fails if no packet has been processed yet.
func (w *Worker) ZeroPose(ctx context.Context) error {
	req := calibrationRequest{reply: make(chan error, 1)}
	return w.sendCalibration(ctx, req)
}

// SetPosition asks the worker to force the navigator position.
func (w *Worker) SetPosition(ctx context.Context, p Vec3) error {
	req := calibrationRequest{position: &p, reply: make(chan error, 1)}
	return w.sendCalibration(ctx, req)
}

func (w *Worker) sendCalibration(ctx context.Context, req calibrationRequest) error {
	select {
	case w.calReqs <- req:
	case <-w.done:
		return ErrWorkerStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-req.reply:
		return err
	case <-w.done:
		// The worker may have replied just before exiting.
		select {
		case err := <-req.reply:
			return err
		default:
			return ErrWorkerStopped
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// GetConfig returns the config the pipeline is currently running with.
func (w *Worker) GetConfig(ctx context.Context) (*config.ProcessingConfig, error) {
	req := configRequest{get: make(chan *config.ProcessingConfig, 1)}
	select {
	case w.cfgReqs <- req:
	case <-w.done:
		return nil, ErrWorkerStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case cfg := <-req.get:
		return cfg, nil
	case <-w.done:
		select {
		case cfg := <-req.get:
			return cfg, nil
		default:
			return nil, ErrWorkerStopped
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// UpdateConfig rebuilds the pipeline from cfg immediately. Persisting the
// config is the caller's job.
func (w *Worker) UpdateConfig(ctx context.Context, cfg *config.ProcessingConfig) error {
	req := configRequest{update: cfg, err: make(chan error, 1)}
	select {
	case w.cfgReqs <- req:
	case <-w.done:
		return ErrWorkerStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-req.err:
		return err
	case <-w.done:
		select {
		case err := <-req.err:
			return err
		default:
			return ErrWorkerStopped
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}
