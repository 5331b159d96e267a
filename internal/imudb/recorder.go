package imudb

import (
	"context"
	"errors"
	"time"

	"github.com/banshee-data/motion.report/internal/imu"
	"github.com/banshee-data/motion.report/internal/monitoring"
	"github.com/banshee-data/motion.report/internal/timeutil"
)

var (
	// ErrAlreadyRecording is returned by Start while a session is active.
	ErrAlreadyRecording = errors.New("imudb: recording already in progress")
	// ErrNotRecording is returned by Stop when no session is active.
	ErrNotRecording = errors.New("imudb: no recording in progress")
	// ErrRecorderStopped is returned by request helpers once the recorder
	// loop has exited.
	ErrRecorderStopped = errors.New("imudb: recorder stopped")
)

const (
	recorderBatchSize     = 64
	recorderFlushInterval = 500 * time.Millisecond
)

// RecordingStatus reports the recorder's state. While recording,
// SampleCount covers committed rows plus the batch still in memory; the
// status returned by Stop is the final tally for the ended session.
type RecordingStatus struct {
	Recording   bool   `json:"recording"`
	SessionID   string `json:"session_id,omitempty"`
	Name        string `json:"name,omitempty"`
	StartedAtMS int64  `json:"started_at_ms,omitempty"`
	SampleCount int64  `json:"sample_count"`
}

// RecorderConfig wires a Recorder. DB and Samples are required; DeviceID is
// stamped onto created sessions; nil Clock selects the real clock.
type RecorderConfig struct {
	DB       *DB
	Samples  <-chan imu.ResponseData
	DeviceID string
	Clock    timeutil.Clock
}

// Recorder drains the record channel and persists samples while a session
// is active; outside a session, samples are discarded so the channel never
// backs up. A single goroutine owns the batch and session state, with
// start/stop/status commands arriving over a control channel.
type Recorder struct {
	db       *DB
	samples  <-chan imu.ResponseData
	deviceID string
	clock    timeutil.Clock

	ctl  chan controlRequest
	done chan struct{}

	// Owned by the Run goroutine.
	session *Session
	batch   []imu.ResponseData
	count   int64
}

type controlOp int

const (
	opStart controlOp = iota
	opStop
	opStatus
)

type controlRequest struct {
	op    controlOp
	name  string
	reply chan statusReply
}

type statusReply struct {
	status RecordingStatus
	err    error
}

// NewRecorder builds a recorder; call Run to start it.
func NewRecorder(rc RecorderConfig) *Recorder {
	if rc.DB == nil {
		panic("imudb: RecorderConfig.DB is required")
	}
	if rc.Samples == nil {
		panic("imudb: RecorderConfig.Samples is required")
	}
	if rc.Clock == nil {
		rc.Clock = timeutil.RealClock{}
	}
	return &Recorder{
		db:       rc.DB,
		samples:  rc.Samples,
		deviceID: rc.DeviceID,
		clock:    rc.Clock,
		ctl:      make(chan controlRequest),
		done:     make(chan struct{}),
	}
}

// Run consumes samples until ctx is cancelled or the sample channel closes.
// An open session is flushed and closed on the way out, so restarts never
// find a session that claims to still be recording.
func (r *Recorder) Run(ctx context.Context) {
	defer close(r.done)

	ticker := r.clock.NewTicker(recorderFlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.shutdown()
			return

		case s, ok := <-r.samples:
			if !ok {
				monitoring.Logf("recorder: sample channel closed, exiting")
				r.shutdown()
				return
			}
			if r.session == nil {
				continue
			}
			r.batch = append(r.batch, s)
			r.count++
			if len(r.batch) >= recorderBatchSize {
				r.flush()
			}

		case req := <-r.ctl:
			req.reply <- r.handleControl(req)

		case <-ticker.C():
			r.flush()
		}
	}
}

func (r *Recorder) handleControl(req controlRequest) statusReply {
	switch req.op {
	case opStart:
		if r.session != nil {
			return statusReply{status: r.status(), err: ErrAlreadyRecording}
		}
		sess, err := r.db.CreateSession(req.name, r.deviceID)
		if err != nil {
			return statusReply{err: err}
		}
		r.session = sess
		r.batch = r.batch[:0]
		r.count = 0
		monitoring.Logf("recorder: started session %s name=%q", sess.ID, sess.Name)
		return statusReply{status: r.status()}

	case opStop:
		if r.session == nil {
			return statusReply{err: ErrNotRecording}
		}
		r.flush()
		final := RecordingStatus{
			SessionID:   r.session.ID,
			Name:        r.session.Name,
			StartedAtMS: r.session.StartedAtMS,
			SampleCount: r.count,
		}
		if err := r.db.EndSession(r.session.ID); err != nil {
			monitoring.Logf("recorder: failed to end session %s: %v", r.session.ID, err)
		}
		monitoring.Logf("recorder: stopped session %s after %d samples", r.session.ID, r.count)
		r.session = nil
		r.count = 0
		return statusReply{status: final}

	default:
		return statusReply{status: r.status()}
	}
}

func (r *Recorder) status() RecordingStatus {
	if r.session == nil {
		return RecordingStatus{}
	}
	return RecordingStatus{
		Recording:   true,
		SessionID:   r.session.ID,
		Name:        r.session.Name,
		StartedAtMS: r.session.StartedAtMS,
		SampleCount: r.count,
	}
}

// flush commits the in-memory batch. A failed batch is dropped rather than
// retried so a wedged database cannot grow the buffer without bound.
func (r *Recorder) flush() {
	if r.session == nil || len(r.batch) == 0 {
		return
	}
	if err := r.db.InsertSamples(r.session.ID, r.batch); err != nil {
		monitoring.Logf("recorder: dropping batch of %d samples: %v", len(r.batch), err)
		r.count -= int64(len(r.batch))
	}
	r.batch = r.batch[:0]
}

func (r *Recorder) shutdown() {
	if r.session == nil {
		return
	}
	r.flush()
	if err := r.db.EndSession(r.session.ID); err != nil {
		monitoring.Logf("recorder: failed to end session %s: %v", r.session.ID, err)
	}
	monitoring.Logf("recorder: session %s closed on shutdown after %d samples", r.session.ID, r.count)
	r.session = nil
}

// Start begins a new recording session with an optional name.
func (r *Recorder) Start(ctx context.Context, name string) (RecordingStatus, error) {
	return r.request(ctx, controlRequest{op: opStart, name: name})
}

// Stop ends the active session, flushing buffered samples first, and
// returns the final status of the ended session.
func (r *Recorder) Stop(ctx context.Context) (RecordingStatus, error) {
	return r.request(ctx, controlRequest{op: opStop})
}

// Status reports the current recording state.
func (r *Recorder) Status(ctx context.Context) (RecordingStatus, error) {
	return r.request(ctx, controlRequest{op: opStatus})
}

func (r *Recorder) request(ctx context.Context, req controlRequest) (RecordingStatus, error) {
	req.reply = make(chan statusReply, 1)
	select {
	case r.ctl <- req:
	case <-r.done:
		return RecordingStatus{}, ErrRecorderStopped
	case <-ctx.Done():
		return RecordingStatus{}, ctx.Err()
	}
	select {
	case rep := <-req.reply:
		return rep.status, rep.err
	case <-r.done:
		// The recorder may have replied just before exiting.
		select {
		case rep := <-req.reply:
			return rep.status, rep.err
		default:
			return RecordingStatus{}, ErrRecorderStopped
		}
	case <-ctx.Done():
		return RecordingStatus{}, ctx.Err()
	}
}
