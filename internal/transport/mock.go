package transport

import (
	"context"
	"encoding/binary"
	"math"
	"time"

	"github.com/banshee-data/motion.report/internal/imu"
	"github.com/banshee-data/motion.report/internal/units"
)

// MockSource replays a fixed set of frames on a timer, looping with a Reset
// between passes so device timestamps never run backwards. It stands in for
// hardware in dev mode and tests.
type MockSource struct {
	frames   [][]byte
	interval time.Duration
	events   chan imu.RawEvent
}

// NewMockSource creates a source cycling over frames, one per interval.
// It panics if frames is empty; an interval of zero means 10ms.
func NewMockSource(frames [][]byte, interval time.Duration) *MockSource {
	if len(frames) == 0 {
		panic("transport: NewMockSource requires at least one frame")
	}
	if interval <= 0 {
		interval = 10 * time.Millisecond
	}
	return &MockSource{
		frames:   frames,
		interval: interval,
		events:   make(chan imu.RawEvent, eventsBufferSize),
	}
}

// Events returns the frame channel. It is closed when Run returns.
func (m *MockSource) Events() <-chan imu.RawEvent {
	return m.events
}

// Run emits one frame per tick until ctx is cancelled.
func (m *MockSource) Run(ctx context.Context) error {
	defer close(m.events)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	i := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if i == len(m.frames) {
				i = 0
				if !m.send(ctx, imu.RawEvent{Reset: true}) {
					return ctx.Err()
				}
			}
			if !m.send(ctx, imu.RawEvent{Data: m.frames[i]}) {
				return ctx.Err()
			}
			i++
		}
	}
}

func (m *MockSource) send(ctx context.Context, ev imu.RawEvent) bool {
	select {
	case m.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// Close is a no-op; stopping the mock is the context's job.
func (m *MockSource) Close() error {
	return nil
}

// ctlAllFields subscribes every field the parser requires.
const ctlAllFields = 1<<imu.BIT_ACCEL_NO_G | 1<<imu.BIT_ACCEL_WITH_G |
	1<<imu.BIT_GYRO | 1<<imu.BIT_QUAT | 1<<imu.BIT_ANGLE |
	1<<imu.BIT_OFFSET | 1<<imu.BIT_ACCEL_NAV

// buildFrame assembles one notification frame from a device timestamp and
// the raw i16 payload words in wire order.
func buildFrame(ts uint32, words []int16) []byte {
	buf := make([]byte, 0, imu.PACKET_MIN_SIZE+2*len(words))
	buf = append(buf, imu.PACKET_HEADER)
	buf = binary.LittleEndian.AppendUint16(buf, ctlAllFields)
	buf = binary.LittleEndian.AppendUint32(buf, ts)
	for _, w := range words {
		buf = binary.LittleEndian.AppendUint16(buf, uint16(w))
	}
	return buf
}

// StationaryFrames builds n frames of a motionless, level device: gravity
// on the body Z axis, identity attitude, timestamps step apart. Fed through
// the pipeline they hold the navigator in its static regime, which makes
// them a usable hardware stand-in for dev mode.
func StationaryFrames(n int, step time.Duration) [][]byte {
	gravity := int16(math.Round(units.StandardGravity / imu.SCALE_ACCEL))
	// A unit quaternion w saturates the i16 range (1/scale is one past
	// MaxInt16); fusion renormalizes the sliver away.
	const quatW = math.MaxInt16

	stepMS := uint32(step / time.Millisecond)
	frames := make([][]byte, n)
	for i := range frames {
		frames[i] = buildFrame(uint32(i)*stepMS, []int16{
			0, 0, 0, // accel_no_g
			0, 0, gravity, // accel_with_g
			0, 0, 0, // gyro
			quatW, 0, 0, 0, // quat
			0, 0, 0, // angle
			0, 0, 0, // offset
			0, 0, 0, // accel_nav
		})
	}
	return frames
}
