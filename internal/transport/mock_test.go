package transport

import (
	"bytes"
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/banshee-data/motion.report/internal/imu"
	"github.com/banshee-data/motion.report/internal/units"
)

func TestMockSource_ReplaysWithResetOnWrap(t *testing.T) {
	frames := [][]byte{testFrame(10), testFrame(20)}
	src := NewMockSource(frames, time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- src.Run(ctx) }()

	want := []imu.RawEvent{
		{Data: frames[0]},
		{Data: frames[1]},
		{Reset: true},
		{Data: frames[0]},
	}
	for i, w := range want {
		ev := recvEvent(t, src.Events())
		if ev.Reset != w.Reset || !bytes.Equal(ev.Data, w.Data) {
			t.Fatalf("event %d: reset=%v data=% x, want reset=%v data=% x",
				i, ev.Reset, ev.Data, w.Reset, w.Data)
		}
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("Run returned %v, want context.Canceled", err)
	}
}

func TestStationaryFrames(t *testing.T) {
	frames := StationaryFrames(3, 10*time.Millisecond)
	if len(frames) != 3 {
		t.Fatalf("got %d frames, want 3", len(frames))
	}

	for i, f := range frames {
		s, err := imu.ParsePacket(f)
		if err != nil {
			t.Fatalf("frame %d does not parse: %v", i, err)
		}
		if want := uint64(i * 10); s.TimestampMS != want {
			t.Errorf("frame %d timestamp = %d, want %d", i, s.TimestampMS, want)
		}
		if math.Abs(s.AccelWithG.Z-units.StandardGravity) > imu.SCALE_ACCEL {
			t.Errorf("frame %d accel z = %v, want ~%v", i, s.AccelWithG.Z, units.StandardGravity)
		}
		if s.AccelWithG.X != 0 || s.AccelWithG.Y != 0 {
			t.Errorf("frame %d accel x,y = %v,%v, want 0,0", i, s.AccelWithG.X, s.AccelWithG.Y)
		}
		if s.Gyro != (imu.Vec3{}) {
			t.Errorf("frame %d gyro = %+v, want zero", i, s.Gyro)
		}
		if math.Abs(s.Quat.W-1) > 2*imu.SCALE_QUAT || s.Quat.X != 0 || s.Quat.Y != 0 || s.Quat.Z != 0 {
			t.Errorf("frame %d quat = %+v, want ~identity", i, s.Quat)
		}
	}
}
