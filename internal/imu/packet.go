package imu

import (
	"encoding/binary"
	"fmt"

	"github.com/banshee-data/motion.report/internal/geom"
)

/*
IMU Notification Packet Format

The device streams one notification per sample. Each notification is a
flag-gated binary frame, little-endian throughout:

	offset 0      header marker (0x11)
	offset 1-2    subscription control word (uint16)
	offset 3-6    device timestamp in milliseconds (uint32)
	offset 7..    field payloads, ascending control-bit order

Every set control bit contributes a fixed-width payload of int16 components
(three per vector field, four for the quaternion in w,x,y,z order), each
scaled to physical units by a per-field constant. This deployment subscribes
to all seven fields; frames missing any of them are rejected rather than
zero-filled so a device reconfigured to a narrower subscription surfaces as
parse errors instead of silently degraded output.
*/

const (
	PACKET_HEADER   = 0x11 // first byte of every valid notification
	PACKET_MIN_SIZE = 7    // header + control word + timestamp

	// Subscription control word bits, in payload order.
	BIT_ACCEL_NO_G   = 0  // linear acceleration, gravity removed
	BIT_ACCEL_WITH_G = 1  // raw accelerometer reading
	BIT_GYRO         = 2  // angular rate
	BIT_QUAT         = 5  // device attitude quaternion
	BIT_ANGLE        = 6  // device Euler angles
	BIT_OFFSET       = 7  // device-integrated positional offset
	BIT_ACCEL_NAV    = 10 // navigation-frame acceleration

	// Physical conversion constants, units per raw i16 count.
	SCALE_ACCEL  = 0.00478515625     // m/s² (±16 g full scale)
	SCALE_GYRO   = 0.06103515625     // deg/s (±2000 deg/s full scale)
	SCALE_QUAT   = 0.000030517578125 // dimensionless (±1 full scale)
	SCALE_ANGLE  = 0.0054931640625   // degrees (±180° full scale)
	SCALE_OFFSET = 0.001             // meters
)

// requiredFields lists every control bit this deployment subscribes to, in
// payload order. words is the number of int16 components the field occupies.
var requiredFields = []struct {
	bit   uint
	name  string
	words int
}{
	{BIT_ACCEL_NO_G, "accel_no_g", 3},
	{BIT_ACCEL_WITH_G, "accel_with_g", 3},
	{BIT_GYRO, "gyro", 3},
	{BIT_QUAT, "quat", 4},
	{BIT_ANGLE, "angle", 3},
	{BIT_OFFSET, "offset", 3},
	{BIT_ACCEL_NAV, "accel_nav", 3},
}

// PacketLength returns the total frame size implied by a control word, used
// by stream transports to delimit notifications. It rejects control words
// that drop any required field, since the payload of an unknown subscription
// cannot be sized.
func PacketLength(ctl uint16) (int, error) {
	n := PACKET_MIN_SIZE
	for _, f := range requiredFields {
		if ctl&(1<<f.bit) == 0 {
			return 0, fmt.Errorf("control word 0x%04x missing required field %s (bit %d)", ctl, f.name, f.bit)
		}
		n += 2 * f.words
	}
	return n, nil
}

// ParsePacket decodes one notification frame into a RawSample. It validates
// the header, requires every subscribed field to be present, and returns a
// descriptive error for short or malformed frames. It never panics on
// arbitrary input.
func ParsePacket(data []byte) (RawSample, error) {
	if len(data) < PACKET_MIN_SIZE {
		return RawSample{}, fmt.Errorf("packet too short: %d bytes, need at least %d", len(data), PACKET_MIN_SIZE)
	}
	if data[0] != PACKET_HEADER {
		return RawSample{}, fmt.Errorf("bad packet header 0x%02x, want 0x%02x", data[0], PACKET_HEADER)
	}

	r := payloadReader{
		data: data,
		off:  PACKET_MIN_SIZE,
		ctl:  binary.LittleEndian.Uint16(data[1:3]),
	}
	s := RawSample{TimestampMS: uint64(binary.LittleEndian.Uint32(data[3:7]))}

	var err error
	if s.AccelNoG, err = r.vec(BIT_ACCEL_NO_G, "accel_no_g", SCALE_ACCEL); err != nil {
		return RawSample{}, err
	}
	if s.AccelWithG, err = r.vec(BIT_ACCEL_WITH_G, "accel_with_g", SCALE_ACCEL); err != nil {
		return RawSample{}, err
	}
	if s.Gyro, err = r.vec(BIT_GYRO, "gyro", SCALE_GYRO); err != nil {
		return RawSample{}, err
	}
	if s.Quat, err = r.quat(BIT_QUAT, "quat", SCALE_QUAT); err != nil {
		return RawSample{}, err
	}
	if s.Angle, err = r.vec(BIT_ANGLE, "angle", SCALE_ANGLE); err != nil {
		return RawSample{}, err
	}
	if s.Offset, err = r.vec(BIT_OFFSET, "offset", SCALE_OFFSET); err != nil {
		return RawSample{}, err
	}
	if s.AccelNav, err = r.vec(BIT_ACCEL_NAV, "accel_nav", SCALE_ACCEL); err != nil {
		return RawSample{}, err
	}
	return s, nil
}

// payloadReader walks the field payloads after the fixed packet prefix.
type payloadReader struct {
	data []byte
	off  int
	ctl  uint16
}

func (r *payloadReader) i16(name string) (int16, error) {
	if r.off+2 > len(r.data) {
		return 0, fmt.Errorf("packet truncated in %s: need %d bytes, have %d", name, r.off+2, len(r.data))
	}
	v := int16(binary.LittleEndian.Uint16(r.data[r.off:]))
	r.off += 2
	return v, nil
}

func (r *payloadReader) vec(bit uint, name string, scale float64) (Vec3, error) {
	if r.ctl&(1<<bit) == 0 {
		return Vec3{}, fmt.Errorf("control word 0x%04x missing required field %s (bit %d)", r.ctl, name, bit)
	}
	var out [3]float64
	for i := range out {
		raw, err := r.i16(name)
		if err != nil {
			return Vec3{}, err
		}
		out[i] = float64(raw) * scale
	}
	return Vec3{X: out[0], Y: out[1], Z: out[2]}, nil
}

func (r *payloadReader) quat(bit uint, name string, scale float64) (geom.Quat, error) {
	if r.ctl&(1<<bit) == 0 {
		return geom.Quat{}, fmt.Errorf("control word 0x%04x missing required field %s (bit %d)", r.ctl, name, bit)
	}
	var out [4]float64
	for i := range out {
		raw, err := r.i16(name)
		if err != nil {
			return geom.Quat{}, err
		}
		out[i] = float64(raw) * scale
	}
	return geom.Quat{W: out[0], X: out[1], Y: out[2], Z: out[3]}, nil
}
