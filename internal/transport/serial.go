package transport

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"sync"
	"time"

	"go.bug.st/serial"

	"github.com/banshee-data/motion.report/internal/imu"
	"github.com/banshee-data/motion.report/internal/monitoring"
)

const (
	// DefaultBaud matches the vendor's serial bridge firmware.
	DefaultBaud = 115200

	// serialRetryDelay spaces reopen attempts after an open or read
	// failure.
	serialRetryDelay = time.Second
)

// SerialConfig describes the port a SerialSource reads from.
type SerialConfig struct {
	Port string `json:"port"`
	Baud int    `json:"baud"`
}

// SerialSource frames the byte stream of a serial bridge into device
// notifications. A read failure emits a Reset event and the port is
// reopened until the context is cancelled, so a transient unplug costs
// integration state but not the process.
type SerialSource struct {
	cfg    SerialConfig
	events chan imu.RawEvent
	retry  time.Duration

	// open is swapped by tests.
	open func(name string, mode *serial.Mode) (io.ReadCloser, error)

	mu     sync.Mutex
	port   io.Closer
	closed bool
}

// NewSerialSource creates a source for the given port. A zero Baud selects
// DefaultBaud.
func NewSerialSource(cfg SerialConfig) *SerialSource {
	if cfg.Baud == 0 {
		cfg.Baud = DefaultBaud
	}
	return &SerialSource{
		cfg:    cfg,
		events: make(chan imu.RawEvent, eventsBufferSize),
		retry:  serialRetryDelay,
		open: func(name string, mode *serial.Mode) (io.ReadCloser, error) {
			return serial.Open(name, mode)
		},
	}
}

// Events returns the frame channel. It is closed when Run returns.
func (s *SerialSource) Events() <-chan imu.RawEvent {
	return s.events
}

// Run opens the port and pumps frames until ctx is cancelled or Close is
// called, reopening after failures.
func (s *SerialSource) Run(ctx context.Context) error {
	defer close(s.events)

	// A blocked serial read only returns once the port is closed under it.
	watcherDone := make(chan struct{})
	defer close(watcherDone)
	go func() {
		select {
		case <-ctx.Done():
			s.Close()
		case <-watcherDone:
		}
	}()

	mode := &serial.Mode{
		BaudRate: s.cfg.Baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	first := true
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if s.isClosed() {
			return nil
		}
		if !first {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.retry):
			}
		}
		first = false

		port, err := s.open(s.cfg.Port, mode)
		if err != nil {
			monitoring.Logf("serial %s: open failed: %v (retrying in %s)", s.cfg.Port, err, s.retry)
			continue
		}
		if !s.track(port) {
			port.Close()
			return nil
		}
		monitoring.Logf("serial %s: reading at %d baud", s.cfg.Port, s.cfg.Baud)

		err = s.pump(ctx, port)
		s.untrack()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if s.isClosed() {
			return nil
		}
		monitoring.Logf("serial %s: read failed: %v (reopening)", s.cfg.Port, err)
		if !s.emit(ctx, imu.RawEvent{Reset: true}) {
			return ctx.Err()
		}
	}
}

// pump scans frames from r until the read fails. The scanner reuses its
// buffer between frames, so each event carries its own copy.
func (s *SerialSource) pump(ctx context.Context, r io.Reader) error {
	scan := bufio.NewScanner(r)
	scan.Split(splitFrames)
	for scan.Scan() {
		frame := append([]byte(nil), scan.Bytes()...)
		if !s.emit(ctx, imu.RawEvent{Data: frame}) {
			return ctx.Err()
		}
	}
	if err := scan.Err(); err != nil {
		return err
	}
	return io.EOF
}

func (s *SerialSource) emit(ctx context.Context, ev imu.RawEvent) bool {
	select {
	case s.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// track records the open port for Close. It refuses once the source is
// closed, which covers a Close racing the open.
func (s *SerialSource) track(port io.Closer) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.port = port
	return true
}

func (s *SerialSource) untrack() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.port != nil {
		s.port.Close()
		s.port = nil
	}
}

func (s *SerialSource) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close stops the source, unblocking any in-flight read.
func (s *SerialSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.port != nil {
		err := s.port.Close()
		s.port = nil
		return err
	}
	return nil
}

// splitFrames is a bufio.SplitFunc delimiting notification frames in a raw
// byte stream. It discards noise up to the next header byte and sizes the
// frame from its control word via imu.PacketLength; a header whose control
// word cannot be sized is skipped, which resynchronizes after corruption.
func splitFrames(data []byte, atEOF bool) (int, []byte, error) {
	start := bytes.IndexByte(data, imu.PACKET_HEADER)
	if start < 0 {
		return len(data), nil, nil
	}
	if start > 0 {
		return start, nil, nil
	}
	if len(data) < 3 {
		if atEOF {
			return len(data), nil, nil
		}
		return 0, nil, nil // need the control word
	}
	ctl := binary.LittleEndian.Uint16(data[1:3])
	n, err := imu.PacketLength(ctl)
	if err != nil {
		return 1, nil, nil // not a frame start, rescan from the next byte
	}
	if len(data) < n {
		if atEOF {
			return len(data), nil, nil
		}
		return 0, nil, nil
	}
	return n, data[:n], nil
}
