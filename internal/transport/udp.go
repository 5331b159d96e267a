package transport

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/banshee-data/motion.report/internal/imu"
	"github.com/banshee-data/motion.report/internal/monitoring"
)

const (
	// udpReadBuffer is the datagram slab size. Frames are tens of bytes;
	// anything larger is truncated and rejected by the parser.
	udpReadBuffer = 2048

	// udpPollInterval bounds how long a read blocks so cancellation is
	// noticed without closing the socket.
	udpPollInterval = 100 * time.Millisecond
)

// UDPSource receives one device frame per datagram. It is the input for the
// replay tool and for bridge firmware on networks where serial is
// impractical.
type UDPSource struct {
	addr   string
	events chan imu.RawEvent

	mu     sync.Mutex
	conn   *net.UDPConn
	closed bool
}

// NewUDPSource creates a source listening on addr (host:port, port 0 picks
// an ephemeral port).
func NewUDPSource(addr string) *UDPSource {
	return &UDPSource{
		addr:   addr,
		events: make(chan imu.RawEvent, eventsBufferSize),
	}
}

// Events returns the frame channel. It is closed when Run returns.
func (u *UDPSource) Events() <-chan imu.RawEvent {
	return u.events
}

// LocalAddr returns the bound address once Run has bound it, else nil.
func (u *UDPSource) LocalAddr() net.Addr {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.conn == nil {
		return nil
	}
	return u.conn.LocalAddr()
}

// Run binds the listen address and pumps datagrams until ctx is cancelled
// or Close is called. Unlike the serial source a failed bind is returned
// rather than retried; an occupied port will not free itself.
func (u *UDPSource) Run(ctx context.Context) error {
	defer close(u.events)

	addr, err := net.ResolveUDPAddr("udp", u.addr)
	if err != nil {
		return fmt.Errorf("resolving %s: %w", u.addr, err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", u.addr, err)
	}
	defer conn.Close()

	u.mu.Lock()
	if u.closed {
		u.mu.Unlock()
		return nil
	}
	u.conn = conn
	u.mu.Unlock()

	monitoring.Logf("udp listener started on %s", conn.LocalAddr())

	buf := make([]byte, udpReadBuffer)
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		conn.SetReadDeadline(time.Now().Add(udpPollInterval))
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if u.isClosed() {
				return nil
			}
			monitoring.Logf("udp read error: %v", err)
			continue
		}

		frame := append([]byte(nil), buf[:n]...)
		select {
		case u.events <- imu.RawEvent{Data: frame}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (u *UDPSource) isClosed() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.closed
}

// Close closes the socket, unblocking a pending read.
func (u *UDPSource) Close() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.closed = true
	if u.conn != nil {
		err := u.conn.Close()
		u.conn = nil
		return err
	}
	return nil
}
