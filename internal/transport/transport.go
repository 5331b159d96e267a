// Package transport feeds framed device notifications to the processing
// worker. A Source owns its link: Run reads until the context is cancelled,
// delivering one imu.RawEvent per frame plus Reset events whenever the link
// drops, and closes the events channel on exit so consumers see a definite
// end of stream.
package transport

import (
	"context"

	"github.com/banshee-data/motion.report/internal/imu"
)

// eventsBufferSize is the capacity of every source's events channel. A read
// loop can stay ahead of a processing hiccup by this many frames, and the
// worker reports the channel's depth as its upstream queue gauge.
const eventsBufferSize = 64

// Source is a stream of device frames.
type Source interface {
	// Events returns the channel Run delivers frames on. It is closed
	// when Run returns.
	Events() <-chan imu.RawEvent

	// Run reads from the link until ctx is cancelled or Close is called.
	Run(ctx context.Context) error

	// Close releases the underlying link, unblocking a Run stuck in a
	// read. Safe to call more than once.
	Close() error
}
