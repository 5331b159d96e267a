package monitoring

import "sync/atomic"

// Counters aggregates monotonically increasing event counts for one service
// process. All methods are safe for concurrent use. The zero value is ready.
type Counters struct {
	packetsProcessed atomic.Uint64
	parseFailures    atomic.Uint64
	samplesDropped   atomic.Uint64
	debugDropped     atomic.Uint64
	resets           atomic.Uint64
}

// CounterSnapshot is a point-in-time copy of the counters.
type CounterSnapshot struct {
	PacketsProcessed uint64 `json:"packets_processed"`
	ParseFailures    uint64 `json:"parse_failures"`
	SamplesDropped   uint64 `json:"samples_dropped"`
	DebugDropped     uint64 `json:"debug_dropped"`
	Resets           uint64 `json:"resets"`
}

// AddPacket records one successfully processed packet.
func (c *Counters) AddPacket() { c.packetsProcessed.Add(1) }

// AddParseFailure records one packet dropped by the parser.
func (c *Counters) AddParseFailure() { c.parseFailures.Add(1) }

// AddSampleDropped records one sample lost to a full record queue.
func (c *Counters) AddSampleDropped() { c.samplesDropped.Add(1) }

// AddDebugDropped records one debug frame lost to backpressure.
func (c *Counters) AddDebugDropped() { c.debugDropped.Add(1) }

// AddReset records one transport-initiated pipeline reset.
func (c *Counters) AddReset() { c.resets.Add(1) }

// Snapshot returns a consistent-enough copy for reporting. Individual loads
// are atomic; cross-counter skew is acceptable for status output.
func (c *Counters) Snapshot() CounterSnapshot {
	return CounterSnapshot{
		PacketsProcessed: c.packetsProcessed.Load(),
		ParseFailures:    c.parseFailures.Load(),
		SamplesDropped:   c.samplesDropped.Load(),
		DebugDropped:     c.debugDropped.Load(),
		Resets:           c.resets.Load(),
	}
}
