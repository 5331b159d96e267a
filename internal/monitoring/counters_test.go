package monitoring

import (
	"sync"
	"testing"
)

func TestCountersSnapshot(t *testing.T) {
	var c Counters
	c.AddPacket()
	c.AddPacket()
	c.AddParseFailure()
	c.AddSampleDropped()
	c.AddDebugDropped()
	c.AddReset()

	snap := c.Snapshot()
	if snap.PacketsProcessed != 2 {
		t.Errorf("PacketsProcessed = %d, want 2", snap.PacketsProcessed)
	}
	if snap.ParseFailures != 1 {
		t.Errorf("ParseFailures = %d, want 1", snap.ParseFailures)
	}
	if snap.SamplesDropped != 1 {
		t.Errorf("SamplesDropped = %d, want 1", snap.SamplesDropped)
	}
	if snap.DebugDropped != 1 {
		t.Errorf("DebugDropped = %d, want 1", snap.DebugDropped)
	}
	if snap.Resets != 1 {
		t.Errorf("Resets = %d, want 1", snap.Resets)
	}
}

func TestCountersConcurrent(t *testing.T) {
	var c Counters
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				c.AddPacket()
			}
		}()
	}
	wg.Wait()

	if got := c.Snapshot().PacketsProcessed; got != 8000 {
		t.Errorf("PacketsProcessed = %d, want 8000", got)
	}
}
