package testutil

import (
	"sync/atomic"
	"testing"
)

// The timeout path calls Fatalf and cannot be exercised without a fake
// testing.T, so only the passing path is pinned here.
func TestWaitFor(t *testing.T) {
	t.Parallel()

	var polls atomic.Int32
	WaitFor(t, func() bool { return polls.Add(1) >= 3 }, "third poll")
	if got := polls.Load(); got < 3 {
		t.Errorf("cond polled %d times, want at least 3", got)
	}
}

func TestWaitForImmediateCondition(t *testing.T) {
	t.Parallel()
	WaitFor(t, func() bool { return true }, "immediate condition")
}
