package transport

import (
	"bytes"
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/banshee-data/motion.report/internal/testutil"
)

func TestUDPSource_DeliversDatagrams(t *testing.T) {
	src := NewUDPSource("127.0.0.1:0")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- src.Run(ctx) }()

	testutil.WaitFor(t, func() bool { return src.LocalAddr() != nil }, "socket bind")

	conn, err := net.Dial("udp", src.LocalAddr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	frames := [][]byte{testFrame(1), testFrame(2)}
	for _, f := range frames {
		if _, err := conn.Write(f); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	for i, f := range frames {
		ev := recvEvent(t, src.Events())
		if ev.Reset || !bytes.Equal(ev.Data, f) {
			t.Fatalf("event %d: reset=%v data=% x, want data=% x", i, ev.Reset, ev.Data, f)
		}
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("Run returned %v, want context.Canceled", err)
	}
}

func TestUDPSource_InvalidAddress(t *testing.T) {
	src := NewUDPSource("127.0.0.1:notaport")

	if err := src.Run(context.Background()); err == nil {
		t.Fatal("Run should fail for an unresolvable address")
	}
	if _, ok := <-src.Events(); ok {
		t.Error("events channel should be closed after Run returns")
	}
}

func TestUDPSource_CloseStopsRun(t *testing.T) {
	src := NewUDPSource("127.0.0.1:0")

	done := make(chan error, 1)
	go func() { done <- src.Run(context.Background()) }()

	testutil.WaitFor(t, func() bool { return src.LocalAddr() != nil }, "socket bind")

	if err := src.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v, want nil after Close", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Close")
	}
}
