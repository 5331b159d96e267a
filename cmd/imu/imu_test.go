package main

import (
	"testing"

	"github.com/banshee-data/motion.report/internal/transport"
)

func TestNewSourceSelection(t *testing.T) {
	t.Run("dev_mode_wins", func(t *testing.T) {
		src, err := newSource(true, "127.0.0.1:9999", "/dev/ttyUSB0", transport.DefaultBaud)
		if err != nil {
			t.Fatalf("newSource: %v", err)
		}
		defer src.Close()
		if _, ok := src.(*transport.MockSource); !ok {
			t.Errorf("source = %T, want *transport.MockSource", src)
		}
	})

	t.Run("udp_over_serial", func(t *testing.T) {
		src, err := newSource(false, "127.0.0.1:9999", "/dev/ttyUSB0", transport.DefaultBaud)
		if err != nil {
			t.Fatalf("newSource: %v", err)
		}
		defer src.Close()
		if _, ok := src.(*transport.UDPSource); !ok {
			t.Errorf("source = %T, want *transport.UDPSource", src)
		}
	})

	t.Run("serial_by_default", func(t *testing.T) {
		src, err := newSource(false, "", "/dev/ttyUSB0", transport.DefaultBaud)
		if err != nil {
			t.Fatalf("newSource: %v", err)
		}
		defer src.Close()
		if _, ok := src.(*transport.SerialSource); !ok {
			t.Errorf("source = %T, want *transport.SerialSource", src)
		}
	})

	t.Run("no_port_outside_dev_mode", func(t *testing.T) {
		if _, err := newSource(false, "", "", 0); err == nil {
			t.Error("expected an error when no serial port is configured")
		}
	})
}
