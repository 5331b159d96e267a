//go:build pcap
// +build pcap

// Package main replays IMU frames out of a pcap capture to a UDP listener,
// preserving the original inter-packet timing. Point it at a service
// started with --udp to drive the pipeline from recorded traffic.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"
)

var (
	pcapFile = flag.String("pcap", "", "pcap file to replay (required)")
	target   = flag.String("target", "127.0.0.1:9999", "UDP address to send frames to")
	port     = flag.Int("port", 0, "Replay only UDP packets on this capture port (0 replays all UDP)")
	speed    = flag.Float64("speed", 1.0, "Replay speed multiplier (2.0 = twice as fast)")
	loop     = flag.Bool("loop", false, "Restart from the beginning when the capture ends")
)

func main() {
	flag.Parse()

	if *pcapFile == "" {
		log.Fatal("a pcap file is required (--pcap)")
	}
	if *speed <= 0 {
		log.Fatal("--speed must be positive")
	}

	targetAddr, err := net.ResolveUDPAddr("udp", *target)
	if err != nil {
		log.Fatalf("failed to resolve target address: %v", err)
	}
	conn, err := net.DialUDP("udp", nil, targetAddr)
	if err != nil {
		log.Fatalf("failed to create replay connection: %v", err)
	}
	defer conn.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Printf("replaying %s to %s (speed: %.1fx)", *pcapFile, *target, *speed)

	for pass := 1; ; pass++ {
		sent, err := replayFile(ctx, *pcapFile, *port, conn, *speed)
		if errors.Is(err, context.Canceled) {
			log.Printf("replay interrupted after %d frames", sent)
			return
		}
		if err != nil {
			log.Fatalf("replay failed: %v", err)
		}
		log.Printf("pass %d complete: %d frames sent", pass, sent)
		if !*loop {
			return
		}
	}
}

// replayFile sends every matching UDP payload in the capture, spacing
// writes by the capture timestamps scaled by the speed multiplier.
func replayFile(ctx context.Context, path string, filterPort int, conn *net.UDPConn, speed float64) (int, error) {
	handle, err := pcap.OpenOffline(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open pcap file %s: %w", path, err)
	}
	defer handle.Close()

	filter := "udp"
	if filterPort > 0 {
		filter = fmt.Sprintf("udp port %d", filterPort)
	}
	if err := handle.SetBPFFilter(filter); err != nil {
		return 0, fmt.Errorf("failed to set BPF filter %q: %w", filter, err)
	}

	packetSource := gopacket.NewPacketSource(handle, handle.LinkType())

	sent := 0
	var lastCapture time.Time
	for {
		select {
		case <-ctx.Done():
			return sent, ctx.Err()
		case packet := <-packetSource.Packets():
			if packet == nil {
				// End of capture
				return sent, nil
			}

			captureTime := packet.Metadata().Timestamp
			if !lastCapture.IsZero() {
				delay := time.Duration(float64(captureTime.Sub(lastCapture)) / speed)
				if delay > 0 {
					select {
					case <-ctx.Done():
						return sent, ctx.Err()
					case <-time.After(delay):
					}
				}
			}
			lastCapture = captureTime

			udpLayer := packet.Layer(layers.LayerTypeUDP)
			if udpLayer == nil {
				continue
			}
			udp, ok := udpLayer.(*layers.UDP)
			if !ok || len(udp.Payload) == 0 {
				continue
			}

			if _, err := conn.Write(udp.Payload); err != nil {
				return sent, fmt.Errorf("failed to send frame %d: %w", sent+1, err)
			}
			sent++

			if sent%1000 == 0 {
				log.Printf("replayed %d frames", sent)
			}
		}
	}
}
