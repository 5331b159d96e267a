// Package sink publishes pipeline output to external consumers over MQTT.
package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/banshee-data/motion.report/internal/imu"
	"github.com/banshee-data/motion.report/internal/monitoring"
	"github.com/banshee-data/motion.report/internal/stream"
)

const connectTimeout = 5 * time.Second

// disconnectQuiesceMS is how long paho gets to flush in-flight messages.
const disconnectQuiesceMS = 250

// Publisher is the slice of an MQTT client the sink needs. Tests substitute
// a recording fake.
type Publisher interface {
	Publish(topic string, payload []byte) error
	Close()
}

type pahoPublisher struct {
	client mqtt.Client
}

func (p *pahoPublisher) Publish(topic string, payload []byte) error {
	if token := p.client.Publish(topic, 0, false, payload); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	return nil
}

func (p *pahoPublisher) Close() {
	p.client.Disconnect(disconnectQuiesceMS)
}

// ConnectMQTT dials the broker and returns a paho-backed Publisher. Callers
// treat a failure as a reason to run without the sink, not to exit.
func ConnectMQTT(broker, clientID string) (Publisher, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetConnectTimeout(connectTimeout)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("connecting to %s: %w", broker, token.Error())
	}
	return &pahoPublisher{client: client}, nil
}

// MQTTSink forwards samples from a hub to an MQTT topic, keeping every Nth
// sample. Closing the publisher is the caller's job.
type MQTTSink struct {
	pub        Publisher
	hub        *stream.Hub[imu.ResponseData]
	topic      string
	decimation int
}

// NewMQTTSink builds a sink publishing to <prefix>/samples. decimation < 1
// publishes every sample.
func NewMQTTSink(pub Publisher, hub *stream.Hub[imu.ResponseData], prefix string, decimation int) *MQTTSink {
	if decimation < 1 {
		decimation = 1
	}
	return &MQTTSink{
		pub:        pub,
		hub:        hub,
		topic:      strings.TrimSuffix(prefix, "/") + "/samples",
		decimation: decimation,
	}
}

// Run subscribes to the hub and publishes until ctx is cancelled or the hub
// shuts down. Publish failures are logged and skipped; the broker being
// away must never back up the pipeline.
func (s *MQTTSink) Run(ctx context.Context) {
	id, samples := s.hub.Subscribe()
	defer s.hub.Unsubscribe(id)

	monitoring.Logf("sink: publishing to %s (every %d samples)", s.topic, s.decimation)

	n := 0
	for {
		select {
		case <-ctx.Done():
			return
		case sample, ok := <-samples:
			if !ok {
				return
			}
			keep := n%s.decimation == 0
			n++
			if !keep {
				continue
			}
			payload, err := json.Marshal(sample)
			if err != nil {
				monitoring.Logf("sink: marshal failed: %v", err)
				continue
			}
			if err := s.pub.Publish(s.topic, payload); err != nil {
				monitoring.Logf("sink: publish to %s failed: %v", s.topic, err)
			}
		}
	}
}
