package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	_ "modernc.org/sqlite"

	"github.com/banshee-data/motion.report/internal/api"
	"github.com/banshee-data/motion.report/internal/config"
	"github.com/banshee-data/motion.report/internal/imu"
	"github.com/banshee-data/motion.report/internal/imudb"
	"github.com/banshee-data/motion.report/internal/monitoring"
	"github.com/banshee-data/motion.report/internal/sink"
	"github.com/banshee-data/motion.report/internal/stream"
	"github.com/banshee-data/motion.report/internal/transport"
	"github.com/banshee-data/motion.report/internal/version"
)

var (
	devMode     = flag.Bool("dev", false, "Replay synthetic stationary frames instead of reading hardware")
	listen      = flag.String("listen", ":8080", "Listen address")
	serialPort  = flag.String("serial", "/dev/ttyUSB0", "Serial port the IMU is attached to")
	baud        = flag.Int("baud", transport.DefaultBaud, "Serial baud rate")
	udpAddr     = flag.String("udp", "", "Read frames from this UDP address instead of serial (host:port)")
	configPath  = flag.String("config", "processing.json", "Processing config file")
	dbFile      = flag.String("db", "imu_data.db", "SQLite database file (empty disables recording)")
	deviceID    = flag.String("device-id", "imu-0", "Device id stamped onto recording sessions")
	mqttBroker  = flag.String("mqtt", "", "MQTT broker URL (empty disables the MQTT sink)")
	mqttPrefix  = flag.String("mqtt-prefix", "motion", "MQTT topic prefix")
	mqttEvery   = flag.Int("mqtt-every", 10, "Publish every Nth sample to MQTT")
	traceLog    = flag.Bool("trace", false, "Enable per-sample trace logging")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

// Queue sizes between the stages. The record queue is the deepest because a
// sqlite checkpoint can stall inserts for longer than a packet interval.
const (
	liveBuffer   = 256
	recordBuffer = 512
	debugBuffer  = 64
	hubBuffer    = 16
)

// Dev mode replays this many synthetic frames before resetting.
const devFrames = 1000
const devFrameInterval = 10 * time.Millisecond

// newSource picks the frame source for the configured mode.
func newSource(dev bool, udp, port string, baudRate int) (transport.Source, error) {
	if dev {
		return transport.NewMockSource(transport.StationaryFrames(devFrames, devFrameInterval), devFrameInterval), nil
	}
	if udp != "" {
		return transport.NewUDPSource(udp), nil
	}
	if port == "" {
		return nil, fmt.Errorf("a serial port is required outside dev mode")
	}
	return transport.NewSerialSource(transport.SerialConfig{Port: port, Baud: baudRate}), nil
}

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("imu %s\n", version.String())
		return
	}

	if *listen == "" {
		log.Fatal("Listen address is required")
	}

	var traceWriter io.Writer
	if *traceLog {
		traceWriter = os.Stderr
	}
	imu.SetLogWriters(os.Stderr, os.Stderr, traceWriter)

	cfg, err := config.LoadProcessingConfig(*configPath)
	if err != nil {
		log.Printf("processing config %s not loaded (%v); using defaults", *configPath, err)
		cfg = nil
	}

	source, err := newSource(*devMode, *udpAddr, *serialPort, *baud)
	if err != nil {
		log.Fatalf("failed to create frame source: %v", err)
	}
	defer source.Close()

	var db *imudb.DB
	if *dbFile != "" {
		db, err = imudb.Open(*dbFile)
		if err != nil {
			log.Fatalf("Failed to open database: %v", err)
		}
		defer db.Close()
	}

	counters := &monitoring.Counters{}
	live := make(chan imu.ResponseData, liveBuffer)
	debug := make(chan imu.DebugFrame, debugBuffer)
	var records chan imu.ResponseData
	if db != nil {
		records = make(chan imu.ResponseData, recordBuffer)
	}

	watcher := config.NewWatcher(*configPath, config.DefaultWatchInterval)

	worker := imu.NewWorker(imu.WorkerConfig{
		Pipeline:    imu.NewPipeline(cfg, counters),
		Events:      source.Events(),
		Live:        live,
		Records:     records,
		Debug:       debug,
		ConfigWatch: watcher.Updates(),
		Counters:    counters,
		Telemetry:   imu.LogTelemetry{},
	})

	samplesHub := stream.NewHub("samples", live, hubBuffer)
	debugHub := stream.NewHub("debug-frames", debug, hubBuffer)

	var recorder *imudb.Recorder
	if db != nil {
		recorder = imudb.NewRecorder(imudb.RecorderConfig{
			DB:       db,
			Samples:  records,
			DeviceID: *deviceID,
		})
	}

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// read frames off the wire and hand them to the worker
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := source.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("frame source stopped: %v", err)
		}
		log.Print("transport routine terminated")
	}()

	// the worker owns the pipeline; if it exits before shutdown was
	// requested the upstream is gone and the service has nothing to do
	var workerFailed atomic.Bool
	wg.Add(1)
	go func() {
		defer wg.Done()
		worker.Run(ctx)
		if ctx.Err() == nil {
			workerFailed.Store(true)
			log.Print("worker exited before shutdown was requested; stopping")
			stop()
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		watcher.Run(ctx)
		log.Print("config watcher terminated")
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := samplesHub.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("sample hub stopped: %v", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := debugHub.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("debug hub stopped: %v", err)
		}
	}()

	if recorder != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			recorder.Run(ctx)
			log.Print("recorder terminated")
		}()
	}

	// the MQTT sink is best-effort: a missing broker downgrades to a log line
	if *mqttBroker != "" {
		pub, err := sink.ConnectMQTT(*mqttBroker, "motion-report-"+*deviceID)
		if err != nil {
			log.Printf("MQTT sink disabled: %v", err)
		} else {
			defer pub.Close()
			mqttSink := sink.NewMQTTSink(pub, samplesHub, *mqttPrefix, *mqttEvery)
			wg.Add(1)
			go func() {
				defer wg.Done()
				mqttSink.Run(ctx)
				log.Print("MQTT sink terminated")
			}()
		}
	}

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := api.NewServer(api.ServerConfig{
			Worker:     worker,
			Recorder:   recorder,
			DB:         db,
			Samples:    samplesHub,
			Debug:      debugHub,
			Counters:   counters,
			ConfigPath: *configPath,
		}).ServeMux()

		server := &http.Server{
			Addr:    *listen,
			Handler: api.LoggingMiddleware(mux),
		}

		// Start server in a goroutine so it doesn't block
		go func() {
			log.Printf("listening on %s", *listen)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		// Wait for context cancellation to shut down server
		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
			if err := server.Close(); err != nil {
				log.Printf("HTTP server force close error: %v", err)
			}
		}

		log.Printf("HTTP server routine stopped")
	}()

	wg.Wait()
	if workerFailed.Load() {
		log.Fatal("exiting after worker failure")
	}
	log.Printf("Graceful shutdown complete")
}
