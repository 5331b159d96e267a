package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/banshee-data/motion.report/internal/imu"
	"github.com/banshee-data/motion.report/internal/imudb"
	"github.com/banshee-data/motion.report/internal/monitoring"
	"github.com/banshee-data/motion.report/internal/stream"
	"github.com/banshee-data/motion.report/internal/testutil"
	"github.com/banshee-data/motion.report/internal/transport"
)

// testEnv is a Server wired to a live worker, recorder and hubs over a
// fresh database, the same shape cmd/imu assembles.
type testEnv struct {
	server     *Server
	events     chan imu.RawEvent
	records    chan imu.ResponseData
	live       chan imu.ResponseData
	debug      chan imu.DebugFrame
	samplesHub *stream.Hub[imu.ResponseData]
	debugHub   *stream.Hub[imu.DebugFrame]
	counters   *monitoring.Counters
	configPath string
	db         *imudb.DB
}

func setupTestServer(t *testing.T) *testEnv {
	t.Helper()
	fname := t.Name() + ".db"
	_ = os.Remove(fname)

	db, err := imudb.Open(fname)
	if err != nil {
		t.Fatalf("failed to open test DB: %v", err)
	}
	t.Cleanup(func() {
		db.Close()
		_ = os.Remove(fname)
		_ = os.Remove(fname + "-shm")
		_ = os.Remove(fname + "-wal")
	})

	ctx, cancel := context.WithCancel(context.Background())
	counters := &monitoring.Counters{}
	events := make(chan imu.RawEvent, 8)
	live := make(chan imu.ResponseData, 8)
	records := make(chan imu.ResponseData, 8)
	debug := make(chan imu.DebugFrame, 8)

	worker := imu.NewWorker(imu.WorkerConfig{
		Pipeline: imu.NewPipeline(nil, counters),
		Events:   events,
		Live:     live,
		Records:  records,
		Debug:    debug,
		Counters: counters,
	})
	recorder := imudb.NewRecorder(imudb.RecorderConfig{DB: db, Samples: records, DeviceID: "imu-test"})
	samplesHub := stream.NewHub("samples", live, 8)
	debugHub := stream.NewHub("debug-frames", debug, 8)

	var wg sync.WaitGroup
	wg.Add(4)
	go func() { defer wg.Done(); worker.Run(ctx) }()
	go func() { defer wg.Done(); recorder.Run(ctx) }()
	go func() { defer wg.Done(); _ = samplesHub.Run(ctx) }()
	go func() { defer wg.Done(); _ = debugHub.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		wg.Wait()
	})

	configPath := filepath.Join(t.TempDir(), "processing.json")
	server := NewServer(ServerConfig{
		Worker:     worker,
		Recorder:   recorder,
		DB:         db,
		Samples:    samplesHub,
		Debug:      debugHub,
		Counters:   counters,
		ConfigPath: configPath,
	})
	return &testEnv{
		server:     server,
		events:     events,
		records:    records,
		live:       live,
		debug:      debug,
		samplesHub: samplesHub,
		debugHub:   debugHub,
		counters:   counters,
		configPath: configPath,
		db:         db,
	}
}

// feedPacket pushes one valid device frame through the worker and waits for
// the pipeline to process it.
func feedPacket(t *testing.T, env *testEnv) {
	t.Helper()
	before := env.counters.Snapshot().PacketsProcessed
	env.events <- imu.RawEvent{Data: transport.StationaryFrames(1, 10*time.Millisecond)[0]}
	testutil.WaitFor(t, func() bool {
		return env.counters.Snapshot().PacketsProcessed > before
	}, "packet to be processed")
}

func TestServeMuxRoutes(t *testing.T) {
	env := setupTestServer(t)
	mux := env.server.ServeMux()

	// A registered route must resolve to something other than the mux's
	// built-in 404.
	routes := []string{
		"/api/calibration/zero",
		"/api/calibration/position",
		"/api/config",
		"/api/status",
		"/api/recordings/start",
		"/api/recordings/stop",
		"/api/recordings",
		"/api/samples",
		"/api/stream",
		"/api/debug/stream",
		"/debug/samples-tail",
		"/debug/debug-frames-tail",
	}
	for _, route := range routes {
		req := httptest.NewRequest(http.MethodGet, route, nil)
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, req)
		if w.Code == http.StatusNotFound && strings.Contains(w.Body.String(), "404 page not found") {
			t.Errorf("route %s is not registered", route)
		}
	}
}

func TestNewServerRequiresWorker(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("NewServer accepted a nil worker")
		}
	}()
	NewServer(ServerConfig{})
}

func TestStatusCodeColor(t *testing.T) {
	tests := []struct {
		code int
		want string
	}{
		{200, colorBoldGreen + "200" + colorReset},
		{304, colorYellow + "304" + colorReset},
		{404, colorBoldRed + "404" + colorReset},
		{500, colorBoldRed + "500" + colorReset},
		{100, "100"},
	}
	for _, tt := range tests {
		if got := statusCodeColor(tt.code); got != tt.want {
			t.Errorf("statusCodeColor(%d) = %q, want %q", tt.code, got, tt.want)
		}
	}
}

func TestLoggingMiddlewarePreservesStatus(t *testing.T) {
	handler := LoggingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest(http.MethodGet, "/anything", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusTeapot {
		t.Errorf("Expected status 418 through the middleware, got %d", w.Code)
	}
}

func TestLoggingResponseWriterDefaultsToOK(t *testing.T) {
	handler := LoggingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Write without an explicit WriteHeader.
		_, _ = w.Write([]byte("ok"))
	}))

	req := httptest.NewRequest(http.MethodGet, "/anything", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected implicit status 200, got %d", w.Code)
	}
}
