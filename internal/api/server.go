package api

import (
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/motion.report/internal/imu"
	"github.com/banshee-data/motion.report/internal/imudb"
	"github.com/banshee-data/motion.report/internal/monitoring"
	"github.com/banshee-data/motion.report/internal/stream"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// maxRequestBytes caps JSON request bodies, matching the config loader's
// file size cap.
const maxRequestBytes = 1 << 20

// ServerConfig wires a Server's collaborators. Worker is required; the
// recorder, database, hubs and config path are optional, and endpoints
// backed by an absent collaborator report that instead of panicking.
type ServerConfig struct {
	Worker   *imu.Worker
	Recorder *imudb.Recorder
	DB       *imudb.DB

	// Samples and Debug feed the websocket stream endpoints.
	Samples *stream.Hub[imu.ResponseData]
	Debug   *stream.Hub[imu.DebugFrame]

	Counters *monitoring.Counters

	// ConfigPath is where POST /api/config persists the applied config.
	// Empty disables persistence.
	ConfigPath string
}

type Server struct {
	worker     *imu.Worker
	recorder   *imudb.Recorder
	db         *imudb.DB
	samples    *stream.Hub[imu.ResponseData]
	debug      *stream.Hub[imu.DebugFrame]
	counters   *monitoring.Counters
	configPath string
	startedAt  time.Time
}

func NewServer(sc ServerConfig) *Server {
	if sc.Worker == nil {
		panic("api: ServerConfig.Worker is required")
	}
	if sc.Counters == nil {
		sc.Counters = &monitoring.Counters{}
	}
	return &Server{
		worker:     sc.Worker,
		recorder:   sc.Recorder,
		db:         sc.DB,
		samples:    sc.Samples,
		debug:      sc.Debug,
		counters:   sc.Counters,
		configPath: sc.ConfigPath,
		startedAt:  time.Now(),
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400 && statusCode < 500:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 500:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/calibration/zero", s.handleCalibrationZero)
	mux.HandleFunc("/api/calibration/position", s.handleCalibrationPosition)
	mux.HandleFunc("/api/config", s.handleConfig)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/recordings/start", s.handleRecordingStart)
	mux.HandleFunc("/api/recordings/stop", s.handleRecordingStop)
	mux.HandleFunc("/api/recordings", s.handleListRecordings)
	mux.HandleFunc("/api/samples", s.handleListSamples)
	mux.HandleFunc("/api/stream", s.handleSampleStream)
	mux.HandleFunc("/api/debug/stream", s.handleDebugStream)

	if s.samples != nil {
		s.samples.AttachAdminRoutes(mux)
	}
	if s.debug != nil {
		s.debug.AttachAdminRoutes(mux)
	}
	if s.db != nil {
		s.db.AttachAdminRoutes(mux)
	}
	return mux
}
