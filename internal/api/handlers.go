package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/motion.report/internal/config"
	"github.com/banshee-data/motion.report/internal/httputil"
	"github.com/banshee-data/motion.report/internal/imu"
	"github.com/banshee-data/motion.report/internal/imudb"
	"github.com/banshee-data/motion.report/internal/monitoring"
	"github.com/banshee-data/motion.report/internal/version"
)

func (s *Server) handleCalibrationZero(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}

	if err := s.worker.ZeroPose(r.Context()); err != nil {
		if errors.Is(err, imu.ErrNoData) {
			httputil.Conflict(w, err.Error())
			return
		}
		httputil.InternalServerError(w, fmt.Sprintf("Failed to zero pose: %v", err))
		return
	}
	httputil.WriteJSONOK(w, map[string]string{"status": "ok"})
}

type positionRequest struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

func (s *Server) handleCalibrationPosition(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}

	var req positionRequest
	if err := httputil.DecodeJSON(r, &req, maxRequestBytes); err != nil {
		httputil.BadRequest(w, fmt.Sprintf("Invalid position body: %v", err))
		return
	}

	if err := s.worker.SetPosition(r.Context(), imu.Vec3{X: req.X, Y: req.Y, Z: req.Z}); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("Failed to set position: %v", err))
		return
	}
	httputil.WriteJSONOK(w, map[string]string{"status": "ok"})
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.showConfig(w, r)
	case http.MethodPost:
		s.updateConfig(w, r)
	default:
		httputil.MethodNotAllowed(w)
	}
}

func (s *Server) showConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.worker.GetConfig(r.Context())
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("Failed to read config: %v", err))
		return
	}
	httputil.WriteJSONOK(w, cfg)
}

// updateConfig validates, applies and then persists a new processing
// config. The pipeline has already switched over by the time the file is
// written, so a failed write reports an error even though the config is
// live; a restart would revert to the old file.
func (s *Server) updateConfig(w http.ResponseWriter, r *http.Request) {
	var cfg config.ProcessingConfig
	if err := httputil.DecodeJSON(r, &cfg, maxRequestBytes); err != nil {
		httputil.BadRequest(w, fmt.Sprintf("Invalid config body: %v", err))
		return
	}
	if err := cfg.Validate(); err != nil {
		httputil.BadRequest(w, fmt.Sprintf("Invalid config: %v", err))
		return
	}

	if err := s.worker.UpdateConfig(r.Context(), &cfg); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("Failed to apply config: %v", err))
		return
	}

	if s.configPath != "" {
		if err := config.SaveProcessingConfig(s.configPath, &cfg); err != nil {
			monitoring.Logf("api: persisting config to %s: %v", s.configPath, err)
			httputil.InternalServerError(w, fmt.Sprintf("Config applied but not persisted: %v", err))
			return
		}
	}
	httputil.WriteJSONOK(w, &cfg)
}

type statusResponse struct {
	Version       string                     `json:"version"`
	GitSHA        string                     `json:"git_sha"`
	BuildTime     string                     `json:"build_time"`
	UptimeSeconds float64                    `json:"uptime_seconds"`
	Counters      monitoring.CounterSnapshot `json:"counters"`
	Recording     *imudb.RecordingStatus     `json:"recording,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	resp := statusResponse{
		Version:       version.Version,
		GitSHA:        version.GitSHA,
		BuildTime:     version.BuildTime,
		UptimeSeconds: time.Since(s.startedAt).Seconds(),
		Counters:      s.counters.Snapshot(),
	}
	if s.recorder != nil {
		status, err := s.recorder.Status(r.Context())
		if err != nil {
			httputil.InternalServerError(w, fmt.Sprintf("Failed to read recording status: %v", err))
			return
		}
		resp.Recording = &status
	}
	httputil.WriteJSONOK(w, resp)
}

type startRecordingRequest struct {
	Name string `json:"name"`
}

func (s *Server) handleRecordingStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.recorder == nil {
		httputil.WriteJSONError(w, http.StatusServiceUnavailable, "Recording is not enabled")
		return
	}

	// The body is optional; an unnamed session is fine.
	var req startRecordingRequest
	if err := httputil.DecodeJSON(r, &req, maxRequestBytes); err != nil && !errors.Is(err, io.EOF) {
		httputil.BadRequest(w, fmt.Sprintf("Invalid recording body: %v", err))
		return
	}

	status, err := s.recorder.Start(r.Context(), req.Name)
	if err != nil {
		if errors.Is(err, imudb.ErrAlreadyRecording) {
			httputil.Conflict(w, err.Error())
			return
		}
		httputil.InternalServerError(w, fmt.Sprintf("Failed to start recording: %v", err))
		return
	}
	httputil.WriteJSONOK(w, status)
}

func (s *Server) handleRecordingStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.recorder == nil {
		httputil.WriteJSONError(w, http.StatusServiceUnavailable, "Recording is not enabled")
		return
	}

	status, err := s.recorder.Stop(r.Context())
	if err != nil {
		if errors.Is(err, imudb.ErrNotRecording) {
			httputil.Conflict(w, err.Error())
			return
		}
		httputil.InternalServerError(w, fmt.Sprintf("Failed to stop recording: %v", err))
		return
	}
	httputil.WriteJSONOK(w, status)
}

func (s *Server) handleListRecordings(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.db == nil {
		httputil.WriteJSONError(w, http.StatusServiceUnavailable, "Recording is not enabled")
		return
	}

	limit := 0 // ListSessions applies its own default
	if l := r.URL.Query().Get("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed < 1 {
			httputil.BadRequest(w, "Invalid 'limit' parameter")
			return
		}
		limit = parsed
	}

	sessions, err := s.db.ListSessions(limit)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("Failed to list recordings: %v", err))
		return
	}
	if sessions == nil {
		sessions = []imudb.Session{}
	}
	httputil.WriteJSONOK(w, sessions)
}

func (s *Server) handleListSamples(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.db == nil {
		httputil.WriteJSONError(w, http.StatusServiceUnavailable, "Recording is not enabled")
		return
	}

	sessionID := r.URL.Query().Get("session")
	if sessionID == "" {
		httputil.BadRequest(w, "Missing 'session' parameter")
		return
	}

	limit := 0 // ListSamples applies its own default
	if l := r.URL.Query().Get("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed < 1 {
			httputil.BadRequest(w, "Invalid 'limit' parameter")
			return
		}
		limit = parsed
	}

	// ListSamples returns an empty set for unknown sessions; resolve the
	// session first so a bad id is a 404 rather than an empty 200.
	if _, err := s.db.GetSession(sessionID); err != nil {
		if errors.Is(err, imudb.ErrSessionNotFound) {
			httputil.NotFound(w, err.Error())
			return
		}
		httputil.InternalServerError(w, fmt.Sprintf("Failed to resolve session: %v", err))
		return
	}

	samples, err := s.db.ListSamples(sessionID, limit)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("Failed to list samples: %v", err))
		return
	}
	if samples == nil {
		samples = []imu.ResponseData{}
	}
	httputil.WriteJSONOK(w, samples)
}
