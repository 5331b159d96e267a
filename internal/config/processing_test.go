package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestGetterDefaults(t *testing.T) {
	cfg := EmptyProcessingConfig()

	if g := cfg.GetGravity(); g != 9.80665 {
		t.Errorf("GetGravity() = %f, want 9.80665", g)
	}
	if cfg.Calibration.GetPassby() {
		t.Error("GetPassby() on nil calibration = true, want false")
	}
	if b := cfg.Calibration.GetAccelBias(); b != [3]float64{} {
		t.Errorf("GetAccelBias() = %v, want zero", b)
	}
	m := cfg.Calibration.GetAccelMatrix()
	want := []float64{1, 0, 0, 0, 1, 0, 0, 0, 1}
	if len(m) != 9 {
		t.Fatalf("GetAccelMatrix() returned %d values, want 9", len(m))
	}
	for i := range want {
		if m[i] != want[i] {
			t.Errorf("GetAccelMatrix()[%d] = %f, want %f", i, m[i], want[i])
		}
	}
	if a := cfg.Filter.GetAlpha(); a != 0.9 {
		t.Errorf("GetAlpha() = %f, want 0.9", a)
	}
	if s := cfg.Attitude.GetSource(); s != AttitudeSourceMahony {
		t.Errorf("GetSource() = %q, want %q", s, AttitudeSourceMahony)
	}
	if b := cfg.Attitude.GetBeta(); b != 0.02 {
		t.Errorf("GetBeta() = %f, want 0.02", b)
	}
	if cfg.Trajectory.GetPassby() {
		t.Error("GetPassby() on nil trajectory = true, want false")
	}
	if g := cfg.Zupt.GetGyroThresh(); g != 0.1 {
		t.Errorf("GetGyroThresh() = %f, want 0.1", g)
	}
	if a := cfg.Zupt.GetAccelThresh(); a != 0.2 {
		t.Errorf("GetAccelThresh() = %f, want 0.2", a)
	}
	if cfg.EKF.GetEnabled() {
		t.Error("GetEnabled() on nil ekf = true, want false")
	}
}

func TestLoadProcessingConfig(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "test_config.json")

	testJSON := `{
  "gravity": 9.81,
  "calibration": {
    "passby": false,
    "accel_bias": [0.1, -0.2, 0.3],
    "gyro_bias": [0.01, 0.02, 0.03],
    "accel_matrix": [1, 0, 0, 0, 1, 0, 0, 0, 1]
  },
  "filter": {"alpha": 0.5},
  "attitude": {"source": "device", "beta": 0.05},
  "trajectory": {"passby": true},
  "zupt": {"gyro_thresh": 0.2, "accel_thresh": 0.3},
  "ekf": {"enabled": true}
}`
	if err := os.WriteFile(configPath, []byte(testJSON), 0o644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	cfg, err := LoadProcessingConfig(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.GetGravity() != 9.81 {
		t.Errorf("GetGravity() = %f, want 9.81", cfg.GetGravity())
	}
	if bias := cfg.Calibration.GetAccelBias(); bias != [3]float64{0.1, -0.2, 0.3} {
		t.Errorf("GetAccelBias() = %v, want [0.1 -0.2 0.3]", bias)
	}
	if cfg.Filter.GetAlpha() != 0.5 {
		t.Errorf("GetAlpha() = %f, want 0.5", cfg.Filter.GetAlpha())
	}
	if cfg.Attitude.GetSource() != AttitudeSourceDevice {
		t.Errorf("GetSource() = %q, want %q", cfg.Attitude.GetSource(), AttitudeSourceDevice)
	}
	if cfg.Attitude.GetBeta() != 0.05 {
		t.Errorf("GetBeta() = %f, want 0.05", cfg.Attitude.GetBeta())
	}
	if !cfg.Trajectory.GetPassby() {
		t.Error("GetPassby() = false, want true")
	}
	if cfg.Zupt.GetGyroThresh() != 0.2 || cfg.Zupt.GetAccelThresh() != 0.3 {
		t.Errorf("zupt thresholds = %f/%f, want 0.2/0.3",
			cfg.Zupt.GetGyroThresh(), cfg.Zupt.GetAccelThresh())
	}
	if !cfg.EKF.GetEnabled() {
		t.Error("GetEnabled() = false, want true")
	}
}

func TestLoadProcessingConfigPartial(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "partial.json")

	// Only one section present; everything else falls back to defaults.
	if err := os.WriteFile(configPath, []byte(`{"filter": {"alpha": 0.7}}`), 0o644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	cfg, err := LoadProcessingConfig(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Filter.GetAlpha() != 0.7 {
		t.Errorf("GetAlpha() = %f, want 0.7", cfg.Filter.GetAlpha())
	}
	if cfg.GetGravity() != 9.80665 {
		t.Errorf("GetGravity() = %f, want default", cfg.GetGravity())
	}
	if cfg.Attitude.GetSource() != AttitudeSourceMahony {
		t.Errorf("GetSource() = %q, want default", cfg.Attitude.GetSource())
	}
}

func TestLoadProcessingConfigMissing(t *testing.T) {
	_, err := LoadProcessingConfig("/nonexistent/path/to/config.json")
	if err == nil {
		t.Error("Expected error when loading missing file, got nil")
	}
}

func TestLoadProcessingConfigBadExtension(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte(`{}`), 0o644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	_, err := LoadProcessingConfig(configPath)
	if err == nil || !strings.Contains(err.Error(), ".json") {
		t.Errorf("Expected extension error, got %v", err)
	}
}

func TestParseProcessingConfigMalformed(t *testing.T) {
	if _, err := ParseProcessingConfig([]byte(`{"filter": `)); err == nil {
		t.Error("Expected error for malformed JSON, got nil")
	}
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name string
		json string
	}{
		{"negative gravity", `{"gravity": -1}`},
		{"alpha too large", `{"filter": {"alpha": 1.0}}`},
		{"alpha negative", `{"filter": {"alpha": -0.1}}`},
		{"beta too large", `{"attitude": {"beta": 1.5}}`},
		{"unknown source", `{"attitude": {"source": "madgwick"}}`},
		{"short accel bias", `{"calibration": {"accel_bias": [1, 2]}}`},
		{"short accel matrix", `{"calibration": {"accel_matrix": [1, 0, 0]}}`},
		{"long gyro matrix", `{"calibration": {"gyro_matrix": [1,0,0,0,1,0,0,0,1,0]}}`},
		{"zero gyro thresh", `{"zupt": {"gyro_thresh": 0}}`},
		{"negative accel thresh", `{"zupt": {"accel_thresh": -0.2}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseProcessingConfig([]byte(tt.json)); err == nil {
				t.Errorf("ParseProcessingConfig accepted %s", tt.json)
			}
		})
	}
}

func TestSaveProcessingConfigRoundTrip(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "nested", "saved.json")

	cfg := &ProcessingConfig{
		Gravity: ptrFloat64(9.78),
		Filter:  &FilterConfig{Alpha: ptrFloat64(0.8), Passby: ptrBool(true)},
		Attitude: &AttitudeConfig{
			Source: ptrString(AttitudeSourceDevice),
		},
	}
	if err := SaveProcessingConfig(configPath, cfg); err != nil {
		t.Fatalf("SaveProcessingConfig failed: %v", err)
	}

	loaded, err := LoadProcessingConfig(configPath)
	if err != nil {
		t.Fatalf("reloading saved config failed: %v", err)
	}
	if loaded.GetGravity() != 9.78 {
		t.Errorf("GetGravity() = %f, want 9.78", loaded.GetGravity())
	}
	if !loaded.Filter.GetPassby() || loaded.Filter.GetAlpha() != 0.8 {
		t.Errorf("filter section did not round-trip: %+v", loaded.Filter)
	}
	if loaded.Attitude.GetSource() != AttitudeSourceDevice {
		t.Errorf("GetSource() = %q, want %q", loaded.Attitude.GetSource(), AttitudeSourceDevice)
	}
}

func TestSaveProcessingConfigRejectsInvalid(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "bad.json")
	cfg := &ProcessingConfig{Filter: &FilterConfig{Alpha: ptrFloat64(2.0)}}

	if err := SaveProcessingConfig(configPath, cfg); err == nil {
		t.Error("SaveProcessingConfig accepted invalid config")
	}
}

func TestSaveProcessingConfigOverwritesCleanly(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "live.json")

	first := &ProcessingConfig{Gravity: ptrFloat64(9.78)}
	if err := SaveProcessingConfig(configPath, first); err != nil {
		t.Fatalf("initial save failed: %v", err)
	}
	second := &ProcessingConfig{Gravity: ptrFloat64(9.83)}
	if err := SaveProcessingConfig(configPath, second); err != nil {
		t.Fatalf("overwrite failed: %v", err)
	}

	loaded, err := LoadProcessingConfig(configPath)
	if err != nil {
		t.Fatalf("reloading overwritten config failed: %v", err)
	}
	if loaded.GetGravity() != 9.83 {
		t.Errorf("GetGravity() = %f, want 9.83", loaded.GetGravity())
	}

	// The write goes through a temp file in the same directory; a
	// successful save must not leave it behind.
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("reading config dir: %v", err)
	}
	for _, e := range entries {
		if e.Name() != "live.json" {
			t.Errorf("unexpected leftover file %q in config dir", e.Name())
		}
	}
}

func TestDefaultsFileLoads(t *testing.T) {
	cfg := MustLoadDefaultConfig()

	// The shipped defaults should match the hardcoded fallbacks.
	if cfg.GetGravity() != 9.80665 {
		t.Errorf("defaults file gravity = %f, want 9.80665", cfg.GetGravity())
	}
	if cfg.Filter.GetAlpha() != 0.9 {
		t.Errorf("defaults file alpha = %f, want 0.9", cfg.Filter.GetAlpha())
	}
	if cfg.Zupt.GetGyroThresh() != 0.1 {
		t.Errorf("defaults file gyro_thresh = %f, want 0.1", cfg.Zupt.GetGyroThresh())
	}
}
