package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/banshee-data/motion.report/internal/security"
)

// DefaultConfigPath is the path to the canonical processing defaults file.
// This is the single source of truth for all default pipeline values.
const DefaultConfigPath = "config/processing.defaults.json"

// Attitude source selectors for AttitudeConfig.Source.
const (
	AttitudeSourceMahony = "mahony" // fuse gyro and accel on the host
	AttitudeSourceDevice = "device" // trust the device's onboard quaternion
)

// ProcessingConfig is the root configuration for the IMU processing
// pipeline. The schema matches the /api/config endpoint so the same JSON
// can be used for startup configuration, runtime updates, and hot reload.
// All fields are optional; the Get* methods supply defaults, so partial
// configs are safe.
type ProcessingConfig struct {
	// Gravity is the local gravity magnitude in m/s².
	Gravity *float64 `json:"gravity,omitempty"`

	Calibration *CalibrationConfig `json:"calibration,omitempty"`
	Filter      *FilterConfig      `json:"filter,omitempty"`
	Attitude    *AttitudeConfig    `json:"attitude,omitempty"`
	Trajectory  *TrajectoryConfig  `json:"trajectory,omitempty"`
	Zupt        *ZuptConfig        `json:"zupt,omitempty"`
	EKF         *EKFConfig         `json:"ekf,omitempty"`
}

// CalibrationConfig tunes the accelerometer/gyro bias and alignment
// correction stage. Biases are [x y z]; matrices are 9 row-major values.
type CalibrationConfig struct {
	Passby      *bool     `json:"passby,omitempty"`
	AccelBias   []float64 `json:"accel_bias,omitempty"`   // m/s²
	GyroBias    []float64 `json:"gyro_bias,omitempty"`    // rad/s
	AccelMatrix []float64 `json:"accel_matrix,omitempty"` // row-major 3x3
	GyroMatrix  []float64 `json:"gyro_matrix,omitempty"`  // row-major 3x3
}

// FilterConfig tunes the low-pass filter stage.
type FilterConfig struct {
	Passby *bool    `json:"passby,omitempty"`
	Alpha  *float64 `json:"alpha,omitempty"` // smoothing factor in [0, 1)
}

// AttitudeConfig selects and tunes the attitude estimation stage.
type AttitudeConfig struct {
	Source *string  `json:"source,omitempty"` // "mahony" or "device"
	Beta   *float64 `json:"beta,omitempty"`   // accel correction blend in [0, 1]
}

// TrajectoryConfig gates the velocity/position integration stage.
type TrajectoryConfig struct {
	Passby *bool `json:"passby,omitempty"`
}

// ZuptConfig tunes zero-velocity detection.
type ZuptConfig struct {
	Passby      *bool    `json:"passby,omitempty"`
	GyroThresh  *float64 `json:"gyro_thresh,omitempty"`  // rad/s
	AccelThresh *float64 `json:"accel_thresh,omitempty"` // m/s²
}

// EKFConfig gates the error-state correction stage.
type EKFConfig struct {
	Passby  *bool `json:"passby,omitempty"`
	Enabled *bool `json:"enabled,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }

// EmptyProcessingConfig returns a ProcessingConfig with all fields set to
// nil. Use LoadProcessingConfig to load actual values from a file.
func EmptyProcessingConfig() *ProcessingConfig {
	return &ProcessingConfig{}
}

// ParseProcessingConfig parses and validates a JSON config document. The
// watcher and the /api/config handler both feed raw bytes through here.
func ParseProcessingConfig(data []byte) (*ProcessingConfig, error) {
	cfg := EmptyProcessingConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// LoadProcessingConfig loads a ProcessingConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under the
// max file size. Fields omitted from the JSON retain their default values.
func LoadProcessingConfig(path string) (*ProcessingConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return ParseProcessingConfig(data)
}

// SaveProcessingConfig writes a ProcessingConfig to a JSON file, creating
// parent directories as needed. The bytes land in a temporary sibling file
// that is renamed over the target, so a reader never sees a torn config,
// and the target path is checked for symlink escapes first. Used by the
// /api/config persist path.
func SaveProcessingConfig(path string, cfg *ProcessingConfig) error {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return fmt.Errorf("config file must have .json extension, got %q", ext)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("refusing to save invalid configuration: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(cleanPath)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	if err := security.ValidatePathWithinDirectory(cleanPath, dir); err != nil {
		return fmt.Errorf("unsafe config path: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(cleanPath)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp config file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write temp config file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to close temp config file: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to set config permissions: %w", err)
	}
	if err := os.Rename(tmp.Name(), cleanPath); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to replace config file: %w", err)
	}
	return nil
}

// MustLoadDefaultConfig loads the canonical processing defaults from
// DefaultConfigPath. It searches for the file in the current directory and
// common parent directories. Panics if the file cannot be loaded, intended
// for test setup.
func MustLoadDefaultConfig() *ProcessingConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath, // from internal/config/
		"../../../" + DefaultConfigPath,
		"../../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := LoadProcessingConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *ProcessingConfig) Validate() error {
	if c == nil {
		return nil
	}
	if c.Gravity != nil && *c.Gravity <= 0 {
		return fmt.Errorf("gravity must be positive, got %f", *c.Gravity)
	}
	if err := c.Calibration.validate(); err != nil {
		return err
	}
	if err := c.Filter.validate(); err != nil {
		return err
	}
	if err := c.Attitude.validate(); err != nil {
		return err
	}
	if err := c.Zupt.validate(); err != nil {
		return err
	}
	return nil
}

func (c *CalibrationConfig) validate() error {
	if c == nil {
		return nil
	}
	if n := len(c.AccelBias); n != 0 && n != 3 {
		return fmt.Errorf("calibration.accel_bias must have 3 values, got %d", n)
	}
	if n := len(c.GyroBias); n != 0 && n != 3 {
		return fmt.Errorf("calibration.gyro_bias must have 3 values, got %d", n)
	}
	if n := len(c.AccelMatrix); n != 0 && n != 9 {
		return fmt.Errorf("calibration.accel_matrix must have 9 values, got %d", n)
	}
	if n := len(c.GyroMatrix); n != 0 && n != 9 {
		return fmt.Errorf("calibration.gyro_matrix must have 9 values, got %d", n)
	}
	return nil
}

func (c *FilterConfig) validate() error {
	if c == nil {
		return nil
	}
	if c.Alpha != nil && (*c.Alpha < 0 || *c.Alpha >= 1) {
		return fmt.Errorf("filter.alpha must be in [0, 1), got %f", *c.Alpha)
	}
	return nil
}

func (c *AttitudeConfig) validate() error {
	if c == nil {
		return nil
	}
	if c.Source != nil {
		switch *c.Source {
		case "", AttitudeSourceMahony, AttitudeSourceDevice:
		default:
			return fmt.Errorf("attitude.source must be %q or %q, got %q",
				AttitudeSourceMahony, AttitudeSourceDevice, *c.Source)
		}
	}
	if c.Beta != nil && (*c.Beta < 0 || *c.Beta > 1) {
		return fmt.Errorf("attitude.beta must be in [0, 1], got %f", *c.Beta)
	}
	return nil
}

func (c *ZuptConfig) validate() error {
	if c == nil {
		return nil
	}
	if c.GyroThresh != nil && *c.GyroThresh <= 0 {
		return fmt.Errorf("zupt.gyro_thresh must be positive, got %f", *c.GyroThresh)
	}
	if c.AccelThresh != nil && *c.AccelThresh <= 0 {
		return fmt.Errorf("zupt.accel_thresh must be positive, got %f", *c.AccelThresh)
	}
	return nil
}

// GetGravity returns the gravity magnitude or the standard default.
func (c *ProcessingConfig) GetGravity() float64 {
	if c == nil || c.Gravity == nil {
		return 9.80665 // standard gravity
	}
	return *c.Gravity
}

// GetPassby returns the calibration passby flag or the default.
func (c *CalibrationConfig) GetPassby() bool {
	if c == nil || c.Passby == nil {
		return false
	}
	return *c.Passby
}

// GetAccelBias returns the accel bias or zero.
func (c *CalibrationConfig) GetAccelBias() [3]float64 {
	if c == nil || len(c.AccelBias) != 3 {
		return [3]float64{}
	}
	return [3]float64{c.AccelBias[0], c.AccelBias[1], c.AccelBias[2]}
}

// GetGyroBias returns the gyro bias or zero.
func (c *CalibrationConfig) GetGyroBias() [3]float64 {
	if c == nil || len(c.GyroBias) != 3 {
		return [3]float64{}
	}
	return [3]float64{c.GyroBias[0], c.GyroBias[1], c.GyroBias[2]}
}

// GetAccelMatrix returns the row-major accel alignment matrix or identity.
func (c *CalibrationConfig) GetAccelMatrix() []float64 {
	if c == nil || len(c.AccelMatrix) != 9 {
		return identityMatrix()
	}
	return append([]float64(nil), c.AccelMatrix...)
}

// GetGyroMatrix returns the row-major gyro alignment matrix or identity.
func (c *CalibrationConfig) GetGyroMatrix() []float64 {
	if c == nil || len(c.GyroMatrix) != 9 {
		return identityMatrix()
	}
	return append([]float64(nil), c.GyroMatrix...)
}

func identityMatrix() []float64 {
	return []float64{1, 0, 0, 0, 1, 0, 0, 0, 1}
}

// GetPassby returns the filter passby flag or the default.
func (c *FilterConfig) GetPassby() bool {
	if c == nil || c.Passby == nil {
		return false
	}
	return *c.Passby
}

// GetAlpha returns the filter smoothing factor or the default.
func (c *FilterConfig) GetAlpha() float64 {
	if c == nil || c.Alpha == nil {
		return 0.9
	}
	return *c.Alpha
}

// GetSource returns the attitude source or the default.
func (c *AttitudeConfig) GetSource() string {
	if c == nil || c.Source == nil || *c.Source == "" {
		return AttitudeSourceMahony
	}
	return *c.Source
}

// GetBeta returns the accel correction blend factor or the default.
func (c *AttitudeConfig) GetBeta() float64 {
	if c == nil || c.Beta == nil {
		return 0.02
	}
	return *c.Beta
}

// GetPassby returns the trajectory passby flag or the default.
func (c *TrajectoryConfig) GetPassby() bool {
	if c == nil || c.Passby == nil {
		return false
	}
	return *c.Passby
}

// GetPassby returns the ZUPT passby flag or the default.
func (c *ZuptConfig) GetPassby() bool {
	if c == nil || c.Passby == nil {
		return false
	}
	return *c.Passby
}

// GetGyroThresh returns the gyro stillness threshold or the default.
func (c *ZuptConfig) GetGyroThresh() float64 {
	if c == nil || c.GyroThresh == nil {
		return 0.1
	}
	return *c.GyroThresh
}

// GetAccelThresh returns the accel stillness threshold or the default.
func (c *ZuptConfig) GetAccelThresh() float64 {
	if c == nil || c.AccelThresh == nil {
		return 0.2
	}
	return *c.AccelThresh
}

// GetPassby returns the EKF passby flag or the default.
func (c *EKFConfig) GetPassby() bool {
	if c == nil || c.Passby == nil {
		return false
	}
	return *c.Passby
}

// GetEnabled returns whether EKF correction is enabled.
func (c *EKFConfig) GetEnabled() bool {
	if c == nil || c.Enabled == nil {
		return false
	}
	return *c.Enabled
}
