package config

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
const DefaultConfigPath = "config/tuning.defaults.json"

// Built-in defaults used when a field is absent from the tuning file.
const (
	DefaultMinPathLength = 5
	DefaultMaxPathLength = 400
	DefaultMaxLatChange  = 0.1
	DefaultLoopInterval  = 100 * time.Millisecond
	DefaultSpeedMaxAge   = 500 * time.Millisecond
	DefaultPoseMaxAge    = time.Second

	// lane markers and routing samples arrive together from perception
	DefaultPerceptionMaxAge = 200 * time.Millisecond
)

// TuningConfig represents the root configuration for the reference path
// service. The same JSON is served back by /api/config.
type TuningConfig struct {
	// Estimator params
	MinPathLength *int     `json:"min_path_length,omitempty"` // stations
	MaxPathLength *int     `json:"max_path_length,omitempty"` // stations
	MaxLatChange  *float64 `json:"max_lat_change,omitempty"`  // metres per call

	// Control loop params
	LoopInterval *string `json:"loop_interval,omitempty"` // duration string like "100ms"
	UseRouting   *bool   `json:"use_routing,omitempty"`

	// Collaborator freshness
	SpeedMaxAge *string `json:"speed_max_age,omitempty"` // duration string like "500ms"
	PoseMaxAge  *string `json:"pose_max_age,omitempty"`

	// PerceptionMaxAge bounds lane markers and routing samples.
	PerceptionMaxAge *string `json:"perception_max_age,omitempty"`
}

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// LoadTuningConfig loads a TuningConfig from a JSON file.
// Fields omitted from the file fall back to the Get* defaults.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath, searching the current
// directory and its parents. Panics if the file cannot be loaded; intended
// for test setup.
func MustLoadDefaultConfig() *TuningConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath, // from internal/config/
		"../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *TuningConfig) Validate() error {
	if c.MinPathLength != nil && *c.MinPathLength < 1 {
		return fmt.Errorf("min_path_length must be at least 1, got %d", *c.MinPathLength)
	}
	if c.GetMaxPathLength() < c.GetMinPathLength() {
		return fmt.Errorf("max_path_length %d is below min_path_length %d", c.GetMaxPathLength(), c.GetMinPathLength())
	}

	if c.MaxLatChange != nil {
		v := *c.MaxLatChange
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return fmt.Errorf("max_lat_change must be a non-negative number, got %f", v)
		}
	}

	for name, field := range map[string]*string{
		"loop_interval":      c.LoopInterval,
		"speed_max_age":      c.SpeedMaxAge,
		"pose_max_age":       c.PoseMaxAge,
		"perception_max_age": c.PerceptionMaxAge,
	} {
		if field == nil || *field == "" {
			continue
		}
		d, err := time.ParseDuration(*field)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", name, *field, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, *field)
		}
	}

	return nil
}

// GetMinPathLength returns the min_path_length value or the default.
func (c *TuningConfig) GetMinPathLength() int {
	if c.MinPathLength == nil {
		return DefaultMinPathLength
	}
	return *c.MinPathLength
}

// GetMaxPathLength returns the max_path_length value or the default.
func (c *TuningConfig) GetMaxPathLength() int {
	if c.MaxPathLength == nil {
		return DefaultMaxPathLength
	}
	return *c.MaxPathLength
}

// GetMaxLatChange returns the max_lat_change value or the default.
func (c *TuningConfig) GetMaxLatChange() float64 {
	if c.MaxLatChange == nil {
		return DefaultMaxLatChange
	}
	return *c.MaxLatChange
}

// GetUseRouting returns the use_routing value or the default.
func (c *TuningConfig) GetUseRouting() bool {
	if c.UseRouting == nil {
		return true
	}
	return *c.UseRouting
}

// GetLoopInterval parses and returns the LoopInterval as a time.Duration.
func (c *TuningConfig) GetLoopInterval() time.Duration {
	return parseDurationOr(c.LoopInterval, DefaultLoopInterval)
}

// GetSpeedMaxAge parses and returns the SpeedMaxAge as a time.Duration.
func (c *TuningConfig) GetSpeedMaxAge() time.Duration {
	return parseDurationOr(c.SpeedMaxAge, DefaultSpeedMaxAge)
}

// GetPoseMaxAge parses and returns the PoseMaxAge as a time.Duration.
func (c *TuningConfig) GetPoseMaxAge() time.Duration {
	return parseDurationOr(c.PoseMaxAge, DefaultPoseMaxAge)
}

// GetPerceptionMaxAge parses and returns the PerceptionMaxAge as a time.Duration.
func (c *TuningConfig) GetPerceptionMaxAge() time.Duration {
	return parseDurationOr(c.PerceptionMaxAge, DefaultPerceptionMaxAge)
}

func parseDurationOr(s *string, def time.Duration) time.Duration {
	if s == nil || *s == "" {
		return def
	}
	d, err := time.ParseDuration(*s)
	if err != nil || d <= 0 {
		return def // default on parse error
	}
	return d
}
