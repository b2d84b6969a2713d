package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
// This is the single source of truth for all default tuning values.
const DefaultConfigPath = "config/tuning.defaults.json"

// Association strategies accepted by the "association" field.
const (
	AssociationGreedy    = "greedy"
	AssociationHungarian = "hungarian"
)

// TuningConfig represents the root configuration for tuning parameters.
// Every field is optional; the Get* accessors fall back to the built-in
// defaults so partial files are safe.
type TuningConfig struct {
	// Tracker params
	MaxAge             *int     `json:"max_age,omitempty"`
	MinHits            *int     `json:"min_hits,omitempty"`
	IoUThreshold       *float64 `json:"iou_threshold,omitempty"`
	Association        *string  `json:"association,omitempty"`
	TrackHistoryLength *int     `json:"track_history_length,omitempty"`

	// Scene params
	MissingObjectFrames *int `json:"missing_object_frames,omitempty"`
	StabilityFrames     *int `json:"stability_frames,omitempty"`
	HistoryLength       *int `json:"history_length,omitempty"`

	// Instrumentation
	FPSWindow *int `json:"fps_window,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
// Use LoadTuningConfig to load actual values from the defaults file.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// DefaultTuningConfig returns a TuningConfig with every field populated
// with its built-in default.
func DefaultTuningConfig() *TuningConfig {
	return &TuningConfig{
		MaxAge:              ptrInt(30),
		MinHits:             ptrInt(3),
		IoUThreshold:        ptrFloat64(0.3),
		Association:         ptrString(AssociationGreedy),
		TrackHistoryLength:  ptrInt(5),
		MissingObjectFrames: ptrInt(15),
		StabilityFrames:     ptrInt(5),
		HistoryLength:       ptrInt(30),
		FPSWindow:           ptrInt(30),
	}
}

// LoadTuningConfig loads a TuningConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under the max file size.
// Fields omitted from the JSON file retain their default values, so
// partial configs are safe.
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

// MustLoadDefaultConfig loads the canonical tuning defaults from DefaultConfigPath.
// It searches for the file in the current directory and common parent directories.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *TuningConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,       // from internal/config/
		"../../../" + DefaultConfigPath,    // from internal/vision/l5tracks/
		"../../../../" + DefaultConfigPath, // from internal/vision/storage/sqlite/
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
// Only fields that are set are checked; values are never clamped.
func (c *TuningConfig) Validate() error {
	nonNegative := []struct {
		name string
		v    *int
	}{
		{"max_age", c.MaxAge},
		{"min_hits", c.MinHits},
	}
	for _, f := range nonNegative {
		if f.v != nil && *f.v < 0 {
			return fmt.Errorf("%s must be non-negative, got %d", f.name, *f.v)
		}
	}

	positive := []struct {
		name string
		v    *int
	}{
		{"track_history_length", c.TrackHistoryLength},
		{"missing_object_frames", c.MissingObjectFrames},
		{"stability_frames", c.StabilityFrames},
		{"history_length", c.HistoryLength},
		{"fps_window", c.FPSWindow},
	}
	for _, f := range positive {
		if f.v != nil && *f.v < 1 {
			return fmt.Errorf("%s must be at least 1, got %d", f.name, *f.v)
		}
	}

	if c.IoUThreshold != nil {
		if *c.IoUThreshold < 0 || *c.IoUThreshold > 1 {
			return fmt.Errorf("iou_threshold must be between 0 and 1, got %f", *c.IoUThreshold)
		}
	}

	if c.Association != nil {
		switch *c.Association {
		case AssociationGreedy, AssociationHungarian:
		default:
			return fmt.Errorf("association must be %q or %q, got %q", AssociationGreedy, AssociationHungarian, *c.Association)
		}
	}

	return nil
}

// GetMaxAge returns the max_age value or the default.
func (c *TuningConfig) GetMaxAge() int {
	if c.MaxAge == nil {
		return 30
	}
	return *c.MaxAge
}

// GetMinHits returns the min_hits value or the default.
func (c *TuningConfig) GetMinHits() int {
	if c.MinHits == nil {
		return 3
	}
	return *c.MinHits
}

// GetIoUThreshold returns the iou_threshold value or the default.
func (c *TuningConfig) GetIoUThreshold() float64 {
	if c.IoUThreshold == nil {
		return 0.3
	}
	return *c.IoUThreshold
}

// GetAssociation returns the association strategy or the default.
func (c *TuningConfig) GetAssociation() string {
	if c.Association == nil || *c.Association == "" {
		return AssociationGreedy
	}
	return *c.Association
}

// GetTrackHistoryLength returns the track_history_length value or the default.
func (c *TuningConfig) GetTrackHistoryLength() int {
	if c.TrackHistoryLength == nil {
		return 5
	}
	return *c.TrackHistoryLength
}

// GetMissingObjectFrames returns the missing_object_frames value or the default.
func (c *TuningConfig) GetMissingObjectFrames() int {
	if c.MissingObjectFrames == nil {
		return 15
	}
	return *c.MissingObjectFrames
}

// GetStabilityFrames returns the stability_frames value or the default.
func (c *TuningConfig) GetStabilityFrames() int {
	if c.StabilityFrames == nil {
		return 5
	}
	return *c.StabilityFrames
}

// GetHistoryLength returns the history_length value or the default.
func (c *TuningConfig) GetHistoryLength() int {
	if c.HistoryLength == nil {
		return 30
	}
	return *c.HistoryLength
}

// GetFPSWindow returns the fps_window value or the default.
func (c *TuningConfig) GetFPSWindow() int {
	if c.FPSWindow == nil {
		return 30
	}
	return *c.FPSWindow
}
