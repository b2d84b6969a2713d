package l6scene

import (
	"errors"
	"fmt"

	"github.com/banshee-data/scenewatch/internal/config"
)

// ErrInvalidConfig is wrapped by every BaselineConfig validation failure.
var ErrInvalidConfig = errors.New("invalid baseline config")

// BaselineConfig holds the debounce thresholds for BaselineMemory.
type BaselineConfig struct {
	MissingObjectFrames int // Consecutive absent frames before an object is confirmed missing
	StabilityFrames     int // Warm-up length and consecutive present frames before confirmed new
	HistoryLength       int // Observations kept per object
}

// DefaultBaselineConfig returns the built-in baseline defaults.
func DefaultBaselineConfig() BaselineConfig {
	return BaselineConfigFromTuning(config.EmptyTuningConfig())
}

// BaselineConfigFromTuning builds a BaselineConfig from a loaded TuningConfig.
func BaselineConfigFromTuning(cfg *config.TuningConfig) BaselineConfig {
	return BaselineConfig{
		MissingObjectFrames: cfg.GetMissingObjectFrames(),
		StabilityFrames:     cfg.GetStabilityFrames(),
		HistoryLength:       cfg.GetHistoryLength(),
	}
}

// Validate reports the first invalid field. Values are never clamped.
func (c BaselineConfig) Validate() error {
	switch {
	case c.MissingObjectFrames < 1:
		return fmt.Errorf("%w: missing_object_frames must be at least 1, got %d", ErrInvalidConfig, c.MissingObjectFrames)
	case c.StabilityFrames < 1:
		return fmt.Errorf("%w: stability_frames must be at least 1, got %d", ErrInvalidConfig, c.StabilityFrames)
	case c.HistoryLength < 1:
		return fmt.Errorf("%w: history_length must be at least 1, got %d", ErrInvalidConfig, c.HistoryLength)
	}
	return nil
}
