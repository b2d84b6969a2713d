package l5tracks

import (
	"errors"
	"fmt"

	"github.com/banshee-data/scenewatch/internal/config"
)

// ErrInvalidConfig is wrapped by every TrackerConfig validation failure.
var ErrInvalidConfig = errors.New("invalid tracker config")

// TrackerConfig holds configuration parameters for the tracker.
// It is validated once by NewTracker and never mutated afterwards.
type TrackerConfig struct {
	MaxAge        int     // Frames a track may go unmatched before deletion
	MinHits       int     // Associated detections required before a track is confirmed
	IoUThreshold  float64 // Minimum IoU to accept a detection↔track match
	Association   string  // "greedy" (default) or "hungarian"
	HistoryLength int     // Recent observed boxes kept per track
}

// DefaultTrackerConfig returns the built-in tracker defaults.
func DefaultTrackerConfig() TrackerConfig {
	return TrackerConfigFromTuning(config.EmptyTuningConfig())
}

// TrackerConfigFromTuning builds a TrackerConfig from a loaded TuningConfig.
func TrackerConfigFromTuning(cfg *config.TuningConfig) TrackerConfig {
	return TrackerConfig{
		MaxAge:        cfg.GetMaxAge(),
		MinHits:       cfg.GetMinHits(),
		IoUThreshold:  cfg.GetIoUThreshold(),
		Association:   cfg.GetAssociation(),
		HistoryLength: cfg.GetTrackHistoryLength(),
	}
}

// Validate reports the first invalid field. Values are never clamped.
func (c TrackerConfig) Validate() error {
	switch {
	case c.MaxAge < 0:
		return fmt.Errorf("%w: max_age must be non-negative, got %d", ErrInvalidConfig, c.MaxAge)
	case c.MinHits < 0:
		return fmt.Errorf("%w: min_hits must be non-negative, got %d", ErrInvalidConfig, c.MinHits)
	case !(c.IoUThreshold >= 0 && c.IoUThreshold <= 1):
		return fmt.Errorf("%w: iou_threshold must be within [0,1], got %f", ErrInvalidConfig, c.IoUThreshold)
	case c.HistoryLength < 1:
		return fmt.Errorf("%w: history_length must be at least 1, got %d", ErrInvalidConfig, c.HistoryLength)
	}
	switch c.Association {
	case "", config.AssociationGreedy, config.AssociationHungarian:
	default:
		return fmt.Errorf("%w: unknown association strategy %q", ErrInvalidConfig, c.Association)
	}
	return nil
}

func (c TrackerConfig) associator() Associator {
	if c.Association == config.AssociationHungarian {
		return HungarianAssociator{}
	}
	return GreedyAssociator{}
}
