package sqlite

import (
	"time"

	"github.com/banshee-data/scenewatch/internal/vision/l6scene"
)

// Session is one Scene Monitor session: the span between resets.
type Session struct {
	SessionID       string     `json:"session_id"`
	Stream          string     `json:"stream"`
	StartedAt       time.Time  `json:"started_at"`
	EndedAt         *time.Time `json:"ended_at,omitempty"`
	FramesProcessed int64      `json:"frames_processed"`
	PeakMissing     int        `json:"peak_missing"`
	PeakNew         int        `json:"peak_new"`
}

// EventRecord is a persisted scene event.
type EventRecord struct {
	EventID int64  `json:"event_id"`
	Stream  string `json:"stream"`
	l6scene.Event
}

// FrameStat is the per-frame summary persisted for timelines.
type FrameStat struct {
	SessionID       string    `json:"session_id"`
	Frame           int64     `json:"frame"`
	Timestamp       time.Time `json:"timestamp"`
	Detections      int       `json:"detections"`
	ConfirmedTracks int       `json:"confirmed_tracks"`
	Missing         int       `json:"missing"`
	New             int       `json:"new"`
	DurationMs      float64   `json:"duration_ms"`
	FPS             float64   `json:"fps"`
}
