package l6scene

import (
	"fmt"
	"time"

	"github.com/banshee-data/scenewatch/internal/vision/l4perception"
)

// EventKind names a scene state transition.
type EventKind string

const (
	EventBaselineEstablished EventKind = "baseline_established"
	EventObjectMissing       EventKind = "object_missing"    // Absent for MissingObjectFrames consecutive frames
	EventObjectAppeared      EventKind = "object_appeared"   // Present for StabilityFrames consecutive frames
	EventObjectReappeared    EventKind = "object_reappeared" // Seen again while bookkept as missing
	EventSceneReset          EventKind = "scene_reset"
)

// Event is a typed scene notification. Confirmation events fire exactly
// once per episode.
type Event struct {
	Kind      EventKind         `json:"kind"`
	SessionID string            `json:"session_id,omitempty"`
	Frame     int64             `json:"frame"`
	Time      time.Time         `json:"time"`
	ObjectID  uint64            `json:"object_id,omitempty"`
	ClassID   int               `json:"class_id"`
	BBox      l4perception.BBox `json:"bbox"`
	// Count is the episode length in frames for object events and the
	// baseline size for EventBaselineEstablished.
	Count int `json:"count"`
}

func (e Event) String() string {
	switch e.Kind {
	case EventBaselineEstablished:
		return fmt.Sprintf("baseline established with %d objects at frame %d", e.Count, e.Frame)
	case EventObjectMissing:
		return fmt.Sprintf("object %d missing for %d frames", e.ObjectID, e.Count)
	case EventObjectAppeared:
		return fmt.Sprintf("object %d appeared, stable for %d frames", e.ObjectID, e.Count)
	case EventObjectReappeared:
		return fmt.Sprintf("object %d reappeared after %d frames", e.ObjectID, e.Count)
	case EventSceneReset:
		return fmt.Sprintf("scene reset, new session %s", e.SessionID)
	}
	return string(e.Kind)
}

// EventSink receives scene events in emission order.
type EventSink interface {
	HandleEvent(Event)
}

// EventSinkFunc adapts a function to EventSink.
type EventSinkFunc func(Event)

func (f EventSinkFunc) HandleEvent(e Event) { f(e) }
