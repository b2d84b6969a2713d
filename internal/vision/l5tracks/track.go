package l5tracks

import "github.com/banshee-data/scenewatch/internal/vision/l4perception"

// TrackState represents the lifecycle state of a track.
type TrackState string

const (
	TrackTentative TrackState = "tentative" // Not yet enough hits to be reported
	TrackConfirmed TrackState = "confirmed" // Reported in the per-frame output
	TrackCoasting  TrackState = "coasting"  // Confirmed once, currently unmatched and not reported
	TrackDead      TrackState = "dead"      // Exceeded max age; purged at end of frame
)

// Track is one hypothesised object persisting across frames.
type Track struct {
	ID         uint64
	ClassID    int
	Confidence float64

	// Age counts frames the track has been advanced or corrected.
	Age int
	// TimeSinceUpdate is zero on the frame the track is matched and grows
	// while it coasts.
	TimeSinceUpdate int
	// Hits counts associated detections including the spawning one.
	Hits int

	motion      *MotionEstimator
	history     []l4perception.BBox
	historyCap  int
	wasReported bool
}

func newTrack(id uint64, det l4perception.Detection, historyCap int) *Track {
	return &Track{
		ID:         id,
		ClassID:    det.ClassID,
		Confidence: det.Confidence,
		Hits:       1,
		motion:     NewMotionEstimator(det.BBox),
		history:    []l4perception.BBox{det.BBox},
		historyCap: historyCap,
	}
}

// predict advances the motion estimate one frame. Tracks that missed the
// previous frame also age here.
func (t *Track) predict() {
	if t.TimeSinceUpdate > 0 {
		t.Age++
		t.TimeSinceUpdate++
	}
	t.motion.Predict()
}

// correct fuses an associated detection into the track.
func (t *Track) correct(det l4perception.Detection) {
	t.TimeSinceUpdate = 0
	t.Age++
	t.Hits++
	t.ClassID = det.ClassID
	t.Confidence = det.Confidence
	t.motion.Correct(det.BBox)

	t.history = append(t.history, det.BBox)
	if len(t.history) > t.historyCap {
		t.history = t.history[len(t.history)-t.historyCap:]
	}
}

// markMissed records a frame without an associated detection.
func (t *Track) markMissed() {
	t.Age++
	t.TimeSinceUpdate++
}

// BBox returns the current estimated box.
func (t *Track) BBox() l4perception.BBox {
	return t.motion.BBox()
}

// History returns a copy of the most recent observed boxes, oldest first.
func (t *Track) History() []l4perception.BBox {
	out := make([]l4perception.BBox, len(t.history))
	copy(out, t.history)
	return out
}

// confirmed reports whether the track is part of the per-frame output.
func (t *Track) confirmed(minHits int) bool {
	return t.Hits >= minHits && t.TimeSinceUpdate <= 1
}

// State classifies the track under cfg.
func (t *Track) State(cfg TrackerConfig) TrackState {
	switch {
	case t.TimeSinceUpdate > cfg.MaxAge:
		return TrackDead
	case t.confirmed(cfg.MinHits):
		return TrackConfirmed
	case t.wasReported:
		return TrackCoasting
	default:
		return TrackTentative
	}
}

// Snapshot is an immutable view of a track at one point in time.
type Snapshot struct {
	ID              uint64              `json:"id"`
	BBox            l4perception.BBox   `json:"bbox"`
	ClassID         int                 `json:"class_id"`
	Confidence      float64             `json:"confidence"`
	Age             int                 `json:"age"`
	TimeSinceUpdate int                 `json:"time_since_update"`
	Hits            int                 `json:"hits"`
	State           TrackState          `json:"state"`
	History         []l4perception.BBox `json:"history,omitempty"`
}

func (t *Track) snapshot(cfg TrackerConfig) Snapshot {
	return Snapshot{
		ID:              t.ID,
		BBox:            t.BBox(),
		ClassID:         t.ClassID,
		Confidence:      t.Confidence,
		Age:             t.Age,
		TimeSinceUpdate: t.TimeSinceUpdate,
		Hits:            t.Hits,
		State:           t.State(cfg),
		History:         t.History(),
	}
}
