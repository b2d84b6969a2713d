package l5tracks

import (
	"fmt"
	"slices"
	"sync"

	"github.com/banshee-data/scenewatch/internal/vision/l4perception"
)

// TrackerStats accumulates lifecycle counters since construction or Reset.
type TrackerStats struct {
	Frames          int64 `json:"frames"`
	TracksCreated   int64 `json:"tracks_created"`
	TracksConfirmed int64 `json:"tracks_confirmed"`
	TracksPurged    int64 `json:"tracks_purged"`
}

// Tracker maintains the set of live tracks for one stream.
type Tracker struct {
	Config TrackerConfig

	tracks     map[uint64]*Track
	nextID     uint64
	associator Associator
	stats      TrackerStats

	// lastAssignment is the association result of the most recent Update,
	// with track columns translated to track IDs in lastTrackIDs.
	lastAssignment Assignment
	lastTrackIDs   []uint64

	mu sync.RWMutex
}

// NewTracker creates a tracker after validating cfg.
func NewTracker(cfg TrackerConfig) (*Tracker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Tracker{
		Config:     cfg,
		tracks:     make(map[uint64]*Track),
		nextID:     1,
		associator: cfg.associator(),
	}, nil
}

// Reset clears all tracks and stats. IDs keep increasing and are never reused.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tracks = make(map[uint64]*Track)
	t.stats = TrackerStats{}
	t.lastAssignment = Assignment{}
	t.lastTrackIDs = nil
}

// Update advances every track by one frame, associates dets with the
// predicted boxes, spawns tracks for unmatched detections, purges tracks
// older than MaxAge, and returns the confirmed tracks sorted by ID.
func (t *Tracker) Update(dets []l4perception.Detection) []Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stats.Frames++

	// Predict, then drop anything already past max age so it never matches.
	for _, id := range t.sortedIDsLocked() {
		track := t.tracks[id]
		track.predict()
		if track.TimeSinceUpdate > t.Config.MaxAge {
			t.purgeLocked(track)
		}
	}

	activeIDs := t.sortedIDsLocked()
	trackBoxes := make([]l4perception.BBox, len(activeIDs))
	for i, id := range activeIDs {
		trackBoxes[i] = t.tracks[id].BBox()
	}

	iou := NewIoUMatrix(l4perception.Boxes(dets), trackBoxes)
	assignment := t.associator.Associate(iou, t.Config.IoUThreshold)
	tracef("frame=%d dets=%d tracks=%d matched=%d unmatched_dets=%d unmatched_tracks=%d",
		t.stats.Frames, len(dets), len(activeIDs), len(assignment.Matches),
		len(assignment.UnmatchedDetections), len(assignment.UnmatchedTracks))

	for _, m := range assignment.Matches {
		t.tracks[activeIDs[m.Track]].correct(dets[m.Detection])
	}
	for _, col := range assignment.UnmatchedTracks {
		t.tracks[activeIDs[col]].markMissed()
	}
	for _, d := range assignment.UnmatchedDetections {
		t.spawnLocked(dets[d])
	}

	var out []Snapshot
	for _, id := range t.sortedIDsLocked() {
		track := t.tracks[id]
		if track.TimeSinceUpdate > t.Config.MaxAge {
			t.purgeLocked(track)
			continue
		}
		if !track.confirmed(t.Config.MinHits) {
			continue
		}
		if !track.wasReported {
			track.wasReported = true
			t.stats.TracksConfirmed++
			diagf("track %d confirmed after %d hits at %v", track.ID, track.Hits, track.BBox())
		}
		out = append(out, track.snapshot(t.Config))
	}

	t.lastAssignment = assignment
	t.lastTrackIDs = activeIDs
	return out
}

func (t *Tracker) spawnLocked(det l4perception.Detection) {
	track := newTrack(t.nextID, det, t.Config.HistoryLength)
	t.nextID++
	t.tracks[track.ID] = track
	t.stats.TracksCreated++
	diagf("track %d spawned class=%d conf=%.2f at %v", track.ID, det.ClassID, det.Confidence, det.BBox)
}

func (t *Tracker) purgeLocked(track *Track) {
	delete(t.tracks, track.ID)
	t.stats.TracksPurged++
	diagf("track %d purged age=%d hits=%d time_since_update=%d", track.ID, track.Age, track.Hits, track.TimeSinceUpdate)
}

func (t *Tracker) sortedIDsLocked() []uint64 {
	ids := make([]uint64, 0, len(t.tracks))
	for id := range t.tracks {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Tracks returns snapshots of every live track, confirmed or not, sorted by ID.
func (t *Tracker) Tracks() []Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Snapshot, 0, len(t.tracks))
	for _, id := range t.sortedIDsLocked() {
		out = append(out, t.tracks[id].snapshot(t.Config))
	}
	return out
}

// Track returns a snapshot of one live track.
func (t *Tracker) Track(id uint64) (Snapshot, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	track, ok := t.tracks[id]
	if !ok {
		return Snapshot{}, false
	}
	return track.snapshot(t.Config), true
}

// TrackCount returns counts of live tracks by state.
func (t *Tracker) TrackCount() (total, tentative, confirmed, coasting int) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, track := range t.tracks {
		total++
		switch track.State(t.Config) {
		case TrackTentative:
			tentative++
		case TrackConfirmed:
			confirmed++
		case TrackCoasting:
			coasting++
		}
	}
	return
}

// Stats returns the lifecycle counters.
func (t *Tracker) Stats() TrackerStats {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.stats
}

// LastAssociations describes the most recent association round as
// "det#<i>->track#<id>" strings, one per match, ordered by detection index.
func (t *Tracker) LastAssociations() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, 0, len(t.lastAssignment.Matches))
	for _, m := range t.lastAssignment.Matches {
		out = append(out, fmt.Sprintf("det#%d->track#%d", m.Detection, t.lastTrackIDs[m.Track]))
	}
	return out
}
