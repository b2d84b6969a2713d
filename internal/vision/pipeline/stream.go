package pipeline

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/banshee-data/scenewatch/internal/config"
	"github.com/banshee-data/scenewatch/internal/monitoring"
	"github.com/banshee-data/scenewatch/internal/timeutil"
	"github.com/banshee-data/scenewatch/internal/vision/l4perception"
	"github.com/banshee-data/scenewatch/internal/vision/l5tracks"
	"github.com/banshee-data/scenewatch/internal/vision/l6scene"
	"github.com/banshee-data/scenewatch/internal/vision/report"
	"github.com/banshee-data/scenewatch/internal/vision/storage/sqlite"
)

// ErrOutOfOrderFrame is returned when a frame index does not strictly
// increase. The stream state is left untouched.
var ErrOutOfOrderFrame = errors.New("frame out of order")

// PersistenceSink writes stream outputs to storage. It is an adapter, so
// implementations live outside the layer packages (storage/sqlite).
type PersistenceSink interface {
	StartSession(sess sqlite.Session) error
	EndSession(sessionID string, endedAt time.Time, frames int64, peakMissing, peakNew int) error
	InsertEvent(stream string, e l6scene.Event) (int64, error)
	InsertFrameStat(fs sqlite.FrameStat) error
}

// FrameSink receives every processed frame after all state transitions.
type FrameSink interface {
	HandleFrame(FrameOutput)
}

// FrameSinkFunc adapts a function to FrameSink.
type FrameSinkFunc func(FrameOutput)

func (f FrameSinkFunc) HandleFrame(o FrameOutput) { f(o) }

// FrameOutput is everything a stream produced for one frame.
type FrameOutput struct {
	Stream    string              `json:"stream"`
	SessionID string              `json:"session_id"`
	Index     int64               `json:"frame"`
	Timestamp time.Time           `json:"timestamp"`
	Scene     l6scene.FrameResult `json:"scene"`
	Duration  time.Duration       `json:"-"`
	FPS       float64             `json:"fps"`
}

// StreamConfig holds dependencies for one stream. Optional adapters may be nil.
type StreamConfig struct {
	Name      string
	Tracker   l5tracks.TrackerConfig
	Baseline  l6scene.BaselineConfig
	FPSWindow int
	Clock     timeutil.Clock

	Metrics    *monitoring.SceneMetrics // Optional: Prometheus collectors
	Store      PersistenceSink          // Optional: session/event/frame persistence
	Timeline   *report.Timeline         // Optional: per-frame counts for charts
	Sinks      []FrameSink
	EventSinks []l6scene.EventSink
}

// StreamConfigFromTuning derives the tracker, baseline and FPS settings from
// a loaded TuningConfig.
func StreamConfigFromTuning(name string, cfg *config.TuningConfig) StreamConfig {
	return StreamConfig{
		Name:      name,
		Tracker:   l5tracks.TrackerConfigFromTuning(cfg),
		Baseline:  l6scene.BaselineConfigFromTuning(cfg),
		FPSWindow: cfg.GetFPSWindow(),
	}
}

// Stream processes the frames of one video source in order.
type Stream struct {
	name      string
	clock     timeutil.Clock
	tracker   *l5tracks.Tracker
	monitor   *l6scene.Monitor
	fps       *timeutil.FPSMeter
	stopwatch *timeutil.Stopwatch

	metrics  *monitoring.SceneMetrics
	store    PersistenceSink
	timeline *report.Timeline
	sinks    []FrameSink

	mu        sync.Mutex
	lastIndex int64
	hasFrame  bool
}

// NewStream validates cfg, builds the tracker and monitor, and opens the
// first session in the store.
func NewStream(cfg StreamConfig) (*Stream, error) {
	if cfg.Name == "" {
		return nil, errors.New("stream name must not be empty")
	}
	clock := timeutil.OrReal(cfg.Clock)

	tracker, err := l5tracks.NewTracker(cfg.Tracker)
	if err != nil {
		return nil, fmt.Errorf("stream %s: %w", cfg.Name, err)
	}

	s := &Stream{
		name:      cfg.Name,
		clock:     clock,
		tracker:   tracker,
		fps:       timeutil.NewFPSMeter(cfg.FPSWindow, clock),
		stopwatch: timeutil.NewStopwatch(cfg.Name, clock),
		metrics:   cfg.Metrics,
		store:     cfg.Store,
		timeline:  cfg.Timeline,
		sinks:     cfg.Sinks,
	}

	sinks := append([]l6scene.EventSink{l6scene.EventSinkFunc(s.handleEvent)}, cfg.EventSinks...)
	s.monitor, err = l6scene.NewMonitor(cfg.Baseline, clock, sinks...)
	if err != nil {
		return nil, fmt.Errorf("stream %s: %w", cfg.Name, err)
	}

	if s.store != nil {
		m := s.monitor.Metrics()
		if err := s.store.StartSession(sqlite.Session{SessionID: m.SessionID, Stream: s.name, StartedAt: m.StartedAt}); err != nil {
			return nil, fmt.Errorf("stream %s: %w", cfg.Name, err)
		}
	}
	diagf("stream %s started session %s (tracker=%+v baseline=%+v)", s.name, s.monitor.SessionID(), cfg.Tracker, cfg.Baseline)
	return s, nil
}

// Name returns the stream name.
func (s *Stream) Name() string { return s.name }

// Tracker exposes the stream's tracker for read-only inspection.
func (s *Stream) Tracker() *l5tracks.Tracker { return s.tracker }

// Monitor exposes the stream's scene monitor.
func (s *Stream) Monitor() *l6scene.Monitor { return s.monitor }

// Timeline returns the stream's timeline recorder, or nil.
func (s *Stream) Timeline() *report.Timeline { return s.timeline }

// FPS returns the rolling processing rate.
func (s *Stream) FPS() float64 { return s.fps.FPS() }

// LastFrame returns the most recently processed frame index.
func (s *Stream) LastFrame() (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastIndex, s.hasFrame
}

// ProcessFrame runs one frame through the tracker and then the scene monitor,
// exactly once each, and fans the result out to every sink.
func (s *Stream) ProcessFrame(f l4perception.Frame) (FrameOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.hasFrame && f.Index <= s.lastIndex {
		return FrameOutput{}, fmt.Errorf("%w: stream %s received frame %d after %d", ErrOutOfOrderFrame, s.name, f.Index, s.lastIndex)
	}
	if s.hasFrame && f.Index > s.lastIndex+1 {
		opsf("stream %s: %d frames skipped before frame %d; debounce counters treat the gap as contiguous", s.name, f.Index-s.lastIndex-1, f.Index)
	}
	s.lastIndex = f.Index
	s.hasFrame = true

	dets := s.validDetections(f)
	ts := f.Timestamp
	if ts.IsZero() {
		ts = s.clock.Now()
	}

	out := FrameOutput{Stream: s.name, Index: f.Index, Timestamp: ts}
	s.stopwatch.Start()
	tracks := s.tracker.Update(dets)
	out.Scene = s.monitor.ProcessFrame(tracks)
	out.Duration = s.stopwatch.Stop()
	out.FPS = s.fps.Tick()

	metrics := s.monitor.Metrics()
	out.SessionID = metrics.SessionID
	tracef("stream %s frame %d: dets=%d confirmed=%d missing=%d new=%d in %s",
		s.name, f.Index, len(dets), len(out.Scene.Tracks), len(out.Scene.MissingIDs), len(out.Scene.NewIDs), out.Duration)

	if s.metrics != nil {
		s.metrics.ObserveFrame(monitoring.FrameObservation{
			Stream:      s.name,
			Confirmed:   len(out.Scene.Tracks),
			Missing:     len(out.Scene.MissingIDs),
			New:         len(out.Scene.NewIDs),
			PeakMissing: metrics.PeakMissing,
			PeakNew:     metrics.PeakNew,
			Duration:    out.Duration,
		})
	}
	if s.timeline != nil {
		s.timeline.Add(report.Point{
			Frame:   f.Index,
			Tracked: len(out.Scene.Tracks),
			Missing: len(out.Scene.MissingIDs),
			New:     len(out.Scene.NewIDs),
		})
	}
	if s.store != nil {
		err := s.store.InsertFrameStat(sqlite.FrameStat{
			SessionID:       out.SessionID,
			Frame:           f.Index,
			Timestamp:       ts,
			Detections:      len(dets),
			ConfirmedTracks: len(out.Scene.Tracks),
			Missing:         len(out.Scene.MissingIDs),
			New:             len(out.Scene.NewIDs),
			DurationMs:      float64(out.Duration) / float64(time.Millisecond),
			FPS:             out.FPS,
		})
		if err != nil {
			opsf("stream %s: failed to persist frame %d: %v", s.name, f.Index, err)
		}
	}
	for _, sink := range s.sinks {
		sink.HandleFrame(out)
	}
	return out, nil
}

// validDetections drops detections that break the detector contract.
func (s *Stream) validDetections(f l4perception.Frame) []l4perception.Detection {
	valid := make([]l4perception.Detection, 0, len(f.Detections))
	for i, d := range f.Detections {
		if err := d.Validate(); err != nil {
			opsf("stream %s frame %d: dropping detection %d: %v", s.name, f.Index, i, err)
			continue
		}
		valid = append(valid, d)
	}
	return valid
}

// handleEvent runs synchronously inside Monitor dispatch; it must not take s.mu.
func (s *Stream) handleEvent(e l6scene.Event) {
	if s.metrics != nil {
		s.metrics.CountEvent(s.name, string(e.Kind))
	}
	if s.store == nil {
		return
	}
	if e.Kind == l6scene.EventSceneReset {
		if err := s.store.StartSession(sqlite.Session{SessionID: e.SessionID, Stream: s.name, StartedAt: e.Time}); err != nil {
			opsf("stream %s: failed to start session %s: %v", s.name, e.SessionID, err)
			return
		}
	}
	if _, err := s.store.InsertEvent(s.name, e); err != nil {
		opsf("stream %s: failed to persist %s event: %v", s.name, e.Kind, err)
	}
}

// Reset closes the current session and starts a fresh one with empty
// baseline and timeline. Track identities and frame ordering survive resets.
func (s *Stream) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.endSessionLocked()
	if s.timeline != nil {
		s.timeline.Reset()
	}
	s.monitor.Reset()
	diagf("stream %s reset, new session %s", s.name, s.monitor.SessionID())
}

// Close records the final metrics of the current session.
func (s *Stream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.endSessionLocked()
}

func (s *Stream) endSessionLocked() {
	if s.store == nil {
		return
	}
	m := s.monitor.Metrics()
	if err := s.store.EndSession(m.SessionID, s.clock.Now(), m.FramesProcessed, m.PeakMissing, m.PeakNew); err != nil {
		opsf("stream %s: failed to end session %s: %v", s.name, m.SessionID, err)
	}
}
