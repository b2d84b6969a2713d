package l6scene

import (
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/scenewatch/internal/timeutil"
	"github.com/banshee-data/scenewatch/internal/vision/l5tracks"
)

// Metrics is a point-in-time view of a Monitor session.
type Metrics struct {
	SessionID           string        `json:"session_id"`
	BaselineEstablished bool          `json:"baseline_established"`
	FramesProcessed     int64         `json:"frames_processed"`
	PeakMissing         int           `json:"peak_missing_objects"`
	PeakNew             int           `json:"peak_new_objects"`
	CurrentMissing      int           `json:"current_missing_objects"`
	CurrentNew          int           `json:"current_new_objects"`
	StartedAt           time.Time     `json:"started_at"`
	Uptime              time.Duration `json:"-"`
	UptimeSeconds       float64       `json:"uptime_seconds"`
}

// FrameResult pairs the confirmed tracks fed to the monitor with the
// baseline outcome for that frame.
type FrameResult struct {
	Tracks []l5tracks.Snapshot `json:"tracks"`
	Result
}

// Monitor wraps BaselineMemory with session metrics and event fan-out.
// All methods are safe for concurrent use.
type Monitor struct {
	mu       sync.Mutex
	baseline *BaselineMemory
	clock    timeutil.Clock
	sinks    []EventSink

	sessionID   string
	startedAt   time.Time
	frames      int64
	peakMissing int
	peakNew     int
	lastMissing int
	lastNew     int
}

// NewMonitor validates cfg and starts the first session.
func NewMonitor(cfg BaselineConfig, clock timeutil.Clock, sinks ...EventSink) (*Monitor, error) {
	clock = timeutil.OrReal(clock)
	baseline, err := NewBaselineMemory(cfg, clock)
	if err != nil {
		return nil, err
	}
	m := &Monitor{baseline: baseline, clock: clock, sinks: sinks}
	m.resetLocked()
	return m, nil
}

// AddSink registers an additional event receiver.
func (m *Monitor) AddSink(s EventSink) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sinks = append(m.sinks, s)
}

// ProcessFrame feeds one frame of confirmed tracks through the baseline and
// updates the session peaks. Events are delivered to sinks after the state
// transition is complete.
func (m *Monitor) ProcessFrame(tracks []l5tracks.Snapshot) FrameResult {
	m.mu.Lock()
	m.frames++
	res := m.baseline.Update(tracks)
	m.lastMissing = len(res.Missing)
	m.lastNew = len(res.New)
	m.peakMissing = max(m.peakMissing, m.lastMissing)
	m.peakNew = max(m.peakNew, m.lastNew)
	for i := range res.Events {
		res.Events[i].SessionID = m.sessionID
	}
	sinks := slices.Clone(m.sinks)
	m.mu.Unlock()

	m.dispatch(sinks, res.Events)
	return FrameResult{Tracks: tracks, Result: res}
}

// Reset starts a new session: baseline memory and every metric are cleared
// together under one lock, then EventSceneReset is delivered.
func (m *Monitor) Reset() {
	m.mu.Lock()
	m.resetLocked()
	ev := Event{Kind: EventSceneReset, SessionID: m.sessionID, Time: m.startedAt}
	sinks := slices.Clone(m.sinks)
	m.mu.Unlock()

	m.dispatch(sinks, []Event{ev})
}

func (m *Monitor) resetLocked() {
	m.baseline.Reset()
	m.sessionID = uuid.NewString()
	m.startedAt = m.clock.Now()
	m.frames = 0
	m.peakMissing = 0
	m.peakNew = 0
	m.lastMissing = 0
	m.lastNew = 0
}

func (m *Monitor) dispatch(sinks []EventSink, events []Event) {
	for _, ev := range events {
		diagf("%s", ev)
		for _, s := range sinks {
			s.HandleEvent(ev)
		}
	}
}

// Metrics returns the current session metrics.
func (m *Monitor) Metrics() Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	uptime := m.clock.Since(m.startedAt)
	return Metrics{
		SessionID:           m.sessionID,
		BaselineEstablished: m.baseline.Established(),
		FramesProcessed:     m.frames,
		PeakMissing:         m.peakMissing,
		PeakNew:             m.peakNew,
		CurrentMissing:      m.lastMissing,
		CurrentNew:          m.lastNew,
		StartedAt:           m.startedAt,
		Uptime:              uptime,
		UptimeSeconds:       uptime.Seconds(),
	}
}

// SessionID returns the identifier of the current session.
func (m *Monitor) SessionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessionID
}

// History returns the bounded observation history for id.
func (m *Monitor) History(id uint64) []Observation {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.baseline.History(id)
}

// Config returns the baseline configuration.
func (m *Monitor) Config() BaselineConfig {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.baseline.Config()
}
