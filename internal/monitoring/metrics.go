package monitoring

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SceneMetrics exports per-stream tracking and scene-change gauges.
// Every series is labelled by stream so independent streams can share a
// registry.
type SceneMetrics struct {
	FramesTotal     *prometheus.CounterVec
	ConfirmedTracks *prometheus.GaugeVec
	MissingObjects  *prometheus.GaugeVec
	NewObjects      *prometheus.GaugeVec
	PeakMissing     *prometheus.GaugeVec
	PeakNew         *prometheus.GaugeVec
	EventsTotal     *prometheus.CounterVec
	FrameSeconds    *prometheus.HistogramVec
}

// NewSceneMetrics creates the collectors and registers them with reg.
// A nil registerer leaves the collectors unregistered, which is handy
// for tests that only inspect values.
func NewSceneMetrics(reg prometheus.Registerer) (*SceneMetrics, error) {
	m := &SceneMetrics{
		FramesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scenewatch",
			Name:      "frames_processed_total",
			Help:      "Frames pushed through tracker and baseline memory.",
		}, []string{"stream"}),
		ConfirmedTracks: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "scenewatch",
			Name:      "confirmed_tracks",
			Help:      "Confirmed tracks reported for the latest frame.",
		}, []string{"stream"}),
		MissingObjects: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "scenewatch",
			Name:      "missing_objects",
			Help:      "Identifiers currently bookkept as missing.",
		}, []string{"stream"}),
		NewObjects: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "scenewatch",
			Name:      "new_objects",
			Help:      "Identifiers currently bookkept as new.",
		}, []string{"stream"}),
		PeakMissing: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "scenewatch",
			Name:      "peak_missing_objects",
			Help:      "Peak simultaneous missing count since the last scene reset.",
		}, []string{"stream"}),
		PeakNew: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "scenewatch",
			Name:      "peak_new_objects",
			Help:      "Peak simultaneous new count since the last scene reset.",
		}, []string{"stream"}),
		EventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scenewatch",
			Name:      "scene_events_total",
			Help:      "Scene events emitted, by kind.",
		}, []string{"stream", "kind"}),
		FrameSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "scenewatch",
			Name:      "frame_processing_seconds",
			Help:      "Wall time spent in one tracker + scene update.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 14),
		}, []string{"stream"}),
	}

	if reg == nil {
		return m, nil
	}
	for _, c := range m.collectors() {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register scene metrics: %w", err)
		}
	}
	return m, nil
}

func (m *SceneMetrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.FramesTotal, m.ConfirmedTracks, m.MissingObjects, m.NewObjects,
		m.PeakMissing, m.PeakNew, m.EventsTotal, m.FrameSeconds,
	}
}

// FrameObservation is the per-frame sample fed into SceneMetrics.
type FrameObservation struct {
	Stream      string
	Confirmed   int
	Missing     int
	New         int
	PeakMissing int
	PeakNew     int
	Duration    time.Duration
}

// ObserveFrame records one processed frame.
func (m *SceneMetrics) ObserveFrame(o FrameObservation) {
	m.FramesTotal.WithLabelValues(o.Stream).Inc()
	m.ConfirmedTracks.WithLabelValues(o.Stream).Set(float64(o.Confirmed))
	m.MissingObjects.WithLabelValues(o.Stream).Set(float64(o.Missing))
	m.NewObjects.WithLabelValues(o.Stream).Set(float64(o.New))
	m.PeakMissing.WithLabelValues(o.Stream).Set(float64(o.PeakMissing))
	m.PeakNew.WithLabelValues(o.Stream).Set(float64(o.PeakNew))
	m.FrameSeconds.WithLabelValues(o.Stream).Observe(o.Duration.Seconds())
}

// CountEvent increments the event counter for kind.
func (m *SceneMetrics) CountEvent(stream, kind string) {
	m.EventsTotal.WithLabelValues(stream, kind).Inc()
}
