package monitor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/scenewatch/internal/monitoring"
	"github.com/banshee-data/scenewatch/internal/timeutil"
	"github.com/banshee-data/scenewatch/internal/vision/l4perception"
	"github.com/banshee-data/scenewatch/internal/vision/l5tracks"
	"github.com/banshee-data/scenewatch/internal/vision/l6scene"
	"github.com/banshee-data/scenewatch/internal/vision/pipeline"
	"github.com/banshee-data/scenewatch/internal/vision/report"
	"github.com/banshee-data/scenewatch/internal/vision/storage/sqlite"
)

var epoch = time.Date(2025, 5, 4, 10, 0, 0, 0, time.UTC)

type fixture struct {
	ws      *WebServer
	mux     *http.ServeMux
	streams map[string]*pipeline.Stream
	store   *sqlite.SceneStore
	clock   *timeutil.MockClock
}

func newFixture(t *testing.T, withStore bool, names ...string) *fixture {
	t.Helper()
	clock := timeutil.NewMockClock(epoch)
	reg := prometheus.NewRegistry()
	metrics, err := monitoring.NewSceneMetrics(reg)
	require.NoError(t, err)

	f := &fixture{streams: map[string]*pipeline.Stream{}, clock: clock}
	if withStore {
		db, err := sqlite.Open(filepath.Join(t.TempDir(), "scene.db"))
		require.NoError(t, err)
		t.Cleanup(func() { db.Close() })
		f.store = sqlite.NewSceneStore(db.DB)
	}

	registry := pipeline.NewRegistry()
	for _, name := range names {
		cfg := pipeline.StreamConfig{
			Name:      name,
			Tracker:   l5tracks.TrackerConfig{MaxAge: 30, MinHits: 3, IoUThreshold: 0.3, HistoryLength: 5},
			Baseline:  l6scene.BaselineConfig{MissingObjectFrames: 3, StabilityFrames: 5, HistoryLength: 30},
			FPSWindow: 10,
			Clock:     clock,
			Metrics:   metrics,
			Timeline:  report.NewTimeline(100),
		}
		if f.store != nil {
			cfg.Store = f.store
		}
		s, err := pipeline.NewStream(cfg)
		require.NoError(t, err)
		registry.Add(s)
		f.streams[name] = s
	}

	f.ws = NewWebServer(WebServerConfig{Address: ":0", Streams: registry, Gatherer: reg, Store: f.store, Clock: clock})
	f.mux = f.ws.setupRoutes()
	return f
}

// feed runs the box through frames 1..8 and leaves frames 9..14 empty.
func (f *fixture) feed(t *testing.T, name string) {
	t.Helper()
	box := l4perception.Detection{BBox: l4perception.BBox{10, 10, 50, 50}, ClassID: 2, Confidence: 0.9}
	for i := int64(1); i <= 14; i++ {
		fr := l4perception.Frame{Index: i}
		if i <= 8 {
			fr.Detections = []l4perception.Detection{box}
		}
		f.clock.Advance(50 * time.Millisecond)
		_, err := f.streams[name].ProcessFrame(fr)
		require.NoError(t, err)
	}
}

func (f *fixture) do(t *testing.T, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	rr := httptest.NewRecorder()
	f.mux.ServeHTTP(rr, req)
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), v), rr.Body.String())
}

func TestWebServer_Health(t *testing.T) {
	t.Parallel()
	f := newFixture(t, false, "cam")

	rr := f.do(t, http.MethodGet, "/health")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

	var body map[string]interface{}
	decode(t, rr, &body)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "scenewatch", body["service"])
	assert.Equal(t, float64(1), body["streams"])
	assert.Equal(t, epoch.Format(time.RFC3339), body["timestamp"])
}

func TestWebServer_SceneMetrics(t *testing.T) {
	t.Parallel()
	f := newFixture(t, false, "north", "south")
	f.feed(t, "north")

	rr := f.do(t, http.MethodGet, "/api/scene/metrics?stream=north")
	require.Equal(t, http.StatusOK, rr.Code)
	var st StreamStatus
	decode(t, rr, &st)
	assert.Equal(t, "north", st.Stream)
	assert.True(t, st.Scene.BaselineEstablished)
	assert.Equal(t, int64(14), st.Scene.FramesProcessed)
	assert.Equal(t, 1, st.Scene.PeakMissing)
	assert.Equal(t, f.streams["north"].Monitor().SessionID(), st.Scene.SessionID)
	require.NotNil(t, st.LastFrame)
	assert.Equal(t, int64(14), *st.LastFrame)
	assert.Equal(t, 1, st.Tracks.Total)
	assert.Equal(t, 1, st.Tracks.Coasting)
	assert.InDelta(t, 20.0, st.FPS, 1e-6)

	rr = f.do(t, http.MethodGet, "/api/scene/metrics")
	require.Equal(t, http.StatusOK, rr.Code)
	var all struct {
		Streams []StreamStatus `json:"streams"`
	}
	decode(t, rr, &all)
	require.Len(t, all.Streams, 2)
	assert.Equal(t, "north", all.Streams[0].Stream)
	assert.Equal(t, "south", all.Streams[1].Stream)
	assert.Nil(t, all.Streams[1].LastFrame)

	rr = f.do(t, http.MethodGet, "/api/scene/metrics?stream=west")
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = f.do(t, http.MethodPost, "/api/scene/metrics")
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func TestWebServer_SceneHistory(t *testing.T) {
	t.Parallel()
	f := newFixture(t, false, "cam")
	f.feed(t, "cam")

	rr := f.do(t, http.MethodGet, "/api/scene/history?id=1")
	require.Equal(t, http.StatusOK, rr.Code)
	var body struct {
		Stream       string                `json:"stream"`
		ID           uint64                `json:"id"`
		Observations []l6scene.Observation `json:"observations"`
	}
	decode(t, rr, &body)
	assert.Equal(t, "cam", body.Stream)
	assert.Equal(t, uint64(1), body.ID)
	// Confirmed and output for frames 3..9.
	require.Len(t, body.Observations, 7)
	assert.Equal(t, int64(3), body.Observations[0].Frame)
	assert.Equal(t, 2, body.Observations[0].ClassID)

	rr = f.do(t, http.MethodGet, "/api/scene/history?id=42")
	require.Equal(t, http.StatusOK, rr.Code)
	decode(t, rr, &body)
	assert.Empty(t, body.Observations)
	assert.Contains(t, rr.Body.String(), `"observations":[]`)

	for _, target := range []string{"/api/scene/history", "/api/scene/history?id=abc", "/api/scene/history?id=-1"} {
		rr = f.do(t, http.MethodGet, target)
		assert.Equal(t, http.StatusBadRequest, rr.Code, target)
	}
}

func TestWebServer_StreamSelectionWithSeveralStreams(t *testing.T) {
	t.Parallel()
	f := newFixture(t, false, "a", "b")

	rr := f.do(t, http.MethodGet, "/api/tracks")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "stream parameter is required")

	rr = f.do(t, http.MethodGet, "/api/tracks?stream=b")
	assert.Equal(t, http.StatusOK, rr.Code)

	empty := newFixture(t, false)
	rr = empty.do(t, http.MethodGet, "/api/tracks")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestWebServer_SceneReset(t *testing.T) {
	t.Parallel()
	f := newFixture(t, true, "cam")
	f.feed(t, "cam")
	before := f.streams["cam"].Monitor().SessionID()

	rr := f.do(t, http.MethodGet, "/api/scene/reset")
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
	assert.Equal(t, before, f.streams["cam"].Monitor().SessionID())

	rr = f.do(t, http.MethodPost, "/api/scene/reset")
	require.Equal(t, http.StatusOK, rr.Code)
	var body map[string]string
	decode(t, rr, &body)
	assert.Equal(t, before, body["previous_session"])
	assert.Equal(t, f.streams["cam"].Monitor().SessionID(), body["session_id"])
	assert.NotEqual(t, before, body["session_id"])

	m := f.streams["cam"].Monitor().Metrics()
	assert.Zero(t, m.FramesProcessed)
	assert.False(t, m.BaselineEstablished)
	assert.NotEmpty(t, f.streams["cam"].Tracker().Tracks(), "reset keeps live tracks")

	rr = f.do(t, http.MethodGet, "/api/scene/sessions?stream=cam")
	require.Equal(t, http.StatusOK, rr.Code)
	var sessions struct {
		Sessions []sqlite.Session `json:"sessions"`
	}
	decode(t, rr, &sessions)
	require.Len(t, sessions.Sessions, 2)
	assert.Equal(t, before, sessions.Sessions[0].SessionID)
	assert.NotNil(t, sessions.Sessions[0].EndedAt)
	assert.Equal(t, int64(14), sessions.Sessions[0].FramesProcessed)
}

func TestWebServer_SceneEvents(t *testing.T) {
	t.Parallel()
	f := newFixture(t, true, "cam")
	f.feed(t, "cam")
	sessionID := f.streams["cam"].Monitor().SessionID()

	rr := f.do(t, http.MethodGet, "/api/scene/events?session_id="+sessionID)
	require.Equal(t, http.StatusOK, rr.Code)
	var body struct {
		Events []sqlite.EventRecord `json:"events"`
	}
	decode(t, rr, &body)
	require.Len(t, body.Events, 2)
	assert.Equal(t, l6scene.EventBaselineEstablished, body.Events[0].Kind)
	assert.Equal(t, l6scene.EventObjectMissing, body.Events[1].Kind)
	assert.Equal(t, uint64(1), body.Events[1].ObjectID)
	assert.Equal(t, int64(12), body.Events[1].Frame)

	rr = f.do(t, http.MethodGet, "/api/scene/events")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	rr = f.do(t, http.MethodGet, "/api/scene/events?session_id=nope")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestWebServer_StoreEndpointsWithoutDatabase(t *testing.T) {
	t.Parallel()
	f := newFixture(t, false, "cam")
	for _, target := range []string{"/api/scene/sessions", "/api/scene/events?session_id=x"} {
		rr := f.do(t, http.MethodGet, target)
		assert.Equal(t, http.StatusServiceUnavailable, rr.Code, target)
	}
}

func TestWebServer_Tracks(t *testing.T) {
	t.Parallel()
	f := newFixture(t, false, "cam")
	f.feed(t, "cam")

	rr := f.do(t, http.MethodGet, "/api/tracks?stream=cam")
	require.Equal(t, http.StatusOK, rr.Code)
	var body struct {
		Tracks []l5tracks.Snapshot   `json:"tracks"`
		Stats  l5tracks.TrackerStats `json:"stats"`
	}
	decode(t, rr, &body)
	require.Len(t, body.Tracks, 1)
	assert.Equal(t, uint64(1), body.Tracks[0].ID)
	// Missed frames 9..14: the first miss adds 1, later ones add 2 (predict + miss).
	assert.Equal(t, 11, body.Tracks[0].TimeSinceUpdate)
	assert.Equal(t, int64(14), body.Stats.Frames)
}

func TestWebServer_TimelineChart(t *testing.T) {
	t.Parallel()
	f := newFixture(t, false, "north", "south")
	f.feed(t, "north")

	rr := f.do(t, http.MethodGet, "/charts/timeline")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, strings.HasPrefix(rr.Header().Get("Content-Type"), "text/html"))
	body := rr.Body.String()
	assert.Contains(t, body, "Scene Timeline")
	assert.Contains(t, body, "north")
	assert.Contains(t, body, "south")

	rr = f.do(t, http.MethodGet, "/charts/timeline?stream=missing")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestWebServer_PrometheusEndpoint(t *testing.T) {
	t.Parallel()
	f := newFixture(t, false, "cam")
	f.feed(t, "cam")

	rr := f.do(t, http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, rr.Code)
	body := rr.Body.String()
	assert.Contains(t, body, `scenewatch_frames_processed_total{stream="cam"} 14`)
	assert.Contains(t, body, `scenewatch_scene_events_total{kind="object_missing",stream="cam"} 1`)
	assert.Contains(t, body, `scenewatch_missing_objects{stream="cam"} 1`)
}

func TestWebServer_NoGathererNoMetricsRoute(t *testing.T) {
	t.Parallel()
	ws := NewWebServer(WebServerConfig{Address: ":0"})
	rr := httptest.NewRecorder()
	ws.setupRoutes().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestWebServer_StartAndShutdown(t *testing.T) {
	t.Parallel()
	ws := NewWebServer(WebServerConfig{Address: "127.0.0.1:0"})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ws.Start(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Start did not return after cancellation")
	}
}

func TestWebServer_StartReportsListenError(t *testing.T) {
	t.Parallel()
	ws := NewWebServer(WebServerConfig{Address: "256.0.0.1:bad"})
	err := ws.Start(context.Background())
	assert.Error(t, err)
}
