// Package monitor serves the HTTP surface of a running scenewatch process:
// health, per-stream scene metrics, object history, resets, the timeline
// chart and the Prometheus scrape endpoint.
package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/banshee-data/scenewatch/internal/monitoring"
	"github.com/banshee-data/scenewatch/internal/timeutil"
	"github.com/banshee-data/scenewatch/internal/version"
	"github.com/banshee-data/scenewatch/internal/vision/l6scene"
	"github.com/banshee-data/scenewatch/internal/vision/pipeline"
	"github.com/banshee-data/scenewatch/internal/vision/report"
	"github.com/banshee-data/scenewatch/internal/vision/storage/sqlite"
)

// WebServer handles the HTTP interface for monitoring scene streams.
type WebServer struct {
	address  string
	server   *http.Server
	streams  *pipeline.Registry
	gatherer prometheus.Gatherer
	store    *sqlite.SceneStore
	clock    timeutil.Clock
}

// WebServerConfig contains configuration options for the web server.
type WebServerConfig struct {
	Address  string
	Streams  *pipeline.Registry
	Gatherer prometheus.Gatherer // Optional: enables /metrics
	Store    *sqlite.SceneStore  // Optional: enables /api/scene/sessions and /api/scene/events
	Clock    timeutil.Clock
}

// NewWebServer creates a new web server with the provided configuration.
func NewWebServer(config WebServerConfig) *WebServer {
	streams := config.Streams
	if streams == nil {
		streams = pipeline.NewRegistry()
	}
	ws := &WebServer{
		address:  config.Address,
		streams:  streams,
		gatherer: config.Gatherer,
		store:    config.Store,
		clock:    timeutil.OrReal(config.Clock),
	}

	ws.server = &http.Server{
		Addr:              ws.address,
		Handler:           ws.setupRoutes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return ws
}

func (ws *WebServer) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		monitoring.Logf("failed to encode json response: %v", err)
	}
}

func (ws *WebServer) writeJSONError(w http.ResponseWriter, status int, msg string) {
	ws.writeJSON(w, status, map[string]string{"error": msg})
}

// Start serves until ctx is done, then shuts down gracefully. A listener
// failure is returned immediately.
func (ws *WebServer) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		monitoring.Logf("Starting HTTP server on %s", ws.address)
		if err := ws.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	monitoring.Logf("shutting down HTTP server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := ws.server.Shutdown(shutdownCtx); err != nil {
		monitoring.Logf("HTTP server shutdown error: %v", err)
		if err := ws.server.Close(); err != nil {
			monitoring.Logf("HTTP server force close error: %v", err)
		}
	}
	monitoring.Logf("HTTP server routine stopped")
	return nil
}

// Close shuts down the web server.
func (ws *WebServer) Close() error {
	if ws.server != nil {
		return ws.server.Close()
	}
	return nil
}

// setupRoutes configures the HTTP routes and handlers.
func (ws *WebServer) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", ws.handleHealth)
	mux.HandleFunc("/api/streams", ws.handleStreams)
	mux.HandleFunc("/api/scene/metrics", ws.handleSceneMetrics)
	mux.HandleFunc("/api/scene/history", ws.handleSceneHistory)
	mux.HandleFunc("/api/scene/reset", ws.handleSceneReset)
	mux.HandleFunc("/api/scene/sessions", ws.handleSceneSessions)
	mux.HandleFunc("/api/scene/events", ws.handleSceneEvents)
	mux.HandleFunc("/api/tracks", ws.handleTracks)
	mux.HandleFunc("/charts/timeline", ws.handleTimelineChart)
	if ws.gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(ws.gatherer, promhttp.HandlerOpts{
			ErrorHandling: promhttp.ContinueOnError,
		}))
	}
	return mux
}

// handleHealth handles the health check endpoint.
func (ws *WebServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	ws.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"service":   "scenewatch",
		"version":   version.String(),
		"streams":   len(ws.streams.Names()),
		"timestamp": ws.clock.Now().UTC().Format(time.RFC3339),
	})
}

// resolveStream picks the stream named by ?stream=, or the only stream when
// the parameter is absent. It writes the error response itself.
func (ws *WebServer) resolveStream(w http.ResponseWriter, r *http.Request) (*pipeline.Stream, bool) {
	name := r.URL.Query().Get("stream")
	if name == "" {
		streams := ws.streams.Streams()
		switch len(streams) {
		case 0:
			ws.writeJSONError(w, http.StatusNotFound, "no streams registered")
			return nil, false
		case 1:
			return streams[0], true
		default:
			ws.writeJSONError(w, http.StatusBadRequest, "stream parameter is required when more than one stream is running")
			return nil, false
		}
	}
	s, ok := ws.streams.Get(name)
	if !ok {
		ws.writeJSONError(w, http.StatusNotFound, fmt.Sprintf("unknown stream %q", name))
		return nil, false
	}
	return s, true
}

// StreamStatus is the per-stream payload of /api/scene/metrics.
type StreamStatus struct {
	Stream    string  `json:"stream"`
	FPS       float64 `json:"fps"`
	LastFrame *int64  `json:"last_frame,omitempty"`
	Tracks    struct {
		Total     int `json:"total"`
		Tentative int `json:"tentative"`
		Confirmed int `json:"confirmed"`
		Coasting  int `json:"coasting"`
	} `json:"tracks"`
	Scene l6scene.Metrics `json:"scene"`
}

func streamStatus(s *pipeline.Stream) StreamStatus {
	st := StreamStatus{Stream: s.Name(), FPS: s.FPS(), Scene: s.Monitor().Metrics()}
	if idx, ok := s.LastFrame(); ok {
		st.LastFrame = &idx
	}
	st.Tracks.Total, st.Tracks.Tentative, st.Tracks.Confirmed, st.Tracks.Coasting = s.Tracker().TrackCount()
	return st
}

// handleStreams lists the registered stream names.
func (ws *WebServer) handleStreams(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		ws.writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	ws.writeJSON(w, http.StatusOK, map[string]interface{}{"streams": ws.streams.Names()})
}

// handleSceneMetrics returns scene metrics for one stream, or for every
// stream when ?stream= is absent.
func (ws *WebServer) handleSceneMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		ws.writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if name := r.URL.Query().Get("stream"); name != "" {
		s, ok := ws.streams.Get(name)
		if !ok {
			ws.writeJSONError(w, http.StatusNotFound, fmt.Sprintf("unknown stream %q", name))
			return
		}
		ws.writeJSON(w, http.StatusOK, streamStatus(s))
		return
	}
	out := make([]StreamStatus, 0)
	for _, s := range ws.streams.Streams() {
		out = append(out, streamStatus(s))
	}
	ws.writeJSON(w, http.StatusOK, map[string]interface{}{"streams": out})
}

// handleSceneHistory returns the recorded observations of one object.
// Query params:
//
//	id (required)
//	stream (required when several streams run)
func (ws *WebServer) handleSceneHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		ws.writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	idStr := r.URL.Query().Get("id")
	if idStr == "" {
		ws.writeJSONError(w, http.StatusBadRequest, "missing 'id' parameter")
		return
	}
	id, err := strconv.ParseUint(idStr, 10, 64)
	if err != nil {
		ws.writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("invalid 'id' parameter: %v", err))
		return
	}
	s, ok := ws.resolveStream(w, r)
	if !ok {
		return
	}
	ws.writeJSON(w, http.StatusOK, map[string]interface{}{
		"stream":       s.Name(),
		"id":           id,
		"observations": s.Monitor().History(id),
	})
}

// handleSceneReset starts a fresh scene session on one stream.
func (ws *WebServer) handleSceneReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		ws.writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s, ok := ws.resolveStream(w, r)
	if !ok {
		return
	}
	previous := s.Monitor().SessionID()
	s.Reset()
	monitoring.Logf("scene reset via HTTP on stream %s (session %s -> %s)", s.Name(), previous, s.Monitor().SessionID())
	ws.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":           "ok",
		"stream":           s.Name(),
		"previous_session": previous,
		"session_id":       s.Monitor().SessionID(),
	})
}

// handleTracks returns the live track snapshots of one stream.
func (ws *WebServer) handleTracks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		ws.writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s, ok := ws.resolveStream(w, r)
	if !ok {
		return
	}
	ws.writeJSON(w, http.StatusOK, map[string]interface{}{
		"stream":       s.Name(),
		"tracks":       s.Tracker().Tracks(),
		"associations": s.Tracker().LastAssociations(),
		"stats":        s.Tracker().Stats(),
	})
}

// handleSceneSessions lists persisted sessions, optionally filtered by stream.
func (ws *WebServer) handleSceneSessions(w http.ResponseWriter, r *http.Request) {
	if ws.store == nil {
		ws.writeJSONError(w, http.StatusServiceUnavailable, "database not configured")
		return
	}
	if r.Method != http.MethodGet {
		ws.writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	sessions, err := ws.store.ListSessions(r.URL.Query().Get("stream"))
	if err != nil {
		ws.writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if sessions == nil {
		sessions = []*sqlite.Session{}
	}
	ws.writeJSON(w, http.StatusOK, map[string]interface{}{"sessions": sessions})
}

// handleSceneEvents lists the persisted events of one session.
// Query params:
//
//	session_id (required)
func (ws *WebServer) handleSceneEvents(w http.ResponseWriter, r *http.Request) {
	if ws.store == nil {
		ws.writeJSONError(w, http.StatusServiceUnavailable, "database not configured")
		return
	}
	if r.Method != http.MethodGet {
		ws.writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		ws.writeJSONError(w, http.StatusBadRequest, "missing 'session_id' parameter")
		return
	}
	if _, err := ws.store.GetSession(sessionID); err != nil {
		if errors.Is(err, sqlite.ErrSessionNotFound) {
			ws.writeJSONError(w, http.StatusNotFound, err.Error())
			return
		}
		ws.writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	events, err := ws.store.ListEvents(sessionID)
	if err != nil {
		ws.writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if events == nil {
		events = []sqlite.EventRecord{}
	}
	ws.writeJSON(w, http.StatusOK, map[string]interface{}{"session_id": sessionID, "events": events})
}

// handleTimelineChart renders the timeline of one stream, or of every stream
// when ?stream= is absent, as an HTML page.
func (ws *WebServer) handleTimelineChart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		ws.writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	streams := ws.streams.Streams()
	if name := r.URL.Query().Get("stream"); name != "" {
		s, ok := ws.streams.Get(name)
		if !ok {
			ws.writeJSONError(w, http.StatusNotFound, fmt.Sprintf("unknown stream %q", name))
			return
		}
		streams = []*pipeline.Stream{s}
	}

	var series []report.Series
	for _, s := range streams {
		if tl := s.Timeline(); tl != nil {
			series = append(series, report.Series{Name: s.Name(), Points: tl.Points()})
		}
	}
	if len(series) == 0 {
		ws.writeJSONError(w, http.StatusNotFound, "no timeline recorded")
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := report.Render(w, series...); err != nil {
		monitoring.Logf("failed to render timeline chart: %v", err)
	}
}
