package sqlite

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/banshee-data/scenewatch/internal/vision/l4perception"
	"github.com/banshee-data/scenewatch/internal/vision/l6scene"
)

// ErrSessionNotFound is returned when a session ID has no row.
var ErrSessionNotFound = errors.New("session not found")

// SceneStore provides persistence for sessions, events and frame stats.
type SceneStore struct {
	db *sql.DB
}

// NewSceneStore creates a new SceneStore.
func NewSceneStore(db *sql.DB) *SceneStore {
	return &SceneStore{db: db}
}

// StartSession inserts a new open session.
func (s *SceneStore) StartSession(sess Session) error {
	_, err := s.db.Exec(`
		INSERT INTO scene_sessions (session_id, stream, started_at_ns)
		VALUES (?, ?, ?)
	`, sess.SessionID, sess.Stream, sess.StartedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// EndSession closes a session with its final metrics.
func (s *SceneStore) EndSession(sessionID string, endedAt time.Time, frames int64, peakMissing, peakNew int) error {
	res, err := s.db.Exec(`
		UPDATE scene_sessions
		SET ended_at_ns = ?, frames_processed = ?, peak_missing = ?, peak_new = ?
		WHERE session_id = ?
	`, endedAt.UnixNano(), frames, peakMissing, peakNew, sessionID)
	if err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return nil
}

// GetSession retrieves a session by ID.
func (s *SceneStore) GetSession(sessionID string) (*Session, error) {
	row := s.db.QueryRow(`
		SELECT session_id, stream, started_at_ns, ended_at_ns, frames_processed, peak_missing, peak_new
		FROM scene_sessions
		WHERE session_id = ?
	`, sessionID)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return sess, nil
}

// ListSessions returns the sessions of a stream, oldest first. An empty
// stream lists every session.
func (s *SceneStore) ListSessions(stream string) ([]*Session, error) {
	query := `
		SELECT session_id, stream, started_at_ns, ended_at_ns, frames_processed, peak_missing, peak_new
		FROM scene_sessions
	`
	var args []interface{}
	if stream != "" {
		query += " WHERE stream = ?"
		args = append(args, stream)
	}
	query += " ORDER BY started_at_ns ASC, rowid ASC"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanSession(sc scanner) (*Session, error) {
	var sess Session
	var startedNs int64
	var endedNs sql.NullInt64
	if err := sc.Scan(&sess.SessionID, &sess.Stream, &startedNs, &endedNs,
		&sess.FramesProcessed, &sess.PeakMissing, &sess.PeakNew); err != nil {
		return nil, err
	}
	sess.StartedAt = time.Unix(0, startedNs).UTC()
	if endedNs.Valid {
		t := time.Unix(0, endedNs.Int64).UTC()
		sess.EndedAt = &t
	}
	return &sess, nil
}

// InsertEvent appends a scene event. The event's session must exist.
func (s *SceneStore) InsertEvent(stream string, e l6scene.Event) (int64, error) {
	bboxJSON, err := json.Marshal(e.BBox)
	if err != nil {
		return 0, fmt.Errorf("marshal bbox: %w", err)
	}
	var objectID interface{}
	if e.ObjectID != 0 {
		objectID = int64(e.ObjectID)
	}
	res, err := s.db.Exec(`
		INSERT INTO scene_events (session_id, stream, kind, frame, object_id, class_id, bbox_json, count, occurred_at_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.SessionID, stream, string(e.Kind), e.Frame, objectID, e.ClassID, string(bboxJSON), e.Count, e.Time.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("insert event: %w", err)
	}
	return res.LastInsertId()
}

// ListEvents returns the events of one session in insertion order.
func (s *SceneStore) ListEvents(sessionID string) ([]EventRecord, error) {
	rows, err := s.db.Query(`
		SELECT event_id, session_id, stream, kind, frame, object_id, class_id, bbox_json, count, occurred_at_ns
		FROM scene_events
		WHERE session_id = ?
		ORDER BY event_id ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var out []EventRecord
	for rows.Next() {
		var rec EventRecord
		var kind string
		var objectID, classID sql.NullInt64
		var bboxJSON sql.NullString
		var occurredNs int64
		if err := rows.Scan(&rec.EventID, &rec.SessionID, &rec.Stream, &kind, &rec.Frame,
			&objectID, &classID, &bboxJSON, &rec.Count, &occurredNs); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		rec.Kind = l6scene.EventKind(kind)
		rec.Time = time.Unix(0, occurredNs).UTC()
		if objectID.Valid {
			rec.ObjectID = uint64(objectID.Int64)
		}
		if classID.Valid {
			rec.ClassID = int(classID.Int64)
		}
		if bboxJSON.Valid && bboxJSON.String != "" {
			var box l4perception.BBox
			if err := json.Unmarshal([]byte(bboxJSON.String), &box); err != nil {
				return nil, fmt.Errorf("decode bbox for event %d: %w", rec.EventID, err)
			}
			rec.BBox = box
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// InsertFrameStat records one frame summary.
func (s *SceneStore) InsertFrameStat(fs FrameStat) error {
	_, err := s.db.Exec(`
		INSERT INTO scene_frame_stats (session_id, frame, ts_ns, detections, confirmed_tracks, missing, new, duration_ms, fps)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, fs.SessionID, fs.Frame, fs.Timestamp.UnixNano(), fs.Detections, fs.ConfirmedTracks,
		fs.Missing, fs.New, fs.DurationMs, fs.FPS)
	if err != nil {
		return fmt.Errorf("insert frame stat: %w", err)
	}
	return nil
}

// ListFrameStats returns the frame summaries of one session ordered by frame.
func (s *SceneStore) ListFrameStats(sessionID string) ([]FrameStat, error) {
	rows, err := s.db.Query(`
		SELECT session_id, frame, ts_ns, detections, confirmed_tracks, missing, new, duration_ms, fps
		FROM scene_frame_stats
		WHERE session_id = ?
		ORDER BY frame ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list frame stats: %w", err)
	}
	defer rows.Close()

	var out []FrameStat
	for rows.Next() {
		var fs FrameStat
		var tsNs int64
		if err := rows.Scan(&fs.SessionID, &fs.Frame, &tsNs, &fs.Detections, &fs.ConfirmedTracks,
			&fs.Missing, &fs.New, &fs.DurationMs, &fs.FPS); err != nil {
			return nil, fmt.Errorf("scan frame stat: %w", err)
		}
		fs.Timestamp = time.Unix(0, tsNs).UTC()
		out = append(out, fs)
	}
	return out, rows.Err()
}

// DeleteSession removes a session together with its events and frame stats.
func (s *SceneStore) DeleteSession(sessionID string) error {
	res, err := s.db.Exec(`DELETE FROM scene_sessions WHERE session_id = ?`, sessionID)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return nil
}
