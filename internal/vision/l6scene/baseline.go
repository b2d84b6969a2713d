package l6scene

import (
	"slices"
	"time"

	"github.com/banshee-data/scenewatch/internal/timeutil"
	"github.com/banshee-data/scenewatch/internal/vision/l4perception"
	"github.com/banshee-data/scenewatch/internal/vision/l5tracks"
)

// Observation is one history record for an object.
type Observation struct {
	Frame      int64             `json:"frame"`
	BBox       l4perception.BBox `json:"bbox"`
	ClassID    int               `json:"class_id"`
	Confidence float64           `json:"confidence"`
	Timestamp  time.Time         `json:"timestamp"`
}

// Entry is the bookkeeping record of an object currently missing or new.
type Entry struct {
	ID         uint64            `json:"id"`
	ClassID    int               `json:"class_id"`
	Confidence float64           `json:"confidence"`
	BBox       l4perception.BBox `json:"bbox"`
	// Frames is missing_frames for missing entries and new_frames for new ones.
	Frames     int   `json:"frames"`
	Confirmed  bool  `json:"confirmed"`
	SinceFrame int64 `json:"since_frame"`
}

// Result is the outcome of one BaselineMemory.Update. ID lists and records
// are sorted by ID. An ID never appears in both MissingIDs and NewIDs.
type Result struct {
	Frame               int64    `json:"frame"`
	BaselineEstablished bool     `json:"baseline_established"`
	MissingIDs          []uint64 `json:"missing_ids"`
	NewIDs              []uint64 `json:"new_ids"`
	Missing             []Entry  `json:"missing"`
	New                 []Entry  `json:"new"`
	Events              []Event  `json:"events,omitempty"`
}

// BaselineMemory turns per-frame sets of confirmed tracks into debounced
// missing/new bookkeeping. It is not safe for concurrent use; Monitor
// serialises access.
type BaselineMemory struct {
	cfg   BaselineConfig
	clock timeutil.Clock

	frame        int64
	established  bool
	baselineTime time.Time

	known   map[uint64]bool
	last    map[uint64]l5tracks.Snapshot
	missing map[uint64]*Entry
	fresh   map[uint64]*Entry
	history map[uint64][]Observation
	// interrupted holds IDs whose new episode ended before stability_frames.
	interrupted map[uint64]bool
}

// NewBaselineMemory validates cfg and returns an empty memory in warm-up.
// A nil clock uses wall time.
func NewBaselineMemory(cfg BaselineConfig, clock timeutil.Clock) (*BaselineMemory, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	b := &BaselineMemory{cfg: cfg, clock: timeutil.OrReal(clock)}
	b.Reset()
	return b, nil
}

// Reset discards all bookkeeping, history and the baseline itself.
func (b *BaselineMemory) Reset() {
	b.frame = 0
	b.established = false
	b.baselineTime = b.clock.Now()
	b.known = make(map[uint64]bool)
	b.last = make(map[uint64]l5tracks.Snapshot)
	b.missing = make(map[uint64]*Entry)
	b.fresh = make(map[uint64]*Entry)
	b.history = make(map[uint64][]Observation)
	b.interrupted = make(map[uint64]bool)
}

// Config returns the validated configuration.
func (b *BaselineMemory) Config() BaselineConfig { return b.cfg }

// Established reports whether warm-up has completed.
func (b *BaselineMemory) Established() bool { return b.established }

// Frame returns the number of updates since construction or Reset.
func (b *BaselineMemory) Frame() int64 { return b.frame }

// BaselineTime returns when the memory was last reset.
func (b *BaselineMemory) BaselineTime() time.Time { return b.baselineTime }

// Update ingests the confirmed tracks of one frame.
func (b *BaselineMemory) Update(tracks []l5tracks.Snapshot) Result {
	b.frame++
	now := b.clock.Now()

	current := make(map[uint64]l5tracks.Snapshot, len(tracks))
	for _, s := range tracks {
		if _, dup := current[s.ID]; dup {
			opsf("frame %d: duplicate track id %d, keeping last snapshot", b.frame, s.ID)
		}
		current[s.ID] = s
	}
	ids := sortedKeys(current)

	for _, id := range ids {
		s := current[id]
		b.last[id] = s
		b.appendHistory(id, Observation{
			Frame:      b.frame,
			BBox:       s.BBox,
			ClassID:    s.ClassID,
			Confidence: s.Confidence,
			Timestamp:  now,
		})
	}

	var events []Event
	if !b.established {
		if b.frame >= int64(b.cfg.StabilityFrames) {
			b.established = true
			for _, id := range ids {
				b.known[id] = true
			}
			b.pruneWarmUp(current)
			events = append(events, Event{Kind: EventBaselineEstablished, Frame: b.frame, Time: now, Count: len(ids)})
		}
		return b.result(events)
	}

	for _, id := range sortedKeys(b.known) {
		if _, present := current[id]; present {
			continue
		}
		events = b.markAbsent(id, now, events)
	}
	for _, id := range ids {
		events = b.markPresent(current[id], now, events)
	}

	tracef("frame %d: present=%d missing=%d new=%d events=%d", b.frame, len(ids), len(b.missing), len(b.fresh), len(events))
	return b.result(events)
}

func (b *BaselineMemory) markAbsent(id uint64, now time.Time, events []Event) []Event {
	e, ok := b.missing[id]
	if ok {
		e.Frames++
	} else {
		// A vanished object is missing, never both missing and new.
		if f, wasNew := b.fresh[id]; wasNew {
			delete(b.fresh, id)
			if !f.Confirmed {
				b.interrupted[id] = true
			}
		}
		last := b.last[id]
		e = &Entry{
			ID:         id,
			ClassID:    last.ClassID,
			Confidence: last.Confidence,
			BBox:       last.BBox,
			Frames:     1,
			SinceFrame: b.frame,
		}
		b.missing[id] = e
		delete(b.last, id)
	}
	if e.Frames < b.cfg.MissingObjectFrames {
		return events
	}
	if b.interrupted[id] {
		// Never announced as new, so its departure is not a scene change either.
		diagf("frame %d: forgetting transient object %d after %d absent frames", b.frame, id, e.Frames)
		b.forget(id)
		return events
	}
	if e.Frames == b.cfg.MissingObjectFrames {
		e.Confirmed = true
		events = append(events, b.objectEvent(EventObjectMissing, e, now))
	}
	return events
}

func (b *BaselineMemory) markPresent(s l5tracks.Snapshot, now time.Time, events []Event) []Event {
	if e, ok := b.missing[s.ID]; ok {
		delete(b.missing, s.ID)
		if b.interrupted[s.ID] {
			delete(b.interrupted, s.ID)
			return b.startNew(s, now, events)
		}
		// Short dropouts below missing_object_frames are debounced away.
		if e.Confirmed {
			events = append(events, b.objectEvent(EventObjectReappeared, e, now))
		}
	}

	if e, ok := b.fresh[s.ID]; ok {
		e.Frames++
		e.ClassID, e.Confidence, e.BBox = s.ClassID, s.Confidence, s.BBox
		if e.Frames == b.cfg.StabilityFrames {
			e.Confirmed = true
			events = append(events, b.objectEvent(EventObjectAppeared, e, now))
		}
		if e.Frames > 3*b.cfg.StabilityFrames {
			delete(b.fresh, s.ID)
		}
		return events
	}

	if !b.known[s.ID] {
		b.known[s.ID] = true
		return b.startNew(s, now, events)
	}
	return events
}

func (b *BaselineMemory) startNew(s l5tracks.Snapshot, now time.Time, events []Event) []Event {
	e := &Entry{
		ID:         s.ID,
		ClassID:    s.ClassID,
		Confidence: s.Confidence,
		BBox:       s.BBox,
		Frames:     1,
		SinceFrame: b.frame,
	}
	b.fresh[s.ID] = e
	if e.Frames == b.cfg.StabilityFrames {
		e.Confirmed = true
		events = append(events, b.objectEvent(EventObjectAppeared, e, now))
	}
	return events
}

// forget drops every trace of id, as if it had never been seen.
func (b *BaselineMemory) forget(id uint64) {
	delete(b.known, id)
	delete(b.last, id)
	delete(b.missing, id)
	delete(b.fresh, id)
	delete(b.history, id)
	delete(b.interrupted, id)
}

// pruneWarmUp drops the state of IDs seen during warm-up but absent from
// the baseline frame.
func (b *BaselineMemory) pruneWarmUp(current map[uint64]l5tracks.Snapshot) {
	for id := range b.last {
		if _, ok := current[id]; !ok {
			delete(b.last, id)
			delete(b.history, id)
		}
	}
}

func (b *BaselineMemory) objectEvent(kind EventKind, e *Entry, now time.Time) Event {
	return Event{
		Kind:     kind,
		Frame:    b.frame,
		Time:     now,
		ObjectID: e.ID,
		ClassID:  e.ClassID,
		BBox:     e.BBox,
		Count:    e.Frames,
	}
}

func (b *BaselineMemory) appendHistory(id uint64, o Observation) {
	h := append(b.history[id], o)
	if len(h) > b.cfg.HistoryLength {
		h = h[len(h)-b.cfg.HistoryLength:]
	}
	b.history[id] = h
}

func (b *BaselineMemory) result(events []Event) Result {
	r := Result{
		Frame:               b.frame,
		BaselineEstablished: b.established,
		MissingIDs:          sortedKeys(b.missing),
		NewIDs:              sortedKeys(b.fresh),
		Events:              events,
	}
	r.Missing = make([]Entry, len(r.MissingIDs))
	for i, id := range r.MissingIDs {
		r.Missing[i] = *b.missing[id]
	}
	r.New = make([]Entry, len(r.NewIDs))
	for i, id := range r.NewIDs {
		r.New[i] = *b.fresh[id]
	}
	return r
}

// History returns a copy of the object's observations, oldest first.
// Unknown IDs yield an empty, non-nil slice.
func (b *BaselineMemory) History(id uint64) []Observation {
	h := b.history[id]
	out := make([]Observation, len(h))
	copy(out, h)
	return out
}

func sortedKeys[V any](m map[uint64]V) []uint64 {
	keys := make([]uint64, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
