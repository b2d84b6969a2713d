package l6scene

import (
	"math/rand"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/scenewatch/internal/timeutil"
	"github.com/banshee-data/scenewatch/internal/vision/l4perception"
	"github.com/banshee-data/scenewatch/internal/vision/l5tracks"
)

var epoch = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func snaps(ids ...uint64) []l5tracks.Snapshot {
	out := make([]l5tracks.Snapshot, len(ids))
	for i, id := range ids {
		x := float64(id * 100)
		out[i] = l5tracks.Snapshot{
			ID:         id,
			BBox:       l4perception.BBox{x, 0, x + 50, 50},
			ClassID:    int(id % 3),
			Confidence: 0.8,
			State:      l5tracks.TrackConfirmed,
		}
	}
	return out
}

func newTestBaseline(t *testing.T, missing, stability int) (*BaselineMemory, *timeutil.MockClock) {
	t.Helper()
	clock := timeutil.NewMockClock(epoch)
	b, err := NewBaselineMemory(BaselineConfig{MissingObjectFrames: missing, StabilityFrames: stability, HistoryLength: 30}, clock)
	require.NoError(t, err)
	return b, clock
}

func eventsOf(r Result, kind EventKind) []Event {
	var out []Event
	for _, e := range r.Events {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

func TestBaselineConfig_Validate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		cfg  BaselineConfig
		ok   bool
	}{
		{"defaults", DefaultBaselineConfig(), true},
		{"minimums", BaselineConfig{MissingObjectFrames: 1, StabilityFrames: 1, HistoryLength: 1}, true},
		{"zero missing", BaselineConfig{MissingObjectFrames: 0, StabilityFrames: 5, HistoryLength: 30}, false},
		{"negative stability", BaselineConfig{MissingObjectFrames: 15, StabilityFrames: -1, HistoryLength: 30}, false},
		{"zero history", BaselineConfig{MissingObjectFrames: 15, StabilityFrames: 5, HistoryLength: 0}, false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := NewBaselineMemory(tt.cfg, nil)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidConfig)
			}
		})
	}
}

func TestDefaultBaselineConfig(t *testing.T) {
	t.Parallel()
	assert.Equal(t, BaselineConfig{MissingObjectFrames: 15, StabilityFrames: 5, HistoryLength: 30}, DefaultBaselineConfig())
}

func TestBaseline_WarmUp(t *testing.T) {
	t.Parallel()
	b, _ := newTestBaseline(t, 15, 5)

	for frame := 1; frame <= 4; frame++ {
		// Objects churn freely during warm-up without bookkeeping.
		r := b.Update(snaps(uint64(frame)))
		assert.False(t, r.BaselineEstablished)
		assert.Empty(t, r.MissingIDs)
		assert.Empty(t, r.NewIDs)
		assert.Empty(t, r.Events)
	}

	r := b.Update(snaps(1, 2))
	assert.True(t, r.BaselineEstablished)
	require.Len(t, r.Events, 1)
	assert.Equal(t, EventBaselineEstablished, r.Events[0].Kind)
	assert.Equal(t, 2, r.Events[0].Count)
	assert.Equal(t, int64(5), r.Events[0].Frame)

	// IDs seen only before the baseline are not part of it.
	r = b.Update(snaps(1, 2))
	assert.Empty(t, r.MissingIDs)
	assert.Empty(t, r.NewIDs)
}

func TestBaseline_MissingFiresExactlyOnce(t *testing.T) {
	t.Parallel()
	b, _ := newTestBaseline(t, 15, 5)
	for i := 0; i < 5; i++ {
		b.Update(snaps(1))
	}

	var fired []int
	for absent := 1; absent <= 40; absent++ {
		r := b.Update(nil)
		require.Equal(t, []uint64{1}, r.MissingIDs, "absent frame %d", absent)
		assert.Equal(t, absent, r.Missing[0].Frames)
		assert.Equal(t, absent >= 15, r.Missing[0].Confirmed)
		for range eventsOf(r, EventObjectMissing) {
			fired = append(fired, absent)
		}
	}
	assert.Equal(t, []int{15}, fired)
}

func TestBaseline_MissingEventPayload(t *testing.T) {
	t.Parallel()
	b, clock := newTestBaseline(t, 2, 1)
	b.Update(snaps(4))
	clock.Advance(time.Second)
	b.Update(nil)
	clock.Advance(time.Second)
	r := b.Update(nil)

	want := []Event{{
		Kind:     EventObjectMissing,
		Frame:    3,
		Time:     epoch.Add(2 * time.Second),
		ObjectID: 4,
		ClassID:  1,
		BBox:     l4perception.BBox{400, 0, 450, 50},
		Count:    2,
	}}
	if diff := cmp.Diff(want, r.Events); diff != "" {
		t.Errorf("events mismatch (-want +got):\n%s", diff)
	}
}

func TestBaseline_ReappearanceClearsMissing(t *testing.T) {
	t.Parallel()
	b, _ := newTestBaseline(t, 15, 5)
	for i := 0; i < 5; i++ {
		b.Update(snaps(1, 2))
	}
	for i := 0; i < 3; i++ {
		r := b.Update(snaps(2))
		assert.Equal(t, []uint64{1}, r.MissingIDs)
	}

	r := b.Update(snaps(1, 2))
	assert.Empty(t, r.MissingIDs, "reappeared object must not be reported missing")
	assert.Empty(t, eventsOf(r, EventObjectReappeared), "dropout below the missing threshold is debounced")

	// A fresh absence episode restarts the count and can fire again.
	var fired int
	for i := 0; i < 15; i++ {
		r = b.Update(snaps(2))
		fired += len(eventsOf(r, EventObjectMissing))
	}
	assert.Equal(t, 1, fired)
	assert.Equal(t, 15, r.Missing[0].Frames)
}

func TestBaseline_ConfirmedMissingReappears(t *testing.T) {
	t.Parallel()
	b, _ := newTestBaseline(t, 3, 1)
	b.Update(snaps(1))
	for i := 0; i < 5; i++ {
		b.Update(nil)
	}
	r := b.Update(snaps(1))
	assert.Empty(t, r.MissingIDs)
	assert.Empty(t, r.NewIDs, "a known object returning is not new")
	assert.Len(t, eventsOf(r, EventObjectReappeared), 1)
}

func TestBaseline_ReappearedCarriesAbsentCount(t *testing.T) {
	t.Parallel()
	b, _ := newTestBaseline(t, 2, 1)
	b.Update(snaps(1, 2))
	for i := 0; i < 4; i++ {
		b.Update(snaps(2))
	}
	r := b.Update(snaps(1, 2))
	reappeared := eventsOf(r, EventObjectReappeared)
	require.Len(t, reappeared, 1)
	assert.Equal(t, uint64(1), reappeared[0].ObjectID)
	assert.Equal(t, 4, reappeared[0].Count)
}

func TestBaseline_NewObjectLifecycle(t *testing.T) {
	t.Parallel()
	b, _ := newTestBaseline(t, 15, 5)
	for i := 0; i < 5; i++ {
		b.Update(snaps(1))
	}

	var appearedAt []int
	for present := 1; present <= 20; present++ {
		r := b.Update(snaps(1, 7))
		if present <= 15 {
			require.Equal(t, []uint64{7}, r.NewIDs, "present frame %d", present)
			assert.Equal(t, present, r.New[0].Frames)
			assert.Equal(t, present >= 5, r.New[0].Confirmed)
		} else {
			assert.Empty(t, r.NewIDs, "evicted once new_frames exceeds 3x stability (frame %d)", present)
		}
		for range eventsOf(r, EventObjectAppeared) {
			appearedAt = append(appearedAt, present)
		}
		assert.Empty(t, r.MissingIDs)
	}
	assert.Equal(t, []int{5}, appearedAt)
}

func TestBaseline_NewThenGoneIsMissingNotNew(t *testing.T) {
	t.Parallel()
	b, _ := newTestBaseline(t, 15, 5)
	for i := 0; i < 5; i++ {
		b.Update(snaps(1))
	}
	b.Update(snaps(1, 9))
	b.Update(snaps(1, 9))

	r := b.Update(snaps(1))
	assert.Equal(t, []uint64{9}, r.MissingIDs)
	assert.Empty(t, r.NewIDs)
	assert.Empty(t, eventsOf(r, EventObjectAppeared))
}

func TestBaseline_InterruptedNewObjectStillAppears(t *testing.T) {
	t.Parallel()
	b, _ := newTestBaseline(t, 15, 5)
	for i := 0; i < 5; i++ {
		b.Update(snaps(1))
	}
	b.Update(snaps(1, 9))
	b.Update(snaps(1, 9))
	b.Update(snaps(1))

	var appearedAt []int
	var reappeared int
	for present := 1; present <= 30; present++ {
		r := b.Update(snaps(1, 9))
		assert.Empty(t, r.MissingIDs, "present frame %d", present)
		if present <= 15 {
			require.Equal(t, []uint64{9}, r.NewIDs, "present frame %d", present)
			assert.Equal(t, present, r.New[0].Frames, "new count restarts after the gap")
		}
		for _, e := range eventsOf(r, EventObjectAppeared) {
			assert.Equal(t, uint64(9), e.ObjectID)
			appearedAt = append(appearedAt, present)
		}
		reappeared += len(eventsOf(r, EventObjectReappeared))
	}
	assert.Equal(t, []int{5}, appearedAt)
	assert.Zero(t, reappeared)
}

func TestBaseline_InterruptedNewObjectIsForgotten(t *testing.T) {
	t.Parallel()
	b, _ := newTestBaseline(t, 3, 5)
	for i := 0; i < 5; i++ {
		b.Update(snaps(1))
	}
	b.Update(snaps(1, 9))
	b.Update(snaps(1, 9))

	var missingEvents int
	var r Result
	for i := 0; i < 10; i++ {
		r = b.Update(snaps(1))
		missingEvents += len(eventsOf(r, EventObjectMissing))
	}
	assert.Zero(t, missingEvents, "never-announced object must not be reported missing")
	assert.Empty(t, r.MissingIDs)
	assert.Empty(t, b.History(9))

	// Seen again later it is a brand new candidate.
	r = b.Update(snaps(1, 9))
	assert.Equal(t, []uint64{9}, r.NewIDs)
	assert.Equal(t, 1, r.New[0].Frames)
	assert.Empty(t, eventsOf(r, EventObjectReappeared))
}

func TestBaseline_WarmUpOnlyIDsPruned(t *testing.T) {
	t.Parallel()
	b, _ := newTestBaseline(t, 3, 3)
	b.Update(snaps(1, 4))
	b.Update(snaps(1, 4))
	r := b.Update(snaps(1))
	require.True(t, r.BaselineEstablished)

	assert.Empty(t, b.History(4), "ids absent from the baseline frame are dropped")
	assert.Len(t, b.History(1), 3)
}

func TestBaseline_ThresholdOfOne(t *testing.T) {
	t.Parallel()
	b, _ := newTestBaseline(t, 1, 1)
	r := b.Update(snaps(1))
	assert.True(t, r.BaselineEstablished)

	r = b.Update(snaps(2))
	assert.Len(t, eventsOf(r, EventObjectMissing), 1)
	assert.Len(t, eventsOf(r, EventObjectAppeared), 1)
	assert.Equal(t, []uint64{1}, r.MissingIDs)
	assert.Equal(t, []uint64{2}, r.NewIDs)
}

func TestBaseline_History(t *testing.T) {
	t.Parallel()
	b, clock := newTestBaseline(t, 15, 5)

	unknown := b.History(42)
	assert.NotNil(t, unknown)
	assert.Empty(t, unknown)

	for i := 0; i < 45; i++ {
		clock.Advance(100 * time.Millisecond)
		b.Update(snaps(3))
	}
	h := b.History(3)
	require.Len(t, h, 30)
	assert.Equal(t, int64(16), h[0].Frame)
	assert.Equal(t, int64(45), h[29].Frame)
	assert.Equal(t, epoch.Add(4500*time.Millisecond), h[29].Timestamp)

	// History is a copy.
	h[0].Frame = -1
	assert.Equal(t, int64(16), b.History(3)[0].Frame)
}

func TestBaseline_HistoryRecordedDuringWarmUp(t *testing.T) {
	t.Parallel()
	b, _ := newTestBaseline(t, 15, 5)
	b.Update(snaps(1))
	b.Update(snaps(1))
	assert.Len(t, b.History(1), 2)
}

func TestBaseline_Reset(t *testing.T) {
	t.Parallel()
	b, clock := newTestBaseline(t, 2, 1)
	b.Update(snaps(1))
	b.Update(nil)
	clock.Advance(time.Minute)
	b.Reset()

	assert.False(t, b.Established())
	assert.Equal(t, int64(0), b.Frame())
	assert.Equal(t, epoch.Add(time.Minute), b.BaselineTime())
	assert.Empty(t, b.History(1))

	r := b.Update(snaps(5))
	assert.True(t, r.BaselineEstablished)
	assert.Empty(t, r.MissingIDs)
}

func TestBaseline_SortedOutput(t *testing.T) {
	t.Parallel()
	b, _ := newTestBaseline(t, 15, 1)
	b.Update(snaps(9, 3, 5))
	r := b.Update(snaps(12, 10, 11))
	assert.Equal(t, []uint64{3, 5, 9}, r.MissingIDs)
	assert.Equal(t, []uint64{10, 11, 12}, r.NewIDs)
	for i, e := range r.Missing {
		assert.Equal(t, r.MissingIDs[i], e.ID)
	}
}

func TestBaseline_RandomSequenceInvariants(t *testing.T) {
	t.Parallel()
	const missingThreshold, stability = 4, 3
	b, _ := newTestBaseline(t, missingThreshold, stability)
	rng := rand.New(rand.NewSource(7))

	missingEvents := map[uint64]int{}
	for frame := 0; frame < 500; frame++ {
		var ids []uint64
		for id := uint64(1); id <= 12; id++ {
			if rng.Intn(3) > 0 {
				ids = append(ids, id)
			}
		}
		r := b.Update(snaps(ids...))

		present := map[uint64]bool{}
		for _, id := range ids {
			present[id] = true
		}
		newSet := map[uint64]bool{}
		for _, id := range r.NewIDs {
			newSet[id] = true
		}
		for _, e := range r.Missing {
			assert.False(t, newSet[e.ID], "id %d both missing and new", e.ID)
			assert.False(t, present[e.ID], "present id %d reported missing", e.ID)
			assert.GreaterOrEqual(t, e.Frames, 1)
		}
		for _, e := range r.New {
			assert.LessOrEqual(t, e.Frames, 3*stability)
		}
		for _, ev := range r.Events {
			switch ev.Kind {
			case EventObjectMissing:
				assert.Equal(t, missingThreshold, ev.Count)
				missingEvents[ev.ObjectID]++
			case EventObjectReappeared:
				missingEvents[ev.ObjectID] = 0
			}
			assert.LessOrEqual(t, missingEvents[ev.ObjectID], 1, "missing fired twice in one episode for %d", ev.ObjectID)
		}
		for id := uint64(1); id <= 12; id++ {
			assert.LessOrEqual(t, len(b.History(id)), 30)
		}
	}
}
