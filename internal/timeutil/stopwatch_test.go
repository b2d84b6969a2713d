package timeutil

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStopwatch_StartStop(t *testing.T) {
	t.Parallel()

	clock := NewMockClock(time.Unix(100, 0))
	sw := NewStopwatch("update", clock)

	assert.Equal(t, time.Duration(0), sw.Stop(), "stop before start is a no-op")

	sw.Start()
	clock.Advance(25 * time.Millisecond)
	assert.Equal(t, 25*time.Millisecond, sw.Stop())
	assert.Equal(t, 25*time.Millisecond, sw.Elapsed())
	assert.InDelta(t, 25.0, sw.ElapsedMillis(), 1e-9)

	// A second Stop leaves the recorded span untouched.
	clock.Advance(time.Second)
	assert.Equal(t, time.Duration(0), sw.Stop())
	assert.Equal(t, 25*time.Millisecond, sw.Elapsed())
}

func TestStopwatch_MeasureRecordsOnError(t *testing.T) {
	t.Parallel()

	clock := NewMockClock(time.Unix(100, 0))
	sw := NewStopwatch("update", clock)
	boom := errors.New("boom")

	err := sw.Measure(func() error {
		clock.Advance(10 * time.Millisecond)
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 10*time.Millisecond, sw.Elapsed())
}

func TestStopwatch_MeasureRecordsOnPanic(t *testing.T) {
	t.Parallel()

	clock := NewMockClock(time.Unix(100, 0))
	sw := NewStopwatch("update", clock)

	assert.Panics(t, func() {
		_ = sw.Measure(func() error {
			clock.Advance(7 * time.Millisecond)
			panic("detector exploded")
		})
	})
	assert.Equal(t, 7*time.Millisecond, sw.Elapsed())
}

func TestFPSMeter(t *testing.T) {
	t.Parallel()

	clock := NewMockClock(time.Unix(0, 0))
	m := NewFPSMeter(3, clock)

	assert.Equal(t, 0.0, m.FPS())
	assert.Equal(t, 0.0, m.Tick(), "first tick only sets the reference")

	for i := 0; i < 3; i++ {
		clock.Advance(100 * time.Millisecond)
		m.Tick()
	}
	assert.InDelta(t, 10.0, m.FPS(), 1e-9)

	// Older 100ms intervals roll out of the 3-wide window.
	for i := 0; i < 3; i++ {
		clock.Advance(50 * time.Millisecond)
		m.Tick()
	}
	assert.InDelta(t, 20.0, m.FPS(), 1e-9)
}

func TestFPSMeter_ClampsWindow(t *testing.T) {
	t.Parallel()

	clock := NewMockClock(time.Unix(0, 0))
	m := NewFPSMeter(0, clock)
	m.Tick()
	clock.Advance(250 * time.Millisecond)
	assert.InDelta(t, 4.0, m.Tick(), 1e-9)
}
