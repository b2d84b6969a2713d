package timeutil

import (
	"sync"
	"time"
)

// FPSMeter reports frames per second averaged over the most recent
// window of frame intervals.
type FPSMeter struct {
	clock Clock

	mu       sync.Mutex
	prev     time.Time
	haveprev bool
	window   []time.Duration
	next     int
	filled   int
	sum      time.Duration
}

// NewFPSMeter creates a meter averaging over window intervals.
// Windows smaller than 1 are treated as 1. A nil clock uses RealClock.
func NewFPSMeter(window int, clock Clock) *FPSMeter {
	if window < 1 {
		window = 1
	}
	return &FPSMeter{
		clock:  OrReal(clock),
		window: make([]time.Duration, window),
	}
}

// Tick records a frame boundary and returns the updated rate.
// The first tick only establishes the reference time.
func (m *FPSMeter) Tick() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	if !m.haveprev {
		m.prev = now
		m.haveprev = true
		return m.fpsLocked()
	}
	delta := now.Sub(m.prev)
	m.prev = now

	// Ring buffer: evict the oldest interval once full.
	if m.filled == len(m.window) {
		m.sum -= m.window[m.next]
	} else {
		m.filled++
	}
	m.window[m.next] = delta
	m.sum += delta
	m.next = (m.next + 1) % len(m.window)

	return m.fpsLocked()
}

// FPS returns the current rate, or 0 before two ticks have been seen.
func (m *FPSMeter) FPS() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fpsLocked()
}

func (m *FPSMeter) fpsLocked() float64 {
	if m.filled == 0 || m.sum <= 0 {
		return 0
	}
	avg := m.sum.Seconds() / float64(m.filled)
	return 1.0 / avg
}
