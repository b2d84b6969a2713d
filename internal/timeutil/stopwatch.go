package timeutil

import (
	"sync"
	"time"
)

// Stopwatch measures named spans of work. Stop is idempotent and Measure
// records the span on every exit path, including panics.
type Stopwatch struct {
	Name string

	clock   Clock
	mu      sync.Mutex
	started time.Time
	running bool
	elapsed time.Duration
}

// NewStopwatch returns a stopped Stopwatch. A nil clock uses RealClock.
func NewStopwatch(name string, clock Clock) *Stopwatch {
	return &Stopwatch{Name: name, clock: OrReal(clock)}
}

// Start begins a new span, discarding any span already in progress.
func (s *Stopwatch) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = s.clock.Now()
	s.running = true
}

// Stop ends the running span and returns its duration. Stopping a
// stopwatch that is not running returns 0 and leaves Elapsed unchanged.
func (s *Stopwatch) Stop() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return 0
	}
	s.elapsed = s.clock.Since(s.started)
	s.running = false
	return s.elapsed
}

// Elapsed returns the duration of the last completed span.
func (s *Stopwatch) Elapsed() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.elapsed
}

// ElapsedMillis returns Elapsed in fractional milliseconds.
func (s *Stopwatch) ElapsedMillis() float64 {
	return float64(s.Elapsed()) / float64(time.Millisecond)
}

// Measure runs fn inside a span. The span is stopped even if fn panics;
// the panic is then propagated.
func (s *Stopwatch) Measure(fn func() error) error {
	s.Start()
	defer s.Stop()
	return fn()
}
