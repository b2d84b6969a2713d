package pipeline

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/scenewatch/internal/vision/l4perception"
)

// Run processes frames until the channel closes, a frame is rejected, or ctx
// is done. Cancellation is observed between frames only, so every frame
// that was started is fully applied.
func (s *Stream) Run(ctx context.Context, frames <-chan l4perception.Frame) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case f, ok := <-frames:
			if !ok {
				return nil
			}
			if _, err := s.ProcessFrame(f); err != nil {
				return err
			}
		}
	}
}

// Job pairs a stream with its frame source.
type Job struct {
	Stream *Stream
	Frames <-chan l4perception.Frame
}

// RunStreams runs every job in its own goroutine. The first failure cancels
// the others and is returned.
func RunStreams(ctx context.Context, jobs ...Job) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, job := range jobs {
		job := job
		g.Go(func() error {
			if err := job.Stream.Run(ctx, job.Frames); err != nil {
				return fmt.Errorf("stream %s: %w", job.Stream.Name(), err)
			}
			diagf("stream %s drained", job.Stream.Name())
			return nil
		})
	}
	return g.Wait()
}

// Registry indexes streams by name for the HTTP surface.
type Registry struct {
	mu      sync.RWMutex
	streams map[string]*Stream
}

// NewRegistry returns a registry holding streams.
func NewRegistry(streams ...*Stream) *Registry {
	r := &Registry{streams: make(map[string]*Stream)}
	for _, s := range streams {
		r.Add(s)
	}
	return r
}

// Add registers s, replacing any stream with the same name.
func (r *Registry) Add(s *Stream) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.streams[s.Name()] = s
}

// Get returns the named stream.
func (r *Registry) Get(name string) (*Stream, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.streams[name]
	return s, ok
}

// Names returns the registered stream names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.streams))
	for name := range r.streams {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Streams returns the registered streams sorted by name.
func (r *Registry) Streams() []*Stream {
	names := r.Names()
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Stream, 0, len(names))
	for _, name := range names {
		if s, ok := r.streams[name]; ok {
			out = append(out, s)
		}
	}
	return out
}
