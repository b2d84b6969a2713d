package replay

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/banshee-data/scenewatch/internal/vision/l4perception"
)

// ErrMalformedFrame is wrapped by every parse or validation failure. The
// wrapping error names the source and line.
var ErrMalformedFrame = errors.New("malformed frame")

// maxLineBytes bounds a single encoded frame.
const maxLineBytes = 16 << 20

type wireFrame struct {
	Frame       *int64          `json:"frame"`
	TimestampMs *int64          `json:"timestamp_ms"`
	Detections  []wireDetection `json:"detections"`
}

type wireDetection struct {
	BBox       []float64 `json:"bbox"`
	ClassID    int       `json:"class_id"`
	Confidence *float64  `json:"confidence"`
}

// Reader decodes frames from a JSON Lines stream.
type Reader struct {
	source  string
	scanner *bufio.Scanner
	line    int
	next    int64
}

// NewReader wraps r. source names the input in error messages.
func NewReader(r io.Reader, source string) *Reader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxLineBytes)
	return &Reader{source: source, scanner: sc, next: 1}
}

// Next returns the next frame, or io.EOF once the input is exhausted.
func (r *Reader) Next() (l4perception.Frame, error) {
	for r.scanner.Scan() {
		r.line++
		raw := r.scanner.Bytes()
		if len(bytes.TrimSpace(raw)) == 0 {
			continue
		}
		return r.decode(raw)
	}
	if err := r.scanner.Err(); err != nil {
		return l4perception.Frame{}, fmt.Errorf("read %s after line %d: %w", r.source, r.line, err)
	}
	return l4perception.Frame{}, io.EOF
}

func (r *Reader) decode(raw []byte) (l4perception.Frame, error) {
	var w wireFrame
	if err := json.Unmarshal(raw, &w); err != nil {
		return l4perception.Frame{}, r.malformed("%v", err)
	}

	f := l4perception.Frame{Index: r.next}
	if w.Frame != nil {
		f.Index = *w.Frame
	}
	if w.TimestampMs != nil {
		f.Timestamp = time.UnixMilli(*w.TimestampMs).UTC()
	}

	f.Detections = make([]l4perception.Detection, 0, len(w.Detections))
	for i, wd := range w.Detections {
		if len(wd.BBox) != 4 {
			return l4perception.Frame{}, r.malformed("detection %d: bbox must have 4 coordinates, got %d", i, len(wd.BBox))
		}
		if wd.Confidence == nil {
			return l4perception.Frame{}, r.malformed("detection %d: confidence is required", i)
		}
		d := l4perception.Detection{
			BBox:       l4perception.BBox{wd.BBox[0], wd.BBox[1], wd.BBox[2], wd.BBox[3]},
			ClassID:    wd.ClassID,
			Confidence: *wd.Confidence,
		}
		if err := d.Validate(); err != nil {
			return l4perception.Frame{}, r.malformed("detection %d: %v", i, err)
		}
		f.Detections = append(f.Detections, d)
	}

	r.next = f.Index + 1
	return f, nil
}

func (r *Reader) malformed(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s:%d: %s", ErrMalformedFrame, r.source, r.line, fmt.Sprintf(format, args...))
}

// Feed sends every frame to out until EOF, a decode error, or ctx is done.
// It does not close out.
func (r *Reader) Feed(ctx context.Context, out chan<- l4perception.Frame) error {
	for {
		f, err := r.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		select {
		case out <- f:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// ReadAll decodes every frame from r.
func ReadAll(r io.Reader, source string) ([]l4perception.Frame, error) {
	rd := NewReader(r, source)
	var frames []l4perception.Frame
	for {
		f, err := rd.Next()
		if errors.Is(err, io.EOF) {
			return frames, nil
		}
		if err != nil {
			return nil, err
		}
		frames = append(frames, f)
	}
}

// File is a Reader over an opened file.
type File struct {
	*Reader
	f *os.File
}

// OpenFile opens path for replay.
func OpenFile(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open replay file: %w", err)
	}
	return &File{Reader: NewReader(f, path), f: f}, nil
}

// Close closes the underlying file.
func (f *File) Close() error { return f.f.Close() }
