package l4perception

import (
	"fmt"
	"math"
	"time"
)

// BBox is an axis-aligned box in pixel coordinates: [x1, y1, x2, y2].
// A well-formed box has x1 < x2 and y1 < y2.
type BBox [4]float64

// Width returns x2 - x1, clipped at zero.
func (b BBox) Width() float64 { return math.Max(0, b[2]-b[0]) }

// Height returns y2 - y1, clipped at zero.
func (b BBox) Height() float64 { return math.Max(0, b[3]-b[1]) }

// Area returns the clipped box area. Degenerate boxes have area 0.
func (b BBox) Area() float64 { return b.Width() * b.Height() }

// Valid reports whether every coordinate is finite and the box has a
// strictly positive extent on both axes.
func (b BBox) Valid() bool {
	for _, v := range b {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return b[0] < b[2] && b[1] < b[3]
}

// Center returns the box midpoint.
func (b BBox) Center() (cx, cy float64) {
	return (b[0] + b[2]) / 2, (b[1] + b[3]) / 2
}

// CenterForm converts the box to [cx, cy, w, h]. Width and height are the
// raw extents, so a malformed box round-trips unchanged.
func (b BBox) CenterForm() [4]float64 {
	w := b[2] - b[0]
	h := b[3] - b[1]
	return [4]float64{b[0] + w/2, b[1] + h/2, w, h}
}

// BBoxFromCenter is the inverse of CenterForm.
func BBoxFromCenter(cx, cy, w, h float64) BBox {
	return BBox{cx - w/2, cy - h/2, cx + w/2, cy + h/2}
}

func (b BBox) String() string {
	return fmt.Sprintf("[%.1f,%.1f,%.1f,%.1f]", b[0], b[1], b[2], b[3])
}

// Detection is one candidate object reported by the detector for a frame.
type Detection struct {
	BBox       BBox    `json:"bbox"`
	ClassID    int     `json:"class_id"`
	Confidence float64 `json:"confidence"`
}

// Validate checks the detection against the detector contract.
func (d Detection) Validate() error {
	if !d.BBox.Valid() {
		return fmt.Errorf("bbox %v must satisfy x1<x2 and y1<y2 with finite coordinates", [4]float64(d.BBox))
	}
	if d.ClassID < 0 {
		return fmt.Errorf("class_id must be non-negative, got %d", d.ClassID)
	}
	if math.IsNaN(d.Confidence) || d.Confidence < 0 || d.Confidence > 1 {
		return fmt.Errorf("confidence must be within [0,1], got %f", d.Confidence)
	}
	return nil
}

// Boxes extracts the bounding boxes of dets in order.
func Boxes(dets []Detection) []BBox {
	out := make([]BBox, len(dets))
	for i, d := range dets {
		out[i] = d.BBox
	}
	return out
}

// Frame is the detector output for one video frame of one stream.
// Index values must strictly increase within a stream.
type Frame struct {
	Index      int64       `json:"frame"`
	Timestamp  time.Time   `json:"-"`
	Detections []Detection `json:"detections"`
}
