package l4perception

// IoU returns the intersection-over-union of two axis-aligned boxes.
// Negative overlaps clip to zero and a zero union yields 0, so the result
// always lies in [0, 1].
func IoU(a, b BBox) float64 {
	ix1 := max(a[0], b[0])
	iy1 := max(a[1], b[1])
	ix2 := min(a[2], b[2])
	iy2 := min(a[3], b[3])

	inter := max(0, ix2-ix1) * max(0, iy2-iy1)
	union := a.Area() + b.Area() - inter
	// Written as negations so NaN coordinates also fall through to 0.
	if !(inter > 0) || !(union > 0) {
		return 0
	}
	iou := inter / union
	if iou > 1 {
		return 1
	}
	return iou
}
