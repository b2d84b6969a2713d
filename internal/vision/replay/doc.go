// Package replay reads recorded detector output as JSON Lines, one frame per
// line, and feeds it to a pipeline stream in file order:
//
//	{"frame": 12, "timestamp_ms": 1717230000480, "detections": [
//	  {"bbox": [10, 10, 50, 50], "class_id": 0, "confidence": 0.91}]}
//
// "frame" and "timestamp_ms" are optional; a missing frame index continues
// from the previous line. Blank lines are skipped.
package replay
