// Package l4perception owns Layer 4 (Perception) of the scene data model.
//
// Responsibilities: the per-frame detection record handed over by the
// external detector, axis-aligned box geometry, and box overlap (IoU).
// Key types: Detection, BBox.
//
// Dependency rule: L4 depends on nothing else in internal/vision.
// Detections are ephemeral; nothing in this package retains them beyond
// a single call.
package l4perception
