// Package l5tracks owns Layer 5 (Tracks) of the scene data model.
//
// Responsibilities: per-track constant-velocity Kalman estimation of box
// geometry, IoU-gated detection-to-track association (deterministic greedy
// by default, Hungarian on request), and the track lifecycle (tentative,
// confirmed, coasting, dead).
// Key types: Tracker, Track, Snapshot, MotionEstimator.
//
// Dependency rule: L5 may depend on L4, but never on L6.
// No SQL/database code is allowed in this package.
//
// A Tracker belongs to exactly one stream. Update is serialised under the
// tracker lock, so read accessors may be called from other goroutines.
package l5tracks
