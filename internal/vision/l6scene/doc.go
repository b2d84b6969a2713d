// Package l6scene owns Layer 6 (Scene) of the scene data model.
//
// Responsibilities: debounced baseline memory of confirmed track
// identities, missing/new bookkeeping with exactly-once confirmation
// events, bounded per-object observation history, and the scene monitor
// that aggregates peaks, frame counts and uptime per session.
// Key types: BaselineMemory, Monitor, Event, Entry, Observation.
//
// Dependency rule: L6 may depend on L4 and L5, but never on L7+.
// No SQL/database code is allowed in this package.
//
// Debounce counters count consecutive calls, not elapsed time: callers
// must feed every frame exactly once, in order.
package l6scene
