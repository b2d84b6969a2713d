// Package pipeline provides orchestration for scene monitoring streams.
//
// A Stream wires the L5 tracker and the L6 scene monitor together with
// adapter sinks (metrics, persistence, timeline) and enforces the frame
// ordering the debounce counters depend on. The pipeline does not own
// domain logic; it delegates to layer packages and adapters. Independent
// streams share nothing and run in parallel via RunStreams.
package pipeline
