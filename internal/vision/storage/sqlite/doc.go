// Package sqlite contains the SQLite repository for scene monitoring
// sessions, scene events and per-frame statistics.
//
// All database read/write operations belong here rather than in the
// domain layer packages (L4-L6). The schema is managed by embedded
// golang-migrate migrations applied on Open.
package sqlite
