// Package sqlite contains SQLite repository implementations for the
// loitering detector's event log.
//
// Detector runs, loitering evaluations and loitering episodes are written
// here rather than in the layer packages (L1-L4), which stay free of SQL.
// The tables are created by the migrations in internal/db. Nothing in
// this package is read back to restore detector state.
package sqlite
