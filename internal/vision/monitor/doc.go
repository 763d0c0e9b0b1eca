// Package monitor serves the HTTP status surface of the detector: JSON
// views of every stream, persisted episodes, and debug charts of the
// movement history ring.
package monitor
