// Package l3loiter owns Layer 3 (Loitering) of the vision data model.
//
// Responsibilities: the periodic loitering decision over a movement
// history, the sticky tri-state decision held between evaluations, and the
// last known values shown on the overlay.
//
// Dependency rule: L3 may depend on L1-L2.
package l3loiter
