// Package l4overlay owns Layer 4 (Overlay) of the vision data model.
//
// Responsibilities: building the single on-screen annotation published
// for each processed frame and the display record pool it is drawn from.
//
// Dependency rule: L4 may depend on L1-L3.
package l4overlay
