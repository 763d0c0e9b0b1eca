// Package l2history owns Layer 2 (History) of the vision data model.
//
// Responsibilities: the fixed-capacity ring of recent horizontal positions
// for one tracked subject and the successive-difference statistics derived
// from it.
//
// Dependency rule: L2 may depend on L1, but never on L3+.
package l2history
