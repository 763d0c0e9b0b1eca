package l2history

import (
	"fmt"
	"math"
)

// DefaultCapacity is the ring size used when none is configured.
const DefaultCapacity = 64

// MovementHistory is a fixed-capacity ring of left-edge positions indexed
// by absolute frame number modulo capacity. Slots are overwritten in place
// and never shifted. It is not safe for concurrent use.
type MovementHistory struct {
	positions  []float64
	writeIndex int    // slot written by the most recent Record
	recorded   uint64 // number of Record calls since creation or Reset
}

// NewMovementHistory allocates a zeroed ring of the given capacity.
// Capacity must be at least 2 so that one delta exists.
func NewMovementHistory(capacity int) (*MovementHistory, error) {
	if capacity < 2 {
		return nil, fmt.Errorf("history capacity must be > 1, got %d", capacity)
	}
	return &MovementHistory{positions: make([]float64, capacity)}, nil
}

// Capacity returns the ring size C.
func (h *MovementHistory) Capacity() int {
	return len(h.positions)
}

// Record stores leftEdge in slot frameIndex mod C.
func (h *MovementHistory) Record(frameIndex uint64, leftEdge float64) {
	slot := int(frameIndex % uint64(len(h.positions)))
	h.positions[slot] = leftEdge
	h.writeIndex = slot
	h.recorded++
}

// WriteIndex returns the slot written by the most recent Record.
func (h *MovementHistory) WriteIndex() int {
	return h.writeIndex
}

// Recorded returns the number of positions recorded so far.
func (h *MovementHistory) Recorded() uint64 {
	return h.recorded
}

// At returns the position stored in slot i.
func (h *MovementHistory) At(i int) float64 {
	return h.positions[i]
}

// DeltaAverage returns the mean of |p[i]-p[i-1]| for i in 1..C-1.
//
// The slot 0 wrap difference |p[0]-p[C-1]| is never part of the sum, even
// after the ring has wrapped, so one arbitrary sample rather than the
// oldest is always dropped. This matches the deployed detector and may be
// an off-by-one; change it only together with the threshold tuning.
// Never-written slots still hold zero and take part in the average.
func (h *MovementHistory) DeltaAverage() float64 {
	var sum float64
	for i := 1; i < len(h.positions); i++ {
		sum += math.Abs(h.positions[i] - h.positions[i-1])
	}
	return sum / float64(len(h.positions)-1)
}

// Deltas appends the C-1 absolute slot differences used by DeltaAverage to
// dst and returns the extended slice.
func (h *MovementHistory) Deltas(dst []float64) []float64 {
	for i := 1; i < len(h.positions); i++ {
		dst = append(dst, math.Abs(h.positions[i]-h.positions[i-1]))
	}
	return dst
}

// Snapshot returns a copy of the ring in slot order.
func (h *MovementHistory) Snapshot() []float64 {
	out := make([]float64, len(h.positions))
	copy(out, h.positions)
	return out
}

// Reset zeroes the ring.
func (h *MovementHistory) Reset() {
	for i := range h.positions {
		h.positions[i] = 0
	}
	h.writeIndex = 0
	h.recorded = 0
}
