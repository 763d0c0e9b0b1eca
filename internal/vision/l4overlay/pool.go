package l4overlay

import (
	"errors"
	"sync"
)

// ErrAllocationFailure is returned when no display record can be acquired
// for a frame. It is not fatal: the frame is published without overlay.
var ErrAllocationFailure = errors.New("display record allocation failed")

// DisplayPool hands out display records for annotations.
type DisplayPool interface {
	Acquire() (*AnnotationRecord, error)
}

// HeapPool allocates a fresh record for every request.
type HeapPool struct{}

// Acquire returns a new zeroed record.
func (HeapPool) Acquire() (*AnnotationRecord, error) {
	return &AnnotationRecord{}, nil
}

// BoundedPool hands out at most a fixed number of records until it is
// reset, mirroring the per-batch display metadata pool of the renderer.
type BoundedPool struct {
	mu        sync.Mutex
	size      int
	available int
}

// NewBoundedPool creates a pool with size records available.
func NewBoundedPool(size int) *BoundedPool {
	if size < 0 {
		size = 0
	}
	return &BoundedPool{size: size, available: size}
}

// Acquire takes one record from the pool or fails with
// ErrAllocationFailure when the pool is exhausted.
func (p *BoundedPool) Acquire() (*AnnotationRecord, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.available == 0 {
		return nil, ErrAllocationFailure
	}
	p.available--
	return &AnnotationRecord{}, nil
}

// Available returns the number of records left before the next Reset.
func (p *BoundedPool) Available() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.available
}

// Reset makes all records available again. The renderer calls it once a
// batch has been drawn.
func (p *BoundedPool) Reset() {
	p.mu.Lock()
	p.available = p.size
	p.mu.Unlock()
}
