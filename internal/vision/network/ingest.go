package network

import (
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/banshee-data/loiter.report/internal/timeutil"
	"github.com/banshee-data/loiter.report/internal/vision/l1meta"
	"github.com/banshee-data/loiter.report/internal/vision/pipeline"
)

// BatchProcessor consumes decoded batches. *pipeline.Registry implements it.
type BatchProcessor interface {
	ProcessBatch(b *l1meta.Batch) ([]pipeline.FrameResult, error)
}

// PacketHandler accepts one encoded batch payload.
type PacketHandler interface {
	HandlePacket(payload []byte) error
}

// IngestStats is a point-in-time copy of the Ingestor counters.
type IngestStats struct {
	Packets       uint64 `json:"packets"`
	Bytes         uint64 `json:"bytes"`
	Frames        uint64 `json:"frames"`
	DecodeErrors  uint64 `json:"decode_errors"`
	ProcessErrors uint64 `json:"process_errors"`
	Forwarded     uint64 `json:"forwarded"`
}

// Ingestor decodes payloads and hands the resulting batches to a
// BatchProcessor. It is safe for concurrent use by several transports.
type Ingestor struct {
	processor BatchProcessor
	forwarder *PacketForwarder
	clock     timeutil.Clock

	packets       atomic.Uint64
	bytes         atomic.Uint64
	frames        atomic.Uint64
	decodeErrors  atomic.Uint64
	processErrors atomic.Uint64
	forwarded     atomic.Uint64

	// lastLog and lastFrames snapshot the previous LogStats call.
	lastLog    atomic.Int64
	lastFrames atomic.Uint64
}

// NewIngestor returns an Ingestor feeding p. forwarder may be nil; a nil
// clock means timeutil.RealClock.
func NewIngestor(p BatchProcessor, forwarder *PacketForwarder, clock timeutil.Clock) *Ingestor {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	ing := &Ingestor{processor: p, forwarder: forwarder, clock: clock}
	ing.lastLog.Store(clock.Now().UnixNano())
	return ing
}

// HandlePacket decodes one payload and processes every frame in it. Decode
// failures are counted and returned; the caller decides whether to keep
// reading.
func (ing *Ingestor) HandlePacket(payload []byte) error {
	ing.packets.Add(1)
	ing.bytes.Add(uint64(len(payload)))

	if ing.forwarder != nil {
		if ing.forwarder.ForwardAsync(payload) {
			ing.forwarded.Add(1)
		}
	}

	batch, err := l1meta.DecodeBatch(payload)
	if err != nil {
		ing.decodeErrors.Add(1)
		return err
	}
	results, err := ing.processor.ProcessBatch(batch)
	ing.frames.Add(uint64(len(results)))
	if err != nil {
		ing.processErrors.Add(1)
		return fmt.Errorf("process batch: %w", err)
	}
	return nil
}

// Stats returns the current counters.
func (ing *Ingestor) Stats() IngestStats {
	return IngestStats{
		Packets:       ing.packets.Load(),
		Bytes:         ing.bytes.Load(),
		Frames:        ing.frames.Load(),
		DecodeErrors:  ing.decodeErrors.Load(),
		ProcessErrors: ing.processErrors.Load(),
		Forwarded:     ing.forwarded.Load(),
	}
}

// FrameRate returns the frames per second since the previous FrameRate
// or LogStats call and starts a new interval.
func (ing *Ingestor) FrameRate() float64 {
	now := ing.clock.Now().UnixNano()
	prev := ing.lastLog.Swap(now)
	elapsed := time.Duration(now - prev).Seconds()
	frames := ing.frames.Load()
	delta := frames - ing.lastFrames.Swap(frames)
	if elapsed <= 0 {
		return 0
	}
	return float64(delta) / elapsed
}

// LogStats prints the counters with the rate since the previous call.
func (ing *Ingestor) LogStats() {
	rate := ing.FrameRate()
	s := ing.Stats()
	log.Printf("Ingest: %d packets (%d bytes), %d frames (%.1f/s since last), %d decode errors, %d process errors",
		s.Packets, s.Bytes, s.Frames, rate, s.DecodeErrors, s.ProcessErrors)
}
