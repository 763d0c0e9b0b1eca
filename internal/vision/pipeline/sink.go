package pipeline

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// EvaluationWriter persists evaluation events. Implementations may block.
type EvaluationWriter interface {
	WriteEvaluation(ctx context.Context, ev EvaluationEvent) error
}

// AsyncEvaluationSink queues evaluations for a writer goroutine so that
// the frame callback never waits on storage. Events are dropped when the
// queue is full.
type AsyncEvaluationSink struct {
	writer EvaluationWriter
	queue  chan EvaluationEvent

	written atomic.Uint64
	dropped atomic.Uint64
	failed  atomic.Uint64

	running atomic.Bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewAsyncEvaluationSink creates a sink with room for queueSize pending
// events. Call Start before use.
func NewAsyncEvaluationSink(w EvaluationWriter, queueSize int) *AsyncEvaluationSink {
	if queueSize < 1 {
		queueSize = 1
	}
	return &AsyncEvaluationSink{
		writer: w,
		queue:  make(chan EvaluationEvent, queueSize),
		stopCh: make(chan struct{}),
	}
}

// Start launches the writer goroutine. It exits when ctx is done or Stop
// is called, after draining queued events.
func (s *AsyncEvaluationSink) Start(ctx context.Context) error {
	if s.running.Load() {
		return fmt.Errorf("evaluation sink already running")
	}
	s.running.Store(true)
	s.wg.Add(1)
	go s.loop(ctx)
	return nil
}

func (s *AsyncEvaluationSink) loop(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case ev := <-s.queue:
			s.write(ctx, ev)
		case <-ctx.Done():
			s.drain(context.Background())
			return
		case <-s.stopCh:
			s.drain(ctx)
			return
		}
	}
}

func (s *AsyncEvaluationSink) drain(ctx context.Context) {
	for {
		select {
		case ev := <-s.queue:
			s.write(ctx, ev)
		default:
			return
		}
	}
}

func (s *AsyncEvaluationSink) write(ctx context.Context, ev EvaluationEvent) {
	if err := s.writer.WriteEvaluation(ctx, ev); err != nil {
		s.failed.Add(1)
		opsf("[%s] failed to persist evaluation at frame %d: %v", ev.SourceID, ev.Evaluation.FrameNum, err)
		return
	}
	s.written.Add(1)
}

// RecordEvaluation enqueues ev without blocking.
func (s *AsyncEvaluationSink) RecordEvaluation(ev EvaluationEvent) {
	select {
	case s.queue <- ev:
	default:
		dropped := s.dropped.Add(1)
		opsf("[%s] DROPPED evaluation at frame %d (total dropped: %d), queue full",
			ev.SourceID, ev.Evaluation.FrameNum, dropped)
	}
}

// Stop drains the queue and waits for the writer goroutine.
func (s *AsyncEvaluationSink) Stop() {
	if !s.running.Swap(false) {
		return
	}
	close(s.stopCh)
	s.wg.Wait()
}

// SinkStats are AsyncEvaluationSink counters.
type SinkStats struct {
	Written uint64 `json:"written"`
	Dropped uint64 `json:"dropped"`
	Failed  uint64 `json:"failed"`
	Queued  int    `json:"queued"`
}

// Stats returns the current counters.
func (s *AsyncEvaluationSink) Stats() SinkStats {
	return SinkStats{
		Written: s.written.Load(),
		Dropped: s.dropped.Load(),
		Failed:  s.failed.Load(),
		Queued:  len(s.queue),
	}
}
