package pipeline

import (
	"time"

	"github.com/banshee-data/loiter.report/internal/vision/l3loiter"
	"github.com/banshee-data/loiter.report/internal/vision/l4overlay"
)

// OverlaySink accepts the annotation produced for each frame. Ownership of
// rec passes to the sink. Implementations must not block the caller.
type OverlaySink interface {
	SubmitOverlay(sourceID string, frameNum uint64, rec *l4overlay.AnnotationRecord)
}

// OverlaySinkFunc adapts a function to OverlaySink.
type OverlaySinkFunc func(sourceID string, frameNum uint64, rec *l4overlay.AnnotationRecord)

// SubmitOverlay calls f.
func (f OverlaySinkFunc) SubmitOverlay(sourceID string, frameNum uint64, rec *l4overlay.AnnotationRecord) {
	f(sourceID, frameNum, rec)
}

// EvaluationEvent describes one loitering evaluation of a stream.
type EvaluationEvent struct {
	SourceID             string
	Evaluation           l3loiter.Evaluation
	MostRecentPersonLeft float64
	RecordedAt           time.Time
}

// EvaluationSink receives every evaluation. It is an adapter (see
// internal/vision/storage/sqlite) and must not block the caller.
type EvaluationSink interface {
	RecordEvaluation(ev EvaluationEvent)
}

// MultiOverlaySink fans an annotation out to several sinks in order.
type MultiOverlaySink []OverlaySink

// SubmitOverlay forwards rec to every non-nil sink.
func (m MultiOverlaySink) SubmitOverlay(sourceID string, frameNum uint64, rec *l4overlay.AnnotationRecord) {
	for _, s := range m {
		if !isNilInterface(s) {
			s.SubmitOverlay(sourceID, frameNum, rec)
		}
	}
}
