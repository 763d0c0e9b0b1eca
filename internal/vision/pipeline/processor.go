package pipeline

import (
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/banshee-data/loiter.report/internal/config"
	"github.com/banshee-data/loiter.report/internal/timeutil"
	"github.com/banshee-data/loiter.report/internal/vision/l1meta"
	"github.com/banshee-data/loiter.report/internal/vision/l2history"
	"github.com/banshee-data/loiter.report/internal/vision/l3loiter"
	"github.com/banshee-data/loiter.report/internal/vision/l4overlay"
)

// isNilInterface checks if an interface value is nil or contains a nil pointer.
func isNilInterface(i interface{}) bool {
	if i == nil {
		return true
	}
	v := reflect.ValueOf(i)
	switch v.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Slice, reflect.Chan, reflect.Func, reflect.Interface:
		return v.IsNil()
	}
	return false
}

// ProcessorConfig holds settings and dependencies for a FrameProcessor.
type ProcessorConfig struct {
	SourceID   string
	Classifier l3loiter.Config
	Annotation l4overlay.Config

	// DisplayPool supplies annotation records. Nil means HeapPool.
	DisplayPool l4overlay.DisplayPool
	// DisplayPoolSize, when > 0 and DisplayPool is nil, gives each stream
	// created by a Registry a bounded pool of this many records per batch.
	DisplayPoolSize int

	Overlay     OverlaySink    // Optional
	Evaluations EvaluationSink // Optional
	Clock       timeutil.Clock // Optional: defaults to RealClock
}

// DefaultProcessorConfig returns the deployed detector settings with no
// sinks attached.
func DefaultProcessorConfig() ProcessorConfig {
	return ProcessorConfig{
		Classifier: l3loiter.DefaultConfig(),
		Annotation: l4overlay.DefaultConfig(),
	}
}

// ProcessorConfigFromTuning maps a tuning file onto processor settings.
func ProcessorConfigFromTuning(t *config.TuningConfig) ProcessorConfig {
	cfg := DefaultProcessorConfig()
	if t == nil {
		return cfg
	}
	cfg.Classifier = l3loiter.Config{
		Capacity:        t.GetHistoryCapacity(),
		ThresholdPixels: t.GetLoiterThresholdPx(),
		Cadence:         t.GetEvaluationCadence(),
	}
	cfg.Annotation.XOffset = t.GetAnnotationXOffset()
	cfg.Annotation.YOffset = t.GetAnnotationYOffset()
	cfg.Annotation.Font = l4overlay.Font{Name: t.GetAnnotationFont(), Size: t.GetAnnotationFontSize()}
	cfg.DisplayPoolSize = t.GetDisplayPoolSize()
	return cfg
}

// Validate checks the detector settings. Failures wrap
// config.ErrInvalidConfiguration.
func (c ProcessorConfig) Validate() error {
	if err := c.Classifier.Validate(); err != nil {
		return fmt.Errorf("%w: %v", config.ErrInvalidConfiguration, err)
	}
	if c.DisplayPoolSize < 0 {
		return fmt.Errorf("%w: display pool size must be non-negative, got %d", config.ErrInvalidConfiguration, c.DisplayPoolSize)
	}
	return nil
}

// LoiteringBorder returns c with the loitering highlight applied: red
// cleared, blue set, green and alpha unchanged.
func LoiteringBorder(c l1meta.RGBA) l1meta.RGBA {
	c.Red = 0
	c.Blue = 1
	return c
}

// FrameTally counts the records of one frame. It is discarded once the
// frame has been processed.
type FrameTally struct {
	Classes [l1meta.NumClasses]int
	// Unknown counts records whose class id is outside the known set.
	Unknown int
	// Labels counts resolved secondary classifier labels.
	Labels map[string]int
}

// Vehicles returns the Vehicle count.
func (t FrameTally) Vehicles() int { return t.Classes[l1meta.ClassVehicle] }

// Persons returns the Person count.
func (t FrameTally) Persons() int { return t.Classes[l1meta.ClassPerson] }

// Total returns the number of records tallied.
func (t FrameTally) Total() int {
	n := t.Unknown
	for _, c := range t.Classes {
		n += c
	}
	return n
}

func (t *FrameTally) add(cls l1meta.ClassID, labels []l1meta.ClassifierLabel) {
	if cls.Valid() {
		t.Classes[cls]++
	} else {
		t.Unknown++
	}
	for _, l := range labels {
		if l.Label == "" {
			continue
		}
		if t.Labels == nil {
			t.Labels = make(map[string]int)
		}
		t.Labels[l.Label]++
	}
}

// FrameResult is what ProcessFrame did with one frame.
type FrameResult struct {
	SourceID string
	FrameNum uint64
	Tally    FrameTally
	// MissingMetadata is set when the frame carried no batch metadata.
	MissingMetadata bool
	// Evaluation is non-nil on frames where the classifier ran.
	Evaluation *l3loiter.Evaluation
	// Recoloured is the index of the record given the loitering border,
	// or -1.
	Recoloured int
	// Annotation is the record submitted to the overlay sink, or nil when
	// the display pool was exhausted.
	Annotation    *l4overlay.AnnotationRecord
	AnnotationErr error
	State         l3loiter.State
}

// ProcessorStats are cumulative counters for one FrameProcessor.
type ProcessorStats struct {
	Frames             uint64 `json:"frames"`
	Records            uint64 `json:"records"`
	MissingMetadata    uint64 `json:"missing_metadata"`
	Evaluations        uint64 `json:"evaluations"`
	Transitions        uint64 `json:"transitions"`
	Annotations        uint64 `json:"annotations"`
	AllocationFailures uint64 `json:"allocation_failures"`
	LastFrameNum       uint64 `json:"last_frame_num"`
}

// FrameProcessor runs the per-frame loitering detection for one stream.
// It owns the movement history and is not safe for concurrent use: each
// frame index must be processed exactly once, in order. Replaying a frame
// records it into the history again.
type FrameProcessor struct {
	cfg        ProcessorConfig
	history    *l2history.MovementHistory
	classifier *l3loiter.Classifier
	annotator  *l4overlay.Annotator
	clock      timeutil.Clock
	stats      ProcessorStats
}

// NewFrameProcessor validates cfg and builds a processor in the Idle state.
func NewFrameProcessor(cfg ProcessorConfig) (*FrameProcessor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	history, err := l2history.NewMovementHistory(cfg.Classifier.Capacity)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", config.ErrInvalidConfiguration, err)
	}
	classifier, err := l3loiter.NewClassifier(cfg.Classifier)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", config.ErrInvalidConfiguration, err)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &FrameProcessor{
		cfg:        cfg,
		history:    history,
		classifier: classifier,
		annotator:  l4overlay.NewAnnotator(cfg.Annotation, cfg.DisplayPool),
		clock:      clock,
	}, nil
}

// ProcessFrame scans the records of frame, classifies when due and
// submits exactly one annotation. A frame without metadata is processed
// as a frame with zero records.
func (p *FrameProcessor) ProcessFrame(frame *l1meta.FrameMeta) FrameResult {
	view := l1meta.NewFrameRecordView(frame)
	frameNum := view.FrameNum()
	result := FrameResult{
		SourceID:        p.sourceID(view),
		FrameNum:        frameNum,
		MissingMetadata: !view.HasMetadata(),
		Recoloured:      -1,
	}
	p.stats.Frames++
	p.stats.LastFrameNum = frameNum
	if result.MissingMetadata {
		p.stats.MissingMetadata++
		tracef("[%s] frame %d has no batch metadata", result.SourceID, frameNum)
	}

	// Scan records once in supplied order. The last Person wins.
	lastPerson := -1
	for i := 0; i < view.Len(); i++ {
		cls := view.ClassID(i)
		result.Tally.add(cls, view.Labels(i))
		if cls != l1meta.ClassPerson {
			continue
		}
		left := view.Box(i).Left
		p.history.Record(frameNum, left)
		p.classifier.ObservePerson(left, view.TrackingID(i))
		lastPerson = i
	}
	p.stats.Records += uint64(view.Len())

	if p.classifier.Due(frameNum) {
		ev := p.classifier.Evaluate(frameNum, p.history)
		result.Evaluation = &ev
		p.stats.Evaluations++
		if ev.Changed() {
			p.stats.Transitions++
			diagf("[%s] frame %d: %s -> %s (avg=%.3f spread=%.3f)",
				result.SourceID, frameNum, ev.Previous, ev.Decision, ev.AverageDelta, ev.Spread)
		}
		if ev.Decision == l3loiter.Loitering && lastPerson >= 0 {
			view.SetBorderColor(lastPerson, LoiteringBorder(view.BorderColor(lastPerson)))
			result.Recoloured = lastPerson
		}
		if !isNilInterface(p.cfg.Evaluations) {
			p.cfg.Evaluations.RecordEvaluation(EvaluationEvent{
				SourceID:             result.SourceID,
				Evaluation:           ev,
				MostRecentPersonLeft: p.classifier.State().MostRecentPersonLeft,
				RecordedAt:           p.clock.Now(),
			})
		}
	}

	result.State = p.classifier.State()
	rec, err := p.annotator.Build(result.State)
	if err != nil {
		result.AnnotationErr = err
		if errors.Is(err, l4overlay.ErrAllocationFailure) {
			p.stats.AllocationFailures++
		}
		opsf("[%s] frame %d published without overlay: %v", result.SourceID, frameNum, err)
	} else {
		result.Annotation = rec
		p.stats.Annotations++
		if !isNilInterface(p.cfg.Overlay) {
			p.cfg.Overlay.SubmitOverlay(result.SourceID, frameNum, rec)
		}
	}

	tracef("[%s] frame %d: vehicles=%d persons=%d decision=%s",
		result.SourceID, frameNum, result.Tally.Vehicles(), result.Tally.Persons(), result.State.Decision)
	return result
}

func (p *FrameProcessor) sourceID(view l1meta.FrameRecordView) string {
	if p.cfg.SourceID != "" {
		return p.cfg.SourceID
	}
	return view.SourceID()
}

// State returns the classifier state.
func (p *FrameProcessor) State() l3loiter.State {
	return p.classifier.State()
}

// History exposes the movement history for read-only inspection.
func (p *FrameProcessor) History() *l2history.MovementHistory {
	return p.history
}

// Stats returns the cumulative counters.
func (p *FrameProcessor) Stats() ProcessorStats {
	return p.stats
}

// Config returns the processor configuration.
func (p *FrameProcessor) Config() ProcessorConfig {
	return p.cfg
}

// Now returns the processor clock's current time.
func (p *FrameProcessor) Now() time.Time {
	return p.clock.Now()
}
