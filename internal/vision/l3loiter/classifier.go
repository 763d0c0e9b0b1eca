package l3loiter

import (
	"fmt"

	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/loiter.report/internal/vision/l2history"
)

// DefaultThresholdPixels is the movement average below which a subject is
// considered to be loitering.
const DefaultThresholdPixels = 5.0

// Evaluation is the result of one loitering evaluation.
type Evaluation struct {
	FrameNum     uint64
	AverageDelta float64
	Spread       float64
	Decision     Decision
	Previous     Decision
}

// Changed reports whether this evaluation flipped the sticky decision.
func (e Evaluation) Changed() bool {
	return e.Decision != e.Previous
}

// Decide applies the strict threshold comparison.
func Decide(averageDelta, thresholdPixels float64) Decision {
	if averageDelta < thresholdPixels {
		return Loitering
	}
	return NotLoitering
}

// Evaluate computes the movement average of h and compares it against
// thresholdPixels. It does not modify h.
func Evaluate(h *l2history.MovementHistory, thresholdPixels float64) Evaluation {
	ev, _ := evaluate(h, thresholdPixels, make([]float64, 0, h.Capacity()-1))
	return ev
}

// evaluate fills scratch with the deltas of h and returns the evaluation
// along with the reused buffer.
func evaluate(h *l2history.MovementHistory, thresholdPixels float64, scratch []float64) (Evaluation, []float64) {
	avg := h.DeltaAverage()
	scratch = h.Deltas(scratch[:0])
	_, spread := stat.PopMeanStdDev(scratch, nil)
	return Evaluation{
		AverageDelta: avg,
		Spread:       spread,
		Decision:     Decide(avg, thresholdPixels),
	}, scratch
}

// Config configures a Classifier.
type Config struct {
	// Capacity is the history capacity C; no evaluation happens before
	// frame C.
	Capacity int
	// ThresholdPixels is the strict upper bound on the movement average
	// for a Loitering decision.
	ThresholdPixels float64
	// Cadence is the evaluation period in frames. Zero means Capacity.
	Cadence int
}

// DefaultConfig returns the deployed detector settings.
func DefaultConfig() Config {
	return Config{
		Capacity:        l2history.DefaultCapacity,
		ThresholdPixels: DefaultThresholdPixels,
		Cadence:         l2history.DefaultCapacity,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Capacity <= 1 {
		return fmt.Errorf("capacity must be > 1, got %d", c.Capacity)
	}
	if !(c.ThresholdPixels > 0) {
		return fmt.Errorf("threshold must be > 0, got %v", c.ThresholdPixels)
	}
	if c.Cadence < 0 {
		return fmt.Errorf("cadence must be >= 0 (0 means Capacity), got %d", c.Cadence)
	}
	return nil
}

// Classifier holds the sticky loitering state for one subject. It is not
// safe for concurrent use.
type Classifier struct {
	cfg     Config
	state   State
	scratch []float64
}

// NewClassifier validates cfg and returns a classifier in the
// NotYetEvaluated state.
func NewClassifier(cfg Config) (*Classifier, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Cadence == 0 {
		cfg.Cadence = cfg.Capacity
	}
	return &Classifier{
		cfg:     cfg,
		state:   State{ThresholdPixels: cfg.ThresholdPixels},
		scratch: make([]float64, 0, cfg.Capacity-1),
	}, nil
}

// Config returns the effective configuration.
func (c *Classifier) Config() Config {
	return c.cfg
}

// Due reports whether frameNum is an evaluation frame: a multiple of the
// cadence once at least Capacity frames have elapsed since frame 0.
// Cadence follows the absolute frame number, so dropped frames or a
// restarted stream shift it.
func (c *Classifier) Due(frameNum uint64) bool {
	return frameNum >= uint64(c.cfg.Capacity) && frameNum%uint64(c.cfg.Cadence) == 0
}

// ObservePerson records the left edge and tracker identity of a Person
// record for display.
func (c *Classifier) ObservePerson(left float64, trackingID uint64) {
	c.state.MostRecentPersonLeft = left
	c.state.MostRecentPersonTrackingID = trackingID
}

// Evaluate runs an evaluation of h for frameNum and stores the result.
// Callers gate it with Due; the decision persists until the next call.
func (c *Classifier) Evaluate(frameNum uint64, h *l2history.MovementHistory) Evaluation {
	var ev Evaluation
	ev, c.scratch = evaluate(h, c.cfg.ThresholdPixels, c.scratch)
	ev.FrameNum = frameNum
	ev.Previous = c.state.Decision

	c.state.LastAverageDelta = ev.AverageDelta
	c.state.LastSpread = ev.Spread
	c.state.Decision = ev.Decision
	c.state.EvaluatedAt = frameNum
	c.state.Evaluations++
	return ev
}

// State returns a copy of the current state.
func (c *Classifier) State() State {
	return c.state
}

// Reset returns the classifier to NotYetEvaluated.
func (c *Classifier) Reset() {
	c.state = State{ThresholdPixels: c.cfg.ThresholdPixels}
}
