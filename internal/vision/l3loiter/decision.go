package l3loiter

// Decision is the sticky outcome of the most recent evaluation.
type Decision int

const (
	// NotYetEvaluated holds until the first due frame.
	NotYetEvaluated Decision = iota
	NotLoitering
	Loitering
)

func (d Decision) String() string {
	switch d {
	case NotYetEvaluated:
		return "not_evaluated"
	case NotLoitering:
		return "not_loitering"
	case Loitering:
		return "loitering"
	default:
		return "unknown"
	}
}

// State is the classifier output read by the annotator and monitors.
type State struct {
	// LastAverageDelta is the movement average of the last evaluation.
	LastAverageDelta float64 `json:"last_average_delta"`
	// LastSpread is the population standard deviation of the deltas
	// behind LastAverageDelta.
	LastSpread float64  `json:"last_spread"`
	Decision   Decision `json:"decision"`
	// MostRecentPersonLeft is the left edge of the last Person record seen
	// in the most recent frame that contained one. Later records in a
	// frame overwrite earlier ones.
	MostRecentPersonLeft float64 `json:"most_recent_person_left"`
	// MostRecentPersonTrackingID is the tracker identity of that record.
	MostRecentPersonTrackingID uint64  `json:"most_recent_person_tracking_id"`
	ThresholdPixels            float64 `json:"threshold_pixels"`
	// EvaluatedAt is the frame number of the last evaluation.
	EvaluatedAt uint64 `json:"evaluated_at"`
	Evaluations uint64 `json:"evaluations"`
}

// IsLoitering reports whether the last decision was Loitering.
func (s State) IsLoitering() bool {
	return s.Decision == Loitering
}
