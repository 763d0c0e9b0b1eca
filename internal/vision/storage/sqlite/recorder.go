package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/banshee-data/loiter.report/internal/vision/l3loiter"
	"github.com/banshee-data/loiter.report/internal/vision/pipeline"
)

// Ensure Recorder can back a pipeline.AsyncEvaluationSink.
var _ pipeline.EvaluationWriter = (*Recorder)(nil)

// Recorder writes every evaluation and folds consecutive Loitering
// evaluations of a stream into episodes.
type Recorder struct {
	RunID       string
	Evaluations *EvaluationStore
	Episodes    *EpisodeStore
}

// NewRecorder builds a recorder over db for runID. runID may be empty.
func NewRecorder(db *sql.DB, runID string) *Recorder {
	return &Recorder{
		RunID:       runID,
		Evaluations: NewEvaluationStore(db),
		Episodes:    NewEpisodeStore(db),
	}
}

// WriteEvaluation implements pipeline.EvaluationWriter.
func (r *Recorder) WriteEvaluation(ctx context.Context, ev pipeline.EvaluationEvent) error {
	e := ev.Evaluation
	if err := r.Evaluations.Insert(ctx, &Evaluation{
		RunID:                r.RunID,
		SourceID:             ev.SourceID,
		FrameNum:             e.FrameNum,
		AverageDelta:         e.AverageDelta,
		Spread:               e.Spread,
		Decision:             e.Decision.String(),
		PreviousDecision:     e.Previous.String(),
		MostRecentPersonLeft: ev.MostRecentPersonLeft,
		RecordedUnixNanos:    ev.RecordedAt.UnixNano(),
	}); err != nil {
		return err
	}

	open, err := r.Episodes.OpenEpisode(ctx, r.RunID, ev.SourceID)
	if err != nil {
		return fmt.Errorf("find open episode: %w", err)
	}

	switch {
	case e.Decision == l3loiter.Loitering && open == nil:
		return r.Episodes.Open(ctx, &Episode{
			RunID:           r.RunID,
			SourceID:        ev.SourceID,
			StartFrame:      e.FrameNum,
			StartUnixNanos:  ev.RecordedAt.UnixNano(),
			MinAverageDelta: e.AverageDelta,
		})
	case e.Decision == l3loiter.Loitering:
		return r.Episodes.Extend(ctx, open.EpisodeID, e.AverageDelta)
	case open != nil:
		return r.Episodes.Close(ctx, open.EpisodeID, e.FrameNum, ev.RecordedAt.UnixNano())
	}
	return nil
}
