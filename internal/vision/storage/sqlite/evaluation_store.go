package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

// Evaluation is a persisted loitering evaluation of one stream.
type Evaluation struct {
	EvaluationID         string  `json:"evaluation_id"`
	RunID                string  `json:"run_id,omitempty"`
	SourceID             string  `json:"source_id"`
	FrameNum             uint64  `json:"frame_num"`
	AverageDelta         float64 `json:"average_delta"`
	Spread               float64 `json:"spread"`
	Decision             string  `json:"decision"`
	PreviousDecision     string  `json:"previous_decision"`
	MostRecentPersonLeft float64 `json:"most_recent_person_left"`
	RecordedUnixNanos    int64   `json:"recorded_unix_nanos"`
}

// EvaluationStore provides persistence for loitering evaluations.
type EvaluationStore struct {
	db *sql.DB
}

// NewEvaluationStore creates a new EvaluationStore.
func NewEvaluationStore(db *sql.DB) *EvaluationStore {
	return &EvaluationStore{db: db}
}

// Insert persists a new evaluation. If EvaluationID is empty, a UUID is generated.
func (s *EvaluationStore) Insert(ctx context.Context, e *Evaluation) error {
	if e.EvaluationID == "" {
		e.EvaluationID = uuid.New().String()
	}
	err := retryOnBusy(func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO loiter_evaluations (
				evaluation_id, run_id, source_id, frame_num, average_delta, spread,
				decision, previous_decision, most_recent_person_left, recorded_unix_nanos
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			e.EvaluationID, nullString(e.RunID), e.SourceID, int64(e.FrameNum), e.AverageDelta, e.Spread,
			e.Decision, e.PreviousDecision, e.MostRecentPersonLeft, e.RecordedUnixNanos,
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("insert evaluation: %w", err)
	}
	return nil
}

// ListBySource returns the most recent evaluations of sourceID, newest
// first. A limit <= 0 returns all rows.
func (s *EvaluationStore) ListBySource(ctx context.Context, sourceID string, limit int) ([]*Evaluation, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT evaluation_id, run_id, source_id, frame_num, average_delta, spread,
		       decision, previous_decision, most_recent_person_left, recorded_unix_nanos
		FROM loiter_evaluations
		WHERE source_id = ?
		ORDER BY frame_num DESC, recorded_unix_nanos DESC
		LIMIT ?`, sourceID, limit)
	if err != nil {
		return nil, fmt.Errorf("query evaluations: %w", err)
	}
	defer rows.Close()

	var evals []*Evaluation
	for rows.Next() {
		var e Evaluation
		var runID sql.NullString
		var frame int64
		if err := rows.Scan(&e.EvaluationID, &runID, &e.SourceID, &frame, &e.AverageDelta, &e.Spread,
			&e.Decision, &e.PreviousDecision, &e.MostRecentPersonLeft, &e.RecordedUnixNanos); err != nil {
			return nil, fmt.Errorf("scan evaluation: %w", err)
		}
		e.RunID = runID.String
		e.FrameNum = uint64(frame)
		evals = append(evals, &e)
	}
	return evals, rows.Err()
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
