package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Episode is a contiguous run of Loitering evaluations of one stream.
// EndFrame is nil while the episode is open.
type Episode struct {
	EpisodeID       string  `json:"episode_id"`
	RunID           string  `json:"run_id,omitempty"`
	SourceID        string  `json:"source_id"`
	StartFrame      uint64  `json:"start_frame"`
	EndFrame        *uint64 `json:"end_frame,omitempty"`
	StartUnixNanos  int64   `json:"start_unix_nanos"`
	EndUnixNanos    *int64  `json:"end_unix_nanos,omitempty"`
	MinAverageDelta float64 `json:"min_average_delta"`
	Evaluations     int     `json:"evaluations"`
}

// EpisodeStore provides persistence for loitering episodes.
type EpisodeStore struct {
	db *sql.DB
}

// NewEpisodeStore creates a new EpisodeStore.
func NewEpisodeStore(db *sql.DB) *EpisodeStore {
	return &EpisodeStore{db: db}
}

// Open inserts a new open episode. If EpisodeID is empty, a UUID is generated.
func (s *EpisodeStore) Open(ctx context.Context, ep *Episode) error {
	if ep.EpisodeID == "" {
		ep.EpisodeID = uuid.New().String()
	}
	if ep.Evaluations == 0 {
		ep.Evaluations = 1
	}
	err := retryOnBusy(func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO loiter_episodes (
				episode_id, run_id, source_id, start_frame, start_unix_nanos,
				min_average_delta, evaluations
			) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			ep.EpisodeID, nullString(ep.RunID), ep.SourceID, int64(ep.StartFrame), ep.StartUnixNanos,
			ep.MinAverageDelta, ep.Evaluations,
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("insert episode: %w", err)
	}
	return nil
}

// Extend counts one more Loitering evaluation into an open episode.
func (s *EpisodeStore) Extend(ctx context.Context, episodeID string, averageDelta float64) error {
	return retryOnBusy(func() error {
		_, err := s.db.ExecContext(ctx, `
			UPDATE loiter_episodes
			SET evaluations = evaluations + 1,
			    min_average_delta = MIN(min_average_delta, ?)
			WHERE episode_id = ? AND end_frame IS NULL`, averageDelta, episodeID)
		if err != nil {
			return fmt.Errorf("extend episode: %w", err)
		}
		return nil
	})
}

// Close ends an open episode at endFrame.
func (s *EpisodeStore) Close(ctx context.Context, episodeID string, endFrame uint64, endUnixNanos int64) error {
	return retryOnBusy(func() error {
		res, err := s.db.ExecContext(ctx, `
			UPDATE loiter_episodes SET end_frame = ?, end_unix_nanos = ?
			WHERE episode_id = ? AND end_frame IS NULL`, int64(endFrame), endUnixNanos, episodeID)
		if err != nil {
			return fmt.Errorf("close episode: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("open episode %s not found", episodeID)
		}
		return nil
	})
}

const episodeColumns = `episode_id, run_id, source_id, start_frame, end_frame, start_unix_nanos,
		       end_unix_nanos, min_average_delta, evaluations`

// OpenEpisode returns the open episode of sourceID within runID, or nil if
// there is none. Frame numbers restart with the stream, so episodes never
// span runs.
func (s *EpisodeStore) OpenEpisode(ctx context.Context, runID, sourceID string) (*Episode, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+episodeColumns+`
		FROM loiter_episodes
		WHERE run_id IS ? AND source_id = ? AND end_frame IS NULL
		ORDER BY start_frame DESC LIMIT 1`, nullString(runID), sourceID)
	ep, err := scanEpisode(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return ep, err
}

// ListBySource returns every episode of sourceID, newest first.
func (s *EpisodeStore) ListBySource(ctx context.Context, sourceID string) ([]*Episode, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+episodeColumns+`
		FROM loiter_episodes
		WHERE source_id = ?
		ORDER BY start_frame DESC`, sourceID)
	if err != nil {
		return nil, fmt.Errorf("query episodes: %w", err)
	}
	defer rows.Close()

	var eps []*Episode
	for rows.Next() {
		ep, err := scanEpisode(rows)
		if err != nil {
			return nil, err
		}
		eps = append(eps, ep)
	}
	return eps, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanEpisode(row scanner) (*Episode, error) {
	var ep Episode
	var runID sql.NullString
	var start int64
	var end, endNanos sql.NullInt64
	err := row.Scan(&ep.EpisodeID, &runID, &ep.SourceID, &start, &end, &ep.StartUnixNanos,
		&endNanos, &ep.MinAverageDelta, &ep.Evaluations)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan episode: %w", err)
	}
	ep.RunID = runID.String
	ep.StartFrame = uint64(start)
	if end.Valid {
		f := uint64(end.Int64)
		ep.EndFrame = &f
	}
	if endNanos.Valid {
		ep.EndUnixNanos = &endNanos.Int64
	}
	return &ep, nil
}
