package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Run is one detector process lifetime.
type Run struct {
	RunID            string          `json:"run_id"`
	StartedUnixNanos int64           `json:"started_unix_nanos"`
	EndedUnixNanos   *int64          `json:"ended_unix_nanos,omitempty"`
	Version          string          `json:"version"`
	ConfigJSON       json.RawMessage `json:"config_json,omitempty"`
}

// RunStore provides persistence for detector runs.
type RunStore struct {
	db *sql.DB
}

// NewRunStore creates a new RunStore.
func NewRunStore(db *sql.DB) *RunStore {
	return &RunStore{db: db}
}

// Start records a new run. config is stored as JSON.
func (s *RunStore) Start(ctx context.Context, version string, config interface{}, at time.Time) (*Run, error) {
	cfgJSON, err := json.Marshal(config)
	if err != nil {
		return nil, fmt.Errorf("marshal run config: %w", err)
	}
	run := &Run{
		RunID:            uuid.New().String(),
		StartedUnixNanos: at.UnixNano(),
		Version:          version,
		ConfigJSON:       cfgJSON,
	}
	err = retryOnBusy(func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO detector_runs (run_id, started_unix_nanos, version, config_json) VALUES (?, ?, ?, ?)`,
			run.RunID, run.StartedUnixNanos, run.Version, string(run.ConfigJSON))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("insert run: %w", err)
	}
	return run, nil
}

// End marks runID as finished at at.
func (s *RunStore) End(ctx context.Context, runID string, at time.Time) error {
	return retryOnBusy(func() error {
		res, err := s.db.ExecContext(ctx,
			`UPDATE detector_runs SET ended_unix_nanos = ? WHERE run_id = ?`, at.UnixNano(), runID)
		if err != nil {
			return fmt.Errorf("end run: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("run %s not found", runID)
		}
		return nil
	})
}

// Get returns a run by id.
func (s *RunStore) Get(ctx context.Context, runID string) (*Run, error) {
	var r Run
	var ended sql.NullInt64
	var cfg string
	err := s.db.QueryRowContext(ctx, `
		SELECT run_id, started_unix_nanos, ended_unix_nanos, version, config_json
		FROM detector_runs WHERE run_id = ?`, runID).
		Scan(&r.RunID, &r.StartedUnixNanos, &ended, &r.Version, &cfg)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("run %s not found", runID)
		}
		return nil, fmt.Errorf("scan run: %w", err)
	}
	if ended.Valid {
		r.EndedUnixNanos = &ended.Int64
	}
	r.ConfigJSON = json.RawMessage(cfg)
	return &r, nil
}
