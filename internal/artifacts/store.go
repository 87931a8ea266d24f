// Package artifacts indexes persisted backtest/screener run artefacts in
// a small SQLite table so recent-runs queries don't require scanning the
// cache/ directory. The JSON artefact file on disk remains the source of
// truth; this index only speeds up "list recent runs" and "find runs by
// strategy" lookups over the same data the JSON cache already holds.
package artifacts

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aristath/arduino-trader/internal/database"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id        TEXT PRIMARY KEY,
	strategy      TEXT NOT NULL,
	started_at    INTEGER NOT NULL,
	elapsed_sec   REAL NOT NULL,
	final_equity  REAL NOT NULL,
	cagr_pct      REAL NOT NULL,
	sharpe_ratio  REAL NOT NULL,
	mdd_pct       REAL NOT NULL,
	artifact_path TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_runs_strategy_started ON runs(strategy, started_at DESC);
`

// Run is one indexed run artefact's summary row.
type Run struct {
	RunID        string
	Strategy     string
	StartedAt    time.Time
	ElapsedSec   float64
	FinalEquity  float64
	CAGRPct      float64
	SharpeRatio  float64
	MDDPct       float64
	ArtifactPath string
}

// Store is the SQLite-backed index of run artefacts.
type Store struct {
	db  *database.DB
	log zerolog.Logger
}

// Open opens (creating if absent) the artefact index database at path
// and applies its schema.
func Open(path string, log zerolog.Logger) (*Store, error) {
	db, err := database.New(database.Config{Path: path, Profile: database.ProfileStandard, Name: "artifacts"})
	if err != nil {
		return nil, fmt.Errorf("artifacts: open: %w", err)
	}
	if err := db.Migrate(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("artifacts: migrate: %w", err)
	}
	return &Store{db: db, log: log.With().Str("component", "artifacts").Logger()}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error { return s.db.Close() }

// RecordRun inserts or replaces the index row for a completed run and
// returns the run ID it was recorded under (a generated UUIDv4 if
// run.RunID is empty).
func (s *Store) RecordRun(ctx context.Context, run Run) (string, error) {
	if run.RunID == "" {
		run.RunID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (run_id, strategy, started_at, elapsed_sec, final_equity, cagr_pct, sharpe_ratio, mdd_pct, artifact_path)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			strategy=excluded.strategy, started_at=excluded.started_at, elapsed_sec=excluded.elapsed_sec,
			final_equity=excluded.final_equity, cagr_pct=excluded.cagr_pct, sharpe_ratio=excluded.sharpe_ratio,
			mdd_pct=excluded.mdd_pct, artifact_path=excluded.artifact_path
	`, run.RunID, run.Strategy, run.StartedAt.Unix(), run.ElapsedSec, run.FinalEquity, run.CAGRPct, run.SharpeRatio, run.MDDPct, run.ArtifactPath)
	if err != nil {
		return "", fmt.Errorf("artifacts: record run: %w", err)
	}
	s.log.Info().Str("run_id", run.RunID).Str("strategy", run.Strategy).Msg("run indexed")
	return run.RunID, nil
}

// RecentRuns returns up to limit most recent runs for strategy, newest
// first. An empty strategy matches every strategy.
func (s *Store) RecentRuns(ctx context.Context, strategy string, limit int) ([]Run, error) {
	var rows *sql.Rows
	var err error
	if strategy == "" {
		rows, err = s.db.QueryContext(ctx, `
			SELECT run_id, strategy, started_at, elapsed_sec, final_equity, cagr_pct, sharpe_ratio, mdd_pct, artifact_path
			FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	} else {
		rows, err = s.db.QueryContext(ctx, `
			SELECT run_id, strategy, started_at, elapsed_sec, final_equity, cagr_pct, sharpe_ratio, mdd_pct, artifact_path
			FROM runs WHERE strategy = ? ORDER BY started_at DESC LIMIT ?`, strategy, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("artifacts: query recent runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var startedAtUnix int64
		if err := rows.Scan(&r.RunID, &r.Strategy, &startedAtUnix, &r.ElapsedSec, &r.FinalEquity, &r.CAGRPct, &r.SharpeRatio, &r.MDDPct, &r.ArtifactPath); err != nil {
			return nil, fmt.Errorf("artifacts: scan run row: %w", err)
		}
		r.StartedAt = time.Unix(startedAtUnix, 0).UTC()
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// RunByID returns the indexed row for runID, or ok=false if not found.
func (s *Store) RunByID(ctx context.Context, runID string) (Run, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT run_id, strategy, started_at, elapsed_sec, final_equity, cagr_pct, sharpe_ratio, mdd_pct, artifact_path
		FROM runs WHERE run_id = ?`, runID)

	var r Run
	var startedAtUnix int64
	err := row.Scan(&r.RunID, &r.Strategy, &startedAtUnix, &r.ElapsedSec, &r.FinalEquity, &r.CAGRPct, &r.SharpeRatio, &r.MDDPct, &r.ArtifactPath)
	if err == sql.ErrNoRows {
		return Run{}, false, nil
	}
	if err != nil {
		return Run{}, false, fmt.Errorf("artifacts: run by id: %w", err)
	}
	r.StartedAt = time.Unix(startedAtUnix, 0).UTC()
	return r, true, nil
}

// PruneOlderThan deletes indexed rows started before cutoff, returning
// the number of rows removed. The JSON artefact files themselves are
// left untouched — pruning the index does not delete history, only the
// fast-lookup row.
func (s *Store) PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE started_at < ?`, cutoff.Unix())
	if err != nil {
		return 0, fmt.Errorf("artifacts: prune: %w", err)
	}
	return res.RowsAffected()
}
