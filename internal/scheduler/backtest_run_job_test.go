package scheduler

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/arduino-trader/internal/artifacts"
	"github.com/aristath/arduino-trader/internal/backtest"
	"github.com/aristath/arduino-trader/internal/domain"
	"github.com/aristath/arduino-trader/internal/performance"
)

func newTestArtifactStore(t *testing.T) *artifacts.Store {
	t.Helper()
	store, err := artifacts.Open(filepath.Join(t.TempDir(), "artifacts.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func dayToTime(day int64) time.Time { return time.Unix(day, 0).UTC() }

func TestBacktestRunJobPersistsArtifactOnSuccess(t *testing.T) {
	store := newTestArtifactStore(t)
	cacheDir := t.TempDir()

	run := func(ctx context.Context) (*backtest.RunReport, error) {
		return &backtest.RunReport{
			Strategy: backtest.StrategyMomentum,
			Result:   &backtest.Result{Equity: []domain.EquityPoint{{Day: 0, TotalBaseCcyValue: 1_000_000}}, Portfolio: domain.NewPortfolio(1_000_000)},
			Metrics:  performance.Metrics{FinalEquity: 1_100_000, InitialCapital: 1_000_000, CAGRPct: 10},
			Elapsed:  time.Second,
		}, nil
	}

	job := NewBacktestRunJob("momentum", run, store, cacheDir, nil, dayToTime, zerolog.Nop())
	assert.Equal(t, "backtest_run:momentum", job.Name())
	require.NoError(t, job.Run())

	runs, err := store.RecentRuns(context.Background(), "momentum", 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, 1_100_000.0, runs[0].FinalEquity)
}

func TestBacktestRunJobPropagatesRunError(t *testing.T) {
	store := newTestArtifactStore(t)
	run := func(ctx context.Context) (*backtest.RunReport, error) {
		return nil, errors.New("invariant violation: empty backtest window")
	}

	job := NewBacktestRunJob("pullback", run, store, t.TempDir(), nil, dayToTime, zerolog.Nop())
	err := job.Run()
	assert.Error(t, err)
}
