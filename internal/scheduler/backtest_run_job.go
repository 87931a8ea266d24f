package scheduler

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/arduino-trader/internal/artifacts"
	"github.com/aristath/arduino-trader/internal/backtest"
	"github.com/aristath/arduino-trader/internal/domain"
)

// BacktestRunFunc executes one strategy's backtest and returns its report.
// cmd/server/main.go supplies the concrete closure per strategy (momentum,
// pullback, global), since each needs distinct Handler/config wiring that
// does not belong in the generic scheduler package.
type BacktestRunFunc func(ctx context.Context) (*backtest.RunReport, error)

// BacktestRunJob runs one strategy's nightly backtest and persists the
// resulting artefact + index row. A Job wraps a long-running unit of
// work with structured logging around start/success/failure.
type BacktestRunJob struct {
	strategy  string
	run       BacktestRunFunc
	store     *artifacts.Store
	cacheDir  string
	config    json.RawMessage
	dayToTime func(int64) time.Time
	timeout   time.Duration
	log       zerolog.Logger
}

// NewBacktestRunJob constructs a nightly run job for one strategy.
func NewBacktestRunJob(strategy string, run BacktestRunFunc, store *artifacts.Store, cacheDir string, config json.RawMessage, dayToTime func(int64) time.Time, log zerolog.Logger) *BacktestRunJob {
	return &BacktestRunJob{
		strategy: strategy, run: run, store: store, cacheDir: cacheDir,
		config: config, dayToTime: dayToTime, timeout: 30 * time.Minute,
		log: log.With().Str("component", "backtest_run_job").Str("strategy", strategy).Logger(),
	}
}

// Name identifies the job to the Scheduler.
func (j *BacktestRunJob) Name() string { return "backtest_run:" + j.strategy }

// Run executes the strategy's backtest, persists the artefact on success,
// and surfaces run-fatal errors to the scheduler's logging (errs.Fatal
// kinds propagate here).
func (j *BacktestRunJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	report, err := j.run(ctx)
	if err != nil {
		j.log.Error().Err(err).Msg("backtest run failed")
		return err
	}

	artifact := artifacts.BuildArtifact(report, j.config, func(day domain.Instant) time.Time { return j.dayToTime(int64(day)) })
	runID, err := artifacts.Persist(ctx, j.store, j.cacheDir, artifact)
	if err != nil {
		j.log.Error().Err(err).Msg("failed to persist run artefact")
		return err
	}

	j.log.Info().
		Str("run_id", runID).
		Float64("final_equity", report.Metrics.FinalEquity).
		Float64("cagr_pct", report.Metrics.CAGRPct).
		Dur("elapsed", report.Elapsed).
		Msg("nightly backtest run persisted")
	return nil
}
