package backtest

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/aristath/arduino-trader/internal/datahandler"
	"github.com/aristath/arduino-trader/internal/domain"
	"github.com/aristath/arduino-trader/internal/performance"
	"github.com/aristath/arduino-trader/internal/portfolio"
	"github.com/aristath/arduino-trader/internal/rebalance"
	"github.com/aristath/arduino-trader/internal/scoring"
)

// Strategy names the four backtest kernels the Orchestrator can run.
type Strategy string

const (
	StrategyMomentum Strategy = "momentum"
	StrategyPullback Strategy = "pullback"
	StrategyPhoenix  Strategy = "phoenix"
	StrategyGlobal   Strategy = "global"
)

// RunReport is the Orchestrator's top-level result: the raw backtest
// Result plus the derived PerformanceAnalyzer metrics, ready for
// persistence into a run artefact (internal/artifacts).
type RunReport struct {
	Strategy  Strategy
	Result    *Result
	Metrics   performance.Metrics
	Regime    performance.RegimeBreakdown
	HasRegime bool
	Elapsed   time.Duration
}

// Orchestrator resolves config/wiring and dispatches to the requested
// strategy's event-driven loop, matching how backtester.py's module-level
// entrypoints are invoked from the original's CLI/scheduler glue.
type Orchestrator struct {
	log zerolog.Logger
}

// NewOrchestrator constructs an Orchestrator.
func NewOrchestrator(log zerolog.Logger) *Orchestrator {
	return &Orchestrator{log: log.With().Str("component", "backtest_orchestrator").Logger()}
}

// RunMomentum executes the momentum strategy and wraps its Result in a
// RunReport with PerformanceAnalyzer metrics computed.
func (o *Orchestrator) RunMomentum(ctx context.Context, cfg Config, scorer *scoring.Scorer, rebalancer *rebalance.Rebalancer, handler *datahandler.Handler, dayToTime func(domain.Instant) time.Time) (*RunReport, error) {
	start := time.Now()
	o.logResourceUsage("momentum: starting")

	bt := NewMomentum(cfg, scorer, rebalancer, o.log)
	result, err := bt.Run(ctx, handler)
	if err != nil {
		return nil, fmt.Errorf("momentum backtest: %w", err)
	}

	report := o.summarize(StrategyMomentum, result, cfg.InitialCapital, dayToTime, start)
	o.logResourceUsage("momentum: finished")
	return report, nil
}

// RunPullback executes the Pullback strategy and wraps its Result.
func (o *Orchestrator) RunPullback(ctx context.Context, cfg PullbackConfig, handler *datahandler.Handler, barsBySymbol map[string]([]domain.Bar), dayToTime func(domain.Instant) time.Time) (*RunReport, error) {
	start := time.Now()
	o.logResourceUsage("pullback: starting")

	bt := NewPullback(cfg, o.log)
	result, err := bt.Run(ctx, handler, barsBySymbol)
	if err != nil {
		return nil, fmt.Errorf("pullback backtest: %w", err)
	}

	report := o.summarize(StrategyPullback, result, cfg.InitialCapital, dayToTime, start)
	o.logResourceUsage("pullback: finished")
	return report, nil
}

// RunGlobal executes the 5-preset global dual-momentum strategy and wraps
// its Result in a RunReport, the only Orchestrator entry point that
// exercises scoring.Scorer.SelectGlobalAssets and
// rebalance.Rebalancer.GenerateGlobalTargetWeights together.
func (o *Orchestrator) RunGlobal(ctx context.Context, cfg GlobalConfig, scorer, domesticScorer *scoring.Scorer, rebalancer *rebalance.Rebalancer, globalHandler *datahandler.Handler, regimeHandlers map[string]*datahandler.Handler, domesticHandler *datahandler.Handler, dayToTime func(domain.Instant) time.Time) (*RunReport, error) {
	start := time.Now()
	o.logResourceUsage("global: starting")

	bt := NewGlobal(cfg, scorer, domesticScorer, rebalancer, o.log)
	result, err := bt.Run(ctx, globalHandler, regimeHandlers, domesticHandler)
	if err != nil {
		return nil, fmt.Errorf("global backtest: %w", err)
	}

	report := o.summarize(StrategyGlobal, result, cfg.InitialCapital, dayToTime, start)
	o.logResourceUsage("global: finished")
	return report, nil
}

// RunPhoenix executes the Phoenix strategy and wraps its Result.
func (o *Orchestrator) RunPhoenix(ctx context.Context, cfg PhoenixConfig, loader *PhoenixTargetLoader, calendar []time.Time, minuteBars MinuteBars, priorClose PriorClose, dayToTime func(domain.Instant) time.Time) (*RunReport, error) {
	start := time.Now()
	o.logResourceUsage("phoenix: starting")

	bt := NewPhoenixBacktester(cfg, loader, o.log)
	result, err := bt.Run(ctx, calendar, minuteBars, priorClose)
	if err != nil {
		return nil, fmt.Errorf("phoenix backtest: %w", err)
	}

	report := o.summarize(StrategyPhoenix, result, cfg.InitialCapital, dayToTime, start)
	o.logResourceUsage("phoenix: finished")
	return report, nil
}

func (o *Orchestrator) summarize(strategy Strategy, result *Result, initialCapital float64, dayToTime func(domain.Instant) time.Time, start time.Time) *RunReport {
	costSummary := portfolio.Summarize(result.Portfolio)
	analyzer := performance.New(result.Equity, initialCapital, &costSummary, result.RebalanceHistory, dayToTime)
	regime, hasRegime := analyzer.RegimeAnalysis()

	return &RunReport{
		Strategy:  strategy,
		Result:    result,
		Metrics:   analyzer.Calculate(),
		Regime:    regime,
		HasRegime: hasRegime,
		Elapsed:   time.Since(start),
	}
}

// logResourceUsage emits a progress marker with host CPU/RAM utilization
// (100ms CPU sample to avoid blocking the loop for long-running
// multi-year backtests).
func (o *Orchestrator) logResourceUsage(stage string) {
	cpuPercent, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil {
		o.log.Warn().Err(err).Msg("failed to sample CPU usage")
		cpuPercent = []float64{0}
	}
	memStat, err := mem.VirtualMemory()
	if err != nil {
		o.log.Warn().Err(err).Msg("failed to sample memory usage")
		return
	}
	cpuAvg := 0.0
	if len(cpuPercent) > 0 {
		cpuAvg = cpuPercent[0]
	}
	o.log.Info().
		Str("stage", stage).
		Float64("cpu_pct", cpuAvg).
		Float64("mem_pct", memStat.UsedPercent).
		Msg("backtest resource usage")
}
