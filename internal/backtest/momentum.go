// Package backtest implements BacktestOrchestrator (C8): the event-driven
// simulation loop that drives a DataHandler's calendar day by day through
// the Scorer, Rebalancer, and PortfolioManager (the momentum strategy),
// or through the Pullback/Phoenix staged-candidate state machines — ported
// from momentum/backtester.py, pullback_backtester.py, and
// phoenix/backtester.py.
package backtest

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/arduino-trader/internal/datahandler"
	"github.com/aristath/arduino-trader/internal/domain"
	"github.com/aristath/arduino-trader/internal/errs"
	"github.com/aristath/arduino-trader/internal/portfolio"
	"github.com/aristath/arduino-trader/internal/rebalance"
	"github.com/aristath/arduino-trader/internal/scoring"
)

// Config carries the parameters common to every strategy's backtest loop.
// FXSymbol, when set, names the quasi-instrument in the universe/handler
// whose "price" is the base-currency (KRW) value of one USD for that
// day (e.g. a USDKRW=X quote); its absence from a day's prices means no
// cross-currency instrument traded and the rate defaults to 1.0.
type Config struct {
	InitialCapital  float64
	WarmupDays      int
	BenchmarkSymbol string
	Universe        []string
	Costs           portfolio.CostTable
	MarketOf        func(symbol string) domain.Market
	CurrencyOf      func(symbol string) domain.Currency
	FXSymbol        string
}

// fxRateFromPrices resolves the day's USD/KRW rate from prices keyed by
// fxSymbol, defaulting to 1.0 (no conversion) when fxSymbol is unset or
// the day's quote is missing/non-positive.
func fxRateFromPrices(prices map[string]float64, fxSymbol string) float64 {
	if fxSymbol == "" {
		return 1.0
	}
	rate, ok := prices[fxSymbol]
	if !ok || rate <= 0 {
		return 1.0
	}
	return rate
}

// Result is the output of any backtest run: the resulting equity curve,
// the final portfolio book (trade log, cost counters), and the rebalance
// decision history the PerformanceAnalyzer's regime breakdown consumes.
type Result struct {
	Equity           []domain.EquityPoint
	Portfolio        *domain.Portfolio
	RebalanceHistory []domain.RebalanceEvent
}

// MomentumBacktester runs the domestic dual-momentum strategy: monthly
// rebalance via DataHandler.MonthEndDays, daily mark-to-market on every
// trading day, matching momentum/backtester.py's MomentumBacktester.run.
type MomentumBacktester struct {
	cfg        Config
	scorer     *scoring.Scorer
	rebalancer *rebalance.Rebalancer
	manager    *portfolio.Manager
	log        zerolog.Logger
}

// NewMomentum constructs a MomentumBacktester.
func NewMomentum(cfg Config, scorer *scoring.Scorer, rebalancer *rebalance.Rebalancer, log zerolog.Logger) *MomentumBacktester {
	return &MomentumBacktester{
		cfg:        cfg,
		scorer:     scorer,
		rebalancer: rebalancer,
		manager:    portfolio.New(cfg.Costs, log),
		log:        log.With().Str("component", "backtest").Str("strategy", "momentum").Logger(),
	}
}

// Run drives handler's calendar from its warmup boundary to the end,
// rebalancing on month-end days and marking the book to market every
// trading day. It aborts (returning a KindInvariant error) when the warmup
// leaves no trading days or when ctx is cancelled. A day for which
// handler.ViewAt fails is logged and skipped without an equity point;
// missing bars otherwise carry forward via the Handler's own
// forward-fill, matching the original's defensive posture.
func (b *MomentumBacktester) Run(ctx context.Context, handler *datahandler.Handler) (*Result, error) {
	window := handler.BacktestWindow(b.cfg.WarmupDays)
	if len(window) == 0 {
		return nil, errs.Invariant(fmt.Errorf("backtest: warmup window (%d days) leaves no trading days to simulate", b.cfg.WarmupDays))
	}

	monthEnd := make(map[domain.Instant]struct{}, len(handler.MonthEndDays()))
	for _, d := range handler.MonthEndDays() {
		monthEnd[d] = struct{}{}
	}

	book := domain.NewPortfolio(b.cfg.InitialCapital)
	result := &Result{Portfolio: book}

	totalDays := len(window)
	nextDecile := totalDays / 10

	for i, day := range window {
		if err := ctx.Err(); err != nil {
			return nil, errs.Invariant(fmt.Errorf("backtest: cancelled at day %d/%d: %w", i, totalDays, err))
		}

		snap, err := handler.ViewAt(day)
		if err != nil {
			b.log.Warn().Err(err).Int64("day", int64(day)).Msg("skipping day: no snapshot available")
			continue
		}

		if _, isRebalanceDay := monthEnd[day]; isRebalanceDay {
			candidates := b.scorer.SelectAssets(snap, b.cfg.Universe)
			assets := make([]string, len(candidates))
			for j, c := range candidates {
				assets[j] = c.Symbol
			}
			weights := b.rebalancer.GenerateTargetWeights(day, snap, assets)
			prices := handler.CurrentPrices(day)
			usdkrw := fxRateFromPrices(prices, b.cfg.FXSymbol)
			b.manager.ExecuteTrades(book, day, weights, prices, b.cfg.MarketOf, b.cfg.CurrencyOf, usdkrw)
		}

		prices := handler.CurrentPrices(day)
		usdkrw := fxRateFromPrices(prices, b.cfg.FXSymbol)
		result.Equity = append(result.Equity, portfolio.RecordDailyEquity(book, day, prices, b.cfg.CurrencyOf, usdkrw))

		if nextDecile > 0 && (i+1)%nextDecile == 0 {
			b.log.Info().
				Int("pct_complete", 10*(i+1)/nextDecile).
				Int64("day", int64(day)).
				Float64("equity", result.Equity[len(result.Equity)-1].TotalBaseCcyValue).
				Msg("backtest progress")
		}
	}

	result.RebalanceHistory = b.rebalancer.History
	return result, nil
}
