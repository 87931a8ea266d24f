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

// GlobalConfig carries the parameters for the 5-preset global dual-momentum
// backtest. Universe is the global ETF ticker pool scoring.SelectGlobalAssets
// allocates across (every asset-class category plus CashTicker);
// DomesticUniverse is the KR stock pool the KREquityTicker slot's weight
// expands into once the Rebalancer's BEAR-regime filter has run, matching
// _execute_global_rebalance.
type GlobalConfig struct {
	InitialCapital   float64
	WarmupDays       int
	PresetName       string
	Universe         []string
	CashTicker       string
	KREquityTicker   string
	DomesticUniverse []string
	FXSymbol         string
	Costs            portfolio.CostTable
	MarketOf         func(symbol string) domain.Market
	CurrencyOf       func(symbol string) domain.Currency
}

// GlobalBacktester runs the global dual-momentum preset strategy: monthly
// rebalance via the global Handler's MonthEndDays, per-ticker BULL/BEAR
// regime filtering (each global ETF against its own SMA200) applied after
// the Scorer's category allocation, and the KR equity slot's post-filter
// weight split across a domestic Top-N — matching
// momentum_backtester.py's _execute_global_rebalance end to end.
type GlobalBacktester struct {
	cfg            GlobalConfig
	scorer         *scoring.Scorer
	domesticScorer *scoring.Scorer
	rebalancer     *rebalance.Rebalancer
	manager        *portfolio.Manager
	log            zerolog.Logger
}

// NewGlobal constructs a GlobalBacktester. domesticScorer may be nil when
// the KR equity slot should be held as EWY itself rather than expanded into
// individual domestic stocks.
func NewGlobal(cfg GlobalConfig, scorer, domesticScorer *scoring.Scorer, rebalancer *rebalance.Rebalancer, log zerolog.Logger) *GlobalBacktester {
	return &GlobalBacktester{
		cfg:            cfg,
		scorer:         scorer,
		domesticScorer: domesticScorer,
		rebalancer:     rebalancer,
		manager:        portfolio.New(cfg.Costs, log),
		log:            log.With().Str("component", "backtest").Str("strategy", "global").Logger(),
	}
}

// Run drives globalHandler's calendar from its warmup boundary to the end.
// regimeHandlers supplies one self-benchmarked Handler per ticker in
// cfg.Universe (built with that ticker as its own benchmark symbol) so each
// asset's BULL/BEAR state is judged against its own SMA200, matching
// detect_global_regimes. domesticHandler, when non-nil, supplies the KR
// stock prices the EWY slot's weight may expand into; its absence is only
// valid when domesticScorer is also nil.
func (b *GlobalBacktester) Run(ctx context.Context, globalHandler *datahandler.Handler, regimeHandlers map[string]*datahandler.Handler, domesticHandler *datahandler.Handler) (*Result, error) {
	window := globalHandler.BacktestWindow(b.cfg.WarmupDays)
	if len(window) == 0 {
		return nil, errs.Invariant(fmt.Errorf("backtest: global warmup window (%d days) leaves no trading days to simulate", b.cfg.WarmupDays))
	}

	monthEnd := make(map[domain.Instant]struct{}, len(globalHandler.MonthEndDays()))
	for _, d := range globalHandler.MonthEndDays() {
		monthEnd[d] = struct{}{}
	}

	book := domain.NewPortfolio(b.cfg.InitialCapital)
	result := &Result{Portfolio: book}

	totalDays := len(window)
	nextDecile := totalDays / 10

	for i, day := range window {
		if err := ctx.Err(); err != nil {
			return nil, errs.Invariant(fmt.Errorf("backtest: global cancelled at day %d/%d: %w", i, totalDays, err))
		}

		globalSnap, err := globalHandler.ViewAt(day)
		if err != nil {
			b.log.Warn().Err(err).Int64("day", int64(day)).Msg("skipping day: no global snapshot available")
			continue
		}

		if _, isRebalanceDay := monthEnd[day]; isRebalanceDay {
			var domesticSnap *datahandler.Snapshot
			if domesticHandler != nil {
				if ds, err := domesticHandler.ViewAt(day); err == nil {
					domesticSnap = &ds
				}
			}

			assetWeights, krTopN := b.scorer.SelectGlobalAssets(globalSnap, b.cfg.PresetName, b.domesticScorer, domesticSnap, b.cfg.DomesticUniverse)

			regimeSnaps := make(map[string]datahandler.Snapshot, len(regimeHandlers))
			for ticker, rh := range regimeHandlers {
				if rs, err := rh.ViewAt(day); err == nil {
					regimeSnaps[ticker] = rs
				}
			}
			regimes := rebalance.GlobalAssetRegimes(regimeSnaps, b.cfg.CashTicker)

			weights := b.rebalancer.GenerateGlobalTargetWeights(day, assetWeights, regimes, b.cfg.CashTicker, b.cfg.KREquityTicker, krTopN)

			prices := b.mergedPrices(globalHandler, domesticHandler, day)
			usdkrw := fxRateFromPrices(prices, b.cfg.FXSymbol)
			b.manager.ExecuteTrades(book, day, weights, prices, b.cfg.MarketOf, b.cfg.CurrencyOf, usdkrw)
		}

		prices := b.mergedPrices(globalHandler, domesticHandler, day)
		usdkrw := fxRateFromPrices(prices, b.cfg.FXSymbol)
		result.Equity = append(result.Equity, portfolio.RecordDailyEquity(book, day, prices, b.cfg.CurrencyOf, usdkrw))

		if nextDecile > 0 && (i+1)%nextDecile == 0 {
			b.log.Info().
				Int("pct_complete", 10*(i+1)/nextDecile).
				Int64("day", int64(day)).
				Float64("equity", result.Equity[len(result.Equity)-1].TotalBaseCcyValue).
				Msg("global backtest progress")
		}
	}

	result.RebalanceHistory = b.rebalancer.History
	return result, nil
}

// mergedPrices combines the global ETF universe's current prices with the
// domestic Top-N pool's (when present), so ExecuteTrades/RecordDailyEquity
// can cost and value a portfolio spanning both once the KR equity slot has
// been expanded.
func (b *GlobalBacktester) mergedPrices(globalHandler, domesticHandler *datahandler.Handler, day domain.Instant) map[string]float64 {
	prices := globalHandler.CurrentPrices(day)
	if domesticHandler != nil {
		for symbol, price := range domesticHandler.CurrentPrices(day) {
			prices[symbol] = price
		}
	}
	return prices
}
