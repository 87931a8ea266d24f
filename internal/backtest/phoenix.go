package backtest

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/arduino-trader/internal/alphafilter"
	"github.com/aristath/arduino-trader/internal/domain"
	"github.com/aristath/arduino-trader/internal/errs"
	"github.com/aristath/arduino-trader/internal/portfolio"
)

// PhoenixTargetLoader reads the deterministic, date-keyed static target
// list from cache/phoenix/targets/<date>.txt: an externally-curated
// theme-target file (no computed gates; the list is the product of an
// out-of-scope screening process). Each non-blank, non-# line is
// "SYMBOL[,NAME[,ATS]]".
type PhoenixTargetLoader struct {
	dir string
}

// NewPhoenixTargetLoader constructs a loader rooted at dir (typically
// "cache/phoenix/targets").
func NewPhoenixTargetLoader(dir string) *PhoenixTargetLoader {
	return &PhoenixTargetLoader{dir: dir}
}

// Load returns the static target list for day, keyed by its
// "YYYY-MM-DD" file name. A missing file means no Phoenix targets trade
// that day (not an error — most days have none by design).
func (l *PhoenixTargetLoader) Load(day time.Time) ([]alphafilter.PhoenixTarget, error) {
	path := filepath.Join(l.dir, day.Format("2006-01-02")+".txt")
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errs.Fetch("phoenix_targets", fmt.Errorf("open %s: %w", path, err))
	}
	defer f.Close()

	var targets []alphafilter.PhoenixTarget
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Split(line, ",")
		t := alphafilter.PhoenixTarget{Symbol: strings.TrimSpace(fields[0])}
		if len(fields) > 1 {
			t.Name = strings.TrimSpace(fields[1])
		}
		if len(fields) > 2 && strings.TrimSpace(fields[2]) == "ATS" {
			t.IsATS = true
		}
		targets = append(targets, t)
	}
	if err := scanner.Err(); err != nil {
		return nil, errs.Fetch("phoenix_targets", fmt.Errorf("scan %s: %w", path, err))
	}
	return targets, nil
}

// PhoenixConfig carries the Phoenix strategy's sizing parameter; the
// entry/exit rule itself (upper-limit trailing stop, time-banded exit
// table, friction cost) lives in alphafilter.SimulateDay.
type PhoenixConfig struct {
	InitialCapital  float64
	PositionSizePct float64
	MarketOf        func(symbol string) domain.Market
	CurrencyOf      func(symbol string) domain.Currency
}

// DefaultPhoenixConfig mirrors the Pullback default of 10% of equity per
// name, since the original allocates Phoenix targets evenly within a
// single trading day's theme basket.
func DefaultPhoenixConfig() PhoenixConfig {
	return PhoenixConfig{PositionSizePct: 0.10}
}

// PhoenixBacktester runs the single-day round-trip theme strategy: every
// trading day, each statically-listed target is bought at the open and
// sold per alphafilter.SimulateDay's time-banded exit rule, matching
// phoenix/backtester.py's PhoenixBacktester.run.
type PhoenixBacktester struct {
	cfg    PhoenixConfig
	loader *PhoenixTargetLoader
	log    zerolog.Logger
}

// NewPhoenixBacktester constructs a PhoenixBacktester.
func NewPhoenixBacktester(cfg PhoenixConfig, loader *PhoenixTargetLoader, log zerolog.Logger) *PhoenixBacktester {
	return &PhoenixBacktester{
		cfg:    cfg,
		loader: loader,
		log:    log.With().Str("component", "backtest").Str("strategy", "phoenix").Logger(),
	}
}

// MinuteBars supplies one trading day's intraday minute bars per symbol.
// Symbols with no minute coverage for a given day are skipped for that
// day (logged at debug level) rather than approximated from daily bars.
type MinuteBars func(symbol string, day time.Time) ([]alphafilter.MinuteBar, bool)

// PriorClose supplies the prior trading day's close for symbol, used as
// both the upper-limit trailing-stop reference and the data-availability
// gate (SimulateDay requires a nonzero prior close).
type PriorClose func(symbol string, day time.Time) (float64, bool)

// Run iterates calendar day by day, loading that day's static target list
// and simulating each target's round-trip via alphafilter.SimulateDay.
func (b *PhoenixBacktester) Run(ctx context.Context, calendar []time.Time, minuteBars MinuteBars, priorClose PriorClose) (*Result, error) {
	if len(calendar) == 0 {
		return nil, errs.Invariant(fmt.Errorf("backtest: phoenix calendar is empty"))
	}

	book := domain.NewPortfolio(b.cfg.InitialCapital)
	result := &Result{Portfolio: book}

	for i, day := range calendar {
		if err := ctx.Err(); err != nil {
			return nil, errs.Invariant(fmt.Errorf("backtest: phoenix cancelled at day %d: %w", i, err))
		}

		targets, err := b.loader.Load(day)
		if err != nil {
			b.log.Warn().Err(err).Time("day", day).Msg("failed to load phoenix targets, skipping day")
			targets = nil
		}

		dayInstant := domain.Instant(day.Unix())
		lastClose := map[string]float64{}

		for _, target := range targets {
			prevClose, ok := priorClose(target.Symbol, day)
			if !ok {
				b.log.Debug().Str("symbol", target.Symbol).Msg("no prior close, skipping phoenix target for the day")
				continue
			}
			bars, ok := minuteBars(target.Symbol, day)
			if !ok || len(bars) == 0 {
				b.log.Debug().Str("symbol", target.Symbol).Time("day", day).Msg("no minute bars for phoenix target, skipping")
				continue
			}

			trade, ok := alphafilter.SimulateDay(target.Symbol, prevClose, bars)
			if !ok {
				continue
			}
			b.applyTrade(book, dayInstant, target.Symbol, trade)
			lastClose[target.Symbol] = trade.SellPrice
		}

		result.Equity = append(result.Equity, portfolio.RecordDailyEquity(book, dayInstant, lastClose, b.cfg.CurrencyOf, 1.0))
	}

	return result, nil
}

// applyTrade books the round-trip as a same-day buy/sell pair, scaled to
// PositionSizePct of the book's equity at entry, applying the friction
// cost already embedded in trade.ReturnAfterCost and recording the
// matching PortfolioManager-style commission/slippage split for the cost
// summary, using the configured per-market cost model as the split
// ratio between the two (friction already nets both legs, so commission
// here is informational bookkeeping rather than an additional charge).
func (b *PhoenixBacktester) applyTrade(book *domain.Portfolio, day domain.Instant, symbol string, trade alphafilter.PhoenixTrade) {
	equity := portfolio.PortfolioValue(book, map[string]float64{symbol: trade.BuyPrice}, b.cfg.CurrencyOf, 1.0)
	sizeValue := equity * b.cfg.PositionSizePct
	if sizeValue <= 0 || sizeValue > book.CashBaseCcy {
		sizeValue = book.CashBaseCcy
	}
	if sizeValue <= 0 {
		return
	}
	shares := sizeValue / trade.BuyPrice
	proceeds := shares * trade.SellPrice * (1 - alphafilter.PhoenixFrictionCost/2)
	cost := shares * trade.BuyPrice * (1 + alphafilter.PhoenixFrictionCost/2)

	book.CashBaseCcy -= cost
	book.CashBaseCcy += proceeds
	friction := (shares * trade.BuyPrice * alphafilter.PhoenixFrictionCost / 2) + (shares * trade.SellPrice * alphafilter.PhoenixFrictionCost / 2)
	book.TotalCommission += friction
	book.TotalTrades += 2
	book.TotalTurnover += cost + proceeds

	market := b.cfg.MarketOf(symbol)
	currency := b.cfg.CurrencyOf(symbol)
	book.TradeLog = append(book.TradeLog,
		domain.TradeRecord{
			Day: day, Symbol: symbol, Action: domain.ActionNetBuy,
			SignedShares: shares, MarketPrice: trade.BuyPrice, ExecPrice: trade.BuyPrice * (1 + alphafilter.PhoenixFrictionCost/2),
			SignedAmount: cost, Commission: friction / 2, Market: market, Currency: currency,
		},
		domain.TradeRecord{
			Day: day, Symbol: symbol, Action: domain.ActionNetSell,
			SignedShares: -shares, MarketPrice: trade.SellPrice, ExecPrice: trade.SellPrice * (1 - alphafilter.PhoenixFrictionCost/2),
			SignedAmount: -proceeds, Commission: friction / 2, Market: market, Currency: currency,
		},
	)

	b.log.Debug().Str("symbol", symbol).Str("reason", trade.SellReason).
		Float64("return_after_cost", trade.ReturnAfterCost).Msg("phoenix round-trip closed")
}
