package backtest

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"github.com/aristath/arduino-trader/internal/alphafilter"
	"github.com/aristath/arduino-trader/internal/datahandler"
	"github.com/aristath/arduino-trader/internal/domain"
	"github.com/aristath/arduino-trader/internal/errs"
	"github.com/aristath/arduino-trader/internal/indicators"
	"github.com/aristath/arduino-trader/internal/portfolio"
)

// PullbackConfig carries the Pullback strategy's staged-entry and exit
// parameters, ported from pullback_backtester.py's module constants.
// Position sizing (PositionSizePct, MaxConcurrentPositions) is not
// specified by the distilled spec beyond the entry/exit rules; this Go
// port fixes equal-fraction-of-equity sizing per new entry, capped at
// MaxConcurrentPositions concurrently held names (staged candidates are not
// counted; one whose entry day finds the cap reached is dropped) — a documented
// Open Question resolution (see DESIGN.md), not a guess at hidden
// original behavior.
type PullbackConfig struct {
	Universe                []string
	Costs                   portfolio.CostTable
	MarketOf                func(symbol string) domain.Market
	CurrencyOf              func(symbol string) domain.Currency
	InitialCapital          float64
	ATRPeriod               int
	HardStopATRMultiple     float64
	TakeProfitATRMultiple   float64
	PartialTakeFraction     float64
	HorizonDays             int
	GapDownThreshold        float64
	PositionSizePct         float64
	MaxConcurrentPositions  int
}

// DefaultPullbackConfig fills in the literal constants from
// pullback_backtester.py/risk_manager.py: 1.2x ATR hard stop, 1.5x ATR
// partial take-profit on 50% of size, a 7-trading-day forced horizon, and
// the 0.98 gap-down abort threshold.
func DefaultPullbackConfig() PullbackConfig {
	return PullbackConfig{
		ATRPeriod:              14,
		HardStopATRMultiple:    1.2,
		TakeProfitATRMultiple:  1.5,
		PartialTakeFraction:    0.5,
		HorizonDays:            7,
		GapDownThreshold:       0.98,
		PositionSizePct:        0.10,
		MaxConcurrentPositions: 10,
	}
}

// StagedCandidate is one symbol staged at the close of day StagedDay for a
// next-day-open entry attempt, matching pullback_backtester.py's
// dataclass of the same shape.
type StagedCandidate struct {
	Symbol        string
	StagedDay     domain.Instant
	PrevClose     float64
	ATR           float64
	EntryPrice    *float64
	HighSincePeak *float64
	PartialTaken  bool
}

type pullbackPosition struct {
	symbol        string
	entryDayIdx   int
	entryPrice    float64
	atr           float64
	shares        float64
	partialTaken  bool
	stopPrice     float64
	highSincePeak float64
}

// PullbackBacktester runs the surge-then-pullback staged-entry strategy:
// candidates are screened and staged at today's close, attempted at
// tomorrow's open subject to a gap-down abort, then managed against a
// fixed ATR stop/partial-take/breakeven/horizon exit ladder, matching
// pullback_backtester.py's PullbackBacktester.run.
type PullbackBacktester struct {
	cfg    PullbackConfig
	filter alphafilter.PullbackFilter
	log    zerolog.Logger
}

// NewPullback constructs a PullbackBacktester.
func NewPullback(cfg PullbackConfig, log zerolog.Logger) *PullbackBacktester {
	return &PullbackBacktester{
		cfg: cfg,
		log: log.With().Str("component", "backtest").Str("strategy", "pullback").Logger(),
	}
}

// Run drives barsBySymbol (each series sorted ascending by Instant, one
// per universe symbol) day by day over handler's shared trading calendar.
// A symbol missing a bar on a given calendar day (e.g. halted, not yet
// listed) is treated as a data gap for that symbol on that day: it is
// skipped for staging and exit consideration and picked back up once its
// own series resumes, while a staged candidate with no bar on its entry
// day is dropped (logged at debug) rather than carried to a later day.
func (b *PullbackBacktester) Run(ctx context.Context, handler *datahandler.Handler, barsBySymbol map[string][]domain.Bar) (*Result, error) {
	calendar := handler.TradingDays()
	if len(calendar) == 0 {
		return nil, errs.Invariant(fmt.Errorf("backtest: pullback calendar is empty"))
	}

	barIndex := make(map[string]map[domain.Instant]int, len(barsBySymbol))
	for symbol, bars := range barsBySymbol {
		idx := make(map[domain.Instant]int, len(bars))
		for i, bar := range bars {
			idx[bar.Instant] = i
		}
		barIndex[symbol] = idx
	}

	book := domain.NewPortfolio(b.cfg.InitialCapital)
	result := &Result{Portfolio: book}

	var staged []StagedCandidate
	active := make(map[string]*pullbackPosition)

	barAt := func(symbol string, day domain.Instant) (domain.Bar, bool) {
		idx, ok := barIndex[symbol][day]
		if !ok {
			return domain.Bar{}, false
		}
		return barsBySymbol[symbol][idx], true
	}

	for dayIdx, day := range calendar {
		if err := ctx.Err(); err != nil {
			return nil, errs.Invariant(fmt.Errorf("backtest: pullback cancelled at day %d: %w", dayIdx, err))
		}

		staged = b.processEntries(book, day, dayIdx, staged, barAt, active)
		b.manageActive(book, day, dayIdx, barAt, active)
		staged = append(staged, b.stageNewCandidates(day, barsBySymbol, barIndex, active, staged)...)

		prices := make(map[string]float64, len(barsBySymbol))
		for symbol := range barsBySymbol {
			if bar, ok := barAt(symbol, day); ok {
				prices[symbol] = bar.Close
			}
		}
		result.Equity = append(result.Equity, portfolio.RecordDailyEquity(book, day, prices, b.cfg.CurrencyOf, 1.0))
	}

	return result, nil
}

// processEntries attempts next-day-open entry for every candidate staged
// on the previous day, applying the gap-down abort guard.
func (b *PullbackBacktester) processEntries(
	book *domain.Portfolio,
	day domain.Instant,
	dayIdx int,
	staged []StagedCandidate,
	barAt func(string, domain.Instant) (domain.Bar, bool),
	active map[string]*pullbackPosition,
) []StagedCandidate {
	var stillPending []StagedCandidate
	for _, c := range staged {
		bar, ok := barAt(c.Symbol, day)
		if !ok {
			b.log.Debug().Str("symbol", c.Symbol).Int64("day", int64(day)).Msg("no bar on entry day, dropping staged candidate")
			continue
		}
		if c.PrevClose <= 0 || bar.Open/c.PrevClose < b.cfg.GapDownThreshold {
			b.log.Debug().Str("symbol", c.Symbol).Float64("open", bar.Open).Float64("prev_close", c.PrevClose).Msg("gap-down abort")
			continue
		}
		if len(active) >= b.cfg.MaxConcurrentPositions {
			continue
		}
		market := b.cfg.MarketOf(c.Symbol)
		cost := b.costFor(market)
		execPrice := bar.Open * (1 + cost.SlippageRate)
		equity := portfolio.PortfolioValue(book, map[string]float64{c.Symbol: bar.Open}, b.cfg.CurrencyOf, 1.0)
		sizeValue := equity * b.cfg.PositionSizePct
		shares := sizeValue / (execPrice * (1 + cost.CommissionRate))
		if shares <= 0 || book.CashBaseCcy <= 0 {
			continue
		}
		grossAmount := shares * execPrice
		fee := grossAmount * cost.CommissionRate
		if grossAmount+fee > book.CashBaseCcy {
			shares = book.CashBaseCcy / (execPrice * (1 + cost.CommissionRate))
			grossAmount = shares * execPrice
			fee = grossAmount * cost.CommissionRate
		}
		book.CashBaseCcy -= grossAmount + fee
		book.Positions[c.Symbol] += shares
		book.TradeLog = append(book.TradeLog, domain.TradeRecord{
			Day: day, Symbol: c.Symbol, Action: domain.ActionNetBuy,
			SignedShares: shares, MarketPrice: bar.Open, ExecPrice: execPrice,
			SignedAmount: grossAmount, Commission: fee,
			SlippageCost: shares * bar.Open * cost.SlippageRate,
			Market: market, Currency: b.cfg.CurrencyOf(c.Symbol),
		})
		book.TotalCommission += fee
		book.TotalTrades++
		book.TotalTurnover += grossAmount

		active[c.Symbol] = &pullbackPosition{
			symbol: c.Symbol, entryDayIdx: dayIdx, entryPrice: execPrice,
			atr: c.ATR, shares: shares,
			stopPrice:     execPrice - b.cfg.HardStopATRMultiple*c.ATR,
			highSincePeak: execPrice,
		}
	}
	return stillPending
}

// manageActive checks every open position's stop/partial-take/horizon
// exits against today's bar, in that precedence order, matching
// risk_manager.py's daily position check.
func (b *PullbackBacktester) manageActive(
	book *domain.Portfolio,
	day domain.Instant,
	dayIdx int,
	barAt func(string, domain.Instant) (domain.Bar, bool),
	active map[string]*pullbackPosition,
) {
	var symbols []string
	for s := range active {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)

	for _, symbol := range symbols {
		pos := active[symbol]
		bar, ok := barAt(symbol, day)
		if !ok {
			continue
		}
		if bar.Close > pos.highSincePeak {
			pos.highSincePeak = bar.Close
		}

		market := b.cfg.MarketOf(symbol)
		cost := b.costFor(market)

		switch {
		case bar.Low <= pos.stopPrice:
			b.closePosition(book, day, pos, pos.stopPrice, cost, market, "stop loss")
			delete(active, symbol)

		case !pos.partialTaken && bar.High >= pos.entryPrice+b.cfg.TakeProfitATRMultiple*pos.atr:
			takeProfitPrice := pos.entryPrice + b.cfg.TakeProfitATRMultiple*pos.atr
			partialShares := pos.shares * b.cfg.PartialTakeFraction
			b.sellShares(book, day, symbol, partialShares, takeProfitPrice, cost, market, "partial take-profit")
			pos.shares -= partialShares
			pos.partialTaken = true
			pos.stopPrice = pos.entryPrice // move residual stop to breakeven

		case dayIdx-pos.entryDayIdx >= b.cfg.HorizonDays:
			b.closePosition(book, day, pos, bar.Close, cost, market, "horizon force-close")
			delete(active, symbol)
		}
	}
}

func (b *PullbackBacktester) closePosition(book *domain.Portfolio, day domain.Instant, pos *pullbackPosition, price float64, cost portfolio.CostModel, market domain.Market, reason string) {
	b.sellShares(book, day, pos.symbol, pos.shares, price, cost, market, reason)
}

func (b *PullbackBacktester) sellShares(book *domain.Portfolio, day domain.Instant, symbol string, shares, price float64, cost portfolio.CostModel, market domain.Market, reason string) {
	if shares <= 0 {
		return
	}
	execPrice := price * (1 - cost.SlippageRate)
	proceeds := shares * execPrice
	fee := proceeds * cost.CommissionRate
	book.CashBaseCcy += proceeds - fee
	remaining := book.Positions[symbol] - shares
	if remaining <= 1e-9 {
		delete(book.Positions, symbol)
	} else {
		book.Positions[symbol] = remaining
	}
	book.TradeLog = append(book.TradeLog, domain.TradeRecord{
		Day: day, Symbol: symbol, Action: domain.ActionNetSell,
		SignedShares: -shares, MarketPrice: price, ExecPrice: execPrice,
		SignedAmount: -proceeds, Commission: fee,
		SlippageCost: shares * price * cost.SlippageRate,
		Market:       market, Currency: b.cfg.CurrencyOf(symbol),
	})
	book.TotalCommission += fee
	book.TotalSlippageCost += shares * price * cost.SlippageRate
	book.TotalTrades++
	book.TotalTurnover += proceeds
	b.log.Debug().Str("symbol", symbol).Str("reason", reason).Float64("price", price).Msg("pullback exit")
}

// stageNewCandidates screens the universe (excluding symbols already
// active or pending entry) against the Pullback gates using each
// symbol's history truncated through day, matching screen_universe being
// re-run daily on the point-in-time panel.
func (b *PullbackBacktester) stageNewCandidates(
	day domain.Instant,
	barsBySymbol map[string][]domain.Bar,
	barIndex map[string]map[domain.Instant]int,
	active map[string]*pullbackPosition,
	pending []StagedCandidate,
) []StagedCandidate {
	excluded := make(map[string]struct{}, len(active)+len(pending))
	for s := range active {
		excluded[s] = struct{}{}
	}
	for _, c := range pending {
		excluded[c.Symbol] = struct{}{}
	}

	truncated := make(map[string][]domain.Bar, len(b.cfg.Universe))
	for _, symbol := range b.cfg.Universe {
		if _, skip := excluded[symbol]; skip {
			continue
		}
		idx, ok := barIndex[symbol][day]
		if !ok {
			continue
		}
		truncated[symbol] = barsBySymbol[symbol][:idx+1]
	}

	candidates := b.filter.ScreenUniverse(truncated)
	var fresh []StagedCandidate
	for _, c := range candidates {
		if !c.Passed {
			continue
		}
		bars := truncated[c.Symbol]
		last := bars[len(bars)-1]
		atr, ok := indicators.ATR(bars, b.cfg.ATRPeriod)
		if !ok {
			continue
		}
		fresh = append(fresh, StagedCandidate{
			Symbol: c.Symbol, StagedDay: day, PrevClose: last.Close, ATR: atr,
		})
	}
	return fresh
}

func (b *PullbackBacktester) costFor(market domain.Market) portfolio.CostModel {
	if c, ok := b.cfg.Costs[market]; ok {
		return c
	}
	return portfolio.CostModel{}
}
