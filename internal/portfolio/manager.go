// Package portfolio implements PortfolioManager (C6): the netting
// execution engine that turns a target weight map into a sequence of
// liquidate/sell/buy trades against a live book, applying directional
// slippage and commission — ported from momentum_portfolio.py's
// MomentumPortfolioManager.execute_trades.
package portfolio

import (
	"math"
	"sort"

	"github.com/rs/zerolog"

	"github.com/aristath/arduino-trader/internal/domain"
)

// CostModel is the commission/slippage pair applied to every trade. Buys
// execute at price*(1+slippage); sells execute at price*(1-slippage).
// Commission is charged on the gross (pre-commission) trade amount in
// both directions.
type CostModel struct {
	CommissionRate float64
	SlippageRate   float64
}

// CostTable maps each Market to its cost model, since domestic regular,
// domestic ATS, and global ETF legs carry different commission/slippage
// assumptions in practice even though the netting algorithm itself is
// market-agnostic.
type CostTable map[domain.Market]CostModel

// DefaultCostTable returns a cost table using the same commission/slippage
// for every market, suitable when no per-market overrides are configured.
func DefaultCostTable(commissionRate, slippageRate float64) CostTable {
	return CostTable{
		domain.MarketDomesticRegular: {CommissionRate: commissionRate, SlippageRate: slippageRate},
		domain.MarketDomesticATS:     {CommissionRate: commissionRate, SlippageRate: slippageRate},
		domain.MarketGlobalETF:       {CommissionRate: commissionRate, SlippageRate: slippageRate},
		domain.MarketBenchmark:       {CommissionRate: commissionRate, SlippageRate: slippageRate},
	}
}

// Manager executes target-weight rebalances against a Portfolio.
type Manager struct {
	Costs CostTable
	log   zerolog.Logger
}

// New constructs a Manager.
func New(costs CostTable, log zerolog.Logger) *Manager {
	return &Manager{Costs: costs, log: log.With().Str("component", "portfolio").Logger()}
}

func (m *Manager) costFor(market domain.Market) CostModel {
	if c, ok := m.Costs[market]; ok {
		return c
	}
	return CostModel{}
}

// instrumentCurrency resolves a symbol's quote currency, used to convert
// its price into the portfolio's base currency before valuation.
type instrumentCurrency func(symbol string) domain.Currency

// fxRate returns the base-currency value of one unit of currency, using
// usdkrw as the USD/KRW rate (the only cross-currency pair this platform
// trades); base-currency (KRW) instruments convert at 1.0.
func fxRate(currency domain.Currency, usdkrw float64) float64 {
	if currency == domain.CurrencyUSD {
		return usdkrw
	}
	return 1.0
}

// PortfolioValue sums cash plus every position's mark at currentPrices
// converted to base currency via currencyOf/usdkrw, skipping positions
// with a missing/non-positive price (matching get_portfolio_value's
// NaN/<=0 guard). usdkrw is the base-currency (KRW) price of one USD;
// pass 1.0 when the universe trades only base-currency instruments.
func PortfolioValue(p *domain.Portfolio, currentPrices map[string]float64, currencyOf instrumentCurrency, usdkrw float64) float64 {
	total := p.CashBaseCcy
	for symbol, shares := range p.Positions {
		price, ok := currentPrices[symbol]
		if !ok || price <= 0 || math.IsNaN(price) {
			continue
		}
		total += shares * price * fxRate(currencyOf(symbol), usdkrw)
	}
	return total
}

// instrumentMarket resolves a symbol's market for cost-table lookup; the
// caller supplies this via markets since Portfolio itself only tracks bare
// symbols.
type instrumentMarket func(symbol string) domain.Market

// ExecuteTrades runs the full two-phase netting protocol for one decision
// day: Phase 1 liquidates every held position not present (or zero-weight)
// in targetWeights; Phase 2 nets every remaining target against its
// current value, executing sells before buys, with buy orders scaled down
// (never partially skipped) when total cost would exceed available cash.
// usdkrw is the base-currency (KRW) price of one USD, applied to any
// symbol currencyOf reports as CurrencyUSD so global-market legs value
// and cost correctly against a KRW book; pass 1.0 for domestic-only runs.
func (m *Manager) ExecuteTrades(
	p *domain.Portfolio,
	day domain.Instant,
	targetWeights map[string]float64,
	currentPrices map[string]float64,
	marketOf instrumentMarket,
	currencyOf instrumentCurrency,
	usdkrw float64,
) {
	m.liquidate(p, day, targetWeights, currentPrices, marketOf, currencyOf, usdkrw)

	totalValue := PortfolioValue(p, currentPrices, currencyOf, usdkrw)

	type order struct {
		symbol string
		value  float64 // positive magnitude, base currency
		price  float64 // native quote currency
		fx     float64
	}
	var sells, buys []order

	for symbol, weight := range targetWeights {
		if weight <= 0 {
			continue
		}
		price, ok := currentPrices[symbol]
		if !ok || price <= 0 || math.IsNaN(price) {
			continue
		}
		fx := fxRate(currencyOf(symbol), usdkrw)
		basePrice := price * fx
		targetValue := totalValue * weight
		currentShares := p.Positions[symbol]
		currentValue := currentShares * basePrice
		diff := targetValue - currentValue

		switch {
		case diff > basePrice:
			buys = append(buys, order{symbol: symbol, value: diff, price: price, fx: fx})
		case diff < -basePrice:
			sells = append(sells, order{symbol: symbol, value: -diff, price: price, fx: fx})
		}
	}

	sort.Slice(sells, func(i, j int) bool { return sells[i].symbol < sells[j].symbol })
	sort.Slice(buys, func(i, j int) bool { return buys[i].symbol < buys[j].symbol })

	for _, o := range sells {
		m.executeSell(p, day, o.symbol, o.value, o.price, o.fx, domain.ActionNetSell, marketOf(o.symbol), currencyOf(o.symbol))
	}

	for _, o := range buys {
		m.executeBuy(p, day, o.symbol, o.value, o.price, o.fx, marketOf(o.symbol), currencyOf(o.symbol))
		if p.CashBaseCcy <= 0 {
			break
		}
	}
}

func (m *Manager) liquidate(
	p *domain.Portfolio,
	day domain.Instant,
	targetWeights map[string]float64,
	currentPrices map[string]float64,
	marketOf instrumentMarket,
	currencyOf instrumentCurrency,
	usdkrw float64,
) {
	var toLiquidate []string
	for symbol := range p.Positions {
		weight, inTarget := targetWeights[symbol]
		if !inTarget || weight <= 0 {
			toLiquidate = append(toLiquidate, symbol)
		}
	}
	sort.Strings(toLiquidate)

	for _, symbol := range toLiquidate {
		shares := p.Positions[symbol]
		delete(p.Positions, symbol)
		price, ok := currentPrices[symbol]
		if !ok || price <= 0 || math.IsNaN(price) || shares == 0 {
			continue
		}
		fx := fxRate(currencyOf(symbol), usdkrw)
		cost := m.costFor(marketOf(symbol))
		execPrice := price * (1 - cost.SlippageRate)
		proceeds := shares * execPrice * fx
		fee := proceeds * cost.CommissionRate
		p.CashBaseCcy += proceeds - fee
		slippageCost := shares * price * cost.SlippageRate * fx

		p.TradeLog = append(p.TradeLog, domain.TradeRecord{
			Day: day, Symbol: symbol, Action: domain.ActionLiquidate,
			SignedShares: -shares, MarketPrice: price, ExecPrice: execPrice,
			SignedAmount: -proceeds, Commission: fee, SlippageCost: slippageCost,
			Market: marketOf(symbol), Currency: currencyOf(symbol),
		})
		p.TotalCommission += fee
		p.TotalSlippageCost += slippageCost
		p.TotalTrades++
		p.TotalTurnover += proceeds
	}
}

func (m *Manager) executeSell(p *domain.Portfolio, day domain.Instant, symbol string, sellValue, price, fx float64, action domain.TradeAction, market domain.Market, currency domain.Currency) {
	cost := m.costFor(market)
	execPrice := price * (1 - cost.SlippageRate)
	currentShares := p.Positions[symbol]
	sharesToSell := sellValue / (execPrice * fx)
	if sharesToSell > currentShares {
		sharesToSell = currentShares
	}
	if sharesToSell <= 0 {
		return
	}
	proceeds := sharesToSell * execPrice * fx
	fee := proceeds * cost.CommissionRate
	p.CashBaseCcy += proceeds - fee
	remaining := currentShares - sharesToSell
	if remaining <= 1e-9 {
		delete(p.Positions, symbol)
	} else {
		p.Positions[symbol] = remaining
	}
	slippageCost := sharesToSell * price * cost.SlippageRate * fx

	p.TradeLog = append(p.TradeLog, domain.TradeRecord{
		Day: day, Symbol: symbol, Action: action,
		SignedShares: -sharesToSell, MarketPrice: price, ExecPrice: execPrice,
		SignedAmount: -proceeds, Commission: fee, SlippageCost: slippageCost,
		Market: market, Currency: currency,
	})
	p.TotalCommission += fee
	p.TotalSlippageCost += slippageCost
	p.TotalTrades++
	p.TotalTurnover += proceeds
}

func (m *Manager) executeBuy(p *domain.Portfolio, day domain.Instant, symbol string, buyValue, price, fx float64, market domain.Market, currency domain.Currency) {
	if p.CashBaseCcy <= 0 {
		return
	}
	cost := m.costFor(market)
	execPrice := price * (1 + cost.SlippageRate)
	sharesToBuy := buyValue / (execPrice * fx)
	totalCost := sharesToBuy * execPrice * fx * (1 + cost.CommissionRate)

	if totalCost > p.CashBaseCcy {
		maxShares := p.CashBaseCcy / (execPrice * fx * (1 + cost.CommissionRate))
		sharesToBuy = maxShares
		totalCost = sharesToBuy * execPrice * fx * (1 + cost.CommissionRate)
	}
	if sharesToBuy <= 0 {
		return
	}

	grossAmount := sharesToBuy * execPrice * fx
	fee := grossAmount * cost.CommissionRate
	spend := grossAmount + fee
	if spend > p.CashBaseCcy {
		// floating-point rounding in the clamp above can exceed cash by a few ulps
		spend = p.CashBaseCcy
	}
	p.CashBaseCcy -= spend
	p.Positions[symbol] += sharesToBuy
	slippageCost := sharesToBuy * price * cost.SlippageRate * fx

	p.TradeLog = append(p.TradeLog, domain.TradeRecord{
		Day: day, Symbol: symbol, Action: domain.ActionNetBuy,
		SignedShares: sharesToBuy, MarketPrice: price, ExecPrice: execPrice,
		SignedAmount: grossAmount, Commission: fee, SlippageCost: slippageCost,
		Market: market, Currency: currency,
	})
	p.TotalCommission += fee
	p.TotalSlippageCost += slippageCost
	p.TotalTrades++
	p.TotalTurnover += grossAmount
}

// RecordDailyEquity marks the portfolio at currentPrices (converted to
// base currency via currencyOf/usdkrw) and returns the resulting
// EquityPoint, matching record_daily_equity.
func RecordDailyEquity(p *domain.Portfolio, day domain.Instant, currentPrices map[string]float64, currencyOf instrumentCurrency, usdkrw float64) domain.EquityPoint {
	return domain.EquityPoint{Day: day, TotalBaseCcyValue: PortfolioValue(p, currentPrices, currencyOf, usdkrw)}
}

// CostSummary aggregates the running cost counters, matching
// get_cost_summary.
type CostSummary struct {
	TotalTrades       int
	TotalCommission   float64
	TotalSlippageCost float64
	TotalFriction     float64
	TotalTurnover     float64
	AvgCostPerTrade   float64
}

// Summarize computes the CostSummary for p.
func Summarize(p *domain.Portfolio) CostSummary {
	friction := p.TotalCommission + p.TotalSlippageCost
	avg := 0.0
	if p.TotalTrades > 0 {
		avg = friction / float64(p.TotalTrades)
	}
	return CostSummary{
		TotalTrades:       p.TotalTrades,
		TotalCommission:   p.TotalCommission,
		TotalSlippageCost: p.TotalSlippageCost,
		TotalFriction:     friction,
		TotalTurnover:     p.TotalTurnover,
		AvgCostPerTrade:   avg,
	}
}
