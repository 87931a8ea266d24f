package backtest

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/arduino-trader/internal/datahandler"
	"github.com/aristath/arduino-trader/internal/domain"
	"github.com/aristath/arduino-trader/internal/portfolio"
	"github.com/aristath/arduino-trader/internal/rebalance"
	"github.com/aristath/arduino-trader/internal/scoring"
)

const secondsPerDay = int64(86400)

func trendingSeries(symbol string, days int, start, dailyGrowth float64) domain.BarSeries {
	bars := make([]domain.Bar, days)
	price := start
	for i := 0; i < days; i++ {
		bars[i] = domain.Bar{
			Instant: domain.Instant(int64(i) * secondsPerDay),
			Open:    price, High: price * 1.01, Low: price * 0.99, Close: price,
			Volume: 1_000_000, TradeValue: price * 1_000_000,
		}
		price *= 1 + dailyGrowth
	}
	return domain.BarSeries{Symbol: symbol, Bars: bars}
}

func sameMarket(m domain.Market) func(string) domain.Market {
	return func(string) domain.Market { return m }
}

func sameCurrency(c domain.Currency) func(string) domain.Currency {
	return func(string) domain.Currency { return c }
}

func TestMomentumRunSelectsTrendingAssetsAndTrades(t *testing.T) {
	const days = 400
	a := trendingSeries("A", days, 100, 0.002)
	b := trendingSeries("B", days, 50, 0.0005)
	bench := trendingSeries("BENCH", days, 200, 0.0008)

	handler, err := datahandler.Build([]domain.BarSeries{a, b, bench}, "BENCH")
	require.NoError(t, err)

	scorer := scoring.New(0, 0, 2, zerolog.Nop())
	rebalancer := rebalance.New(rebalance.EqualWeight, zerolog.Nop())

	cfg := Config{
		InitialCapital:  1_000_000,
		WarmupDays:      252,
		BenchmarkSymbol: "BENCH",
		Universe:        []string{"A", "B"},
		Costs:           portfolio.DefaultCostTable(0.001, 0.001),
		MarketOf:        sameMarket(domain.MarketDomesticRegular),
		CurrencyOf:      sameCurrency(domain.CurrencyKRW),
	}

	bt := NewMomentum(cfg, scorer, rebalancer, zerolog.Nop())
	result, err := bt.Run(context.Background(), handler)
	require.NoError(t, err)

	window := handler.BacktestWindow(252)
	assert.Len(t, result.Equity, len(window))
	assert.NotEmpty(t, result.Portfolio.TradeLog, "an uptrending universe with a passing regime should rebalance into positions")
	assert.NotEmpty(t, rebalancer.History)
	assert.Greater(t, result.Equity[len(result.Equity)-1].TotalBaseCcyValue, 0.0)
}

func TestMomentumRunEmptyWindowIsInvariantViolation(t *testing.T) {
	a := trendingSeries("A", 10, 100, 0.001)
	handler, err := datahandler.Build([]domain.BarSeries{a}, "A")
	require.NoError(t, err)

	scorer := scoring.New(0, 0, 1, zerolog.Nop())
	rebalancer := rebalance.New(rebalance.EqualWeight, zerolog.Nop())
	cfg := Config{
		InitialCapital: 1000, WarmupDays: 252, BenchmarkSymbol: "A",
		Universe: []string{"A"}, Costs: portfolio.DefaultCostTable(0, 0),
		MarketOf: sameMarket(domain.MarketDomesticRegular), CurrencyOf: sameCurrency(domain.CurrencyKRW),
	}
	bt := NewMomentum(cfg, scorer, rebalancer, zerolog.Nop())
	_, err = bt.Run(context.Background(), handler)
	assert.Error(t, err)
}

func TestMomentumRunRespectsCancellation(t *testing.T) {
	a := trendingSeries("A", 300, 100, 0.001)
	bench := trendingSeries("BENCH", 300, 100, 0.001)
	handler, err := datahandler.Build([]domain.BarSeries{a, bench}, "BENCH")
	require.NoError(t, err)

	scorer := scoring.New(0, 0, 1, zerolog.Nop())
	rebalancer := rebalance.New(rebalance.EqualWeight, zerolog.Nop())
	cfg := Config{
		InitialCapital: 1000, WarmupDays: 252, BenchmarkSymbol: "BENCH",
		Universe: []string{"A"}, Costs: portfolio.DefaultCostTable(0, 0),
		MarketOf: sameMarket(domain.MarketDomesticRegular), CurrencyOf: sameCurrency(domain.CurrencyKRW),
	}
	bt := NewMomentum(cfg, scorer, rebalancer, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = bt.Run(ctx, handler)
	assert.Error(t, err)
}
