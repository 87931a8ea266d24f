package scoring

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/arduino-trader/internal/datahandler"
	"github.com/aristath/arduino-trader/internal/domain"
)

func closesSeries(n int, fn func(i int) float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = fn(i)
	}
	return out
}

func TestReturnsRequiresFullTwelveMonthWindow(t *testing.T) {
	_, _, _, ok := Returns(closesSeries(Lookback12M, func(i int) float64 { return 100 }))
	assert.False(t, ok, "needs strictly more than 252 points")

	closes := closesSeries(Lookback12M+1, func(i int) float64 { return 100 + float64(i) })
	r3, r6, r12, ok := Returns(closes)
	require.True(t, ok)

	last := closes[len(closes)-1]
	wantR3 := last/closes[len(closes)-1-Lookback3M] - 1.0
	wantR6 := last/closes[len(closes)-1-Lookback6M] - 1.0
	wantR12 := last/closes[0] - 1.0
	assert.InDelta(t, wantR3, r3, 1e-9)
	assert.InDelta(t, wantR6, r6, 1e-9)
	assert.InDelta(t, wantR12, r12, 1e-9)
}

func buildSnapshot(t *testing.T, symbol string, closes []float64, tv float64) datahandler.Snapshot {
	t.Helper()
	bars := make([]domain.Bar, len(closes))
	for i, c := range closes {
		bars[i] = domain.Bar{Instant: domain.Instant(i + 1), Close: c, Volume: 100}
	}
	h, err := datahandler.Build([]domain.BarSeries{{Symbol: symbol, Bars: bars}}, "BENCH")
	require.NoError(t, err)
	snap, err := h.ViewAt(domain.Instant(len(closes)))
	require.NoError(t, err)
	series := snap.TradingValue[symbol]
	for i := range series {
		series[i] = tv
	}
	return snap
}

func TestSelectAssetsExcludesBelowLiquidityThreshold(t *testing.T) {
	closes := closesSeries(Lookback12M+1, func(i int) float64 { return 100 + float64(i) })
	snap := buildSnapshot(t, "A", closes, 1_000_000) // below MinTradingValue

	s := New(5_000_000_000, 0, 5, zerolog.Nop())
	candidates := s.SelectAssets(snap, []string{"A"})
	assert.Empty(t, candidates)
}

func TestSelectAssetsGatesOnAbsoluteMomentum(t *testing.T) {
	// Monotone decline: r12 will be negative, below a positive risk-free rate.
	closes := closesSeries(Lookback12M+1, func(i int) float64 { return 200 - float64(i) })
	snap := buildSnapshot(t, "A", closes, 1e10)

	s := New(5_000_000_000, 0.01, 5, zerolog.Nop())
	candidates := s.SelectAssets(snap, []string{"A"})
	assert.Empty(t, candidates, "negative 12-month return must be excluded even with no better-scored alternative")
}

func TestCategoryWeightsDivertsFailedShareToCash(t *testing.T) {
	s := New(0, 0.5, 0, zerolog.Nop())

	passClose := closesSeries(Lookback12M+1, func(i int) float64 { return 100 + float64(i) })
	failClose := closesSeries(Lookback12M+1, func(i int) float64 { return 200 - float64(i) })

	bars := []domain.BarSeries{
		{Symbol: "PASS", Bars: toBars(passClose)},
		{Symbol: "FAIL", Bars: toBars(failClose)},
	}
	h, err := datahandler.Build(bars, "BENCH")
	require.NoError(t, err)
	snap, err := h.ViewAt(domain.Instant(len(passClose)))
	require.NoError(t, err)

	weights, overflow := s.CategoryWeights(snap, []string{"PASS", "FAIL"}, 0.5)
	assert.InDelta(t, 0.25, overflow, 1e-9, "one of two tickers failing the gate diverts half the category weight")
	assert.InDelta(t, 0.25, weights["PASS"], 1e-9)
	assert.NotContains(t, weights, "FAIL")
}

func toBars(closes []float64) []domain.Bar {
	bars := make([]domain.Bar, len(closes))
	for i, c := range closes {
		bars[i] = domain.Bar{Instant: domain.Instant(i + 1), Close: c, Volume: 100, TradeValue: 1e10}
	}
	return bars
}

func TestGetPresetFallsBackToBalanced(t *testing.T) {
	p := GetPreset("does-not-exist")
	assert.Equal(t, "balanced", p.Name)
}

func TestPresetWeightsSumToOne(t *testing.T) {
	for name, p := range Presets {
		total := 0.0
		for _, w := range p.CategoryWeights {
			total += w
		}
		assert.InDelta(t, 1.0, total, 1e-9, "preset %s category weights must sum to 1.0", name)
	}
}
