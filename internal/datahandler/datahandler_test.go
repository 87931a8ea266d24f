package datahandler

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/arduino-trader/internal/domain"
)

func mkSeries(symbol string, closes map[int64]float64) domain.BarSeries {
	bars := make([]domain.Bar, 0, len(closes))
	for inst, c := range closes {
		bars = append(bars, domain.Bar{Instant: domain.Instant(inst), Close: c, Volume: 100})
	}
	return domain.BarSeries{Symbol: symbol, Bars: bars}
}

func TestBuildForwardFillsGaps(t *testing.T) {
	a := mkSeries("A", map[int64]float64{1: 10, 2: 11, 4: 13})
	b := mkSeries("B", map[int64]float64{3: 50})
	h, err := Build([]domain.BarSeries{a, b}, "BENCH")
	require.NoError(t, err)

	assert.Equal(t, []domain.Instant{1, 2, 3, 4}, h.TradingDays())
	assert.Equal(t, 11.0, h.prices["A"][2], "A has no bar at instant 3, so calendar index 2 carries instant 2's close forward")
}

func TestViewAtNeverLeaksFutureBar(t *testing.T) {
	a := mkSeries("A", map[int64]float64{1: 10, 2: 11, 3: 12})
	h, err := Build([]domain.BarSeries{a}, "BENCH")
	require.NoError(t, err)

	snap, err := h.ViewAt(2)
	require.NoError(t, err)
	closes := snap.Prices["A"]
	require.Len(t, closes, 2)
	assert.Equal(t, 11.0, closes[len(closes)-1])
}

func TestTradingValueIsShiftedByOne(t *testing.T) {
	closes := map[int64]float64{1: 10, 2: 10, 3: 10}
	a := mkSeries("A", closes)
	h, err := Build([]domain.BarSeries{a}, "BENCH")
	require.NoError(t, err)

	// tradingValue at instant 1 (index 0) must be NaN: shift(1) has nothing
	// to shift from.
	assert.True(t, math.IsNaN(h.tradingValue["A"][0]))
	// at index 1 it should reflect only index 0's raw trading value.
	assert.Equal(t, 10.0*100, h.tradingValue["A"][1])
}

func TestBenchmarkSMA200RequiresFullWindow(t *testing.T) {
	closes := make(map[int64]float64)
	for i := int64(1); i <= 50; i++ {
		closes[i] = float64(i)
	}
	a := mkSeries("BENCH", closes)
	h, err := Build([]domain.BarSeries{a}, "BENCH")
	require.NoError(t, err)

	snap, err := h.ViewAt(50)
	require.NoError(t, err)
	assert.True(t, math.IsNaN(snap.BenchmarkSMA200), "200-day SMA cannot be valid with only 50 days of history")
}

func TestCurrentPricesUsesNearestPriorDay(t *testing.T) {
	a := mkSeries("A", map[int64]float64{1: 10, 5: 20})
	h, err := Build([]domain.BarSeries{a}, "BENCH")
	require.NoError(t, err)

	prices := h.CurrentPrices(3)
	assert.Equal(t, 10.0, prices["A"])
}
