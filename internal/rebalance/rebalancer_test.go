package rebalance

import (
	"math"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/arduino-trader/internal/datahandler"
	"github.com/aristath/arduino-trader/internal/domain"
)

func TestDetectRegimeDefaultsToBullOnNaN(t *testing.T) {
	regime, scale := DetectRegime(math.NaN(), math.NaN())
	assert.Equal(t, RegimeBull, regime)
	assert.Equal(t, 1.0, scale)
}

func TestDetectRegimeBear(t *testing.T) {
	regime, scale := DetectRegime(90, 100)
	assert.Equal(t, RegimeBear, regime)
	assert.Equal(t, 0.0, scale)
}

func TestGenerateTargetWeightsZeroesOnBear(t *testing.T) {
	r := New(EqualWeight, zerolog.Nop())
	snap := datahandler.Snapshot{BenchmarkClose: 90, BenchmarkSMA200: 100}
	weights := r.GenerateTargetWeights(1, snap, []string{"A", "B"})
	assert.Empty(t, weights)
	require.Len(t, r.History, 1)
	assert.Equal(t, "BEAR", r.History[0].Regime)
}

func TestGenerateTargetWeightsEqualWeightOnBull(t *testing.T) {
	r := New(EqualWeight, zerolog.Nop())
	snap := datahandler.Snapshot{BenchmarkClose: 110, BenchmarkSMA200: 100}
	weights := r.GenerateTargetWeights(1, snap, []string{"A", "B"})
	assert.InDelta(t, 0.5, weights["A"], 1e-9)
	assert.InDelta(t, 0.5, weights["B"], 1e-9)
}

func TestInverseVolatilityWeightFallsBackToEqualWeightWhenNoValidVol(t *testing.T) {
	closes := make([]float64, VolLookback+2)
	for i := range closes {
		closes[i] = 100 // zero variance -> zero vol -> dropped
	}
	bars := make([]domain.Bar, len(closes))
	for i, c := range closes {
		bars[i] = domain.Bar{Instant: domain.Instant(i + 1), Close: c}
	}
	h, err := datahandler.Build([]domain.BarSeries{{Symbol: "A", Bars: bars}}, "BENCH")
	require.NoError(t, err)
	snap, err := h.ViewAt(domain.Instant(len(closes)))
	require.NoError(t, err)

	weights := inverseVolatilityWeight(snap, []string{"A"})
	assert.InDelta(t, 1.0, weights["A"], 1e-9, "falls back to equal weight across the single asset")
}

func TestGenerateGlobalTargetWeightsDivertsBearToCash(t *testing.T) {
	r := New(EqualWeight, zerolog.Nop())
	weights := map[string]float64{"SPY": 0.6, "AGG": 0.4}
	regimes := map[string]Regime{"SPY": RegimeBear, "AGG": RegimeBull}

	final := r.GenerateGlobalTargetWeights(1, weights, regimes, "SHY", "EWY", nil)
	assert.InDelta(t, 0.4, final["AGG"], 1e-9)
	assert.InDelta(t, 0.6, final["SHY"], 1e-9)
	assert.NotContains(t, final, "SPY")
}

func TestGenerateGlobalTargetWeightsSplitsKREquityAfterBearFilter(t *testing.T) {
	r := New(EqualWeight, zerolog.Nop())
	weights := map[string]float64{"EWY": 0.3, "SPY": 0.3, "SHY": 0.4}
	regimes := map[string]Regime{"EWY": RegimeBull, "SPY": RegimeBull, "SHY": RegimeBull}

	final := r.GenerateGlobalTargetWeights(1, weights, regimes, "SHY", "EWY", []string{"005930", "000660"})
	assert.NotContains(t, final, "EWY", "EWY weight is expanded into domestic Top-N, not held directly")
	assert.InDelta(t, 0.15, final["005930"], 1e-9)
	assert.InDelta(t, 0.15, final["000660"], 1e-9)
	assert.InDelta(t, 0.3, final["SPY"], 1e-9)
	assert.InDelta(t, 0.4, final["SHY"], 1e-9)
}

func TestGenerateGlobalTargetWeightsBearDivertedEWYNeverReachesDomesticStocks(t *testing.T) {
	r := New(EqualWeight, zerolog.Nop())
	weights := map[string]float64{"EWY": 0.3, "SPY": 0.3, "SHY": 0.4}
	regimes := map[string]Regime{"EWY": RegimeBear, "SPY": RegimeBull, "SHY": RegimeBull}

	final := r.GenerateGlobalTargetWeights(1, weights, regimes, "SHY", "EWY", []string{"005930"})
	assert.NotContains(t, final, "005930", "EWY's BEAR-diverted weight landed in cash, not the domestic candidate")
	assert.InDelta(t, 0.7, final["SHY"], 1e-9, "SHY's own 0.4 plus EWY's diverted 0.3")
	assert.InDelta(t, 0.3, final["SPY"], 1e-9)
}
