package scoring

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/arduino-trader/internal/datahandler"
	"github.com/aristath/arduino-trader/internal/domain"
)

func TestSelectGlobalAssetsLeavesKREquityUnexpandedWhenNoDomesticScorer(t *testing.T) {
	closes := closesSeries(Lookback12M+1, func(i int) float64 { return 100 + float64(i) })
	bars := []domain.BarSeries{
		{Symbol: "SPY", Bars: toBars(closes)},
		{Symbol: "IWM", Bars: toBars(closes)},
		{Symbol: "EFA", Bars: toBars(closes)},
		{Symbol: "EEM", Bars: toBars(closes)},
		{Symbol: KREquityTicker, Bars: toBars(closes)},
		{Symbol: "VNQ", Bars: toBars(closes)},
		{Symbol: "DBC", Bars: toBars(closes)},
		{Symbol: "GLD", Bars: toBars(closes)},
		{Symbol: "AGG", Bars: toBars(closes)},
		{Symbol: "IEF", Bars: toBars(closes)},
		{Symbol: "TLT", Bars: toBars(closes)},
		{Symbol: "TIP", Bars: toBars(closes)},
		{Symbol: CashTicker, Bars: toBars(closes)},
	}
	h, err := datahandler.Build(bars, "BENCH")
	require.NoError(t, err)
	snap, err := h.ViewAt(domain.Instant(len(closes)))
	require.NoError(t, err)

	s := New(0, 0, 0, zerolog.Nop())
	weights, krTopN := s.SelectGlobalAssets(snap, "balanced", nil, nil, nil)

	assert.Empty(t, krTopN, "no domestic scorer supplied, so the EWY slot is never expanded")
	assert.Greater(t, weights[KREquityTicker], 0.0, "EWY keeps its un-expanded weight for the caller to filter/split")
}

func TestSelectGlobalAssetsReturnsDomesticTopNCandidatesWhenEWYWeighted(t *testing.T) {
	closes := closesSeries(Lookback12M+1, func(i int) float64 { return 100 + float64(i) })
	bars := []domain.BarSeries{
		{Symbol: "SPY", Bars: toBars(closes)},
		{Symbol: "IWM", Bars: toBars(closes)},
		{Symbol: "EFA", Bars: toBars(closes)},
		{Symbol: "EEM", Bars: toBars(closes)},
		{Symbol: KREquityTicker, Bars: toBars(closes)},
		{Symbol: "VNQ", Bars: toBars(closes)},
		{Symbol: "DBC", Bars: toBars(closes)},
		{Symbol: "GLD", Bars: toBars(closes)},
		{Symbol: "AGG", Bars: toBars(closes)},
		{Symbol: "IEF", Bars: toBars(closes)},
		{Symbol: "TLT", Bars: toBars(closes)},
		{Symbol: "TIP", Bars: toBars(closes)},
		{Symbol: CashTicker, Bars: toBars(closes)},
	}
	h, err := datahandler.Build(bars, "BENCH")
	require.NoError(t, err)
	snap, err := h.ViewAt(domain.Instant(len(closes)))
	require.NoError(t, err)

	domesticBars := []domain.BarSeries{
		{Symbol: "005930", Bars: toBars(closes)},
		{Symbol: "000660", Bars: toBars(closes)},
	}
	dh, err := datahandler.Build(domesticBars, "005930")
	require.NoError(t, err)
	domesticSnap, err := dh.ViewAt(domain.Instant(len(closes)))
	require.NoError(t, err)

	s := New(0, 0, 0, zerolog.Nop())
	domesticScorer := New(0, 0, 5, zerolog.Nop())
	weights, krTopN := s.SelectGlobalAssets(snap, "balanced", domesticScorer, &domesticSnap, []string{"005930", "000660"})

	assert.Greater(t, weights[KREquityTicker], 0.0, "the EWY slot itself is still un-expanded; the Rebalancer splits it post-regime")
	assert.ElementsMatch(t, []string{"005930", "000660"}, krTopN)
}
