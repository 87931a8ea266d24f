package performance

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/arduino-trader/internal/domain"
)

func dayToTime(day domain.Instant) time.Time {
	return time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, int(day))
}

func TestCalculateTotalReturnAndCAGR(t *testing.T) {
	equity := []domain.EquityPoint{
		{Day: 0, TotalBaseCcyValue: 100_000_000},
		{Day: 365, TotalBaseCcyValue: 121_000_000},
	}
	a := New(equity, 100_000_000, nil, nil, dayToTime)
	m := a.Calculate()
	assert.InDelta(t, 21.0, m.TotalReturnPct, 0.01)
	assert.InDelta(t, 21.0, m.CAGRPct, 1.0, "~1 year holding period so CAGR approximates total return")
}

func TestCalculateMDDTracksOnsetTroughAndRecovery(t *testing.T) {
	equity := []domain.EquityPoint{
		{Day: 0, TotalBaseCcyValue: 100},
		{Day: 1, TotalBaseCcyValue: 120}, // peak
		{Day: 2, TotalBaseCcyValue: 90},  // trough, -25% from peak
		{Day: 3, TotalBaseCcyValue: 110},
		{Day: 4, TotalBaseCcyValue: 125}, // recovers past peak
	}
	a := New(equity, 100, nil, nil, dayToTime)
	m := a.Calculate()
	assert.InDelta(t, -25.0, m.MDDPct, 0.01)
	assert.Equal(t, domain.Instant(1), m.MDDOnsetDay)
	assert.Equal(t, domain.Instant(2), m.MDDTroughDay)
	assert.True(t, m.MDDRecovered)
	assert.Equal(t, 2, m.MDDRecoveryDays)
}

func TestCalculateMDDNotRecoveredWhenCurveNeverReclaimsPeak(t *testing.T) {
	equity := []domain.EquityPoint{
		{Day: 0, TotalBaseCcyValue: 100},
		{Day: 1, TotalBaseCcyValue: 120},
		{Day: 2, TotalBaseCcyValue: 90},
	}
	a := New(equity, 100, nil, nil, dayToTime)
	m := a.Calculate()
	assert.False(t, m.MDDRecovered)
}

func TestCalculateSortinoIsInfWhenNoDownDays(t *testing.T) {
	equity := []domain.EquityPoint{
		{Day: 0, TotalBaseCcyValue: 100},
		{Day: 1, TotalBaseCcyValue: 101},
		{Day: 2, TotalBaseCcyValue: 102},
		{Day: 3, TotalBaseCcyValue: 103},
	}
	a := New(equity, 100, nil, nil, dayToTime)
	m := a.Calculate()
	assert.True(t, math.IsInf(m.SortinoRatio, 1))
}

func TestCalculateProfitFactorSentinels(t *testing.T) {
	allUp := []domain.EquityPoint{
		{Day: 0, TotalBaseCcyValue: 100},
		{Day: 1, TotalBaseCcyValue: 110},
		{Day: 2, TotalBaseCcyValue: 121},
	}
	m := New(allUp, 100, nil, nil, dayToTime).Calculate()
	assert.True(t, math.IsInf(m.ProfitFactor, 1), "no losing days yields +Inf profit factor")

	mixed := []domain.EquityPoint{
		{Day: 0, TotalBaseCcyValue: 100},
		{Day: 1, TotalBaseCcyValue: 110},
		{Day: 2, TotalBaseCcyValue: 99},
	}
	m2 := New(mixed, 100, nil, nil, dayToTime).Calculate()
	assert.False(t, math.IsInf(m2.ProfitFactor, 1))
	assert.Greater(t, m2.ProfitFactor, 0.0)
}

func TestCalculateCalmarZeroMDDIsInfWhenCAGRPositive(t *testing.T) {
	flatUp := []domain.EquityPoint{
		{Day: 0, TotalBaseCcyValue: 100},
		{Day: 1, TotalBaseCcyValue: 101},
		{Day: 2, TotalBaseCcyValue: 102},
	}
	m := New(flatUp, 100, nil, nil, dayToTime).Calculate()
	assert.True(t, math.IsInf(m.CalmarRatio, 1))
}

func TestCalculateDailyAndMonthlyWinRates(t *testing.T) {
	equity := []domain.EquityPoint{
		{Day: 0, TotalBaseCcyValue: 100},
		{Day: 1, TotalBaseCcyValue: 110}, // win
		{Day: 2, TotalBaseCcyValue: 100}, // loss
		{Day: 3, TotalBaseCcyValue: 120}, // win
	}
	m := New(equity, 100, nil, nil, dayToTime).Calculate()
	assert.InDelta(t, 200.0/3.0, m.DailyWinRatePct, 0.01)
	assert.InDelta(t, 20.0, m.BestDayPct, 0.01)
	assert.InDelta(t, -100.0/11.0, m.WorstDayPct, 0.01)
}

func TestDrawdownSeriesIsZeroAtNewHighs(t *testing.T) {
	equity := []domain.EquityPoint{
		{Day: 0, TotalBaseCcyValue: 100},
		{Day: 1, TotalBaseCcyValue: 110},
		{Day: 2, TotalBaseCcyValue: 90},
	}
	a := New(equity, 100, nil, nil, dayToTime)
	dd := a.DrawdownSeries()
	require.Len(t, dd, 3)
	assert.Equal(t, 0.0, dd[0])
	assert.Equal(t, 0.0, dd[1])
	assert.InDelta(t, (90.0-110.0)/110.0, dd[2], 1e-9)
}

func TestRegimeAnalysisCountsBullAndBear(t *testing.T) {
	history := []domain.RebalanceEvent{
		{Day: 0, Regime: "BULL"},
		{Day: 1, Regime: "BULL"},
		{Day: 2, Regime: "BEAR"},
	}
	a := New(nil, 100, nil, history, dayToTime)
	b, ok := a.RegimeAnalysis()
	require.True(t, ok)
	assert.Equal(t, 2, b.BullCount)
	assert.Equal(t, 1, b.BearCount)
	assert.InDelta(t, 200.0/3.0, b.BullPct, 0.01)
}

func TestRegimeAnalysisFalseWhenNoHistory(t *testing.T) {
	a := New(nil, 100, nil, nil, dayToTime)
	_, ok := a.RegimeAnalysis()
	assert.False(t, ok)
}

func TestMonthlyReturnsResamplesToCalendarMonthEnds(t *testing.T) {
	equity := []domain.EquityPoint{
		{Day: 0, TotalBaseCcyValue: 100},  // Jan 1
		{Day: 30, TotalBaseCcyValue: 110}, // Jan 31
		{Day: 31, TotalBaseCcyValue: 111}, // Feb 1
		{Day: 59, TotalBaseCcyValue: 120}, // Feb 29 (2020 leap year)
	}
	a := New(equity, 100, nil, nil, dayToTime)
	mr := a.MonthlyReturns()
	require.Len(t, mr, 1)
	assert.InDelta(t, 120.0/110.0-1.0, mr[0], 1e-9)
}

func TestCalculateReturnsZeroValueForShortCurve(t *testing.T) {
	a := New([]domain.EquityPoint{{Day: 0, TotalBaseCcyValue: 100}}, 100, nil, nil, dayToTime)
	m := a.Calculate()
	assert.Equal(t, Metrics{}, m)
}
