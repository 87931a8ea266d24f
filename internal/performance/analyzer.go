// Package performance implements PerformanceAnalyzer (C9): the full
// metric suite computed from an equity curve — CAGR, MDD (with onset,
// trough, and recovery), annualized volatility, Sharpe, Sortino, Calmar,
// win rates, best/worst day and month, profit factor, and regime
// breakdown — ported from
// strategy/momentum/momentum_performance.py's MomentumPerformanceAnalyzer.
package performance

import (
	"math"
	"sort"
	"time"

	"github.com/aristath/arduino-trader/internal/domain"
	"github.com/aristath/arduino-trader/internal/portfolio"
	"github.com/aristath/arduino-trader/pkg/formulas"
)

const (
	TradingDaysPerYear = 252
	RiskFreeRate       = 0.0
)

// Metrics is the full computed metric set for one equity curve, matching
// calculate_metrics' returned dict.
type Metrics struct {
	TotalReturnPct      float64
	CAGRPct             float64
	MDDPct              float64
	MDDOnsetDay         domain.Instant
	MDDTroughDay        domain.Instant
	MDDDurationDays     int
	MDDRecoveryDays     int
	MDDRecovered        bool
	AnnualVolatilityPct float64
	SharpeRatio         float64
	SortinoRatio        float64
	CalmarRatio         float64
	DailyWinRatePct     float64
	MonthlyWinRatePct   float64
	BestDayPct          float64
	WorstDayPct         float64
	BestMonthPct        float64
	WorstMonthPct       float64
	ProfitFactor        float64
	TotalTradingDays    int
	TotalYears          float64
	InitialCapital      float64
	FinalEquity         float64
}

// RegimeBreakdown counts rebalance-history entries by regime label,
// matching regime_analysis.
type RegimeBreakdown struct {
	BullCount, BearCount, Total int
	BullPct, BearPct            float64
}

// Analyzer computes Metrics from an equity curve. dayToTime converts a
// domain.Instant to a wall-clock time for calendar-length
// (CAGR, MDD recovery days) and monthly-resampling computations — the
// same role pd.Timestamp indices play in the original.
type Analyzer struct {
	equity           []domain.EquityPoint // sorted ascending by Day
	initialCapital   float64
	costSummary      *portfolio.CostSummary
	rebalanceHistory []domain.RebalanceEvent
	dayToTime        func(domain.Instant) time.Time
}

// New constructs an Analyzer. equity need not be pre-sorted.
func New(equity []domain.EquityPoint, initialCapital float64, costSummary *portfolio.CostSummary, rebalanceHistory []domain.RebalanceEvent, dayToTime func(domain.Instant) time.Time) *Analyzer {
	sorted := append([]domain.EquityPoint(nil), equity...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Day < sorted[j].Day })
	return &Analyzer{equity: sorted, initialCapital: initialCapital, costSummary: costSummary, rebalanceHistory: rebalanceHistory, dayToTime: dayToTime}
}

// DailyReturns computes day-over-day fractional returns of the equity
// curve, matching the `daily_returns` property (equity.pct_change().dropna()).
func (a *Analyzer) DailyReturns() []float64 {
	if len(a.equity) < 2 {
		return nil
	}
	out := make([]float64, 0, len(a.equity)-1)
	for i := 1; i < len(a.equity); i++ {
		prev := a.equity[i-1].TotalBaseCcyValue
		if prev == 0 {
			continue
		}
		out = append(out, a.equity[i].TotalBaseCcyValue/prev-1.0)
	}
	return out
}

// MonthlyReturns resamples the equity curve to each calendar month's last
// observation and returns month-over-month fractional returns, matching
// the `monthly_returns` property (resample("ME").last().pct_change()).
func (a *Analyzer) MonthlyReturns() []float64 {
	if len(a.equity) == 0 || a.dayToTime == nil {
		return nil
	}
	var monthEnds []float64
	var lastYear, lastMonth int = -1, -1
	for i, pt := range a.equity {
		t := a.dayToTime(pt.Day)
		isNewMonth := t.Year() != lastYear || int(t.Month()) != lastMonth
		isLast := i == len(a.equity)-1
		nextIsNewMonth := false
		if !isLast {
			nt := a.dayToTime(a.equity[i+1].Day)
			nextIsNewMonth = nt.Year() != t.Year() || nt.Month() != t.Month()
		}
		if isLast || nextIsNewMonth {
			monthEnds = append(monthEnds, pt.TotalBaseCcyValue)
		}
		if isNewMonth {
			lastYear, lastMonth = t.Year(), int(t.Month())
		}
	}
	if len(monthEnds) < 2 {
		return nil
	}
	out := make([]float64, 0, len(monthEnds)-1)
	for i := 1; i < len(monthEnds); i++ {
		if monthEnds[i-1] == 0 {
			continue
		}
		out = append(out, monthEnds[i]/monthEnds[i-1]-1.0)
	}
	return out
}

// Calculate computes the full Metrics set, matching calculate_metrics.
func (a *Analyzer) Calculate() Metrics {
	var m Metrics
	if len(a.equity) < 2 {
		return m
	}

	first := a.equity[0]
	last := a.equity[len(a.equity)-1]
	finalEquity := last.TotalBaseCcyValue

	m.TotalReturnPct = (finalEquity/a.initialCapital - 1.0) * 100
	m.TotalTradingDays = len(a.equity)
	m.InitialCapital = a.initialCapital
	m.FinalEquity = finalEquity

	years := 0.0
	if a.dayToTime != nil {
		days := a.dayToTime(last.Day).Sub(a.dayToTime(first.Day)).Hours() / 24
		years = days / 365.25
	}
	m.TotalYears = years
	if years > 0 && finalEquity > 0 {
		m.CAGRPct = (math.Pow(finalEquity/a.initialCapital, 1.0/years) - 1.0) * 100
	}

	// MDD, with onset (peak before trough) and trough day tracking.
	cumMax := math.Inf(-1)
	var peakDay domain.Instant
	mdd := 0.0
	var troughDay, onsetDay domain.Instant
	for _, pt := range a.equity {
		if pt.TotalBaseCcyValue > cumMax {
			cumMax = pt.TotalBaseCcyValue
			peakDay = pt.Day
		}
		dd := (pt.TotalBaseCcyValue - cumMax) / cumMax
		if dd < mdd {
			mdd = dd
			troughDay = pt.Day
			onsetDay = peakDay
		}
	}
	m.MDDPct = mdd * 100
	m.MDDOnsetDay = onsetDay
	m.MDDTroughDay = troughDay
	if a.dayToTime != nil {
		m.MDDDurationDays = int(a.dayToTime(troughDay).Sub(a.dayToTime(onsetDay)).Hours() / 24)
	}

	recovered := false
	var recoveryDay domain.Instant
	troughPeak := peakValueAt(a.equity, troughDay)
	for _, pt := range a.equity {
		if pt.Day < troughDay {
			continue
		}
		if pt.TotalBaseCcyValue >= troughPeak {
			recovered = true
			recoveryDay = pt.Day
			break
		}
	}
	m.MDDRecovered = recovered
	if recovered && a.dayToTime != nil {
		m.MDDRecoveryDays = int(a.dayToTime(recoveryDay).Sub(a.dayToTime(troughDay)).Hours() / 24)
	}

	dr := a.DailyReturns()
	mr := a.MonthlyReturns()

	meanDaily, stdDaily := formulas.Mean(dr), formulas.StdDev(dr)
	m.AnnualVolatilityPct = formulas.AnnualizedVolatility(dr) * 100

	if stdDaily > 0 {
		sharpe := (meanDaily - RiskFreeRate/TradingDaysPerYear) / stdDaily
		m.SharpeRatio = sharpe * math.Sqrt(TradingDaysPerYear)
	}

	var downside []float64
	for _, r := range dr {
		if r < 0 {
			downside = append(downside, r)
		}
	}
	if len(downside) > 0 {
		downsideAnnual := formulas.AnnualizedVolatility(downside)
		if downsideAnnual > 0 {
			m.SortinoRatio = (meanDaily * TradingDaysPerYear) / downsideAnnual
		}
	} else {
		m.SortinoRatio = math.Inf(1)
	}

	if math.Abs(mdd) > 0 {
		m.CalmarRatio = (m.CAGRPct / 100) / math.Abs(mdd)
	} else if m.CAGRPct > 0 {
		m.CalmarRatio = math.Inf(1)
	}

	if len(dr) > 0 {
		winDays := 0
		for _, r := range dr {
			if r > 0 {
				winDays++
			}
		}
		m.DailyWinRatePct = float64(winDays) / float64(len(dr)) * 100
		m.BestDayPct = maxOf(dr) * 100
		m.WorstDayPct = minOf(dr) * 100
	}

	if len(mr) > 0 {
		winMonths := 0
		for _, r := range mr {
			if r > 0 {
				winMonths++
			}
		}
		m.MonthlyWinRatePct = float64(winMonths) / float64(len(mr)) * 100
		m.BestMonthPct = maxOf(mr) * 100
		m.WorstMonthPct = minOf(mr) * 100
	}

	if len(dr) > 0 {
		grossProfit, grossLoss := 0.0, 0.0
		for _, r := range dr {
			if r > 0 {
				grossProfit += r
			} else {
				grossLoss += -r
			}
		}
		if grossLoss > 0 {
			m.ProfitFactor = grossProfit / grossLoss
		} else if grossProfit > 0 {
			m.ProfitFactor = math.Inf(1)
		}
	}

	return m
}

// CostSummary returns the cost counters supplied at construction, nil if
// none were given.
func (a *Analyzer) CostSummary() *portfolio.CostSummary {
	return a.costSummary
}

// DrawdownSeries returns the daily drawdown ratio series, matching
// get_drawdown_series.
func (a *Analyzer) DrawdownSeries() []float64 {
	out := make([]float64, len(a.equity))
	cumMax := math.Inf(-1)
	for i, pt := range a.equity {
		if pt.TotalBaseCcyValue > cumMax {
			cumMax = pt.TotalBaseCcyValue
		}
		out[i] = (pt.TotalBaseCcyValue - cumMax) / cumMax
	}
	return out
}

// RegimeAnalysis tallies BULL/BEAR rebalance history entries, matching
// regime_analysis. Returns false when no rebalance history was supplied.
func (a *Analyzer) RegimeAnalysis() (RegimeBreakdown, bool) {
	if len(a.rebalanceHistory) == 0 {
		return RegimeBreakdown{}, false
	}
	var b RegimeBreakdown
	for _, event := range a.rebalanceHistory {
		switch event.Regime {
		case "BULL":
			b.BullCount++
		case "BEAR":
			b.BearCount++
		}
	}
	b.Total = len(a.rebalanceHistory)
	if b.Total > 0 {
		b.BullPct = float64(b.BullCount) / float64(b.Total) * 100
		b.BearPct = float64(b.BearCount) / float64(b.Total) * 100
	}
	return b, true
}

func peakValueAt(equity []domain.EquityPoint, day domain.Instant) float64 {
	peak := math.Inf(-1)
	for _, pt := range equity {
		if pt.Day > day {
			break
		}
		if pt.TotalBaseCcyValue > peak {
			peak = pt.TotalBaseCcyValue
		}
	}
	return peak
}

func maxOf(xs []float64) float64 {
	m := xs[0]
	for _, x := range xs[1:] {
		if x > m {
			m = x
		}
	}
	return m
}

func minOf(xs []float64) float64 {
	m := xs[0]
	for _, x := range xs[1:] {
		if x < m {
			m = x
		}
	}
	return m
}
