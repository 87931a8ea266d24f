// Package alphafilter implements the AlphaFilter family (C7): Swing,
// Pullback, and Phoenix — short-horizon entry screens layered on top of
// the Scorer/Rebalancer's longer-horizon allocation decisions, ported from
// alpha_filter.py, strategy/pullback/pullback_alpha_filter.py, and
// strategy/phoenix/*.py.
package alphafilter

import (
	"github.com/aristath/arduino-trader/internal/domain"
	"github.com/aristath/arduino-trader/internal/indicators"
)

// Swing gate thresholds, matching alpha_filter.py's module constants.
const (
	SwingADTVThreshold      = 500_0000_0000.0 // 500억 KRW
	SwingMarketCapThreshold = 3000_0000_0000.0 // 3000억 KRW
	SwingRVOLThreshold      = 2.5
	SwingDailyReturnThreshold = 4.0
	SwingDisparityLower     = 100.0
	SwingDisparityUpper     = 112.0
	SwingSMAShortPeriod     = 10
	SwingEMAPeriod          = 20
	SwingSMALongPeriod      = 20
)

// SwingIndicators bundles the per-symbol values the gates test, matching
// compute_all_indicators.
type SwingIndicators struct {
	Close       float64
	DailyReturn float64
	SMA10       float64
	EMA20       float64
	SMA20       float64
	Disparity20 float64
	ADTV20      float64
	RVOL        float64
	MarketCap   float64
	HasMarketCap bool
}

// ComputeSwingIndicators derives every Swing-gate indicator from bars
// (requires at least SwingSMALongPeriod+1 bars, matching
// screen_universe's data-sufficiency check) and an optional market cap
// (0/false when unknown).
func ComputeSwingIndicators(bars []domain.Bar, marketCap float64, hasMarketCap bool) (SwingIndicators, bool) {
	if len(bars) < SwingSMALongPeriod+1 {
		return SwingIndicators{}, false
	}
	closes := indicators.Closes(bars)
	sma10, _ := indicators.SMA(closes, SwingSMAShortPeriod)
	ema20, _ := indicators.EMA(closes, SwingEMAPeriod)
	sma20, _ := indicators.SMA(closes, SwingSMALongPeriod)
	disparity, _ := indicators.Disparity(closes[len(closes)-1], sma20)
	adtv, _ := indicators.ADTV(bars, DefaultADTVWindow)
	rvol, _ := indicators.RVOL(bars, DefaultADTVWindow)
	dailyReturn, _ := indicators.DailyReturn(bars)

	return SwingIndicators{
		Close: closes[len(closes)-1], DailyReturn: dailyReturn,
		SMA10: sma10, EMA20: ema20, SMA20: sma20, Disparity20: disparity,
		ADTV20: adtv, RVOL: rvol, MarketCap: marketCap, HasMarketCap: hasMarketCap,
	}, true
}

// DefaultADTVWindow is the trailing window for ADTV/RVOL computation,
// matching alpha_filter.py's compute_adtv/compute_rvol default period.
const DefaultADTVWindow = 20

// GateResult is one gate's pass/fail outcome with a human-readable reason,
// surfaced by the Screener's diagnostic reason trail.
type GateResult struct {
	Passed bool
	Reason string
}

// SwingFilter applies the four sequential Swing gates.
type SwingFilter struct{}

// CheckLiquidity passes when ADTV or market cap clears its threshold;
// fails (with a reason) if neither indicator is known at all, matching
// check_liquidity's "no liquidity data" failure mode.
func (SwingFilter) CheckLiquidity(ind SwingIndicators) GateResult {
	adtvOK := ind.ADTV20 >= SwingADTVThreshold
	capOK := ind.HasMarketCap && ind.MarketCap >= SwingMarketCapThreshold
	if adtvOK || capOK {
		return GateResult{Passed: true}
	}
	if ind.ADTV20 == 0 && !ind.HasMarketCap {
		return GateResult{Passed: false, Reason: "no liquidity data"}
	}
	return GateResult{Passed: false, Reason: "ADTV and market cap both below threshold"}
}

// CheckRVOL passes when RVOL clears SwingRVOLThreshold.
func (SwingFilter) CheckRVOL(ind SwingIndicators) GateResult {
	if ind.RVOL >= SwingRVOLThreshold {
		return GateResult{Passed: true}
	}
	return GateResult{Passed: false, Reason: "RVOL below threshold"}
}

// CheckMomentum passes when close is above both SMA10 and EMA20 and
// today's return clears the daily-return threshold, collecting every
// failing sub-condition into Reason, matching check_momentum.
func (SwingFilter) CheckMomentum(ind SwingIndicators) GateResult {
	var reasons []string
	if ind.Close <= ind.SMA10 {
		reasons = append(reasons, "close not above SMA10")
	}
	if ind.Close <= ind.EMA20 {
		reasons = append(reasons, "close not above EMA20")
	}
	if ind.DailyReturn < SwingDailyReturnThreshold {
		reasons = append(reasons, "daily return below threshold")
	}
	if len(reasons) == 0 {
		return GateResult{Passed: true}
	}
	return GateResult{Passed: false, Reason: joinReasons(reasons)}
}

// CheckDisparity passes when SwingDisparityLower < disparity <= SwingDisparityUpper.
func (SwingFilter) CheckDisparity(ind SwingIndicators) GateResult {
	if ind.Disparity20 > SwingDisparityLower && ind.Disparity20 <= SwingDisparityUpper {
		return GateResult{Passed: true}
	}
	return GateResult{Passed: false, Reason: "disparity outside band"}
}

// ApplyAllFilters runs the four gates in sequence, short-circuiting on the
// first failure and returning every reason accumulated up to that point,
// matching apply_all_filters.
func (f SwingFilter) ApplyAllFilters(ind SwingIndicators) (passed bool, reasons []string) {
	gates := []func(SwingIndicators) GateResult{f.CheckLiquidity, f.CheckRVOL, f.CheckMomentum, f.CheckDisparity}
	for _, gate := range gates {
		result := gate(ind)
		if !result.Passed {
			return false, []string{result.Reason}
		}
	}
	return true, nil
}

// Candidate is one screened instrument's pass/fail outcome plus its
// computed indicators, for Screener diagnostics.
type Candidate struct {
	Symbol     string
	Passed     bool
	Reasons    []string
	Indicators SwingIndicators
}

// ScreenUniverse runs ApplyAllFilters over every symbol's bars, matching
// screen_universe.
func (f SwingFilter) ScreenUniverse(barsBySymbol map[string][]domain.Bar, marketCaps map[string]float64) []Candidate {
	out := make([]Candidate, 0, len(barsBySymbol))
	for symbol, bars := range barsBySymbol {
		mc, hasMC := marketCaps[symbol]
		ind, ok := ComputeSwingIndicators(bars, mc, hasMC)
		if !ok {
			continue
		}
		passed, reasons := f.ApplyAllFilters(ind)
		out = append(out, Candidate{Symbol: symbol, Passed: passed, Reasons: reasons, Indicators: ind})
	}
	return out
}

func joinReasons(reasons []string) string {
	out := reasons[0]
	for _, r := range reasons[1:] {
		out += "; " + r
	}
	return out
}
