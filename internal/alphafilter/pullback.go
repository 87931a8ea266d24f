package alphafilter

import (
	"github.com/aristath/arduino-trader/internal/domain"
	"github.com/aristath/arduino-trader/internal/indicators"
)

// Pullback gate thresholds, matching
// strategy/pullback/pullback_alpha_filter.py's module constants.
const (
	PullbackADTVThreshold      = 50_0000_0000.0 // 50억 KRW
	PullbackMarketCapThreshold = 300_0000_0000.0
	PullbackSurgeRVOLThreshold = 3.0
	PullbackSurgeReturnThreshold = 10.0
	PullbackSurgeLookbackDays  = 5
	PullbackVCRThreshold       = 0.35
	PullbackFRLLower           = 0.382
	PullbackFRLUpper           = 0.618
	PullbackDisparityLower     = -2.0
	PullbackDisparityUpper     = 2.0
	pullbackEMAPeriod          = 5
	pullbackMinBars            = 21
)

// PullbackIndicators bundles the per-symbol values the Pullback gates
// test, matching compute_pullback_indicators' return dict.
type PullbackIndicators struct {
	Valid       bool
	ADTV20      float64
	VCR         float64
	FRL         float64
	Disparity5  float64
	SurgeDayIdx int
	SurgeReturn float64
	SurgeRVOL   float64
}

// ComputePullbackIndicators scans backward up to PullbackSurgeLookbackDays
// trading days from the most recent bar for the most recent day meeting
// the surge condition (return >= 10% and RVOL >= 3.0 using that day's own
// trailing ADTV baseline), then computes the volume-contraction ratio
// (today's raw share volume over the surge day's raw share volume — VCR
// uses share quantity, not trade value, since price moves between the
// surge day and today would otherwise distort the ratio; RVOL/ADTV stay
// trade-value based) and the Fibonacci retracement level from the surge
// day's high down to its pre-surge close. Requires at least
// pullbackMinBars bars, matching compute_pullback_indicators'
// current_idx>=20 sufficiency check.
func ComputePullbackIndicators(bars []domain.Bar) PullbackIndicators {
	if len(bars) < pullbackMinBars {
		return PullbackIndicators{Valid: false}
	}
	currentIdx := len(bars) - 1
	closes := indicators.Closes(bars)

	adtv20, _ := indicators.ADTV(bars[:currentIdx], DefaultADTVWindow)
	today := bars[currentIdx]

	ema5, _ := indicators.EMA(closes, pullbackEMAPeriod)
	disparity5 := 0.0
	if ema5 != 0 {
		disparity5 = ((today.Close / ema5) - 1) * 100
	}

	surgeIdx := -1
	lowerBound := currentIdx - 1 - PullbackSurgeLookbackDays
	if lowerBound < 0 {
		lowerBound = 0
	}
	for i := currentIdx - 1; i > lowerBound; i-- {
		dailyRet, ok := indicators.DailyReturn(bars[:i+1])
		if !ok {
			continue
		}
		dayADTV, ok := indicators.ADTV(bars[:i], DefaultADTVWindow)
		if !ok || dayADTV == 0 {
			continue
		}
		dayVal := bars[i].TradeValue
		if dayVal == 0 {
			dayVal = bars[i].Close * bars[i].Volume
		}
		rvol := dayVal / dayADTV
		if dailyRet >= PullbackSurgeReturnThreshold && rvol >= PullbackSurgeRVOLThreshold {
			surgeIdx = i
			break
		}
	}
	if surgeIdx < 0 {
		return PullbackIndicators{Valid: false}
	}

	surgeBar := bars[surgeIdx]
	surgeHigh := surgeBar.High
	if surgeHigh == 0 {
		surgeHigh = surgeBar.Close
	}
	surgePrevClose := bars[surgeIdx-1].Close
	surgeVal := surgeBar.TradeValue
	if surgeVal == 0 {
		surgeVal = surgeBar.Close * surgeBar.Volume
	}

	vcr := 999.0
	if surgeBar.Volume != 0 {
		vcr = today.Volume / surgeBar.Volume
	}

	frl := 0.0
	denom := surgeHigh - surgePrevClose
	if denom > 0 {
		frl = (surgeHigh - today.Close) / denom
	}

	surgeReturn, _ := indicators.DailyReturn(bars[:surgeIdx+1])
	surgeDayADTV, _ := indicators.ADTV(bars[:surgeIdx], DefaultADTVWindow)
	surgeRVOL := 0.0
	if surgeDayADTV != 0 {
		surgeRVOL = surgeVal / surgeDayADTV
	}

	return PullbackIndicators{
		Valid: true, ADTV20: adtv20, VCR: vcr, FRL: frl, Disparity5: disparity5,
		SurgeDayIdx: surgeIdx, SurgeReturn: surgeReturn, SurgeRVOL: surgeRVOL,
	}
}

// PullbackFilter applies the Pullback strategy's surge-then-contraction
// entry gates.
type PullbackFilter struct{}

// ApplyAllFilters checks validity, then liquidity, volume-contraction,
// Fibonacci-retracement-band, and 5-EMA-disparity-band gates in sequence,
// matching PullbackAlphaFilter.apply_all_filters.
func (PullbackFilter) ApplyAllFilters(ind PullbackIndicators) (passed bool, reasons []string) {
	if !ind.Valid {
		return false, []string{"no qualifying surge day in lookback window"}
	}
	if ind.ADTV20 < PullbackADTVThreshold {
		return false, []string{"ADTV below threshold"}
	}
	if ind.VCR > PullbackVCRThreshold {
		return false, []string{"volume contraction ratio above threshold"}
	}
	if ind.FRL < PullbackFRLLower || ind.FRL > PullbackFRLUpper {
		return false, []string{"Fibonacci retracement outside band"}
	}
	if ind.Disparity5 < PullbackDisparityLower || ind.Disparity5 > PullbackDisparityUpper {
		return false, []string{"5-EMA disparity outside band"}
	}
	return true, nil
}

// ScreenUniverse runs ApplyAllFilters over every symbol's bars, requiring
// at least 30 bars per symbol, matching PullbackAlphaFilter.screen_universe.
func (f PullbackFilter) ScreenUniverse(barsBySymbol map[string][]domain.Bar) []Candidate {
	const minBarsForScreen = 30
	out := make([]Candidate, 0, len(barsBySymbol))
	for symbol, bars := range barsBySymbol {
		if len(bars) < minBarsForScreen {
			continue
		}
		ind := ComputePullbackIndicators(bars)
		passed, reasons := f.ApplyAllFilters(ind)
		out = append(out, Candidate{Symbol: symbol, Passed: passed, Reasons: reasons})
	}
	return out
}
