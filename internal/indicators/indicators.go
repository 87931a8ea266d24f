// Package indicators implements IndicatorKit: the pure, stateless
// technical-indicator functions the rest of the pipeline builds decisions
// on. Every function takes a point-in-time-safe slice (the caller, usually
// datahandler.ViewAt, is responsible for never handing in bars beyond the
// decision day) and returns either a value or false/NaN when the input is
// too short to compute one — callers must check this rather than receive a
// silently wrong number.
package indicators

import (
	"math"

	"github.com/markcheno/go-talib"
	"gonum.org/v1/gonum/stat"

	"github.com/aristath/arduino-trader/internal/domain"
	"github.com/aristath/arduino-trader/pkg/formulas"
)

// Closes extracts the Close field from a bar slice, in order.
func Closes(bars []domain.Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Close
	}
	return out
}

// SMA computes the simple moving average of the last period closes. ok is
// false when len(closes) < period.
func SMA(closes []float64, period int) (value float64, ok bool) {
	if period <= 0 || len(closes) < period {
		return 0, false
	}
	window := closes[len(closes)-period:]
	return stat.Mean(window, nil), true
}

// EMA computes the exponential moving average over the full closes series,
// seeded by a simple average of the first `period` closes exactly as
// alpha_filter.py's compute_ema seeds it, then applying the standard
// smoothing constant k = 2/(period+1) for every subsequent close. ok is
// false when len(closes) < period.
func EMA(closes []float64, period int) (value float64, ok bool) {
	if period <= 0 || len(closes) < period {
		return 0, false
	}
	k := 2.0 / (float64(period) + 1.0)
	ema := stat.Mean(closes[:period], nil)
	for _, c := range closes[period:] {
		ema = c*k + ema*(1-k)
	}
	return ema, true
}

// ATR computes the average true range as the plain mean of the last
// `period` true ranges (requiring period+1 bars so every true-range has a
// prior close); it does not apply Wilder's recursive smoothing.
func ATR(bars []domain.Bar, period int) (value float64, ok bool) {
	if period <= 0 || len(bars) < period+1 {
		return 0, false
	}
	window := bars[len(bars)-period-1:]
	trs := make([]float64, 0, period)
	for i := 1; i < len(window); i++ {
		h, l, pc := window[i].High, window[i].Low, window[i-1].Close
		tr := math.Max(h-l, math.Max(math.Abs(h-pc), math.Abs(l-pc)))
		trs = append(trs, tr)
	}
	return stat.Mean(trs, nil), true
}

// ADTV computes average daily trading value over the last `period` bars,
// preferring each bar's reported TradeValue and falling back to
// Close*Volume, matching alpha_filter.py's compute_adtv.
func ADTV(bars []domain.Bar, period int) (value float64, ok bool) {
	if period <= 0 || len(bars) < period {
		return 0, false
	}
	window := bars[len(bars)-period:]
	sum := 0.0
	for _, b := range window {
		tv := b.TradeValue
		if tv == 0 {
			tv = b.Close * b.Volume
		}
		sum += tv
	}
	return sum / float64(period), true
}

// RVOL computes today's (the last bar's) trading value relative to the
// ADTV of the `period` bars preceding it — matching alpha_filter.py's
// compute_rvol, which excludes today from its own baseline.
func RVOL(bars []domain.Bar, period int) (value float64, ok bool) {
	if len(bars) < period+1 {
		return 0, false
	}
	today := bars[len(bars)-1]
	baseline, ok := ADTV(bars[:len(bars)-1], period)
	if !ok || baseline == 0 {
		return 0, false
	}
	todayVal := today.TradeValue
	if todayVal == 0 {
		todayVal = today.Close * today.Volume
	}
	return todayVal / baseline, true
}

// Disparity computes (close/sma)*100.
func Disparity(close, sma float64) (value float64, ok bool) {
	if sma == 0 {
		return 0, false
	}
	return (close / sma) * 100, true
}

// DailyReturn computes the percentage return of the last bar's close over
// the preceding bar's close, expressed as a percentage (e.g. 4.0 for +4%).
func DailyReturn(bars []domain.Bar) (value float64, ok bool) {
	if len(bars) < 2 {
		return 0, false
	}
	prev := bars[len(bars)-2].Close
	curr := bars[len(bars)-1].Close
	if prev == 0 {
		return 0, false
	}
	return (curr - prev) / prev * 100, true
}

// Return computes the fractional return over n trading days:
// prices[-1]/prices[-(n+1)] - 1, matching momentum_scorer.py's
// _calculate_returns. ok is false when len(closes) <= n.
func Return(closes []float64, n int) (value float64, ok bool) {
	if n <= 0 || len(closes) <= n {
		return 0, false
	}
	current := closes[len(closes)-1]
	past := closes[len(closes)-1-n]
	if past == 0 {
		return 0, false
	}
	return current/past - 1.0, true
}

// DailyReturns converts a close-price series to day-over-day fractional
// returns, dropping the first (unreturnable) observation.
func DailyReturns(closes []float64) []float64 {
	if len(closes) < 2 {
		return nil
	}
	out := make([]float64, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		if closes[i-1] == 0 {
			out = append(out, 0)
			continue
		}
		out = append(out, (closes[i]-closes[i-1])/closes[i-1])
	}
	return out
}

// AnnualizedVolatility is the std-dev of daily returns scaled by sqrt(252).
func AnnualizedVolatility(dailyReturns []float64) float64 {
	return formulas.AnnualizedVolatility(dailyReturns)
}

// MACD wraps go-talib's MACD (fast=12, slow=26, signal=9 default) for
// diagnostic surfacing in Screener reason trails. It is not consumed by
// any gate in the Swing/Pullback/Phoenix filters, which pin their own
// SMA/EMA semantics above.
func MACD(closes []float64) (macd, signal, hist []float64) {
	return talib.Macd(closes, 12, 26, 9)
}
