// Package scoring implements Scorer (C4): dual-momentum ranking over a
// domestic universe, and the 5-preset global asset-class allocator, both
// ported from momentum_scorer.py's MomentumScorer.
package scoring

import (
	"math"
	"sort"

	"github.com/rs/zerolog"

	"github.com/aristath/arduino-trader/internal/datahandler"
)

const (
	// Lookback3M, Lookback6M, Lookback12M are trading-day windows, not
	// calendar months, matching momentum_scorer.py's LOOKBACK_* constants.
	Lookback3M  = 63
	Lookback6M  = 126
	Lookback12M = 252

	epsilon = 1e-8
)

// Scorer ranks a universe by blended 3/6/12-month momentum, subject to a
// minimum-liquidity universe filter and an absolute-momentum gate.
type Scorer struct {
	MinTradingValue float64
	RiskFreeRate    float64
	TopN            int
	log             zerolog.Logger
}

// New constructs a Scorer. minTradingValue and riskFreeRate are in the
// same units as Snapshot.TradingValue / fractional returns respectively.
func New(minTradingValue, riskFreeRate float64, topN int, log zerolog.Logger) *Scorer {
	return &Scorer{
		MinTradingValue: minTradingValue,
		RiskFreeRate:    riskFreeRate,
		TopN:            topN,
		log:             log.With().Str("component", "scorer").Logger(),
	}
}

// Candidate is one scored instrument.
type Candidate struct {
	Symbol  string
	Return3M, Return6M, Return12M float64
	Score   float64
	AbsPass bool
}

// Returns computes the 3/6/12-month returns for closes, matching
// momentum_scorer.py's _calculate_returns: prices[-1]/prices[-(n+1)] - 1.
// ok is false if the series is too short for the 12-month window.
func Returns(closes []float64) (r3, r6, r12 float64, ok bool) {
	r3v, ok3 := ret(closes, Lookback3M)
	r6v, ok6 := ret(closes, Lookback6M)
	r12v, ok12 := ret(closes, Lookback12M)
	if !ok3 || !ok6 || !ok12 {
		return 0, 0, 0, false
	}
	return r3v, r6v, r12v, true
}

func ret(closes []float64, n int) (float64, bool) {
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

// SelectAssets scores every symbol in universe against snap, applies the
// min-trading-value liquidity filter and the absolute-momentum gate, and
// returns the Top-N passing candidates ranked by Score descending. A
// symbol failing the absolute-momentum gate (r12 < RiskFreeRate) never
// appears in the result even if fewer than TopN candidates pass, matching
// select_assets' dropna() before head(top_n).
func (s *Scorer) SelectAssets(snap datahandler.Snapshot, universe []string) []Candidate {
	candidates := make([]Candidate, 0, len(universe))
	for _, symbol := range universe {
		closes, ok := snap.SymbolCloses(symbol)
		if !ok {
			continue
		}
		tv, ok := snap.TradingValue[symbol]
		if !ok || len(tv) == 0 || math.IsNaN(tv[len(tv)-1]) || tv[len(tv)-1] < s.MinTradingValue {
			continue
		}
		r3, r6, r12, ok := Returns(closes)
		if !ok {
			continue
		}
		absPass := r12 >= s.RiskFreeRate
		if !absPass {
			continue
		}
		score := (r3 + r6 + r12) / 3.0
		candidates = append(candidates, Candidate{
			Symbol: symbol, Return3M: r3, Return6M: r6, Return12M: r12,
			Score: score, AbsPass: true,
		})
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Score > candidates[j].Score })
	if s.TopN > 0 && len(candidates) > s.TopN {
		candidates = candidates[:s.TopN]
	}
	return candidates
}

// CategoryWeights distributes a category's total weight across its
// available tickers, diverting the failed-momentum share to the cash
// ticker and splitting the remainder proportionally to each passing
// ticker's shifted-positive score, matching select_global_assets' Layer 1.
//
// failedShare is len(failed)/len(available) — a count ratio, not a
// dollar-weighted one, preserved exactly from the original even though it
// looks asymmetric with the score-proportional split used for the passing
// share.
func (s *Scorer) CategoryWeights(snap datahandler.Snapshot, tickers []string, categoryWeight float64) (weights map[string]float64, cashOverflow float64) {
	weights = make(map[string]float64)
	type scored struct {
		symbol string
		score  float64
		pass   bool
	}
	var available []scored
	for _, symbol := range tickers {
		closes, ok := snap.SymbolCloses(symbol)
		if !ok {
			continue
		}
		r3, r6, r12, ok := Returns(closes)
		if !ok {
			continue
		}
		pass := r12 >= s.RiskFreeRate
		score := (r3 + r6 + r12) / 3.0
		available = append(available, scored{symbol: symbol, score: score, pass: pass})
	}
	if len(available) == 0 {
		return weights, categoryWeight
	}

	var passed, failed []scored
	for _, a := range available {
		if a.pass {
			passed = append(passed, a)
		} else {
			failed = append(failed, a)
		}
	}
	failedShare := float64(len(failed)) / float64(len(available))
	cashOverflow = categoryWeight * failedShare
	remaining := categoryWeight * (1 - failedShare)

	if len(passed) == 0 || remaining <= 0 {
		return weights, cashOverflow + remaining
	}

	minScore := math.Inf(1)
	for _, p := range passed {
		if p.score < minScore {
			minScore = p.score
		}
	}
	totalShifted := 0.0
	shifted := make(map[string]float64, len(passed))
	for _, p := range passed {
		sh := p.score - minScore + epsilon
		shifted[p.symbol] = sh
		totalShifted += sh
	}
	if totalShifted <= 0 {
		equal := remaining / float64(len(passed))
		for _, p := range passed {
			weights[p.symbol] = equal
		}
		return weights, cashOverflow
	}
	for _, p := range passed {
		weights[p.symbol] = remaining * (shifted[p.symbol] / totalShifted)
	}
	return weights, cashOverflow
}
