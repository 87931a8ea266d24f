// Package rebalance implements Rebalancer (C5): regime classification
// (BULL/BEAR against a benchmark SMA200) and the two weighting methods
// (equal-weight, inverse-volatility) that turn a Scorer's selection into
// target portfolio weights — ported from momentum_rebalancer.py.
package rebalance

import (
	"math"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/aristath/arduino-trader/internal/datahandler"
	"github.com/aristath/arduino-trader/internal/domain"
)

const (
	// VolLookback is the daily-return window for inverse-volatility
	// weighting, matching VOL_LOOKBACK in the original.
	VolLookback = 20
)

var annualizeFactor = math.Sqrt(252)

// WeightMethod selects how a selected asset list is turned into weights.
type WeightMethod string

const (
	EqualWeight       WeightMethod = "equal_weight"
	InverseVolatility WeightMethod = "inverse_volatility"
)

// Regime is the benchmark-derived market state gating whether a
// domestic-only momentum strategy holds any risk assets at all.
type Regime string

const (
	RegimeBull Regime = "BULL"
	RegimeBear Regime = "BEAR"
)

// Rebalancer turns a Scorer's Top-N selection into target weights,
// recording every decision for later PerformanceAnalyzer regime-breakdown
// reporting.
type Rebalancer struct {
	WeightMethod WeightMethod
	History      []domain.RebalanceEvent
	log          zerolog.Logger
}

// New constructs a Rebalancer using the given weighting method.
func New(method WeightMethod, log zerolog.Logger) *Rebalancer {
	return &Rebalancer{WeightMethod: method, log: log.With().Str("component", "rebalancer").Logger()}
}

// DetectRegime classifies the domestic benchmark's regime: NaN
// close/SMA200 conservatively maps to BULL with scale 1.0 (matching
// detect_regime's defensive default), otherwise BULL if close >= sma else
// BEAR with scale 0.0.
func DetectRegime(currentClose, sma200 float64) (Regime, float64) {
	if math.IsNaN(currentClose) || math.IsNaN(sma200) {
		return RegimeBull, 1.0
	}
	if currentClose >= sma200 {
		return RegimeBull, 1.0
	}
	return RegimeBear, 0.0
}

// equalWeight assigns 1/n to each asset.
func equalWeight(assets []string) map[string]float64 {
	weights := make(map[string]float64, len(assets))
	if len(assets) == 0 {
		return weights
	}
	w := 1.0 / float64(len(assets))
	for _, a := range assets {
		weights[a] = w
	}
	return weights
}

// inverseVolatilityWeight computes 20-day annualized daily-return
// volatility per asset, drops zero/NaN-vol assets, inverts and normalizes
// the remainder, and falls back to equal-weight only when no asset has
// valid volatility — matching _inverse_volatility_weight.
func inverseVolatilityWeight(snap datahandler.Snapshot, assets []string) map[string]float64 {
	type invVol struct {
		symbol string
		inv    float64
	}
	var valid []invVol
	for _, symbol := range assets {
		closes, ok := snap.SymbolCloses(symbol)
		if !ok || len(closes) < VolLookback+1 {
			continue
		}
		window := closes[len(closes)-VolLookback-1:]
		returns := make([]float64, 0, VolLookback)
		for i := 1; i < len(window); i++ {
			if window[i-1] == 0 {
				continue
			}
			returns = append(returns, window[i]/window[i-1]-1.0)
		}
		if len(returns) == 0 {
			continue
		}
		mean := 0.0
		for _, r := range returns {
			mean += r
		}
		mean /= float64(len(returns))
		variance := 0.0
		for _, r := range returns {
			variance += (r - mean) * (r - mean)
		}
		variance /= float64(len(returns))
		vol := math.Sqrt(variance) * annualizeFactor
		if vol <= 0 || math.IsNaN(vol) {
			continue
		}
		valid = append(valid, invVol{symbol: symbol, inv: 1.0 / vol})
	}

	weights := make(map[string]float64, len(assets))
	if len(valid) == 0 {
		return equalWeight(assets)
	}
	total := 0.0
	for _, v := range valid {
		total += v.inv
	}
	for _, v := range valid {
		weights[v.symbol] = v.inv / total
	}
	return weights
}

// ComputeWeights dispatches to the configured weighting method.
func (r *Rebalancer) ComputeWeights(snap datahandler.Snapshot, assets []string) map[string]float64 {
	switch r.WeightMethod {
	case InverseVolatility:
		return inverseVolatilityWeight(snap, assets)
	default:
		return equalWeight(assets)
	}
}

// GenerateTargetWeights produces the domestic-only-strategy target weight
// map for one decision day: BEAR zeroes every weight (scale 0.0, matching
// the original's all-cash behavior in a bear regime), BULL with an empty
// selection keeps whatever cash position already exists (returns an empty
// map), and BULL with a nonempty selection dispatches to ComputeWeights.
// Every call is recorded into History for later regime-breakdown reporting.
func (r *Rebalancer) GenerateTargetWeights(day domain.Instant, snap datahandler.Snapshot, assets []string) map[string]float64 {
	regime, _ := DetectRegime(snap.BenchmarkClose, snap.BenchmarkSMA200)

	var weights map[string]float64
	switch {
	case regime == RegimeBear:
		weights = make(map[string]float64)
	case len(assets) == 0:
		weights = make(map[string]float64)
	default:
		weights = r.ComputeWeights(snap, assets)
	}

	r.record(domain.RebalanceEvent{
		Day: day, Regime: string(regime), WeightMethod: string(r.WeightMethod),
		NSelected: len(assets), TargetWeights: weights,
	})
	return weights
}

func (r *Rebalancer) record(event domain.RebalanceEvent) {
	r.History = append(r.History, event)
	r.log.Debug().
		Int64("day", int64(event.Day)).
		Str("regime", event.Regime).
		Int("n_selected", event.NSelected).
		Msg("rebalance decision recorded")
}

// GlobalAssetRegimes classifies each global asset's own regime against its
// own SMA200, with the cash ticker always hardcoded BULL regardless of its
// own series — matching detect_global_regimes' SHY special-case.
func GlobalAssetRegimes(snapshots map[string]datahandler.Snapshot, cashTicker string) map[string]Regime {
	out := make(map[string]Regime, len(snapshots))
	for ticker, snap := range snapshots {
		if ticker == cashTicker {
			out[ticker] = RegimeBull
			continue
		}
		regime, _ := DetectRegime(snap.BenchmarkClose, snap.BenchmarkSMA200)
		out[ticker] = regime
	}
	return out
}

// GenerateGlobalTargetWeights applies per-asset BEAR filtering to a
// scoring.Scorer.SelectGlobalAssets weight map, then splits the KR equity
// ticker's (possibly BEAR-diverted) weight across the domestic Top-N
// candidates, matching generate_global_target_weights' four-step workflow:
// (1) per-asset regime detection is supplied by the caller as regimes,
// (2) any ticker whose own regime is BEAR has its weight diverted to
// cashTicker instead of held, (3) the krEquityTicker slot's resulting
// weight — after step 2, so a BEAR-diverted EWY position never reaches
// domestic stocks — is popped and split evenly across krTopNCodes (or left
// in place under krEquityTicker if krTopNCodes is empty), (4) the result is
// renormalized. This expansion runs here, after regime filtering, not in
// the Scorer, since an EWY position the regime filter sends to cash must
// never be re-expanded into domestic holdings.
func (r *Rebalancer) GenerateGlobalTargetWeights(
	day domain.Instant,
	assetClassWeights map[string]float64,
	regimes map[string]Regime,
	cashTicker string,
	krEquityTicker string,
	krTopNCodes []string,
) map[string]float64 {
	final := make(map[string]float64, len(assetClassWeights))
	overflow := 0.0
	nBull, nBear := 0, 0

	for ticker, weight := range assetClassWeights {
		regime, ok := regimes[ticker]
		if !ok {
			regime = RegimeBull
		}
		if regime == RegimeBear && ticker != cashTicker {
			overflow += weight
			nBear++
			continue
		}
		final[ticker] += weight
		nBull++
	}
	final[cashTicker] += overflow

	if ewyWeight := final[krEquityTicker]; ewyWeight > 0 {
		delete(final, krEquityTicker)
		if len(krTopNCodes) > 0 {
			perStock := ewyWeight / float64(len(krTopNCodes))
			for _, code := range krTopNCodes {
				final[code] += perStock
			}
		} else {
			final[krEquityTicker] += ewyWeight
		}
	}

	total := 0.0
	for _, w := range final {
		total += w
	}
	if total > 0 && math.Abs(total-1.0) > 1e-6 {
		for k := range final {
			final[k] /= total
		}
	}

	r.record(domain.RebalanceEvent{
		Day: day, Regime: globalRegimeLabel(nBull, nBear), WeightMethod: string(r.WeightMethod),
		NSelected: len(final), TargetWeights: final,
		PerTickerRegime: regimeStrings(regimes),
	})
	return final
}

func globalRegimeLabel(nBull, nBear int) string {
	return "GLOBAL(" + strconv.Itoa(nBull) + "B/" + strconv.Itoa(nBear) + "R)"
}

func regimeStrings(regimes map[string]Regime) map[string]string {
	out := make(map[string]string, len(regimes))
	for k, v := range regimes {
		out[k] = string(v)
	}
	return out
}
