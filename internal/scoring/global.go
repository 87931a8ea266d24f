package scoring

import (
	"github.com/aristath/arduino-trader/internal/datahandler"
)

// SelectGlobalAssets runs Layers 0-1 of the preset allocation
// (select_global_assets in the original, before its regime filter runs):
// Layer 0 loads the preset's category weights, Layer 1 scores each
// category's tickers and distributes weight (diverting failed-momentum
// share to cash). The KR equity slot's weight is returned un-expanded,
// alongside the domestic Top-N candidate symbols that the Rebalancer's
// GenerateGlobalTargetWeights splits it across once regime filtering has
// run — matching the original's (asset_weights, kr_top_n_codes) return
// tuple, since the EWY→domestic-equity expansion must happen after BEAR
// ETFs are diverted to cash, not before. domesticScorer and
// domesticSnap/domesticUniverse may be nil/empty when no domestic Top-N
// expansion is desired, in which case krTopN is empty and the caller keeps
// the KR equity ticker itself as the held instrument.
func (s *Scorer) SelectGlobalAssets(
	globalSnap datahandler.Snapshot,
	presetName string,
	domesticScorer *Scorer,
	domesticSnap *datahandler.Snapshot,
	domesticUniverse []string,
) (assetWeights map[string]float64, krTopN []string) {
	preset := GetPreset(presetName)
	final := make(map[string]float64)
	cashOverflow := 0.0

	for category, weight := range preset.CategoryWeights {
		if weight <= 0 {
			continue
		}
		tickers := CategoryToTickers[category]
		weights, overflow := s.CategoryWeights(globalSnap, tickers, weight)
		cashOverflow += overflow
		for ticker, w := range weights {
			final[ticker] += w
		}
	}

	final[CashTicker] += cashOverflow

	if final[KREquityTicker] > 0 && domesticScorer != nil && domesticSnap != nil && len(domesticUniverse) > 0 {
		krCandidates := domesticScorer.SelectAssets(*domesticSnap, domesticUniverse)
		krTopN = make([]string, len(krCandidates))
		for i, c := range krCandidates {
			krTopN[i] = c.Symbol
		}
	}

	return final, krTopN
}
