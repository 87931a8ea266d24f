package scoring

// CashTicker is the always-safe cash-equivalent ETF used as the overflow
// destination for failed-momentum weight, matching CASH_TICKER in
// momentum_asset_classes.py.
const CashTicker = "SHY"

// KREquityTicker is the domestic-equity slot in the global preset's
// "equity" category; its weight can be expanded into a Top-N list of
// concrete KR stock codes via the domestic Scorer, matching EWY's role in
// select_global_assets' Layer 2.
const KREquityTicker = "EWY"

// Preset is one of the five named strategic-allocation templates, each
// assigning weight across five broad categories that must sum to 1.0.
type Preset struct {
	Name        string
	Label       string
	RiskLevel   int
	CategoryWeights map[string]float64 // equity, alternative, foreign_bond, domestic_bond, cash
}

// Presets holds the five named portfolios, matching
// momentum_asset_classes.py's PORTFOLIO_PRESETS.
var Presets = map[string]Preset{
	"growth": {
		Name: "growth", Label: "Growth", RiskLevel: 5,
		CategoryWeights: map[string]float64{"equity": 0.55, "alternative": 0.25, "foreign_bond": 0.15, "domestic_bond": 0.00, "cash": 0.05},
	},
	"growth_seeking": {
		Name: "growth_seeking", Label: "Growth Seeking", RiskLevel: 4,
		CategoryWeights: map[string]float64{"equity": 0.50, "alternative": 0.15, "foreign_bond": 0.20, "domestic_bond": 0.05, "cash": 0.10},
	},
	"balanced": {
		Name: "balanced", Label: "Balanced", RiskLevel: 3,
		CategoryWeights: map[string]float64{"equity": 0.35, "alternative": 0.15, "foreign_bond": 0.30, "domestic_bond": 0.10, "cash": 0.10},
	},
	"stability_seeking": {
		Name: "stability_seeking", Label: "Stability Seeking", RiskLevel: 2,
		CategoryWeights: map[string]float64{"equity": 0.20, "alternative": 0.10, "foreign_bond": 0.35, "domestic_bond": 0.25, "cash": 0.10},
	},
	"stable": {
		Name: "stable", Label: "Stable", RiskLevel: 1,
		CategoryWeights: map[string]float64{"equity": 0.10, "alternative": 0.05, "foreign_bond": 0.50, "domestic_bond": 0.25, "cash": 0.10},
	},
}

// GetPreset returns the named preset, falling back to "balanced" for an
// unknown name, matching get_preset's defaulting behavior.
func GetPreset(name string) Preset {
	if p, ok := Presets[name]; ok {
		return p
	}
	return Presets["balanced"]
}

// CategoryToTickers maps each preset category to the concrete global ETF
// tickers the Scorer scores within it. This is the taxonomy
// select_global_assets actually allocates against — distinct from
// momentum_asset_classes.py's CATEGORY_GROUPS (equity/bond/real_asset/cash),
// which is only used by an unrelated reporting utility and is not ported
// here since nothing in this pipeline calls it.
var CategoryToTickers = map[string][]string{
	"equity":        {"SPY", "IWM", "EFA", "EEM", KREquityTicker},
	"alternative":   {"VNQ", "DBC", "GLD"},
	"foreign_bond":  {"AGG", "IEF", "TLT", "TIP"},
	"domestic_bond": {"SHY"},
	"cash":          {"SHY"},
}
