// Package screener implements the Screener (C10): a ranked target list
// plus a diagnostic reason trail for every candidate the Swing and
// Pullback AlphaFilter gates rejected, persisted to
// cache/screener/latest.json so the HTTP façade can drive a
// rejected-candidate drill-down, matching alpha_filter.py's
// screen_universe output plus PullbackAlphaFilter's equivalent.
package screener

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/arduino-trader/internal/alphafilter"
	"github.com/aristath/arduino-trader/internal/domain"
	"github.com/aristath/arduino-trader/internal/indicators"
	"github.com/aristath/arduino-trader/pkg/formulas"
)

// screenerRSIPeriod is the lookback used for the diagnostic RSI attached
// to every screened candidate, passing or rejected.
const screenerRSIPeriod = 14

// RankedCandidate is one screened symbol's outcome, with Rank assigned
// only to passing candidates (1-based; 0 for rejected).
type RankedCandidate struct {
	Symbol      string   `json:"symbol"`
	Passed      bool     `json:"passed"`
	Rank        int      `json:"rank,omitempty"`
	Score       float64  `json:"score,omitempty"`
	Reasons     []string `json:"reasons,omitempty"`
	Diagnostics []string `json:"diagnostics,omitempty"`
}

// Section is one strategy's screening pass.
type Section struct {
	Strategy   string            `json:"strategy"`
	Candidates []RankedCandidate `json:"candidates"`
	PassCount  int               `json:"pass_count"`
	TotalCount int               `json:"total_count"`
}

// Report is the full persisted screener artefact (cache/screener/latest.json).
type Report struct {
	Timestamp time.Time `json:"timestamp"`
	Sections  []Section `json:"sections"`
}

// Screener runs the Swing and Pullback AlphaFilter gates over a universe
// and ranks passing candidates for the backtest orchestrator / HTTP façade.
type Screener struct {
	swing    alphafilter.SwingFilter
	pullback alphafilter.PullbackFilter
	log      zerolog.Logger
}

// New constructs a Screener.
func New(log zerolog.Logger) *Screener {
	return &Screener{log: log.With().Str("component", "screener").Logger()}
}

// ScreenSwing runs the Swing gates and ranks passing candidates by RVOL
// descending — the gate family's surge-strength signal, matching the
// Swing strategy's preference for the most abnormally-traded names first.
func (s *Screener) ScreenSwing(barsBySymbol map[string][]domain.Bar, marketCaps map[string]float64) Section {
	raw := s.swing.ScreenUniverse(barsBySymbol, marketCaps)
	return rankSection("swing", raw, func(c alphafilter.Candidate) float64 { return c.Indicators.RVOL }, diagnostics(barsBySymbol))
}

// ScreenPullback runs the Pullback gates. The gate family is binary
// pass/fail with no single scalar strength signal exposed on Candidate,
// so passing candidates are ranked alphabetically for a stable, reviewable
// ordering rather than an invented composite score.
func (s *Screener) ScreenPullback(barsBySymbol map[string][]domain.Bar) Section {
	raw := s.pullback.ScreenUniverse(barsBySymbol)
	return rankSection("pullback", raw, func(c alphafilter.Candidate) float64 { return 0 }, diagnostics(barsBySymbol))
}

// diagnostics computes the per-symbol technical/risk readout attached to
// every screened candidate (passing or rejected) for the reason-trail
// drill-down: trailing RSI, MACD histogram, price-series Sharpe, and
// distance from the 52-week high. None of these gate a candidate; they are informational,
// mirroring the technical-cache readout a manual reviewer would pull up
// alongside a rejected name.
func diagnostics(barsBySymbol map[string][]domain.Bar) map[string][]string {
	out := make(map[string][]string, len(barsBySymbol))
	for symbol, bars := range barsBySymbol {
		closes := indicators.Closes(bars)
		var lines []string

		if rsi := formulas.CalculateRSI(closes, screenerRSIPeriod); rsi != nil {
			lines = append(lines, fmt.Sprintf("RSI%d: %.1f", screenerRSIPeriod, *rsi))
		}
		if _, _, hist := indicators.MACD(closes); len(hist) > 0 && !math.IsNaN(hist[len(hist)-1]) {
			lines = append(lines, fmt.Sprintf("MACDHist: %.3f", hist[len(hist)-1]))
		}
		if sharpe := formulas.CalculateSharpeFromPrices(closes, 0); sharpe != nil {
			lines = append(lines, fmt.Sprintf("Sharpe: %.2f", *sharpe))
		}
		if dist := formulas.CalculateDistanceFrom52WeekHigh(closes); dist != nil {
			lines = append(lines, fmt.Sprintf("DistFrom52wHigh: %.1f%%", *dist*100))
		}

		if len(lines) > 0 {
			out[symbol] = lines
		}
	}
	return out
}

func rankSection(strategy string, raw []alphafilter.Candidate, score func(alphafilter.Candidate) float64, diag map[string][]string) Section {
	candidates := make([]RankedCandidate, 0, len(raw))
	passed := make([]alphafilter.Candidate, 0, len(raw))
	rejected := make([]alphafilter.Candidate, 0, len(raw))
	for _, c := range raw {
		if c.Passed {
			passed = append(passed, c)
		} else {
			rejected = append(rejected, c)
		}
	}

	sort.Slice(passed, func(i, j int) bool {
		si, sj := score(passed[i]), score(passed[j])
		if si != sj {
			return si > sj
		}
		return passed[i].Symbol < passed[j].Symbol
	})
	for i, c := range passed {
		rc := RankedCandidate{Symbol: c.Symbol, Passed: true, Rank: i + 1, Score: score(c), Diagnostics: diag[c.Symbol]}
		candidates = append(candidates, rc)
	}

	sort.Slice(rejected, func(i, j int) bool { return rejected[i].Symbol < rejected[j].Symbol })
	for _, c := range rejected {
		rc := RankedCandidate{Symbol: c.Symbol, Passed: false, Reasons: c.Reasons, Diagnostics: diag[c.Symbol]}
		candidates = append(candidates, rc)
	}

	return Section{Strategy: strategy, Candidates: candidates, PassCount: len(passed), TotalCount: len(raw)}
}

// Persist writes report as cache/screener/latest.json, the most recent
// run's artefact cache layout.
func Persist(ctx context.Context, cacheDir string, report Report) error {
	dir := filepath.Join(cacheDir, "screener")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("screener: create cache dir: %w", err)
	}
	buf, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("screener: marshal report: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "latest.json"), buf, 0o644); err != nil {
		return fmt.Errorf("screener: write report: %w", err)
	}
	return nil
}

// Run screens every configured section, logs a summary per section, and
// returns the combined report (does not persist — call Persist separately
// so callers can choose whether/when to touch disk, e.g. in tests).
func (s *Screener) Run(ctx context.Context, swingBars map[string][]domain.Bar, swingCaps map[string]float64, pullbackBars map[string][]domain.Bar) Report {
	report := Report{Timestamp: time.Now().UTC()}
	if swingBars != nil {
		section := s.ScreenSwing(swingBars, swingCaps)
		s.log.Info().Str("strategy", section.Strategy).Int("passed", section.PassCount).Int("total", section.TotalCount).Msg("screened universe")
		report.Sections = append(report.Sections, section)
	}
	if pullbackBars != nil {
		section := s.ScreenPullback(pullbackBars)
		s.log.Info().Str("strategy", section.Strategy).Int("passed", section.PassCount).Int("total", section.TotalCount).Msg("screened universe")
		report.Sections = append(report.Sections, section)
	}
	return report
}
