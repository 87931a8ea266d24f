package artifacts

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/aristath/arduino-trader/internal/backtest"
	"github.com/aristath/arduino-trader/internal/domain"
	"github.com/aristath/arduino-trader/internal/performance"
)

// Artifact is the persisted run artefact: timestamp, config, metrics,
// equity_curve, trade_summary, regime_summary, elapsed_sec.
type Artifact struct {
	Timestamp     time.Time           `json:"timestamp"`
	Strategy      string              `json:"strategy"`
	Config        json.RawMessage     `json:"config,omitempty"`
	Metrics       performance.Metrics `json:"metrics"`
	EquityCurve   map[string]float64  `json:"equity_curve"`
	TradeSummary  map[string]int      `json:"trade_summary"`
	RegimeSummary RegimeSummary       `json:"regime_summary"`
	ElapsedSec    float64             `json:"elapsed_sec"`
}

// RegimeSummary counts rebalance-history entries classified BULL/BEAR.
type RegimeSummary struct {
	Bull int `json:"BULL"`
	Bear int `json:"BEAR"`
}

// BuildArtifact converts a backtest.RunReport into the persisted wire
// schema, formatting equity curve keys as "YYYY-MM-DD".
func BuildArtifact(report *backtest.RunReport, config json.RawMessage, dayToTime func(domain.Instant) time.Time) Artifact {
	curve := make(map[string]float64, len(report.Result.Equity))
	for _, pt := range report.Result.Equity {
		curve[dayToTime(pt.Day).Format("2006-01-02")] = pt.TotalBaseCcyValue
	}

	tradeCounts := make(map[string]int)
	for _, tr := range report.Result.Portfolio.TradeLog {
		tradeCounts[string(tr.Action)]++
	}

	regime := RegimeSummary{Bull: report.Regime.BullCount, Bear: report.Regime.BearCount}

	return Artifact{
		Timestamp:     time.Now().UTC(),
		Strategy:      string(report.Strategy),
		Config:        config,
		Metrics:       report.Metrics,
		EquityCurve:   curve,
		TradeSummary:  tradeCounts,
		RegimeSummary: regime,
		ElapsedSec:    report.Elapsed.Seconds(),
	}
}

// Persist writes artifact as the strategy's latest_result.json under
// cacheDir ("cache/<strategy>/latest_result.json") and records a summary
// row in the index, returning the generated run ID.
func Persist(ctx context.Context, store *Store, cacheDir string, artifact Artifact) (string, error) {
	dir := filepath.Join(cacheDir, artifact.Strategy)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("artifacts: create cache dir: %w", err)
	}
	path := filepath.Join(dir, "latest_result.json")

	buf, err := json.MarshalIndent(artifact, "", "  ")
	if err != nil {
		return "", fmt.Errorf("artifacts: marshal artifact: %w", err)
	}
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		return "", fmt.Errorf("artifacts: write artifact: %w", err)
	}

	runID, err := store.RecordRun(ctx, Run{
		Strategy:     artifact.Strategy,
		StartedAt:    artifact.Timestamp,
		ElapsedSec:   artifact.ElapsedSec,
		FinalEquity:  artifact.Metrics.FinalEquity,
		CAGRPct:      artifact.Metrics.CAGRPct,
		SharpeRatio:  artifact.Metrics.SharpeRatio,
		MDDPct:       artifact.Metrics.MDDPct,
		ArtifactPath: path,
	})
	if err != nil {
		return "", err
	}
	return runID, nil
}
