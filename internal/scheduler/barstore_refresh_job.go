package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/arduino-trader/internal/barstore"
)

// BarStoreRefreshJob incrementally refreshes a symbol universe's cached
// bar history, run nightly after the exchange it tracks has closed.
type BarStoreRefreshJob struct {
	store         *barstore.Store
	symbols       []string
	fallbackSince time.Time
	exchange      string
	hours         *MarketHoursService
	timeout       time.Duration
	log           zerolog.Logger
}

// NewBarStoreRefreshJob constructs a refresh job for store over symbols.
// hours may be nil to skip the market-open gate entirely (e.g. for
// sources, like Yahoo global ETFs, with no single relevant exchange).
func NewBarStoreRefreshJob(store *barstore.Store, symbols []string, fallbackSince time.Time, exchange string, hours *MarketHoursService, log zerolog.Logger) *BarStoreRefreshJob {
	return &BarStoreRefreshJob{
		store: store, symbols: symbols, fallbackSince: fallbackSince,
		exchange: exchange, hours: hours, timeout: 10 * time.Minute,
		log: log.With().Str("component", "barstore_refresh_job").Logger(),
	}
}

// Name identifies the job to the Scheduler.
func (j *BarStoreRefreshJob) Name() string { return "barstore_refresh:" + j.exchange }

// Run refreshes every configured symbol, logging per-symbol failures
// without aborting the batch — a single broken symbol should never block
// the rest of the universe's nightly update.
func (j *BarStoreRefreshJob) Run() error {
	if j.hours != nil && j.hours.IsMarketOpen(j.exchange) {
		j.log.Info().Str("exchange", j.exchange).Msg("market still open, deferring refresh to next tick")
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	_, errors := j.store.RefreshAll(ctx, j.symbols, j.fallbackSince)
	for symbol, err := range errors {
		j.log.Warn().Err(err).Str("symbol", symbol).Msg("symbol refresh failed, cache left stale")
	}
	j.log.Info().Int("symbols", len(j.symbols)).Int("failures", len(errors)).Msg("barstore refresh complete")
	return nil
}
