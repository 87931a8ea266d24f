// Package barstore implements BarStore (C1): an incrementally refreshed,
// on-disk cache of OHLCV history per instrument, backed by pluggable
// BarSource adapters (internal/clients/kiwoom, internal/clients/yahoo,
// internal/clients/bridge). Cache files are written atomically
// (write-temp-then-rename) so a crash mid-write never corrupts a prior
// good cache, following internal/database's guarantee that a partially
// written artefact is never observable.
package barstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/aristath/arduino-trader/internal/domain"
	"github.com/aristath/arduino-trader/internal/errs"
)

// BarSource fetches bar history for one symbol from an upstream provider.
// Implementations (kiwoom, yahoo, bridge) must be safe for concurrent use
// across distinct symbols, since RefreshAll fetches several symbols at once;
// Store does not serialize calls per symbol.
type BarSource interface {
	// Name identifies the source, stamped onto BarSeries.Source.
	Name() string
	// FetchDaily returns all daily bars available for symbol from `since`
	// (inclusive) onward. Implementations own their own rate limiting
	// against the provider; Store additionally enforces a floor between
	// calls to the same source.
	FetchDaily(ctx context.Context, symbol string, since time.Time) ([]domain.Bar, error)
}

// Store is the on-disk, incrementally refreshed bar cache.
type Store struct {
	cacheDir string
	source   BarSource
	log      zerolog.Logger

	minInterval time.Duration
	maxRetries  int
	backoffBase time.Duration
	poolSize    int
	codec       codec

	mu       sync.Mutex
	lastCall time.Time
}

// Option configures a Store at construction time.
type Option func(*Store)

func WithMinInterval(d time.Duration) Option  { return func(s *Store) { s.minInterval = d } }
func WithMaxRetries(n int) Option             { return func(s *Store) { s.maxRetries = n } }
func WithBackoffBase(d time.Duration) Option  { return func(s *Store) { s.backoffBase = d } }
func WithPoolSize(n int) Option               { return func(s *Store) { s.poolSize = n } }

// New constructs a Store rooted at cacheDir, fetching from source on
// cache miss/refresh.
func New(cacheDir string, source BarSource, log zerolog.Logger, opts ...Option) *Store {
	s := &Store{
		cacheDir:    cacheDir,
		source:      source,
		log:         log.With().Str("component", "barstore").Str("source", source.Name()).Logger(),
		minInterval: 350 * time.Millisecond,
		maxRetries:  3,
		backoffBase: 2 * time.Second,
		poolSize:    4,
		codec:       jsonCodec{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) path(symbol string) string {
	return filepath.Join(s.cacheDir, s.source.Name(), symbol+s.codec.extension())
}

// Load reads the cached BarSeries for symbol, if present. It never touches
// the network.
func (s *Store) Load(symbol string) (domain.BarSeries, bool, error) {
	data, err := os.ReadFile(s.path(symbol))
	if os.IsNotExist(err) {
		return domain.BarSeries{}, false, nil
	}
	if err != nil {
		return domain.BarSeries{}, false, errs.DataGap(symbol, err)
	}
	var series domain.BarSeries
	if err := s.codec.unmarshal(data, &series); err != nil {
		return domain.BarSeries{}, false, errs.DataGap(symbol, fmt.Errorf("corrupt cache file: %w", err))
	}
	return series, true, nil
}

// save writes series to disk atomically: write to a temp file in the same
// directory, fsync, then rename over the target path.
func (s *Store) save(series domain.BarSeries) error {
	dir := filepath.Dir(s.path(series.Symbol))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	data, err := s.codec.marshal(series)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, series.Symbol+".*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, s.path(series.Symbol))
}

// mergeAppend merges newly fetched bars into an existing series, keeping
// strict Instant monotonicity: bars from the fetch that duplicate or
// precede the cache's last Instant are discarded rather than appended,
// since BarSeries invariants forbid out-of-order or duplicate entries.
func mergeAppend(existing domain.BarSeries, fetched []domain.Bar) domain.BarSeries {
	if len(existing.Bars) == 0 {
		sort.Slice(fetched, func(i, j int) bool { return fetched[i].Instant < fetched[j].Instant })
		existing.Bars = fetched
		return existing
	}
	lastInstant := existing.Bars[len(existing.Bars)-1].Instant
	merged := existing.Bars
	for _, b := range fetched {
		if b.Instant > lastInstant {
			merged = append(merged, b)
			lastInstant = b.Instant
		}
	}
	existing.Bars = merged
	return existing
}

// Refresh fetches new bars for symbol since the cache's last Instant (or
// from the beginning if uncached), merges and persists them, and returns
// the resulting series. Network calls go through the store's rate-limit
// gate and retry with exponential backoff on transient failures.
func (s *Store) Refresh(ctx context.Context, symbol string, fallbackSince time.Time) (domain.BarSeries, error) {
	existing, _, err := s.Load(symbol)
	if err != nil {
		return domain.BarSeries{}, err
	}
	if existing.Symbol == "" {
		existing.Symbol = symbol
		existing.Source = s.source.Name()
	}

	since := fallbackSince
	if len(existing.Bars) > 0 {
		since = time.Unix(int64(existing.Bars[len(existing.Bars)-1].Instant), 0)
	}

	fetched, err := s.fetchWithRetry(ctx, symbol, since)
	if err != nil {
		if len(existing.Bars) > 0 {
			s.log.Warn().Str("symbol", symbol).Err(err).Msg("refresh failed, serving cached series")
			return existing, nil
		}
		return domain.BarSeries{}, err
	}

	merged := mergeAppend(existing, fetched)
	if err := s.save(merged); err != nil {
		return domain.BarSeries{}, fmt.Errorf("persist cache for %s: %w", symbol, err)
	}
	return merged, nil
}

func (s *Store) gate(ctx context.Context) error {
	s.mu.Lock()
	wait := s.minInterval - time.Since(s.lastCall)
	s.mu.Unlock()
	if wait > 0 {
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	s.mu.Lock()
	s.lastCall = time.Now()
	s.mu.Unlock()
	return nil
}

func (s *Store) fetchWithRetry(ctx context.Context, symbol string, since time.Time) ([]domain.Bar, error) {
	var lastErr error
	for attempt := 0; attempt < s.maxRetries; attempt++ {
		if err := s.gate(ctx); err != nil {
			return nil, err
		}
		fetchCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		bars, err := s.source.FetchDaily(fetchCtx, symbol, since)
		cancel()
		if err == nil {
			return bars, nil
		}
		lastErr = err
		backoff := s.backoffBase * time.Duration(1<<uint(attempt))
		s.log.Debug().Str("symbol", symbol).Int("attempt", attempt+1).Dur("backoff", backoff).Err(err).Msg("fetch retry")
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, errs.Fetch(symbol, fmt.Errorf("exhausted %d retries: %w", s.maxRetries, lastErr))
}

// RefreshAll refreshes a set of symbols concurrently, bounded by the
// store's pool size, using errgroup so the first run-fatal error (none of
// these are — refresh degrades to cache on failure) does not cancel
// sibling fetches; each symbol's outcome is reported independently.
func (s *Store) RefreshAll(ctx context.Context, symbols []string, fallbackSince time.Time) (map[string]domain.BarSeries, map[string]error) {
	results := make(map[string]domain.BarSeries, len(symbols))
	failures := make(map[string]error)
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.poolSize)

	for _, symbol := range symbols {
		symbol := symbol
		g.Go(func() error {
			series, err := s.Refresh(gctx, symbol, fallbackSince)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures[symbol] = err
				return nil
			}
			results[symbol] = series
			return nil
		})
	}
	_ = g.Wait()
	return results, failures
}
