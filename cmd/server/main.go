package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/arduino-trader/internal/artifacts"
	"github.com/aristath/arduino-trader/internal/backtest"
	"github.com/aristath/arduino-trader/internal/barstore"
	"github.com/aristath/arduino-trader/internal/clients/bridge"
	"github.com/aristath/arduino-trader/internal/clients/kiwoom"
	"github.com/aristath/arduino-trader/internal/clients/yahoo"
	"github.com/aristath/arduino-trader/internal/config"
	"github.com/aristath/arduino-trader/internal/datahandler"
	"github.com/aristath/arduino-trader/internal/domain"
	"github.com/aristath/arduino-trader/internal/portfolio"
	"github.com/aristath/arduino-trader/internal/rebalance"
	"github.com/aristath/arduino-trader/internal/scheduler"
	"github.com/aristath/arduino-trader/internal/scoring"
	"github.com/aristath/arduino-trader/internal/screener"
	"github.com/aristath/arduino-trader/internal/server"
	"github.com/aristath/arduino-trader/pkg/logger"
)

func main() {
	log := logger.New(logger.Config{Level: "info", Pretty: true})
	log.Info().Msg("starting backtest research platform")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	log = logger.New(logger.Config{Level: cfg.LogLevel, Pretty: cfg.DevMode})

	store, err := artifacts.Open(cfg.ArtifactsDB, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open artefact index")
	}
	defer store.Close()

	domesticBars := barstore.New(cfg.CacheDir, domesticSource(cfg, log), log,
		barstore.WithMinInterval(cfg.FetchMinInterval),
		barstore.WithMaxRetries(cfg.FetchMaxRetries),
		barstore.WithBackoffBase(cfg.FetchBackoffBase),
	)
	globalBars := barstore.New(cfg.CacheDir, yahoo.NewClient(log), log,
		barstore.WithMinInterval(cfg.FetchMinInterval),
		barstore.WithMaxRetries(cfg.FetchMaxRetries),
		barstore.WithBackoffBase(cfg.FetchBackoffBase),
	)

	hours := scheduler.NewMarketHoursService(log)

	sched := scheduler.New(log)
	sched.Start()
	defer sched.Stop()

	if err := registerJobs(sched, cfg, store, domesticBars, globalBars, hours, log); err != nil {
		log.Fatal().Err(err).Msg("failed to register scheduled jobs")
	}

	srv := server.New(server.Config{
		Port:      cfg.Port,
		Log:       log,
		Artifacts: store,
		CacheDir:  cfg.CacheDir,
		DevMode:   cfg.DevMode,
	})
	go func() {
		if err := srv.Start(); err != nil {
			log.Error().Err(err).Msg("HTTP server stopped unexpectedly")
		}
	}()
	log.Info().Int("port", cfg.Port).Msg("server started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("error during HTTP server shutdown")
	}
}

// domesticSource picks the domestic BarSource: the Daishin COM bridge when
// a bridge URL is configured (a local process wrapping the Cybos Plus COM
// object), falling back to the Kiwoom REST API otherwise. Both model the
// same Korean-exchange domestic-equity concern behind one BarSource
// interface.
func domesticSource(cfg *config.Config, log zerolog.Logger) barstore.BarSource {
	if cfg.DaishinBridgeURL != "" {
		return bridge.NewClient(cfg.DaishinBridgeURL, log)
	}
	return kiwoom.NewClient(cfg.KiwoomAPIKey, cfg.KiwoomAPISecret, cfg.KiwoomUseMock, log)
}

// dayToTime converts a domain.Instant (a unix-second timestamp) to a
// time.Time, matching datahandler's own Instant<->time.Time convention.
func dayToTime(day domain.Instant) time.Time { return time.Unix(int64(day), 0).UTC() }

// isDomestic reports whether symbol trades on the Korean exchange, by the
// "A"-prefixed 6-digit code convention the universe configuration and
// internal/clients/kiwoom both use.
func isDomestic(symbol string) bool { return strings.HasPrefix(symbol, "A") }

func marketOf(symbol string) domain.Market {
	if isDomestic(symbol) {
		return domain.MarketDomesticRegular
	}
	return domain.MarketGlobalETF
}

func currencyOf(symbol string) domain.Currency {
	if isDomestic(symbol) {
		return domain.CurrencyKRW
	}
	return domain.CurrencyUSD
}

// registerJobs wires the nightly BarStore refresh and per-strategy
// backtest run jobs. Phoenix is deliberately not cron-registered here: it
// requires an intraday minute-bar BarSource this platform's BarStore
// layer does not provide, so it stays reachable only through direct
// Orchestrator.RunPhoenix or PhoenixBacktester.Run calls (the tests call
// PhoenixBacktester.Run).
func registerJobs(sched *scheduler.Scheduler, cfg *config.Config, store *artifacts.Store, domesticBars, globalBars *barstore.Store, hours *scheduler.MarketHoursService, log zerolog.Logger) error {
	universe := uniqueSymbols(cfg.MomentumUniverse, cfg.PullbackUniverse, []string{cfg.BenchmarkSymbol})

	refreshJob := scheduler.NewBarStoreRefreshJob(domesticBars, universe, time.Now().AddDate(-3, 0, 0), "KRX", hours, log)
	if err := sched.AddJob(cfg.BarStoreRefreshSchedule, refreshJob); err != nil {
		return err
	}

	orchestrator := backtest.NewOrchestrator(log)
	costs := portfolio.DefaultCostTable(cfg.DefaultCommissionRate, cfg.DefaultSlippageRate)

	momentumRun := func(ctx context.Context) (*backtest.RunReport, error) {
		handler, err := buildHandler(domesticBars, cfg.MomentumUniverse, cfg.BenchmarkSymbol)
		if err != nil {
			return nil, err
		}
		scorer := scoring.New(cfg.MomentumMinTradingValue, 0.0, 5, log)
		rebalancer := rebalance.New(rebalance.InverseVolatility, log)
		btCfg := backtest.Config{
			InitialCapital:  cfg.InitialCapital,
			WarmupDays:      scoring.Lookback12M,
			BenchmarkSymbol: cfg.BenchmarkSymbol,
			Universe:        cfg.MomentumUniverse,
			Costs:           costs,
			MarketOf:        marketOf,
			CurrencyOf:      currencyOf,
		}
		return orchestrator.RunMomentum(ctx, btCfg, scorer, rebalancer, handler, dayToTime)
	}
	momentumJob := scheduler.NewBacktestRunJob("momentum", momentumRun, store, cfg.CacheDir, nil, func(d int64) time.Time { return dayToTime(domain.Instant(d)) }, log)
	if err := sched.AddJob(cfg.BacktestRunSchedule, momentumJob); err != nil {
		return err
	}

	pullbackRun := func(ctx context.Context) (*backtest.RunReport, error) {
		handler, err := buildHandler(domesticBars, cfg.PullbackUniverse, cfg.BenchmarkSymbol)
		if err != nil {
			return nil, err
		}
		barsBySymbol, err := loadBarsBySymbol(domesticBars, cfg.PullbackUniverse)
		if err != nil {
			return nil, err
		}
		pbCfg := backtest.DefaultPullbackConfig()
		pbCfg.Universe = cfg.PullbackUniverse
		pbCfg.Costs = costs
		pbCfg.MarketOf = marketOf
		pbCfg.CurrencyOf = currencyOf
		pbCfg.InitialCapital = cfg.InitialCapital
		return orchestrator.RunPullback(ctx, pbCfg, handler, barsBySymbol, dayToTime)
	}
	pullbackJob := scheduler.NewBacktestRunJob("pullback", pullbackRun, store, cfg.CacheDir, nil, func(d int64) time.Time { return dayToTime(domain.Instant(d)) }, log)
	if err := sched.AddJob(cfg.BacktestRunSchedule, pullbackJob); err != nil {
		return err
	}

	screenerRun := &screenerRunJob{
		screener: screener.New(log),
		bars:     domesticBars,
		symbols:  cfg.PullbackUniverse,
		cacheDir: cfg.CacheDir,
		log:      log.With().Str("component", "screener_job").Logger(),
	}
	if err := sched.AddJob(cfg.BacktestRunSchedule, screenerRun); err != nil {
		return err
	}

	globalRun := func(ctx context.Context) (*backtest.RunReport, error) {
		globalHandler, err := buildHandler(globalBars, append(append([]string{}, cfg.GlobalUniverse...), cfg.FXSymbol), scoring.CashTicker)
		if err != nil {
			return nil, err
		}
		regimeHandlers, err := buildGlobalRegimeHandlers(globalBars, cfg.GlobalUniverse)
		if err != nil {
			return nil, err
		}
		domesticHandler, err := buildHandler(domesticBars, cfg.GlobalDomesticUniverse, cfg.BenchmarkSymbol)
		if err != nil {
			return nil, err
		}

		globalScorer := scoring.New(0, 0.0, 0, log)
		domesticScorer := scoring.New(cfg.MomentumMinTradingValue, 0.0, 5, log)
		rebalancer := rebalance.New(rebalance.EqualWeight, log)
		globalCfg := backtest.GlobalConfig{
			InitialCapital:   cfg.InitialCapital,
			WarmupDays:       scoring.Lookback12M,
			PresetName:       cfg.GlobalPresetName,
			Universe:         cfg.GlobalUniverse,
			CashTicker:       scoring.CashTicker,
			KREquityTicker:   scoring.KREquityTicker,
			DomesticUniverse: cfg.GlobalDomesticUniverse,
			FXSymbol:         cfg.FXSymbol,
			Costs:            costs,
			MarketOf:         marketOf,
			CurrencyOf:       currencyOf,
		}
		return orchestrator.RunGlobal(ctx, globalCfg, globalScorer, domesticScorer, rebalancer, globalHandler, regimeHandlers, domesticHandler, dayToTime)
	}
	globalJob := scheduler.NewBacktestRunJob("global", globalRun, store, cfg.CacheDir, nil, func(d int64) time.Time { return dayToTime(domain.Instant(d)) }, log)
	if err := sched.AddJob(cfg.BacktestRunSchedule, globalJob); err != nil {
		return err
	}

	return nil
}

// buildGlobalRegimeHandlers constructs one self-benchmarked Handler per
// global ticker (each built from the same universe's series but with that
// ticker as its own benchmark symbol), so GlobalBacktester can judge each
// asset's BULL/BEAR regime against its own SMA200 rather than a shared
// domestic benchmark, matching detect_global_regimes.
func buildGlobalRegimeHandlers(store *barstore.Store, universe []string) (map[string]*datahandler.Handler, error) {
	symbols := uniqueSymbols(universe, nil)
	series := make([]domain.BarSeries, 0, len(symbols))
	for _, symbol := range symbols {
		s, ok, err := store.Load(symbol)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		series = append(series, s)
	}
	out := make(map[string]*datahandler.Handler, len(series))
	for _, s := range series {
		h, err := datahandler.Build(series, s.Symbol)
		if err != nil {
			return nil, err
		}
		out[s.Symbol] = h
	}
	return out, nil
}

// screenerRunJob adapts screener.Screener into a scheduler.Job, sharing
// the Pullback universe's bar cache for both the Swing and Pullback
// screens rather than introducing a separate Swing universe config.
type screenerRunJob struct {
	screener *screener.Screener
	bars     *barstore.Store
	symbols  []string
	cacheDir string
	log      zerolog.Logger
}

func (j *screenerRunJob) Name() string { return "screener_run" }

func (j *screenerRunJob) Run() error {
	barsBySymbol, err := loadBarsBySymbol(j.bars, j.symbols)
	if err != nil {
		return err
	}
	report := j.screener.Run(context.Background(), barsBySymbol, nil, barsBySymbol)
	if err := screener.Persist(context.Background(), j.cacheDir, report); err != nil {
		j.log.Error().Err(err).Msg("failed to persist screener report")
		return err
	}
	j.log.Info().Int("sections", len(report.Sections)).Msg("screener run persisted")
	return nil
}

func buildHandler(store *barstore.Store, universe []string, benchmark string) (*datahandler.Handler, error) {
	symbols := uniqueSymbols(universe, []string{benchmark})
	series := make([]domain.BarSeries, 0, len(symbols))
	for _, symbol := range symbols {
		s, ok, err := store.Load(symbol)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		series = append(series, s)
	}
	return datahandler.Build(series, benchmark)
}

func loadBarsBySymbol(store *barstore.Store, symbols []string) (map[string][]domain.Bar, error) {
	out := make(map[string][]domain.Bar, len(symbols))
	for _, symbol := range symbols {
		s, ok, err := store.Load(symbol)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		out[symbol] = s.Bars
	}
	return out, nil
}

func uniqueSymbols(lists ...[]string) []string {
	seen := make(map[string]struct{})
	out := make([]string, 0)
	for _, list := range lists {
		for _, symbol := range list {
			if symbol == "" {
				continue
			}
			if _, ok := seen[symbol]; ok {
				continue
			}
			seen[symbol] = struct{}{}
			out = append(out, symbol)
		}
	}
	return out
}
