package backtest

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/arduino-trader/internal/domain"
	"github.com/aristath/arduino-trader/internal/portfolio"
)

func newTestPullbackBacktester() *PullbackBacktester {
	cfg := DefaultPullbackConfig()
	cfg.InitialCapital = 1_000_000
	cfg.Costs = portfolio.CostTable{}
	cfg.MarketOf = sameMarket(domain.MarketDomesticRegular)
	cfg.CurrencyOf = sameCurrency(domain.CurrencyKRW)
	cfg.MaxConcurrentPositions = 10
	return NewPullback(cfg, zerolog.Nop())
}

func TestProcessEntriesAbortsOnGapDown(t *testing.T) {
	b := newTestPullbackBacktester()
	book := domain.NewPortfolio(1_000_000)
	staged := []StagedCandidate{{Symbol: "A", StagedDay: 0, PrevClose: 100, ATR: 5}}
	active := map[string]*pullbackPosition{}

	barAt := func(symbol string, day domain.Instant) (domain.Bar, bool) {
		return domain.Bar{Open: 97, Close: 97}, true // 97/100 = 0.97 < 0.98
	}

	still := b.processEntries(book, 1, 1, staged, barAt, active)
	assert.Empty(t, still)
	assert.Empty(t, active)
	assert.Equal(t, 1_000_000.0, book.CashBaseCcy)
}

func TestProcessEntriesEntersAndSetsHardStop(t *testing.T) {
	b := newTestPullbackBacktester()
	book := domain.NewPortfolio(1_000_000)
	staged := []StagedCandidate{{Symbol: "A", StagedDay: 0, PrevClose: 100, ATR: 5}}
	active := map[string]*pullbackPosition{}

	barAt := func(symbol string, day domain.Instant) (domain.Bar, bool) {
		return domain.Bar{Open: 100, Close: 100}, true
	}

	still := b.processEntries(book, 1, 1, staged, barAt, active)
	assert.Empty(t, still)
	require.Contains(t, active, "A")
	pos := active["A"]
	assert.Equal(t, 100.0, pos.entryPrice)
	assert.Equal(t, 100.0-1.2*5, pos.stopPrice)
	assert.Less(t, book.CashBaseCcy, 1_000_000.0, "entry should spend cash")
	assert.Greater(t, book.Positions["A"], 0.0)
}

func TestManageActiveTriggersHardStop(t *testing.T) {
	b := newTestPullbackBacktester()
	book := domain.NewPortfolio(1_000_000)
	book.Positions["A"] = 100
	book.CashBaseCcy = 900_000

	active := map[string]*pullbackPosition{
		"A": {symbol: "A", entryDayIdx: 0, entryPrice: 100, atr: 5, shares: 100, stopPrice: 94, highSincePeak: 100},
	}
	barAt := func(symbol string, day domain.Instant) (domain.Bar, bool) {
		return domain.Bar{Open: 93, High: 95, Low: 90, Close: 91}, true
	}

	b.manageActive(book, 1, 1, barAt, active)
	assert.NotContains(t, active, "A", "a low piercing the stop price should close the whole position")
	assert.NotContains(t, book.Positions, "A")
	assert.Greater(t, book.CashBaseCcy, 900_000.0)
}

func TestManageActiveTakesPartialProfitAndMovesStopToBreakeven(t *testing.T) {
	b := newTestPullbackBacktester()
	book := domain.NewPortfolio(1_000_000)
	book.Positions["A"] = 100
	book.CashBaseCcy = 900_000

	active := map[string]*pullbackPosition{
		"A": {symbol: "A", entryDayIdx: 0, entryPrice: 100, atr: 5, shares: 100, stopPrice: 94, highSincePeak: 100},
	}
	// take-profit trigger: entry(100) + 1.5*ATR(5) = 107.5
	barAt := func(symbol string, day domain.Instant) (domain.Bar, bool) {
		return domain.Bar{Open: 106, High: 109, Low: 105, Close: 108}, true
	}

	b.manageActive(book, 1, 1, barAt, active)
	require.Contains(t, active, "A")
	pos := active["A"]
	assert.True(t, pos.partialTaken)
	assert.Equal(t, 100.0, pos.stopPrice, "residual stop should move to breakeven")
	assert.InDelta(t, 50.0, pos.shares, 1e-9, "half the position should remain after the partial take")
	assert.InDelta(t, 50.0, book.Positions["A"], 1e-9, "half the book position should be sold off")
}

func TestManageActiveForceClosesAtHorizon(t *testing.T) {
	b := newTestPullbackBacktester()
	book := domain.NewPortfolio(1_000_000)
	book.Positions["A"] = 100
	book.CashBaseCcy = 900_000

	active := map[string]*pullbackPosition{
		"A": {symbol: "A", entryDayIdx: 0, entryPrice: 100, atr: 5, shares: 100, stopPrice: 94, highSincePeak: 103},
	}
	barAt := func(symbol string, day domain.Instant) (domain.Bar, bool) {
		return domain.Bar{Open: 102, High: 104, Low: 101, Close: 103}, true
	}

	b.manageActive(book, 7, 7, barAt, active) // dayIdx(7) - entryDayIdx(0) >= HorizonDays(7)
	assert.NotContains(t, active, "A")
	assert.NotContains(t, book.Positions, "A")
}

func TestStageNewCandidatesExcludesActiveAndPending(t *testing.T) {
	b := newTestPullbackBacktester()
	b.cfg.Universe = []string{"A", "B"}

	bars := map[string][]domain.Bar{
		"A": {{Instant: 0, Close: 100}},
		"B": {{Instant: 0, Close: 100}},
	}
	barIndex := map[string]map[domain.Instant]int{
		"A": {0: 0}, "B": {0: 0},
	}
	active := map[string]*pullbackPosition{"A": {symbol: "A"}}
	pending := []StagedCandidate{{Symbol: "B", StagedDay: 0}}

	fresh := b.stageNewCandidates(0, bars, barIndex, active, pending)
	assert.Empty(t, fresh, "both universe symbols are excluded (one active, one pending) so nothing new is staged")
}
