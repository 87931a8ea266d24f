package alphafilter

import "sort"

// PhoenixFrictionCost is the round-trip commission+slippage assumption
// applied on both the buy and sell leg, matching backtester.py's
// FRICTION_COST (split evenly between entry and exit).
const PhoenixFrictionCost = 0.00345

// PhoenixTarget is one statically-listed target instrument for a given
// decision date, sourced from PhoenixTargetLoader (an external,
// deterministic date-keyed list — no computed gates).
type PhoenixTarget struct {
	Symbol string
	Name   string
	IsATS  bool
}

// MinuteBar is one intraday observation, keyed by a 4-digit HHMM time
// (e.g. 914 for 09:14), matching the minute-chart records backtester.py
// consumes.
type MinuteBar struct {
	Time  int // HHMM, e.g. 900, 914, 1530
	Open  float64
	Close float64
}

// PhoenixExitBand is one row of the time-banded exit table: the
// profit_rate_914 interval between Lower and Upper it covers (which bound
// is inclusive is set out on phoenixExitTable) and the minute window
// [SellStart, SellEnd] during which the position is closed at the first
// available bar.
type PhoenixExitBand struct {
	Lower, Upper         float64
	SellStart, SellEnd   int
}

// phoenixExitTable is the time-banded exit schedule keyed by the 09:14
// snapshot's profit rate, matching the literal band boundaries in
// backtester.py. selectExitBand resolves the boundary overlaps at
// 0%/±4%/±9% in the original's chained if/elif order: every band covers
// (Lower, Upper] except around 0, where band 2 covers (-4%, 0%) and band 3
// covers [0%, 4%], so a rate of exactly 0 falls into the 0%..4% band — a
// documented product decision (see DESIGN.md).
var phoenixExitTable = []PhoenixExitBand{
	{Lower: -1, Upper: -0.09, SellStart: 924, SellEnd: 927},
	{Lower: -0.09, Upper: -0.04, SellStart: 921, SellEnd: 922},
	{Lower: -0.04, Upper: 0.00, SellStart: 919, SellEnd: 920},
	{Lower: 0.00, Upper: 0.04, SellStart: 924, SellEnd: 927},
	{Lower: 0.04, Upper: 0.09, SellStart: 920, SellEnd: 924},
	{Lower: 0.09, Upper: 1, SellStart: 917, SellEnd: 919},
}

// selectExitBand returns the band covering profitRate914, matching the
// backtester's chained if/elif: the first band equal-or-below threshold
// for <=-0.09 is special-cased (Lower -1 sentinel), the last band
// (>0.09) falls through to SellStart/SellEnd 917-919.
func selectExitBand(profitRate914 float64) PhoenixExitBand {
	switch {
	case profitRate914 <= -0.09:
		return phoenixExitTable[0]
	case profitRate914 <= -0.04:
		return phoenixExitTable[1]
	case profitRate914 < 0.00:
		return phoenixExitTable[2]
	case profitRate914 <= 0.04:
		return phoenixExitTable[3]
	case profitRate914 <= 0.09:
		return phoenixExitTable[4]
	default:
		return phoenixExitTable[5]
	}
}

// PhoenixTrade is one simulated day's round-trip for one target symbol.
type PhoenixTrade struct {
	Symbol          string
	BuyPrice        float64
	SellPrice       float64
	SellTime        int
	ProfitRate914   float64
	ReturnAfterCost float64
	SellReason      string
}

// SimulateDay runs the Phoenix entry/exit rule for one symbol on one
// trading day: entry at the day's opening minute bar, decision snapshot
// at the 09:14 bar (falling back to the opening price if no 09:14 bar is
// present), upper-limit trailing-stop check within the first 15 minutes,
// time-banded exit otherwise, and close-of-day forced liquidation if
// neither fires.
func SimulateDay(symbol string, yesterdayClose float64, minuteBars []MinuteBar) (PhoenixTrade, bool) {
	if len(minuteBars) == 0 || yesterdayClose == 0 {
		return PhoenixTrade{}, false
	}
	sorted := append([]MinuteBar(nil), minuteBars...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Time < sorted[j].Time })

	buyPrice := sorted[0].Open
	if buyPrice == 0 {
		return PhoenixTrade{}, false
	}

	price914 := buyPrice
	for _, bar := range sorted {
		if bar.Time == 914 {
			price914 = bar.Close
			break
		}
	}
	profitRate914 := (price914 - buyPrice) / buyPrice
	band := selectExitBand(profitRate914)

	upperLimit := yesterdayClose * 1.30
	hitUpper := false
	trailingStop := 0.0
	sellPrice, sellTime, sellReason := 0.0, 0, ""

	for _, bar := range sorted {
		if bar.Time <= 915 && bar.Close >= upperLimit*0.99 {
			hitUpper = true
			trailingStop = bar.Close * 0.92
		}
		if hitUpper && bar.Close <= trailingStop {
			sellPrice, sellTime, sellReason = bar.Close, bar.Time, "upper-limit trailing stop"
			break
		}
		if band.SellStart <= bar.Time && bar.Time <= band.SellEnd && !hitUpper {
			sellPrice, sellTime, sellReason = bar.Close, bar.Time, "time-banded target"
			break
		}
	}
	if sellPrice == 0 {
		last := sorted[len(sorted)-1]
		sellPrice, sellTime, sellReason = last.Close, last.Time, "forced close-of-day liquidation"
	}

	sellAfterFriction := sellPrice * (1 - PhoenixFrictionCost/2)
	buyAfterFriction := buyPrice * (1 + PhoenixFrictionCost/2)
	returnAfterCost := (sellAfterFriction - buyAfterFriction) / buyAfterFriction

	return PhoenixTrade{
		Symbol: symbol, BuyPrice: buyPrice, SellPrice: sellPrice, SellTime: sellTime,
		ProfitRate914: profitRate914, ReturnAfterCost: returnAfterCost, SellReason: sellReason,
	}, true
}
