// Package position owns open positions and implements the
// exit-priority protocol of spec §4.6: on each closed candle it walks
// stop-loss, break-even, trailing-stop, partial take-profit, trailing
// activation, take-profit, signal-exit, and averaging in strict
// order, the first match winning. This folds the teacher's
// TrailingStopManager (a standalone side-table keyed by symbol) into
// fields on Position itself, since spec §3 models trailing state as
// part of the position, not a parallel table.
package position

import (
	"time"

	"hybrid-regime-engine/internal/regime"
)

// AveragingMode distinguishes the two averaging strategies of spec
// §4.6 step 8.
type AveragingMode string

const (
	AverageDown AveragingMode = "AVERAGE_DOWN"
	PyramidUp   AveragingMode = "PYRAMID_UP"
)

// AveragingEntry is one averaging fill against an open position.
type AveragingEntry struct {
	Price float64
	Qty   float64
	At    time.Time
	Mode  AveragingMode
}

// Position is the spec §3 Position entity. At most one is open per
// symbol at a time.
type Position struct {
	Symbol   string
	OpenedAt time.Time

	AverageEntryPrice float64
	Quantity          float64
	TotalInvested     float64
	CommissionPaid    float64

	StopLossPrice          float64
	TakeProfitPrice        float64
	HighestPriceSinceEntry float64
	TrailingActive         bool
	BreakevenActive        bool
	PartialTPTaken         bool

	EntryMode       regime.Mode
	EntryVotesDelta int
	EntryReasons    []string

	AveragingCount   int
	AveragingEntries []AveragingEntry

	// InitialInvested is TotalInvested at the moment the position was
	// opened, before any averaging; MAX_TOTAL_RISK_MULTIPLIER is
	// applied against this, not the running total (spec §3, §4.6).
	InitialInvested float64
}

// TradeSide enumerates the TradeRecord.side values of spec §3.
type TradeSide string

const (
	SideBuy           TradeSide = "BUY"
	SideSell          TradeSide = "SELL"
	SideStopLoss      TradeSide = "STOP_LOSS"
	SidePartialTP     TradeSide = "PARTIAL_TP"
	SideTrailingStop  TradeSide = "TRAILING_STOP"
	SideBreakevenStop TradeSide = "BREAKEVEN_STOP"
	SideAverageDown   TradeSide = "AVERAGE_DOWN"
	SidePyramidUp     TradeSide = "PYRAMID_UP"
	SideSignalExit    TradeSide = "SIGNAL_EXIT"
	SideTakeProfit    TradeSide = "TAKE_PROFIT"
)

// TradeRecord is the append-only ledger entry of spec §3. Never
// mutated once written.
type TradeRecord struct {
	Symbol      string
	Side        TradeSide
	Price       float64
	Qty         float64
	Commission  float64
	RealizedPnL float64
	At          time.Time
	Reason      string
	EntryMode   regime.Mode
	VotesDelta  int
	Reasons     []string

	// CandleOpenTime is the closed candle that produced this trade;
	// together with Symbol and Reason it forms the ledger's
	// idempotent-replay key (spec §4.7).
	CandleOpenTime time.Time
}
