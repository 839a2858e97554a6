package position

import (
	"math"
	"time"

	"hybrid-regime-engine/internal/indicators"
	"hybrid-regime-engine/internal/regime"
	"hybrid-regime-engine/internal/signal"
)

// Config holds the exit-priority and averaging tunables of spec §4.6
// and §6.
type Config struct {
	TrailDistancePct     float64
	PartialTPTriggerPct  float64
	PartialClosePct      float64
	PartialTPRemainingTP float64

	TrailActivationPctMR float64
	TrailActivationPctTF float64

	AveragingPriceDropPct  float64
	AveragingTimeThreshold time.Duration
	MaxAveragingAttempts   int
	AveragingSizePct       float64
	MRTakeProfitPct        float64

	PyramidADXThreshold float64
	PyramidUpGainPct    float64

	MaxTotalRiskMultiplier float64
	CommissionRate         float64
	LotSize                float64
}

// DefaultConfig mirrors the spec's stated defaults.
func DefaultConfig() Config {
	return Config{
		TrailDistancePct:       0.01,
		PartialTPTriggerPct:    0.015,
		PartialClosePct:        0.5,
		PartialTPRemainingTP:   0.03,
		TrailActivationPctMR:   0.008,
		TrailActivationPctTF:   0.015,
		AveragingPriceDropPct:  0.05,
		AveragingTimeThreshold: 24 * time.Hour,
		MaxAveragingAttempts:   3,
		AveragingSizePct:       0.5,
		MRTakeProfitPct:        0.05,
		PyramidADXThreshold:    25,
		PyramidUpGainPct:       0.02,
		MaxTotalRiskMultiplier: 1.5,
		CommissionRate:         0.0009,
		LotSize:                1e-8,
	}
}

// Manager applies the exit-priority protocol. Stateless beyond its
// config; the Position it mutates is owned by the caller (the ledger
// repository), which is the single-writer per symbol spec §5 requires.
type Manager struct {
	config Config
}

// New creates a Manager.
func New(config Config) *Manager {
	return &Manager{config: config}
}

// Open creates a new Position from a BUY decision (spec §4.6's final
// paragraph: "If no position is open ... open a new position").
func (m *Manager) Open(symbol string, decision signal.Decision, price float64, freeCash float64, now time.Time) (*Position, TradeRecord) {
	notional := freeCash * decision.ProposedSizeFraction
	commission := notional * m.config.CommissionRate
	qty := floorToLot((notional-commission)/price, m.config.LotSize)
	invested := qty*price + commission

	pos := &Position{
		Symbol:            symbol,
		OpenedAt:          now,
		AverageEntryPrice: price,
		Quantity:          qty,
		TotalInvested:     invested,
		InitialInvested:   invested,
		CommissionPaid:    commission,
		StopLossPrice:     decision.ProposedStopLoss,
		TakeProfitPrice:   decision.ProposedTakeProfit,
		HighestPriceSinceEntry: price,
		EntryMode:         decision.EntryMode,
		EntryReasons:      decision.Reasons,
		EntryVotesDelta:   decision.Delta,
	}

	trade := TradeRecord{
		Symbol:     symbol,
		Side:       SideBuy,
		Price:      price,
		Qty:        qty,
		Commission: commission,
		At:         now,
		Reason:     "entry",
		EntryMode:  decision.EntryMode,
		Reasons:    decision.Reasons,
	}
	return pos, trade
}

// Tick applies the exit-priority protocol of spec §4.6 to an open
// position for one closed candle. It returns the trade records
// produced (zero, one, or — for a partial TP followed by nothing else
// that tick — exactly one) and whether the position is now fully
// closed.
func (m *Manager) Tick(pos *Position, price float64, snapshot indicators.Snapshot, decision signal.Decision, now time.Time) ([]TradeRecord, bool) {
	// 1. Hard stop-loss.
	if price <= pos.StopLossPrice {
		return []TradeRecord{m.closeFull(pos, price, now, SideStopLoss, "stop_loss")}, true
	}

	// 2. Break-even stop.
	if pos.BreakevenActive && price <= pos.AverageEntryPrice {
		return []TradeRecord{m.closeFull(pos, price, now, SideBreakevenStop, "breakeven_stop")}, true
	}

	// 3. Trailing stop.
	if pos.TrailingActive {
		if price > pos.HighestPriceSinceEntry {
			pos.HighestPriceSinceEntry = price
		}
		if price <= pos.HighestPriceSinceEntry*(1-m.config.TrailDistancePct) {
			return []TradeRecord{m.closeFull(pos, price, now, SideTrailingStop, "trailing_stop")}, true
		}
	}

	// 4. Partial take-profit (one-shot, TF-only).
	if !pos.PartialTPTaken && pos.EntryMode == regime.ModeTF {
		if price >= pos.AverageEntryPrice*(1+m.config.PartialTPTriggerPct) {
			trade := m.closePartial(pos, price, now, m.config.PartialClosePct)
			pos.PartialTPTaken = true
			pos.BreakevenActive = true
			pos.StopLossPrice = math.Max(pos.StopLossPrice, pos.AverageEntryPrice)
			pos.TakeProfitPrice = pos.AverageEntryPrice * (1 + m.config.PartialTPRemainingTP)
			return []TradeRecord{trade}, false
		}
	}

	// 5. Trailing activation.
	activationPct := m.config.TrailActivationPctMR
	if pos.EntryMode == regime.ModeTF {
		activationPct = m.config.TrailActivationPctTF
	}
	if !pos.TrailingActive && price >= pos.AverageEntryPrice*(1+activationPct) {
		pos.TrailingActive = true
		if price > pos.HighestPriceSinceEntry {
			pos.HighestPriceSinceEntry = price
		}
	}

	// 6. Take-profit.
	if pos.TakeProfitPrice > 0 && price >= pos.TakeProfitPrice {
		return []TradeRecord{m.closeFull(pos, price, now, SideTakeProfit, "take_profit")}, true
	}

	// 7. Signal exit.
	if decision.Kind == signal.Sell {
		return []TradeRecord{m.closeFull(pos, price, now, SideSignalExit, "signal_exit")}, true
	}

	// 8. Averaging opportunity.
	if trade, ok := m.tryAverageDown(pos, price, snapshot, now); ok {
		return []TradeRecord{trade}, false
	}
	if trade, ok := m.tryPyramidUp(pos, price, snapshot, decision, now); ok {
		return []TradeRecord{trade}, false
	}

	return nil, false
}

// CloseAtMarket force-closes pos at price, for the chat `remove`
// command's requirement to flatten an open position before
// untracking its symbol (spec §6).
func (m *Manager) CloseAtMarket(pos *Position, price float64, now time.Time) TradeRecord {
	return m.closeFull(pos, price, now, SideSignalExit, "manual_close")
}

func (m *Manager) closeFull(pos *Position, price float64, now time.Time, side TradeSide, reason string) TradeRecord {
	qty := pos.Quantity
	commission := qty * price * m.config.CommissionRate
	saleNotional := qty*price - commission
	realized := saleNotional - pos.TotalInvested

	pos.Quantity = 0
	pos.CommissionPaid += commission

	return TradeRecord{
		Symbol:      pos.Symbol,
		Side:        side,
		Price:       price,
		Qty:         qty,
		Commission:  commission,
		RealizedPnL: realized,
		At:          now,
		Reason:      reason,
		EntryMode:   pos.EntryMode,
	}
}

func (m *Manager) closePartial(pos *Position, price float64, now time.Time, fraction float64) TradeRecord {
	qty := floorToLot(pos.Quantity*fraction, m.config.LotSize)
	commission := qty * price * m.config.CommissionRate
	saleNotional := qty*price - commission

	investedForQty := pos.TotalInvested * (qty / pos.Quantity)
	realized := saleNotional - investedForQty

	pos.Quantity -= qty
	pos.TotalInvested -= investedForQty
	pos.CommissionPaid += commission

	return TradeRecord{
		Symbol:      pos.Symbol,
		Side:        SidePartialTP,
		Price:       price,
		Qty:         qty,
		Commission:  commission,
		RealizedPnL: realized,
		At:          now,
		Reason:      "partial_tp",
		EntryMode:   pos.EntryMode,
	}
}

func (m *Manager) tryAverageDown(pos *Position, price float64, snapshot indicators.Snapshot, now time.Time) (TradeRecord, bool) {
	if price > pos.AverageEntryPrice*(1-m.config.AveragingPriceDropPct) {
		return TradeRecord{}, false
	}
	if now.Sub(pos.OpenedAt) < m.config.AveragingTimeThreshold {
		return TradeRecord{}, false
	}
	if pos.AveragingCount >= m.config.MaxAveragingAttempts {
		return TradeRecord{}, false
	}
	newInvest := pos.InitialInvested * m.config.AveragingSizePct
	if pos.TotalInvested+newInvest > pos.InitialInvested*m.config.MaxTotalRiskMultiplier {
		return TradeRecord{}, false
	}

	commission := newInvest * m.config.CommissionRate
	qty := floorToLot((newInvest-commission)/price, m.config.LotSize)
	m.applyAveraging(pos, price, qty, commission, newInvest, now, AverageDown)

	newSL := price * (1 - m.stopLossPctFor(pos, snapshot))
	pos.StopLossPrice = math.Max(pos.StopLossPrice, newSL)
	pos.TakeProfitPrice = pos.AverageEntryPrice * (1 + m.config.MRTakeProfitPct)

	return TradeRecord{
		Symbol:     pos.Symbol,
		Side:       SideAverageDown,
		Price:      price,
		Qty:        qty,
		Commission: commission,
		At:         now,
		Reason:     "average_down",
		EntryMode:  pos.EntryMode,
	}, true
}

func (m *Manager) tryPyramidUp(pos *Position, price float64, snapshot indicators.Snapshot, decision signal.Decision, now time.Time) (TradeRecord, bool) {
	if decision.Kind != signal.Buy {
		return TradeRecord{}, false
	}
	if snapshot.ADX <= m.config.PyramidADXThreshold {
		return TradeRecord{}, false
	}
	if price < pos.AverageEntryPrice*(1+m.config.PyramidUpGainPct) {
		return TradeRecord{}, false
	}
	if pos.AveragingCount >= m.config.MaxAveragingAttempts {
		return TradeRecord{}, false
	}
	scale := 0.3 * float64(absInt(decision.Delta)) / 10.0
	if scale <= 0 {
		scale = 0.3
	}
	newInvest := pos.InitialInvested * scale
	if pos.TotalInvested+newInvest > pos.InitialInvested*m.config.MaxTotalRiskMultiplier {
		return TradeRecord{}, false
	}

	commission := newInvest * m.config.CommissionRate
	qty := floorToLot((newInvest-commission)/price, m.config.LotSize)
	m.applyAveraging(pos, price, qty, commission, newInvest, now, PyramidUp)

	if decision.ProposedStopLoss > pos.StopLossPrice {
		pos.StopLossPrice = decision.ProposedStopLoss
	}

	return TradeRecord{
		Symbol:     pos.Symbol,
		Side:       SidePyramidUp,
		Price:      price,
		Qty:        qty,
		Commission: commission,
		At:         now,
		Reason:     "pyramid_up",
		EntryMode:  pos.EntryMode,
	}, true
}

func (m *Manager) applyAveraging(pos *Position, price, qty, commission, invested float64, now time.Time, mode AveragingMode) {
	totalCost := pos.AverageEntryPrice*pos.Quantity + price*qty
	totalQty := pos.Quantity + qty

	pos.AverageEntryPrice = totalCost / totalQty
	pos.Quantity = totalQty
	pos.TotalInvested += invested
	pos.CommissionPaid += commission
	pos.AveragingCount++
	pos.AveragingEntries = append(pos.AveragingEntries, AveragingEntry{
		Price: price, Qty: qty, At: now, Mode: mode,
	})
}

func (m *Manager) stopLossPctFor(pos *Position, snapshot indicators.Snapshot) float64 {
	if pos.EntryMode == regime.ModeMR {
		return math.Max(0.03, snapshot.ATRPercent*1.5)
	}
	return 0.05
}

func floorToLot(qty, lot float64) float64 {
	if lot <= 0 {
		return qty
	}
	return math.Floor(qty/lot) * lot
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
