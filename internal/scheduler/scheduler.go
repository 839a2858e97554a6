// Package scheduler dispatches each tracked symbol's closed candles
// through the indicator -> regime -> signal -> position pipeline of
// spec §4.8. Grounded on the teacher's scanner.Scanner: a ticker-driven
// loop that fans work out to a bounded worker pool over a channel of
// symbols, waits for the pool to drain, then sleeps until the next
// tick. The teacher's workers scored strategy proximity; these score
// nothing — they drive the trading pipeline end to end and commit
// through the ledger.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"hybrid-regime-engine/internal/candle"
	"hybrid-regime-engine/internal/events"
	binance "hybrid-regime-engine/internal/exchange"
	"hybrid-regime-engine/internal/indicators"
	"hybrid-regime-engine/internal/ledger"
	"hybrid-regime-engine/internal/metrics"
	"hybrid-regime-engine/internal/notification"
	"hybrid-regime-engine/internal/position"
	"hybrid-regime-engine/internal/regime"
	"hybrid-regime-engine/internal/riskguard"
	"hybrid-regime-engine/internal/signal"
	"hybrid-regime-engine/internal/sizing"
)

// Config holds the scheduler's named options (spec §6).
type Config struct {
	// Interval is the Binance kline interval string fetched for every
	// tracked symbol, e.g. "1h".
	Interval string
	// IntervalDuration is Interval parsed to a time.Duration; the
	// caller supplies it because Binance's interval vocabulary ("1h",
	// "4h", "1d") is not 1:1 with time.ParseDuration's.
	IntervalDuration time.Duration
	// ScanInterval is how often the scheduler polls for newly-closed
	// candles. It should be shorter than IntervalDuration so a closed
	// candle is picked up promptly, but need not match it exactly.
	ScanInterval time.Duration
	// MaxConcurrentFetches bounds the worker pool (spec §4.8).
	MaxConcurrentFetches int
	// CandleLookback is how many closed candles are fetched per
	// symbol per tick; must exceed the indicator pipeline's longest
	// window (EMA200 plus slope lookback).
	CandleLookback int
	// NDayLowDays is the falling-knife guard's lookback in days.
	NDayLowDays int
	// MinTradeNotional blocks a BUY when free cash can't clear the
	// exchange's minimum order size (spec §4.4 step 3's
	// "free cash < required_notional"; mirrors Binance's MIN_NOTIONAL
	// filter, typically 10 USDT).
	MinTradeNotional float64
	// LiveTrading routes BUY/SELL decisions through the exchange
	// client for a real fill instead of assuming the closed candle's
	// price fills exactly.
	LiveTrading bool
	RegimeThresholds regime.Thresholds
}

// DefaultConfig mirrors the spec's stated defaults for an hourly bar.
func DefaultConfig() Config {
	return Config{
		Interval:             "1h",
		IntervalDuration:     time.Hour,
		ScanInterval:         time.Minute,
		MaxConcurrentFetches: 5,
		CandleLookback:       300,
		NDayLowDays:          1,
		MinTradeNotional:     10.0,
		LiveTrading:          false,
		RegimeThresholds:     regime.DefaultThresholds(),
	}
}

// Scheduler owns the per-symbol dispatch loop.
type Scheduler struct {
	client   binance.BinanceClient
	repo     *ledger.Repository
	regimes  *ledger.RegimeCache
	posMgr   *position.Manager
	guard    *riskguard.Guard
	notifier *notification.Manager
	bus      *events.EventBus

	signalCfg Config
	sizeCfg   sizing.Config
	sigCfg    signal.Config

	mu       sync.Mutex
	lastSeen map[string]time.Time

	runMu    sync.Mutex
	running  bool
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// New creates a Scheduler wired to the full pipeline.
func New(
	client binance.BinanceClient,
	repo *ledger.Repository,
	regimes *ledger.RegimeCache,
	posMgr *position.Manager,
	guard *riskguard.Guard,
	notifier *notification.Manager,
	bus *events.EventBus,
	cfg Config,
	sizeCfg sizing.Config,
	sigCfg signal.Config,
) *Scheduler {
	return &Scheduler{
		client:    client,
		repo:      repo,
		regimes:   regimes,
		posMgr:    posMgr,
		guard:     guard,
		notifier:  notifier,
		bus:       bus,
		signalCfg: cfg,
		sizeCfg:   sizeCfg,
		sigCfg:    sigCfg,
		lastSeen:  make(map[string]time.Time),
		stopChan:  make(chan struct{}),
	}
}

// Start begins the background dispatch loop. A no-op if already
// running, so the chat `start` command can be sent idempotently.
func (s *Scheduler) Start() {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.stopChan = make(chan struct{})
	s.wg.Add(1)
	go s.runLoop()
}

// Stop signals the dispatch loop to exit and waits for the in-flight
// cycle to finish. A no-op if not running.
func (s *Scheduler) Stop() {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if !s.running {
		return
	}
	close(s.stopChan)
	s.wg.Wait()
	s.running = false
}

// IsRunning reports whether the dispatch loop is active, for the chat
// `status`/`reset`/`force_buy` commands' preconditions.
func (s *Scheduler) IsRunning() bool {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	return s.running
}

func (s *Scheduler) runLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.signalCfg.ScanInterval)
	defer ticker.Stop()

	s.RunOnce(context.Background())

	for {
		select {
		case <-ticker.C:
			s.RunOnce(context.Background())
		case <-s.stopChan:
			log.Info().Msg("scheduler stopped")
			return
		}
	}
}

// RunOnce runs a single dispatch cycle across every tracked symbol. It
// is exported so the chat `force_buy`-style diagnostics and tests can
// trigger a cycle synchronously without waiting on the ticker.
func (s *Scheduler) RunOnce(ctx context.Context) {
	cycleStart := time.Now()
	defer func() {
		metrics.SchedulerCycleSeconds.Observe(time.Since(cycleStart).Seconds())
	}()

	ctx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	symbols, err := s.repo.GetTrackedSymbols(ctx)
	if err != nil {
		log.Error().Err(err).Msg("scheduler: list tracked symbols")
		return
	}
	if len(symbols) == 0 {
		return
	}

	symbolChan := make(chan string, len(symbols))
	for _, sym := range symbols {
		symbolChan <- sym
	}
	close(symbolChan)

	workers := s.signalCfg.MaxConcurrentFetches
	if workers <= 0 {
		workers = 1
	}
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for sym := range symbolChan {
				if err := s.processSymbol(ctx, sym); err != nil {
					log.Error().Err(err).Str("symbol", sym).Msg("scheduler: process symbol")
					metrics.SymbolErrors.WithLabelValues(sym).Inc()
					s.bus.PublishError("scheduler", sym, err)
				}
			}
		}()
	}
	wg.Wait()
}

// processSymbol implements spec §4.8's per-symbol cycle: fetch the
// latest closed candle, skip it if already processed, run the
// pipeline, and commit whatever the pipeline decides through the
// ledger.
func (s *Scheduler) processSymbol(ctx context.Context, symbol string) error {
	series, err := binance.FetchClosedCandles(s.client, symbol, s.signalCfg.Interval, s.signalCfg.CandleLookback)
	if err != nil {
		return err
	}
	last, ok := series.Last()
	if !ok {
		return nil
	}

	if !s.markSeen(symbol, last.OpenTime) {
		return nil
	}

	nDayLow := candle.NDayLowWindow(s.signalCfg.IntervalDuration, s.signalCfg.NDayLowDays)
	windows := indicators.DefaultWindows(nDayLow)
	snapshots := indicators.Calculate(series, windows)
	snap := snapshots[len(snapshots)-1]
	history := snapshots[:len(snapshots)-1]

	prevState, err := s.regimes.Get(ctx, symbol)
	if err != nil {
		return fmt.Errorf("regime state: %w", err)
	}
	newState := regime.Next(prevState, snap.ADX, last.OpenTime, s.signalCfg.RegimeThresholds)
	if newState.LastMode != prevState.LastMode {
		if err := s.regimes.Put(ctx, symbol, newState); err != nil {
			log.Error().Err(err).Str("symbol", symbol).Msg("scheduler: persist regime state")
		}
		metrics.RegimeSwitches.WithLabelValues(string(newState.LastMode)).Inc()
		s.bus.PublishRegimeSwitch(symbol, string(prevState.LastMode), string(newState.LastMode), snap.ADX)
		if s.notifier != nil {
			_ = s.notifier.SendRegimeSwitch(symbol, string(prevState.LastMode), string(newState.LastMode), snap.ADX)
		}
	}

	if !snap.Defined {
		return nil
	}

	pos, err := s.repo.GetOpenPosition(ctx, symbol)
	holding := true
	if err != nil {
		if !errors.Is(err, ledger.ErrNotFound) {
			return fmt.Errorf("open position: %w", err)
		}
		holding = false
	}

	portfolio, err := s.repo.GetPortfolioState(ctx)
	if err != nil {
		return fmt.Errorf("portfolio state: %w", err)
	}
	openCount, err := s.repo.GetOpenPositionCount(ctx)
	if err != nil {
		return fmt.Errorf("open position count: %w", err)
	}
	metrics.OpenPositions.Set(float64(openCount))
	metrics.PortfolioEquity.Set(portfolio.BalanceCash)
	metrics.ObserveRiskGuardState(s.guard.Status().State == riskguard.StateOpen)

	closed, err := s.repo.GetClosedTrades(ctx, symbol, sizing.KellyLookbackWindow, nil)
	if err != nil {
		return fmt.Errorf("closed trades: %w", err)
	}

	decision := signal.Generate(snap, history, newState.LastMode, signal.LedgerView{
		AlreadyHolding:    holding,
		OpenPositionCount: openCount,
		FreeCash:          portfolio.BalanceCash,
	}, s.sigCfg, s.sizeCfg, toClosedTrades(closed), s.signalCfg.MinTradeNotional, s.guard)

	if err := s.repo.AppendSignal(ctx, symbol, last.OpenTime, string(decision.Kind), string(newState.LastMode),
		decision.Delta, decision.Reasons, snap.Close, decision.BlockReason); err != nil {
		log.Error().Err(err).Str("symbol", symbol).Msg("scheduler: append signal record")
	}
	s.bus.PublishSignal(symbol, string(decision.Kind), decision.BlockReason, decision.Delta, snap.Close)
	metrics.SignalsGenerated.WithLabelValues(string(decision.Kind)).Inc()

	fillPrice := snap.Close

	switch {
	case holding:
		return s.tickPosition(ctx, symbol, pos, fillPrice, snap, decision, last.OpenTime)
	case decision.Kind == signal.Buy:
		return s.openPosition(ctx, symbol, decision, fillPrice, portfolio.BalanceCash, last.OpenTime)
	default:
		return nil
	}
}

func (s *Scheduler) openPosition(ctx context.Context, symbol string, decision signal.Decision, price, freeCash float64, candleOpenTime time.Time) error {
	if s.signalCfg.LiveTrading {
		notional := freeCash * decision.ProposedSizeFraction
		qty := notional / price
		fill, err := binance.ExecuteOrder(s.client, symbol, binance.SideBuy, qty)
		if err != nil {
			return fmt.Errorf("execute buy: %w", err)
		}
		price = fill.Price
	}

	pos, trade := s.posMgr.Open(symbol, decision, price, freeCash, candleOpenTime)
	trade.CandleOpenTime = candleOpenTime
	trade.EntryMode = decision.EntryMode
	trade.VotesDelta = decision.Delta
	trade.Reasons = decision.Reasons

	if err := s.repo.OpenPosition(ctx, pos, trade); err != nil {
		return fmt.Errorf("commit open position: %w", err)
	}

	metrics.TradesOpened.WithLabelValues(string(decision.EntryMode)).Inc()
	s.bus.PublishTradeOpened(symbol, string(trade.Side), trade.Price, trade.Qty)
	if s.notifier != nil {
		_ = s.notifier.SendTradeOpen(symbol, string(trade.Side), trade.Price, trade.Qty)
	}
	return nil
}

// ForceBuy bypasses the vote gate and MR/TF filters to open a
// position directly, for the chat `force_buy` command (grounded on
// paper_force_buy, which fetches fresh klines, assumes a mid-strength
// signal, and opens at the last close). It still refuses a symbol
// that already has an open position or that is at the portfolio's
// open-position cap.
func (s *Scheduler) ForceBuy(ctx context.Context, symbol string) error {
	if _, err := s.repo.GetOpenPosition(ctx, symbol); err == nil {
		return fmt.Errorf("force buy %s: position already open", symbol)
	} else if !errors.Is(err, ledger.ErrNotFound) {
		return fmt.Errorf("force buy %s: open position lookup: %w", symbol, err)
	}

	openCount, err := s.repo.GetOpenPositionCount(ctx)
	if err != nil {
		return fmt.Errorf("force buy %s: open position count: %w", symbol, err)
	}
	if openCount >= s.sigCfg.MaxPositions {
		return fmt.Errorf("force buy %s: at max open positions (%d)", symbol, s.sigCfg.MaxPositions)
	}

	series, err := binance.FetchClosedCandles(s.client, symbol, s.signalCfg.Interval, s.signalCfg.CandleLookback)
	if err != nil {
		return fmt.Errorf("force buy %s: fetch candles: %w", symbol, err)
	}
	last, ok := series.Last()
	if !ok {
		return fmt.Errorf("force buy %s: no candle data", symbol)
	}

	nDayLow := candle.NDayLowWindow(s.signalCfg.IntervalDuration, s.signalCfg.NDayLowDays)
	windows := indicators.DefaultWindows(nDayLow)
	snapshots := indicators.Calculate(series, windows)
	snap := snapshots[len(snapshots)-1]
	if !snap.Defined {
		return fmt.Errorf("force buy %s: indicators not yet defined", symbol)
	}

	prevState, err := s.regimes.Get(ctx, symbol)
	if err != nil {
		return fmt.Errorf("force buy %s: regime state: %w", symbol, err)
	}
	entryMode := prevState.LastMode
	if entryMode != regime.ModeMR && entryMode != regime.ModeTF {
		entryMode = regime.ModeTF
	}

	const forcedDelta = 5 // mid-strength vote count, mirroring the forced signal_strength the original uses
	stopLoss, takeProfit := signal.ExitTemplate(snap, entryMode, s.sigCfg)

	kellyMode := sizing.ModeMR
	if entryMode == regime.ModeTF {
		kellyMode = sizing.ModeTF
	}
	closed, err := s.repo.GetClosedTrades(ctx, symbol, sizing.KellyLookbackWindow, nil)
	if err != nil {
		return fmt.Errorf("force buy %s: closed trades: %w", symbol, err)
	}
	sizeFraction := sizing.Size(s.sizeCfg, sizing.Inputs{
		Delta:        forcedDelta,
		ADX:          snap.ADX,
		Mode:         kellyMode,
		ATRPercent:   snap.ATRPercent,
		ClosedTrades: toClosedTrades(closed),
	})

	decision := signal.Decision{
		Kind:                 signal.Buy,
		ProposedSizeFraction: sizeFraction,
		ProposedStopLoss:     stopLoss,
		ProposedTakeProfit:   takeProfit,
		EntryMode:            entryMode,
		Delta:                forcedDelta,
		Reasons:              []string{"manual force_buy"},
	}

	portfolio, err := s.repo.GetPortfolioState(ctx)
	if err != nil {
		return fmt.Errorf("force buy %s: portfolio state: %w", symbol, err)
	}
	if portfolio.BalanceCash*sizeFraction < s.signalCfg.MinTradeNotional {
		return fmt.Errorf("force buy %s: insufficient cash for minimum notional", symbol)
	}

	return s.openPosition(ctx, symbol, decision, snap.Close, portfolio.BalanceCash, last.OpenTime)
}

// CloseAndUntrack flattens symbol's open position at the last traded
// price (if any) and stops tracking it, for the chat `remove` command
// (spec §6: a removed symbol must not be left with a dangling open
// position).
func (s *Scheduler) CloseAndUntrack(ctx context.Context, symbol string) error {
	pos, err := s.repo.GetOpenPosition(ctx, symbol)
	if err != nil && !errors.Is(err, ledger.ErrNotFound) {
		return fmt.Errorf("remove %s: open position lookup: %w", symbol, err)
	}
	if pos != nil {
		series, err := binance.FetchClosedCandles(s.client, symbol, s.signalCfg.Interval, 1)
		if err != nil {
			return fmt.Errorf("remove %s: fetch price: %w", symbol, err)
		}
		last, ok := series.Last()
		if !ok {
			return fmt.Errorf("remove %s: no price available to close position", symbol)
		}
		trade := s.posMgr.CloseAtMarket(pos, last.Close, last.OpenTime)
		if err := s.repo.ApplyExit(ctx, trade); err != nil {
			return fmt.Errorf("remove %s: close position: %w", symbol, err)
		}
		s.guard.RecordTrade(trade.RealizedPnL)
		metrics.TradesClosed.WithLabelValues(resultOf(trade.RealizedPnL), trade.Reason).Inc()
		s.bus.PublishTradeClosed(symbol, trade.Reason, pos.AverageEntryPrice, trade.Price, trade.Qty, trade.RealizedPnL,
			percentReturn(trade.RealizedPnL, pos.TotalInvested))
	}
	return s.repo.RemoveSymbol(ctx, symbol)
}

func resultOf(realizedPnL float64) string {
	if realizedPnL > 0 {
		return "win"
	}
	return "loss"
}

func (s *Scheduler) tickPosition(ctx context.Context, symbol string, pos *position.Position, price float64, snap indicators.Snapshot, decision signal.Decision, candleOpenTime time.Time) error {
	trades, fullyClosed := s.posMgr.Tick(pos, price, snap, decision, candleOpenTime)
	if len(trades) == 0 {
		return nil
	}
	trade := trades[0]
	trade.CandleOpenTime = candleOpenTime

	if s.signalCfg.LiveTrading && trade.Qty > 0 {
		side := binance.SideSell
		if trade.Side == position.SideAverageDown || trade.Side == position.SidePyramidUp {
			side = binance.SideBuy
		}
		fill, err := binance.ExecuteOrder(s.client, symbol, side, trade.Qty)
		if err != nil {
			return fmt.Errorf("execute %s: %w", trade.Side, err)
		}
		trade.Price = fill.Price
	}

	if fullyClosed {
		if err := s.repo.ApplyExit(ctx, trade); err != nil {
			return fmt.Errorf("commit exit: %w", err)
		}
		s.guard.RecordTrade(trade.RealizedPnL)
		result := "loss"
		if trade.RealizedPnL > 0 {
			result = "win"
		}
		metrics.TradesClosed.WithLabelValues(result, trade.Reason).Inc()
		s.bus.PublishTradeClosed(symbol, trade.Reason, pos.AverageEntryPrice, trade.Price, trade.Qty, trade.RealizedPnL, percentReturn(trade.RealizedPnL, pos.TotalInvested))
		if s.notifier != nil {
			_ = s.notifier.SendTradeClose(symbol, pos.AverageEntryPrice, trade.Price, trade.RealizedPnL, percentReturn(trade.RealizedPnL, pos.TotalInvested), trade.Reason)
		}
		return nil
	}

	if err := s.repo.ApplyPartialOrAveraging(ctx, pos, trade); err != nil {
		return fmt.Errorf("commit %s: %w", trade.Side, err)
	}

	switch trade.Side {
	case position.SidePartialTP:
		s.bus.PublishPositionUpdate(symbol, pos.AverageEntryPrice, trade.Price, pos.Quantity, trade.RealizedPnL, percentReturn(trade.RealizedPnL, pos.TotalInvested))
		if s.notifier != nil {
			_ = s.notifier.SendPartialTakeProfit(symbol, trade.Price, trade.Qty, trade.RealizedPnL)
		}
	case position.SideAverageDown, position.SidePyramidUp:
		s.bus.PublishPositionUpdate(symbol, pos.AverageEntryPrice, trade.Price, pos.Quantity, 0, 0)
		if s.notifier != nil {
			_ = s.notifier.SendAveraging(symbol, string(trade.Side), trade.Price, trade.Qty, pos.AverageEntryPrice)
		}
	}
	return nil
}

// markSeen reports whether candleOpenTime is new for symbol,
// recording it if so. Guards against reprocessing the same closed
// candle twice within one ScanInterval.
func (s *Scheduler) markSeen(symbol string, candleOpenTime time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if seen, ok := s.lastSeen[symbol]; ok && !candleOpenTime.After(seen) {
		return false
	}
	s.lastSeen[symbol] = candleOpenTime
	return true
}

func toClosedTrades(trades []position.TradeRecord) []sizing.ClosedTrade {
	out := make([]sizing.ClosedTrade, 0, len(trades))
	for _, t := range trades {
		notional := t.Price * t.Qty
		var pct float64
		if notional != 0 {
			pct = t.RealizedPnL / notional
		}
		out = append(out, sizing.ClosedTrade{Won: t.RealizedPnL > 0, ReturnPct: pct})
	}
	return out
}

func percentReturn(realizedPnL, invested float64) float64 {
	if invested == 0 {
		return 0
	}
	return 100 * realizedPnL / invested
}
