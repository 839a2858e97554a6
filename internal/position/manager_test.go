package position

import (
	"testing"
	"time"

	"hybrid-regime-engine/internal/indicators"
	"hybrid-regime-engine/internal/regime"
	"hybrid-regime-engine/internal/signal"
)

func TestOpenComputesQuantityAndCommission(t *testing.T) {
	m := New(DefaultConfig())
	now := time.Now()
	decision := signal.Decision{
		Kind:                 signal.Buy,
		ProposedSizeFraction: 0.35,
		ProposedStopLoss:     97,
		ProposedTakeProfit:   103,
		EntryMode:            regime.ModeMR,
	}
	pos, trade := m.Open("BTCUSDT", decision, 100, 1000, now)
	if pos.Quantity <= 0 {
		t.Fatalf("expected positive quantity, got %v", pos.Quantity)
	}
	if trade.Side != SideBuy {
		t.Fatalf("expected BUY trade, got %v", trade.Side)
	}
	if pos.StopLossPrice != 97 || pos.TakeProfitPrice != 103 {
		t.Fatalf("expected exit template carried over, got SL=%v TP=%v", pos.StopLossPrice, pos.TakeProfitPrice)
	}
}

// S1 — MR entry, SL hit.
func TestScenarioS1StopLossHit(t *testing.T) {
	m := New(DefaultConfig())
	now := time.Now()
	decision := signal.Decision{Kind: signal.Buy, ProposedSizeFraction: 0.35, ProposedStopLoss: 97, ProposedTakeProfit: 106, EntryMode: regime.ModeMR}
	pos, _ := m.Open("BTCUSDT", decision, 100, 1000, now)

	hold := signal.Decision{Kind: signal.Hold, EntryMode: regime.ModeMR}
	trades, closed := m.Tick(pos, 96.50, indicators.Snapshot{}, hold, now.Add(time.Hour))
	if !closed {
		t.Fatalf("expected position closed on stop-loss hit")
	}
	if len(trades) != 1 || trades[0].Side != SideStopLoss {
		t.Fatalf("expected one STOP_LOSS trade, got %+v", trades)
	}
	if trades[0].RealizedPnL >= 0 {
		t.Fatalf("expected a realized loss, got %v", trades[0].RealizedPnL)
	}
}

// S2 — TF entry with partial TP and trailing.
func TestScenarioS2PartialTPThenTrailingStop(t *testing.T) {
	cfg := DefaultConfig()
	m := New(cfg)
	now := time.Now()
	decision := signal.Decision{Kind: signal.Buy, ProposedSizeFraction: 0.70, ProposedStopLoss: 190, ProposedTakeProfit: 220, EntryMode: regime.ModeTF}
	pos, _ := m.Open("ETHUSDT", decision, 200, 1000, now)

	hold := signal.Decision{Kind: signal.Hold, EntryMode: regime.ModeTF}

	// +1.5% triggers partial TP.
	trades, closed := m.Tick(pos, 203.00, indicators.Snapshot{}, hold, now.Add(time.Hour))
	if closed {
		t.Fatalf("partial TP must not fully close the position")
	}
	if len(trades) != 1 || trades[0].Side != SidePartialTP {
		t.Fatalf("expected one PARTIAL_TP trade, got %+v", trades)
	}
	if !pos.BreakevenActive || pos.StopLossPrice != pos.AverageEntryPrice {
		t.Fatalf("expected breakeven promotion after partial TP, SL=%v entry=%v", pos.StopLossPrice, pos.AverageEntryPrice)
	}
	if !pos.PartialTPTaken {
		t.Fatalf("expected partial_tp_taken=true")
	}

	// Price runs to 206 to activate trailing.
	trades, closed = m.Tick(pos, 206.00, indicators.Snapshot{}, hold, now.Add(2*time.Hour))
	if closed || len(trades) != 0 {
		t.Fatalf("expected no trade on trailing activation tick, got %+v", trades)
	}
	if !pos.TrailingActive {
		t.Fatalf("expected trailing_active=true after +%% run-up")
	}

	// Price pulls back to 204, inside the trailing band from the 206 high.
	trades, closed = m.Tick(pos, 204.00, indicators.Snapshot{}, hold, now.Add(3*time.Hour))
	if !closed {
		t.Fatalf("expected trailing stop to close the remainder")
	}
	if len(trades) != 1 || trades[0].Side != SideTrailingStop {
		t.Fatalf("expected one TRAILING_STOP trade, got %+v", trades)
	}
}

func TestPartialTPFiresAtMostOnce(t *testing.T) {
	m := New(DefaultConfig())
	now := time.Now()
	decision := signal.Decision{Kind: signal.Buy, ProposedSizeFraction: 0.70, ProposedStopLoss: 190, ProposedTakeProfit: 220, EntryMode: regime.ModeTF}
	pos, _ := m.Open("ETHUSDT", decision, 200, 1000, now)
	hold := signal.Decision{Kind: signal.Hold, EntryMode: regime.ModeTF}

	m.Tick(pos, 203.00, indicators.Snapshot{}, hold, now.Add(time.Hour))
	if !pos.PartialTPTaken {
		t.Fatalf("expected partial TP to have fired")
	}
	trades, _ := m.Tick(pos, 205.00, indicators.Snapshot{}, hold, now.Add(2*time.Hour))
	for _, tr := range trades {
		if tr.Side == SidePartialTP {
			t.Fatalf("expected partial TP not to re-fire")
		}
	}
}

// S3 — Averaging down honors the risk cap.
func TestScenarioS3AveragingDownHonorsRiskCap(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxTotalRiskMultiplier = 1.5
	m := New(cfg)
	now := time.Now()
	decision := signal.Decision{Kind: signal.Buy, ProposedSizeFraction: 0.30, ProposedStopLoss: 47, ProposedTakeProfit: 55, EntryMode: regime.ModeMR}
	pos, _ := m.Open("ADAUSDT", decision, 50, 1000, now)
	initialInvested := pos.InitialInvested

	hold := signal.Decision{Kind: signal.Hold, EntryMode: regime.ModeMR}
	snapshot := indicators.Snapshot{ATRPercent: 0.02}

	trades, closed := m.Tick(pos, 47.40, snapshot, hold, now.Add(25*time.Hour))
	if closed {
		t.Fatalf("did not expect position to close on averaging tick")
	}
	if len(trades) != 1 || trades[0].Side != SideAverageDown {
		t.Fatalf("expected AVERAGE_DOWN trade, got %+v", trades)
	}
	if pos.TotalInvested > initialInvested*cfg.MaxTotalRiskMultiplier {
		t.Fatalf("expected total invested to respect the risk cap, got %v (cap %v)", pos.TotalInvested, initialInvested*cfg.MaxTotalRiskMultiplier)
	}

	// Force the position over the cap, then attempt another average-down.
	pos.TotalInvested = initialInvested * cfg.MaxTotalRiskMultiplier
	trades, _ = m.Tick(pos, 44.80, snapshot, hold, now.Add(50*time.Hour))
	for _, tr := range trades {
		if tr.Side == SideAverageDown {
			t.Fatalf("expected no further averaging once the risk cap is reached")
		}
	}
}

func TestBreakevenStopMonotonicity(t *testing.T) {
	m := New(DefaultConfig())
	now := time.Now()
	decision := signal.Decision{Kind: signal.Buy, ProposedSizeFraction: 0.5, ProposedStopLoss: 95, ProposedTakeProfit: 110, EntryMode: regime.ModeTF}
	pos, _ := m.Open("SOLUSDT", decision, 100, 1000, now)
	pos.BreakevenActive = true
	pos.StopLossPrice = pos.AverageEntryPrice

	before := pos.StopLossPrice
	hold := signal.Decision{Kind: signal.Hold, EntryMode: regime.ModeTF}
	m.Tick(pos, 101, indicators.Snapshot{}, hold, now.Add(time.Hour))
	if pos.StopLossPrice < before {
		t.Fatalf("expected stop-loss to never decrease once breakeven is active")
	}
}
