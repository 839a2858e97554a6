package scheduler

import (
	"testing"
	"time"

	"hybrid-regime-engine/internal/position"
)

// processSymbol and RunOnce need a live ledger.Repository (Postgres)
// and a real or stub exchange client wired end to end; those paths are
// exercised by integration tests, not here. This file covers the pure
// helpers.

func TestMarkSeenRejectsNonAdvancingCandle(t *testing.T) {
	s := &Scheduler{lastSeen: make(map[string]time.Time)}
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	if !s.markSeen("BTCUSDT", t0) {
		t.Fatal("expected first candle to be new")
	}
	if s.markSeen("BTCUSDT", t0) {
		t.Fatal("expected the same candle open_time to be rejected as a repeat")
	}
	if !s.markSeen("BTCUSDT", t0.Add(time.Hour)) {
		t.Fatal("expected a later candle open_time to be accepted")
	}
	if !s.markSeen("ETHUSDT", t0) {
		t.Fatal("expected a different symbol's dedupe state to be independent")
	}
}

func TestToClosedTradesComputesReturnPctAgainstNotional(t *testing.T) {
	trades := []position.TradeRecord{
		{Price: 100, Qty: 2, RealizedPnL: 20}, // +20 / 200 = 0.10
		{Price: 50, Qty: 4, RealizedPnL: -10}, // -10 / 200 = -0.05
		{Price: 0, Qty: 0, RealizedPnL: 5},    // zero notional guarded
	}
	out := toClosedTrades(trades)
	if len(out) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(out))
	}
	if !out[0].Won || out[0].ReturnPct != 0.10 {
		t.Errorf("trade 0: got Won=%v ReturnPct=%v", out[0].Won, out[0].ReturnPct)
	}
	if out[1].Won || out[1].ReturnPct != -0.05 {
		t.Errorf("trade 1: got Won=%v ReturnPct=%v", out[1].Won, out[1].ReturnPct)
	}
	if out[2].ReturnPct != 0 {
		t.Errorf("trade 2: expected zero-notional guard to yield ReturnPct=0, got %v", out[2].ReturnPct)
	}
}

func TestPercentReturnGuardsZeroInvested(t *testing.T) {
	if got := percentReturn(10, 0); got != 0 {
		t.Errorf("expected 0 for zero invested, got %v", got)
	}
	if got := percentReturn(5, 100); got != 5 {
		t.Errorf("expected 5, got %v", got)
	}
}
