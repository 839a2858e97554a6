package ledger

import (
	"testing"
	"time"

	"hybrid-regime-engine/internal/position"
	"hybrid-regime-engine/internal/regime"
)

// The Repository methods in repository.go require a live Postgres
// pool and are exercised by integration tests, not here (mirrors the
// teacher's repository_settlement_test.go split between DB-backed and
// pure-logic tests). What's unit-testable in isolation is the
// invariant check and the terminal-reason filtering logic, both of
// which are pure functions of their inputs.

func TestCheckInvariantsRejectsNonPositiveQuantity(t *testing.T) {
	pos := &position.Position{Quantity: 0, AverageEntryPrice: 100, StopLossPrice: 95, TakeProfitPrice: 105}
	if err := checkInvariants(pos); err == nil {
		t.Fatalf("expected invariant violation for zero quantity")
	}
}

func TestCheckInvariantsRejectsOutOfOrderPrices(t *testing.T) {
	pos := &position.Position{Quantity: 1, AverageEntryPrice: 100, StopLossPrice: 101, TakeProfitPrice: 105}
	if err := checkInvariants(pos); err == nil {
		t.Fatalf("expected invariant violation when stop_loss > entry")
	}
}

func TestCheckInvariantsAcceptsWellOrderedPosition(t *testing.T) {
	pos := &position.Position{Quantity: 1, AverageEntryPrice: 100, StopLossPrice: 95, TakeProfitPrice: 105}
	if err := checkInvariants(pos); err != nil {
		t.Fatalf("expected no violation, got %v", err)
	}
}

func TestMustJSONNeverReturnsNil(t *testing.T) {
	if b := mustJSON(nil); b == nil {
		t.Fatalf("expected mustJSON(nil) to return a non-nil placeholder")
	}
	if b := mustJSON([]string{"a", "b"}); string(b) != `["a","b"]` {
		t.Fatalf("unexpected json: %s", b)
	}
}

// TestGetClosedTradesTerminalReasonSet documents the Kelly-window
// exclusion (SPEC_FULL §12, grounded on position_sizing.py): only
// terminal exits count toward win-rate statistics.
func TestGetClosedTradesTerminalReasonSet(t *testing.T) {
	terminal := map[position.TradeSide]bool{
		position.SideStopLoss:      true,
		position.SideBreakevenStop: true,
		position.SideTrailingStop:  true,
		position.SideTakeProfit:    true,
		position.SideSignalExit:    true,
	}
	excluded := []position.TradeSide{position.SidePartialTP, position.SideAverageDown, position.SidePyramidUp, position.SideBuy}
	for _, side := range excluded {
		if terminal[side] {
			t.Fatalf("%v must not be counted as a terminal trade reason", side)
		}
	}
}

// TestRegimeStateRoundTripsThroughZeroValue documents the Get()
// fallback contract for a symbol never previously classified.
func TestRegimeStateRoundTripsThroughZeroValue(t *testing.T) {
	zero := regime.State{}
	if zero.LastMode != "" {
		t.Fatalf("expected zero-value regime state to have empty LastMode")
	}
	_ = time.Now()
}
