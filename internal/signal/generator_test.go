package signal

import (
	"testing"

	"hybrid-regime-engine/internal/indicators"
	"hybrid-regime-engine/internal/regime"
	"hybrid-regime-engine/internal/sizing"
)

func bullishSnapshot() indicators.Snapshot {
	return indicators.Snapshot{
		Defined:             true,
		Close:               100,
		RSI:                 25,
		ZScore:              -2.1,
		ADX:                 15,
		NDayLow:              90,
		VolumeMean:          1000,
		Volume:              1100,
		EMAVeryLongSlopePct: 0.0,
		BBMid:               95,
		EMAShort:            98,
		EMALong:             96,
		MACDHist:            0.5,
		MACDLine:            0.2,
		PlusDI:              20,
		MinusDI:             10,
	}
}

func TestGenerateHoldWhenIndicatorsUndefined(t *testing.T) {
	d := Generate(indicators.Snapshot{Defined: false}, nil, regime.ModeMR, LedgerView{}, DefaultConfig(), sizing.DefaultConfig(), nil, 0, nil)
	if d.Kind != Hold {
		t.Fatalf("expected HOLD when indicators undefined, got %v", d.Kind)
	}
	if d.BlockReason != "indicators_undefined" {
		t.Fatalf("expected indicators_undefined block reason, got %q", d.BlockReason)
	}
}

func TestGenerateBuyInMROnStrongBullishVotes(t *testing.T) {
	s := bullishSnapshot()
	s.Volume = 1300 // trip the 1.2x volume-spike confirmation rule
	history := []indicators.Snapshot{{Close: 99}}
	d := Generate(s, history, regime.ModeMR, LedgerView{FreeCash: 1000}, DefaultConfig(), sizing.DefaultConfig(), nil, 100, nil)
	if d.Kind != Buy {
		t.Fatalf("expected BUY, got %v (block=%q)", d.Kind, d.BlockReason)
	}
	if d.ProposedSizeFraction < sizing.DefaultConfig().SizeMin {
		t.Fatalf("expected size >= SizeMin, got %v", d.ProposedSizeFraction)
	}
	if d.ProposedStopLoss >= s.Close || d.ProposedTakeProfit <= s.Close {
		t.Fatalf("expected SL below and TP above entry, got SL=%v TP=%v", d.ProposedStopLoss, d.ProposedTakeProfit)
	}
}

func strongBullishSnapshot() (indicators.Snapshot, []indicators.Snapshot) {
	s := bullishSnapshot()
	s.Volume = 1300
	return s, []indicators.Snapshot{{Close: 99}}
}

func TestGenerateBlocksFallingKnife(t *testing.T) {
	s, history := strongBullishSnapshot()
	s.NDayLow = s.Close // close < NDayLow*(1+0.10) always true when they're equal
	d := Generate(s, history, regime.ModeMR, LedgerView{FreeCash: 1000}, DefaultConfig(), sizing.DefaultConfig(), nil, 100, nil)
	if d.Kind != Hold || d.BlockReason != "falling_knife" {
		t.Fatalf("expected HOLD/falling_knife, got %v/%q", d.Kind, d.BlockReason)
	}
}

func TestGenerateBlocksPositionLimit(t *testing.T) {
	s, history := strongBullishSnapshot()
	cfg := DefaultConfig()
	d := Generate(s, history, regime.ModeMR, LedgerView{FreeCash: 1000, OpenPositionCount: cfg.MaxPositions}, cfg, sizing.DefaultConfig(), nil, 100, nil)
	if d.Kind != Hold || d.BlockReason != "position_limit" {
		t.Fatalf("expected HOLD/position_limit, got %v/%q", d.Kind, d.BlockReason)
	}
}

func TestGenerateBlocksAlreadyHolding(t *testing.T) {
	s, history := strongBullishSnapshot()
	d := Generate(s, history, regime.ModeMR, LedgerView{FreeCash: 1000, AlreadyHolding: true}, DefaultConfig(), sizing.DefaultConfig(), nil, 100, nil)
	if d.Kind != Hold || d.BlockReason != "already_holding" {
		t.Fatalf("expected HOLD/already_holding, got %v/%q", d.Kind, d.BlockReason)
	}
}

type denyGate struct{ reason string }

func (g denyGate) AllowBuy() (bool, string) { return false, g.reason }

func TestGenerateBlocksOnRiskGate(t *testing.T) {
	s, history := strongBullishSnapshot()
	d := Generate(s, history, regime.ModeMR, LedgerView{FreeCash: 1000}, DefaultConfig(), sizing.DefaultConfig(), nil, 100, denyGate{reason: "daily drawdown"})
	if d.Kind != Hold || d.BlockReason != "daily drawdown" {
		t.Fatalf("expected HOLD blocked by risk gate, got %v/%q", d.Kind, d.BlockReason)
	}
}
