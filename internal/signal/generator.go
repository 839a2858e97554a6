// Package signal implements the signal generator of spec §4.4: it
// combines the vote aggregator, the regime selector, and a set of
// regime-specific entry filters into a BUY/SELL/HOLD decision with a
// proposed size and exit template. Grounded on the teacher's
// strategy.go decision-assembly shape (accumulate reasons, return one
// decision struct) generalized to the spec's filter chain and exit
// templates rather than the teacher's single-strategy scoring.
package signal

import (
	"hybrid-regime-engine/internal/indicators"
	"hybrid-regime-engine/internal/regime"
	"hybrid-regime-engine/internal/sizing"
	"hybrid-regime-engine/internal/votes"
)

// Kind is the decision's action.
type Kind string

const (
	Buy  Kind = "BUY"
	Sell Kind = "SELL"
	Hold Kind = "HOLD"
)

// Config holds the named options spec §6 assigns to the signal
// generator and its filters.
type Config struct {
	MinVotesForBuy             int
	MinVotesForSell            int
	TransitionMinVotesForBuy   int
	NoBuyBelowPct              float64
	VolumeSpikeMult            float64
	EMA200NegSlopeThreshold    float64
	MaxPositions               int

	MRRSIOversold float64
	MRZScoreBuy   float64
	MRADXMax      float64

	MRStopLossPct  float64
	MRATRSLMult    float64
	MRATRTPMult    float64
	MRTakeProfitPct float64

	TFStopLossPct         float64
	TFTakeProfitPct       float64
	PartialTPTriggerPct   float64
	PartialTPRemainingTP  float64

	ADXHigh float64
}

// DefaultConfig mirrors the defaults spec §4.4/§4.5 name.
func DefaultConfig() Config {
	return Config{
		MinVotesForBuy:           5,
		MinVotesForSell:          5,
		TransitionMinVotesForBuy: 5,
		NoBuyBelowPct:            0.10,
		VolumeSpikeMult:          3.0,
		EMA200NegSlopeThreshold:  -0.003,
		MaxPositions:             3,

		MRRSIOversold: 40,
		MRZScoreBuy:   -1.8,
		MRADXMax:      35,

		MRStopLossPct:   0.03,
		MRATRSLMult:     1.5,
		MRATRTPMult:     2.0,
		MRTakeProfitPct: 0.05,

		TFStopLossPct:        0.05,
		TFTakeProfitPct:      0.10,
		PartialTPTriggerPct:  0.015,
		PartialTPRemainingTP: 0.03,

		ADXHigh: 24,
	}
}

// Decision is the SignalDecision of spec §4.4.
type Decision struct {
	Kind                 Kind
	ProposedSizeFraction float64
	ProposedStopLoss     float64
	ProposedTakeProfit   float64
	EntryMode            regime.Mode
	// Delta is the vote aggregator's bullish-minus-bearish count that
	// produced this decision; the position manager's pyramid-up sizing
	// scales by it (spec §4.6 step 8).
	Delta       int
	Reasons     []string
	BlockReason string
}

// LedgerView is the minimal read the generator needs from the
// portfolio ledger: whether this symbol already has an open position,
// how many positions are open across the whole portfolio, and the
// free cash available.
type LedgerView struct {
	AlreadyHolding    bool
	OpenPositionCount int
	FreeCash          float64
}

// RiskGate is satisfied by riskguard.Guard; kept as an interface here
// so the signal package does not import riskguard directly (the
// dependency runs the other way conceptually: a "should we trade at
// all today" gate wrapping a "what should this symbol do" decision).
type RiskGate interface {
	AllowBuy() (bool, string)
}

// Generate implements spec §4.4's algorithm end to end.
func Generate(snapshot indicators.Snapshot, history []indicators.Snapshot, mode regime.Mode, ledger LedgerView, cfg Config, sizingCfg sizing.Config, closedTrades []sizing.ClosedTrade, requiredNotional float64, gate RiskGate) Decision {
	if !snapshot.Defined {
		return Decision{Kind: Hold, BlockReason: "indicators_undefined"}
	}

	vr := votes.Aggregate(history, snapshot)

	var kind Kind
	threshold := cfg.MinVotesForBuy
	if mode == regime.ModeTransition {
		threshold = cfg.TransitionMinVotesForBuy
	}
	switch {
	case vr.Delta >= threshold:
		kind = Buy
	case vr.Delta <= -cfg.MinVotesForSell:
		kind = Sell
	default:
		kind = Hold
	}

	if kind != Buy {
		return Decision{Kind: kind, EntryMode: mode, Delta: vr.Delta, Reasons: vr.Top3()}
	}

	entryMode := mode
	if mode == regime.ModeTransition {
		entryMode = regime.ModeTF
	}

	if blockReason := checkCommonFilters(snapshot, ledger, cfg, requiredNotional); blockReason != "" {
		return blocked(mode, vr, blockReason)
	}

	if gate != nil {
		if ok, reason := gate.AllowBuy(); !ok {
			return blocked(mode, vr, reason)
		}
	}

	switch entryMode {
	case regime.ModeMR:
		if !(snapshot.RSI < cfg.MRRSIOversold && snapshot.ZScore < cfg.MRZScoreBuy && snapshot.ADX < cfg.MRADXMax) {
			return blocked(mode, vr, "mr_filters_failed")
		}
	case regime.ModeTF:
		if !(snapshot.ADX > cfg.ADXHigh && snapshot.EMAShort > snapshot.EMALong && snapshot.MACDLine > 0) {
			return blocked(mode, vr, "tf_filters_failed")
		}
	}

	stopLoss, takeProfit := exitTemplate(snapshot, entryMode, cfg)

	kellyMode := sizing.ModeMR
	if entryMode == regime.ModeTF {
		kellyMode = sizing.ModeTF
	}
	sizeFraction := sizing.Size(sizingCfg, sizing.Inputs{
		Delta:        vr.Delta,
		ADX:          snapshot.ADX,
		Mode:         kellyMode,
		ATRPercent:   snapshot.ATRPercent,
		ClosedTrades: closedTrades,
	})

	return Decision{
		Kind:                 Buy,
		ProposedSizeFraction: sizeFraction,
		ProposedStopLoss:     stopLoss,
		ProposedTakeProfit:   takeProfit,
		EntryMode:            entryMode,
		Delta:                vr.Delta,
		Reasons:              vr.Top3(),
	}
}

func blocked(mode regime.Mode, vr votes.Result, reason string) Decision {
	return Decision{Kind: Hold, EntryMode: mode, Delta: vr.Delta, Reasons: vr.Top3(), BlockReason: reason}
}

// checkCommonFilters implements spec §4.4 step 3's "Common" filters
// that apply regardless of regime. Filter order matches the spec's
// listing so the first failing one determines block_reason.
func checkCommonFilters(s indicators.Snapshot, ledger LedgerView, cfg Config, requiredNotional float64) string {
	if s.NDayLow > 0 && s.Close < s.NDayLow*(1+cfg.NoBuyBelowPct) {
		return "falling_knife"
	}
	if s.VolumeMean > 0 && s.Volume > cfg.VolumeSpikeMult*s.VolumeMean {
		return "volume_spike"
	}
	if s.EMAVeryLongSlopePct < cfg.EMA200NegSlopeThreshold {
		return "ema200_downtrend"
	}
	if ledger.OpenPositionCount >= cfg.MaxPositions {
		return "position_limit"
	}
	if ledger.FreeCash < requiredNotional {
		return "insufficient_cash"
	}
	if ledger.AlreadyHolding {
		return "already_holding"
	}
	return ""
}

// exitTemplate implements spec §4.4 step 4.
// ExitTemplate computes the stop-loss/take-profit pair a BUY decision
// would carry for the given mode. Exported so a forced manual entry
// (chat `force_buy`) can carry the same exit template a normal signal
// would have produced, without re-running the vote gate.
func ExitTemplate(s indicators.Snapshot, mode regime.Mode, cfg Config) (stopLoss, takeProfit float64) {
	return exitTemplate(s, mode, cfg)
}

func exitTemplate(s indicators.Snapshot, mode regime.Mode, cfg Config) (stopLoss, takeProfit float64) {
	entry := s.Close
	if mode == regime.ModeMR {
		slPct := cfg.MRStopLossPct
		if atrSL := s.ATRPercent * cfg.MRATRSLMult; atrSL > slPct {
			slPct = atrSL
		}
		stopLoss = entry * (1 - slPct)

		tpPct := cfg.MRTakeProfitPct
		if atrTP := s.ATRPercent * cfg.MRATRTPMult; atrTP > tpPct {
			tpPct = atrTP
		}
		takeProfit = entry * (1 + tpPct)
		return
	}
	stopLoss = entry * (1 - cfg.TFStopLossPct)
	takeProfit = entry * (1 + cfg.TFTakeProfitPct)
	return
}
