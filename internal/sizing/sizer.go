// Package sizing implements the adaptive position sizer of spec
// §4.5: base size by vote strength, a regime multiplier, and an
// optional Kelly-fraction multiplier computed from a rolling window
// of closed trades. This replaces the teacher's risk.RiskManager,
// which shaped the same "base -> multiplier -> clamp" pipeline but
// used hardcoded Kelly inputs (win_rate=0.55, avg_win=1.5,
// avg_loss=1.0) rather than real trade statistics; that shortcut is
// exactly what spec §4.5 requires fixing.
package sizing

import "math"

// MinTradesForKelly is the minimum closed-trade count before the
// Kelly multiplier engages (spec §4.5 default 10).
const MinTradesForKelly = 10

// KellyLookbackWindow is how many of the most recent closed trades
// feed the Kelly statistics (spec §4.5 default 50).
const KellyLookbackWindow = 50

// KellyFraction scales raw Kelly down for safety (spec §4.5 default
// 0.25, i.e. quarter-Kelly).
const KellyFraction = 0.25

// Config holds the tunables spec §6 exposes for the sizer.
type Config struct {
	SizeMin  float64
	SizeMax  float64
	UseKelly bool
}

// DefaultConfig mirrors the spec's stated bounds.
func DefaultConfig() Config {
	return Config{SizeMin: 0.20, SizeMax: 0.70, UseKelly: true}
}

// ClosedTrade is the minimal shape the Kelly statistic needs from a
// TradeRecord: whether it was a win, and its return as a fraction of
// the notional risked.
type ClosedTrade struct {
	Won          bool
	ReturnPct    float64 // positive for wins, negative for losses, magnitude only used per side
}

// BaseBySignalStrength implements spec §4.5 step 1.
func BaseBySignalStrength(delta int) float64 {
	abs := delta
	if abs < 0 {
		abs = -abs
	}
	switch {
	case abs >= 7:
		return 0.70
	case abs >= 5:
		return 0.50
	case abs >= 3:
		return 0.35
	default:
		return 0.25
	}
}

// Mode names the two regimes the multiplier table distinguishes; the
// sizer only runs for BUY decisions, which are only emitted in MR, TF,
// or TRANSITION-evaluated-as-TF (spec §4.4 step 3).
type Mode string

const (
	ModeMR Mode = "MR"
	ModeTF Mode = "TF"
)

// RegimeMultiplier implements spec §4.5 step 2.
func RegimeMultiplier(mode Mode, adx float64) float64 {
	switch mode {
	case ModeTF:
		switch {
		case adx > 35:
			return 1.3
		case adx > 30:
			return 1.2
		case adx > 26:
			return 1.1
		default:
			return 1.0
		}
	case ModeMR:
		switch {
		case adx < 15:
			return 1.3
		case adx < 18:
			return 1.2
		case adx < 20:
			return 1.1
		default:
			return 1.0
		}
	default:
		return 1.0
	}
}

// KellyMultiplier implements spec §4.5 step 3. trades is expected to
// already be limited to the most recent KellyLookbackWindow closed
// trades (the ledger query enforces this — see ledger.GetClosedTrades).
// Returns 1.0 (a no-op multiplier) until enough history exists.
func KellyMultiplier(trades []ClosedTrade, atrPercent float64) float64 {
	if len(trades) < MinTradesForKelly {
		return 1.0
	}

	var wins, losses int
	var winSum, lossSum float64
	for _, tr := range trades {
		if tr.Won {
			wins++
			winSum += tr.ReturnPct
		} else {
			losses++
			lossSum += -tr.ReturnPct
		}
	}
	if wins == 0 || losses == 0 {
		return 1.0
	}

	p := float64(wins) / float64(len(trades))
	avgWin := winSum / float64(wins)
	avgLoss := lossSum / float64(losses)
	if avgWin <= 0 {
		return 1.0
	}

	kellyRaw := (p*avgWin - (1-p)*avgLoss) / avgWin
	kelly := math.Max(0, kellyRaw) * KellyFraction
	kelly /= 1 + atrPercent/2

	return clamp(kelly, 0.5, 1.5)
}

// Inputs bundles what Size needs to compute a final fraction.
type Inputs struct {
	Delta      int
	ADX        float64
	Mode       Mode
	ATRPercent float64
	// ClosedTrades is the caller-supplied window (already truncated to
	// KellyLookbackWindow) for the Kelly multiplier. Ignored if the
	// sizer's config has UseKelly=false.
	ClosedTrades []ClosedTrade
}

// Size computes the final fraction of free cash to invest, per spec
// §4.5 step 4.
func Size(cfg Config, in Inputs) float64 {
	base := BaseBySignalStrength(in.Delta)
	regimeMult := RegimeMultiplier(in.Mode, in.ADX)
	kellyMult := 1.0
	if cfg.UseKelly {
		kellyMult = KellyMultiplier(in.ClosedTrades, in.ATRPercent)
	}
	return clamp(base*regimeMult*kellyMult, cfg.SizeMin, cfg.SizeMax)
}

func clamp(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
