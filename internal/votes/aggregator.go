// Package votes maps an indicator snapshot to a bullish/bearish vote
// count and the human-readable reasons behind it. This is grounded on
// the upstream autopilot signal aggregator's collectTechnicalSignal
// pattern (accumulate a score, append a reason string per rule) but
// rebuilt against the textbook indicator math in internal/indicators
// rather than the upstream's ad hoc per-strategy scoring.
package votes

import "hybrid-regime-engine/internal/indicators"

// EMA200SlopeThreshold is the default negative-slope-over-5-candles
// cutoff that earns a bearish vote (spec §4.2: "e.g. -0.3% over 5
// candles").
const EMA200SlopeThreshold = -0.003

// Result is the VoteResult of spec §4.2.
type Result struct {
	Bullish int
	Bearish int
	Delta   int
	Reasons []string
}

// Top3 returns up to the first three reasons, the "highest
// information" ones in the order the rules ran.
func (r Result) Top3() []string {
	if len(r.Reasons) <= 3 {
		return r.Reasons
	}
	return r.Reasons[:3]
}

// Aggregate runs the seven independent rules of spec §4.2 against the
// current snapshot and the short window of snapshots preceding it
// (history, oldest first, not including current) used for the
// "within the last 3 candles" and "rising" rules. history may be nil
// or short; rules that need more context than is available simply
// don't fire.
func Aggregate(history []indicators.Snapshot, current indicators.Snapshot) Result {
	var r Result
	bull := func(reason string) {
		r.Bullish++
		r.Reasons = append(r.Reasons, reason)
	}
	bear := func(reason string) {
		r.Bearish++
		r.Reasons = append(r.Reasons, reason)
	}

	// 1. EMA cross and order.
	if current.EMAShort > current.EMALong {
		bull("ema_short_above_long")
	} else if crossedUpRecently(history, current, func(s indicators.Snapshot) (float64, float64) {
		return s.EMAShort, s.EMALong
	}) {
		bull("ema_cross_up_recent")
	} else if current.EMAShort < current.EMALong {
		bear("ema_short_below_long")
	}

	// 2. MACD: histogram positive and a recent bullish line/signal cross.
	if current.MACDHist > 0 {
		bull("macd_histogram_positive")
	} else if current.MACDHist < 0 {
		bear("macd_histogram_negative")
	}

	// 3. RSI: neutral-and-rising, or extremes.
	if current.RSI < 30 {
		bull("rsi_oversold")
	} else if current.RSI > 70 {
		bear("rsi_overbought")
	} else if current.RSI > 30 && current.RSI < 70 && risingRSI(history, current) {
		bull("rsi_neutral_rising")
	}

	// 4. Price relative to BB mid.
	if current.BBMid != 0 {
		if current.Close > current.BBMid {
			bull("close_above_bb_mid")
		} else if current.Close < current.BBMid {
			bear("close_below_bb_mid")
		}
	}

	// 5. Trend strength via ADX + DI.
	if current.ADX > 25 {
		if current.PlusDI > current.MinusDI {
			bull("adx_trend_bullish")
		} else if current.MinusDI > current.PlusDI {
			bear("adx_trend_bearish")
		}
	}

	// 6. Volume confirmation.
	if current.VolumeMean > 0 && current.Volume > 1.2*current.VolumeMean && risingClose(history, current) {
		bull("volume_confirmation")
	}

	// 7. EMA_very_long slope.
	if current.EMAVeryLongSlopePct > 0 {
		bull("ema200_slope_positive")
	} else if current.EMAVeryLongSlopePct < EMA200SlopeThreshold {
		bear("ema200_slope_negative")
	}

	r.Delta = r.Bullish - r.Bearish
	return r
}

func crossedUpRecently(history []indicators.Snapshot, current indicators.Snapshot, pair func(indicators.Snapshot) (float64, float64)) bool {
	window := lastN(history, 3)
	window = append(window, current)
	for i := 1; i < len(window); i++ {
		prevShort, prevLong := pair(window[i-1])
		curShort, curLong := pair(window[i])
		if prevShort <= prevLong && curShort > curLong {
			return true
		}
	}
	return false
}

func risingRSI(history []indicators.Snapshot, current indicators.Snapshot) bool {
	if len(history) == 0 {
		return false
	}
	return current.RSI > history[len(history)-1].RSI
}

func risingClose(history []indicators.Snapshot, current indicators.Snapshot) bool {
	if len(history) == 0 {
		return false
	}
	return current.Close > history[len(history)-1].Close
}

func lastN(history []indicators.Snapshot, n int) []indicators.Snapshot {
	if len(history) <= n {
		out := make([]indicators.Snapshot, len(history))
		copy(out, history)
		return out
	}
	out := make([]indicators.Snapshot, n)
	copy(out, history[len(history)-n:])
	return out
}
