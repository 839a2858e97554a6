package votes

import (
	"testing"

	"hybrid-regime-engine/internal/indicators"
)

func TestAggregateAllBullish(t *testing.T) {
	current := indicators.Snapshot{
		Close:               105,
		Volume:              2000,
		EMAShort:            110,
		EMALong:             100,
		MACDHist:            1.5,
		RSI:                 25,
		BBMid:               100,
		ADX:                 30,
		PlusDI:              25,
		MinusDI:             10,
		VolumeMean:          1000,
		EMAVeryLongSlopePct: 0.01,
	}
	history := []indicators.Snapshot{{Close: 100}}
	result := Aggregate(history, current)
	if result.Bearish != 0 {
		t.Fatalf("expected no bearish votes, got %d: %v", result.Bearish, result.Reasons)
	}
	if result.Bullish < 5 {
		t.Fatalf("expected at least 5 bullish votes, got %d: %v", result.Bullish, result.Reasons)
	}
	if result.Delta != result.Bullish-result.Bearish {
		t.Fatalf("delta mismatch")
	}
}

func TestAggregateAllBearish(t *testing.T) {
	current := indicators.Snapshot{
		Close:               95,
		Volume:              500,
		EMAShort:            90,
		EMALong:             100,
		MACDHist:            -1.5,
		RSI:                 80,
		BBMid:               100,
		ADX:                 30,
		PlusDI:              10,
		MinusDI:             25,
		VolumeMean:          1000,
		EMAVeryLongSlopePct: -0.01,
	}
	result := Aggregate(nil, current)
	if result.Bullish != 0 {
		t.Fatalf("expected no bullish votes, got %d: %v", result.Bullish, result.Reasons)
	}
	if result.Bearish < 5 {
		t.Fatalf("expected at least 5 bearish votes, got %d: %v", result.Bearish, result.Reasons)
	}
}

func TestCrossedUpRecentlyCountsEMACross(t *testing.T) {
	history := []indicators.Snapshot{
		{EMAShort: 95, EMALong: 100},
		{EMAShort: 98, EMALong: 100},
	}
	current := indicators.Snapshot{EMAShort: 99.9, EMALong: 100, RSI: 50, ADX: 10}
	result := Aggregate(history, current)
	found := false
	for _, r := range result.Reasons {
		if r == "ema_cross_up_recent" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected ema_cross_up_recent reason, got %v", result.Reasons)
	}
}

func TestTop3Truncates(t *testing.T) {
	r := Result{Reasons: []string{"a", "b", "c", "d"}}
	if len(r.Top3()) != 3 {
		t.Fatalf("expected 3 reasons, got %d", len(r.Top3()))
	}
}
