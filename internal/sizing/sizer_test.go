package sizing

import "testing"

func TestBaseBySignalStrengthThresholds(t *testing.T) {
	cases := []struct {
		delta int
		want  float64
	}{
		{7, 0.70}, {8, 0.70}, {-8, 0.70},
		{5, 0.50}, {6, 0.50},
		{3, 0.35}, {4, 0.35},
		{0, 0.25}, {2, 0.25},
	}
	for _, c := range cases {
		if got := BaseBySignalStrength(c.delta); got != c.want {
			t.Fatalf("delta=%d: want %v, got %v", c.delta, c.want, got)
		}
	}
}

func TestRegimeMultiplierTF(t *testing.T) {
	if RegimeMultiplier(ModeTF, 40) != 1.3 {
		t.Fatalf("expected 1.3 for ADX>35")
	}
	if RegimeMultiplier(ModeTF, 20) != 1.0 {
		t.Fatalf("expected 1.0 for ADX below thresholds")
	}
}

func TestRegimeMultiplierMR(t *testing.T) {
	if RegimeMultiplier(ModeMR, 10) != 1.3 {
		t.Fatalf("expected 1.3 for ADX<15")
	}
	if RegimeMultiplier(ModeMR, 25) != 1.0 {
		t.Fatalf("expected 1.0 for ADX above thresholds")
	}
}

func TestKellyMultiplierNoOpBeforeMinTrades(t *testing.T) {
	trades := make([]ClosedTrade, 5)
	if m := KellyMultiplier(trades, 0.02); m != 1.0 {
		t.Fatalf("expected no-op multiplier before MinTradesForKelly, got %v", m)
	}
}

func TestKellyMultiplierClamped(t *testing.T) {
	trades := make([]ClosedTrade, MinTradesForKelly)
	for i := range trades {
		if i%2 == 0 {
			trades[i] = ClosedTrade{Won: true, ReturnPct: 0.10}
		} else {
			trades[i] = ClosedTrade{Won: false, ReturnPct: -0.02}
		}
	}
	m := KellyMultiplier(trades, 0.02)
	if m < 0.5 || m > 1.5 {
		t.Fatalf("expected multiplier clamped to [0.5, 1.5], got %v", m)
	}
}

func TestSizeClampedToConfigBounds(t *testing.T) {
	cfg := DefaultConfig()
	got := Size(cfg, Inputs{Delta: 8, ADX: 40, Mode: ModeTF})
	if got > cfg.SizeMax {
		t.Fatalf("expected size clamped to SizeMax, got %v", got)
	}
	got = Size(cfg, Inputs{Delta: 1, ADX: 10, Mode: ModeMR})
	if got < cfg.SizeMin {
		t.Fatalf("expected size clamped to SizeMin, got %v", got)
	}
}
