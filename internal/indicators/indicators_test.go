package indicators

import (
	"math"
	"testing"
	"time"

	"hybrid-regime-engine/internal/candle"
)

func mkSeries(closes []float64) candle.Series {
	out := make(candle.Series, len(closes))
	t := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, c := range closes {
		out[i] = candle.Candle{
			OpenTime: t.Add(time.Duration(i) * time.Hour),
			Open:     c,
			High:     c * 1.01,
			Low:      c * 0.99,
			Close:    c,
			Volume:   1000,
		}
	}
	return out
}

func approxEqual(a, b, eps float64) bool {
	return math.Abs(a-b) <= eps
}

func TestSMA(t *testing.T) {
	values := []float64{1, 2, 3, 4, 5}
	out := SMA(values, 3)
	if out[1] != 0 {
		t.Fatalf("expected undefined before window, got %v", out[1])
	}
	if !approxEqual(out[2], 2, 1e-9) {
		t.Fatalf("expected 2, got %v", out[2])
	}
	if !approxEqual(out[4], 4, 1e-9) {
		t.Fatalf("expected 4, got %v", out[4])
	}
}

func TestEMASeedsWithSMA(t *testing.T) {
	values := []float64{1, 2, 3, 4, 5, 6}
	out := EMA(values, 3)
	if !approxEqual(out[2], 2, 1e-9) {
		t.Fatalf("expected seed 2, got %v", out[2])
	}
	if out[5] <= out[2] {
		t.Fatalf("expected EMA to keep rising with rising input, got %v then %v", out[2], out[5])
	}
}

func TestRSIBounds(t *testing.T) {
	closes := make([]float64, 30)
	price := 100.0
	for i := range closes {
		price += 1
		closes[i] = price
	}
	out := RSI(closes, 14)
	if out[29] < 90 {
		t.Fatalf("expected RSI near 100 for a monotonic uptrend, got %v", out[29])
	}
}

func TestZScoreUndefinedBeforeWindow(t *testing.T) {
	closes := make([]float64, 40)
	for i := range closes {
		closes[i] = 100 + float64(i)
	}
	out := ZScore(closes, 50)
	for i, v := range out {
		if v != 0 {
			t.Fatalf("expected zscore undefined at index %d, got %v", i, v)
		}
	}
}

func TestRollingMinLow(t *testing.T) {
	lows := []float64{10, 9, 8, 12, 11}
	out := RollingMinLow(lows, 3)
	if out[4] != 8 {
		t.Fatalf("expected rolling min 8 over last 3, got %v", out[4])
	}
}

func TestCalculateDefinedOnlyAfterWarmup(t *testing.T) {
	closes := make([]float64, 60)
	for i := range closes {
		closes[i] = 100 + float64(i)*0.1
	}
	series := mkSeries(closes)
	snaps := Calculate(series, DefaultWindows(24))
	for i := 0; i < 49; i++ {
		if snaps[i].Defined {
			t.Fatalf("expected snapshot %d undefined (z-score needs 50 samples)", i)
		}
	}
	if !snaps[59].Defined {
		t.Fatalf("expected snapshot 59 defined")
	}
}

func TestBollingerBandsOrdering(t *testing.T) {
	closes := make([]float64, 25)
	for i := range closes {
		closes[i] = 100 + float64(i%3)
	}
	upper, mid, lower := BollingerBands(closes, 20, 2.0)
	for i := 19; i < 25; i++ {
		if !(lower[i] <= mid[i] && mid[i] <= upper[i]) {
			t.Fatalf("expected lower <= mid <= upper at %d, got %v %v %v", i, lower[i], mid[i], upper[i])
		}
	}
}

func TestADXNonNegative(t *testing.T) {
	closes := make([]float64, 40)
	highs := make([]float64, 40)
	lows := make([]float64, 40)
	price := 100.0
	for i := range closes {
		price += 0.5
		closes[i] = price
		highs[i] = price + 1
		lows[i] = price - 1
	}
	adx, plusDI, minusDI := ADX(highs, lows, closes, 14)
	for i := 28; i < 40; i++ {
		if adx[i] < 0 || plusDI[i] < 0 || minusDI[i] < 0 {
			t.Fatalf("expected non-negative ADX/DI at %d, got %v %v %v", i, adx[i], plusDI[i], minusDI[i])
		}
	}
}
