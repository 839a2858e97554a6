// Package indicators computes the derived series the vote aggregator,
// regime selector, and signal generator read from a candle series.
//
// Every exported Calculate* function is a pure function over a slice:
// no package-level state, no I/O. This mirrors the upstream
// binance-trading-bot's internal/strategy/indicators.go calling
// convention (one function per indicator, operating on a candle
// series or a []float64), but the math here is the textbook
// Wilder-smoothed form the spec requires rather than the upstream's
// shortcuts (a crude MACD signal-line approximation, a non-standard
// ADX formula, and a simplified RSI).
package indicators

import (
	"math"
	"time"

	"hybrid-regime-engine/internal/candle"
)

// Windows holds the fixed window lengths the pipeline uses. These are
// not user-configurable; they are the definitions in spec §4.1.
type Windows struct {
	EMAShort    int
	EMALong     int
	EMAVeryLong int
	RSI         int
	MACDSignal  int
	ADX         int
	ATR         int
	BB          int
	ZScore      int
	VolumeMean  int
	NDayLow     int
}

// DefaultWindows returns the window lengths spec §4.1 names, with the
// N-day-low window derived from the candle interval by the caller
// (see candle.NDayLowWindow).
func DefaultWindows(nDayLow int) Windows {
	return Windows{
		EMAShort:    12,
		EMALong:     26,
		EMAVeryLong: 200,
		RSI:         14,
		MACDSignal:  9,
		ADX:         14,
		ATR:         14,
		BB:          20,
		ZScore:      50,
		VolumeMean:  20,
		NDayLow:     nDayLow,
	}
}

// Snapshot is the IndicatorSnapshot of spec §3: all derived series
// sampled at one candle. Defined is false until the series has at
// least max(window_length) samples; consumers must treat an
// undefined snapshot as HOLD (spec §4.1, §8).
type Snapshot struct {
	Time   time.Time
	Close  float64
	Volume float64

	EMAShort    float64
	EMALong     float64
	EMAVeryLong float64
	// EMAVeryLongSlopePct is the EMA200 percentage move over the last
	// 5 candles: (EMA200[i]-EMA200[i-5])/EMA200[i-5].
	EMAVeryLongSlopePct float64

	RSI float64

	MACDLine   float64
	MACDSignal float64
	MACDHist   float64

	ADX     float64
	PlusDI  float64
	MinusDI float64

	ATR        float64
	ATRPercent float64

	BBUpper float64
	BBMid   float64
	BBLower float64

	ZScore float64

	VolumeMean float64
	NDayLow    float64

	Defined bool
}

// Calculate runs the full pipeline over series and returns one
// Snapshot per candle, index-aligned with series.
func Calculate(series candle.Series, w Windows) []Snapshot {
	n := len(series)
	out := make([]Snapshot, n)
	if n == 0 {
		return out
	}

	closes := series.Closes()
	highs := make([]float64, n)
	lows := make([]float64, n)
	volumes := make([]float64, n)
	for i, c := range series {
		highs[i] = c.High
		lows[i] = c.Low
		volumes[i] = c.Volume
	}

	emaShort := EMA(closes, w.EMAShort)
	emaLong := EMA(closes, w.EMALong)
	emaVeryLong := EMA(closes, w.EMAVeryLong)
	rsi := RSI(closes, w.RSI)
	macdLine, macdSignal, macdHist := MACD(closes, w.EMAShort, w.EMALong, w.MACDSignal)
	adx, plusDI, minusDI := ADX(highs, lows, closes, w.ADX)
	atr := ATR(highs, lows, closes, w.ATR)
	bbUpper, bbMid, bbLower := BollingerBands(closes, w.BB, 2.0)
	zscore := ZScore(closes, w.ZScore)
	volMean := SMA(volumes, w.VolumeMean)
	ndayLow := RollingMinLow(lows, w.NDayLow)

	// warmup index: the snapshot is only Defined once every series
	// used has produced a real (non-zero-seed) value. ZScore has the
	// longest window in the canonical configuration but we compute
	// the true max defensively in case config overrides invert that.
	warmup := maxInt(w.EMAVeryLong, w.ZScore, w.ADX, w.BB, w.VolumeMean, w.NDayLow, w.RSI, w.EMALong+w.MACDSignal) - 1

	for i := 0; i < n; i++ {
		s := Snapshot{
			Time:        series[i].OpenTime,
			Close:       series[i].Close,
			Volume:      series[i].Volume,
			EMAShort:    emaShort[i],
			EMALong:     emaLong[i],
			EMAVeryLong: emaVeryLong[i],
			RSI:         rsi[i],
			MACDLine:    macdLine[i],
			MACDSignal:  macdSignal[i],
			MACDHist:    macdHist[i],
			ADX:         adx[i],
			PlusDI:      plusDI[i],
			MinusDI:     minusDI[i],
			ATR:         atr[i],
			BBUpper:     bbUpper[i],
			BBMid:       bbMid[i],
			BBLower:     bbLower[i],
			ZScore:      zscore[i],
			VolumeMean:  volMean[i],
			NDayLow:     ndayLow[i],
		}
		if series[i].Close != 0 {
			s.ATRPercent = atr[i] / series[i].Close
		}
		if i-5 >= 0 && emaVeryLong[i-5] != 0 {
			s.EMAVeryLongSlopePct = (emaVeryLong[i] - emaVeryLong[i-5]) / emaVeryLong[i-5]
		}
		s.Defined = i >= warmup && warmup >= 0
		out[i] = s
	}
	return out
}

// SMA is the simple moving average; entries before period-1 samples
// are 0 (undefined).
func SMA(values []float64, period int) []float64 {
	out := make([]float64, len(values))
	if period <= 0 {
		return out
	}
	var sum float64
	for i, v := range values {
		sum += v
		if i >= period {
			sum -= values[i-period]
		}
		if i >= period-1 {
			out[i] = sum / float64(period)
		}
	}
	return out
}

// StdDev is the population standard deviation over a trailing window,
// 0 before period-1 samples.
func StdDev(values []float64, period int) []float64 {
	out := make([]float64, len(values))
	means := SMA(values, period)
	for i := range values {
		if i < period-1 {
			continue
		}
		var sumSq float64
		m := means[i]
		for j := i - period + 1; j <= i; j++ {
			d := values[j] - m
			sumSq += d * d
		}
		out[i] = math.Sqrt(sumSq / float64(period))
	}
	return out
}

// EMA is the exponential moving average, seeded with the SMA of the
// first `period` samples (the conventional seeding the upstream
// indicator set also uses).
func EMA(values []float64, period int) []float64 {
	out := make([]float64, len(values))
	if period <= 0 || len(values) == 0 {
		return out
	}
	mult := 2.0 / float64(period+1)
	var seeded bool
	var prev float64
	var sum float64
	for i, v := range values {
		if !seeded {
			sum += v
			if i == period-1 {
				prev = sum / float64(period)
				out[i] = prev
				seeded = true
			}
			continue
		}
		prev = (v-prev)*mult + prev
		out[i] = prev
	}
	return out
}

// wilderSmooth applies Wilder's smoothing (used by RSI, ADX, ATR):
// seed = mean of first `period` samples, then
// next = prev - prev/period + value/period.
func wilderSmooth(values []float64, period int) []float64 {
	out := make([]float64, len(values))
	if period <= 0 || len(values) == 0 {
		return out
	}
	var sum float64
	var seeded bool
	var prev float64
	for i, v := range values {
		if !seeded {
			sum += v
			if i == period-1 {
				prev = sum / float64(period)
				out[i] = prev
				seeded = true
			}
			continue
		}
		prev = prev - prev/float64(period) + v/float64(period)
		out[i] = prev
	}
	return out
}

// RSI is the Wilder Relative Strength Index.
func RSI(closes []float64, period int) []float64 {
	out := make([]float64, len(closes))
	if len(closes) < 2 {
		return out
	}
	gains := make([]float64, len(closes))
	losses := make([]float64, len(closes))
	for i := 1; i < len(closes); i++ {
		delta := closes[i] - closes[i-1]
		if delta > 0 {
			gains[i] = delta
		} else {
			losses[i] = -delta
		}
	}
	avgGain := wilderSmooth(gains, period)
	avgLoss := wilderSmooth(losses, period)
	for i := period; i < len(closes); i++ {
		if avgLoss[i] == 0 {
			out[i] = 100
			continue
		}
		rs := avgGain[i] / avgLoss[i]
		out[i] = 100 - (100 / (1 + rs))
	}
	return out
}

// MACD returns the MACD line (EMA(fast) - EMA(slow)), its signal line
// (an EMA of the line over `signalPeriod`), and the histogram
// (line - signal). The signal line is seeded only once the line
// itself is defined, so it lags the line's own warmup by one EMA
// seed window.
func MACD(closes []float64, fast, slow, signalPeriod int) (line, signal, hist []float64) {
	n := len(closes)
	emaFast := EMA(closes, fast)
	emaSlow := EMA(closes, slow)
	line = make([]float64, n)
	for i := 0; i < n; i++ {
		if i >= slow-1 {
			line[i] = emaFast[i] - emaSlow[i]
		}
	}
	// EMA() over the full line works because leading zeros before
	// slow-1 don't corrupt the seed: the signal's own seed window
	// starts at slow-1+signalPeriod-1, by which point line holds real
	// values for every sample in its seed window.
	lineForSignal := make([]float64, n)
	copy(lineForSignal, line)
	if slow-1 < n {
		signalRaw := ema(lineForSignal[slow-1:], signalPeriod)
		signal = make([]float64, n)
		copy(signal[slow-1:], signalRaw)
	} else {
		signal = make([]float64, n)
	}
	hist = make([]float64, n)
	for i := 0; i < n; i++ {
		if signal[i] != 0 || i >= slow-1+signalPeriod-1 {
			hist[i] = line[i] - signal[i]
		}
	}
	return line, signal, hist
}

// ema is an unexported alias used internally where the caller has
// already sliced the input to its meaningful range.
func ema(values []float64, period int) []float64 {
	return EMA(values, period)
}

// ATR is the Wilder Average True Range.
func ATR(highs, lows, closes []float64, period int) []float64 {
	n := len(closes)
	trueRange := make([]float64, n)
	for i := 0; i < n; i++ {
		if i == 0 {
			trueRange[i] = highs[i] - lows[i]
			continue
		}
		hl := highs[i] - lows[i]
		hc := math.Abs(highs[i] - closes[i-1])
		lc := math.Abs(lows[i] - closes[i-1])
		trueRange[i] = math.Max(hl, math.Max(hc, lc))
	}
	return wilderSmooth(trueRange, period)
}

// ADX returns the Wilder ADX together with +DI and -DI.
func ADX(highs, lows, closes []float64, period int) (adx, plusDI, minusDI []float64) {
	n := len(closes)
	adx = make([]float64, n)
	plusDI = make([]float64, n)
	minusDI = make([]float64, n)
	if n < 2 {
		return
	}

	plusDM := make([]float64, n)
	minusDM := make([]float64, n)
	trueRange := make([]float64, n)
	for i := 1; i < n; i++ {
		upMove := highs[i] - highs[i-1]
		downMove := lows[i-1] - lows[i]
		if upMove > downMove && upMove > 0 {
			plusDM[i] = upMove
		}
		if downMove > upMove && downMove > 0 {
			minusDM[i] = downMove
		}
		hl := highs[i] - lows[i]
		hc := math.Abs(highs[i] - closes[i-1])
		lc := math.Abs(lows[i] - closes[i-1])
		trueRange[i] = math.Max(hl, math.Max(hc, lc))
	}

	smoothTR := wilderSmooth(trueRange, period)
	smoothPlusDM := wilderSmooth(plusDM, period)
	smoothMinusDM := wilderSmooth(minusDM, period)

	dx := make([]float64, n)
	for i := 0; i < n; i++ {
		if smoothTR[i] == 0 {
			continue
		}
		plusDI[i] = 100 * smoothPlusDM[i] / smoothTR[i]
		minusDI[i] = 100 * smoothMinusDM[i] / smoothTR[i]
		diSum := plusDI[i] + minusDI[i]
		if diSum == 0 {
			continue
		}
		dx[i] = 100 * math.Abs(plusDI[i]-minusDI[i]) / diSum
	}

	// ADX is Wilder-smoothed DX, seeded as the simple mean of the
	// first `period` defined DX values (i.e. starting at the index
	// where DI itself first becomes defined).
	diStart := period // smoothing seeds produce their first real value at index == period
	if diStart >= n {
		return
	}
	adxSeedSeries := dx[diStart:]
	smoothedFromSeed := wilderSmooth(adxSeedSeries, period)
	copy(adx[diStart:], smoothedFromSeed)
	return
}

// BollingerBands returns the upper, mid (SMA), and lower bands.
func BollingerBands(closes []float64, period int, k float64) (upper, mid, lower []float64) {
	mid = SMA(closes, period)
	std := StdDev(closes, period)
	upper = make([]float64, len(closes))
	lower = make([]float64, len(closes))
	for i := range closes {
		if mid[i] == 0 && i < period-1 {
			continue
		}
		upper[i] = mid[i] + k*std[i]
		lower[i] = mid[i] - k*std[i]
	}
	return
}

// ZScore is the standardized distance of close from its rolling mean:
// (close - SMA(period)) / StdDev(period). Undefined (0) before
// `period` samples.
func ZScore(closes []float64, period int) []float64 {
	out := make([]float64, len(closes))
	mean := SMA(closes, period)
	std := StdDev(closes, period)
	for i := range closes {
		if i < period-1 || std[i] == 0 {
			continue
		}
		out[i] = (closes[i] - mean[i]) / std[i]
	}
	return out
}

// RollingMinLow is the rolling minimum of `lows` over the trailing
// `window` candles (inclusive of the current candle).
func RollingMinLow(lows []float64, window int) []float64 {
	out := make([]float64, len(lows))
	if window <= 0 {
		return out
	}
	for i := range lows {
		start := i - window + 1
		if start < 0 {
			start = 0
		}
		m := lows[start]
		for j := start + 1; j <= i; j++ {
			if lows[j] < m {
				m = lows[j]
			}
		}
		out[i] = m
	}
	return out
}

func maxInt(values ...int) int {
	m := values[0]
	for _, v := range values[1:] {
		if v > m {
			m = v
		}
	}
	return m
}
