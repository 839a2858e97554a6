package binance

import (
	"fmt"
	"time"

	"hybrid-regime-engine/internal/candle"
)

// Side is the trade side passed to ExecuteOrder.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Fill is the result of a live order execution: the price and
// quantity actually filled, which the position manager and ledger
// treat as authoritative over the proposed decision.
type Fill struct {
	Price      float64
	Qty        float64
	Commission float64
}

// FetchClosedCandles returns the most recent limit closed candles for
// symbol at interval, converting the exchange's raw Kline rows into
// candle.Candle. The most recent element returned by the exchange is
// dropped whenever it straddles "now" (interval not yet closed); spec
// §4.8 requires the scheduler to act only on closed candles.
func FetchClosedCandles(c BinanceClient, symbol, interval string, limit int) (candle.Series, error) {
	klines, err := c.GetKlines(symbol, interval, limit+1)
	if err != nil {
		return nil, fmt.Errorf("exchange: fetch closed candles: %w", err)
	}
	if len(klines) == 0 {
		return nil, nil
	}

	last := klines[len(klines)-1]
	if time.Now().UnixMilli() < last.CloseTime {
		klines = klines[:len(klines)-1]
	}
	if len(klines) > limit {
		klines = klines[len(klines)-limit:]
	}

	out := make(candle.Series, len(klines))
	for i, k := range klines {
		out[i] = candle.Candle{
			OpenTime: time.UnixMilli(k.OpenTime),
			Open:     k.Open,
			High:     k.High,
			Low:      k.Low,
			Close:    k.Close,
			Volume:   k.Volume,
		}
	}
	return out, nil
}

// ExecuteOrder places a market order and returns its fill. qty is
// rounded by the caller (position.Manager) to the exchange's lot
// size before this is called.
func ExecuteOrder(c BinanceClient, symbol string, side Side, qty float64) (Fill, error) {
	params := map[string]string{
		"symbol":   symbol,
		"side":     string(side),
		"type":     "MARKET",
		"quantity": fmt.Sprintf("%.8f", qty),
	}

	resp, err := c.PlaceOrder(params)
	if err != nil {
		return Fill{}, fmt.Errorf("exchange: execute order: %w", err)
	}

	avgPrice := resp.Price
	if resp.ExecutedQty > 0 && resp.CummulativeQuoteQty > 0 {
		avgPrice = resp.CummulativeQuoteQty / resp.ExecutedQty
	}
	return Fill{Price: avgPrice, Qty: resp.ExecutedQty}, nil
}
