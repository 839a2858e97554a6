package binance

import (
	"testing"
	"time"
)

type stubClient struct {
	klines []Kline
	order  OrderResponse
}

func (s *stubClient) GetKlines(symbol, interval string, limit int) ([]Kline, error) { return s.klines, nil }
func (s *stubClient) Get24hrTickers() ([]Ticker24hr, error)                         { return nil, nil }
func (s *stubClient) GetCurrentPrice(symbol string) (float64, error)                { return 0, nil }
func (s *stubClient) GetExchangeInfo() (*ExchangeInfo, error)                       { return nil, nil }
func (s *stubClient) GetAllSymbols() ([]string, error)                              { return nil, nil }
func (s *stubClient) PlaceOrder(params map[string]string) (*OrderResponse, error)   { return &s.order, nil }
func (s *stubClient) CancelOrder(symbol string, orderId int64) error                { return nil }
func (s *stubClient) GetAccountInfo() (*AccountInfo, error)                         { return nil, nil }

func TestFetchClosedCandlesDropsUnclosedLastCandle(t *testing.T) {
	now := time.Now()
	stub := &stubClient{klines: []Kline{
		{OpenTime: now.Add(-2 * time.Hour).UnixMilli(), CloseTime: now.Add(-time.Hour).UnixMilli(), Close: 100},
		{OpenTime: now.Add(-time.Hour).UnixMilli(), CloseTime: now.Add(time.Hour).UnixMilli(), Close: 101},
	}}

	series, err := FetchClosedCandles(stub, "BTCUSDT", "1h", 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(series) != 1 {
		t.Fatalf("expected the unclosed trailing candle dropped, got %d candles", len(series))
	}
	if series[0].Close != 100 {
		t.Fatalf("expected the closed candle to survive, got close=%v", series[0].Close)
	}
}

func TestExecuteOrderComputesAveragePrice(t *testing.T) {
	stub := &stubClient{order: OrderResponse{ExecutedQty: 2, CummulativeQuoteQty: 200, Price: 0}}
	fill, err := ExecuteOrder(stub, "BTCUSDT", SideBuy, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fill.Price != 100 {
		t.Fatalf("expected average price 100, got %v", fill.Price)
	}
}
