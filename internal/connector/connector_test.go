package connector

import (
	"encoding/json"
	"testing"

	"arbflow/config"
	"arbflow/models"
)

func TestPrecisionFromStep(t *testing.T) {
	cases := []struct {
		step string
		want int
	}{
		{"0.001", 3},
		{"0.1", 1},
		{"1", 0},
		{"0.010", 2},
		{"0.00000001", 8},
		{"", 0},
	}
	for _, c := range cases {
		if got := precisionFromStep(c.step); got != c.want {
			t.Errorf("precisionFromStep(%q) = %d, want %d", c.step, got, c.want)
		}
	}
}

func TestMinNotionalFromFilters(t *testing.T) {
	filters := []map[string]interface{}{
		{"filterType": "PRICE_FILTER", "tickSize": "0.01"},
		{"filterType": "NOTIONAL", "minNotional": "5.00"},
	}
	if got := minNotionalFromFilters(filters); got != 5 {
		t.Errorf("minNotional = %v, want 5", got)
	}

	legacy := []map[string]interface{}{
		{"filterType": "MIN_NOTIONAL", "minNotional": "10.0"},
	}
	if got := minNotionalFromFilters(legacy); got != 10 {
		t.Errorf("minNotional legacy = %v, want 10", got)
	}

	if got := minNotionalFromFilters(nil); got != 0 {
		t.Errorf("minNotional empty = %v, want 0", got)
	}
}

func TestBinanceTickerDecode(t *testing.T) {
	raw := `{"stream":"btcusdt@bookTicker","data":{"u":400900217,"s":"BTCUSDT","b":"50010.00","B":"31.21","a":"50011.50","A":"40.66"}}`
	var msg binanceTicker
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if msg.Data.Symbol != "BTCUSDT" {
		t.Errorf("symbol = %q", msg.Data.Symbol)
	}
	if parseFloat(msg.Data.Bid) != 50010.00 {
		t.Errorf("bid = %v", msg.Data.Bid)
	}
	if parseFloat(msg.Data.AskSize) != 40.66 {
		t.Errorf("ask size = %v", msg.Data.AskSize)
	}
}

func TestBybitBookDecode(t *testing.T) {
	raw := `{"topic":"orderbook.1.BTCUSDT","type":"delta","ts":1672304484978,"data":{"s":"BTCUSDT","b":[["50200.00","0.5"]],"a":[],"u":18521288,"seq":7961638724}}`
	var msg bybitBook
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if msg.Data.Symbol != "BTCUSDT" {
		t.Errorf("symbol = %q", msg.Data.Symbol)
	}
	if len(msg.Data.Bids) != 1 || parseFloat(msg.Data.Bids[0][0]) != 50200.00 {
		t.Errorf("bids = %v", msg.Data.Bids)
	}
	if len(msg.Data.Asks) != 0 {
		t.Errorf("asks = %v", msg.Data.Asks)
	}
}

func TestKucoinTickerDecode(t *testing.T) {
	raw := `{"type":"message","topic":"/market/ticker:BTC-USDT","subject":"trade.ticker","data":{"bestBid":"50009.5","bestBidSize":"0.21","bestAsk":"50010.1","bestAskSize":"0.17","time":1672304484978}}`
	var msg kucoinTicker
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if msg.Type != "message" {
		t.Errorf("type = %q", msg.Type)
	}
	if parseFloat(msg.Data.BestAsk) != 50010.1 {
		t.Errorf("best ask = %v", msg.Data.BestAsk)
	}
}

func TestForUnknownExchange(t *testing.T) {
	_, err := For(config.ExchangeConfig{ID: "hyperliquid"}, models.MarketSpot)
	if err == nil {
		t.Fatal("expected error for unknown exchange")
	}
}

func TestForKucoinFutures(t *testing.T) {
	_, err := For(config.ExchangeConfig{ID: "kucoin"}, models.MarketFutures)
	if err == nil {
		t.Fatal("expected error for unsupported market")
	}
}
