package detector

import (
	"context"
	"math"
	"testing"
	"time"

	"arbflow/config"
	"arbflow/models"
)

func triSymbols() map[string]models.Symbol {
	mk := func(base, quote, native string) models.Symbol {
		return models.Symbol{
			Base:  base,
			Quote: quote,
			PerVenue: map[string]models.SymbolMeta{
				"binance": {Exchange: "binance", Native: native, Base: base, Quote: quote, Market: models.MarketSpot},
			},
		}
	}
	return map[string]models.Symbol{
		"BTCUSDT": mk("BTC", "USDT", "BTCUSDT"),
		"ETHUSDT": mk("ETH", "USDT", "ETHUSDT"),
		"ETHBTC":  mk("ETH", "BTC", "ETHBTC"),
	}
}

func triConfig() config.TriangularConfig {
	return config.TriangularConfig{
		Enabled:            true,
		TickInterval:       100 * time.Millisecond,
		BaseCurrencies:     []string{"USDT"},
		MaxCycleLen:        4,
		MinProfitThreshold: 0.002,
		SlippageBuffer:     0,
		TradeAmount:        100,
	}
}

// putTriQuotes installs a USDT -> BTC -> ETH -> USDT cycle whose raw
// conversion product is 3030/(50000*0.060) = 1.01 before fees.
func putTriQuotes(view *fakeView) {
	view.put("binance", "BTCUSDT", models.MarketSpot, 49990, 50000)
	view.put("binance", "ETHBTC", models.MarketSpot, 0.0599, 0.060)
	view.put("binance", "ETHUSDT", models.MarketSpot, 3030, 3031)
}

func TestTriangularEmitsProfitableCycle(t *testing.T) {
	view := newFakeView(time.Now())
	putTriQuotes(view)

	d := NewTriangular(triConfig(), testFees(0.001, "binance"), triSymbols())
	opps := d.Evaluate(context.Background(), view)
	if len(opps) != 1 {
		t.Fatalf("opportunities = %d, want 1", len(opps))
	}

	opp := opps[0]
	if len(opp.Legs) != 3 {
		t.Fatalf("legs = %d, want 3", len(opp.Legs))
	}
	want := (3030.0/(50000.0*0.060))*math.Pow(1-0.001, 3) - 1
	if math.Abs(opp.ProfitRate-want) > 1e-9 {
		t.Errorf("profit rate = %v, want %v", opp.ProfitRate, want)
	}

	// every leg belongs to the venue the cycle was found on
	seen := make(map[string]models.Side)
	for _, leg := range opp.Legs {
		if leg.Exchange != "binance" {
			t.Errorf("leg on unexpected exchange %s", leg.Exchange)
		}
		seen[leg.Symbol] = leg.Side
	}
	if seen["BTCUSDT"] != models.SideBuy || seen["ETHBTC"] != models.SideBuy || seen["ETHUSDT"] != models.SideSell {
		t.Errorf("unexpected cycle sides: %v", seen)
	}
}

func TestTriangularFingerprintStable(t *testing.T) {
	view := newFakeView(time.Now())
	putTriQuotes(view)

	d := NewTriangular(triConfig(), testFees(0.001, "binance"), triSymbols())
	first := d.Evaluate(context.Background(), view)
	second := d.Evaluate(context.Background(), view)
	if len(first) != 1 || len(second) != 1 {
		t.Fatal("expected exactly one opportunity per evaluation")
	}
	if first[0].Fingerprint != second[0].Fingerprint {
		t.Errorf("fingerprints differ: %s vs %s", first[0].Fingerprint, second[0].Fingerprint)
	}
}

func TestTriangularBelowThresholdNotEmitted(t *testing.T) {
	view := newFakeView(time.Now())
	view.put("binance", "BTCUSDT", models.MarketSpot, 49990, 50000)
	view.put("binance", "ETHBTC", models.MarketSpot, 0.0599, 0.060)
	// product 3005/3000 = 1.00167, below fees plus threshold
	view.put("binance", "ETHUSDT", models.MarketSpot, 3005, 3006)

	d := NewTriangular(triConfig(), testFees(0.001, "binance"), triSymbols())
	if opps := d.Evaluate(context.Background(), view); len(opps) != 0 {
		t.Fatalf("opportunities = %d, want 0", len(opps))
	}
}

func TestTriangularSlippageBufferRaisesBar(t *testing.T) {
	view := newFakeView(time.Now())
	putTriQuotes(view)

	cfg := triConfig()
	cfg.SlippageBuffer = 0.01
	d := NewTriangular(cfg, testFees(0.001, "binance"), triSymbols())
	if opps := d.Evaluate(context.Background(), view); len(opps) != 0 {
		t.Fatalf("opportunities = %d, want 0 with slippage buffer", len(opps))
	}
}

func TestTriangularMissingQuoteBreaksCycle(t *testing.T) {
	view := newFakeView(time.Now())
	view.put("binance", "BTCUSDT", models.MarketSpot, 49990, 50000)
	view.put("binance", "ETHUSDT", models.MarketSpot, 3030, 3031)

	d := NewTriangular(triConfig(), testFees(0.001, "binance"), triSymbols())
	if opps := d.Evaluate(context.Background(), view); len(opps) != 0 {
		t.Fatalf("opportunities = %d, want 0 with a missing leg", len(opps))
	}
}
