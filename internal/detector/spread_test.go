package detector

import (
	"context"
	"math"
	"testing"
	"time"

	"arbflow/config"
	"arbflow/models"
)

func spreadConfig() config.SpreadConfig {
	return config.SpreadConfig{
		Enabled:       true,
		TickInterval:  100 * time.Millisecond,
		MinSpreadRate: 0.001,
		TradeAmount:   100,
	}
}

func TestSpreadEmitsAboveThreshold(t *testing.T) {
	view := newFakeView(time.Now())
	view.put("binance", "BTCUSDT", models.MarketSpot, 50000, 50010)
	view.put("bybit", "BTCUSDT", models.MarketSpot, 50200, 50210)

	d := NewSpread(spreadConfig(), testFees(0.001, "binance", "bybit"))
	opps := d.Evaluate(context.Background(), view)
	if len(opps) != 1 {
		t.Fatalf("opportunities = %d, want 1", len(opps))
	}

	opp := opps[0]
	want := (50200.0-50010.0)/50010.0 - 0.002
	if math.Abs(opp.ProfitRate-want) > 1e-9 {
		t.Errorf("profit rate = %v, want %v", opp.ProfitRate, want)
	}
	if math.Abs(opp.ProfitRate-0.0018) > 1e-4 {
		t.Errorf("profit rate = %v, want about 0.0018", opp.ProfitRate)
	}
	if len(opp.Legs) != 2 {
		t.Fatalf("legs = %d, want 2", len(opp.Legs))
	}
	if opp.Legs[0].Exchange != "binance" || opp.Legs[0].Side != models.SideBuy || opp.Legs[0].Price != 50010 {
		t.Errorf("buy leg = %+v", opp.Legs[0])
	}
	if opp.Legs[1].Exchange != "bybit" || opp.Legs[1].Side != models.SideSell || opp.Legs[1].Price != 50200 {
		t.Errorf("sell leg = %+v", opp.Legs[1])
	}
}

func TestSpreadBelowThresholdNotEmitted(t *testing.T) {
	view := newFakeView(time.Now())
	// gross spread 0.1%, wiped out by two 0.1% taker fees
	view.put("binance", "BTCUSDT", models.MarketSpot, 50000, 50010)
	view.put("bybit", "BTCUSDT", models.MarketSpot, 50060, 50070)

	d := NewSpread(spreadConfig(), testFees(0.001, "binance", "bybit"))
	if opps := d.Evaluate(context.Background(), view); len(opps) != 0 {
		t.Fatalf("opportunities = %d, want 0", len(opps))
	}
}

func TestSpreadIgnoresSingleVenue(t *testing.T) {
	view := newFakeView(time.Now())
	view.put("binance", "BTCUSDT", models.MarketSpot, 50000, 50010)

	d := NewSpread(spreadConfig(), testFees(0.001, "binance"))
	if opps := d.Evaluate(context.Background(), view); len(opps) != 0 {
		t.Fatalf("opportunities = %d, want 0", len(opps))
	}
}

func TestSpreadFingerprintStableAcrossEvaluations(t *testing.T) {
	view := newFakeView(time.Now())
	view.put("binance", "BTCUSDT", models.MarketSpot, 50000, 50010)
	view.put("bybit", "BTCUSDT", models.MarketSpot, 50200, 50210)

	d := NewSpread(spreadConfig(), testFees(0.001, "binance", "bybit"))
	first := d.Evaluate(context.Background(), view)
	second := d.Evaluate(context.Background(), view)
	if len(first) != 1 || len(second) != 1 {
		t.Fatal("expected one opportunity per evaluation")
	}
	if first[0].Fingerprint != second[0].Fingerprint {
		t.Errorf("fingerprints differ: %s vs %s", first[0].Fingerprint, second[0].Fingerprint)
	}
	if first[0].ID == second[0].ID {
		t.Error("opportunity IDs should be unique per sighting")
	}
}
