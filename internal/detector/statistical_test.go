package detector

import (
	"context"
	"math"
	"testing"
	"time"

	"arbflow/config"
	"arbflow/models"
)

func statConfig(window int) config.StatisticalConfig {
	return config.StatisticalConfig{
		Enabled:              true,
		TickInterval:         100 * time.Millisecond,
		Pairs:                []config.StatisticalPair{{First: "ETHUSDT", Second: "SOLUSDT"}},
		WindowSize:           window,
		ZScoreThreshold:      2.0,
		CorrelationThreshold: 0.8,
		TradeAmount:          100,
	}
}

// feed pushes one observation per evaluation, mids are (bid+ask)/2.
func feed(d *Statistical, view *fakeView, first, second float64) []models.Opportunity {
	view.put("binance", "ETHUSDT", models.MarketSpot, first-0.5, first+0.5)
	view.put("binance", "SOLUSDT", models.MarketSpot, second-0.5, second+0.5)
	return d.Evaluate(context.Background(), view)
}

func TestStatisticalEmitsOnDivergence(t *testing.T) {
	view := newFakeView(time.Now())
	d := NewStatistical(statConfig(20), testFees(0.001, "binance"))

	// correlated walk with a constant 2:1 ratio
	for i := 0; i < 19; i++ {
		second := 50.0 + float64(i)*0.1
		if opps := feed(d, view, 2*second, second); len(opps) != 0 {
			t.Fatalf("observation %d: unexpected opportunity before window is full", i)
		}
	}

	// the final observation breaks the ratio upward
	second := 50.0 + 19*0.1
	opps := feed(d, view, 2*second*1.02, second)
	if len(opps) != 1 {
		t.Fatalf("opportunities = %d, want 1", len(opps))
	}

	opp := opps[0]
	if opp.Kind != models.KindStatistical {
		t.Errorf("kind = %s", opp.Kind)
	}
	if len(opp.Legs) != 2 {
		t.Fatalf("legs = %d, want 2", len(opp.Legs))
	}
	// first leg is rich, so it is sold
	if opp.Legs[0].Symbol != "ETHUSDT" || opp.Legs[0].Side != models.SideSell {
		t.Errorf("first leg = %+v", opp.Legs[0])
	}
	if opp.Legs[1].Symbol != "SOLUSDT" || opp.Legs[1].Side != models.SideBuy {
		t.Errorf("second leg = %+v", opp.Legs[1])
	}
}

func TestStatisticalCorrelationGateBlocksEntry(t *testing.T) {
	view := newFakeView(time.Now())
	d := NewStatistical(statConfig(20), testFees(0.001, "binance"))

	// anti-correlated series: first climbs while second declines, so the
	// ratio drifts and the z-score eventually breaches, but the pair no
	// longer co-moves
	for i := 0; i < 19; i++ {
		feed(d, view, 100+float64(i)*0.2, 50-float64(i)*0.1)
	}
	opps := feed(d, view, 100+19*0.2+3, 50-19*0.1)
	if len(opps) != 0 {
		t.Fatalf("opportunities = %d, want 0 when correlation has degraded", len(opps))
	}
}

func TestStatisticalNoSignalWithoutBreach(t *testing.T) {
	view := newFakeView(time.Now())
	d := NewStatistical(statConfig(10), testFees(0.001, "binance"))

	for i := 0; i < 15; i++ {
		second := 50.0 + float64(i)*0.1
		if opps := feed(d, view, 2*second, second); len(opps) != 0 {
			t.Fatalf("observation %d: opportunity emitted on a stable ratio", i)
		}
	}
}

func TestCorrelation(t *testing.T) {
	xs := []float64{1, 2, 3, 4, 5}
	ys := []float64{2, 4, 6, 8, 10}
	if c := correlation(xs, ys); math.Abs(c-1) > 1e-12 {
		t.Errorf("correlation = %v, want 1", c)
	}
	zs := []float64{10, 8, 6, 4, 2}
	if c := correlation(xs, zs); math.Abs(c+1) > 1e-12 {
		t.Errorf("correlation = %v, want -1", c)
	}
	flat := []float64{3, 3, 3, 3, 3}
	if c := correlation(xs, flat); c != 0 {
		t.Errorf("correlation with flat series = %v, want 0", c)
	}
}
