package risk

import (
	"context"
	"errors"
	"testing"
	"time"

	"arbflow/config"
	"arbflow/internal/channel"
	"arbflow/models"
)

func riskConfig() config.RiskConfig {
	return config.RiskConfig{
		MaxPositionPerSymbol: 1_000_000,
		MaxConcurrent:        3,
		MaxDailyLoss:         100,
		StopLossRate:         0.01,
	}
}

func riskHolder(cfg config.RiskConfig) *config.Holder {
	return config.NewHolder(&config.Config{Risk: cfg})
}

func makeOpp(now time.Time, symbol string) models.Opportunity {
	legs := []models.Leg{
		{Exchange: "binance", Symbol: symbol, Side: models.SideBuy, Price: 50010, Amount: 0.002, FeeRate: 0.001, QuoteTime: now},
		{Exchange: "bybit", Symbol: symbol, Side: models.SideSell, Price: 50200, Amount: 0.002, FeeRate: 0.001, QuoteTime: now},
	}
	return models.Opportunity{
		ID:           "op-" + symbol,
		Kind:         models.KindSpread,
		Fingerprint:  models.Fingerprint(models.KindSpread, legs),
		ProfitRate:   0.0018,
		Legs:         legs,
		DiscoveredAt: now,
		Deadline:     now.Add(2 * time.Second),
	}
}

func rejectedWith(t *testing.T, err error, want Reason) {
	t.Helper()
	var rej *Rejection
	if !errors.As(err, &rej) {
		t.Fatalf("error = %v, want *Rejection", err)
	}
	if rej.Reason != want {
		t.Fatalf("reason = %s, want %s", rej.Reason, want)
	}
}

func TestGateDeduplicatesInFlightFingerprint(t *testing.T) {
	now := time.Now()
	g := NewGate(riskHolder(riskConfig()), 5*time.Second)
	g.Clock = func() time.Time { return now }

	opp := makeOpp(now, "BTCUSDT")
	intent, err := g.Admit(opp)
	if err != nil {
		t.Fatalf("first admit: %v", err)
	}

	// identical fingerprint must never be concurrently admitted
	_, err = g.Admit(makeOpp(now, "BTCUSDT"))
	rejectedWith(t, err, ReasonInFlight)

	g.Complete(intent, models.Outcome{IntentID: intent.ID, Status: models.OutcomeAccepted})
	if _, err := g.Admit(makeOpp(now, "BTCUSDT")); err != nil {
		t.Fatalf("admit after release: %v", err)
	}
}

func TestGateAppliesReloadedLimits(t *testing.T) {
	now := time.Now()
	tight := riskConfig()
	tight.MaxConcurrent = 1
	holder := riskHolder(tight)
	g := NewGate(holder, 5*time.Second)
	g.Clock = func() time.Time { return now }

	if _, err := g.Admit(makeOpp(now, "BTCUSDT")); err != nil {
		t.Fatalf("first admit: %v", err)
	}
	_, err := g.Admit(makeOpp(now, "ETHUSDT"))
	rejectedWith(t, err, ReasonMaxConcurrent)

	// a swapped config applies to the next admission
	relaxed := riskConfig()
	relaxed.MaxConcurrent = 3
	holder.Swap(&config.Config{Risk: relaxed})
	if _, err := g.Admit(makeOpp(now, "ETHUSDT")); err != nil {
		t.Fatalf("admit after limit raise: %v", err)
	}
}

func TestGateRejectsStaleLeg(t *testing.T) {
	now := time.Now()
	g := NewGate(riskHolder(riskConfig()), 5*time.Second)
	g.Clock = func() time.Time { return now }

	opp := makeOpp(now, "BTCUSDT")
	opp.Legs[1].QuoteTime = now.Add(-6 * time.Second)
	opp.Deadline = now.Add(10 * time.Second)

	_, err := g.Admit(opp)
	rejectedWith(t, err, ReasonStaleQuote)
}

func TestGateRejectsExpired(t *testing.T) {
	now := time.Now()
	g := NewGate(riskHolder(riskConfig()), 5*time.Second)
	g.Clock = func() time.Time { return now }

	opp := makeOpp(now.Add(-3*time.Second), "BTCUSDT")
	for i := range opp.Legs {
		opp.Legs[i].QuoteTime = now
	}

	_, err := g.Admit(opp)
	rejectedWith(t, err, ReasonExpired)
}

func TestGateMaxConcurrent(t *testing.T) {
	now := time.Now()
	g := NewGate(riskHolder(riskConfig()), 5*time.Second)
	g.Clock = func() time.Time { return now }

	for _, sym := range []string{"BTCUSDT", "ETHUSDT", "SOLUSDT"} {
		if _, err := g.Admit(makeOpp(now, sym)); err != nil {
			t.Fatalf("admit %s: %v", sym, err)
		}
	}
	_, err := g.Admit(makeOpp(now, "XRPUSDT"))
	rejectedWith(t, err, ReasonMaxConcurrent)
}

func TestGatePositionLimit(t *testing.T) {
	now := time.Now()
	cfg := riskConfig()
	cfg.MaxPositionPerSymbol = 150
	g := NewGate(riskHolder(cfg), 5*time.Second)
	g.Clock = func() time.Time { return now }

	// each leg is roughly 100 notional; the second admission would double it
	if _, err := g.Admit(makeOpp(now, "BTCUSDT")); err != nil {
		t.Fatalf("first admit: %v", err)
	}
	opp := makeOpp(now, "BTCUSDT")
	opp.Legs[0].Side = models.SideSell
	opp.Legs[1].Side = models.SideBuy
	opp.Fingerprint = models.Fingerprint(opp.Kind, opp.Legs)
	if opp.Fingerprint == makeOpp(now, "BTCUSDT").Fingerprint {
		t.Fatal("flipped legs must change the fingerprint")
	}
	_, err := g.Admit(opp)
	rejectedWith(t, err, ReasonPositionLimit)
}

func TestGateDailyLossHaltsAndResets(t *testing.T) {
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	g := NewGate(riskHolder(riskConfig()), 5*time.Second)
	g.Clock = func() time.Time { return now }

	intent, err := g.Admit(makeOpp(now, "BTCUSDT"))
	if err != nil {
		t.Fatalf("admit: %v", err)
	}
	g.Complete(intent, models.Outcome{IntentID: intent.ID, Status: models.OutcomeAccepted, PnL: -150})

	_, err = g.Admit(makeOpp(now, "ETHUSDT"))
	rejectedWith(t, err, ReasonDailyLoss)

	// next day the counter resets
	now = now.Add(24 * time.Hour)
	if _, err := g.Admit(makeOpp(now, "ETHUSDT")); err != nil {
		t.Fatalf("admit after day reset: %v", err)
	}
	if g.DailyPnL() != 0 {
		t.Errorf("daily PnL = %v after reset", g.DailyPnL())
	}
}

// slowExecutor blocks until its context expires.
type slowExecutor struct{}

func (slowExecutor) Execute(ctx context.Context, intent models.TradeIntent) (models.Outcome, error) {
	<-ctx.Done()
	return models.Outcome{}, ctx.Err()
}

func TestCoordinatorReleasesFingerprintOnTimeout(t *testing.T) {
	now := time.Now()
	g := NewGate(riskHolder(riskConfig()), time.Hour)
	ch := channel.NewChannels(16, 16)
	c := NewCoordinator(g, slowExecutor{}, ch, 50*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := c.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	opp := makeOpp(now, "BTCUSDT")
	opp.Deadline = now.Add(time.Hour)
	ch.SendOpportunity(ctx, opp)

	waitCond(t, "intent not admitted", func() bool { return g.InFlight() == 1 })
	waitCond(t, "fingerprint not released after ack timeout", func() bool { return g.InFlight() == 0 })
	c.Stop()
}

func waitCond(t *testing.T, msg string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal(msg)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestCoordinatorDispatchesThroughExecutor(t *testing.T) {
	now := time.Now()
	g := NewGate(riskHolder(riskConfig()), time.Hour)
	ch := channel.NewChannels(16, 16)
	c := NewCoordinator(g, NewLogExecutor(), ch, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := c.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	opp := makeOpp(now, "BTCUSDT")
	opp.Deadline = now.Add(time.Hour)
	ch.SendOpportunity(ctx, opp)

	waitCond(t, "intent never completed", func() bool { return g.InFlight() == 0 })
	c.Stop()
}
