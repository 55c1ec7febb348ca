package supervisor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"arbflow/config"
	"arbflow/internal/channel"
	"arbflow/internal/connector"
	"arbflow/internal/marketstore"
	"arbflow/models"
)

func TestBackoffNonDecreasingAndCapped(t *testing.T) {
	b := NewBackoff(config.BackoffConfig{Base: 100 * time.Millisecond, Max: 2 * time.Second, Jitter: 0.2})
	prev := time.Duration(0)
	for i := 0; i < 20; i++ {
		d := b.Next()
		if d < prev {
			t.Fatalf("attempt %d: delay %v < previous %v", i, d, prev)
		}
		if d > 2*time.Second {
			t.Fatalf("attempt %d: delay %v exceeds cap", i, d)
		}
		prev = d
	}
	if prev != 2*time.Second {
		t.Errorf("expected schedule to settle at the cap, got %v", prev)
	}
}

func TestBackoffReset(t *testing.T) {
	b := NewBackoff(config.BackoffConfig{Base: 100 * time.Millisecond, Max: 10 * time.Second, Jitter: 0})
	for i := 0; i < 5; i++ {
		b.Next()
	}
	b.Reset()
	if d := b.Next(); d != 100*time.Millisecond {
		t.Errorf("delay after reset = %v, want base", d)
	}
}

func TestBackoffZeroJitter(t *testing.T) {
	b := NewBackoff(config.BackoffConfig{Base: 1 * time.Second, Max: 8 * time.Second, Jitter: 0})
	want := []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 8 * time.Second}
	for i, w := range want {
		if d := b.Next(); d != w {
			t.Errorf("attempt %d: delay = %v, want %v", i, d, w)
		}
	}
}

// fakeConnector scripts connection outcomes for the supervision loop.
type fakeConnector struct {
	failures int32
	connects int32
	events   chan connector.Event
	errs     chan error
}

func newFakeConnector(failures int) *fakeConnector {
	return &fakeConnector{
		failures: int32(failures),
		events:   make(chan connector.Event, 16),
		errs:     make(chan error, 1),
	}
}

func (f *fakeConnector) Name() string { return "fake" }

func (f *fakeConnector) FetchMarkets(ctx context.Context) ([]models.SymbolMeta, error) {
	return nil, nil
}

func (f *fakeConnector) Connect(ctx context.Context, symbols []string) error {
	atomic.AddInt32(&f.connects, 1)
	if atomic.AddInt32(&f.failures, -1) >= 0 {
		return errors.New("connection refused")
	}
	return nil
}

func (f *fakeConnector) Events() <-chan connector.Event { return f.events }

func (f *fakeConnector) Errors() <-chan error { return f.errs }

func (f *fakeConnector) Close() error { return nil }

func testConfig() config.ExchangeConfig {
	return config.ExchangeConfig{
		ID:          "fake",
		Heartbeat:   50 * time.Millisecond,
		GracePeriod: 10 * time.Second,
	}
}

func testBackoff() config.BackoffConfig {
	return config.BackoffConfig{Base: 5 * time.Millisecond, Max: 20 * time.Millisecond, Jitter: 0}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestSupervisorRetriesUntilConnected(t *testing.T) {
	fake := newFakeConnector(3)
	ch := channel.NewChannels(64, 16)
	store := marketstore.New(4)
	s := New(fake, testConfig(), models.MarketSpot, []string{"BTCUSDT"}, ch, store, nil, testBackoff())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Stop()

	waitFor(t, 2*time.Second, func() bool {
		return s.State() == models.StateConnected
	})
	if n := atomic.LoadInt32(&fake.connects); n != 4 {
		t.Errorf("connect attempts = %d, want 4", n)
	}
}

func TestSupervisorForwardsQuotes(t *testing.T) {
	fake := newFakeConnector(0)
	ch := channel.NewChannels(64, 16)
	store := marketstore.New(4)
	s := New(fake, testConfig(), models.MarketSpot, []string{"BTCUSDT"}, ch, store, nil, testBackoff())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Stop()

	waitFor(t, time.Second, func() bool { return s.State() == models.StateConnected })

	fake.events <- connector.Event{Quote: models.Quote{
		Exchange: "fake", Symbol: "BTCUSDT", Bid: 100, Ask: 101, Timestamp: time.Now(),
	}}

	select {
	case ev := <-ch.Quotes:
		if ev.Quote.Symbol != "BTCUSDT" || ev.Quote.Degraded {
			t.Errorf("unexpected forwarded quote: %+v", ev.Quote)
		}
	case <-time.After(time.Second):
		t.Fatal("quote not forwarded")
	}
}

func TestSupervisorDegradesOnSilence(t *testing.T) {
	fake := newFakeConnector(0)
	ch := channel.NewChannels(64, 16)
	store := marketstore.New(4)
	s := New(fake, testConfig(), models.MarketSpot, []string{"BTCUSDT"}, ch, store, nil, testBackoff())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Stop()

	waitFor(t, time.Second, func() bool { return s.State() == models.StateConnected })

	// the fake stays silent past the heartbeat
	waitFor(t, time.Second, func() bool { return s.State() == models.StateDegraded })

	// a fresh event recovers the feed, the event itself still carries the
	// degraded mark
	fake.events <- connector.Event{Quote: models.Quote{
		Exchange: "fake", Symbol: "BTCUSDT", Bid: 100, Ask: 101, Timestamp: time.Now(),
	}}
	select {
	case ev := <-ch.Quotes:
		if !ev.Quote.Degraded {
			t.Error("quote received while degraded should be marked degraded")
		}
	case <-time.After(time.Second):
		t.Fatal("quote not forwarded")
	}
	waitFor(t, time.Second, func() bool { return s.State() == models.StateConnected })
}

func TestSupervisorReconnectsOnFeedError(t *testing.T) {
	fake := newFakeConnector(0)
	ch := channel.NewChannels(64, 16)
	store := marketstore.New(4)
	s := New(fake, testConfig(), models.MarketSpot, []string{"BTCUSDT"}, ch, store, nil, testBackoff())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Stop()

	waitFor(t, time.Second, func() bool { return s.State() == models.StateConnected })
	before := atomic.LoadInt32(&fake.connects)

	fake.errs <- errors.New("remote reset")

	waitFor(t, 2*time.Second, func() bool {
		return s.State() == models.StateConnected && atomic.LoadInt32(&fake.connects) > before
	})
}

func TestSupervisorPurgesAfterGracePeriod(t *testing.T) {
	fake := newFakeConnector(0)
	cfg := testConfig()
	cfg.GracePeriod = 120 * time.Millisecond
	ch := channel.NewChannels(64, 16)
	store := marketstore.New(4)
	store.UpsertQuote(models.Quote{Exchange: "fake", Symbol: "BTCUSDT", Bid: 100, Ask: 101, Timestamp: time.Now()})

	s := New(fake, cfg, models.MarketSpot, []string{"BTCUSDT"}, ch, store, nil, testBackoff())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Stop()

	waitFor(t, 2*time.Second, func() bool {
		_, ok := store.Quote("fake", "BTCUSDT", models.MarketSpot)
		return !ok
	})
}

func TestSupervisorStartRequiresSymbols(t *testing.T) {
	fake := newFakeConnector(0)
	s := New(fake, testConfig(), models.MarketSpot, nil, channel.NewChannels(4, 4), marketstore.New(4), nil, testBackoff())
	if err := s.Start(context.Background()); err == nil {
		t.Fatal("expected error when no symbols resolved")
	}
}

// stateRecorder captures broadcast feed state transitions.
type stateRecorder struct {
	mu     sync.Mutex
	states []models.ConnectionState
}

func (r *stateRecorder) BroadcastState(exchange string, state models.ConnectionState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, state)
}

func (r *stateRecorder) has(want models.ConnectionState) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, st := range r.states {
		if st == want {
			return true
		}
	}
	return false
}

func TestSupervisorBroadcastsStateTransitions(t *testing.T) {
	fake := newFakeConnector(1)
	rec := &stateRecorder{}
	ch := channel.NewChannels(64, 16)
	store := marketstore.New(4)
	s := New(fake, testConfig(), models.MarketSpot, []string{"BTCUSDT"}, ch, store, rec, testBackoff())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Stop()

	waitFor(t, time.Second, func() bool { return s.State() == models.StateConnected })
	for _, want := range []models.ConnectionState{models.StateConnecting, models.StateReconnecting, models.StateConnected} {
		if !rec.has(want) {
			t.Errorf("state %s never broadcast", want)
		}
	}
}
