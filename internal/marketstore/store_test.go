package marketstore

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"arbflow/models"
)

func quoteAt(exchange, symbol string, bid float64, ts time.Time) models.Quote {
	return models.Quote{
		Exchange:  exchange,
		Symbol:    symbol,
		Bid:       bid,
		Ask:       bid + 1,
		Timestamp: ts,
	}
}

func TestUpsertQuoteMonotonic(t *testing.T) {
	s := New(4)
	now := time.Now()

	if !s.UpsertQuote(quoteAt("binance", "BTCUSDT", 50000, now)) {
		t.Fatalf("first write must apply")
	}
	// strictly older: discarded
	if s.UpsertQuote(quoteAt("binance", "BTCUSDT", 49000, now.Add(-time.Second))) {
		t.Fatalf("older quote must not apply")
	}
	// equal timestamp: discarded too
	if s.UpsertQuote(quoteAt("binance", "BTCUSDT", 49500, now)) {
		t.Fatalf("equal timestamp must not apply")
	}
	q, ok := s.Quote("binance", "BTCUSDT", models.MarketSpot)
	if !ok || q.Bid != 50000 {
		t.Fatalf("stored quote changed: %+v", q)
	}
	if !s.UpsertQuote(quoteAt("binance", "BTCUSDT", 50100, now.Add(time.Millisecond))) {
		t.Fatalf("newer quote must apply")
	}
}

func TestReadSnapshotPerExchange(t *testing.T) {
	s := New(4)
	now := time.Now()
	s.UpsertQuote(quoteAt("binance", "BTCUSDT", 50000, now))
	s.UpsertQuote(quoteAt("bybit", "BTCUSDT", 50200, now))
	s.UpsertQuote(quoteAt("binance", "ETHUSDT", 3000, now))

	snap := s.ReadSnapshot("BTCUSDT", models.MarketSpot)
	if len(snap) != 2 {
		t.Fatalf("expected 2 venues, got %d", len(snap))
	}
	if snap["bybit"].Bid != 50200 {
		t.Fatalf("wrong bybit quote: %+v", snap["bybit"])
	}

	// returned map is a copy
	delete(snap, "binance")
	if _, ok := s.Quote("binance", "BTCUSDT", models.MarketSpot); !ok {
		t.Fatalf("store mutated through snapshot")
	}
}

func TestStaleSince(t *testing.T) {
	s := New(2)
	now := time.Now()
	s.UpsertQuote(quoteAt("binance", "BTCUSDT", 50000, now.Add(-3*time.Second)))

	age, ok := s.StaleSince("binance", "BTCUSDT", models.MarketSpot, now)
	if !ok || age < 3*time.Second-time.Millisecond {
		t.Fatalf("age=%v ok=%v", age, ok)
	}
	if _, ok := s.StaleSince("binance", "NOPE", models.MarketSpot, now); ok {
		t.Fatalf("unknown key must report ok=false")
	}
}

func TestPurgeExchange(t *testing.T) {
	s := New(4)
	now := time.Now()
	s.UpsertQuote(quoteAt("binance", "BTCUSDT", 50000, now))
	s.UpsertQuote(quoteAt("binance", "ETHUSDT", 3000, now))
	s.UpsertQuote(quoteAt("bybit", "BTCUSDT", 50100, now))

	if n := s.PurgeExchange("binance"); n != 2 {
		t.Fatalf("cleared %d, want 2", n)
	}
	if _, ok := s.Quote("binance", "BTCUSDT", models.MarketSpot); ok {
		t.Fatalf("binance quote survived purge")
	}
	if _, ok := s.Quote("bybit", "BTCUSDT", models.MarketSpot); !ok {
		t.Fatalf("bybit quote must survive")
	}
}

func TestUpsertBookSequence(t *testing.T) {
	s := New(2)
	now := time.Now()
	b1 := models.OrderBookSnapshot{Exchange: "binance", Symbol: "BTCUSDT", Sequence: 10, Timestamp: now}
	b2 := models.OrderBookSnapshot{Exchange: "binance", Symbol: "BTCUSDT", Sequence: 9, Timestamp: now.Add(time.Second)}

	if !s.UpsertBook(b1) {
		t.Fatalf("first book must apply")
	}
	if s.UpsertBook(b2) {
		t.Fatalf("lower sequence must not apply")
	}
	b, ok := s.Book("binance", "BTCUSDT", models.MarketSpot)
	if !ok || b.Sequence != 10 {
		t.Fatalf("book = %+v ok=%v", b, ok)
	}
}

func TestConcurrentWriters(t *testing.T) {
	s := New(8)
	var wg sync.WaitGroup
	base := time.Now()

	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			ex := fmt.Sprintf("ex%d", w%4)
			for i := 0; i < 500; i++ {
				s.UpsertQuote(quoteAt(ex, "BTCUSDT", float64(i), base.Add(time.Duration(i)*time.Microsecond)))
				s.ReadSnapshot("BTCUSDT", models.MarketSpot)
			}
		}(w)
	}
	wg.Wait()

	snap := s.ReadSnapshot("BTCUSDT", models.MarketSpot)
	for ex, q := range snap {
		if q.Bid != 499 {
			t.Fatalf("%s: latest write lost, bid=%v", ex, q.Bid)
		}
	}
}
