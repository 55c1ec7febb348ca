package marketstore

import (
	"hash/fnv"
	"sync"
	"time"

	"arbflow/logger"
	"arbflow/models"
)

// Store is the only shared mutable state between supervisors and detectors.
// It holds the latest quote, depth snapshot and funding rate per
// (exchange, symbol) key, sharded to keep writer contention bounded under
// high update rates.
type Store struct {
	shards []*shard
	log    *logger.Log
}

type key struct {
	exchange string
	symbol   string
	market   models.MarketType
}

type entry struct {
	quote   models.Quote
	book    *models.OrderBookSnapshot
	funding *models.FundingRate
}

type shard struct {
	mu      sync.RWMutex
	entries map[key]*entry
}

// New constructs a store with the given shard count; counts below one fall
// back to a single shard.
func New(shardCount int) *Store {
	if shardCount < 1 {
		shardCount = 1
	}
	shards := make([]*shard, shardCount)
	for i := range shards {
		shards[i] = &shard{entries: make(map[key]*entry)}
	}
	return &Store{shards: shards, log: logger.GetLogger()}
}

func (s *Store) shardFor(k key) *shard {
	h := fnv.New32a()
	h.Write([]byte(k.exchange))
	h.Write([]byte{0})
	h.Write([]byte(k.symbol))
	h.Write([]byte{0})
	h.Write([]byte(k.market))
	return s.shards[h.Sum32()%uint32(len(s.shards))]
}

// normalizeMarket treats an unset market as spot so that writers which do
// not tag their updates still land on a stable key.
func normalizeMarket(m models.MarketType) models.MarketType {
	if m == "" {
		return models.MarketSpot
	}
	return m
}

// UpsertQuote applies the quote only when its timestamp is strictly newer
// than the one currently stored for the key. Returns whether the write was
// applied. Out-of-order quotes are counted but never overwrite.
func (s *Store) UpsertQuote(q models.Quote) bool {
	q.Market = normalizeMarket(q.Market)
	k := key{exchange: q.Exchange, symbol: q.Symbol, market: q.Market}
	sh := s.shardFor(k)

	sh.mu.Lock()
	defer sh.mu.Unlock()

	e, ok := sh.entries[k]
	if !ok {
		sh.entries[k] = &entry{quote: q}
		return true
	}
	if !q.Timestamp.After(e.quote.Timestamp) {
		logger.IncrementQuoteDropStale()
		return false
	}
	e.quote = q
	return true
}

// UpsertBook stores a depth snapshot under the same monotonic rule as
// quotes: older sequence/timestamp never overwrites.
func (s *Store) UpsertBook(b models.OrderBookSnapshot) bool {
	b.Market = normalizeMarket(b.Market)
	k := key{exchange: b.Exchange, symbol: b.Symbol, market: b.Market}
	sh := s.shardFor(k)

	sh.mu.Lock()
	defer sh.mu.Unlock()

	e, ok := sh.entries[k]
	if !ok {
		e = &entry{}
		sh.entries[k] = e
	}
	if prev := e.book; prev != nil {
		if b.Sequence != 0 && prev.Sequence != 0 && b.Sequence <= prev.Sequence {
			return false
		}
		if !b.Timestamp.After(prev.Timestamp) {
			return false
		}
	}
	copied := b
	e.book = &copied
	return true
}

// UpsertFunding stores the latest funding rate for a perpetual key.
func (s *Store) UpsertFunding(f models.FundingRate) bool {
	k := key{exchange: f.Exchange, symbol: f.Symbol, market: models.MarketFutures}
	sh := s.shardFor(k)

	sh.mu.Lock()
	defer sh.mu.Unlock()

	e, ok := sh.entries[k]
	if !ok {
		e = &entry{}
		sh.entries[k] = e
	}
	if e.funding != nil && !f.Timestamp.After(e.funding.Timestamp) {
		return false
	}
	copied := f
	e.funding = &copied
	return true
}

// ReadSnapshot returns every exchange's current quote for the symbol as a
// consistent-at-read-time collection. The map is a copy; mutating it never
// touches store state.
func (s *Store) ReadSnapshot(symbol string, market models.MarketType) map[string]models.Quote {
	market = normalizeMarket(market)
	out := make(map[string]models.Quote)
	for _, sh := range s.shards {
		sh.mu.RLock()
		for k, e := range sh.entries {
			if k.symbol == symbol && k.market == market && !e.quote.Timestamp.IsZero() {
				out[k.exchange] = e.quote
			}
		}
		sh.mu.RUnlock()
	}
	return out
}

// Quote returns the stored quote for one key.
func (s *Store) Quote(exchange, symbol string, market models.MarketType) (models.Quote, bool) {
	k := key{exchange: exchange, symbol: symbol, market: normalizeMarket(market)}
	sh := s.shardFor(k)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	e, ok := sh.entries[k]
	if !ok || e.quote.Timestamp.IsZero() {
		return models.Quote{}, false
	}
	return e.quote, true
}

// Book returns the stored depth snapshot for one key.
func (s *Store) Book(exchange, symbol string, market models.MarketType) (models.OrderBookSnapshot, bool) {
	k := key{exchange: exchange, symbol: symbol, market: normalizeMarket(market)}
	sh := s.shardFor(k)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	e, ok := sh.entries[k]
	if !ok || e.book == nil {
		return models.OrderBookSnapshot{}, false
	}
	return *e.book, true
}

// Funding returns the stored funding rate for one key.
func (s *Store) Funding(exchange, symbol string) (models.FundingRate, bool) {
	k := key{exchange: exchange, symbol: symbol, market: models.MarketFutures}
	sh := s.shardFor(k)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	e, ok := sh.entries[k]
	if !ok || e.funding == nil {
		return models.FundingRate{}, false
	}
	return *e.funding, true
}

// StaleSince reports the age of the stored quote for the key at the given
// instant. ok=false when the key has never been written.
func (s *Store) StaleSince(exchange, symbol string, market models.MarketType, now time.Time) (time.Duration, bool) {
	q, ok := s.Quote(exchange, symbol, market)
	if !ok {
		return 0, false
	}
	return now.Sub(q.Timestamp), true
}

// PurgeExchange clears every quote belonging to one exchange. Called by its
// supervisor once the venue has been disconnected beyond the staleness
// threshold, so detectors stop comparing against dead prices. Returns the
// number of keys cleared.
func (s *Store) PurgeExchange(exchange string) int {
	cleared := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		for k := range sh.entries {
			if k.exchange == exchange {
				delete(sh.entries, k)
				cleared++
			}
		}
		sh.mu.Unlock()
	}
	if cleared > 0 {
		s.log.WithComponent("market_store").WithFields(logger.Fields{
			"exchange": exchange,
			"cleared":  cleared,
		}).Info("purged exchange quotes")
	}
	return cleared
}

// PurgeSymbol clears one symbol across all exchanges, used when a symbol is
// unsubscribed after a metadata refresh.
func (s *Store) PurgeSymbol(symbol string) int {
	cleared := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		for k := range sh.entries {
			if k.symbol == symbol {
				delete(sh.entries, k)
				cleared++
			}
		}
		sh.mu.Unlock()
	}
	return cleared
}

// Symbols returns the distinct symbols currently present in the store.
func (s *Store) Symbols() []string {
	seen := make(map[string]struct{})
	for _, sh := range s.shards {
		sh.mu.RLock()
		for k := range sh.entries {
			seen[k.symbol] = struct{}{}
		}
		sh.mu.RUnlock()
	}
	out := make([]string, 0, len(seen))
	for sym := range seen {
		out = append(out, sym)
	}
	return out
}
