package detector

import (
	"time"

	"arbflow/internal/marketstore"
	"arbflow/models"
)

// View is the read side the detectors evaluate against. Quotes older than
// the staleness bound and crossed books are filtered out before a detector
// ever sees them. Degraded quotes pass through with the flag set so
// downstream consumers can weight them down instead of losing the venue.
type View interface {
	// Snapshot returns the fresh quote per exchange for one symbol and
	// market.
	Snapshot(symbol string, market models.MarketType) map[string]models.Quote

	// Quote returns the fresh quote for one key.
	Quote(exchange, symbol string, market models.MarketType) (models.Quote, bool)

	// Funding returns the latest funding rate for a perpetual key.
	Funding(exchange, symbol string) (models.FundingRate, bool)

	// Symbols lists the distinct symbols present in the store.
	Symbols() []string

	// Now is the evaluation instant all freshness checks are anchored to.
	Now() time.Time
}

// MarketView adapts the market store into a View with a fixed staleness
// bound. The clock is swappable for tests.
type MarketView struct {
	store     *marketstore.Store
	staleness time.Duration
	Clock     func() time.Time
}

func NewMarketView(store *marketstore.Store, staleness time.Duration) *MarketView {
	return &MarketView{
		store:     store,
		staleness: staleness,
		Clock:     time.Now,
	}
}

func (v *MarketView) Now() time.Time { return v.Clock() }

func (v *MarketView) fresh(q models.Quote, now time.Time) bool {
	if q.Crossed() {
		return false
	}
	return now.Sub(q.Timestamp) <= v.staleness
}

func (v *MarketView) Snapshot(symbol string, market models.MarketType) map[string]models.Quote {
	now := v.Clock()
	snap := v.store.ReadSnapshot(symbol, market)
	for ex, q := range snap {
		if !v.fresh(q, now) {
			delete(snap, ex)
		}
	}
	return snap
}

func (v *MarketView) Quote(exchange, symbol string, market models.MarketType) (models.Quote, bool) {
	q, ok := v.store.Quote(exchange, symbol, market)
	if !ok || !v.fresh(q, v.Clock()) {
		return models.Quote{}, false
	}
	return q, true
}

func (v *MarketView) Funding(exchange, symbol string) (models.FundingRate, bool) {
	return v.store.Funding(exchange, symbol)
}

func (v *MarketView) Symbols() []string {
	return v.store.Symbols()
}
