package symbols

import (
	"context"
	"errors"
	"sync"
	"time"

	"arbflow/internal/marketstore"
	"arbflow/logger"
	"arbflow/models"
)

// MetadataSource provides raw symbol metadata for one exchange. The
// connectors satisfy this.
type MetadataSource interface {
	Name() string
	FetchMarkets(ctx context.Context) ([]models.SymbolMeta, error)
}

// Refresher re-runs symbol resolution on a fixed interval so listings and
// delistings propagate without a restart. Symbols that fall out of the
// intersection are purged from the store immediately; newly listed symbols
// are picked up by the supervisors on their next reconnect.
type Refresher struct {
	resolver *Resolver
	sources  map[models.MarketType][]MetadataSource
	store    *marketstore.Store
	interval time.Duration
	log      *logger.Entry

	mu      sync.RWMutex
	current map[models.MarketType]*Resolution
}

func NewRefresher(resolver *Resolver, store *marketstore.Store, interval time.Duration) *Refresher {
	return &Refresher{
		resolver: resolver,
		sources:  make(map[models.MarketType][]MetadataSource),
		store:    store,
		interval: interval,
		log:      logger.GetLogger().WithComponent("symbol_refresher"),
		current:  make(map[models.MarketType]*Resolution),
	}
}

// AddSource registers an exchange's metadata source for one market type.
func (r *Refresher) AddSource(market models.MarketType, src MetadataSource) {
	r.sources[market] = append(r.sources[market], src)
}

// ResolveAll runs one resolution pass for every registered market type and
// caches the results. An empty intersection for one market type is logged
// and skipped; the error is returned only when no market type resolves.
func (r *Refresher) ResolveAll(ctx context.Context) error {
	resolved := 0
	for market, sources := range r.sources {
		metadata := make(map[string][]models.SymbolMeta, len(sources))
		for _, src := range sources {
			metas, err := src.FetchMarkets(ctx)
			if err != nil {
				r.log.WithError(err).WithFields(logger.Fields{
					"exchange": src.Name(),
					"market":   string(market),
				}).Error("metadata fetch failed")
				continue
			}
			metadata[src.Name()] = metas
		}

		res, err := r.resolver.Resolve(market, metadata)
		if err != nil {
			var resErr *ResolutionError
			if errors.As(err, &resErr) {
				r.log.WithError(err).Warn("market type skipped")
				continue
			}
			return err
		}

		r.apply(market, res)
		resolved++
	}
	if resolved == 0 {
		return errors.New("no market type resolved any symbols")
	}
	return nil
}

// apply swaps in the new resolution and purges symbols that dropped out.
func (r *Refresher) apply(market models.MarketType, res *Resolution) {
	r.mu.Lock()
	prev := r.current[market]
	r.current[market] = res
	r.mu.Unlock()

	if prev == nil {
		return
	}
	added, removed := 0, 0
	for name := range res.Symbols {
		if _, ok := prev.Symbols[name]; !ok {
			added++
		}
	}
	for name := range prev.Symbols {
		if _, ok := res.Symbols[name]; !ok {
			r.store.PurgeSymbol(name)
			removed++
		}
	}
	if added > 0 || removed > 0 {
		r.log.WithFields(logger.Fields{
			"market":  string(market),
			"added":   added,
			"removed": removed,
		}).Info("symbol universe changed")
	}
}

// Resolution returns the cached resolution for a market type.
func (r *Refresher) Resolution(market models.MarketType) (*Resolution, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res, ok := r.current[market]
	return res, ok
}

// Start runs periodic refreshes until the context ends. Interval zero or
// below disables refreshing.
func (r *Refresher) Start(ctx context.Context) {
	if r.interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := r.ResolveAll(ctx); err != nil {
					r.log.WithError(err).Warn("metadata refresh failed")
				}
			}
		}
	}()
}
