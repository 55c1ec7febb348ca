package symbols

import (
	"fmt"
	"sort"
	"strings"

	"arbflow/logger"
	"arbflow/models"
)

// ResolutionError reports that no common symbol survives the intersection
// for a given market type. It is reported and the market type is skipped;
// other market types may still proceed.
type ResolutionError struct {
	Market models.MarketType
	Venues []string
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("no common symbols for market %q across %s", e.Market, strings.Join(e.Venues, ","))
}

// Resolution is the outcome of one resolver pass: the reconciled symbol set
// plus the per-exchange native subscription lists the supervisors consume.
type Resolution struct {
	Market        models.MarketType
	Symbols       map[string]models.Symbol // keyed by canonical name
	Subscriptions map[string][]string      // exchange -> native symbol names
}

// Resolver computes the set of symbols tradable on every subscribed
// exchange, reconciling naming and precision differences on the way. It runs
// once at startup and again on metadata refresh.
type Resolver struct {
	quoteCurrencies []string
	log             *logger.Log
}

func NewResolver(quoteCurrencies []string) *Resolver {
	upper := make([]string, len(quoteCurrencies))
	for i, q := range quoteCurrencies {
		upper[i] = strings.ToUpper(q)
	}
	return &Resolver{
		quoteCurrencies: upper,
		log:             logger.GetLogger(),
	}
}

// Resolve intersects the raw market metadata of all exchanges for one market
// type. Every exchange keeps its own precision and minimum-cost metadata in
// the merged Symbol record; nothing is assumed equal across venues. Returns
// a ResolutionError when the intersection is empty.
func (r *Resolver) Resolve(market models.MarketType, metadata map[string][]models.SymbolMeta) (*Resolution, error) {
	log := r.log.WithComponent("symbol_resolver").WithFields(logger.Fields{"market": string(market)})

	if len(metadata) == 0 {
		return nil, &ResolutionError{Market: market}
	}

	quoteFilter := make(map[string]struct{}, len(r.quoteCurrencies))
	for _, q := range r.quoteCurrencies {
		quoteFilter[q] = struct{}{}
	}

	// canonical -> exchange -> native metadata
	perSymbol := make(map[string]map[string]models.SymbolMeta)
	venues := make([]string, 0, len(metadata))

	for exchange, metas := range metadata {
		exchange = strings.ToLower(exchange)
		venues = append(venues, exchange)
		for _, meta := range metas {
			if meta.Market != market {
				continue
			}
			canonical := ToCanonical(exchange, meta.Native)
			base, quote, ok := SplitCanonical(canonical, r.quoteCurrencies)
			if !ok {
				continue
			}
			if _, wanted := quoteFilter[quote]; !wanted {
				continue
			}
			meta.Exchange = exchange
			meta.Base = base
			meta.Quote = quote
			byVenue, exists := perSymbol[canonical]
			if !exists {
				byVenue = make(map[string]models.SymbolMeta, len(metadata))
				perSymbol[canonical] = byVenue
			}
			byVenue[exchange] = meta
		}
	}
	sort.Strings(venues)

	res := &Resolution{
		Market:        market,
		Symbols:       make(map[string]models.Symbol),
		Subscriptions: make(map[string][]string, len(venues)),
	}

	for canonical, byVenue := range perSymbol {
		// intersection: the symbol must be listed on every venue
		if len(byVenue) != len(venues) {
			continue
		}
		var base, quote string
		perVenue := make(map[string]models.SymbolMeta, len(byVenue))
		for exchange, meta := range byVenue {
			base, quote = meta.Base, meta.Quote
			perVenue[exchange] = meta
			res.Subscriptions[exchange] = append(res.Subscriptions[exchange], meta.Native)
		}
		res.Symbols[canonical] = models.Symbol{
			Base:     base,
			Quote:    quote,
			Market:   market,
			PerVenue: perVenue,
		}
	}

	for exchange := range res.Subscriptions {
		sort.Strings(res.Subscriptions[exchange])
	}

	if len(res.Symbols) == 0 {
		return nil, &ResolutionError{Market: market, Venues: venues}
	}

	log.WithFields(logger.Fields{
		"venues":  venues,
		"symbols": len(res.Symbols),
	}).Info("resolved common symbols")

	return res, nil
}

// Names returns the sorted canonical symbol names of a resolution.
func (res *Resolution) Names() []string {
	names := make([]string, 0, len(res.Symbols))
	for name := range res.Symbols {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
