package detector

import (
	"context"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"arbflow/config"
	"arbflow/logger"
	"arbflow/models"
)

// Triangular walks the currency graph of a single venue looking for cycles
// whose conversion product, net of taker fees on every leg, beats the
// profit threshold. Edges are weighted -log(rate * (1-fee)) so a
// profitable cycle is one with negative total weight; the profit rate is
// recovered as exp(-sum) - 1 at cycle close. Cycles are anchored at the
// configured base currencies and bounded in length.
type Triangular struct {
	cfg     config.TriangularConfig
	fees    map[string]models.FeeSchedule
	symbols map[string]models.Symbol
	log     *logger.Entry
}

func NewTriangular(cfg config.TriangularConfig, fees map[string]models.FeeSchedule, symbols map[string]models.Symbol) *Triangular {
	return &Triangular{
		cfg:     cfg,
		fees:    fees,
		symbols: symbols,
		log:     logger.GetLogger().WithComponent("triangular_detector"),
	}
}

func (t *Triangular) Name() string { return "triangular" }

func (t *Triangular) Interval() time.Duration { return t.cfg.TickInterval }

// triEdge is one directed conversion on the venue's currency graph.
type triEdge struct {
	from, to  string
	symbol    string
	side      models.Side
	price     float64
	rate      float64
	weight    float64
	fee       float64
	quoteTime time.Time
}

func (t *Triangular) Evaluate(ctx context.Context, view View) []models.Opportunity {
	now := view.Now()
	best := make(map[string]models.Opportunity)

	for exchange, fees := range t.fees {
		graph := t.buildGraph(view, exchange, fees.Taker)
		if len(graph) == 0 {
			continue
		}
		for _, anchor := range t.cfg.BaseCurrencies {
			t.search(graph, anchor, now, exchange, best)
		}
	}

	out := make([]models.Opportunity, 0, len(best))
	for _, opp := range best {
		out = append(out, opp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProfitRate > out[j].ProfitRate })
	return out
}

// buildGraph derives both directed edges per fresh symbol: buying the base
// with the quote currency at the ask, and selling the base into the quote
// currency at the bid.
func (t *Triangular) buildGraph(view View, exchange string, fee float64) map[string][]triEdge {
	graph := make(map[string][]triEdge)
	for name, sym := range t.symbols {
		meta, ok := sym.On(exchange)
		if !ok || meta.Market != models.MarketSpot {
			continue
		}
		q, ok := view.Quote(exchange, name, models.MarketSpot)
		if !ok || q.Bid <= 0 || q.Ask <= 0 {
			continue
		}

		buyRate := 1 / q.Ask
		graph[sym.Quote] = append(graph[sym.Quote], triEdge{
			from:      sym.Quote,
			to:        sym.Base,
			symbol:    name,
			side:      models.SideBuy,
			price:     q.Ask,
			rate:      buyRate,
			weight:    -math.Log(buyRate * (1 - fee)),
			fee:       fee,
			quoteTime: q.Timestamp,
		})
		graph[sym.Base] = append(graph[sym.Base], triEdge{
			from:      sym.Base,
			to:        sym.Quote,
			symbol:    name,
			side:      models.SideSell,
			price:     q.Bid,
			rate:      q.Bid,
			weight:    -math.Log(q.Bid * (1 - fee)),
			fee:       fee,
			quoteTime: q.Timestamp,
		})
	}
	return graph
}

// search enumerates simple cycles from the anchor up to the configured
// length and keeps the most profitable candidate per currency set.
func (t *Triangular) search(graph map[string][]triEdge, anchor string, now time.Time, exchange string, best map[string]models.Opportunity) {
	maxLen := t.cfg.MaxCycleLen
	if maxLen < 3 {
		maxLen = 3
	}

	var path []triEdge
	visited := map[string]bool{anchor: true}

	var walk func(current string, weight float64)
	walk = func(current string, weight float64) {
		for _, e := range graph[current] {
			if e.to == anchor {
				if len(path)+1 >= 3 {
					t.consider(append(path, e), weight+e.weight, now, exchange, anchor, best)
				}
				continue
			}
			if len(path)+1 >= maxLen || visited[e.to] {
				continue
			}
			visited[e.to] = true
			path = append(path, e)
			walk(e.to, weight+e.weight)
			path = path[:len(path)-1]
			visited[e.to] = false
		}
	}
	walk(anchor, 0)
}

func (t *Triangular) consider(cycle []triEdge, weight float64, now time.Time, exchange, anchor string, best map[string]models.Opportunity) {
	profit := math.Exp(-weight) - 1 - t.cfg.SlippageBuffer
	if profit <= t.cfg.MinProfitThreshold {
		return
	}

	currencies := make([]string, 0, len(cycle))
	for _, e := range cycle {
		currencies = append(currencies, e.from)
	}
	sort.Strings(currencies)
	key := exchange + "|" + strings.Join(currencies, "|")
	if prev, ok := best[key]; ok && prev.ProfitRate >= profit {
		return
	}

	legs := make([]models.Leg, 0, len(cycle))
	amount := t.cfg.TradeAmount
	for _, e := range cycle {
		legAmount := amount
		if e.side == models.SideBuy {
			legAmount = amount * e.rate
		}
		legs = append(legs, models.Leg{
			Exchange:  exchange,
			Symbol:    e.symbol,
			Side:      e.side,
			Price:     e.price,
			Amount:    legAmount,
			FeeRate:   e.fee,
			QuoteTime: e.quoteTime,
		})
		amount = amount * e.rate * (1 - e.fee)
	}

	best[key] = models.Opportunity{
		ID:           uuid.NewString(),
		Kind:         models.KindTriangular,
		Fingerprint:  models.Fingerprint(models.KindTriangular, legs),
		ProfitRate:   profit,
		Legs:         legs,
		DiscoveredAt: now,
	}
}
