package detector

import (
	"context"
	"time"

	"github.com/google/uuid"

	"arbflow/config"
	"arbflow/logger"
	"arbflow/models"
)

// Spread compares the best bid and best ask for the same symbol across
// venues. When selling on the bid venue and buying on the ask venue nets
// more than the spread threshold after both taker fees, it emits a
// two-legged opportunity.
type Spread struct {
	cfg  config.SpreadConfig
	fees map[string]models.FeeSchedule
	log  *logger.Entry
}

func NewSpread(cfg config.SpreadConfig, fees map[string]models.FeeSchedule) *Spread {
	return &Spread{
		cfg:  cfg,
		fees: fees,
		log:  logger.GetLogger().WithComponent("spread_detector"),
	}
}

func (s *Spread) Name() string { return "spread" }

func (s *Spread) Interval() time.Duration { return s.cfg.TickInterval }

func (s *Spread) Evaluate(ctx context.Context, view View) []models.Opportunity {
	now := view.Now()
	var out []models.Opportunity

	for _, symbol := range view.Symbols() {
		snap := view.Snapshot(symbol, models.MarketSpot)
		if len(snap) < 2 {
			continue
		}

		var bestBid, bestAsk models.Quote
		for _, q := range snap {
			if q.Bid > bestBid.Bid {
				bestBid = q
			}
			if bestAsk.Ask == 0 || q.Ask < bestAsk.Ask {
				bestAsk = q
			}
		}
		if bestBid.Exchange == bestAsk.Exchange || bestAsk.Ask <= 0 {
			continue
		}

		buyFee := s.fees[bestAsk.Exchange].Taker
		sellFee := s.fees[bestBid.Exchange].Taker
		net := (bestBid.Bid-bestAsk.Ask)/bestAsk.Ask - buyFee - sellFee
		if net < s.cfg.MinSpreadRate {
			continue
		}

		amount := s.cfg.TradeAmount / bestAsk.Ask
		legs := []models.Leg{
			{
				Exchange:  bestAsk.Exchange,
				Symbol:    symbol,
				Side:      models.SideBuy,
				Price:     bestAsk.Ask,
				Amount:    amount,
				FeeRate:   buyFee,
				QuoteTime: bestAsk.Timestamp,
			},
			{
				Exchange:  bestBid.Exchange,
				Symbol:    symbol,
				Side:      models.SideSell,
				Price:     bestBid.Bid,
				Amount:    amount,
				FeeRate:   sellFee,
				QuoteTime: bestBid.Timestamp,
			},
		}
		out = append(out, models.Opportunity{
			ID:           uuid.NewString(),
			Kind:         models.KindSpread,
			Fingerprint:  models.Fingerprint(models.KindSpread, legs),
			ProfitRate:   net,
			Legs:         legs,
			DiscoveredAt: now,
		})
	}
	return out
}
