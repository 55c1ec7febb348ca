package detector

import (
	"context"
	"math"
	"time"

	"github.com/google/uuid"

	"arbflow/config"
	"arbflow/logger"
	"arbflow/models"
)

// Basis compares the spot and perpetual-futures price of the same symbol
// on the same venue. A basis beyond the threshold opens a carry position:
// buy the cheap market, sell the rich one. When the feed supplies a
// funding rate, a rate paying against the position must clear its own
// threshold or the candidate is dropped.
type Basis struct {
	cfg  config.BasisConfig
	fees map[string]models.FeeSchedule
	log  *logger.Entry
}

func NewBasis(cfg config.BasisConfig, fees map[string]models.FeeSchedule) *Basis {
	return &Basis{
		cfg:  cfg,
		fees: fees,
		log:  logger.GetLogger().WithComponent("basis_detector"),
	}
}

func (b *Basis) Name() string { return "basis" }

func (b *Basis) Interval() time.Duration { return b.cfg.TickInterval }

func (b *Basis) Evaluate(ctx context.Context, view View) []models.Opportunity {
	now := view.Now()
	var out []models.Opportunity

	for _, symbol := range view.Symbols() {
		futures := view.Snapshot(symbol, models.MarketFutures)
		if len(futures) == 0 {
			continue
		}
		for exchange, fq := range futures {
			sq, ok := view.Quote(exchange, symbol, models.MarketSpot)
			if !ok {
				continue
			}

			spotMid, futMid := sq.Mid(), fq.Mid()
			if spotMid <= 0 || futMid <= 0 {
				continue
			}
			basis := (futMid - spotMid) / spotMid
			fee := b.fees[exchange].Taker
			net := math.Abs(basis) - 2*fee
			if net < b.cfg.MinBasisRate {
				continue
			}

			if fr, ok := view.Funding(exchange, symbol); ok {
				// a positive basis is carried short the perpetual; funding
				// must pay, not charge, beyond the threshold
				paying := fr.Rate
				if basis < 0 {
					paying = -fr.Rate
				}
				if paying < b.cfg.FundingRateThreshold {
					continue
				}
			}

			var legs []models.Leg
			amount := b.cfg.TradeAmount / spotMid
			if basis > 0 {
				legs = []models.Leg{
					{Exchange: exchange, Symbol: symbol, Side: models.SideBuy, Price: sq.Ask,
						Amount: amount, FeeRate: fee, QuoteTime: sq.Timestamp},
					{Exchange: exchange, Symbol: symbol + ".PERP", Side: models.SideSell, Price: fq.Bid,
						Amount: amount, FeeRate: fee, QuoteTime: fq.Timestamp},
				}
			} else {
				legs = []models.Leg{
					{Exchange: exchange, Symbol: symbol + ".PERP", Side: models.SideBuy, Price: fq.Ask,
						Amount: amount, FeeRate: fee, QuoteTime: fq.Timestamp},
					{Exchange: exchange, Symbol: symbol, Side: models.SideSell, Price: sq.Bid,
						Amount: amount, FeeRate: fee, QuoteTime: sq.Timestamp},
				}
			}

			out = append(out, models.Opportunity{
				ID:           uuid.NewString(),
				Kind:         models.KindBasis,
				Fingerprint:  models.Fingerprint(models.KindBasis, legs),
				ProfitRate:   net,
				Legs:         legs,
				DiscoveredAt: now,
			})
		}
	}
	return out
}
