package detector

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"arbflow/config"
	"arbflow/logger"
	"arbflow/models"
)

// Statistical watches the price ratio of configured symbol pairs on a
// single venue. It keeps a rolling window of mid prices per pair, scores
// the current ratio as a z-score against the window, and only trades the
// divergence while the two series remain correlated. A pair whose rolling
// correlation has decayed below the threshold is treated as structurally
// changed, not as an opportunity, no matter how large the z-score.
type Statistical struct {
	cfg   config.StatisticalConfig
	fees  map[string]models.FeeSchedule
	log   *logger.Entry
	state map[string]*pairWindow
}

type pairWindow struct {
	first  []float64
	second []float64
}

func NewStatistical(cfg config.StatisticalConfig, fees map[string]models.FeeSchedule) *Statistical {
	return &Statistical{
		cfg:   cfg,
		fees:  fees,
		log:   logger.GetLogger().WithComponent("statistical_detector"),
		state: make(map[string]*pairWindow),
	}
}

func (s *Statistical) Name() string { return "statistical" }

func (s *Statistical) Interval() time.Duration { return s.cfg.TickInterval }

func (s *Statistical) Evaluate(ctx context.Context, view View) []models.Opportunity {
	now := view.Now()
	var out []models.Opportunity

	exchanges := make([]string, 0, len(s.fees))
	for ex := range s.fees {
		exchanges = append(exchanges, ex)
	}
	sort.Strings(exchanges)

	for _, pair := range s.cfg.Pairs {
		for _, exchange := range exchanges {
			qf, ok := view.Quote(exchange, pair.First, models.MarketSpot)
			if !ok {
				continue
			}
			qs, ok := view.Quote(exchange, pair.Second, models.MarketSpot)
			if !ok {
				continue
			}
			if opp := s.observe(exchange, pair, qf, qs, now); opp != nil {
				out = append(out, *opp)
			}
			break
		}
	}
	return out
}

// observe pushes the latest mids into the pair's window and scores the
// divergence once the window is full.
func (s *Statistical) observe(exchange string, pair config.StatisticalPair, qf, qs models.Quote, now time.Time) *models.Opportunity {
	key := exchange + "|" + pair.First + "|" + pair.Second
	w, ok := s.state[key]
	if !ok {
		w = &pairWindow{}
		s.state[key] = w
	}

	w.first = push(w.first, qf.Mid(), s.cfg.WindowSize)
	w.second = push(w.second, qs.Mid(), s.cfg.WindowSize)
	if len(w.first) < s.cfg.WindowSize {
		return nil
	}

	ratios := make([]float64, len(w.first))
	for i := range w.first {
		ratios[i] = w.first[i] / w.second[i]
	}
	mean, std := meanStd(ratios)
	if std == 0 {
		return nil
	}
	current := ratios[len(ratios)-1]
	z := (current - mean) / std

	if math.Abs(z) <= s.cfg.ZScoreThreshold {
		return nil
	}
	if correlation(w.first, w.second) < s.cfg.CorrelationThreshold {
		return nil
	}

	fee := s.fees[exchange].Taker
	divergence := math.Abs(current-mean) / mean

	var legs []models.Leg
	if z > 0 {
		// first is rich relative to second
		legs = []models.Leg{
			{Exchange: exchange, Symbol: pair.First, Side: models.SideSell, Price: qf.Bid,
				Amount: s.cfg.TradeAmount / qf.Bid, FeeRate: fee, QuoteTime: qf.Timestamp},
			{Exchange: exchange, Symbol: pair.Second, Side: models.SideBuy, Price: qs.Ask,
				Amount: s.cfg.TradeAmount / qs.Ask, FeeRate: fee, QuoteTime: qs.Timestamp},
		}
	} else {
		legs = []models.Leg{
			{Exchange: exchange, Symbol: pair.First, Side: models.SideBuy, Price: qf.Ask,
				Amount: s.cfg.TradeAmount / qf.Ask, FeeRate: fee, QuoteTime: qf.Timestamp},
			{Exchange: exchange, Symbol: pair.Second, Side: models.SideSell, Price: qs.Bid,
				Amount: s.cfg.TradeAmount / qs.Bid, FeeRate: fee, QuoteTime: qs.Timestamp},
		}
	}

	return &models.Opportunity{
		ID:           uuid.NewString(),
		Kind:         models.KindStatistical,
		Fingerprint:  models.Fingerprint(models.KindStatistical, legs),
		ProfitRate:   divergence - 2*fee,
		Legs:         legs,
		DiscoveredAt: now,
	}
}

func push(window []float64, v float64, size int) []float64 {
	window = append(window, v)
	if len(window) > size {
		window = window[len(window)-size:]
	}
	return window
}

func meanStd(xs []float64) (mean, std float64) {
	for _, x := range xs {
		mean += x
	}
	mean /= float64(len(xs))
	for _, x := range xs {
		std += (x - mean) * (x - mean)
	}
	std = math.Sqrt(std / float64(len(xs)))
	return
}

// correlation is the Pearson coefficient of the two series.
func correlation(xs, ys []float64) float64 {
	mx, sx := meanStd(xs)
	my, sy := meanStd(ys)
	if sx == 0 || sy == 0 {
		return 0
	}
	var cov float64
	for i := range xs {
		cov += (xs[i] - mx) * (ys[i] - my)
	}
	cov /= float64(len(xs))
	return cov / (sx * sy)
}
