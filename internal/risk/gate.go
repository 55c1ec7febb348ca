package risk

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"arbflow/config"
	"arbflow/internal/metrics"
	"arbflow/logger"
	"arbflow/models"
)

// Reason classifies why the gate refused an opportunity.
type Reason string

const (
	ReasonExpired       Reason = "expired"
	ReasonStaleQuote    Reason = "stale_quote"
	ReasonInFlight      Reason = "in_flight"
	ReasonMaxConcurrent Reason = "max_concurrent"
	ReasonPositionLimit Reason = "position_limit"
	ReasonDailyLoss     Reason = "daily_loss"
)

// Rejection is the error returned when an opportunity fails a gate check.
type Rejection struct {
	Reason      Reason
	Fingerprint string
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("opportunity %s rejected: %s", r.Fingerprint, r.Reason)
}

// Gate is the single admission point between detection and execution. It
// re-validates quote freshness at admission time, refuses duplicates of
// any in-flight fingerprint, and enforces the position, concurrency and
// daily-loss limits. Limits are read from the config holder on every
// admission, so a reloaded configuration applies to the next opportunity.
// All state is in memory and guarded by one mutex; admission is quick
// enough that sharding would buy nothing here.
type Gate struct {
	holder    *config.Holder
	staleness time.Duration
	log       *logger.Entry
	Clock     func() time.Time

	mu        sync.Mutex
	inflight  map[string]float64 // fingerprint -> notional
	positions map[string]float64 // symbol -> open notional
	dailyPnL  float64
	day       time.Time
}

func NewGate(holder *config.Holder, staleness time.Duration) *Gate {
	return &Gate{
		holder:    holder,
		staleness: staleness,
		log:       logger.GetLogger().WithComponent("risk_gate"),
		Clock:     time.Now,
		inflight:  make(map[string]float64),
		positions: make(map[string]float64),
	}
}

// resetDayLocked wipes the realized PnL at the first admission of a new
// calendar day.
func (g *Gate) resetDayLocked(now time.Time) {
	today := now.Truncate(24 * time.Hour)
	if g.day.IsZero() {
		g.day = today
		return
	}
	if today.After(g.day) {
		g.log.WithFields(logger.Fields{"realized_pnl": g.dailyPnL}).Info("daily loss counter reset")
		g.dailyPnL = 0
		g.day = today
	}
}

func notional(legs []models.Leg) float64 {
	var n float64
	for _, l := range legs {
		n += l.Price * l.Amount
	}
	return n
}

// Admit validates the opportunity against every limit and, on success,
// registers its fingerprint as in-flight and returns the trade intent to
// dispatch. The returned error is always a *Rejection on refusal.
func (g *Gate) Admit(opp models.Opportunity) (models.TradeIntent, error) {
	now := g.Clock()
	limits := g.holder.Snapshot().Risk

	g.mu.Lock()
	defer g.mu.Unlock()
	g.resetDayLocked(now)

	reject := func(r Reason) (models.TradeIntent, error) {
		metrics.IncrementRejection(string(r))
		g.log.WithFields(logger.Fields{
			"fingerprint": opp.Fingerprint,
			"kind":        string(opp.Kind),
			"reason":      string(r),
		}).Debug("opportunity rejected")
		return models.TradeIntent{}, &Rejection{Reason: r, Fingerprint: opp.Fingerprint}
	}

	if opp.Expired(now) {
		return reject(ReasonExpired)
	}
	for _, leg := range opp.Legs {
		if now.Sub(leg.QuoteTime) > g.staleness {
			return reject(ReasonStaleQuote)
		}
	}
	if _, dup := g.inflight[opp.Fingerprint]; dup {
		return reject(ReasonInFlight)
	}
	if limits.MaxConcurrent > 0 && len(g.inflight) >= limits.MaxConcurrent {
		return reject(ReasonMaxConcurrent)
	}
	if g.dailyPnL <= -limits.MaxDailyLoss {
		return reject(ReasonDailyLoss)
	}
	if limits.MaxPositionPerSymbol > 0 {
		for _, leg := range opp.Legs {
			if g.positions[leg.Symbol]+leg.Price*leg.Amount > limits.MaxPositionPerSymbol {
				return reject(ReasonPositionLimit)
			}
		}
	}

	g.inflight[opp.Fingerprint] = notional(opp.Legs)
	for _, leg := range opp.Legs {
		g.positions[leg.Symbol] += leg.Price * leg.Amount
	}

	intent := models.TradeIntent{
		ID:          uuid.NewString(),
		Fingerprint: opp.Fingerprint,
		Legs:        opp.Legs,
		Deadline:    opp.Deadline,
	}
	g.log.WithFields(logger.Fields{
		"fingerprint": opp.Fingerprint,
		"intent_id":   intent.ID,
		"profit_rate": opp.ProfitRate,
	}).Info("opportunity admitted")
	return intent, nil
}

// Complete releases the intent's fingerprint and position reservations and
// folds the realized PnL into the daily counter. Safe to call once per
// dispatched intent regardless of outcome.
func (g *Gate) Complete(intent models.TradeIntent, outcome models.Outcome) {
	g.mu.Lock()
	defer g.mu.Unlock()

	delete(g.inflight, intent.Fingerprint)
	for _, leg := range intent.Legs {
		g.positions[leg.Symbol] -= leg.Price * leg.Amount
		if g.positions[leg.Symbol] <= 0 {
			delete(g.positions, leg.Symbol)
		}
	}
	g.dailyPnL += outcome.PnL

	g.log.WithFields(logger.Fields{
		"fingerprint": intent.Fingerprint,
		"intent_id":   intent.ID,
		"status":      string(outcome.Status),
		"pnl":         outcome.PnL,
	}).Info("intent completed")
}

// InFlight reports the number of fingerprints currently dispatched.
func (g *Gate) InFlight() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.inflight)
}

// DailyPnL returns today's realized PnL.
func (g *Gate) DailyPnL() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.dailyPnL
}
