package detector

import (
	"context"
	"sync"
	"time"

	"arbflow/internal/channel"
	"arbflow/internal/metrics"
	"arbflow/logger"
	"arbflow/models"
)

// Detector is one arbitrage strategy evaluated on a fixed schedule. Each
// Evaluate call sees a fresh view of the market and returns zero or more
// candidate opportunities. Detectors share no state with each other and
// compose purely through this interface.
type Detector interface {
	Name() string
	Interval() time.Duration
	Evaluate(ctx context.Context, view View) []models.Opportunity
}

// OpportunityFeed receives every published opportunity for live monitoring.
type OpportunityFeed interface {
	BroadcastOpportunity(opp models.Opportunity)
}

// Runner ticks every registered detector on its own schedule and pushes
// results into the opportunity channel and the monitoring feed.
type Runner struct {
	detectors []Detector
	view      View
	channels  *channel.Channels
	ttl       time.Duration
	feed      OpportunityFeed
	log       *logger.Entry

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

func NewRunner(view View, ch *channel.Channels, ttl time.Duration, feed OpportunityFeed, detectors ...Detector) *Runner {
	return &Runner{
		detectors: detectors,
		view:      view,
		channels:  ch,
		ttl:       ttl,
		feed:      feed,
		log:       logger.GetLogger().WithComponent("detector_runner"),
	}
}

func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return nil
	}
	r.running = true
	r.ctx, r.cancel = context.WithCancel(ctx)
	for _, d := range r.detectors {
		r.wg.Add(1)
		go r.tick(r.ctx, d)
	}
	r.log.WithFields(logger.Fields{"detectors": len(r.detectors)}).Info("detector runner started")
	return nil
}

func (r *Runner) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	r.cancel()
	r.mu.Unlock()
	r.wg.Wait()
	r.log.Info("detector runner stopped")
}

func (r *Runner) tick(ctx context.Context, d Detector) {
	defer r.wg.Done()
	ticker := time.NewTicker(d.Interval())
	defer ticker.Stop()

	log := r.log.WithFields(logger.Fields{"detector": d.Name()})
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			start := time.Now()
			opps := d.Evaluate(ctx, r.view)
			for i := range opps {
				r.publish(ctx, &opps[i])
			}
			if len(opps) > 0 {
				logger.LogPerformanceEntry(log, d.Name(), "evaluate", time.Since(start),
					logger.Fields{"opportunities": len(opps)})
			}
		}
	}
}

func (r *Runner) publish(ctx context.Context, opp *models.Opportunity) {
	if opp.Deadline.IsZero() {
		opp.Deadline = opp.DiscoveredAt.Add(r.ttl)
	}
	if r.channels.SendOpportunity(ctx, *opp) {
		metrics.IncrementOpportunity(string(opp.Kind))
		logger.IncrementOpportunityFound()
		if r.feed != nil {
			r.feed.BroadcastOpportunity(*opp)
		}
	}
}
