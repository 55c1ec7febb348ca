package channel

import (
	"context"
	"sync"
	"time"

	"arbflow/internal/metrics"
	"arbflow/logger"
	"arbflow/models"
)

// QuoteEvent is what a connection supervisor forwards into the store writer:
// a quote, optionally accompanied by depth and funding updates.
type QuoteEvent struct {
	Quote   models.Quote
	Book    *models.OrderBookSnapshot
	Funding *models.FundingRate
}

type Stats struct {
	QuotesSent           int64
	QuotesDropped        int64
	OpportunitiesSent    int64
	OpportunitiesDropped int64
}

// Channels bundles the two queues every component communicates through:
// supervisors feed quotes in, detectors feed opportunities out. No component
// calls another directly.
type Channels struct {
	Quotes        chan QuoteEvent
	Opportunities chan models.Opportunity

	stats      Stats
	statsMutex sync.RWMutex
	log        *logger.Log
}

func NewChannels(quoteBuffer, opportunityBuffer int) *Channels {
	log := logger.GetLogger()
	c := &Channels{
		Quotes:        make(chan QuoteEvent, quoteBuffer),
		Opportunities: make(chan models.Opportunity, opportunityBuffer),
		log:           log,
	}

	log.WithComponent("channels").WithFields(logger.Fields{
		"quote_buffer":       quoteBuffer,
		"opportunity_buffer": opportunityBuffer,
	}).Info("channels initialized")

	return c
}

func (c *Channels) Close() {
	close(c.Quotes)
	close(c.Opportunities)
	c.log.WithComponent("channels").Info("channels closed")
}

// SendQuote enqueues non-blockingly; a full buffer drops the event rather
// than stalling the feed reader.
func (c *Channels) SendQuote(ctx context.Context, ev QuoteEvent) bool {
	select {
	case c.Quotes <- ev:
		c.statsMutex.Lock()
		c.stats.QuotesSent++
		c.statsMutex.Unlock()
		return true
	case <-ctx.Done():
		return false
	default:
		c.statsMutex.Lock()
		c.stats.QuotesDropped++
		c.statsMutex.Unlock()
		return false
	}
}

// SendOpportunity enqueues non-blockingly; detectors re-discover an
// opportunity on the next tick, so dropping under pressure is safe.
func (c *Channels) SendOpportunity(ctx context.Context, opp models.Opportunity) bool {
	select {
	case c.Opportunities <- opp:
		c.statsMutex.Lock()
		c.stats.OpportunitiesSent++
		c.statsMutex.Unlock()
		return true
	case <-ctx.Done():
		return false
	default:
		c.statsMutex.Lock()
		c.stats.OpportunitiesDropped++
		c.statsMutex.Unlock()
		return false
	}
}

func (c *Channels) GetStats() Stats {
	c.statsMutex.RLock()
	defer c.statsMutex.RUnlock()
	return c.stats
}

// StartMetricsReporting periodically reports queue depth and drop counters.
func (c *Channels) StartMetricsReporting(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	log := c.log.WithComponent("channels")
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := c.GetStats()
			log.WithFields(logger.Fields{
				"quotes_len":            len(c.Quotes),
				"opportunities_len":     len(c.Opportunities),
				"quotes_sent":           stats.QuotesSent,
				"quotes_dropped":        stats.QuotesDropped,
				"opportunities_sent":    stats.OpportunitiesSent,
				"opportunities_dropped": stats.OpportunitiesDropped,
			}).Debug("channel stats")
			logger.RecordChannelMessage("quotes", len(c.Quotes))
			logger.RecordChannelMessage("opportunities", len(c.Opportunities))
			metrics.SetChannelDepth("quotes", len(c.Quotes))
			metrics.SetChannelDepth("opportunities", len(c.Opportunities))
		}
	}
}
