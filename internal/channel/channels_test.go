package channel

import (
	"context"
	"testing"

	"arbflow/models"
)

func TestSendQuoteDropsWhenFull(t *testing.T) {
	c := NewChannels(1, 1)
	defer c.Close()
	ctx := context.Background()

	if !c.SendQuote(ctx, QuoteEvent{}) {
		t.Fatalf("first send should succeed")
	}
	if c.SendQuote(ctx, QuoteEvent{}) {
		t.Fatalf("second send should drop on full buffer")
	}

	stats := c.GetStats()
	if stats.QuotesSent != 1 || stats.QuotesDropped != 1 {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestSendOpportunityCancelled(t *testing.T) {
	c := NewChannels(1, 1)
	defer c.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// full buffer plus cancelled context: must not block
	c.Opportunities <- models.Opportunity{}
	if c.SendOpportunity(ctx, models.Opportunity{}) {
		t.Fatalf("send on cancelled context should fail")
	}
}
