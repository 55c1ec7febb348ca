package ingest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"arbflow/internal/channel"
	"arbflow/internal/marketstore"
	"arbflow/internal/metrics"
	"arbflow/internal/monitorfeed"
	"arbflow/internal/symbols"
	"arbflow/logger"
)

// Pump drains the quote channel into the market store. It is the single
// writer path: symbol names are canonicalized here, monotonicity is
// enforced by the store, and accepted updates are mirrored to the monitor
// feed. Supervisors stay decoupled from storage entirely.
type Pump struct {
	channels *channel.Channels
	store    *marketstore.Store
	feed     *monitorfeed.Server
	workers  int
	log      *logger.Entry

	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool

	quotesApplied int64
	quotesDropped int64
}

func NewPump(ch *channel.Channels, store *marketstore.Store, feed *monitorfeed.Server, workers int) *Pump {
	if workers < 1 {
		workers = 1
	}
	return &Pump{
		channels: ch,
		store:    store,
		feed:     feed,
		workers:  workers,
		log:      logger.GetLogger().WithComponent("ingest_pump"),
	}
}

func (p *Pump) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return fmt.Errorf("ingest pump already running")
	}
	p.running = true
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.mu.Unlock()

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(runCtx)
	}
	go p.metricsReporter(runCtx)

	p.log.WithFields(logger.Fields{"workers": p.workers}).Info("ingest pump started")
	return nil
}

func (p *Pump) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	p.cancel()
	p.mu.Unlock()
	p.wg.Wait()
	p.log.WithFields(logger.Fields{
		"applied": atomic.LoadInt64(&p.quotesApplied),
		"dropped": atomic.LoadInt64(&p.quotesDropped),
	}).Info("ingest pump stopped")
}

func (p *Pump) worker(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-p.channels.Quotes:
			if !ok {
				return
			}
			p.apply(ev)
		}
	}
}

func (p *Pump) apply(ev channel.QuoteEvent) {
	if ev.Book != nil {
		book := *ev.Book
		book.Symbol = symbols.ToCanonical(book.Exchange, book.Symbol)
		p.store.UpsertBook(book)
	}
	if ev.Funding != nil {
		funding := *ev.Funding
		funding.Symbol = symbols.ToCanonical(funding.Exchange, funding.Symbol)
		p.store.UpsertFunding(funding)
	}
	if ev.Quote.Symbol == "" {
		return
	}

	q := ev.Quote
	q.Symbol = symbols.ToCanonical(q.Exchange, q.Symbol)
	if !p.store.UpsertQuote(q) {
		atomic.AddInt64(&p.quotesDropped, 1)
		metrics.IncrementStaleQuoteDrop(q.Exchange)
		return
	}
	atomic.AddInt64(&p.quotesApplied, 1)
	metrics.IncrementQuoteUpdate(q.Exchange)
	logger.IncrementQuoteUpdate(1)
	p.feed.BroadcastQuote(q)
}

func (p *Pump) metricsReporter(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.log.WithFields(logger.Fields{
				"applied": atomic.LoadInt64(&p.quotesApplied),
				"dropped": atomic.LoadInt64(&p.quotesDropped),
			}).Debug("ingest throughput")
		}
	}
}
