package connector

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	bybit "github.com/bybit-exchange/bybit.go.api"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"arbflow/config"
	"arbflow/logger"
	"arbflow/models"
)

// BybitConnector serves quotes from the v5 public orderbook.1 topic and
// symbol metadata from the unified-account instruments endpoint.
type BybitConnector struct {
	cfg     config.ExchangeConfig
	market  models.MarketType
	log     *logger.Entry
	limiter *rate.Limiter

	events chan Event
	errs   chan error

	mu      sync.Mutex
	conn    *websocket.Conn
	cancel  context.CancelFunc
	running bool
}

func NewBybitConnector(cfg config.ExchangeConfig, market models.MarketType) *BybitConnector {
	return &BybitConnector{
		cfg:     cfg,
		market:  market,
		log:     logger.GetLogger().WithComponent("bybit_connector").WithFields(logger.Fields{"market": string(market)}),
		limiter: rate.NewLimiter(rate.Limit(cfg.RateBudget), 1),
		events:  make(chan Event, 1024),
		errs:    make(chan error, 4),
	}
}

func (c *BybitConnector) Name() string { return c.cfg.ID }

func (c *BybitConnector) Events() <-chan Event { return c.events }

func (c *BybitConnector) Errors() <-chan error { return c.errs }

func (c *BybitConnector) category() string {
	if c.market == models.MarketFutures {
		return "linear"
	}
	return "spot"
}

// bybitInstrument mirrors the fields of the instruments-info response we
// care about. The SDK hands the result back untyped, so we round-trip it
// through JSON the same way the REST docs shape it.
type bybitInstrument struct {
	Symbol      string `json:"symbol"`
	BaseCoin    string `json:"baseCoin"`
	QuoteCoin   string `json:"quoteCoin"`
	Status      string `json:"status"`
	PriceFilter struct {
		TickSize string `json:"tickSize"`
	} `json:"priceFilter"`
	LotSizeFilter struct {
		BasePrecision string `json:"basePrecision"`
		QtyStep       string `json:"qtyStep"`
		MinOrderAmt   string `json:"minOrderAmt"`
	} `json:"lotSizeFilter"`
	LeverageFilter struct {
		MaxLeverage string `json:"maxLeverage"`
	} `json:"leverageFilter"`
}

func (c *BybitConnector) FetchMarkets(ctx context.Context) ([]models.SymbolMeta, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	start := time.Now()

	client := bybit.NewBybitHttpClient("", "", bybit.WithBaseURL(c.cfg.RESTURL))
	params := map[string]interface{}{"category": c.category(), "limit": 1000}
	resp, err := client.NewUtaBybitServiceWithParams(params).GetInstrumentInfo(ctx)
	if err != nil {
		return nil, fmt.Errorf("bybit instruments-info: %w", err)
	}
	if resp.RetCode != 0 {
		return nil, fmt.Errorf("bybit instruments-info: ret_code=%d msg=%s", resp.RetCode, resp.RetMsg)
	}

	raw, err := json.Marshal(resp.Result)
	if err != nil {
		return nil, fmt.Errorf("bybit instruments-info result: %w", err)
	}
	var result struct {
		List []bybitInstrument `json:"list"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("bybit instruments-info result: %w", err)
	}

	metas := make([]models.SymbolMeta, 0, len(result.List))
	for _, inst := range result.List {
		if inst.Status != "Trading" {
			continue
		}
		meta := models.SymbolMeta{
			Exchange:       c.cfg.ID,
			Native:         inst.Symbol,
			Base:           inst.BaseCoin,
			Quote:          inst.QuoteCoin,
			Market:         c.market,
			PricePrecision: precisionFromStep(inst.PriceFilter.TickSize),
			MinCost:        parseFloat(inst.LotSizeFilter.MinOrderAmt),
		}
		if step := inst.LotSizeFilter.BasePrecision; step != "" {
			meta.AmountPrecision = precisionFromStep(step)
		} else {
			meta.AmountPrecision = precisionFromStep(inst.LotSizeFilter.QtyStep)
		}
		if lev := parseFloat(inst.LeverageFilter.MaxLeverage); lev > 0 {
			meta.MaxLeverage = lev
		}
		metas = append(metas, meta)
	}

	logger.LogPerformanceEntry(c.log, "bybit_connector", "fetch_markets",
		time.Since(start), logger.Fields{"symbols": len(metas), "category": c.category()})
	return metas, nil
}

func (c *BybitConnector) wsURL() string {
	base := strings.TrimSuffix(c.cfg.WSURL, "/spot")
	return base + "/" + c.category()
}

func (c *BybitConnector) Connect(ctx context.Context, symbols []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return fmt.Errorf("bybit connector already connected")
	}
	if len(symbols) == 0 {
		return fmt.Errorf("bybit connector: no symbols to subscribe")
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.wsURL(), nil)
	if err != nil {
		return fmt.Errorf("bybit dial: %w", err)
	}

	args := make([]string, 0, len(symbols))
	for _, s := range symbols {
		args = append(args, "orderbook.1."+s)
	}
	sub := map[string]interface{}{"op": "subscribe", "args": args}
	if err := conn.WriteJSON(sub); err != nil {
		conn.Close()
		return fmt.Errorf("bybit subscribe: %w", err)
	}

	c.conn = conn
	c.running = true

	loopCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	go c.readLoop(loopCtx, conn)
	go c.pingLoop(loopCtx, conn)

	c.log.WithFields(logger.Fields{"symbols": len(symbols)}).Info("connected to bybit stream")
	return nil
}

// bybitBook is the orderbook.1 frame. Level entries are [price, size]
// string pairs; depth-1 frames carry at most one entry per side.
type bybitBook struct {
	Topic string `json:"topic"`
	Type  string `json:"type"`
	TS    int64  `json:"ts"`
	Data  struct {
		Symbol   string      `json:"s"`
		Bids     [][2]string `json:"b"`
		Asks     [][2]string `json:"a"`
		UpdateID int64       `json:"u"`
		Seq      int64       `json:"seq"`
	} `json:"data"`
}

func (c *BybitConnector) readLoop(ctx context.Context, conn *websocket.Conn) {
	deadline := 2 * c.cfg.Heartbeat
	conn.SetReadDeadline(time.Now().Add(deadline))

	// depth-1 deltas omit an unchanged side, so best levels carry over
	// between frames per symbol
	lastBid := make(map[string][2]float64)
	lastAsk := make(map[string][2]float64)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		_, raw, err := conn.ReadMessage()
		if err != nil {
			c.emitError(ctx, fmt.Errorf("bybit read: %w", err))
			return
		}
		conn.SetReadDeadline(time.Now().Add(deadline))

		var msg bybitBook
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.log.WithError(err).Warn("malformed bybit frame, skipping")
			continue
		}
		if !strings.HasPrefix(msg.Topic, "orderbook.") || msg.Data.Symbol == "" {
			continue
		}

		sym := msg.Data.Symbol
		if len(msg.Data.Bids) > 0 {
			lastBid[sym] = [2]float64{parseFloat(msg.Data.Bids[0][0]), parseFloat(msg.Data.Bids[0][1])}
		}
		if len(msg.Data.Asks) > 0 {
			lastAsk[sym] = [2]float64{parseFloat(msg.Data.Asks[0][0]), parseFloat(msg.Data.Asks[0][1])}
		}
		bid, ask := lastBid[sym], lastAsk[sym]
		if bid[0] <= 0 || ask[0] <= 0 {
			continue
		}

		quote := models.Quote{
			Exchange:  c.cfg.ID,
			Symbol:    sym,
			Market:    c.market,
			Bid:       bid[0],
			BidSize:   bid[1],
			Ask:       ask[0],
			AskSize:   ask[1],
			Timestamp: time.UnixMilli(msg.TS),
		}

		select {
		case c.events <- Event{Quote: quote}:
		case <-ctx.Done():
			return
		default:
			c.log.Warn("bybit event buffer full, dropping update")
		}
	}
}

func (c *BybitConnector) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(c.cfg.Heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			err := conn.WriteJSON(map[string]string{"op": "ping"})
			c.mu.Unlock()
			if err != nil {
				c.emitError(ctx, fmt.Errorf("bybit ping: %w", err))
				return
			}
		}
	}
}

func (c *BybitConnector) emitError(ctx context.Context, err error) {
	select {
	case c.errs <- err:
	case <-ctx.Done():
	default:
	}
}

func (c *BybitConnector) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return nil
	}
	c.running = false
	if c.cancel != nil {
		c.cancel()
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.log.Info("bybit connector closed")
	return nil
}
