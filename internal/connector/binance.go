package connector

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"arbflow/config"
	"arbflow/logger"
	"arbflow/models"
)

// BinanceConnector serves spot and futures quotes from the combined
// bookTicker stream and symbol metadata from the exchangeInfo endpoint.
type BinanceConnector struct {
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

func NewBinanceConnector(cfg config.ExchangeConfig, market models.MarketType) *BinanceConnector {
	return &BinanceConnector{
		cfg:     cfg,
		market:  market,
		log:     logger.GetLogger().WithComponent("binance_connector").WithFields(logger.Fields{"market": string(market)}),
		limiter: rate.NewLimiter(rate.Limit(cfg.RateBudget), 1),
		events:  make(chan Event, 1024),
		errs:    make(chan error, 4),
	}
}

func (c *BinanceConnector) Name() string { return c.cfg.ID }

func (c *BinanceConnector) Events() <-chan Event { return c.events }

func (c *BinanceConnector) Errors() <-chan error { return c.errs }

func (c *BinanceConnector) FetchMarkets(ctx context.Context) ([]models.SymbolMeta, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	start := time.Now()
	var metas []models.SymbolMeta
	var err error
	switch c.market {
	case models.MarketFutures:
		metas, err = c.fetchFuturesMarkets(ctx)
	default:
		metas, err = c.fetchSpotMarkets(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("binance exchangeInfo: %w", err)
	}
	logger.LogPerformanceEntry(c.log, "binance_connector", "fetch_markets",
		time.Since(start), logger.Fields{"symbols": len(metas), "market": string(c.market)})
	return metas, nil
}

func (c *BinanceConnector) fetchSpotMarkets(ctx context.Context) ([]models.SymbolMeta, error) {
	client := binance.NewClient("", "")
	if c.cfg.RESTURL != "" {
		client.BaseURL = c.cfg.RESTURL
	}
	res, err := client.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return nil, err
	}
	metas := make([]models.SymbolMeta, 0, len(res.Symbols))
	for _, s := range res.Symbols {
		if s.Status != "TRADING" {
			continue
		}
		meta := models.SymbolMeta{
			Exchange:        c.cfg.ID,
			Native:          s.Symbol,
			Base:            s.BaseAsset,
			Quote:           s.QuoteAsset,
			Market:          models.MarketSpot,
			PricePrecision:  s.QuotePrecision,
			AmountPrecision: s.BaseAssetPrecision,
		}
		meta.MinCost = minNotionalFromFilters(s.Filters)
		metas = append(metas, meta)
	}
	return metas, nil
}

func (c *BinanceConnector) fetchFuturesMarkets(ctx context.Context) ([]models.SymbolMeta, error) {
	client := futures.NewClient("", "")
	if c.cfg.RESTURL != "" {
		client.BaseURL = c.cfg.RESTURL
	}
	res, err := client.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return nil, err
	}
	metas := make([]models.SymbolMeta, 0, len(res.Symbols))
	for _, s := range res.Symbols {
		if s.Status != "TRADING" {
			continue
		}
		metas = append(metas, models.SymbolMeta{
			Exchange:        c.cfg.ID,
			Native:          s.Symbol,
			Base:            s.BaseAsset,
			Quote:           s.QuoteAsset,
			Market:          models.MarketFutures,
			PricePrecision:  s.PricePrecision,
			AmountPrecision: s.QuantityPrecision,
			MaxLeverage:     125,
		})
	}
	return metas, nil
}

// wsBase returns the combined-stream endpoint for the configured market.
// The config carries the spot endpoint; futures uses its own host.
func (c *BinanceConnector) wsBase() string {
	if c.market == models.MarketFutures {
		return "wss://fstream.binance.com/stream"
	}
	return c.cfg.WSURL
}

func (c *BinanceConnector) Connect(ctx context.Context, symbols []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return fmt.Errorf("binance connector already connected")
	}
	if len(symbols) == 0 {
		return fmt.Errorf("binance connector: no symbols to subscribe")
	}

	streams := make([]string, 0, len(symbols))
	for _, s := range symbols {
		streams = append(streams, strings.ToLower(s)+"@bookTicker")
	}
	url := fmt.Sprintf("%s?streams=%s", c.wsBase(), strings.Join(streams, "/"))

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("binance dial: %w", err)
	}
	c.conn = conn
	c.running = true

	loopCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	go c.readLoop(loopCtx, conn)

	c.log.WithFields(logger.Fields{"symbols": len(symbols)}).Info("connected to binance stream")
	return nil
}

// binanceTicker is the combined-stream bookTicker payload.
type binanceTicker struct {
	Stream string `json:"stream"`
	Data   struct {
		UpdateID int64  `json:"u"`
		Symbol   string `json:"s"`
		Bid      string `json:"b"`
		BidSize  string `json:"B"`
		Ask      string `json:"a"`
		AskSize  string `json:"A"`
		// futures streams carry an event time, spot does not
		EventTime int64 `json:"E"`
	} `json:"data"`
}

func (c *BinanceConnector) readLoop(ctx context.Context, conn *websocket.Conn) {
	deadline := 2 * c.cfg.Heartbeat
	conn.SetReadDeadline(time.Now().Add(deadline))
	conn.SetPingHandler(func(data string) error {
		conn.SetReadDeadline(time.Now().Add(deadline))
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(5*time.Second))
	})

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		_, raw, err := conn.ReadMessage()
		if err != nil {
			c.emitError(ctx, fmt.Errorf("binance read: %w", err))
			return
		}
		conn.SetReadDeadline(time.Now().Add(deadline))

		var msg binanceTicker
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.log.WithError(err).Warn("malformed binance frame, skipping")
			continue
		}
		if msg.Data.Symbol == "" {
			continue
		}

		ts := time.Now()
		if msg.Data.EventTime > 0 {
			ts = time.UnixMilli(msg.Data.EventTime)
		}
		quote := models.Quote{
			Exchange:  c.cfg.ID,
			Symbol:    msg.Data.Symbol,
			Market:    c.market,
			Bid:       parseFloat(msg.Data.Bid),
			Ask:       parseFloat(msg.Data.Ask),
			BidSize:   parseFloat(msg.Data.BidSize),
			AskSize:   parseFloat(msg.Data.AskSize),
			Timestamp: ts,
		}
		if quote.Bid <= 0 || quote.Ask <= 0 {
			continue
		}

		select {
		case c.events <- Event{Quote: quote}:
		case <-ctx.Done():
			return
		default:
			c.log.Warn("binance event buffer full, dropping update")
		}
	}
}

func (c *BinanceConnector) emitError(ctx context.Context, err error) {
	select {
	case c.errs <- err:
	case <-ctx.Done():
	default:
	}
}

func (c *BinanceConnector) Close() error {
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
	c.log.Info("binance connector closed")
	return nil
}
