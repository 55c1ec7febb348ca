package connector

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"arbflow/config"
	"arbflow/logger"
	"arbflow/models"
)

// KucoinConnector serves spot quotes from the public ticker topic. The
// websocket endpoint and token come from the bullet-public handshake, so
// every Connect performs one REST round trip before dialing.
type KucoinConnector struct {
	cfg     config.ExchangeConfig
	log     *logger.Entry
	limiter *rate.Limiter
	http    *http.Client

	events chan Event
	errs   chan error

	mu      sync.Mutex
	conn    *websocket.Conn
	cancel  context.CancelFunc
	running bool
}

func NewKucoinConnector(cfg config.ExchangeConfig) *KucoinConnector {
	return &KucoinConnector{
		cfg:     cfg,
		log:     logger.GetLogger().WithComponent("kucoin_connector"),
		limiter: rate.NewLimiter(rate.Limit(cfg.RateBudget), 1),
		http:    &http.Client{Timeout: 10 * time.Second},
		events:  make(chan Event, 1024),
		errs:    make(chan error, 4),
	}
}

func (c *KucoinConnector) Name() string { return c.cfg.ID }

func (c *KucoinConnector) Events() <-chan Event { return c.events }

func (c *KucoinConnector) Errors() <-chan error { return c.errs }

type kucoinSymbol struct {
	Symbol         string `json:"symbol"`
	BaseCurrency   string `json:"baseCurrency"`
	QuoteCurrency  string `json:"quoteCurrency"`
	PriceIncrement string `json:"priceIncrement"`
	BaseIncrement  string `json:"baseIncrement"`
	MinFunds       string `json:"minFunds"`
	EnableTrading  bool   `json:"enableTrading"`
}

func (c *KucoinConnector) FetchMarkets(ctx context.Context) ([]models.SymbolMeta, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.RESTURL+"/api/v2/symbols", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("kucoin symbols: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("kucoin symbols: status %d", resp.StatusCode)
	}

	var body struct {
		Code string         `json:"code"`
		Data []kucoinSymbol `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("kucoin symbols: %w", err)
	}
	if body.Code != "200000" {
		return nil, fmt.Errorf("kucoin symbols: code %s", body.Code)
	}

	metas := make([]models.SymbolMeta, 0, len(body.Data))
	for _, s := range body.Data {
		if !s.EnableTrading {
			continue
		}
		metas = append(metas, models.SymbolMeta{
			Exchange:        c.cfg.ID,
			Native:          s.Symbol,
			Base:            s.BaseCurrency,
			Quote:           s.QuoteCurrency,
			Market:          models.MarketSpot,
			PricePrecision:  precisionFromStep(s.PriceIncrement),
			AmountPrecision: precisionFromStep(s.BaseIncrement),
			MinCost:         parseFloat(s.MinFunds),
		})
	}

	logger.LogPerformanceEntry(c.log, "kucoin_connector", "fetch_markets",
		time.Since(start), logger.Fields{"symbols": len(metas)})
	return metas, nil
}

// bulletPublic obtains the websocket endpoint, token and server ping
// interval for an unauthenticated session.
func (c *KucoinConnector) bulletPublic(ctx context.Context) (endpoint, token string, pingEvery time.Duration, err error) {
	if err = c.limiter.Wait(ctx); err != nil {
		return
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.RESTURL+"/api/v1/bullet-public", nil)
	if err != nil {
		return
	}
	resp, err := c.http.Do(req)
	if err != nil {
		err = fmt.Errorf("kucoin bullet-public: %w", err)
		return
	}
	defer resp.Body.Close()

	var body struct {
		Code string `json:"code"`
		Data struct {
			Token           string `json:"token"`
			InstanceServers []struct {
				Endpoint     string `json:"endpoint"`
				PingInterval int64  `json:"pingInterval"`
			} `json:"instanceServers"`
		} `json:"data"`
	}
	if err = json.NewDecoder(resp.Body).Decode(&body); err != nil {
		err = fmt.Errorf("kucoin bullet-public: %w", err)
		return
	}
	if body.Code != "200000" || len(body.Data.InstanceServers) == 0 {
		err = fmt.Errorf("kucoin bullet-public: code %s, %d servers", body.Code, len(body.Data.InstanceServers))
		return
	}
	srv := body.Data.InstanceServers[0]
	endpoint = srv.Endpoint
	token = body.Data.Token
	pingEvery = time.Duration(srv.PingInterval) * time.Millisecond
	if pingEvery <= 0 {
		pingEvery = c.cfg.Heartbeat
	}
	return
}

func (c *KucoinConnector) Connect(ctx context.Context, symbols []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return fmt.Errorf("kucoin connector already connected")
	}
	if len(symbols) == 0 {
		return fmt.Errorf("kucoin connector: no symbols to subscribe")
	}

	endpoint, token, pingEvery, err := c.bulletPublic(ctx)
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s?token=%s&connectId=%s", endpoint, token, uuid.NewString())
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("kucoin dial: %w", err)
	}

	// the server opens with a welcome frame before accepting subscriptions
	conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	var welcome struct {
		Type string `json:"type"`
	}
	if err := conn.ReadJSON(&welcome); err != nil || welcome.Type != "welcome" {
		conn.Close()
		return fmt.Errorf("kucoin handshake: welcome not received: %v", err)
	}

	sub := map[string]interface{}{
		"id":             uuid.NewString(),
		"type":           "subscribe",
		"topic":          "/market/ticker:" + strings.Join(symbols, ","),
		"privateChannel": false,
		"response":       true,
	}
	if err := conn.WriteJSON(sub); err != nil {
		conn.Close()
		return fmt.Errorf("kucoin subscribe: %w", err)
	}

	c.conn = conn
	c.running = true

	loopCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	go c.readLoop(loopCtx, conn, pingEvery)
	go c.pingLoop(loopCtx, conn, pingEvery)

	c.log.WithFields(logger.Fields{"symbols": len(symbols)}).Info("connected to kucoin stream")
	return nil
}

// kucoinTicker is the /market/ticker push payload.
type kucoinTicker struct {
	Type  string `json:"type"`
	Topic string `json:"topic"`
	Data  struct {
		BestBid     string `json:"bestBid"`
		BestBidSize string `json:"bestBidSize"`
		BestAsk     string `json:"bestAsk"`
		BestAskSize string `json:"bestAskSize"`
		Time        int64  `json:"time"`
	} `json:"data"`
}

func (c *KucoinConnector) readLoop(ctx context.Context, conn *websocket.Conn, pingEvery time.Duration) {
	deadline := 2 * pingEvery
	conn.SetReadDeadline(time.Now().Add(deadline))

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		_, raw, err := conn.ReadMessage()
		if err != nil {
			c.emitError(ctx, fmt.Errorf("kucoin read: %w", err))
			return
		}
		conn.SetReadDeadline(time.Now().Add(deadline))

		var msg kucoinTicker
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.log.WithError(err).Warn("malformed kucoin frame, skipping")
			continue
		}
		if msg.Type != "message" || !strings.HasPrefix(msg.Topic, "/market/ticker:") {
			continue
		}

		quote := models.Quote{
			Exchange:  c.cfg.ID,
			Symbol:    strings.TrimPrefix(msg.Topic, "/market/ticker:"),
			Market:    models.MarketSpot,
			Bid:       parseFloat(msg.Data.BestBid),
			BidSize:   parseFloat(msg.Data.BestBidSize),
			Ask:       parseFloat(msg.Data.BestAsk),
			AskSize:   parseFloat(msg.Data.BestAskSize),
			Timestamp: time.UnixMilli(msg.Data.Time),
		}
		if quote.Bid <= 0 || quote.Ask <= 0 {
			continue
		}

		select {
		case c.events <- Event{Quote: quote}:
		case <-ctx.Done():
			return
		default:
			c.log.Warn("kucoin event buffer full, dropping update")
		}
	}
}

func (c *KucoinConnector) pingLoop(ctx context.Context, conn *websocket.Conn, pingEvery time.Duration) {
	ticker := time.NewTicker(pingEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			err := conn.WriteJSON(map[string]string{"id": uuid.NewString(), "type": "ping"})
			c.mu.Unlock()
			if err != nil {
				c.emitError(ctx, fmt.Errorf("kucoin ping: %w", err))
				return
			}
		}
	}
}

func (c *KucoinConnector) emitError(ctx context.Context, err error) {
	select {
	case c.errs <- err:
	case <-ctx.Done():
	default:
	}
}

func (c *KucoinConnector) Close() error {
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
	c.log.Info("kucoin connector closed")
	return nil
}
