package monitorfeed

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"arbflow/config"
	"arbflow/logger"
	"arbflow/models"
)

// Update is one frame pushed to feed subscribers.
type Update struct {
	Type      string            `json:"type"` // quote | opportunity | state
	Exchange  string            `json:"exchange,omitempty"`
	Symbol    string            `json:"symbol,omitempty"`
	Market    models.MarketType `json:"market,omitempty"`
	Bid       float64           `json:"bid,omitempty"`
	Ask       float64           `json:"ask,omitempty"`
	Price     float64           `json:"price,omitempty"`
	State     string            `json:"state,omitempty"`
	Kind      string            `json:"kind,omitempty"`
	Profit    float64           `json:"profit_rate,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// Server hosts the Gin-powered websocket feed that mirrors every accepted
// quote update and detected opportunity to external monitors.
type Server struct {
	cfg        config.FeedConfig
	log        *logger.Entry
	upgrader   websocket.Upgrader
	httpServer *http.Server

	mu      sync.Mutex
	clients map[*subscriber]struct{}
}

// subscriber is one connected feed consumer with a bounded send queue.
// A consumer that cannot keep up is dropped rather than letting it stall
// the broadcast path.
type subscriber struct {
	conn *websocket.Conn
	send chan Update
}

func NewServer(cfg config.FeedConfig) *Server {
	if !cfg.Enabled {
		return nil
	}
	return &Server{
		cfg:      cfg,
		log:      logger.GetLogger().WithComponent("monitor_feed"),
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		clients:  make(map[*subscriber]struct{}),
	}
}

// Run serves the feed until the context is cancelled. A nil server (feed
// disabled) returns immediately.
func (s *Server) Run(ctx context.Context) error {
	if s == nil {
		return nil
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.GET(s.cfg.Path, s.handleWS)

	s.httpServer = &http.Server{Addr: s.cfg.Address, Handler: router}

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	s.log.WithFields(logger.Fields{"address": s.cfg.Address, "path": s.cfg.Path}).Info("monitor feed listening")

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.closeAll()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleWS(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.WithError(err).Warn("feed upgrade failed")
		return
	}

	sub := &subscriber{conn: conn, send: make(chan Update, 256)}
	s.mu.Lock()
	s.clients[sub] = struct{}{}
	count := len(s.clients)
	s.mu.Unlock()
	s.log.WithFields(logger.Fields{"clients": count}).Info("feed subscriber connected")

	go s.writePump(sub)
	s.readPump(sub)
}

// readPump exists to notice the peer going away; inbound frames carry no
// meaning on this feed.
func (s *Server) readPump(sub *subscriber) {
	defer s.drop(sub)
	for {
		if _, _, err := sub.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) writePump(sub *subscriber) {
	for update := range sub.send {
		sub.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := sub.conn.WriteJSON(update); err != nil {
			s.drop(sub)
			return
		}
	}
	sub.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(time.Second))
	sub.conn.Close()
}

func (s *Server) drop(sub *subscriber) {
	s.mu.Lock()
	if _, ok := s.clients[sub]; ok {
		delete(s.clients, sub)
		close(sub.send)
	}
	s.mu.Unlock()
	sub.conn.Close()
}

func (s *Server) closeAll() {
	s.mu.Lock()
	for sub := range s.clients {
		delete(s.clients, sub)
		close(sub.send)
	}
	s.mu.Unlock()
}

// broadcast fans the update out to every subscriber, skipping any whose
// queue is full.
func (s *Server) broadcast(update Update) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for sub := range s.clients {
		select {
		case sub.send <- update:
		default:
		}
	}
}

// BroadcastQuote mirrors an accepted quote update to all subscribers.
func (s *Server) BroadcastQuote(q models.Quote) {
	s.broadcast(Update{
		Type:      "quote",
		Exchange:  q.Exchange,
		Symbol:    q.Symbol,
		Market:    q.Market,
		Bid:       q.Bid,
		Ask:       q.Ask,
		Price:     q.Mid(),
		Timestamp: q.Timestamp,
	})
}

// BroadcastOpportunity mirrors a detected opportunity to all subscribers.
func (s *Server) BroadcastOpportunity(opp models.Opportunity) {
	s.broadcast(Update{
		Type:      "opportunity",
		Kind:      string(opp.Kind),
		Profit:    opp.ProfitRate,
		Timestamp: opp.DiscoveredAt,
	})
}

// BroadcastState mirrors a feed state change to all subscribers.
func (s *Server) BroadcastState(exchange string, state models.ConnectionState) {
	s.broadcast(Update{
		Type:      "state",
		Exchange:  exchange,
		State:     state.String(),
		Timestamp: time.Now(),
	})
}
