package supervisor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"arbflow/config"
	"arbflow/internal/channel"
	"arbflow/internal/connector"
	"arbflow/internal/marketstore"
	"arbflow/internal/metrics"
	"arbflow/logger"
	"arbflow/models"
)

// Supervisor owns the lifecycle of a single exchange feed. It drives the
// connector through connect, serve and reconnect, watches the heartbeat,
// and forwards events into the quote channel. The feed moves through
// DISCONNECTED -> CONNECTING -> CONNECTED and, on trouble, DEGRADED or
// RECONNECTING. Retries are unlimited with capped backoff.
// StateFeed receives every feed state transition for live monitoring.
type StateFeed interface {
	BroadcastState(exchange string, state models.ConnectionState)
}

type Supervisor struct {
	conn     connector.Connector
	cfg      config.ExchangeConfig
	market   models.MarketType
	symbols  []string
	channels *channel.Channels
	store    *marketstore.Store
	backoff  *Backoff
	feed     StateFeed
	log      *logger.Entry

	state     atomic.Int32
	lastEvent atomic.Int64

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

func New(conn connector.Connector, cfg config.ExchangeConfig, market models.MarketType,
	symbols []string, ch *channel.Channels, store *marketstore.Store, feed StateFeed,
	backoffCfg config.BackoffConfig) *Supervisor {
	s := &Supervisor{
		conn:     conn,
		cfg:      cfg,
		market:   market,
		symbols:  symbols,
		channels: ch,
		store:    store,
		feed:     feed,
		backoff:  NewBackoff(backoffCfg),
		log: logger.GetLogger().WithComponent("supervisor").WithFields(logger.Fields{
			"exchange": cfg.ID,
			"market":   string(market),
		}),
	}
	s.state.Store(int32(models.StateDisconnected))
	return s
}

// Name identifies the supervised feed, unique per exchange and market.
func (s *Supervisor) Name() string {
	return fmt.Sprintf("%s/%s", s.cfg.ID, s.market)
}

// State returns the current feed state.
func (s *Supervisor) State() models.ConnectionState {
	return models.ConnectionState(s.state.Load())
}

func (s *Supervisor) setState(st models.ConnectionState) {
	old := models.ConnectionState(s.state.Swap(int32(st)))
	if old != st {
		metrics.SetConnectionState(s.cfg.ID, int32(st))
		if s.feed != nil {
			s.feed.BroadcastState(s.cfg.ID, st)
		}
		s.log.WithFields(logger.Fields{"from": old.String(), "to": st.String()}).Info("feed state changed")
	}
}

// Start launches the supervision loop.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("supervisor %s already running", s.Name())
	}
	if len(s.symbols) == 0 {
		return fmt.Errorf("supervisor %s: no symbols resolved", s.Name())
	}
	s.running = true
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.run(s.ctx)
	s.log.WithFields(logger.Fields{"symbols": len(s.symbols)}).Info("supervisor started")
	return nil
}

// Stop halts supervision and closes the feed. Blocks until the loop exits.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.cancel()
	s.mu.Unlock()

	s.wg.Wait()
	s.conn.Close()
	s.setState(models.StateDisconnected)
	s.log.Info("supervisor stopped")
}

func (s *Supervisor) run(ctx context.Context) {
	defer s.wg.Done()

	for {
		s.setState(models.StateConnecting)
		metrics.IncrementReconnect(s.cfg.ID)

		err := s.conn.Connect(ctx, s.symbols)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			delay := s.backoff.Next()
			s.log.WithError(err).WithFields(logger.Fields{
				"retry_in": delay.String(),
				"attempt":  s.backoff.Attempts(),
			}).Warn("feed connect failed")
			s.setState(models.StateReconnecting)
			if !sleep(ctx, delay) {
				return
			}
			continue
		}

		s.setState(models.StateConnected)
		s.backoff.Reset()
		s.lastEvent.Store(time.Now().UnixNano())

		s.serve(ctx)
		s.conn.Close()

		if ctx.Err() != nil {
			return
		}
		delay := s.backoff.Next()
		s.log.WithFields(logger.Fields{"retry_in": delay.String()}).Warn("feed lost, reconnecting")
		s.setState(models.StateReconnecting)
		if !sleep(ctx, delay) {
			return
		}
	}
}

// serve pumps connector events into the quote channel until the feed fails
// or the context ends. A feed that stays silent past the heartbeat goes
// DEGRADED; past the grace period its quotes are purged and the connection
// is abandoned.
func (s *Supervisor) serve(ctx context.Context) {
	watchdog := time.NewTicker(s.cfg.Heartbeat / 2)
	defer watchdog.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case err, ok := <-s.conn.Errors():
			if !ok {
				return
			}
			s.log.WithError(err).Error("feed error")
			return

		case ev, ok := <-s.conn.Events():
			if !ok {
				return
			}
			s.lastEvent.Store(time.Now().UnixNano())
			ev.Quote.Degraded = s.State() == models.StateDegraded
			if ev.Quote.Degraded {
				s.setState(models.StateConnected)
			}
			s.channels.SendQuote(ctx, ev)

		case <-watchdog.C:
			idle := time.Since(time.Unix(0, s.lastEvent.Load()))
			switch {
			case idle > s.cfg.GracePeriod:
				s.log.WithFields(logger.Fields{"idle": idle.String()}).Error("grace period exceeded, purging quotes")
				s.store.PurgeExchange(s.cfg.ID)
				return
			case idle > s.cfg.Heartbeat && s.State() == models.StateConnected:
				s.log.WithFields(logger.Fields{"idle": idle.String()}).Warn("heartbeat missed, feed degraded")
				s.setState(models.StateDegraded)
			}
		}
	}
}

// sleep waits for d or until ctx ends, reporting whether the full wait
// elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
