package monitorfeed

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gorilla/websocket"

	"arbflow/logger"
)

// ErrFeedUnavailable is returned once the client has exhausted its
// reconnect budget. The consumer decides whether to give up or start a
// fresh client.
var ErrFeedUnavailable = errors.New("monitor feed unavailable after retries")

// Client subscribes to a monitor feed and re-dials on disconnect. Unlike
// the exchange supervisors, feed consumers retry only a few times before
// declaring the feed unavailable; the feed is an auxiliary surface and
// must not be waited on forever.
type Client struct {
	url        string
	maxRetries int
	retryDelay time.Duration
	log        *logger.Entry
	updates    chan Update
}

func NewClient(url string, maxRetries int, retryDelay time.Duration) *Client {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryDelay <= 0 {
		retryDelay = time.Second
	}
	return &Client{
		url:        url,
		maxRetries: maxRetries,
		retryDelay: retryDelay,
		log:        logger.GetLogger().WithComponent("feed_client"),
		updates:    make(chan Update, 256),
	}
}

// Updates yields the frames received from the feed. Closed when Run
// returns.
func (c *Client) Updates() <-chan Update {
	return c.updates
}

// Run consumes the feed until the context ends or the retry budget is
// spent, in which case it returns ErrFeedUnavailable.
func (c *Client) Run(ctx context.Context) error {
	defer close(c.updates)

	failures := 0
	for {
		if ctx.Err() != nil {
			return nil
		}

		conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
		if err != nil {
			failures++
			if failures > c.maxRetries {
				c.log.WithError(err).Error("feed retry budget exhausted")
				return fmt.Errorf("%w: %v", ErrFeedUnavailable, err)
			}
			c.log.WithError(err).WithFields(logger.Fields{
				"attempt": failures,
				"of":      c.maxRetries,
			}).Warn("feed dial failed")
			if !waitOrDone(ctx, c.retryDelay) {
				return nil
			}
			continue
		}

		failures = 0
		c.pump(ctx, conn)
		conn.Close()
	}
}

func (c *Client) pump(ctx context.Context, conn *websocket.Conn) {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()
	defer close(done)

	for {
		var update Update
		if err := conn.ReadJSON(&update); err != nil {
			if ctx.Err() == nil {
				c.log.WithError(err).Warn("feed connection lost")
			}
			return
		}
		select {
		case c.updates <- update:
		case <-ctx.Done():
			return
		default:
			// consumer is behind, shed the frame
		}
	}
}

func waitOrDone(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
