package connector

import (
	"context"
	"fmt"

	"arbflow/config"
	"arbflow/internal/channel"
	"arbflow/models"
)

// Event is one typed update from an exchange feed. Timestamps are
// exchange-supplied where the feed provides them and locally stamped
// otherwise; either way they are monotonic per symbol as far as the venue
// guarantees.
type Event = channel.QuoteEvent

// Connector is the wire-protocol boundary the supervisors drive. One
// instance serves one exchange. Connect establishes the feed and starts
// delivering into Events; a protocol failure surfaces on Errors and the
// supervisor decides whether to reconnect. Implementations never reconnect
// on their own.
type Connector interface {
	Name() string

	// FetchMarkets returns the venue's raw symbol metadata for the
	// resolver. Safe to call while disconnected.
	FetchMarkets(ctx context.Context) ([]models.SymbolMeta, error)

	// Connect dials the feed and subscribes the given native symbols.
	// Returns an error when the feed cannot be established; success means
	// events are flowing until Close or a feed error.
	Connect(ctx context.Context, symbols []string) error

	// Events yields quote/depth/funding updates while connected.
	Events() <-chan Event

	// Errors yields feed-level failures. The supervisor treats any error
	// as the end of the current connection.
	Errors() <-chan error

	// Close tears the current connection down. Idempotent.
	Close() error
}

// For builds the connector for a configured exchange and market type.
func For(cfg config.ExchangeConfig, market models.MarketType) (Connector, error) {
	switch cfg.ID {
	case "binance":
		return NewBinanceConnector(cfg, market), nil
	case "bybit":
		return NewBybitConnector(cfg, market), nil
	case "kucoin":
		if market != models.MarketSpot {
			return nil, fmt.Errorf("kucoin: market %s not supported", market)
		}
		return NewKucoinConnector(cfg), nil
	default:
		return nil, fmt.Errorf("unknown exchange %q", cfg.ID)
	}
}
