package models

import (
	"time"
)

// MarketType identifies which market a symbol trades on.
type MarketType string

const (
	MarketSpot    MarketType = "spot"
	MarketFutures MarketType = "futures"
	MarketMargin  MarketType = "margin"
)

// Quote is the latest top-of-book state for one (exchange, symbol) key.
// Timestamps are monotonic per key: the store discards anything older than
// what it already holds.
type Quote struct {
	Exchange  string     `json:"exchange"`
	Symbol    string     `json:"symbol"`
	Market    MarketType `json:"market,omitempty"`
	Bid       float64    `json:"bid"`
	Ask       float64    `json:"ask"`
	BidSize   float64    `json:"bid_size"`
	AskSize   float64    `json:"ask_size"`
	Timestamp time.Time  `json:"timestamp"`
	// Degraded marks quotes received while the connection was in a
	// lower-confidence state (missed heartbeats, protocol errors).
	Degraded bool `json:"degraded,omitempty"`
}

// Mid returns the midpoint price, or 0 when either side is missing.
func (q Quote) Mid() float64 {
	if q.Bid <= 0 || q.Ask <= 0 {
		return 0
	}
	return (q.Bid + q.Ask) / 2
}

// Crossed reports whether the quote is internally inconsistent (bid >= ask).
func (q Quote) Crossed() bool {
	return q.Bid > 0 && q.Ask > 0 && q.Bid >= q.Ask
}

// BookLevel is a single price level of an order book side.
type BookLevel struct {
	Price    float64 `json:"price"`
	Quantity float64 `json:"quantity"`
}

// OrderBookSnapshot holds sorted depth for one (exchange, symbol) key.
// Bids descend, asks ascend. Sequence is zero when the feed does not
// provide one.
type OrderBookSnapshot struct {
	Exchange  string      `json:"exchange"`
	Symbol    string      `json:"symbol"`
	Market    MarketType  `json:"market,omitempty"`
	Bids      []BookLevel `json:"bids"`
	Asks      []BookLevel `json:"asks"`
	Sequence  int64       `json:"sequence,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// BestBid returns the top bid level, ok=false on an empty side.
func (s *OrderBookSnapshot) BestBid() (BookLevel, bool) {
	if len(s.Bids) == 0 {
		return BookLevel{}, false
	}
	return s.Bids[0], true
}

// BestAsk returns the top ask level, ok=false on an empty side.
func (s *OrderBookSnapshot) BestAsk() (BookLevel, bool) {
	if len(s.Asks) == 0 {
		return BookLevel{}, false
	}
	return s.Asks[0], true
}

// FundingRate is the most recent funding information for a perpetual
// contract, used by the basis detector when the feed provides it.
type FundingRate struct {
	Exchange    string    `json:"exchange"`
	Symbol      string    `json:"symbol"`
	Rate        float64   `json:"rate"`
	NextFunding time.Time `json:"next_funding"`
	Timestamp   time.Time `json:"timestamp"`
}
