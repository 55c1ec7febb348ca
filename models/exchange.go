package models

import "fmt"

// ConnectionState is owned exclusively by the supervisor of one exchange.
type ConnectionState int32

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateDegraded
	StateReconnecting
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateDegraded:
		return "DEGRADED"
	case StateReconnecting:
		return "RECONNECTING"
	default:
		return fmt.Sprintf("STATE(%d)", int32(s))
	}
}

// FeeSchedule holds maker/taker rates for one exchange, expressed as
// fractions (0.001 == 10 bps).
type FeeSchedule struct {
	Maker float64 `json:"maker" yaml:"maker"`
	Taker float64 `json:"taker" yaml:"taker"`
}

// ExchangeInfo is the immutable description of a subscribed exchange.
// Connectivity state lives in the supervisor, not here.
type ExchangeInfo struct {
	ID          string       `json:"id"`
	Markets     []MarketType `json:"markets"`
	Fees        FeeSchedule  `json:"fees"`
	RateBudget  int          `json:"rate_budget"` // REST requests per second
	WeightLimit int64        `json:"weight_limit,omitempty"`
}

// SupportsMarket reports whether the exchange lists the given market type.
func (e ExchangeInfo) SupportsMarket(mt MarketType) bool {
	for _, m := range e.Markets {
		if m == mt {
			return true
		}
	}
	return false
}

// SymbolMeta is the per-exchange representation of one logical symbol as the
// venue reports it: native name plus precision and minimum-cost constraints.
type SymbolMeta struct {
	Exchange        string     `json:"exchange"`
	Native          string     `json:"native"`
	Base            string     `json:"base"`
	Quote           string     `json:"quote"`
	Market          MarketType `json:"market"`
	PricePrecision  int        `json:"price_precision"`
	AmountPrecision int        `json:"amount_precision"`
	MinCost         float64    `json:"min_cost"`
	MaxLeverage     float64    `json:"max_leverage,omitempty"`
}

// Symbol is one logical tradable pair together with every per-exchange
// representation the resolver reconciled. Precision differs per venue and is
// never collapsed to a single value.
type Symbol struct {
	Base     string                `json:"base"`
	Quote    string                `json:"quote"`
	Market   MarketType            `json:"market"`
	PerVenue map[string]SymbolMeta `json:"per_venue"`
}

// Name returns the canonical BASEQUOTE form used as store key.
func (s Symbol) Name() string {
	return s.Base + s.Quote
}

// On returns the venue-specific metadata, ok=false when the symbol is not
// listed on the exchange.
func (s Symbol) On(exchange string) (SymbolMeta, bool) {
	m, ok := s.PerVenue[exchange]
	return m, ok
}
