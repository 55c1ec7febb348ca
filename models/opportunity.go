package models

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"
)

// OpportunityKind discriminates the detector that produced an opportunity.
type OpportunityKind string

const (
	KindTriangular  OpportunityKind = "triangular"
	KindSpread      OpportunityKind = "spread"
	KindStatistical OpportunityKind = "statistical"
	KindBasis       OpportunityKind = "basis"
)

// Side of a leg.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Leg is one exchange-side trade forming part of an opportunity. Price is
// the exact top-of-book price the detector compared, not a derived value.
type Leg struct {
	Exchange string  `json:"exchange"`
	Symbol   string  `json:"symbol"`
	Side     Side    `json:"side"`
	Price    float64 `json:"price"`
	Amount   float64 `json:"amount"`
	FeeRate  float64 `json:"fee_rate"`
	// QuoteTime is the timestamp of the quote the leg was priced from;
	// the risk gate rejects the opportunity once it exceeds the staleness
	// bound.
	QuoteTime time.Time `json:"quote_time"`
}

// Opportunity is a candidate arbitrage emitted by a detector and consumed by
// the risk gate. Never persisted; discarded after acceptance or rejection.
type Opportunity struct {
	ID           string          `json:"id"`
	Kind         OpportunityKind `json:"kind"`
	Fingerprint  string          `json:"fingerprint"`
	ProfitRate   float64         `json:"profit_rate"`
	Legs         []Leg           `json:"legs"`
	DiscoveredAt time.Time       `json:"discovered_at"`
	Deadline     time.Time       `json:"deadline"`
}

// Expired reports whether the opportunity's deadline has passed.
func (o *Opportunity) Expired(now time.Time) bool {
	return !o.Deadline.IsZero() && now.After(o.Deadline)
}

// Fingerprint derives the deterministic identifier of an opportunity from
// its kind and legs alone. Legs are ordered canonically before hashing so
// the same real-world opportunity always collapses to the same value
// regardless of discovery order. Prices and amounts are deliberately
// excluded: two sightings of the same legs are one opportunity.
func Fingerprint(kind OpportunityKind, legs []Leg) string {
	keys := make([]string, len(legs))
	for i, l := range legs {
		keys[i] = fmt.Sprintf("%s|%s|%s", l.Exchange, l.Symbol, l.Side)
	}
	sort.Strings(keys)
	h := sha256.Sum256([]byte(string(kind) + ":" + strings.Join(keys, ",")))
	return hex.EncodeToString(h[:8])
}

// TradeIntent is the immutable request handed to the execution collaborator.
type TradeIntent struct {
	ID          string    `json:"id"`
	Fingerprint string    `json:"fingerprint"`
	Legs        []Leg     `json:"legs"`
	Deadline    time.Time `json:"deadline"`
}

// OutcomeStatus is the execution collaborator's verdict.
type OutcomeStatus string

const (
	OutcomeAccepted OutcomeStatus = "accepted"
	OutcomeRejected OutcomeStatus = "rejected"
	OutcomeTimeout  OutcomeStatus = "timeout"
)

// Outcome reports what happened to a dispatched trade intent.
type Outcome struct {
	IntentID string        `json:"intent_id"`
	Status   OutcomeStatus `json:"status"`
	Reason   string        `json:"reason,omitempty"`
	PnL      float64       `json:"pnl,omitempty"`
}
