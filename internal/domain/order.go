package domain

import (
	"math/rand"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// OrderSide indicates whether this is a buy or sell.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// OrderStatus tracks the venue-reported order lifecycle. Closed is the only
// terminal success state; Canceled and Expired are terminal failures.
type OrderStatus string

const (
	OrderStatusOpen     OrderStatus = "open"
	OrderStatusClosed   OrderStatus = "closed"
	OrderStatusCanceled OrderStatus = "canceled"
	OrderStatusExpired  OrderStatus = "expired"
)

// Terminal reports whether the status will not change again.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusClosed || s == OrderStatusCanceled || s == OrderStatusExpired
}

// TokenScheme selects how a venue addresses client-side order references.
type TokenScheme string

const (
	// TokenSchemeNumeric uses a random 31-bit integer (Kraken-style userref).
	TokenSchemeNumeric TokenScheme = "numeric"
	// TokenSchemeUUID uses a UUIDv4 (Coinbase-style client_oid).
	TokenSchemeUUID TokenScheme = "uuid"
)

// CorrelationToken is an opaque per-submission identifier used to re-locate
// an order when direct submission confirmation is lost. Tokens are generated
// fresh per venue per iteration and never reused.
type CorrelationToken string

// NewCorrelationToken generates a fresh token for the given scheme.
func NewCorrelationToken(scheme TokenScheme) CorrelationToken {
	if scheme == TokenSchemeNumeric {
		return CorrelationToken(strconv.FormatInt(int64(rand.Int31()), 10))
	}
	return CorrelationToken(uuid.New().String())
}

// OrderIntent describes one leg before the venue has confirmed it.
type OrderIntent struct {
	Venue      string
	Side       OrderSide
	Volume     float64
	LimitPrice float64
	Token      CorrelationToken
}

// OrderHandle identifies a confirmed order on a venue.
type OrderHandle struct {
	Venue string
	ID    string
}

// OrderRecord is a venue's view of an order, as returned by the open- and
// closed-order listings. Token carries the venue's client reference so
// submissions can be re-located after a lost confirmation.
type OrderRecord struct {
	ID     string
	Token  CorrelationToken
	Side   OrderSide
	Status OrderStatus
}

// OrderFill is the venue-reported state of an order fetched by ID.
type OrderFill struct {
	Status      OrderStatus
	Filled      float64 // asset volume filled so far
	Cost        float64 // fiat spent or received, ex fees
	FeeFiat     float64
	FeeCurrency string
	UpdatedAt   time.Time
}

// AvgPrice returns the average fill price, or 0 when nothing filled.
func (f OrderFill) AvgPrice() float64 {
	if f.Filled <= 0 {
		return 0
	}
	return f.Cost / f.Filled
}
