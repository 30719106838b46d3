package domain

import (
	"context"
	"time"
)

// BalanceService exposes a venue's account balances.
type BalanceService interface {
	// FetchBalance returns the free fiat and asset amounts for the
	// configured currency pair.
	FetchBalance(ctx context.Context) (Balance, error)
}

// MarketDataService exposes a venue's L2 depth.
type MarketDataService interface {
	// FetchOrderBook returns a normalized depth snapshot for the symbol.
	FetchOrderBook(ctx context.Context, symbol string) (OrderBookSnapshot, error)
}

// TradingService exposes a venue's order placement and status endpoints.
// Responses are already normalized into domain shapes at the adapter
// boundary; no raw wire formats reach the engine.
type TradingService interface {
	// CreateLimitOrder submits a limit order carrying the correlation
	// token as the venue's client order reference.
	CreateLimitOrder(ctx context.Context, symbol string, side OrderSide, volume, limitPrice float64, token CorrelationToken) (OrderHandle, error)

	// FetchOrder returns the current fill state of an order.
	FetchOrder(ctx context.Context, id string) (OrderFill, error)

	// ListOpenOrders returns all currently open orders.
	ListOpenOrders(ctx context.Context) ([]OrderRecord, error)

	// ListClosedOrders returns orders closed at or after since.
	ListClosedOrders(ctx context.Context, since time.Time) ([]OrderRecord, error)
}

// Venue aggregates the collaborator services of one trading venue.
type Venue interface {
	BalanceService
	MarketDataService
	TradingService

	// Name returns the venue identifier used in logs and records.
	Name() string

	// TokenScheme returns the venue's client order reference scheme.
	TokenScheme() TokenScheme

	// ServerTime returns the venue's clock, used to anchor closed-order
	// lookups so client/venue clock skew cannot hide a recent order.
	ServerTime(ctx context.Context) (time.Time, error)
}
