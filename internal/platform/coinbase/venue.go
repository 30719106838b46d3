package coinbase

import (
	"context"
	"strings"
	"time"

	"github.com/alanyoungcy/arbot/internal/domain"
)

// Venue implements domain.Venue on top of the Coinbase Exchange client.
type Venue struct {
	client *Client
	name   string

	productID string // e.g. "ETH-EUR"
	asset     string // e.g. "ETH"
	fiat      string // e.g. "EUR"
}

// NewVenue creates a Coinbase venue adapter for a "ASSET/FIAT" symbol.
func NewVenue(client *Client, name, symbol string) *Venue {
	if name == "" {
		name = "coinbase"
	}
	asset, fiat, _ := strings.Cut(symbol, "/")
	return &Venue{
		client:    client,
		name:      name,
		productID: asset + "-" + fiat,
		asset:     asset,
		fiat:      fiat,
	}
}

func (v *Venue) Name() string { return v.name }

// TokenScheme reports Coinbase's UUID client_oid correlation scheme.
func (v *Venue) TokenScheme() domain.TokenScheme { return domain.TokenSchemeUUID }

// ServerTime returns the exchange clock.
func (v *Venue) ServerTime(ctx context.Context) (time.Time, error) {
	return v.client.Time(ctx)
}

// FetchBalance returns the available fiat and asset amounts. Currencies
// without an account read as zero.
func (v *Venue) FetchBalance(ctx context.Context) (domain.Balance, error) {
	balances, err := v.client.Accounts(ctx)
	if err != nil {
		return domain.Balance{}, err
	}
	return domain.Balance{
		Fiat:  balances[v.fiat],
		Asset: balances[v.asset],
	}, nil
}

// FetchOrderBook returns a normalized level-2 depth snapshot.
func (v *Venue) FetchOrderBook(ctx context.Context, _ string) (domain.OrderBookSnapshot, error) {
	asks, bids, err := v.client.Book(ctx, v.productID)
	if err != nil {
		return domain.OrderBookSnapshot{}, err
	}
	return domain.OrderBookSnapshot{
		Venue:     v.name,
		Asks:      asks,
		Bids:      bids,
		FetchedAt: time.Now(),
	}, nil
}

// CreateLimitOrder submits a limit order carrying the correlation token as
// the client_oid.
func (v *Venue) CreateLimitOrder(ctx context.Context, _ string, side domain.OrderSide, volume, limitPrice float64, token domain.CorrelationToken) (domain.OrderHandle, error) {
	id, err := v.client.PlaceLimitOrder(ctx, v.productID, side, volume, limitPrice, string(token))
	if err != nil {
		return domain.OrderHandle{}, err
	}
	return domain.OrderHandle{Venue: v.name, ID: id}, nil
}

// FetchOrder returns the fill state of an order by server ID.
func (v *Venue) FetchOrder(ctx context.Context, id string) (domain.OrderFill, error) {
	return v.client.GetOrder(ctx, id)
}

// ListOpenOrders returns all open orders for the traded product.
func (v *Venue) ListOpenOrders(ctx context.Context) ([]domain.OrderRecord, error) {
	orders, err := v.client.listOrders(ctx, v.productID, "open")
	if err != nil {
		return nil, err
	}
	out := make([]domain.OrderRecord, 0, len(orders))
	for _, o := range orders {
		out = append(out, record(o))
	}
	return out, nil
}

// ListClosedOrders returns done orders finished at or after since. The
// exchange lists done orders most recent first, so the scan stops at the
// first record older than the cutoff.
func (v *Venue) ListClosedOrders(ctx context.Context, since time.Time) ([]domain.OrderRecord, error) {
	orders, err := v.client.listOrders(ctx, v.productID, "done")
	if err != nil {
		return nil, err
	}
	out := make([]domain.OrderRecord, 0, len(orders))
	for _, o := range orders {
		if o.DoneAt != "" {
			if doneAt, err := time.Parse(time.RFC3339, o.DoneAt); err == nil && doneAt.Before(since) {
				break
			}
		}
		out = append(out, record(o))
	}
	return out, nil
}
