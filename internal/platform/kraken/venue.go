package kraken

import (
	"context"
	"strings"
	"time"

	"github.com/alanyoungcy/arbot/internal/domain"
)

// depthCount bounds the levels fetched per book side; conservative pricing
// rarely walks deeper than this.
const depthCount = 25

// Venue implements domain.Venue on top of the Kraken REST client.
type Venue struct {
	client *Client
	name   string

	pair     string // Kraken pair name, e.g. "XETHZEUR"
	assetKey string // balance key for the asset, e.g. "XETH"
	fiatKey  string // balance key for the fiat currency, e.g. "ZEUR"
}

// VenueConfig maps the traded symbol onto Kraken's naming.
type VenueConfig struct {
	Name     string
	Pair     string
	AssetKey string
	FiatKey  string
}

// NewVenue creates a Kraken venue adapter.
func NewVenue(client *Client, cfg VenueConfig) *Venue {
	name := cfg.Name
	if name == "" {
		name = "kraken"
	}
	return &Venue{
		client:   client,
		name:     name,
		pair:     cfg.Pair,
		assetKey: cfg.AssetKey,
		fiatKey:  cfg.FiatKey,
	}
}

func (v *Venue) Name() string { return v.name }

// TokenScheme reports Kraken's numeric userref correlation scheme.
func (v *Venue) TokenScheme() domain.TokenScheme { return domain.TokenSchemeNumeric }

// ServerTime returns the exchange clock.
func (v *Venue) ServerTime(ctx context.Context) (time.Time, error) {
	return v.client.Time(ctx)
}

// FetchBalance returns the free fiat and asset amounts for the configured
// pair. Missing balance keys read as zero; Kraken omits assets never held.
func (v *Venue) FetchBalance(ctx context.Context) (domain.Balance, error) {
	balances, err := v.client.Balance(ctx)
	if err != nil {
		return domain.Balance{}, err
	}
	return domain.Balance{
		Fiat:  balances[v.fiatKey],
		Asset: balances[v.assetKey],
	}, nil
}

// FetchOrderBook returns a normalized depth snapshot.
func (v *Venue) FetchOrderBook(ctx context.Context, _ string) (domain.OrderBookSnapshot, error) {
	asks, bids, err := v.client.Depth(ctx, v.pair, depthCount)
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
// Kraken's userref.
func (v *Venue) CreateLimitOrder(ctx context.Context, _ string, side domain.OrderSide, volume, limitPrice float64, token domain.CorrelationToken) (domain.OrderHandle, error) {
	txid, err := v.client.AddOrder(ctx, v.pair, side, volume, limitPrice, string(token))
	if err != nil {
		return domain.OrderHandle{}, err
	}
	return domain.OrderHandle{Venue: v.name, ID: txid}, nil
}

// FetchOrder returns the fill state of an order by transaction ID.
func (v *Venue) FetchOrder(ctx context.Context, id string) (domain.OrderFill, error) {
	return v.client.QueryOrder(ctx, id)
}

// ListOpenOrders returns all currently open orders.
func (v *Venue) ListOpenOrders(ctx context.Context) ([]domain.OrderRecord, error) {
	return v.client.OpenOrders(ctx)
}

// ListClosedOrders returns orders closed at or after since.
func (v *Venue) ListClosedOrders(ctx context.Context, since time.Time) ([]domain.OrderRecord, error) {
	return v.client.ClosedOrders(ctx, since)
}

// PairFromSymbol derives Kraken naming from a "ASSET/FIAT" symbol, using the
// X/Z-prefixed keys Kraken reports for the classic assets.
func PairFromSymbol(symbol string) VenueConfig {
	asset, fiat, _ := strings.Cut(symbol, "/")
	assetKey := "X" + asset
	if asset == "BTC" {
		assetKey = "XXBT"
	}
	return VenueConfig{
		Pair:     assetKey + "Z" + fiat,
		AssetKey: assetKey,
		FiatKey:  "Z" + fiat,
	}
}
