package paper

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/arbot/internal/domain"
)

func TestBuyOrderSettlesAgainstBalance(t *testing.T) {
	v := NewVenue("alpha", domain.TokenSchemeNumeric)
	v.SetBalance(domain.Balance{Fiat: 1000})
	v.SetFee(0.002)

	ctx := context.Background()
	h, err := v.CreateLimitOrder(ctx, "BTC/USD", domain.OrderSideBuy, 0.1, 5000, "tok-1")
	require.NoError(t, err)
	require.NotEmpty(t, h.ID)

	fill, err := v.FetchOrder(ctx, h.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusClosed, fill.Status)
	assert.InDelta(t, 0.1, fill.Filled, 1e-12)
	assert.InDelta(t, 500.0, fill.Cost, 1e-9)
	assert.InDelta(t, 1.0, fill.FeeFiat, 1e-9)

	bal, err := v.FetchBalance(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 499.0, bal.Fiat, 1e-9)
	assert.InDelta(t, 0.1, bal.Asset, 1e-12)
}

func TestFillAfterDelaysClose(t *testing.T) {
	v := NewVenue("alpha", domain.TokenSchemeUUID)
	v.SetBalance(domain.Balance{Asset: 1})
	v.FillAfter(2)

	ctx := context.Background()
	h, err := v.CreateLimitOrder(ctx, "BTC/USD", domain.OrderSideSell, 0.5, 5100, "tok-2")
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		fill, err := v.FetchOrder(ctx, h.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.OrderStatusOpen, fill.Status)
	}
	fill, err := v.FetchOrder(ctx, h.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusClosed, fill.Status)
}

func TestFailNextSubmitLostLandsOrder(t *testing.T) {
	v := NewVenue("alpha", domain.TokenSchemeNumeric)
	v.FailNextSubmit(true)

	ctx := context.Background()
	_, err := v.CreateLimitOrder(ctx, "BTC/USD", domain.OrderSideBuy, 0.1, 5000, "tok-lost")
	require.Error(t, err)

	open, err := v.ListOpenOrders(ctx)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, domain.CorrelationToken("tok-lost"), open[0].Token)

	// Next submission works again.
	_, err = v.CreateLimitOrder(ctx, "BTC/USD", domain.OrderSideBuy, 0.1, 5000, "tok-3")
	assert.NoError(t, err)
}

func TestFailNextSubmitRejectedLeavesNoOrder(t *testing.T) {
	v := NewVenue("alpha", domain.TokenSchemeNumeric)
	v.FailNextSubmit(false)

	ctx := context.Background()
	_, err := v.CreateLimitOrder(ctx, "BTC/USD", domain.OrderSideBuy, 0.1, 5000, "tok-4")
	require.ErrorIs(t, err, domain.ErrVenueUnavailable)

	open, err := v.ListOpenOrders(ctx)
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestCancelNext(t *testing.T) {
	v := NewVenue("alpha", domain.TokenSchemeNumeric)
	v.SetBalance(domain.Balance{Fiat: 100})
	v.CancelNext()

	ctx := context.Background()
	h, err := v.CreateLimitOrder(ctx, "BTC/USD", domain.OrderSideBuy, 0.01, 5000, "tok-5")
	require.NoError(t, err)

	fill, err := v.FetchOrder(ctx, h.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCanceled, fill.Status)

	// Balance untouched on cancellation.
	bal, err := v.FetchBalance(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 100.0, bal.Fiat, 1e-9)
}

func TestListClosedOrdersSinceFilter(t *testing.T) {
	v := NewVenue("alpha", domain.TokenSchemeNumeric)
	v.SetBalance(domain.Balance{Fiat: 1000})

	clock := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	v.SetClock(func() time.Time { return clock })

	ctx := context.Background()
	h1, err := v.CreateLimitOrder(ctx, "BTC/USD", domain.OrderSideBuy, 0.01, 5000, "tok-old")
	require.NoError(t, err)
	_, err = v.FetchOrder(ctx, h1.ID)
	require.NoError(t, err)

	clock = clock.Add(time.Minute)
	h2, err := v.CreateLimitOrder(ctx, "BTC/USD", domain.OrderSideBuy, 0.01, 5000, "tok-new")
	require.NoError(t, err)
	_, err = v.FetchOrder(ctx, h2.ID)
	require.NoError(t, err)

	closed, err := v.ListClosedOrders(ctx, clock)
	require.NoError(t, err)
	require.Len(t, closed, 1)
	assert.Equal(t, domain.CorrelationToken("tok-new"), closed[0].Token)
}

func TestFetchOrderUnknownID(t *testing.T) {
	v := NewVenue("alpha", domain.TokenSchemeNumeric)
	_, err := v.FetchOrder(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
