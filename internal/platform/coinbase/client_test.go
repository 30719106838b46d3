package coinbase

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/arbot/internal/domain"
)

var testSecret = base64.StdEncoding.EncodeToString([]byte("coinbase-secret"))

func testClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewClient("api-key", testSecret, "passphrase")
	require.NoError(t, err)
	c.SetBaseURL(srv.URL)
	c.now = func() time.Time { return time.Unix(1700000000, 0) }
	return c
}

func TestNewClientRejectsBadSecret(t *testing.T) {
	_, err := NewClient("key", "not base64 !!!", "pass")
	assert.Error(t, err)
}

func TestAccountsSignsRequest(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "api-key", r.Header.Get("CB-ACCESS-KEY"))
		assert.Equal(t, "passphrase", r.Header.Get("CB-ACCESS-PASSPHRASE"))
		assert.Equal(t, "1700000000", r.Header.Get("CB-ACCESS-TIMESTAMP"))

		mac := hmac.New(sha256.New, []byte("coinbase-secret"))
		mac.Write([]byte("1700000000" + "GET" + "/accounts"))
		want := base64.StdEncoding.EncodeToString(mac.Sum(nil))
		assert.Equal(t, want, r.Header.Get("CB-ACCESS-SIGN"))

		io.WriteString(w, `[
			{"currency":"EUR","available":"1500.25"},
			{"currency":"ETH","available":"2.5"}]`)
	})

	balances, err := c.Accounts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1500.25, balances["EUR"])
	assert.Equal(t, 2.5, balances["ETH"])
}

func TestBook(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/products/ETH-EUR/book", r.URL.Path)
		assert.Equal(t, "2", r.URL.Query().Get("level"))
		io.WriteString(w, `{
			"asks":[["100.5","2.0",3],["101.0","3.5",1]],
			"bids":[["99.5","1.5",2]]}`)
	})

	asks, bids, err := c.Book(context.Background(), "ETH-EUR")
	require.NoError(t, err)
	require.Len(t, asks, 2)
	assert.Equal(t, domain.PriceLevel{Price: 100.5, Volume: 2.0}, asks[0])
	require.Len(t, bids, 1)
	assert.Equal(t, domain.PriceLevel{Price: 99.5, Volume: 1.5}, bids[0])
}

func TestPlaceLimitOrder(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/orders", r.URL.Path)

		var req placeOrderRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "ETH-EUR", req.ProductID)
		assert.Equal(t, "sell", req.Side)
		assert.Equal(t, "limit", req.Type)
		assert.Equal(t, "102.86", req.Price)
		assert.Equal(t, "0.5", req.Size)
		assert.Equal(t, "4b2d8c1e-8f3a-4f6e-9d1a-111111111111", req.ClientOID)

		io.WriteString(w, `{"id":"d0c5340b-6d6c-49d9-b567-48c4bfca13d2","status":"pending"}`)
	})

	id, err := c.PlaceLimitOrder(context.Background(), "ETH-EUR", domain.OrderSideSell,
		0.5, 102.86, "4b2d8c1e-8f3a-4f6e-9d1a-111111111111")
	require.NoError(t, err)
	assert.Equal(t, "d0c5340b-6d6c-49d9-b567-48c4bfca13d2", id)
}

func TestGetOrder(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/orders/d0c5340b", r.URL.Path)
		io.WriteString(w, `{"id":"d0c5340b","status":"done","done_reason":"filled",
			"filled_size":"0.5","executed_value":"52.75","fill_fees":"0.14",
			"done_at":"2023-11-14T22:13:20Z"}`)
	})

	fill, err := c.GetOrder(context.Background(), "d0c5340b")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusClosed, fill.Status)
	assert.Equal(t, 0.5, fill.Filled)
	assert.Equal(t, 52.75, fill.Cost)
	assert.Equal(t, 0.14, fill.FeeFiat)
	assert.Equal(t, time.Date(2023, 11, 14, 22, 13, 20, 0, time.UTC), fill.UpdatedAt.UTC())
}

func TestOrderStatusMapping(t *testing.T) {
	assert.Equal(t, domain.OrderStatusOpen, orderStatus(order{Status: "open"}))
	assert.Equal(t, domain.OrderStatusOpen, orderStatus(order{Status: "received"}))
	assert.Equal(t, domain.OrderStatusClosed, orderStatus(order{Status: "done", DoneReason: "filled"}))
	assert.Equal(t, domain.OrderStatusCanceled, orderStatus(order{Status: "done", DoneReason: "canceled"}))
	assert.Equal(t, domain.OrderStatusCanceled, orderStatus(order{Status: "rejected"}))
}

func TestHTTPErrorMapping(t *testing.T) {
	cases := []struct {
		status int
		want   error
	}{
		{http.StatusNotFound, domain.ErrNotFound},
		{http.StatusTooManyRequests, domain.ErrRateLimited},
		{http.StatusBadRequest, domain.ErrInvalidOrder},
		{http.StatusServiceUnavailable, domain.ErrVenueUnavailable},
	}
	for _, tc := range cases {
		c := testClient(t, func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(tc.status)
			io.WriteString(w, `{"message":"nope"}`)
		})
		_, err := c.GetOrder(context.Background(), "some-id")
		assert.ErrorIs(t, err, tc.want, "HTTP %d", tc.status)
	}
}

func TestVenueListClosedOrdersStopsAtCutoff(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/orders", r.URL.Path)
		assert.Equal(t, "done", r.URL.Query().Get("status"))
		assert.Equal(t, "ETH-EUR", r.URL.Query().Get("product_id"))
		// Most recent first, as the exchange returns them.
		io.WriteString(w, `[
			{"id":"new","client_oid":"aaa","side":"buy","status":"done","done_reason":"filled","done_at":"2023-11-14T22:13:20Z"},
			{"id":"old","client_oid":"bbb","side":"sell","status":"done","done_reason":"filled","done_at":"2023-11-14T20:00:00Z"},
			{"id":"older","client_oid":"ccc","side":"buy","status":"done","done_reason":"filled","done_at":"2023-11-14T19:00:00Z"}]`)
	})

	v := NewVenue(c, "", "ETH/EUR")
	since := time.Date(2023, 11, 14, 21, 0, 0, 0, time.UTC)
	orders, err := v.ListClosedOrders(context.Background(), since)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, "new", orders[0].ID)
	assert.Equal(t, domain.CorrelationToken("aaa"), orders[0].Token)
}

func TestVenueProperties(t *testing.T) {
	v := NewVenue(&Client{}, "", "ETH/EUR")
	assert.Equal(t, "coinbase", v.Name())
	assert.Equal(t, domain.TokenSchemeUUID, v.TokenScheme())
	assert.Equal(t, "ETH-EUR", v.productID)
}
