// Package coinbase adapts the Coinbase Exchange REST API to the domain venue
// interfaces. Coinbase correlates client submissions through a UUID
// client_oid carried on every order.
package coinbase

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/alanyoungcy/arbot/internal/domain"
)

const defaultBaseURL = "https://api.exchange.coinbase.com"

// Client is the REST client for the Coinbase Exchange API.
type Client struct {
	baseURL    string
	apiKey     string
	secret     []byte // base64-decoded API secret
	passphrase string
	httpClient *http.Client
	now        func() time.Time
}

// NewClient creates a Coinbase REST client. The secret is the base64-encoded
// API secret as issued by Coinbase.
func NewClient(apiKey, secret, passphrase string) (*Client, error) {
	decoded, err := base64.StdEncoding.DecodeString(secret)
	if err != nil {
		return nil, fmt.Errorf("coinbase: decode api secret: %w", err)
	}
	return &Client{
		baseURL:    defaultBaseURL,
		apiKey:     apiKey,
		secret:     decoded,
		passphrase: passphrase,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		now:        time.Now,
	}, nil
}

// SetBaseURL overrides the API root, used by tests.
func (c *Client) SetBaseURL(u string) { c.baseURL = u }

// Time returns the exchange server time.
func (c *Client) Time(ctx context.Context) (time.Time, error) {
	var result struct {
		Epoch float64 `json:"epoch"`
	}
	if err := c.request(ctx, http.MethodGet, "/time", nil, &result); err != nil {
		return time.Time{}, err
	}
	sec := int64(result.Epoch)
	nsec := int64((result.Epoch - float64(sec)) * 1e9)
	return time.Unix(sec, nsec), nil
}

// bookLevel is [price, size, num_orders] with price and size as strings.
type bookLevel [3]json.RawMessage

// Book returns the level-2 aggregated order book for a product.
func (c *Client) Book(ctx context.Context, productID string) (asks, bids []domain.PriceLevel, err error) {
	var result struct {
		Asks []bookLevel `json:"asks"`
		Bids []bookLevel `json:"bids"`
	}
	path := fmt.Sprintf("/products/%s/book?level=2", url.PathEscape(productID))
	if err := c.request(ctx, http.MethodGet, path, nil, &result); err != nil {
		return nil, nil, err
	}

	if asks, err = parseLevels(result.Asks); err != nil {
		return nil, nil, fmt.Errorf("coinbase: parse asks: %w", err)
	}
	if bids, err = parseLevels(result.Bids); err != nil {
		return nil, nil, fmt.Errorf("coinbase: parse bids: %w", err)
	}
	return asks, bids, nil
}

func parseLevels(raw []bookLevel) ([]domain.PriceLevel, error) {
	levels := make([]domain.PriceLevel, 0, len(raw))
	for _, entry := range raw {
		price, err := rawFloat(entry[0])
		if err != nil {
			return nil, err
		}
		size, err := rawFloat(entry[1])
		if err != nil {
			return nil, err
		}
		levels = append(levels, domain.PriceLevel{Price: price, Volume: size})
	}
	return levels, nil
}

// account is one entry of the /accounts listing.
type account struct {
	Currency  string `json:"currency"`
	Available string `json:"available"`
}

// Accounts returns the available balance per currency.
func (c *Client) Accounts(ctx context.Context) (map[string]float64, error) {
	var accounts []account
	if err := c.request(ctx, http.MethodGet, "/accounts", nil, &accounts); err != nil {
		return nil, err
	}
	out := make(map[string]float64, len(accounts))
	for _, a := range accounts {
		f, err := strconv.ParseFloat(a.Available, 64)
		if err != nil {
			return nil, fmt.Errorf("coinbase: parse balance %s: %w", a.Currency, err)
		}
		out[a.Currency] = f
	}
	return out, nil
}

// order is the exchange's order representation.
type order struct {
	ID            string `json:"id"`
	ClientOID     string `json:"client_oid"`
	Side          string `json:"side"`
	Status        string `json:"status"`
	DoneReason    string `json:"done_reason"`
	FilledSize    string `json:"filled_size"`
	ExecutedValue string `json:"executed_value"`
	FillFees      string `json:"fill_fees"`
	DoneAt        string `json:"done_at"`
}

// placeOrderRequest is the POST /orders payload.
type placeOrderRequest struct {
	ClientOID string `json:"client_oid"`
	ProductID string `json:"product_id"`
	Side      string `json:"side"`
	Type      string `json:"type"`
	Price     string `json:"price"`
	Size      string `json:"size"`
}

// PlaceLimitOrder submits a limit order carrying clientOID and returns the
// server-assigned order ID.
func (c *Client) PlaceLimitOrder(ctx context.Context, productID string, side domain.OrderSide, size, price float64, clientOID string) (string, error) {
	req := placeOrderRequest{
		ClientOID: clientOID,
		ProductID: productID,
		Side:      string(side),
		Type:      "limit",
		Price:     strconv.FormatFloat(price, 'f', -1, 64),
		Size:      strconv.FormatFloat(size, 'f', -1, 64),
	}
	var placed order
	if err := c.request(ctx, http.MethodPost, "/orders", req, &placed); err != nil {
		return "", err
	}
	return placed.ID, nil
}

// GetOrder returns the current state of one order by server ID.
func (c *Client) GetOrder(ctx context.Context, id string) (domain.OrderFill, error) {
	var o order
	path := "/orders/" + url.PathEscape(id)
	if err := c.request(ctx, http.MethodGet, path, nil, &o); err != nil {
		return domain.OrderFill{}, err
	}
	return fillFromOrder(o)
}

func fillFromOrder(o order) (domain.OrderFill, error) {
	filled, err := strconv.ParseFloat(o.FilledSize, 64)
	if err != nil {
		return domain.OrderFill{}, fmt.Errorf("coinbase: parse filled_size: %w", err)
	}
	cost, err := strconv.ParseFloat(o.ExecutedValue, 64)
	if err != nil {
		return domain.OrderFill{}, fmt.Errorf("coinbase: parse executed_value: %w", err)
	}
	fee, err := strconv.ParseFloat(o.FillFees, 64)
	if err != nil {
		return domain.OrderFill{}, fmt.Errorf("coinbase: parse fill_fees: %w", err)
	}

	updatedAt := time.Now()
	if o.DoneAt != "" {
		if t, err := time.Parse(time.RFC3339, o.DoneAt); err == nil {
			updatedAt = t
		}
	}
	return domain.OrderFill{
		Status:    orderStatus(o),
		Filled:    filled,
		Cost:      cost,
		FeeFiat:   fee,
		UpdatedAt: updatedAt,
	}, nil
}

// orderStatus maps exchange order states onto domain statuses. A done order
// is closed only when it actually filled; otherwise it was cancelled.
func orderStatus(o order) domain.OrderStatus {
	switch o.Status {
	case "open", "pending", "active", "received":
		return domain.OrderStatusOpen
	case "done":
		if o.DoneReason == "filled" {
			return domain.OrderStatusClosed
		}
		return domain.OrderStatusCanceled
	case "rejected":
		return domain.OrderStatusCanceled
	default:
		return domain.OrderStatus(o.Status)
	}
}

// listOrders returns orders for a product filtered by status ("open" or
// "done"). For done orders, results arrive most recent first.
func (c *Client) listOrders(ctx context.Context, productID, status string) ([]order, error) {
	params := url.Values{}
	params.Set("product_id", productID)
	params.Set("status", status)

	var orders []order
	if err := c.request(ctx, http.MethodGet, "/orders?"+params.Encode(), nil, &orders); err != nil {
		return nil, err
	}
	return orders, nil
}

func record(o order) domain.OrderRecord {
	return domain.OrderRecord{
		ID:     o.ID,
		Token:  domain.CorrelationToken(o.ClientOID),
		Side:   domain.OrderSide(o.Side),
		Status: orderStatus(o),
	}
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// request builds, signs, sends, and decodes one API call. Coinbase signs
// timestamp + method + requestPath + body with HMAC-SHA256 under the decoded
// secret.
func (c *Client) request(ctx context.Context, method, path string, reqBody, out any) error {
	var bodyBytes []byte
	if reqBody != nil {
		var err error
		bodyBytes, err = json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("coinbase: marshal request body: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(bodyBytes))
	if err != nil {
		return fmt.Errorf("coinbase: create request: %w", err)
	}

	ts := strconv.FormatInt(c.now().Unix(), 10)
	mac := hmac.New(sha256.New, c.secret)
	mac.Write([]byte(ts + method + path))
	mac.Write(bodyBytes)
	sign := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	req.Header.Set("CB-ACCESS-KEY", c.apiKey)
	req.Header.Set("CB-ACCESS-SIGN", sign)
	req.Header.Set("CB-ACCESS-TIMESTAMP", ts)
	req.Header.Set("CB-ACCESS-PASSPHRASE", c.passphrase)
	req.Header.Set("Accept", "application/json")
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("coinbase: %s: %w: %w", path, domain.ErrVenueUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("coinbase: read response: %w", err)
	}

	if err := c.checkStatus(path, resp.StatusCode, respBody); err != nil {
		return err
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("coinbase: decode response: %w", err)
		}
	}
	return nil
}

// checkStatus maps non-2xx HTTP status codes onto domain sentinels.
func (c *Client) checkStatus(path string, statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	var apiErr struct {
		Message string `json:"message"`
	}
	_ = json.Unmarshal(body, &apiErr)

	switch {
	case statusCode == http.StatusNotFound:
		return fmt.Errorf("coinbase: %s: %s: %w", path, apiErr.Message, domain.ErrNotFound)
	case statusCode == http.StatusTooManyRequests:
		return fmt.Errorf("coinbase: %s: %s: %w", path, apiErr.Message, domain.ErrRateLimited)
	case statusCode == http.StatusBadRequest:
		return fmt.Errorf("coinbase: %s: %s: %w", path, apiErr.Message, domain.ErrInvalidOrder)
	case statusCode >= 500:
		return fmt.Errorf("coinbase: %s: HTTP %d: %s: %w", path, statusCode, apiErr.Message, domain.ErrVenueUnavailable)
	default:
		return fmt.Errorf("coinbase: %s: HTTP %d: %s", path, statusCode, apiErr.Message)
	}
}

func rawFloat(raw json.RawMessage) (float64, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strconv.ParseFloat(s, 64)
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return 0, err
	}
	return f, nil
}
