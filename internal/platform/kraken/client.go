// Package kraken adapts the Kraken spot REST API to the domain venue
// interfaces. Kraken correlates client submissions through a numeric userref
// carried on every order.
package kraken

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/arbot/internal/domain"
)

const defaultBaseURL = "https://api.kraken.com"

// Client is the REST client for the Kraken API.
type Client struct {
	baseURL    string
	apiKey     string
	secret     []byte // base64-decoded API secret
	httpClient *http.Client
	nonce      func() int64
}

// NewClient creates a Kraken REST client. The secret is the base64-encoded
// API secret as issued by Kraken.
func NewClient(apiKey, secret string) (*Client, error) {
	decoded, err := base64.StdEncoding.DecodeString(secret)
	if err != nil {
		return nil, fmt.Errorf("kraken: decode api secret: %w", err)
	}
	return &Client{
		baseURL:    defaultBaseURL,
		apiKey:     apiKey,
		secret:     decoded,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		nonce:      func() int64 { return time.Now().UnixNano() },
	}, nil
}

// SetBaseURL overrides the API root, used by tests.
func (c *Client) SetBaseURL(u string) { c.baseURL = u }

// krakenTime is the /public/Time result.
type krakenTime struct {
	UnixTime int64 `json:"unixtime"`
}

// Time returns the exchange server time.
func (c *Client) Time(ctx context.Context) (time.Time, error) {
	var result krakenTime
	if err := c.public(ctx, "/0/public/Time", nil, &result); err != nil {
		return time.Time{}, err
	}
	return time.Unix(result.UnixTime, 0), nil
}

// depthResult maps pair name to its book. Levels arrive as
// [price, volume, timestamp] with price and volume as strings.
type depthResult map[string]struct {
	Asks [][3]json.RawMessage `json:"asks"`
	Bids [][3]json.RawMessage `json:"bids"`
}

// Depth returns the order book for pair limited to count levels per side.
func (c *Client) Depth(ctx context.Context, pair string, count int) (asks, bids []domain.PriceLevel, err error) {
	params := url.Values{}
	params.Set("pair", pair)
	if count > 0 {
		params.Set("count", strconv.Itoa(count))
	}

	var result depthResult
	if err := c.public(ctx, "/0/public/Depth", params, &result); err != nil {
		return nil, nil, err
	}
	book, ok := result[pair]
	if !ok {
		// Kraken may respond under its canonical pair name.
		for _, b := range result {
			book = b
			ok = true
			break
		}
	}
	if !ok {
		return nil, nil, fmt.Errorf("kraken: no depth for pair %s", pair)
	}

	if asks, err = parseLevels(book.Asks); err != nil {
		return nil, nil, fmt.Errorf("kraken: parse asks: %w", err)
	}
	if bids, err = parseLevels(book.Bids); err != nil {
		return nil, nil, fmt.Errorf("kraken: parse bids: %w", err)
	}
	return asks, bids, nil
}

func parseLevels(raw [][3]json.RawMessage) ([]domain.PriceLevel, error) {
	levels := make([]domain.PriceLevel, 0, len(raw))
	for _, entry := range raw {
		price, err := rawFloat(entry[0])
		if err != nil {
			return nil, err
		}
		volume, err := rawFloat(entry[1])
		if err != nil {
			return nil, err
		}
		levels = append(levels, domain.PriceLevel{Price: price, Volume: volume})
	}
	return levels, nil
}

// Balance returns all account balances keyed by Kraken asset code.
func (c *Client) Balance(ctx context.Context) (map[string]float64, error) {
	var result map[string]string
	if err := c.private(ctx, "/0/private/Balance", url.Values{}, &result); err != nil {
		return nil, err
	}
	out := make(map[string]float64, len(result))
	for asset, v := range result {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("kraken: parse balance %s: %w", asset, err)
		}
		out[asset] = f
	}
	return out, nil
}

// addOrderResult is the /private/AddOrder result.
type addOrderResult struct {
	TxIDs []string `json:"txid"`
}

// AddOrder submits a limit order carrying userref and returns the
// transaction ID.
func (c *Client) AddOrder(ctx context.Context, pair string, side domain.OrderSide, volume, price float64, userref string) (string, error) {
	params := url.Values{}
	params.Set("pair", pair)
	params.Set("type", string(side))
	params.Set("ordertype", "limit")
	params.Set("price", strconv.FormatFloat(price, 'f', -1, 64))
	params.Set("volume", strconv.FormatFloat(volume, 'f', -1, 64))
	params.Set("userref", userref)

	var result addOrderResult
	if err := c.private(ctx, "/0/private/AddOrder", params, &result); err != nil {
		return "", err
	}
	if len(result.TxIDs) == 0 {
		return "", fmt.Errorf("kraken: add order returned no txid")
	}
	return result.TxIDs[0], nil
}

// orderInfo is the per-order payload shared by QueryOrders, OpenOrders, and
// ClosedOrders. Numeric fields arrive as strings.
type orderInfo struct {
	UserRef int64  `json:"userref"`
	Status  string `json:"status"`
	VolExec string `json:"vol_exec"`
	Cost    string `json:"cost"`
	Fee     string `json:"fee"`
	Descr   struct {
		Type string `json:"type"`
	} `json:"descr"`
}

// QueryOrder returns the current state of one order by transaction ID.
func (c *Client) QueryOrder(ctx context.Context, txid string) (domain.OrderFill, error) {
	params := url.Values{}
	params.Set("txid", txid)

	var result map[string]orderInfo
	if err := c.private(ctx, "/0/private/QueryOrders", params, &result); err != nil {
		return domain.OrderFill{}, err
	}
	info, ok := result[txid]
	if !ok {
		return domain.OrderFill{}, fmt.Errorf("kraken: order %s: %w", txid, domain.ErrNotFound)
	}
	return fillFromInfo(info)
}

func fillFromInfo(info orderInfo) (domain.OrderFill, error) {
	filled, err := strconv.ParseFloat(info.VolExec, 64)
	if err != nil {
		return domain.OrderFill{}, fmt.Errorf("kraken: parse vol_exec: %w", err)
	}
	cost, err := strconv.ParseFloat(info.Cost, 64)
	if err != nil {
		return domain.OrderFill{}, fmt.Errorf("kraken: parse cost: %w", err)
	}
	fee, err := strconv.ParseFloat(info.Fee, 64)
	if err != nil {
		return domain.OrderFill{}, fmt.Errorf("kraken: parse fee: %w", err)
	}
	return domain.OrderFill{
		Status:    orderStatus(info.Status),
		Filled:    filled,
		Cost:      cost,
		FeeFiat:   fee,
		UpdatedAt: time.Now(),
	}, nil
}

// orderStatus maps Kraken order states onto domain statuses. "pending" is an
// order accepted but not yet in the book; the engine treats it as open.
func orderStatus(s string) domain.OrderStatus {
	switch s {
	case "pending", "open":
		return domain.OrderStatusOpen
	case "closed":
		return domain.OrderStatusClosed
	case "canceled":
		return domain.OrderStatusCanceled
	case "expired":
		return domain.OrderStatusExpired
	default:
		return domain.OrderStatus(s)
	}
}

// OpenOrders returns all open orders.
func (c *Client) OpenOrders(ctx context.Context) ([]domain.OrderRecord, error) {
	var result struct {
		Open map[string]orderInfo `json:"open"`
	}
	if err := c.private(ctx, "/0/private/OpenOrders", url.Values{}, &result); err != nil {
		return nil, err
	}
	return records(result.Open), nil
}

// ClosedOrders returns orders closed at or after start.
func (c *Client) ClosedOrders(ctx context.Context, start time.Time) ([]domain.OrderRecord, error) {
	params := url.Values{}
	params.Set("start", strconv.FormatInt(start.Unix(), 10))

	var result struct {
		Closed map[string]orderInfo `json:"closed"`
	}
	if err := c.private(ctx, "/0/private/ClosedOrders", params, &result); err != nil {
		return nil, err
	}
	return records(result.Closed), nil
}

func records(orders map[string]orderInfo) []domain.OrderRecord {
	out := make([]domain.OrderRecord, 0, len(orders))
	for txid, info := range orders {
		out = append(out, domain.OrderRecord{
			ID:     txid,
			Token:  domain.CorrelationToken(strconv.FormatInt(info.UserRef, 10)),
			Side:   domain.OrderSide(info.Descr.Type),
			Status: orderStatus(info.Status),
		})
	}
	return out
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// envelope is Kraken's uniform response wrapper.
type envelope struct {
	Error  []string        `json:"error"`
	Result json.RawMessage `json:"result"`
}

// public performs an unauthenticated GET request.
func (c *Client) public(ctx context.Context, path string, params url.Values, out any) error {
	fullURL := c.baseURL + path
	if len(params) > 0 {
		fullURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return fmt.Errorf("kraken: create request: %w", err)
	}
	return c.do(req, path, out)
}

// private performs an authenticated POST request. Kraken signs
// path + SHA256(nonce + postdata) with HMAC-SHA512 under the decoded secret.
func (c *Client) private(ctx context.Context, path string, params url.Values, out any) error {
	nonce := strconv.FormatInt(c.nonce(), 10)
	params.Set("nonce", nonce)
	postData := params.Encode()

	inner := sha256.Sum256([]byte(nonce + postData))
	mac := hmac.New(sha512.New, c.secret)
	mac.Write([]byte(path))
	mac.Write(inner[:])
	sign := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, strings.NewReader(postData))
	if err != nil {
		return fmt.Errorf("kraken: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("API-Key", c.apiKey)
	req.Header.Set("API-Sign", sign)

	return c.do(req, path, out)
}

func (c *Client) do(req *http.Request, path string, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("kraken: %s: %w: %w", path, domain.ErrVenueUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("kraken: read response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("kraken: %s: %w", path, domain.ErrRateLimited)
	}
	if resp.StatusCode >= 500 {
		return fmt.Errorf("kraken: %s: HTTP %d: %w", path, resp.StatusCode, domain.ErrVenueUnavailable)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("kraken: %s: HTTP %d: %s", path, resp.StatusCode, string(body))
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return fmt.Errorf("kraken: decode response: %w", err)
	}
	if len(env.Error) > 0 {
		return apiError(path, env.Error)
	}
	if out != nil {
		if err := json.Unmarshal(env.Result, out); err != nil {
			return fmt.Errorf("kraken: decode result: %w", err)
		}
	}
	return nil
}

// apiError maps Kraken error codes onto domain sentinels so the retry layer
// can classify them.
func apiError(path string, errs []string) error {
	joined := strings.Join(errs, "; ")
	for _, e := range errs {
		switch {
		case strings.Contains(e, "Rate limit"):
			return fmt.Errorf("kraken: %s: %s: %w", path, joined, domain.ErrRateLimited)
		case strings.HasPrefix(e, "EService:"):
			return fmt.Errorf("kraken: %s: %s: %w", path, joined, domain.ErrVenueUnavailable)
		case strings.Contains(e, "Unknown order"):
			return fmt.Errorf("kraken: %s: %s: %w", path, joined, domain.ErrNotFound)
		case strings.HasPrefix(e, "EOrder:"):
			return fmt.Errorf("kraken: %s: %s: %w", path, joined, domain.ErrInvalidOrder)
		}
	}
	return fmt.Errorf("kraken: %s: %s", path, joined)
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
