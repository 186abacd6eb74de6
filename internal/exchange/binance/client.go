package binance

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"ladderbot/internal/config"
	"ladderbot/internal/core"
)

type AuthType int

const (
	AuthNone AuthType = iota
	AuthAPIKey
	AuthSigned
)

const readRetryBackoff = 100 * time.Millisecond

type Client struct {
	apiKey      string
	apiSecret   string
	baseURL     string
	recvWindow  time.Duration
	readRetries int
	httpClient  *http.Client
}

type Options struct {
	APIKey         string
	APISecret      string
	RestBaseURL    string
	RecvWindowMs   int64
	HTTPTimeoutSec int64
	ReadRetries    int
}

func NewClient(cfg config.ExchangeConfig) (*Client, error) {
	if cfg.APIKey == "" || cfg.APISecret == "" {
		return nil, errors.New("api_key/api_secret required")
	}
	return NewClientWithOptions(Options{
		APIKey:         cfg.APIKey,
		APISecret:      cfg.APISecret,
		RestBaseURL:    cfg.RestBaseURL,
		RecvWindowMs:   cfg.RecvWindowMs,
		HTTPTimeoutSec: cfg.HTTPTimeoutSec,
		ReadRetries:    cfg.ReadRetries,
	}), nil
}

func NewClientWithOptions(opts Options) *Client {
	timeout := 15 * time.Second
	if opts.HTTPTimeoutSec > 0 {
		timeout = time.Duration(opts.HTTPTimeoutSec) * time.Second
	}
	retries := opts.ReadRetries
	if retries < 1 {
		retries = 3
	}
	return &Client{
		apiKey:      opts.APIKey,
		apiSecret:   opts.APISecret,
		baseURL:     strings.TrimRight(opts.RestBaseURL, "/"),
		recvWindow:  time.Duration(opts.RecvWindowMs) * time.Millisecond,
		readRetries: retries,
		httpClient:  &http.Client{Timeout: timeout},
	}
}

func (c *Client) Name() string { return "binance" }

func (c *Client) TickerPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	body, err := c.doRequest(ctx, http.MethodGet, "/api/v3/ticker/price", params, AuthNone)
	if err != nil {
		return decimal.Zero, err
	}
	var resp tickerPriceResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return decimal.Zero, err
	}
	price, err := decimal.NewFromString(resp.Price)
	if err != nil {
		return decimal.Zero, err
	}
	return price, nil
}

func (c *Client) PlaceOrder(ctx context.Context, order core.Order) (core.Order, error) {
	if order.Symbol == "" || order.ClientID == "" {
		return core.Order{}, errors.New("symbol and clientID required")
	}
	params := url.Values{}
	params.Set("symbol", order.Symbol)
	params.Set("side", string(order.Side))
	params.Set("type", string(core.Limit))
	params.Set("timeInForce", "GTC")
	params.Set("newClientOrderId", order.ClientID)
	params.Set("price", order.Price.String())
	params.Set("quantity", order.Qty.String())
	body, err := c.doRequest(ctx, http.MethodPost, "/api/v3/order", params, AuthSigned)
	if err != nil {
		return core.Order{}, err
	}
	var resp orderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return core.Order{}, err
	}
	if resp.OrderID == 0 {
		return core.Order{}, errors.New("order not acknowledged")
	}
	accepted := order
	accepted.ID = strconv.FormatInt(resp.OrderID, 10)
	accepted.Status = core.OrderStatus(resp.Status)
	if accepted.Status == "" {
		accepted.Status = core.OrderNew
	}
	if resp.TransactTime > 0 {
		accepted.CreatedAt = time.UnixMilli(resp.TransactTime)
	}
	return accepted, nil
}

// QueryOrder fetches the live state of an order by its (exchange id, client
// id) pair. "Order does not exist" right after placement is read-after-write
// lag on the exchange side, so not-found responses are retried a bounded
// number of times before being surfaced.
func (c *Client) QueryOrder(ctx context.Context, symbol, orderID, clientID string) (core.Order, error) {
	if symbol == "" {
		return core.Order{}, errors.New("symbol required")
	}
	if orderID == "" && clientID == "" {
		return core.Order{}, errors.New("orderID or clientID required")
	}
	var lastErr error
	for attempt := 0; attempt < c.readRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(readRetryBackoff):
			case <-ctx.Done():
				return core.Order{}, ctx.Err()
			}
		}
		order, err := c.queryOrderOnce(ctx, symbol, orderID, clientID)
		if err == nil {
			return order, nil
		}
		lastErr = err
		if !errors.Is(err, core.ErrOrderNotFound) {
			return core.Order{}, err
		}
	}
	return core.Order{}, lastErr
}

func (c *Client) queryOrderOnce(ctx context.Context, symbol, orderID, clientID string) (core.Order, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	if orderID != "" {
		params.Set("orderId", orderID)
	}
	if clientID != "" {
		params.Set("origClientOrderId", clientID)
	}
	body, err := c.doRequest(ctx, http.MethodGet, "/api/v3/order", params, AuthSigned)
	if err != nil {
		return core.Order{}, err
	}
	var resp orderQueryResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return core.Order{}, err
	}
	price, _ := decimal.NewFromString(resp.Price)
	qty, _ := decimal.NewFromString(resp.OrigQty)
	order := core.Order{
		ID:       strconv.FormatInt(resp.OrderID, 10),
		ClientID: resp.ClientOrderID,
		Symbol:   resp.Symbol,
		Side:     core.Side(resp.Side),
		Type:     core.OrderType(resp.Type),
		Price:    price,
		Qty:      qty,
		Status:   core.OrderStatus(resp.Status),
	}
	if resp.Time > 0 {
		order.CreatedAt = time.UnixMilli(resp.Time)
	}
	return order, nil
}

func (c *Client) FreeBalance(ctx context.Context, asset string) (decimal.Decimal, error) {
	if asset == "" {
		return decimal.Zero, errors.New("asset required")
	}
	body, err := c.doRequest(ctx, http.MethodGet, "/api/v3/account", url.Values{}, AuthSigned)
	if err != nil {
		return decimal.Zero, err
	}
	var resp accountResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return decimal.Zero, err
	}
	for _, b := range resp.Balances {
		if b.Asset != asset {
			continue
		}
		free, err := decimal.NewFromString(b.Free)
		if err != nil {
			return decimal.Zero, err
		}
		return free, nil
	}
	return decimal.Zero, nil
}

func (c *Client) doRequest(ctx context.Context, method, path string, params url.Values, auth AuthType) ([]byte, error) {
	if auth == AuthSigned {
		params.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
		if c.recvWindow > 0 {
			params.Set("recvWindow", strconv.FormatInt(c.recvWindow.Milliseconds(), 10))
		}
		params.Set("signature", sign(c.apiSecret, params.Encode()))
	}
	var (
		req *http.Request
		err error
	)
	urlStr := c.baseURL + path
	if method == http.MethodGet || method == http.MethodDelete {
		if encoded := params.Encode(); encoded != "" {
			urlStr += "?" + encoded
		}
		req, err = http.NewRequestWithContext(ctx, method, urlStr, nil)
	} else {
		req, err = http.NewRequestWithContext(ctx, method, urlStr, strings.NewReader(params.Encode()))
	}
	if err != nil {
		return nil, err
	}
	if method != http.MethodGet && method != http.MethodDelete {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if auth == AuthAPIKey || auth == AuthSigned {
		req.Header.Set("X-MBX-APIKEY", c.apiKey)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode/100 != 2 {
		return nil, parseAPIError(resp.StatusCode, body)
	}
	return body, nil
}

func sign(secret, payload string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}
