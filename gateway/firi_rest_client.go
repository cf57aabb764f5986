package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"

	"moneymaker-go/market"
	"moneymaker-go/order"
)

// DefaultBaseURL Firi v2 REST 入口
const DefaultBaseURL = "https://api.firi.com/v2"

const (
	headerAccessKey = "miraiex-access-key"
	headerClientID  = "miraiex-user-clientid"
	headerSignature = "miraiex-user-signature"
	headerRequestID = "X-Request-ID"
)

// APIError 非 2xx 响应。
type APIError struct {
	Action     string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s status %d", e.Action, e.StatusCode)
	}
	return fmt.Sprintf("%s status %d: %s", e.Action, e.StatusCode, e.Body)
}

// FiriClient 签名 REST 客户端；HTTPClient 可注入 httptest。
type FiriClient struct {
	BaseURL    string
	APIKey     string
	ClientID   string
	Secret     string
	Validity   string
	HTTPClient *http.Client
	Limiter    RateLimiter
}

var _ Exchange = (*FiriClient)(nil)

type placeBody struct {
	Market string `json:"market"`
	Type   string `json:"type"`
	Price  string `json:"price"`
	Amount string `json:"amount"`
}

// FetchTicker GET /markets/{market}/ticker
func (c *FiriClient) FetchTicker(ctx context.Context, mkt string) (market.Ticker, error) {
	var t market.Ticker
	if err := c.do(ctx, "ticker", http.MethodGet, "/markets/"+url.PathEscape(mkt)+"/ticker", nil, &t); err != nil {
		return market.Ticker{}, err
	}
	if t.Spread.IsZero() {
		t.Spread = t.Ask.Sub(t.Bid)
	}
	return t, nil
}

// FetchActiveOrders GET /orders/{market}
func (c *FiriClient) FetchActiveOrders(ctx context.Context, mkt string) ([]order.ActiveOrder, error) {
	var orders []order.ActiveOrder
	if err := c.do(ctx, "active_orders", http.MethodGet, "/orders/"+url.PathEscape(mkt), nil, &orders); err != nil {
		return nil, err
	}
	return orders, nil
}

// FetchFilledOrders GET /history/orders/{market}
func (c *FiriClient) FetchFilledOrders(ctx context.Context, mkt string) ([]order.ActiveOrder, error) {
	var orders []order.ActiveOrder
	if err := c.do(ctx, "filled_orders", http.MethodGet, "/history/orders/"+url.PathEscape(mkt), nil, &orders); err != nil {
		return nil, err
	}
	return orders, nil
}

// FetchBalance GET /balances
func (c *FiriClient) FetchBalance(ctx context.Context) (market.Balances, error) {
	var list []market.CurrencyBalance
	if err := c.do(ctx, "balances", http.MethodGet, "/balances", nil, &list); err != nil {
		return nil, err
	}
	return market.NewBalances(list), nil
}

// CancelAllOrders DELETE /orders/{market}
func (c *FiriClient) CancelAllOrders(ctx context.Context, mkt string) error {
	return c.do(ctx, "cancel_all", http.MethodDelete, "/orders/"+url.PathEscape(mkt), nil, nil)
}

// PlaceOrder POST /orders
func (c *FiriClient) PlaceOrder(ctx context.Context, req order.CreateOrderRequest) (order.PlacedOrder, error) {
	body := placeBody{
		Market: req.Market,
		Type:   string(req.Side),
		Price:  req.Price.String(),
		Amount: req.Amount.String(),
	}
	var placed order.PlacedOrder
	if err := c.do(ctx, "place_order", http.MethodPost, "/orders", body, &placed); err != nil {
		return order.PlacedOrder{}, err
	}
	return placed, nil
}

func (c *FiriClient) do(ctx context.Context, action, method, path string, body, out any) error {
	if c == nil || c.HTTPClient == nil {
		return fmt.Errorf("http client not set")
	}
	if c.Limiter != nil {
		if err := c.Limiter.Wait(ctx); err != nil {
			return fmt.Errorf("%s rate limit: %w", action, err)
		}
	}

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s marshal body: %w", action, err)
		}
		reader = bytes.NewReader(raw)
	}

	endpoint := c.baseURL() + path
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("%s build request: %w", action, err)
	}
	if err := c.authenticate(req); err != nil {
		return fmt.Errorf("%s sign request: %w", action, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set(headerRequestID, uuid.NewString())

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", action, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &APIError{Action: action, StatusCode: resp.StatusCode, Body: string(bytes.TrimSpace(snippet))}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s decode: %w", action, err)
	}
	return nil
}

// authenticate 设置 API key；配置了 clientId/secret 时附加 HMAC 签名。
func (c *FiriClient) authenticate(req *http.Request) error {
	if c.APIKey != "" {
		req.Header.Set(headerAccessKey, c.APIKey)
	}
	if c.ClientID == "" || c.Secret == "" {
		return nil
	}
	validity := c.Validity
	if validity == "" {
		validity = DefaultValidity
	}
	ts := unixTimestamp()
	sig, err := Sign(c.Secret, ts, validity)
	if err != nil {
		return err
	}
	q := req.URL.Query()
	q.Set("timestamp", ts)
	q.Set("validity", validity)
	req.URL.RawQuery = q.Encode()
	req.Header.Set(headerClientID, c.ClientID)
	req.Header.Set(headerSignature, sig)
	return nil
}

func (c *FiriClient) baseURL() string {
	if c.BaseURL == "" {
		return DefaultBaseURL
	}
	return c.BaseURL
}

// NewDefaultHTTPClient 提供一个带超时的 http.Client。
func NewDefaultHTTPClient() *http.Client {
	return &http.Client{Timeout: 10 * time.Second}
}
