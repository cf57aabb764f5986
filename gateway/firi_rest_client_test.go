package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"moneymaker-go/market"
	"moneymaker-go/order"
)

func TestSignKnownVector(t *testing.T) {
	sig, err := Sign("mykey", "1000", "2000")
	require.NoError(t, err)
	assert.Equal(t, "53bd9470b7212bd52d7418b534e811661aa86f7899c4a126425606cece46ec5a", sig)
}

func newTestClient(t *testing.T, h http.HandlerFunc) *FiriClient {
	t.Helper()
	ts := httptest.NewServer(h)
	t.Cleanup(ts.Close)
	return &FiriClient{
		BaseURL:    ts.URL,
		APIKey:     "key",
		ClientID:   "client",
		Secret:     "mykey",
		HTTPClient: ts.Client(),
	}
}

func TestFiriClientSignsRequests(t *testing.T) {
	timeNow = func() time.Time { return time.Unix(1000, 0) }
	defer func() { timeNow = time.Now }()

	cli := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "key", r.Header.Get(headerAccessKey))
		assert.Equal(t, "client", r.Header.Get(headerClientID))
		assert.Equal(t, "1000", r.URL.Query().Get("timestamp"))
		assert.Equal(t, "2000", r.URL.Query().Get("validity"))
		assert.Equal(t, "53bd9470b7212bd52d7418b534e811661aa86f7899c4a126425606cece46ec5a", r.Header.Get(headerSignature))
		assert.NotEmpty(t, r.Header.Get(headerRequestID))
		io.WriteString(w, `{"bid":"999.00","ask":"1000.00","spread":"1.00"}`)
	})

	tk, err := cli.FetchTicker(context.Background(), market.DefaultMarket)
	require.NoError(t, err)
	assert.Equal(t, "999", tk.Bid.String())
	assert.Equal(t, "1", tk.Spread.String())
}

func TestFiriClientUnsignedWithoutSecret(t *testing.T) {
	cli := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get(headerSignature))
		assert.Empty(t, r.URL.Query().Get("timestamp"))
		io.WriteString(w, `{"bid":"1","ask":"3"}`)
	})
	cli.Secret = ""
	tk, err := cli.FetchTicker(context.Background(), "BTCNOK")
	require.NoError(t, err)
	assert.Equal(t, "2", tk.Spread.String(), "spread derived when missing")
}

func TestFiriClientOrdersAndBalances(t *testing.T) {
	var placed placeBody
	cli := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/orders/BTCNOK":
			io.WriteString(w, `[{"id":1,"market":"BTCNOK","type":"bid","price":"500000.00","amount":"0.0001","remaining":"0.0001","matched":"0","cancelled":"0","created_at":"2021-03-01T10:00:00Z"}]`)
		case r.Method == http.MethodGet && r.URL.Path == "/history/orders/BTCNOK":
			io.WriteString(w, `[{"id":2,"market":"BTCNOK","type":"ask","price":"510000.00","amount":"0.0001","remaining":"0","matched":"0.0001","cancelled":"0","fee":"5.1","created_at":"2021-03-01T11:00:00Z"}]`)
		case r.Method == http.MethodGet && r.URL.Path == "/balances":
			io.WriteString(w, `[{"currency":"NOK","balance":"1000","hold":"50","available":"950"},{"currency":"BTC","balance":"0.01","hold":"0","available":"0.01"}]`)
		case r.Method == http.MethodDelete && r.URL.Path == "/orders/BTCNOK":
			w.WriteHeader(http.StatusOK)
		case r.Method == http.MethodPost && r.URL.Path == "/orders":
			assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&placed))
			io.WriteString(w, `{"id":4242}`)
		default:
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	})
	ctx := context.Background()

	active, err := cli.FetchActiveOrders(ctx, "BTCNOK")
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, order.Bid, active[0].Side)

	filled, err := cli.FetchFilledOrders(ctx, "BTCNOK")
	require.NoError(t, err)
	require.Len(t, filled, 1)
	assert.Equal(t, "5.1", filled[0].Fee.String())

	bal, err := cli.FetchBalance(ctx)
	require.NoError(t, err)
	assert.Equal(t, "950", bal.Available(market.NOK).String())

	require.NoError(t, cli.CancelAllOrders(ctx, "BTCNOK"))

	res, err := cli.PlaceOrder(ctx, order.NewCreateOrderRequest(order.Ask, decimal.RequireFromString("1011.99")))
	require.NoError(t, err)
	assert.Equal(t, int64(4242), res.ID)
	assert.Equal(t, placeBody{Market: "BTCNOK", Type: "ask", Price: "1011.99", Amount: "0.0001"}, placed)
}

func TestFiriClientNon2xx(t *testing.T) {
	cli := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		io.WriteString(w, `{"name":"Unauthorized"}`)
	})
	err := cli.CancelAllOrders(context.Background(), "BTCNOK")
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	assert.Equal(t, "cancel_all", apiErr.Action)
	assert.Contains(t, apiErr.Error(), "Unauthorized")
}

func TestFiriClientDecodeFailure(t *testing.T) {
	cli := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `not json`)
	})
	_, err := cli.FetchActiveOrders(context.Background(), "BTCNOK")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "active_orders decode")
}

func TestFiriClientHonoursContext(t *testing.T) {
	cli := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := cli.FetchTicker(ctx, "BTCNOK")
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestFiriClientLimiterCancelled(t *testing.T) {
	cli := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `[]`)
	})
	cli.Limiter = NewTokenBucketLimiter(0.001, 1)
	_, err := cli.FetchActiveOrders(context.Background(), "BTCNOK")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = cli.FetchActiveOrders(ctx, "BTCNOK")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limit")
}

func TestFiriClientNilHTTPClient(t *testing.T) {
	var cli *FiriClient
	_, err := cli.FetchBalance(context.Background())
	assert.Error(t, err)
}
