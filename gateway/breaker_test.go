package gateway

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"moneymaker-go/market"
	"moneymaker-go/order"
)

func newTestBreaker(inner Exchange, threshold int) (*Breaker, *time.Time) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	b := NewBreaker(inner, BreakerConfig{Threshold: threshold, Cooldown: 10 * time.Second})
	b.now = func() time.Time { return now }
	return b, &now
}

func TestBreakerDefaults(t *testing.T) {
	b := NewBreaker(&stubExchange{}, BreakerConfig{})
	assert.Equal(t, 5, b.threshold)
	assert.Equal(t, 30*time.Second, b.cooldown)
	assert.Equal(t, BreakerClosed, b.State())
}

func TestBreakerOpensAfterThreshold(t *testing.T) {
	inner := &stubExchange{err: errors.New("503")}
	b, _ := newTestBreaker(inner, 3)
	ctx := context.Background()

	var transitions []string
	b.OnStateChange(func(from, to BreakerState, err error) {
		transitions = append(transitions, from.String()+"->"+to.String())
	})

	for i := 0; i < 2; i++ {
		_, err := b.FetchTicker(ctx, market.DefaultMarket)
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrBreakerOpen)
	}
	assert.Equal(t, BreakerClosed, b.State())

	_, err := b.FetchTicker(ctx, market.DefaultMarket)
	require.Error(t, err)
	assert.Equal(t, BreakerOpen, b.State())
	assert.Equal(t, []string{"CLOSED->OPEN"}, transitions)

	_, err = b.PlaceOrder(ctx, order.CreateOrderRequest{})
	assert.ErrorIs(t, err, ErrBreakerOpen)
	assert.Equal(t, 0, inner.placed)
}

func TestBreakerHalfOpenProbe(t *testing.T) {
	tests := []struct {
		name     string
		probeErr error
		want     BreakerState
	}{
		{"probe succeeds", nil, BreakerClosed},
		{"probe fails", errors.New("still down"), BreakerOpen},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inner := &stubExchange{err: errors.New("503")}
			b, now := newTestBreaker(inner, 1)
			ctx := context.Background()

			_, _ = b.FetchBalance(ctx)
			require.Equal(t, BreakerOpen, b.State())

			*now = now.Add(11 * time.Second)
			inner.err = tt.probeErr
			_, err := b.FetchBalance(ctx)
			assert.Equal(t, tt.probeErr, err)
			assert.Equal(t, tt.want, b.State())
		})
	}
}

func TestBreakerAllowsSingleProbe(t *testing.T) {
	inner := &stubExchange{err: errors.New("503")}
	b, now := newTestBreaker(inner, 1)
	_, _ = b.FetchTicker(context.Background(), market.DefaultMarket)

	*now = now.Add(11 * time.Second)
	require.NoError(t, b.before())
	assert.Equal(t, BreakerHalfOpen, b.State())
	assert.ErrorIs(t, b.before(), ErrBreakerOpen)
}

func TestBreakerCancelAllBypasses(t *testing.T) {
	inner := &stubExchange{err: errors.New("503")}
	b, _ := newTestBreaker(inner, 1)
	_, _ = b.FetchActiveOrders(context.Background(), market.DefaultMarket)
	require.Equal(t, BreakerOpen, b.State())

	inner.err = nil
	require.NoError(t, b.CancelAllOrders(context.Background(), market.DefaultMarket))
	assert.Equal(t, 1, inner.cancelled)
	assert.Equal(t, BreakerClosed, b.State())
}

func TestBreakerIgnoresCallerCancellation(t *testing.T) {
	inner := &stubExchange{err: context.Canceled}
	b, _ := newTestBreaker(inner, 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := b.FetchFilledOrders(ctx, market.DefaultMarket)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, BreakerClosed, b.State())
}
