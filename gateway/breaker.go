package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"moneymaker-go/market"
	"moneymaker-go/order"
)

// ErrBreakerOpen 熔断期间请求被直接拒绝
var ErrBreakerOpen = errors.New("gateway circuit breaker open")

// BreakerState 熔断器状态
type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "CLOSED"
	case BreakerOpen:
		return "OPEN"
	case BreakerHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// BreakerConfig 熔断配置
type BreakerConfig struct {
	Threshold int           // 连续失败多少次后熔断
	Cooldown  time.Duration // 熔断持续时间，之后放行一次探测请求
}

// Breaker 连续失败达到阈值后在 Cooldown 内快速失败，避免在交易所故障时持续打请求。
// CancelAllOrders 不受熔断限制。
type Breaker struct {
	inner     Exchange
	threshold int
	cooldown  time.Duration
	now       func() time.Time

	mu              sync.Mutex
	state           BreakerState
	consecutiveFail int
	openedAt        time.Time
	probing         bool
	onChange        func(from, to BreakerState, err error)
}

var _ Exchange = (*Breaker)(nil)

// NewBreaker 包装 inner；零值配置取默认 5 次 / 30s
func NewBreaker(inner Exchange, cfg BreakerConfig) *Breaker {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	return &Breaker{
		inner:     inner,
		threshold: cfg.Threshold,
		cooldown:  cfg.Cooldown,
		now:       time.Now,
	}
}

// OnStateChange 注册状态变化回调；回调在锁外执行
func (b *Breaker) OnStateChange(fn func(from, to BreakerState, err error)) {
	b.mu.Lock()
	b.onChange = fn
	b.mu.Unlock()
}

// State 当前状态
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) before() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerOpen:
		if wait := b.cooldown - b.now().Sub(b.openedAt); wait > 0 {
			return fmt.Errorf("%w: retry in %s", ErrBreakerOpen, wait.Round(time.Millisecond))
		}
		b.state = BreakerHalfOpen
		b.probing = true
		return nil
	case BreakerHalfOpen:
		if b.probing {
			return fmt.Errorf("%w: probe in flight", ErrBreakerOpen)
		}
		b.probing = true
	}
	return nil
}

func (b *Breaker) after(ctx context.Context, err error) {
	// 调用方主动取消不计入失败
	if err != nil && ctx.Err() != nil {
		b.mu.Lock()
		b.probing = false
		b.mu.Unlock()
		return
	}

	b.mu.Lock()
	from := b.state
	b.probing = false
	if err == nil {
		b.consecutiveFail = 0
		b.state = BreakerClosed
	} else {
		b.consecutiveFail++
		if b.state == BreakerHalfOpen || b.consecutiveFail >= b.threshold {
			b.state = BreakerOpen
			b.openedAt = b.now()
		}
	}
	to, cb := b.state, b.onChange
	b.mu.Unlock()

	if from != to && cb != nil {
		cb(from, to, err)
	}
}

func (b *Breaker) FetchTicker(ctx context.Context, mkt string) (market.Ticker, error) {
	if err := b.before(); err != nil {
		return market.Ticker{}, err
	}
	t, err := b.inner.FetchTicker(ctx, mkt)
	b.after(ctx, err)
	return t, err
}

func (b *Breaker) FetchActiveOrders(ctx context.Context, mkt string) ([]order.ActiveOrder, error) {
	if err := b.before(); err != nil {
		return nil, err
	}
	orders, err := b.inner.FetchActiveOrders(ctx, mkt)
	b.after(ctx, err)
	return orders, err
}

func (b *Breaker) FetchFilledOrders(ctx context.Context, mkt string) ([]order.ActiveOrder, error) {
	if err := b.before(); err != nil {
		return nil, err
	}
	orders, err := b.inner.FetchFilledOrders(ctx, mkt)
	b.after(ctx, err)
	return orders, err
}

func (b *Breaker) FetchBalance(ctx context.Context) (market.Balances, error) {
	if err := b.before(); err != nil {
		return nil, err
	}
	bal, err := b.inner.FetchBalance(ctx)
	b.after(ctx, err)
	return bal, err
}

// CancelAllOrders 始终透传；结果仍计入熔断统计
func (b *Breaker) CancelAllOrders(ctx context.Context, mkt string) error {
	err := b.inner.CancelAllOrders(ctx, mkt)
	b.after(ctx, err)
	return err
}

func (b *Breaker) PlaceOrder(ctx context.Context, req order.CreateOrderRequest) (order.PlacedOrder, error) {
	if err := b.before(); err != nil {
		return order.PlacedOrder{}, err
	}
	placed, err := b.inner.PlaceOrder(ctx, req)
	b.after(ctx, err)
	return placed, err
}
