package order

import (
	"context"
	"fmt"
	"time"
)

// Gateway 提供撤单/下单抽象；由 gateway.Exchange 实现。
type Gateway interface {
	CancelAllOrders(ctx context.Context, market string) error
	PlaceOrder(ctx context.Context, req CreateOrderRequest) (PlacedOrder, error)
}

// ExecutionObserver 每个动作执行后回调（用于指标/日志）。
type ExecutionObserver func(a Action, elapsed time.Duration, err error)

// Executor 严格按顺序执行合并后的动作序列。
type Executor struct {
	gw       Gateway
	market   string
	observer ExecutionObserver
}

// ExecutorOption 配置 Executor。
type ExecutorOption func(*Executor)

// WithObserver 注册执行回调。
func WithObserver(obs ExecutionObserver) ExecutorOption {
	return func(e *Executor) { e.observer = obs }
}

func NewExecutor(gw Gateway, market string, opts ...ExecutorOption) *Executor {
	e := &Executor{gw: gw, market: market}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ExecutionError 标记批次中失败的动作及其位置。
type ExecutionError struct {
	Index  int
	Action Action
	Err    error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("action %d %s failed: %v", e.Index, Describe(e.Action), e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// Execute 顺序执行；首个失败即中止，已执行的动作不回滚。
func (e *Executor) Execute(ctx context.Context, actions []Action) error {
	for i, a := range actions {
		start := time.Now()
		err := e.apply(ctx, a)
		if e.observer != nil {
			e.observer(a, time.Since(start), err)
		}
		if err != nil {
			return &ExecutionError{Index: i, Action: a, Err: err}
		}
	}
	return nil
}

func (e *Executor) apply(ctx context.Context, a Action) error {
	switch v := a.(type) {
	case ClearOrders:
		return e.gw.CancelAllOrders(ctx, e.market)
	case AddBid:
		return e.place(ctx, v.Request)
	case AddAsk:
		return e.place(ctx, v.Request)
	case KeepBid:
		// 仅在同批次有 ClearOrders 时到达此处，需要重新挂回
		return e.place(ctx, v.Request)
	case KeepAsk:
		return e.place(ctx, v.Request)
	default:
		return fmt.Errorf("%w: %T", ErrUnknownAction, a)
	}
}

func (e *Executor) place(ctx context.Context, req CreateOrderRequest) error {
	if req.Market == "" {
		req.Market = e.market
	}
	_, err := e.gw.PlaceOrder(ctx, req)
	return err
}
