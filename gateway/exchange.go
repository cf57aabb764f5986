package gateway

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"moneymaker-go/infrastructure/logger"
	"moneymaker-go/market"
	"moneymaker-go/order"
)

// Exchange 交易所能力接口；所有调用都必须受 ctx 超时约束。
type Exchange interface {
	FetchTicker(ctx context.Context, mkt string) (market.Ticker, error)
	FetchActiveOrders(ctx context.Context, mkt string) ([]order.ActiveOrder, error)
	FetchFilledOrders(ctx context.Context, mkt string) ([]order.ActiveOrder, error)
	FetchBalance(ctx context.Context) (market.Balances, error)
	CancelAllOrders(ctx context.Context, mkt string) error
	PlaceOrder(ctx context.Context, req order.CreateOrderRequest) (order.PlacedOrder, error)
}

// DryRun 读操作透传，撤单/下单只记日志。
type DryRun struct {
	Exchange
	logger *logger.Logger
	nextID atomic.Int64
}

func NewDryRun(inner Exchange, lg *logger.Logger) *DryRun {
	return &DryRun{Exchange: inner, logger: lg}
}

func (d *DryRun) CancelAllOrders(ctx context.Context, mkt string) error {
	d.logger.Info("dry-run cancel all", zap.String("market", mkt))
	return nil
}

func (d *DryRun) PlaceOrder(ctx context.Context, req order.CreateOrderRequest) (order.PlacedOrder, error) {
	id := -d.nextID.Add(1)
	d.logger.LogOrder("dry_run_place", req.String(), map[string]interface{}{
		"side":   string(req.Side),
		"price":  req.Price.String(),
		"amount": req.Amount.String(),
		"market": req.Market,
	})
	return order.PlacedOrder{ID: id}, nil
}

// Recorder REST 指标记录（monitor.Monitor 实现）。
type Recorder interface {
	RecordRESTRequest(action string)
	RecordRESTError(action string)
	RecordRESTLatency(action string, seconds float64)
}

// Instrumented 为每个交易所调用记录请求数、错误数、延迟。
type Instrumented struct {
	inner Exchange
	rec   Recorder
}

func NewInstrumented(inner Exchange, rec Recorder) *Instrumented {
	return &Instrumented{inner: inner, rec: rec}
}

func (i *Instrumented) observe(action string, start time.Time, err error) {
	i.rec.RecordRESTRequest(action)
	i.rec.RecordRESTLatency(action, time.Since(start).Seconds())
	if err != nil {
		i.rec.RecordRESTError(action)
	}
}

func (i *Instrumented) FetchTicker(ctx context.Context, mkt string) (market.Ticker, error) {
	start := time.Now()
	t, err := i.inner.FetchTicker(ctx, mkt)
	i.observe("ticker", start, err)
	return t, err
}

func (i *Instrumented) FetchActiveOrders(ctx context.Context, mkt string) ([]order.ActiveOrder, error) {
	start := time.Now()
	o, err := i.inner.FetchActiveOrders(ctx, mkt)
	i.observe("active_orders", start, err)
	return o, err
}

func (i *Instrumented) FetchFilledOrders(ctx context.Context, mkt string) ([]order.ActiveOrder, error) {
	start := time.Now()
	o, err := i.inner.FetchFilledOrders(ctx, mkt)
	i.observe("filled_orders", start, err)
	return o, err
}

func (i *Instrumented) FetchBalance(ctx context.Context) (market.Balances, error) {
	start := time.Now()
	b, err := i.inner.FetchBalance(ctx)
	i.observe("balances", start, err)
	return b, err
}

func (i *Instrumented) CancelAllOrders(ctx context.Context, mkt string) error {
	start := time.Now()
	err := i.inner.CancelAllOrders(ctx, mkt)
	i.observe("cancel_all", start, err)
	return err
}

func (i *Instrumented) PlaceOrder(ctx context.Context, req order.CreateOrderRequest) (order.PlacedOrder, error) {
	start := time.Now()
	p, err := i.inner.PlaceOrder(ctx, req)
	i.observe("place_order", start, err)
	return p, err
}
