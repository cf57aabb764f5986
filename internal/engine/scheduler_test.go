package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"moneymaker-go/infrastructure/alert"
	"moneymaker-go/infrastructure/logger"
	"moneymaker-go/internal/store"
	"moneymaker-go/market"
	"moneymaker-go/order"
	"moneymaker-go/strategy"
)

// fakeExchange 记录调用顺序，可注入错误与延迟
type fakeExchange struct {
	mu sync.Mutex

	ticker   market.Ticker
	orders   []order.ActiveOrder
	filled   []order.ActiveOrder
	balances market.Balances

	tickerErr   error
	placeErr    error
	cancelErr   error
	filledErr   error
	tickerDelay time.Duration
	panicTicker bool

	// filledGate 非空时成交查询先通知 filledEntered，再阻塞到 gate 关闭
	filledGate    chan struct{}
	filledEntered chan struct{}

	calls       []string
	placed      []order.CreateOrderRequest
	tickerCalls int
}

func (f *fakeExchange) record(call string) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
}

func (f *fakeExchange) FetchTicker(ctx context.Context, mkt string) (market.Ticker, error) {
	f.mu.Lock()
	f.tickerCalls++
	delay, panicky := f.tickerDelay, f.panicTicker
	t, err := f.ticker, f.tickerErr
	f.mu.Unlock()
	if panicky {
		panic("decoder exploded")
	}
	if delay > 0 {
		time.Sleep(delay)
	}
	return t, err
}

func (f *fakeExchange) FetchActiveOrders(ctx context.Context, mkt string) ([]order.ActiveOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]order.ActiveOrder(nil), f.orders...), nil
}

func (f *fakeExchange) FetchFilledOrders(ctx context.Context, mkt string) ([]order.ActiveOrder, error) {
	f.mu.Lock()
	gate, entered := f.filledGate, f.filledEntered
	f.mu.Unlock()
	if gate != nil {
		entered <- struct{}{}
		<-gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]order.ActiveOrder(nil), f.filled...), f.filledErr
}

func (f *fakeExchange) FetchBalance(ctx context.Context) (market.Balances, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balances, nil
}

func (f *fakeExchange) CancelAllOrders(ctx context.Context, mkt string) error {
	f.record("cancel")
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cancelErr
}

func (f *fakeExchange) PlaceOrder(ctx context.Context, req order.CreateOrderRequest) (order.PlacedOrder, error) {
	f.record("place:" + string(req.Side) + ":" + req.Price.String())
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.placeErr != nil {
		return order.PlacedOrder{}, f.placeErr
	}
	f.placed = append(f.placed, req)
	return order.PlacedOrder{ID: int64(len(f.placed))}, nil
}

func (f *fakeExchange) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeExchange) TickerCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tickerCalls
}

// fakeMetrics 统计调用次数
type fakeMetrics struct {
	nopMetrics
	mu       sync.Mutex
	cycles   int
	failures map[string]int
	overruns int
	actions  map[string]int
}

func newFakeMetrics() *fakeMetrics {
	return &fakeMetrics{failures: map[string]int{}, actions: map[string]int{}}
}

func (m *fakeMetrics) RecordCycle(float64) {
	m.mu.Lock()
	m.cycles++
	m.mu.Unlock()
}

func (m *fakeMetrics) RecordCycleFailure(stage string) {
	m.mu.Lock()
	m.failures[stage]++
	m.mu.Unlock()
}

func (m *fakeMetrics) RecordCycleOverrun() {
	m.mu.Lock()
	m.overruns++
	m.mu.Unlock()
}

func (m *fakeMetrics) RecordAction(kind string, failed bool) {
	m.mu.Lock()
	m.actions[kind]++
	m.mu.Unlock()
}

func (m *fakeMetrics) Overruns() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.overruns
}

func ask(price string) order.ActiveOrder {
	return order.ActiveOrder{ID: 1, Market: "BTCNOK", Side: order.Ask, Price: decimal.RequireFromString(price)}
}

type harness struct {
	sched   *Scheduler
	ex      *fakeExchange
	store   *store.Store
	metrics *fakeMetrics
	alerts  *alert.MockChannel
}

func newHarness(t *testing.T, mutate func(*Config)) *harness {
	t.Helper()
	cfg := DefaultConfig()
	cfg.InitialDelay = 0
	cfg.ReportInitialDelay = time.Hour
	if mutate != nil {
		mutate(&cfg)
	}
	ex := &fakeExchange{
		ticker: market.NewTickerFromFloat(999, 1000),
		balances: market.NewBalances([]market.CurrencyBalance{
			{Currency: market.NOK, Available: decimal.NewFromInt(1000)},
		}),
	}
	st := store.New(nil)
	metrics := newFakeMetrics()
	ch := alert.NewMockChannel("mock")
	sched, err := New(cfg, Components{
		Exchange: ex,
		Strategy: strategy.MustNew(strategy.DefaultConfig()),
		Store:    st,
		Logger:   logger.NewNop(),
		Metrics:  metrics,
		Alerts:   alert.NewManager([]alert.Channel{ch}, time.Hour),
	})
	require.NoError(t, err)
	return &harness{sched: sched, ex: ex, store: st, metrics: metrics, alerts: ch}
}

func TestRunCycleNoOrdersAddsBothSides(t *testing.T) {
	h := newHarness(t, nil)

	require.NoError(t, h.sched.RunCycle(context.Background()))

	assert.Equal(t, []string{"place:bid:987", "place:ask:1011.99"}, h.ex.Calls())

	st := h.store.Get()
	assert.Equal(t, "999", st.Market.Tickers["BTCNOK"].Bid.String())
	require.Len(t, st.PrevActionSet.Actions, 2)
	assert.Equal(t, order.KindAddBid, st.PrevActionSet.Actions[0].Kind())
	assert.Equal(t, order.KindAddAsk, st.PrevActionSet.Actions[1].Kind())
	assert.Equal(t, "1000", st.AccountBalance.Balances.Available(market.NOK).String())

	stats := h.sched.Statistics()
	assert.Equal(t, int64(1), stats.TotalCycles)
	assert.Equal(t, int64(0), stats.FailedCycles)
	assert.Equal(t, int64(2), stats.TotalActions)
	assert.Equal(t, 1, h.metrics.actions["AddAsk"])
}

func TestRunCycleInvalidAskClearsFirst(t *testing.T) {
	h := newHarness(t, nil)
	h.ex.ticker = market.NewTickerFromFloat(90, 110)
	h.ex.orders = []order.ActiveOrder{ask("91")}

	require.NoError(t, h.sched.RunCycle(context.Background()))

	assert.Equal(t, []string{"cancel", "place:bid:90", "place:ask:110"}, h.ex.Calls())
	actions := h.store.Get().PrevActionSet.Actions
	require.Len(t, actions, 3)
	assert.Equal(t, order.KindClearOrders, actions[0].Kind())
}

func TestRunCycleKeepsValidOrders(t *testing.T) {
	h := newHarness(t, nil)
	h.ex.ticker = market.NewTickerFromFloat(999, 1000)
	h.ex.orders = []order.ActiveOrder{
		ask("1011.99"),
		{ID: 2, Market: "BTCNOK", Side: order.Bid, Price: decimal.RequireFromString("987")},
	}

	require.NoError(t, h.sched.RunCycle(context.Background()))

	assert.Empty(t, h.ex.Calls())
	assert.Empty(t, h.store.Get().PrevActionSet.Actions)
}

func TestRunCycleFetchFailure(t *testing.T) {
	h := newHarness(t, nil)
	h.ex.tickerErr = errors.New("connection reset")
	before := h.store.Get().Version

	err := h.sched.RunCycle(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")

	assert.Empty(t, h.ex.Calls())
	assert.Equal(t, before, h.store.Get().Version)
	assert.Equal(t, int64(1), h.sched.Statistics().FailedCycles)
	assert.Equal(t, 1, h.metrics.failures["fetch"])
	assert.Equal(t, 1, h.alerts.Count())
}

func TestRunCycleInvalidTicker(t *testing.T) {
	h := newHarness(t, nil)
	h.ex.ticker = market.NewTickerFromFloat(1000, 999)

	require.Error(t, h.sched.RunCycle(context.Background()))
	assert.Empty(t, h.ex.Calls())
	assert.Equal(t, 1, h.metrics.failures["ticker"])
}

func TestRunCycleExecutionFailureKeepsState(t *testing.T) {
	h := newHarness(t, nil)
	h.ex.orders = []order.ActiveOrder{ask("1011.99")}
	require.NoError(t, h.sched.Seed(context.Background()))
	before := h.store.Get()

	h.ex.placeErr = errors.New("insufficient funds")
	err := h.sched.RunCycle(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "execute")
	var execErr *order.ExecutionError
	require.True(t, errors.As(err, &execErr))
	assert.Equal(t, 0, execErr.Index)

	// 首个失败即中止，本轮不发布
	assert.Equal(t, []string{"place:bid:987"}, h.ex.Calls())
	st := h.store.Get()
	assert.Equal(t, before.Version, st.Version)
	assert.Equal(t, before.UpdatedAt, st.UpdatedAt)
	assert.Empty(t, st.PrevActionSet.Actions)
	assert.Empty(t, st.Market.Tickers)
	assert.Equal(t, 1, h.metrics.failures["execute"])
	assert.Equal(t, int64(1), h.sched.Statistics().FailedActions)
	assert.Equal(t, int64(1), h.sched.Statistics().FailedCycles)
}

func TestRunCycleRecoversPanic(t *testing.T) {
	h := newHarness(t, nil)
	h.ex.panicTicker = true

	var err error
	require.NotPanics(t, func() { err = h.sched.RunCycle(context.Background()) })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decoder exploded")
	assert.Equal(t, int64(1), h.sched.Statistics().FailedCycles)
}

func TestRunCycleOverrunWarns(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.TickInterval = 20 * time.Millisecond })
	h.ex.tickerDelay = 80 * time.Millisecond

	require.NoError(t, h.sched.RunCycle(context.Background()))
	assert.Equal(t, 1, h.metrics.Overruns())
	assert.Equal(t, int64(1), h.sched.Statistics().Overruns)
}

func TestSeedPublishesOrdersAndBalance(t *testing.T) {
	h := newHarness(t, nil)
	h.ex.orders = []order.ActiveOrder{ask("1011.99")}

	require.NoError(t, h.sched.Seed(context.Background()))

	st := h.store.Get()
	require.Len(t, st.ActiveTrades.Orders, 1)
	assert.Equal(t, "1000", st.AccountBalance.Balances.Available(market.NOK).String())
	assert.Empty(t, h.ex.Calls())
}

func TestRunReport(t *testing.T) {
	h := newHarness(t, nil)
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	h.sched.now = func() time.Time { return now }
	h.ex.filled = []order.ActiveOrder{{
		ID: 9, Side: order.Bid,
		Price:     decimal.NewFromInt(500000),
		Matched:   decimal.RequireFromString("0.0001"),
		CreatedAt: now.Add(-time.Hour),
	}}

	require.NoError(t, h.sched.RunReport(context.Background()))
	st := h.store.Get()
	require.Len(t, st.FilledOrders.Orders, 1)
	assert.Equal(t, now, st.FilledOrders.UpdatedAt)

	h.ex.filledErr = errors.New("timeout")
	require.Error(t, h.sched.RunReport(context.Background()))
	stats := h.sched.Statistics()
	assert.Equal(t, int64(2), stats.TotalReports)
	assert.Equal(t, int64(1), stats.FailedReports)
}

func TestStartStopLoop(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.TickInterval = 10 * time.Millisecond })
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, h.sched.Start(ctx))
	assert.Error(t, h.sched.Start(ctx))
	assert.NoError(t, h.sched.Health())

	assert.Eventually(t, func() bool { return h.ex.TickerCalls() >= 3 }, time.Second, 5*time.Millisecond)

	require.NoError(t, h.sched.Stop())
	assert.Equal(t, StateStopped, h.sched.State())
	assert.Error(t, h.sched.Health())

	calls := h.ex.TickerCalls()
	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, calls, h.ex.TickerCalls(), "no cycles after stop")

	// 幂等
	assert.NoError(t, h.sched.Stop())
}

func TestStopWaitsForInitialReport(t *testing.T) {
	h := newHarness(t, func(c *Config) {
		c.InitialDelay = time.Hour
		c.ReportInitialDelay = time.Millisecond
	})
	h.ex.filledGate = make(chan struct{})
	h.ex.filledEntered = make(chan struct{}, 1)

	require.NoError(t, h.sched.Start(context.Background()))
	select {
	case <-h.ex.filledEntered:
	case <-time.After(time.Second):
		t.Fatal("initial report did not start")
	}

	stopped := make(chan struct{})
	go func() {
		_ = h.sched.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
		t.Fatal("Stop returned while the initial report was running")
	case <-time.After(50 * time.Millisecond):
	}

	close(h.ex.filledGate)
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return after the report finished")
	}
	assert.Equal(t, int64(1), h.sched.Statistics().TotalReports)
}

func TestLoopSurvivesFailingCycles(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.TickInterval = 10 * time.Millisecond })
	h.ex.tickerErr = errors.New("502 bad gateway")

	require.NoError(t, h.sched.Start(context.Background()))
	assert.Eventually(t, func() bool { return h.sched.Statistics().FailedCycles >= 3 }, time.Second, 5*time.Millisecond)
	require.NoError(t, h.sched.Stop())

	// 同一 key 的告警被限流
	assert.Equal(t, 1, h.alerts.Count())
}

func TestCleanup(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.sched.Cleanup())
	assert.Equal(t, []string{"cancel"}, h.ex.Calls())

	h.ex.cancelErr = errors.New("unauthorized")
	assert.Error(t, h.sched.Cleanup())
	assert.Equal(t, 1, h.alerts.Count())

	off := newHarness(t, func(c *Config) { c.CancelOnShutdown = false })
	require.NoError(t, off.sched.Cleanup())
	assert.Empty(t, off.ex.Calls())
}

func TestUpdateStrategy(t *testing.T) {
	h := newHarness(t, nil)
	wide := strategy.MustNew(strategy.Config{MinSpread: 0.02})

	require.NoError(t, h.sched.UpdateStrategy(wide))
	assert.Same(t, wide, h.sched.Strategy())
	assert.Error(t, h.sched.UpdateStrategy(nil))

	require.NoError(t, h.sched.RunCycle(context.Background()))
	// 999 * 1.02 = 1018.98
	assert.Contains(t, h.ex.Calls(), "place:ask:1018.98")
}

func TestNewValidation(t *testing.T) {
	_, err := New(Config{}, Components{})
	assert.Error(t, err)

	_, err = New(DefaultConfig(), Components{Logger: logger.NewNop()})
	assert.Error(t, err)
}
