package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"moneymaker-go/gateway"
	"moneymaker-go/infrastructure/alert"
	"moneymaker-go/infrastructure/logger"
	"moneymaker-go/internal/store"
	"moneymaker-go/market"
	"moneymaker-go/order"
	"moneymaker-go/posttrade"
	"moneymaker-go/strategy"
)

// EngineState 引擎状态
type EngineState int

const (
	// StateIdle 空闲状态
	StateIdle EngineState = iota
	// StateRunning 运行状态
	StateRunning
	// StateStopped 停止状态
	StateStopped
)

// String 返回状态名称
func (s EngineState) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateRunning:
		return "RUNNING"
	case StateStopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}

// Config 引擎配置
type Config struct {
	Market                string        // 交易对
	TickInterval          time.Duration // 对账周期
	InitialDelay          time.Duration // 首轮延迟
	ReportSchedule        string        // cron 表达式
	ReportInitialDelay    time.Duration // 首次报表延迟
	ReportWindow          time.Duration // 报表回看窗口
	ShutdownCancelTimeout time.Duration // 退出撤单超时
	CancelOnShutdown      bool          // 退出时撤销全部挂单
}

// DefaultConfig 返回生产默认值
func DefaultConfig() Config {
	return Config{
		Market:                market.DefaultMarket,
		TickInterval:          5 * time.Second,
		InitialDelay:          2 * time.Second,
		ReportSchedule:        "@every 5m",
		ReportInitialDelay:    5 * time.Second,
		ReportWindow:          48 * time.Hour,
		ShutdownCancelTimeout: 5 * time.Second,
		CancelOnShutdown:      true,
	}
}

// Metrics 引擎使用的指标子集（monitor.Monitor 实现）
type Metrics interface {
	RecordCycle(seconds float64)
	RecordCycleFailure(stage string)
	RecordCycleOverrun()
	RecordAction(kind string, failed bool)
	UpdateTicker(bid, ask, spreadPct float64)
	UpdateListeners(n int)
	UpdateReport(side string, volume, avgPrice float64)
}

type nopMetrics struct{}

func (nopMetrics) RecordCycle(float64)                    {}
func (nopMetrics) RecordCycleFailure(string)              {}
func (nopMetrics) RecordCycleOverrun()                    {}
func (nopMetrics) RecordAction(string, bool)              {}
func (nopMetrics) UpdateTicker(float64, float64, float64) {}
func (nopMetrics) UpdateListeners(int)                    {}
func (nopMetrics) UpdateReport(string, float64, float64)  {}

// Components 引擎依赖组件
type Components struct {
	Exchange      gateway.Exchange
	Strategy      *strategy.PriceStrategy
	Store         *store.Store
	Logger        *logger.Logger
	Metrics       Metrics        // 可选
	Alerts        *alert.Manager // 可选
	OrderDefaults strategy.OrderDefaults
}

// Statistics 引擎统计信息
type Statistics struct {
	StartTime         time.Time
	TotalCycles       int64
	FailedCycles      int64
	Overruns          int64
	TotalActions      int64
	FailedActions     int64
	TotalReports      int64
	FailedReports     int64
	LastCycleTime     time.Time
	LastCycleDuration time.Duration
	LastError         string
}

// Scheduler drives the reconciliation tick and the reporting job for one market.
type Scheduler struct {
	config   Config
	exchange gateway.Exchange
	store    *store.Store
	logger   *logger.Logger
	metrics  Metrics
	alerts   *alert.Manager
	executor *order.Executor
	defaults strategy.OrderDefaults
	strategy atomic.Pointer[strategy.PriceStrategy]
	now      func() time.Time

	cycleSeq atomic.Int64

	// 状态
	state EngineState
	mu    sync.RWMutex

	// 控制
	stopChan    chan struct{}
	doneChan    chan struct{}
	cron        *cron.Cron
	reportTimer *time.Timer
	reportWG    sync.WaitGroup // 首次报表

	stats   Statistics
	statsMu sync.RWMutex
}

// New 创建调度器
func New(cfg Config, comp Components) (*Scheduler, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if err := validateComponents(comp); err != nil {
		return nil, fmt.Errorf("invalid components: %w", err)
	}
	if cfg.ReportSchedule == "" {
		cfg.ReportSchedule = "@every 5m"
	}
	if cfg.ReportWindow <= 0 {
		cfg.ReportWindow = 48 * time.Hour
	}
	if comp.Metrics == nil {
		comp.Metrics = nopMetrics{}
	}
	defaults := comp.OrderDefaults
	if defaults.Market == "" {
		defaults.Market = cfg.Market
	}
	if defaults.Amount.IsZero() {
		defaults.Amount = order.DefaultAmount
	}

	s := &Scheduler{
		config:   cfg,
		exchange: comp.Exchange,
		store:    comp.Store,
		logger:   comp.Logger,
		metrics:  comp.Metrics,
		alerts:   comp.Alerts,
		defaults: defaults,
		now:      func() time.Time { return time.Now().UTC() },
		state:    StateIdle,
	}
	s.strategy.Store(comp.Strategy)
	s.executor = order.NewExecutor(comp.Exchange, cfg.Market, order.WithObserver(s.observeAction))
	return s, nil
}

// Seed 启动前同步拉取挂单与余额，保证首个快照非空。
func (s *Scheduler) Seed(ctx context.Context) error {
	var (
		orders   []order.ActiveOrder
		balances market.Balances
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(guard(func() error {
		var err error
		orders, err = s.exchange.FetchActiveOrders(gctx, s.config.Market)
		if err != nil {
			return fmt.Errorf("active orders: %w", err)
		}
		return nil
	}))
	g.Go(guard(func() error {
		var err error
		balances, err = s.exchange.FetchBalance(gctx)
		if err != nil {
			return fmt.Errorf("balance: %w", err)
		}
		return nil
	}))
	if err := g.Wait(); err != nil {
		return fmt.Errorf("seed: %w", err)
	}

	at := s.now()
	s.store.Update(func(st store.AppState) store.AppState {
		return st.WithActiveOrders(orders, at).WithBalances(balances, at)
	})
	s.logger.Info("state seeded",
		zap.String("market", s.config.Market),
		zap.Int("active_orders", len(orders)))
	return nil
}

// Start 启动对账循环和报表任务
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state == StateRunning {
		s.mu.Unlock()
		return fmt.Errorf("engine already started (state: %s)", s.state)
	}
	s.stopChan = make(chan struct{})
	s.doneChan = make(chan struct{})
	s.state = StateRunning
	s.mu.Unlock()

	s.statsMu.Lock()
	s.stats.StartTime = s.now()
	s.statsMu.Unlock()

	cronLog := cronLogger{s.logger.Named("report")}
	s.cron = cron.New(
		cron.WithLocation(time.UTC),
		cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)),
	)
	if _, err := s.cron.AddFunc(s.config.ReportSchedule, func() { s.safeReport(ctx) }); err != nil {
		s.mu.Lock()
		s.state = StateStopped
		s.mu.Unlock()
		return fmt.Errorf("schedule report %q: %w", s.config.ReportSchedule, err)
	}
	s.cron.Start()
	s.reportWG.Add(1)
	s.reportTimer = time.AfterFunc(s.config.ReportInitialDelay, func() {
		defer s.reportWG.Done()
		s.safeReport(ctx)
	})

	s.logger.Info("engine starting",
		zap.String("market", s.config.Market),
		zap.Duration("tick_interval", s.config.TickInterval),
		zap.Duration("initial_delay", s.config.InitialDelay),
		zap.String("report_schedule", s.config.ReportSchedule),
		zap.String("strategy", s.Strategy().String()))

	go s.run(ctx, s.stopChan, s.doneChan)
	return nil
}

// Stop 停止周期任务并等待进行中的一轮与报表结束；撤单由 Cleanup 负责。
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if s.state != StateRunning {
		s.mu.Unlock()
		return nil
	}
	s.state = StateStopped
	stopChan, doneChan := s.stopChan, s.doneChan
	s.mu.Unlock()

	s.logger.Info("engine stopping")
	close(stopChan)
	// 计时器未触发时由这里抵消 Add；已触发则等待其执行完毕
	if s.reportTimer != nil && s.reportTimer.Stop() {
		s.reportWG.Done()
	}
	cronDone := s.cron.Stop()
	initialDone := make(chan struct{})
	go func() {
		s.reportWG.Wait()
		close(initialDone)
	}()

	select {
	case <-doneChan:
	case <-time.After(10 * time.Second):
		s.logger.Warn("timeout waiting for cycle loop to stop")
	}
	select {
	case <-cronDone.Done():
	case <-time.After(10 * time.Second):
		s.logger.Warn("timeout waiting for report job to stop")
	}
	select {
	case <-initialDone:
	case <-time.After(10 * time.Second):
		s.logger.Warn("timeout waiting for initial report to finish")
	}

	s.logger.Info("engine stopped")
	return nil
}

// Cleanup 尽力撤销全部挂单，受 ShutdownCancelTimeout 约束；失败只记录。
func (s *Scheduler) Cleanup() error {
	if !s.config.CancelOnShutdown {
		return nil
	}
	timeout := s.config.ShutdownCancelTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := s.exchange.CancelAllOrders(ctx, s.config.Market); err != nil {
		s.logger.Error("shutdown cancel failed", zap.String("market", s.config.Market), zap.Error(err))
		_ = s.alerts.Critical("shutdown_cancel", "failed to cancel resting orders on shutdown",
			map[string]interface{}{"market": s.config.Market, "error": err.Error()})
		return fmt.Errorf("shutdown cancel: %w", err)
	}
	s.logger.Info("resting orders cancelled on shutdown", zap.String("market", s.config.Market))
	return nil
}

// run 主循环；周期在本 goroutine 内串行执行，错过的 tick 由 time.Ticker 合并。
func (s *Scheduler) run(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	if s.config.InitialDelay > 0 {
		delay := time.NewTimer(s.config.InitialDelay)
		select {
		case <-ctx.Done():
			delay.Stop()
			return
		case <-stop:
			delay.Stop()
			return
		case <-delay.C:
		}
	}
	s.safeCycle(ctx)

	ticker := time.NewTicker(s.config.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("context done, stopping cycle loop")
			return
		case <-stop:
			return
		case <-ticker.C:
			s.safeCycle(ctx)
		}
	}
}

func (s *Scheduler) safeCycle(ctx context.Context) {
	_ = s.RunCycle(ctx)
}

type snapshot struct {
	ticker   market.Ticker
	orders   []order.ActiveOrder
	balances market.Balances
}

// RunCycle 执行一轮对账：并发拉取，双边决策，合并，顺序执行，发布快照。
// 错误与 panic 均在此记录并返回，不会中断调度。
func (s *Scheduler) RunCycle(ctx context.Context) (err error) {
	cycle := s.cycleSeq.Add(1)
	start := time.Now()
	stage := "fetch"

	watchdog := time.AfterFunc(s.config.TickInterval, func() { s.onOverrun(cycle, start) })
	defer func() {
		watchdog.Stop()
		if r := recover(); r != nil {
			err = fmt.Errorf("cycle panic: %v", r)
			s.logger.Error("cycle panic", zap.Int64("cycle", cycle), zap.ByteString("stack", debug.Stack()))
		}
		s.finishCycle(cycle, stage, time.Since(start), err)
	}()

	snap, err := s.fetch(ctx)
	if err != nil {
		return fmt.Errorf("fetch: %w", err)
	}
	stage = "ticker"
	if err := snap.ticker.Validate(); err != nil {
		return fmt.Errorf("ticker: %w", err)
	}

	stage = "reconcile"
	strat := s.Strategy()
	bids := strategy.NewSideReconciler(order.Bid, strat, s.defaults).Reconcile(snap.orders, snap.ticker)
	asks := strategy.NewSideReconciler(order.Ask, strat, s.defaults).Reconcile(snap.orders, snap.ticker)
	actions := order.Merge(bids, asks)

	stage = "execute"
	if err := s.executor.Execute(ctx, actions); err != nil {
		return fmt.Errorf("execute: %w", err)
	}
	s.publish(snap, actions)
	return nil
}

func (s *Scheduler) fetch(ctx context.Context) (snapshot, error) {
	var snap snapshot
	g, gctx := errgroup.WithContext(ctx)
	g.Go(guard(func() error {
		t, err := s.exchange.FetchTicker(gctx, s.config.Market)
		if err != nil {
			return fmt.Errorf("ticker: %w", err)
		}
		snap.ticker = t
		return nil
	}))
	g.Go(guard(func() error {
		o, err := s.exchange.FetchActiveOrders(gctx, s.config.Market)
		if err != nil {
			return fmt.Errorf("active orders: %w", err)
		}
		snap.orders = o
		return nil
	}))
	g.Go(guard(func() error {
		b, err := s.exchange.FetchBalance(gctx)
		if err != nil {
			return fmt.Errorf("balance: %w", err)
		}
		snap.balances = b
		return nil
	}))
	return snap, g.Wait()
}

// guard 把拉取协程中的 panic 转为错误，交给本轮的失败处理。
func guard(fn func() error) func() error {
	return func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("fetch panic: %v", r)
			}
		}()
		return fn()
	}
}

func (s *Scheduler) publish(snap snapshot, actions []order.Action) {
	at := s.now()
	s.store.Update(func(st store.AppState) store.AppState {
		return st.WithTicker(s.config.Market, snap.ticker, at).
			WithActiveOrders(snap.orders, at).
			WithBalances(snap.balances, at).
			WithActions(actions, at)
	})
	s.metrics.UpdateTicker(snap.ticker.Bid.InexactFloat64(), snap.ticker.Ask.InexactFloat64(),
		snap.ticker.SpreadAsPercentage().InexactFloat64())
	s.metrics.UpdateListeners(s.store.ListenersCount())
}

func (s *Scheduler) finishCycle(cycle int64, stage string, elapsed time.Duration, err error) {
	s.statsMu.Lock()
	s.stats.TotalCycles++
	s.stats.LastCycleTime = s.now()
	s.stats.LastCycleDuration = elapsed
	if err != nil {
		s.stats.FailedCycles++
		s.stats.LastError = err.Error()
	}
	s.statsMu.Unlock()

	s.metrics.RecordCycle(elapsed.Seconds())
	if err == nil {
		s.logger.LogCycle(cycle, elapsed, nil)
		return
	}
	s.metrics.RecordCycleFailure(stage)
	s.logger.Error("cycle failed",
		zap.Int64("cycle", cycle),
		zap.String("stage", stage),
		zap.Duration("elapsed", elapsed),
		zap.Error(err))
	_ = s.alerts.Error("cycle_failed:"+stage, "reconciliation cycle failed",
		map[string]interface{}{"cycle": cycle, "stage": stage, "error": err.Error()})
}

func (s *Scheduler) onOverrun(cycle int64, start time.Time) {
	s.statsMu.Lock()
	s.stats.Overruns++
	s.statsMu.Unlock()

	s.metrics.RecordCycleOverrun()
	s.logger.Warn("cycle exceeds tick interval",
		zap.Int64("cycle", cycle),
		zap.Duration("elapsed", time.Since(start)),
		zap.Duration("tick_interval", s.config.TickInterval))
	_ = s.alerts.Warn("cycle_overrun", "reconciliation cycle exceeds tick interval",
		map[string]interface{}{"cycle": cycle, "tick_interval": s.config.TickInterval.String()})
}

func (s *Scheduler) observeAction(a order.Action, elapsed time.Duration, err error) {
	s.statsMu.Lock()
	s.stats.TotalActions++
	if err != nil {
		s.stats.FailedActions++
	}
	s.statsMu.Unlock()

	s.metrics.RecordAction(string(a.Kind()), err != nil)
	fields := map[string]interface{}{
		"market":     s.config.Market,
		"elapsed_ms": elapsed.Milliseconds(),
	}
	if req, ok := order.RequestOf(a); ok {
		fields["side"] = string(req.Side)
		fields["price"] = req.Price.String()
		fields["amount"] = req.Amount.String()
	}
	s.logger.LogAction(order.Describe(a), fields, err)
}

func (s *Scheduler) safeReport(ctx context.Context) {
	_ = s.RunReport(ctx)
}

// RunReport 拉取成交历史、发布并记录窗口内统计；失败只记录，不影响对账。
func (s *Scheduler) RunReport(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("report panic: %v", r)
		}
		s.statsMu.Lock()
		s.stats.TotalReports++
		if err != nil {
			s.stats.FailedReports++
		}
		s.statsMu.Unlock()
		if err != nil {
			s.logger.Warn("report failed", zap.Error(err))
		}
	}()

	filled, err := s.exchange.FetchFilledOrders(ctx, s.config.Market)
	if err != nil {
		return fmt.Errorf("filled orders: %w", err)
	}
	now := s.now()
	s.store.Update(func(st store.AppState) store.AppState {
		return st.WithFilledOrders(filled, now)
	})

	rep := posttrade.Summarize(filled, now, s.config.ReportWindow)
	for _, side := range []posttrade.SideReport{rep.Bid, rep.Ask} {
		s.metrics.UpdateReport(string(side.Side), side.Volume.InexactFloat64(), side.AvgPrice.InexactFloat64())
	}
	s.logger.WithFields(rep.Fields()).Info("trade report",
		zap.String("market", s.config.Market),
		zap.Duration("window", s.config.ReportWindow))
	return nil
}

// UpdateStrategy 原子替换定价策略，下一轮生效。
func (s *Scheduler) UpdateStrategy(ps *strategy.PriceStrategy) error {
	if ps == nil {
		return errors.New("strategy is required")
	}
	prev := s.strategy.Swap(ps)
	s.logger.Info("strategy updated",
		zap.String("from", prev.String()),
		zap.String("to", ps.String()))
	return nil
}

// Strategy 当前生效的定价策略
func (s *Scheduler) Strategy() *strategy.PriceStrategy {
	return s.strategy.Load()
}

// State 获取引擎状态
func (s *Scheduler) State() EngineState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Health 运行中返回 nil
func (s *Scheduler) Health() error {
	if st := s.State(); st != StateRunning {
		return fmt.Errorf("engine not running (state: %s)", st)
	}
	return nil
}

// Statistics 获取统计信息
func (s *Scheduler) Statistics() Statistics {
	s.statsMu.RLock()
	defer s.statsMu.RUnlock()
	return s.stats
}

// cronLogger 把 cron 内部日志接到 zap
type cronLogger struct {
	l *logger.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Sugar().Debugw(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Sugar().Errorw(msg, append(keysAndValues, "error", err)...)
}

// validateConfig 验证配置
func validateConfig(cfg Config) error {
	if cfg.Market == "" {
		return errors.New("market is required")
	}
	if cfg.TickInterval <= 0 {
		return errors.New("tick_interval must be > 0")
	}
	if cfg.InitialDelay < 0 || cfg.ReportInitialDelay < 0 {
		return errors.New("initial delays must be >= 0")
	}
	return nil
}

// validateComponents 验证组件
func validateComponents(comp Components) error {
	if comp.Exchange == nil {
		return errors.New("exchange is required")
	}
	if comp.Strategy == nil {
		return errors.New("strategy is required")
	}
	if comp.Store == nil {
		return errors.New("store is required")
	}
	if comp.Logger == nil {
		return errors.New("logger is required")
	}
	return nil
}
