package container

import (
	"context"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"moneymaker-go/config"
	"moneymaker-go/gateway"
	"moneymaker-go/infrastructure/alert"
	"moneymaker-go/infrastructure/logger"
	"moneymaker-go/infrastructure/monitor"
	hotreload "moneymaker-go/internal/config"
	"moneymaker-go/internal/engine"
	"moneymaker-go/internal/server"
	"moneymaker-go/internal/store"
	"moneymaker-go/strategy"
)

// Container 依赖注入容器，管理所有组件的生命周期
type Container struct {
	cfg        config.AppConfig
	configPath string

	// 基础设施
	logger  *logger.Logger
	monitor *monitor.Monitor
	alerts  *alert.Manager

	// 交易所网关
	exchange gateway.Exchange

	// 核心服务
	store    *store.Store
	engine   *engine.Scheduler
	server   *server.Server
	metrics  *httpServerComponent
	reloader *hotreload.HotReloader

	lifecycle *LifecycleManager
}

// New 加载配置（含环境变量覆盖）并创建容器
func New(configPath string) (*Container, error) {
	cfg, err := config.LoadWithEnvOverrides(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config failed: %w", err)
	}
	return NewWithConfig(cfg, configPath), nil
}

// NewWithConfig 使用已校验的配置；configPath 为空时不启用热更新
func NewWithConfig(cfg config.AppConfig, configPath string) *Container {
	return &Container{
		cfg:        cfg,
		configPath: configPath,
		lifecycle:  NewLifecycleManager(),
	}
}

// Build 构建所有组件
func (c *Container) Build() error {
	if err := c.buildInfrastructure(); err != nil {
		return fmt.Errorf("build infrastructure failed: %w", err)
	}

	c.buildGateway()

	if err := c.buildCoreServices(); err != nil {
		return fmt.Errorf("build core services failed: %w", err)
	}

	if err := c.registerLifecycleComponents(); err != nil {
		return fmt.Errorf("register components failed: %w", err)
	}
	c.logger.Info("container built",
		zap.String("env", c.cfg.Env),
		zap.String("market", c.cfg.Market),
		zap.Bool("dry_run", c.cfg.DryRun),
		zap.Strings("components", c.lifecycle.Names()))
	return nil
}

func (c *Container) buildInfrastructure() error {
	var err error
	c.logger, err = logger.New(c.cfg.Log)
	if err != nil {
		return fmt.Errorf("create logger failed: %w", err)
	}

	c.monitor = monitor.New(monitor.DefaultConfig())

	channels := []alert.Channel{alert.NewLogChannel("log", c.logger.Named("alert"))}
	c.alerts = alert.NewManager(channels, c.cfg.Alert.Throttle())

	c.logger.Info("infrastructure built")
	return nil
}

func (c *Container) buildGateway() {
	httpClient := gateway.NewDefaultHTTPClient()
	httpClient.Timeout = c.cfg.Gateway.Timeout()

	client := &gateway.FiriClient{
		BaseURL:    c.cfg.Gateway.BaseURL,
		APIKey:     c.cfg.Gateway.APIKey,
		ClientID:   c.cfg.Gateway.ClientID,
		Secret:     c.cfg.Gateway.Secret,
		HTTPClient: httpClient,
		Limiter:    gateway.NewTokenBucketLimiter(c.cfg.Gateway.RateLimit, c.cfg.Gateway.Burst),
	}

	breaker := gateway.NewBreaker(gateway.NewInstrumented(client, c.monitor), gateway.BreakerConfig{
		Threshold: c.cfg.Gateway.BreakerThreshold,
		Cooldown:  c.cfg.Gateway.BreakerCooldown(),
	})
	breaker.OnStateChange(func(from, to gateway.BreakerState, err error) {
		fields := map[string]interface{}{"from": from.String(), "to": to.String()}
		if err != nil {
			fields["error"] = err.Error()
		}
		if to == gateway.BreakerOpen {
			c.logger.Warn("gateway breaker opened", zap.String("from", from.String()), zap.Error(err))
			_ = c.alerts.Error("gateway_breaker", "exchange requests suspended after repeated failures", fields)
			return
		}
		c.logger.Info("gateway breaker state changed", zap.String("from", from.String()), zap.String("to", to.String()))
	})

	var ex gateway.Exchange = breaker
	if c.cfg.DryRun {
		ex = gateway.NewDryRun(ex, c.logger.Named("dry_run"))
		c.logger.Warn("dry run enabled: orders will not be sent")
	}
	c.exchange = ex
	c.logger.Info("gateway built", zap.String("base_url", client.BaseURL))
}

func (c *Container) buildCoreServices() error {
	ps, err := strategy.New(c.cfg.Strategy)
	if err != nil {
		return fmt.Errorf("strategy: %w", err)
	}
	amount, err := decimal.NewFromString(c.cfg.Order.Amount)
	if err != nil {
		return fmt.Errorf("order amount: %w", err)
	}

	c.store = store.New(store.NowUTC)

	sc := c.cfg.Scheduler
	c.engine, err = engine.New(engine.Config{
		Market:                c.cfg.Market,
		TickInterval:          sc.TickInterval(),
		InitialDelay:          sc.InitialDelay(),
		ReportSchedule:        sc.ReportSchedule,
		ReportInitialDelay:    sc.ReportInitialDelay(),
		ReportWindow:          sc.ReportWindow(),
		ShutdownCancelTimeout: sc.ShutdownCancelTimeout(),
		CancelOnShutdown:      sc.CancelOnShutdown == nil || *sc.CancelOnShutdown,
	}, engine.Components{
		Exchange:      c.exchange,
		Strategy:      ps,
		Store:         c.store,
		Logger:        c.logger.Named("engine"),
		Metrics:       c.monitor,
		Alerts:        c.alerts,
		OrderDefaults: strategy.OrderDefaults{Amount: amount, Market: c.cfg.Market},
	})
	if err != nil {
		return fmt.Errorf("engine: %w", err)
	}

	srvCfg := server.Config{
		Addr:         c.cfg.Server.Addr,
		PushInterval: c.cfg.Server.PushInterval(),
		RateLimit:    c.cfg.Server.RateLimit,
		Burst:        c.cfg.Server.Burst,
	}
	if c.cfg.Metrics.Addr == "" {
		srvCfg.Metrics = c.monitor.Handler()
	} else {
		mux := http.NewServeMux()
		mux.Handle("GET /metrics", c.monitor.Handler())
		c.metrics = &httpServerComponent{
			name:    "metrics_server",
			handler: mux,
			addr:    c.cfg.Metrics.Addr,
			logger:  c.logger,
		}
	}
	c.server = server.New(srvCfg, c.store, c.engine, c.logger)

	if c.cfg.HotReload.Enabled && c.configPath != "" {
		c.reloader, err = hotreload.NewHotReloader(c.configPath, hotreload.HotReloadConfig{
			Enabled:      true,
			CooldownTime: c.cfg.HotReload.Cooldown(),
		}, c.logger.Named("config"))
		if err != nil {
			return fmt.Errorf("hot reload: %w", err)
		}
		c.reloader.SetReloadHandler(hotreload.StrategyHandler(c.engine))
	}

	c.logger.Info("core services built", zap.String("strategy", ps.String()))
	return nil
}

// registerLifecycleComponents 注册顺序决定启动顺序，停止时逆序：
// 先停热更新与对账循环，再关闭对外服务，最后撤单。
func (c *Container) registerLifecycleComponents() error {
	if c.engine == nil || c.server == nil {
		return fmt.Errorf("core services not built")
	}
	c.lifecycle.Register("seed", funcComponent{
		start: c.engine.Seed,
		stop:  c.engine.Cleanup,
	})
	c.lifecycle.Register("http_server", c.server)
	if c.metrics != nil {
		c.lifecycle.Register("metrics_server", c.metrics)
	}
	c.lifecycle.Register("engine", c.engine)
	if c.reloader != nil {
		c.lifecycle.Register("hot_reload", c.reloader)
	}
	return nil
}

// Start 启动所有组件
func (c *Container) Start(ctx context.Context) error {
	c.logger.Info("starting container")

	if err := c.lifecycle.StartAll(ctx); err != nil {
		_ = c.alerts.Critical("startup_failed", "container failed to start",
			map[string]interface{}{"error": err.Error()})
		return fmt.Errorf("start failed: %w", err)
	}

	c.logger.Info("container started", zap.String("http_addr", c.server.Addr()))
	return nil
}

// Stop 逆序停止所有组件并刷新日志
func (c *Container) Stop() error {
	c.logger.Info("stopping container")

	err := c.lifecycle.StopAll()
	if err != nil {
		c.logger.LogError(err, map[string]interface{}{"action": "stop"})
	} else {
		c.logger.Info("container stopped")
	}
	_ = c.logger.Close()
	return err
}

// HealthCheck 任一组件不健康即返回错误
func (c *Container) HealthCheck() error {
	return c.lifecycle.CheckHealth()
}

func (c *Container) Logger() *logger.Logger     { return c.logger }
func (c *Container) Engine() *engine.Scheduler  { return c.engine }
func (c *Container) Server() *server.Server     { return c.server }
func (c *Container) Store() *store.Store        { return c.store }
func (c *Container) Exchange() gateway.Exchange { return c.exchange }
