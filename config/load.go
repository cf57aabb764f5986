package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"moneymaker-go/infrastructure/logger"
	"moneymaker-go/market"
	"moneymaker-go/strategy"
)

// AppConfig holds the main runtime configuration.
type AppConfig struct {
	Env       string          `yaml:"env"`
	Market    string          `yaml:"market"`
	DryRun    bool            `yaml:"dryRun"`
	Gateway   GatewayConfig   `yaml:"gateway"`
	Strategy  strategy.Config `yaml:"strategy"`
	Order     OrderConfig     `yaml:"order"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Server    ServerConfig    `yaml:"server"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Log       logger.Config   `yaml:"log"`
	Alert     AlertConfig     `yaml:"alert"`
	HotReload HotReloadConfig `yaml:"hotReload"`
}

type GatewayConfig struct {
	APIKey    string  `yaml:"apiKey"`
	ClientID  string  `yaml:"clientId"`
	Secret    string  `yaml:"secret"`
	BaseURL   string  `yaml:"baseURL"`
	TimeoutMs int     `yaml:"timeoutMs"`
	RateLimit float64 `yaml:"rateLimit"` // 每秒请求数
	Burst     int     `yaml:"burst"`

	BreakerThreshold  int `yaml:"breakerThreshold"` // 连续失败次数
	BreakerCooldownMs int `yaml:"breakerCooldownMs"` // 熔断持续时间
}

// OrderConfig 下单数量以字符串保存，避免浮点误差。
type OrderConfig struct {
	Amount string `yaml:"amount"`
}

type SchedulerConfig struct {
	TickIntervalMs          int    `yaml:"tickIntervalMs"`
	InitialDelayMs          int    `yaml:"initialDelayMs"`
	ReportSchedule          string `yaml:"reportSchedule"` // cron 表达式，如 "@every 5m"
	ReportInitialDelayMs    int    `yaml:"reportInitialDelayMs"`
	ReportWindowHours       int    `yaml:"reportWindowHours"`
	ShutdownCancelTimeoutMs int    `yaml:"shutdownCancelTimeoutMs"`
	CancelOnShutdown        *bool  `yaml:"cancelOnShutdown"`
}

type ServerConfig struct {
	Addr           string  `yaml:"addr"`
	PushIntervalMs int     `yaml:"pushIntervalMs"`
	RateLimit      float64 `yaml:"rateLimit"` // 每 IP 每秒请求数，0 关闭
	Burst          int     `yaml:"burst"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"` // 为空时 /metrics 挂在主服务上
}

type AlertConfig struct {
	ThrottleSec int `yaml:"throttleSec"`
}

type HotReloadConfig struct {
	Enabled    bool `yaml:"enabled"`
	CooldownMs int  `yaml:"cooldownMs"`
}

const (
	defaultTickIntervalMs       = 5000
	defaultInitialDelayMs       = 2000
	defaultReportSchedule       = "@every 5m"
	defaultReportInitialDelayMs = 5000
	defaultReportWindowHours    = 48
	defaultShutdownCancelMs     = 5000
	defaultServerAddr           = ":8020"
	defaultPushIntervalMs       = 500
	defaultGatewayTimeoutMs     = 10000
	defaultRateLimit            = 5
	defaultBurst                = 10
	defaultBreakerThreshold     = 5
	defaultBreakerCooldownMs    = 30000
	defaultAlertThrottleSec     = 300
	defaultHotReloadCooldownMs  = 5000
)

// Load reads YAML config from path, fills defaults and validates.
func Load(path string) (AppConfig, error) {
	var cfg AppConfig
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse yaml: %w", err)
	}
	ApplyDefaults(&cfg)
	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadWithEnvOverrides loads config then overrides sensitive fields from env vars
// (and a local .env file) if present.
func LoadWithEnvOverrides(path string) (AppConfig, error) {
	// .env 缺失不是错误
	_ = godotenv.Load()

	var cfg AppConfig
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse yaml: %w", err)
	}
	if v := os.Getenv("MM_GATEWAY_API_KEY"); v != "" {
		cfg.Gateway.APIKey = v
	}
	if v := os.Getenv("MM_GATEWAY_CLIENT_ID"); v != "" {
		cfg.Gateway.ClientID = v
	}
	if v := os.Getenv("MM_GATEWAY_SECRET"); v != "" {
		cfg.Gateway.Secret = v
	}
	if v := os.Getenv("MM_SERVER_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	ApplyDefaults(&cfg)
	return cfg, Validate(cfg)
}

// ApplyDefaults fills every zero field with its production default.
func ApplyDefaults(cfg *AppConfig) {
	if cfg.Env == "" {
		cfg.Env = "dev"
	}
	if cfg.Market == "" {
		cfg.Market = market.DefaultMarket
	}
	if cfg.Gateway.TimeoutMs == 0 {
		cfg.Gateway.TimeoutMs = defaultGatewayTimeoutMs
	}
	if cfg.Gateway.RateLimit == 0 {
		cfg.Gateway.RateLimit = defaultRateLimit
	}
	if cfg.Gateway.Burst == 0 {
		cfg.Gateway.Burst = defaultBurst
	}
	if cfg.Gateway.BreakerThreshold == 0 {
		cfg.Gateway.BreakerThreshold = defaultBreakerThreshold
	}
	if cfg.Gateway.BreakerCooldownMs == 0 {
		cfg.Gateway.BreakerCooldownMs = defaultBreakerCooldownMs
	}
	if cfg.Order.Amount == "" {
		cfg.Order.Amount = "0.0001"
	}

	s := &cfg.Scheduler
	if s.TickIntervalMs == 0 {
		s.TickIntervalMs = defaultTickIntervalMs
	}
	if s.InitialDelayMs == 0 {
		s.InitialDelayMs = defaultInitialDelayMs
	}
	if s.ReportSchedule == "" {
		s.ReportSchedule = defaultReportSchedule
	}
	if s.ReportInitialDelayMs == 0 {
		s.ReportInitialDelayMs = defaultReportInitialDelayMs
	}
	if s.ReportWindowHours == 0 {
		s.ReportWindowHours = defaultReportWindowHours
	}
	if s.ShutdownCancelTimeoutMs == 0 {
		s.ShutdownCancelTimeoutMs = defaultShutdownCancelMs
	}
	if s.CancelOnShutdown == nil {
		on := true
		s.CancelOnShutdown = &on
	}

	if cfg.Server.Addr == "" {
		cfg.Server.Addr = defaultServerAddr
	}
	if cfg.Server.PushIntervalMs == 0 {
		cfg.Server.PushIntervalMs = defaultPushIntervalMs
	}
	if cfg.Server.RateLimit > 0 && cfg.Server.Burst == 0 {
		cfg.Server.Burst = int(cfg.Server.RateLimit)
	}
	if cfg.Log.Level == "" {
		cfg.Log = logger.DefaultConfig()
	}
	if cfg.Alert.ThrottleSec == 0 {
		cfg.Alert.ThrottleSec = defaultAlertThrottleSec
	}
	if cfg.HotReload.CooldownMs == 0 {
		cfg.HotReload.CooldownMs = defaultHotReloadCooldownMs
	}
}

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }

func (s SchedulerConfig) TickInterval() time.Duration       { return ms(s.TickIntervalMs) }
func (s SchedulerConfig) InitialDelay() time.Duration       { return ms(s.InitialDelayMs) }
func (s SchedulerConfig) ReportInitialDelay() time.Duration { return ms(s.ReportInitialDelayMs) }
func (s SchedulerConfig) ShutdownCancelTimeout() time.Duration {
	return ms(s.ShutdownCancelTimeoutMs)
}
func (s SchedulerConfig) ReportWindow() time.Duration {
	return time.Duration(s.ReportWindowHours) * time.Hour
}

func (g GatewayConfig) Timeout() time.Duration         { return ms(g.TimeoutMs) }
func (g GatewayConfig) BreakerCooldown() time.Duration { return ms(g.BreakerCooldownMs) }
func (s ServerConfig) PushInterval() time.Duration     { return ms(s.PushIntervalMs) }
func (a AlertConfig) Throttle() time.Duration          { return time.Duration(a.ThrottleSec) * time.Second }
func (h HotReloadConfig) Cooldown() time.Duration      { return ms(h.CooldownMs) }
