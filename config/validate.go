package config

import (
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"

	"moneymaker-go/strategy"
)

// ErrInvalid 用于参数验证错误。
type ErrInvalid string

func (e ErrInvalid) Error() string { return string(e) }

// Validate ensures required fields are present and internally consistent.
func Validate(cfg AppConfig) error {
	if cfg.Env == "" {
		return ErrInvalid("env is required")
	}
	if cfg.Market == "" {
		return ErrInvalid("market is required")
	}
	if !cfg.DryRun && (cfg.Gateway.APIKey == "" || cfg.Gateway.ClientID == "" || cfg.Gateway.Secret == "") {
		return ErrInvalid("gateway.apiKey/clientId/secret is required (or env overrides, or dryRun)")
	}
	if cfg.Gateway.TimeoutMs < 0 {
		return ErrInvalid("gateway.timeoutMs must be >= 0")
	}
	if cfg.Gateway.RateLimit < 0 || cfg.Gateway.Burst < 0 {
		return ErrInvalid("gateway.rateLimit/burst must be >= 0")
	}
	if cfg.Gateway.BreakerThreshold < 0 || cfg.Gateway.BreakerCooldownMs < 0 {
		return ErrInvalid("gateway.breakerThreshold/breakerCooldownMs must be >= 0")
	}
	if err := ValidateStrategy(cfg.Strategy); err != nil {
		return err
	}

	amount, err := decimal.NewFromString(cfg.Order.Amount)
	if err != nil {
		return ErrInvalid(fmt.Sprintf("order.amount %q is not a decimal", cfg.Order.Amount))
	}
	if !amount.IsPositive() {
		return ErrInvalid("order.amount must be > 0")
	}

	s := cfg.Scheduler
	if s.TickIntervalMs <= 0 {
		return ErrInvalid("scheduler.tickIntervalMs must be > 0")
	}
	if s.InitialDelayMs < 0 || s.ReportInitialDelayMs < 0 {
		return ErrInvalid("scheduler initial delays must be >= 0")
	}
	if s.ReportWindowHours <= 0 {
		return ErrInvalid("scheduler.reportWindowHours must be > 0")
	}
	if s.ShutdownCancelTimeoutMs < 0 {
		return ErrInvalid("scheduler.shutdownCancelTimeoutMs must be >= 0")
	}
	if _, err := cron.ParseStandard(s.ReportSchedule); err != nil {
		return ErrInvalid(fmt.Sprintf("scheduler.reportSchedule %q: %v", s.ReportSchedule, err))
	}

	if cfg.Server.Addr == "" {
		return ErrInvalid("server.addr is required")
	}
	if cfg.Server.PushIntervalMs < 0 {
		return ErrInvalid("server.pushIntervalMs must be >= 0")
	}
	if cfg.Alert.ThrottleSec < 0 {
		return ErrInvalid("alert.throttleSec must be >= 0")
	}
	return nil
}

// ValidateStrategy 校验定价参数，热更新时单独调用。
func ValidateStrategy(sc strategy.Config) error {
	if _, err := strategy.New(sc); err != nil {
		return ErrInvalid(fmt.Sprintf("strategy: %v", err))
	}
	return nil
}
