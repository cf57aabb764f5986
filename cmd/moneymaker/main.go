package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"go.uber.org/zap"

	"moneymaker-go/infrastructure/logger"
	"moneymaker-go/internal/container"
)

func main() {
	cfgPath := flag.String("config", "configs/config.yaml", "配置文件路径")
	flag.Parse()

	c, err := container.New(*cfgPath)
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}
	if err := c.Build(); err != nil {
		log.Fatalf("构建组件失败: %v", err)
	}
	lg := c.Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := c.Start(ctx); err != nil {
		lg.Error("启动失败", zap.Error(err))
		_ = lg.Close()
		os.Exit(1)
	}
	notify(lg, daemon.SdNotifyReady)
	go watchdog(ctx, c, lg)

	<-ctx.Done()
	lg.Info("收到退出信号，开始清场")
	notify(lg, daemon.SdNotifyStopping)

	if err := c.Stop(); err != nil {
		log.Printf("停止时出现错误: %v", err)
		os.Exit(1)
	}
}

// notify 非 systemd 环境下为空操作
func notify(lg *logger.Logger, state string) {
	if ok, err := daemon.SdNotify(false, state); err != nil {
		lg.Debug("sd_notify failed", zap.String("state", state), zap.Error(err))
	} else if ok {
		lg.Debug("sd_notify sent", zap.String("state", state))
	}
}

// watchdog 组件健康时按 WatchdogSec 的一半喂狗
func watchdog(ctx context.Context, c *container.Container, lg *logger.Logger) {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.HealthCheck(); err != nil {
				lg.Warn("health check failed, skipping watchdog ping", zap.Error(err))
				continue
			}
			notify(lg, daemon.SdNotifyWatchdog)
		}
	}
}
