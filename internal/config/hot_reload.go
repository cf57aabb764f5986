package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	appconfig "moneymaker-go/config"
	"moneymaker-go/infrastructure/logger"
	"moneymaker-go/strategy"
)

// HotReloadConfig 热更新配置
type HotReloadConfig struct {
	Enabled      bool          // 是否启用热更新
	CooldownTime time.Duration // 冷却时间，避免频繁更新
}

// DefaultHotReloadConfig 默认热更新配置
func DefaultHotReloadConfig() HotReloadConfig {
	return HotReloadConfig{
		Enabled:      true,
		CooldownTime: 5 * time.Second,
	}
}

// ReloadHandler 接收重新加载并校验通过的配置
type ReloadHandler func(cfg appconfig.AppConfig) error

// StrategyTarget 可在运行时替换定价策略的组件（engine.Scheduler 实现）
type StrategyTarget interface {
	UpdateStrategy(ps *strategy.PriceStrategy) error
}

// StrategyHandler 只把 strategy 段应用到 target，其余字段需要重启生效。
func StrategyHandler(target StrategyTarget) ReloadHandler {
	return func(cfg appconfig.AppConfig) error {
		ps, err := strategy.New(cfg.Strategy)
		if err != nil {
			return fmt.Errorf("strategy: %w", err)
		}
		return target.UpdateStrategy(ps)
	}
}

// HotReloader 配置热更新器
type HotReloader struct {
	config     HotReloadConfig
	configPath string
	watcher    *fsnotify.Watcher
	logger     *logger.Logger
	load       func(path string) (appconfig.AppConfig, error)
	handler    ReloadHandler

	lastReload time.Time
	reloads    int
	rejected   int
	mu         sync.RWMutex

	stopChan chan struct{}
	doneChan chan struct{}
	stopOnce sync.Once
}

// NewHotReloader 创建热更新器
func NewHotReloader(configPath string, cfg HotReloadConfig, lg *logger.Logger) (*HotReloader, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if lg == nil {
		lg = logger.NewNop()
	}
	return &HotReloader{
		config:     cfg,
		configPath: configPath,
		watcher:    watcher,
		logger:     lg,
		load:       appconfig.LoadWithEnvOverrides,
		stopChan:   make(chan struct{}),
		doneChan:   make(chan struct{}),
	}, nil
}

// SetReloadHandler 设置重载处理函数
func (h *HotReloader) SetReloadHandler(handler ReloadHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handler = handler
}

// Start 启动热更新监听
func (h *HotReloader) Start(ctx context.Context) error {
	if !h.config.Enabled {
		close(h.doneChan)
		return nil
	}

	// 监听所在目录：编辑器常以 rename 方式替换文件
	if err := h.watcher.Add(filepath.Dir(h.configPath)); err != nil {
		return fmt.Errorf("failed to watch config dir: %w", err)
	}

	go h.watch(ctx)
	h.logger.Info("config hot reload enabled", zap.String("path", h.configPath))
	return nil
}

// Stop 停止热更新
func (h *HotReloader) Stop() error {
	var err error
	h.stopOnce.Do(func() {
		close(h.stopChan)
		select {
		case <-h.doneChan:
		case <-time.After(1 * time.Second):
			// watch goroutine 未启动
		}
		err = h.watcher.Close()
	})
	return err
}

// Health 热更新器始终健康；失败的重载只会被拒绝。
func (h *HotReloader) Health() error { return nil }

// watch 监听文件变化
func (h *HotReloader) watch(ctx context.Context) {
	defer close(h.doneChan)

	target := filepath.Clean(h.configPath)
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.stopChan:
			return
		case event, ok := <-h.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				h.handleConfigChange()
			}
		case err, ok := <-h.watcher.Errors:
			if !ok {
				return
			}
			h.logger.Warn("config watcher error", zap.Error(err))
		}
	}
}

// handleConfigChange 处理配置变化；无效配置被拒绝，当前配置保持不变。
func (h *HotReloader) handleConfigChange() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.lastReload.IsZero() && time.Since(h.lastReload) < h.config.CooldownTime {
		return
	}

	cfg, err := h.load(h.configPath)
	if err != nil {
		h.rejected++
		h.logger.Warn("config reload rejected", zap.String("path", h.configPath), zap.Error(err))
		return
	}
	if h.handler != nil {
		if err := h.handler(cfg); err != nil {
			h.rejected++
			h.logger.Warn("config reload not applied", zap.Error(err))
			return
		}
	}

	h.lastReload = time.Now()
	h.reloads++
	h.logger.Info("config reloaded", zap.String("path", h.configPath), zap.Int("reloads", h.reloads))
}

// GetLastReloadTime 获取最后重载时间
func (h *HotReloader) GetLastReloadTime() time.Time {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.lastReload
}

// Counts 返回成功与被拒绝的重载次数
func (h *HotReloader) Counts() (reloads, rejected int) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.reloads, h.rejected
}
