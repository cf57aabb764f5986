package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appconfig "moneymaker-go/config"
	"moneymaker-go/strategy"
)

// mockTarget 记录收到的策略
type mockTarget struct {
	mu      sync.Mutex
	applied []*strategy.PriceStrategy
}

func (m *mockTarget) UpdateStrategy(ps *strategy.PriceStrategy) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.applied = append(m.applied, ps)
	return nil
}

func (m *mockTarget) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.applied)
}

func (m *mockTarget) Last() *strategy.PriceStrategy {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.applied[len(m.applied)-1]
}

const baseConfig = `
dryRun: true
strategy:
  minSpread: 0.013
`

func writeConfig(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func newReloader(t *testing.T, cooldown time.Duration) (*HotReloader, string, *mockTarget) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, path, baseConfig)

	r, err := NewHotReloader(path, HotReloadConfig{Enabled: true, CooldownTime: cooldown}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Stop() })

	target := &mockTarget{}
	r.SetReloadHandler(StrategyHandler(target))
	return r, path, target
}

func TestHandleConfigChangeAppliesStrategy(t *testing.T) {
	r, path, target := newReloader(t, 0)

	writeConfig(t, path, "dryRun: true\nstrategy:\n  minSpread: 0.02\n")
	r.handleConfigChange()

	require.Equal(t, 1, target.Count())
	assert.Equal(t, "1.02", target.Last().MinAskSpread().String())
	reloads, rejected := r.Counts()
	assert.Equal(t, 1, reloads)
	assert.Equal(t, 0, rejected)
	assert.False(t, r.GetLastReloadTime().IsZero())
}

func TestHandleConfigChangeRejectsInvalid(t *testing.T) {
	r, path, target := newReloader(t, 0)

	tests := []struct {
		name    string
		content string
	}{
		{"broken yaml", "strategy: [oops\n"},
		{"negative spread", "dryRun: true\nstrategy:\n  minSpread: -0.01\n"},
		{"drift above one", "dryRun: true\nstrategy:\n  maxBidDrift: 1.5\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			writeConfig(t, path, tt.content)
			r.handleConfigChange()
		})
	}

	assert.Equal(t, 0, target.Count())
	reloads, rejected := r.Counts()
	assert.Equal(t, 0, reloads)
	assert.Equal(t, 3, rejected)
}

func TestHandlerErrorIsRejected(t *testing.T) {
	r, _, _ := newReloader(t, 0)
	r.SetReloadHandler(func(appconfig.AppConfig) error { return errors.New("busy") })

	r.handleConfigChange()
	_, rejected := r.Counts()
	assert.Equal(t, 1, rejected)
	assert.True(t, r.GetLastReloadTime().IsZero())
}

func TestCooldown(t *testing.T) {
	r, _, target := newReloader(t, time.Hour)

	r.handleConfigChange()
	r.handleConfigChange()
	assert.Equal(t, 1, target.Count())
}

func TestWatchFileChange(t *testing.T) {
	r, path, target := newReloader(t, 0)
	require.NoError(t, r.Start(context.Background()))

	writeConfig(t, path, "dryRun: true\nstrategy:\n  minSpread: 0.03\n")

	assert.Eventually(t, func() bool { return target.Count() >= 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "1.03", target.Last().MinAskSpread().String())
	assert.NoError(t, r.Stop())
	assert.NoError(t, r.Stop())
}

func TestDisabledReloaderIsNoop(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, path, baseConfig)
	r, err := NewHotReloader(path, HotReloadConfig{Enabled: false}, nil)
	require.NoError(t, err)

	require.NoError(t, r.Start(context.Background()))
	assert.NoError(t, r.Health())
	assert.NoError(t, r.Stop())
}
