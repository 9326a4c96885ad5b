package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sitegrab/engine/internal/common/configtypes"
)

const validConfig = `
runner:
  id: runner-01
redis:
  addr: localhost:6379
browser:
  pool_size: "2"
  warmup:
    url: https://example.com
    timeout: 30s
waits:
  timeout: 15s
  poll_interval: 100ms
  settle_grace: 500ms
log:
  level: debug
metrics:
  enabled: true
  listen: ":9090"
flow:
  name: product-page
  steps:
    - kind: navigate
      url: https://shop.example.com/item/42
    - kind: enter_frame
      locator:
        strategy: css
        value: iframe#details
    - kind: wait_visible
      locator:
        strategy: id
        value: price
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "runner.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestManager_LoadValidConfig(t *testing.T) {
	m, err := NewManager(writeConfig(t, validConfig), zap.NewNop())
	require.NoError(t, err)

	cfg := m.Config()
	assert.Equal(t, "runner-01", cfg.Runner.ID)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, "2", cfg.Browser.PoolSize)
	assert.Equal(t, 15*time.Second, cfg.Waits.Timeout.Std())
	assert.Equal(t, 100*time.Millisecond, cfg.Waits.PollInterval.Std())
	assert.Equal(t, "product-page", cfg.Flow.Name)
	assert.Len(t, cfg.Flow.Steps, 3)

	spec := cfg.WaitSpec()
	assert.Equal(t, 15*time.Second, spec.Timeout)
	assert.Equal(t, 500*time.Millisecond, spec.SettleGrace)
}

func TestManager_AppliesDefaults(t *testing.T) {
	minimal := `
runner:
  id: runner-01
redis:
  addr: localhost:6379
browser:
  warmup:
    url: https://example.com
    timeout: 30s
flow:
  name: smoke
  steps:
    - kind: navigate
      url: https://example.com
`
	m, err := NewManager(writeConfig(t, minimal), zap.NewNop())
	require.NoError(t, err)

	cfg := m.Config()
	assert.True(t, cfg.Log.Console.Enabled)
	assert.Equal(t, configtypes.LogLevelInfo, cfg.Log.Level)
	assert.Equal(t, "auto", cfg.Browser.PoolSize)
	assert.Equal(t, defaultRestartAfterCount, cfg.Browser.Restart.AfterCount)
	assert.Equal(t, 10*time.Second, cfg.Waits.Timeout.Std())
	assert.Equal(t, 250*time.Millisecond, cfg.Waits.PollInterval.Std())
	assert.Equal(t, defaultMetricsPath, cfg.Metrics.Path)
	assert.Equal(t, defaultMetricsNamespace, cfg.Metrics.Namespace)
	assert.Equal(t, 10*time.Second, cfg.Registry.Heartbeat.Std())
	assert.Equal(t, 30*time.Second, cfg.Registry.TTL.Std())
}

func TestManager_RejectsUnknownFields(t *testing.T) {
	_, err := NewManager(writeConfig(t, validConfig+"\nunknown_section:\n  x: 1\n"), zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "check for typos")
}

func TestManager_ValidationFailures(t *testing.T) {
	tests := []struct {
		name    string
		mutate  string
		wantErr string
	}{
		{
			name: "missing runner id",
			mutate: `
redis:
  addr: localhost:6379
browser:
  warmup:
    url: https://example.com
    timeout: 30s
flow:
  name: smoke
  steps:
    - kind: navigate
      url: https://example.com
`,
			wantErr: "runner.id is required",
		},
		{
			name: "bad pool size",
			mutate: `
runner:
  id: r1
redis:
  addr: localhost:6379
browser:
  pool_size: "-3"
  warmup:
    url: https://example.com
    timeout: 30s
flow:
  name: smoke
  steps:
    - kind: navigate
      url: https://example.com
`,
			wantErr: "pool_size",
		},
		{
			name: "settle grace over cap",
			mutate: `
runner:
  id: r1
redis:
  addr: localhost:6379
browser:
  warmup:
    url: https://example.com
    timeout: 30s
waits:
  settle_grace: 10s
flow:
  name: smoke
  steps:
    - kind: navigate
      url: https://example.com
`,
			wantErr: "settle_grace",
		},
		{
			name: "bad flow step",
			mutate: `
runner:
  id: r1
redis:
  addr: localhost:6379
browser:
  warmup:
    url: https://example.com
    timeout: 30s
flow:
  name: smoke
  steps:
    - kind: enter_frame
`,
			wantErr: "requires a locator",
		},
		{
			name: "metrics listen invalid",
			mutate: `
runner:
  id: r1
redis:
  addr: localhost:6379
browser:
  warmup:
    url: https://example.com
    timeout: 30s
metrics:
  enabled: true
  listen: "not-an-address:"
flow:
  name: smoke
  steps:
    - kind: navigate
      url: https://example.com
`,
			wantErr: "metrics.listen",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewManager(writeConfig(t, tt.mutate), zap.NewNop())
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestGetConfigPath(t *testing.T) {
	t.Setenv(ConfigPathEnv, "")
	assert.Equal(t, "configs/runner.yaml", GetConfigPath("configs/runner.yaml"))

	t.Setenv(ConfigPathEnv, "/etc/sitegrab/runner.yaml")
	assert.Equal(t, "/etc/sitegrab/runner.yaml", GetConfigPath("configs/runner.yaml"))
}
