// Package config loads and validates the scrape runner's YAML
// configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/sitegrab/engine/internal/common/configtypes"
	"github.com/sitegrab/engine/internal/common/yamlutil"
	"github.com/sitegrab/engine/internal/sync/poller"
	"github.com/sitegrab/engine/pkg/types"
)

// ConfigPathEnv overrides the config file location when set
const ConfigPathEnv = "SITEGRAB_CONFIG"

const (
	defaultRestartAfterCount = 100
	defaultRestartAfterTime  = 60 * time.Minute
	defaultHeartbeat         = 10 * time.Second
	defaultRegistryTTL       = 30 * time.Second
	defaultMetricsPath       = "/metrics"
	defaultMetricsNamespace  = "sitegrab"
)

// RunnerConfig represents scrape runner configuration
type RunnerConfig struct {
	Runner   RunnerIdentity             `yaml:"runner"`
	Redis    configtypes.RedisConfig    `yaml:"redis"`
	Browser  configtypes.BrowserConfig  `yaml:"browser"`
	Waits    configtypes.WaitConfig     `yaml:"waits"`
	Registry configtypes.RegistryConfig `yaml:"registry"`
	Log      configtypes.LogConfig      `yaml:"log"`
	Metrics  configtypes.MetricsConfig  `yaml:"metrics"`
	Flow     types.Flow                 `yaml:"flow"`
}

// RunnerIdentity names this runner in logs and in the fleet registry
type RunnerIdentity struct {
	ID string `yaml:"id"`
}

// WaitSpec converts the configured wait defaults into a poller spec
func (cfg *RunnerConfig) WaitSpec() poller.WaitSpec {
	return poller.WaitSpec{
		Timeout:      cfg.Waits.Timeout.Std(),
		PollInterval: cfg.Waits.PollInterval.Std(),
		SettleGrace:  cfg.Waits.SettleGrace.Std(),
	}
}

// Manager handles runner configuration
type Manager struct {
	config     *RunnerConfig
	configPath string
	logger     *zap.Logger
}

// NewManager creates a config manager and loads the file
func NewManager(configPath string, logger *zap.Logger) (*Manager, error) {
	m := &Manager{
		configPath: configPath,
		logger:     logger,
	}

	if err := m.Load(); err != nil {
		return nil, err
	}

	return m, nil
}

// Load reads and validates configuration from file
func (m *Manager) Load() error {
	data, err := os.ReadFile(m.configPath)
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}

	var cfg RunnerConfig
	if err := yamlutil.UnmarshalStrict(data, &cfg); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}

	m.config = &cfg
	m.config.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	return nil
}

// Config returns the loaded configuration
func (m *Manager) Config() *RunnerConfig {
	return m.config
}

// GetConfigPath resolves the config file path from the environment with a
// fallback default.
func GetConfigPath(defaultPath string) string {
	if path := os.Getenv(ConfigPathEnv); path != "" {
		return path
	}
	return defaultPath
}

// applyDefaults applies default values to configuration fields
func (cfg *RunnerConfig) applyDefaults() {
	// If both log outputs are disabled (zero values), enable console
	if !cfg.Log.Console.Enabled && !cfg.Log.File.Enabled {
		cfg.Log.Console.Enabled = true
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = configtypes.LogLevelInfo
	}
	if cfg.Log.Console.Format == "" {
		cfg.Log.Console.Format = configtypes.LogFormatConsole
	}
	if cfg.Log.File.Format == "" {
		cfg.Log.File.Format = configtypes.LogFormatText
	}

	if cfg.Browser.PoolSize == "" {
		cfg.Browser.PoolSize = "auto"
	}
	if cfg.Browser.Restart.AfterCount == 0 {
		cfg.Browser.Restart.AfterCount = defaultRestartAfterCount
	}
	if cfg.Browser.Restart.AfterTime == 0 {
		cfg.Browser.Restart.AfterTime = types.Duration(defaultRestartAfterTime)
	}

	if cfg.Waits.Timeout == 0 {
		cfg.Waits.Timeout = types.Duration(poller.DefaultTimeout)
	}
	if cfg.Waits.PollInterval == 0 {
		cfg.Waits.PollInterval = types.Duration(poller.DefaultPollInterval)
	}

	if cfg.Registry.Heartbeat == 0 {
		cfg.Registry.Heartbeat = types.Duration(defaultHeartbeat)
	}
	if cfg.Registry.TTL == 0 {
		cfg.Registry.TTL = types.Duration(defaultRegistryTTL)
	}

	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = defaultMetricsPath
	}
	if cfg.Metrics.Namespace == "" {
		cfg.Metrics.Namespace = defaultMetricsNamespace
	}
}

// Validate checks configuration validity
func (cfg *RunnerConfig) Validate() error {
	if cfg.Runner.ID == "" {
		return fmt.Errorf("runner.id is required")
	}

	if cfg.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required")
	}

	if cfg.Browser.PoolSize != "auto" {
		size, err := strconv.Atoi(cfg.Browser.PoolSize)
		if err != nil || size <= 0 {
			return fmt.Errorf("browser.pool_size must be 'auto' or positive integer")
		}
	}

	if cfg.Browser.Warmup.URL == "" {
		return fmt.Errorf("browser.warmup.url is required")
	}
	if cfg.Browser.Warmup.Timeout <= 0 {
		return fmt.Errorf("browser.warmup.timeout must be positive")
	}
	if cfg.Browser.Restart.AfterCount <= 0 {
		return fmt.Errorf("browser.restart.after_count must be positive")
	}
	if cfg.Browser.Restart.AfterTime <= 0 {
		return fmt.Errorf("browser.restart.after_time must be positive")
	}

	if cfg.Waits.Timeout <= 0 {
		return fmt.Errorf("waits.timeout must be positive")
	}
	if cfg.Waits.PollInterval <= 0 {
		return fmt.Errorf("waits.poll_interval must be positive")
	}
	if cfg.Waits.SettleGrace < 0 {
		return fmt.Errorf("waits.settle_grace must be >= 0")
	}
	if cfg.Waits.SettleGrace.Std() > poller.MaxSettleGrace {
		return fmt.Errorf("waits.settle_grace must not exceed %s", poller.MaxSettleGrace)
	}

	if cfg.Registry.Heartbeat <= 0 {
		return fmt.Errorf("registry.heartbeat must be positive")
	}
	if cfg.Registry.TTL <= cfg.Registry.Heartbeat {
		return fmt.Errorf("registry.ttl must exceed registry.heartbeat")
	}

	validLogLevels := map[string]bool{
		configtypes.LogLevelDebug: true,
		configtypes.LogLevelInfo:  true,
		configtypes.LogLevelWarn:  true,
		configtypes.LogLevelError: true,
	}
	if !validLogLevels[cfg.Log.Level] {
		return fmt.Errorf("invalid log.level: %s (must be debug, info, warn, or error)", cfg.Log.Level)
	}

	if cfg.Log.File.Enabled && cfg.Log.File.Path == "" {
		return fmt.Errorf("log.file.path must be specified when file logging is enabled")
	}

	if cfg.Metrics.Enabled {
		if err := configtypes.ValidateListenAddress(cfg.Metrics.Listen); err != nil {
			return fmt.Errorf("invalid metrics.listen: %w", err)
		}
	}

	if err := cfg.Flow.Validate(); err != nil {
		return fmt.Errorf("invalid flow: %w", err)
	}

	return nil
}
