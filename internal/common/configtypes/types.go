package configtypes

import (
	"github.com/sitegrab/engine/pkg/types"
)

// Log level constants
const (
	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"
)

// Log format constants
const (
	LogFormatJSON    = "json"
	LogFormatConsole = "console"
	LogFormatText    = "text"
)

type LogConfig struct {
	Level   string           `yaml:"level"`
	Console ConsoleLogConfig `yaml:"console"`
	File    FileLogConfig    `yaml:"file"`
}

type ConsoleLogConfig struct {
	Enabled bool   `yaml:"enabled"`
	Format  string `yaml:"format"`
	Level   string `yaml:"level,omitempty"`
}

type FileLogConfig struct {
	Enabled  bool           `yaml:"enabled"`
	Path     string         `yaml:"path"`
	Format   string         `yaml:"format"`
	Level    string         `yaml:"level,omitempty"`
	Rotation RotationConfig `yaml:"rotation"`
}

type RotationConfig struct {
	MaxSize    int  `yaml:"max_size"`
	MaxAge     int  `yaml:"max_age"`
	MaxBackups int  `yaml:"max_backups"`
	Compress   bool `yaml:"compress"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Listen    string `yaml:"listen"`
	Path      string `yaml:"path"`
	Namespace string `yaml:"namespace"`
}

// WaitConfig carries the default synchronization wait parameters applied to
// flow steps that do not override them.
type WaitConfig struct {
	Timeout      types.Duration `yaml:"timeout"`
	PollInterval types.Duration `yaml:"poll_interval"`
	SettleGrace  types.Duration `yaml:"settle_grace,omitempty"`
}

// BrowserConfig configures the local browser fleet
type BrowserConfig struct {
	PoolSize string        `yaml:"pool_size"` // "auto" or positive integer
	Warmup   WarmupConfig  `yaml:"warmup"`
	Restart  RestartConfig `yaml:"restart"`
}

// WarmupConfig configures the warmup navigation performed when a browser
// instance starts.
type WarmupConfig struct {
	URL     string         `yaml:"url"`
	Timeout types.Duration `yaml:"timeout"`
}

// RestartConfig configures the browser restart policy
type RestartConfig struct {
	AfterCount int            `yaml:"after_count"`
	AfterTime  types.Duration `yaml:"after_time"`
}

// RegistryConfig configures runner presence reporting
type RegistryConfig struct {
	Heartbeat types.Duration `yaml:"heartbeat"`
	TTL       types.Duration `yaml:"ttl"`
}
