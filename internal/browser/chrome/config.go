package chrome

import (
	"fmt"
	"strconv"
	"time"

	"github.com/shirou/gopsutil/v4/mem"

	"github.com/sitegrab/engine/internal/common/configtypes"
)

// Config holds the configuration for the browser pool and instances
type Config struct {
	// Pool configuration
	PoolSize        string        // "auto" or integer string
	WarmupURL       string        // URL to navigate during warmup
	WarmupTimeout   time.Duration // Warmup navigation timeout
	ShutdownTimeout time.Duration // Graceful shutdown timeout

	// Restart policies
	RestartAfterCount int           // Restart after N flows
	RestartAfterTime  time.Duration // Restart after duration
}

// NewConfig converts the YAML browser section to the internal Config
func NewConfig(cfg configtypes.BrowserConfig, shutdownTimeout time.Duration) *Config {
	return &Config{
		PoolSize:          cfg.PoolSize,
		WarmupURL:         cfg.Warmup.URL,
		WarmupTimeout:     cfg.Warmup.Timeout.Std(),
		ShutdownTimeout:   shutdownTimeout,
		RestartAfterCount: cfg.Restart.AfterCount,
		RestartAfterTime:  cfg.Restart.AfterTime.Std(),
	}
}

// DefaultConfig is used in tests to avoid constructing full Config structs
func DefaultConfig() *Config {
	return &Config{
		PoolSize:          "auto",
		WarmupURL:         "https://example.com/",
		WarmupTimeout:     10 * time.Second,
		ShutdownTimeout:   30 * time.Second,
		RestartAfterCount: 100,
		RestartAfterTime:  60 * time.Minute,
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.PoolSize != "auto" {
		size, err := strconv.Atoi(c.PoolSize)
		if err != nil {
			return fmt.Errorf("pool size must be 'auto' or valid integer")
		}
		if size <= 0 {
			return fmt.Errorf("pool size must be positive")
		}
	}

	if c.RestartAfterCount <= 0 {
		return fmt.Errorf("restart after count must be positive")
	}

	if c.RestartAfterTime <= 0 {
		return fmt.Errorf("restart after time must be positive")
	}

	if c.WarmupURL == "" {
		return fmt.Errorf("warmup URL cannot be empty")
	}

	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown timeout must be positive")
	}

	return nil
}

// CalculatePoolSize determines the pool size, auto-sizing from system RAM
// when configured as "auto".
func (c *Config) CalculatePoolSize() int {
	if c.PoolSize == "auto" {
		return c.calculateAutoPoolSize()
	}

	size, err := strconv.Atoi(c.PoolSize)
	if err != nil || size <= 0 {
		return c.calculateAutoPoolSize()
	}

	return size
}

// calculateAutoPoolSize sizes the pool from available RAM:
// (total RAM - 2GB reserved) / 500MB per browser, clamped to [2, 50].
func (c *Config) calculateAutoPoolSize() int {
	v, err := mem.VirtualMemory()
	var totalRAMBytes int64

	if err != nil {
		// Conservative estimate when system memory cannot be read
		totalRAMBytes = int64(8 * 1024 * 1024 * 1024)
	} else {
		totalRAMBytes = int64(v.Total)
	}

	reservedBytes := int64(2 * 1024 * 1024 * 1024)
	availableBytes := totalRAMBytes - reservedBytes
	browserInstanceBytes := int64(500 * 1024 * 1024)

	poolSize := int(availableBytes / browserInstanceBytes)

	if poolSize < 2 {
		poolSize = 2
	}
	if poolSize > 50 {
		poolSize = 50
	}

	return poolSize
}
