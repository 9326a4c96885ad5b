package chrome

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/browser"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// NewInstance creates a new browser instance with the given configuration
func NewInstance(id int, runnerID string, config *Config, logger *zap.Logger) (*Instance, error) {
	now := time.Now().UTC()
	instance := &Instance{
		ID:           id,
		runnerID:     runnerID,
		createdAt:    now,
		logger:       logger,
		status:       int32(StatusIdle),
		flowsDone:    0,
		lastUsedNano: now.UnixNano(),
	}

	if err := instance.createBrowser(config); err != nil {
		return nil, fmt.Errorf("failed to create browser instance %d: %w", id, err)
	}

	instance.logger.Info("Browser instance created",
		zap.Int("instance_id", id),
		zap.Time("created_at", instance.createdAt))

	// Warmup failures are logged, not fatal: the instance still works, the
	// first flow just pays the cold-start cost.
	if err := instance.Warmup(config); err != nil {
		instance.logger.Warn("Browser instance warmup failed",
			zap.Int("instance_id", id),
			zap.Error(err))
	}

	return instance, nil
}

// createBrowser initializes the browser process
func (in *Instance) createBrowser(config *Config) error {
	opts := []chromedp.ExecAllocatorOption{
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-setuid-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("no-first-run", true),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("disable-background-networking", true),
		chromedp.Flag("mute-audio", true),
		chromedp.Flag("disable-sync", true),
		chromedp.Flag("disable-translate", true),
	}

	allocatorOpts := append(chromedp.DefaultExecAllocatorOptions[:], opts...)
	in.allocatorCtx, in.allocatorCancel = chromedp.NewExecAllocator(context.Background(), allocatorOpts...)

	in.ctx, in.cancel = chromedp.NewContext(in.allocatorCtx)

	// Start the browser without navigating anywhere
	if err := chromedp.Run(in.ctx); err != nil {
		return fmt.Errorf("failed to start browser: %w", err)
	}

	if err := chromedp.Run(in.ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		_, product, _, _, _, err := browser.GetVersion().Do(ctx)
		if err != nil {
			return err
		}
		in.browserVersion = product
		return nil
	})); err != nil {
		in.logger.Warn("Failed to capture browser version",
			zap.Int("instance_id", in.ID),
			zap.Error(err))
	}

	return nil
}

// Warmup navigates to a test page to ensure the browser is ready
func (in *Instance) Warmup(config *Config) error {
	ctx, cancel := context.WithTimeout(in.ctx, config.WarmupTimeout)
	defer cancel()

	if err := chromedp.Run(ctx, chromedp.Navigate(config.WarmupURL)); err != nil {
		return fmt.Errorf("warmup navigation failed: %w", err)
	}

	in.logger.Info("Browser instance warmed up",
		zap.Int("instance_id", in.ID),
		zap.String("warmup_url", config.WarmupURL))

	return nil
}

// IsAlive checks if the browser instance is still responsive
func (in *Instance) IsAlive() bool {
	if InstanceStatus(atomic.LoadInt32(&in.status)) == StatusDead {
		return false
	}

	ctx, cancel := context.WithTimeout(in.ctx, 5*time.Second)
	defer cancel()

	err := chromedp.Run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		_, _, _, _, _, err := browser.GetVersion().Do(ctx)
		return err
	}))

	return err == nil
}

// Age returns how long the instance has been running
func (in *Instance) Age() time.Duration {
	return time.Now().UTC().Sub(in.createdAt)
}

// ShouldRestart determines if the instance needs to be restarted based on policies
func (in *Instance) ShouldRestart(config *Config) bool {
	if int(atomic.LoadInt32(&in.flowsDone)) >= config.RestartAfterCount {
		return true
	}

	if in.Age() >= config.RestartAfterTime {
		return true
	}

	return false
}

// Restart terminates and recreates the browser instance
func (in *Instance) Restart(config *Config) error {
	in.logger.Info("Restarting browser instance",
		zap.String("flow_id", in.currentFlowID),
		zap.Int("instance_id", in.ID),
		zap.Int32("flows_done", in.GetFlowsDone()),
		zap.Duration("age", in.Age()))

	if err := in.Terminate(); err != nil {
		in.logger.Warn("Error terminating instance during restart",
			zap.String("flow_id", in.currentFlowID),
			zap.Int("instance_id", in.ID),
			zap.Error(err))
	}

	now := time.Now().UTC()
	atomic.StoreInt32(&in.flowsDone, 0)
	in.createdAt = now
	atomic.StoreInt64(&in.lastUsedNano, now.UnixNano())
	atomic.StoreInt32(&in.status, int32(StatusIdle))

	if err := in.createBrowser(config); err != nil {
		atomic.StoreInt32(&in.status, int32(StatusDead))
		return fmt.Errorf("%w: %v", ErrRestartFailed, err)
	}

	if err := in.Warmup(config); err != nil {
		in.logger.Warn("Warmup failed after restart",
			zap.String("flow_id", in.currentFlowID),
			zap.Int("instance_id", in.ID),
			zap.Error(err))
	}

	in.logger.Info("Browser instance restarted successfully",
		zap.String("flow_id", in.currentFlowID),
		zap.Int("instance_id", in.ID))
	return nil
}

// Terminate cleanly shuts down the browser instance
func (in *Instance) Terminate() error {
	atomic.StoreInt32(&in.status, int32(StatusDead))

	if in.cancel != nil {
		in.cancel()
	}
	if in.allocatorCancel != nil {
		in.allocatorCancel()
	}

	return nil
}

// IncrementFlows increments the completed-flow counter
func (in *Instance) IncrementFlows() {
	atomic.AddInt32(&in.flowsDone, 1)
	atomic.StoreInt64(&in.lastUsedNano, time.Now().UTC().UnixNano())
}

// NewSession opens a fresh tab on this instance and wraps it in the
// synchronization session interface.
func (in *Instance) NewSession(logger *zap.Logger) (*Session, context.CancelFunc, error) {
	tabCtx, cancel := chromedp.NewContext(in.ctx)

	sess, err := NewSession(tabCtx, logger)
	if err != nil {
		cancel()
		return nil, nil, err
	}
	return sess, cancel, nil
}

// GetStatus returns the current status
func (in *Instance) GetStatus() InstanceStatus {
	return InstanceStatus(atomic.LoadInt32(&in.status))
}

// SetStatus updates the instance status
func (in *Instance) SetStatus(status InstanceStatus) {
	atomic.StoreInt32(&in.status, int32(status))
}

// GetFlowsDone returns the number of completed flows
func (in *Instance) GetFlowsDone() int32 {
	return atomic.LoadInt32(&in.flowsDone)
}

// GetLastUsed returns the last used time
func (in *Instance) GetLastUsed() time.Time {
	return time.Unix(0, atomic.LoadInt64(&in.lastUsedNano))
}

// GetBrowserVersion returns the browser version string
func (in *Instance) GetBrowserVersion() string {
	return in.browserVersion
}
