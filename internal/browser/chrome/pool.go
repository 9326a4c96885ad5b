package chrome

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/sitegrab/engine/internal/browser/registry"
	"github.com/sitegrab/engine/internal/sync/metrics"
)

// Pool manages a set of browser instances with a simple FIFO queue
type Pool struct {
	config        *Config
	logger        *zap.Logger
	instances     []*Instance
	queue         chan int // FIFO queue of available instance IDs
	mu            sync.RWMutex
	activeFlows   atomic.Int32
	totalFlows    atomic.Int64
	totalRestarts atomic.Int64
	createdAt     time.Time
	ctx           context.Context
	cancel        context.CancelFunc
	registry      *registry.RunnerRegistry
	runnerInfo    *registry.RunnerInfo
	metrics       *metrics.MetricsCollector
	hostname      string
	poolSize      int

	// Slot occupancy mirrored to Redis on every heartbeat
	ledger     *registry.SessionLedger
	occupied   map[int]string // instance ID -> flow ID
	occupiedMu sync.Mutex

	heartbeatWg      sync.WaitGroup
	heartbeatStopped atomic.Bool
	runnerInfoMu     sync.Mutex // Protects runnerInfo during heartbeat operations
}

// NewPool creates the browser pool and starts every instance
func NewPool(config *Config, reg *registry.RunnerRegistry, runnerInfo *registry.RunnerInfo,
	collector *metrics.MetricsCollector, ledger *registry.SessionLedger, hostname string, logger *zap.Logger,
) (*Pool, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	poolSize := config.CalculatePoolSize()
	logger.Info("Initializing browser pool",
		zap.Int("pool_size", poolSize))

	ctx, cancel := context.WithCancel(context.Background())

	pool := &Pool{
		config:     config,
		logger:     logger,
		instances:  make([]*Instance, poolSize),
		queue:      make(chan int, poolSize),
		createdAt:  time.Now().UTC(),
		ctx:        ctx,
		cancel:     cancel,
		registry:   reg,
		runnerInfo: runnerInfo,
		metrics:    collector,
		hostname:   hostname,
		poolSize:   poolSize,
		ledger:     ledger,
		occupied:   make(map[int]string),
	}

	runnerID := ""
	if runnerInfo != nil {
		runnerID = runnerInfo.ID
	}
	for i := 0; i < poolSize; i++ {
		instance, err := NewInstance(i, runnerID, config, logger)
		if err != nil {
			pool.Shutdown()
			return nil, fmt.Errorf("failed to create browser instance %d: %w", i, err)
		}

		pool.instances[i] = instance
		pool.queue <- i
	}

	logger.Info("Browser pool initialized successfully",
		zap.Int("instances", poolSize))

	return pool, nil
}

// Acquire takes an idle browser instance from the pool, blocking until one
// is free. Dead instances are restarted before being handed out; restart
// policies (flow count, age) are applied here so callers always receive a
// fresh-enough browser.
func (p *Pool) Acquire(flowID string) (*Instance, error) {
	select {
	case <-p.ctx.Done():
		return nil, ErrPoolShutdown
	case instanceID := <-p.queue:
		// Shutdown may have started while we were waiting on the queue
		select {
		case <-p.ctx.Done():
			select {
			case p.queue <- instanceID:
			default:
			}
			return nil, ErrPoolShutdown
		default:
		}

		p.activeFlows.Add(1)

		p.occupiedMu.Lock()
		p.occupied[instanceID] = flowID
		p.occupiedMu.Unlock()

		p.mu.RLock()
		instance := p.instances[instanceID]
		p.mu.RUnlock()

		if !instance.IsAlive() {
			p.logger.Warn("Browser instance is dead, restarting",
				zap.String("flow_id", flowID),
				zap.Int("instance_id", instanceID),
				zap.Int32("flows_done", instance.GetFlowsDone()))

			if err := instance.Restart(p.config); err != nil {
				p.logger.Error("Failed to restart dead instance",
					zap.String("flow_id", flowID),
					zap.Int("instance_id", instanceID),
					zap.Error(err))
				p.occupiedMu.Lock()
				delete(p.occupied, instanceID)
				p.occupiedMu.Unlock()
				select {
				case p.queue <- instanceID:
				case <-p.ctx.Done():
				}
				p.activeFlows.Add(-1)
				return nil, fmt.Errorf("%w: instance %d", ErrInstanceDead, instanceID)
			}
			p.totalRestarts.Add(1)
		}

		if instance.ShouldRestart(p.config) {
			p.logger.Info("Browser instance needs restart based on policy",
				zap.String("flow_id", flowID),
				zap.Int("instance_id", instanceID),
				zap.Int32("flows_done", instance.GetFlowsDone()),
				zap.Duration("age", instance.Age()))

			if err := instance.Restart(p.config); err != nil {
				p.logger.Error("Failed to restart instance",
					zap.String("flow_id", flowID),
					zap.Int("instance_id", instanceID),
					zap.Error(err))
				// Continue with the current instance despite restart failure
			} else {
				p.totalRestarts.Add(1)
			}
		}

		instance.SetStatus(StatusScraping)
		instance.currentFlowID = flowID

		p.logger.Debug("Browser instance acquired",
			zap.String("flow_id", flowID),
			zap.Int("instance_id", instanceID),
			zap.Int32("active_flows", p.activeFlows.Load()),
			zap.Int("pool_size", p.poolSize))

		p.sendHeartbeat()

		return instance, nil
	}
}

// Release returns a browser instance to the pool
func (p *Pool) Release(instance *Instance) {
	flowID := instance.currentFlowID
	instance.SetStatus(StatusIdle)
	instance.IncrementFlows()
	p.totalFlows.Add(1)

	// Clear flow ID before returning to the queue to avoid a race with the
	// next Acquire
	instance.currentFlowID = ""

	p.occupiedMu.Lock()
	delete(p.occupied, instance.ID)
	p.occupiedMu.Unlock()

	p.activeFlows.Add(-1)

	select {
	case p.queue <- instance.ID:
		p.logger.Debug("Browser instance released",
			zap.String("flow_id", flowID),
			zap.Int("instance_id", instance.ID),
			zap.Int32("flows_done", instance.GetFlowsDone()),
			zap.Int32("active_flows", p.activeFlows.Load()))
	case <-p.ctx.Done():
		p.logger.Debug("Discarding instance during shutdown",
			zap.String("flow_id", flowID),
			zap.Int("instance_id", instance.ID))
	default:
		// Queue full - should never happen, indicates a double release
		p.logger.Error("Queue full when returning instance - possible leak",
			zap.String("flow_id", flowID),
			zap.Int("instance_id", instance.ID),
			zap.Int("queue_len", len(p.queue)))
	}

	p.sendHeartbeat()
}

// GetStats returns current pool statistics
func (p *Pool) GetStats() PoolStats {
	p.mu.RLock()
	totalInstances := len(p.instances)
	p.mu.RUnlock()

	return PoolStats{
		TotalInstances:     totalInstances,
		AvailableInstances: len(p.queue),
		ActiveInstances:    int(p.activeFlows.Load()),
		TotalFlows:         p.totalFlows.Load(),
		TotalRestarts:      p.totalRestarts.Load(),
		Uptime:             time.Since(p.createdAt),
	}
}

// sendHeartbeat pushes the current pool state to the registry and session
// ledger. Called on every acquire/release plus the periodic ticker, so the
// registry view lags real occupancy by at most one operation.
func (p *Pool) sendHeartbeat() {
	// Registry is optional (tests run without one)
	if p.registry == nil || p.runnerInfo == nil {
		return
	}

	p.runnerInfoMu.Lock()
	defer p.runnerInfoMu.Unlock()

	select {
	case <-p.ctx.Done():
		return
	default:
	}

	ctx := context.Background()

	p.occupiedMu.Lock()
	occupiedSnapshot := make(map[int]string, len(p.occupied))
	for slot, flowID := range p.occupied {
		occupiedSnapshot[slot] = flowID
	}
	p.occupiedMu.Unlock()

	if p.ledger != nil {
		if err := p.ledger.Sync(ctx, occupiedSnapshot); err != nil {
			p.logger.Error("Failed to sync session ledger", zap.Error(err))
		}
	}

	select {
	case <-p.ctx.Done():
		return
	default:
	}

	stats := p.GetStats()
	available := stats.TotalInstances - stats.ActiveInstances

	p.runnerInfo.Load = stats.ActiveInstances
	p.runnerInfo.Capacity = stats.TotalInstances
	p.runnerInfo.SetMetadata(stats.TotalInstances, available, p.hostname)

	if p.metrics != nil {
		p.metrics.UpdateBrowserPoolSize(stats.TotalInstances)
		p.metrics.UpdateBrowserAvailable(available)
	}

	p.logger.Debug("Sending heartbeat to registry",
		zap.Int("available", available),
		zap.Int("active", stats.ActiveInstances),
		zap.Int("total", stats.TotalInstances),
		zap.Int("load", p.runnerInfo.Load),
		zap.Int("capacity", p.runnerInfo.Capacity))

	if err := p.registry.Register(ctx, p.runnerInfo); err != nil {
		p.logger.Error("Failed to send heartbeat",
			zap.Error(err),
			zap.Int("available", available))
	}
}

// StartPeriodicHeartbeat keeps the registry record alive while the pool is
// idle
func (p *Pool) StartPeriodicHeartbeat(interval time.Duration) {
	if p.registry == nil {
		return
	}

	p.logger.Info("Starting periodic heartbeat",
		zap.Duration("interval", interval))

	p.sendHeartbeat()

	ticker := time.NewTicker(interval)
	p.heartbeatWg.Add(1)
	go func() {
		defer p.heartbeatWg.Done()
		for {
			select {
			case <-ticker.C:
				p.sendHeartbeat()
			case <-p.ctx.Done():
				ticker.Stop()
				p.logger.Info("Stopping periodic heartbeat")
				return
			}
		}
	}()
}

// StopHeartbeat stops the heartbeat goroutine without touching browser
// instances. Call it before removing the ledger from Redis so a late
// heartbeat cannot recreate it.
func (p *Pool) StopHeartbeat() {
	if p.registry == nil || p.heartbeatStopped.Load() {
		return
	}

	p.logger.Info("Stopping heartbeat goroutine")

	p.cancel()
	p.heartbeatWg.Wait()
	p.heartbeatStopped.Store(true)

	p.logger.Info("Heartbeat goroutine stopped")
}

// Shutdown gracefully shuts down all browser instances with the configured
// timeout
func (p *Pool) Shutdown() error {
	return p.ShutdownWithTimeout(p.config.ShutdownTimeout)
}

// ShutdownWithTimeout drains active flows up to the timeout, then
// terminates every instance.
func (p *Pool) ShutdownWithTimeout(timeout time.Duration) error {
	p.logger.Info("Initiating browser pool shutdown",
		zap.Duration("timeout", timeout),
		zap.Int32("active_flows", p.activeFlows.Load()))

	if !p.heartbeatStopped.Load() {
		p.cancel()
		p.logger.Info("Waiting for heartbeat goroutine to stop")
		p.heartbeatWg.Wait()
		p.heartbeatStopped.Store(true)
	} else {
		p.cancel()
	}

	stats := p.GetStats()
	p.logger.Info("Shutdown initiated - waiting for active flows to complete",
		zap.Int("active_flows", stats.ActiveInstances),
		zap.Int("total_instances", stats.TotalInstances))

	if p.waitForActiveFlows(timeout) {
		p.logger.Info("All active flows completed gracefully")
	} else {
		p.logger.Warn("Shutdown timeout exceeded, forcing termination",
			zap.Int32("stuck_flows", p.activeFlows.Load()))
	}

	p.mu.Lock()
	var errs []error
	for i, instance := range p.instances {
		if instance == nil {
			continue
		}

		if err := instance.Terminate(); err != nil {
			p.logger.Error("Error terminating instance",
				zap.Int("instance_id", i),
				zap.Error(err))
			errs = append(errs, err)
		}
	}
	p.mu.Unlock()

	// The queue stays open: closing it risks a panic on a concurrent send,
	// and it is unreachable after context cancellation anyway.

	finalStats := p.GetStats()
	p.logger.Info("Browser pool shut down",
		zap.Int64("total_flows", finalStats.TotalFlows),
		zap.Int64("total_restarts", finalStats.TotalRestarts),
		zap.Duration("uptime", finalStats.Uptime))

	if len(errs) > 0 {
		return fmt.Errorf("encountered %d errors during shutdown", len(errs))
	}

	return nil
}

// waitForActiveFlows polls until all flows complete or the timeout passes
func (p *Pool) waitForActiveFlows(timeout time.Duration) bool {
	deadline := time.Now().UTC().Add(timeout)
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		if p.activeFlows.Load() == 0 {
			return true
		}

		<-ticker.C
		if time.Now().UTC().After(deadline) {
			return false
		}
	}
}

// PoolSize returns the total number of browser instances
func (p *Pool) PoolSize() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.instances)
}

// AvailableInstances returns the number of idle browser instances
func (p *Pool) AvailableInstances() int {
	return len(p.queue)
}
