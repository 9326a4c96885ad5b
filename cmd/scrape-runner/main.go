package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/sitegrab/engine/internal/browser/chrome"
	"github.com/sitegrab/engine/internal/browser/registry"
	"github.com/sitegrab/engine/internal/common/config"
	"github.com/sitegrab/engine/internal/common/flowid"
	logutil "github.com/sitegrab/engine/internal/common/logger"
	"github.com/sitegrab/engine/internal/common/metricsserver"
	"github.com/sitegrab/engine/internal/common/redis"
	"github.com/sitegrab/engine/internal/runner"
	"github.com/sitegrab/engine/internal/sync/metrics"
)

// flowPause separates consecutive flow executions on the same runner
const flowPause = 1 * time.Second

func main() {
	configPath := flag.String("c", "configs/scrape-runner.yaml",
		"Path to runner configuration file")
	flag.Parse()

	initialLogger, err := logutil.NewDefaultLogger()
	if err != nil {
		panic(err)
	}

	initialLogger.Info("Loading configuration", zap.String("path", *configPath))

	configMgr, err := config.NewManager(config.GetConfigPath(*configPath), initialLogger.Logger)
	if err != nil {
		initialLogger.Fatal("Failed to load configuration", zap.Error(err))
	}

	cfg := configMgr.Config()

	dynamicLogger, err := logutil.NewLogger(cfg.Log)
	if err != nil {
		initialLogger.Fatal("Failed to create configured logger", zap.Error(err))
	}

	logger := dynamicLogger.Logger

	logger.Info("Scrape runner starting",
		zap.String("runner", cfg.Runner.ID),
		zap.String("flow", cfg.Flow.Name),
		zap.String("browser_pool_size", cfg.Browser.PoolSize))

	redisClient, err := redis.NewClient(&cfg.Redis, logger)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisClient.Close()

	browserConfig := chrome.NewConfig(cfg.Browser, 30*time.Second)
	if err := browserConfig.Validate(); err != nil {
		logger.Fatal("Invalid browser configuration", zap.Error(err))
	}

	metricsCollector := metrics.NewMetricsCollector(cfg.Metrics.Namespace, logger)

	metricsServer, err := metricsserver.StartMetricsServer(
		cfg.Metrics.Enabled,
		cfg.Metrics.Listen,
		cfg.Metrics.Path,
		metricsCollector,
		logger,
	)
	if err != nil {
		logger.Fatal("Failed to start metrics server", zap.Error(err))
	}

	runnerRegistry := registry.NewRunnerRegistry(redisClient, cfg.Registry.TTL.Std(), logger)

	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = cfg.Runner.ID
	}

	poolSize := browserConfig.CalculatePoolSize()
	runnerInfo := &registry.RunnerInfo{
		ID:       cfg.Runner.ID,
		Hostname: hostname,
		Capacity: poolSize,
		Load:     0,
		Flow:     cfg.Flow.Name,
	}
	runnerInfo.SetMetadata(poolSize, poolSize, hostname)

	logger.Info("Initializing session ledger")
	ledger := registry.NewSessionLedger(redisClient, cfg.Runner.ID, poolSize, cfg.Registry.TTL.Std(), logger)

	logger.Info("Initializing browser pool")
	pool, err := chrome.NewPool(browserConfig, runnerRegistry, runnerInfo, metricsCollector, ledger, hostname, logger)
	if err != nil {
		logger.Fatal("Failed to create browser pool", zap.Error(err))
	}

	logger.Info("Browser pool initialized", zap.Int("pool_size", poolSize))

	if err := ledger.RegisterSlots(context.Background()); err != nil {
		logger.Fatal("Failed to register session slots in Redis", zap.Error(err))
	}

	logger.Info("Starting runner heartbeat")
	pool.StartPeriodicHeartbeat(cfg.Registry.Heartbeat.Std())

	logger.Info("Scrape runner ready and registered",
		zap.String("runner", cfg.Runner.ID),
		zap.Int("browser_instances", poolSize))

	dynamicLogger.SwitchToConfiguredLevel()

	executor := runner.NewExecutor(&cfg.Flow, cfg.WaitSpec(), metricsCollector, logger)

	// Flow loop: one execution per iteration until shutdown
	loopCtx, loopCancel := context.WithCancel(context.Background())
	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		runFlowLoop(loopCtx, executor, pool, metricsCollector, logger)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	dynamicLogger.EnsureInfoLevelForShutdown()
	logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
	logger.Info("Shutting down gracefully...")

	loopCancel()
	<-loopDone

	// Heartbeat goes first so a late beat cannot recreate the ledger
	pool.StopHeartbeat()

	deleteCtx, deleteCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := ledger.Delete(deleteCtx); err != nil {
		logger.Error("Failed to delete session ledger", zap.Error(err))
	}
	deleteCancel()

	unregisterCtx, unregisterCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer unregisterCancel()
	if err := runnerRegistry.Unregister(unregisterCtx, cfg.Runner.ID); err != nil {
		logger.Error("Failed to unregister runner", zap.Error(err))
	} else {
		logger.Info("Successfully unregistered from Redis")
	}

	if metricsServer != nil {
		metricsShutdownCtx, metricsShutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.ShutdownWithContext(metricsShutdownCtx); err != nil {
			logger.Error("Metrics server shutdown error", zap.Error(err))
		} else {
			logger.Info("Metrics server shutdown complete")
		}
		metricsShutdownCancel()
	}

	if err := pool.Shutdown(); err != nil {
		logger.Error("Browser pool shutdown error", zap.Error(err))
	}

	logger.Info("Scrape runner stopped")
}

// runFlowLoop executes the configured flow repeatedly until ctx is
// cancelled. Each iteration acquires a browser, runs the flow in a fresh
// tab and releases the browser regardless of outcome.
func runFlowLoop(ctx context.Context, executor *runner.Executor, pool *chrome.Pool,
	collector *metrics.MetricsCollector, logger *zap.Logger,
) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := runFlowOnce(ctx, executor, pool, collector, logger); err != nil {
			logger.Error("Flow execution failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(flowPause):
		}
	}
}

func runFlowOnce(ctx context.Context, executor *runner.Executor, pool *chrome.Pool,
	collector *metrics.MetricsCollector, logger *zap.Logger,
) error {
	id := flowid.Generate("")

	instance, err := pool.Acquire(id)
	if err != nil {
		collector.RecordError("pool_acquire")
		return err
	}
	defer pool.Release(instance)

	sess, closeTab, err := instance.NewSession(logger)
	if err != nil {
		collector.RecordError("session_create")
		collector.RecordFlow("error")
		return err
	}
	defer closeTab()
	defer sess.Close()

	if err := executor.Run(ctx, sess, id); err != nil {
		collector.RecordError("flow_step")
		collector.RecordFlow("error")
		return err
	}

	collector.RecordFlow("ok")
	return nil
}
