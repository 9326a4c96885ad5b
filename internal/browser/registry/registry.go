// Package registry publishes scrape runner presence and browser occupancy
// to Redis, so a fleet of runners is observable by whatever dispatches
// flows to them.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/sitegrab/engine/internal/common/redis"
)

const (
	runnerKeyPrefix = "runner:scrape:"
	runnerListKey   = "runners:scrape:list"

	// DefaultTTL allows two missed heartbeats before a runner drops out
	DefaultTTL = 30 * time.Second
	// DefaultHeartbeatInterval is the periodic registration frequency
	DefaultHeartbeatInterval = 10 * time.Second
)

// RunnerRegistry stores runner records in Redis with a TTL
type RunnerRegistry struct {
	redis  *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// RunnerInfo describes one scrape runner
type RunnerInfo struct {
	ID       string            `json:"id"`
	Hostname string            `json:"hostname"`
	Capacity int               `json:"capacity"` // browser pool size
	Load     int               `json:"load"`     // browsers currently scraping
	LastSeen time.Time         `json:"last_seen"`
	Flow     string            `json:"flow,omitempty"` // configured flow name
	Metadata map[string]string `json:"metadata,omitempty"`
}

// IsHealthy reports whether the runner has been seen within the TTL
func (ri *RunnerInfo) IsHealthy(ttl time.Duration) bool {
	return time.Now().UTC().Sub(ri.LastSeen) < ttl
}

// LoadPercentage reports occupancy as a percentage of capacity
func (ri *RunnerInfo) LoadPercentage() float64 {
	if ri.Capacity <= 0 {
		return 100.0
	}
	return float64(ri.Load) / float64(ri.Capacity) * 100.0
}

// SetMetadata populates the metadata map with pool stats and hostname
func (ri *RunnerInfo) SetMetadata(poolSize, available int, hostname string) {
	if ri.Metadata == nil {
		ri.Metadata = make(map[string]string)
	}
	ri.Metadata["pool_size"] = fmt.Sprintf("%d", poolSize)
	ri.Metadata["available"] = fmt.Sprintf("%d", available)
	ri.Metadata["hostname"] = hostname
}

// NewRunnerRegistry creates a registry. A non-positive ttl falls back to
// DefaultTTL.
func NewRunnerRegistry(redisClient *redis.Client, ttl time.Duration, logger *zap.Logger) *RunnerRegistry {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RunnerRegistry{
		redis:  redisClient,
		ttl:    ttl,
		logger: logger,
	}
}

// TTL reports the registration TTL
func (rr *RunnerRegistry) TTL() time.Duration {
	return rr.ttl
}

// Register writes or refreshes a runner record
func (rr *RunnerRegistry) Register(ctx context.Context, info *RunnerInfo) error {
	if info.ID == "" {
		return fmt.Errorf("runner ID is required")
	}

	info.LastSeen = time.Now().UTC()

	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("failed to marshal runner info: %w", err)
	}

	runnerKey := runnerKeyPrefix + info.ID

	if err := rr.redis.Set(ctx, runnerKey, data, rr.ttl); err != nil {
		rr.logger.Error("Failed to register runner",
			zap.String("runner_id", info.ID),
			zap.Error(err))
		return fmt.Errorf("failed to register runner: %w", err)
	}

	if err := rr.redis.HSet(ctx, runnerListKey, info.ID, info.Hostname); err != nil {
		rr.logger.Error("Failed to add runner to list",
			zap.String("runner_id", info.ID),
			zap.Error(err))
		return fmt.Errorf("failed to add runner to list: %w", err)
	}

	return nil
}

// Unregister removes a runner record
func (rr *RunnerRegistry) Unregister(ctx context.Context, runnerID string) error {
	if runnerID == "" {
		return fmt.Errorf("runner ID is required")
	}

	runnerKey := runnerKeyPrefix + runnerID

	exists, err := rr.redis.Exists(ctx, runnerKey)
	if err != nil {
		return fmt.Errorf("failed to check runner existence: %w", err)
	}

	if !exists {
		rr.logger.Warn("Attempted to unregister non-existent runner",
			zap.String("runner_id", runnerID))
		return nil
	}

	if err := rr.redis.Del(ctx, runnerKey); err != nil {
		rr.logger.Error("Failed to delete runner key",
			zap.String("runner_id", runnerID),
			zap.Error(err))
		return fmt.Errorf("failed to delete runner: %w", err)
	}

	if err := rr.redis.HDel(ctx, runnerListKey, runnerID); err != nil {
		rr.logger.Error("Failed to remove runner from list",
			zap.String("runner_id", runnerID),
			zap.Error(err))
	}

	rr.logger.Info("Runner unregistered successfully",
		zap.String("runner_id", runnerID))

	return nil
}

// Get reads one runner record; nil when absent
func (rr *RunnerRegistry) Get(ctx context.Context, runnerID string) (*RunnerInfo, error) {
	if runnerID == "" {
		return nil, fmt.Errorf("runner ID is required")
	}

	data, err := rr.redis.Get(ctx, runnerKeyPrefix+runnerID)
	if err != nil {
		return nil, fmt.Errorf("failed to get runner: %w", err)
	}

	if data == "" {
		return nil, nil
	}

	var info RunnerInfo
	if err := json.Unmarshal([]byte(data), &info); err != nil {
		rr.logger.Error("Failed to unmarshal runner info",
			zap.String("runner_id", runnerID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to unmarshal runner info: %w", err)
	}

	return &info, nil
}

// List returns all known runners ordered by ID
func (rr *RunnerRegistry) List(ctx context.Context) ([]*RunnerInfo, error) {
	keys, err := rr.redis.Keys(ctx, runnerKeyPrefix+"*")
	if err != nil {
		return nil, fmt.Errorf("failed to list runner keys: %w", err)
	}

	runners := make([]*RunnerInfo, 0, len(keys))

	for _, key := range keys {
		data, err := rr.redis.Get(ctx, key)
		if err != nil {
			rr.logger.Warn("Failed to get runner data",
				zap.String("key", key),
				zap.Error(err))
			continue
		}

		if data == "" {
			continue
		}

		var info RunnerInfo
		if err := json.Unmarshal([]byte(data), &info); err != nil {
			rr.logger.Warn("Failed to unmarshal runner info",
				zap.String("key", key),
				zap.Error(err))
			continue
		}

		runners = append(runners, &info)
	}

	sort.Slice(runners, func(i, j int) bool {
		return runners[i].ID < runners[j].ID
	})

	return runners, nil
}

// ListHealthy filters List down to runners seen within the TTL
func (rr *RunnerRegistry) ListHealthy(ctx context.Context) ([]*RunnerInfo, error) {
	all, err := rr.List(ctx)
	if err != nil {
		return nil, err
	}

	healthy := make([]*RunnerInfo, 0, len(all))
	for _, runner := range all {
		if runner.IsHealthy(rr.ttl) {
			healthy = append(healthy, runner)
		} else {
			rr.logger.Debug("Filtering out unhealthy runner",
				zap.String("runner_id", runner.ID),
				zap.Time("last_seen", runner.LastSeen))
		}
	}

	return healthy, nil
}

// Heartbeat refreshes an existing record with the current load
func (rr *RunnerRegistry) Heartbeat(ctx context.Context, runnerID string, load int) error {
	if runnerID == "" {
		return fmt.Errorf("runner ID is required")
	}

	info, err := rr.Get(ctx, runnerID)
	if err != nil {
		return fmt.Errorf("failed to get current runner info: %w", err)
	}

	if info == nil {
		return fmt.Errorf("runner not found: %s", runnerID)
	}

	info.Load = load
	return rr.Register(ctx, info)
}

// CleanupStale unregisters runners whose records outlived the TTL. The TTL
// normally expires records on its own; this covers runners whose key
// survived a Redis restore.
func (rr *RunnerRegistry) CleanupStale(ctx context.Context) error {
	runners, err := rr.List(ctx)
	if err != nil {
		return err
	}

	staleThreshold := time.Now().UTC().Add(-rr.ttl)
	staleCount := 0

	for _, runner := range runners {
		if runner.LastSeen.Before(staleThreshold) {
			if err := rr.Unregister(ctx, runner.ID); err != nil {
				rr.logger.Warn("Failed to cleanup stale runner",
					zap.String("runner_id", runner.ID),
					zap.Error(err))
			} else {
				staleCount++
			}
		}
	}

	if staleCount > 0 {
		rr.logger.Info("Cleaned up stale runners", zap.Int("count", staleCount))
	}

	return nil
}
