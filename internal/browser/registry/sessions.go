package registry

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/sitegrab/engine/internal/common/redis"
)

// SessionLedger mirrors browser-slot occupancy to Redis: one hash per
// runner, one field per pool slot, value holds the flow ID occupying it
// (empty when idle).
type SessionLedger struct {
	redis    *redis.Client
	runnerID string
	key      string // "sessions:runner-01"
	poolSize int
	ttl      time.Duration
	logger   *zap.Logger
}

// NewSessionLedger creates a ledger for one runner
func NewSessionLedger(redisClient *redis.Client, runnerID string, poolSize int, ttl time.Duration, logger *zap.Logger) *SessionLedger {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &SessionLedger{
		redis:    redisClient,
		runnerID: runnerID,
		key:      fmt.Sprintf("sessions:%s", runnerID),
		poolSize: poolSize,
		ttl:      ttl,
		logger:   logger,
	}
}

// RegisterSlots creates the hash on startup with all slots idle
func (sl *SessionLedger) RegisterSlots(ctx context.Context) error {
	for i := 0; i < sl.poolSize; i++ {
		if err := sl.redis.HSet(ctx, sl.key, strconv.Itoa(i), ""); err != nil {
			return fmt.Errorf("failed to register slot %d: %w", i, err)
		}
	}

	if err := sl.redis.Expire(ctx, sl.key, sl.ttl); err != nil {
		return fmt.Errorf("failed to set initial TTL: %w", err)
	}

	sl.logger.Info("Registered session slots in Redis",
		zap.String("key", sl.key),
		zap.Int("pool_size", sl.poolSize))

	return nil
}

// Sync refreshes the hash:
// - present: refresh TTL only (the cheap path, taken on every heartbeat)
// - missing: rebuild the whole hash from the current occupancy snapshot
func (sl *SessionLedger) Sync(ctx context.Context, occupied map[int]string) error {
	exists, err := sl.redis.Exists(ctx, sl.key)
	if err != nil {
		return fmt.Errorf("failed to check ledger existence: %w", err)
	}

	if exists {
		return sl.redis.Expire(ctx, sl.key, sl.ttl)
	}

	pipe := sl.redis.GetClient().Pipeline()

	for i := 0; i < sl.poolSize; i++ {
		value := ""
		if flowID, ok := occupied[i]; ok {
			value = flowID
		}
		pipe.HSet(ctx, sl.key, strconv.Itoa(i), value)
	}
	pipe.Expire(ctx, sl.key, sl.ttl)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to rebuild session ledger: %w", err)
	}

	sl.logger.Info("Rebuilt session ledger in Redis",
		zap.String("key", sl.key),
		zap.Int("pool_size", sl.poolSize),
		zap.Int("occupied", len(occupied)))

	return nil
}

// Claim records a flow occupying a slot
func (sl *SessionLedger) Claim(ctx context.Context, slot int, flowID string) error {
	return sl.redis.HSet(ctx, sl.key, strconv.Itoa(slot), flowID)
}

// Release marks a slot idle again
func (sl *SessionLedger) Release(ctx context.Context, slot int) error {
	return sl.redis.HSet(ctx, sl.key, strconv.Itoa(slot), "")
}

// CountOccupied counts slots holding a flow ID
func (sl *SessionLedger) CountOccupied(ctx context.Context) int {
	all, err := sl.redis.HGetAll(ctx, sl.key)
	if err != nil {
		sl.logger.Error("Failed to count occupied slots", zap.Error(err))
		return 0
	}

	count := 0
	for _, value := range all {
		if value != "" {
			count++
		}
	}
	return count
}

// Delete removes the ledger hash (called during shutdown)
func (sl *SessionLedger) Delete(ctx context.Context) error {
	if err := sl.redis.Del(ctx, sl.key); err != nil {
		return fmt.Errorf("failed to delete session ledger: %w", err)
	}

	sl.logger.Info("Deleted session ledger from Redis", zap.String("key", sl.key))
	return nil
}

// Key returns the Redis key of this runner's ledger
func (sl *SessionLedger) Key() string {
	return sl.key
}
