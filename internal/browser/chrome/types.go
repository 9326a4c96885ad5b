package chrome

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// InstanceStatus represents the current state of a browser instance
type InstanceStatus int

const (
	// StatusIdle indicates the instance is ready for a flow
	StatusIdle InstanceStatus = iota
	// StatusScraping indicates the instance is currently executing a flow
	StatusScraping
	// StatusRestarting indicates the instance is being restarted
	StatusRestarting
	// StatusDead indicates the instance has crashed or been terminated
	StatusDead
)

// String returns the string representation of InstanceStatus
func (s InstanceStatus) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusScraping:
		return "scraping"
	case StatusRestarting:
		return "restarting"
	case StatusDead:
		return "dead"
	default:
		return "unknown"
	}
}

// Instance represents a single headless browser
type Instance struct {
	ID              int                // Immutable
	runnerID        string             // Runner ID (immutable)
	ctx             context.Context    // Immutable after creation
	cancel          context.CancelFunc // Immutable after creation
	allocatorCtx    context.Context    // Immutable after creation
	allocatorCancel context.CancelFunc // Immutable after creation
	createdAt       time.Time          // Immutable after creation
	logger          *zap.Logger        // Immutable
	browserVersion  string             // Immutable after creation

	// Mutable fields - protected by atomic operations
	status        int32 // InstanceStatus as int32
	flowsDone     int32
	lastUsedNano  int64  // Unix nanoseconds
	currentFlowID string // Set by Acquire, cleared by Release
}

// PoolStats represents statistics about the browser pool
type PoolStats struct {
	TotalInstances     int
	AvailableInstances int
	ActiveInstances    int
	TotalFlows         int64
	TotalRestarts      int64
	Uptime             time.Duration
}
