package engine

import (
	"time"

	"github.com/cagekeep/broker/pkg/api"
	"github.com/cagekeep/broker/pkg/packages"
)

// Config holds the engine's tunables, filled from config.Config by the
// caller that wires everything together (cmd/server).
type Config struct {
	// DefaultLimits bounds a session absent a principal-specific override.
	DefaultLimits api.ResourceLimits

	// GlobalMaxExecutionSeconds caps every execution's deadline regardless
	// of what the request or a principal override asks for.
	GlobalMaxExecutionSeconds int

	// RateLimitCapacity and RateLimitRefillPerMin configure the
	// per-principal token bucket consumed at pipeline step 1.
	RateLimitCapacity     int
	RateLimitRefillPerMin float64

	// ExecLockWait bounds how long a synchronous request queues for its
	// session's exec_lock before failing with Busy.
	ExecLockWait time.Duration

	// ReplayEnabled gates whether completed executions are persisted for
	// later inspection/rerun.
	ReplayEnabled   bool
	ReplayMaxStored int
	ReplayDir       string

	// AsyncQueueDepth bounds the async job queue; AsyncWorkerCount is the
	// size of the fixed worker pool draining it.
	AsyncQueueDepth  int
	AsyncWorkerCount int

	// ReadOnlyRootfs and DropAllCapabilities harden every sandbox
	// container regardless of per-request limits. SeccompProfilePath, if
	// set, overrides the container runtime's default seccomp profile.
	ReadOnlyRootfs      bool
	DropAllCapabilities bool
	SeccompProfilePath  string

	// Packages configures the install_package exec path: whether it is
	// reachable at all, per-language mirrors, and the per-session cap.
	Packages packages.Config
}

func (c Config) execLockWait() time.Duration {
	if c.ExecLockWait <= 0 {
		return 5 * time.Second
	}
	return c.ExecLockWait
}

func (c Config) asyncQueueDepth() int {
	if c.AsyncQueueDepth <= 0 {
		return 256
	}
	return c.AsyncQueueDepth
}

func (c Config) asyncWorkerCount() int {
	if c.AsyncWorkerCount <= 0 {
		return 8
	}
	return c.AsyncWorkerCount
}

func (c Config) replayMaxStored() int {
	if c.ReplayMaxStored <= 0 {
		return 10000
	}
	return c.ReplayMaxStored
}

func (c Config) replayDir() string {
	if c.ReplayDir == "" {
		return "replay"
	}
	return c.ReplayDir
}

func (c Config) globalMaxExecutionSeconds() int {
	if c.GlobalMaxExecutionSeconds <= 0 {
		return 600
	}
	return c.GlobalMaxExecutionSeconds
}
