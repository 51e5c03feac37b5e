package engine

import (
	"context"
	"fmt"

	"github.com/cagekeep/broker/pkg/api"
	"github.com/cagekeep/broker/pkg/auth"
	"github.com/cagekeep/broker/pkg/kernel"
	"github.com/cagekeep/broker/pkg/packages"
	"github.com/cagekeep/broker/pkg/runtime"
	"github.com/cagekeep/broker/pkg/sampler"
	"github.com/cagekeep/broker/pkg/screener"
	"github.com/cagekeep/broker/pkg/session"
	"github.com/cagekeep/broker/pkg/storage/principal"
)

// Engine wires the broker's components into the six-step synchronous
// pipeline (pipeline.go), the async job queue (jobs.go), and the replay
// ring (replay.go).
type Engine struct {
	cfg Config

	driver     runtime.Driver
	sessions   *session.Manager
	screener   *screener.Screener
	principals principal.Store
	rateLimit  *auth.PrincipalLimiter

	jobs     *jobQueue
	replay   *replayStore
	sampler  *sampler.Sampler
	packages *packages.Manager

	samplerCancel context.CancelFunc
}

// New wires an Engine from its components. driver, sessions, screener,
// and principals must not be nil.
func New(driver runtime.Driver, sessions *session.Manager, scr *screener.Screener, principals principal.Store, cfg Config) (*Engine, error) {
	if driver == nil {
		return nil, fmt.Errorf("engine: driver must not be nil")
	}
	if sessions == nil {
		return nil, fmt.Errorf("engine: sessions must not be nil")
	}
	if scr == nil {
		return nil, fmt.Errorf("engine: screener must not be nil")
	}
	if principals == nil {
		return nil, fmt.Errorf("engine: principals must not be nil")
	}

	capacity := cfg.RateLimitCapacity
	if capacity <= 0 {
		capacity = 60
	}
	refill := cfg.RateLimitRefillPerMin
	if refill <= 0 {
		refill = 60
	}

	var rs *replayStore
	if cfg.ReplayEnabled {
		var err error
		rs, err = newReplayStore(cfg.replayDir(), cfg.replayMaxStored())
		if err != nil {
			return nil, fmt.Errorf("engine: initializing replay store: %w", err)
		}
	}

	e := &Engine{
		cfg:        cfg,
		driver:     driver,
		sessions:   sessions,
		screener:   scr,
		principals: principals,
		rateLimit:  auth.NewPrincipalLimiter(capacity, refill),
		replay:     rs,
	}
	e.jobs = newJobQueue(cfg.asyncQueueDepth(), cfg.asyncWorkerCount(), e.runSync)
	e.sampler = sampler.New(driver, sessions, principals, sampler.Config{DefaultLimits: cfg.DefaultLimits})
	e.packages = packages.NewManager(cfg.Packages)

	return e, nil
}

// Start launches the async worker pool and the background resource
// sampler. Stop both via Shutdown.
func (e *Engine) Start() {
	e.jobs.start()

	ctx, cancel := context.WithCancel(context.Background())
	e.samplerCancel = cancel
	go e.sampler.Run(ctx)
}

// Shutdown stops the resource sampler and the async worker pool, waiting
// for in-flight jobs to finish.
func (e *Engine) Shutdown() {
	if e.samplerCancel != nil {
		e.samplerCancel()
	}
	e.jobs.stop()
}

// kernelStatePath returns where a session's persistent-kernel state for
// lang lives on disk.
func kernelStatePath(sess *session.Session, lang api.Language) string {
	return kernel.StatePath(sess.WorkspacePath(), lang)
}
