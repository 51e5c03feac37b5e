package sampler

import (
	"context"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/cagekeep/broker/pkg/api"
	"github.com/cagekeep/broker/pkg/observability"
	"github.com/cagekeep/broker/pkg/runtime"
	"github.com/cagekeep/broker/pkg/session"
	"github.com/cagekeep/broker/pkg/storage/principal"
)

// Config tunes the sampler's cadence and warning behavior.
type Config struct {
	// Interval is how often cpu_percent, memory_mb, and pids are refreshed.
	Interval time.Duration
	// DiskInterval is how often disk_mb is recomputed. Walking a
	// workspace tree is comparatively expensive, so it runs on a slower
	// cadence than the rest of the snapshot.
	DiskInterval time.Duration
	// WarnThreshold is the fraction of a limit (0-1) at which a warning
	// event fires.
	WarnThreshold float64
	// DefaultLimits is applied to principals with no limit override.
	DefaultLimits api.ResourceLimits
}

func (c Config) interval() time.Duration {
	if c.Interval <= 0 {
		return 5 * time.Second
	}
	return c.Interval
}

func (c Config) diskInterval() time.Duration {
	if c.DiskInterval <= 0 {
		return 30 * time.Second
	}
	return c.DiskInterval
}

func (c Config) warnThreshold() float64 {
	if c.WarnThreshold <= 0 {
		return 0.9
	}
	return c.WarnThreshold
}

// Sampler periodically snapshots live sessions' resource usage. The
// Execution Engine reads Snapshot, and the metrics endpoint sees each
// reading through ResourceUsageGauge; there is no per-sample history kept
// anywhere.
type Sampler struct {
	driver     runtime.Driver
	sessions   *session.Manager
	principals principal.Store
	cfg        Config

	mu        sync.RWMutex
	snapshots map[string]api.ResourceUsage // principalID -> latest reading
	diskMB    map[string]float64           // principalID -> latest disk reading
	diskAt    map[string]time.Time         // principalID -> when disk was last sampled
}

// New constructs a Sampler. driver need not implement runtime.StatsProvider;
// when it doesn't, cpu_percent/memory_mb/pids stay at zero and only
// disk_mb is populated.
func New(driver runtime.Driver, sessions *session.Manager, principals principal.Store, cfg Config) *Sampler {
	return &Sampler{
		driver:     driver,
		sessions:   sessions,
		principals: principals,
		cfg:        cfg,
		snapshots:  make(map[string]api.ResourceUsage),
		diskMB:     make(map[string]float64),
		diskAt:     make(map[string]time.Time),
	}
}

// Run blocks, sampling on a fixed cadence until ctx is cancelled.
func (s *Sampler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.interval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sampleOnce(ctx)
		}
	}
}

func (s *Sampler) sampleOnce(ctx context.Context) {
	for _, sess := range s.sessions.List() {
		usage := s.sampleSession(ctx, sess)

		s.mu.Lock()
		s.snapshots[sess.PrincipalID] = usage
		s.mu.Unlock()

		observability.ResourceUsageGauge.WithLabelValues(sess.ID, "cpu_percent").Set(usage.CPUPercent)
		observability.ResourceUsageGauge.WithLabelValues(sess.ID, "memory_mb").Set(usage.MemoryMB)
		observability.ResourceUsageGauge.WithLabelValues(sess.ID, "disk_mb").Set(usage.DiskMB)
		observability.ResourceUsageGauge.WithLabelValues(sess.ID, "pids").Set(float64(usage.PIDs))

		s.checkThresholds(ctx, sess.PrincipalID, usage)
	}
}

func (s *Sampler) sampleSession(ctx context.Context, sess *api.Session) api.ResourceUsage {
	usage := api.ResourceUsage{SampledAt: time.Now()}

	if sp, ok := s.driver.(runtime.StatsProvider); ok {
		live, err := sp.Stats(ctx, &runtime.Sandbox{ID: sess.SandboxID})
		if err != nil {
			slog.Debug("sampling sandbox stats", "principal_id", sess.PrincipalID, "error", err.Error())
		} else {
			usage.CPUPercent = live.CPUPercent
			usage.MemoryMB = live.MemoryMB
			usage.PIDs = live.PIDs
		}
	}

	usage.DiskMB = s.diskUsage(sess)
	return usage
}

// diskUsage returns the workspace's size in MB, recomputing it only every
// DiskInterval since walking the tree is comparatively expensive.
func (s *Sampler) diskUsage(sess *api.Session) float64 {
	s.mu.RLock()
	last, sampled := s.diskAt[sess.PrincipalID]
	cached := s.diskMB[sess.PrincipalID]
	s.mu.RUnlock()

	if sampled && time.Since(last) < s.cfg.diskInterval() {
		return cached
	}

	mb := walkSizeMB(sess.WorkspacePath)

	s.mu.Lock()
	s.diskMB[sess.PrincipalID] = mb
	s.diskAt[sess.PrincipalID] = time.Now()
	s.mu.Unlock()

	return mb
}

func walkSizeMB(root string) float64 {
	var bytes int64
	_ = filepath.WalkDir(root, func(_ string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if info, err := d.Info(); err == nil {
			bytes += info.Size()
		}
		return nil
	})
	return float64(bytes) / (1024 * 1024)
}

func (s *Sampler) checkThresholds(ctx context.Context, principalID string, usage api.ResourceUsage) {
	limits := s.cfg.DefaultLimits
	if profile, err := s.principals.Get(ctx, principalID); err == nil && profile.LimitOverrides != nil {
		limits = *profile.LimitOverrides
	}
	threshold := s.cfg.warnThreshold()

	if limits.MemoryMB > 0 && usage.MemoryMB >= float64(limits.MemoryMB)*threshold {
		s.warn(principalID, "memory_mb", usage.MemoryMB, float64(limits.MemoryMB))
	}
	if limits.CPUCores > 0 && usage.CPUPercent >= limits.CPUCores*100*threshold {
		s.warn(principalID, "cpu_percent", usage.CPUPercent, limits.CPUCores*100)
	}
	if limits.DiskMB > 0 && usage.DiskMB >= float64(limits.DiskMB)*threshold {
		s.warn(principalID, "disk_mb", usage.DiskMB, float64(limits.DiskMB))
	}
	if limits.PIDs > 0 && float64(usage.PIDs) >= float64(limits.PIDs)*threshold {
		s.warn(principalID, "pids", float64(usage.PIDs), float64(limits.PIDs))
	}
}

func (s *Sampler) warn(principalID, resource string, value, limit float64) {
	observability.SamplerWarningsTotal.WithLabelValues(resource).Inc()
	slog.Warn("resource usage approaching limit",
		"principal_id", principalID,
		"resource", resource,
		"value", value,
		"limit", limit,
	)
}

// Snapshot returns the most recently sampled usage for a principal, if
// any session has been sampled for it yet.
func (s *Sampler) Snapshot(principalID string) (api.ResourceUsage, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	usage, ok := s.snapshots[principalID]
	return usage, ok
}
