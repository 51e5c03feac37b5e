// Package sampler runs a single background loop that periodically samples
// every live session's resource usage (CPU, memory, disk, process count)
// and keeps the most recent reading per principal in memory. It holds no
// per-sample history: callers only ever see the latest snapshot.
package sampler
