// Package runtime abstracts the container backend a sandbox runs on.
// A Driver turns a principal's sandbox lifecycle into a fixed verb set;
// callers never touch testcontainers or the Kubernetes client directly.
package runtime

import (
	"context"
	"time"

	"github.com/cagekeep/broker/pkg/api"
)

// SecurityProfile describes the hardening applied to a sandbox container,
// independent of which backend creates it.
type SecurityProfile struct {
	ReadOnlyRootfs      bool
	DropAllCapabilities bool
	SeccompProfilePath  string // empty disables seccomp override
	NetworkAllow        bool
	MemoryMB            int
	CPUCores            float64
	PIDs                int
	DiskMB              int
}

// Sandbox is a live, reachable sandbox instance. Callers obtain one from
// Driver.Create and must call Remove when finished with it.
type Sandbox struct {
	ID       string
	AgentURL string
	Image    string
}

// Driver manages the lifecycle of sandbox containers for one backend
// (docker, kubernetes, ...). Implementations must be safe for concurrent
// use across sessions.
type Driver interface {
	// Create starts a new sandbox running the given image under profile
	// and returns a handle reachable at Sandbox.AgentURL.
	Create(ctx context.Context, image string, profile SecurityProfile) (*Sandbox, error)

	// Exec runs one execution request against an already-created sandbox's
	// agent and returns its result.
	Exec(ctx context.Context, sb *Sandbox, req *AgentExecRequest) (*AgentExecResponse, error)

	// Stat reports whether the sandbox's agent is reachable and healthy.
	Stat(ctx context.Context, sb *Sandbox) error

	// Stop signals the sandbox to halt any in-flight execution, e.g. on
	// a client-initiated cancel. It does not remove the sandbox.
	Stop(ctx context.Context, sb *Sandbox) error

	// Remove tears down the sandbox and releases any backend resources
	// (container, pod, claim) associated with it.
	Remove(ctx context.Context, sb *Sandbox) error

	// RuntimeVersion reports the backend's own version string (docker
	// engine version, or the Kubernetes API server's git version for the
	// k8s backend), for diagnostics and the admin stats surface.
	RuntimeVersion(ctx context.Context) (string, error)
}

// StatsProvider is an optional Driver capability for backends that can
// report a sandbox's live resource usage without routing through the
// agent. Not every backend can do this cheaply (a Kubernetes driver would
// need a metrics-server round trip per pod), so the Resource Sampler
// degrades gracefully when a Driver doesn't implement it.
type StatsProvider interface {
	Stats(ctx context.Context, sb *Sandbox) (*api.ResourceUsage, error)
}

// AgentExecRequest is the wire request sent to a sandbox agent's
// POST /execute endpoint.
type AgentExecRequest struct {
	Code           string            `json:"code"`
	Language       string            `json:"language"`
	TimeoutSeconds int               `json:"timeout_seconds"`
	Env            map[string]string `json:"env,omitempty"`
	Files          map[string]string `json:"files,omitempty"` // name -> base64 content
	Persistent     bool              `json:"persistent"`
	KernelID       string            `json:"kernel_id,omitempty"`
}

// AgentExecResponse is the wire response from a sandbox agent's
// POST /execute endpoint.
type AgentExecResponse struct {
	Status          string            `json:"status"`
	Stdout          string            `json:"stdout"`
	Stderr          string            `json:"stderr"`
	ExitCode        int               `json:"exit_code"`
	ExecutionTimeMs int64             `json:"execution_time_ms"`
	FilesProduced   map[string]string `json:"files_produced,omitempty"`
	TimedOut        bool              `json:"timed_out"`
	MemoryPeakMB    int               `json:"memory_peak_mb,omitempty"`
	CPUTimeMs       int64             `json:"cpu_time_ms,omitempty"`
}

// DefaultClaimTimeout bounds how long a driver waits for a sandbox to
// become reachable before giving up.
const DefaultClaimTimeout = 60 * time.Second
