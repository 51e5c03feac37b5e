// Package dockerdriver implements runtime.Driver on top of testcontainers-go,
// starting one container per sandbox with the security profile applied via
// the container's host config.
package dockerdriver

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/docker/docker/api/types/container"
	dockerclient "github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v4/process"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/cagekeep/broker/pkg/api"
	"github.com/cagekeep/broker/pkg/runtime"
)

const agentPort = "8080/tcp"

// Driver starts sandbox containers with testcontainers-go and talks to the
// in-container agent over its published port.
type Driver struct {
	agent      *runtime.AgentClient
	images     map[api.Language]string
	network    string // empty means --network none
	gvisorArgs []string

	mu         sync.Mutex
	containers map[string]testcontainers.Container
}

// Config selects the per-language sandbox images and the network a
// container joins.
type Config struct {
	Images     map[api.Language]string
	Network    string // "" disables networking entirely
	GVisorArgs []string
}

func New(cfg Config) *Driver {
	return &Driver{
		agent:      runtime.NewAgentClient(),
		images:     cfg.Images,
		network:    cfg.Network,
		gvisorArgs: cfg.GVisorArgs,
		containers: make(map[string]testcontainers.Container),
	}
}

// Create starts a container running the sandbox agent and waits for the
// agent's port to accept connections.
func (d *Driver) Create(ctx context.Context, image string, profile runtime.SecurityProfile) (*runtime.Sandbox, error) {
	name := fmt.Sprintf("cagekeep-sandbox-%s", uuid.NewString())

	req := testcontainers.ContainerRequest{
		Name:         name,
		Image:        image,
		ExposedPorts: []string{agentPort},
		Cmd:          []string{"/sandbox-agent"},
		WaitingFor:   wait.ForListeningPort(nat.Port(agentPort)).WithStartupTimeout(30 * time.Second),
		HostConfigModifier: func(hc *container.HostConfig) {
			applySecurityProfile(hc, profile, d.network, d.gvisorArgs)
		},
	}

	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, fmt.Errorf("starting sandbox container: %w", err)
	}

	endpoint, err := c.PortEndpoint(ctx, nat.Port(agentPort), "http")
	if err != nil {
		_ = c.Terminate(ctx)
		return nil, fmt.Errorf("resolving agent endpoint: %w", err)
	}

	id := c.GetContainerID()

	sb := &runtime.Sandbox{
		ID:       id,
		AgentURL: endpoint,
		Image:    image,
	}
	d.mu.Lock()
	d.containers[id] = c
	d.mu.Unlock()

	return sb, nil
}

// ImageFor returns the configured container image for a language, or the
// empty string if none is configured.
func (d *Driver) ImageFor(lang api.Language) string {
	return d.images[lang]
}

// Exec forwards a request to the sandbox agent's /execute endpoint.
func (d *Driver) Exec(ctx context.Context, sb *runtime.Sandbox, req *runtime.AgentExecRequest) (*runtime.AgentExecResponse, error) {
	return d.agent.Execute(ctx, sb.AgentURL, req)
}

// Stat pings the sandbox agent's /health endpoint.
func (d *Driver) Stat(ctx context.Context, sb *runtime.Sandbox) error {
	return d.agent.Health(ctx, sb.AgentURL)
}

// Stats reports the sandbox container's current CPU, memory, and process
// count by inspecting the container for its host-visible PID and reading
// that process tree through gopsutil, rather than shelling out to a stats
// CLI. DiskMB is left at zero: workspace size is cheap for the sampler to
// compute directly from the session's host workspace directory without a
// driver round trip.
func (d *Driver) Stats(ctx context.Context, sb *runtime.Sandbox) (*api.ResourceUsage, error) {
	d.mu.Lock()
	c, ok := d.containers[sb.ID]
	d.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("unknown sandbox %s", sb.ID)
	}

	info, err := c.Inspect(ctx)
	if err != nil {
		return nil, fmt.Errorf("inspecting sandbox %s: %w", sb.ID, err)
	}
	if info.State == nil || info.State.Pid == 0 {
		return nil, fmt.Errorf("sandbox %s has no reachable pid", sb.ID)
	}

	proc, err := process.NewProcessWithContext(ctx, int32(info.State.Pid))
	if err != nil {
		return nil, fmt.Errorf("opening pid %d for sandbox %s: %w", info.State.Pid, sb.ID, err)
	}

	cpuPercent, err := proc.CPUPercentWithContext(ctx)
	if err != nil {
		cpuPercent = 0
	}

	memMB := 0.0
	if mem, err := proc.MemoryInfoWithContext(ctx); err == nil && mem != nil {
		memMB = float64(mem.RSS) / (1024 * 1024)
	}

	pids := 1
	if children, err := proc.ChildrenWithContext(ctx); err == nil {
		pids += len(children)
	}

	return &api.ResourceUsage{
		CPUPercent: cpuPercent,
		MemoryMB:   memMB,
		PIDs:       pids,
		SampledAt:  time.Now(),
	}, nil
}

// Stop stops the underlying container without removing it.
func (d *Driver) Stop(ctx context.Context, sb *runtime.Sandbox) error {
	d.mu.Lock()
	c, ok := d.containers[sb.ID]
	d.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown sandbox %s", sb.ID)
	}
	timeout := 10 * time.Second
	return c.Stop(ctx, &timeout)
}

// RuntimeVersion reports the Docker engine's version string. It opens a
// short-lived client from the ambient environment (DOCKER_HOST and friends)
// rather than keeping one around for the Driver's lifetime, since this is
// called rarely (admin stats, diagnostics) and testcontainers-go doesn't
// expose the client it used to start a container.
func (d *Driver) RuntimeVersion(ctx context.Context) (string, error) {
	cli, err := dockerclient.NewClientWithOpts(dockerclient.FromEnv, dockerclient.WithAPIVersionNegotiation())
	if err != nil {
		return "", fmt.Errorf("connecting to docker daemon: %w", err)
	}
	defer cli.Close()

	v, err := cli.ServerVersion(ctx)
	if err != nil {
		return "", fmt.Errorf("querying docker server version: %w", err)
	}
	return v.Version, nil
}

// Remove terminates and removes the container.
func (d *Driver) Remove(ctx context.Context, sb *runtime.Sandbox) error {
	d.mu.Lock()
	c, ok := d.containers[sb.ID]
	delete(d.containers, sb.ID)
	d.mu.Unlock()
	if !ok {
		return nil
	}
	return c.Terminate(ctx)
}

func applySecurityProfile(hc *container.HostConfig, profile runtime.SecurityProfile, network string, gvisorArgs []string) {
	hc.ReadonlyRootfs = profile.ReadOnlyRootfs
	hc.Tmpfs = map[string]string{
		"/tmp": "rw,noexec,nosuid,size=100m",
	}
	hc.SecurityOpt = []string{"no-new-privileges"}
	if profile.SeccompProfilePath != "" {
		hc.SecurityOpt = append(hc.SecurityOpt, "seccomp="+profile.SeccompProfilePath)
	}
	if profile.DropAllCapabilities {
		hc.CapDrop = []string{"ALL"}
	}

	hc.Resources = container.Resources{
		Memory:    int64(profile.MemoryMB) * 1024 * 1024,
		NanoCPUs:  int64(profile.CPUCores * 1e9),
		PidsLimit: pidsLimitPtr(profile.PIDs),
	}

	if !profile.NetworkAllow || network == "" {
		hc.NetworkMode = "none"
	} else {
		hc.NetworkMode = container.NetworkMode(network)
	}

	if len(gvisorArgs) > 0 {
		hc.Runtime = "runsc"
	}
}

func pidsLimitPtr(n int) *int64 {
	if n <= 0 {
		return nil
	}
	v := int64(n)
	return &v
}
