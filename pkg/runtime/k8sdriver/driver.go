// Package k8sdriver implements runtime.Driver on top of agent-sandbox
// SandboxClaim CRDs: Create provisions a claim and waits for the backing
// Sandbox to become ready, Remove deletes the claim.
package k8sdriver

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	k8sruntime "k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/client-go/discovery"
	"k8s.io/client-go/rest"
	"sigs.k8s.io/controller-runtime/pkg/client"

	sandboxv1alpha1 "sigs.k8s.io/agent-sandbox/api/v1alpha1"
	extensionsv1alpha1 "sigs.k8s.io/agent-sandbox/extensions/api/v1alpha1"

	"github.com/cagekeep/broker/pkg/runtime"
)

// Ensure Driver implements runtime.Driver.
var _ runtime.Driver = (*Driver)(nil)

// Driver provisions sandboxes as agent-sandbox SandboxClaim CRDs. Each
// Create call creates a claim, polls the backing Sandbox resource until its
// Ready condition is true and a ServiceFQDN is assigned, then talks to the
// in-sandbox agent over that FQDN.
type Driver struct {
	client       client.Client
	discovery    discovery.DiscoveryInterface
	namespace    string
	claimTimeout time.Duration
	agent        *runtime.AgentClient

	templates map[string]string // image -> SandboxTemplate name
}

// Config configures a Driver.
type Config struct {
	Client       client.Client
	RESTConfig   *rest.Config
	Namespace    string
	ClaimTimeout time.Duration
	// Templates maps a sandbox image identifier to the name of the
	// SandboxTemplate that provisions it.
	Templates map[string]string
}

func New(cfg Config) (*Driver, error) {
	timeout := cfg.ClaimTimeout
	if timeout <= 0 {
		timeout = runtime.DefaultClaimTimeout
	}

	var disc discovery.DiscoveryInterface
	if cfg.RESTConfig != nil {
		dc, err := discovery.NewDiscoveryClientForConfig(cfg.RESTConfig)
		if err != nil {
			return nil, fmt.Errorf("building discovery client: %w", err)
		}
		disc = dc
	}

	return &Driver{
		client:       cfg.Client,
		discovery:    disc,
		namespace:    cfg.Namespace,
		claimTimeout: timeout,
		agent:        runtime.NewAgentClient(),
		templates:    cfg.Templates,
	}, nil
}

// NewScheme returns a runtime.Scheme with the agent-sandbox types registered.
func NewScheme() (*k8sruntime.Scheme, error) {
	scheme := k8sruntime.NewScheme()
	if err := sandboxv1alpha1.AddToScheme(scheme); err != nil {
		return nil, fmt.Errorf("register sandbox types: %w", err)
	}
	if err := extensionsv1alpha1.AddToScheme(scheme); err != nil {
		return nil, fmt.Errorf("register extensions types: %w", err)
	}
	return scheme, nil
}

// Create provisions a SandboxClaim for the given image and waits for the
// backing Sandbox to become ready. The SecurityProfile is informational
// only here: hardening for Kubernetes-backed sandboxes lives in the
// SandboxTemplate's pod spec, not per-claim.
func (d *Driver) Create(ctx context.Context, image string, _ runtime.SecurityProfile) (*runtime.Sandbox, error) {
	template, ok := d.templates[image]
	if !ok {
		return nil, fmt.Errorf("no SandboxTemplate configured for image %q", image)
	}

	claimName := generateClaimNameFn()

	claim := &extensionsv1alpha1.SandboxClaim{
		ObjectMeta: metav1.ObjectMeta{
			Name:      claimName,
			Namespace: d.namespace,
		},
		Spec: extensionsv1alpha1.SandboxClaimSpec{
			TemplateRef: extensionsv1alpha1.SandboxTemplateRef{
				Name: template,
			},
		},
	}

	if err := d.client.Create(ctx, claim); err != nil {
		return nil, fmt.Errorf("create SandboxClaim %q: %w", claimName, err)
	}
	slog.Debug("created SandboxClaim", "name", claimName, "namespace", d.namespace, "template", template)

	serviceFQDN, err := d.waitForReady(ctx, claimName)
	if err != nil {
		d.deleteClaim(context.Background(), claimName)
		return nil, err
	}

	sb := &runtime.Sandbox{
		ID:       claimName,
		AgentURL: fmt.Sprintf("http://%s:8080", serviceFQDN),
		Image:    image,
	}
	slog.Debug("sandbox acquired", "name", claimName, "url", sb.AgentURL)
	return sb, nil
}

// Exec forwards a request to the sandbox agent's /execute endpoint.
func (d *Driver) Exec(ctx context.Context, sb *runtime.Sandbox, req *runtime.AgentExecRequest) (*runtime.AgentExecResponse, error) {
	return d.agent.Execute(ctx, sb.AgentURL, req)
}

// Stat pings the sandbox agent's /health endpoint.
func (d *Driver) Stat(ctx context.Context, sb *runtime.Sandbox) error {
	return d.agent.Health(ctx, sb.AgentURL)
}

// Stop is a no-op: a SandboxClaim has no intermediate stopped state short
// of deleting it, so idle suspension is left to Remove.
func (d *Driver) Stop(ctx context.Context, sb *runtime.Sandbox) error {
	return nil
}

// RuntimeVersion reports the Kubernetes API server's git version, the
// cluster-level analog of a container engine's version string.
func (d *Driver) RuntimeVersion(ctx context.Context) (string, error) {
	if d.discovery == nil {
		return "", fmt.Errorf("k8sdriver: no REST config configured, cannot query server version")
	}
	info, err := d.discovery.ServerVersion()
	if err != nil {
		return "", fmt.Errorf("querying kubernetes server version: %w", err)
	}
	return info.GitVersion, nil
}

// Remove deletes the SandboxClaim, releasing the backing Sandbox.
func (d *Driver) Remove(ctx context.Context, sb *runtime.Sandbox) error {
	d.deleteClaim(ctx, sb.ID)
	return nil
}

func (d *Driver) waitForReady(ctx context.Context, sandboxName string) (string, error) {
	deadline := time.After(d.claimTimeout)
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return "", fmt.Errorf("context cancelled waiting for Sandbox %q: %w", sandboxName, ctx.Err())
		case <-deadline:
			return "", fmt.Errorf("timeout waiting for Sandbox %q to become ready (waited %s)", sandboxName, d.claimTimeout)
		case <-ticker.C:
			sandbox := &sandboxv1alpha1.Sandbox{}
			key := types.NamespacedName{Name: sandboxName, Namespace: d.namespace}
			if err := d.client.Get(ctx, key, sandbox); err != nil {
				slog.Debug("waiting for Sandbox", "name", sandboxName, "error", err.Error())
				continue
			}

			if isReady(sandbox) {
				if sandbox.Status.ServiceFQDN == "" {
					continue
				}
				return sandbox.Status.ServiceFQDN, nil
			}
		}
	}
}

func isReady(sandbox *sandboxv1alpha1.Sandbox) bool {
	for _, c := range sandbox.Status.Conditions {
		if c.Type == string(sandboxv1alpha1.SandboxConditionReady) && c.Status == metav1.ConditionTrue {
			return true
		}
	}
	return false
}

func (d *Driver) deleteClaim(ctx context.Context, name string) {
	claim := &extensionsv1alpha1.SandboxClaim{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: d.namespace,
		},
	}
	if err := d.client.Delete(ctx, claim); err != nil {
		slog.Warn("failed to delete SandboxClaim", "name", name, "namespace", d.namespace, "error", err.Error())
		return
	}
	slog.Debug("deleted SandboxClaim", "name", name, "namespace", d.namespace)
}

// generateClaimNameFn creates a unique name for a SandboxClaim. Replaceable
// in tests for deterministic naming.
var generateClaimNameFn = func() string {
	return fmt.Sprintf("cagekeep-sandbox-%d", time.Now().UnixNano())
}
