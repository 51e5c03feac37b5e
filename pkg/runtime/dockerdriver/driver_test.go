package dockerdriver

import (
	"testing"

	"github.com/docker/docker/api/types/container"

	"github.com/cagekeep/broker/pkg/runtime"
)

func TestApplySecurityProfileNetworkDisabled(t *testing.T) {
	hc := &container.HostConfig{}
	profile := runtime.SecurityProfile{
		ReadOnlyRootfs:      true,
		DropAllCapabilities: true,
		NetworkAllow:        false,
		MemoryMB:            512,
		CPUCores:            1.5,
		PIDs:                64,
	}

	applySecurityProfile(hc, profile, "cage_net_alice", nil)

	if !hc.ReadonlyRootfs {
		t.Error("expected ReadonlyRootfs = true")
	}
	if hc.NetworkMode != "none" {
		t.Errorf("NetworkMode = %q, want %q", hc.NetworkMode, "none")
	}
	if len(hc.CapDrop) != 1 || hc.CapDrop[0] != "ALL" {
		t.Errorf("CapDrop = %v, want [ALL]", hc.CapDrop)
	}
	if hc.Resources.Memory != 512*1024*1024 {
		t.Errorf("Memory = %d, want %d", hc.Resources.Memory, 512*1024*1024)
	}
	if hc.Resources.PidsLimit == nil || *hc.Resources.PidsLimit != 64 {
		t.Errorf("PidsLimit = %v, want 64", hc.Resources.PidsLimit)
	}
}

func TestApplySecurityProfileNetworkEnabled(t *testing.T) {
	hc := &container.HostConfig{}
	profile := runtime.SecurityProfile{NetworkAllow: true, MemoryMB: 256, CPUCores: 1}

	applySecurityProfile(hc, profile, "cage_net_bob", nil)

	if hc.NetworkMode != container.NetworkMode("cage_net_bob") {
		t.Errorf("NetworkMode = %q, want %q", hc.NetworkMode, "cage_net_bob")
	}
}

func TestApplySecurityProfileSeccomp(t *testing.T) {
	hc := &container.HostConfig{}
	profile := runtime.SecurityProfile{SeccompProfilePath: "/etc/cagekeep/seccomp.json"}

	applySecurityProfile(hc, profile, "", nil)

	found := false
	for _, opt := range hc.SecurityOpt {
		if opt == "seccomp=/etc/cagekeep/seccomp.json" {
			found = true
		}
	}
	if !found {
		t.Errorf("SecurityOpt = %v, missing seccomp profile", hc.SecurityOpt)
	}
}

func TestApplySecurityProfileGVisor(t *testing.T) {
	hc := &container.HostConfig{}
	applySecurityProfile(hc, runtime.SecurityProfile{}, "", []string{"--platform=kvm"})

	if hc.Runtime != "runsc" {
		t.Errorf("Runtime = %q, want %q", hc.Runtime, "runsc")
	}
}

func TestPidsLimitPtrZeroIsNil(t *testing.T) {
	if pidsLimitPtr(0) != nil {
		t.Error("expected nil for zero PIDs limit")
	}
	if pidsLimitPtr(-1) != nil {
		t.Error("expected nil for negative PIDs limit")
	}
}
