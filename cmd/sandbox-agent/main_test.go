package main

import (
	"context"
	"os/exec"
	"testing"
	"time"

	"github.com/cagekeep/broker/pkg/api"
)

func TestClassifyResultSuccess(t *testing.T) {
	status, exitCode, timedOut := classifyResult(context.Background(), nil)
	if status != api.ExecutionStatusSuccess || exitCode != 0 || timedOut {
		t.Errorf("got (%s, %d, %v), want (success, 0, false)", status, exitCode, timedOut)
	}
}

func TestClassifyResultTimeout(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
	defer cancel()
	<-ctx.Done()

	cmd := exec.CommandContext(ctx, "sleep", "5")
	execErr := cmd.Run()

	status, exitCode, timedOut := classifyResult(ctx, execErr)
	if status != api.ExecutionStatusTimeout || exitCode != -1 || !timedOut {
		t.Errorf("got (%s, %d, %v), want (timeout, -1, true)", status, exitCode, timedOut)
	}
}

func TestClassifyResultNonzeroExit(t *testing.T) {
	cmd := exec.CommandContext(context.Background(), "false")
	execErr := cmd.Run()
	if execErr == nil {
		t.Skip("\"false\" command unavailable")
	}

	status, exitCode, timedOut := classifyResult(context.Background(), execErr)
	if status != api.ExecutionStatusError || exitCode != 1 || timedOut {
		t.Errorf("got (%s, %d, %v), want (error, 1, false)", status, exitCode, timedOut)
	}
}

func TestRequirementsFromEnv(t *testing.T) {
	got := requirementsFromEnv(map[string]string{"_REQUIREMENTS": "numpy, pandas ,requests"})
	want := []string{"numpy", "pandas", "requests"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("got[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestRequirementsFromEnvEmpty(t *testing.T) {
	if got := requirementsFromEnv(nil); got != nil {
		t.Errorf("got %v, want nil", got)
	}
	if got := requirementsFromEnv(map[string]string{"_REQUIREMENTS": ""}); got != nil {
		t.Errorf("got %v, want nil", got)
	}
}
