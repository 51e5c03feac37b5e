package kernel

import (
	"path/filepath"
	"time"

	"github.com/cagekeep/broker/pkg/api"
)

// StatePath returns the per-session, per-language namespace file path
// under a session's workspace. Only the wrapper for that language writes
// to it.
func StatePath(workspacePath string, lang api.Language) string {
	return filepath.Join(workspacePath, "kernel", string(lang)+".state")
}

// NewHandle creates a KernelHandle for a language's first persistent
// execution in a session.
func NewHandle(lang api.Language, statePath string) *api.KernelHandle {
	now := time.Now()
	return &api.KernelHandle{
		Language:   lang,
		StatePath:  statePath,
		StartedAt:  now,
		LastUsedAt: now,
		Executions: 0,
	}
}

// Touch records that a handle was used for another execution.
func Touch(h *api.KernelHandle) {
	h.LastUsedAt = time.Now()
	h.Executions++
}
