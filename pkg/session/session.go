// Package session maps each principal to a long-lived sandbox: the
// container identity, workspace path, persistent kernels, and the
// single-holder execution lock that serializes requests for that
// principal.
package session

import (
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/cagekeep/broker/pkg/api"
)

const maxExecutionHistory = 100

// Session is one principal's live sandbox state. All mutation goes through
// its methods; the embedded mutex is never exposed to callers.
type Session struct {
	id            string
	principalID   string
	containerName string

	mu            sync.RWMutex
	state         api.SessionState
	sandboxID     string
	workspacePath string
	createdAt     time.Time
	lastActivity  time.Time
	executionCnt  int
	errorCnt      int
	kernels       map[api.Language]*api.KernelHandle
	history       []api.ExecutionResult

	execLock *semaphore.Weighted
}

func newSession(id, principalID, workspacePath string) *Session {
	now := time.Now()
	return &Session{
		id:            id,
		principalID:   principalID,
		containerName: "cagekeep_" + principalID + "_" + id,
		state:         api.SessionStateActive,
		workspacePath: workspacePath,
		createdAt:     now,
		lastActivity:  now,
		kernels:       make(map[api.Language]*api.KernelHandle),
		execLock:      semaphore.NewWeighted(1),
	}
}

// ContainerName returns the name the Runtime Driver should use for this
// session's container.
func (s *Session) ContainerName() string {
	return s.containerName
}

// WorkspacePath returns the host directory holding the principal's
// workspace files. The runtime drivers do not mount it into the sandbox
// container; code running in the sandbox does not see these files.
func (s *Session) WorkspacePath() string {
	return s.workspacePath
}

func (s *Session) State() api.SessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Session) setState(state api.SessionState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
}

func (s *Session) SandboxID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sandboxID
}

func (s *Session) setSandboxID(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sandboxID = id
}

func (s *Session) touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActivity = time.Now()
}

func (s *Session) LastActivity() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastActivity
}

func (s *Session) incrementExecutions() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.executionCnt++
}

func (s *Session) incrementErrors() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errorCnt++
}

// recordExecution appends to the bounded execution history, evicting the
// oldest entry once the cap is reached.
func (s *Session) recordExecution(result api.ExecutionResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.history) >= maxExecutionHistory {
		s.history = s.history[1:]
	}
	s.history = append(s.history, result)
}

func (s *Session) History() []api.ExecutionResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]api.ExecutionResult, len(s.history))
	copy(out, s.history)
	return out
}

// Kernel returns the persistent kernel handle for a language, if one exists.
func (s *Session) Kernel(lang api.Language) (*api.KernelHandle, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	k, ok := s.kernels[lang]
	return k, ok
}

func (s *Session) setKernel(lang api.Language, handle *api.KernelHandle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.kernels[lang] = handle
}

func (s *Session) dropKernels() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.kernels = make(map[api.Language]*api.KernelHandle)
}

// Snapshot returns the serializable api.Session view of this session.
func (s *Session) Snapshot() *api.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()

	kernels := make(map[api.Language]*api.KernelHandle, len(s.kernels))
	for lang, k := range s.kernels {
		cp := *k
		kernels[lang] = &cp
	}
	if len(kernels) == 0 {
		kernels = nil
	}

	return &api.Session{
		ID:                s.id,
		PrincipalID:       s.principalID,
		State:             s.state,
		SandboxID:         s.sandboxID,
		WorkspacePath:     s.workspacePath,
		CreatedAt:         s.createdAt,
		LastActivity:      s.lastActivity,
		ExecutionCount:    s.executionCnt,
		ErrorCount:        s.errorCnt,
		PersistentKernels: kernels,
	}
}
