package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cagekeep/broker/pkg/api"
	"github.com/cagekeep/broker/pkg/runtime"
)

// ErrBusyTimeout is returned by AcquireExec when the queueing deadline
// expires before the session's execution lock becomes available.
var ErrBusyTimeout = errors.New("session: exec lock busy, timed out waiting")

// ErrSessionNotFound is returned by operations that require an existing
// session and find none for the given principal.
var ErrSessionNotFound = errors.New("session: not found")

// Manager maps principal IDs to Sessions, creates sandboxes lazily through
// a runtime.Driver, and serializes execution per principal.
type Manager struct {
	driver      runtime.Driver
	workspaceRoot string
	idleHorizon time.Duration

	mu       sync.RWMutex
	sessions map[string]*Session
	sandbox  map[string]*runtime.Sandbox // session ID -> live sandbox handle
}

// Config configures a Manager.
type Config struct {
	Driver        runtime.Driver
	WorkspaceRoot string
	IdleHorizon   time.Duration
}

func NewManager(cfg Config) *Manager {
	idle := cfg.IdleHorizon
	if idle <= 0 {
		idle = 30 * time.Minute
	}
	return &Manager{
		driver:        cfg.Driver,
		workspaceRoot: cfg.WorkspaceRoot,
		idleHorizon:   idle,
		sessions:      make(map[string]*Session),
		sandbox:       make(map[string]*runtime.Sandbox),
	}
}

// GetOrCreate resolves the principal's session, creating a workspace and a
// container on first use. If the recorded sandbox is dead, it is rebuilt
// while the workspace is preserved.
func (m *Manager) GetOrCreate(ctx context.Context, principalID string, image string, profile runtime.SecurityProfile) (*Session, error) {
	m.mu.RLock()
	sess, ok := m.sessions[principalID]
	m.mu.RUnlock()

	if ok {
		if err := m.ensureLive(ctx, sess, image, profile); err != nil {
			return nil, err
		}
		return sess, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if sess, ok := m.sessions[principalID]; ok {
		if err := m.ensureLive(ctx, sess, image, profile); err != nil {
			return nil, err
		}
		return sess, nil
	}

	workspace := filepath.Join(m.workspaceRoot, principalID)
	if err := os.MkdirAll(workspace, 0o700); err != nil {
		return nil, fmt.Errorf("creating workspace for %s: %w", principalID, err)
	}

	sess = newSession(uuid.NewString(), principalID, workspace)
	m.sessions[principalID] = sess

	if err := m.startContainer(ctx, sess, image, profile); err != nil {
		sess.setState(api.SessionStateTerminated)
		return nil, err
	}

	return sess, nil
}

func (m *Manager) ensureLive(ctx context.Context, sess *Session, image string, profile runtime.SecurityProfile) error {
	m.mu.RLock()
	sb, ok := m.sandbox[sess.id]
	m.mu.RUnlock()

	if ok {
		if err := m.driver.Stat(ctx, sb); err == nil {
			sess.touch()
			return nil
		}
		slog.Warn("sandbox unreachable, rebuilding", "principal_id", sess.principalID, "session_id", sess.id)
	}

	return m.startContainer(ctx, sess, image, profile)
}

func (m *Manager) startContainer(ctx context.Context, sess *Session, image string, profile runtime.SecurityProfile) error {
	sess.setState(api.SessionStateActive)

	sb, err := m.driver.Create(ctx, image, profile)
	if err != nil {
		sess.setState(api.SessionStateTerminated)
		return fmt.Errorf("session: create sandbox for %s: %w", sess.principalID, err)
	}

	m.mu.Lock()
	m.sandbox[sess.id] = sb
	m.mu.Unlock()

	sess.setSandboxID(sb.ID)
	sess.touch()
	return nil
}

// RebuildSandbox tears down the principal's current sandbox and starts a
// fresh one against the same session and workspace. Session identity,
// execution history, and persistent kernel handles are left untouched;
// only the container itself is replaced. Used by the execution pipeline's
// single rebuild retry after a RuntimeError.
func (m *Manager) RebuildSandbox(ctx context.Context, principalID, image string, profile runtime.SecurityProfile) error {
	m.mu.RLock()
	sess, ok := m.sessions[principalID]
	m.mu.RUnlock()
	if !ok {
		return ErrSessionNotFound
	}

	m.mu.Lock()
	sb := m.sandbox[sess.id]
	delete(m.sandbox, sess.id)
	m.mu.Unlock()

	if sb != nil {
		if err := m.driver.Remove(ctx, sb); err != nil {
			slog.Warn("removing sandbox during rebuild", "principal_id", principalID, "error", err.Error())
		}
	}

	return m.startContainer(ctx, sess, image, profile)
}

// Sandbox returns the live sandbox handle backing a session, if any.
func (m *Manager) Sandbox(sess *Session) (*runtime.Sandbox, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sb, ok := m.sandbox[sess.id]
	return sb, ok
}

// AcquireExec awaits the session's single-holder execution lock with a
// bounded queueing deadline. The returned release function must be called
// exactly once.
func (m *Manager) AcquireExec(ctx context.Context, sess *Session, timeout time.Duration) (release func(), err error) {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := sess.execLock.Acquire(waitCtx, 1); err != nil {
		return nil, ErrBusyTimeout
	}

	sess.incrementExecutions()
	sess.touch()

	var once sync.Once
	return func() {
		once.Do(func() { sess.execLock.Release(1) })
	}, nil
}

// Touch updates the principal's session last-activity timestamp.
func (m *Manager) Touch(principalID string) {
	m.mu.RLock()
	sess, ok := m.sessions[principalID]
	m.mu.RUnlock()
	if ok {
		sess.touch()
	}
}

// Terminate stops and removes the principal's container, drops any
// persistent kernels, and optionally deletes the workspace.
func (m *Manager) Terminate(ctx context.Context, principalID string, purgeData bool) error {
	m.mu.Lock()
	sess, ok := m.sessions[principalID]
	if !ok {
		m.mu.Unlock()
		return ErrSessionNotFound
	}
	sb := m.sandbox[sess.id]
	delete(m.sandbox, sess.id)
	delete(m.sessions, principalID)
	m.mu.Unlock()

	sess.setState(api.SessionStateTerminating)
	sess.dropKernels()

	if sb != nil {
		if err := m.driver.Remove(ctx, sb); err != nil {
			slog.Warn("removing sandbox during terminate", "principal_id", principalID, "error", err.Error())
		}
	}

	if purgeData {
		if err := os.RemoveAll(sess.WorkspacePath()); err != nil {
			slog.Warn("purging workspace", "principal_id", principalID, "error", err.Error())
		}
	}

	sess.setState(api.SessionStateTerminated)
	return nil
}

// ReapIdle terminates sessions whose last activity predates the idle
// horizon relative to now.
func (m *Manager) ReapIdle(ctx context.Context, now time.Time) []string {
	m.mu.RLock()
	var stale []string
	for id, sess := range m.sessions {
		if now.Sub(sess.LastActivity()) > m.idleHorizon {
			stale = append(stale, id)
		}
	}
	m.mu.RUnlock()

	for _, id := range stale {
		if err := m.Terminate(ctx, id, false); err != nil && !errors.Is(err, ErrSessionNotFound) {
			slog.Warn("reaping idle session", "principal_id", id, "error", err.Error())
		}
	}
	return stale
}

// List returns a read-only snapshot of every active session.
func (m *Manager) List() []*api.Session {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*api.Session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		out = append(out, sess.Snapshot())
	}
	return out
}

// Inspect returns a read-only snapshot of one principal's session.
func (m *Manager) Inspect(principalID string) (*api.Session, bool) {
	m.mu.RLock()
	sess, ok := m.sessions[principalID]
	m.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return sess.Snapshot(), true
}

// RecordExecution appends an execution result to a session's bounded
// history and updates its counters. Called by the Execution Engine after
// dispatch.
func (m *Manager) RecordExecution(principalID string, result api.ExecutionResult) {
	m.mu.RLock()
	sess, ok := m.sessions[principalID]
	m.mu.RUnlock()
	if !ok {
		return
	}
	sess.recordExecution(result)
	if result.Status == api.ExecutionStatusError || result.Status == api.ExecutionStatusKilled {
		sess.incrementErrors()
	}
}

// SetKernel records a persistent kernel handle for a principal's session.
func (m *Manager) SetKernel(principalID string, lang api.Language, handle *api.KernelHandle) {
	m.mu.RLock()
	sess, ok := m.sessions[principalID]
	m.mu.RUnlock()
	if ok {
		sess.setKernel(lang, handle)
	}
}
