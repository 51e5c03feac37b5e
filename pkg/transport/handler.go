package transport

import (
	"context"

	"github.com/cagekeep/broker/pkg/api"
)

// Executor is the transport-agnostic contract every broker transport (HTTP,
// MCP) dispatches through. It is the union of the Execution Engine's public
// surface: synchronous and asynchronous code execution, replay, workspace
// file access, and session/principal administration.
type Executor interface {
	// ExecuteSync runs one execution request to completion and returns its
	// terminal result. A non-nil error means the request never reached the
	// pipeline (unauthorized principal, disallowed or unsupported language,
	// a session that could not be created); every other
	// outcome comes back as a populated ExecutionResult with a nil error.
	ExecuteSync(ctx context.Context, principalID string, req api.ExecutionRequest) (*api.ExecutionResult, error)

	// SubmitAsync enqueues a request for background execution and returns
	// its tracking Job immediately.
	SubmitAsync(ctx context.Context, principalID string, req api.ExecutionRequest) (*api.Job, error)

	// JobStatus returns a snapshot of a previously submitted job.
	JobStatus(ctx context.Context, jobID string) (*api.Job, bool)

	// CancelJob cancels a still-queued job. It cannot interrupt one already
	// dispatched to a worker.
	CancelJob(ctx context.Context, jobID string) bool

	// Replay returns a stored execution record by its execution ID.
	Replay(ctx context.Context, executionID string) (*api.ReplayRecord, bool)

	// ReplayRerun re-submits a previously recorded execution as a new
	// synchronous execution, subject to ownership checks.
	ReplayRerun(ctx context.Context, requesterID, executionID string) (*api.ExecutionResult, error)

	// ListReplays returns stored replay records, most recent first. An
	// empty principalID returns every principal's records.
	ListReplays(ctx context.Context, principalID string) []*api.ReplayRecord

	// InstallPackage runs a controlled package install inside a
	// principal's sandbox, subject to an allowlist and a per-session cap.
	InstallPackage(ctx context.Context, principalID string, lang api.Language, name string) (*api.PackageInstallResult, error)

	// ListFiles returns every file and directory in a principal's workspace.
	ListFiles(ctx context.Context, principalID string) ([]api.WorkspaceFile, error)

	// ReadFile returns the content of one file in a principal's workspace.
	ReadFile(ctx context.Context, principalID, path string) ([]byte, error)

	// WriteFile creates or overwrites one file in a principal's workspace.
	WriteFile(ctx context.Context, principalID, path string, content []byte) error

	// DeleteFile removes one file or directory from a principal's workspace.
	DeleteFile(ctx context.Context, principalID, path string) error

	// SessionInfo returns a snapshot of a principal's session, if any.
	SessionInfo(ctx context.Context, principalID string) (*api.Session, bool)

	// TerminateSession stops and removes a principal's sandbox.
	TerminateSession(ctx context.Context, principalID string, purgeData bool) error

	// RecreateSession tears down and eagerly rebuilds a principal's
	// sandbox, purging its workspace.
	RecreateSession(ctx context.Context, principalID string) (*api.Session, error)

	// ListSessions returns a snapshot of every live session.
	ListSessions(ctx context.Context) []*api.Session

	// Stats returns a point-in-time aggregate view of the broker's load.
	Stats(ctx context.Context) (api.BrokerStats, error)

	// ListPrincipals returns every registered principal profile.
	ListPrincipals(ctx context.Context) ([]*api.PrincipalProfile, error)

	// CreatePrincipal creates or replaces a principal profile.
	CreatePrincipal(ctx context.Context, profile *api.PrincipalProfile) error

	// DeletePrincipal removes a principal profile.
	DeletePrincipal(ctx context.Context, principalID string) error
}
