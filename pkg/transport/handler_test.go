package transport

import (
	"context"

	"github.com/cagekeep/broker/pkg/api"
)

// fakeExecutor is a scriptable Executor for testing middleware and the
// HTTP adapter. Every method has a corresponding func field; a nil field
// means the method returns its zero values.
type fakeExecutor struct {
	executeSyncFn      func(ctx context.Context, principalID string, req api.ExecutionRequest) (*api.ExecutionResult, error)
	submitAsyncFn      func(ctx context.Context, principalID string, req api.ExecutionRequest) (*api.Job, error)
	jobStatusFn        func(ctx context.Context, jobID string) (*api.Job, bool)
	cancelJobFn        func(ctx context.Context, jobID string) bool
	replayFn           func(ctx context.Context, executionID string) (*api.ReplayRecord, bool)
	replayRerunFn      func(ctx context.Context, requesterID, executionID string) (*api.ExecutionResult, error)
	listReplaysFn      func(ctx context.Context, principalID string) []*api.ReplayRecord
	installPackageFn   func(ctx context.Context, principalID string, lang api.Language, name string) (*api.PackageInstallResult, error)
	listFilesFn        func(ctx context.Context, principalID string) ([]api.WorkspaceFile, error)
	readFileFn         func(ctx context.Context, principalID, path string) ([]byte, error)
	writeFileFn        func(ctx context.Context, principalID, path string, content []byte) error
	deleteFileFn       func(ctx context.Context, principalID, path string) error
	sessionInfoFn      func(ctx context.Context, principalID string) (*api.Session, bool)
	terminateSessionFn func(ctx context.Context, principalID string, purgeData bool) error
	recreateSessionFn  func(ctx context.Context, principalID string) (*api.Session, error)
	listSessionsFn     func(ctx context.Context) []*api.Session
	statsFn            func(ctx context.Context) (api.BrokerStats, error)
	listPrincipalsFn   func(ctx context.Context) ([]*api.PrincipalProfile, error)
	createPrincipalFn  func(ctx context.Context, profile *api.PrincipalProfile) error
	deletePrincipalFn  func(ctx context.Context, principalID string) error
}

func (f *fakeExecutor) ExecuteSync(ctx context.Context, principalID string, req api.ExecutionRequest) (*api.ExecutionResult, error) {
	if f.executeSyncFn == nil {
		return &api.ExecutionResult{Status: api.ExecutionStatusSuccess}, nil
	}
	return f.executeSyncFn(ctx, principalID, req)
}

func (f *fakeExecutor) SubmitAsync(ctx context.Context, principalID string, req api.ExecutionRequest) (*api.Job, error) {
	if f.submitAsyncFn == nil {
		return &api.Job{ID: "job-1", State: api.JobStateQueued}, nil
	}
	return f.submitAsyncFn(ctx, principalID, req)
}

func (f *fakeExecutor) JobStatus(ctx context.Context, jobID string) (*api.Job, bool) {
	if f.jobStatusFn == nil {
		return nil, false
	}
	return f.jobStatusFn(ctx, jobID)
}

func (f *fakeExecutor) CancelJob(ctx context.Context, jobID string) bool {
	if f.cancelJobFn == nil {
		return false
	}
	return f.cancelJobFn(ctx, jobID)
}

func (f *fakeExecutor) Replay(ctx context.Context, executionID string) (*api.ReplayRecord, bool) {
	if f.replayFn == nil {
		return nil, false
	}
	return f.replayFn(ctx, executionID)
}

func (f *fakeExecutor) ReplayRerun(ctx context.Context, requesterID, executionID string) (*api.ExecutionResult, error) {
	if f.replayRerunFn == nil {
		return nil, nil
	}
	return f.replayRerunFn(ctx, requesterID, executionID)
}

func (f *fakeExecutor) ListReplays(ctx context.Context, principalID string) []*api.ReplayRecord {
	if f.listReplaysFn == nil {
		return nil
	}
	return f.listReplaysFn(ctx, principalID)
}

func (f *fakeExecutor) InstallPackage(ctx context.Context, principalID string, lang api.Language, name string) (*api.PackageInstallResult, error) {
	if f.installPackageFn == nil {
		return nil, nil
	}
	return f.installPackageFn(ctx, principalID, lang, name)
}

func (f *fakeExecutor) ListFiles(ctx context.Context, principalID string) ([]api.WorkspaceFile, error) {
	if f.listFilesFn == nil {
		return nil, nil
	}
	return f.listFilesFn(ctx, principalID)
}

func (f *fakeExecutor) ReadFile(ctx context.Context, principalID, path string) ([]byte, error) {
	if f.readFileFn == nil {
		return nil, nil
	}
	return f.readFileFn(ctx, principalID, path)
}

func (f *fakeExecutor) WriteFile(ctx context.Context, principalID, path string, content []byte) error {
	if f.writeFileFn == nil {
		return nil
	}
	return f.writeFileFn(ctx, principalID, path, content)
}

func (f *fakeExecutor) DeleteFile(ctx context.Context, principalID, path string) error {
	if f.deleteFileFn == nil {
		return nil
	}
	return f.deleteFileFn(ctx, principalID, path)
}

func (f *fakeExecutor) SessionInfo(ctx context.Context, principalID string) (*api.Session, bool) {
	if f.sessionInfoFn == nil {
		return nil, false
	}
	return f.sessionInfoFn(ctx, principalID)
}

func (f *fakeExecutor) TerminateSession(ctx context.Context, principalID string, purgeData bool) error {
	if f.terminateSessionFn == nil {
		return nil
	}
	return f.terminateSessionFn(ctx, principalID, purgeData)
}

func (f *fakeExecutor) RecreateSession(ctx context.Context, principalID string) (*api.Session, error) {
	if f.recreateSessionFn == nil {
		return nil, nil
	}
	return f.recreateSessionFn(ctx, principalID)
}

func (f *fakeExecutor) ListSessions(ctx context.Context) []*api.Session {
	if f.listSessionsFn == nil {
		return nil
	}
	return f.listSessionsFn(ctx)
}

func (f *fakeExecutor) Stats(ctx context.Context) (api.BrokerStats, error) {
	if f.statsFn == nil {
		return api.BrokerStats{}, nil
	}
	return f.statsFn(ctx)
}

func (f *fakeExecutor) ListPrincipals(ctx context.Context) ([]*api.PrincipalProfile, error) {
	if f.listPrincipalsFn == nil {
		return nil, nil
	}
	return f.listPrincipalsFn(ctx)
}

func (f *fakeExecutor) CreatePrincipal(ctx context.Context, profile *api.PrincipalProfile) error {
	if f.createPrincipalFn == nil {
		return nil
	}
	return f.createPrincipalFn(ctx, profile)
}

func (f *fakeExecutor) DeletePrincipal(ctx context.Context, principalID string) error {
	if f.deletePrincipalFn == nil {
		return nil
	}
	return f.deletePrincipalFn(ctx, principalID)
}

var _ Executor = (*fakeExecutor)(nil)
