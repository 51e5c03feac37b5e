package engine

import (
	"context"

	"github.com/cagekeep/broker/pkg/api"
)

// SubmitAsync enqueues an execution request for background dispatch and
// returns the Job tracking it. The principal/language/rate-limit/screener
// checks all happen later, inside the worker that eventually dequeues it,
// exactly as they would for a synchronous request.
func (e *Engine) SubmitAsync(_ context.Context, principalID string, req api.ExecutionRequest) (*api.Job, error) {
	return e.jobs.submit(principalID, req)
}

// JobStatus returns the current state of a previously submitted job.
func (e *Engine) JobStatus(_ context.Context, jobID string) (*api.Job, bool) {
	return e.jobs.status(jobID)
}

// CancelJob cancels a still-queued job. It reports false if the job is
// unknown or already past the queued state.
func (e *Engine) CancelJob(_ context.Context, jobID string) bool {
	return e.jobs.cancel(jobID)
}

// Replay looks up a past execution by ID.
func (e *Engine) Replay(_ context.Context, executionID string) (*api.ReplayRecord, bool) {
	if e.replay == nil {
		return nil, false
	}
	return e.replay.get(executionID)
}

// ListReplays returns every stored replay record, most recent first. An
// empty principalID returns every principal's records (admin use); a
// non-empty principalID scopes the list to that principal only.
func (e *Engine) ListReplays(_ context.Context, principalID string) []*api.ReplayRecord {
	if e.replay == nil {
		return nil
	}
	if principalID == "" {
		return e.replay.listAll()
	}
	return e.replay.listForPrincipal(principalID)
}

// ReplayRerun re-submits a past execution's original request under a fresh
// execution ID. requesterID must match the replay record's principal or be
// granted admin scope by the caller before this is invoked; the engine
// itself only checks the principal match, since admin override is a
// transport-layer concern (API-key scopes).
func (e *Engine) ReplayRerun(ctx context.Context, requesterID, executionID string) (*api.ExecutionResult, error) {
	if e.replay == nil {
		return nil, ErrReplayDisabled
	}
	rec, ok := e.replay.get(executionID)
	if !ok {
		return nil, ErrReplayNotFound
	}
	if rec.PrincipalID != requesterID {
		return nil, ErrReplayForbidden
	}
	return e.runSync(ctx, rec.PrincipalID, rec.Request)
}
