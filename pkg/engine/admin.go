package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/cagekeep/broker/pkg/api"
	"github.com/cagekeep/broker/pkg/storage"
)

// SessionInfo returns a snapshot of the principal's session, if one exists.
func (e *Engine) SessionInfo(_ context.Context, principalID string) (*api.Session, bool) {
	return e.sessions.Inspect(principalID)
}

// TerminateSession stops and removes the principal's sandbox, optionally
// purging its workspace, and drops the session record.
func (e *Engine) TerminateSession(ctx context.Context, principalID string, purgeData bool) error {
	return e.sessions.Terminate(ctx, principalID, purgeData)
}

// RecreateSession tears down the principal's current sandbox, if any, and
// eagerly starts a fresh one instead of waiting for the next execution to
// create it lazily. The workspace is purged: a recreate is a reset, not a
// resume.
func (e *Engine) RecreateSession(ctx context.Context, principalID string) (*api.Session, error) {
	if _, ok := e.sessions.Inspect(principalID); ok {
		if err := e.sessions.Terminate(ctx, principalID, true); err != nil {
			return nil, fmt.Errorf("engine: terminating session before recreate: %w", err)
		}
	}

	profile, err := e.principals.Get(ctx, principalID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrPrincipalNotFound, principalID)
		}
		return nil, fmt.Errorf("engine: loading principal profile: %w", err)
	}

	limits := effectiveLimits(e.cfg.DefaultLimits, profile.LimitOverrides)
	spec, _ := api.Launcher(api.LanguagePython)
	if _, err := e.sessions.GetOrCreate(ctx, principalID, spec.Image, e.securityProfile(limits)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSessionCreate, err)
	}
	sess, _ := e.sessions.Inspect(principalID)
	return sess, nil
}

// ListSessions returns a snapshot of every live session.
func (e *Engine) ListSessions(_ context.Context) []*api.Session {
	return e.sessions.List()
}

// Stats returns a point-in-time aggregate view of the broker's load.
func (e *Engine) Stats(ctx context.Context) (api.BrokerStats, error) {
	sessions := e.sessions.List()

	principals, err := e.principals.List(ctx)
	if err != nil {
		return api.BrokerStats{}, err
	}

	stats := api.BrokerStats{
		ActiveSessions:  len(sessions),
		RegisteredUsers: len(principals),
	}
	if e.jobs != nil {
		stats.QueuedJobs = e.jobs.queueLen()
	}
	for _, sess := range sessions {
		stats.TotalExecutions += sess.ExecutionCount
		stats.TotalErrors += sess.ErrorCount
	}
	return stats, nil
}

// ListPrincipals returns every registered principal profile.
func (e *Engine) ListPrincipals(ctx context.Context) ([]*api.PrincipalProfile, error) {
	return e.principals.List(ctx)
}

// CreatePrincipal creates or replaces a principal profile.
func (e *Engine) CreatePrincipal(ctx context.Context, profile *api.PrincipalProfile) error {
	return e.principals.Upsert(ctx, profile)
}

// DeletePrincipal removes a principal profile. It does not terminate any
// session the principal may still hold; callers that want a hard removal
// should call TerminateSession first.
func (e *Engine) DeletePrincipal(ctx context.Context, principalID string) error {
	return e.principals.Delete(ctx, principalID)
}
