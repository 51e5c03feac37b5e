package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cagekeep/broker/pkg/api"
	"github.com/cagekeep/broker/pkg/kernel"
	"github.com/cagekeep/broker/pkg/runtime"
	"github.com/cagekeep/broker/pkg/session"
	"github.com/cagekeep/broker/pkg/storage"
)

// ExecuteSync runs one execution request through the full synchronous
// pipeline and returns its terminal result. A non-nil error means the
// request never reached the pipeline at all (unknown/disabled principal,
// disallowed or unknown language, persistent mode the language lacks, or a
// session that could not be created) rather than a pipeline-produced outcome; every
// other outcome, including RateLimited/Rejected/Busy/Timeout/Killed/Error,
// comes back as a populated ExecutionResult with a nil error.
func (e *Engine) ExecuteSync(ctx context.Context, principalID string, req api.ExecutionRequest) (*api.ExecutionResult, error) {
	return e.runSync(ctx, principalID, req)
}

func (e *Engine) runSync(ctx context.Context, principalID string, req api.ExecutionRequest) (*api.ExecutionResult, error) {
	executionID := uuid.NewString()
	start := time.Now()

	profile, err := e.principals.Get(ctx, principalID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrPrincipalNotFound, principalID)
		}
		return nil, fmt.Errorf("engine: loading principal profile: %w", err)
	}
	if !profile.Enabled {
		return nil, fmt.Errorf("%w: %s", ErrPrincipalDisabled, principalID)
	}
	if !profile.LanguageAllowed(req.Language) {
		return nil, fmt.Errorf("%w: %s for %s", ErrLanguageNotAllowed, req.Language, principalID)
	}

	// Step 1: rate limit.
	if !e.rateLimit.Allow(principalID) {
		observeRateLimited(principalID)
		return &api.ExecutionResult{
			ExecutionID:  executionID,
			Status:       api.ExecutionStatusRateLimited,
			RejectReason: "rate limit exceeded",
			DurationMs:   time.Since(start).Milliseconds(),
		}, nil
	}

	// Step 2: screener. A blocked submission never reaches a container.
	screen := e.screener.Screen(req.Language, req.Code)
	if screen.Blocked {
		detail := screenDetail(screen)
		observeScreenerRejection(req.Language, screen.RiskLevel)
		e.audit(api.AuditRecord{
			ExecutionID: executionID,
			PrincipalID: principalID,
			Timestamp:   time.Now(),
			Category:    api.AuditCategorySecurity,
			Outcome:     "rejected",
			Detail:      detail,
		})
		return &api.ExecutionResult{
			ExecutionID:  executionID,
			Status:       api.ExecutionStatusRejected,
			Stderr:       detail,
			RejectReason: "screener blocked submission",
			DurationMs:   time.Since(start).Milliseconds(),
		}, nil
	}

	spec, ok := api.Launcher(req.Language)
	if !ok {
		return nil, fmt.Errorf("engine: unknown language %q", req.Language)
	}
	if req.Persistent && !spec.Persistent {
		return nil, fmt.Errorf("engine: %s does not support persistent execution", req.Language)
	}

	limits := effectiveLimits(e.cfg.DefaultLimits, profile.LimitOverrides)

	// Step 3: session get-or-create.
	sess, err := e.sessions.GetOrCreate(ctx, principalID, spec.Image, e.securityProfile(limits))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSessionCreate, err)
	}

	// Step 4: serialize on the session's exec lock.
	release, err := e.sessions.AcquireExec(ctx, sess, e.cfg.execLockWait())
	if err != nil {
		return &api.ExecutionResult{
			ExecutionID:  executionID,
			Status:       api.ExecutionStatusBusy,
			RejectReason: "session is executing another request",
			DurationMs:   time.Since(start).Milliseconds(),
		}, nil
	}
	defer release()

	sb, ok := e.sessions.Sandbox(sess)
	if !ok {
		return nil, fmt.Errorf("%w: no live sandbox for principal %s", ErrSessionCreate, principalID)
	}

	deadlineSeconds := effectiveDeadlineSeconds(req.TimeoutSeconds, limits.ExecTimeout, e.cfg.globalMaxExecutionSeconds())

	// Step 5: dispatch, one-shot or persistent.
	agentReq := &runtime.AgentExecRequest{
		Code:           req.Code,
		Language:       string(req.Language),
		TimeoutSeconds: deadlineSeconds,
		Env:            req.Env,
		Files:          req.Files,
		Persistent:     req.Persistent,
	}
	// KernelID is left empty: one session maps to exactly one sandbox
	// container, so the agent's default per-workspace state path already
	// disambiguates kernels without needing a caller-supplied ID.

	execCtx, cancel := context.WithTimeout(ctx, time.Duration(deadlineSeconds)*time.Second+5*time.Second)
	defer cancel()

	agentResp, execErr := e.driver.Exec(execCtx, sb, agentReq)

	// A RuntimeError surfacing here means the container itself has gone
	// bad (crashed, evicted, unreachable) rather than the code under test
	// misbehaving. Rebuild the sandbox once and retry before surfacing:
	// most such failures are a dead container, not a repeatable one.
	if execErr != nil {
		if rebuildErr := e.sessions.RebuildSandbox(ctx, principalID, spec.Image, e.securityProfile(limits)); rebuildErr == nil {
			if sb, ok = e.sessions.Sandbox(sess); ok {
				agentResp, execErr = e.driver.Exec(execCtx, sb, agentReq)
			}
		}
	}
	duration := time.Since(start)

	if execErr != nil {
		result := &api.ExecutionResult{
			ExecutionID:  executionID,
			Status:       api.ExecutionStatusError,
			Stderr:       execErr.Error(),
			DurationMs:   duration.Milliseconds(),
			RejectReason: "sandbox dispatch failed",
		}
		e.finishExecution(principalID, req, result)
		return result, nil
	}

	if req.Persistent {
		e.touchKernel(sess, principalID, req.Language)
	}

	// Step 6: wrap-up.
	result := &api.ExecutionResult{
		ExecutionID:  executionID,
		Status:       api.ExecutionStatus(agentResp.Status),
		Stdout:       agentResp.Stdout,
		Stderr:       agentResp.Stderr,
		ExitCode:     agentResp.ExitCode,
		DurationMs:   duration.Milliseconds(),
		FilesCreated: agentResp.FilesProduced,
	}
	// Prefer the sampler's live snapshot (continuously refreshed, covers
	// cpu/memory/disk/pids) over the agent's own coarse peak-memory
	// figure, which is only set by interpreters that bother to report it.
	if usage, ok := e.sampler.Snapshot(principalID); ok {
		result.ResourceUsage = &usage
	} else if agentResp.MemoryPeakMB > 0 || agentResp.CPUTimeMs > 0 {
		result.ResourceUsage = &api.ResourceUsage{
			MemoryMB:  float64(agentResp.MemoryPeakMB),
			SampledAt: time.Now(),
		}
	}

	e.finishExecution(principalID, req, result)
	return result, nil
}

// finishExecution records the result against the session, emits metrics and
// an audit entry, and stores the replay record. Common to both the error
// and success paths so every terminal outcome is recorded identically.
func (e *Engine) finishExecution(principalID string, req api.ExecutionRequest, result *api.ExecutionResult) {
	e.sessions.RecordExecution(principalID, *result)
	observeExecution(req.Language, result.Status, time.Duration(result.DurationMs)*time.Millisecond)

	e.audit(api.AuditRecord{
		ExecutionID: result.ExecutionID,
		PrincipalID: principalID,
		Timestamp:   time.Now(),
		Category:    api.AuditCategoryExecution,
		Outcome:     string(result.Status),
	})

	if e.replay != nil {
		e.replay.store(principalID, req, *result)
	}
}

func (e *Engine) touchKernel(sess *session.Session, principalID string, lang api.Language) {
	if handle, ok := sess.Kernel(lang); ok {
		kernel.Touch(handle)
		e.sessions.SetKernel(principalID, lang, handle)
		return
	}
	e.sessions.SetKernel(principalID, lang, kernel.NewHandle(lang, kernelStatePath(sess, lang)))
}

func (e *Engine) securityProfile(limits api.ResourceLimits) runtime.SecurityProfile {
	return runtime.SecurityProfile{
		ReadOnlyRootfs:      e.cfg.ReadOnlyRootfs,
		DropAllCapabilities: e.cfg.DropAllCapabilities,
		SeccompProfilePath:  e.cfg.SeccompProfilePath,
		NetworkAllow:        limits.NetworkAllow,
		MemoryMB:            limits.MemoryMB,
		CPUCores:            limits.CPUCores,
		PIDs:                limits.PIDs,
		DiskMB:              limits.DiskMB,
	}
}

// effectiveLimits returns a principal's override in place of the broker's
// defaults when one is set; fields are not merged individually.
func effectiveLimits(defaults api.ResourceLimits, override *api.ResourceLimits) api.ResourceLimits {
	if override == nil {
		return defaults
	}
	return *override
}

// effectiveDeadlineSeconds picks the tightest of the request's own timeout,
// the principal's configured exec timeout, and the broker-wide ceiling.
func effectiveDeadlineSeconds(requested int, principalTimeout time.Duration, globalMax int) int {
	deadline := globalMax
	if principalTimeout > 0 {
		if secs := int(principalTimeout.Seconds()); secs < deadline {
			deadline = secs
		}
	}
	if requested > 0 && requested < deadline {
		deadline = requested
	}
	if deadline <= 0 {
		deadline = globalMax
	}
	return deadline
}

func screenDetail(result *api.ScreenResult) string {
	if len(result.Warnings) == 0 {
		return fmt.Sprintf("blocked at risk level %s", result.RiskLevel)
	}
	parts := make([]string, 0, len(result.Warnings))
	for _, w := range result.Warnings {
		parts = append(parts, fmt.Sprintf("%s: %s", w.Category, w.Message))
	}
	return strings.Join(parts, "; ")
}

// audit emits an audit record through structured logging. The broker has
// no dedicated audit sink; the process's default slog handler is the
// system of record, same as every other structured log line.
func (e *Engine) audit(rec api.AuditRecord) {
	slog.Info("audit",
		"execution_id", rec.ExecutionID,
		"principal_id", rec.PrincipalID,
		"category", rec.Category,
		"outcome", rec.Outcome,
		"detail", rec.Detail,
	)
}
