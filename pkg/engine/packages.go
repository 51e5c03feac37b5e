package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cagekeep/broker/pkg/api"
	"github.com/cagekeep/broker/pkg/runtime"
	"github.com/cagekeep/broker/pkg/storage"
)

// InstallPackage runs a controlled package install inside the principal's
// sandbox: the package name and language are checked against pkg/packages'
// allowlist and per-session cap, then the resulting shell command is
// dispatched through the same sandbox-exec path ordinary code submissions
// use (bash, same as any other LanguageBash request). It is a separate
// method from ExecuteSync rather than a flag on ExecutionRequest because
// its failure modes (disabled, not-allowlisted, limit exceeded) are
// request-shaped validation errors, not pipeline outcomes.
func (e *Engine) InstallPackage(ctx context.Context, principalID string, lang api.Language, name string) (*api.PackageInstallResult, error) {
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
	if !profile.LanguageAllowed(lang) {
		return nil, fmt.Errorf("%w: %s for %s", ErrLanguageNotAllowed, lang, principalID)
	}

	installCmd, err := e.packages.Prepare(principalID, lang, name)
	if err != nil {
		return nil, err
	}

	spec, ok := api.Launcher(lang)
	if !ok {
		return nil, fmt.Errorf("engine: unknown language %q", lang)
	}

	limits := effectiveLimits(e.cfg.DefaultLimits, profile.LimitOverrides)

	sess, err := e.sessions.GetOrCreate(ctx, principalID, spec.Image, e.securityProfile(limits))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSessionCreate, err)
	}

	release, err := e.sessions.AcquireExec(ctx, sess, e.cfg.execLockWait())
	if err != nil {
		return nil, fmt.Errorf("engine: %s is busy with another execution", principalID)
	}
	defer release()

	sb, ok := e.sessions.Sandbox(sess)
	if !ok {
		return nil, fmt.Errorf("%w: no live sandbox for principal %s", ErrSessionCreate, principalID)
	}

	deadlineSeconds := e.cfg.globalMaxExecutionSeconds()
	execCtx, cancel := context.WithTimeout(ctx, time.Duration(deadlineSeconds)*time.Second+5*time.Second)
	defer cancel()

	agentReq := &runtime.AgentExecRequest{
		Code:           installCmd,
		Language:       string(api.LanguageBash),
		TimeoutSeconds: deadlineSeconds,
	}
	agentResp, execErr := e.driver.Exec(execCtx, sb, agentReq)
	if execErr != nil {
		return nil, fmt.Errorf("engine: dispatching package install: %w", execErr)
	}

	result := &api.PackageInstallResult{
		Package:    name,
		Language:   lang,
		Stdout:     agentResp.Stdout,
		Stderr:     agentResp.Stderr,
		ExitCode:   agentResp.ExitCode,
		DurationMs: time.Since(start).Milliseconds(),
	}

	e.audit(api.AuditRecord{
		PrincipalID: principalID,
		Timestamp:   time.Now(),
		Category:    api.AuditCategoryExecution,
		Outcome:     fmt.Sprintf("install_package:%s", lang),
		Detail:      name,
	})

	return result, nil
}
